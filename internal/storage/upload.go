package storage

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// DefaultMaxUploadBytes is the upload size limit when none is configured.
const DefaultMaxUploadBytes int64 = 10 * 1024 * 1024

var (
	// ErrEmptyUpload is returned for zero-byte uploads.
	ErrEmptyUpload = errors.New("upload is empty")
	// ErrUploadTooLarge is returned when an upload exceeds the size limit.
	ErrUploadTooLarge = errors.New("upload exceeds size limit")
	// ErrUnsupportedMediaType is returned for anything but jpeg, png and webp.
	ErrUnsupportedMediaType = errors.New("unsupported media type")
)

var allowedUploadTypes = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
}

// UploadInfo describes an accepted upload.
type UploadInfo struct {
	MimeType  string
	Extension string
	Size      int64
}

// ValidateUpload checks the size limit and sniffs the content type. The declared mime type
// is only used to report a mismatch; the sniffed type decides.
func ValidateUpload(data []byte, declaredMime string, maxBytes int64) (UploadInfo, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	size := int64(len(data))
	if size == 0 {
		return UploadInfo{}, ErrEmptyUpload
	}
	if size > maxBytes {
		return UploadInfo{}, fmt.Errorf("%w: %d bytes > %d bytes", ErrUploadTooLarge, size, maxBytes)
	}

	sniffed := http.DetectContentType(data)
	if idx := strings.Index(sniffed, ";"); idx >= 0 {
		sniffed = sniffed[:idx]
	}
	ext, ok := allowedUploadTypes[sniffed]
	if !ok {
		declared := strings.ToLower(strings.TrimSpace(declaredMime))
		if declared == "" {
			declared = "unknown"
		}
		return UploadInfo{}, fmt.Errorf("%w: detected %s (declared %s)", ErrUnsupportedMediaType, sniffed, declared)
	}
	return UploadInfo{MimeType: sniffed, Extension: ext, Size: size}, nil
}
