package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"
)

// ErrImageTooLarge is returned when a fetched image exceeds the size limit.
var ErrImageTooLarge = errors.New("image exceeds size limit")

// FetchedImage is an image loaded from a URL or an inline data URL.
type FetchedImage struct {
	Data      []byte
	MimeType  string
	Extension string
	Source    string
}

// FetchImage loads an image from an http(s) URL or a data URL. maxBytes <= 0 disables the limit.
func FetchImage(ctx context.Context, client *http.Client, imageURL string, maxBytes int64) (*FetchedImage, error) {
	trimmed := strings.TrimSpace(imageURL)
	if trimmed == "" {
		return nil, errors.New("image payload empty")
	}

	if IsDataURL(trimmed) {
		image, err := DecodeDataURL(trimmed)
		if err != nil {
			return nil, err
		}
		if maxBytes > 0 && int64(len(image.Data)) > maxBytes {
			return nil, ErrImageTooLarge
		}
		return image, nil
	}

	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, trimmed, nil)
	if err != nil {
		return nil, fmt.Errorf("create image request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download image http %d", resp.StatusCode)
	}

	var reader io.Reader = resp.Body
	if maxBytes > 0 {
		reader = io.LimitReader(resp.Body, maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read image body: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("image payload empty")
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, ErrImageTooLarge
	}

	mimeType := strings.TrimSpace(resp.Header.Get("Content-Type"))
	ext := ExtensionFromMime(mimeType)
	if ext == "" {
		mimeType = http.DetectContentType(data)
		ext = ExtensionFromMime(mimeType)
	}
	if ext == "" {
		ext = "jpg"
	}

	return &FetchedImage{Data: data, MimeType: mimeType, Extension: ext, Source: "remote_image"}, nil
}

// ExtensionFromMime maps an image mime type to a file extension, or "" when unknown.
func ExtensionFromMime(mimeType string) string {
	if mimeType == "" {
		return ""
	}
	if parsed, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = parsed
	}

	switch strings.ToLower(mimeType) {
	case "image/png":
		return "png"
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	case "image/bmp":
		return "bmp"
	case "image/svg+xml":
		return "svg"
	case "image/heic":
		return "heic"
	case "image/heif":
		return "heif"
	default:
		return ""
	}
}
