package utils

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// IsDataURL reports whether value is an inline base64 data URL.
func IsDataURL(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), "data:")
}

// DecodeDataURL decodes a "data:<mime>;base64,<payload>" string. The declared mime type
// wins when it maps to an image extension, otherwise the bytes are sniffed.
func DecodeDataURL(value string) (*FetchedImage, error) {
	trimmed := strings.TrimSpace(value)
	if !IsDataURL(trimmed) {
		return nil, errors.New("not a data url")
	}

	header, payload, ok := strings.Cut(strings.TrimPrefix(trimmed, "data:"), ",")
	if !ok || strings.TrimSpace(payload) == "" {
		return nil, errors.New("data url payload empty")
	}
	mimeType, encoding, _ := strings.Cut(header, ";")
	if !strings.EqualFold(strings.TrimSpace(encoding), "base64") {
		return nil, fmt.Errorf("unsupported data url encoding %q", encoding)
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("image payload empty")
	}

	ext := ExtensionFromMime(mimeType)
	if ext == "" {
		mimeType = http.DetectContentType(data)
		ext = ExtensionFromMime(mimeType)
	}
	if ext == "" {
		ext = "bin"
	}
	return &FetchedImage{Data: data, MimeType: mimeType, Extension: ext, Source: "inline_data_url"}, nil
}
