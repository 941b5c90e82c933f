package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"promoshot/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// UploadProductImage 保存商品原图，返回可直接用于创建生成请求的 url 与存储路径
func (h *HTTPHandler) UploadProductImage(c *gin.Context) {
	requestUser := CurrentUser(c)
	if requestUser == nil {
		Unauthorized(c, "authentication required")
		return
	}
	if h.storage == nil {
		ServiceUnavailable(c, "storage not available")
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		MissingField(c, "file")
		return
	}

	maxBytes := h.cfg.UploadMaxBytes
	if maxBytes <= 0 {
		maxBytes = storage.DefaultMaxUploadBytes
	}
	if fileHeader.Size > maxBytes {
		GenerationFailure(c, fmt.Errorf("%w: %d bytes > %d bytes", storage.ErrUploadTooLarge, fileHeader.Size, maxBytes))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		logrus.WithError(err).Error("failed to open uploaded file")
		BadRequest(c, ErrCodeInvalidRequest, "failed to read uploaded file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		logrus.WithError(err).Error("failed to read uploaded file")
		BadRequest(c, ErrCodeInvalidRequest, "failed to read uploaded file")
		return
	}

	info, err := storage.ValidateUpload(data, fileHeader.Header.Get("Content-Type"), maxBytes)
	if err != nil {
		logrus.WithError(err).WithField("user_id", requestUser.ID).Warn("upload rejected")
		GenerationFailure(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	key, err := h.storage.Save(ctx, data, storage.SaveOptions{
		Owner:       requestUser.ID,
		Category:    storage.CategoryProducts,
		Extension:   info.Extension,
		ContentType: info.MimeType,
		Metadata:    map[string]string{"source": "upload"},
	})
	if err != nil {
		logrus.WithError(err).WithField("user_id", requestUser.ID).Error("failed to store upload")
		ErrorResponse(c, http.StatusInternalServerError, ErrCodeStorage, "failed to store upload")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"url":          absoluteURL(c, h.publicURL(key)),
		"path":         key,
		"content_type": info.MimeType,
		"size":         info.Size,
	})
}

// DeleteUpload 删除当前用户上传的文件
func (h *HTTPHandler) DeleteUpload(c *gin.Context) {
	requestUser := CurrentUser(c)
	if requestUser == nil {
		Unauthorized(c, "authentication required")
		return
	}
	if h.storage == nil {
		ServiceUnavailable(c, "storage not available")
		return
	}

	key := strings.TrimSpace(c.Query("path"))
	if key == "" {
		MissingField(c, "path")
		return
	}
	if !storage.OwnsKey(key, requestUser.ID) {
		Forbidden(c, "file does not belong to current user")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	if err := h.storage.Delete(ctx, key); err != nil {
		logrus.WithError(err).WithField("path", key).Error("failed to delete upload")
		ErrorResponse(c, http.StatusInternalServerError, ErrCodeStorage, "failed to delete file")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) publicURL(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		return trimmed
	}
	if h.storage != nil {
		if url := h.storage.PublicURL(trimmed); url != "" {
			return url
		}
	}
	base := h.storagePublicBase
	if base == "" {
		base = "/files"
	}
	return fmt.Sprintf("%s/%s", strings.TrimRight(base, "/"), strings.TrimLeft(trimmed, "/"))
}

// absoluteURL 将本地存储的相对路径补全为执行器可访问的绝对地址
func absoluteURL(c *gin.Context, value string) string {
	if value == "" || strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
		return value
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if forwarded := c.GetHeader("X-Forwarded-Proto"); forwarded != "" {
		scheme = forwarded
	}
	return fmt.Sprintf("%s://%s/%s", scheme, c.Request.Host, strings.TrimLeft(value, "/"))
}
