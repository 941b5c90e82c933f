package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"promoshot/internal/entity"
	"promoshot/internal/executor"
	"promoshot/internal/notify"
	"promoshot/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// WebhookSecretHeader 执行器回调必须携带的共享密钥请求头
const WebhookSecretHeader = "X-Webhook-Secret"

// executorCallback 是 n8n 工作流回调的请求体
type executorCallback struct {
	EventID      string   `json:"event_id"`
	RequestID    uint     `json:"request_id" binding:"required"`
	ExecutionRef string   `json:"execution_ref"`
	Status       string   `json:"status" binding:"required"`
	Step         string   `json:"step"`
	Message      string   `json:"message"`
	ImageURL     string   `json:"image_url"`
	Images       []string `json:"images"`
	Payload      any      `json:"payload"`
	ErrorMessage string   `json:"error_message"`
}

// ExecutorWebhook 接收执行器回调。带 step 的回调记录中间进度，其余按终态事件发布到通知总线
func (h *HTTPHandler) ExecutorWebhook(c *gin.Context) {
	secret := strings.TrimSpace(h.cfg.ExecutorWebhookSecret)
	if secret == "" {
		ServiceUnavailable(c, "executor webhook not configured")
		return
	}
	provided := c.GetHeader(WebhookSecretHeader)
	if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
		Unauthorized(c, "invalid webhook secret")
		return
	}

	var body executorCallback
	if err := c.ShouldBindJSON(&body); err != nil {
		InvalidPayload(c)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	fields := logrus.Fields{
		"request_id":    body.RequestID,
		"execution_ref": body.ExecutionRef,
		"status":        body.Status,
		"step":          body.Step,
	}

	if step := strings.TrimSpace(body.Step); step != "" {
		h.recordCallbackStep(c, ctx, body, fields)
		return
	}

	var status entity.GenerationStatus
	switch executor.MapStatus(body.Status) {
	case executor.ExecutionStateSucceeded:
		status = entity.GenerationStatusCompleted
	case executor.ExecutionStateFailed:
		status = entity.GenerationStatusFailed
	default:
		c.JSON(http.StatusAccepted, gin.H{"accepted": false, "reason": "not terminal"})
		return
	}

	images := body.Images
	if url := strings.TrimSpace(body.ImageURL); url != "" {
		images = append([]string{url}, images...)
	}

	event := notify.TerminalEvent{
		EventID:      body.EventID,
		RequestID:    body.RequestID,
		ExecutionRef: strings.TrimSpace(body.ExecutionRef),
		Status:       status,
		Images:       images,
		Payload:      body.Payload,
		ErrorMessage: strings.TrimSpace(body.ErrorMessage),
	}
	event.Normalize()
	fields["event_id"] = event.EventID

	if h.publisher != nil {
		if err := h.publisher.Publish(ctx, event); err != nil {
			logrus.WithError(err).WithFields(fields).Error("failed to publish terminal event")
			ServiceUnavailable(c, "failed to publish event")
			return
		}
		logrus.WithFields(fields).Info("terminal event published")
		c.JSON(http.StatusAccepted, gin.H{"accepted": true, "event_id": event.EventID})
		return
	}

	if h.resolver == nil {
		ServiceUnavailable(c, "resolver not available")
		return
	}
	outcome, err := h.resolver.HandleEvent(ctx, event, service.ListenFilter{})
	if err != nil {
		if errors.Is(err, service.ErrEventIgnored) {
			c.JSON(http.StatusAccepted, gin.H{"accepted": false, "reason": "ignored", "event_id": event.EventID})
			return
		}
		if errors.Is(err, service.ErrRequestNotDispatched) {
			// 409 让执行器稍后重投
			ErrorResponse(c, http.StatusConflict, ErrCodeNotDispatched, "request has not been dispatched yet")
			return
		}
		logrus.WithError(err).WithFields(fields).Error("failed to resolve terminal event")
		GenerationFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accepted": true, "event_id": event.EventID, "outcome": outcome})
}

func (h *HTTPHandler) recordCallbackStep(c *gin.Context, ctx context.Context, body executorCallback, fields logrus.Fields) {
	if h.resolver == nil {
		ServiceUnavailable(c, "resolver not available")
		return
	}

	var status entity.LogStatus
	switch executor.MapStatus(body.Status) {
	case executor.ExecutionStateSucceeded:
		status = entity.LogStatusCompleted
	case executor.ExecutionStateFailed:
		status = entity.LogStatusFailed
	default:
		status = entity.LogStatusStarted
	}

	err := h.resolver.RecordProgress(ctx, body.RequestID, body.Step, status, strings.TrimSpace(body.Message))
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"accepted": true})
	case errors.Is(err, service.ErrEventIgnored):
		c.JSON(http.StatusAccepted, gin.H{"accepted": false, "reason": "ignored"})
	case errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, ErrCodeRequestNotFound, "generation request not found")
	default:
		logrus.WithError(err).WithFields(fields).Error("failed to record executor step")
		InternalError(c, "failed to record step")
	}
}
