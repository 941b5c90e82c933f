package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"promoshot/internal/entity"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// GetWorkflowConfiguration 返回当前用户生效的执行器配置，未配置时回退到服务端默认地址
func (h *HTTPHandler) GetWorkflowConfiguration(c *gin.Context) {
	requestUser := CurrentUser(c)
	if requestUser == nil {
		Unauthorized(c, "authentication required")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	cfg, err := h.repo.GetActiveWorkflowConfiguration(ctx, requestUser.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusOK, gin.H{
				"configuration": nil,
				"executor":      h.cfg.ExecutorStatus(),
			})
			return
		}
		logrus.WithError(err).WithField("user_id", requestUser.ID).Error("failed to load workflow configuration")
		InternalError(c, "failed to load workflow configuration")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"configuration": entity.WorkflowConfigurationView{DbWorkflowConfiguration: *cfg, HasAPIKey: cfg.HasAPIKey()},
		"executor":      h.cfg.ExecutorStatus(),
	})
}

// PutWorkflowConfiguration 创建或覆盖当前用户的执行器配置
func (h *HTTPHandler) PutWorkflowConfiguration(c *gin.Context) {
	requestUser := CurrentUser(c)
	if requestUser == nil {
		Unauthorized(c, "authentication required")
		return
	}

	var req entity.WorkflowConfigurationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		InvalidPayload(c)
		return
	}
	webhookURL := strings.TrimSpace(req.WebhookURL)
	if !strings.HasPrefix(webhookURL, "http://") && !strings.HasPrefix(webhookURL, "https://") {
		BadRequest(c, ErrCodeInvalidRequest, "webhook_url must be an absolute http url")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	name := strings.TrimSpace(req.Name)
	baseURL := strings.TrimSpace(req.BaseURL)
	workflowID := strings.TrimSpace(req.WorkflowID)

	existing, err := h.repo.GetActiveWorkflowConfiguration(ctx, requestUser.ID)
	switch {
	case err == nil:
		updates := entity.WorkflowConfigurationUpdates{
			Name:       &name,
			BaseURL:    &baseURL,
			WebhookURL: &webhookURL,
			WorkflowID: &workflowID,
		}
		if req.APIKey != nil {
			key := strings.TrimSpace(*req.APIKey)
			updates.APIKey = &key
		}
		if err := h.repo.UpdateWorkflowConfiguration(ctx, existing.ID, updates); err != nil {
			logrus.WithError(err).WithField("user_id", requestUser.ID).Error("failed to update workflow configuration")
			InternalError(c, "failed to save workflow configuration")
			return
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		cfg := &entity.DbWorkflowConfiguration{
			UserID:     requestUser.ID,
			Name:       name,
			BaseURL:    baseURL,
			WebhookURL: webhookURL,
			WorkflowID: workflowID,
			IsActive:   true,
		}
		if req.APIKey != nil {
			cfg.APIKey = strings.TrimSpace(*req.APIKey)
		}
		if err := h.repo.CreateWorkflowConfiguration(ctx, cfg); err != nil {
			logrus.WithError(err).WithField("user_id", requestUser.ID).Error("failed to create workflow configuration")
			InternalError(c, "failed to save workflow configuration")
			return
		}
	default:
		logrus.WithError(err).WithField("user_id", requestUser.ID).Error("failed to load workflow configuration")
		InternalError(c, "failed to save workflow configuration")
		return
	}

	saved, err := h.repo.GetActiveWorkflowConfiguration(ctx, requestUser.ID)
	if err != nil {
		logrus.WithError(err).WithField("user_id", requestUser.ID).Error("failed to reload workflow configuration")
		InternalError(c, "failed to load workflow configuration")
		return
	}
	c.JSON(http.StatusOK, entity.WorkflowConfigurationView{DbWorkflowConfiguration: *saved, HasAPIKey: saved.HasAPIKey()})
}

func (h *HTTPHandler) ListWorkflowTemplates(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	templates, err := h.repo.ListWorkflowTemplates(ctx, c.Query("include_inactive") == "true")
	if err != nil {
		logrus.WithError(err).Error("failed to list workflow templates")
		InternalError(c, "failed to load workflow templates")
		return
	}
	if templates == nil {
		templates = []entity.DbWorkflowTemplate{}
	}
	c.JSON(http.StatusOK, gin.H{"templates": templates})
}

func (h *HTTPHandler) CreateWorkflowTemplate(c *gin.Context) {
	var req entity.WorkflowTemplateCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		InvalidPayload(c)
		return
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}
	template := &entity.DbWorkflowTemplate{
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
		WorkflowID:  strings.TrimSpace(req.WorkflowID),
		BaseURL:     strings.TrimSpace(req.BaseURL),
		WebhookPath: strings.TrimSpace(req.WebhookPath),
		IsActive:    isActive,
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if existing, err := h.repo.GetWorkflowTemplateByWorkflowID(ctx, template.WorkflowID); err == nil && existing != nil {
		BadRequest(c, ErrCodeInvalidRequest, "workflow id already registered")
		return
	}

	if err := h.repo.CreateWorkflowTemplate(ctx, template); err != nil {
		logrus.WithError(err).WithField("workflow_id", template.WorkflowID).Error("failed to create workflow template")
		InternalError(c, "failed to create workflow template")
		return
	}
	c.JSON(http.StatusCreated, template)
}

func (h *HTTPHandler) UpdateWorkflowTemplate(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		BadRequest(c, ErrCodeInvalidRequest, "invalid template id")
		return
	}

	var req entity.WorkflowTemplateUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		InvalidPayload(c)
		return
	}

	updates := entity.WorkflowTemplateUpdates{
		Name:        trimmedPtr(req.Name),
		Description: trimmedPtr(req.Description),
		BaseURL:     trimmedPtr(req.BaseURL),
		WebhookPath: trimmedPtr(req.WebhookPath),
		IsActive:    req.IsActive,
	}
	if updates.BaseURL != nil && *updates.BaseURL == "" {
		BadRequest(c, ErrCodeInvalidRequest, "base_url must not be empty")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := h.repo.UpdateWorkflowTemplate(ctx, id, updates); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, ErrCodeTemplateNotFound, "workflow template not found")
			return
		}
		logrus.WithError(err).WithField("template_id", id).Error("failed to update workflow template")
		InternalError(c, "failed to update workflow template")
		return
	}

	template, err := h.repo.GetWorkflowTemplate(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, ErrCodeTemplateNotFound, "workflow template not found")
			return
		}
		InternalError(c, "failed to load workflow template")
		return
	}
	c.JSON(http.StatusOK, template)
}

func (h *HTTPHandler) DeleteWorkflowTemplate(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		BadRequest(c, ErrCodeInvalidRequest, "invalid template id")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := h.repo.DeleteWorkflowTemplate(ctx, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, ErrCodeTemplateNotFound, "workflow template not found")
			return
		}
		logrus.WithError(err).WithField("template_id", id).Error("failed to delete workflow template")
		InternalError(c, "failed to delete workflow template")
		return
	}
	c.Status(http.StatusNoContent)
}

func trimmedPtr(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	return &trimmed
}
