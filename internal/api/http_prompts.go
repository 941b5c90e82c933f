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

// ListPromptTemplates 列出启用的提示词模板，可按分类过滤；管理员可带 include_inactive=true
func (h *HTTPHandler) ListPromptTemplates(c *gin.Context) {
	requestUser := CurrentUser(c)
	if requestUser == nil {
		Unauthorized(c, "authentication required")
		return
	}
	includeInactive := requestUser.IsAdmin() && c.Query("include_inactive") == "true"

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	templates, err := h.repo.ListPromptTemplates(ctx, c.Query("category"), includeInactive)
	if err != nil {
		logrus.WithError(err).Error("failed to list prompt templates")
		InternalError(c, "failed to load prompt templates")
		return
	}
	if templates == nil {
		templates = []entity.DbPromptTemplate{}
	}
	c.JSON(http.StatusOK, gin.H{"templates": templates})
}

func (h *HTTPHandler) CreatePromptTemplate(c *gin.Context) {
	var req entity.PromptTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		InvalidPayload(c)
		return
	}

	template := &entity.DbPromptTemplate{
		Name:     valueOf(trimmedPtr(req.Name)),
		Category: valueOf(trimmedPtr(req.Category)),
		Template: valueOf(trimmedPtr(req.Template)),
		IsActive: true,
	}
	switch {
	case template.Name == "":
		MissingField(c, "name")
		return
	case template.Category == "":
		MissingField(c, "category")
		return
	case template.Template == "":
		MissingField(c, "template")
		return
	}
	if req.IsActive != nil {
		template.IsActive = *req.IsActive
	}
	template.Variables = entity.StringList(template.Placeholders())

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := h.repo.CreatePromptTemplate(ctx, template); err != nil {
		logrus.WithError(err).WithField("name", template.Name).Error("failed to create prompt template")
		InternalError(c, "failed to create prompt template")
		return
	}
	c.JSON(http.StatusCreated, template)
}

// UpdatePromptTemplate 修改模板正文时同步重算变量列表
func (h *HTTPHandler) UpdatePromptTemplate(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		BadRequest(c, ErrCodeInvalidRequest, "invalid template id")
		return
	}

	var req entity.PromptTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		InvalidPayload(c)
		return
	}

	updates := entity.PromptTemplateUpdates{
		Name:     trimmedPtr(req.Name),
		Category: trimmedPtr(req.Category),
		Template: trimmedPtr(req.Template),
		IsActive: req.IsActive,
	}
	for field, value := range map[string]*string{"name": updates.Name, "category": updates.Category, "template": updates.Template} {
		if value != nil && *value == "" {
			BadRequest(c, ErrCodeInvalidRequest, field+" must not be empty")
			return
		}
	}
	if updates.Template != nil {
		updates.Variables = entity.StringList(entity.DbPromptTemplate{Template: *updates.Template}.Placeholders())
		if updates.Variables == nil {
			updates.Variables = entity.StringList{}
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := h.repo.UpdatePromptTemplate(ctx, id, updates); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, ErrCodeTemplateNotFound, "prompt template not found")
			return
		}
		logrus.WithError(err).WithField("template_id", id).Error("failed to update prompt template")
		InternalError(c, "failed to update prompt template")
		return
	}

	template, err := h.repo.GetPromptTemplate(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, ErrCodeTemplateNotFound, "prompt template not found")
			return
		}
		InternalError(c, "failed to load prompt template")
		return
	}
	c.JSON(http.StatusOK, template)
}

func (h *HTTPHandler) DeletePromptTemplate(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		BadRequest(c, ErrCodeInvalidRequest, "invalid template id")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := h.repo.DeletePromptTemplate(ctx, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, ErrCodeTemplateNotFound, "prompt template not found")
			return
		}
		logrus.WithError(err).WithField("template_id", id).Error("failed to delete prompt template")
		InternalError(c, "failed to delete prompt template")
		return
	}
	c.Status(http.StatusNoContent)
}

// PreviewPromptTemplate 用请求体中的变量渲染模板，不落库
func (h *HTTPHandler) PreviewPromptTemplate(c *gin.Context) {
	requestUser := CurrentUser(c)
	if requestUser == nil {
		Unauthorized(c, "authentication required")
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		BadRequest(c, ErrCodeInvalidRequest, "invalid template id")
		return
	}

	var req struct {
		Variables map[string]string `json:"variables"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		InvalidPayload(c)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	template, err := h.repo.GetPromptTemplate(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, ErrCodeTemplateNotFound, "prompt template not found")
			return
		}
		InternalError(c, "failed to load prompt template")
		return
	}
	if !template.IsActive && !requestUser.IsAdmin() {
		NotFound(c, ErrCodeTemplateNotFound, "prompt template not found")
		return
	}

	vars := make(map[string]string, len(req.Variables))
	for k, v := range req.Variables {
		vars[k] = strings.TrimSpace(v)
	}
	var missing []string
	for _, name := range template.Placeholders() {
		if vars[name] == "" {
			missing = append(missing, name)
		}
	}
	if missing == nil {
		missing = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"prompt": template.Render(vars), "missing": missing})
}
