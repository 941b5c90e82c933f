package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"promoshot/internal/entity"
	"promoshot/internal/executor"
	"promoshot/internal/service"
	"promoshot/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// CreateGeneration 创建生成请求并提交到执行器，结果通过轮询或推送异步落库
func (h *HTTPHandler) CreateGeneration(c *gin.Context) {
	requestUser := CurrentUser(c)
	if requestUser == nil {
		Unauthorized(c, "authentication required")
		return
	}
	if h.dispatcher == nil {
		ServiceUnavailable(c, "generation service not available")
		return
	}

	var input service.RequestInput
	if err := c.ShouldBindJSON(&input); err != nil {
		InvalidPayload(c)
		return
	}
	input.OwnerID = requestUser.ID

	ctx, cancel := context.WithTimeout(c.Request.Context(), 90*time.Second)
	defer cancel()

	result, err := h.dispatcher.DispatchAndTrack(ctx, input)
	if err != nil {
		GenerationFailure(c, err)
		return
	}

	if !result.Accepted {
		logrus.WithError(result.Err).WithFields(logrus.Fields{
			"user_id":    requestUser.ID,
			"request_id": result.RequestID,
		}).Warn("generation dispatch rejected")
		dispatchFailure(c, result)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"request_id":    result.RequestID,
		"status":        result.Status,
		"execution_ref": result.ExecutionRef,
		"state":         h.stateFor(result.RequestID),
	})
}

// ListGenerations 分页列出当前用户的生成请求，管理员可通过 all=true 查看全部
func (h *HTTPHandler) ListGenerations(c *gin.Context) {
	requestUser := CurrentUser(c)
	if requestUser == nil {
		Unauthorized(c, "authentication required")
		return
	}
	if h.repo == nil {
		ServiceUnavailable(c, "generation repository not available")
		return
	}

	var query entity.GenerationRequestQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		BadRequest(c, ErrCodeInvalidRequest, "invalid query parameters")
		return
	}

	query.Status = strings.ToLower(strings.TrimSpace(query.Status))
	if query.Status != "" && query.Status != "all" && !entity.GenerationStatus(query.Status).IsValid() {
		BadRequest(c, ErrCodeInvalidRequest, "invalid status filter")
		return
	}

	query.UserID = requestUser.ID
	if requestUser.IsAdmin() && c.Query("all") == "true" {
		query.IncludeAll = true
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	requests, meta, err := h.repo.ListGenerationRequests(ctx, &query)
	if err != nil {
		logrus.WithError(err).WithField("user_id", requestUser.ID).Error("failed to list generation requests")
		InternalError(c, "failed to load generation requests")
		return
	}
	if requests == nil {
		requests = []entity.DbGenerationRequest{}
	}

	c.JSON(http.StatusOK, gin.H{"requests": requests, "meta": meta})
}

func (h *HTTPHandler) GetGeneration(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	req, ok := h.loadVisibleRequest(c, ctx)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, req)
}

func (h *HTTPHandler) ListGenerationLogs(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	req, ok := h.loadVisibleRequest(c, ctx)
	if !ok {
		return
	}

	logs, err := h.repo.ListProcessingLogs(ctx, req.ID)
	if err != nil {
		logrus.WithError(err).WithField("request_id", req.ID).Error("failed to list processing logs")
		InternalError(c, "failed to load processing logs")
		return
	}
	if logs == nil {
		logs = []entity.DbProcessingLog{}
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// GetGenerationState 返回内存中的进度，缺失时从数据库重建
func (h *HTTPHandler) GetGenerationState(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	req, ok := h.loadVisibleRequest(c, ctx)
	if !ok {
		return
	}

	if state, found := h.states.Get(req.ID); found && state.Status == req.Status {
		c.JSON(http.StatusOK, state)
		return
	}

	logs, err := h.repo.ListProcessingLogs(ctx, req.ID)
	if err != nil {
		logrus.WithError(err).WithField("request_id", req.ID).Warn("failed to load logs for state reconcile")
	}
	c.JSON(http.StatusOK, h.states.Reconcile(req, logs))
}

// RetryGeneration 以失败请求的输入重新提交，原请求保持不变
func (h *HTTPHandler) RetryGeneration(c *gin.Context) {
	requestUser := CurrentUser(c)
	if requestUser == nil {
		Unauthorized(c, "authentication required")
		return
	}
	if h.dispatcher == nil {
		ServiceUnavailable(c, "generation service not available")
		return
	}

	id, ok := parseIDParam(c, "id")
	if !ok {
		BadRequest(c, ErrCodeInvalidRequest, "invalid request id")
		return
	}

	ownerID := requestUser.ID
	if requestUser.IsAdmin() {
		ownerID = 0
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 90*time.Second)
	defer cancel()

	result, err := h.dispatcher.Retry(ctx, ownerID, id)
	if err != nil {
		GenerationFailure(c, err)
		return
	}
	if !result.Accepted {
		dispatchFailure(c, result)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"request_id":    result.RequestID,
		"retry_of":      id,
		"status":        result.Status,
		"execution_ref": result.ExecutionRef,
		"state":         h.stateFor(result.RequestID),
	})
}

func (h *HTTPHandler) DeleteGeneration(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	req, ok := h.loadVisibleRequest(c, ctx)
	if !ok {
		return
	}

	if !req.Status.IsTerminal() {
		BadRequest(c, ErrCodeValidation, "request is still in progress")
		return
	}

	if err := h.repo.DeleteGenerationRequest(ctx, req.ID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, ErrCodeRequestNotFound, "generation request not found")
			return
		}
		logrus.WithError(err).WithField("request_id", req.ID).Error("failed to delete generation request")
		InternalError(c, "failed to delete generation request")
		return
	}

	// 镜像的结果文件随请求一起删除，失败只记录
	if h.storage != nil {
		for _, artifact := range req.Artifacts {
			if artifact.StoragePath == "" || !storage.OwnsKey(artifact.StoragePath, req.UserID) {
				continue
			}
			if err := h.storage.Delete(ctx, artifact.StoragePath); err != nil {
				logrus.WithError(err).WithFields(logrus.Fields{
					"request_id": req.ID,
					"path":       artifact.StoragePath,
				}).Warn("failed to delete mirrored artifact")
			}
		}
	}

	c.Status(http.StatusNoContent)
}

// loadVisibleRequest 加载路径中的请求，非管理员只能看到自己的请求
func (h *HTTPHandler) loadVisibleRequest(c *gin.Context, ctx context.Context) (*entity.DbGenerationRequest, bool) {
	requestUser := CurrentUser(c)
	if requestUser == nil {
		Unauthorized(c, "authentication required")
		return nil, false
	}
	if h.repo == nil {
		ServiceUnavailable(c, "generation repository not available")
		return nil, false
	}

	id, ok := parseIDParam(c, "id")
	if !ok {
		BadRequest(c, ErrCodeInvalidRequest, "invalid request id")
		return nil, false
	}

	req, err := h.repo.GetGenerationRequest(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, ErrCodeRequestNotFound, "generation request not found")
			return nil, false
		}
		logrus.WithError(err).WithField("request_id", id).Error("failed to load generation request")
		InternalError(c, "failed to load generation request")
		return nil, false
	}

	if req.UserID != requestUser.ID && !requestUser.IsAdmin() {
		NotFound(c, ErrCodeRequestNotFound, "generation request not found")
		return nil, false
	}
	return req, true
}

func (h *HTTPHandler) stateFor(requestID uint) any {
	if state, ok := h.states.Get(requestID); ok {
		return state
	}
	return nil
}

// dispatchFailure 返回提交失败的错误，附带已落库的请求 id
func dispatchFailure(c *gin.Context, result *service.DispatchResult) {
	var genErr *service.GenerationError
	if !errors.As(result.Err, &genErr) {
		GenerationFailure(c, result.Err)
		return
	}
	status, code := errorCodeForKind(genErr.Kind)
	if errors.Is(result.Err, executor.ErrNotConfigured) {
		status = http.StatusServiceUnavailable
	}
	ErrorResponseWithDetails(c, status, code, genErr.Detail(), gin.H{
		"kind":       genErr.Kind,
		"request_id": result.RequestID,
		"status":     result.Status,
	})
}
