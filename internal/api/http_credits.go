package api

import (
	"context"
	"net/http"
	"time"

	"promoshot/internal/entity"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// GetCredits 返回当前用户的积分余额与流水
func (h *HTTPHandler) GetCredits(c *gin.Context) {
	requestUser := CurrentUser(c)
	if requestUser == nil {
		Unauthorized(c, "authentication required")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	balance, err := h.repo.SumCredits(ctx, requestUser.ID)
	if err != nil {
		logrus.WithError(err).WithField("user_id", requestUser.ID).Error("failed to sum credits")
		InternalError(c, "failed to load credits")
		return
	}

	entries, err := h.repo.ListCredits(ctx, requestUser.ID)
	if err != nil {
		logrus.WithError(err).WithField("user_id", requestUser.ID).Error("failed to list credits")
		InternalError(c, "failed to load credits")
		return
	}
	if entries == nil {
		entries = []entity.DbCredit{}
	}

	c.JSON(http.StatusOK, gin.H{"balance": balance, "entries": entries})
}
