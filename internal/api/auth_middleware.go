package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"promoshot/internal/auth"
	"promoshot/internal/entity"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const currentUserContextKey = "current-user"

// RequestUser 是通过认证的请求用户，角色和状态取自数据库而不是令牌
type RequestUser struct {
	ID          uint
	Email       string
	DisplayName string
	Role        string
}

// IsAdmin 管理员与超级管理员都可以查看全部生成请求
func (u *RequestUser) IsAdmin() bool {
	if u == nil {
		return false
	}
	return u.Role == entity.UserRoleAdmin || u.Role == entity.UserRoleSuperAdmin
}

func (u *RequestUser) IsSuperAdmin() bool {
	return u != nil && u.Role == entity.UserRoleSuperAdmin
}

// bearerToken 读取 Authorization 头。EventSource 不能设置请求头，SSE 连接改用 access_token 查询参数
func bearerToken(c *gin.Context) (string, string) {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header == "" {
		if token := strings.TrimSpace(c.Query("access_token")); token != "" {
			return token, ""
		}
		return "", "缺少授权头"
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", "无效的授权头格式"
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", "缺少 Bearer Token"
	}
	return token, ""
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, APIError{Code: code, Message: message})
}

// AuthMiddleware 校验会话令牌并加载用户，禁用或已删除的用户即使持有未过期令牌也会被拒绝
func (h *HTTPHandler) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, problem := bearerToken(c)
		if problem != "" {
			abortWithError(c, http.StatusUnauthorized, ErrCodeUnauthorized, problem)
			return
		}

		claims, err := h.authManager.ParseToken(token)
		switch {
		case errors.Is(err, auth.ErrTokenExpired):
			abortWithError(c, http.StatusUnauthorized, ErrCodeSessionExpired, "登录已过期")
			return
		case err != nil:
			logrus.WithError(err).WithField("path", c.Request.URL.Path).Warn("rejected session token")
			abortWithError(c, http.StatusUnauthorized, ErrCodeUnauthorized, "Token 无效")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		user, err := h.repo.GetUserByID(ctx, claims.UserID)
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			abortWithError(c, http.StatusUnauthorized, ErrCodeUserNotFound, "用户不存在")
			return
		case err != nil:
			logrus.WithError(err).WithField("user_id", claims.UserID).Error("failed to load user")
			abortWithError(c, http.StatusInternalServerError, ErrCodeInternalError, "验证用户失败")
			return
		case !user.IsActive:
			abortWithError(c, http.StatusForbidden, ErrCodeUserDisabled, "账户已被禁用")
			return
		}

		c.Set(currentUserContextKey, &RequestUser{
			ID:          user.ID,
			Email:       user.Email,
			DisplayName: user.DisplayName,
			Role:        user.Role,
		})
		c.Next()
	}
}

// RequireAdmin 管理员权限守卫，需挂在 AuthMiddleware 之后
func (h *HTTPHandler) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !CurrentUser(c).IsAdmin() {
			abortWithError(c, http.StatusForbidden, ErrCodeForbidden, "需要管理员权限")
			return
		}
		c.Next()
	}
}

// CurrentUser 从上下文获取当前认证用户，未认证时返回 nil
func CurrentUser(c *gin.Context) *RequestUser {
	value, _ := c.Get(currentUserContextKey)
	user, _ := value.(*RequestUser)
	return user
}
