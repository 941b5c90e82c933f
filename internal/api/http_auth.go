package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"promoshot/internal/entity"
	"promoshot/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Register 注册账号，附带的积分与工作流配置失败时只返回警告
func (h *HTTPHandler) Register(c *gin.Context) {
	if h.repo == nil || h.accounts == nil {
		ServiceUnavailable(c, "user repository not available")
		return
	}

	var req entity.AuthRegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, ErrCodeInvalidRequest, "invalid registration payload")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	user, report, err := h.accounts.Register(ctx, service.RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmailTaken):
			BadRequest(c, ErrCodeEmailExists, "email already registered")
		case errors.Is(err, service.ErrValidation):
			BadRequest(c, ErrCodeValidation, "email and password are required")
		default:
			logrus.WithError(err).Error("failed to register user")
			InternalError(c, "failed to register user")
		}
		return
	}

	var warnings []string
	for _, step := range report.Failed() {
		warnings = append(warnings, step.Name)
	}
	h.issueSession(c, http.StatusCreated, user, warnings)
}

func (h *HTTPHandler) issueSession(c *gin.Context, status int, user *entity.DbUser, warnings []string) {
	token, expiresAt, err := h.authManager.GenerateToken(user)
	if err != nil {
		logrus.WithError(err).WithField("user_id", user.ID).Error("failed to sign session token")
		InternalError(c, "failed to create session")
		return
	}
	c.JSON(status, entity.AuthResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      makeUserSummary(user),
		Warnings:  warnings,
	})
}

// Login 校验邮箱密码并签发会话令牌，禁用账户只有在密码正确时才会得到明确提示
func (h *HTTPHandler) Login(c *gin.Context) {
	if h.accounts == nil {
		ServiceUnavailable(c, "user repository not available")
		return
	}

	var req entity.AuthLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, ErrCodeInvalidRequest, "invalid login payload")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	user, err := h.accounts.Authenticate(ctx, req.Email, req.Password)
	switch {
	case errors.Is(err, service.ErrValidation):
		BadRequest(c, ErrCodeMissingField, "email and password are required")
		return
	case errors.Is(err, service.ErrInvalidCredentials):
		ErrorResponse(c, http.StatusUnauthorized, ErrCodeInvalidCredentials, "invalid email or password")
		return
	case errors.Is(err, service.ErrUserDisabled):
		ErrorResponse(c, http.StatusForbidden, ErrCodeUserDisabled, "user is disabled")
		return
	case err != nil:
		logrus.WithError(err).Error("login failed")
		InternalError(c, "failed to sign in")
		return
	}

	h.issueSession(c, http.StatusOK, user, nil)
}

func (h *HTTPHandler) AuthStatus(c *gin.Context) {
	if h.repo == nil {
		c.JSON(http.StatusOK, entity.AuthStatusResponse{HasUser: false})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	count, err := h.repo.CountUsers(ctx)
	if err != nil {
		logrus.WithError(err).Error("failed to count users for auth status")
		InternalError(c, "failed to check auth status")
		return
	}
	c.JSON(http.StatusOK, entity.AuthStatusResponse{HasUser: count > 0})
}

func (h *HTTPHandler) Me(c *gin.Context) {
	user := CurrentUser(c)
	if user == nil {
		Unauthorized(c, "authentication required")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbUser, err := h.repo.GetUserByID(ctx, user.ID)
	if err != nil {
		logrus.WithError(err).WithField("user_id", user.ID).Error("failed to load user profile")
		InternalError(c, "failed to load profile")
		return
	}

	c.JSON(http.StatusOK, makeUserSummary(dbUser))
}

func makeUserSummary(user *entity.DbUser) entity.UserSummary {
	if user == nil {
		return entity.UserSummary{}
	}
	return entity.UserSummary{
		ID:                  user.ID,
		Email:               user.Email,
		DisplayName:         user.DisplayName,
		Role:                user.Role,
		IsActive:            user.IsActive,
		BrandPrimaryColor:   user.BrandPrimaryColor,
		BrandSecondaryColor: user.BrandSecondaryColor,
		BrandSlogan:         user.BrandSlogan,
		CreatedAt:           user.CreatedAt,
		UpdatedAt:           user.UpdatedAt,
	}
}
