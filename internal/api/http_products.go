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

// ListProducts 列出当前用户保存的商品
func (h *HTTPHandler) ListProducts(c *gin.Context) {
	requestUser := CurrentUser(c)
	if requestUser == nil {
		Unauthorized(c, "authentication required")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	products, err := h.repo.ListProducts(ctx, requestUser.ID)
	if err != nil {
		logrus.WithError(err).WithField("user_id", requestUser.ID).Error("failed to list products")
		InternalError(c, "failed to load products")
		return
	}
	if products == nil {
		products = []entity.DbProduct{}
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

// CreateProduct 保存商品，名称与分类必填
func (h *HTTPHandler) CreateProduct(c *gin.Context) {
	requestUser := CurrentUser(c)
	if requestUser == nil {
		Unauthorized(c, "authentication required")
		return
	}

	var req entity.ProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		InvalidPayload(c)
		return
	}
	name := valueOf(trimmedPtr(req.Name))
	if name == "" {
		MissingField(c, "name")
		return
	}
	category := valueOf(trimmedPtr(req.Category))
	if category == "" {
		MissingField(c, "category")
		return
	}

	product := &entity.DbProduct{
		UserID:           requestUser.ID,
		Name:             name,
		Description:      valueOf(trimmedPtr(req.Description)),
		Category:         category,
		ImageURL:         valueOf(trimmedPtr(req.ImageURL)),
		ImagePath:        valueOf(trimmedPtr(req.ImagePath)),
		BrandColors:      mergeBrandColors(nil, req.PrimaryColor, req.SecondaryColor),
		TargetAudience:   valueOf(trimmedPtr(req.TargetAudience)),
		StylePreferences: valueOf(trimmedPtr(req.StylePreferences)),
		Slogan:           valueOf(trimmedPtr(req.Slogan)),
		Attributes:       entity.CleanProductAttributes(req.Attributes),
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := h.repo.CreateProduct(ctx, product); err != nil {
		logrus.WithError(err).WithField("user_id", requestUser.ID).Error("failed to create product")
		InternalError(c, "failed to create product")
		return
	}
	c.JSON(http.StatusCreated, product)
}

func (h *HTTPHandler) GetProduct(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	product, ok := h.loadOwnedProduct(c, ctx)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, product)
}

// UpdateProduct 只修改请求体中出现的字段
func (h *HTTPHandler) UpdateProduct(c *gin.Context) {
	var req entity.ProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		InvalidPayload(c)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	product, ok := h.loadOwnedProduct(c, ctx)
	if !ok {
		return
	}

	updates := entity.ProductUpdates{
		Name:             trimmedPtr(req.Name),
		Description:      trimmedPtr(req.Description),
		Category:         trimmedPtr(req.Category),
		ImageURL:         trimmedPtr(req.ImageURL),
		ImagePath:        trimmedPtr(req.ImagePath),
		TargetAudience:   trimmedPtr(req.TargetAudience),
		StylePreferences: trimmedPtr(req.StylePreferences),
		Slogan:           trimmedPtr(req.Slogan),
	}
	if updates.Name != nil && *updates.Name == "" {
		BadRequest(c, ErrCodeInvalidRequest, "name must not be empty")
		return
	}
	if updates.Category != nil && *updates.Category == "" {
		BadRequest(c, ErrCodeInvalidRequest, "category must not be empty")
		return
	}
	if req.PrimaryColor != nil || req.SecondaryColor != nil {
		updates.BrandColors = mergeBrandColors(product.BrandColors, req.PrimaryColor, req.SecondaryColor)
	}
	if req.Attributes != nil {
		updates.Attributes = entity.CleanProductAttributes(req.Attributes)
	}
	if updates.IsEmpty() {
		c.JSON(http.StatusOK, product)
		return
	}

	if err := h.repo.UpdateProduct(ctx, product.ID, updates); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, ErrCodeProductNotFound, "product not found")
			return
		}
		logrus.WithError(err).WithField("product_id", product.ID).Error("failed to update product")
		InternalError(c, "failed to update product")
		return
	}

	updated, err := h.repo.GetProduct(ctx, product.ID)
	if err != nil {
		InternalError(c, "failed to load product")
		return
	}
	c.JSON(http.StatusOK, updated)
}

// DeleteProduct 删除商品，已有生成记录保留但不再关联
func (h *HTTPHandler) DeleteProduct(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	product, ok := h.loadOwnedProduct(c, ctx)
	if !ok {
		return
	}
	if err := h.repo.DeleteProduct(ctx, product.ID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, ErrCodeProductNotFound, "product not found")
			return
		}
		logrus.WithError(err).WithField("product_id", product.ID).Error("failed to delete product")
		InternalError(c, "failed to delete product")
		return
	}
	c.Status(http.StatusNoContent)
}

// loadOwnedProduct 其他用户的商品一律按不存在处理
func (h *HTTPHandler) loadOwnedProduct(c *gin.Context, ctx context.Context) (*entity.DbProduct, bool) {
	requestUser := CurrentUser(c)
	if requestUser == nil {
		Unauthorized(c, "authentication required")
		return nil, false
	}

	id, ok := parseIDParam(c, "id")
	if !ok {
		BadRequest(c, ErrCodeInvalidRequest, "invalid product id")
		return nil, false
	}

	product, err := h.repo.GetProduct(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, ErrCodeProductNotFound, "product not found")
			return nil, false
		}
		logrus.WithError(err).WithField("product_id", id).Error("failed to load product")
		InternalError(c, "failed to load product")
		return nil, false
	}
	if product.UserID != requestUser.ID {
		NotFound(c, ErrCodeProductNotFound, "product not found")
		return nil, false
	}
	return product, true
}

func mergeBrandColors(current entity.JSONMap, primary, secondary *string) entity.JSONMap {
	colors := entity.JSONMap{}
	for k, v := range current {
		colors[k] = v
	}
	if primary != nil {
		colors["primary"] = strings.TrimSpace(*primary)
	}
	if secondary != nil {
		colors["secondary"] = strings.TrimSpace(*secondary)
	}
	return colors
}

func valueOf(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
