package sql

import (
	"context"
	"fmt"
	"strings"

	"promoshot/internal/entity"

	"gorm.io/gorm"
)

// CreateProduct stores a product for its owner.
func (r *GormRepository) CreateProduct(ctx context.Context, product *entity.DbProduct) error {
	if !r.ready() {
		return errNotInitialised
	}
	if product == nil {
		return fmt.Errorf("product is nil")
	}
	if product.UserID == 0 {
		return fmt.Errorf("product owner is required")
	}
	if strings.TrimSpace(product.Name) == "" || strings.TrimSpace(product.Category) == "" {
		return fmt.Errorf("product name and category are required")
	}
	return r.db.WithContext(ctx).Create(product).Error
}

// GetProduct loads a product by primary key.
func (r *GormRepository) GetProduct(ctx context.Context, id uint) (*entity.DbProduct, error) {
	if !r.ready() {
		return nil, errNotInitialised
	}
	if id == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	var product entity.DbProduct
	if err := r.db.WithContext(ctx).First(&product, id).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// ListProducts returns an owner's products, newest first.
func (r *GormRepository) ListProducts(ctx context.Context, userID uint) ([]entity.DbProduct, error) {
	if !r.ready() {
		return nil, errNotInitialised
	}
	var products []entity.DbProduct
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Find(&products).Error
	if err != nil {
		return nil, err
	}
	return products, nil
}

func (r *GormRepository) UpdateProduct(ctx context.Context, id uint, updates entity.ProductUpdates) error {
	if !r.ready() {
		return errNotInitialised
	}
	if id == 0 {
		return fmt.Errorf("invalid product id")
	}
	if updates.IsEmpty() {
		return nil
	}
	result := r.db.WithContext(ctx).Model(&entity.DbProduct{}).Where("id = ?", id).Updates(updates.ToMap())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteProduct removes a product. Requests generated from it keep their copied
// fields and lose the reference.
func (r *GormRepository) DeleteProduct(ctx context.Context, id uint) error {
	if !r.ready() {
		return errNotInitialised
	}
	if id == 0 {
		return gorm.ErrRecordNotFound
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&entity.DbProduct{}, id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Model(&entity.DbGenerationRequest{}).
			Where("product_id = ?", id).
			Update("product_id", nil).Error
	})
}
