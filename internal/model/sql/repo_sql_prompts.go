package sql

import (
	"context"
	"fmt"
	"strings"

	"promoshot/internal/entity"

	"gorm.io/gorm"
)

func (r *GormRepository) CreatePromptTemplate(ctx context.Context, template *entity.DbPromptTemplate) error {
	if !r.ready() {
		return errNotInitialised
	}
	if template == nil {
		return fmt.Errorf("prompt template is nil")
	}
	if strings.TrimSpace(template.Name) == "" || strings.TrimSpace(template.Template) == "" {
		return fmt.Errorf("prompt template name and body are required")
	}
	return r.db.WithContext(ctx).Create(template).Error
}

func (r *GormRepository) GetPromptTemplate(ctx context.Context, id uint) (*entity.DbPromptTemplate, error) {
	if !r.ready() {
		return nil, errNotInitialised
	}
	if id == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	var template entity.DbPromptTemplate
	if err := r.db.WithContext(ctx).First(&template, id).Error; err != nil {
		return nil, err
	}
	return &template, nil
}

// ListPromptTemplates returns templates ordered by category. An empty category
// lists every category.
func (r *GormRepository) ListPromptTemplates(ctx context.Context, category string, includeInactive bool) ([]entity.DbPromptTemplate, error) {
	if !r.ready() {
		return nil, errNotInitialised
	}
	query := r.db.WithContext(ctx).Model(&entity.DbPromptTemplate{})
	if !includeInactive {
		query = query.Where("is_active = ?", true)
	}
	if category = strings.TrimSpace(category); category != "" {
		query = query.Where("category = ?", category)
	}
	var templates []entity.DbPromptTemplate
	if err := query.Order("category ASC, id ASC").Find(&templates).Error; err != nil {
		return nil, err
	}
	return templates, nil
}

func (r *GormRepository) UpdatePromptTemplate(ctx context.Context, id uint, updates entity.PromptTemplateUpdates) error {
	if !r.ready() {
		return errNotInitialised
	}
	if id == 0 {
		return fmt.Errorf("invalid prompt template id")
	}
	if updates.IsEmpty() {
		return nil
	}
	result := r.db.WithContext(ctx).Model(&entity.DbPromptTemplate{}).Where("id = ?", id).Updates(updates.ToMap())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *GormRepository) DeletePromptTemplate(ctx context.Context, id uint) error {
	if !r.ready() {
		return errNotInitialised
	}
	if id == 0 {
		return gorm.ErrRecordNotFound
	}
	result := r.db.WithContext(ctx).Delete(&entity.DbPromptTemplate{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
