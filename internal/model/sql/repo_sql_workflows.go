package sql

import (
	"context"
	"fmt"
	"strings"

	"promoshot/internal/entity"

	"gorm.io/gorm"
)

// CreateWorkflowTemplate stores a shared workflow template.
func (r *GormRepository) CreateWorkflowTemplate(ctx context.Context, template *entity.DbWorkflowTemplate) error {
	if !r.ready() {
		return errNotInitialised
	}
	if template == nil {
		return fmt.Errorf("workflow template is nil")
	}
	if strings.TrimSpace(template.WorkflowID) == "" || strings.TrimSpace(template.BaseURL) == "" {
		return fmt.Errorf("workflow id and base url are required")
	}
	return r.db.WithContext(ctx).Create(template).Error
}

// UpdateWorkflowTemplate applies partial updates to a template.
func (r *GormRepository) UpdateWorkflowTemplate(ctx context.Context, id uint, updates entity.WorkflowTemplateUpdates) error {
	if !r.ready() {
		return errNotInitialised
	}
	if id == 0 {
		return fmt.Errorf("invalid workflow template id")
	}
	if updates.IsEmpty() {
		return nil
	}
	result := r.db.WithContext(ctx).Model(&entity.DbWorkflowTemplate{}).Where("id = ?", id).Updates(updates.ToMap())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteWorkflowTemplate removes a template. Configurations provisioned from it are kept.
func (r *GormRepository) DeleteWorkflowTemplate(ctx context.Context, id uint) error {
	if !r.ready() {
		return errNotInitialised
	}
	if id == 0 {
		return fmt.Errorf("invalid workflow template id")
	}
	result := r.db.WithContext(ctx).Delete(&entity.DbWorkflowTemplate{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// GetWorkflowTemplate loads a template by primary key.
func (r *GormRepository) GetWorkflowTemplate(ctx context.Context, id uint) (*entity.DbWorkflowTemplate, error) {
	if !r.ready() {
		return nil, errNotInitialised
	}
	var template entity.DbWorkflowTemplate
	if err := r.db.WithContext(ctx).First(&template, id).Error; err != nil {
		return nil, err
	}
	return &template, nil
}

// GetWorkflowTemplateByWorkflowID loads a template by its executor workflow id.
func (r *GormRepository) GetWorkflowTemplateByWorkflowID(ctx context.Context, workflowID string) (*entity.DbWorkflowTemplate, error) {
	if !r.ready() {
		return nil, errNotInitialised
	}
	trimmed := strings.TrimSpace(workflowID)
	if trimmed == "" {
		return nil, fmt.Errorf("workflow id is empty")
	}
	var template entity.DbWorkflowTemplate
	if err := r.db.WithContext(ctx).Where("workflow_id = ?", trimmed).First(&template).Error; err != nil {
		return nil, err
	}
	return &template, nil
}

// ListWorkflowTemplates returns templates, newest first.
func (r *GormRepository) ListWorkflowTemplates(ctx context.Context, includeInactive bool) ([]entity.DbWorkflowTemplate, error) {
	if !r.ready() {
		return nil, errNotInitialised
	}
	query := r.db.WithContext(ctx).Model(&entity.DbWorkflowTemplate{})
	if !includeInactive {
		query = query.Where("is_active = ?", true)
	}
	var templates []entity.DbWorkflowTemplate
	if err := query.Order("created_at DESC, id DESC").Find(&templates).Error; err != nil {
		return nil, err
	}
	return templates, nil
}

// GetActiveWorkflowTemplate returns the newest active template.
func (r *GormRepository) GetActiveWorkflowTemplate(ctx context.Context) (*entity.DbWorkflowTemplate, error) {
	if !r.ready() {
		return nil, errNotInitialised
	}
	var template entity.DbWorkflowTemplate
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("created_at DESC, id DESC").
		First(&template).Error
	if err != nil {
		return nil, err
	}
	return &template, nil
}

// CreateWorkflowConfiguration stores a per-user workflow configuration.
func (r *GormRepository) CreateWorkflowConfiguration(ctx context.Context, cfg *entity.DbWorkflowConfiguration) error {
	if !r.ready() {
		return errNotInitialised
	}
	if cfg == nil {
		return fmt.Errorf("workflow configuration is nil")
	}
	if cfg.UserID == 0 {
		return fmt.Errorf("invalid user id")
	}
	return r.db.WithContext(ctx).Create(cfg).Error
}

// UpdateWorkflowConfiguration applies partial updates to a configuration.
func (r *GormRepository) UpdateWorkflowConfiguration(ctx context.Context, id uint, updates entity.WorkflowConfigurationUpdates) error {
	if !r.ready() {
		return errNotInitialised
	}
	if id == 0 {
		return fmt.Errorf("invalid workflow configuration id")
	}
	if updates.IsEmpty() {
		return nil
	}
	result := r.db.WithContext(ctx).Model(&entity.DbWorkflowConfiguration{}).Where("id = ?", id).Updates(updates.ToMap())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// GetActiveWorkflowConfiguration returns the newest active configuration of a user.
func (r *GormRepository) GetActiveWorkflowConfiguration(ctx context.Context, userID uint) (*entity.DbWorkflowConfiguration, error) {
	if !r.ready() {
		return nil, errNotInitialised
	}
	if userID == 0 {
		return nil, fmt.Errorf("invalid user id")
	}
	var cfg entity.DbWorkflowConfiguration
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("id DESC").
		First(&cfg).Error
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ListUsersWithoutWorkflowConfiguration returns users that have no active configuration.
func (r *GormRepository) ListUsersWithoutWorkflowConfiguration(ctx context.Context) ([]entity.DbUser, error) {
	if !r.ready() {
		return nil, errNotInitialised
	}
	active := r.db.Model(&entity.DbWorkflowConfiguration{}).
		Select("user_id").
		Where("is_active = ?", true)

	var users []entity.DbUser
	err := r.db.WithContext(ctx).
		Where("id NOT IN (?)", active).
		Order("id ASC").
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}
