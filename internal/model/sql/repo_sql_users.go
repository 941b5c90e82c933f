package sql

import (
	"context"
	"errors"
	"strings"

	"promoshot/internal/entity"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var userSortColumns = map[string]bool{"id": true, "email": true, "created_at": true}

// normaliseEmail 邮箱统一按小写存储和查询
func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (r *GormRepository) CreateUser(ctx context.Context, user *entity.DbUser) error {
	if !r.ready() {
		return errNotInitialised
	}
	if user == nil {
		return errors.New("user is nil")
	}
	user.Email = normaliseEmail(user.Email)
	if user.Email == "" {
		return errors.New("user email is empty")
	}
	if user.Role == "" {
		user.Role = entity.UserRoleUser
	}
	return r.db.WithContext(ctx).Create(user).Error
}

// UpdateUser 按非空字段更新用户，更新不存在的用户返回 gorm.ErrRecordNotFound
func (r *GormRepository) UpdateUser(ctx context.Context, id uint, updates entity.UserUpdates) error {
	if !r.ready() {
		return errNotInitialised
	}
	if id == 0 {
		return errors.New("invalid user id")
	}
	if updates.IsEmpty() {
		return nil
	}
	result := r.db.WithContext(ctx).Model(&entity.DbUser{}).Where("id = ?", id).Updates(updates.ToMap())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *GormRepository) GetUserByEmail(ctx context.Context, email string) (*entity.DbUser, error) {
	if !r.ready() {
		return nil, errNotInitialised
	}
	normalised := normaliseEmail(email)
	if normalised == "" {
		return nil, gorm.ErrRecordNotFound
	}

	var user entity.DbUser
	if err := r.db.WithContext(ctx).Where("LOWER(email) = ?", normalised).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *GormRepository) GetUserByID(ctx context.Context, id uint) (*entity.DbUser, error) {
	if !r.ready() {
		return nil, errNotInitialised
	}
	if id == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	var user entity.DbUser
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// ListUsers 分页列出用户，支持按角色和邮箱/昵称关键字过滤
func (r *GormRepository) ListUsers(ctx context.Context, params *entity.UserQuery) ([]entity.DbUser, *entity.Meta, error) {
	if !r.ready() {
		return nil, nil, errNotInitialised
	}

	query := r.db.WithContext(ctx).Model(&entity.DbUser{})
	var base *entity.BaseParams
	if params != nil {
		base = &params.BaseParams
		if role := strings.TrimSpace(params.Role); role != "" {
			query = query.Where("role = ?", role)
		}
		if keyword := strings.ToLower(strings.TrimSpace(params.Keyword)); keyword != "" {
			like := "%" + keyword + "%"
			query = query.Where("LOWER(email) LIKE ? OR LOWER(display_name) LIKE ?", like, like)
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, nil, err
	}

	pages := newPagination(base)
	var users []entity.DbUser
	if err := query.Scopes(orderBy(base, userSortColumns, clause.OrderByColumn{Column: clause.Column{Name: "id"}, Desc: true}), pages.scope).Find(&users).Error; err != nil {
		return nil, nil, err
	}
	return users, pages.meta(total), nil
}

// DeleteUser 删除用户及其生成请求、结果、处理日志、积分流水和执行器配置
func (r *GormRepository) DeleteUser(ctx context.Context, id uint) error {
	if !r.ready() {
		return errNotInitialised
	}
	if id == 0 {
		return gorm.ErrRecordNotFound
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&entity.DbUser{}, id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		requestIDs := tx.Model(&entity.DbGenerationRequest{}).Select("id").Where("user_id = ?", id)
		if err := tx.Where("request_id IN (?)", requestIDs).Delete(&entity.DbGeneratedArtifact{}).Error; err != nil {
			return err
		}
		if err := tx.Where("request_id IN (?)", requestIDs).Delete(&entity.DbProcessingLog{}).Error; err != nil {
			return err
		}
		for _, model := range []any{&entity.DbGenerationRequest{}, &entity.DbCredit{}, &entity.DbWorkflowConfiguration{}, &entity.DbProduct{}} {
			if err := tx.Where("user_id = ?", id).Delete(model).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *GormRepository) CountUsers(ctx context.Context) (int64, error) {
	if !r.ready() {
		return 0, errNotInitialised
	}
	var count int64
	if err := r.db.WithContext(ctx).Model(&entity.DbUser{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
