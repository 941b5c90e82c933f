package sql

import (
	"context"
	"fmt"

	"promoshot/internal/entity"
)

// CreateCredit appends a credit ledger entry.
func (r *GormRepository) CreateCredit(ctx context.Context, credit *entity.DbCredit) error {
	if !r.ready() {
		return errNotInitialised
	}
	if credit == nil {
		return fmt.Errorf("credit is nil")
	}
	if credit.UserID == 0 {
		return fmt.Errorf("invalid user id")
	}
	return r.db.WithContext(ctx).Create(credit).Error
}

// ListCredits returns the ledger of a user, newest first.
func (r *GormRepository) ListCredits(ctx context.Context, userID uint) ([]entity.DbCredit, error) {
	if !r.ready() {
		return nil, errNotInitialised
	}
	var credits []entity.DbCredit
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC").Find(&credits).Error; err != nil {
		return nil, err
	}
	return credits, nil
}

// SumCredits returns the balance of a user.
func (r *GormRepository) SumCredits(ctx context.Context, userID uint) (int64, error) {
	if !r.ready() {
		return 0, errNotInitialised
	}
	var total int64
	err := r.db.WithContext(ctx).
		Model(&entity.DbCredit{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}
