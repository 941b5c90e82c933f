package sql

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"promoshot/internal/entity"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var generationSortColumns = map[string]bool{"created_at": true, "updated_at": true, "status": true, "product_name": true}

// CreateGenerationRequest inserts a new generation request. The row must start pending.
func (r *GormRepository) CreateGenerationRequest(ctx context.Context, req *entity.DbGenerationRequest) error {
	if !r.ready() {
		return errNotInitialised
	}
	if req == nil {
		return fmt.Errorf("generation request is nil")
	}
	if req.Status == "" {
		req.Status = entity.GenerationStatusPending
	}
	if req.Status != entity.GenerationStatusPending {
		return fmt.Errorf("generation request must be created pending, got %s", req.Status)
	}
	return r.db.WithContext(ctx).Omit("Artifacts").Create(req).Error
}

// GetGenerationRequest loads a request with its artifacts.
func (r *GormRepository) GetGenerationRequest(ctx context.Context, id uint) (*entity.DbGenerationRequest, error) {
	if !r.ready() {
		return nil, errNotInitialised
	}
	if id == 0 {
		return nil, fmt.Errorf("invalid generation request id")
	}

	var req entity.DbGenerationRequest
	err := r.db.WithContext(ctx).
		Preload("Artifacts", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		First(&req, id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load generation request: %w", err)
	}
	return &req, nil
}

// ListGenerationRequests returns paginated requests, newest first.
func (r *GormRepository) ListGenerationRequests(ctx context.Context, params *entity.GenerationRequestQuery) ([]entity.DbGenerationRequest, *entity.Meta, error) {
	if !r.ready() {
		return nil, nil, errNotInitialised
	}

	query := r.db.WithContext(ctx).Model(&entity.DbGenerationRequest{})
	var base *entity.BaseParams
	if params != nil {
		if !params.IncludeAll && params.UserID > 0 {
			query = query.Where("user_id = ?", params.UserID)
		}
		if status := strings.ToLower(strings.TrimSpace(params.Status)); status != "" && status != "all" {
			query = query.Where("status = ?", status)
		}
		base = &params.BaseParams
	}

	var totalCount int64
	if err := query.Count(&totalCount).Error; err != nil {
		return nil, nil, err
	}

	pages := newPagination(base)

	var records []entity.DbGenerationRequest
	err := query.
		Preload("Artifacts", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Scopes(orderBy(base, generationSortColumns, clause.OrderByColumn{Column: clause.Column{Name: "created_at"}, Desc: true}), pages.scope).
		Find(&records).Error
	if err != nil {
		return nil, nil, err
	}

	return records, pages.meta(totalCount), nil
}

// UpdateGenerationRequest updates non-status fields.
func (r *GormRepository) UpdateGenerationRequest(ctx context.Context, id uint, updates entity.GenerationRequestUpdates) error {
	if !r.ready() {
		return errNotInitialised
	}
	if id == 0 {
		return fmt.Errorf("invalid generation request id")
	}
	if updates.IsEmpty() {
		return nil
	}
	result := r.db.WithContext(ctx).Model(&entity.DbGenerationRequest{}).Where("id = ?", id).Updates(updates.ToMap())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// TransitionGenerationRequest moves a request forward. The update is conditional on the
// current status being one of the target's predecessors; artifacts are inserted in the
// same transaction when completing.
func (r *GormRepository) TransitionGenerationRequest(ctx context.Context, id uint, transition entity.StatusTransition) error {
	if !r.ready() {
		return errNotInitialised
	}
	if id == 0 {
		return fmt.Errorf("invalid generation request id")
	}

	predecessors := transition.To.Predecessors()
	if len(predecessors) == 0 {
		return fmt.Errorf("invalid target status %q", transition.To)
	}
	switch transition.To {
	case entity.GenerationStatusCompleted:
		if len(transition.Artifacts) == 0 {
			return fmt.Errorf("completed transition requires at least one artifact")
		}
	case entity.GenerationStatusFailed:
		if strings.TrimSpace(transition.ErrorMessage) == "" {
			return fmt.Errorf("failed transition requires an error message")
		}
	}

	at := transition.At
	if at.IsZero() {
		at = time.Now()
	}

	updates := map[string]interface{}{
		"status":     transition.To,
		"updated_at": at,
	}
	if ref := strings.TrimSpace(transition.ExecutionRef); ref != "" {
		updates["external_execution_ref"] = ref
	}
	if transition.To.IsTerminal() {
		updates["completed_at"] = at
	}
	if transition.To == entity.GenerationStatusFailed {
		updates["error_kind"] = transition.ErrorKind
		updates["error_message"] = transition.ErrorMessage
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&entity.DbGenerationRequest{}).
			Where("id = ? AND status IN ?", id, predecessors).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&entity.DbGenerationRequest{}).Where("id = ?", id).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return gorm.ErrRecordNotFound
			}
			return ErrStaleTransition
		}

		if transition.To != entity.GenerationStatusCompleted {
			return nil
		}
		artifacts := make([]entity.DbGeneratedArtifact, 0, len(transition.Artifacts))
		for _, artifact := range transition.Artifacts {
			artifact.ID = 0
			artifact.RequestID = id
			artifacts = append(artifacts, artifact)
		}
		return tx.Create(&artifacts).Error
	})
}

// DeleteGenerationRequest removes a request together with its artifacts and logs.
func (r *GormRepository) DeleteGenerationRequest(ctx context.Context, id uint) error {
	if !r.ready() {
		return errNotInitialised
	}
	if id == 0 {
		return fmt.Errorf("invalid generation request id")
	}

	// 迁移时关闭了外键约束，级联删除在事务中显式完成
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&entity.DbGenerationRequest{}, id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		if err := tx.Where("request_id = ?", id).Delete(&entity.DbGeneratedArtifact{}).Error; err != nil {
			return err
		}
		return tx.Where("request_id = ?", id).Delete(&entity.DbProcessingLog{}).Error
	})
}

// AppendProcessingLog inserts a log entry. Entries are never updated.
func (r *GormRepository) AppendProcessingLog(ctx context.Context, entry *entity.DbProcessingLog) error {
	if !r.ready() {
		return errNotInitialised
	}
	if entry == nil {
		return fmt.Errorf("processing log is nil")
	}
	if strings.TrimSpace(entry.StepName) == "" {
		return fmt.Errorf("step name is empty")
	}
	if entry.Status == "" {
		entry.Status = entity.LogStatusCompleted
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

// ListProcessingLogs returns the log of a request in insertion order.
func (r *GormRepository) ListProcessingLogs(ctx context.Context, requestID uint) ([]entity.DbProcessingLog, error) {
	if !r.ready() {
		return nil, errNotInitialised
	}
	var logs []entity.DbProcessingLog
	if err := r.db.WithContext(ctx).Where("request_id = ?", requestID).Order("id ASC").Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

// GetGenerationStats aggregates an owner's requests by status and category. The
// success rate is the rounded percentage of completed requests.
func (r *GormRepository) GetGenerationStats(ctx context.Context, userID uint) (*entity.GenerationStats, error) {
	if !r.ready() {
		return nil, errNotInitialised
	}

	var rows []struct {
		Status   entity.GenerationStatus
		Category string
		Count    int64
	}
	err := r.db.WithContext(ctx).Model(&entity.DbGenerationRequest{}).
		Select("status, category, COUNT(*) AS count").
		Where("user_id = ?", userID).
		Group("status, category").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("aggregate generation requests: %w", err)
	}

	stats := &entity.GenerationStats{CategoryCounts: map[string]int64{}}
	for _, row := range rows {
		stats.TotalGenerations += row.Count
		switch row.Status {
		case entity.GenerationStatusCompleted:
			stats.Completed += row.Count
		case entity.GenerationStatusFailed:
			stats.Failed += row.Count
		default:
			stats.InProgress += row.Count
		}
		if category := strings.TrimSpace(row.Category); category != "" {
			stats.CategoryCounts[category] += row.Count
		}
	}

	requestIDs := r.db.Model(&entity.DbGenerationRequest{}).Select("id").Where("user_id = ?", userID)
	err = r.db.WithContext(ctx).Model(&entity.DbGeneratedArtifact{}).
		Where("request_id IN (?)", requestIDs).
		Count(&stats.TotalImages).Error
	if err != nil {
		return nil, fmt.Errorf("count generated artifacts: %w", err)
	}

	if stats.TotalGenerations > 0 {
		stats.SuccessRate = int(math.Round(float64(stats.Completed) * 100 / float64(stats.TotalGenerations)))
	}
	return stats, nil
}
