package repository

import (
	"context"
	"time"

	"walletsvc/internal/model"

	"gorm.io/gorm"
)

type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Create 写入发件箱，必须与业务变更在同一个事务里
func (r *OutboxRepository) Create(ctx context.Context, tx *gorm.DB, event *model.OutboxEvent) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(event).Error
}

// GetDueEvents 查询待投递记录：
// PENDING，或 FAILED 且到达重试时间；按创建时间排序保证同一聚合内的投递顺序
func (r *OutboxRepository) GetDueEvents(ctx context.Context, now time.Time, limit int) ([]*model.OutboxEvent, error) {
	var events []*model.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("(status = ? OR (status = ? AND next_retry_at <= ?)) AND retry_count < max_retry",
			model.OutboxStatusPending, model.OutboxStatusFailed, now).
		Order("created_at ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// MarkPublished 标记已投递
//
// WHERE 带前置状态，防止两个 worker 竞争时重复计数；
// 投递动作先于状态落库，崩溃后记录仍可被重新选中，由下游按 event_id 去重
func (r *OutboxRepository) MarkPublished(ctx context.Context, id int64) (bool, error) {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&model.OutboxEvent{}).
		Where("id = ? AND status IN ?", id, []string{model.OutboxStatusPending, model.OutboxStatusFailed}).
		Updates(map[string]interface{}{
			"status":       model.OutboxStatusPublished,
			"published_at": &now,
			"updated_at":   now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkRetry 记录一次失败并排期下次重试
func (r *OutboxRepository) MarkRetry(ctx context.Context, id int64, lastError string, nextRetryAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        model.OutboxStatusFailed,
			"retry_count":   gorm.Expr("retry_count + 1"),
			"last_error":    lastError,
			"next_retry_at": &nextRetryAt,
			"updated_at":    time.Now(),
		}).Error
}

// MarkFailedPermanent 重试耗尽，标记为永久失败等待人工介入
func (r *OutboxRepository) MarkFailedPermanent(ctx context.Context, id int64, lastError string) error {
	return r.db.WithContext(ctx).
		Model(&model.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      model.OutboxStatusFailedPermanent,
			"retry_count": gorm.Expr("retry_count + 1"),
			"last_error":  lastError,
			"updated_at":  time.Now(),
		}).Error
}

// DeletePublishedBefore 清理保留期外的已投递记录
func (r *OutboxRepository) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status = ? AND published_at < ?", model.OutboxStatusPublished, cutoff).
		Delete(&model.OutboxEvent{})
	return result.RowsAffected, result.Error
}
