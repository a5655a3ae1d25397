package repository

import (
	"context"
	"errors"
	"time"

	"walletsvc/internal/model"

	"gorm.io/gorm"
)

// ErrEventAlreadyClaimed (event_id, event_type) 已被抢占，事件处理过了
var ErrEventAlreadyClaimed = errors.New("事件已被处理")

type ProcessedEventRepository struct {
	db *gorm.DB
}

func NewProcessedEventRepository(db *gorm.DB) *ProcessedEventRepository {
	return &ProcessedEventRepository{db: db}
}

// Claim 原子抢占
//
// 【关键点】必须是单条 INSERT 撞唯一索引，不能先查再插——
// 查和插之间的窗口会让两次重投同时通过检查，各自 topup 一遍。
// 唯一键冲突翻译为 ErrEventAlreadyClaimed，调用方按"已处理"跳过
func (r *ProcessedEventRepository) Claim(ctx context.Context, event *model.ProcessedEvent) error {
	err := r.db.WithContext(ctx).Create(event).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrEventAlreadyClaimed
	}
	return err
}

// RecordOutcome 回填处理结果
// 独立于业务事务提交：业务失败也要留下可观测的 FAILED 记录
func (r *ProcessedEventRepository) RecordOutcome(ctx context.Context, eventID, eventType, result, details string) error {
	return r.db.WithContext(ctx).
		Model(&model.ProcessedEvent{}).
		Where("event_id = ? AND event_type = ?", eventID, eventType).
		Updates(map[string]interface{}{
			"processing_result": result,
			"result_details":    details,
			"processed_at":      time.Now(),
		}).Error
}

// FindRecentFailures 查询近期处理失败的事件，用于告警
func (r *ProcessedEventRepository) FindRecentFailures(ctx context.Context, since time.Time) ([]*model.ProcessedEvent, error) {
	var events []*model.ProcessedEvent
	err := r.db.WithContext(ctx).
		Where("processing_result = ? AND processed_at >= ?", model.ProcessingResultFailed, since).
		Order("processed_at DESC").
		Find(&events).Error
	return events, err
}

// DeleteProcessedBefore 清理保留期外的幂等台账
func (r *ProcessedEventRepository) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("processed_at < ?", cutoff).
		Delete(&model.ProcessedEvent{})
	return result.RowsAffected, result.Error
}
