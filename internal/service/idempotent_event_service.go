package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"time"

	"walletsvc/internal/model"
	"walletsvc/internal/repository"

	"gorm.io/gorm"
)

// ErrAlreadyProcessed 事件已处理过，调用方按无操作跳过（不是错误路径）
var ErrAlreadyProcessed = repository.ErrEventAlreadyClaimed

type ProcessedEventStore interface {
	Claim(ctx context.Context, event *model.ProcessedEvent) error
	RecordOutcome(ctx context.Context, eventID, eventType, result, details string) error
	FindRecentFailures(ctx context.Context, since time.Time) ([]*model.ProcessedEvent, error)
	DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// IdempotentEventService 幂等处理服务
//
// 外部事件至少一次投递，同一事件可能被重复消费、甚至被两个实例
// 同时消费。处理前先 Claim：单条 INSERT 撞 (event_id, event_type)
// 唯一索引，赢者获得处理权，输者得到 ErrAlreadyProcessed 直接跳过。
//
// 【重要】台账写入与业务事务互相独立：
// 业务失败不回滚 Claim 痕迹，而是回填 FAILED 结果留给监控——
// 代价是该事件不会自动重放，需人工介入，这是已知且可观测的取舍
type IdempotentEventService struct {
	events ProcessedEventStore
}

func NewIdempotentEventService(db *gorm.DB) *IdempotentEventService {
	return &IdempotentEventService{
		events: repository.NewProcessedEventRepository(db),
	}
}

// Claim 抢占事件处理权
// 返回 ErrAlreadyProcessed 表示重复投递，调用方必须整体跳过该命令
func (s *IdempotentEventService) Claim(ctx context.Context, eventID, eventType, sourceService string, payload []byte) error {
	record := &model.ProcessedEvent{
		EventID:          eventID,
		EventType:        eventType,
		SourceService:    sourceService,
		PayloadHash:      hashPayload(payload),
		ProcessingResult: model.ProcessingResultPending,
		ProcessedAt:      time.Now(),
	}
	return s.events.Claim(ctx, record)
}

// MarkSuccess 回填成功结果
// 台账写失败只记日志，绝不让它拖垮已经成功的业务操作
func (s *IdempotentEventService) MarkSuccess(ctx context.Context, eventID, eventType string) {
	if err := s.events.RecordOutcome(ctx, eventID, eventType, model.ProcessingResultSuccess, ""); err != nil {
		log.Printf("[Idempotency] 回填处理结果失败: eventID=%s, err=%v", eventID, err)
	}
}

// MarkFailed 回填失败结果（供告警查询）
func (s *IdempotentEventService) MarkFailed(ctx context.Context, eventID, eventType, details string) {
	if err := s.events.RecordOutcome(ctx, eventID, eventType, model.ProcessingResultFailed, details); err != nil {
		log.Printf("[Idempotency] 回填处理结果失败: eventID=%s, err=%v", eventID, err)
	}
}

// RecentFailures 查询最近 N 小时的处理失败记录
func (s *IdempotentEventService) RecentFailures(ctx context.Context, hours int) ([]*model.ProcessedEvent, error) {
	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	return s.events.FindRecentFailures(ctx, since)
}

// CleanupBefore 清理保留期外的台账记录
func (s *IdempotentEventService) CleanupBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.events.DeleteProcessedBefore(ctx, cutoff)
}

// hashPayload SHA-256 内容指纹，用于核对重投事件的载荷是否一致
// 只做事后取证，不参与去重判定（去重只看事件ID）
func hashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
