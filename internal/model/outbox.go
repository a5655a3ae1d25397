package model

import (
	"math"
	"time"
)

const (
	OutboxStatusPending         = "PENDING"
	OutboxStatusPublished       = "PUBLISHED"
	OutboxStatusFailed          = "FAILED"           // 可重试失败，等待 next_retry_at
	OutboxStatusFailedPermanent = "FAILED_PERMANENT" // 超过最大重试次数，需要人工介入
)

// OutboxEvent 事务性发件箱
// 与业务变更在同一个数据库事务中写入，由后台任务异步投递到 Kafka，
// 保证"状态变了但事件丢了"和"事件发了但状态没变"都不可能发生
type OutboxEvent struct {
	ID            int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID       string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"event_id"` // 全局唯一事件ID，下游按此去重
	AggregateType string     `gorm:"type:varchar(50);not null" json:"aggregate_type"`       // 如 WALLET
	AggregateID   string     `gorm:"type:varchar(100);index;not null" json:"aggregate_id"`  // 钱包ID，兼做 Kafka 分区键
	EventType     string     `gorm:"type:varchar(100);not null" json:"event_type"`          // 即投递的 topic
	Payload       string     `gorm:"type:text;not null" json:"payload"`
	Status        string     `gorm:"type:varchar(20);index:idx_outbox_status_created;not null;default:PENDING" json:"status"`
	RetryCount    int        `gorm:"not null;default:0" json:"retry_count"`
	MaxRetry      int        `gorm:"not null;default:5" json:"max_retry"`
	LastError     string     `gorm:"type:text" json:"last_error"`
	NextRetryAt   *time.Time `json:"next_retry_at"`
	PublishedAt   *time.Time `json:"published_at"`
	CreatedAt     time.Time  `gorm:"autoCreateTime;index:idx_outbox_status_created" json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (OutboxEvent) TableName() string {
	return "outbox_events"
}

// CanRetry 是否还有重试额度
func (e *OutboxEvent) CanRetry() bool {
	return e.RetryCount < e.MaxRetry
}

// NextRetryDelay 指数退避：2^retry_count 秒
func (e *OutboxEvent) NextRetryDelay() time.Duration {
	return time.Duration(math.Pow(2, float64(e.RetryCount))) * time.Second
}
