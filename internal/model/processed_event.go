package model

import (
	"time"
)

const (
	ProcessingResultPending = "PENDING"
	ProcessingResultSuccess = "SUCCESS"
	ProcessingResultFailed  = "FAILED"
)

// ProcessedEvent 幂等处理台账
// 外部事件（Kafka 至少一次投递）按 (event_id, event_type) 唯一索引去重：
// 抢占行写入成功即获得处理权，唯一键冲突说明事件已被处理过
//
// 【注意】该表的写入独立于业务事务提交——业务失败也要留下"见过该事件"的痕迹
type ProcessedEvent struct {
	ID               int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID          string    `gorm:"type:varchar(100);uniqueIndex:idx_event_id_type;not null" json:"event_id"`
	EventType        string    `gorm:"type:varchar(100);uniqueIndex:idx_event_id_type;not null" json:"event_type"`
	SourceService    string    `gorm:"type:varchar(50)" json:"source_service"`
	PayloadHash      string    `gorm:"type:varchar(64)" json:"payload_hash"` // SHA-256，用于事后核对重投内容是否一致
	ProcessingResult string    `gorm:"type:varchar(20)" json:"processing_result"` // PENDING / SUCCESS / FAILED
	ResultDetails    string    `gorm:"type:text" json:"result_details"`
	ProcessedAt      time.Time `gorm:"index;not null" json:"processed_at"`
}

func (ProcessedEvent) TableName() string {
	return "processed_events"
}
