package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	HoldStatusActive   = "ACTIVE"
	HoldStatusReleased = "RELEASED"
	HoldStatusExpired  = "EXPIRED"
)

// ValidHoldTransitions 预扣状态机
// RELEASED / EXPIRED 均为终态，终态之后不允许任何流转
var ValidHoldTransitions = map[string][]string{
	HoldStatusActive: {HoldStatusReleased, HoldStatusExpired},
}

func CanHoldTransitionTo(currentStatus, targetStatus string) bool {
	allowed, exists := ValidHoldTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// WalletHold 预扣记录表
// 对可用余额的临时占用：冻结 locked_balance 但不动 balance，
// 等待后续的 charge（实扣）或 release（解冻）
type WalletHold struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	WalletID      int64           `gorm:"index;not null" json:"wallet_id"`
	Amount        decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"amount"`
	Reason        string          `gorm:"type:varchar(100)" json:"reason"` // 如 "AI_GENERATION_PENDING"
	ReferenceType string          `gorm:"type:varchar(50)" json:"reference_type"`
	ReferenceID   string          `gorm:"type:varchar(100)" json:"reference_id"`
	Status        string          `gorm:"type:varchar(20);index;not null;default:ACTIVE" json:"status"` // ACTIVE / RELEASED / EXPIRED
	ExpiresAt     time.Time       `gorm:"index;not null" json:"expires_at"`
	ReleasedAt    *time.Time      `json:"released_at"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (WalletHold) TableName() string {
	return "wallet_holds"
}
