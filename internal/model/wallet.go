package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 钱包状态常量
const (
	WalletStatusActive    = "ACTIVE"
	WalletStatusSuspended = "SUSPENDED"
	WalletStatusClosed    = "CLOSED"
)

// Wallet 用户钱包表
// 记录用户的积分余额，是整个钱包系统的核心数据
//
// 【核心不变量】
//   0 <= locked_balance <= balance
//   available_balance = balance - locked_balance >= 0
//
// 钱包不做物理删除，只做状态流转（ACTIVE -> SUSPENDED / CLOSED）
type Wallet struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"user_id"`    // 用户ID，业务方传入
	Balance        decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"balance"`              // 总余额
	LockedBalance  decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"locked_balance"`       // 预扣冻结金额
	TotalSpent     decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"total_spent"`          // 累计消费
	TotalEarned    decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"total_earned"`         // 累计入账
	TotalRefunded  decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"total_refunded"`       // 累计退款
	Currency       string          `gorm:"type:varchar(10);not null;default:VND" json:"currency"`   // 币种
	Status         string          `gorm:"type:varchar(20);index;not null" json:"status"`           // ACTIVE / SUSPENDED / CLOSED
	TokenBalance   int             `gorm:"not null;default:0" json:"token_balance"`                 // Token 余额（独立计数器）
	Version        int             `gorm:"not null;default:0" json:"version"`                       // 乐观锁版本号
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (Wallet) TableName() string {
	return "wallets"
}

// AvailableBalance 可用余额 = 总余额 - 冻结金额
func (w *Wallet) AvailableBalance() decimal.Decimal {
	return w.Balance.Sub(w.LockedBalance)
}
