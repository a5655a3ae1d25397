package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 交易类型常量
// ============================================================================

const (
	TransactionTypeTopUp          = "TOP_UP"          // 充值入账
	TransactionTypeCharge         = "CHARGE"          // 扣款
	TransactionTypeRefund         = "REFUND"          // 退款
	TransactionTypeAdjustment     = "ADJUSTMENT"      // 管理员手工调整
	TransactionTypeHold           = "HOLD"            // 预扣冻结
	TransactionTypeRelease        = "RELEASE"         // 预扣解冻（含过期释放）
	TransactionTypeTokenDeduction = "TOKEN_DEDUCTION" // Token 扣减
)

const (
	TransactionStatusSuccess = "SUCCESS"
)

// ============================================================================
// 钱包流水实体
// ============================================================================

// WalletTransaction 钱包流水表
// 记录钱包的每一笔变动，是对账的核心依据
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除 —— 保证审计可追溯
// 2. 记录交易前后余额 —— 便于校验余额一致性
// 3. 退款流水通过 related_transaction_id 关联原始扣款流水
type WalletTransaction struct {
	ID                   int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo        string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"` // 流水号（全局唯一）
	WalletID             int64           `gorm:"index;not null" json:"wallet_id"`
	UserID               string          `gorm:"type:varchar(64);index;not null" json:"user_id"`
	TransactionType      string          `gorm:"type:varchar(50);not null" json:"transaction_type"`
	Amount               decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"amount"`
	BalanceBefore        decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"balance_before"`
	BalanceAfter         decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"balance_after"`
	TokenBefore          *int            `json:"token_before,omitempty"` // 仅 Token 相关流水填写
	TokenAfter           *int            `json:"token_after,omitempty"`
	ReferenceType        string          `gorm:"type:varchar(50)" json:"reference_type"` // PAYMENT / BONUS / GENERATION / ...
	ReferenceID          string          `gorm:"type:varchar(100);index" json:"reference_id"`
	Description          string          `gorm:"type:text" json:"description"`
	Status               string          `gorm:"type:varchar(20);not null" json:"status"`
	RelatedTransactionID *int64          `json:"related_transaction_id,omitempty"` // 退款关联的原始流水
	ProcessedBy          string          `gorm:"type:varchar(64)" json:"processed_by,omitempty"` // 手工调整的管理员标识
	ProcessedAt          time.Time       `json:"processed_at"`
	CreatedAt            time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (WalletTransaction) TableName() string {
	return "wallet_transactions"
}
