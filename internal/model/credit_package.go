package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CreditPackage 积分套餐表（只读商品目录）
type CreditPackage struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Code          string          `gorm:"type:varchar(50);uniqueIndex;not null" json:"code"` // 如 "BASIC_1000"
	Name          string          `gorm:"type:varchar(100);not null" json:"name"`
	Description   string          `gorm:"type:text" json:"description"`
	CreditsAmount decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"credits_amount"`
	BonusCredits  decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"bonus_credits"`
	Price         decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"price"`
	IsPopular     bool            `gorm:"not null;default:false" json:"is_popular"`
	IsActive      bool            `gorm:"index;not null;default:true" json:"is_active"`
	DisplayOrder  int             `gorm:"not null;default:0" json:"display_order"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (CreditPackage) TableName() string {
	return "credit_packages"
}
