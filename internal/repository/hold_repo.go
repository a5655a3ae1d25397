package repository

import (
	"context"
	"errors"
	"time"

	"walletsvc/internal/errs"
	"walletsvc/internal/model"

	"gorm.io/gorm"
)

type HoldRepository struct {
	db *gorm.DB
}

func NewHoldRepository(db *gorm.DB) *HoldRepository {
	return &HoldRepository{db: db}
}

func (r *HoldRepository) Create(ctx context.Context, tx *gorm.DB, hold *model.WalletHold) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(hold).Error
}

func (r *HoldRepository) GetByID(ctx context.Context, tx *gorm.DB, holdID int64) (*model.WalletHold, error) {
	if tx == nil {
		tx = r.db
	}
	var hold model.WalletHold
	err := tx.WithContext(ctx).Where("id = ?", holdID).First(&hold).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrHoldNotFound
		}
		return nil, err
	}
	return &hold, nil
}

// UpdateStatus 带前置状态校验的状态流转
//
// 【关键点】WHERE 带上 fromStatus，RowsAffected == 0 说明别的事务
// 已经把该预扣推进到终态（显式释放和过期扫描的良性竞争），
// 调用方据此跳过，绝不能二次释放
func (r *HoldRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, holdID int64, fromStatus, toStatus string) (bool, error) {
	if tx == nil {
		tx = r.db
	}

	now := time.Now()
	result := tx.WithContext(ctx).
		Model(&model.WalletHold{}).
		Where("id = ? AND status = ?", holdID, fromStatus).
		Updates(map[string]interface{}{
			"status":      toStatus,
			"released_at": &now,
		})

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// GetByReference 按业务引用查询预扣（取最新一条，不限状态，
// 由调用方根据状态决定是确认、释放还是按已处理跳过）
func (r *HoldRepository) GetByReference(ctx context.Context, referenceType, referenceID string) (*model.WalletHold, error) {
	var hold model.WalletHold
	err := r.db.WithContext(ctx).
		Where("reference_type = ? AND reference_id = ?", referenceType, referenceID).
		Order("id DESC").
		First(&hold).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrHoldNotFound
		}
		return nil, err
	}
	return &hold, nil
}

// FindExpiredActive 查询已过期但仍处于 ACTIVE 的预扣
func (r *HoldRepository) FindExpiredActive(ctx context.Context, now time.Time, limit int) ([]*model.WalletHold, error) {
	var holds []*model.WalletHold
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", model.HoldStatusActive, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&holds).Error
	return holds, err
}
