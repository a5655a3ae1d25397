package repository

import (
	"context"
	"errors"
	"time"

	"walletsvc/internal/errs"
	"walletsvc/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WalletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

// Create 创建钱包，user_id 唯一索引兜底并发重复创建
func (r *WalletRepository) Create(ctx context.Context, tx *gorm.DB, wallet *model.Wallet) error {
	if tx == nil {
		tx = r.db
	}
	err := tx.WithContext(ctx).Create(wallet).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errs.ErrWalletAlreadyExists
	}
	return err
}

func (r *WalletRepository) GetByUserID(ctx context.Context, userID string) (*model.Wallet, error) {
	var wallet model.Wallet
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

// GetByUserIDForUpdate 行锁读取
//
// 【关键点】所有对同一钱包的写操作必须经过这里串行化，
// 否则两个并发 hold 会基于同一份旧余额通过校验，联合超扣
func (r *WalletRepository) GetByUserIDForUpdate(ctx context.Context, tx *gorm.DB, userID string) (*model.Wallet, error) {
	var wallet model.Wallet
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

func (r *WalletRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, walletID int64) (*model.Wallet, error) {
	var wallet model.Wallet
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", walletID).
		First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

// Save 持久化钱包变更，版本号递增，时间戳显式赋值
func (r *WalletRepository) Save(ctx context.Context, tx *gorm.DB, wallet *model.Wallet) error {
	if tx == nil {
		tx = r.db
	}
	wallet.Version++
	wallet.UpdatedAt = time.Now()
	return tx.WithContext(ctx).Save(wallet).Error
}
