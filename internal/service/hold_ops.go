package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"walletsvc/internal/errs"
	"walletsvc/internal/event"
	"walletsvc/internal/model"
	"walletsvc/pkg/idgen"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// HoldRequest 预扣请求
type HoldRequest struct {
	UserID            string          `json:"user_id" binding:"required"`
	Amount            decimal.Decimal `json:"amount"`
	Reason            string          `json:"reason"`
	ReferenceType     string          `json:"reference_type"`
	ReferenceID       string          `json:"reference_id"`
	ExpirationMinutes int             `json:"expiration_minutes"` // 0 则使用配置默认值
}

// Hold 预扣：冻结可用余额但不动总余额，等待后续实扣或释放
//
// 【关键点】余额校验必须发生在行锁之后——
// 两个并发预扣各自读到旧余额都能通过校验，就会联合超扣
func (s *WalletService) Hold(ctx context.Context, req *HoldRequest) (*model.WalletTransaction, error) {
	if !req.Amount.IsPositive() {
		return nil, errs.ErrInvalidAmount
	}

	expirationMinutes := req.ExpirationMinutes
	if expirationMinutes <= 0 {
		expirationMinutes = s.cfg.Business.HoldExpirationMinutes
	}

	var trans *model.WalletTransaction

	err := s.db.Transaction(func(tx *gorm.DB) error {
		wallet, err := s.wallets.GetByUserIDForUpdate(ctx, tx, req.UserID)
		if err != nil {
			return err
		}

		if err := validateWalletStatus(wallet); err != nil {
			return err
		}

		if wallet.AvailableBalance().LessThan(req.Amount) {
			return errs.ErrInsufficientBalance
		}

		hold := &model.WalletHold{
			WalletID:      wallet.ID,
			Amount:        req.Amount,
			Reason:        req.Reason,
			ReferenceType: req.ReferenceType,
			ReferenceID:   req.ReferenceID,
			Status:        model.HoldStatusActive,
			ExpiresAt:     time.Now().Add(time.Duration(expirationMinutes) * time.Minute),
		}
		if err := s.holds.Create(ctx, tx, hold); err != nil {
			return err
		}

		wallet.LockedBalance = wallet.LockedBalance.Add(req.Amount)
		if err := s.wallets.Save(ctx, tx, wallet); err != nil {
			return err
		}

		// 预扣不改变总余额，流水前后余额相同
		trans = &model.WalletTransaction{
			TransactionNo:   idgen.GenerateTransactionNo(),
			WalletID:        wallet.ID,
			UserID:          wallet.UserID,
			TransactionType: model.TransactionTypeHold,
			Amount:          req.Amount,
			BalanceBefore:   wallet.Balance,
			BalanceAfter:    wallet.Balance,
			ReferenceType:   req.ReferenceType,
			ReferenceID:     req.ReferenceID,
			Description:     req.Reason,
		}
		if err := s.appendTransaction(ctx, tx, trans); err != nil {
			return err
		}

		return s.enqueue(ctx, tx, wallet.ID, event.TopicCreditsHeld, &event.CreditsHeldEvent{
			WalletID:      wallet.ID,
			UserID:        wallet.UserID,
			HoldID:        hold.ID,
			Amount:        req.Amount,
			ReferenceType: req.ReferenceType,
			ReferenceID:   req.ReferenceID,
			ExpiresAt:     hold.ExpiresAt,
			Timestamp:     time.Now(),
		})
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Wallet] 预扣成功: userID=%s, amount=%s", req.UserID, req.Amount.String())
	return trans, nil
}

// ReleaseHold 显式释放预扣
func (s *WalletService) ReleaseHold(ctx context.Context, holdID int64) (*model.WalletTransaction, error) {
	var trans *model.WalletTransaction

	err := s.db.Transaction(func(tx *gorm.DB) error {
		hold, err := s.holds.GetByID(ctx, tx, holdID)
		if err != nil {
			return err
		}

		if err := holdStatusError(hold.Status); err != nil {
			return err
		}

		// 先锁钱包再推进预扣状态，与其他写路径保持同一加锁顺序
		wallet, err := s.wallets.GetByIDForUpdate(ctx, tx, hold.WalletID)
		if err != nil {
			return err
		}

		ok, err := s.holds.UpdateStatus(ctx, tx, hold.ID, model.HoldStatusActive, model.HoldStatusReleased)
		if err != nil {
			return err
		}
		if !ok {
			// 拿锁前被别的事务推到终态了
			current, err := s.holds.GetByID(ctx, tx, hold.ID)
			if err != nil {
				return err
			}
			return holdStatusError(current.Status)
		}

		wallet.LockedBalance = wallet.LockedBalance.Sub(hold.Amount)
		if err := s.wallets.Save(ctx, tx, wallet); err != nil {
			return err
		}

		trans = &model.WalletTransaction{
			TransactionNo:   idgen.GenerateTransactionNo(),
			WalletID:        wallet.ID,
			UserID:          wallet.UserID,
			TransactionType: model.TransactionTypeRelease,
			Amount:          hold.Amount,
			BalanceBefore:   wallet.Balance,
			BalanceAfter:    wallet.Balance,
			ReferenceType:   hold.ReferenceType,
			ReferenceID:     hold.ReferenceID,
			Description:     fmt.Sprintf("释放预扣 hold_id=%d", hold.ID),
		}
		return s.appendTransaction(ctx, tx, trans)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Wallet] 预扣释放成功: holdID=%d", holdID)
	return trans, nil
}

// ExpireHold 过期扫描的强制释放路径
// 与显式释放走同一套解冻逻辑，只是终态标记为 EXPIRED 并投递过期事件；
// 扫描和显式释放的竞争是良性的：状态流转带前置校验，输掉的一方静默跳过
func (s *WalletService) ExpireHold(ctx context.Context, holdID int64) error {
	var expired bool

	err := s.db.Transaction(func(tx *gorm.DB) error {
		hold, err := s.holds.GetByID(ctx, tx, holdID)
		if err != nil {
			return err
		}

		if hold.Status != model.HoldStatusActive {
			return nil // 已是终态，良性竞争
		}

		wallet, err := s.wallets.GetByIDForUpdate(ctx, tx, hold.WalletID)
		if err != nil {
			return err
		}

		ok, err := s.holds.UpdateStatus(ctx, tx, hold.ID, model.HoldStatusActive, model.HoldStatusExpired)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		expired = true

		wallet.LockedBalance = wallet.LockedBalance.Sub(hold.Amount)
		if err := s.wallets.Save(ctx, tx, wallet); err != nil {
			return err
		}

		trans := &model.WalletTransaction{
			TransactionNo:   idgen.GenerateTransactionNo(),
			WalletID:        wallet.ID,
			UserID:          wallet.UserID,
			TransactionType: model.TransactionTypeRelease,
			Amount:          hold.Amount,
			BalanceBefore:   wallet.Balance,
			BalanceAfter:    wallet.Balance,
			ReferenceType:   hold.ReferenceType,
			ReferenceID:     hold.ReferenceID,
			Description:     fmt.Sprintf("预扣过期自动释放 hold_id=%d", hold.ID),
		}
		if err := s.appendTransaction(ctx, tx, trans); err != nil {
			return err
		}

		return s.enqueue(ctx, tx, wallet.ID, event.TopicHoldExpired, &event.HoldExpiredEvent{
			WalletID:    wallet.ID,
			UserID:      wallet.UserID,
			HoldID:      hold.ID,
			Amount:      hold.Amount,
			ReferenceID: hold.ReferenceID,
			Timestamp:   time.Now(),
		})
	})
	if err != nil {
		return err
	}

	if expired {
		log.Printf("[Wallet] 预扣已过期释放: holdID=%d", holdID)
	}
	return nil
}

// FindExpiredHolds 供过期扫描任务调用
func (s *WalletService) FindExpiredHolds(ctx context.Context, now time.Time, limit int) ([]*model.WalletHold, error) {
	return s.holds.FindExpiredActive(ctx, now, limit)
}

// FindHoldByReference 按业务引用定位预扣（上游回调只带 request_id 时用）
func (s *WalletService) FindHoldByReference(ctx context.Context, referenceType, referenceID string) (*model.WalletHold, error) {
	return s.holds.GetByReference(ctx, referenceType, referenceID)
}

// holdStatusError 终态预扣对应的业务错误
func holdStatusError(status string) error {
	switch status {
	case model.HoldStatusReleased:
		return errs.ErrHoldAlreadyReleased
	case model.HoldStatusExpired:
		return errs.ErrHoldExpired
	}
	return nil
}
