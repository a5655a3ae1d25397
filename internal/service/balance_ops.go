package service

import (
	"context"
	"log"
	"time"

	"walletsvc/internal/errs"
	"walletsvc/internal/event"
	"walletsvc/internal/model"
	"walletsvc/pkg/idgen"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ChargeRequest 扣款请求
// HoldID 非空走"预扣实扣"路径：释放冻结并扣减总余额；
// 为空走直接扣款路径：校验可用余额后扣减
type ChargeRequest struct {
	UserID        string          `json:"user_id" binding:"required"`
	Amount        decimal.Decimal `json:"amount"`
	HoldID        *int64          `json:"hold_id"`
	ReferenceType string          `json:"reference_type"`
	ReferenceID   string          `json:"reference_id"`
	Description   string          `json:"description"`
}

func (s *WalletService) Charge(ctx context.Context, req *ChargeRequest) (*model.WalletTransaction, error) {
	if !req.Amount.IsPositive() {
		return nil, errs.ErrInvalidAmount
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

		balanceBefore := wallet.Balance

		if req.HoldID != nil {
			hold, err := s.holds.GetByID(ctx, tx, *req.HoldID)
			if err != nil {
				return err
			}
			if hold.WalletID != wallet.ID {
				return errs.ErrHoldNotFound
			}
			if err := holdStatusError(hold.Status); err != nil {
				return err
			}

			ok, err := s.holds.UpdateStatus(ctx, tx, hold.ID, model.HoldStatusActive, model.HoldStatusReleased)
			if err != nil {
				return err
			}
			if !ok {
				current, err := s.holds.GetByID(ctx, tx, hold.ID)
				if err != nil {
					return err
				}
				return holdStatusError(current.Status)
			}

			// 解冻整笔预扣，按请求金额实扣
			// 【关键点】校验的是解冻后的可用余额而不是总余额：
			// 钱包上可能还挂着其他 ACTIVE 预扣，只看总余额会把
			// 别人冻结的额度扣掉，留下 locked_balance > balance
			wallet.LockedBalance = wallet.LockedBalance.Sub(hold.Amount)
			if wallet.AvailableBalance().LessThan(req.Amount) {
				return errs.ErrInsufficientBalance
			}
			wallet.Balance = wallet.Balance.Sub(req.Amount)
		} else {
			if wallet.AvailableBalance().LessThan(req.Amount) {
				return errs.ErrInsufficientBalance
			}
			wallet.Balance = wallet.Balance.Sub(req.Amount)
		}

		wallet.TotalSpent = wallet.TotalSpent.Add(req.Amount)
		if err := s.wallets.Save(ctx, tx, wallet); err != nil {
			return err
		}

		trans = &model.WalletTransaction{
			TransactionNo:   idgen.GenerateTransactionNo(),
			WalletID:        wallet.ID,
			UserID:          wallet.UserID,
			TransactionType: model.TransactionTypeCharge,
			Amount:          req.Amount,
			BalanceBefore:   balanceBefore,
			BalanceAfter:    wallet.Balance,
			ReferenceType:   req.ReferenceType,
			ReferenceID:     req.ReferenceID,
			Description:     req.Description,
		}
		if err := s.appendTransaction(ctx, tx, trans); err != nil {
			return err
		}

		err = s.enqueue(ctx, tx, wallet.ID, event.TopicCreditsCharged, &event.CreditsChargedEvent{
			WalletID:      wallet.ID,
			UserID:        wallet.UserID,
			Amount:        req.Amount,
			BalanceAfter:  wallet.Balance,
			ReferenceType: req.ReferenceType,
			ReferenceID:   req.ReferenceID,
			HoldID:        req.HoldID,
			Timestamp:     time.Now(),
		})
		if err != nil {
			return err
		}

		return s.enqueueBalanceEvents(ctx, tx, wallet, balanceBefore, model.TransactionTypeCharge)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Wallet] 扣款成功: userID=%s, amount=%s", req.UserID, req.Amount.String())
	return trans, nil
}

// RefundRequest 退款请求
type RefundRequest struct {
	UserID                string          `json:"user_id" binding:"required"`
	Amount                decimal.Decimal `json:"amount"`
	ReferenceType         string          `json:"reference_type"`
	ReferenceID           string          `json:"reference_id"`
	OriginalTransactionID *int64          `json:"original_transaction_id"`
	Description           string          `json:"description"`
}

// Refund 退款：余额增加，无上限校验（退款只进不出）
func (s *WalletService) Refund(ctx context.Context, req *RefundRequest) (*model.WalletTransaction, error) {
	if !req.Amount.IsPositive() {
		return nil, errs.ErrInvalidAmount
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

		balanceBefore := wallet.Balance
		wallet.Balance = wallet.Balance.Add(req.Amount)
		wallet.TotalRefunded = wallet.TotalRefunded.Add(req.Amount)
		if err := s.wallets.Save(ctx, tx, wallet); err != nil {
			return err
		}

		trans = &model.WalletTransaction{
			TransactionNo:        idgen.GenerateTransactionNo(),
			WalletID:             wallet.ID,
			UserID:               wallet.UserID,
			TransactionType:      model.TransactionTypeRefund,
			Amount:               req.Amount,
			BalanceBefore:        balanceBefore,
			BalanceAfter:         wallet.Balance,
			ReferenceType:        req.ReferenceType,
			ReferenceID:          req.ReferenceID,
			Description:          req.Description,
			RelatedTransactionID: req.OriginalTransactionID,
		}
		if err := s.appendTransaction(ctx, tx, trans); err != nil {
			return err
		}

		err = s.enqueue(ctx, tx, wallet.ID, event.TopicCreditsRefunded, &event.CreditsRefundedEvent{
			WalletID:              wallet.ID,
			UserID:                wallet.UserID,
			Amount:                req.Amount,
			ReferenceType:         req.ReferenceType,
			ReferenceID:           req.ReferenceID,
			OriginalTransactionID: req.OriginalTransactionID,
			Timestamp:             time.Now(),
		})
		if err != nil {
			return err
		}

		return s.enqueueBalanceEvents(ctx, tx, wallet, balanceBefore, model.TransactionTypeRefund)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Wallet] 退款成功: userID=%s, amount=%s", req.UserID, req.Amount.String())
	return trans, nil
}

// TopUpRequest 充值请求（支付/奖励事件的最终落账动作）
type TopUpRequest struct {
	UserID        string          `json:"user_id" binding:"required"`
	Amount        decimal.Decimal `json:"amount"`
	Tokens        int             `json:"tokens"`
	ReferenceType string          `json:"reference_type"`
	ReferenceID   string          `json:"reference_id"`
	Description   string          `json:"description"`
}

func (s *WalletService) TopUp(ctx context.Context, req *TopUpRequest) (*model.WalletTransaction, error) {
	if !req.Amount.IsPositive() || req.Tokens < 0 {
		return nil, errs.ErrInvalidAmount
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

		balanceBefore := wallet.Balance
		tokenBefore := wallet.TokenBalance

		wallet.Balance = wallet.Balance.Add(req.Amount)
		wallet.TotalEarned = wallet.TotalEarned.Add(req.Amount)
		wallet.TokenBalance += req.Tokens
		if err := s.wallets.Save(ctx, tx, wallet); err != nil {
			return err
		}

		trans = &model.WalletTransaction{
			TransactionNo:   idgen.GenerateTransactionNo(),
			WalletID:        wallet.ID,
			UserID:          wallet.UserID,
			TransactionType: model.TransactionTypeTopUp,
			Amount:          req.Amount,
			BalanceBefore:   balanceBefore,
			BalanceAfter:    wallet.Balance,
			ReferenceType:   req.ReferenceType,
			ReferenceID:     req.ReferenceID,
			Description:     req.Description,
		}
		if req.Tokens > 0 {
			tokenAfter := wallet.TokenBalance
			trans.TokenBefore = &tokenBefore
			trans.TokenAfter = &tokenAfter
		}
		if err := s.appendTransaction(ctx, tx, trans); err != nil {
			return err
		}

		return s.enqueueBalanceEvents(ctx, tx, wallet, balanceBefore, model.TransactionTypeTopUp)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Wallet] 充值成功: userID=%s, amount=%s, tokens=%d", req.UserID, req.Amount.String(), req.Tokens)
	return trans, nil
}

// AdjustmentRequest 管理员手工调整（带符号金额）
type AdjustmentRequest struct {
	UserID      string          `json:"user_id" binding:"required"`
	Amount      decimal.Decimal `json:"amount"` // 正数入账，负数出账
	ProcessedBy string          `json:"processed_by" binding:"required"`
	Description string          `json:"description"`
}

// Adjustment 手工调整不做钱包状态门禁（管理操作允许对冻结钱包纠错）
func (s *WalletService) Adjustment(ctx context.Context, req *AdjustmentRequest) (*model.WalletTransaction, error) {
	if req.Amount.IsZero() {
		return nil, errs.ErrInvalidAmount
	}

	var trans *model.WalletTransaction

	err := s.db.Transaction(func(tx *gorm.DB) error {
		wallet, err := s.wallets.GetByUserIDForUpdate(ctx, tx, req.UserID)
		if err != nil {
			return err
		}

		balanceBefore := wallet.Balance
		wallet.Balance = wallet.Balance.Add(req.Amount)

		if req.Amount.IsPositive() {
			wallet.TotalEarned = wallet.TotalEarned.Add(req.Amount)
		} else {
			wallet.TotalSpent = wallet.TotalSpent.Add(req.Amount.Abs())
		}

		if err := s.wallets.Save(ctx, tx, wallet); err != nil {
			return err
		}

		trans = &model.WalletTransaction{
			TransactionNo:   idgen.GenerateTransactionNo(),
			WalletID:        wallet.ID,
			UserID:          wallet.UserID,
			TransactionType: model.TransactionTypeAdjustment,
			Amount:          req.Amount.Abs(),
			BalanceBefore:   balanceBefore,
			BalanceAfter:    wallet.Balance,
			Description:     req.Description,
			ProcessedBy:     req.ProcessedBy,
		}
		if err := s.appendTransaction(ctx, tx, trans); err != nil {
			return err
		}

		return s.enqueueBalanceEvents(ctx, tx, wallet, balanceBefore, model.TransactionTypeAdjustment)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Wallet] 手工调整成功: userID=%s, amount=%s, processedBy=%s",
		req.UserID, req.Amount.String(), req.ProcessedBy)
	return trans, nil
}

// DeductTokenRequest Token 扣减请求
type DeductTokenRequest struct {
	UserID        string `json:"user_id" binding:"required"`
	Tokens        int    `json:"tokens" binding:"required,gt=0"`
	ReferenceType string `json:"reference_type"`
	ReferenceID   string `json:"reference_id"`
}

// DeductTokens Token 扣减：只动 token 计数器，余额不变
func (s *WalletService) DeductTokens(ctx context.Context, req *DeductTokenRequest) (*model.WalletTransaction, error) {
	if req.Tokens <= 0 {
		return nil, errs.ErrInvalidAmount
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

		if wallet.TokenBalance < req.Tokens {
			return errs.ErrInsufficientToken
		}

		tokenBefore := wallet.TokenBalance
		wallet.TokenBalance -= req.Tokens
		tokenAfter := wallet.TokenBalance

		if err := s.wallets.Save(ctx, tx, wallet); err != nil {
			return err
		}

		trans = &model.WalletTransaction{
			TransactionNo:   idgen.GenerateTransactionNo(),
			WalletID:        wallet.ID,
			UserID:          wallet.UserID,
			TransactionType: model.TransactionTypeTokenDeduction,
			Amount:          decimal.Zero,
			BalanceBefore:   wallet.Balance,
			BalanceAfter:    wallet.Balance,
			TokenBefore:     &tokenBefore,
			TokenAfter:      &tokenAfter,
			ReferenceType:   req.ReferenceType,
			ReferenceID:     req.ReferenceID,
		}
		if err := s.appendTransaction(ctx, tx, trans); err != nil {
			return err
		}

		return s.enqueue(ctx, tx, wallet.ID, event.TopicTokenDeducted, &event.TokenDeductedEvent{
			WalletID:       wallet.ID,
			UserID:         wallet.UserID,
			TokensDeducted: req.Tokens,
			TokenBefore:    tokenBefore,
			TokenAfter:     tokenAfter,
			ReferenceID:    req.ReferenceID,
			Timestamp:      time.Now(),
		})
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Wallet] Token 扣减成功: userID=%s, tokens=%d", req.UserID, req.Tokens)
	return trans, nil
}
