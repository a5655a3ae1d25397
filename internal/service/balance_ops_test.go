package service

import (
	"context"
	"sync"
	"testing"

	"walletsvc/internal/errs"
	"walletsvc/internal/event"
	"walletsvc/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChargeDirect(t *testing.T) {
	svc, db := newTestService(t)
	seedWallet(t, svc, "user-1", 100)

	trans, err := svc.Charge(context.Background(), &ChargeRequest{
		UserID:      "user-1",
		Amount:      decimal.NewFromInt(40),
		Description: "直接扣费",
	})
	require.NoError(t, err)

	assert.True(t, trans.BalanceBefore.Equal(decimal.NewFromInt(100)))
	assert.True(t, trans.BalanceAfter.Equal(decimal.NewFromInt(60)))
	assert.Equal(t, model.TransactionStatusSuccess, trans.Status)

	wallet, _ := svc.GetWallet(context.Background(), "user-1")
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(60)))
	assert.True(t, wallet.TotalSpent.Equal(decimal.NewFromInt(40)))

	assert.Contains(t, outboxTopics(db), event.TopicCreditsCharged)
	assert.Contains(t, outboxTopics(db), event.TopicBalanceUpdated)
}

func TestChargeFromHold(t *testing.T) {
	svc, db := newTestService(t)
	seedWallet(t, svc, "user-1", 100)
	hold := activeHold(t, svc, db, "user-1", 50)

	_, err := svc.Charge(context.Background(), &ChargeRequest{
		UserID: "user-1",
		Amount: decimal.NewFromInt(50),
		HoldID: &hold.ID,
	})
	require.NoError(t, err)

	// 整笔解冻并实扣：余额 50、锁定 0、预扣进入终态
	wallet, _ := svc.GetWallet(context.Background(), "user-1")
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(50)))
	assert.True(t, wallet.LockedBalance.IsZero())
	assert.Equal(t, model.HoldStatusReleased, db.state.holds[hold.ID].Status)
}

func TestChargeFromHoldPartialAmount(t *testing.T) {
	svc, db := newTestService(t)
	seedWallet(t, svc, "user-1", 100)
	hold := activeHold(t, svc, db, "user-1", 50)

	// 实际成本低于预扣：解冻整笔、只扣实际金额
	_, err := svc.Charge(context.Background(), &ChargeRequest{
		UserID: "user-1",
		Amount: decimal.NewFromInt(30),
		HoldID: &hold.ID,
	})
	require.NoError(t, err)

	wallet, _ := svc.GetWallet(context.Background(), "user-1")
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(70)))
	assert.True(t, wallet.LockedBalance.IsZero())
}

func TestChargeFromReleasedHold(t *testing.T) {
	svc, db := newTestService(t)
	seedWallet(t, svc, "user-1", 100)
	hold := activeHold(t, svc, db, "user-1", 50)

	_, err := svc.ReleaseHold(context.Background(), hold.ID)
	require.NoError(t, err)

	_, err = svc.Charge(context.Background(), &ChargeRequest{
		UserID: "user-1",
		Amount: decimal.NewFromInt(50),
		HoldID: &hold.ID,
	})
	assert.ErrorIs(t, err, errs.ErrHoldAlreadyReleased)

	// 扣费失败不动余额
	wallet, _ := svc.GetWallet(context.Background(), "user-1")
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(100)))
}

func TestChargeFromHoldWithOtherActiveHold(t *testing.T) {
	svc, db := newTestService(t)
	seedWallet(t, svc, "user-1", 100)

	// 同一钱包挂两笔 50 的预扣
	_, err := svc.Hold(context.Background(), &HoldRequest{
		UserID:        "user-1",
		Amount:        decimal.NewFromInt(50),
		ReferenceType: "GENERATION_REQUEST",
		ReferenceID:   "req-a",
	})
	require.NoError(t, err)
	holdA, err := svc.FindHoldByReference(context.Background(), "GENERATION_REQUEST", "req-a")
	require.NoError(t, err)

	_, err = svc.Hold(context.Background(), &HoldRequest{
		UserID:        "user-1",
		Amount:        decimal.NewFromInt(50),
		ReferenceType: "GENERATION_REQUEST",
		ReferenceID:   "req-b",
	})
	require.NoError(t, err)

	// 从预扣 A 实扣 60：解冻 50 后可用余额只有 50，
	// 多出的 10 会吃掉预扣 B 冻结的额度，必须被拒
	_, err = svc.Charge(context.Background(), &ChargeRequest{
		UserID: "user-1",
		Amount: decimal.NewFromInt(60),
		HoldID: &holdA.ID,
	})
	assert.ErrorIs(t, err, errs.ErrInsufficientBalance)

	// 整体回滚，不变式保持：0 <= locked <= balance
	wallet, _ := svc.GetWallet(context.Background(), "user-1")
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(100)))
	assert.True(t, wallet.LockedBalance.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, model.HoldStatusActive, db.state.holds[holdA.ID].Status)

	// 不超过自身预扣额度的实扣照常成功
	_, err = svc.Charge(context.Background(), &ChargeRequest{
		UserID: "user-1",
		Amount: decimal.NewFromInt(50),
		HoldID: &holdA.ID,
	})
	require.NoError(t, err)

	wallet, _ = svc.GetWallet(context.Background(), "user-1")
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(50)))
	assert.True(t, wallet.LockedBalance.Equal(decimal.NewFromInt(50)))
	assert.True(t, wallet.LockedBalance.LessThanOrEqual(wallet.Balance))
}

func TestChargeInsufficientRollback(t *testing.T) {
	svc, db := newTestService(t)
	seedWallet(t, svc, "user-1", 20)

	transCount := len(db.state.transactions)
	outboxCount := len(db.state.outbox)

	_, err := svc.Charge(context.Background(), &ChargeRequest{
		UserID: "user-1",
		Amount: decimal.NewFromInt(30),
	})
	assert.ErrorIs(t, err, errs.ErrInsufficientBalance)

	// 整体回滚：余额、流水、发件箱全部保持原样
	wallet, _ := svc.GetWallet(context.Background(), "user-1")
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(20)))
	assert.True(t, wallet.TotalSpent.IsZero())
	assert.Len(t, db.state.transactions, transCount)
	assert.Len(t, db.state.outbox, outboxCount)
}

func TestChargeRespectsLockedBalance(t *testing.T) {
	svc, db := newTestService(t)
	seedWallet(t, svc, "user-1", 100)
	activeHold(t, svc, db, "user-1", 80)

	// 总余额够但可用余额不够
	_, err := svc.Charge(context.Background(), &ChargeRequest{
		UserID: "user-1",
		Amount: decimal.NewFromInt(30),
	})
	assert.ErrorIs(t, err, errs.ErrInsufficientBalance)
}

func TestConcurrentChargesExactlyOneWins(t *testing.T) {
	svc, _ := newTestService(t)
	seedWallet(t, svc, "user-1", 150)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.Charge(context.Background(), &ChargeRequest{
				UserID: "user-1",
				Amount: decimal.NewFromInt(100),
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, errs.ErrInsufficientBalance)
		}
	}
	assert.Equal(t, 1, succeeded)

	wallet, _ := svc.GetWallet(context.Background(), "user-1")
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(50)))
}

func TestRefund(t *testing.T) {
	svc, db := newTestService(t)
	seedWallet(t, svc, "user-1", 100)

	charge, err := svc.Charge(context.Background(), &ChargeRequest{
		UserID: "user-1",
		Amount: decimal.NewFromInt(40),
	})
	require.NoError(t, err)

	refund, err := svc.Refund(context.Background(), &RefundRequest{
		UserID:                "user-1",
		Amount:                decimal.NewFromInt(40),
		OriginalTransactionID: &charge.ID,
	})
	require.NoError(t, err)

	assert.Equal(t, model.TransactionTypeRefund, refund.TransactionType)
	require.NotNil(t, refund.RelatedTransactionID)
	assert.Equal(t, charge.ID, *refund.RelatedTransactionID)

	wallet, _ := svc.GetWallet(context.Background(), "user-1")
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(100)))
	assert.True(t, wallet.TotalRefunded.Equal(decimal.NewFromInt(40)))

	assert.Contains(t, outboxTopics(db), event.TopicCreditsRefunded)
}

func TestTopUpWithTokens(t *testing.T) {
	svc, _ := newTestService(t)
	seedWallet(t, svc, "user-1", 0)

	trans, err := svc.TopUp(context.Background(), &TopUpRequest{
		UserID: "user-1",
		Amount: decimal.NewFromInt(50),
		Tokens: 1000,
	})
	require.NoError(t, err)

	require.NotNil(t, trans.TokenBefore)
	require.NotNil(t, trans.TokenAfter)
	assert.Equal(t, 0, *trans.TokenBefore)
	assert.Equal(t, 1000, *trans.TokenAfter)

	wallet, _ := svc.GetWallet(context.Background(), "user-1")
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(50)))
	assert.True(t, wallet.TotalEarned.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, 1000, wallet.TokenBalance)
}

func TestAdjustment(t *testing.T) {
	svc, _ := newTestService(t)
	seedWallet(t, svc, "user-1", 100)

	_, err := svc.Adjustment(context.Background(), &AdjustmentRequest{
		UserID:      "user-1",
		Amount:      decimal.NewFromInt(-20),
		ProcessedBy: "admin",
		Description: "纠错扣回",
	})
	require.NoError(t, err)

	wallet, _ := svc.GetWallet(context.Background(), "user-1")
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(80)))
	assert.True(t, wallet.TotalSpent.Equal(decimal.NewFromInt(20)))

	_, err = svc.Adjustment(context.Background(), &AdjustmentRequest{
		UserID:      "user-1",
		Amount:      decimal.Zero,
		ProcessedBy: "admin",
	})
	assert.ErrorIs(t, err, errs.ErrInvalidAmount)
}

func TestAdjustmentOnSuspendedWallet(t *testing.T) {
	svc, db := newTestService(t)
	seedWallet(t, svc, "user-1", 100)
	db.state.wallets["user-1"].Status = model.WalletStatusSuspended

	// 管理调账不做状态门禁
	_, err := svc.Adjustment(context.Background(), &AdjustmentRequest{
		UserID:      "user-1",
		Amount:      decimal.NewFromInt(5),
		ProcessedBy: "admin",
	})
	assert.NoError(t, err)
}

func TestDeductTokens(t *testing.T) {
	svc, db := newTestService(t)
	seedWallet(t, svc, "user-1", 100)

	_, err := svc.TopUp(context.Background(), &TopUpRequest{
		UserID: "user-1",
		Amount: decimal.NewFromInt(1),
		Tokens: 500,
	})
	require.NoError(t, err)

	balanceBefore := db.state.wallets["user-1"].Balance

	trans, err := svc.DeductTokens(context.Background(), &DeductTokenRequest{
		UserID: "user-1",
		Tokens: 200,
	})
	require.NoError(t, err)

	// 只动 token 计数器，余额不变
	assert.True(t, trans.Amount.IsZero())
	assert.Equal(t, 300, db.state.wallets["user-1"].TokenBalance)
	assert.True(t, db.state.wallets["user-1"].Balance.Equal(balanceBefore))
	assert.Contains(t, outboxTopics(db), event.TopicTokenDeducted)

	_, err = svc.DeductTokens(context.Background(), &DeductTokenRequest{
		UserID: "user-1",
		Tokens: 400,
	})
	assert.ErrorIs(t, err, errs.ErrInsufficientToken)
}

func TestLowBalanceEvent(t *testing.T) {
	svc, db := newTestService(t)
	seedWallet(t, svc, "user-1", 100)

	// 扣到阈值以下触发低余额告警事件
	_, err := svc.Charge(context.Background(), &ChargeRequest{
		UserID: "user-1",
		Amount: decimal.NewFromInt(95),
	})
	require.NoError(t, err)

	assert.Contains(t, outboxTopics(db), event.TopicBalanceLow)
}

func TestNoLowBalanceEventOnIncrease(t *testing.T) {
	svc, db := newTestService(t)
	seedWallet(t, svc, "user-1", 0)

	// 充值后余额 5 仍低于阈值 10，但余额在上升，不告警
	_, err := svc.TopUp(context.Background(), &TopUpRequest{
		UserID: "user-1",
		Amount: decimal.NewFromInt(5),
	})
	require.NoError(t, err)
	assert.NotContains(t, outboxTopics(db), event.TopicBalanceLow)

	_, err = svc.Refund(context.Background(), &RefundRequest{
		UserID: "user-1",
		Amount: decimal.NewFromInt(2),
	})
	require.NoError(t, err)
	assert.NotContains(t, outboxTopics(db), event.TopicBalanceLow)

	// 下降并落在阈值内才告警
	_, err = svc.Charge(context.Background(), &ChargeRequest{
		UserID: "user-1",
		Amount: decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	assert.Contains(t, outboxTopics(db), event.TopicBalanceLow)
}
