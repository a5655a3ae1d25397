package service

import (
	"context"
	"testing"
	"time"

	"walletsvc/internal/errs"
	"walletsvc/internal/event"
	"walletsvc/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeHold(t *testing.T, svc *WalletService, db *memDB, userID string, amount int64) *model.WalletHold {
	t.Helper()
	_, err := svc.Hold(context.Background(), &HoldRequest{
		UserID:        userID,
		Amount:        decimal.NewFromInt(amount),
		ReferenceType: "GENERATION_REQUEST",
		ReferenceID:   "req-1",
	})
	require.NoError(t, err)

	for _, h := range db.state.holds {
		if h.Status == model.HoldStatusActive {
			return h
		}
	}
	t.Fatal("未找到 ACTIVE 预扣")
	return nil
}

func TestHold(t *testing.T) {
	svc, db := newTestService(t)
	seedWallet(t, svc, "user-1", 100)

	_, err := svc.Hold(context.Background(), &HoldRequest{
		UserID: "user-1",
		Amount: decimal.NewFromInt(30),
		Reason: "生成任务预扣",
	})
	require.NoError(t, err)

	wallet, err := svc.GetWallet(context.Background(), "user-1")
	require.NoError(t, err)

	// 冻结不动总余额
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(100)))
	assert.True(t, wallet.LockedBalance.Equal(decimal.NewFromInt(30)))
	assert.True(t, wallet.AvailableBalance().Equal(decimal.NewFromInt(70)))

	assert.Contains(t, transactionTypes(db), model.TransactionTypeHold)
	assert.Contains(t, outboxTopics(db), event.TopicCreditsHeld)
}

func TestHoldInsufficientAvailable(t *testing.T) {
	svc, db := newTestService(t)
	seedWallet(t, svc, "user-1", 100)

	_, err := svc.Hold(context.Background(), &HoldRequest{
		UserID: "user-1",
		Amount: decimal.NewFromInt(80),
	})
	require.NoError(t, err)

	// 可用余额只剩 20，再冻结 30 必须被拒
	_, err = svc.Hold(context.Background(), &HoldRequest{
		UserID: "user-1",
		Amount: decimal.NewFromInt(30),
	})
	assert.ErrorIs(t, err, errs.ErrInsufficientBalance)

	// 失败的预扣不留痕：锁定额不变，没有新预扣记录
	wallet, _ := svc.GetWallet(context.Background(), "user-1")
	assert.True(t, wallet.LockedBalance.Equal(decimal.NewFromInt(80)))
	assert.Len(t, db.state.holds, 1)
}

func TestHoldInvalidAmount(t *testing.T) {
	svc, _ := newTestService(t)
	seedWallet(t, svc, "user-1", 100)

	_, err := svc.Hold(context.Background(), &HoldRequest{
		UserID: "user-1",
		Amount: decimal.Zero,
	})
	assert.ErrorIs(t, err, errs.ErrInvalidAmount)

	_, err = svc.Hold(context.Background(), &HoldRequest{
		UserID: "user-1",
		Amount: decimal.NewFromInt(-5),
	})
	assert.ErrorIs(t, err, errs.ErrInvalidAmount)
}

func TestHoldSuspendedWallet(t *testing.T) {
	svc, db := newTestService(t)
	seedWallet(t, svc, "user-1", 100)
	db.state.wallets["user-1"].Status = model.WalletStatusSuspended

	_, err := svc.Hold(context.Background(), &HoldRequest{
		UserID: "user-1",
		Amount: decimal.NewFromInt(10),
	})
	assert.ErrorIs(t, err, errs.ErrWalletSuspended)
}

func TestReleaseHold(t *testing.T) {
	svc, db := newTestService(t)
	seedWallet(t, svc, "user-1", 100)
	hold := activeHold(t, svc, db, "user-1", 30)

	_, err := svc.ReleaseHold(context.Background(), hold.ID)
	require.NoError(t, err)

	wallet, _ := svc.GetWallet(context.Background(), "user-1")
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(100)))
	assert.True(t, wallet.LockedBalance.IsZero())

	assert.Equal(t, model.HoldStatusReleased, db.state.holds[hold.ID].Status)
	assert.NotNil(t, db.state.holds[hold.ID].ReleasedAt)
	assert.Contains(t, transactionTypes(db), model.TransactionTypeRelease)
}

func TestReleaseHoldTwice(t *testing.T) {
	svc, db := newTestService(t)
	seedWallet(t, svc, "user-1", 100)
	hold := activeHold(t, svc, db, "user-1", 30)

	_, err := svc.ReleaseHold(context.Background(), hold.ID)
	require.NoError(t, err)

	// 二次释放必须报错，不能把锁定额减成负数
	_, err = svc.ReleaseHold(context.Background(), hold.ID)
	assert.ErrorIs(t, err, errs.ErrHoldAlreadyReleased)

	wallet, _ := svc.GetWallet(context.Background(), "user-1")
	assert.True(t, wallet.LockedBalance.IsZero())
}

func TestReleaseHoldNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ReleaseHold(context.Background(), 404)
	assert.ErrorIs(t, err, errs.ErrHoldNotFound)
}

func TestExpireHold(t *testing.T) {
	svc, db := newTestService(t)
	seedWallet(t, svc, "user-1", 100)
	hold := activeHold(t, svc, db, "user-1", 30)

	err := svc.ExpireHold(context.Background(), hold.ID)
	require.NoError(t, err)

	wallet, _ := svc.GetWallet(context.Background(), "user-1")
	assert.True(t, wallet.LockedBalance.IsZero())
	assert.Equal(t, model.HoldStatusExpired, db.state.holds[hold.ID].Status)
	assert.Contains(t, outboxTopics(db), event.TopicHoldExpired)
}

func TestExpireHoldAlreadyReleased(t *testing.T) {
	svc, db := newTestService(t)
	seedWallet(t, svc, "user-1", 100)
	hold := activeHold(t, svc, db, "user-1", 30)

	_, err := svc.ReleaseHold(context.Background(), hold.ID)
	require.NoError(t, err)
	lockedAfterRelease := db.state.wallets["user-1"].LockedBalance

	// 扫描任务和显式释放的竞争是良性的：已释放的预扣静默跳过
	err = svc.ExpireHold(context.Background(), hold.ID)
	assert.NoError(t, err)

	assert.Equal(t, model.HoldStatusReleased, db.state.holds[hold.ID].Status)
	assert.True(t, db.state.wallets["user-1"].LockedBalance.Equal(lockedAfterRelease))
}

func TestExpireHoldIdempotent(t *testing.T) {
	svc, db := newTestService(t)
	seedWallet(t, svc, "user-1", 100)
	hold := activeHold(t, svc, db, "user-1", 30)

	require.NoError(t, svc.ExpireHold(context.Background(), hold.ID))
	require.NoError(t, svc.ExpireHold(context.Background(), hold.ID))

	// 只解冻一次
	assert.True(t, db.state.wallets["user-1"].LockedBalance.IsZero())
}

func TestReleaseExpiredHold(t *testing.T) {
	svc, db := newTestService(t)
	seedWallet(t, svc, "user-1", 100)
	hold := activeHold(t, svc, db, "user-1", 30)

	require.NoError(t, svc.ExpireHold(context.Background(), hold.ID))

	_, err := svc.ReleaseHold(context.Background(), hold.ID)
	assert.ErrorIs(t, err, errs.ErrHoldExpired)
}

func TestFindExpiredHolds(t *testing.T) {
	svc, db := newTestService(t)
	seedWallet(t, svc, "user-1", 100)
	hold := activeHold(t, svc, db, "user-1", 30)

	// 还没到期
	expired, err := svc.FindExpiredHolds(context.Background(), time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, expired)

	db.state.holds[hold.ID].ExpiresAt = time.Now().Add(-time.Minute)

	expired, err = svc.FindExpiredHolds(context.Background(), time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, hold.ID, expired[0].ID)
}

func TestFindHoldByReference(t *testing.T) {
	svc, db := newTestService(t)
	seedWallet(t, svc, "user-1", 100)
	hold := activeHold(t, svc, db, "user-1", 30)

	found, err := svc.FindHoldByReference(context.Background(), "GENERATION_REQUEST", "req-1")
	require.NoError(t, err)
	assert.Equal(t, hold.ID, found.ID)

	_, err = svc.FindHoldByReference(context.Background(), "GENERATION_REQUEST", "req-404")
	assert.ErrorIs(t, err, errs.ErrHoldNotFound)
}
