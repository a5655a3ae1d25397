package service

import (
	"context"
	"database/sql"
	"log"
	"time"

	"walletsvc/internal/config"
	"walletsvc/internal/errs"
	"walletsvc/internal/event"
	"walletsvc/internal/model"
	"walletsvc/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TxRunner 原子单元边界
// 每个写操作在一个数据库事务内完成：钱包变更、流水、发件箱记录同生共死
type TxRunner interface {
	Transaction(fc func(tx *gorm.DB) error, opts ...*sql.TxOptions) error
}

type WalletStore interface {
	Create(ctx context.Context, tx *gorm.DB, wallet *model.Wallet) error
	GetByUserID(ctx context.Context, userID string) (*model.Wallet, error)
	GetByUserIDForUpdate(ctx context.Context, tx *gorm.DB, userID string) (*model.Wallet, error)
	GetByIDForUpdate(ctx context.Context, tx *gorm.DB, walletID int64) (*model.Wallet, error)
	Save(ctx context.Context, tx *gorm.DB, wallet *model.Wallet) error
}

type HoldStore interface {
	Create(ctx context.Context, tx *gorm.DB, hold *model.WalletHold) error
	GetByID(ctx context.Context, tx *gorm.DB, holdID int64) (*model.WalletHold, error)
	UpdateStatus(ctx context.Context, tx *gorm.DB, holdID int64, fromStatus, toStatus string) (bool, error)
	GetByReference(ctx context.Context, referenceType, referenceID string) (*model.WalletHold, error)
	FindExpiredActive(ctx context.Context, now time.Time, limit int) ([]*model.WalletHold, error)
}

type TransactionStore interface {
	Create(ctx context.Context, tx *gorm.DB, trans *model.WalletTransaction) error
	GetByID(ctx context.Context, id int64) (*model.WalletTransaction, error)
	ListByUserID(ctx context.Context, userID string, page, pageSize int) ([]*model.WalletTransaction, int64, error)
}

type OutboxStore interface {
	Create(ctx context.Context, tx *gorm.DB, event *model.OutboxEvent) error
}

// WalletService 钱包核心服务
// 所有写操作共用同一套流程：事务内行锁读钱包 -> 校验 -> 变更 ->
// 追加流水 -> 写发件箱，任何一步失败整体回滚
type WalletService struct {
	db           TxRunner
	cfg          *config.Config
	wallets      WalletStore
	holds        HoldStore
	transactions TransactionStore
	outbox       OutboxStore
}

func NewWalletService(db *gorm.DB, cfg *config.Config) *WalletService {
	return &WalletService{
		db:           db,
		cfg:          cfg,
		wallets:      repository.NewWalletRepository(db),
		holds:        repository.NewHoldRepository(db),
		transactions: repository.NewTransactionRepository(db),
		outbox:       repository.NewOutboxRepository(db),
	}
}

// BalanceResponse 余额视图
type BalanceResponse struct {
	UserID           string          `json:"user_id"`
	Balance          decimal.Decimal `json:"balance"`
	LockedBalance    decimal.Decimal `json:"locked_balance"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	TokenBalance     int             `json:"token_balance"`
	Currency         string          `json:"currency"`
	Status           string          `json:"status"`
}

// CreateWallet 创建钱包（注册事件触发，零余额、ACTIVE）
// 依赖 user_id 唯一索引：重复创建返回 ErrWalletAlreadyExists，
// 注册事件的重投因此天然幂等
func (s *WalletService) CreateWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	wallet := &model.Wallet{
		UserID:    userID,
		Currency:  s.cfg.Business.DefaultCurrency,
		Status:    model.WalletStatusActive,
		UpdatedAt: time.Now(),
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.wallets.Create(ctx, tx, wallet); err != nil {
			return err
		}

		return s.enqueue(ctx, tx, wallet.ID, event.TopicWalletCreated, &event.WalletCreatedEvent{
			WalletID:  wallet.ID,
			UserID:    wallet.UserID,
			Currency:  wallet.Currency,
			Timestamp: time.Now(),
		})
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Wallet] 钱包创建成功: userID=%s, walletID=%d", userID, wallet.ID)
	return wallet, nil
}

func (s *WalletService) GetWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	return s.wallets.GetByUserID(ctx, userID)
}

func (s *WalletService) GetBalance(ctx context.Context, userID string) (*BalanceResponse, error) {
	wallet, err := s.wallets.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &BalanceResponse{
		UserID:           wallet.UserID,
		Balance:          wallet.Balance,
		LockedBalance:    wallet.LockedBalance,
		AvailableBalance: wallet.AvailableBalance(),
		TokenBalance:     wallet.TokenBalance,
		Currency:         wallet.Currency,
		Status:           wallet.Status,
	}, nil
}

// ValidateBalance 可用余额是否足够（内部服务探测用，只读）
func (s *WalletService) ValidateBalance(ctx context.Context, userID string, amount decimal.Decimal) (bool, error) {
	wallet, err := s.wallets.GetByUserID(ctx, userID)
	if err != nil {
		return false, err
	}
	return wallet.AvailableBalance().GreaterThanOrEqual(amount), nil
}

func (s *WalletService) ListTransactions(ctx context.Context, userID string, page, pageSize int) ([]*model.WalletTransaction, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}
	return s.transactions.ListByUserID(ctx, userID, page, pageSize)
}

func (s *WalletService) GetTransaction(ctx context.Context, id int64) (*model.WalletTransaction, error) {
	return s.transactions.GetByID(ctx, id)
}

// ============================================================
// 内部公共逻辑
// ============================================================

func validateWalletStatus(wallet *model.Wallet) error {
	switch wallet.Status {
	case model.WalletStatusSuspended:
		return errs.ErrWalletSuspended
	case model.WalletStatusClosed:
		return errs.ErrWalletClosed
	}
	return nil
}

// enqueue 写入发件箱（必须在业务事务 tx 内调用）
func (s *WalletService) enqueue(ctx context.Context, tx *gorm.DB, walletID int64, topic string, payload interface{}) error {
	record, err := event.NewOutboxEvent(walletID, topic, payload, s.cfg.Business.OutboxMaxRetry)
	if err != nil {
		return err
	}
	return s.outbox.Create(ctx, tx, record)
}

// appendTransaction 追加流水并投递 transaction_created 事件
func (s *WalletService) appendTransaction(ctx context.Context, tx *gorm.DB, trans *model.WalletTransaction) error {
	trans.Status = model.TransactionStatusSuccess
	trans.ProcessedAt = time.Now()

	if err := s.transactions.Create(ctx, tx, trans); err != nil {
		return err
	}

	return s.enqueue(ctx, tx, trans.WalletID, event.TopicTransactionCreated, &event.TransactionCreatedEvent{
		TransactionID:   trans.ID,
		TransactionNo:   trans.TransactionNo,
		WalletID:        trans.WalletID,
		UserID:          trans.UserID,
		TransactionType: trans.TransactionType,
		Amount:          trans.Amount,
		ReferenceType:   trans.ReferenceType,
		ReferenceID:     trans.ReferenceID,
		Timestamp:       time.Now(),
	})
}

// enqueueBalanceEvents 余额变动事件 + 低余额告警
func (s *WalletService) enqueueBalanceEvents(ctx context.Context, tx *gorm.DB, wallet *model.Wallet, oldBalance decimal.Decimal, transactionType string) error {
	err := s.enqueue(ctx, tx, wallet.ID, event.TopicBalanceUpdated, &event.BalanceUpdatedEvent{
		WalletID:        wallet.ID,
		UserID:          wallet.UserID,
		OldBalance:      oldBalance,
		NewBalance:      wallet.Balance,
		TransactionType: transactionType,
		Timestamp:       time.Now(),
	})
	if err != nil {
		return err
	}

	// 低余额告警只在余额下降时触发：入账后余额仍低不算新风险，
	// 重复告警只会让下游降噪把它整个过滤掉
	threshold := decimal.NewFromFloat(s.cfg.Business.LowBalanceThreshold)
	if wallet.Balance.LessThan(oldBalance) && wallet.Balance.LessThanOrEqual(threshold) {
		return s.enqueue(ctx, tx, wallet.ID, event.TopicBalanceLow, &event.BalanceLowEvent{
			WalletID:  wallet.ID,
			UserID:    wallet.UserID,
			Balance:   wallet.Balance,
			Threshold: threshold,
			Timestamp: time.Now(),
		})
	}
	return nil
}
