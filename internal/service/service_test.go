package service

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	"walletsvc/internal/config"
	"walletsvc/internal/errs"
	"walletsvc/internal/model"
	"walletsvc/pkg/idgen"

	"gorm.io/gorm"
)

func TestMain(m *testing.M) {
	idgen.Init(1)
	os.Exit(m.Run())
}

// ============================================================
// 内存版存储，模拟事务的全有或全无语义：
// 事务内的变更在回调返回错误时整体回滚到快照
// ============================================================

type memState struct {
	wallets      map[string]*model.Wallet
	holds        map[int64]*model.WalletHold
	transactions []*model.WalletTransaction
	outbox       []*model.OutboxEvent
	nextID       int64
}

func newMemState() *memState {
	return &memState{
		wallets: make(map[string]*model.Wallet),
		holds:   make(map[int64]*model.WalletHold),
	}
}

func (s *memState) clone() *memState {
	c := &memState{
		wallets: make(map[string]*model.Wallet, len(s.wallets)),
		holds:   make(map[int64]*model.WalletHold, len(s.holds)),
		nextID:  s.nextID,
	}
	for k, w := range s.wallets {
		cp := *w
		c.wallets[k] = &cp
	}
	for k, h := range s.holds {
		cp := *h
		c.holds[k] = &cp
	}
	c.transactions = append(c.transactions, s.transactions...)
	c.outbox = append(c.outbox, s.outbox...)
	return c
}

func (s *memState) nextSeq() int64 {
	s.nextID++
	return s.nextID
}

// memDB 串行化执行事务：互斥锁模拟行锁的写写互斥，
// 快照回滚模拟数据库回滚
type memDB struct {
	mu    sync.Mutex
	state *memState
}

func newMemDB() *memDB {
	return &memDB{state: newMemState()}
}

func (d *memDB) Transaction(fc func(tx *gorm.DB) error, opts ...*sql.TxOptions) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := d.state.clone()
	if err := fc(nil); err != nil {
		d.state = snap
		return err
	}
	return nil
}

type memWalletStore struct{ db *memDB }

func (s *memWalletStore) Create(ctx context.Context, tx *gorm.DB, wallet *model.Wallet) error {
	if _, ok := s.db.state.wallets[wallet.UserID]; ok {
		return errs.ErrWalletAlreadyExists
	}
	wallet.ID = s.db.state.nextSeq()
	cp := *wallet
	s.db.state.wallets[wallet.UserID] = &cp
	return nil
}

func (s *memWalletStore) GetByUserID(ctx context.Context, userID string) (*model.Wallet, error) {
	w, ok := s.db.state.wallets[userID]
	if !ok {
		return nil, errs.ErrWalletNotFound
	}
	cp := *w
	return &cp, nil
}

func (s *memWalletStore) GetByUserIDForUpdate(ctx context.Context, tx *gorm.DB, userID string) (*model.Wallet, error) {
	return s.GetByUserID(ctx, userID)
}

func (s *memWalletStore) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, walletID int64) (*model.Wallet, error) {
	for _, w := range s.db.state.wallets {
		if w.ID == walletID {
			cp := *w
			return &cp, nil
		}
	}
	return nil, errs.ErrWalletNotFound
}

func (s *memWalletStore) Save(ctx context.Context, tx *gorm.DB, wallet *model.Wallet) error {
	wallet.Version++
	cp := *wallet
	s.db.state.wallets[wallet.UserID] = &cp
	return nil
}

type memHoldStore struct{ db *memDB }

func (s *memHoldStore) Create(ctx context.Context, tx *gorm.DB, hold *model.WalletHold) error {
	hold.ID = s.db.state.nextSeq()
	cp := *hold
	s.db.state.holds[hold.ID] = &cp
	return nil
}

func (s *memHoldStore) GetByID(ctx context.Context, tx *gorm.DB, holdID int64) (*model.WalletHold, error) {
	h, ok := s.db.state.holds[holdID]
	if !ok {
		return nil, errs.ErrHoldNotFound
	}
	cp := *h
	return &cp, nil
}

func (s *memHoldStore) UpdateStatus(ctx context.Context, tx *gorm.DB, holdID int64, fromStatus, toStatus string) (bool, error) {
	h, ok := s.db.state.holds[holdID]
	if !ok || h.Status != fromStatus {
		return false, nil
	}
	now := time.Now()
	h.Status = toStatus
	h.ReleasedAt = &now
	return true, nil
}

func (s *memHoldStore) GetByReference(ctx context.Context, referenceType, referenceID string) (*model.WalletHold, error) {
	var latest *model.WalletHold
	for _, h := range s.db.state.holds {
		if h.ReferenceType == referenceType && h.ReferenceID == referenceID {
			if latest == nil || h.ID > latest.ID {
				latest = h
			}
		}
	}
	if latest == nil {
		return nil, errs.ErrHoldNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *memHoldStore) FindExpiredActive(ctx context.Context, now time.Time, limit int) ([]*model.WalletHold, error) {
	var out []*model.WalletHold
	for _, h := range s.db.state.holds {
		if h.Status == model.HoldStatusActive && !h.ExpiresAt.After(now) {
			cp := *h
			out = append(out, &cp)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

type memTransactionStore struct{ db *memDB }

func (s *memTransactionStore) Create(ctx context.Context, tx *gorm.DB, trans *model.WalletTransaction) error {
	trans.ID = s.db.state.nextSeq()
	cp := *trans
	s.db.state.transactions = append(s.db.state.transactions, &cp)
	return nil
}

func (s *memTransactionStore) GetByID(ctx context.Context, id int64) (*model.WalletTransaction, error) {
	for _, t := range s.db.state.transactions {
		if t.ID == id {
			cp := *t
			return &cp, nil
		}
	}
	return nil, errs.ErrTransactionNotFound
}

func (s *memTransactionStore) ListByUserID(ctx context.Context, userID string, page, pageSize int) ([]*model.WalletTransaction, int64, error) {
	var all []*model.WalletTransaction
	for _, t := range s.db.state.transactions {
		if t.UserID == userID {
			cp := *t
			all = append(all, &cp)
		}
	}
	total := int64(len(all))
	start := (page - 1) * pageSize
	if start >= len(all) {
		return nil, total, nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

type memOutboxStore struct{ db *memDB }

func (s *memOutboxStore) Create(ctx context.Context, tx *gorm.DB, event *model.OutboxEvent) error {
	event.ID = s.db.state.nextSeq()
	cp := *event
	s.db.state.outbox = append(s.db.state.outbox, &cp)
	return nil
}

// ============================================================
// 测试装配
// ============================================================

func testConfig() *config.Config {
	return &config.Config{
		Business: config.BusinessConfig{
			DefaultCurrency:       "CNY",
			HoldExpirationMinutes: 30,
			LowBalanceThreshold:   10.0,
			OutboxMaxRetry:        5,
		},
	}
}

func newTestService(t *testing.T) (*WalletService, *memDB) {
	t.Helper()
	db := newMemDB()
	svc := &WalletService{
		db:           db,
		cfg:          testConfig(),
		wallets:      &memWalletStore{db: db},
		holds:        &memHoldStore{db: db},
		transactions: &memTransactionStore{db: db},
		outbox:       &memOutboxStore{db: db},
	}
	return svc, db
}

// outboxTopics 返回发件箱中已入队的事件主题（按入队顺序）
func outboxTopics(db *memDB) []string {
	var topics []string
	for _, e := range db.state.outbox {
		topics = append(topics, e.EventType)
	}
	return topics
}

func transactionTypes(db *memDB) []string {
	var types []string
	for _, t := range db.state.transactions {
		types = append(types, t.TransactionType)
	}
	return types
}
