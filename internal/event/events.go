package event

import (
	"encoding/json"
	"fmt"
	"time"

	"walletsvc/internal/model"
	"walletsvc/pkg/idgen"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 对外事件（全部经由发件箱投递，event_type 即 topic）
// ============================================================================

const (
	TopicWalletCreated      = "wallet.created"
	TopicBalanceUpdated     = "wallet.balance_updated"
	TopicBalanceLow         = "wallet.balance_low"
	TopicCreditsHeld        = "wallet.credits_held"
	TopicCreditsCharged     = "wallet.credits_charged"
	TopicCreditsRefunded    = "wallet.credits_refunded"
	TopicHoldExpired        = "wallet.hold_expired"
	TopicTokenDeducted      = "wallet.token_deducted"
	TopicTransactionCreated = "wallet.transaction_created"
)

const AggregateTypeWallet = "WALLET"

type WalletCreatedEvent struct {
	EventID   string    `json:"event_id"`
	WalletID  int64     `json:"wallet_id"`
	UserID    string    `json:"user_id"`
	Currency  string    `json:"currency"`
	Timestamp time.Time `json:"timestamp"`
}

type BalanceUpdatedEvent struct {
	EventID         string          `json:"event_id"`
	WalletID        int64           `json:"wallet_id"`
	UserID          string          `json:"user_id"`
	OldBalance      decimal.Decimal `json:"old_balance"`
	NewBalance      decimal.Decimal `json:"new_balance"`
	TransactionType string          `json:"transaction_type"`
	Timestamp       time.Time       `json:"timestamp"`
}

type BalanceLowEvent struct {
	EventID   string          `json:"event_id"`
	WalletID  int64           `json:"wallet_id"`
	UserID    string          `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	Threshold decimal.Decimal `json:"threshold"`
	Timestamp time.Time       `json:"timestamp"`
}

type CreditsHeldEvent struct {
	EventID       string          `json:"event_id"`
	WalletID      int64           `json:"wallet_id"`
	UserID        string          `json:"user_id"`
	HoldID        int64           `json:"hold_id"`
	Amount        decimal.Decimal `json:"amount"`
	ReferenceType string          `json:"reference_type"`
	ReferenceID   string          `json:"reference_id"`
	ExpiresAt     time.Time       `json:"expires_at"`
	Timestamp     time.Time       `json:"timestamp"`
}

type CreditsChargedEvent struct {
	EventID       string          `json:"event_id"`
	WalletID      int64           `json:"wallet_id"`
	UserID        string          `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	ReferenceType string          `json:"reference_type"`
	ReferenceID   string          `json:"reference_id"`
	HoldID        *int64          `json:"hold_id,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

type CreditsRefundedEvent struct {
	EventID               string          `json:"event_id"`
	WalletID              int64           `json:"wallet_id"`
	UserID                string          `json:"user_id"`
	Amount                decimal.Decimal `json:"amount"`
	ReferenceType         string          `json:"reference_type"`
	ReferenceID           string          `json:"reference_id"`
	OriginalTransactionID *int64          `json:"original_transaction_id,omitempty"`
	Timestamp             time.Time       `json:"timestamp"`
}

type HoldExpiredEvent struct {
	EventID     string          `json:"event_id"`
	WalletID    int64           `json:"wallet_id"`
	UserID      string          `json:"user_id"`
	HoldID      int64           `json:"hold_id"`
	Amount      decimal.Decimal `json:"amount"`
	ReferenceID string          `json:"reference_id"`
	Timestamp   time.Time       `json:"timestamp"`
}

type TokenDeductedEvent struct {
	EventID        string    `json:"event_id"`
	WalletID       int64     `json:"wallet_id"`
	UserID         string    `json:"user_id"`
	TokensDeducted int       `json:"tokens_deducted"`
	TokenBefore    int       `json:"token_before"`
	TokenAfter     int       `json:"token_after"`
	ReferenceID    string    `json:"reference_id"`
	Timestamp      time.Time `json:"timestamp"`
}

type TransactionCreatedEvent struct {
	EventID         string          `json:"event_id"`
	TransactionID   int64           `json:"transaction_id"`
	TransactionNo   string          `json:"transaction_no"`
	WalletID        int64           `json:"wallet_id"`
	UserID          string          `json:"user_id"`
	TransactionType string          `json:"transaction_type"`
	Amount          decimal.Decimal `json:"amount"`
	ReferenceType   string          `json:"reference_type"`
	ReferenceID     string          `json:"reference_id"`
	Timestamp       time.Time       `json:"timestamp"`
}

// NewOutboxEvent 把事件载荷打包成待入库的发件箱记录
// 分区键取钱包ID，保证同一钱包的事件在 Kafka 内保序
//
// 【关键点】event_id 必须写进载荷本身：投递失败重试、崩溃在
// 投递和落状态之间，都会造成同一事件重复上线，下游全靠载荷里的
// event_id 去重。只存在 outbox 行里的 ID 不跟消息走，等于没有
func NewOutboxEvent(walletID int64, eventType string, payload interface{}, maxRetry int) (*model.OutboxEvent, error) {
	eventID := idgen.GenerateEventID()

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化事件载荷失败: %w", err)
	}

	body, err := injectEventID(payloadBytes, eventID)
	if err != nil {
		return nil, err
	}

	return &model.OutboxEvent{
		EventID:       eventID,
		AggregateType: AggregateTypeWallet,
		AggregateID:   fmt.Sprintf("%d", walletID),
		EventType:     eventType,
		Payload:       string(body),
		Status:        model.OutboxStatusPending,
		MaxRetry:      maxRetry,
	}, nil
}

// injectEventID 把生成的事件ID回填进载荷的 event_id 字段。
// 走 RawMessage 中转，其余字段原样保留，不经二次解析
func injectEventID(payloadBytes []byte, eventID string) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payloadBytes, &fields); err != nil {
		return nil, fmt.Errorf("事件载荷必须是 JSON 对象: %w", err)
	}

	idBytes, err := json.Marshal(eventID)
	if err != nil {
		return nil, err
	}
	fields["event_id"] = idBytes

	return json.Marshal(fields)
}
