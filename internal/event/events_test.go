package event

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"walletsvc/internal/model"
	"walletsvc/pkg/idgen"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	idgen.Init(1)
	os.Exit(m.Run())
}

func TestNewOutboxEventPayloadCarriesEventID(t *testing.T) {
	record, err := NewOutboxEvent(42, TopicBalanceUpdated, &BalanceUpdatedEvent{
		WalletID:        42,
		UserID:          "user-1",
		OldBalance:      decimal.NewFromInt(100),
		NewBalance:      decimal.NewFromInt(60),
		TransactionType: model.TransactionTypeCharge,
		Timestamp:       time.Now(),
	}, 5)
	require.NoError(t, err)
	require.NotEmpty(t, record.EventID)

	// 下游只见载荷不见 outbox 行：去重键必须随消息上线
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(record.Payload), &decoded))
	assert.Equal(t, record.EventID, decoded["event_id"])

	// 回填不能动其他字段
	assert.Equal(t, float64(42), decoded["wallet_id"])
	assert.Equal(t, "user-1", decoded["user_id"])
	assert.Equal(t, model.TransactionTypeCharge, decoded["transaction_type"])
}

func TestNewOutboxEventBasics(t *testing.T) {
	record, err := NewOutboxEvent(7, TopicWalletCreated, &WalletCreatedEvent{
		WalletID: 7,
		UserID:   "user-7",
		Currency: "CNY",
	}, 3)
	require.NoError(t, err)

	assert.Equal(t, AggregateTypeWallet, record.AggregateType)
	assert.Equal(t, "7", record.AggregateID)
	assert.Equal(t, TopicWalletCreated, record.EventType)
	assert.Equal(t, model.OutboxStatusPending, record.Status)
	assert.Equal(t, 3, record.MaxRetry)
}

func TestNewOutboxEventUniqueIDs(t *testing.T) {
	a, err := NewOutboxEvent(1, TopicWalletCreated, &WalletCreatedEvent{WalletID: 1}, 5)
	require.NoError(t, err)
	b, err := NewOutboxEvent(1, TopicWalletCreated, &WalletCreatedEvent{WalletID: 1}, 5)
	require.NoError(t, err)

	assert.NotEqual(t, a.EventID, b.EventID)
}
