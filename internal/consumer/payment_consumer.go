package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"walletsvc/internal/config"
	"walletsvc/internal/infrastructure/mq"
	"walletsvc/internal/service"

	"github.com/shopspring/decimal"
)

const (
	TopicPaymentCompleted    = "payment.completed"
	TopicPaymentBonusGranted = "payment.bonus_granted"
)

// PaymentCompletedEvent 支付服务的支付完成通知
type PaymentCompletedEvent struct {
	PaymentID string          `json:"payment_id"`
	UserID    string          `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	Tokens    int             `json:"tokens"`
	Currency  string          `json:"currency"`
	PaidAt    time.Time       `json:"paid_at"`
}

// BonusGrantedEvent 赠送积分通知（活动、邀请奖励等）
type BonusGrantedEvent struct {
	ReferenceID string          `json:"reference_id"`
	UserID      string          `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	Reason      string          `json:"reason"`
}

// PaymentConsumer 消费支付域事件，驱动钱包入账
type PaymentConsumer struct {
	baseConsumer
	svc *service.WalletService
	cg  *mq.ConsumerGroup
}

func NewPaymentConsumer(svc *service.WalletService, events *service.IdempotentEventService, producer *mq.Producer, cfg *config.Config) (*PaymentConsumer, error) {
	c := &PaymentConsumer{
		baseConsumer: baseConsumer{
			events: events,
			dlq:    producer,
			retry: RetryPolicy{
				MaxAttempts: cfg.Business.ConsumerMaxAttempts,
				Delay:       time.Duration(cfg.Business.ConsumerRetryDelaySeconds) * time.Second,
			},
			source: "payment-service",
		},
		svc: svc,
	}

	cg, err := mq.NewConsumerGroup(
		cfg.Kafka.Brokers,
		cfg.Kafka.ConsumerGroup+"-payment",
		[]string{TopicPaymentCompleted, TopicPaymentBonusGranted},
		c.handle,
	)
	if err != nil {
		return nil, err
	}
	c.cg = cg
	return c, nil
}

func (c *PaymentConsumer) Start(ctx context.Context) error {
	log.Println("[PaymentConsumer] 支付事件消费者启动")
	return c.cg.Start(ctx)
}

func (c *PaymentConsumer) Close() error {
	return c.cg.Close()
}

func (c *PaymentConsumer) handle(ctx context.Context, topic, key string, value []byte) error {
	switch topic {
	case TopicPaymentCompleted:
		return c.handlePaymentCompleted(ctx, topic, value)
	case TopicPaymentBonusGranted:
		return c.handleBonusGranted(ctx, topic, value)
	default:
		log.Printf("[PaymentConsumer] 未知主题，忽略: %s", topic)
		return nil
	}
}

func (c *PaymentConsumer) handlePaymentCompleted(ctx context.Context, topic string, value []byte) error {
	var evt PaymentCompletedEvent
	if err := json.Unmarshal(value, &evt); err != nil {
		// 解析不了的消息重试也没用，直接进死信
		c.sendToDLQ(topic, "unparseable", value, err)
		return nil
	}

	eventID := fmt.Sprintf("payment-%s", evt.PaymentID)
	return c.process(ctx, topic, eventID, value, func(ctx context.Context) error {
		_, err := c.svc.TopUp(ctx, &service.TopUpRequest{
			UserID:        evt.UserID,
			Amount:        evt.Amount,
			Tokens:        evt.Tokens,
			ReferenceType: "PAYMENT",
			ReferenceID:   evt.PaymentID,
			Description:   fmt.Sprintf("支付到账 payment_id=%s", evt.PaymentID),
		})
		return err
	})
}

func (c *PaymentConsumer) handleBonusGranted(ctx context.Context, topic string, value []byte) error {
	var evt BonusGrantedEvent
	if err := json.Unmarshal(value, &evt); err != nil {
		c.sendToDLQ(topic, "unparseable", value, err)
		return nil
	}

	eventID := fmt.Sprintf("bonus-%s", evt.ReferenceID)
	return c.process(ctx, topic, eventID, value, func(ctx context.Context) error {
		_, err := c.svc.TopUp(ctx, &service.TopUpRequest{
			UserID:        evt.UserID,
			Amount:        evt.Amount,
			ReferenceType: "BONUS",
			ReferenceID:   evt.ReferenceID,
			Description:   fmt.Sprintf("赠送积分: %s", evt.Reason),
		})
		return err
	})
}
