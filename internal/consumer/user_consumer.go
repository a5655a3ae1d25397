package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"walletsvc/internal/config"
	"walletsvc/internal/errs"
	"walletsvc/internal/infrastructure/mq"
	"walletsvc/internal/service"
)

const TopicUserRegistered = "user.registered"

// UserRegisteredEvent 用户服务的注册完成通知
type UserRegisteredEvent struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	RegisteredAt time.Time `json:"registered_at"`
}

// UserConsumer 消费用户注册事件，为新用户开钱包
type UserConsumer struct {
	baseConsumer
	svc *service.WalletService
	cg  *mq.ConsumerGroup
}

func NewUserConsumer(svc *service.WalletService, events *service.IdempotentEventService, producer *mq.Producer, cfg *config.Config) (*UserConsumer, error) {
	c := &UserConsumer{
		baseConsumer: baseConsumer{
			events: events,
			dlq:    producer,
			retry: RetryPolicy{
				MaxAttempts: cfg.Business.ConsumerMaxAttempts,
				Delay:       time.Duration(cfg.Business.ConsumerRetryDelaySeconds) * time.Second,
			},
			source: "user-service",
		},
		svc: svc,
	}

	cg, err := mq.NewConsumerGroup(
		cfg.Kafka.Brokers,
		cfg.Kafka.ConsumerGroup+"-user",
		[]string{TopicUserRegistered},
		c.handle,
	)
	if err != nil {
		return nil, err
	}
	c.cg = cg
	return c, nil
}

func (c *UserConsumer) Start(ctx context.Context) error {
	log.Println("[UserConsumer] 用户事件消费者启动")
	return c.cg.Start(ctx)
}

func (c *UserConsumer) Close() error {
	return c.cg.Close()
}

func (c *UserConsumer) handle(ctx context.Context, topic, key string, value []byte) error {
	var evt UserRegisteredEvent
	if err := json.Unmarshal(value, &evt); err != nil {
		c.sendToDLQ(topic, "unparseable", value, err)
		return nil
	}

	eventID := fmt.Sprintf("user-%s", evt.UserID)
	return c.process(ctx, topic, eventID, value, func(ctx context.Context) error {
		_, err := c.svc.CreateWallet(ctx, evt.UserID)
		// user_id 唯一索引兜底：重复注册事件视为成功
		if errors.Is(err, errs.ErrWalletAlreadyExists) {
			log.Printf("[UserConsumer] 钱包已存在，跳过创建: userID=%s", evt.UserID)
			return nil
		}
		return err
	})
}
