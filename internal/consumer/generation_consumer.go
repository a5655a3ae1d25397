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

	"github.com/shopspring/decimal"
)

const (
	TopicGenerationRequested = "generation.requested"
	TopicGenerationCompleted = "generation.completed"
	TopicGenerationFailed    = "generation.failed"

	referenceTypeGeneration = "GENERATION_REQUEST"
)

// GenerationRequestedEvent 生成任务发起，按预估成本冻结额度
type GenerationRequestedEvent struct {
	RequestID     string          `json:"request_id"`
	UserID        string          `json:"user_id"`
	EstimatedCost decimal.Decimal `json:"estimated_cost"`
	Model         string          `json:"model"`
}

// GenerationCompletedEvent 生成任务完成，按实际成本从预扣中扣费
type GenerationCompletedEvent struct {
	RequestID  string          `json:"request_id"`
	UserID     string          `json:"user_id"`
	ActualCost decimal.Decimal `json:"actual_cost"`
	TokensUsed int             `json:"tokens_used"`
}

// GenerationFailedEvent 生成任务失败，释放预扣
type GenerationFailedEvent struct {
	RequestID string `json:"request_id"`
	UserID    string `json:"user_id"`
	Reason    string `json:"reason"`
}

// GenerationConsumer 消费生成域事件，驱动预扣生命周期：
// requested 冻结 -> completed 实扣 / failed 释放
type GenerationConsumer struct {
	baseConsumer
	svc *service.WalletService
	cg  *mq.ConsumerGroup
}

func NewGenerationConsumer(svc *service.WalletService, events *service.IdempotentEventService, producer *mq.Producer, cfg *config.Config) (*GenerationConsumer, error) {
	c := &GenerationConsumer{
		baseConsumer: baseConsumer{
			events: events,
			dlq:    producer,
			retry: RetryPolicy{
				MaxAttempts: cfg.Business.ConsumerMaxAttempts,
				Delay:       time.Duration(cfg.Business.ConsumerRetryDelaySeconds) * time.Second,
			},
			source: "generation-service",
		},
		svc: svc,
	}

	cg, err := mq.NewConsumerGroup(
		cfg.Kafka.Brokers,
		cfg.Kafka.ConsumerGroup+"-generation",
		[]string{TopicGenerationRequested, TopicGenerationCompleted, TopicGenerationFailed},
		c.handle,
	)
	if err != nil {
		return nil, err
	}
	c.cg = cg
	return c, nil
}

func (c *GenerationConsumer) Start(ctx context.Context) error {
	log.Println("[GenerationConsumer] 生成事件消费者启动")
	return c.cg.Start(ctx)
}

func (c *GenerationConsumer) Close() error {
	return c.cg.Close()
}

func (c *GenerationConsumer) handle(ctx context.Context, topic, key string, value []byte) error {
	switch topic {
	case TopicGenerationRequested:
		return c.handleRequested(ctx, topic, value)
	case TopicGenerationCompleted:
		return c.handleCompleted(ctx, topic, value)
	case TopicGenerationFailed:
		return c.handleFailed(ctx, topic, value)
	default:
		log.Printf("[GenerationConsumer] 未知主题，忽略: %s", topic)
		return nil
	}
}

func (c *GenerationConsumer) handleRequested(ctx context.Context, topic string, value []byte) error {
	var evt GenerationRequestedEvent
	if err := json.Unmarshal(value, &evt); err != nil {
		c.sendToDLQ(topic, "unparseable", value, err)
		return nil
	}

	eventID := fmt.Sprintf("genreq-%s", evt.RequestID)
	return c.process(ctx, topic, eventID, value, func(ctx context.Context) error {
		_, err := c.svc.Hold(ctx, &service.HoldRequest{
			UserID:        evt.UserID,
			Amount:        evt.EstimatedCost,
			Reason:        fmt.Sprintf("生成任务预扣 model=%s", evt.Model),
			ReferenceType: referenceTypeGeneration,
			ReferenceID:   evt.RequestID,
		})
		return err
	})
}

func (c *GenerationConsumer) handleCompleted(ctx context.Context, topic string, value []byte) error {
	var evt GenerationCompletedEvent
	if err := json.Unmarshal(value, &evt); err != nil {
		c.sendToDLQ(topic, "unparseable", value, err)
		return nil
	}

	eventID := fmt.Sprintf("gen-%s", evt.RequestID)
	return c.process(ctx, topic, eventID, value, func(ctx context.Context) error {
		hold, err := c.svc.FindHoldByReference(ctx, referenceTypeGeneration, evt.RequestID)
		if err != nil {
			return err
		}

		// 实际成本未知时按预扣全额扣
		amount := evt.ActualCost
		if !amount.IsPositive() {
			amount = hold.Amount
		}

		_, err = c.svc.Charge(ctx, &service.ChargeRequest{
			UserID:        evt.UserID,
			Amount:        amount,
			HoldID:        &hold.ID,
			ReferenceType: referenceTypeGeneration,
			ReferenceID:   evt.RequestID,
			Description:   fmt.Sprintf("生成任务扣费 request_id=%s, tokens=%d", evt.RequestID, evt.TokensUsed),
		})
		return err
	})
}

func (c *GenerationConsumer) handleFailed(ctx context.Context, topic string, value []byte) error {
	var evt GenerationFailedEvent
	if err := json.Unmarshal(value, &evt); err != nil {
		c.sendToDLQ(topic, "unparseable", value, err)
		return nil
	}

	eventID := fmt.Sprintf("genfail-%s", evt.RequestID)
	return c.process(ctx, topic, eventID, value, func(ctx context.Context) error {
		hold, err := c.svc.FindHoldByReference(ctx, referenceTypeGeneration, evt.RequestID)
		if err != nil {
			// 预扣不存在：requested 事件可能丢失或尚未到达，
			// 没有冻结也就无需释放，最终状态一致，按成功处理
			if errors.Is(err, errs.ErrHoldNotFound) {
				log.Printf("[GenerationConsumer] 未找到预扣，跳过释放: requestID=%s", evt.RequestID)
				return nil
			}
			return err
		}

		_, err = c.svc.ReleaseHold(ctx, hold.ID)
		// 已释放或已过期都是终态，重复释放按成功处理
		if errors.Is(err, errs.ErrHoldAlreadyReleased) || errors.Is(err, errs.ErrHoldExpired) {
			log.Printf("[GenerationConsumer] 预扣已处于终态，跳过释放: holdID=%d, requestID=%s", hold.ID, evt.RequestID)
			return nil
		}
		return err
	})
}
