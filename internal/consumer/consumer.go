package consumer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"walletsvc/internal/service"
)

// Publisher 死信投递出口（由 Kafka 生产者实现）
type Publisher interface {
	Publish(topic, key, value string) error
}

// RetryPolicy 消费侧重试策略
// Kafka 分区不能停等单条消息，重试在处理函数内部做：
// 耗尽后投死信主题并提交位点，坏消息绝不阻塞整个分区
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// EventLedger 幂等台账操作（由 IdempotentEventService 实现）
type EventLedger interface {
	Claim(ctx context.Context, eventID, eventType, sourceService string, payload []byte) error
	MarkSuccess(ctx context.Context, eventID, eventType string)
	MarkFailed(ctx context.Context, eventID, eventType, details string)
}

// baseConsumer 各业务消费者的公共骨架：幂等认领 + 有限重试 + 死信兜底
type baseConsumer struct {
	events EventLedger
	dlq    Publisher
	retry  RetryPolicy
	source string
}

// process 消费一条命令消息的完整生命周期
//
// 1. 认领：事件指纹写入幂等台账，认领失败说明重复投递，整体跳过
// 2. 执行：业务操作失败按策略重试
// 3. 落账：成功标记 SUCCESS；耗尽标记 FAILED 并把原始消息投死信主题
//
// 返回 nil 的含义是「这条消息可以提交位点了」，不代表业务一定成功——
// 业务终局在幂等台账和死信主题里，不在 Kafka 位点里
func (b *baseConsumer) process(ctx context.Context, topic, eventID string, payload []byte, fn func(ctx context.Context) error) error {
	if err := b.events.Claim(ctx, eventID, topic, b.source, payload); err != nil {
		if errors.Is(err, service.ErrAlreadyProcessed) {
			log.Printf("[Consumer] 事件已处理，跳过: eventID=%s, topic=%s", eventID, topic)
			return nil
		}
		// 台账写入失败（数据库不可用等），让消息按 Kafka 层面重投
		return fmt.Errorf("认领事件失败: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= b.retry.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			b.events.MarkSuccess(ctx, eventID, topic)
			return nil
		}

		log.Printf("[Consumer] 处理失败: eventID=%s, topic=%s, attempt=%d/%d, err=%v",
			eventID, topic, attempt, b.retry.MaxAttempts, lastErr)

		if attempt < b.retry.MaxAttempts {
			select {
			case <-ctx.Done():
				b.events.MarkFailed(ctx, eventID, topic, ctx.Err().Error())
				return ctx.Err()
			case <-time.After(b.retry.Delay):
			}
		}
	}

	b.events.MarkFailed(ctx, eventID, topic, lastErr.Error())
	b.sendToDLQ(topic, eventID, payload, lastErr)
	return nil
}

// sendToDLQ 原始消息原样投 <topic>.dlq，key 用事件指纹方便回放排查。
// 回放前需要先删掉幂等台账里对应的 FAILED 记录，否则会被认领拦截
func (b *baseConsumer) sendToDLQ(topic, eventID string, payload []byte, cause error) {
	dlqTopic := topic + ".dlq"
	if err := b.dlq.Publish(dlqTopic, eventID, string(payload)); err != nil {
		// 死信也投不出去只能靠台账里的 FAILED 记录兜底
		log.Printf("[Consumer] 投递死信失败: eventID=%s, topic=%s, err=%v", eventID, dlqTopic, err)
		return
	}
	log.Printf("[Consumer] 消息已投死信: eventID=%s, topic=%s, cause=%v", eventID, dlqTopic, cause)
}
