package mq

import (
	"context"
	"fmt"
	"log"
	"time"

	"walletsvc/internal/config"

	"github.com/IBM/sarama"
)

// Producer Kafka 同步生产者
type Producer struct {
	sp sarama.SyncProducer
}

// InitProducer 初始化 Kafka 生产者
func InitProducer(cfg *config.KafkaConfig) *Producer {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll // 等待所有副本确认
	kafkaConfig.Producer.Retry.Max = 3                    // 客户端层面的重试次数
	kafkaConfig.Producer.Return.Successes = true          // 返回成功消息
	kafkaConfig.Producer.Timeout = 10 * time.Second       // 投递不允许无限阻塞

	sp, err := sarama.NewSyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		log.Fatalf("创建 Kafka 生产者失败: %v", err)
	}

	log.Println("Kafka 生产者创建成功")
	return &Producer{sp: sp}
}

// Publish 发送消息，key 作为分区键（同一聚合的事件保序）
func (p *Producer) Publish(topic, key, value string) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(value),
	}

	_, _, err := p.sp.SendMessage(msg)
	return err
}

// Close 关闭生产者
func (p *Producer) Close() {
	if p.sp != nil {
		p.sp.Close()
	}
}

// ============================================================================
// 消费者组
// ============================================================================

// MessageHandler 单条消息处理函数，topic 用于多主题消费者内部分发
type MessageHandler func(ctx context.Context, topic, key string, value []byte) error

// ConsumerGroup 消费者组封装
// Kafka 只保证至少一次投递，重复投递的去重交给上层的幂等台账
type ConsumerGroup struct {
	cg      sarama.ConsumerGroup
	topics  []string
	handler MessageHandler
}

func NewConsumerGroup(brokers []string, groupID string, topics []string, handler MessageHandler) (*ConsumerGroup, error) {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Version = sarama.V3_0_0_0
	kafkaConfig.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	kafkaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest

	cg, err := sarama.NewConsumerGroup(brokers, groupID, kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("创建消费者组失败: %w", err)
	}

	return &ConsumerGroup{
		cg:      cg,
		topics:  topics,
		handler: handler,
	}, nil
}

// Start 启动消费循环，阻塞直到 ctx 取消
func (c *ConsumerGroup) Start(ctx context.Context) error {
	handler := &groupHandler{handler: c.handler}

	for {
		if err := c.cg.Consume(ctx, c.topics, handler); err != nil {
			log.Printf("[Kafka] 消费出错: %v", err)
		}

		if ctx.Err() != nil {
			log.Printf("[Kafka] 消费者组退出: topics=%v", c.topics)
			return nil
		}
	}
}

func (c *ConsumerGroup) Close() error {
	return c.cg.Close()
}

type groupHandler struct {
	handler MessageHandler
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		if err := h.handler(session.Context(), message.Topic, string(message.Key), message.Value); err != nil {
			// 处理函数返回错误意味着这条消息既没记台账也没进死信
			// （典型场景：数据库不可用）。位点不能提交——提交了
			// 消息就永久丢了。返回错误让会话重建后从原位点重投
			log.Printf("[Kafka] 消息处理失败，位点不提交: topic=%s, offset=%d, err=%v",
				message.Topic, message.Offset, err)
			return err
		}
		session.MarkMessage(message, "")
	}
	return nil
}
