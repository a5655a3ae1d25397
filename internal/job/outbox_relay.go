package job

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"walletsvc/internal/config"
	"walletsvc/internal/infrastructure/lock"
	"walletsvc/internal/model"
	"walletsvc/internal/repository"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Publisher 消息发布接口（由 Kafka 生产者实现）
type Publisher interface {
	Publish(topic, key, value string) error
}

// OutboxStore 投递所需的发件箱操作
type OutboxStore interface {
	GetDueEvents(ctx context.Context, now time.Time, limit int) ([]*model.OutboxEvent, error)
	MarkPublished(ctx context.Context, id int64) (bool, error)
	MarkRetry(ctx context.Context, id int64, lastError string, nextRetryAt time.Time) error
	MarkFailedPermanent(ctx context.Context, id int64, lastError string) error
	DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Lease 单实例执行租约
type Lease interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// OutboxRelay 发件箱投递任务
//
// 业务事务只负责把事件写进 outbox_events，投递完全由本任务异步完成：
// 轮询到期记录 -> 逐条发 Kafka -> 成功标记 PUBLISHED，
// 失败按 2^retry_count 秒指数退避，重试耗尽标记 FAILED_PERMANENT 等人工处理
//
// 【关键点】先投递后落状态。崩溃在两步之间只会造成重复投递，
// 下游按 event_id 去重即可；反过来（先标记后投递）会丢消息，不可接受
type OutboxRelay struct {
	outboxRepo OutboxStore
	publisher  Publisher
	lease      Lease
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
	retention  time.Duration
}

func NewOutboxRelay(db *gorm.DB, rdb *redis.Client, publisher Publisher, cfg *config.Config) *OutboxRelay {
	interval := time.Duration(cfg.Business.OutboxPollIntervalMillis) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}

	return &OutboxRelay{
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		lease:      lock.NewJobLease(rdb, "outbox-relay", instanceID(), 30*time.Second),
		stopCh:     make(chan struct{}),
		interval:   interval,
		batchSize:  cfg.Business.OutboxBatchSize,
		retention:  time.Duration(cfg.Business.OutboxRetentionDays) * 24 * time.Hour,
	}
}

func (r *OutboxRelay) Start(ctx context.Context) {
	log.Println("[OutboxRelay] 事件投递任务启动")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	cleanupTicker := time.NewTicker(time.Hour)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[OutboxRelay] 收到停止信号，任务退出")
			return
		case <-r.stopCh:
			log.Println("[OutboxRelay] 任务停止")
			return
		case <-ticker.C:
			r.processDueEvents(ctx)
		case <-cleanupTicker.C:
			r.cleanupPublished(ctx)
		}
	}
}

func (r *OutboxRelay) Stop() {
	close(r.stopCh)
}

// processDueEvents 投递一轮
// 租约保证多实例部署时同一轮只有一个 worker 在投递，
// 配合 MarkPublished 的前置状态校验，同一条记录不会被重复计数
func (r *OutboxRelay) processDueEvents(ctx context.Context) {
	if r.lease != nil {
		ok, err := r.lease.TryLock(ctx)
		if err != nil {
			log.Printf("[OutboxRelay] 获取租约失败: %v", err)
			return
		}
		if !ok {
			return // 其他实例正在投递
		}
		defer r.lease.Unlock(ctx)
	}

	events, err := r.outboxRepo.GetDueEvents(ctx, time.Now(), r.batchSize)
	if err != nil {
		log.Printf("[OutboxRelay] 查询待投递事件失败: %v", err)
		return
	}

	for _, e := range events {
		r.publishEvent(ctx, e)
	}
}

func (r *OutboxRelay) publishEvent(ctx context.Context, e *model.OutboxEvent) {
	err := r.publisher.Publish(e.EventType, e.AggregateID, e.Payload)

	if err == nil {
		ok, markErr := r.outboxRepo.MarkPublished(ctx, e.ID)
		if markErr != nil {
			// 投递成功但状态没落库：记录会被重新选中并重复投递，由下游去重兜底
			log.Printf("[OutboxRelay] 标记已投递失败: id=%d, err=%v", e.ID, markErr)
			return
		}
		if !ok {
			log.Printf("[OutboxRelay] 事件已被其他 worker 投递: id=%d", e.ID)
			return
		}
		log.Printf("[OutboxRelay] 事件投递成功: id=%d, topic=%s, key=%s", e.ID, e.EventType, e.AggregateID)
		return
	}

	log.Printf("[OutboxRelay] 事件投递失败: id=%d, topic=%s, err=%v", e.ID, e.EventType, err)

	e.RetryCount++
	if e.CanRetry() {
		nextRetryAt := time.Now().Add(e.NextRetryDelay())
		if retryErr := r.outboxRepo.MarkRetry(ctx, e.ID, err.Error(), nextRetryAt); retryErr != nil {
			log.Printf("[OutboxRelay] 排期重试失败: id=%d, err=%v", e.ID, retryErr)
		} else {
			log.Printf("[OutboxRelay] 事件将于 %s 重试: id=%d, retryCount=%d",
				nextRetryAt.Format(time.RFC3339), e.ID, e.RetryCount)
		}
		return
	}

	// 升级为永久失败：不是静默丢弃，而是留给运维显式介入的挂起点
	if failErr := r.outboxRepo.MarkFailedPermanent(ctx, e.ID, err.Error()); failErr != nil {
		log.Printf("[OutboxRelay] 标记永久失败出错: id=%d, err=%v", e.ID, failErr)
	} else {
		log.Printf("[OutboxRelay] 事件超过最大重试次数，标记为永久失败: id=%d", e.ID)
	}
}

func (r *OutboxRelay) cleanupPublished(ctx context.Context) {
	if r.retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-r.retention)
	deleted, err := r.outboxRepo.DeletePublishedBefore(ctx, cutoff)
	if err != nil {
		log.Printf("[OutboxRelay] 清理已投递记录失败: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("[OutboxRelay] 清理已投递记录 %d 条", deleted)
	}
}

func instanceID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}
