package job

import (
	"context"
	"log"
	"time"

	"walletsvc/internal/config"
	"walletsvc/internal/infrastructure/lock"
	"walletsvc/internal/service"

	"github.com/go-redis/redis/v8"
)

// ProcessedEventCleanup 消费幂等记录清理任务
// 幂等表只需要覆盖消息可能重放的时间窗口，超过保留期的记录按天清理
type ProcessedEventCleanup struct {
	events    *service.IdempotentEventService
	lease     Lease
	stopCh    chan struct{}
	retention time.Duration
}

func NewProcessedEventCleanup(events *service.IdempotentEventService, rdb *redis.Client, cfg *config.Config) *ProcessedEventCleanup {
	retentionDays := cfg.Business.ProcessedRetentionDays
	if retentionDays <= 0 {
		retentionDays = 30
	}

	return &ProcessedEventCleanup{
		events:    events,
		lease:     lock.NewJobLease(rdb, "processed-event-cleanup", instanceID(), 30*time.Second),
		stopCh:    make(chan struct{}),
		retention: time.Duration(retentionDays) * 24 * time.Hour,
	}
}

func (c *ProcessedEventCleanup) Start(ctx context.Context) {
	log.Println("[ProcessedEventCleanup] 幂等记录清理任务启动")

	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[ProcessedEventCleanup] 收到停止信号，任务退出")
			return
		case <-c.stopCh:
			log.Println("[ProcessedEventCleanup] 任务停止")
			return
		case <-ticker.C:
			c.cleanup(ctx)
		}
	}
}

func (c *ProcessedEventCleanup) Stop() {
	close(c.stopCh)
}

func (c *ProcessedEventCleanup) cleanup(ctx context.Context) {
	if c.lease != nil {
		ok, err := c.lease.TryLock(ctx)
		if err != nil {
			log.Printf("[ProcessedEventCleanup] 获取租约失败: %v", err)
			return
		}
		if !ok {
			return
		}
		defer c.lease.Unlock(ctx)
	}

	cutoff := time.Now().Add(-c.retention)
	deleted, err := c.events.CleanupBefore(ctx, cutoff)
	if err != nil {
		log.Printf("[ProcessedEventCleanup] 清理失败: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("[ProcessedEventCleanup] 清理幂等记录 %d 条", deleted)
	}
}
