package job

import (
	"context"
	"log"
	"time"

	"walletsvc/internal/config"
	"walletsvc/internal/infrastructure/lock"
	"walletsvc/internal/model"

	"github.com/go-redis/redis/v8"
)

// HoldReleaser 扫描任务依赖的预扣操作
type HoldReleaser interface {
	FindExpiredHolds(ctx context.Context, now time.Time, limit int) ([]*model.WalletHold, error)
	ExpireHold(ctx context.Context, holdID int64) error
}

// HoldExpirySweep 预扣超时扫描任务
//
// 定期找出 expires_at 已过的 ACTIVE 预扣并逐条过期释放。
// 扫描和释放之间存在竞态窗口（用户恰好在此时确认扣费），
// ExpireHold 内部用前置状态校验处理：抢不到就当无事发生
type HoldExpirySweep struct {
	svc      HoldReleaser
	lease    Lease
	stopCh   chan struct{}
	interval time.Duration
}

func NewHoldExpirySweep(svc HoldReleaser, rdb *redis.Client, cfg *config.Config) *HoldExpirySweep {
	interval := time.Duration(cfg.Business.HoldSweepIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}

	return &HoldExpirySweep{
		svc:      svc,
		lease:    lock.NewJobLease(rdb, "hold-expiry-sweep", instanceID(), 30*time.Second),
		stopCh:   make(chan struct{}),
		interval: interval,
	}
}

func (s *HoldExpirySweep) Start(ctx context.Context) {
	log.Println("[HoldExpirySweep] 预扣超时扫描任务启动")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[HoldExpirySweep] 收到停止信号，任务退出")
			return
		case <-s.stopCh:
			log.Println("[HoldExpirySweep] 任务停止")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *HoldExpirySweep) Stop() {
	close(s.stopCh)
}

func (s *HoldExpirySweep) sweep(ctx context.Context) {
	if s.lease != nil {
		ok, err := s.lease.TryLock(ctx)
		if err != nil {
			log.Printf("[HoldExpirySweep] 获取租约失败: %v", err)
			return
		}
		if !ok {
			return
		}
		defer s.lease.Unlock(ctx)
	}

	holds, err := s.svc.FindExpiredHolds(ctx, time.Now(), 100)
	if err != nil {
		log.Printf("[HoldExpirySweep] 查询过期预扣失败: %v", err)
		return
	}
	if len(holds) == 0 {
		return
	}

	log.Printf("[HoldExpirySweep] 发现 %d 条过期预扣", len(holds))

	expired := 0
	for _, h := range holds {
		if err := s.svc.ExpireHold(ctx, h.ID); err != nil {
			// 单条失败不影响本轮其他预扣
			log.Printf("[HoldExpirySweep] 过期释放失败: holdID=%d, err=%v", h.ID, err)
			continue
		}
		expired++
	}

	log.Printf("[HoldExpirySweep] 本轮处理完成: 释放 %d/%d", expired, len(holds))
}
