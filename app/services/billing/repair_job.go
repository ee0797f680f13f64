package billing

import (
	"context"
	"time"

	"go.uber.org/zap"

	"companion/pkg/logger"
)

// repairLockName 对账任务的锁名
const repairLockName = "reconcile-repair"

// Locker 跨实例互斥
type Locker interface {
	TryLock(ctx context.Context, name string, expiry time.Duration) (unlock func(), err error)
}

// RepairJob 定期补发缺失的积分流水
type RepairJob struct {
	auditor    *Auditor
	locker     Locker
	interval   time.Duration
	lockExpiry time.Duration
}

// NewRepairJob 创建对账任务，locker 为空时不加锁（单实例）
func NewRepairJob(auditor *Auditor, locker Locker, interval, lockExpiry time.Duration) *RepairJob {
	if lockExpiry <= 0 {
		lockExpiry = 2 * time.Minute
	}
	return &RepairJob{
		auditor:    auditor,
		locker:     locker,
		interval:   interval,
		lockExpiry: lockExpiry,
	}
}

// Run 按间隔执行直到 ctx 取消，interval 不大于 0 时直接返回
func (j *RepairJob) Run(ctx context.Context) {
	if j.interval <= 0 {
		return
	}
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.RunOnce(ctx); err != nil && ctx.Err() == nil {
				logger.Error("Reconcile", zap.String("job", "repair"), zap.Error(err))
			}
		}
	}
}

// RunOnce 执行一次修复。其他实例持有锁时跳过，返回 nil 报告
func (j *RepairJob) RunOnce(ctx context.Context) (*RepairReport, error) {
	if j.locker != nil {
		unlock, err := j.locker.TryLock(ctx, repairLockName, j.lockExpiry)
		if err != nil {
			logger.Debug("Reconcile", zap.String("job", "repair"), zap.String("skip", err.Error()))
			return nil, nil
		}
		defer unlock()
	}

	report, err := j.auditor.Repair(ctx)
	if err != nil {
		return nil, err
	}
	if report.Found > 0 {
		logger.Warn("Reconcile",
			zap.String("job", "repair"),
			zap.Int("found", report.Found),
			zap.Strings("repaired", report.Repaired),
			zap.Int("failed", len(report.Failed)),
		)
	}
	return report, nil
}
