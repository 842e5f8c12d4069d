package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kami1983/sl-runes-agent/internal/scheduler"
	"github.com/kami1983/sl-runes-agent/pkg/logger"
)

// ExecutionStore 任务执行记录
type ExecutionStore interface {
	CleanupOldRecords(ctx context.Context, beforeTime int64) (int64, error)
	MarkStaleRunningAsFailed(ctx context.Context, threshold time.Duration) (int64, error)
}

// staleRunningThreshold 超过该时长仍为 running 的记录视为进程中断
const staleRunningThreshold = time.Hour

// ExecutionCleanupJob 清理过期的执行记录
type ExecutionCleanupJob struct {
	scheduler.BaseJob
	store     ExecutionStore
	retention time.Duration
	now       func() time.Time
}

// NewExecutionCleanupJob 创建执行记录清理任务, retentionDays 为保留天数
func NewExecutionCleanupJob(store ExecutionStore, retentionDays int) *ExecutionCleanupJob {
	cfg := scheduler.DefaultJobConfigs[scheduler.JobNameExecutionCleanup]
	if retentionDays <= 0 {
		retentionDays = 7
	}
	return &ExecutionCleanupJob{
		BaseJob:   scheduler.NewBaseJob(scheduler.JobNameExecutionCleanup, cfg.Timeout, cfg.LockTTL, cfg.UseWatchdog),
		store:     store,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		now:       time.Now,
	}
}

// Execute 先收尾卡住的记录, 再删除保留期之前的记录
func (j *ExecutionCleanupJob) Execute(ctx context.Context) (*scheduler.JobResult, error) {
	stale, err := j.store.MarkStaleRunningAsFailed(ctx, staleRunningThreshold)
	if err != nil {
		return nil, err
	}
	if stale > 0 {
		logger.Warn("stale running executions marked failed", zap.Int64("count", stale))
	}

	deleted, err := j.store.CleanupOldRecords(ctx, j.now().Add(-j.retention).UnixMilli())
	if err != nil {
		return nil, err
	}

	return &scheduler.JobResult{
		ProcessedCount: int(stale + deleted),
		AffectedCount:  int(deleted),
		Details: map[string]interface{}{
			"stale_marked": stale,
			"deleted":      deleted,
		},
	}, nil
}
