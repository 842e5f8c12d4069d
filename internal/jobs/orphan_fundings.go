package jobs

import (
	"context"
	"time"

	"github.com/kami1983/sl-runes-agent/internal/scheduler"
	"github.com/kami1983/sl-runes-agent/internal/service"
)

// FundingSweeper 孤立托管流水扫描
type FundingSweeper interface {
	SweepOrphans(ctx context.Context, olderThan time.Duration, limit int) (*service.SweepResult, error)
}

// OrphanFundingsJob 标记资金已转入托管但未完成登记的流水, 交由人工退款
type OrphanFundingsJob struct {
	scheduler.BaseJob
	escrow    FundingSweeper
	grace     time.Duration
	batchSize int
}

// NewOrphanFundingsJob 创建孤立流水扫描任务
func NewOrphanFundingsJob(escrow FundingSweeper, grace time.Duration) *OrphanFundingsJob {
	cfg := scheduler.DefaultJobConfigs[scheduler.JobNameOrphanFundings]
	return &OrphanFundingsJob{
		BaseJob:   scheduler.NewBaseJob(scheduler.JobNameOrphanFundings, cfg.Timeout, cfg.LockTTL, cfg.UseWatchdog),
		escrow:    escrow,
		grace:     grace,
		batchSize: 100,
	}
}

// Execute 分批扫描直到没有满批
func (j *OrphanFundingsJob) Execute(ctx context.Context) (*scheduler.JobResult, error) {
	result := &scheduler.JobResult{}
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		res, err := j.escrow.SweepOrphans(ctx, j.grace, j.batchSize)
		if err != nil {
			return result, err
		}
		result.ProcessedCount += res.Scanned
		result.AffectedCount += res.Orphaned
		result.ErrorCount += res.Scanned - res.Orphaned

		// 未能标记的流水会被重新扫到, 不继续循环
		if res.Scanned < j.batchSize || res.Orphaned < res.Scanned {
			return result, nil
		}
	}
}
