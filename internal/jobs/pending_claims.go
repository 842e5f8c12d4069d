package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kami1983/sl-runes-agent/internal/scheduler"
	"github.com/kami1983/sl-runes-agent/internal/service"
	"github.com/kami1983/sl-runes-agent/pkg/logger"
)

// ClaimReconciler 待定凭证对账
type ClaimReconciler interface {
	ReconcilePending(ctx context.Context, olderThan time.Duration, limit int) (*service.ReconcileResult, error)
}

// PendingClaimsJob 补齐远端结果未知的领取凭证
//
// 每次只处理一批, 仍无法判定的凭证留到下一轮.
type PendingClaimsJob struct {
	scheduler.BaseJob
	claims    ClaimReconciler
	grace     time.Duration
	batchSize int
}

// NewPendingClaimsJob 创建待定凭证对账任务
func NewPendingClaimsJob(claims ClaimReconciler, grace time.Duration, batchSize int) *PendingClaimsJob {
	cfg := scheduler.DefaultJobConfigs[scheduler.JobNamePendingClaims]
	if batchSize <= 0 {
		batchSize = 200
	}
	return &PendingClaimsJob{
		BaseJob:   scheduler.NewBaseJob(scheduler.JobNamePendingClaims, cfg.Timeout, cfg.LockTTL, cfg.UseWatchdog),
		claims:    claims,
		grace:     grace,
		batchSize: batchSize,
	}
}

// Execute 执行一轮对账
func (j *PendingClaimsJob) Execute(ctx context.Context) (*scheduler.JobResult, error) {
	res, err := j.claims.ReconcilePending(ctx, j.grace, j.batchSize)
	if err != nil {
		return nil, err
	}

	if res.Scanned > 0 {
		logger.Info("pending claims reconciled",
			zap.Int("scanned", res.Scanned),
			zap.Int("succeeded", res.Succeeded),
			zap.Int("rejected", res.Rejected),
			zap.Int("still_pending", res.StillPending))
	}

	return &scheduler.JobResult{
		ProcessedCount: res.Scanned,
		AffectedCount:  res.Succeeded + res.Rejected,
		Details: map[string]interface{}{
			"succeeded":     res.Succeeded,
			"rejected":      res.Rejected,
			"still_pending": res.StillPending,
		},
	}, nil
}
