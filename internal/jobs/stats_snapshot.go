package jobs

import (
	"context"

	"github.com/kami1983/sl-runes-agent/internal/scheduler"
	"github.com/kami1983/sl-runes-agent/internal/service"
)

// GaugeRefresher 刷新统计指标
type GaugeRefresher interface {
	RefreshGauges(ctx context.Context) (*service.Stats, error)
}

// StatsSnapshotJob 定时刷新统计指标
type StatsSnapshotJob struct {
	scheduler.BaseJob
	stats GaugeRefresher
}

// NewStatsSnapshotJob 创建统计快照任务
func NewStatsSnapshotJob(stats GaugeRefresher) *StatsSnapshotJob {
	cfg := scheduler.DefaultJobConfigs[scheduler.JobNameStatsSnapshot]
	return &StatsSnapshotJob{
		BaseJob: scheduler.NewBaseJob(scheduler.JobNameStatsSnapshot, cfg.Timeout, cfg.LockTTL, cfg.UseWatchdog),
		stats:   stats,
	}
}

// Execute 刷新一次
func (j *StatsSnapshotJob) Execute(ctx context.Context) (*scheduler.JobResult, error) {
	stats, err := j.stats.RefreshGauges(ctx)
	if err != nil {
		return nil, err
	}
	return &scheduler.JobResult{
		ProcessedCount: 1,
		Details: map[string]interface{}{
			"re_count":     stats.EnvelopesSent,
			"re_amount":    stats.AmountSent,
			"snatch_count": stats.Grabs,
			"wallet_count": stats.Wallets,
		},
	}, nil
}
