package scheduler

import (
	"context"
	"time"

	"github.com/kami1983/sl-runes-agent/internal/model"
)

// Job 定时任务
type Job interface {
	Name() string
	Execute(ctx context.Context) (*JobResult, error)
	Timeout() time.Duration
	// LockTTL 为 0 时多实例可同时执行
	LockTTL() time.Duration
	// UseWatchdog 长任务在持锁期间自动续期
	UseWatchdog() bool
}

// JobResult 任务执行结果
type JobResult struct {
	ProcessedCount int
	AffectedCount  int
	ErrorCount     int
	Details        map[string]interface{}
}

// ToJSONResult 转换为执行记录中的结果字段
func (r *JobResult) ToJSONResult() model.JSONResult {
	if r == nil {
		return nil
	}
	result := model.JSONResult{
		"processed_count": r.ProcessedCount,
		"affected_count":  r.AffectedCount,
		"error_count":     r.ErrorCount,
	}
	for k, v := range r.Details {
		result[k] = v
	}
	return result
}

// BaseJob 提供 Job 的公共字段, 具体任务内嵌后只需实现 Execute
type BaseJob struct {
	name        string
	timeout     time.Duration
	lockTTL     time.Duration
	useWatchdog bool
}

// NewBaseJob 创建基础任务
func NewBaseJob(name string, timeout, lockTTL time.Duration, useWatchdog bool) BaseJob {
	return BaseJob{
		name:        name,
		timeout:     timeout,
		lockTTL:     lockTTL,
		useWatchdog: useWatchdog,
	}
}

func (j BaseJob) Name() string           { return j.name }
func (j BaseJob) Timeout() time.Duration { return j.timeout }
func (j BaseJob) LockTTL() time.Duration { return j.lockTTL }
func (j BaseJob) UseWatchdog() bool      { return j.useWatchdog }

// 任务名称
const (
	JobNamePendingClaims    = "pending-claims"
	JobNameOrphanFundings   = "orphan-fundings"
	JobNameStatsSnapshot    = "stats-snapshot"
	JobNameExecutionCleanup = "execution-cleanup"
)

// JobDefaults 任务的超时与锁参数
type JobDefaults struct {
	Timeout     time.Duration
	LockTTL     time.Duration
	UseWatchdog bool
}

// DefaultJobConfigs 各任务默认超时与锁参数, cron 表达式来自配置
var DefaultJobConfigs = map[string]JobDefaults{
	JobNamePendingClaims: {
		Timeout: 90 * time.Second,
		LockTTL: 2 * time.Minute,
	},
	JobNameOrphanFundings: {
		Timeout:     5 * time.Minute,
		LockTTL:     6 * time.Minute,
		UseWatchdog: true,
	},
	JobNameStatsSnapshot: {
		Timeout: 30 * time.Second,
		// 只读统计, 每个实例各自刷新本地指标
		LockTTL: 0,
	},
	JobNameExecutionCleanup: {
		Timeout: 5 * time.Minute,
		LockTTL: 6 * time.Minute,
	},
}
