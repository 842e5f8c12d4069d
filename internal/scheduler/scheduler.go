package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/kami1983/sl-runes-agent/internal/metrics"
	"github.com/kami1983/sl-runes-agent/internal/model"
	"github.com/kami1983/sl-runes-agent/internal/repository"
	"github.com/kami1983/sl-runes-agent/pkg/logger"
)

// Scheduler 秒级 cron 调度, 多实例之间用 redis 锁互斥, 每次执行写入 job_executions
type Scheduler struct {
	cron        *cron.Cron
	lockManager *LockManager
	execRepo    *repository.ExecutionRepository

	mu         sync.RWMutex
	jobs       map[string]Job
	jobConfigs map[string]JobConfig

	running    chan struct{}
	runningCnt int64

	ctx    context.Context
	cancel context.CancelFunc
}

// JobConfig 任务调度配置
type JobConfig struct {
	Cron    string
	Enabled bool
}

// SchedulerConfig 调度器配置; RedisClient 为 nil 时按单实例运行, 不加锁
type SchedulerConfig struct {
	MaxConcurrentJobs int
	RedisClient       redis.UniversalClient
}

// NewScheduler 创建调度器
func NewScheduler(cfg *SchedulerConfig, execRepo *repository.ExecutionRepository) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	maxConcurrent := cfg.MaxConcurrentJobs
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}

	var locks *LockManager
	if cfg.RedisClient != nil {
		locks = NewLockManager(cfg.RedisClient)
	}

	return &Scheduler{
		cron:        cron.New(cron.WithSeconds()),
		lockManager: locks,
		execRepo:    execRepo,
		jobs:        make(map[string]Job),
		jobConfigs:  make(map[string]JobConfig),
		running:     make(chan struct{}, maxConcurrent),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// RegisterJob 注册任务; 禁用的任务只登记不调度
func (s *Scheduler) RegisterJob(job Job, config JobConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	if config.Enabled {
		if _, err := s.cron.AddFunc(config.Cron, func() { s.executeJob(job) }); err != nil {
			return fmt.Errorf("schedule job %s: %w", name, err)
		}
		metrics.ScheduledJobsGauge.Inc()
	}

	s.jobs[name] = job
	s.jobConfigs[name] = config
	logger.Info("job registered",
		zap.String("job", name),
		zap.String("cron", config.Cron),
		zap.Bool("enabled", config.Enabled))
	return nil
}

// Start 启动调度
func (s *Scheduler) Start() {
	s.cron.Start()
	logger.Info("scheduler started", zap.Int("jobs", len(s.cron.Entries())))
}

// Stop 停止调度并等待执行中的任务结束
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	logger.Info("scheduler stopped")
}

// TriggerJob 手动触发一次, 异步执行
func (s *Scheduler) TriggerJob(jobName string) error {
	s.mu.RLock()
	job, exists := s.jobs[jobName]
	s.mu.RUnlock()
	if !exists {
		return fmt.Errorf("job %s not found", jobName)
	}

	go s.executeJob(job)
	return nil
}

// executeJob 执行一次任务并返回执行记录
func (s *Scheduler) executeJob(job Job) *model.JobExecution {
	name := job.Name()

	select {
	case s.running <- struct{}{}:
		defer func() { <-s.running }()
	default:
		logger.Warn("max concurrent jobs reached, skipping", zap.String("job", name))
		return s.recordSkipped(name, "max concurrent jobs reached")
	}

	if s.ctx.Err() != nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(s.ctx, job.Timeout())
	defer cancel()

	if job.LockTTL() > 0 && s.lockManager != nil {
		lock := s.lockManager.NewLock(name, job.LockTTL(), job.UseWatchdog())
		acquired, err := lock.TryLock(ctx)
		if err != nil {
			logger.Error("acquire job lock failed", zap.String("job", name), zap.Error(err))
			metrics.RecordJobExecution(name, string(model.JobStatusFailed), 0)
			return s.recordFinished(name, model.JobStatusFailed, time.Now(), nil, err)
		}
		if !acquired {
			logger.Debug("job running on another instance", zap.String("job", name))
			return s.recordSkipped(name, "job is running on another instance")
		}
		defer func() {
			if err := lock.Unlock(context.Background()); err != nil {
				logger.Error("release job lock failed", zap.String("job", name), zap.Error(err))
			}
		}()
	}

	metrics.UpdateRunningJobs(int(atomic.AddInt64(&s.runningCnt, 1)))
	defer func() { metrics.UpdateRunningJobs(int(atomic.AddInt64(&s.runningCnt, -1))) }()

	start := time.Now()
	exec := &model.JobExecution{
		JobName:   name,
		Status:    model.JobStatusRunning,
		StartedAt: start.UnixMilli(),
	}
	if err := s.execRepo.Create(ctx, exec); err != nil {
		logger.Error("record job start failed", zap.String("job", name), zap.Error(err))
	}

	logger.Info("starting job", zap.String("job", name))
	result, err := job.Execute(ctx)

	finished := time.Now()
	elapsed := finished.Sub(start)
	durationMs := int(elapsed.Milliseconds())
	finishedMs := finished.UnixMilli()
	exec.FinishedAt = &finishedMs
	exec.DurationMs = &durationMs

	if err != nil {
		exec.Status = model.JobStatusFailed
		msg := err.Error()
		exec.ErrorMessage = &msg
		logger.Error("job failed",
			zap.String("job", name),
			zap.Duration("duration", elapsed),
			zap.Error(err))
	} else {
		exec.Status = model.JobStatusSuccess
		exec.Result = result.ToJSONResult()
		fields := []zap.Field{zap.String("job", name), zap.Duration("duration", elapsed)}
		if result != nil {
			fields = append(fields,
				zap.Int("processed", result.ProcessedCount),
				zap.Int("affected", result.AffectedCount),
				zap.Int("errors", result.ErrorCount))
		}
		logger.Info("job completed", fields...)
	}
	metrics.RecordJobExecution(name, string(exec.Status), elapsed.Seconds())

	if exec.ID == 0 {
		err = s.execRepo.Create(context.Background(), exec)
	} else {
		err = s.execRepo.Update(context.Background(), exec)
	}
	if err != nil {
		logger.Error("record job execution failed", zap.String("job", name), zap.Error(err))
	}
	return exec
}

func (s *Scheduler) recordSkipped(jobName, reason string) *model.JobExecution {
	metrics.RecordJobExecution(jobName, string(model.JobStatusSkipped), 0)
	return s.recordFinished(jobName, model.JobStatusSkipped, time.Now(), nil, fmt.Errorf("%s", reason))
}

// recordFinished 直接写入一条已结束的执行记录
func (s *Scheduler) recordFinished(jobName string, status model.JobStatus, at time.Time, result *JobResult, cause error) *model.JobExecution {
	ms := at.UnixMilli()
	zero := 0
	exec := &model.JobExecution{
		JobName:    jobName,
		Status:     status,
		StartedAt:  ms,
		FinishedAt: &ms,
		DurationMs: &zero,
		Result:     result.ToJSONResult(),
	}
	if cause != nil {
		msg := cause.Error()
		exec.ErrorMessage = &msg
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.execRepo.Create(ctx, exec); err != nil {
		logger.Error("record job execution failed", zap.String("job", jobName), zap.Error(err))
	}
	return exec
}

// JobStatus 任务状态
type JobStatus struct {
	Name           string `json:"name"`
	Enabled        bool   `json:"enabled"`
	Cron           string `json:"cron"`
	TimeoutMs      int64  `json:"timeout_ms"`
	IsLocked       bool   `json:"is_locked"`
	LastStatus     string `json:"last_status,omitempty"`
	LastStartedAt  int64  `json:"last_started_at,omitempty"`
	LastFinishedAt int64  `json:"last_finished_at,omitempty"`
	LastDurationMs int    `json:"last_duration_ms,omitempty"`
	LastError      string `json:"last_error,omitempty"`
}

// GetJobStatus 查询任务配置与最近一次执行
func (s *Scheduler) GetJobStatus(ctx context.Context, jobName string) (*JobStatus, error) {
	s.mu.RLock()
	job, exists := s.jobs[jobName]
	config := s.jobConfigs[jobName]
	s.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("job %s not found", jobName)
	}

	lastExec, err := s.execRepo.GetLatestByJobName(ctx, jobName)
	if err != nil {
		return nil, err
	}

	status := &JobStatus{
		Name:      jobName,
		Enabled:   config.Enabled,
		Cron:      config.Cron,
		TimeoutMs: job.Timeout().Milliseconds(),
	}
	if s.lockManager != nil {
		status.IsLocked, _ = s.lockManager.IsLocked(ctx, jobName)
	}

	if lastExec != nil {
		status.LastStatus = string(lastExec.Status)
		status.LastStartedAt = lastExec.StartedAt
		if lastExec.FinishedAt != nil {
			status.LastFinishedAt = *lastExec.FinishedAt
		}
		if lastExec.DurationMs != nil {
			status.LastDurationMs = *lastExec.DurationMs
		}
		if lastExec.ErrorMessage != nil {
			status.LastError = *lastExec.ErrorMessage
		}
	}
	return status, nil
}

// ListJobStatus 按名称排序列出全部任务状态
func (s *Scheduler) ListJobStatus(ctx context.Context) ([]*JobStatus, error) {
	s.mu.RLock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)

	statuses := make([]*JobStatus, 0, len(names))
	for _, name := range names {
		status, err := s.GetJobStatus(ctx, name)
		if err != nil {
			logger.Warn("get job status failed", zap.String("job", name), zap.Error(err))
			continue
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}
