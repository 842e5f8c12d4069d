package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/kami1983/sl-runes-agent/internal/model"
)

// ExecutionRepository 定时任务执行流水 (job_executions)
type ExecutionRepository struct {
	*Repository
}

// NewExecutionRepository 创建执行流水仓储
func NewExecutionRepository(db *gorm.DB) *ExecutionRepository {
	return &ExecutionRepository{Repository: NewRepository(db)}
}

func (r *ExecutionRepository) Create(ctx context.Context, exec *model.JobExecution) error {
	if exec.CreatedAt == 0 {
		exec.CreatedAt = time.Now().UnixMilli()
	}
	return r.DB(ctx).Create(exec).Error
}

func (r *ExecutionRepository) Update(ctx context.Context, exec *model.JobExecution) error {
	return r.DB(ctx).Save(exec).Error
}

func (r *ExecutionRepository) byJob(ctx context.Context, jobName string) *gorm.DB {
	return r.DB(ctx).Where("job_name = ?", jobName).Order("started_at DESC").Order("id DESC")
}

// GetLatestByJobName 最近一次执行, 没有记录时返回 nil
func (r *ExecutionRepository) GetLatestByJobName(ctx context.Context, jobName string) (*model.JobExecution, error) {
	var execs []*model.JobExecution
	if err := r.byJob(ctx, jobName).Limit(1).Find(&execs).Error; err != nil {
		return nil, err
	}
	if len(execs) == 0 {
		return nil, nil
	}
	return execs[0], nil
}

// ListByJobName 最近 limit 次执行
func (r *ExecutionRepository) ListByJobName(ctx context.Context, jobName string, limit int) ([]*model.JobExecution, error) {
	var execs []*model.JobExecution
	err := r.byJob(ctx, jobName).Limit(limit).Find(&execs).Error
	return execs, err
}

// CleanupOldRecords 删除 beforeMs 之前开始且已结束的流水, 运行中的保留
func (r *ExecutionRepository) CleanupOldRecords(ctx context.Context, beforeMs int64) (int64, error) {
	result := r.DB(ctx).
		Where("started_at < ? AND status <> ?", beforeMs, model.JobStatusRunning).
		Delete(&model.JobExecution{})
	return result.RowsAffected, result.Error
}

// MarkStaleRunningAsFailed 运行超过 threshold 的流水视为进程中断, 标记失败
func (r *ExecutionRepository) MarkStaleRunningAsFailed(ctx context.Context, threshold time.Duration) (int64, error) {
	now := time.Now()
	result := r.DB(ctx).Model(&model.JobExecution{}).
		Where("status = ? AND started_at < ?", model.JobStatusRunning, now.Add(-threshold).UnixMilli()).
		Updates(map[string]interface{}{
			"status":        model.JobStatusFailed,
			"finished_at":   now.UnixMilli(),
			"error_message": "interrupted: still running after " + threshold.String(),
		})
	return result.RowsAffected, result.Error
}
