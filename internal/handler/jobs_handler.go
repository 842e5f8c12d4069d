package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/kami1983/sl-runes-agent/internal/repository"
	"github.com/kami1983/sl-runes-agent/internal/scheduler"
)

const defaultExecutionLimit = 20

// JobsHandler 定时任务状态与手动触发
type JobsHandler struct {
	scheduler *scheduler.Scheduler
	execRepo  *repository.ExecutionRepository
}

// NewJobsHandler 创建任务处理器
func NewJobsHandler(s *scheduler.Scheduler, execRepo *repository.ExecutionRepository) *JobsHandler {
	return &JobsHandler{scheduler: s, execRepo: execRepo}
}

// ListJobStatus 列出所有任务状态
// GET /sl/jobs
func (h *JobsHandler) ListJobStatus(c *gin.Context) {
	statuses, err := h.scheduler.ListJobStatus(c.Request.Context())
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, statuses)
}

// GetJobStatus 单个任务状态
// GET /sl/jobs/:name
func (h *JobsHandler) GetJobStatus(c *gin.Context) {
	status, err := h.scheduler.GetJobStatus(c.Request.Context(), c.Param("name"))
	if err != nil {
		NotFound(c, err.Error())
		return
	}
	Success(c, status)
}

// ListExecutions 任务执行历史, 按开始时间倒序
// GET /sl/jobs/:name/executions
func (h *JobsHandler) ListExecutions(c *gin.Context) {
	limit := queryInt(c, "limit", defaultExecutionLimit)
	if limit <= 0 || limit > 100 {
		limit = defaultExecutionLimit
	}
	execs, err := h.execRepo.ListByJobName(c.Request.Context(), c.Param("name"), limit)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, execs)
}

// TriggerJob 手动触发, 异步执行
// POST /sl/jobs/:name/trigger
func (h *JobsHandler) TriggerJob(c *gin.Context) {
	name := c.Param("name")
	if err := h.scheduler.TriggerJob(name); err != nil {
		NotFound(c, err.Error())
		return
	}
	Success(c, gin.H{"accepted": true, "job": name})
}
