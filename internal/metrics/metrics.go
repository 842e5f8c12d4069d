// Package metrics 提供 rbot 服务的 Prometheus 监控指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rbot"

// 红包业务指标
var (
	// EnvelopesCreatedTotal 红包登记总数
	EnvelopesCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_created_total",
			Help:      "红包登记总数",
		},
		[]string{"token", "status"}, // status: success, rejected, failed
	)

	// GrabsTotal 领取总数, code 为远端结果码
	GrabsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grabs_total",
			Help:      "领取总数",
		},
		[]string{"code"},
	)

	// RevocationsTotal 撤销总数
	RevocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revocations_total",
			Help:      "撤销总数",
		},
		[]string{"status"},
	)

	// EscrowTransfersTotal 托管转账总数
	EscrowTransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escrow_transfers_total",
			Help:      "托管转账总数",
		},
		[]string{"leg", "status"}, // leg: net, fee
	)

	// RemoteCallDuration 远端调用耗时
	RemoteCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_call_duration_seconds",
			Help:      "远端账本调用耗时(秒)",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "status"},
	)
)

// 对账与统计指标
var (
	// PendingTicketsGauge 待定领取凭证数
	PendingTicketsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_tickets",
			Help:      "待定领取凭证数",
		},
	)

	// TicketsReconciledTotal 后台对账处理的凭证数
	TicketsReconciledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tickets_reconciled_total",
			Help:      "后台对账处理的凭证数",
		},
		[]string{"result"}, // result: success, rejected, still_pending
	)

	// OrphanFundingsGauge 孤立托管资金笔数
	OrphanFundingsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "orphan_fundings",
			Help:      "已转账未登记的托管资金笔数",
		},
	)

	// StatsGauge 业务统计快照
	StatsGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stats",
			Help:      "业务统计快照",
		},
		[]string{"metric"}, // metric: envelopes_sent, amount_sent, tickets, wallets
	)
)

// 任务指标
var (
	// JobExecutionsTotal 任务执行总数
	JobExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_executions_total",
			Help:      "任务执行总数",
		},
		[]string{"job_name", "status"}, // status: success, failed, skipped
	)

	// JobDuration 任务执行耗时
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "任务执行耗时(秒)",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"job_name"},
	)

	// RunningJobsGauge 当前运行中的任务数
	RunningJobsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running_jobs",
			Help:      "当前运行中的任务数",
		},
	)

	// ScheduledJobsGauge 已调度任务数
	ScheduledJobsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduled_jobs",
			Help:      "已调度任务数",
		},
	)
)

// HTTP 指标
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP 请求耗时(秒)",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"method", "path"},
	)
)

// RecordHTTPRequest 记录 HTTP 请求
func RecordHTTPRequest(method, path, status string, durationSeconds float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(durationSeconds)
}

// RecordRemoteCall 记录远端调用
func RecordRemoteCall(method string, err error, durationSeconds float64) {
	status := "success"
	if err != nil {
		status = "error"
	}
	RemoteCallDuration.WithLabelValues(method, status).Observe(durationSeconds)
}

// RecordJobExecution 记录任务执行
func RecordJobExecution(jobName, status string, durationSeconds float64) {
	JobExecutionsTotal.WithLabelValues(jobName, status).Inc()
	JobDuration.WithLabelValues(jobName).Observe(durationSeconds)
}

// UpdateRunningJobs 更新运行中任务数
func UpdateRunningJobs(count int) {
	RunningJobsGauge.Set(float64(count))
}
