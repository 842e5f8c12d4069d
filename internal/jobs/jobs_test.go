package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kami1983/sl-runes-agent/internal/model"
	"github.com/kami1983/sl-runes-agent/internal/repository"
	"github.com/kami1983/sl-runes-agent/internal/scheduler"
	"github.com/kami1983/sl-runes-agent/internal/service"
)

type mockClaimReconciler struct {
	mock.Mock
}

func (m *mockClaimReconciler) ReconcilePending(ctx context.Context, olderThan time.Duration, limit int) (*service.ReconcileResult, error) {
	args := m.Called(ctx, olderThan, limit)
	res, _ := args.Get(0).(*service.ReconcileResult)
	return res, args.Error(1)
}

type mockFundingSweeper struct {
	mock.Mock
}

func (m *mockFundingSweeper) SweepOrphans(ctx context.Context, olderThan time.Duration, limit int) (*service.SweepResult, error) {
	args := m.Called(ctx, olderThan, limit)
	res, _ := args.Get(0).(*service.SweepResult)
	return res, args.Error(1)
}

type mockGaugeRefresher struct {
	mock.Mock
}

func (m *mockGaugeRefresher) RefreshGauges(ctx context.Context) (*service.Stats, error) {
	args := m.Called(ctx)
	res, _ := args.Get(0).(*service.Stats)
	return res, args.Error(1)
}

// TestPendingClaimsJob_Execute 测试对账结果映射为任务结果
func TestPendingClaimsJob_Execute(t *testing.T) {
	claims := new(mockClaimReconciler)
	claims.On("ReconcilePending", mock.Anything, 2*time.Minute, 50).
		Return(&service.ReconcileResult{Scanned: 5, Succeeded: 2, Rejected: 1, StillPending: 2}, nil).Once()

	job := NewPendingClaimsJob(claims, 2*time.Minute, 50)
	assert.Equal(t, scheduler.JobNamePendingClaims, job.Name())
	assert.Greater(t, job.LockTTL(), time.Duration(0))

	res, err := job.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, res.ProcessedCount)
	assert.Equal(t, 3, res.AffectedCount)
	assert.Equal(t, 2, res.Details["still_pending"])
	claims.AssertExpectations(t)
}

// TestPendingClaimsJob_Error 测试对账失败时任务失败
func TestPendingClaimsJob_Error(t *testing.T) {
	claims := new(mockClaimReconciler)
	claims.On("ReconcilePending", mock.Anything, mock.Anything, 200).Return(nil, errors.New("db down"))

	_, err := NewPendingClaimsJob(claims, time.Minute, 0).Execute(context.Background())
	assert.EqualError(t, err, "db down")
}

// TestOrphanFundingsJob_Execute 测试满批时继续扫描
func TestOrphanFundingsJob_Execute(t *testing.T) {
	sweeper := new(mockFundingSweeper)
	sweeper.On("SweepOrphans", mock.Anything, 10*time.Minute, 100).
		Return(&service.SweepResult{Scanned: 100, Orphaned: 100}, nil).Once()
	sweeper.On("SweepOrphans", mock.Anything, 10*time.Minute, 100).
		Return(&service.SweepResult{Scanned: 7, Orphaned: 7}, nil).Once()

	res, err := NewOrphanFundingsJob(sweeper, 10*time.Minute).Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 107, res.ProcessedCount)
	assert.Equal(t, 107, res.AffectedCount)
	assert.Zero(t, res.ErrorCount)
	sweeper.AssertExpectations(t)
}

// TestOrphanFundingsJob_PartialFailure 测试部分标记失败时停止本轮
func TestOrphanFundingsJob_PartialFailure(t *testing.T) {
	sweeper := new(mockFundingSweeper)
	sweeper.On("SweepOrphans", mock.Anything, mock.Anything, 100).
		Return(&service.SweepResult{Scanned: 100, Orphaned: 98}, nil).Once()

	res, err := NewOrphanFundingsJob(sweeper, time.Minute).Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.ErrorCount)
	sweeper.AssertNumberOfCalls(t, "SweepOrphans", 1)
}

// TestStatsSnapshotJob_Execute 测试统计快照
func TestStatsSnapshotJob_Execute(t *testing.T) {
	stats := new(mockGaugeRefresher)
	stats.On("RefreshGauges", mock.Anything).
		Return(&service.Stats{EnvelopesSent: 3, AmountSent: "900", Grabs: 8, Wallets: 5}, nil).Once()

	job := NewStatsSnapshotJob(stats)
	assert.Zero(t, job.LockTTL())

	res, err := job.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Details["re_count"])
	assert.Equal(t, "900", res.Details["re_amount"])

	stats.On("RefreshGauges", mock.Anything).Return(nil, errors.New("db down"))
	_, err = job.Execute(context.Background())
	assert.Error(t, err)
}

// TestExecutionCleanupJob_Execute 测试清理过期与卡住的执行记录
func TestExecutionCleanupJob_Execute(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&model.JobExecution{}))
	repo := repository.NewExecutionRepository(db)
	ctx := context.Background()

	now := time.Now()
	finished := now.UnixMilli()
	for _, exec := range []*model.JobExecution{
		{JobName: "old", Status: model.JobStatusSuccess, StartedAt: now.Add(-10 * 24 * time.Hour).UnixMilli(), FinishedAt: &finished},
		{JobName: "recent", Status: model.JobStatusSuccess, StartedAt: now.Add(-time.Hour).UnixMilli(), FinishedAt: &finished},
		{JobName: "stuck", Status: model.JobStatusRunning, StartedAt: now.Add(-2 * time.Hour).UnixMilli()},
	} {
		require.NoError(t, repo.Create(ctx, exec))
	}

	job := NewExecutionCleanupJob(repo, 7)
	job.now = func() time.Time { return now }

	res, err := job.Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Details["stale_marked"])
	assert.Equal(t, int64(1), res.Details["deleted"])

	old, err := repo.GetLatestByJobName(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, old)

	stuck, err := repo.GetLatestByJobName(ctx, "stuck")
	require.NoError(t, err)
	require.NotNil(t, stuck)
	assert.Equal(t, model.JobStatusFailed, stuck.Status)
}
