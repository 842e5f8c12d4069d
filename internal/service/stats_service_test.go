package service

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kami1983/sl-runes-agent/internal/identity"
	"github.com/kami1983/sl-runes-agent/internal/metrics"
	"github.com/kami1983/sl-runes-agent/internal/model"
	"github.com/kami1983/sl-runes-agent/internal/repository"
	pkgerrors "github.com/kami1983/sl-runes-agent/pkg/errors"
)

// TestStatsService_Stats 测试全部与时间窗口内的统计
func TestStatsService_Stats(t *testing.T) {
	env := newTestEnv(t)
	env.fund(1, 20000)
	ctx := context.Background()

	sent := env.createEnvelope(t, 1, "10.00", 2)
	env.createEnvelope(t, 1, "10.00", 2)
	require.NoError(t, env.envelopes.MarkSent(ctx, sent.ID))
	_, err := env.claims.Grab(ctx, 2, sent.ID)
	require.NoError(t, err)

	stats, err := env.stats.Stats(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.EnvelopesSent)
	assert.Equal(t, "990", stats.AmountSent)
	assert.Equal(t, int64(1), stats.Grabs)
	assert.Equal(t, int64(1), stats.Wallets)

	env.clock.Advance(2 * time.Hour)
	recent, err := env.stats.Stats(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, recent.EnvelopesSent)
	assert.Equal(t, "0", recent.AmountSent)
	assert.Zero(t, recent.Grabs)
	assert.Zero(t, recent.Wallets)
}

// TestStatsService_RefreshGauges 测试刷新统计指标
func TestStatsService_RefreshGauges(t *testing.T) {
	env := newTestEnv(t)
	env.fund(1, 10000)
	ctx := context.Background()

	res := env.createEnvelope(t, 1, "10.00", 2)
	_, _, err := env.ticketRepo.InsertPending(ctx, &model.ClaimTicket{
		EnvelopeID: res.ID, UID: 3, Recipient: env.resolver.AddressOf(3), CreatedAt: env.clock.Now().UnixMilli(),
	})
	require.NoError(t, err)

	stats, err := env.stats.RefreshGauges(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Grabs)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PendingTicketsGauge))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.OrphanFundingsGauge))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.StatsGauge.WithLabelValues("tickets")))
}

// TestGlobalVarService 测试全局键值写入与查询
func TestGlobalVarService(t *testing.T) {
	db := setupTestDB(t)
	svc := NewGlobalVarService(repository.NewGlobalVarRepository(db))
	ctx := context.Background()

	err := svc.UpdateKeys(ctx, nil)
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidRequest)

	err = svc.UpdateKeys(ctx, []repository.KeyValue{{Key: " ", Value: "x"}})
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidRequest)

	require.NoError(t, svc.UpdateKeys(ctx, []repository.KeyValue{
		{Key: "notice", Value: "hello"},
		{Key: "banner", Value: "v1"},
	}))
	require.NoError(t, svc.UpdateKeys(ctx, []repository.KeyValue{{Key: "banner", Value: "v2"}}))

	values, err := svc.GetKeys(ctx, "notice, banner ,,missing")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"notice": "hello", "banner": "v2"}, values)

	values, err = svc.GetKeys(ctx, " , ")
	require.NoError(t, err)
	assert.Empty(t, values)
}

// TestUserService 测试用户名写入与 uid 映射
func TestUserService(t *testing.T) {
	db := setupTestDB(t)
	svc := NewUserService(repository.NewUserRepository(db))
	ctx := context.Background()

	ext := "6f1c2b7e-2d4a-4c4e-9a51-0b3f1e0d9c77"
	uid := svc.ResolveUID(ext)
	assert.Equal(t, identity.UUIDToNumber(ext), uid)

	name, err := svc.Username(ctx, uid)
	require.NoError(t, err)
	assert.Empty(t, name)

	require.NoError(t, svc.Touch(ctx, uid, "alice"))
	require.NoError(t, svc.Touch(ctx, uid, "alice2"))

	name, err = svc.Username(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, "alice2", name)
}
