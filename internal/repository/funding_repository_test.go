package repository

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kami1983/sl-runes-agent/internal/model"
)

func newFunding(id string, createdAt int64) *model.EscrowFunding {
	return &model.EscrowFunding{
		ID:          id,
		UID:         10,
		TokenSymbol: "ICP",
		TokenID:     "0xtoken",
		Gross:       decimal.NewFromInt(10000),
		Net:         decimal.NewFromInt(9900),
		Fee:         decimal.NewFromInt(100),
		ShareCount:  5,
		Status:      model.FundingStatusPending,
		CreatedAt:   createdAt,
	}
}

// TestFundingRepository_Advance 测试进度推进与终态保护
func TestFundingRepository_Advance(t *testing.T) {
	repo := NewFundingRepository(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newFunding("f-1", 1_000)))

	require.NoError(t, repo.Advance(ctx, "f-1", &FundingUpdate{
		Status: model.FundingStatusNetTransferred, NetTxRef: "tx-1", UpdatedAt: 2_000,
	}))
	require.NoError(t, repo.Advance(ctx, "f-1", &FundingUpdate{
		Status: model.FundingStatusFeeTransferred, FeeTxRef: "tx-2", UpdatedAt: 3_000,
	}))
	rid := int64(77)
	require.NoError(t, repo.Advance(ctx, "f-1", &FundingUpdate{
		Status: model.FundingStatusRegistered, EnvelopeID: &rid, UpdatedAt: 4_000,
	}))

	funding, err := repo.GetByID(ctx, "f-1")
	require.NoError(t, err)
	assert.Equal(t, model.FundingStatusRegistered, funding.Status)
	assert.Equal(t, "tx-1", funding.NetTxRef)
	assert.Equal(t, "tx-2", funding.FeeTxRef)
	require.NotNil(t, funding.EnvelopeID)
	assert.Equal(t, int64(77), *funding.EnvelopeID)

	err = repo.Advance(ctx, "f-1", &FundingUpdate{Status: model.FundingStatusFailed, UpdatedAt: 5_000})
	assert.ErrorIs(t, err, ErrFundingNotFound)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrFundingNotFound)
}

// TestFundingRepository_Orphans 测试滞留流水查询与孤立标记
func TestFundingRepository_Orphans(t *testing.T) {
	repo := NewFundingRepository(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newFunding("old-pending", 1_000)))
	require.NoError(t, repo.Create(ctx, newFunding("old-net", 1_000)))
	require.NoError(t, repo.Create(ctx, newFunding("fresh", 9_000)))
	require.NoError(t, repo.Create(ctx, newFunding("done", 1_000)))

	require.NoError(t, repo.Advance(ctx, "old-net", &FundingUpdate{Status: model.FundingStatusNetTransferred, UpdatedAt: 1_500}))
	require.NoError(t, repo.Advance(ctx, "done", &FundingUpdate{Status: model.FundingStatusRegistered, UpdatedAt: 1_500}))
	require.NoError(t, repo.RecordError(ctx, "old-net", strings.Repeat("x", 600), 2_000))

	stale, err := repo.ListStale(ctx, 5_000, 10)
	require.NoError(t, err)
	require.Len(t, stale, 2)
	assert.Equal(t, "old-pending", stale[0].ID)
	assert.Len(t, stale[1].ErrorMessage, 500)

	changed, err := repo.MarkOrphaned(ctx, "old-net", 6_000)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.MarkOrphaned(ctx, "old-net", 7_000)
	require.NoError(t, err)
	assert.False(t, changed)

	count, err := repo.CountByStatus(ctx, model.FundingStatusOrphaned)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
