package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kami1983/sl-runes-agent/internal/event"
	"github.com/kami1983/sl-runes-agent/internal/ledger"
	"github.com/kami1983/sl-runes-agent/internal/model"
)

// TestClaimService_Grab 测试领取成功并写入凭证与钱包
func TestClaimService_Grab(t *testing.T) {
	env := newTestEnv(t)
	env.fund(1, 10000)
	ctx := context.Background()
	res := env.createEnvelope(t, 1, "10.00", 3)

	out, err := env.claims.Grab(ctx, 2, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "3.30", out.Amount)
	assert.Equal(t, "9.90", out.AllAmount)
	assert.Equal(t, "6.60", out.UnreceivedAmount)
	assert.Equal(t, 1, out.ParticipantsNum)
	assert.Equal(t, 3, out.AllNum)
	assert.Equal(t, "ICP", out.Symbol)
	assert.True(t, out.FirstBind)

	ticket, err := env.ticketRepo.Get(ctx, res.ID, 2)
	require.NoError(t, err)
	assert.True(t, ticket.IsSuccess())
	assert.Equal(t, "330", ticket.Amount.String())

	wallet, err := env.walletRepo.GetByUID(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, env.resolver.AddressOf(2), wallet.Principal)
	require.NotNil(t, wallet.Channel)
	assert.Equal(t, res.ID, *wallet.Channel)

	// 第二个红包不会改写首次绑定来源
	other := env.createEnvelope(t, 1, "10.00", 3)
	out, err = env.claims.Grab(ctx, 2, other.ID)
	require.NoError(t, err)
	assert.False(t, out.FirstBind)
	wallet, err = env.walletRepo.GetByUID(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, res.ID, *wallet.Channel)
}

// TestClaimService_Grab_ConcurrentClaimants N+5 个不同领取人并发领取 N 份
func TestClaimService_Grab_ConcurrentClaimants(t *testing.T) {
	env := newTestEnv(t)
	env.fund(1, 100000)
	ctx := context.Background()

	const shares = 5
	res, err := env.envelopes.Create(ctx, &CreateEnvelopeRequest{
		Tid: 0, UID: 1, Amount: "50.00", ShareCount: shares, IsRandom: true,
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, shares+5)
	for i := 0; i < shares+5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.claims.Grab(ctx, int64(100+i), res.ID)
		}(i)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err == nil {
			continue
		}
		failures++
		assert.ErrorIs(t, err, ErrRemoteGrabRejected)
		code, ok := RemoteCode(err)
		require.True(t, ok)
		assert.Equal(t, ledger.CodeExhausted, code)
	}
	assert.Equal(t, 5, failures)

	var tickets []model.ClaimTicket
	require.NoError(t, env.db.Where("id = ?", res.ID).Find(&tickets).Error)
	require.Len(t, tickets, shares+5)

	credited := decimal.Zero
	success, exhausted := 0, 0
	for _, ticket := range tickets {
		switch ticket.Code {
		case model.ClaimCodeSuccess:
			success++
			credited = credited.Add(ticket.Amount)
		case ledger.CodeExhausted:
			exhausted++
		}
	}
	assert.Equal(t, shares, success)
	assert.Equal(t, 5, exhausted)
	// 净额 4950
	assert.True(t, credited.LessThanOrEqual(decimal.NewFromInt(4950)), "credited %s", credited)
}

// TestClaimService_Grab_SameClaimantTwice 测试同一领取人重复领取只保留一行凭证
func TestClaimService_Grab_SameClaimantTwice(t *testing.T) {
	env := newTestEnv(t)
	env.fund(1, 10000)
	ctx := context.Background()
	res := env.createEnvelope(t, 1, "10.00", 3)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.claims.Grab(ctx, 7, res.ID)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		code, _ := RemoteCode(err)
		assert.Equal(t, ledger.CodeAlreadyGrabbed, code)
	}
	assert.Equal(t, 1, succeeded)

	// 顺序重试仍由远端拒绝, 成功结果不被覆盖
	_, err := env.claims.Grab(ctx, 7, res.ID)
	assert.ErrorIs(t, err, ErrRemoteGrabRejected)

	var rows int64
	require.NoError(t, env.db.Model(&model.ClaimTicket{}).Where("id = ? AND uid = ?", res.ID, 7).Count(&rows).Error)
	assert.Equal(t, int64(1), rows)

	ticket, err := env.ticketRepo.Get(ctx, res.ID, 7)
	require.NoError(t, err)
	assert.True(t, ticket.IsSuccess())
	assert.Equal(t, "330", ticket.Amount.String())
}

// TestClaimService_Grab_RemoteUnavailable 测试远端不可用时凭证保持 pending
func TestClaimService_Grab_RemoteUnavailable(t *testing.T) {
	var flaky *flakyLedger
	env := newTestEnvWith(t, func(m *ledger.Memory) ledger.Client {
		flaky = &flakyLedger{Memory: m, grabErr: errors.New("context deadline exceeded")}
		return flaky
	}, event.NoopPublisher{})
	env.fund(1, 10000)
	ctx := context.Background()
	res := env.createEnvelope(t, 1, "10.00", 3)

	_, err := env.claims.Grab(ctx, 2, res.ID)
	assert.ErrorIs(t, err, ErrRemoteUnavailable)

	ticket, err := env.ticketRepo.Get(ctx, res.ID, 2)
	require.NoError(t, err)
	assert.True(t, ticket.IsPending())

	// 恢复后重试同一对 (红包, 用户) 完成领取
	flaky.grabErr = nil
	_, err = env.claims.Grab(ctx, 2, res.ID)
	require.NoError(t, err)
	ticket, err = env.ticketRepo.Get(ctx, res.ID, 2)
	require.NoError(t, err)
	assert.True(t, ticket.IsSuccess())
}

// TestClaimService_Grab_Rejections 测试过期与不存在的红包
func TestClaimService_Grab_Rejections(t *testing.T) {
	env := newTestEnv(t)
	env.fund(1, 10000)
	ctx := context.Background()
	res := env.createEnvelope(t, 1, "10.00", 3)

	_, err := env.claims.Grab(ctx, 2, 404)
	code, _ := RemoteCode(err)
	assert.Equal(t, ledger.CodeNotFound, code)

	env.clock.Advance(25 * time.Hour)
	_, err = env.claims.Grab(ctx, 3, res.ID)
	assert.ErrorIs(t, err, ErrRemoteGrabRejected)
	code, _ = RemoteCode(err)
	assert.Equal(t, ledger.CodeExpired, code)

	ticket, err := env.ticketRepo.Get(ctx, res.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, ledger.CodeExpired, ticket.Code)
	assert.True(t, ticket.Amount.IsZero())
}

// TestClaimService_ReconcilePending 测试后台对账补齐 pending 凭证
func TestClaimService_ReconcilePending(t *testing.T) {
	env := newTestEnv(t)
	env.fund(1, 10000)
	ctx := context.Background()
	res := env.createEnvelope(t, 1, "10.00", 1)

	// 远端已成功但本地未写入结果
	winner := env.resolver.AddressOf(5)
	_, err := env.ledger.Grab(ctx, res.ID, winner)
	require.NoError(t, err)

	nowMs := env.clock.Now().UnixMilli()
	for _, ticket := range []*model.ClaimTicket{
		{EnvelopeID: res.ID, UID: 5, Recipient: winner, CreatedAt: nowMs},
		{EnvelopeID: res.ID, UID: 6, Recipient: env.resolver.AddressOf(6), CreatedAt: nowMs},
	} {
		_, _, err := env.ticketRepo.InsertPending(ctx, ticket)
		require.NoError(t, err)
	}

	out, err := env.claims.ReconcilePending(ctx, time.Minute, 100)
	require.NoError(t, err)
	assert.Zero(t, out.Scanned)

	env.clock.Advance(2 * time.Minute)
	out, err = env.claims.ReconcilePending(ctx, time.Minute, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Scanned)
	assert.Equal(t, 1, out.Succeeded)
	assert.Equal(t, 1, out.Rejected)

	ticket, err := env.ticketRepo.Get(ctx, res.ID, 5)
	require.NoError(t, err)
	assert.True(t, ticket.IsSuccess())
	assert.Equal(t, "990", ticket.Amount.String())

	ticket, err = env.ticketRepo.Get(ctx, res.ID, 6)
	require.NoError(t, err)
	assert.Equal(t, ledger.CodeExhausted, ticket.Code)

	pending, err := env.ticketRepo.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

// TestClaimService_ReconcilePending_StillOpen 测试红包仍可领取时保持 pending
func TestClaimService_ReconcilePending_StillOpen(t *testing.T) {
	env := newTestEnv(t)
	env.fund(1, 10000)
	ctx := context.Background()
	res := env.createEnvelope(t, 1, "10.00", 3)

	_, _, err := env.ticketRepo.InsertPending(ctx, &model.ClaimTicket{
		EnvelopeID: res.ID, UID: 9, Recipient: env.resolver.AddressOf(9), CreatedAt: env.clock.Now().UnixMilli(),
	})
	require.NoError(t, err)

	env.clock.Advance(time.Hour)
	out, err := env.claims.ReconcilePending(ctx, time.Minute, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, out.StillPending)

	// 过期后记为 1107
	env.clock.Advance(24 * time.Hour)
	out, err = env.claims.ReconcilePending(ctx, time.Minute, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Rejected)
	ticket, err := env.ticketRepo.Get(ctx, res.ID, 9)
	require.NoError(t, err)
	assert.Equal(t, ledger.CodeExpired, ticket.Code)
}
