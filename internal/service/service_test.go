package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kami1983/sl-runes-agent/internal/event"
	"github.com/kami1983/sl-runes-agent/internal/identity"
	"github.com/kami1983/sl-runes-agent/internal/ledger"
	"github.com/kami1983/sl-runes-agent/internal/memo"
	"github.com/kami1983/sl-runes-agent/internal/model"
	"github.com/kami1983/sl-runes-agent/internal/repository"
	"github.com/kami1983/sl-runes-agent/internal/token"
)

const (
	testEscrowAddress = "escrow-custodian"
	testFeeAddress    = "fee-sink"
	testAgentAddress  = "0xagent"
	icpContract       = "ctr-icp"
	runeContract      = "ctr-rune"
)

// testClock 可调时钟
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testEnv 服务测试环境: sqlite 内存库 + 进程内账本
type testEnv struct {
	db       *gorm.DB
	clock    *testClock
	ledger   *ledger.Memory
	tokens   *token.Registry
	resolver identity.Resolver
	cipher   *memo.Cipher

	envelopeRepo repository.EnvelopeRepository
	ticketRepo   repository.ClaimTicketRepository
	walletRepo   repository.WalletRepository
	fundingRepo  repository.FundingRepository

	escrow    *EscrowService
	envelopes *EnvelopeService
	claims    *ClaimService
	status    *StatusService
	stats     *StatsService
}

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&model.LocalEnvelopeRecord{},
		&model.ClaimTicket{},
		&model.WalletBinding{},
		&model.User{},
		&model.GlobalVar{},
		&model.EscrowFunding{},
	))
	return db
}

func newTestRegistry(t *testing.T) *token.Registry {
	reg, err := token.NewRegistry(
		[]string{"ICP", "RUNE"},
		[]int32{2, 8},
		[]string{icpContract, runeContract},
		map[string]token.Economics{
			"ICP":  {MinPerShare: decimal.NewFromInt(100), FeeRatio: 1, FeeAddress: testFeeAddress},
			"RUNE": {MinPerShare: decimal.NewFromInt(1), FeeRatio: 0, FeeAddress: testFeeAddress},
		},
	)
	require.NoError(t, err)
	return reg
}

func newTestEnv(t *testing.T, opts ...ledger.MemoryOption) *testEnv {
	return newTestEnvWith(t, nil, event.NoopPublisher{}, opts...)
}

// newTestEnvWith wrap 为 nil 时直接使用进程内账本作为远端
func newTestEnvWith(t *testing.T, wrap func(*ledger.Memory) ledger.Client, events event.Publisher, opts ...ledger.MemoryOption) *testEnv {
	clock := &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	mem := ledger.NewMemory(append([]ledger.MemoryOption{
		ledger.WithClock(clock.Now),
		ledger.WithSeed(7),
		ledger.WithAgents(testAgentAddress),
	}, opts...)...)
	var remote ledger.Client = mem
	if wrap != nil {
		remote = wrap(mem)
	}

	cipher, err := memo.NewCipher("0123456789abcdef0123456789abcdef", "abcdef9876543210")
	require.NoError(t, err)

	db := setupTestDB(t)
	env := &testEnv{
		db:           db,
		clock:        clock,
		ledger:       mem,
		tokens:       newTestRegistry(t),
		resolver:     identity.NewSaltedResolver("test-salt"),
		cipher:       cipher,
		envelopeRepo: repository.NewEnvelopeRepository(db),
		ticketRepo:   repository.NewClaimTicketRepository(db),
		walletRepo:   repository.NewWalletRepository(db),
		fundingRepo:  repository.NewFundingRepository(db),
	}

	env.escrow = NewEscrowService(mem, env.fundingRepo, env.resolver, events, &EscrowServiceConfig{
		EscrowAddress: testEscrowAddress,
		MaxAmount:     1000,
		MaxShareCount: 50,
	})
	env.escrow.SetClock(clock.Now)

	env.envelopes = NewEnvelopeService(remote, env.envelopeRepo, env.escrow, env.tokens, cipher, env.resolver, events,
		&EnvelopeServiceConfig{DefaultExpireDays: 1, AgentAddress: testAgentAddress})
	env.envelopes.SetClock(clock.Now)

	env.claims = NewClaimService(remote, env.ticketRepo, env.walletRepo, env.envelopeRepo, env.tokens, env.resolver, events)
	env.claims.SetClock(clock.Now)

	env.status = NewStatusService(remote, env.envelopeRepo, env.ticketRepo, env.tokens, env.resolver)
	env.status.SetClock(clock.Now)

	env.stats = NewStatsService(env.envelopeRepo, env.ticketRepo, env.walletRepo, env.fundingRepo)
	env.stats.SetClock(clock.Now)

	return env
}

// fund 给用户充值 ICP 最小单位
func (e *testEnv) fund(uid int64, minor int64) {
	e.ledger.Mint(icpContract, e.resolver.AddressOf(uid), decimal.NewFromInt(minor))
}

func (e *testEnv) balance(address string) decimal.Decimal {
	bal, _ := e.ledger.BalanceOf(context.Background(), icpContract, address)
	return bal
}

// createEnvelope 创建一个 ICP 红包, 失败时终止测试
func (e *testEnv) createEnvelope(t *testing.T, uid int64, amountText string, shares int) *CreateEnvelopeResult {
	res, err := e.envelopes.Create(context.Background(), &CreateEnvelopeRequest{
		Tid:        0,
		UID:        uid,
		Amount:     amountText,
		ShareCount: shares,
		Memo:       "恭喜发财",
	})
	require.NoError(t, err)
	return res
}

// mockPublisher 模拟事件发布器
type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishEnvelopeCreated(ctx context.Context, evt *event.EnvelopeCreated) error {
	return m.Called(ctx, evt).Error(0)
}

func (m *mockPublisher) PublishEnvelopeGrabbed(ctx context.Context, evt *event.EnvelopeGrabbed) error {
	return m.Called(ctx, evt).Error(0)
}

func (m *mockPublisher) PublishEnvelopeRevoked(ctx context.Context, evt *event.EnvelopeRevoked) error {
	return m.Called(ctx, evt).Error(0)
}

func (m *mockPublisher) PublishEnvelopeSent(ctx context.Context, evt *event.EnvelopeSent) error {
	return m.Called(ctx, evt).Error(0)
}

func (m *mockPublisher) PublishFundingOrphaned(ctx context.Context, evt *event.FundingOrphaned) error {
	return m.Called(ctx, evt).Error(0)
}

// mockTokenLedger 模拟代币账本
type mockTokenLedger struct {
	mock.Mock
}

func (m *mockTokenLedger) BalanceOf(ctx context.Context, tokenID, owner string) (decimal.Decimal, error) {
	args := m.Called(ctx, tokenID, owner)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *mockTokenLedger) Fee(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	args := m.Called(ctx, tokenID)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *mockTokenLedger) Transfer(ctx context.Context, tokenID, from string, amount decimal.Decimal, to string) (string, error) {
	args := m.Called(ctx, tokenID, from, amount, to)
	return args.String(0), args.Error(1)
}

// flakyLedger 抢红包时返回传输错误的账本
type flakyLedger struct {
	*ledger.Memory
	grabErr error
}

func (f *flakyLedger) Grab(ctx context.Context, envelopeID int64, claimant string) (*ledger.GrabResult, error) {
	if f.grabErr != nil {
		return nil, f.grabErr
	}
	return f.Memory.Grab(ctx, envelopeID, claimant)
}
