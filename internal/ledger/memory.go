package ledger

import (
	"context"
	"math/big"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kami1983/sl-runes-agent/pkg/logger"
)

// Memory 进程内权威账本
//
// 每个红包持有独立的锁, 同一红包的抢/撤销严格串行, 不同红包互不阻塞.
type Memory struct {
	mu        sync.RWMutex
	nextID    int64
	envelopes map[int64]*memEnvelope
	agents    map[string]bool
	allowed   map[string]bool

	balMu    sync.Mutex
	balances map[string]map[string]decimal.Decimal
	fees     map[string]decimal.Decimal
	txSeq    int64

	rngMu sync.Mutex
	rng   *rand.Rand
	now   func() time.Time
}

type memEnvelope struct {
	mu      sync.Mutex
	env     Envelope
	revoked bool
}

// MemoryOption Memory 选项
type MemoryOption func(*Memory)

// WithClock 替换时钟
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// WithSeed 固定随机拆分种子
func WithSeed(seed int64) MemoryOption {
	return func(m *Memory) { m.rng = rand.New(rand.NewSource(seed)) }
}

// WithAgents 设置代理账户
func WithAgents(addresses ...string) MemoryOption {
	return func(m *Memory) {
		for _, a := range addresses {
			if a != "" {
				m.agents[strings.ToLower(a)] = true
			}
		}
	}
}

// WithAllowedTokens 设置代币白名单, 为空表示不限制
func WithAllowedTokens(tokenIDs ...string) MemoryOption {
	return func(m *Memory) {
		for _, t := range tokenIDs {
			m.allowed[t] = true
		}
	}
}

// NewMemory 创建进程内账本
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		envelopes: make(map[int64]*memEnvelope),
		agents:    make(map[string]bool),
		allowed:   make(map[string]bool),
		balances:  make(map[string]map[string]decimal.Decimal),
		fees:      make(map[string]decimal.Decimal),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ========== 红包合约 ==========

// Create 登记红包, 编号单调递增
func (m *Memory) Create(ctx context.Context, req *CreateRequest) (int64, error) {
	if req.Num <= 0 {
		return 0, NewRemoteError(CodeInvalidArgument, "share count must be positive")
	}
	if !req.Amount.IsPositive() || req.Amount.LessThan(decimal.NewFromInt(int64(req.Num))) {
		return 0, NewRemoteError(CodeInvalidArgument, "amount %s too small for %d shares", req.Amount, req.Num)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.allowed) > 0 && !m.allowed[req.TokenID] {
		return 0, NewRemoteError(CodeTokenNotAllowed, "token %s not in white list", req.TokenID)
	}

	m.nextID++
	id := m.nextID
	env := Envelope{
		ID:       id,
		Num:      req.Num,
		Status:   EnvelopeStatusUnopened,
		TokenID:  req.TokenID,
		Owner:    req.Owner,
		Memo:     req.Memo,
		IsRandom: req.IsRandom,
		Amount:   req.Amount,
	}
	if req.ExpiresAt != nil {
		t := *req.ExpiresAt
		env.ExpiresAt = &t
	}
	m.envelopes[id] = &memEnvelope{env: env}

	logger.Debug("memory ledger envelope created",
		zap.Int64("envelope_id", id),
		zap.String("amount", req.Amount.String()),
		zap.Int("num", req.Num))

	return id, nil
}

func (m *Memory) lookup(id int64) *memEnvelope {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.envelopes[id]
}

// Grab 领取一份
func (m *Memory) Grab(ctx context.Context, envelopeID int64, claimant string) (*GrabResult, error) {
	me := m.lookup(envelopeID)
	if me == nil {
		return nil, NewRemoteError(CodeNotFound, "envelope %d not found", envelopeID)
	}

	me.mu.Lock()
	defer me.mu.Unlock()

	env := &me.env
	if me.revoked {
		return nil, NewRemoteError(CodeRevoked, "envelope %d revoked", envelopeID)
	}
	if env.ExpiresAt != nil && m.now().After(*env.ExpiresAt) {
		return nil, NewRemoteError(CodeExpired, "envelope %d expired", envelopeID)
	}
	if _, ok := env.ParticipantAmount(claimant); ok {
		return nil, NewRemoteError(CodeAlreadyGrabbed, "envelope %d already grabbed by %s", envelopeID, claimant)
	}
	if env.IsFull() {
		return nil, NewRemoteError(CodeExhausted, "envelope %d exhausted", envelopeID)
	}

	share := m.nextShare(env)
	env.Participants = append(env.Participants, Participant{Address: claimant, Amount: share})
	if env.IsFull() {
		env.Status = EnvelopeStatusExhausted
	} else {
		env.Status = EnvelopeStatusInProgress
	}

	res := &GrabResult{
		ID:         envelopeID,
		GrabAmount: share,
		Summary:    SummaryOf(env),
	}
	if env.ExpiresAt != nil {
		t := *env.ExpiresAt
		res.ExpiresAt = &t
	}
	return res, nil
}

// nextShare 平分时余数归最后一份; 随机时每份至少 1 个最小单位, 上限为剩余均值的两倍
func (m *Memory) nextShare(env *Envelope) decimal.Decimal {
	remainingShares := int64(env.Num - len(env.Participants))
	remaining := env.Amount.Sub(env.Claimed())
	if remainingShares == 1 {
		return remaining
	}

	if !env.IsRandom {
		return env.Amount.Div(decimal.NewFromInt(int64(env.Num))).Floor()
	}

	// 上限 = min(2 * remaining / remainingShares, remaining - (remainingShares - 1))
	upper := remaining.Mul(decimal.NewFromInt(2)).Div(decimal.NewFromInt(remainingShares)).Floor()
	reserve := remaining.Sub(decimal.NewFromInt(remainingShares - 1))
	if upper.GreaterThan(reserve) {
		upper = reserve
	}
	if upper.LessThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}

	m.rngMu.Lock()
	n := new(big.Int).Rand(m.rng, upper.BigInt())
	m.rngMu.Unlock()

	// [1, upper]
	return decimal.NewFromBigInt(n, 0).Add(decimal.NewFromInt(1))
}

// Revoke 撤销红包, 只允许过期后撤销, 返回退还金额
func (m *Memory) Revoke(ctx context.Context, envelopeID int64) (decimal.Decimal, error) {
	me := m.lookup(envelopeID)
	if me == nil {
		return decimal.Zero, NewRemoteError(CodeNotFound, "envelope %d not found", envelopeID)
	}

	me.mu.Lock()
	defer me.mu.Unlock()

	if me.revoked {
		return decimal.Zero, NewRemoteError(CodeRevoked, "envelope %d already revoked", envelopeID)
	}
	env := &me.env
	if env.ExpiresAt != nil && m.now().Before(*env.ExpiresAt) {
		return decimal.Zero, NewRemoteError(CodeNotExpired, "envelope %d not expired", envelopeID)
	}

	me.revoked = true
	refund := env.Amount.Sub(env.Claimed())
	return refund, nil
}

// Get 查询红包
func (m *Memory) Get(ctx context.Context, envelopeID int64) (*Envelope, error) {
	me := m.lookup(envelopeID)
	if me == nil {
		return nil, nil
	}
	me.mu.Lock()
	defer me.mu.Unlock()
	return copyEnvelope(&me.env), nil
}

// GetWithSummary 查询红包及聚合值
func (m *Memory) GetWithSummary(ctx context.Context, envelopeID int64) (*Envelope, *Summary, error) {
	env, err := m.Get(ctx, envelopeID)
	if err != nil || env == nil {
		return nil, nil, err
	}
	s := SummaryOf(env)
	return env, &s, nil
}

// ListOwnedIDs 按所有者列出红包编号
func (m *Memory) ListOwnedIDs(ctx context.Context, owner string) ([]int64, error) {
	m.mu.RLock()
	candidates := make([]*memEnvelope, 0, len(m.envelopes))
	for _, me := range m.envelopes {
		candidates = append(candidates, me)
	}
	m.mu.RUnlock()

	ids := make([]int64, 0)
	for _, me := range candidates {
		me.mu.Lock()
		if me.env.Owner == owner {
			ids = append(ids, me.env.ID)
		}
		me.mu.Unlock()
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// IsAgentAccount 是否为代理账户
func (m *Memory) IsAgentAccount(ctx context.Context, address string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.agents[strings.ToLower(address)], nil
}

func copyEnvelope(e *Envelope) *Envelope {
	out := *e
	out.Participants = append([]Participant(nil), e.Participants...)
	if e.ExpiresAt != nil {
		t := *e.ExpiresAt
		out.ExpiresAt = &t
	}
	return &out
}

// ========== 代币账本 ==========

// SetFee 设置代币网络手续费
func (m *Memory) SetFee(tokenID string, fee decimal.Decimal) {
	m.balMu.Lock()
	defer m.balMu.Unlock()
	m.fees[tokenID] = fee
}

// Mint 给地址充值, 仅用于开发与测试
func (m *Memory) Mint(tokenID, owner string, amount decimal.Decimal) {
	m.balMu.Lock()
	defer m.balMu.Unlock()
	m.credit(tokenID, owner, amount)
}

func (m *Memory) credit(tokenID, owner string, amount decimal.Decimal) {
	book, ok := m.balances[tokenID]
	if !ok {
		book = make(map[string]decimal.Decimal)
		m.balances[tokenID] = book
	}
	book[owner] = book[owner].Add(amount)
}

// BalanceOf 查询余额
func (m *Memory) BalanceOf(ctx context.Context, tokenID, owner string) (decimal.Decimal, error) {
	m.balMu.Lock()
	defer m.balMu.Unlock()
	return m.balances[tokenID][owner], nil
}

// Fee 查询网络手续费
func (m *Memory) Fee(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	m.balMu.Lock()
	defer m.balMu.Unlock()
	return m.fees[tokenID], nil
}

// Transfer 转账, 从转出方额外扣除网络手续费
func (m *Memory) Transfer(ctx context.Context, tokenID, from string, amount decimal.Decimal, to string) (string, error) {
	if amount.IsNegative() {
		return "", NewRemoteError(CodeInvalidArgument, "negative transfer amount")
	}

	m.balMu.Lock()
	defer m.balMu.Unlock()

	fee := m.fees[tokenID]
	total := amount.Add(fee)
	if m.balances[tokenID][from].LessThan(total) {
		return "", ErrInsufficientFunds
	}
	m.credit(tokenID, from, total.Neg())
	m.credit(tokenID, to, amount)
	m.txSeq++
	return decimal.NewFromInt(m.txSeq).String(), nil
}
