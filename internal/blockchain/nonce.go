package blockchain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

var ErrNonceLockTimeout = errors.New("nonce lock timeout")

// PendingNonceReader 链上 nonce 查询
type PendingNonceReader interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceManager 代理账户 nonce 管理
// 多实例共享同一代理账户, 通过 Redis 锁串行分配
type NonceManager struct {
	chain       PendingNonceReader
	redis       redis.UniversalClient
	wallet      common.Address
	chainID     int64
	lockTimeout time.Duration
	lockWait    time.Duration

	mu           sync.Mutex
	lastSyncTime time.Time
	syncInterval time.Duration
}

// NonceManagerConfig 配置
type NonceManagerConfig struct {
	Wallet       common.Address
	ChainID      int64
	LockTimeout  time.Duration
	LockWait     time.Duration
	SyncInterval time.Duration
}

// NewNonceManager 创建 nonce 管理器
func NewNonceManager(chain PendingNonceReader, rdb redis.UniversalClient, cfg *NonceManagerConfig) *NonceManager {
	m := &NonceManager{
		chain:        chain,
		redis:        rdb,
		wallet:       cfg.Wallet,
		chainID:      cfg.ChainID,
		lockTimeout:  cfg.LockTimeout,
		lockWait:     cfg.LockWait,
		syncInterval: cfg.SyncInterval,
	}
	if m.lockTimeout == 0 {
		m.lockTimeout = 30 * time.Second
	}
	if m.lockWait == 0 {
		m.lockWait = 10 * time.Second
	}
	if m.syncInterval == 0 {
		m.syncInterval = 5 * time.Minute
	}
	return m
}

func (m *NonceManager) nonceKey() string {
	return fmt.Sprintf("rbot:chain:nonce:%s:%d", m.wallet.Hex(), m.chainID)
}

func (m *NonceManager) lockKey() string {
	return fmt.Sprintf("rbot:chain:nonce:lock:%s:%d", m.wallet.Hex(), m.chainID)
}

// Acquire 分配下一个 nonce
func (m *NonceManager) Acquire(ctx context.Context) (uint64, error) {
	if err := m.lock(ctx); err != nil {
		return 0, err
	}
	defer m.unlock(ctx)

	if m.needsSync() {
		if err := m.syncFromChain(ctx); err != nil {
			return 0, err
		}
	}

	nonce, err := m.current(ctx)
	if err != nil {
		return 0, err
	}
	if err := m.redis.Set(ctx, m.nonceKey(), nonce+1, 0).Err(); err != nil {
		return 0, err
	}
	return nonce, nil
}

// Release 交易未广播时归还 nonce; 若已有更高 nonce 被分配, 下次分配前从链上重新同步
func (m *NonceManager) Release(ctx context.Context, nonce uint64, used bool) error {
	if used {
		return nil
	}
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.unlock(ctx)

	cur, err := m.current(ctx)
	if err != nil {
		return err
	}
	if cur == nonce+1 {
		return m.redis.Set(ctx, m.nonceKey(), nonce, 0).Err()
	}

	m.mu.Lock()
	m.lastSyncTime = time.Time{}
	m.mu.Unlock()
	return nil
}

// Current 当前待分配 nonce
func (m *NonceManager) Current(ctx context.Context) (uint64, error) {
	return m.current(ctx)
}

// Sync 强制从链上同步
func (m *NonceManager) Sync(ctx context.Context) error {
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.unlock(ctx)
	return m.syncFromChain(ctx)
}

func (m *NonceManager) syncFromChain(ctx context.Context) error {
	chainNonce, err := m.chain.PendingNonceAt(ctx, m.wallet)
	if err != nil {
		return err
	}
	if err := m.redis.Set(ctx, m.nonceKey(), chainNonce, 0).Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.lastSyncTime = time.Now()
	m.mu.Unlock()
	return nil
}

func (m *NonceManager) current(ctx context.Context) (uint64, error) {
	val, err := m.redis.Get(ctx, m.nonceKey()).Uint64()
	if errors.Is(err, redis.Nil) {
		return m.chain.PendingNonceAt(ctx, m.wallet)
	}
	return val, err
}

func (m *NonceManager) needsSync() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Since(m.lastSyncTime) > m.syncInterval
}

func (m *NonceManager) lock(ctx context.Context) error {
	deadline := time.Now().Add(m.lockWait)
	for {
		ok, err := m.redis.SetNX(ctx, m.lockKey(), "1", m.lockTimeout).Result()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrNonceLockTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func (m *NonceManager) unlock(ctx context.Context) {
	m.redis.Del(ctx, m.lockKey())
}
