package blockchain

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockNonceReader struct {
	mu    sync.Mutex
	nonce uint64
	calls int
}

func (m *mockNonceReader) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.nonce, nil
}

func setupNonceManager(t *testing.T, initial uint64) (*NonceManager, *mockNonceReader, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	reader := &mockNonceReader{nonce: initial}
	nm := NewNonceManager(reader, rdb, &NonceManagerConfig{
		Wallet:   common.HexToAddress("0x1234567890123456789012345678901234567890"),
		ChainID:  31337,
		LockWait: 2 * time.Second,
	})
	return nm, reader, mr
}

// TestNonceManager_Sequential 测试顺序分配
func TestNonceManager_Sequential(t *testing.T) {
	nm, _, _ := setupNonceManager(t, 7)
	ctx := context.Background()

	for want := uint64(7); want < 10; want++ {
		n, err := nm.Acquire(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
}

// TestNonceManager_Concurrent 测试并发分配不重复
func TestNonceManager_Concurrent(t *testing.T) {
	nm, _, _ := setupNonceManager(t, 0)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[uint64]bool)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := nm.Acquire(ctx)
			require.NoError(t, err)
			mu.Lock()
			seen[n] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 20)
	for i := uint64(0); i < 20; i++ {
		assert.True(t, seen[i], "nonce %d missing", i)
	}
}

// TestNonceManager_Release 测试归还未广播的 nonce
func TestNonceManager_Release(t *testing.T) {
	nm, reader, _ := setupNonceManager(t, 3)
	ctx := context.Background()

	n, err := nm.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, nm.Release(ctx, n, false))

	again, err := nm.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, n, again)

	// 已有更高 nonce 时下次分配重新同步
	a, _ := nm.Acquire(ctx)
	_, _ = nm.Acquire(ctx)
	reader.mu.Lock()
	reader.nonce = a
	reader.mu.Unlock()
	require.NoError(t, nm.Release(ctx, a, false))

	next, err := nm.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, a, next)

	// 已广播的 nonce 不归还
	require.NoError(t, nm.Release(ctx, next, true))
	cur, err := nm.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, next+1, cur)
}

// TestNonceManager_LockTimeout 测试锁等待超时
func TestNonceManager_LockTimeout(t *testing.T) {
	nm, _, mr := setupNonceManager(t, 0)
	nm.lockWait = 50 * time.Millisecond
	require.NoError(t, mr.Set(nm.lockKey(), "other"))

	_, err := nm.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrNonceLockTimeout)
}
