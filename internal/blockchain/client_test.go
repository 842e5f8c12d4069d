package blockchain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/stretchr/testify/assert"
)

// TestNewClient_Validation 测试客户端配置校验
func TestNewClient_Validation(t *testing.T) {
	ctx := context.Background()

	t.Run("empty RPC URLs", func(t *testing.T) {
		_, err := NewClient(ctx, &ClientConfig{ChainID: 31337, RPCURLs: []string{"", " "}})
		assert.ErrorIs(t, err, ErrEmptyRPCEndpoint)
	})

	t.Run("invalid private key", func(t *testing.T) {
		_, err := NewClient(ctx, &ClientConfig{
			ChainID:    31337,
			PrivateKey: "invalid-key",
			RPCURLs:    []string{"http://127.0.0.1:1"},
		})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "parse agent key")
	})

	t.Run("unreachable endpoint", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_, err := NewClient(ctx, &ClientConfig{
			ChainID:    31337,
			PrivateKey: "0x0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef",
			RPCURLs:    []string{"http://127.0.0.1:1"},
		})
		assert.ErrorIs(t, err, ErrNoHealthyRPC)
	})
}

type dataErr struct{}

func (dataErr) Error() string { return "execution reverted: custom" }
func (dataErr) ErrorData() interface{} { return "0x08c379a0" }

// TestIsTransportError 测试重试判定
func TestIsTransportError(t *testing.T) {
	assert.False(t, isTransportError(nil))
	assert.False(t, isTransportError(dataErr{}))
	assert.False(t, isTransportError(ethereum.NotFound))
	assert.False(t, isTransportError(context.DeadlineExceeded))
	assert.False(t, isTransportError(errors.New("nonce too low")))
	assert.True(t, isTransportError(errors.New("dial tcp 127.0.0.1:8545: connect: connection refused")))
}
