package blockchain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/kami1983/sl-runes-agent/pkg/logger"
)

var (
	ErrNoHealthyRPC     = errors.New("no healthy RPC endpoint available")
	ErrNoSigner         = errors.New("agent private key not configured")
	ErrTxNotFound       = errors.New("transaction not found")
	ErrTxFailed         = errors.New("transaction failed")
	ErrReceiptTimeout   = errors.New("timed out waiting for receipt")
	ErrEmptyRPCEndpoint = errors.New("at least one RPC URL is required")
)

// RPCEndpoint RPC 端点状态
type RPCEndpoint struct {
	URL        string
	IsHealthy  bool
	ErrorCount int
	LastCheck  time.Time
}

// Client 带端点故障转移的 JSON-RPC 客户端, 持有代理账户签名密钥
type Client struct {
	chainID    int64
	privateKey *ecdsa.PrivateKey
	address    common.Address

	endpoints  []*RPCEndpoint
	currentIdx int
	mu         sync.RWMutex
	client     *ethclient.Client

	maxRetries      int
	retryInterval   time.Duration
	healthCheckFreq time.Duration
	receiptPoll     time.Duration
}

// ClientConfig 客户端配置
type ClientConfig struct {
	ChainID         int64
	PrivateKey      string
	RPCURLs         []string
	MaxRetries      int
	RetryInterval   time.Duration
	HealthCheckFreq time.Duration
	ReceiptPoll     time.Duration
}

// NewClient 创建客户端并连接第一个可用端点
func NewClient(ctx context.Context, cfg *ClientConfig) (*Client, error) {
	urls := make([]string, 0, len(cfg.RPCURLs))
	for _, u := range cfg.RPCURLs {
		if strings.TrimSpace(u) != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return nil, ErrEmptyRPCEndpoint
	}

	c := &Client{
		chainID:         cfg.ChainID,
		maxRetries:      cfg.MaxRetries,
		retryInterval:   cfg.RetryInterval,
		healthCheckFreq: cfg.HealthCheckFreq,
		receiptPoll:     cfg.ReceiptPoll,
	}
	if c.maxRetries == 0 {
		c.maxRetries = 3
	}
	if c.retryInterval == 0 {
		c.retryInterval = time.Second
	}
	if c.healthCheckFreq == 0 {
		c.healthCheckFreq = 30 * time.Second
	}
	if c.receiptPoll == 0 {
		c.receiptPoll = 2 * time.Second
	}

	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse agent key: %w", err)
		}
		c.privateKey = key
		c.address = crypto.PubkeyToAddress(key.PublicKey)
	}

	for _, u := range urls {
		c.endpoints = append(c.endpoints, &RPCEndpoint{URL: u, IsHealthy: true})
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// connect 从当前端点开始轮询, 切换到第一个可用端点
func (c *Client) connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.endpoints {
		idx := (c.currentIdx + i) % len(c.endpoints)
		ep := c.endpoints[idx]

		if !ep.IsHealthy && time.Since(ep.LastCheck) < c.healthCheckFreq {
			continue
		}

		cli, err := ethclient.DialContext(ctx, ep.URL)
		if err == nil {
			_, err = cli.ChainID(ctx)
			if err != nil {
				cli.Close()
			}
		}
		if err != nil {
			ep.IsHealthy = false
			ep.ErrorCount++
			ep.LastCheck = time.Now()
			logger.Warn("rpc endpoint unavailable", zap.String("url", ep.URL), zap.Error(err))
			continue
		}

		if c.client != nil {
			c.client.Close()
		}
		c.client = cli
		c.currentIdx = idx
		ep.IsHealthy = true
		ep.ErrorCount = 0
		ep.LastCheck = time.Now()
		return nil
	}

	return ErrNoHealthyRPC
}

func (c *Client) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.mu.RLock()
	cli := c.client
	c.mu.RUnlock()
	if cli != nil {
		return cli, nil
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client, nil
}

// withRetry 失败时标记端点并切换, 只重试传输层错误
func (c *Client) withRetry(ctx context.Context, fn func(*ethclient.Client) error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		cli, err := c.getClient(ctx)
		if err == nil {
			err = fn(cli)
			if err == nil || !isTransportError(err) {
				return err
			}
			c.markUnhealthy()
		}
		lastErr = err

		if i < c.maxRetries-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryInterval):
			}
			_ = c.connect(ctx)
		}
	}
	return lastErr
}

func (c *Client) markUnhealthy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.currentIdx < len(c.endpoints) {
		ep := c.endpoints[c.currentIdx]
		ep.IsHealthy = false
		ep.ErrorCount++
		ep.LastCheck = time.Now()
	}
}

// isTransportError revert 与合约业务错误不重试
func isTransportError(err error) bool {
	if err == nil {
		return false
	}
	var dataErr interface{ ErrorData() interface{} }
	if errors.As(err, &dataErr) {
		return false
	}
	if errors.Is(err, ethereum.NotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := err.Error()
	for _, s := range []string{"execution reverted", "nonce too low", "insufficient funds", "already known"} {
		if strings.Contains(msg, s) {
			return false
		}
	}
	return true
}

// Address 代理账户地址
func (c *Client) Address() common.Address {
	return c.address
}

// ChainID 链 ID
func (c *Client) ChainID() int64 {
	return c.chainID
}

// CanSign 是否配置了签名密钥
func (c *Client) CanSign() bool {
	return c.privateKey != nil
}

// BlockNumber 最新区块号
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var n uint64
	err := c.withRetry(ctx, func(cli *ethclient.Client) error {
		var err error
		n, err = cli.BlockNumber(ctx)
		return err
	})
	return n, err
}

// CallContract 只读调用
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	var out []byte
	err := c.withRetry(ctx, func(cli *ethclient.Client) error {
		var err error
		out, err = cli.CallContract(ctx, msg, blockNumber)
		return err
	})
	return out, err
}

// PendingNonceAt 链上待处理 nonce
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	var nonce uint64
	err := c.withRetry(ctx, func(cli *ethclient.Client) error {
		var err error
		nonce, err = cli.PendingNonceAt(ctx, account)
		return err
	})
	return nonce, err
}

// SuggestGasPrice 建议 gas 价格
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var price *big.Int
	err := c.withRetry(ctx, func(cli *ethclient.Client) error {
		var err error
		price, err = cli.SuggestGasPrice(ctx)
		return err
	})
	return price, err
}

// EstimateGas 估算 gas, 合约 revert 在这里暴露
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	var gas uint64
	err := c.withRetry(ctx, func(cli *ethclient.Client) error {
		var err error
		gas, err = cli.EstimateGas(ctx, msg)
		return err
	})
	return gas, err
}

// SendTransaction 广播交易
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return c.withRetry(ctx, func(cli *ethclient.Client) error {
		return cli.SendTransaction(ctx, tx)
	})
}

// TransactionReceipt 交易回执
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := c.withRetry(ctx, func(cli *ethclient.Client) error {
		var err error
		receipt, err = cli.TransactionReceipt(ctx, hash)
		if errors.Is(err, ethereum.NotFound) {
			return ErrTxNotFound
		}
		return err
	})
	return receipt, err
}

// SignTransaction EIP-155 签名
func (c *Client) SignTransaction(tx *types.Transaction) (*types.Transaction, error) {
	if c.privateKey == nil {
		return nil, ErrNoSigner
	}
	return types.SignTx(tx, types.NewEIP155Signer(big.NewInt(c.chainID)), c.privateKey)
}

// NonceSource 分配交易 nonce
type NonceSource interface {
	Acquire(ctx context.Context) (uint64, error)
	Release(ctx context.Context, nonce uint64, used bool) error
}

// Transact 以代理账户发送合约调用并等待回执, 回执状态失败返回 ErrTxFailed
func (c *Client) Transact(ctx context.Context, nonces NonceSource, to common.Address, data []byte) (*types.Receipt, error) {
	if c.privateKey == nil {
		return nil, ErrNoSigner
	}

	msg := ethereum.CallMsg{From: c.address, To: &to, Data: data}
	gas, err := c.EstimateGas(ctx, msg)
	if err != nil {
		return nil, err
	}
	price, err := c.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}

	nonce, err := nonces.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	tx := types.NewTransaction(nonce, to, big.NewInt(0), gas*12/10, price, data)
	signed, err := c.SignTransaction(tx)
	if err != nil {
		_ = nonces.Release(ctx, nonce, false)
		return nil, err
	}
	if err := c.SendTransaction(ctx, signed); err != nil {
		_ = nonces.Release(ctx, nonce, false)
		return nil, err
	}
	_ = nonces.Release(ctx, nonce, true)

	logger.Debug("transaction sent",
		zap.String("tx_hash", signed.Hash().Hex()),
		zap.Uint64("nonce", nonce),
		zap.String("to", to.Hex()))

	receipt, err := c.waitReceipt(ctx, signed.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s", ErrTxFailed, signed.Hash().Hex())
	}
	return receipt, nil
}

func (c *Client) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(c.receiptPoll)
	defer ticker.Stop()
	for {
		receipt, err := c.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ErrTxNotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrReceiptTimeout, hash.Hex())
		case <-ticker.C:
		}
	}
}

// Close 关闭连接
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}

// HealthCheck 健康检查
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.BlockNumber(ctx)
	return err
}

// HealthyEndpoints 健康端点
func (c *Client) HealthyEndpoints() []RPCEndpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []RPCEndpoint
	for _, ep := range c.endpoints {
		if ep.IsHealthy {
			out = append(out, *ep)
		}
	}
	return out
}
