package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kami1983/sl-runes-agent/internal/blockchain"
	"github.com/kami1983/sl-runes-agent/pkg/logger"
)

// RedEnvelopeABI 红包合约接口
//
//	function createEnvelope(uint16 num, address token, address owner, string memo, bool isRandom, uint256 amount, uint64 expiresAt) returns (uint256)
//	function grab(uint256 id, address claimant) returns (uint256)
//	function revoke(uint256 id) returns (uint256)
//	function getEnvelope(uint256 id) view returns (...)
//	function getRidsByOwner(address owner) view returns (uint256[])
//	function isAgentAcc(address account) view returns (bool)
//	error RedEnvelopeError(uint64 code, string message)
//
// expiresAt 以纳秒为单位, 0 表示不过期.
const RedEnvelopeABI = `[
	{"type":"function","name":"createEnvelope","stateMutability":"nonpayable",
	 "inputs":[{"name":"num","type":"uint16"},{"name":"token","type":"address"},{"name":"owner","type":"address"},
	           {"name":"memo","type":"string"},{"name":"isRandom","type":"bool"},{"name":"amount","type":"uint256"},
	           {"name":"expiresAt","type":"uint64"}],
	 "outputs":[{"name":"id","type":"uint256"}]},
	{"type":"function","name":"grab","stateMutability":"nonpayable",
	 "inputs":[{"name":"id","type":"uint256"},{"name":"claimant","type":"address"}],
	 "outputs":[{"name":"grabAmount","type":"uint256"}]},
	{"type":"function","name":"revoke","stateMutability":"nonpayable",
	 "inputs":[{"name":"id","type":"uint256"}],
	 "outputs":[{"name":"refund","type":"uint256"}]},
	{"type":"function","name":"getEnvelope","stateMutability":"view",
	 "inputs":[{"name":"id","type":"uint256"}],
	 "outputs":[{"name":"found","type":"bool"},{"name":"num","type":"uint16"},{"name":"status","type":"uint8"},
	            {"name":"token","type":"address"},{"name":"owner","type":"address"},{"name":"memo","type":"string"},
	            {"name":"isRandom","type":"bool"},{"name":"amount","type":"uint256"},{"name":"expiresAt","type":"uint64"},
	            {"name":"participants","type":"address[]"},{"name":"amounts","type":"uint256[]"}]},
	{"type":"function","name":"getRidsByOwner","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"}],
	 "outputs":[{"name":"ids","type":"uint256[]"}]},
	{"type":"function","name":"isAgentAcc","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"}],
	 "outputs":[{"name":"ok","type":"bool"}]},
	{"type":"event","name":"EnvelopeCreated","inputs":[
	 {"name":"id","type":"uint256","indexed":true},{"name":"owner","type":"address","indexed":true},
	 {"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"EnvelopeGrabbed","inputs":[
	 {"name":"id","type":"uint256","indexed":true},{"name":"claimant","type":"address","indexed":true},
	 {"name":"amount","type":"uint256","indexed":false},{"name":"participantsNum","type":"uint16","indexed":false},
	 {"name":"allNum","type":"uint16","indexed":false},{"name":"allAmount","type":"uint256","indexed":false},
	 {"name":"unreceivedAmount","type":"uint256","indexed":false}]},
	{"type":"event","name":"EnvelopeRevoked","inputs":[
	 {"name":"id","type":"uint256","indexed":true},{"name":"refund","type":"uint256","indexed":false}]},
	{"type":"error","name":"RedEnvelopeError","inputs":[
	 {"name":"code","type":"uint64"},{"name":"message","type":"string"}]}
]`

// ERC20ABI 代币账本接口, 代理账户经授权后以 transferFrom 代用户转账
const ERC20ABI = `[
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"transferFrom","stateMutability":"nonpayable",
	 "inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]}
]`

var errMissingEvent = errors.New("expected event not found in receipt")

// ChainBackend 合约客户端依赖的链能力
type ChainBackend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Transact(ctx context.Context, nonces blockchain.NonceSource, to common.Address, data []byte) (*types.Receipt, error)
}

// ContractClient 基于 EVM 合约的远端账本
type ContractClient struct {
	backend     ChainBackend
	nonces      blockchain.NonceSource
	envelope    common.Address
	envelopeABI abi.ABI
	erc20ABI    abi.ABI
	transferFee decimal.Decimal
	callTimeout time.Duration
}

// ContractConfig 合约客户端配置
type ContractConfig struct {
	EnvelopeContract string
	TransferFee      decimal.Decimal
	CallTimeout      time.Duration
}

// NewContractClient 创建合约客户端
func NewContractClient(backend ChainBackend, nonces blockchain.NonceSource, cfg *ContractConfig) (*ContractClient, error) {
	if !common.IsHexAddress(cfg.EnvelopeContract) {
		return nil, fmt.Errorf("invalid envelope contract address %q", cfg.EnvelopeContract)
	}
	envABI, err := abi.JSON(strings.NewReader(RedEnvelopeABI))
	if err != nil {
		return nil, err
	}
	ercABI, err := abi.JSON(strings.NewReader(ERC20ABI))
	if err != nil {
		return nil, err
	}
	timeout := cfg.CallTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ContractClient{
		backend:     backend,
		nonces:      nonces,
		envelope:    common.HexToAddress(cfg.EnvelopeContract),
		envelopeABI: envABI,
		erc20ABI:    ercABI,
		transferFee: cfg.TransferFee,
		callTimeout: timeout,
	}, nil
}

func toBig(d decimal.Decimal) *big.Int {
	return d.BigInt()
}

func fromBig(b *big.Int) decimal.Decimal {
	if b == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(b, 0)
}

func nanosToTime(ns uint64) *time.Time {
	if ns == 0 {
		return nil
	}
	t := time.Unix(0, int64(ns))
	return &t
}

// call 只读调用, 返回解包后的输出
func (c *ContractClient) call(ctx context.Context, contractABI abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, c.decodeRevert(err)
	}
	return contractABI.Unpack(method, out)
}

// transact 发送交易, revert 数据解码为 RemoteError
func (c *ContractClient) transact(ctx context.Context, to common.Address, data []byte) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	receipt, err := c.backend.Transact(ctx, c.nonces, to, data)
	if err != nil {
		return nil, c.decodeRevert(err)
	}
	return receipt, nil
}

// decodeRevert 解析 RedEnvelopeError(uint64,string) 自定义错误
func (c *ContractClient) decodeRevert(err error) error {
	var dataErr interface{ ErrorData() interface{} }
	if !errors.As(err, &dataErr) {
		return err
	}
	hexData, ok := dataErr.ErrorData().(string)
	if !ok {
		return err
	}
	raw, decodeErr := hexutil.Decode(hexData)
	if decodeErr != nil || len(raw) < 4 {
		return err
	}
	if re := c.unpackRemoteError(raw); re != nil {
		return re
	}
	return err
}

func (c *ContractClient) unpackRemoteError(raw []byte) *RemoteError {
	def, ok := c.envelopeABI.Errors["RedEnvelopeError"]
	if !ok || len(raw) < 4 || !bytes.Equal(raw[:4], def.ID.Bytes()[:4]) {
		return nil
	}
	vals, err := def.Inputs.Unpack(raw[4:])
	if err != nil || len(vals) != 2 {
		return nil
	}
	code, _ := vals[0].(uint64)
	msg, _ := vals[1].(string)
	return &RemoteError{Code: int64(code), Message: msg}
}

// findEvent 在回执中查找本合约的事件
func (c *ContractClient) findEvent(receipt *types.Receipt, name string) (*types.Log, error) {
	ev, ok := c.envelopeABI.Events[name]
	if !ok {
		return nil, fmt.Errorf("unknown event %s", name)
	}
	for _, l := range receipt.Logs {
		if l.Address == c.envelope && len(l.Topics) > 0 && l.Topics[0] == ev.ID {
			return l, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", errMissingEvent, name)
}

// ========== 红包合约 ==========

// Create 登记红包, 编号取自 EnvelopeCreated 事件
func (c *ContractClient) Create(ctx context.Context, req *CreateRequest) (int64, error) {
	if req.Num <= 0 || req.Num > 65535 {
		return 0, NewRemoteError(CodeInvalidArgument, "share count %d out of range", req.Num)
	}
	var expires uint64
	if req.ExpiresAt != nil {
		expires = uint64(req.ExpiresAt.UnixNano())
	}
	data, err := c.envelopeABI.Pack("createEnvelope",
		uint16(req.Num),
		common.HexToAddress(req.TokenID),
		common.HexToAddress(req.Owner),
		req.Memo,
		req.IsRandom,
		toBig(req.Amount),
		expires,
	)
	if err != nil {
		return 0, err
	}

	receipt, err := c.transact(ctx, c.envelope, data)
	if err != nil {
		return 0, err
	}
	l, err := c.findEvent(receipt, "EnvelopeCreated")
	if err != nil || len(l.Topics) < 2 {
		return 0, fmt.Errorf("create envelope tx %s: %w", receipt.TxHash.Hex(), errMissingEvent)
	}
	id := new(big.Int).SetBytes(l.Topics[1].Bytes()).Int64()

	logger.Info("envelope registered on chain",
		zap.Int64("envelope_id", id),
		zap.String("tx_hash", receipt.TxHash.Hex()))
	return id, nil
}

type grabbedEvent struct {
	Amount           *big.Int
	ParticipantsNum  uint16
	AllNum           uint16
	AllAmount        *big.Int
	UnreceivedAmount *big.Int
}

// Grab 代领取人抢红包, 结果取自 EnvelopeGrabbed 事件
func (c *ContractClient) Grab(ctx context.Context, envelopeID int64, claimant string) (*GrabResult, error) {
	data, err := c.envelopeABI.Pack("grab", big.NewInt(envelopeID), common.HexToAddress(claimant))
	if err != nil {
		return nil, err
	}
	receipt, err := c.transact(ctx, c.envelope, data)
	if err != nil {
		return nil, err
	}
	l, err := c.findEvent(receipt, "EnvelopeGrabbed")
	if err != nil {
		return nil, err
	}
	var ev grabbedEvent
	if err := c.envelopeABI.UnpackIntoInterface(&ev, "EnvelopeGrabbed", l.Data); err != nil {
		return nil, err
	}
	return &GrabResult{
		ID:         envelopeID,
		GrabAmount: fromBig(ev.Amount),
		Summary: Summary{
			AllNum:           int(ev.AllNum),
			ParticipantsNum:  int(ev.ParticipantsNum),
			AllAmount:        fromBig(ev.AllAmount),
			UnreceivedAmount: fromBig(ev.UnreceivedAmount),
		},
	}, nil
}

// Revoke 撤销红包, 退款金额取自 EnvelopeRevoked 事件
func (c *ContractClient) Revoke(ctx context.Context, envelopeID int64) (decimal.Decimal, error) {
	data, err := c.envelopeABI.Pack("revoke", big.NewInt(envelopeID))
	if err != nil {
		return decimal.Zero, err
	}
	receipt, err := c.transact(ctx, c.envelope, data)
	if err != nil {
		return decimal.Zero, err
	}
	l, err := c.findEvent(receipt, "EnvelopeRevoked")
	if err != nil {
		return decimal.Zero, err
	}
	var ev struct{ Refund *big.Int }
	if err := c.envelopeABI.UnpackIntoInterface(&ev, "EnvelopeRevoked", l.Data); err != nil {
		return decimal.Zero, err
	}
	return fromBig(ev.Refund), nil
}

// Get 查询红包
func (c *ContractClient) Get(ctx context.Context, envelopeID int64) (*Envelope, error) {
	out, err := c.call(ctx, c.envelopeABI, c.envelope, "getEnvelope", big.NewInt(envelopeID))
	if err != nil {
		return nil, err
	}
	if len(out) != 11 {
		return nil, fmt.Errorf("getEnvelope: unexpected output length %d", len(out))
	}
	if found, _ := out[0].(bool); !found {
		return nil, nil
	}

	num, _ := out[1].(uint16)
	status, _ := out[2].(uint8)
	tokenAddr, _ := out[3].(common.Address)
	owner, _ := out[4].(common.Address)
	memo, _ := out[5].(string)
	isRandom, _ := out[6].(bool)
	amount, _ := out[7].(*big.Int)
	expires, _ := out[8].(uint64)
	addrs, _ := out[9].([]common.Address)
	amounts, _ := out[10].([]*big.Int)
	if len(addrs) != len(amounts) {
		return nil, fmt.Errorf("getEnvelope: participants/amounts length mismatch")
	}

	env := &Envelope{
		ID:        envelopeID,
		Num:       int(num),
		Status:    EnvelopeStatus(status),
		TokenID:   tokenAddr.Hex(),
		Owner:     owner.Hex(),
		Memo:      memo,
		IsRandom:  isRandom,
		Amount:    fromBig(amount),
		ExpiresAt: nanosToTime(expires),
	}
	for i, a := range addrs {
		env.Participants = append(env.Participants, Participant{Address: a.Hex(), Amount: fromBig(amounts[i])})
	}
	return env, nil
}

// GetWithSummary 查询红包及聚合值
func (c *ContractClient) GetWithSummary(ctx context.Context, envelopeID int64) (*Envelope, *Summary, error) {
	env, err := c.Get(ctx, envelopeID)
	if err != nil || env == nil {
		return nil, nil, err
	}
	s := SummaryOf(env)
	return env, &s, nil
}

// ListOwnedIDs 按所有者列出红包编号
func (c *ContractClient) ListOwnedIDs(ctx context.Context, owner string) ([]int64, error) {
	out, err := c.call(ctx, c.envelopeABI, c.envelope, "getRidsByOwner", common.HexToAddress(owner))
	if err != nil {
		return nil, err
	}
	raw, _ := out[0].([]*big.Int)
	ids := make([]int64, 0, len(raw))
	for _, b := range raw {
		ids = append(ids, b.Int64())
	}
	return ids, nil
}

// IsAgentAccount 是否为代理账户
func (c *ContractClient) IsAgentAccount(ctx context.Context, address string) (bool, error) {
	out, err := c.call(ctx, c.envelopeABI, c.envelope, "isAgentAcc", common.HexToAddress(address))
	if err != nil {
		return false, err
	}
	ok, _ := out[0].(bool)
	return ok, nil
}

// ========== 代币账本 ==========

// BalanceOf ERC-20 余额
func (c *ContractClient) BalanceOf(ctx context.Context, tokenID, owner string) (decimal.Decimal, error) {
	out, err := c.call(ctx, c.erc20ABI, common.HexToAddress(tokenID), "balanceOf", common.HexToAddress(owner))
	if err != nil {
		return decimal.Zero, err
	}
	bal, _ := out[0].(*big.Int)
	return fromBig(bal), nil
}

// Fee 每笔转账的网络费用(按代币最小单位计), 由部署配置给出
func (c *ContractClient) Fee(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	return c.transferFee, nil
}

// Transfer 代理账户执行 transferFrom, 返回交易哈希
func (c *ContractClient) Transfer(ctx context.Context, tokenID, from string, amount decimal.Decimal, to string) (string, error) {
	data, err := c.erc20ABI.Pack("transferFrom",
		common.HexToAddress(from), common.HexToAddress(to), toBig(amount))
	if err != nil {
		return "", err
	}
	receipt, err := c.transact(ctx, common.HexToAddress(tokenID), data)
	if err != nil {
		if strings.Contains(err.Error(), "insufficient") || strings.Contains(err.Error(), "exceeds balance") {
			return "", fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
		}
		return "", err
	}
	return receipt.TxHash.Hex(), nil
}
