package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kami1983/sl-runes-agent/internal/blockchain"
)

var (
	testEnvelopeAddr = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	testTokenAddr    = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	testOwnerAddr    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testClaimAddr    = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	args := m.Called(*msg.To, msg.Data)
	if b := args.Get(0); b != nil {
		return b.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockBackend) Transact(ctx context.Context, nonces blockchain.NonceSource, to common.Address, data []byte) (*types.Receipt, error) {
	args := m.Called(to, data)
	if r := args.Get(0); r != nil {
		return r.(*types.Receipt), args.Error(1)
	}
	return nil, args.Error(1)
}

type revertErr struct{ data string }

func (e revertErr) Error() string          { return "execution reverted" }
func (e revertErr) ErrorData() interface{} { return e.data }

func newTestContractClient(t *testing.T) (*ContractClient, *mockBackend) {
	backend := &mockBackend{}
	c, err := NewContractClient(backend, nil, &ContractConfig{
		EnvelopeContract: testEnvelopeAddr.Hex(),
		TransferFee:      decimal.NewFromInt(10000),
		CallTimeout:      time.Second,
	})
	require.NoError(t, err)
	return c, backend
}

func packRevert(t *testing.T, c *ContractClient, code uint64, msg string) string {
	def := c.envelopeABI.Errors["RedEnvelopeError"]
	payload, err := def.Inputs.Pack(code, msg)
	require.NoError(t, err)
	return hexutil.Encode(append(append([]byte{}, def.ID.Bytes()[:4]...), payload...))
}

// TestNewContractClient_InvalidAddress 测试合约地址校验
func TestNewContractClient_InvalidAddress(t *testing.T) {
	_, err := NewContractClient(&mockBackend{}, nil, &ContractConfig{EnvelopeContract: "not-an-address"})
	assert.Error(t, err)
}

// TestContractClient_Create 测试登记红包并解析事件
func TestContractClient_Create(t *testing.T) {
	c, backend := newTestContractClient(t)

	ev := c.envelopeABI.Events["EnvelopeCreated"]
	data, err := ev.Inputs.NonIndexed().Pack(big.NewInt(9900))
	require.NoError(t, err)
	receipt := &types.Receipt{
		Status: types.ReceiptStatusSuccessful,
		Logs: []*types.Log{{
			Address: testEnvelopeAddr,
			Topics:  []common.Hash{ev.ID, common.BigToHash(big.NewInt(42)), common.BytesToHash(testOwnerAddr.Bytes())},
			Data:    data,
		}},
	}
	backend.On("Transact", testEnvelopeAddr, mock.Anything).Return(receipt, nil)

	exp := time.Unix(1700000000, 0)
	id, err := c.Create(context.Background(), &CreateRequest{
		Num:       5,
		TokenID:   testTokenAddr.Hex(),
		Owner:     testOwnerAddr.Hex(),
		Amount:    decimal.NewFromInt(9900),
		ExpiresAt: &exp,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	// 入参编码校验
	sent := backend.Calls[0].Arguments.Get(1).([]byte)
	vals, err := c.envelopeABI.Methods["createEnvelope"].Inputs.Unpack(sent[4:])
	require.NoError(t, err)
	assert.Equal(t, uint16(5), vals[0])
	assert.Equal(t, uint64(exp.UnixNano()), vals[6])
}

// TestContractClient_CreateMissingEvent 测试回执缺少事件
func TestContractClient_CreateMissingEvent(t *testing.T) {
	c, backend := newTestContractClient(t)
	backend.On("Transact", testEnvelopeAddr, mock.Anything).Return(&types.Receipt{}, nil)

	_, err := c.Create(context.Background(), &CreateRequest{Num: 1, Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, errMissingEvent)
}

// TestContractClient_Grab 测试抢红包
func TestContractClient_Grab(t *testing.T) {
	c, backend := newTestContractClient(t)

	ev := c.envelopeABI.Events["EnvelopeGrabbed"]
	data, err := ev.Inputs.NonIndexed().Pack(big.NewInt(1980), uint16(1), uint16(5), big.NewInt(9900), big.NewInt(7920))
	require.NoError(t, err)
	receipt := &types.Receipt{Logs: []*types.Log{{
		Address: testEnvelopeAddr,
		Topics:  []common.Hash{ev.ID, common.BigToHash(big.NewInt(7)), common.BytesToHash(testClaimAddr.Bytes())},
		Data:    data,
	}}}
	backend.On("Transact", testEnvelopeAddr, mock.Anything).Return(receipt, nil)

	res, err := c.Grab(context.Background(), 7, testClaimAddr.Hex())
	require.NoError(t, err)
	assert.Equal(t, "1980", res.GrabAmount.String())
	assert.Equal(t, 1, res.ParticipantsNum)
	assert.Equal(t, 5, res.AllNum)
	assert.Equal(t, "7920", res.UnreceivedAmount.String())
}

// TestContractClient_GrabReverted 测试 revert 解码为远端错误码
func TestContractClient_GrabReverted(t *testing.T) {
	c, backend := newTestContractClient(t)
	backend.On("Transact", testEnvelopeAddr, mock.Anything).
		Return(nil, revertErr{data: packRevert(t, c, 1110, "exhausted")})

	_, err := c.Grab(context.Background(), 7, testClaimAddr.Hex())
	re, ok := AsRemote(err)
	require.True(t, ok)
	assert.Equal(t, CodeExhausted, re.Code)
	assert.Equal(t, "exhausted", re.Message)
}

// TestContractClient_TransportError 测试非 revert 错误原样返回
func TestContractClient_TransportError(t *testing.T) {
	c, backend := newTestContractClient(t)
	boom := errors.New("connection refused")
	backend.On("Transact", testEnvelopeAddr, mock.Anything).Return(nil, boom)

	_, err := c.Revoke(context.Background(), 7)
	assert.ErrorIs(t, err, boom)
	_, ok := AsRemote(err)
	assert.False(t, ok)
}

// TestContractClient_Revoke 测试撤销
func TestContractClient_Revoke(t *testing.T) {
	c, backend := newTestContractClient(t)
	ev := c.envelopeABI.Events["EnvelopeRevoked"]
	data, err := ev.Inputs.NonIndexed().Pack(big.NewInt(500))
	require.NoError(t, err)
	backend.On("Transact", testEnvelopeAddr, mock.Anything).Return(&types.Receipt{Logs: []*types.Log{{
		Address: testEnvelopeAddr,
		Topics:  []common.Hash{ev.ID, common.BigToHash(big.NewInt(7))},
		Data:    data,
	}}}, nil)

	refund, err := c.Revoke(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "500", refund.String())
}

// TestContractClient_Get 测试查询红包
func TestContractClient_Get(t *testing.T) {
	c, backend := newTestContractClient(t)
	outputs := c.envelopeABI.Methods["getEnvelope"].Outputs

	exp := time.Unix(1700000000, 0)
	found, err := outputs.Pack(true, uint16(3), uint8(1), testTokenAddr, testOwnerAddr, "memo", true,
		big.NewInt(300), uint64(exp.UnixNano()),
		[]common.Address{testClaimAddr}, []*big.Int{big.NewInt(120)})
	require.NoError(t, err)
	missing, err := outputs.Pack(false, uint16(0), uint8(0), common.Address{}, common.Address{}, "", false,
		big.NewInt(0), uint64(0), []common.Address{}, []*big.Int{})
	require.NoError(t, err)

	getFound, _ := c.envelopeABI.Pack("getEnvelope", big.NewInt(1))
	getMissing, _ := c.envelopeABI.Pack("getEnvelope", big.NewInt(2))
	backend.On("CallContract", testEnvelopeAddr, getFound).Return(found, nil)
	backend.On("CallContract", testEnvelopeAddr, getMissing).Return(missing, nil)

	env, sum, err := c.GetWithSummary(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Equal(t, 3, env.Num)
	assert.Equal(t, EnvelopeStatusInProgress, env.Status)
	assert.Equal(t, testOwnerAddr.Hex(), env.Owner)
	assert.True(t, env.IsRandom)
	require.NotNil(t, env.ExpiresAt)
	assert.True(t, env.ExpiresAt.Equal(exp))
	require.Len(t, env.Participants, 1)
	assert.Equal(t, testClaimAddr.Hex(), env.Participants[0].Address)
	assert.Equal(t, "180", sum.UnreceivedAmount.String())

	env, err = c.Get(context.Background(), 2)
	require.NoError(t, err)
	assert.Nil(t, env)
}

// TestContractClient_Queries 测试列表与代理账户查询
func TestContractClient_Queries(t *testing.T) {
	c, backend := newTestContractClient(t)

	ids, err := c.envelopeABI.Methods["getRidsByOwner"].Outputs.Pack([]*big.Int{big.NewInt(3), big.NewInt(9)})
	require.NoError(t, err)
	yes, err := c.envelopeABI.Methods["isAgentAcc"].Outputs.Pack(true)
	require.NoError(t, err)
	bal, err := c.erc20ABI.Methods["balanceOf"].Outputs.Pack(big.NewInt(12345))
	require.NoError(t, err)

	listCall, _ := c.envelopeABI.Pack("getRidsByOwner", testOwnerAddr)
	agentCall, _ := c.envelopeABI.Pack("isAgentAcc", testOwnerAddr)
	balCall, _ := c.erc20ABI.Pack("balanceOf", testOwnerAddr)
	backend.On("CallContract", testEnvelopeAddr, listCall).Return(ids, nil)
	backend.On("CallContract", testEnvelopeAddr, agentCall).Return(yes, nil)
	backend.On("CallContract", testTokenAddr, balCall).Return(bal, nil)

	ctx := context.Background()
	got, err := c.ListOwnedIDs(ctx, testOwnerAddr.Hex())
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 9}, got)

	ok, err := c.IsAgentAccount(ctx, testOwnerAddr.Hex())
	require.NoError(t, err)
	assert.True(t, ok)

	b, err := c.BalanceOf(ctx, testTokenAddr.Hex(), testOwnerAddr.Hex())
	require.NoError(t, err)
	assert.Equal(t, "12345", b.String())

	fee, err := c.Fee(ctx, testTokenAddr.Hex())
	require.NoError(t, err)
	assert.Equal(t, "10000", fee.String())
}

// TestContractClient_Transfer 测试代扣转账
func TestContractClient_Transfer(t *testing.T) {
	c, backend := newTestContractClient(t)
	hash := common.HexToHash("0xabc")
	backend.On("Transact", testTokenAddr, mock.Anything).Return(&types.Receipt{TxHash: hash}, nil).Once()

	ref, err := c.Transfer(context.Background(), testTokenAddr.Hex(), testOwnerAddr.Hex(), decimal.NewFromInt(100), testClaimAddr.Hex())
	require.NoError(t, err)
	assert.Equal(t, hash.Hex(), ref)

	backend.On("Transact", testTokenAddr, mock.Anything).
		Return(nil, errors.New("execution reverted: ERC20: transfer amount exceeds balance")).Once()
	_, err = c.Transfer(context.Background(), testTokenAddr.Hex(), testOwnerAddr.Hex(), decimal.NewFromInt(100), testClaimAddr.Hex())
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}
