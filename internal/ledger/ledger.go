// Package ledger 远端权威账本 (红包合约 + 代币账本) 的能力接口
//
// 远端是资金的唯一事实来源: 红包编号由远端分配, 抢红包的去重与份额分配在远端串行完成.
// 本包提供两种实现: Memory (进程内权威, 用于本地开发与测试) 和 ContractClient (EVM 合约).
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// 远端错误码
const (
	CodeInvalidArgument int64 = 1101
	CodeTokenNotAllowed int64 = 1102
	CodeExpired         int64 = 1107
	CodeNotFound        int64 = 1108
	CodeAlreadyGrabbed  int64 = 1109
	CodeExhausted       int64 = 1110
	CodeRevoked         int64 = 1112
	CodeNotExpired      int64 = 1113
	CodeNotOwner        int64 = 1114
)

// CarriesEnvelopeID 错误码的展示文案是否需要红包编号
func CarriesEnvelopeID(code int64) bool {
	switch code {
	case CodeExpired, CodeNotFound, CodeAlreadyGrabbed, CodeExhausted,
		CodeRevoked, CodeNotExpired, CodeNotOwner:
		return true
	}
	return false
}

// RemoteError 远端返回的业务拒绝, 错误码原样透传
type RemoteError struct {
	Code    int64
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote ledger error %d: %s", e.Code, e.Message)
}

// NewRemoteError 创建远端错误
func NewRemoteError(code int64, format string, args ...interface{}) *RemoteError {
	return &RemoteError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsRemote 提取远端错误
func AsRemote(err error) (*RemoteError, bool) {
	var re *RemoteError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// ErrInsufficientFunds 代币余额不足
var ErrInsufficientFunds = errors.New("insufficient funds")

// EnvelopeStatus 远端红包状态
type EnvelopeStatus uint8

const (
	EnvelopeStatusUnopened   EnvelopeStatus = 0
	EnvelopeStatusInProgress EnvelopeStatus = 1
	EnvelopeStatusExhausted  EnvelopeStatus = 2
)

func (s EnvelopeStatus) String() string {
	switch s {
	case EnvelopeStatusUnopened:
		return "UNOPENED"
	case EnvelopeStatusInProgress:
		return "IN_PROGRESS"
	case EnvelopeStatusExhausted:
		return "EXHAUSTED"
	default:
		return "UNKNOWN"
	}
}

// Participant 已领取份额
type Participant struct {
	Address string
	Amount  decimal.Decimal
}

// Envelope 远端红包
type Envelope struct {
	ID           int64
	Num          int
	Status       EnvelopeStatus
	Participants []Participant
	TokenID      string
	Owner        string
	Memo         string
	IsRandom     bool
	Amount       decimal.Decimal
	ExpiresAt    *time.Time
}

// Claimed 已领取总额
func (e *Envelope) Claimed() decimal.Decimal {
	sum := decimal.Zero
	for _, p := range e.Participants {
		sum = sum.Add(p.Amount)
	}
	return sum
}

// IsFull 份额是否已领完
func (e *Envelope) IsFull() bool {
	return len(e.Participants) >= e.Num
}

// ParticipantAmount 查找领取人的份额
func (e *Envelope) ParticipantAmount(address string) (decimal.Decimal, bool) {
	for _, p := range e.Participants {
		if p.Address == address {
			return p.Amount, true
		}
	}
	return decimal.Zero, false
}

// CreateRequest 创建红包请求
type CreateRequest struct {
	Num       int
	TokenID   string
	Owner     string
	Memo      string
	IsRandom  bool
	Amount    decimal.Decimal
	ExpiresAt *time.Time
}

// Summary 远端维护的聚合值
type Summary struct {
	AllNum           int
	ParticipantsNum  int
	AllAmount        decimal.Decimal
	UnreceivedAmount decimal.Decimal
}

// GrabResult 抢红包结果
type GrabResult struct {
	ID         int64
	GrabAmount decimal.Decimal
	Summary
	ExpiresAt *time.Time
}

// Client 红包合约能力
type Client interface {
	Create(ctx context.Context, req *CreateRequest) (int64, error)
	Grab(ctx context.Context, envelopeID int64, claimant string) (*GrabResult, error)
	Revoke(ctx context.Context, envelopeID int64) (decimal.Decimal, error)
	// Get 红包不存在时返回 nil, nil
	Get(ctx context.Context, envelopeID int64) (*Envelope, error)
	GetWithSummary(ctx context.Context, envelopeID int64) (*Envelope, *Summary, error)
	ListOwnedIDs(ctx context.Context, owner string) ([]int64, error)
	IsAgentAccount(ctx context.Context, address string) (bool, error)
}

// TokenLedger 代币账本能力
type TokenLedger interface {
	BalanceOf(ctx context.Context, tokenID, owner string) (decimal.Decimal, error)
	Fee(ctx context.Context, tokenID string) (decimal.Decimal, error)
	// Transfer 返回交易引用 (tx hash 或区块序号)
	Transfer(ctx context.Context, tokenID, from string, amount decimal.Decimal, to string) (string, error)
}

// SummaryOf 由远端红包计算聚合值, 仅供账本实现内部使用
func SummaryOf(e *Envelope) Summary {
	claimed := e.Claimed()
	return Summary{
		AllNum:           e.Num,
		ParticipantsNum:  len(e.Participants),
		AllAmount:        e.Amount,
		UnreceivedAmount: e.Amount.Sub(claimed),
	}
}
