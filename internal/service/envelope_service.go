// ========================================
// EnvelopeService 红包生命周期
// ========================================
//
// ## 状态
// Unregistered -> Registered -> {Exhausted | Revoked}
// 编号由远端分配, 本地 re_status 只在远端登记成功后按编号 insert-or-ignore.
//
// ## 创建流程 (Create)
//  1. 按 tid 查找代币
//  2. 加密留言 (空留言不加密)
//  3. EscrowService.Fund: 校验, 本金转入托管, 手续费转出
//  4. Register: 远端 create, 本地插入, 发布 red-envelope-created
//  5. 托管流水标记 registered; 远端拒绝时资金留在托管地址, 由 orphan-fundings 任务上报
//
// ## 撤销 (Revoke)
// 只允许在红包过期之后撤销; 远端拒绝时本地状态不变, 重复撤销由远端拒绝.
//
// ========================================
package service

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kami1983/sl-runes-agent/internal/amount"
	"github.com/kami1983/sl-runes-agent/internal/event"
	"github.com/kami1983/sl-runes-agent/internal/identity"
	"github.com/kami1983/sl-runes-agent/internal/ledger"
	"github.com/kami1983/sl-runes-agent/internal/memo"
	"github.com/kami1983/sl-runes-agent/internal/metrics"
	"github.com/kami1983/sl-runes-agent/internal/model"
	"github.com/kami1983/sl-runes-agent/internal/repository"
	"github.com/kami1983/sl-runes-agent/internal/token"
	"github.com/kami1983/sl-runes-agent/pkg/errors"
	"github.com/kami1983/sl-runes-agent/pkg/logger"
)

// CreateEnvelopeRequest 创建红包请求
type CreateEnvelopeRequest struct {
	Tid        int
	UID        int64
	ExpireDays int
	Amount     string // 十进制文本
	ShareCount int
	IsRandom   bool
	Memo       string
}

// CreateEnvelopeResult 创建结果, 金额为十进制文本
type CreateEnvelopeResult struct {
	ID         int64  `json:"rid"`
	Symbol     string `json:"symbol"`
	Amount     string `json:"amount"`
	Fee        string `json:"fee"`
	NetworkFee string `json:"network_fee"`
	Count      int    `json:"count"`
	ExpiresAt  int64  `json:"expires_at"`
}

// RegisterRequest 登记请求, 金额为最小单位
type RegisterRequest struct {
	UID           int64
	Token         token.Token
	Net           decimal.Decimal
	Fee           decimal.Decimal
	ShareCount    int
	IsRandom      bool
	EncryptedMemo string
	ExpiresAt     time.Time
}

// SendTicket 发送前检查结果
type SendTicket struct {
	ID         int64  `json:"rid"`
	ShareCount int    `json:"count"`
	Symbol     string `json:"symbol"`
}

// RevokeResult 撤销结果
type RevokeResult struct {
	ID     int64  `json:"rid"`
	Refund string `json:"refund"`
}

// ParticipantView 领取明细
type ParticipantView struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

// EnvelopeDetail 红包详情
type EnvelopeDetail struct {
	ID               int64             `json:"rid"`
	Symbol           string            `json:"symbol"`
	Owner            string            `json:"owner"`
	Memo             string            `json:"memo"`
	IsRandom         bool              `json:"is_random"`
	Status           string            `json:"status"`
	AllNum           int               `json:"all_num"`
	ParticipantsNum  int               `json:"participants_num"`
	Amount           string            `json:"amount"`
	UnreceivedAmount string            `json:"unreceived_amount"`
	ExpiresAt        *int64            `json:"expires_at,omitempty"`
	Participants     []ParticipantView `json:"participants"`
}

// EnvelopeService 红包生命周期服务
type EnvelopeService struct {
	remote   ledger.Client
	repo     repository.EnvelopeRepository
	escrow   *EscrowService
	tokens   *token.Registry
	cipher   *memo.Cipher
	resolver identity.Resolver
	events   event.Publisher

	defaultExpireDays int
	agentAddress      string

	now func() time.Time
}

// EnvelopeServiceConfig 配置
type EnvelopeServiceConfig struct {
	DefaultExpireDays int
	AgentAddress      string
}

// NewEnvelopeService 创建红包服务
func NewEnvelopeService(
	remote ledger.Client,
	repo repository.EnvelopeRepository,
	escrow *EscrowService,
	tokens *token.Registry,
	cipher *memo.Cipher,
	resolver identity.Resolver,
	events event.Publisher,
	cfg *EnvelopeServiceConfig,
) *EnvelopeService {
	days := cfg.DefaultExpireDays
	if days <= 0 {
		days = 1
	}
	return &EnvelopeService{
		remote:            remote,
		repo:              repo,
		escrow:            escrow,
		tokens:            tokens,
		cipher:            cipher,
		resolver:          resolver,
		events:            events,
		defaultExpireDays: days,
		agentAddress:      cfg.AgentAddress,
		now:               time.Now,
	}
}

// SetClock 替换时钟
func (s *EnvelopeService) SetClock(now func() time.Time) {
	s.now = now
}

// Create 托管转账并登记红包
func (s *EnvelopeService) Create(ctx context.Context, req *CreateEnvelopeRequest) (*CreateEnvelopeResult, error) {
	tok, err := s.tokens.ByTid(req.Tid)
	if err != nil {
		return nil, ErrTokenNotFound.WithDetailInt("tid", int64(req.Tid))
	}

	encrypted, err := s.cipher.EncryptOptional(req.Memo)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, err)
	}

	funding, err := s.escrow.Fund(ctx, tok, req.UID, req.Amount, req.ShareCount)
	if err != nil {
		return nil, err
	}

	days := req.ExpireDays
	if days <= 0 {
		days = s.defaultExpireDays
	}
	expiresAt := s.now().Add(time.Duration(days) * 24 * time.Hour)

	id, err := s.Register(ctx, &RegisterRequest{
		UID:           req.UID,
		Token:         tok,
		Net:           funding.Net,
		Fee:           funding.Fee,
		ShareCount:    req.ShareCount,
		IsRandom:      req.IsRandom,
		EncryptedMemo: encrypted,
		ExpiresAt:     expiresAt,
	})
	if id > 0 {
		s.escrow.MarkRegistered(ctx, funding.FundingID, id)
	} else if err != nil {
		s.escrow.MarkRegistrationFailed(ctx, funding.FundingID, err)
	}
	if err != nil {
		return nil, err
	}

	return &CreateEnvelopeResult{
		ID:         id,
		Symbol:     tok.Symbol,
		Amount:     amount.FromFixedPoint(funding.Net, tok.Decimals),
		Fee:        amount.FromFixedPoint(funding.Fee, tok.Decimals),
		NetworkFee: amount.FromFixedPoint(funding.NetworkFee.Mul(decimal.NewFromInt(2)), tok.Decimals),
		Count:      req.ShareCount,
		ExpiresAt:  expiresAt.UnixMilli(),
	}, nil
}

// Register 远端登记并写入本地记录
//
// 远端成功但本地写入失败时返回编号与错误, 重试写入是幂等的.
func (s *EnvelopeService) Register(ctx context.Context, req *RegisterRequest) (int64, error) {
	owner := s.resolver.AddressOf(req.UID)
	expiresAt := req.ExpiresAt

	start := time.Now()
	id, err := s.remote.Create(ctx, &ledger.CreateRequest{
		Num:       req.ShareCount,
		TokenID:   req.Token.ContractID,
		Owner:     owner,
		Memo:      req.EncryptedMemo,
		IsRandom:  req.IsRandom,
		Amount:    req.Net,
		ExpiresAt: &expiresAt,
	})
	metrics.RecordRemoteCall("create", err, time.Since(start).Seconds())
	if err != nil {
		status := "failed"
		if _, ok := ledger.AsRemote(err); ok {
			status = "rejected"
		}
		metrics.EnvelopesCreatedTotal.WithLabelValues(req.Token.Symbol, status).Inc()
		logger.Warn("remote registration failed",
			zap.Int64("uid", req.UID),
			zap.String("token", req.Token.Symbol),
			zap.String("net", req.Net.String()),
			zap.Error(err))
		return 0, remoteRejection(ErrRemoteRegistrationRejected, err, 0)
	}
	metrics.EnvelopesCreatedTotal.WithLabelValues(req.Token.Symbol, "success").Inc()

	nowMs := s.now().UnixMilli()
	record := &model.LocalEnvelopeRecord{
		ID:        id,
		Rune:      req.Token.Symbol,
		UID:       req.UID,
		Amount:    req.Net,
		Count:     req.ShareCount,
		ExpireAt:  expiresAt.UnixMilli(),
		FeeAmount: req.Fee,
		Owner:     owner,
		TokenID:   req.Token.ContractID,
		IsRandom:  req.IsRandom,
		Memo:      req.EncryptedMemo,
		CreatedAt: nowMs,
	}
	if _, err := s.repo.InsertIgnore(ctx, record); err != nil {
		logger.Error("insert local envelope failed after remote registration",
			zap.Int64("envelope_id", id),
			zap.Int64("uid", req.UID),
			zap.Error(err))
		return id, errors.Wrap(errors.ErrDBTransaction, err).WithDetailInt(detailID, id)
	}

	logger.Info("envelope registered",
		zap.Int64("envelope_id", id),
		zap.Int64("uid", req.UID),
		zap.String("token", req.Token.Symbol),
		zap.String("amount", req.Net.String()),
		zap.Int("count", req.ShareCount))

	if err := s.events.PublishEnvelopeCreated(ctx, &event.EnvelopeCreated{
		EnvelopeID:  id,
		UID:         req.UID,
		TokenSymbol: req.Token.Symbol,
		Amount:      req.Net.String(),
		Fee:         req.Fee.String(),
		ShareCount:  req.ShareCount,
		IsRandom:    req.IsRandom,
		ExpiresAt:   record.ExpireAt,
		CreatedAt:   nowMs,
	}); err != nil {
		logger.Warn("publish envelope created failed", zap.Int64("envelope_id", id), zap.Error(err))
	}

	return id, nil
}

// PrepareSend 发送前检查, 返回份数供展示
func (s *EnvelopeService) PrepareSend(ctx context.Context, uid, envelopeID int64) (*SendTicket, error) {
	record, err := s.repo.GetByIDAndUID(ctx, envelopeID, uid)
	if err != nil {
		return nil, s.recordError(err, envelopeID)
	}
	if record.IsSent {
		return nil, ErrAlreadySent.WithDetailInt(detailID, envelopeID)
	}
	if record.IsRevoked {
		return nil, withCode(ErrAlreadyRevoked, ledger.CodeRevoked, envelopeID)
	}
	if record.IsExpired(s.now().UnixMilli()) {
		return nil, withCode(ErrEnvelopeExpired, ledger.CodeExpired, envelopeID)
	}

	env, err := s.getRemote(ctx, envelopeID)
	if err != nil {
		return nil, err
	}
	if env == nil {
		return nil, withCode(ErrNotFound, ledger.CodeRevoked, envelopeID)
	}

	return &SendTicket{ID: envelopeID, ShareCount: env.Num, Symbol: record.Rune}, nil
}

// MarkSent 标记已发送, 可重复调用
func (s *EnvelopeService) MarkSent(ctx context.Context, envelopeID int64) error {
	return s.markSent(ctx, envelopeID, "")
}

// MarkSentTo 标记已发送并记录接收方
func (s *EnvelopeService) MarkSentTo(ctx context.Context, envelopeID int64, receiver string) error {
	return s.markSent(ctx, envelopeID, receiver)
}

func (s *EnvelopeService) markSent(ctx context.Context, envelopeID int64, receiver string) error {
	nowMs := s.now().UnixMilli()
	var err error
	if receiver == "" {
		err = s.repo.MarkSent(ctx, envelopeID, nowMs)
	} else {
		err = s.repo.MarkSentTo(ctx, envelopeID, receiver, nowMs)
	}
	if err != nil {
		return s.recordError(err, envelopeID)
	}

	if err := s.events.PublishEnvelopeSent(ctx, &event.EnvelopeSent{
		EnvelopeID: envelopeID,
		Receiver:   receiver,
		SentAt:     nowMs,
	}); err != nil {
		logger.Warn("publish envelope sent failed", zap.Int64("envelope_id", envelopeID), zap.Error(err))
	}
	return nil
}

// Revoke 过期后撤销红包, 余额由远端退回
func (s *EnvelopeService) Revoke(ctx context.Context, uid, envelopeID int64) (*RevokeResult, error) {
	record, err := s.repo.GetByIDAndUID(ctx, envelopeID, uid)
	if err != nil {
		return nil, s.recordError(err, envelopeID)
	}
	if record.IsRevoked {
		return nil, withCode(ErrAlreadyRevoked, ledger.CodeRevoked, envelopeID)
	}
	if s.now().UnixMilli() < record.ExpireAt {
		return nil, withCode(ErrNotYetExpired, ledger.CodeNotExpired, envelopeID)
	}

	start := time.Now()
	refund, err := s.remote.Revoke(ctx, envelopeID)
	metrics.RecordRemoteCall("revoke", err, time.Since(start).Seconds())
	if err != nil {
		re, ok := ledger.AsRemote(err)
		if ok && re.Code == ledger.CodeRevoked {
			// 远端已撤销而本地未标记, 补写本地状态
			if _, merr := s.repo.MarkRevoked(ctx, envelopeID, uid); merr != nil {
				logger.Error("mark revoked failed", zap.Int64("envelope_id", envelopeID), zap.Error(merr))
			}
			metrics.RevocationsTotal.WithLabelValues("already_revoked").Inc()
			return nil, withCode(errors.Wrap(ErrAlreadyRevoked, err), re.Code, envelopeID)
		}
		metrics.RevocationsTotal.WithLabelValues("rejected").Inc()
		return nil, remoteRejection(ErrRemoteRevocationRejected, err, envelopeID)
	}

	if _, err := s.repo.MarkRevoked(ctx, envelopeID, uid); err != nil {
		logger.Error("mark revoked failed after remote revocation",
			zap.Int64("envelope_id", envelopeID),
			zap.Error(err))
		return nil, errors.Wrap(errors.ErrDBTransaction, err).WithDetailInt(detailID, envelopeID)
	}
	metrics.RevocationsTotal.WithLabelValues("success").Inc()

	logger.Info("envelope revoked",
		zap.Int64("envelope_id", envelopeID),
		zap.Int64("uid", uid),
		zap.String("refund", refund.String()))

	if err := s.events.PublishEnvelopeRevoked(ctx, &event.EnvelopeRevoked{
		EnvelopeID: envelopeID,
		UID:        uid,
		Refund:     refund.String(),
		RevokedAt:  s.now().UnixMilli(),
	}); err != nil {
		logger.Warn("publish envelope revoked failed", zap.Int64("envelope_id", envelopeID), zap.Error(err))
	}

	return &RevokeResult{ID: envelopeID, Refund: s.formatAmount(record.Rune, refund)}, nil
}

// IsEmpty 份额是否已领完
func (s *EnvelopeService) IsEmpty(ctx context.Context, envelopeID int64) (bool, error) {
	env, err := s.getRemote(ctx, envelopeID)
	if err != nil {
		return false, err
	}
	if env == nil {
		return false, withCode(ErrNotFound, ledger.CodeNotFound, envelopeID)
	}
	return len(env.Participants) == env.Num, nil
}

// GetEnvelope 远端详情, 留言解密失败时返回原文
func (s *EnvelopeService) GetEnvelope(ctx context.Context, envelopeID int64) (*EnvelopeDetail, error) {
	start := time.Now()
	env, summary, err := s.remote.GetWithSummary(ctx, envelopeID)
	metrics.RecordRemoteCall("get", err, time.Since(start).Seconds())
	if err != nil {
		return nil, errors.Wrap(ErrRemoteUnavailable, err)
	}
	if env == nil {
		return nil, withCode(ErrNotFound, ledger.CodeNotFound, envelopeID)
	}

	tok, _ := s.tokens.ByContract(env.TokenID)
	detail := &EnvelopeDetail{
		ID:               env.ID,
		Symbol:           tok.Symbol,
		Owner:            env.Owner,
		Memo:             s.cipher.DecryptOrOriginal(env.Memo),
		IsRandom:         env.IsRandom,
		Status:           env.Status.String(),
		AllNum:           summary.AllNum,
		ParticipantsNum:  summary.ParticipantsNum,
		Amount:           amount.FromFixedPoint(summary.AllAmount, tok.Decimals),
		UnreceivedAmount: amount.FromFixedPoint(summary.UnreceivedAmount, tok.Decimals),
		Participants:     make([]ParticipantView, 0, len(env.Participants)),
	}
	if env.ExpiresAt != nil {
		ms := env.ExpiresAt.UnixMilli()
		detail.ExpiresAt = &ms
	}
	for _, p := range env.Participants {
		detail.Participants = append(detail.Participants, ParticipantView{
			Address: p.Address,
			Amount:  amount.FromFixedPoint(p.Amount, tok.Decimals),
		})
	}
	return detail, nil
}

// CheckAgent 服务代理账户是否被远端授权
func (s *EnvelopeService) CheckAgent(ctx context.Context) error {
	ok, err := s.remote.IsAgentAccount(ctx, s.agentAddress)
	if err != nil {
		return errors.Wrap(ErrRemoteUnavailable, err)
	}
	if !ok {
		return ErrNotAgent.WithDetail("address", s.agentAddress)
	}
	return nil
}

func (s *EnvelopeService) getRemote(ctx context.Context, envelopeID int64) (*ledger.Envelope, error) {
	start := time.Now()
	env, err := s.remote.Get(ctx, envelopeID)
	metrics.RecordRemoteCall("get", err, time.Since(start).Seconds())
	if err != nil {
		return nil, errors.Wrap(ErrRemoteUnavailable, err)
	}
	return env, nil
}

func (s *EnvelopeService) recordError(err error, envelopeID int64) error {
	if stderrors.Is(err, repository.ErrEnvelopeNotFound) {
		return withCode(ErrNotFound, ledger.CodeNotFound, envelopeID)
	}
	return errors.Wrap(errors.ErrDBTransaction, err)
}

func (s *EnvelopeService) formatAmount(symbol string, v decimal.Decimal) string {
	tok, err := s.tokens.BySymbol(symbol)
	if err != nil {
		return v.String()
	}
	return amount.FromFixedPoint(v, tok.Decimals)
}
