package service

import (
	"context"
	stderrors "errors"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kami1983/sl-runes-agent/internal/amount"
	"github.com/kami1983/sl-runes-agent/internal/event"
	"github.com/kami1983/sl-runes-agent/internal/identity"
	"github.com/kami1983/sl-runes-agent/internal/ledger"
	"github.com/kami1983/sl-runes-agent/internal/metrics"
	"github.com/kami1983/sl-runes-agent/internal/model"
	"github.com/kami1983/sl-runes-agent/internal/repository"
	"github.com/kami1983/sl-runes-agent/internal/token"
	"github.com/kami1983/sl-runes-agent/pkg/errors"
	"github.com/kami1983/sl-runes-agent/pkg/logger"
)

// GrabResult 领取结果, 聚合值取自远端
type GrabResult struct {
	ID               int64  `json:"rid"`
	Symbol           string `json:"symbol"`
	Recipient        string `json:"recipient"`
	Amount           string `json:"amount"`
	AllNum           int    `json:"all_num"`
	ParticipantsNum  int    `json:"participants_num"`
	AllAmount        string `json:"all_amount"`
	UnreceivedAmount string `json:"unreceived_amount"`
	ExpiresAt        *int64 `json:"expires_at,omitempty"`
	FirstBind        bool   `json:"first_bind"`
}

// ReconcileResult 待定凭证对账结果
type ReconcileResult struct {
	Scanned      int
	Succeeded    int
	Rejected     int
	StillPending int
}

// ClaimService 领取协调
//
// 远端是唯一的去重权威. 本地凭证以 (红包, 用户) 为唯一键, 先写 pending 再调用远端,
// 之后只按远端返回写入结果码; 成功结果不会被后续的失败码覆盖.
type ClaimService struct {
	remote   ledger.Client
	tickets  repository.ClaimTicketRepository
	wallets  repository.WalletRepository
	records  repository.EnvelopeRepository
	tokens   *token.Registry
	resolver identity.Resolver
	events   event.Publisher

	now func() time.Time
}

// NewClaimService 创建领取服务
func NewClaimService(
	remote ledger.Client,
	tickets repository.ClaimTicketRepository,
	wallets repository.WalletRepository,
	records repository.EnvelopeRepository,
	tokens *token.Registry,
	resolver identity.Resolver,
	events event.Publisher,
) *ClaimService {
	return &ClaimService{
		remote:   remote,
		tickets:  tickets,
		wallets:  wallets,
		records:  records,
		tokens:   tokens,
		resolver: resolver,
		events:   events,
		now:      time.Now,
	}
}

// SetClock 替换时钟
func (s *ClaimService) SetClock(now func() time.Time) {
	s.now = now
}

// Grab 领取红包
func (s *ClaimService) Grab(ctx context.Context, uid, envelopeID int64) (*GrabResult, error) {
	nowMs := s.now().UnixMilli()

	channel := envelopeID
	wallet, firstBind, err := s.wallets.Bind(ctx, &model.WalletBinding{
		UID:       uid,
		Principal: s.resolver.AddressOf(uid),
		Channel:   &channel,
		CreatedAt: nowMs,
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrDBTransaction, err)
	}
	recipient := wallet.Principal

	existing, inserted, err := s.tickets.InsertPending(ctx, &model.ClaimTicket{
		EnvelopeID: envelopeID,
		UID:        uid,
		Recipient:  recipient,
		CreatedAt:  nowMs,
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrDBTransaction, err)
	}
	if !inserted {
		logger.Debug("claim ticket exists, re-invoking remote grab",
			zap.Int64("envelope_id", envelopeID),
			zap.Int64("uid", uid),
			zap.Int64("code", existing.Code))
	}

	start := time.Now()
	res, err := s.remote.Grab(ctx, envelopeID, recipient)
	metrics.RecordRemoteCall("grab", err, time.Since(start).Seconds())
	if err != nil {
		re, ok := ledger.AsRemote(err)
		if !ok {
			// 结果未知, 凭证保持 pending 等待重试或后台对账
			logger.Warn("remote grab failed, ticket left pending",
				zap.Int64("envelope_id", envelopeID),
				zap.Int64("uid", uid),
				zap.Error(err))
			return nil, errors.Wrap(ErrRemoteUnavailable, err).WithDetailInt(detailID, envelopeID)
		}
		metrics.GrabsTotal.WithLabelValues(codeLabel(re.Code)).Inc()
		s.recordOutcome(ctx, &model.ClaimTicket{
			EnvelopeID: envelopeID,
			UID:        uid,
			Code:       re.Code,
			Amount:     decimal.Zero,
			Recipient:  recipient,
			CreatedAt:  nowMs,
			UpdatedAt:  s.now().UnixMilli(),
		})
		return nil, withCode(errors.Wrap(ErrRemoteGrabRejected, err), re.Code, envelopeID)
	}
	metrics.GrabsTotal.WithLabelValues(codeLabel(model.ClaimCodeSuccess)).Inc()

	s.recordOutcome(ctx, &model.ClaimTicket{
		EnvelopeID: envelopeID,
		UID:        uid,
		Code:       model.ClaimCodeSuccess,
		Amount:     res.GrabAmount,
		Recipient:  recipient,
		CreatedAt:  nowMs,
		UpdatedAt:  s.now().UnixMilli(),
	})

	logger.Info("envelope grabbed",
		zap.Int64("envelope_id", envelopeID),
		zap.Int64("uid", uid),
		zap.String("amount", res.GrabAmount.String()),
		zap.Int("participants", res.ParticipantsNum),
		zap.Int("all_num", res.AllNum))

	if err := s.events.PublishEnvelopeGrabbed(ctx, &event.EnvelopeGrabbed{
		EnvelopeID:       envelopeID,
		UID:              uid,
		Recipient:        recipient,
		Amount:           res.GrabAmount.String(),
		ParticipantsNum:  res.ParticipantsNum,
		AllNum:           res.AllNum,
		UnreceivedAmount: res.UnreceivedAmount.String(),
		GrabbedAt:        nowMs,
	}); err != nil {
		logger.Warn("publish envelope grabbed failed", zap.Int64("envelope_id", envelopeID), zap.Error(err))
	}

	tok := s.tokenOf(ctx, envelopeID)
	out := &GrabResult{
		ID:               envelopeID,
		Symbol:           tok.Symbol,
		Recipient:        recipient,
		Amount:           amount.FromFixedPoint(res.GrabAmount, tok.Decimals),
		AllNum:           res.AllNum,
		ParticipantsNum:  res.ParticipantsNum,
		AllAmount:        amount.FromFixedPoint(res.AllAmount, tok.Decimals),
		UnreceivedAmount: amount.FromFixedPoint(res.UnreceivedAmount, tok.Decimals),
		FirstBind:        firstBind,
	}
	if res.ExpiresAt != nil {
		ms := res.ExpiresAt.UnixMilli()
		out.ExpiresAt = &ms
	}
	return out, nil
}

// recordOutcome 写入远端结果; 失败时凭证保持原状, 由后台对账补齐
func (s *ClaimService) recordOutcome(ctx context.Context, ticket *model.ClaimTicket) bool {
	changed, err := s.tickets.UpsertIfAbsentOrDifferent(ctx, ticket)
	if err != nil {
		logger.Error("record claim outcome failed",
			zap.Int64("envelope_id", ticket.EnvelopeID),
			zap.Int64("uid", ticket.UID),
			zap.Int64("code", ticket.Code),
			zap.Error(err))
		return false
	}
	return changed
}

// ReconcilePending 按远端状态补齐长时间 pending 的凭证
//
// 领取人在参与者列表中记为成功; 红包已领完、已撤销或已过期且领取人不在列表中记为对应错误码;
// 其余保持 pending.
func (s *ClaimService) ReconcilePending(ctx context.Context, olderThan time.Duration, limit int) (*ReconcileResult, error) {
	now := s.now()
	pending, err := s.tickets.ListPending(ctx, now.Add(-olderThan).UnixMilli(), limit)
	if err != nil {
		return nil, err
	}

	result := &ReconcileResult{Scanned: len(pending)}
	envelopes := make(map[int64]*ledger.Envelope)
	for _, ticket := range pending {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		env, seen := envelopes[ticket.EnvelopeID]
		if !seen {
			env, err = s.remote.Get(ctx, ticket.EnvelopeID)
			if err != nil {
				logger.Warn("reconcile: remote get failed",
					zap.Int64("envelope_id", ticket.EnvelopeID),
					zap.Error(err))
				result.StillPending++
				metrics.TicketsReconciledTotal.WithLabelValues("still_pending").Inc()
				continue
			}
			envelopes[ticket.EnvelopeID] = env
		}

		code, credited := s.decide(ctx, env, ticket, now)
		if code == model.ClaimCodePending {
			result.StillPending++
			metrics.TicketsReconciledTotal.WithLabelValues("still_pending").Inc()
			continue
		}

		outcome := &model.ClaimTicket{
			EnvelopeID: ticket.EnvelopeID,
			UID:        ticket.UID,
			Code:       code,
			Amount:     credited,
			Recipient:  ticket.Recipient,
			CreatedAt:  ticket.CreatedAt,
			UpdatedAt:  now.UnixMilli(),
		}
		if !s.recordOutcome(ctx, outcome) {
			continue
		}
		if code == model.ClaimCodeSuccess {
			result.Succeeded++
			metrics.TicketsReconciledTotal.WithLabelValues("success").Inc()
		} else {
			result.Rejected++
			metrics.TicketsReconciledTotal.WithLabelValues("rejected").Inc()
		}
	}

	if count, err := s.tickets.CountPending(ctx); err == nil {
		metrics.PendingTicketsGauge.Set(float64(count))
	}
	return result, nil
}

func (s *ClaimService) decide(ctx context.Context, env *ledger.Envelope, ticket *model.ClaimTicket, now time.Time) (int64, decimal.Decimal) {
	if env == nil {
		return ledger.CodeNotFound, decimal.Zero
	}
	for _, p := range env.Participants {
		if identity.SameAddress(p.Address, ticket.Recipient) {
			return model.ClaimCodeSuccess, p.Amount
		}
	}
	if env.IsFull() {
		return ledger.CodeExhausted, decimal.Zero
	}
	if record, err := s.records.GetByID(ctx, env.ID); err == nil && record.IsRevoked {
		return ledger.CodeRevoked, decimal.Zero
	}
	if env.ExpiresAt != nil && now.After(*env.ExpiresAt) {
		return ledger.CodeExpired, decimal.Zero
	}
	return model.ClaimCodePending, decimal.Zero
}

// tokenOf 优先按本地记录, 其次按远端 token_id 查找代币; 都找不到时按 0 位小数展示
func (s *ClaimService) tokenOf(ctx context.Context, envelopeID int64) token.Token {
	record, err := s.records.GetByID(ctx, envelopeID)
	if err == nil {
		if tok, err := s.tokens.BySymbol(record.Rune); err == nil {
			return tok
		}
	} else if !stderrors.Is(err, repository.ErrEnvelopeNotFound) {
		logger.Warn("load local envelope failed", zap.Int64("envelope_id", envelopeID), zap.Error(err))
	}

	env, err := s.remote.Get(ctx, envelopeID)
	if err == nil && env != nil {
		if tok, err := s.tokens.ByContract(env.TokenID); err == nil {
			return tok
		}
	}
	return token.Token{}
}

func codeLabel(code int64) string {
	return strconv.FormatInt(code, 10)
}
