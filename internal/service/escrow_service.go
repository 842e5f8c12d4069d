package service

import (
	"context"
	"time"

	"github.com/google/uuid"
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

const (
	legNet = "net"
	legFee = "fee"
)

// FundingResult 托管转账结果, 金额均为最小单位
type FundingResult struct {
	FundingID  string
	Gross      decimal.Decimal
	Net        decimal.Decimal
	Fee        decimal.Decimal
	NetworkFee decimal.Decimal // 单笔转账的网络费用
}

// EscrowService 托管转账编排
//
// 登记红包前先把本金转入托管地址, 手续费转入手续费地址. 两笔转账彼此之间以及与登记之间都不是原子的,
// 每一步进度写入 escrow_fundings, 由 orphan-fundings 任务发现资金已移动但未完成登记的流水.
type EscrowService struct {
	tokens   ledger.TokenLedger
	repo     repository.FundingRepository
	resolver identity.Resolver
	events   event.Publisher

	escrowAddress string
	maxAmount     int64
	maxShareCount int

	now func() time.Time
}

// EscrowServiceConfig 配置
type EscrowServiceConfig struct {
	EscrowAddress string
	MaxAmount     int64 // 整币
	MaxShareCount int
}

// NewEscrowService 创建托管转账服务
func NewEscrowService(
	tokens ledger.TokenLedger,
	repo repository.FundingRepository,
	resolver identity.Resolver,
	events event.Publisher,
	cfg *EscrowServiceConfig,
) *EscrowService {
	maxShareCount := cfg.MaxShareCount
	if maxShareCount == 0 {
		maxShareCount = 1000
	}
	return &EscrowService{
		tokens:        tokens,
		repo:          repo,
		resolver:      resolver,
		events:        events,
		escrowAddress: cfg.EscrowAddress,
		maxAmount:     cfg.MaxAmount,
		maxShareCount: maxShareCount,
		now:           time.Now,
	}
}

// SetClock 替换时钟
func (s *EscrowService) SetClock(now func() time.Time) {
	s.now = now
}

// Quote 校验请求并计算手续费, 不产生任何副作用
func (s *EscrowService) Quote(tok token.Token, grossText string, shareCount int) (gross, net, fee decimal.Decimal, err error) {
	gross, perr := amount.ToFixedPoint(grossText, tok.Decimals)
	if perr != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero,
			ErrInvalidAmountFormat.WithDetail("amount", grossText).WithDetailInt("decimals", int64(tok.Decimals))
	}
	if shareCount < 1 {
		return decimal.Zero, decimal.Zero, decimal.Zero, ErrInvalidShareCount.WithDetailInt("share_count", int64(shareCount))
	}
	if s.maxAmount > 0 && gross.GreaterThan(amount.Scale(s.maxAmount, tok.Decimals)) {
		return decimal.Zero, decimal.Zero, decimal.Zero, ErrAmountExceedsMaximum.WithDetailInt("max", s.maxAmount)
	}
	if shareCount > s.maxShareCount {
		return decimal.Zero, decimal.Zero, decimal.Zero, ErrShareCountExceedsMaximum.WithDetailInt("max", int64(s.maxShareCount))
	}
	perShare, _ := gross.QuoRem(decimal.NewFromInt(int64(shareCount)), 0)
	// 最小份额为 0 的代币也不接受零份额
	if perShare.LessThan(tok.MinPerShare) || !perShare.IsPositive() {
		return decimal.Zero, decimal.Zero, decimal.Zero,
			ErrBelowMinimumShare.WithDetail("min", amount.FromFixedPoint(tok.MinPerShare, tok.Decimals))
	}

	fee = FeeOf(gross, tok.FeeRatio)
	return gross, gross.Sub(fee), fee, nil
}

// FeeOf 协议手续费 floor(gross * ratio / 100)
func FeeOf(gross decimal.Decimal, ratioPercent int64) decimal.Decimal {
	if ratioPercent <= 0 {
		return decimal.Zero
	}
	q, _ := gross.Mul(decimal.NewFromInt(ratioPercent)).QuoRem(decimal.NewFromInt(100), 0)
	return q
}

// Fund 校验并执行托管转账: 本金转入托管地址, 手续费转入手续费地址
func (s *EscrowService) Fund(ctx context.Context, tok token.Token, uid int64, grossText string, shareCount int) (*FundingResult, error) {
	gross, net, fee, err := s.Quote(tok, grossText, shareCount)
	if err != nil {
		return nil, err
	}

	owner := s.resolver.AddressOf(uid)
	networkFee, err := s.tokens.Fee(ctx, tok.ContractID)
	if err != nil {
		return nil, errors.Wrap(ErrRemoteUnavailable, err)
	}
	balance, err := s.tokens.BalanceOf(ctx, tok.ContractID, owner)
	if err != nil {
		return nil, errors.Wrap(ErrRemoteUnavailable, err)
	}
	required := net.Add(fee).Add(networkFee.Mul(decimal.NewFromInt(2)))
	if balance.LessThan(required) {
		return nil, ErrInsufficientBalance.
			WithDetail("required", amount.FromFixedPoint(required, tok.Decimals)).
			WithDetail("balance", amount.FromFixedPoint(balance, tok.Decimals))
	}

	nowMs := s.now().UnixMilli()
	funding := &model.EscrowFunding{
		ID:          uuid.NewString(),
		UID:         uid,
		TokenSymbol: tok.Symbol,
		TokenID:     tok.ContractID,
		Gross:       gross,
		Net:         net,
		Fee:         fee,
		ShareCount:  shareCount,
		Status:      model.FundingStatusPending,
		CreatedAt:   nowMs,
	}
	if err := s.repo.Create(ctx, funding); err != nil {
		return nil, errors.Wrap(errors.ErrDBTransaction, err)
	}

	netRef, err := s.tokens.Transfer(ctx, tok.ContractID, owner, net, s.escrowAddress)
	if err != nil {
		metrics.EscrowTransfersTotal.WithLabelValues(legNet, "failed").Inc()
		s.advance(ctx, funding.ID, &repository.FundingUpdate{
			Status:       model.FundingStatusFailed,
			ErrorMessage: err.Error(),
		})
		logger.Warn("escrow net transfer failed",
			zap.String("funding_id", funding.ID),
			zap.Int64("uid", uid),
			zap.String("token", tok.Symbol),
			zap.Error(err))
		return nil, errors.Wrap(ErrTransferFailed, err).WithDetail(detailLeg, legNet)
	}
	metrics.EscrowTransfersTotal.WithLabelValues(legNet, "success").Inc()
	s.advance(ctx, funding.ID, &repository.FundingUpdate{
		Status:   model.FundingStatusNetTransferred,
		NetTxRef: netRef,
	})

	if fee.IsPositive() {
		feeRef, err := s.tokens.Transfer(ctx, tok.ContractID, owner, fee, tok.FeeAddress)
		if err != nil {
			metrics.EscrowTransfersTotal.WithLabelValues(legFee, "failed").Inc()
			if rerr := s.repo.RecordError(ctx, funding.ID, err.Error(), s.now().UnixMilli()); rerr != nil {
				logger.Error("record funding error failed", zap.String("funding_id", funding.ID), zap.Error(rerr))
			}
			// 本金已在托管地址, 等待 orphan-fundings 任务处理
			logger.Error("escrow fee transfer failed after net transfer",
				zap.String("funding_id", funding.ID),
				zap.Int64("uid", uid),
				zap.String("token", tok.Symbol),
				zap.String("net_tx", netRef),
				zap.Error(err))
			return nil, errors.Wrap(ErrTransferFailed, err).
				WithDetail(detailLeg, legFee).
				WithDetail("funding_id", funding.ID)
		}
		metrics.EscrowTransfersTotal.WithLabelValues(legFee, "success").Inc()
		s.advance(ctx, funding.ID, &repository.FundingUpdate{
			Status:   model.FundingStatusFeeTransferred,
			FeeTxRef: feeRef,
		})
	} else {
		s.advance(ctx, funding.ID, &repository.FundingUpdate{Status: model.FundingStatusFeeTransferred})
	}

	logger.Info("escrow funded",
		zap.String("funding_id", funding.ID),
		zap.Int64("uid", uid),
		zap.String("token", tok.Symbol),
		zap.String("net", net.String()),
		zap.String("fee", fee.String()))

	return &FundingResult{
		FundingID:  funding.ID,
		Gross:      gross,
		Net:        net,
		Fee:        fee,
		NetworkFee: networkFee,
	}, nil
}

// MarkRegistered 流水关联已登记的红包
func (s *EscrowService) MarkRegistered(ctx context.Context, fundingID string, envelopeID int64) {
	s.advance(ctx, fundingID, &repository.FundingUpdate{
		Status:     model.FundingStatusRegistered,
		EnvelopeID: &envelopeID,
	})
}

// MarkRegistrationFailed 记录登记失败原因, 流水保持非终态等待对账
func (s *EscrowService) MarkRegistrationFailed(ctx context.Context, fundingID string, cause error) {
	if err := s.repo.RecordError(ctx, fundingID, cause.Error(), s.now().UnixMilli()); err != nil {
		logger.Error("record funding error failed", zap.String("funding_id", fundingID), zap.Error(err))
	}
}

// advance 流水写入失败只记录日志, 不影响已经完成的转账
func (s *EscrowService) advance(ctx context.Context, fundingID string, update *repository.FundingUpdate) {
	update.UpdatedAt = s.now().UnixMilli()
	if err := s.repo.Advance(ctx, fundingID, update); err != nil {
		logger.Error("advance escrow funding failed",
			zap.String("funding_id", fundingID),
			zap.String("status", update.Status.String()),
			zap.Error(err))
	}
}

// Balances 查询用户在各代币上的余额
func (s *EscrowService) Balances(ctx context.Context, uid int64, tokens []token.Token) (string, map[string]string, error) {
	owner := s.resolver.AddressOf(uid)
	out := make(map[string]string, len(tokens))
	for _, tok := range tokens {
		bal, err := s.tokens.BalanceOf(ctx, tok.ContractID, owner)
		if err != nil {
			return owner, nil, errors.Wrap(ErrRemoteUnavailable, err)
		}
		out[tok.Symbol] = amount.FromFixedPoint(bal, tok.Decimals)
	}
	return owner, out, nil
}

// SweepResult 孤立流水扫描结果
type SweepResult struct {
	Scanned  int
	Orphaned int
}

// SweepOrphans 将长时间未完成登记的流水标记为孤立并发布事件, 供人工退款
func (s *EscrowService) SweepOrphans(ctx context.Context, olderThan time.Duration, limit int) (*SweepResult, error) {
	now := s.now()
	stale, err := s.repo.ListStale(ctx, now.Add(-olderThan).UnixMilli(), limit)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{Scanned: len(stale)}
	for _, f := range stale {
		changed, err := s.repo.MarkOrphaned(ctx, f.ID, now.UnixMilli())
		if err != nil {
			logger.Error("mark funding orphaned failed", zap.String("funding_id", f.ID), zap.Error(err))
			continue
		}
		if !changed {
			continue
		}
		result.Orphaned++

		logger.Warn("escrow funding orphaned",
			zap.String("funding_id", f.ID),
			zap.Int64("uid", f.UID),
			zap.String("token", f.TokenSymbol),
			zap.String("last_status", f.Status.String()),
			zap.String("net", f.Net.String()),
			zap.String("fee", f.Fee.String()))

		if err := s.events.PublishFundingOrphaned(ctx, &event.FundingOrphaned{
			FundingID:    f.ID,
			UID:          f.UID,
			TokenSymbol:  f.TokenSymbol,
			Net:          f.Net.String(),
			Fee:          f.Fee.String(),
			LastStatus:   f.Status.String(),
			NetTxRef:     f.NetTxRef,
			FeeTxRef:     f.FeeTxRef,
			ErrorMessage: f.ErrorMessage,
			DetectedAt:   now.UnixMilli(),
		}); err != nil {
			logger.Error("publish funding orphaned failed", zap.String("funding_id", f.ID), zap.Error(err))
		}
	}

	orphans, err := s.repo.CountByStatus(ctx, model.FundingStatusOrphaned)
	if err == nil {
		metrics.OrphanFundingsGauge.Set(float64(orphans))
	}
	return result, nil
}
