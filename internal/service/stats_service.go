package service

import (
	"context"
	"time"

	"github.com/kami1983/sl-runes-agent/internal/metrics"
	"github.com/kami1983/sl-runes-agent/internal/model"
	"github.com/kami1983/sl-runes-agent/internal/repository"
	"github.com/kami1983/sl-runes-agent/pkg/errors"
)

// Stats 业务统计
type Stats struct {
	EnvelopesSent int64  `json:"re_count"`
	AmountSent    string `json:"re_amount"` // 各代币最小单位直接相加
	Grabs         int64  `json:"snatch_count"`
	Wallets       int64  `json:"wallet_count"`
}

// StatsService 统计服务
type StatsService struct {
	records  repository.EnvelopeRepository
	tickets  repository.ClaimTicketRepository
	wallets  repository.WalletRepository
	fundings repository.FundingRepository

	now func() time.Time
}

// NewStatsService 创建统计服务
func NewStatsService(
	records repository.EnvelopeRepository,
	tickets repository.ClaimTicketRepository,
	wallets repository.WalletRepository,
	fundings repository.FundingRepository,
) *StatsService {
	return &StatsService{
		records:  records,
		tickets:  tickets,
		wallets:  wallets,
		fundings: fundings,
		now:      time.Now,
	}
}

// SetClock 替换时钟
func (s *StatsService) SetClock(now func() time.Time) {
	s.now = now
}

func (s *StatsService) since(duration time.Duration) int64 {
	if duration <= 0 {
		return 0
	}
	return s.now().Add(-duration).UnixMilli()
}

// Stats 统计最近 duration 内的数据, duration 为 0 表示全部
func (s *StatsService) Stats(ctx context.Context, duration time.Duration) (*Stats, error) {
	since := s.since(duration)

	sent, err := s.records.CountSent(ctx, since)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDBTransaction, err)
	}
	sum, err := s.records.SumSentAmount(ctx, since)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDBTransaction, err)
	}
	grabs, err := s.tickets.CountSince(ctx, since)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDBTransaction, err)
	}
	wallets, err := s.wallets.CountSince(ctx, since)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDBTransaction, err)
	}

	return &Stats{
		EnvelopesSent: sent,
		AmountSent:    sum.String(),
		Grabs:         grabs,
		Wallets:       wallets,
	}, nil
}

// RefreshGauges 刷新统计指标
func (s *StatsService) RefreshGauges(ctx context.Context) (*Stats, error) {
	stats, err := s.Stats(ctx, 0)
	if err != nil {
		return nil, err
	}
	metrics.StatsGauge.WithLabelValues("envelopes_sent").Set(float64(stats.EnvelopesSent))
	metrics.StatsGauge.WithLabelValues("tickets").Set(float64(stats.Grabs))
	metrics.StatsGauge.WithLabelValues("wallets").Set(float64(stats.Wallets))
	if sum, err := s.records.SumSentAmount(ctx, 0); err == nil {
		f, _ := sum.Float64()
		metrics.StatsGauge.WithLabelValues("amount_sent").Set(f)
	}

	pending, err := s.tickets.CountPending(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDBTransaction, err)
	}
	metrics.PendingTicketsGauge.Set(float64(pending))

	orphans, err := s.fundings.CountByStatus(ctx, model.FundingStatusOrphaned)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDBTransaction, err)
	}
	metrics.OrphanFundingsGauge.Set(float64(orphans))
	return stats, nil
}
