package service

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kami1983/sl-runes-agent/internal/amount"
	"github.com/kami1983/sl-runes-agent/internal/identity"
	"github.com/kami1983/sl-runes-agent/internal/ledger"
	"github.com/kami1983/sl-runes-agent/internal/metrics"
	"github.com/kami1983/sl-runes-agent/internal/model"
	"github.com/kami1983/sl-runes-agent/internal/repository"
	"github.com/kami1983/sl-runes-agent/internal/token"
	"github.com/kami1983/sl-runes-agent/pkg/errors"
)

const (
	ownedPageSize    = 20
	remoteFanOut     = 8
	maxStatusPageLen = 100
)

// OwnedRow 用户红包列表行
type OwnedRow struct {
	ID         int64                       `json:"id"`
	Symbol     string                      `json:"symbol"`
	Amount     string                      `json:"amount"`
	Remain     string                      `json:"remain"`
	Status     model.EnvelopeDisplayStatus `json:"status"`
	ShareCount int                         `json:"share_count"`
	Claimed    int                         `json:"claimed"`
}

// OwnedPage 分页结果, 页码从 1 开始
type OwnedPage struct {
	Page int         `json:"page"`
	Max  int         `json:"max"`
	Rows []*OwnedRow `json:"rows"`
}

// SnatchEntry 成功领取记录
type SnatchEntry struct {
	UID            int64  `json:"uid"`
	Recipient      string `json:"recipient"`
	Amount         string `json:"amount"`
	FriendlyAmount string `json:"friendly_amount"`
	CreatedAt      int64  `json:"created_at"`
}

// StatusRow 本地状态列表行
type StatusRow struct {
	*model.LocalEnvelopeRecord
	FriendlyAmount string         `json:"friendly_amount"`
	SnatchList     []*SnatchEntry `json:"snatch_list"`
}

// StatusPage 本地状态分页结果, Page 从 0 开始, PageSize 为实际使用的页长
type StatusPage struct {
	Rows     []*StatusRow
	Page     int
	PageSize int
	Total    int64
}

// StatusService 本地记录与远端状态合并视图, 只读
type StatusService struct {
	remote   ledger.Client
	records  repository.EnvelopeRepository
	tickets  repository.ClaimTicketRepository
	tokens   *token.Registry
	resolver identity.Resolver

	now func() time.Time
}

// NewStatusService 创建状态视图服务
func NewStatusService(
	remote ledger.Client,
	records repository.EnvelopeRepository,
	tickets repository.ClaimTicketRepository,
	tokens *token.Registry,
	resolver identity.Resolver,
) *StatusService {
	return &StatusService{
		remote:   remote,
		records:  records,
		tickets:  tickets,
		tokens:   tokens,
		resolver: resolver,
		now:      time.Now,
	}
}

// SetClock 替换时钟
func (s *StatusService) SetClock(now func() time.Time) {
	s.now = now
}

// ListOwned 用户名下红包, 按编号倒序, 每页 20 条; 页码越界时取最后一页.
// shareFilter > 0 时先按本地记录的份数过滤, 再计算页数与分页.
func (s *StatusService) ListOwned(ctx context.Context, uid int64, page int, shareFilter int) (*OwnedPage, error) {
	owner := s.resolver.AddressOf(uid)

	start := time.Now()
	ids, err := s.remote.ListOwnedIDs(ctx, owner)
	metrics.RecordRemoteCall("list_owned", err, time.Since(start).Seconds())
	if err != nil {
		return nil, errors.Wrap(ErrRemoteUnavailable, err)
	}

	if shareFilter > 0 && len(ids) > 0 {
		matched, err := s.records.FindByIDs(ctx, ids, uid, shareFilter)
		if err != nil {
			return nil, errors.Wrap(errors.ErrDBTransaction, err)
		}
		ids = ids[:0]
		for _, r := range matched {
			ids = append(ids, r.ID)
		}
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	if len(ids) == 0 {
		return &OwnedPage{Page: 1, Max: 0, Rows: []*OwnedRow{}}, nil
	}

	maxPage := (len(ids) + ownedPageSize - 1) / ownedPageSize
	if page < 1 {
		page = 1
	}
	if page > maxPage {
		page = maxPage
	}
	from := (page - 1) * ownedPageSize
	to := from + ownedPageSize
	if to > len(ids) {
		to = len(ids)
	}
	pageIDs := ids[from:to]

	envelopes := make([]*ledger.Envelope, len(pageIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(remoteFanOut)
	for i, id := range pageIDs {
		i, id := i, id
		g.Go(func() error {
			env, err := s.remote.Get(gctx, id)
			if err != nil {
				return err
			}
			envelopes[i] = env
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(ErrRemoteUnavailable, err)
	}

	records, err := s.records.FindByIDs(ctx, pageIDs, uid, 0)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDBTransaction, err)
	}
	local := make(map[int64]*model.LocalEnvelopeRecord, len(records))
	for _, r := range records {
		local[r.ID] = r
	}

	nowMs := s.now().UnixMilli()
	rows := make([]*OwnedRow, 0, len(pageIDs))
	for _, env := range envelopes {
		if env == nil {
			continue
		}
		tok, _ := s.tokens.ByContract(env.TokenID)
		rows = append(rows, &OwnedRow{
			ID:         env.ID,
			Symbol:     tok.Symbol,
			Amount:     amount.FromFixedPoint(env.Amount, tok.Decimals),
			Remain:     amount.FromFixedPoint(env.Amount.Sub(env.Claimed()), tok.Decimals),
			Status:     local[env.ID].DisplayStatus(nowMs),
			ShareCount: env.Num,
			Claimed:    len(env.Participants),
		})
	}

	return &OwnedPage{Page: page, Max: maxPage, Rows: rows}, nil
}

// ListStatus 本地红包状态分页, 页码从 0 开始; tid 为 nil 时不过滤代币
func (s *StatusService) ListStatus(ctx context.Context, pageStart, pageSize int, tid *int) (*StatusPage, error) {
	symbol := ""
	if tid != nil {
		tok, err := s.tokens.ByTid(*tid)
		if err != nil {
			return nil, ErrTokenNotFound.WithDetailInt("tid", int64(*tid))
		}
		symbol = tok.Symbol
	}
	if pageStart < 0 {
		pageStart = 0
	}
	if pageSize <= 0 || pageSize > maxStatusPageLen {
		pageSize = repository.DefaultPageSize
	}

	pagination := &repository.Pagination{Page: pageStart + 1, PageSize: pageSize}
	records, err := s.records.ListPage(ctx, symbol, pagination)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDBTransaction, err)
	}

	ids := make([]int64, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	success, err := s.tickets.ListSuccessByEnvelopes(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDBTransaction, err)
	}

	decimalsOf := func(symbol string) int32 {
		tok, err := s.tokens.BySymbol(symbol)
		if err != nil {
			return 0
		}
		return tok.Decimals
	}

	byEnvelope := make(map[int64][]*model.ClaimTicket, len(records))
	for _, t := range success {
		byEnvelope[t.EnvelopeID] = append(byEnvelope[t.EnvelopeID], t)
	}

	rows := make([]*StatusRow, 0, len(records))
	for _, r := range records {
		decimals := decimalsOf(r.Rune)
		row := &StatusRow{
			LocalEnvelopeRecord: r,
			FriendlyAmount:      amount.FromFixedPoint(r.Amount, decimals),
			SnatchList:          []*SnatchEntry{},
		}
		for _, t := range byEnvelope[r.ID] {
			row.SnatchList = append(row.SnatchList, &SnatchEntry{
				UID:            t.UID,
				Recipient:      t.Recipient,
				Amount:         t.Amount.String(),
				FriendlyAmount: amount.FromFixedPoint(t.Amount, decimals),
				CreatedAt:      t.CreatedAt,
			})
		}
		rows = append(rows, row)
	}
	return &StatusPage{
		Rows:     rows,
		Page:     pageStart,
		PageSize: pagination.PageSize,
		Total:    pagination.Total,
	}, nil
}
