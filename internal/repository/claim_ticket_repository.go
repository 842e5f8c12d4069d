package repository

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kami1983/sl-runes-agent/internal/model"
)

var (
	ErrClaimTicketNotFound = errors.New("claim ticket not found")
)

// ClaimTicketRepository 领取凭证仓储
type ClaimTicketRepository interface {
	// InsertPending 插入待定凭证, 已存在时返回现有记录且 inserted 为 false
	InsertPending(ctx context.Context, ticket *model.ClaimTicket) (existing *model.ClaimTicket, inserted bool, err error)
	Get(ctx context.Context, envelopeID, uid int64) (*model.ClaimTicket, error)
	// UpsertIfAbsentOrDifferent 按 (红包, 用户) 写入结果码, 仅当记录不存在或结果码不同时生效;
	// 已成功的凭证不再改写
	UpsertIfAbsentOrDifferent(ctx context.Context, ticket *model.ClaimTicket) (bool, error)
	// ListPending 查询创建时间早于 beforeMs 的待定凭证
	ListPending(ctx context.Context, beforeMs int64, limit int) ([]*model.ClaimTicket, error)
	CountPending(ctx context.Context) (int64, error)
	// ListSuccessByEnvelopes 查询若干红包的成功领取记录
	ListSuccessByEnvelopes(ctx context.Context, envelopeIDs []int64) ([]*model.ClaimTicket, error)
	CountSince(ctx context.Context, sinceMs int64) (int64, error)
}

type claimTicketRepository struct {
	*Repository
}

// NewClaimTicketRepository 创建领取凭证仓储
func NewClaimTicketRepository(db *gorm.DB) ClaimTicketRepository {
	return &claimTicketRepository{Repository: NewRepository(db)}
}

func (r *claimTicketRepository) InsertPending(ctx context.Context, ticket *model.ClaimTicket) (*model.ClaimTicket, bool, error) {
	ticket.Code = model.ClaimCodePending
	ticket.Amount = decimal.Zero
	if ticket.UpdatedAt == 0 {
		ticket.UpdatedAt = ticket.CreatedAt
	}

	result := r.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}, {Name: "uid"}},
		DoNothing: true,
	}).Create(ticket)
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected == 1 {
		return ticket, true, nil
	}

	existing, err := r.Get(ctx, ticket.EnvelopeID, ticket.UID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *claimTicketRepository) Get(ctx context.Context, envelopeID, uid int64) (*model.ClaimTicket, error) {
	var ticket model.ClaimTicket
	err := r.DB(ctx).Where("id = ? AND uid = ?", envelopeID, uid).First(&ticket).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrClaimTicketNotFound
		}
		return nil, err
	}
	return &ticket, nil
}

var codeColumn = clause.Column{Table: model.ClaimTicket{}.TableName(), Name: "code"}

func (r *claimTicketRepository) UpsertIfAbsentOrDifferent(ctx context.Context, ticket *model.ClaimTicket) (bool, error) {
	if ticket.UpdatedAt == 0 {
		ticket.UpdatedAt = ticket.CreatedAt
	}

	result := r.DB(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}, {Name: "uid"}},
		DoUpdates: clause.Set{
			{Column: clause.Column{Name: "code"}, Value: ticket.Code},
			{Column: clause.Column{Name: "amount"}, Value: ticket.Amount},
			{Column: clause.Column{Name: "discard"}, Value: ticket.Discard},
			{Column: clause.Column{Name: "updated_at"}, Value: ticket.UpdatedAt},
		},
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Neq{Column: codeColumn, Value: ticket.Code},
			clause.Neq{Column: codeColumn, Value: model.ClaimCodeSuccess},
		}},
	}).Create(ticket)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *claimTicketRepository) ListPending(ctx context.Context, beforeMs int64, limit int) ([]*model.ClaimTicket, error) {
	var tickets []*model.ClaimTicket
	err := r.DB(ctx).
		Where("code = ? AND created_at < ?", model.ClaimCodePending, beforeMs).
		Order("created_at ASC").
		Limit(limit).
		Find(&tickets).Error
	return tickets, err
}

func (r *claimTicketRepository) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := r.DB(ctx).Model(&model.ClaimTicket{}).
		Where("code = ?", model.ClaimCodePending).
		Count(&count).Error
	return count, err
}

func (r *claimTicketRepository) ListSuccessByEnvelopes(ctx context.Context, envelopeIDs []int64) ([]*model.ClaimTicket, error) {
	var tickets []*model.ClaimTicket
	if len(envelopeIDs) == 0 {
		return tickets, nil
	}
	err := r.DB(ctx).
		Where("id IN ? AND code = ?", envelopeIDs, model.ClaimCodeSuccess).
		Order("created_at ASC").
		Find(&tickets).Error
	return tickets, err
}

func (r *claimTicketRepository) CountSince(ctx context.Context, sinceMs int64) (int64, error) {
	var count int64
	query := r.DB(ctx).Model(&model.ClaimTicket{})
	if sinceMs > 0 {
		query = query.Where("created_at >= ?", sinceMs)
	}
	err := query.Count(&count).Error
	return count, err
}
