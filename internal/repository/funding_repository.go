package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/kami1983/sl-runes-agent/internal/model"
)

var (
	ErrFundingNotFound = errors.New("escrow funding not found")
)

// FundingUpdate 托管流水进度更新
type FundingUpdate struct {
	Status       model.FundingStatus
	NetTxRef     string
	FeeTxRef     string
	EnvelopeID   *int64
	ErrorMessage string
	UpdatedAt    int64
}

// FundingRepository 托管转账流水仓储
type FundingRepository interface {
	Create(ctx context.Context, funding *model.EscrowFunding) error
	GetByID(ctx context.Context, id string) (*model.EscrowFunding, error)
	// Advance 推进进度, 终态记录不再变更
	Advance(ctx context.Context, id string, update *FundingUpdate) error
	// RecordError 记录失败原因, 状态保持不变
	RecordError(ctx context.Context, id string, message string, nowMs int64) error
	// ListStale 查询更新时间早于 beforeMs 且未到终态的流水
	ListStale(ctx context.Context, beforeMs int64, limit int) ([]*model.EscrowFunding, error)
	// MarkOrphaned 非终态流水标记为孤立, 返回是否发生变化
	MarkOrphaned(ctx context.Context, id string, nowMs int64) (bool, error)
	CountByStatus(ctx context.Context, status model.FundingStatus) (int64, error)
}

type fundingRepository struct {
	*Repository
}

// NewFundingRepository 创建托管转账流水仓储
func NewFundingRepository(db *gorm.DB) FundingRepository {
	return &fundingRepository{Repository: NewRepository(db)}
}

var nonTerminalFundingStatuses = []model.FundingStatus{
	model.FundingStatusPending,
	model.FundingStatusNetTransferred,
	model.FundingStatusFeeTransferred,
}

func (r *fundingRepository) Create(ctx context.Context, funding *model.EscrowFunding) error {
	if funding.UpdatedAt == 0 {
		funding.UpdatedAt = funding.CreatedAt
	}
	return r.DB(ctx).Create(funding).Error
}

func (r *fundingRepository) GetByID(ctx context.Context, id string) (*model.EscrowFunding, error) {
	var funding model.EscrowFunding
	if err := r.DB(ctx).Where("id = ?", id).First(&funding).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFundingNotFound
		}
		return nil, err
	}
	return &funding, nil
}

func (r *fundingRepository) Advance(ctx context.Context, id string, update *FundingUpdate) error {
	updates := map[string]interface{}{
		"status":     update.Status,
		"updated_at": update.UpdatedAt,
	}
	if update.NetTxRef != "" {
		updates["net_tx_ref"] = update.NetTxRef
	}
	if update.FeeTxRef != "" {
		updates["fee_tx_ref"] = update.FeeTxRef
	}
	if update.EnvelopeID != nil {
		updates["envelope_id"] = *update.EnvelopeID
	}
	if update.ErrorMessage != "" {
		updates["error_message"] = truncate(update.ErrorMessage, 500)
	}

	result := r.DB(ctx).Model(&model.EscrowFunding{}).
		Where("id = ? AND status IN ?", id, nonTerminalFundingStatuses).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrFundingNotFound
	}
	return nil
}

func (r *fundingRepository) RecordError(ctx context.Context, id string, message string, nowMs int64) error {
	return r.DB(ctx).Model(&model.EscrowFunding{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"error_message": truncate(message, 500),
			"updated_at":    nowMs,
		}).Error
}

func (r *fundingRepository) ListStale(ctx context.Context, beforeMs int64, limit int) ([]*model.EscrowFunding, error) {
	var fundings []*model.EscrowFunding
	err := r.DB(ctx).
		Where("status IN ? AND updated_at < ?", nonTerminalFundingStatuses, beforeMs).
		Order("updated_at ASC").
		Limit(limit).
		Find(&fundings).Error
	return fundings, err
}

func (r *fundingRepository) MarkOrphaned(ctx context.Context, id string, nowMs int64) (bool, error) {
	result := r.DB(ctx).Model(&model.EscrowFunding{}).
		Where("id = ? AND status IN ?", id, nonTerminalFundingStatuses).
		Updates(map[string]interface{}{
			"status":     model.FundingStatusOrphaned,
			"updated_at": nowMs,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *fundingRepository) CountByStatus(ctx context.Context, status model.FundingStatus) (int64, error) {
	var count int64
	err := r.DB(ctx).Model(&model.EscrowFunding{}).
		Where("status = ?", status).
		Count(&count).Error
	return count, err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
