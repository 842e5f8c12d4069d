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
	ErrEnvelopeNotFound = errors.New("envelope record not found")
)

// EnvelopeRepository 本地红包记录仓储
type EnvelopeRepository interface {
	// InsertIgnore 按远端编号插入, 已存在时忽略, 返回是否新插入
	InsertIgnore(ctx context.Context, record *model.LocalEnvelopeRecord) (bool, error)
	GetByID(ctx context.Context, id int64) (*model.LocalEnvelopeRecord, error)
	GetByIDAndUID(ctx context.Context, id, uid int64) (*model.LocalEnvelopeRecord, error)
	// MarkSent 标记已发送, 仅首次写入发送时间
	MarkSent(ctx context.Context, id int64, nowMs int64) error
	// MarkSentTo 标记已发送并记录接收方
	MarkSentTo(ctx context.Context, id int64, receiver string, nowMs int64) error
	// MarkRevoked 标记已撤销, 返回本次是否发生状态变化
	MarkRevoked(ctx context.Context, id, uid int64) (bool, error)
	// FindByIDs 查询用户名下指定编号的记录, maxCount > 0 时按份数过滤
	FindByIDs(ctx context.Context, ids []int64, uid int64, maxCount int) ([]*model.LocalEnvelopeRecord, error)
	// ListPage 按编号倒序分页, symbol 为空时不过滤代币
	ListPage(ctx context.Context, symbol string, pagination *Pagination) ([]*model.LocalEnvelopeRecord, error)
	CountSent(ctx context.Context, sinceMs int64) (int64, error)
	SumSentAmount(ctx context.Context, sinceMs int64) (decimal.Decimal, error)
}

type envelopeRepository struct {
	*Repository
}

// NewEnvelopeRepository 创建本地红包记录仓储
func NewEnvelopeRepository(db *gorm.DB) EnvelopeRepository {
	return &envelopeRepository{Repository: NewRepository(db)}
}

func (r *envelopeRepository) InsertIgnore(ctx context.Context, record *model.LocalEnvelopeRecord) (bool, error) {
	result := r.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(record)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *envelopeRepository) GetByID(ctx context.Context, id int64) (*model.LocalEnvelopeRecord, error) {
	var record model.LocalEnvelopeRecord
	if err := r.DB(ctx).Where("id = ?", id).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEnvelopeNotFound
		}
		return nil, err
	}
	return &record, nil
}

func (r *envelopeRepository) GetByIDAndUID(ctx context.Context, id, uid int64) (*model.LocalEnvelopeRecord, error) {
	var record model.LocalEnvelopeRecord
	if err := r.DB(ctx).Where("id = ? AND uid = ?", id, uid).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEnvelopeNotFound
		}
		return nil, err
	}
	return &record, nil
}

func (r *envelopeRepository) MarkSent(ctx context.Context, id int64, nowMs int64) error {
	result := r.DB(ctx).Model(&model.LocalEnvelopeRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_sent":   true,
			"send_time": gorm.Expr("COALESCE(send_time, ?)", nowMs),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrEnvelopeNotFound
	}
	return nil
}

func (r *envelopeRepository) MarkSentTo(ctx context.Context, id int64, receiver string, nowMs int64) error {
	result := r.DB(ctx).Model(&model.LocalEnvelopeRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_sent":   true,
			"receiver":  receiver,
			"send_time": nowMs,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrEnvelopeNotFound
	}
	return nil
}

func (r *envelopeRepository) MarkRevoked(ctx context.Context, id, uid int64) (bool, error) {
	result := r.DB(ctx).Model(&model.LocalEnvelopeRecord{}).
		Where("id = ? AND uid = ? AND is_revoked = ?", id, uid, false).
		Update("is_revoked", true)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *envelopeRepository) FindByIDs(ctx context.Context, ids []int64, uid int64, maxCount int) ([]*model.LocalEnvelopeRecord, error) {
	var records []*model.LocalEnvelopeRecord
	if len(ids) == 0 {
		return records, nil
	}
	query := r.DB(ctx).Where("id IN ? AND uid = ?", ids, uid)
	if maxCount > 0 {
		query = query.Where("count <= ?", maxCount)
	}
	err := query.Order("id DESC").Find(&records).Error
	return records, err
}

func (r *envelopeRepository) ListPage(ctx context.Context, symbol string, pagination *Pagination) ([]*model.LocalEnvelopeRecord, error) {
	var records []*model.LocalEnvelopeRecord
	query := r.DB(ctx).Model(&model.LocalEnvelopeRecord{})
	if symbol != "" {
		query = query.Where("rune = ?", symbol)
	}
	if pagination != nil {
		if err := query.Count(&pagination.Total).Error; err != nil {
			return nil, err
		}
		query = query.Offset(pagination.Offset()).Limit(pagination.Limit())
	}
	err := query.Order("id DESC").Find(&records).Error
	return records, err
}

func (r *envelopeRepository) CountSent(ctx context.Context, sinceMs int64) (int64, error) {
	var count int64
	err := r.sentScope(ctx, sinceMs).Count(&count).Error
	return count, err
}

func (r *envelopeRepository) SumSentAmount(ctx context.Context, sinceMs int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.sentScope(ctx, sinceMs).
		Select("COALESCE(SUM(amount), 0)").
		Row().
		Scan(&sum)
	return sum, err
}

func (r *envelopeRepository) sentScope(ctx context.Context, sinceMs int64) *gorm.DB {
	query := r.DB(ctx).Model(&model.LocalEnvelopeRecord{}).Where("is_sent = ?", true)
	if sinceMs > 0 {
		query = query.Where("send_time >= ?", sinceMs)
	}
	return query
}
