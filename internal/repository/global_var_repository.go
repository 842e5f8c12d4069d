package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kami1983/sl-runes-agent/internal/model"
)

// KeyValue 全局键值对
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// GlobalVarRepository 全局键值仓储
// 写入路径先对涉及的键加行锁, 再按 global_key 冲突合并
type GlobalVarRepository interface {
	UpdateKeys(ctx context.Context, pairs []KeyValue) error
	GetKeys(ctx context.Context, keys []string) (map[string]string, error)
}

type globalVarRepository struct {
	*Repository
	maxRetries int
}

// NewGlobalVarRepository 创建全局键值仓储
func NewGlobalVarRepository(db *gorm.DB) GlobalVarRepository {
	return &globalVarRepository{Repository: NewRepository(db), maxRetries: 3}
}

func (r *globalVarRepository) UpdateKeys(ctx context.Context, pairs []KeyValue) error {
	if len(pairs) == 0 {
		return nil
	}

	// 同一批次内重复的键以最后一次为准
	latest := make(map[string]string, len(pairs))
	keys := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if _, ok := latest[p.Key]; !ok {
			keys = append(keys, p.Key)
		}
		latest[p.Key] = p.Value
	}

	return r.TransactionWithRetry(ctx, r.maxRetries, func(ctx context.Context) error {
		var locked []*model.GlobalVar
		opts := &QueryOptions{ForUpdate: true}
		if err := opts.ApplyLock(r.DB(ctx)).Where("global_key IN ?", keys).Find(&locked).Error; err != nil {
			return err
		}

		now := time.Now().UnixMilli()
		rows := make([]*model.GlobalVar, 0, len(keys))
		for _, key := range keys {
			rows = append(rows, &model.GlobalVar{
				Name:        key,
				GlobalKey:   key,
				GlobalValue: latest[key],
				CreatedAt:   now,
				UpdatedAt:   now,
			})
		}

		return r.DB(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "global_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"global_value", "updated_at"}),
		}).Create(&rows).Error
	})
}

func (r *globalVarRepository) GetKeys(ctx context.Context, keys []string) (map[string]string, error) {
	values := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return values, nil
	}

	var rows []*model.GlobalVar
	if err := r.DB(ctx).Where("global_key IN ?", keys).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		values[row.GlobalKey] = row.GlobalValue
	}
	return values, nil
}
