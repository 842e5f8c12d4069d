package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/kami1983/sl-runes-agent/internal/repository"
	"github.com/kami1983/sl-runes-agent/pkg/errors"
	"github.com/kami1983/sl-runes-agent/pkg/logger"
)

// GlobalVarService 全局键值
type GlobalVarService struct {
	repo repository.GlobalVarRepository
}

// NewGlobalVarService 创建全局键值服务
func NewGlobalVarService(repo repository.GlobalVarRepository) *GlobalVarService {
	return &GlobalVarService{repo: repo}
}

// UpdateKeys 在一个事务内写入全部键值
func (s *GlobalVarService) UpdateKeys(ctx context.Context, pairs []repository.KeyValue) error {
	if len(pairs) == 0 {
		return errors.ErrInvalidRequest.WithMessage("没有需要更新的键")
	}
	for _, p := range pairs {
		if strings.TrimSpace(p.Key) == "" {
			return errors.ErrInvalidRequest.WithMessage("键不能为空")
		}
	}

	if err := s.repo.UpdateKeys(ctx, pairs); err != nil {
		logger.Error("update global keys failed", zap.Int("count", len(pairs)), zap.Error(err))
		return errors.Wrap(errors.ErrDBTransaction, err)
	}
	return nil
}

// GetKeys 按逗号分隔的键名查询, 不存在的键不出现在结果中
func (s *GlobalVarService) GetKeys(ctx context.Context, keyList string) (map[string]string, error) {
	keys := make([]string, 0)
	for _, k := range strings.Split(keyList, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return map[string]string{}, nil
	}

	values, err := s.repo.GetKeys(ctx, keys)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDBTransaction, err)
	}
	return values, nil
}
