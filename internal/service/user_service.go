package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kami1983/sl-runes-agent/internal/identity"
	"github.com/kami1983/sl-runes-agent/internal/model"
	"github.com/kami1983/sl-runes-agent/internal/repository"
	"github.com/kami1983/sl-runes-agent/pkg/errors"
	"github.com/kami1983/sl-runes-agent/pkg/logger"
)

// UserService 用户目录
type UserService struct {
	repo repository.UserRepository
	now  func() time.Time
}

// NewUserService 创建用户服务
func NewUserService(repo repository.UserRepository) *UserService {
	return &UserService{repo: repo, now: time.Now}
}

// ResolveUID 外部 UUID 映射为本地 uid
func (s *UserService) ResolveUID(external string) int64 {
	return identity.UUIDToNumber(external)
}

// Touch 每次请求时写入用户名
func (s *UserService) Touch(ctx context.Context, uid int64, username string) error {
	err := s.repo.Upsert(ctx, &model.User{UID: uid, Username: username, UpdatedAt: s.now().UnixMilli()})
	if err != nil {
		logger.Warn("touch user failed", zap.Int64("uid", uid), zap.Error(err))
		return errors.Wrap(errors.ErrDBTransaction, err)
	}
	return nil
}

// Username 查询用户名, 不存在时返回空串
func (s *UserService) Username(ctx context.Context, uid int64) (string, error) {
	user, err := s.repo.GetByUID(ctx, uid)
	if err != nil {
		return "", errors.Wrap(errors.ErrDBTransaction, err)
	}
	if user == nil {
		return "", nil
	}
	return user.Username, nil
}
