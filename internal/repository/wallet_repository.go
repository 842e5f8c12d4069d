package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kami1983/sl-runes-agent/internal/model"
)

var (
	ErrWalletNotFound = errors.New("wallet binding not found")
)

// WalletRepository 钱包绑定仓储
type WalletRepository interface {
	// Bind 首次绑定地址; 已绑定时地址保持不变, 仅在 channel 为空时补写
	Bind(ctx context.Context, binding *model.WalletBinding) (current *model.WalletBinding, firstBind bool, err error)
	GetByUID(ctx context.Context, uid int64) (*model.WalletBinding, error)
	CountSince(ctx context.Context, sinceMs int64) (int64, error)
}

type walletRepository struct {
	*Repository
}

// NewWalletRepository 创建钱包绑定仓储
func NewWalletRepository(db *gorm.DB) WalletRepository {
	return &walletRepository{Repository: NewRepository(db)}
}

func (r *walletRepository) Bind(ctx context.Context, binding *model.WalletBinding) (*model.WalletBinding, bool, error) {
	result := r.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uid"}},
		DoNothing: true,
	}).Create(binding)
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected == 1 {
		return binding, true, nil
	}

	if binding.Channel != nil {
		err := r.DB(ctx).Model(&model.WalletBinding{}).
			Where("uid = ? AND channel IS NULL", binding.UID).
			Update("channel", *binding.Channel).Error
		if err != nil {
			return nil, false, err
		}
	}

	current, err := r.GetByUID(ctx, binding.UID)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

func (r *walletRepository) GetByUID(ctx context.Context, uid int64) (*model.WalletBinding, error) {
	var binding model.WalletBinding
	if err := r.DB(ctx).Where("uid = ?", uid).First(&binding).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &binding, nil
}

func (r *walletRepository) CountSince(ctx context.Context, sinceMs int64) (int64, error) {
	var count int64
	query := r.DB(ctx).Model(&model.WalletBinding{})
	if sinceMs > 0 {
		query = query.Where("created_at >= ?", sinceMs)
	}
	err := query.Count(&count).Error
	return count, err
}

// UserRepository 用户目录仓储
type UserRepository interface {
	Upsert(ctx context.Context, user *model.User) error
	GetByUID(ctx context.Context, uid int64) (*model.User, error)
}

type userRepository struct {
	*Repository
}

// NewUserRepository 创建用户目录仓储
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{Repository: NewRepository(db)}
}

func (r *userRepository) Upsert(ctx context.Context, user *model.User) error {
	return r.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uid"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "updated_at"}),
	}).Create(user).Error
}

func (r *userRepository) GetByUID(ctx context.Context, uid int64) (*model.User, error) {
	var user model.User
	if err := r.DB(ctx).Where("uid = ?", uid).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}
