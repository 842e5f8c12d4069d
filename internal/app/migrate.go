package app

import (
	"gorm.io/gorm"

	"github.com/kami1983/sl-runes-agent/internal/model"
)

// Models 需要迁移的全部表
var Models = []interface{}{
	&model.LocalEnvelopeRecord{},
	&model.ClaimTicket{},
	&model.WalletBinding{},
	&model.User{},
	&model.GlobalVar{},
	&model.EscrowFunding{},
	&model.JobExecution{},
}

// AutoMigrate 自动建表, 只增不删
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models...)
}
