package model

import "github.com/shopspring/decimal"

// 领取结果码: -1 待定, 0 成功, >0 为远端错误码
const (
	ClaimCodePending int64 = -1
	ClaimCodeSuccess int64 = 0
)

// ClaimTicket 领取凭证, (红包编号, 用户) 唯一
type ClaimTicket struct {
	EnvelopeID int64           `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	UID        int64           `gorm:"column:uid;primaryKey;autoIncrement:false" json:"uid"`
	Code       int64           `gorm:"column:code;type:bigint;not null;index" json:"code"`
	Amount     decimal.Decimal `gorm:"column:amount;type:decimal(78,0);not null" json:"amount"`
	Discard    int8            `gorm:"column:discard;type:smallint;not null;default:0" json:"discard"`
	Recipient  string          `gorm:"column:recipient;type:varchar(255)" json:"recipient"`
	CreatedAt  int64           `gorm:"column:created_at;type:bigint;index;not null" json:"created_at"`
	UpdatedAt  int64           `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (ClaimTicket) TableName() string {
	return "snatch_status"
}

// IsPending 是否待定
func (t *ClaimTicket) IsPending() bool {
	return t.Code == ClaimCodePending
}

// IsSuccess 是否领取成功
func (t *ClaimTicket) IsSuccess() bool {
	return t.Code == ClaimCodeSuccess
}
