package model

import "github.com/shopspring/decimal"

// EnvelopeDisplayStatus 红包展示状态
type EnvelopeDisplayStatus string

const (
	EnvelopeUnsent  EnvelopeDisplayStatus = "Unsent"
	EnvelopeSent    EnvelopeDisplayStatus = "Sent"
	EnvelopeExpired EnvelopeDisplayStatus = "Expired"
	EnvelopeRevoked EnvelopeDisplayStatus = "Revoked"
)

// LocalEnvelopeRecord 远端红包的本地影子记录
// 登记时按远端编号插入一次, 之后只允许标记已发送/已撤销, 不删除
type LocalEnvelopeRecord struct {
	ID        int64           `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	Rune      string          `gorm:"column:rune;type:varchar(32);not null" json:"rune"`
	UID       int64           `gorm:"column:uid;type:bigint;index;not null" json:"uid"`
	Amount    decimal.Decimal `gorm:"column:amount;type:decimal(78,0);not null" json:"amount"`
	Count     int             `gorm:"column:count;type:int;not null" json:"count"`
	ExpireAt  int64           `gorm:"column:expire_at;type:bigint;not null" json:"expire_at"` // 毫秒
	FeeAmount decimal.Decimal `gorm:"column:fee_amount;type:decimal(78,0);not null" json:"fee_amount"`
	IsSent    bool            `gorm:"column:is_sent;not null;default:false" json:"is_sent"`
	IsRevoked bool            `gorm:"column:is_revoked;not null;default:false" json:"is_revoked"`
	Receiver  string          `gorm:"column:receiver;type:varchar(255)" json:"receiver"`
	SendTime  *int64          `gorm:"column:send_time;type:bigint;index" json:"send_time"`
	Owner     string          `gorm:"column:owner;type:varchar(255)" json:"owner"`
	TokenID   string          `gorm:"column:token_id;type:varchar(255);index" json:"token_id"`
	IsRandom  bool            `gorm:"column:is_random;not null;default:false" json:"is_random"`
	Memo      string          `gorm:"column:memo;type:text" json:"memo"`
	CreatedAt int64           `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
}

// TableName 返回表名
func (LocalEnvelopeRecord) TableName() string {
	return "re_status"
}

// IsExpired 是否已过期
func (r *LocalEnvelopeRecord) IsExpired(nowMs int64) bool {
	return nowMs > r.ExpireAt
}

// DisplayStatus 展示状态, 优先级: 已撤销 > 已过期 > 已发送 > 未发送
func (r *LocalEnvelopeRecord) DisplayStatus(nowMs int64) EnvelopeDisplayStatus {
	switch {
	case r == nil:
		return EnvelopeUnsent
	case r.IsRevoked:
		return EnvelopeRevoked
	case r.IsExpired(nowMs):
		return EnvelopeExpired
	case r.IsSent:
		return EnvelopeSent
	default:
		return EnvelopeUnsent
	}
}
