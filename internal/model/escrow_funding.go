package model

import "github.com/shopspring/decimal"

// FundingStatus 托管转账进度
type FundingStatus int8

const (
	FundingStatusPending        FundingStatus = 0 // 已记录, 未转账
	FundingStatusNetTransferred FundingStatus = 1 // 本金已转入托管
	FundingStatusFeeTransferred FundingStatus = 2 // 手续费已转出
	FundingStatusRegistered     FundingStatus = 3 // 远端已登记
	FundingStatusFailed         FundingStatus = 4 // 首笔转账失败, 资金未移动
	FundingStatusOrphaned       FundingStatus = 5 // 资金已移动但未登记, 待人工退款
)

func (s FundingStatus) String() string {
	switch s {
	case FundingStatusPending:
		return "PENDING"
	case FundingStatusNetTransferred:
		return "NET_TRANSFERRED"
	case FundingStatusFeeTransferred:
		return "FEE_TRANSFERRED"
	case FundingStatusRegistered:
		return "REGISTERED"
	case FundingStatusFailed:
		return "FAILED"
	case FundingStatusOrphaned:
		return "ORPHANED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal 判断是否为终态
func (s FundingStatus) IsTerminal() bool {
	return s == FundingStatusRegistered || s == FundingStatusFailed || s == FundingStatusOrphaned
}

// EscrowFunding 托管转账流水, 以 UUID 作为幂等键
type EscrowFunding struct {
	ID           string          `gorm:"column:id;type:varchar(36);primaryKey" json:"id"`
	UID          int64           `gorm:"column:uid;type:bigint;index;not null" json:"uid"`
	TokenSymbol  string          `gorm:"column:token_symbol;type:varchar(32);not null" json:"token_symbol"`
	TokenID      string          `gorm:"column:token_id;type:varchar(255);not null" json:"token_id"`
	Gross        decimal.Decimal `gorm:"column:gross;type:decimal(78,0);not null" json:"gross"`
	Net          decimal.Decimal `gorm:"column:net;type:decimal(78,0);not null" json:"net"`
	Fee          decimal.Decimal `gorm:"column:fee;type:decimal(78,0);not null" json:"fee"`
	ShareCount   int             `gorm:"column:share_count;type:int;not null" json:"share_count"`
	Status       FundingStatus   `gorm:"column:status;type:smallint;index;not null;default:0" json:"status"`
	NetTxRef     string          `gorm:"column:net_tx_ref;type:varchar(128)" json:"net_tx_ref"`
	FeeTxRef     string          `gorm:"column:fee_tx_ref;type:varchar(128)" json:"fee_tx_ref"`
	EnvelopeID   *int64          `gorm:"column:envelope_id;type:bigint" json:"envelope_id"`
	ErrorMessage string          `gorm:"column:error_message;type:varchar(500)" json:"error_message"`
	CreatedAt    int64           `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt    int64           `gorm:"column:updated_at;type:bigint;index;not null" json:"updated_at"`
}

// TableName 返回表名
func (EscrowFunding) TableName() string {
	return "escrow_fundings"
}
