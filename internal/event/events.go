package event

// EnvelopeCreated 红包登记事件, 金额为最小单位整数字符串
type EnvelopeCreated struct {
	EnvelopeID  int64  `json:"envelope_id"`
	UID         int64  `json:"uid"`
	TokenSymbol string `json:"token_symbol"`
	Amount      string `json:"amount"`
	Fee         string `json:"fee"`
	ShareCount  int    `json:"share_count"`
	IsRandom    bool   `json:"is_random"`
	ExpiresAt   int64  `json:"expires_at"`
	CreatedAt   int64  `json:"created_at"`
}

// EnvelopeGrabbed 领取成功事件
type EnvelopeGrabbed struct {
	EnvelopeID       int64  `json:"envelope_id"`
	UID              int64  `json:"uid"`
	Recipient        string `json:"recipient"`
	Amount           string `json:"amount"`
	ParticipantsNum  int    `json:"participants_num"`
	AllNum           int    `json:"all_num"`
	UnreceivedAmount string `json:"unreceived_amount"`
	GrabbedAt        int64  `json:"grabbed_at"`
}

// EnvelopeRevoked 撤销事件
type EnvelopeRevoked struct {
	EnvelopeID int64  `json:"envelope_id"`
	UID        int64  `json:"uid"`
	Refund     string `json:"refund"`
	RevokedAt  int64  `json:"revoked_at"`
}

// EnvelopeSent 发送事件
type EnvelopeSent struct {
	EnvelopeID int64  `json:"envelope_id"`
	Receiver   string `json:"receiver,omitempty"`
	SentAt     int64  `json:"sent_at"`
}

// FundingOrphaned 孤立托管资金事件
type FundingOrphaned struct {
	FundingID    string `json:"funding_id"`
	UID          int64  `json:"uid"`
	TokenSymbol  string `json:"token_symbol"`
	Net          string `json:"net"`
	Fee          string `json:"fee"`
	LastStatus   string `json:"last_status"`
	NetTxRef     string `json:"net_tx_ref,omitempty"`
	FeeTxRef     string `json:"fee_tx_ref,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	DetectedAt   int64  `json:"detected_at"`
}
