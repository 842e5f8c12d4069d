package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFundingStatus_String 测试托管状态字符串表示
func TestFundingStatus_String(t *testing.T) {
	tests := []struct {
		status   FundingStatus
		expected string
	}{
		{FundingStatusPending, "PENDING"},
		{FundingStatusNetTransferred, "NET_TRANSFERRED"},
		{FundingStatusFeeTransferred, "FEE_TRANSFERRED"},
		{FundingStatusRegistered, "REGISTERED"},
		{FundingStatusFailed, "FAILED"},
		{FundingStatusOrphaned, "ORPHANED"},
		{FundingStatus(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.status.String())
		})
	}
}

// TestFundingStatus_IsTerminal 测试终态判断
func TestFundingStatus_IsTerminal(t *testing.T) {
	assert.False(t, FundingStatusPending.IsTerminal())
	assert.False(t, FundingStatusNetTransferred.IsTerminal())
	assert.False(t, FundingStatusFeeTransferred.IsTerminal())
	assert.True(t, FundingStatusRegistered.IsTerminal())
	assert.True(t, FundingStatusFailed.IsTerminal())
	assert.True(t, FundingStatusOrphaned.IsTerminal())
}

// TestTableNames 测试表名
func TestTableNames(t *testing.T) {
	assert.Equal(t, "re_status", LocalEnvelopeRecord{}.TableName())
	assert.Equal(t, "snatch_status", ClaimTicket{}.TableName())
	assert.Equal(t, "wallets", WalletBinding{}.TableName())
	assert.Equal(t, "users", User{}.TableName())
	assert.Equal(t, "global_vars", GlobalVar{}.TableName())
	assert.Equal(t, "escrow_fundings", EscrowFunding{}.TableName())
	assert.Equal(t, "job_executions", JobExecution{}.TableName())
}

// TestLocalEnvelopeRecord_DisplayStatus 测试展示状态优先级
func TestLocalEnvelopeRecord_DisplayStatus(t *testing.T) {
	const now = int64(2_000)

	tests := []struct {
		name     string
		record   *LocalEnvelopeRecord
		expected EnvelopeDisplayStatus
	}{
		{"no local row", nil, EnvelopeUnsent},
		{"fresh", &LocalEnvelopeRecord{ExpireAt: 3_000}, EnvelopeUnsent},
		{"sent", &LocalEnvelopeRecord{ExpireAt: 3_000, IsSent: true}, EnvelopeSent},
		{"expired beats sent", &LocalEnvelopeRecord{ExpireAt: 1_000, IsSent: true}, EnvelopeExpired},
		{"revoked beats expired", &LocalEnvelopeRecord{ExpireAt: 1_000, IsSent: true, IsRevoked: true}, EnvelopeRevoked},
		{"expiry instant is not expired", &LocalEnvelopeRecord{ExpireAt: now}, EnvelopeUnsent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.record.DisplayStatus(now))
		})
	}
}

// TestClaimTicket_Code 测试领取结果码
func TestClaimTicket_Code(t *testing.T) {
	ticket := &ClaimTicket{Code: ClaimCodePending}
	assert.True(t, ticket.IsPending())
	assert.False(t, ticket.IsSuccess())

	ticket.Code = ClaimCodeSuccess
	assert.True(t, ticket.IsSuccess())

	ticket.Code = 1110
	assert.False(t, ticket.IsPending())
	assert.False(t, ticket.IsSuccess())
}

// TestJSONResult_ValueScan 测试任务结果序列化
func TestJSONResult_ValueScan(t *testing.T) {
	var empty JSONResult
	v, err := empty.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	src := JSONResult{"reconciled": float64(3)}
	v, err = src.Value()
	require.NoError(t, err)

	var dst JSONResult
	require.NoError(t, dst.Scan([]byte(v.(string))))
	assert.Equal(t, float64(3), dst["reconciled"])

	assert.Error(t, dst.Scan(42))
	require.NoError(t, dst.Scan(nil))
	assert.Nil(t, dst)
}
