package identity

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

// TestUUIDToNumber 测试 UUID 映射
func TestUUIDToNumber(t *testing.T) {
	assert.Equal(t, int64(3896863982), UUIDToNumber("550e8400-e29b-41d4-a716-446655440000"))
	assert.Equal(t, int64(3486326916), UUIDToNumber("0"))
	assert.Equal(t, "cfcd208495d565ef66e7dff9f98764da", MD5Hex("0"))
}

// TestSaltedResolver 测试地址解析的确定性
func TestSaltedResolver(t *testing.T) {
	r := NewSaltedResolver("salt-a")

	a1 := r.AddressOf(42)
	a2 := r.AddressOf(42)
	assert.Equal(t, a1, a2)
	assert.True(t, common.IsHexAddress(a1))
	assert.NotEqual(t, a1, r.AddressOf(43))

	other := NewSaltedResolver("salt-b")
	assert.NotEqual(t, a1, other.AddressOf(42))
}

// TestSameAddress 测试地址比较
func TestSameAddress(t *testing.T) {
	assert.True(t, SameAddress("0xAbC", "0xabc"))
	assert.True(t, SameAddress(" 0xabc", "0xABC "))
	assert.False(t, SameAddress("0xabc", "0xabd"))
}
