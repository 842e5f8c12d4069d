// Package identity 用户标识与链上地址解析
//
// 私钥派生与签名不在本服务内完成, 这里只提供确定性的 uid -> 地址映射.
package identity

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Resolver 将本地用户 id 解析为链上地址
type Resolver interface {
	AddressOf(uid int64) string
}

// SaltedResolver 以 keccak256(salt || ":" || uid) 的后 20 字节作为地址
type SaltedResolver struct {
	salt []byte
}

// NewSaltedResolver 创建解析器
func NewSaltedResolver(salt string) *SaltedResolver {
	return &SaltedResolver{salt: []byte(salt)}
}

// AddressOf 返回 EIP-55 校验格式地址
func (r *SaltedResolver) AddressOf(uid int64) string {
	h := crypto.Keccak256(r.salt, []byte(":"), []byte(strconv.FormatInt(uid, 10)))
	return common.BytesToAddress(h[12:]).Hex()
}

// UUIDToNumber 外部 UUID 映射为 32 位 uid: md5 十六进制前 8 位, 对 2^32 取模
func UUIDToNumber(uuid string) int64 {
	sum := md5.Sum([]byte(uuid))
	// 前 8 个十六进制字符即前 4 字节
	return int64(binary.BigEndian.Uint32(sum[:4]))
}

// MD5Hex 返回小写十六进制 md5
func MD5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// SameAddress 不区分大小写比较地址
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
