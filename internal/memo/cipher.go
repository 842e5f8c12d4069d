// Package memo 红包留言的静态加密 (AES-256-CBC, base64)
//
// 密钥与 IV 全局固定, 相同明文得到相同密文. 这是已知弱点, 仅保证存储层不出现明文.
package memo

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kami1983/sl-runes-agent/pkg/logger"
)

const (
	keySize = 32
	ivSize  = aes.BlockSize
)

var (
	ErrInvalidKey     = errors.New("memo key must be at least 32 bytes")
	ErrInvalidIV      = errors.New("memo iv must be at least 16 bytes")
	ErrInvalidPadding = errors.New("invalid memo padding")
	ErrCiphertextSize = errors.New("memo ciphertext is not a multiple of the block size")
)

// Cipher 留言加解密
type Cipher struct {
	block cipher.Block
	iv    []byte
}

// NewCipher 创建留言加解密器, 超长的 key/iv 截断
func NewCipher(key, iv string) (*Cipher, error) {
	if len(key) < keySize {
		return nil, ErrInvalidKey
	}
	if len(iv) < ivSize {
		return nil, ErrInvalidIV
	}
	block, err := aes.NewCipher([]byte(key)[:keySize])
	if err != nil {
		return nil, err
	}
	return &Cipher{
		block: block,
		iv:    append([]byte(nil), []byte(iv)[:ivSize]...),
	}, nil
}

// Encrypt 加密为 base64
func (c *Cipher) Encrypt(plain string) (string, error) {
	data := pkcs7Pad([]byte(plain), aes.BlockSize)
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(c.block, c.iv).CryptBlocks(out, data)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt 解密 base64 密文
func (c *Cipher) Decrypt(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode memo: %w", err)
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return "", ErrCiphertextSize
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(c.block, c.iv).CryptBlocks(out, data)
	return pkcs7Unpad(out, aes.BlockSize)
}

// EncryptOptional 空留言不加密
func (c *Cipher) EncryptOptional(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	return c.Encrypt(plain)
}

// DecryptOrOriginal 解密失败时返回原文
func (c *Cipher) DecryptOrOriginal(text string) string {
	if text == "" {
		return ""
	}
	plain, err := c.Decrypt(text)
	if err != nil {
		logger.Debug("memo decryption failed, using original text", zap.Error(err))
		return text
	}
	return plain
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) (string, error) {
	n := len(data)
	if n == 0 {
		return "", ErrInvalidPadding
	}
	padding := int(data[n-1])
	if padding == 0 || padding > blockSize || padding > n {
		return "", ErrInvalidPadding
	}
	for _, b := range data[n-padding:] {
		if int(b) != padding {
			return "", ErrInvalidPadding
		}
	}
	return string(data[:n-padding]), nil
}
