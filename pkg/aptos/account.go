package aptos

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// ed25519 单签账户的认证方案标识
const ed25519Scheme = 0x00

// Account ed25519 单签账户
type Account struct {
	Key     ed25519.PrivateKey
	Address string
}

// NewAccount 由 ed25519 私钥创建账户
func NewAccount(key ed25519.PrivateKey) *Account {
	return &Account{Key: key, Address: AddressOf(key.Public().(ed25519.PublicKey))}
}

// AccountFromSeed 由 32 字节种子创建账户
func AccountFromSeed(seed []byte) (*Account, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("aptos: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return NewAccount(ed25519.NewKeyFromSeed(seed)), nil
}

// AccountFromHex 解析 hex 私钥，兼容 "ed25519-priv-0x..." 格式
func AccountFromHex(s string) (*Account, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "ed25519-priv-")
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("aptos: invalid private key: %w", err)
	}
	// 64 字节为 seed||pub
	if len(b) == ed25519.PrivateKeySize {
		b = b[:ed25519.SeedSize]
	}
	return AccountFromSeed(b)
}

// PublicKeyHex 0x 开头的公钥
func (a *Account) PublicKeyHex() string {
	return "0x" + hex.EncodeToString(a.Key.Public().(ed25519.PublicKey))
}

// PrivateKeyHex 0x 开头的 32 字节种子
func (a *Account) PrivateKeyHex() string {
	return "0x" + hex.EncodeToString(a.Key.Seed())
}

// AddressOf 地址 = sha3-256(pubkey || scheme)
func AddressOf(pub ed25519.PublicKey) string {
	h := sha3.New256()
	h.Write(pub)
	h.Write([]byte{ed25519Scheme})
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

// NormalizeAddress 统一为 0x + 64 位小写 hex（短地址左补 0）
func NormalizeAddress(s string) (string, error) {
	s = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if s == "" || len(s) > 64 {
		return "", fmt.Errorf("aptos: invalid address %q", s)
	}
	if _, err := hex.DecodeString(strings.Repeat("0", len(s)%2) + s); err != nil {
		return "", fmt.Errorf("aptos: invalid address %q", s)
	}
	return "0x" + strings.Repeat("0", 64-len(s)) + s, nil
}
