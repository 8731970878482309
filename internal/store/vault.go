package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/web3mt/web3mt/pkg/secretstore"
)

// EnvMasterKey 主密钥环境变量（32 字节 hex 或 base64）
const EnvMasterKey = "WEB3MT_MASTER_KEY"

// Vault AES-256-GCM 加密钱包私钥，密文格式 base64(nonce|ciphertext)
type Vault struct {
	gcm cipher.AEAD
}

// NewVault key 必须是 32 字节
func NewVault(key []byte) (*Vault, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("vault: key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Vault{gcm: gcm}, nil
}

// SecretGetter secretstore.Store 满足该接口
type SecretGetter interface {
	GetString(key string) (string, bool, error)
}

// LoadVault 优先用 secret store 里的 vault/key，其次环境变量 WEB3MT_MASTER_KEY
func LoadVault(s SecretGetter) (*Vault, error) {
	if s != nil {
		raw, ok, err := s.GetString(secretstore.KeyVault)
		if err != nil {
			return nil, err
		}
		if ok && strings.TrimSpace(raw) != "" {
			key, err := secretstore.ParseKey(raw)
			if err != nil {
				return nil, fmt.Errorf("vault: %s: %w", secretstore.KeyVault, err)
			}
			return NewVault(key)
		}
	}
	key, err := secretstore.ParseKey(os.Getenv(EnvMasterKey))
	if err != nil {
		return nil, fmt.Errorf("vault: %s: %w", EnvMasterKey, err)
	}
	if key == nil {
		return nil, fmt.Errorf("vault: key not found (%s in secret store or env %s)", secretstore.KeyVault, EnvMasterKey)
	}
	return NewVault(key)
}

// Encrypt 加密
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ct := v.gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(append(nonce, ct...)), nil
}

// Decrypt 解密
func (v *Vault) Decrypt(enc string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(enc))
	if err != nil {
		return "", err
	}
	if len(raw) < v.gcm.NonceSize() {
		return "", errors.New("vault: ciphertext too short")
	}
	pt, err := v.gcm.Open(nil, raw[:v.gcm.NonceSize()], raw[v.gcm.NonceSize():], nil)
	if err != nil {
		return "", fmt.Errorf("vault: decrypt failed: %w", err)
	}
	return string(pt), nil
}
