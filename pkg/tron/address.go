package tron

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/ethereum/go-ethereum/crypto"
)

// addressPrefix 主网地址版本字节
const addressPrefix = 0x41

// Address base58check 编码的 Tron 地址（T 开头）
type Address string

// AddressFromKey 公钥对应地址：0x41 || keccak256(pub)[12:]
func AddressFromKey(pub *ecdsa.PublicKey) Address {
	evm := crypto.PubkeyToAddress(*pub)
	return Address(base58.CheckEncode(evm.Bytes(), addressPrefix))
}

// ParseAddress 接受 base58 或 41 开头的 hex
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "T") {
		payload, version, err := base58.CheckDecode(s)
		if err != nil {
			return "", fmt.Errorf("tron: invalid address %q: %w", s, err)
		}
		if version != addressPrefix || len(payload) != 20 {
			return "", fmt.Errorf("tron: invalid address %q", s)
		}
		return Address(s), nil
	}
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return "", fmt.Errorf("tron: invalid address %q: %w", s, err)
	}
	if len(b) == 21 && b[0] == addressPrefix {
		b = b[1:]
	}
	if len(b) != 20 {
		return "", fmt.Errorf("tron: invalid address %q", s)
	}
	return Address(base58.CheckEncode(b, addressPrefix)), nil
}

// Bytes 20 字节账户部分
func (a Address) Bytes() []byte {
	payload, _, err := base58.CheckDecode(string(a))
	if err != nil {
		return nil
	}
	return payload
}

// Hex 41 开头的 hex 表示
func (a Address) Hex() string {
	return fmt.Sprintf("%x%x", addressPrefix, a.Bytes())
}

func (a Address) String() string { return string(a) }
