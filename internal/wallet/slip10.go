package wallet

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/tyler-smith/go-bip39"
)

const hardenedOffset uint32 = 0x80000000

// DeriveEd25519 SLIP-0010 ed25519 派生，返回 32 字节私钥种子。
// ed25519 只支持硬化派生，路径里每一段都必须带 '。
func DeriveEd25519(mnemonic, path string) ([]byte, error) {
	mnemonic = normalize(mnemonic)
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, "")
	if err != nil {
		return nil, fmt.Errorf("wallet: invalid mnemonic: %w", err)
	}
	indexes, err := parseHardenedPath(path)
	if err != nil {
		return nil, err
	}
	key, chainCode := slip10Master(seed)
	for _, idx := range indexes {
		key, chainCode = slip10Child(key, chainCode, idx)
	}
	return key, nil
}

func slip10Master(seed []byte) (key, chainCode []byte) {
	h := hmac.New(sha512.New, []byte("ed25519 seed"))
	h.Write(seed)
	sum := h.Sum(nil)
	return sum[:32], sum[32:]
}

func slip10Child(key, chainCode []byte, index uint32) ([]byte, []byte) {
	data := make([]byte, 0, 37)
	data = append(data, 0)
	data = append(data, key...)
	data = binary.BigEndian.AppendUint32(data, index)
	h := hmac.New(sha512.New, chainCode)
	h.Write(data)
	sum := h.Sum(nil)
	return sum[:32], sum[32:]
}

func parseHardenedPath(path string) ([]uint32, error) {
	parts := strings.Split(strings.TrimSpace(path), "/")
	if len(parts) == 0 || parts[0] != "m" {
		return nil, fmt.Errorf("wallet: derivation path must start with m: %q", path)
	}
	out := make([]uint32, 0, len(parts)-1)
	for _, p := range parts[1:] {
		if !strings.HasSuffix(p, "'") && !strings.HasSuffix(p, "h") {
			return nil, fmt.Errorf("wallet: ed25519 path segment %q must be hardened", p)
		}
		n, err := strconv.ParseUint(strings.TrimRight(p, "'h"), 10, 31)
		if err != nil {
			return nil, fmt.Errorf("wallet: bad path segment %q: %w", p, err)
		}
		out = append(out, uint32(n)+hardenedOffset)
	}
	return out, nil
}
