package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretKeyFor(t *testing.T) {
	tests := map[string]string{
		"MNEMONIC":          "mnemonic",
		"WEB3MT_MASTER_KEY": "vault/key",
		"OKX_API_KEY":       "cex/okx/api_key",
		"OKX_SECRET":        "cex/okx/secret",
		"OKX_PASSPHRASE":    "cex/okx/passphrase",
		"binance_api_key":   "cex/binance/api_key",
		"BYBIT_API_SECRET":  "cex/bybit/secret",
		"OKX_OTHER":         "env/OKX_OTHER",
		"RPC_BASE":          "env/RPC_BASE",
	}
	for in, want := range tests {
		assert.Equal(t, want, secretKeyFor(in), in)
	}
}

func TestMapKeysFromDotEnv(t *testing.T) {
	p := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(p, []byte(`
# comment
WEB3MT_SECRET_KEY=abc
MNEMONIC="test test test"
KUCOIN_PASSPHRASE='pp'
EMPTY=
PROXY=socks5://127.0.0.1:1080
`), 0o600))
	kv, err := godotenv.Read(p)
	require.NoError(t, err)
	assert.Equal(t, "test test test", kv["MNEMONIC"])

	m := mapKeys(kv, []string{"WEB3MT_SECRET_KEY", ""})
	assert.Equal(t, map[string]string{
		"MNEMONIC":          "mnemonic",
		"KUCOIN_PASSPHRASE": "cex/kucoin/passphrase",
		"PROXY":             "env/PROXY",
	}, m)
	assert.Equal(t, []string{"KUCOIN_PASSPHRASE", "MNEMONIC", "PROXY"}, sortedKeys(m))
}
