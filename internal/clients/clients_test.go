package clients

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3mt/web3mt/pkg/amount"
	"github.com/web3mt/web3mt/pkg/btc"
	"github.com/web3mt/web3mt/pkg/chain"
)

const bip84Addr = "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu"

func litecoin(rpc string) *chain.Chain {
	return &chain.Chain{
		Name: "Litecoin", Kind: chain.KindBitcoin,
		Native: amount.Token{Symbol: "LTC", Decimals: 8}, RPCs: []string{rpc},
	}
}

func TestAddressOn(t *testing.T) {
	acct := Account{Kind: chain.KindBitcoin, Address: bip84Addr}
	reg := chain.Default()

	btcChain, err := reg.Get("btc")
	require.NoError(t, err)
	got, err := AddressOn(btcChain, acct)
	require.NoError(t, err)
	assert.Equal(t, bip84Addr, got)

	ltcChain, err := reg.Get("ltc")
	require.NoError(t, err)
	ltc, err := AddressOn(ltcChain, acct)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ltc, "ltc1q"), ltc)

	a, err := btcutil.DecodeAddress(ltc, &btc.LitecoinParams)
	require.NoError(t, err)
	orig, err := btcutil.DecodeAddress(bip84Addr, &chaincfg.MainNetParams)
	require.NoError(t, err)
	assert.Equal(t, orig.ScriptAddress(), a.ScriptAddress())

	// 非 bitcoin 链原样返回
	evmChain, err := reg.Get("arbitrum")
	require.NoError(t, err)
	got, err = AddressOn(evmChain, Account{Address: "0xabc"})
	require.NoError(t, err)
	assert.Equal(t, "0xabc", got)

	_, err = AddressOn(ltcChain, Account{Address: "1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2"})
	assert.Error(t, err)
}

func TestBitcoinBalanceUsesNetworkAddress(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		io.WriteString(w, `{"chain_stats":{"funded_txo_sum":150000000,"spent_txo_sum":50000000},
			"mempool_stats":{"funded_txo_sum":1000,"spent_txo_sum":0}}`)
	}))
	defer srv.Close()

	s := New(Options{})
	c := litecoin(srv.URL)
	bal, err := s.Balance(context.Background(), c, "", Account{Address: bip84Addr}, c.Native)
	require.NoError(t, err)
	assert.Equal(t, "1.00001 LTC", bal.String())
	assert.True(t, strings.HasPrefix(path, "/address/ltc1q"), path)

	_, err = s.Balance(context.Background(), c, "", Account{Address: bip84Addr}, amount.Token{Symbol: "X", Address: "x"})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestMoneroBalanceByAccountIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string         `json:"method"`
			Params map[string]any `json:"params"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "get_balance", req.Method)
		assert.Equal(t, float64(3), req.Params["account_index"])
		io.WriteString(w, `{"jsonrpc":"2.0","id":"1","result":{"balance":2500000000000,"unlocked_balance":1000000000000}}`)
	}))
	defer srv.Close()

	c := &chain.Chain{Name: "Monero", Kind: chain.KindMonero, Native: amount.Token{Symbol: "XMR", Decimals: 12}, RPCs: []string{srv.URL}}
	s := New(Options{})
	bal, err := s.Balance(context.Background(), c, "", Account{Index: 3}, c.Native)
	require.NoError(t, err)
	assert.Equal(t, "2.5 XMR", bal.String())
}

func TestClientCache(t *testing.T) {
	s := New(Options{})
	c := litecoin("http://127.0.0.1:1")
	a, err := s.Bitcoin(c, "")
	require.NoError(t, err)
	b, err := s.Bitcoin(c, "")
	require.NoError(t, err)
	assert.Same(t, a, b)

	other, err := s.Bitcoin(c, "http://127.0.0.1:8080")
	require.NoError(t, err)
	assert.NotSame(t, a, other)

	_, err = s.Tron(c, "")
	assert.Error(t, err)
}

func TestFeeReserve(t *testing.T) {
	s := New(Options{})
	reg := chain.Default()

	tronChain, err := reg.Get("tron")
	require.NoError(t, err)
	r, err := s.FeeReserve(context.Background(), tronChain, "", tronChain.Native)
	require.NoError(t, err)
	assert.Equal(t, "1.1 TRX", r.String())

	usdt, ok := tronChain.Token("USDT")
	require.True(t, ok)
	r, err = s.FeeReserve(context.Background(), tronChain, "", usdt)
	require.NoError(t, err)
	assert.True(t, r.IsZero())

	btcChain, err := reg.Get("bitcoin")
	require.NoError(t, err)
	r, err = s.FeeReserve(context.Background(), btcChain, "", btcChain.Native)
	require.NoError(t, err)
	assert.True(t, r.IsZero())
}

func TestTransferValidation(t *testing.T) {
	s := New(Options{})
	c := litecoin("http://127.0.0.1:1")
	_, err := s.Transfer(context.Background(), TransferRequest{Chain: c, Token: c.Native})
	assert.ErrorContains(t, err, "empty destination")
	_, err = s.Transfer(context.Background(), TransferRequest{Chain: c, To: "ltc1q", Token: c.Native, Amount: amount.Zero(8, "LTC")})
	assert.ErrorContains(t, err, "zero amount")
	_, err = s.Transfer(context.Background(), TransferRequest{Chain: c, To: "ltc1q", Token: amount.Token{Symbol: "X", Address: "x"}, All: true})
	assert.ErrorIs(t, err, ErrUnsupported)
}
