package btc

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3mt/web3mt/pkg/amount"
	"github.com/web3mt/web3mt/pkg/chain"
	"github.com/web3mt/web3mt/pkg/httpx"
	"github.com/web3mt/web3mt/pkg/txflow"
)

func testKey(t *testing.T) *btcec.PrivateKey {
	key, err := ParseKey(strings.Repeat("01", 32))
	require.NoError(t, err)
	return key
}

func TestSelectCoins(t *testing.T) {
	utxos := []UTXO{{TxID: "a", Value: 50000}, {TxID: "b", Value: 30000}}

	sel, err := selectCoins(utxos, 60000, 10, 546, false)
	require.NoError(t, err)
	assert.Len(t, sel.inputs, 2)
	assert.Equal(t, int64(60000), sel.send)
	assert.Equal(t, int64(2090), sel.fee)
	assert.Equal(t, int64(17910), sel.change)

	// 找零低于 dust 并入手续费
	sel, err = selectCoins(utxos, 78000, 10, 546, false)
	require.NoError(t, err)
	assert.Equal(t, int64(0), sel.change)
	assert.Equal(t, int64(2000), sel.fee)

	sel, err = selectCoins(utxos, 20000, 10, 546, false)
	require.NoError(t, err)
	assert.Len(t, sel.inputs, 1)

	sel, err = selectCoins(utxos, 0, 10, 546, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1780), sel.fee)
	assert.Equal(t, int64(78220), sel.send)

	_, err = selectCoins(utxos, 100000, 10, 546, false)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	_, err = selectCoins([]UTXO{{Value: 1000}}, 0, 10, 546, true)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestAddresses(t *testing.T) {
	key := testKey(t)
	testnet, _ := NetworkFor("testnet")
	addr, err := P2WPKH(key.PubKey(), testnet)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(addr.EncodeAddress(), "tb1q"))

	ltc, _ := NetworkFor("litecoin")
	laddr, err := P2WPKH(key.PubKey(), ltc)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(laddr.EncodeAddress(), "ltc1q"))

	_, err = NetworkFor("dogecoin")
	assert.Error(t, err)
}

func TestParseKeyWIF(t *testing.T) {
	key := testKey(t)
	wif, err := btcutil.NewWIF(key, &chaincfg.MainNetParams, true)
	require.NoError(t, err)
	parsed, err := ParseKey(wif.String())
	require.NoError(t, err)
	assert.Equal(t, key.Serialize(), parsed.Serialize())

	_, err = ParseKey("nope")
	assert.Error(t, err)
}

// fakeEsplora 校验广播交易的每个输入签名
type fakeEsplora struct {
	t         *testing.T
	mu        sync.Mutex
	script    []byte
	utxos     []UTXO
	rejects   []string
	broadcast map[string]*wire.MsgTx
}

func (f *fakeEsplora) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := r.URL.Path
	switch {
	case r.Method == http.MethodPost && path == "/tx":
		body, _ := io.ReadAll(r.Body)
		if len(f.rejects) > 0 {
			msg := f.rejects[0]
			f.rejects = f.rejects[1:]
			http.Error(w, msg, http.StatusBadRequest)
			return
		}
		raw, err := hex.DecodeString(string(body))
		require.NoError(f.t, err)
		tx := wire.NewMsgTx(2)
		require.NoError(f.t, tx.Deserialize(bytes.NewReader(raw)))
		f.verify(tx)
		f.broadcast[tx.TxHash().String()] = tx
		_, _ = io.WriteString(w, tx.TxHash().String())
	case strings.HasSuffix(path, "/utxo"):
		out := []map[string]any{}
		for _, u := range f.utxos {
			out = append(out, map[string]any{"txid": u.TxID, "vout": u.Vout, "value": u.Value, "status": map[string]any{"confirmed": true}})
		}
		_ = json.NewEncoder(w).Encode(out)
	case strings.HasPrefix(path, "/address/"):
		_ = json.NewEncoder(w).Encode(map[string]any{
			"chain_stats":   map[string]any{"funded_txo_sum": 100000, "spent_txo_sum": 20000},
			"mempool_stats": map[string]any{"funded_txo_sum": 5000, "spent_txo_sum": 0},
		})
	case path == "/fee-estimates":
		_ = json.NewEncoder(w).Encode(map[string]float64{"1": 20, "2": 15, "3": 10, "6": 5, "144": 1})
	case strings.HasPrefix(path, "/tx/") && strings.HasSuffix(path, "/status"):
		id := strings.TrimSuffix(strings.TrimPrefix(path, "/tx/"), "/status")
		if _, ok := f.broadcast[id]; !ok {
			http.Error(w, "Transaction not found", http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"confirmed": true, "block_height": 800000})
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeEsplora) verify(tx *wire.MsgTx) {
	prev := map[wire.OutPoint]*wire.TxOut{}
	values := map[wire.OutPoint]int64{}
	for _, u := range f.utxos {
		for _, in := range tx.TxIn {
			if in.PreviousOutPoint.Hash.String() == u.TxID && in.PreviousOutPoint.Index == u.Vout {
				prev[in.PreviousOutPoint] = wire.NewTxOut(u.Value, f.script)
				values[in.PreviousOutPoint] = u.Value
			}
		}
	}
	fetcher := txscript.NewMultiPrevOutFetcher(prev)
	hashes := txscript.NewTxSigHashes(tx, fetcher)
	for i, in := range tx.TxIn {
		vm, err := txscript.NewEngine(f.script, tx, i, txscript.StandardVerifyFlags, nil, hashes, values[in.PreviousOutPoint], fetcher)
		require.NoError(f.t, err)
		require.NoError(f.t, vm.Execute())
	}
}

func newTestClient(t *testing.T) (*Client, *fakeEsplora, *btcec.PrivateKey) {
	key := testKey(t)
	net, _ := NetworkFor("testnet")
	from, err := P2WPKH(key.PubKey(), net)
	require.NoError(t, err)
	script, err := txscript.PayToAddrScript(from)
	require.NoError(t, err)

	f := &fakeEsplora{
		t:      t,
		script: script,
		utxos: []UTXO{
			{TxID: strings.Repeat("aa", 32), Vout: 0, Value: 50000},
			{TxID: strings.Repeat("bb", 32), Vout: 1, Value: 30000},
		},
		broadcast: map[string]*wire.MsgTx{},
	}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	btcChain, err := chain.Default().Get("bitcoin")
	require.NoError(t, err)
	cl, err := NewClient(btcChain, net, httpx.Options{BaseURL: srv.URL, Retries: -1}, Config{
		Flow: txflow.Options{MaxAttempts: 4, RetryDelay: time.Millisecond, PollInterval: time.Millisecond},
	})
	require.NoError(t, err)
	return cl, f, key
}

func TestBalanceAndFeeRate(t *testing.T) {
	cl, _, key := newTestClient(t)
	ctx := context.Background()
	addr, _ := cl.Address(key)

	bal, err := cl.Balance(ctx, addr.EncodeAddress())
	require.NoError(t, err)
	assert.Equal(t, "0.00085 BTC", bal.String())

	rate, err := cl.FeeRate(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 10.0, rate)
	rate, _ = cl.FeeRate(ctx, 4)
	assert.Equal(t, 10.0, rate)
	rate, _ = cl.FeeRate(ctx, 0)
	assert.Equal(t, 20.0, rate)

	utxos, err := cl.UTXOs(ctx, addr.EncodeAddress())
	require.NoError(t, err)
	require.Len(t, utxos, 2)
	assert.Equal(t, int64(50000), utxos[0].Value)
}

func TestSend(t *testing.T) {
	cl, f, key := newTestClient(t)
	to := "tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx"

	value, _ := amount.Parse("0.0006", 8, "BTC")
	rc, err := cl.Send(context.Background(), key, to, value)
	require.NoError(t, err)
	require.Len(t, f.broadcast, 1)

	tx := f.broadcast[rc.TxID]
	require.NotNil(t, tx)
	require.Len(t, tx.TxOut, 2)
	assert.Equal(t, int64(60000), tx.TxOut[0].Value)
	assert.Equal(t, f.script, tx.TxOut[1].PkScript)
	assert.Equal(t, wire.MaxTxInSequenceNum-2, tx.TxIn[0].Sequence)
	assert.Equal(t, "0.0000209 BTC", rc.Fee.String())
	assert.Equal(t, int64(800000), rc.Height)
}

func TestSendBumpsFeeRate(t *testing.T) {
	cl, f, key := newTestClient(t)
	f.rejects = []string{`sendrawtransaction RPC error: {"code":-26,"message":"min relay fee not met, 1000 < 2090"}`}

	value, _ := amount.Parse("0.0006", 8, "BTC")
	rc, err := cl.Send(context.Background(), key, "tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx", value)
	require.NoError(t, err)
	assert.Equal(t, 1, rc.Bumps)
	// 12.5 sat/vB * 209 vB
	assert.Equal(t, "0.00002613 BTC", rc.Fee.String())
}

func TestSendAll(t *testing.T) {
	cl, f, key := newTestClient(t)
	rc, err := cl.SendAll(context.Background(), key, "tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx")
	require.NoError(t, err)
	tx := f.broadcast[rc.TxID]
	require.Len(t, tx.TxOut, 1)
	assert.Equal(t, int64(78220), tx.TxOut[0].Value)
}

func TestSendRejectsWrongNetwork(t *testing.T) {
	cl, _, key := newTestClient(t)
	value, _ := amount.Parse("0.0001", 8, "BTC")
	_, err := cl.Send(context.Background(), key, "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4", value)
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	cases := map[string]txflow.Action{
		"min relay fee not met":          txflow.ActionBumpFee,
		"txn-mempool-conflict":           txflow.ActionRefreshNonce,
		"bad-txns-inputs-missingorspent": txflow.ActionRefreshNonce,
		"txn-already-in-mempool":         txflow.ActionKnown,
		"dust":                           txflow.ActionFail,
		"connection refused":             txflow.ActionRetry,
	}
	for msg, want := range cases {
		assert.Equal(t, want, Classify(&httpx.HTTPError{Status: 400, Body: msg}), msg)
	}
	assert.Equal(t, txflow.ActionFail, Classify(ErrInsufficientFunds))
}
