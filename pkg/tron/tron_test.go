package tron

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3mt/web3mt/pkg/amount"
	"github.com/web3mt/web3mt/pkg/chain"
	"github.com/web3mt/web3mt/pkg/httpx"
	"github.com/web3mt/web3mt/pkg/txflow"
)

const usdtContract = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"

type fakeGrid struct {
	mu           sync.Mutex
	built        int
	tamper       bool
	broadcastErr []string
	broadcast    map[string]bool
	signers      []string
	lastParam    string
}

func (g *fakeGrid) unsigned(kind string) map[string]any {
	g.built++
	raw := []byte(fmt.Sprintf("%s-raw-%d", kind, g.built))
	sum := sha256.Sum256(raw)
	id := hex.EncodeToString(sum[:])
	if g.tamper {
		id = strings.Repeat("0", 64)
	}
	return map[string]any{
		"visible":      true,
		"txID":         id,
		"raw_data":     map[string]any{"expiration": 1700000060000, "ref_block_num": 12345},
		"raw_data_hex": hex.EncodeToString(raw),
	}
}

func (g *fakeGrid) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	write := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
	decode := func(r *http.Request) map[string]any {
		var m map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&m))
		return m
	}

	mux.HandleFunc("/wallet/getaccount", func(w http.ResponseWriter, r *http.Request) {
		req := decode(r)
		write(w, map[string]any{"address": req["address"], "balance": 5_000_000})
	})
	mux.HandleFunc("/wallet/triggerconstantcontract", func(w http.ResponseWriter, r *http.Request) {
		req := decode(r)
		assert.Equal(t, "balanceOf(address)", req["function_selector"])
		write(w, map[string]any{
			"result":          map[string]any{"result": true},
			"constant_result": []string{fmt.Sprintf("%064x", 1_250_000)},
		})
	})
	mux.HandleFunc("/wallet/createtransaction", func(w http.ResponseWriter, r *http.Request) {
		req := decode(r)
		if req["amount"].(float64) > 1e12 {
			write(w, map[string]any{"Error": "class org.tron.core.exception.ContractValidateException : Validate TransferContract error, balance is not sufficient."})
			return
		}
		g.mu.Lock()
		defer g.mu.Unlock()
		write(w, g.unsigned("trx"))
	})
	mux.HandleFunc("/wallet/triggersmartcontract", func(w http.ResponseWriter, r *http.Request) {
		req := decode(r)
		g.mu.Lock()
		defer g.mu.Unlock()
		g.lastParam = req["parameter"].(string)
		write(w, map[string]any{"result": map[string]any{"result": true}, "transaction": g.unsigned("trc20")})
	})
	mux.HandleFunc("/wallet/broadcasttransaction", func(w http.ResponseWriter, r *http.Request) {
		req := decode(r)
		g.mu.Lock()
		defer g.mu.Unlock()

		id, _ := hex.DecodeString(req["txID"].(string))
		sig, _ := hex.DecodeString(req["signature"].([]any)[0].(string))
		pub, err := crypto.SigToPub(id, sig)
		require.NoError(t, err)
		g.signers = append(g.signers, AddressFromKey(pub).String())

		if len(g.broadcastErr) > 0 {
			code := g.broadcastErr[0]
			g.broadcastErr = g.broadcastErr[1:]
			write(w, map[string]any{"result": false, "code": code, "message": hex.EncodeToString([]byte("rejected: " + code))})
			return
		}
		g.broadcast[req["txID"].(string)] = true
		write(w, map[string]any{"result": true, "txid": req["txID"]})
	})
	mux.HandleFunc("/wallet/gettransactioninfobyid", func(w http.ResponseWriter, r *http.Request) {
		req := decode(r)
		g.mu.Lock()
		defer g.mu.Unlock()
		id := req["value"].(string)
		if !g.broadcast[id] {
			write(w, map[string]any{})
			return
		}
		write(w, map[string]any{"id": id, "blockNumber": 100, "fee": 1_100_000, "receipt": map[string]any{"net_usage": 268}})
	})
	mux.HandleFunc("/wallet/gettransactionbyid", func(w http.ResponseWriter, r *http.Request) {
		write(w, map[string]any{})
	})
	return mux
}

func newTestClient(t *testing.T, g *fakeGrid) *Client {
	if g.broadcast == nil {
		g.broadcast = map[string]bool{}
	}
	srv := httptest.NewServer(g.handler(t))
	t.Cleanup(srv.Close)
	tron, err := chain.Default().Get("tron")
	require.NoError(t, err)
	cl, err := NewClient(tron, httpx.Options{BaseURL: srv.URL, Retries: -1}, Config{
		Flow: txflow.Options{MaxAttempts: 4, RetryDelay: time.Millisecond, PollInterval: time.Millisecond},
	})
	require.NoError(t, err)
	return cl
}

func TestParseAddress(t *testing.T) {
	a, err := ParseAddress(usdtContract)
	require.NoError(t, err)
	assert.Equal(t, "41a614f803b6fd780986a42c78ec9c7f77e6ded13c", a.Hex())

	b, err := ParseAddress("41a614f803b6fd780986a42c78ec9c7f77e6ded13c")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := ParseAddress("0xa614f803b6fd780986a42c78ec9c7f77e6ded13c")
	require.NoError(t, err)
	assert.Equal(t, a, c)

	_, err = ParseAddress("TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6u")
	assert.Error(t, err)
	_, err = ParseAddress("41abcd")
	assert.Error(t, err)
}

func TestAddressFromKey(t *testing.T) {
	key, _ := crypto.GenerateKey()
	a := AddressFromKey(&key.PublicKey)
	assert.True(t, strings.HasPrefix(a.String(), "T"))
	assert.Len(t, a.String(), 34)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey).Bytes(), a.Bytes())
}

func TestBalances(t *testing.T) {
	cl := newTestClient(t, &fakeGrid{})
	ctx := context.Background()
	owner, _ := ParseAddress(usdtContract)

	bal, err := cl.Balance(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, "5 TRX", bal.String())

	usdt, _ := cl.Chain().Token("USDT")
	tb, err := cl.TRC20Balance(ctx, usdt, owner)
	require.NoError(t, err)
	assert.Equal(t, "1.25 USDT", tb.String())
}

func TestTransferTRX(t *testing.T) {
	g := &fakeGrid{}
	cl := newTestClient(t, g)
	key, _ := crypto.GenerateKey()
	to, _ := ParseAddress(usdtContract)

	value, _ := amount.Parse("1.5", 6, "TRX")
	rc, err := cl.TransferTRX(context.Background(), key, to, value)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), rc.Block)
	assert.Equal(t, "1.1 TRX", rc.Fee.String())
	require.Len(t, g.signers, 1)
	assert.Equal(t, AddressFromKey(&key.PublicKey).String(), g.signers[0])
}

func TestTransferRebuildsExpired(t *testing.T) {
	g := &fakeGrid{broadcastErr: []string{"TAPOS_ERROR"}}
	cl := newTestClient(t, g)
	key, _ := crypto.GenerateKey()
	to, _ := ParseAddress(usdtContract)

	value, _ := amount.Parse("1", 6, "TRX")
	_, err := cl.TransferTRX(context.Background(), key, to, value)
	require.NoError(t, err)
	assert.Equal(t, 2, g.built)
}

func TestTransferTRC20(t *testing.T) {
	g := &fakeGrid{}
	cl := newTestClient(t, g)
	key, _ := crypto.GenerateKey()
	to, _ := ParseAddress(usdtContract)
	usdt, _ := cl.Chain().Token("USDT")

	value, _ := amount.Parse("2", 6, "USDT")
	_, err := cl.TransferTRC20(context.Background(), key, usdt, to, value)
	require.NoError(t, err)
	require.Len(t, g.lastParam, 128)
	assert.True(t, strings.HasSuffix(g.lastParam, fmt.Sprintf("%x", 2_000_000)))
	assert.Contains(t, g.lastParam, "a614f803b6fd780986a42c78ec9c7f77e6ded13c")
}

func TestTransferRejectsTamperedTxID(t *testing.T) {
	g := &fakeGrid{tamper: true}
	cl := newTestClient(t, g)
	key, _ := crypto.GenerateKey()
	to, _ := ParseAddress(usdtContract)

	value, _ := amount.Parse("1", 6, "TRX")
	_, err := cl.TransferTRX(context.Background(), key, to, value)
	assert.True(t, errors.Is(err, ErrTxIDMismatch))
	assert.Empty(t, g.signers)
}

func TestTransferInsufficientBalance(t *testing.T) {
	g := &fakeGrid{}
	cl := newTestClient(t, g)
	key, _ := crypto.GenerateKey()
	to, _ := ParseAddress(usdtContract)

	value, _ := amount.Parse("2000000", 6, "TRX")
	_, err := cl.TransferTRX(context.Background(), key, to, value)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "balance is not sufficient")
	assert.Equal(t, 0, g.built)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, txflow.ActionKnown, Classify(&APIError{Code: "DUP_TRANSACTION_ERROR"}))
	assert.Equal(t, txflow.ActionRefreshNonce, Classify(&APIError{Code: "TRANSACTION_EXPIRATION_ERROR"}))
	assert.Equal(t, txflow.ActionFail, Classify(&APIError{Code: "BANDWITH_ERROR"}))
	assert.Equal(t, txflow.ActionRetry, Classify(&APIError{Code: "SERVER_BUSY"}))
}
