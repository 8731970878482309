package bridge

import (
	"context"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const quoteJSON = `{
  "id": "q-1",
  "tool": "stargate",
  "action": {"fromAmount": "1000000"},
  "estimate": {
    "approvalAddress": "0x1231DEB6f5749EF6cE6943a275A1D3E7486F4EaE",
    "toAmount": "998000",
    "toAmountMin": "993010",
    "executionDuration": 62.5,
    "feeCosts": [{"amountUSD": "0.30"}],
    "gasCosts": [{"amountUSD": "0.12"}]
  },
  "transactionRequest": {
    "to": "0x1231DEB6f5749EF6cE6943a275A1D3E7486F4EaE",
    "data": "0xdeadbeef",
    "value": "0x0",
    "gasLimit": "0x493e0",
    "chainId": 42161
  }
}`

func TestQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "42161", q.Get("fromChain"))
		assert.Equal(t, "10", q.Get("toChain"))
		assert.Equal(t, NativeToken, q.Get("toToken"))
		assert.Equal(t, "1000000", q.Get("fromAmount"))
		assert.Equal(t, "0xabc", q.Get("toAddress"))
		assert.Equal(t, "0.005", q.Get("slippage"))
		assert.Equal(t, "web3mt", q.Get("integrator"))
		assert.Equal(t, "stargate,across", q.Get("allowBridges"))
		assert.Equal(t, "key", r.Header.Get("x-lifi-api-key"))
		io.WriteString(w, quoteJSON)
	}))
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL, APIKey: "key", Integrator: "web3mt"})
	require.NoError(t, err)
	q, err := c.Quote(context.Background(), QuoteRequest{
		FromChain: 42161, ToChain: 10,
		FromToken:   "0xaf88d065e77c8cC2239327C5EDb3A432268e5831",
		FromAmount:  big.NewInt(1_000_000),
		FromAddress: "0xabc",
		Slippage:    0.005,
		Bridges:     []string{"stargate", "across"},
	})
	require.NoError(t, err)
	assert.Equal(t, "stargate", q.Tool)
	assert.Equal(t, int64(42161), q.Tx.ChainID)
	assert.Equal(t, uint64(300000), q.Tx.GasLimit)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, q.Tx.Data)
	assert.Equal(t, common.HexToAddress("0x1231DEB6f5749EF6cE6943a275A1D3E7486F4EaE"), q.ApprovalAddress)
	assert.Equal(t, "993010", q.ToAmountMin.String())
	assert.Equal(t, 62500*time.Millisecond, q.Duration)
	assert.InDelta(t, 0.42, q.FeeUSD, 1e-9)
	assert.True(t, q.NeedsApproval())
}

func TestQuoteErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"message":"No available quotes for the requested transfer","code":1002}`)
	}))
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = c.Quote(context.Background(), QuoteRequest{FromAmount: big.NewInt(1)})
	var ae *APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, int64(1002), ae.Code)
	assert.Contains(t, ae.Message, "No available quotes")

	_, err = c.Quote(context.Background(), QuoteRequest{})
	assert.ErrorContains(t, err, "invalid amount")
}

func TestParseQuoteMissingTx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"id":"x"}`)
	}))
	defer srv.Close()
	c, err := New(Options{BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = c.Quote(context.Background(), QuoteRequest{FromAmount: big.NewInt(1)})
	assert.ErrorContains(t, err, "without transactionRequest")
}

func TestWaitDone(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status", r.URL.Path)
		assert.Equal(t, "0xhash", r.URL.Query().Get("txHash"))
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"message":"Not found","code":1011}`)
		case 2:
			io.WriteString(w, `{"status":"PENDING","substatus":"WAIT_DESTINATION_TRANSACTION"}`)
		default:
			io.WriteString(w, `{"status":"DONE","substatus":"COMPLETED","receiving":{"txHash":"0xdest"}}`)
		}
	}))
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL})
	require.NoError(t, err)
	st, err := c.WaitDone(context.Background(), "0xhash", 42161, 10, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, st.State)
	assert.Equal(t, "0xdest", st.ReceivingTx)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWaitDoneFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"FAILED","substatusMessage":"refund in progress"}`)
	}))
	defer srv.Close()
	c, err := New(Options{BaseURL: srv.URL})
	require.NoError(t, err)
	st, err := c.WaitDone(context.Background(), "0xhash", 0, 0, time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, st.State)
	assert.Contains(t, err.Error(), "refund in progress")
}
