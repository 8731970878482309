package monero

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3mt/web3mt/pkg/amount"
	"github.com/web3mt/web3mt/pkg/chain"
	"github.com/web3mt/web3mt/pkg/httpx"
)

type rpcReq struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type fakeWallet struct {
	mu       sync.Mutex
	calls    []rpcReq
	statuses []string
}

func (f *fakeWallet) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcReq
	_ = json.NewDecoder(r.Body).Decode(&req)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)

	reply := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	switch req.Method {
	case "get_balance":
		reply["result"] = map[string]any{"balance": 2_500_000_000_000, "unlocked_balance": 1_000_000_000_000}
	case "get_address":
		reply["result"] = map[string]any{"address": "44AFFq5kSiGBoZ4NMDwYtN18obc8AemS33DBLWs3H7otXft3XjrpDtQGv7SqSsaBYBb98uNbr2VBBEt7f2wfn3RVGQBEP3A"}
	case "transfer":
		var p struct {
			Destinations []struct {
				Amount uint64 `json:"amount"`
			} `json:"destinations"`
		}
		_ = json.Unmarshal(req.Params, &p)
		if p.Destinations[0].Amount > 2_500_000_000_000 {
			reply["error"] = map[string]any{"code": -4, "message": "not enough money"}
			break
		}
		reply["result"] = map[string]any{"tx_hash": "abc123", "tx_key": "key", "amount": p.Destinations[0].Amount, "fee": 30_000_000}
	case "sweep_all":
		reply["result"] = map[string]any{"tx_hash_list": []string{"h1", "h2"}, "amount_list": []uint64{1, 2}, "fee_list": []uint64{10, 20}}
	case "get_transfer_by_txid":
		st := "pool"
		if len(f.statuses) > 0 {
			st = f.statuses[0]
			f.statuses = f.statuses[1:]
		}
		conf := 0
		if st == "out" {
			conf = 10
		}
		reply["result"] = map[string]any{"transfer": map[string]any{"txid": "abc123", "type": st, "confirmations": conf, "height": 3000000, "amount": 5, "fee": 1}}
	default:
		reply["error"] = map[string]any{"code": -32601, "message": "Method not found"}
	}
	_ = json.NewEncoder(w).Encode(reply)
}

func newTestClient(t *testing.T, f *fakeWallet) *Client {
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	xmr, err := chain.Default().Get("monero")
	require.NoError(t, err)
	cl, err := NewClient(xmr, httpx.Options{BaseURL: srv.URL + "/json_rpc"})
	require.NoError(t, err)
	return cl
}

func TestBalanceAndAddress(t *testing.T) {
	cl := newTestClient(t, &fakeWallet{})
	total, unlocked, err := cl.Balance(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "2.5 XMR", total.String())
	assert.Equal(t, "1 XMR", unlocked.String())

	addr, err := cl.Address(context.Background(), 0)
	require.NoError(t, err)
	assert.NotEmpty(t, addr)
}

func TestTransfer(t *testing.T) {
	f := &fakeWallet{}
	cl := newTestClient(t, f)
	value, _ := amount.Parse("0.5", 12, "XMR")

	res, err := cl.Transfer(context.Background(), 0, []Destination{{Address: "44AF", Amount: value}}, PriorityNormal)
	require.NoError(t, err)
	assert.Equal(t, "abc123", res.TxHash)
	assert.Equal(t, "0.5 XMR", res.Amount.String())
	assert.Equal(t, "0.00003 XMR", res.Fee.String())

	last := f.calls[len(f.calls)-1]
	var p map[string]any
	require.NoError(t, json.Unmarshal(last.Params, &p))
	assert.Equal(t, float64(PriorityNormal), p["priority"])
	assert.Equal(t, true, p["get_tx_key"])
}

func TestTransferRPCError(t *testing.T) {
	cl := newTestClient(t, &fakeWallet{})
	value, _ := amount.Parse("10", 12, "XMR")
	_, err := cl.Transfer(context.Background(), 0, []Destination{{Address: "44AF", Amount: value}}, PriorityDefault)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -4, rpcErr.Code)
	assert.Equal(t, "not enough money", rpcErr.Message)

	_, err = cl.Transfer(context.Background(), 0, nil, PriorityDefault)
	assert.Error(t, err)
}

func TestSweepAll(t *testing.T) {
	cl := newTestClient(t, &fakeWallet{})
	res, err := cl.SweepAll(context.Background(), 0, "44AF", PriorityDefault)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "h2", res[1].TxHash)
	assert.Equal(t, "0.00000000002 XMR", res[1].Fee.String())
}

func TestWaitConfirmed(t *testing.T) {
	f := &fakeWallet{statuses: []string{"pending", "pool", "out"}}
	cl := newTestClient(t, f)
	info, err := cl.WaitConfirmed(context.Background(), 0, "abc123", 10, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), info.Confirmations)

	f.statuses = []string{"failed"}
	_, err = cl.WaitConfirmed(context.Background(), 0, "abc123", 10, time.Millisecond)
	assert.Error(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = cl.WaitConfirmed(ctx, 0, "abc123", 10, time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
