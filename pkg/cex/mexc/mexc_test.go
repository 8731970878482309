package mexc

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3mt/web3mt/pkg/cex"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(cex.Credentials{APIKey: "key", Secret: "secret"}, cex.Options{BaseURL: srv.URL})
	require.NoError(t, err)
	c.now = func() time.Time { return time.UnixMilli(1714560000000) }
	return c
}

func checkSign(t *testing.T, r *http.Request) {
	t.Helper()
	assert.Equal(t, "key", r.Header.Get("X-MEXC-APIKEY"))
	raw := r.URL.RawQuery
	i := strings.LastIndex(raw, "&signature=")
	require.True(t, i > 0, raw)
	assert.Equal(t, cex.HMACHex("secret", raw[:i]), raw[i+len("&signature="):])
}

func TestWithdrawUsesNetworkParam(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		checkSign(t, r)
		q := r.URL.Query()
		assert.Equal(t, "/api/v3/capital/withdraw/apply", r.URL.Path)
		assert.Equal(t, "ARB", q.Get("network"))
		assert.Equal(t, "ETH", q.Get("coin"))
		io.WriteString(w, `{"id":"7213fea8e94b4a5593d507237e5a555b"}`)
	})
	n, err := c.Network("arbitrum")
	require.NoError(t, err)
	id, err := c.Withdraw(context.Background(), cex.WithdrawRequest{Coin: "eth", Network: n, Address: "0x1", Amount: decimal.RequireFromString("0.02")})
	require.NoError(t, err)
	assert.Equal(t, "7213fea8e94b4a5593d507237e5a555b", id)
}

func TestWithdrawalFindsByID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		checkSign(t, r)
		io.WriteString(w, `[
			{"id":"other","coin":"ETH","status":7},
			{"id":"abc","coin":"ETH","network":"ARB","amount":"0.02","transactionFee":"0.0001","address":"0x1","txId":"0xbeef","status":8}]`)
	})
	wd, err := c.Withdrawal(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, cex.WithdrawalFailed, wd.State)
	assert.Equal(t, "8", wd.Status)

	_, err = c.Withdrawal(context.Background(), "missing")
	assert.ErrorIs(t, err, cex.ErrNotFound)
	assert.Equal(t, cex.WithdrawalCompleted, state(7))
	assert.Equal(t, cex.WithdrawalPending, state(4))
}

func TestAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"code":700002,"msg":"Signature for this request is not valid."}`)
	})
	_, err := c.Balances(context.Background())
	var apiErr *cex.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "700002", apiErr.Code)
}

func TestBalancesAndPrice(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/account":
			checkSign(t, r)
			io.WriteString(w, `{"balances":[{"asset":"USDT","free":"5","locked":"1"},{"asset":"MX","free":"0","locked":"0"}]}`)
		case "/api/v3/ticker/price":
			io.WriteString(w, `{"symbol":"BTCUSDT","price":"64000.5"}`)
		}
	})
	bals, err := c.Balances(context.Background())
	require.NoError(t, err)
	require.Len(t, bals, 1)
	assert.Equal(t, "6", bals[0].Total().String())

	p, err := c.Price(context.Background(), "btc", "usdt")
	require.NoError(t, err)
	assert.Equal(t, "64000.5", p.String())
}
