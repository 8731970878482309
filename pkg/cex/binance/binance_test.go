package binance

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
	assert.Equal(t, "key", r.Header.Get("X-MBX-APIKEY"))
	raw := r.URL.RawQuery
	i := strings.LastIndex(raw, "&signature=")
	require.True(t, i > 0, raw)
	assert.Equal(t, cex.HMACHex("secret", raw[:i]), raw[i+len("&signature="):])
	assert.Equal(t, "1714560000000", r.URL.Query().Get("timestamp"))
}

func TestSignQuery(t *testing.T) {
	q := signQuery("secret", nil, time.UnixMilli(1))
	assert.True(t, strings.HasPrefix(q, "recvWindow=5000&timestamp=1&signature="), q)
}

func TestWithdraw(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		checkSign(t, r)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/sapi/v1/capital/withdraw/apply", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "USDT", q.Get("coin"))
		assert.Equal(t, "TRX", q.Get("network"))
		assert.Equal(t, "10.5", q.Get("amount"))
		assert.Equal(t, "run-1", q.Get("withdrawOrderId"))
		io.WriteString(w, `{"id":"7213fea8e94b4a5593d507237e5a555b"}`)
	})
	network, err := c.Network("Tron")
	require.NoError(t, err)
	id, err := c.Withdraw(context.Background(), cex.WithdrawRequest{
		Coin: "usdt", Network: network, Address: "TXYZ", Amount: decimal.RequireFromString("10.5"), ClientID: "run-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "7213fea8e94b4a5593d507237e5a555b", id)
}

func TestAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"code":-4026,"msg":"User has insufficient balance"}`)
	})
	_, err := c.Withdraw(context.Background(), cex.WithdrawRequest{Coin: "ETH", Network: "ETH", Address: "0x1", Amount: decimal.NewFromInt(1)})
	var apiErr *cex.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "-4026", apiErr.Code)
}

func TestWithdrawal(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		checkSign(t, r)
		assert.Equal(t, "abc", r.URL.Query().Get("idList"))
		io.WriteString(w, `[{"id":"abc","amount":"0.1","transactionFee":"0.0004","coin":"ETH","status":6,"address":"0x1","txId":"0xfeed","network":"ARBITRUM"}]`)
	})
	wd, err := c.Withdrawal(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, cex.WithdrawalCompleted, wd.State)
	assert.Equal(t, "0xfeed", wd.TxID)
	assert.Equal(t, "6", wd.Status)

	assert.Equal(t, cex.WithdrawalFailed, state(3))
	assert.Equal(t, cex.WithdrawalPending, state(4))
}

func TestWithdrawalNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[]`)
	})
	_, err := c.Withdrawal(context.Background(), "abc")
	assert.ErrorIs(t, err, cex.ErrNotFound)
}

func TestBalancesAndPrice(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sapi/v1/capital/config/getall":
			checkSign(t, r)
			io.WriteString(w, `[{"coin":"ETH","free":"1.5","locked":"0","freeze":"0.5"},{"coin":"BNB","free":"0","locked":"0","freeze":"0"}]`)
		case "/api/v3/ticker/price":
			assert.Empty(t, r.Header.Get("X-MBX-APIKEY"))
			assert.Equal(t, "ETHUSDT", r.URL.Query().Get("symbol"))
			io.WriteString(w, `{"symbol":"ETHUSDT","price":"3000.10000000"}`)
		}
	})
	bals, err := c.Balances(context.Background())
	require.NoError(t, err)
	require.Len(t, bals, 1)
	assert.Equal(t, "2", bals[0].Total().String())

	p, err := c.Price(context.Background(), "eth", "usdt")
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.RequireFromString("3000.1")))
}
