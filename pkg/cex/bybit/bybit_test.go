package bybit

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
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

func checkSign(t *testing.T, r *http.Request, payload string) {
	t.Helper()
	assert.Equal(t, "key", r.Header.Get("X-BAPI-API-KEY"))
	assert.Equal(t, "1714560000000", r.Header.Get("X-BAPI-TIMESTAMP"))
	assert.Equal(t, cex.HMACHex("secret", "1714560000000key5000"+payload), r.Header.Get("X-BAPI-SIGN"))
}

func TestBalances(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		checkSign(t, r, r.URL.RawQuery)
		assert.Equal(t, "FUND", r.URL.Query().Get("accountType"))
		io.WriteString(w, `{"retCode":0,"retMsg":"success","result":{"accountType":"FUND","balance":[
			{"coin":"USDT","walletBalance":"100","transferBalance":"90"},
			{"coin":"ETH","walletBalance":"0","transferBalance":"0"}]}}`)
	})
	bals, err := c.Balances(context.Background())
	require.NoError(t, err)
	require.Len(t, bals, 1)
	assert.Equal(t, "10", bals[0].Locked.String())
}

func TestWithdrawSignsBody(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		checkSign(t, r, string(b))
		assert.NoError(t, json.Unmarshal(b, &got))
		io.WriteString(w, `{"retCode":0,"retMsg":"success","result":{"id":"10195"}}`)
	})
	net, err := c.Network("Arbitrum")
	require.NoError(t, err)
	id, err := c.Withdraw(context.Background(), cex.WithdrawRequest{
		Coin: "usdc", Network: net, Address: "0xabc", Amount: decimal.RequireFromString("25"),
	})
	require.NoError(t, err)
	assert.Equal(t, "10195", id)
	assert.Equal(t, "ARBI", got["chain"])
	assert.Equal(t, "USDC", got["coin"])
	assert.Equal(t, "FUND", got["accountType"])
}

func TestRetCodeError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"retCode":131001,"retMsg":"Insufficient balance","result":{}}`)
	})
	_, err := c.Withdraw(context.Background(), cex.WithdrawRequest{Coin: "ETH", Network: "ETH", Address: "0x", Amount: decimal.NewFromInt(1)})
	var apiErr *cex.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "131001", apiErr.Code)
}

func TestWithdrawalAndDepositAddress(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v5/asset/withdraw/query-record":
			io.WriteString(w, `{"retCode":0,"result":{"rows":[{"coin":"USDC","chain":"ARBI","amount":"25","txID":"0xaa","status":"Fail","toAddress":"0xabc","withdrawFee":"0.1","withdrawId":"10195"}]}}`)
		case "/v5/asset/deposit/query-address":
			io.WriteString(w, `{"retCode":0,"result":{"coin":"USDC","chains":[
				{"chainType":"Ethereum","chain":"ETH","addressDeposit":"0x1"},
				{"chainType":"Arbitrum One","chain":"ARBI","addressDeposit":"0x2"}]}}`)
		}
	})
	wd, err := c.Withdrawal(context.Background(), "10195")
	require.NoError(t, err)
	assert.Equal(t, cex.WithdrawalFailed, wd.State)
	assert.Equal(t, "Fail", wd.Status)
	assert.Equal(t, cex.WithdrawalCompleted, state("success"))
	assert.Equal(t, cex.WithdrawalPending, state("BlockchainConfirmed"))

	addr, err := c.DepositAddress(context.Background(), "USDC", "ARBI")
	require.NoError(t, err)
	assert.Equal(t, "0x2", addr.Address)
}
