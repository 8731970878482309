// Package bybit Bybit v5 资金账户接口
package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/web3mt/web3mt/pkg/cex"
	"github.com/web3mt/web3mt/pkg/httpx"
	"github.com/web3mt/web3mt/pkg/ratelimit"
)

const (
	Name        = "bybit"
	defaultBase = "https://api.bybit.com"
	recvWindow  = "5000"
)

// DefaultNetworks 链名 -> Bybit chain
var DefaultNetworks = map[string]string{
	"Ethereum":  "ETH",
	"Arbitrum":  "ARBI",
	"Optimism":  "OP",
	"Base":      "BASE",
	"Linea":     "LINEA",
	"zkSync":    "ZKSYNC",
	"Scroll":    "SCROLL",
	"BSC":       "BSC",
	"Polygon":   "MATIC",
	"Avalanche": "CAVAX",
	"Aptos":     "APTOS",
	"Tron":      "TRX",
	"Solana":    "SOL",
	"Bitcoin":   "BTC",
	"Litecoin":  "LTC",
	"Monero":    "XMR",
}

type Client struct {
	creds    cex.Credentials
	http     *httpx.Client
	limiter  *ratelimit.Manager
	networks map[string]string
	now      func() time.Time
}

var _ cex.Exchange = (*Client)(nil)

func New(creds cex.Credentials, opts cex.Options) (*Client, error) {
	hc, err := cex.NewHTTP(opts, defaultBase)
	if err != nil {
		return nil, err
	}
	return &Client{creds: creds, http: hc, limiter: cex.Limiter(opts), networks: opts.Networks, now: time.Now}, nil
}

func (c *Client) Name() string { return Name }

func (c *Client) Network(chain string) (string, error) {
	return cex.ResolveNetwork(chain, c.networks, DefaultNetworks)
}

// sign hex(HMAC-SHA256(secret, ts + apiKey + recvWindow + payload))；GET 的 payload 为 query，POST 为 body
func sign(secret, apiKey, ts, payload string) string {
	return cex.HMACHex(secret, ts+apiKey+recvWindow+payload)
}

func (c *Client) request(ctx context.Context, method, path string, params url.Values, body any, signed bool, group string) (gjson.Result, error) {
	if err := cex.Throttle(ctx, c.limiter, Name, group); err != nil {
		return gjson.Result{}, err
	}
	query := params.Encode()
	payload := query
	r := c.http.R(ctx)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return gjson.Result{}, err
		}
		payload = string(b)
		r.SetHeader("Content-Type", "application/json").SetBody(payload)
	}
	if signed {
		if !c.creds.Valid() {
			return gjson.Result{}, cex.ErrNoCredentials
		}
		ts := strconv.FormatInt(c.now().UnixMilli(), 10)
		r.SetHeaders(map[string]string{
			"X-BAPI-API-KEY":     c.creds.APIKey,
			"X-BAPI-TIMESTAMP":   ts,
			"X-BAPI-RECV-WINDOW": recvWindow,
			"X-BAPI-SIGN":        sign(c.creds.Secret, c.creds.APIKey, ts, payload),
		})
	}
	endpoint := path
	if query != "" {
		endpoint += "?" + query
	}
	resp, err := r.Execute(method, endpoint)
	if err := httpx.ParseHTTPError(resp, err); err != nil {
		return gjson.Result{}, err
	}
	res := gjson.ParseBytes(resp.Body())
	if code := res.Get("retCode").Int(); code != 0 {
		return res, &cex.APIError{Exchange: Name, Code: strconv.FormatInt(code, 10), Message: res.Get("retMsg").String()}
	}
	return res.Get("result"), nil
}

// Balances 资金账户（FUND）余额
func (c *Client) Balances(ctx context.Context) ([]cex.Balance, error) {
	res, err := c.request(ctx, "GET", "/v5/asset/transfer/query-account-coins-balance", url.Values{"accountType": {"FUND"}}, nil, true, "general")
	if err != nil {
		return nil, err
	}
	var out []cex.Balance
	for _, b := range res.Get("balance").Array() {
		total, _ := decimal.NewFromString(b.Get("walletBalance").String())
		free, _ := decimal.NewFromString(b.Get("transferBalance").String())
		if total.IsZero() {
			continue
		}
		out = append(out, cex.Balance{Coin: b.Get("coin").String(), Free: free, Locked: total.Sub(free)})
	}
	return out, nil
}

func (c *Client) DepositAddress(ctx context.Context, coin, network string) (*cex.DepositAddress, error) {
	params := url.Values{"coin": {strings.ToUpper(coin)}, "chainType": {network}}
	res, err := c.request(ctx, "GET", "/v5/asset/deposit/query-address", params, nil, true, "general")
	if err != nil {
		return nil, err
	}
	for _, ch := range res.Get("chains").Array() {
		if strings.EqualFold(ch.Get("chain").String(), network) {
			return &cex.DepositAddress{
				Coin:    coin,
				Network: network,
				Address: ch.Get("addressDeposit").String(),
				Memo:    ch.Get("tagDeposit").String(),
			}, nil
		}
	}
	return nil, fmt.Errorf("%w: bybit deposit address %s/%s", cex.ErrNotFound, coin, network)
}

// Withdraw 从资金账户提币
func (c *Client) Withdraw(ctx context.Context, req cex.WithdrawRequest) (string, error) {
	body := map[string]any{
		"coin":        strings.ToUpper(req.Coin),
		"chain":       req.Network,
		"address":     req.Address,
		"amount":      req.Amount.String(),
		"timestamp":   c.now().UnixMilli(),
		"accountType": "FUND",
		"forceChain":  1,
	}
	if req.Memo != "" {
		body["tag"] = req.Memo
	}
	if req.ClientID != "" {
		body["requestId"] = req.ClientID
	}
	res, err := c.request(ctx, "POST", "/v5/asset/withdraw/create", nil, body, true, "withdraw")
	if err != nil {
		return "", err
	}
	id := res.Get("id").String()
	if id == "" {
		return "", fmt.Errorf("bybit: empty withdrawal id: %s", res.Raw)
	}
	return id, nil
}

func state(s string) cex.WithdrawalState {
	switch s {
	case "success":
		return cex.WithdrawalCompleted
	case "CancelByUser", "Reject", "Fail":
		return cex.WithdrawalFailed
	}
	return cex.WithdrawalPending
}

func (c *Client) Withdrawal(ctx context.Context, id string) (*cex.Withdrawal, error) {
	res, err := c.request(ctx, "GET", "/v5/asset/withdraw/query-record", url.Values{"withdrawID": {id}}, nil, true, "general")
	if err != nil {
		return nil, err
	}
	w := res.Get("rows.0")
	if !w.Exists() {
		return nil, fmt.Errorf("%w: bybit withdrawal %s", cex.ErrNotFound, id)
	}
	amt, _ := decimal.NewFromString(w.Get("amount").String())
	fee, _ := decimal.NewFromString(w.Get("withdrawFee").String())
	status := w.Get("status").String()
	return &cex.Withdrawal{
		ID:      id,
		Coin:    w.Get("coin").String(),
		Network: w.Get("chain").String(),
		Address: w.Get("toAddress").String(),
		Amount:  amt,
		Fee:     fee,
		TxID:    w.Get("txID").String(),
		State:   state(status),
		Status:  status,
	}, nil
}

func (c *Client) Price(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	symbol := strings.ToUpper(base + quote)
	res, err := c.request(ctx, "GET", "/v5/market/tickers", url.Values{"category": {"spot"}, "symbol": {symbol}}, nil, false, "general")
	if err != nil {
		return decimal.Zero, err
	}
	last := res.Get("list.0.lastPrice").String()
	if last == "" {
		return decimal.Zero, fmt.Errorf("%w: bybit ticker %s", cex.ErrNotFound, symbol)
	}
	return decimal.NewFromString(last)
}
