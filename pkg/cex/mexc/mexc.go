// Package mexc MEXC 现货资金接口，签名方式与 Binance 相同
package mexc

import (
	"context"
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
	Name        = "mexc"
	defaultBase = "https://api.mexc.com"
	recvWindow  = "5000"
	historySize = "1000"
)

// DefaultNetworks 链名 -> MEXC network
var DefaultNetworks = map[string]string{
	"Ethereum":  "ERC20",
	"Arbitrum":  "ARB",
	"Optimism":  "OP",
	"Base":      "BASE",
	"Linea":     "LINEA",
	"zkSync":    "ZKSYNC",
	"BSC":       "BEP20(BSC)",
	"Polygon":   "MATIC",
	"Avalanche": "AVAX_CCHAIN",
	"Aptos":     "APTOS",
	"Tron":      "TRC20",
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

func signQuery(secret string, params url.Values, ts time.Time) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(ts.UnixMilli(), 10))
	params.Set("recvWindow", recvWindow)
	q := params.Encode()
	return q + "&signature=" + cex.HMACHex(secret, q)
}

func (c *Client) request(ctx context.Context, method, path string, params url.Values, signed bool, group string) (gjson.Result, error) {
	if err := cex.Throttle(ctx, c.limiter, Name, group); err != nil {
		return gjson.Result{}, err
	}
	r := c.http.R(ctx).SetHeader("Content-Type", "application/json")
	query := params.Encode()
	if signed {
		if !c.creds.Valid() {
			return gjson.Result{}, cex.ErrNoCredentials
		}
		query = signQuery(c.creds.Secret, params, c.now())
		r.SetHeader("X-MEXC-APIKEY", c.creds.APIKey)
	}
	endpoint := path
	if query != "" {
		endpoint += "?" + query
	}
	resp, err := r.Execute(method, endpoint)
	if err != nil {
		return gjson.Result{}, httpx.ParseHTTPError(resp, err)
	}
	res := gjson.ParseBytes(resp.Body())
	// 成功的对象响应里也可能带 code:0 / 200
	if code := res.Get("code"); code.Exists() && code.Int() != 0 && code.Int() != 200 {
		return res, &cex.APIError{Exchange: Name, Code: code.String(), Message: res.Get("msg").String()}
	}
	if err := httpx.ParseHTTPError(resp, nil); err != nil {
		return res, err
	}
	return res, nil
}

func (c *Client) Balances(ctx context.Context) ([]cex.Balance, error) {
	res, err := c.request(ctx, "GET", "/api/v3/account", nil, true, "general")
	if err != nil {
		return nil, err
	}
	var out []cex.Balance
	for _, b := range res.Get("balances").Array() {
		free, _ := decimal.NewFromString(b.Get("free").String())
		locked, _ := decimal.NewFromString(b.Get("locked").String())
		if free.IsZero() && locked.IsZero() {
			continue
		}
		out = append(out, cex.Balance{Coin: b.Get("asset").String(), Free: free, Locked: locked})
	}
	return out, nil
}

func (c *Client) DepositAddress(ctx context.Context, coin, network string) (*cex.DepositAddress, error) {
	params := url.Values{"coin": {strings.ToUpper(coin)}, "network": {network}}
	res, err := c.request(ctx, "GET", "/api/v3/capital/deposit/address", params, true, "general")
	if err != nil {
		return nil, err
	}
	for _, a := range res.Array() {
		if strings.EqualFold(a.Get("network").String(), network) {
			return &cex.DepositAddress{Coin: coin, Network: network, Address: a.Get("address").String(), Memo: a.Get("memo").String()}, nil
		}
	}
	return nil, fmt.Errorf("%w: mexc deposit address %s/%s", cex.ErrNotFound, coin, network)
}

func (c *Client) Withdraw(ctx context.Context, req cex.WithdrawRequest) (string, error) {
	params := url.Values{
		"coin":    {strings.ToUpper(req.Coin)},
		"network": {req.Network},
		"address": {req.Address},
		"amount":  {req.Amount.String()},
	}
	if req.Memo != "" {
		params.Set("memo", req.Memo)
	}
	if req.ClientID != "" {
		params.Set("withdrawOrderId", req.ClientID)
	}
	res, err := c.request(ctx, "POST", "/api/v3/capital/withdraw/apply", params, true, "withdraw")
	if err != nil {
		return "", err
	}
	id := res.Get("id").String()
	if id == "" {
		return "", fmt.Errorf("mexc: empty withdrawal id: %s", res.Raw)
	}
	return id, nil
}

// state 7 成功，8 失败，9 取消，其余处理中
func state(s int64) cex.WithdrawalState {
	switch s {
	case 7:
		return cex.WithdrawalCompleted
	case 8, 9:
		return cex.WithdrawalFailed
	}
	return cex.WithdrawalPending
}

// Withdrawal 历史接口不支持按 id 过滤，取最近记录后查找
func (c *Client) Withdrawal(ctx context.Context, id string) (*cex.Withdrawal, error) {
	res, err := c.request(ctx, "GET", "/api/v3/capital/withdraw/history", url.Values{"limit": {historySize}}, true, "general")
	if err != nil {
		return nil, err
	}
	for _, w := range res.Array() {
		if w.Get("id").String() != id {
			continue
		}
		amt, _ := decimal.NewFromString(w.Get("amount").String())
		fee, _ := decimal.NewFromString(w.Get("transactionFee").String())
		status := w.Get("status").Int()
		return &cex.Withdrawal{
			ID:      id,
			Coin:    w.Get("coin").String(),
			Network: w.Get("network").String(),
			Address: w.Get("address").String(),
			Amount:  amt,
			Fee:     fee,
			TxID:    w.Get("txId").String(),
			State:   state(status),
			Status:  strconv.FormatInt(status, 10),
		}, nil
	}
	return nil, fmt.Errorf("%w: mexc withdrawal %s", cex.ErrNotFound, id)
}

func (c *Client) Price(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	symbol := strings.ToUpper(base + quote)
	res, err := c.request(ctx, "GET", "/api/v3/ticker/price", url.Values{"symbol": {symbol}}, false, "general")
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(res.Get("price").String())
}
