// Package binance Binance SAPI 资金接口
package binance

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
	Name        = "binance"
	defaultBase = "https://api.binance.com"
	recvWindow  = "5000"
)

// DefaultNetworks 链名 -> Binance network
var DefaultNetworks = map[string]string{
	"Ethereum":  "ETH",
	"Arbitrum":  "ARBITRUM",
	"Optimism":  "OPTIMISM",
	"Base":      "BASE",
	"Linea":     "LINEA",
	"zkSync":    "ZKSYNCERA",
	"Scroll":    "SCROLL",
	"BSC":       "BSC",
	"Polygon":   "MATIC",
	"Avalanche": "AVAXC",
	"Aptos":     "APT",
	"Tron":      "TRX",
	"Solana":    "SOL",
	"Bitcoin":   "BTC",
	"Litecoin":  "LTC",
	"Monero":    "XMR",
}

// Client Binance 客户端
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

// signQuery 追加 timestamp/recvWindow 并在末尾带上 hex HMAC 签名
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
	r := c.http.R(ctx)
	query := ""
	if signed {
		if !c.creds.Valid() {
			return gjson.Result{}, cex.ErrNoCredentials
		}
		query = signQuery(c.creds.Secret, params, c.now())
		r.SetHeader("X-MBX-APIKEY", c.creds.APIKey)
	} else if len(params) > 0 {
		query = params.Encode()
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
	if !resp.IsSuccess() {
		if code := res.Get("code"); code.Exists() {
			return res, &cex.APIError{Exchange: Name, Code: code.String(), Message: res.Get("msg").String()}
		}
		return res, httpx.ParseHTTPError(resp, nil)
	}
	return res, nil
}

// Balances 现货钱包余额
func (c *Client) Balances(ctx context.Context) ([]cex.Balance, error) {
	res, err := c.request(ctx, "GET", "/sapi/v1/capital/config/getall", nil, true, "general")
	if err != nil {
		return nil, err
	}
	var out []cex.Balance
	for _, b := range res.Array() {
		free, _ := decimal.NewFromString(b.Get("free").String())
		locked, _ := decimal.NewFromString(b.Get("locked").String())
		freeze, _ := decimal.NewFromString(b.Get("freeze").String())
		locked = locked.Add(freeze)
		if free.IsZero() && locked.IsZero() {
			continue
		}
		out = append(out, cex.Balance{Coin: b.Get("coin").String(), Free: free, Locked: locked})
	}
	return out, nil
}

func (c *Client) DepositAddress(ctx context.Context, coin, network string) (*cex.DepositAddress, error) {
	params := url.Values{"coin": {strings.ToUpper(coin)}, "network": {network}}
	res, err := c.request(ctx, "GET", "/sapi/v1/capital/deposit/address", params, true, "general")
	if err != nil {
		return nil, err
	}
	addr := res.Get("address").String()
	if addr == "" {
		return nil, fmt.Errorf("%w: binance deposit address %s/%s", cex.ErrNotFound, coin, network)
	}
	return &cex.DepositAddress{Coin: coin, Network: network, Address: addr, Memo: res.Get("tag").String()}, nil
}

// Withdraw 提币；手续费由交易所从余额中另扣
func (c *Client) Withdraw(ctx context.Context, req cex.WithdrawRequest) (string, error) {
	params := url.Values{
		"coin":    {strings.ToUpper(req.Coin)},
		"network": {req.Network},
		"address": {req.Address},
		"amount":  {req.Amount.String()},
	}
	if req.Memo != "" {
		params.Set("addressTag", req.Memo)
	}
	if req.ClientID != "" {
		params.Set("withdrawOrderId", req.ClientID)
	}
	res, err := c.request(ctx, "POST", "/sapi/v1/capital/withdraw/apply", params, true, "withdraw")
	if err != nil {
		return "", err
	}
	id := res.Get("id").String()
	if id == "" {
		return "", fmt.Errorf("binance: empty withdrawal id: %s", res.Raw)
	}
	return id, nil
}

// state 0 邮件已发 1 已取消 2 待确认 3 被拒 4 处理中 5 失败 6 完成
func state(s int64) cex.WithdrawalState {
	switch s {
	case 6:
		return cex.WithdrawalCompleted
	case 1, 3, 5:
		return cex.WithdrawalFailed
	}
	return cex.WithdrawalPending
}

func (c *Client) Withdrawal(ctx context.Context, id string) (*cex.Withdrawal, error) {
	res, err := c.request(ctx, "GET", "/sapi/v1/capital/withdraw/history", url.Values{"idList": {id}}, true, "general")
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
	return nil, fmt.Errorf("%w: binance withdrawal %s", cex.ErrNotFound, id)
}

func (c *Client) Price(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	symbol := strings.ToUpper(base + quote)
	res, err := c.request(ctx, "GET", "/api/v3/ticker/price", url.Values{"symbol": {symbol}}, false, "general")
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(res.Get("price").String())
}
