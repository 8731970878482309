// Package kucoin KuCoin 资金接口（API key v2）
package kucoin

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
	Name        = "kucoin"
	defaultBase = "https://api.kucoin.com"
	codeOK      = "200000"
)

// DefaultNetworks 链名 -> KuCoin chainId
var DefaultNetworks = map[string]string{
	"Ethereum":  "eth",
	"Arbitrum":  "arbitrum",
	"Optimism":  "optimism",
	"Base":      "base",
	"Linea":     "linea",
	"zkSync":    "zksync",
	"BSC":       "bsc",
	"Polygon":   "matic",
	"Avalanche": "avaxc",
	"Aptos":     "apt",
	"Tron":      "trx",
	"Solana":    "sol",
	"Bitcoin":   "btc",
	"Litecoin":  "ltc",
	"Monero":    "xmr",
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

// headers v2 签名：sign 与 passphrase 都是 base64 HMAC
func headers(creds cex.Credentials, ts, method, endpoint, body string) map[string]string {
	return map[string]string{
		"KC-API-KEY":         creds.APIKey,
		"KC-API-SIGN":        cex.HMACBase64(creds.Secret, ts+strings.ToUpper(method)+endpoint+body),
		"KC-API-TIMESTAMP":   ts,
		"KC-API-PASSPHRASE":  cex.HMACBase64(creds.Secret, creds.Passphrase),
		"KC-API-KEY-VERSION": "2",
	}
}

func (c *Client) request(ctx context.Context, method, path string, params url.Values, body any, signed bool, group string) (gjson.Result, error) {
	if err := cex.Throttle(ctx, c.limiter, Name, group); err != nil {
		return gjson.Result{}, err
	}
	endpoint := path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	payload := ""
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
		r.SetHeaders(headers(c.creds, ts, method, endpoint, payload))
	}
	resp, err := r.Execute(method, endpoint)
	if err != nil {
		return gjson.Result{}, httpx.ParseHTTPError(resp, err)
	}
	res := gjson.ParseBytes(resp.Body())
	if code := res.Get("code"); code.Exists() && code.String() != codeOK {
		return res, &cex.APIError{Exchange: Name, Code: code.String(), Message: res.Get("msg").String()}
	}
	if err := httpx.ParseHTTPError(resp, nil); err != nil {
		return res, err
	}
	return res.Get("data"), nil
}

// Balances main 账户余额
func (c *Client) Balances(ctx context.Context) ([]cex.Balance, error) {
	data, err := c.request(ctx, "GET", "/api/v1/accounts", url.Values{"type": {"main"}}, nil, true, "general")
	if err != nil {
		return nil, err
	}
	var out []cex.Balance
	for _, b := range data.Array() {
		free, _ := decimal.NewFromString(b.Get("available").String())
		holds, _ := decimal.NewFromString(b.Get("holds").String())
		if free.IsZero() && holds.IsZero() {
			continue
		}
		out = append(out, cex.Balance{Coin: b.Get("currency").String(), Free: free, Locked: holds})
	}
	return out, nil
}

func (c *Client) DepositAddress(ctx context.Context, coin, network string) (*cex.DepositAddress, error) {
	params := url.Values{"currency": {strings.ToUpper(coin)}, "chain": {network}}
	data, err := c.request(ctx, "GET", "/api/v3/deposit-addresses", params, nil, true, "general")
	if err != nil {
		return nil, err
	}
	for _, a := range data.Array() {
		if strings.EqualFold(a.Get("chainId").String(), network) {
			return &cex.DepositAddress{Coin: coin, Network: network, Address: a.Get("address").String(), Memo: a.Get("memo").String()}, nil
		}
	}
	return nil, fmt.Errorf("%w: kucoin deposit address %s/%s", cex.ErrNotFound, coin, network)
}

// Withdraw 从 main 账户提币，手续费另扣
func (c *Client) Withdraw(ctx context.Context, req cex.WithdrawRequest) (string, error) {
	body := map[string]string{
		"currency":      strings.ToUpper(req.Coin),
		"address":       req.Address,
		"amount":        req.Amount.String(),
		"chain":         req.Network,
		"feeDeductType": "EXTERNAL",
	}
	if req.Memo != "" {
		body["memo"] = req.Memo
	}
	if req.ClientID != "" {
		body["remark"] = req.ClientID
	}
	data, err := c.request(ctx, "POST", "/api/v1/withdrawals", nil, body, true, "withdraw")
	if err != nil {
		return "", err
	}
	id := data.Get("withdrawalId").String()
	if id == "" {
		return "", fmt.Errorf("kucoin: empty withdrawal id: %s", data.Raw)
	}
	return id, nil
}

func state(s string) cex.WithdrawalState {
	switch s {
	case "SUCCESS":
		return cex.WithdrawalCompleted
	case "FAILURE":
		return cex.WithdrawalFailed
	}
	return cex.WithdrawalPending
}

func (c *Client) Withdrawal(ctx context.Context, id string) (*cex.Withdrawal, error) {
	data, err := c.request(ctx, "GET", "/api/v1/withdrawals/"+url.PathEscape(id), nil, nil, true, "general")
	if err != nil {
		return nil, err
	}
	if !data.Exists() || data.Type == gjson.Null {
		return nil, fmt.Errorf("%w: kucoin withdrawal %s", cex.ErrNotFound, id)
	}
	amt, _ := decimal.NewFromString(data.Get("amount").String())
	fee, _ := decimal.NewFromString(data.Get("fee").String())
	st := data.Get("status").String()
	return &cex.Withdrawal{
		ID:      id,
		Coin:    data.Get("currency").String(),
		Network: data.Get("chain").String(),
		Address: data.Get("address").String(),
		Amount:  amt,
		Fee:     fee,
		TxID:    data.Get("walletTxId").String(),
		State:   state(st),
		Status:  st,
	}, nil
}

func (c *Client) Price(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	symbol := strings.ToUpper(base) + "-" + strings.ToUpper(quote)
	data, err := c.request(ctx, "GET", "/api/v1/market/orderbook/level1", url.Values{"symbol": {symbol}}, nil, false, "general")
	if err != nil {
		return decimal.Zero, err
	}
	price := data.Get("price").String()
	if price == "" {
		return decimal.Zero, fmt.Errorf("%w: kucoin ticker %s", cex.ErrNotFound, symbol)
	}
	return decimal.NewFromString(price)
}
