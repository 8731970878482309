// Package okx OKX v5 资金账户接口
package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/web3mt/web3mt/pkg/cex"
	"github.com/web3mt/web3mt/pkg/httpx"
	"github.com/web3mt/web3mt/pkg/ratelimit"
)

const (
	Name        = "okx"
	defaultBase = "https://www.okx.com"
)

// DefaultNetworks 链名 -> OKX chain 后缀（完整 chain 为 "<CCY>-<后缀>"）
var DefaultNetworks = map[string]string{
	"Ethereum":  "ERC20",
	"Arbitrum":  "Arbitrum One",
	"Optimism":  "Optimism",
	"Base":      "Base",
	"Linea":     "Linea",
	"zkSync":    "zkSync Era",
	"Scroll":    "Scroll",
	"Zora":      "Zora",
	"BSC":       "BSC",
	"Polygon":   "Polygon",
	"Avalanche": "Avalanche C-Chain",
	"Aptos":     "Aptos",
	"Tron":      "TRC20",
	"Solana":    "Solana",
	"Bitcoin":   "Bitcoin",
	"Litecoin":  "Litecoin",
	"Monero":    "Monero",
}

// Client OKX 客户端
type Client struct {
	creds    cex.Credentials
	http     *httpx.Client
	limiter  *ratelimit.Manager
	networks map[string]string
	now      func() time.Time
}

var _ cex.Exchange = (*Client)(nil)

// New 创建客户端；行情接口不需要凭证
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

// chainID OKX 的 chain 字段
func chainID(coin, network string) string {
	return strings.ToUpper(coin) + "-" + network
}

// sign base64(HMAC-SHA256(secret, ts + METHOD + requestPath + body))
func sign(secret, ts, method, requestPath, body string) string {
	return cex.HMACBase64(secret, ts+strings.ToUpper(method)+requestPath+body)
}

func (c *Client) request(ctx context.Context, method, path string, params url.Values, body any, signed bool, group string) (gjson.Result, error) {
	if err := cex.Throttle(ctx, c.limiter, Name, group); err != nil {
		return gjson.Result{}, err
	}
	requestPath := path
	if len(params) > 0 {
		requestPath += "?" + params.Encode()
	}
	payload := ""
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return gjson.Result{}, err
		}
		payload = string(b)
	}

	r := c.http.R(ctx).SetHeader("Content-Type", "application/json")
	if payload != "" {
		r.SetBody(payload)
	}
	if signed {
		if !c.creds.Valid() {
			return gjson.Result{}, cex.ErrNoCredentials
		}
		ts := c.now().UTC().Format("2006-01-02T15:04:05.000Z")
		r.SetHeaders(map[string]string{
			"OK-ACCESS-KEY":        c.creds.APIKey,
			"OK-ACCESS-SIGN":       sign(c.creds.Secret, ts, method, requestPath, payload),
			"OK-ACCESS-TIMESTAMP":  ts,
			"OK-ACCESS-PASSPHRASE": c.creds.Passphrase,
		})
	}
	resp, err := r.Execute(method, requestPath)
	if err != nil {
		return gjson.Result{}, httpx.ParseHTTPError(resp, err)
	}
	res := gjson.ParseBytes(resp.Body())
	if code := res.Get("code"); code.Exists() && code.String() != "0" {
		msg := res.Get("msg").String()
		// 批量接口的错误信息在 data[0].sMsg
		if m := res.Get("data.0.sMsg").String(); m != "" {
			msg = m
		}
		return res, &cex.APIError{Exchange: Name, Code: code.String(), Message: msg}
	}
	if err := httpx.ParseHTTPError(resp, nil); err != nil {
		return res, err
	}
	return res.Get("data"), nil
}

// Balances 资金账户余额
func (c *Client) Balances(ctx context.Context) ([]cex.Balance, error) {
	data, err := c.request(ctx, "GET", "/api/v5/asset/balances", nil, nil, true, "asset")
	if err != nil {
		return nil, err
	}
	var out []cex.Balance
	for _, b := range data.Array() {
		free, _ := decimal.NewFromString(b.Get("availBal").String())
		locked, _ := decimal.NewFromString(b.Get("frozenBal").String())
		if free.IsZero() && locked.IsZero() {
			continue
		}
		out = append(out, cex.Balance{Coin: b.Get("ccy").String(), Free: free, Locked: locked})
	}
	return out, nil
}

// DepositAddress 指定网络的充值地址
func (c *Client) DepositAddress(ctx context.Context, coin, network string) (*cex.DepositAddress, error) {
	data, err := c.request(ctx, "GET", "/api/v5/asset/deposit-address", url.Values{"ccy": {strings.ToUpper(coin)}}, nil, true, "asset")
	if err != nil {
		return nil, err
	}
	want := chainID(coin, network)
	for _, a := range data.Array() {
		if strings.EqualFold(a.Get("chain").String(), want) {
			memo := a.Get("memo").String()
			if memo == "" {
				memo = a.Get("tag").String()
			}
			return &cex.DepositAddress{Coin: coin, Network: network, Address: a.Get("addr").String(), Memo: memo}, nil
		}
	}
	return nil, fmt.Errorf("%w: okx deposit address for %s", cex.ErrNotFound, want)
}

// withdrawFee 链上提币手续费
func (c *Client) withdrawFee(ctx context.Context, coin, network string) (decimal.Decimal, error) {
	data, err := c.request(ctx, "GET", "/api/v5/asset/currencies", url.Values{"ccy": {strings.ToUpper(coin)}}, nil, true, "asset")
	if err != nil {
		return decimal.Zero, err
	}
	want := chainID(coin, network)
	for _, cur := range data.Array() {
		if !strings.EqualFold(cur.Get("chain").String(), want) {
			continue
		}
		fee := cur.Get("fee").String()
		if fee == "" {
			fee = cur.Get("minFee").String()
		}
		return decimal.NewFromString(fee)
	}
	return decimal.Zero, fmt.Errorf("%w: okx currency %s", cex.ErrNotFound, want)
}

// Withdraw 链上提币，返回 wdId
func (c *Client) Withdraw(ctx context.Context, req cex.WithdrawRequest) (string, error) {
	fee := req.Fee
	if fee.IsZero() {
		f, err := c.withdrawFee(ctx, req.Coin, req.Network)
		if err != nil {
			return "", err
		}
		fee = f
	}
	toAddr := req.Address
	if req.Memo != "" {
		toAddr += ":" + req.Memo
	}
	body := map[string]string{
		"ccy":    strings.ToUpper(req.Coin),
		"amt":    req.Amount.String(),
		"dest":   "4",
		"toAddr": toAddr,
		"fee":    fee.String(),
		"chain":  chainID(req.Coin, req.Network),
	}
	if req.ClientID != "" {
		body["clientId"] = req.ClientID
	}
	data, err := c.request(ctx, "POST", "/api/v5/asset/withdrawal", nil, body, true, "withdraw")
	if err != nil {
		return "", err
	}
	id := data.Get("0.wdId").String()
	if id == "" {
		return "", fmt.Errorf("okx: empty withdrawal id: %s", data.Raw)
	}
	return id, nil
}

// state OKX 提币状态：2 成功，-1 失败，-2 已撤销，其余处理中
func state(s string) cex.WithdrawalState {
	switch s {
	case "2":
		return cex.WithdrawalCompleted
	case "-1", "-2":
		return cex.WithdrawalFailed
	}
	return cex.WithdrawalPending
}

// Withdrawal 按 wdId 查询提币
func (c *Client) Withdrawal(ctx context.Context, id string) (*cex.Withdrawal, error) {
	data, err := c.request(ctx, "GET", "/api/v5/asset/withdrawal-history", url.Values{"wdId": {id}}, nil, true, "asset")
	if err != nil {
		return nil, err
	}
	w := data.Get("0")
	if !w.Exists() {
		return nil, fmt.Errorf("%w: okx withdrawal %s", cex.ErrNotFound, id)
	}
	amt, _ := decimal.NewFromString(w.Get("amt").String())
	fee, _ := decimal.NewFromString(w.Get("fee").String())
	network := w.Get("chain").String()
	if _, after, ok := strings.Cut(network, "-"); ok {
		network = after
	}
	return &cex.Withdrawal{
		ID:      w.Get("wdId").String(),
		Coin:    w.Get("ccy").String(),
		Network: network,
		Address: w.Get("to").String(),
		Amount:  amt,
		Fee:     fee,
		TxID:    w.Get("txId").String(),
		State:   state(w.Get("state").String()),
		Status:  w.Get("state").String(),
	}, nil
}

// Price 现货最新价
func (c *Client) Price(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	instID := strings.ToUpper(base) + "-" + strings.ToUpper(quote)
	data, err := c.request(ctx, "GET", "/api/v5/market/ticker", url.Values{"instId": {instID}}, nil, false, "general")
	if err != nil {
		return decimal.Zero, err
	}
	last := data.Get("0.last").String()
	if last == "" {
		return decimal.Zero, fmt.Errorf("%w: okx ticker %s", cex.ErrNotFound, instID)
	}
	return decimal.NewFromString(last)
}
