// Package htx HTX（原火币）资金接口，签名版本 2
package htx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/web3mt/web3mt/pkg/cex"
	"github.com/web3mt/web3mt/pkg/httpx"
	"github.com/web3mt/web3mt/pkg/ratelimit"
)

const (
	Name        = "htx"
	defaultBase = "https://api.huobi.pro"
)

// DefaultNetworks 链名 -> HTX chain。
// HTX 的 chain 编码随币种变化（如 trc20usdt、arb1eth），代币提币一般需要在配置里覆盖。
var DefaultNetworks = map[string]string{
	"Ethereum":  "eth",
	"Arbitrum":  "arb1eth",
	"Optimism":  "opeth",
	"Base":      "baseeth",
	"BSC":       "bsc",
	"Polygon":   "matic",
	"Avalanche": "avaxcchain",
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
	host     string
	limiter  *ratelimit.Manager
	networks map[string]string
	now      func() time.Time

	mu        sync.Mutex
	accountID string
}

var _ cex.Exchange = (*Client)(nil)

func New(creds cex.Credentials, opts cex.Options) (*Client, error) {
	hc, err := cex.NewHTTP(opts, defaultBase)
	if err != nil {
		return nil, err
	}
	base := opts.BaseURL
	if base == "" {
		base = defaultBase
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("htx: bad base url: %w", err)
	}
	return &Client{
		creds:    creds,
		http:     hc,
		host:     strings.ToLower(u.Host),
		limiter:  cex.Limiter(opts),
		networks: opts.Networks,
		now:      time.Now,
	}, nil
}

func (c *Client) Name() string { return Name }

func (c *Client) Network(chain string) (string, error) {
	return cex.ResolveNetwork(chain, c.networks, DefaultNetworks)
}

// signParams 在 params 上追加认证字段与签名。
// 待签串：METHOD\nhost\npath\n按 key 排序的 query
func signParams(secret, apiKey, method, host, path string, params url.Values, ts time.Time) url.Values {
	if params == nil {
		params = url.Values{}
	}
	params.Set("AccessKeyId", apiKey)
	params.Set("SignatureMethod", "HmacSHA256")
	params.Set("SignatureVersion", "2")
	params.Set("Timestamp", ts.UTC().Format("2006-01-02T15:04:05"))
	payload := strings.ToUpper(method) + "\n" + host + "\n" + path + "\n" + params.Encode()
	params.Set("Signature", cex.HMACBase64(secret, payload))
	return params
}

func (c *Client) request(ctx context.Context, method, path string, params url.Values, body any, signed bool, group string) (gjson.Result, error) {
	if err := cex.Throttle(ctx, c.limiter, Name, group); err != nil {
		return gjson.Result{}, err
	}
	r := c.http.R(ctx)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return gjson.Result{}, err
		}
		r.SetHeader("Content-Type", "application/json").SetBody(b)
	}
	if signed {
		if !c.creds.Valid() {
			return gjson.Result{}, cex.ErrNoCredentials
		}
		params = signParams(c.creds.Secret, c.creds.APIKey, method, c.host, path, params, c.now())
	}
	endpoint := path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	resp, err := r.Execute(method, endpoint)
	if err := httpx.ParseHTTPError(resp, err); err != nil {
		return gjson.Result{}, err
	}
	res := gjson.ParseBytes(resp.Body())
	// v1 接口用 status，v2 接口用 code
	if st := res.Get("status"); st.Exists() && st.String() != "ok" {
		return res, &cex.APIError{Exchange: Name, Code: res.Get("err-code").String(), Message: res.Get("err-msg").String()}
	}
	if code := res.Get("code"); code.Exists() && code.Int() != 200 {
		return res, &cex.APIError{Exchange: Name, Code: code.String(), Message: res.Get("message").String()}
	}
	return res, nil
}

// spotAccount 现货账户 id，首次查询后缓存
func (c *Client) spotAccount(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accountID != "" {
		return c.accountID, nil
	}
	res, err := c.request(ctx, "GET", "/v1/account/accounts", nil, nil, true, "general")
	if err != nil {
		return "", err
	}
	for _, a := range res.Get("data").Array() {
		if a.Get("type").String() == "spot" {
			c.accountID = a.Get("id").String()
			return c.accountID, nil
		}
	}
	return "", fmt.Errorf("%w: htx spot account", cex.ErrNotFound)
}

func (c *Client) Balances(ctx context.Context) ([]cex.Balance, error) {
	id, err := c.spotAccount(ctx)
	if err != nil {
		return nil, err
	}
	res, err := c.request(ctx, "GET", "/v1/account/accounts/"+id+"/balance", nil, nil, true, "general")
	if err != nil {
		return nil, err
	}
	byCoin := map[string]*cex.Balance{}
	var order []string
	for _, it := range res.Get("data.list").Array() {
		v, _ := decimal.NewFromString(it.Get("balance").String())
		if v.IsZero() {
			continue
		}
		coin := strings.ToUpper(it.Get("currency").String())
		b, ok := byCoin[coin]
		if !ok {
			b = &cex.Balance{Coin: coin}
			byCoin[coin] = b
			order = append(order, coin)
		}
		if it.Get("type").String() == "trade" {
			b.Free = b.Free.Add(v)
		} else {
			b.Locked = b.Locked.Add(v)
		}
	}
	out := make([]cex.Balance, 0, len(order))
	for _, coin := range order {
		out = append(out, *byCoin[coin])
	}
	return out, nil
}

func (c *Client) DepositAddress(ctx context.Context, coin, network string) (*cex.DepositAddress, error) {
	res, err := c.request(ctx, "GET", "/v2/account/deposit/address", url.Values{"currency": {strings.ToLower(coin)}}, nil, true, "general")
	if err != nil {
		return nil, err
	}
	for _, a := range res.Get("data").Array() {
		if strings.EqualFold(a.Get("chain").String(), network) {
			return &cex.DepositAddress{Coin: coin, Network: network, Address: a.Get("address").String(), Memo: a.Get("addressTag").String()}, nil
		}
	}
	return nil, fmt.Errorf("%w: htx deposit address %s/%s", cex.ErrNotFound, coin, network)
}

func (c *Client) Withdraw(ctx context.Context, req cex.WithdrawRequest) (string, error) {
	body := map[string]string{
		"address":  req.Address,
		"currency": strings.ToLower(req.Coin),
		"amount":   req.Amount.String(),
		"chain":    req.Network,
	}
	if !req.Fee.IsZero() {
		body["fee"] = req.Fee.String()
	}
	if req.Memo != "" {
		body["addr-tag"] = req.Memo
	}
	if req.ClientID != "" {
		body["client-order-id"] = req.ClientID
	}
	res, err := c.request(ctx, "POST", "/v1/dw/withdraw/api/create", nil, body, true, "withdraw")
	if err != nil {
		return "", err
	}
	id := res.Get("data").String()
	if id == "" || id == "0" {
		return "", fmt.Errorf("htx: empty withdrawal id: %s", res.Raw)
	}
	return id, nil
}

func state(s string) cex.WithdrawalState {
	switch s {
	case "confirmed":
		return cex.WithdrawalCompleted
	case "failed", "canceled", "reject", "wallet-reject", "confirm-error", "repealed":
		return cex.WithdrawalFailed
	}
	return cex.WithdrawalPending
}

func (c *Client) Withdrawal(ctx context.Context, id string) (*cex.Withdrawal, error) {
	params := url.Values{"type": {"withdraw"}, "from": {id}, "size": {"1"}}
	res, err := c.request(ctx, "GET", "/v1/query/deposit-withdraw", params, nil, true, "general")
	if err != nil {
		return nil, err
	}
	for _, w := range res.Get("data").Array() {
		if w.Get("id").String() != id {
			continue
		}
		amt, _ := decimal.NewFromString(w.Get("amount").String())
		fee, _ := decimal.NewFromString(w.Get("fee").String())
		st := w.Get("state").String()
		return &cex.Withdrawal{
			ID:      id,
			Coin:    strings.ToUpper(w.Get("currency").String()),
			Network: w.Get("chain").String(),
			Address: w.Get("address").String(),
			Amount:  amt,
			Fee:     fee,
			TxID:    w.Get("tx-hash").String(),
			State:   state(st),
			Status:  st,
		}, nil
	}
	return nil, fmt.Errorf("%w: htx withdrawal %s", cex.ErrNotFound, id)
}

func (c *Client) Price(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	symbol := strings.ToLower(base + quote)
	res, err := c.request(ctx, "GET", "/market/detail/merged", url.Values{"symbol": {symbol}}, nil, false, "general")
	if err != nil {
		return decimal.Zero, err
	}
	closePrice := res.Get("tick.close")
	if !closePrice.Exists() {
		return decimal.Zero, fmt.Errorf("%w: htx ticker %s", cex.ErrNotFound, symbol)
	}
	return decimal.NewFromString(closePrice.Raw)
}
