// Package bridge LI.FI 跨链聚合：报价、交易数据、状态查询。
package bridge

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/tidwall/gjson"

	"github.com/web3mt/web3mt/pkg/httpx"
)

// DefaultBaseURL LI.FI API
const DefaultBaseURL = "https://li.quest/v1"

// NativeToken LI.FI 用零地址表示原生币
const NativeToken = "0x0000000000000000000000000000000000000000"

// Options 客户端参数
type Options struct {
	BaseURL    string
	APIKey     string
	Integrator string
	Proxy      string
	Timeout    time.Duration
}

// Client LI.FI 客户端
type Client struct {
	http       *httpx.Client
	apiKey     string
	integrator string
}

// New 创建
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	hc, err := httpx.New(httpx.Options{BaseURL: strings.TrimRight(opts.BaseURL, "/"), Timeout: opts.Timeout, Proxy: opts.Proxy})
	if err != nil {
		return nil, err
	}
	return &Client{http: hc, apiKey: opts.APIKey, integrator: opts.Integrator}, nil
}

// QuoteRequest 报价参数。Token 为合约地址或 NativeToken，Amount 为最小单位
type QuoteRequest struct {
	FromChain   int64
	ToChain     int64
	FromToken   string
	ToToken     string
	FromAmount  *big.Int
	FromAddress string
	ToAddress   string
	// Slippage 0.005 = 0.5%
	Slippage float64
	// Bridges 只允许这些桥（为空不限制）
	Bridges []string
}

// TransactionRequest 可直接发送的交易
type TransactionRequest struct {
	ChainID  int64
	To       common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64
}

// Quote 报价结果
type Quote struct {
	ID   string
	Tool string
	// ApprovalAddress 为 ERC20 时需要 approve 的 spender；原生币为空
	ApprovalAddress common.Address
	FromAmount      *big.Int
	ToAmount        *big.Int
	ToAmountMin     *big.Int
	// Duration 预计到账时间
	Duration time.Duration
	// FeeUSD 桥费 + gas 的 USD 估算
	FeeUSD float64
	Tx     TransactionRequest
}

func (c *Client) headers() map[string]string {
	h := map[string]string{"Accept": "application/json"}
	if c.apiKey != "" {
		h["x-lifi-api-key"] = c.apiKey
	}
	return h
}

// APIError LI.FI 的错误响应
type APIError struct {
	Status  int
	Code    int64
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lifi: status %d code %d: %s", e.Status, e.Code, e.Message)
}

func (c *Client) get(ctx context.Context, path string, params map[string]string) (gjson.Result, error) {
	resp, err := c.http.Do(ctx, "GET", path, &httpx.RequestOptions{Headers: c.headers(), Params: params}, nil)
	if err != nil {
		var he *httpx.HTTPError
		if errors.As(err, &he) {
			body := gjson.Parse(he.Body)
			if msg := body.Get("message"); msg.Exists() {
				return gjson.Result{}, &APIError{Status: he.Status, Code: body.Get("code").Int(), Message: msg.String()}
			}
		}
		return gjson.Result{}, err
	}
	return gjson.ParseBytes(resp.Body()), nil
}

// Quote GET /quote
func (c *Client) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	if req.FromAmount == nil || req.FromAmount.Sign() <= 0 {
		return nil, fmt.Errorf("lifi: invalid amount")
	}
	if req.ToAddress == "" {
		req.ToAddress = req.FromAddress
	}
	params := map[string]string{
		"fromChain":   strconv.FormatInt(req.FromChain, 10),
		"toChain":     strconv.FormatInt(req.ToChain, 10),
		"fromToken":   tokenParam(req.FromToken),
		"toToken":     tokenParam(req.ToToken),
		"fromAmount":  req.FromAmount.String(),
		"fromAddress": req.FromAddress,
		"toAddress":   req.ToAddress,
	}
	if req.Slippage > 0 {
		params["slippage"] = strconv.FormatFloat(req.Slippage, 'f', -1, 64)
	}
	if c.integrator != "" {
		params["integrator"] = c.integrator
	}
	if len(req.Bridges) > 0 {
		params["allowBridges"] = strings.Join(req.Bridges, ",")
	}

	res, err := c.get(ctx, "/quote", params)
	if err != nil {
		return nil, fmt.Errorf("lifi quote: %w", err)
	}
	return parseQuote(res)
}

func tokenParam(t string) string {
	if t == "" {
		return NativeToken
	}
	return t
}

func parseQuote(res gjson.Result) (*Quote, error) {
	txr := res.Get("transactionRequest")
	if !txr.Exists() {
		return nil, fmt.Errorf("lifi: quote without transactionRequest: %s", truncate(res.Raw))
	}
	q := &Quote{
		ID:          res.Get("id").String(),
		Tool:        res.Get("tool").String(),
		FromAmount:  bigString(res.Get("action.fromAmount").String()),
		ToAmount:    bigString(res.Get("estimate.toAmount").String()),
		ToAmountMin: bigString(res.Get("estimate.toAmountMin").String()),
		Duration:    time.Duration(res.Get("estimate.executionDuration").Float() * float64(time.Second)),
	}
	if a := res.Get("estimate.approvalAddress").String(); common.IsHexAddress(a) {
		q.ApprovalAddress = common.HexToAddress(a)
	}
	for _, f := range res.Get("estimate.feeCosts").Array() {
		q.FeeUSD += f.Get("amountUSD").Float()
	}
	for _, g := range res.Get("estimate.gasCosts").Array() {
		q.FeeUSD += g.Get("amountUSD").Float()
	}

	to := txr.Get("to").String()
	if !common.IsHexAddress(to) {
		return nil, fmt.Errorf("lifi: bad transactionRequest.to %q", to)
	}
	data, err := hexutil.Decode(txr.Get("data").String())
	if err != nil {
		return nil, fmt.Errorf("lifi: bad transactionRequest.data: %w", err)
	}
	q.Tx = TransactionRequest{
		ChainID: txr.Get("chainId").Int(),
		To:      common.HexToAddress(to),
		Data:    data,
		Value:   hexBig(txr.Get("value").String()),
	}
	if gl := hexBig(txr.Get("gasLimit").String()); gl.IsUint64() {
		q.Tx.GasLimit = gl.Uint64()
	}
	return q, nil
}

// NeedsApproval 源币是 ERC20 且给出了 spender
func (q *Quote) NeedsApproval() bool {
	return q.ApprovalAddress != (common.Address{}) && q.Tx.Value.Sign() == 0
}

// StatusState LI.FI 跨链状态
type StatusState string

const (
	StatusNotFound StatusState = "NOT_FOUND"
	StatusInvalid  StatusState = "INVALID"
	StatusPending  StatusState = "PENDING"
	StatusDone     StatusState = "DONE"
	StatusFailed   StatusState = "FAILED"
)

// Status 跨链状态
type Status struct {
	State StatusState
	// Substatus DONE 时为 COMPLETED / PARTIAL / REFUNDED
	Substatus   string
	ReceivingTx string
	Message     string
}

// Terminal 是否终态
func (s *Status) Terminal() bool {
	return s.State == StatusDone || s.State == StatusFailed || s.State == StatusInvalid
}

// Status GET /status
func (c *Client) Status(ctx context.Context, txHash string, fromChain, toChain int64) (*Status, error) {
	params := map[string]string{"txHash": txHash}
	if fromChain > 0 {
		params["fromChain"] = strconv.FormatInt(fromChain, 10)
	}
	if toChain > 0 {
		params["toChain"] = strconv.FormatInt(toChain, 10)
	}
	res, err := c.get(ctx, "/status", params)
	if err != nil {
		// 源链交易刚上链时 LI.FI 可能还没索引到
		var ae *APIError
		if errors.As(err, &ae) && ae.Status == 404 {
			return &Status{State: StatusNotFound, Message: ae.Message}, nil
		}
		return nil, fmt.Errorf("lifi status: %w", err)
	}
	return &Status{
		State:       StatusState(res.Get("status").String()),
		Substatus:   res.Get("substatus").String(),
		ReceivingTx: res.Get("receiving.txHash").String(),
		Message:     res.Get("substatusMessage").String(),
	}, nil
}

// WaitDone 轮询直到终态。FAILED / INVALID 返回 error
func (c *Client) WaitDone(ctx context.Context, txHash string, fromChain, toChain int64, poll time.Duration) (*Status, error) {
	if poll <= 0 {
		poll = 15 * time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		st, err := c.Status(ctx, txHash, fromChain, toChain)
		if err == nil && st.Terminal() {
			if st.State != StatusDone {
				return st, fmt.Errorf("lifi: bridge %s %s: %s", txHash, st.State, st.Message)
			}
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-ticker.C:
		}
	}
}

func bigString(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}

func hexBig(s string) *big.Int {
	if s == "" {
		return new(big.Int)
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, ok := new(big.Int).SetString(s[2:], 16)
		if !ok {
			return new(big.Int)
		}
		return v
	}
	return bigString(s)
}

func truncate(s string) string {
	if len(s) > 300 {
		return s[:300] + "..."
	}
	return s
}
