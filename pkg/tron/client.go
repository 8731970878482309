// Package tron TronGrid HTTP 客户端：TRX / TRC20 余额与转账。
// 交易由节点构造（createtransaction / triggersmartcontract），本地校验 txID 后签名广播。
package tron

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tidwall/gjson"

	"github.com/web3mt/web3mt/pkg/amount"
	"github.com/web3mt/web3mt/pkg/chain"
	"github.com/web3mt/web3mt/pkg/httpx"
	"github.com/web3mt/web3mt/pkg/txflow"
)

// Config 交易参数
type Config struct {
	APIKey string `yaml:"api_key" json:"api_key"`
	// FeeLimit TRC20 调用的能量费上限（sun）
	FeeLimit int64 `yaml:"fee_limit" json:"fee_limit"`

	Flow txflow.Options `yaml:"-" json:"-"`
}

func (c Config) withDefaults() Config {
	if c.FeeLimit <= 0 {
		c.FeeLimit = 30_000_000
	}
	return c
}

// Client TronGrid 客户端
type Client struct {
	chain *chain.Chain
	http  *httpx.Client
	cfg   Config
}

// NewClient opts.BaseURL 为空时使用链配置的 RPC
func NewClient(c *chain.Chain, opts httpx.Options, cfg Config) (*Client, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = c.RPC()
	}
	hc, err := httpx.New(opts)
	if err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if cfg.APIKey != "" {
		hc.Resty().SetHeader("TRON-PRO-API-KEY", cfg.APIKey)
	}
	return &Client{chain: c, http: hc, cfg: cfg}, nil
}

// Chain 链描述
func (c *Client) Chain() *chain.Chain { return c.chain }

// APIError 节点以 200 返回的业务错误
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return "tron: " + e.Message
	}
	return fmt.Sprintf("tron: %s: %s", e.Code, e.Message)
}

// decodeMessage broadcast 的 message 字段是 hex 编码的文本
func decodeMessage(s string) string {
	if b, err := hex.DecodeString(s); err == nil && len(b) > 0 {
		return string(b)
	}
	return s
}

func (c *Client) post(ctx context.Context, path string, body any) (gjson.Result, error) {
	resp, err := c.http.Do(ctx, "POST", path, &httpx.RequestOptions{Body: body}, nil)
	if err != nil {
		return gjson.Result{}, err
	}
	res := gjson.ParseBytes(resp.Body())
	if e := res.Get("Error"); e.Exists() {
		return res, &APIError{Message: e.String()}
	}
	return res, nil
}

// Balance TRX 余额；未激活账户为 0
func (c *Client) Balance(ctx context.Context, addr Address) (amount.Amount, error) {
	res, err := c.post(ctx, "/wallet/getaccount", map[string]any{"address": addr.String(), "visible": true})
	if err != nil {
		return amount.Amount{}, fmt.Errorf("获取 TRX 余额失败: %w", err)
	}
	return amount.FromUint(res.Get("balance").Uint(), c.chain.Native.Decimals, c.chain.Native.Symbol), nil
}

// addressParam ABI 编码的地址参数（去掉 0x41 前缀，左补 0 至 32 字节）
func addressParam(a Address) string {
	return hex.EncodeToString(common.LeftPadBytes(a.Bytes(), 32))
}

func uintParam(v *big.Int) string {
	return hex.EncodeToString(common.LeftPadBytes(v.Bytes(), 32))
}

// TRC20Balance 代币余额，token.Address 为合约 base58 地址
func (c *Client) TRC20Balance(ctx context.Context, token amount.Token, owner Address) (amount.Amount, error) {
	if token.IsNative() {
		return c.Balance(ctx, owner)
	}
	res, err := c.post(ctx, "/wallet/triggerconstantcontract", map[string]any{
		"owner_address":     owner.String(),
		"contract_address":  token.Address,
		"function_selector": "balanceOf(address)",
		"parameter":         addressParam(owner),
		"visible":           true,
	})
	if err != nil {
		return amount.Amount{}, fmt.Errorf("获取 %s 余额失败: %w", token.Symbol, err)
	}
	if !res.Get("result.result").Bool() {
		return amount.Amount{}, &APIError{Code: res.Get("result.code").String(), Message: decodeMessage(res.Get("result.message").String())}
	}
	raw := res.Get("constant_result.0").String()
	v, ok := new(big.Int).SetString(strings.TrimLeft(raw, "0"), 16)
	if !ok {
		v = new(big.Int)
	}
	return amount.ForToken(token, v), nil
}

// TxInfo gettransactioninfobyid 的结果
type TxInfo struct {
	ID          string
	Found       bool
	BlockNumber uint64
	Fee         uint64
	EnergyUsed  uint64
	Success     bool
	Message     string
}

// TransactionInfo 查询已上链交易
func (c *Client) TransactionInfo(ctx context.Context, txID string) (*TxInfo, error) {
	res, err := c.post(ctx, "/wallet/gettransactioninfobyid", map[string]any{"value": txID})
	if err != nil {
		return nil, err
	}
	info := &TxInfo{ID: txID, Found: res.Get("id").Exists()}
	if !info.Found {
		return info, nil
	}
	info.BlockNumber = res.Get("blockNumber").Uint()
	info.Fee = res.Get("fee").Uint()
	info.EnergyUsed = res.Get("receipt.energy_usage_total").Uint()
	// TRX 转账没有 receipt.result；合约调用失败时 result=FAILED
	info.Success = res.Get("result").String() != "FAILED"
	if r := res.Get("receipt.result"); r.Exists() && r.String() != "SUCCESS" {
		info.Success = false
	}
	info.Message = decodeMessage(res.Get("resMessage").String())
	return info, nil
}

// pendingKnown 节点是否见过这笔交易（尚未打包）
func (c *Client) pendingKnown(ctx context.Context, txID string) (bool, error) {
	res, err := c.post(ctx, "/wallet/gettransactionbyid", map[string]any{"value": txID})
	if err != nil {
		return false, err
	}
	return res.Get("txID").Exists(), nil
}
