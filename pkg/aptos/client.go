// Package aptos Aptos 全节点 REST 客户端：余额、序列号、gas 价格与 APT/Coin 转账。
package aptos

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/web3mt/web3mt/pkg/amount"
	"github.com/web3mt/web3mt/pkg/chain"
	"github.com/web3mt/web3mt/pkg/httpx"
	"github.com/web3mt/web3mt/pkg/txflow"
)

// AptosCoin 原生币类型
const AptosCoin = "0x1::aptos_coin::AptosCoin"

var ErrInsufficientFunds = errors.New("aptos: insufficient funds")

// Config 交易参数
type Config struct {
	MaxGasAmount  uint64        `yaml:"max_gas_amount" json:"max_gas_amount"`
	GasMultiplier float64       `yaml:"gas_multiplier" json:"gas_multiplier"`
	ExpireAfter   time.Duration `yaml:"expire_after" json:"expire_after"`

	Flow txflow.Options `yaml:"-" json:"-"`
}

func (c Config) withDefaults() Config {
	if c.MaxGasAmount == 0 {
		c.MaxGasAmount = 2000
	}
	if c.GasMultiplier <= 0 {
		c.GasMultiplier = 1
	}
	if c.ExpireAfter <= 0 {
		c.ExpireAfter = 60 * time.Second
	}
	return c
}

// Client Aptos REST 客户端
type Client struct {
	chain *chain.Chain
	http  *httpx.Client
	cfg   Config
}

// NewClient opts.BaseURL 为空时使用链配置的第一个 RPC（形如 https://.../v1）
func NewClient(c *chain.Chain, opts httpx.Options, cfg Config) (*Client, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = c.RPC()
	}
	hc, err := httpx.New(opts)
	if err != nil {
		return nil, err
	}
	return &Client{chain: c, http: hc, cfg: cfg.withDefaults()}, nil
}

// Chain 链描述
func (c *Client) Chain() *chain.Chain { return c.chain }

// notFound 账户/资源不存在
func notFound(err error) bool {
	if httpx.StatusCode(err) == 404 {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "account_not_found") ||
		strings.Contains(msg, "resource_not_found") ||
		strings.Contains(msg, "ecoin_store_not_published")
}

func (c *Client) get(ctx context.Context, path string) (gjson.Result, error) {
	resp, err := c.http.Do(ctx, "GET", path, nil, nil)
	if err != nil {
		return gjson.Result{}, err
	}
	return gjson.ParseBytes(resp.Body()), nil
}

func (c *Client) post(ctx context.Context, path string, body any) (gjson.Result, error) {
	resp, err := c.http.Do(ctx, "POST", path, &httpx.RequestOptions{Body: body}, nil)
	if err != nil {
		return gjson.Result{}, err
	}
	return gjson.ParseBytes(resp.Body()), nil
}

// View 调用 view 函数
func (c *Client) View(ctx context.Context, function string, typeArgs []string, args []any) (gjson.Result, error) {
	if typeArgs == nil {
		typeArgs = []string{}
	}
	if args == nil {
		args = []any{}
	}
	return c.post(ctx, "/view", map[string]any{
		"function":       function,
		"type_arguments": typeArgs,
		"arguments":      args,
	})
}

// Balance APT 余额
func (c *Client) Balance(ctx context.Context, addr string) (amount.Amount, error) {
	return c.CoinBalance(ctx, c.chain.Native, addr)
}

// CoinBalance 指定 Coin 余额；token.Address 为 coin 类型，为空表示 APT
func (c *Client) CoinBalance(ctx context.Context, token amount.Token, addr string) (amount.Amount, error) {
	coinType := token.Address
	if coinType == "" {
		coinType = AptosCoin
	}
	addr, err := NormalizeAddress(addr)
	if err != nil {
		return amount.Amount{}, err
	}
	res, err := c.View(ctx, "0x1::coin::balance", []string{coinType}, []any{addr})
	if err != nil {
		if notFound(err) {
			return amount.Zero(token.Decimals, token.Symbol), nil
		}
		return amount.Amount{}, fmt.Errorf("获取 %s 余额失败: %w", token.Symbol, err)
	}
	v, ok := new(big.Int).SetString(res.Get("0").String(), 10)
	if !ok {
		return amount.Amount{}, fmt.Errorf("aptos: unexpected view result %s", res.Raw)
	}
	return amount.ForToken(token, v), nil
}

// SequenceNumber 账户序列号；账户尚未创建时为 0
func (c *Client) SequenceNumber(ctx context.Context, addr string) (uint64, error) {
	addr, err := NormalizeAddress(addr)
	if err != nil {
		return 0, err
	}
	res, err := c.get(ctx, "/accounts/"+url.PathEscape(addr))
	if err != nil {
		if notFound(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("获取序列号失败: %w", err)
	}
	return strconv.ParseUint(res.Get("sequence_number").String(), 10, 64)
}

// GasPrice 当前建议的 gas 单价（octas）
func (c *Client) GasPrice(ctx context.Context) (uint64, error) {
	res, err := c.get(ctx, "/estimate_gas_price")
	if err != nil {
		return 0, fmt.Errorf("获取gas价格失败: %w", err)
	}
	price := res.Get("gas_estimate").Uint()
	if price == 0 {
		return 0, fmt.Errorf("aptos: empty gas estimate %s", res.Raw)
	}
	return uint64(float64(price) * c.cfg.GasMultiplier), nil
}

// TxInfo /transactions/by_hash 的结果
type TxInfo struct {
	Hash     string
	Pending  bool
	Success  bool
	VMStatus string
	Version  uint64
	GasUsed  uint64
	GasPrice uint64
}

// Transaction 按 hash 查询交易
func (c *Client) Transaction(ctx context.Context, hash string) (*TxInfo, error) {
	res, err := c.get(ctx, "/transactions/by_hash/"+url.PathEscape(hash))
	if err != nil {
		return nil, err
	}
	return &TxInfo{
		Hash:     res.Get("hash").String(),
		Pending:  res.Get("type").String() == "pending_transaction",
		Success:  res.Get("success").Bool(),
		VMStatus: res.Get("vm_status").String(),
		Version:  res.Get("version").Uint(),
		GasUsed:  res.Get("gas_used").Uint(),
		GasPrice: res.Get("gas_unit_price").Uint(),
	}, nil
}
