// Package evm EVM 链客户端：余额、ERC20、费用估算、nonce 管理，以及基于 txflow 的交易发送。
package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/web3mt/web3mt/pkg/amount"
	"github.com/web3mt/web3mt/pkg/cache"
	"github.com/web3mt/web3mt/pkg/chain"
	"github.com/web3mt/web3mt/pkg/txflow"
)

// Config 费用与重试参数
type Config struct {
	// GasBuffer 估算 gas 的放大系数
	GasBuffer float64 `yaml:"gas_buffer" json:"gas_buffer"`
	// FeeMultiplier 建议费用的放大系数
	FeeMultiplier float64 `yaml:"fee_multiplier" json:"fee_multiplier"`
	// MinTipGwei EIP-1559 最低小费
	MinTipGwei float64 `yaml:"min_tip_gwei" json:"min_tip_gwei"`
	// MaxFeeGwei 单笔交易 maxFeePerGas / gasPrice 上限，0 表示不限
	MaxFeeGwei float64 `yaml:"max_fee_gwei" json:"max_fee_gwei"`
	// FeeCapBump / TipBump 慢交易提价倍数
	FeeCapBump float64 `yaml:"fee_cap_bump" json:"fee_cap_bump"`
	TipBump    float64 `yaml:"tip_bump" json:"tip_bump"`
	// MaxBumpMultiplier 提价后的费用不超过初始费用的倍数
	MaxBumpMultiplier float64 `yaml:"max_bump_multiplier" json:"max_bump_multiplier"`

	Flow txflow.Options `yaml:"-" json:"-"`
}

// DefaultConfig 默认参数
func DefaultConfig() Config {
	return Config{
		GasBuffer:         1.2,
		FeeMultiplier:     1.0,
		MinTipGwei:        0.001,
		FeeCapBump:        1.2,
		TipBump:           1.1,
		MaxBumpMultiplier: 5.0,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.GasBuffer < 1 {
		c.GasBuffer = d.GasBuffer
	}
	if c.FeeMultiplier <= 0 {
		c.FeeMultiplier = d.FeeMultiplier
	}
	if c.MinTipGwei < 0 {
		c.MinTipGwei = 0
	}
	if c.FeeCapBump < 1.1 {
		c.FeeCapBump = d.FeeCapBump
	}
	if c.TipBump < 1.1 {
		c.TipBump = d.TipBump
	}
	if c.MaxBumpMultiplier < 1 {
		c.MaxBumpMultiplier = d.MaxBumpMultiplier
	}
	return c
}

// Client 单条 EVM 链的客户端
type Client struct {
	chain   *chain.Chain
	backend Backend
	cfg     Config
	nonces  *NonceManager
	tokens  *cache.InMemoryCache[common.Address, amount.Token]
	closer  func()
}

// NewClient 用已有 Backend 创建客户端
func NewClient(c *chain.Chain, b Backend, cfg Config) *Client {
	return &Client{
		chain:   c,
		backend: b,
		cfg:     cfg.withDefaults(),
		nonces:  NewNonceManager(),
		tokens:  cache.NewInMemoryCache[common.Address, amount.Token](24 * time.Hour),
	}
}

// Chain 链描述
func (c *Client) Chain() *chain.Chain { return c.chain }

// Backend 底层 RPC
func (c *Client) Backend() Backend { return c.backend }

// Nonces nonce 管理器（同一地址多条链各自独立）
func (c *Client) Nonces() *NonceManager { return c.nonces }

// Close 关闭连接
func (c *Client) Close() {
	c.tokens.Close()
	if c.closer != nil {
		c.closer()
	}
}

// Balance 原生币余额
func (c *Client) Balance(ctx context.Context, addr common.Address) (amount.Amount, error) {
	wei, err := c.backend.BalanceAt(ctx, addr, nil)
	if err != nil {
		return amount.Amount{}, fmt.Errorf("获取 %s 余额失败: %w", c.chain.Name, err)
	}
	return amount.ForToken(c.chain.Native, wei), nil
}

// TokenBalance ERC20 余额；token 为原生币时返回原生余额
func (c *Client) TokenBalance(ctx context.Context, token amount.Token, owner common.Address) (amount.Amount, error) {
	if token.IsNative() {
		return c.Balance(ctx, owner)
	}
	data, err := erc20ABI.Pack("balanceOf", owner)
	if err != nil {
		return amount.Amount{}, err
	}
	var out *big.Int
	if err := c.call(ctx, common.HexToAddress(token.Address), data, "balanceOf", &out); err != nil {
		return amount.Amount{}, fmt.Errorf("获取 %s 余额失败: %w", token.Symbol, err)
	}
	return amount.ForToken(token, out), nil
}

// TokenInfo 读取合约的 symbol/decimals（带缓存）
func (c *Client) TokenInfo(ctx context.Context, addr common.Address) (amount.Token, error) {
	return c.tokens.GetOrLoad(addr, func() (amount.Token, error) {
		var decimals uint8
		data, _ := erc20ABI.Pack("decimals")
		if err := c.call(ctx, addr, data, "decimals", &decimals); err != nil {
			return amount.Token{}, fmt.Errorf("读取 decimals 失败: %w", err)
		}
		var symbol string
		data, _ = erc20ABI.Pack("symbol")
		if err := c.call(ctx, addr, data, "symbol", &symbol); err != nil {
			// 部分老合约 symbol 返回 bytes32，这里不强求
			symbol = strings.ToUpper(addr.Hex()[:8])
		}
		return amount.Token{Symbol: symbol, Decimals: int32(decimals), Address: addr.Hex()}, nil
	})
}

// ResolveToken 解析 "USDC" / "ETH" / "0x..." 为 Token
func (c *Client) ResolveToken(ctx context.Context, symbolOrAddress string) (amount.Token, error) {
	s := strings.TrimSpace(symbolOrAddress)
	if common.IsHexAddress(s) {
		return c.TokenInfo(ctx, common.HexToAddress(s))
	}
	if t, ok := c.chain.Token(s); ok {
		return t, nil
	}
	return amount.Token{}, fmt.Errorf("%s 上未知代币: %s", c.chain.Name, s)
}

// Allowance ERC20 授权额度
func (c *Client) Allowance(ctx context.Context, token amount.Token, owner, spender common.Address) (amount.Amount, error) {
	data, err := erc20ABI.Pack("allowance", owner, spender)
	if err != nil {
		return amount.Amount{}, err
	}
	var out *big.Int
	if err := c.call(ctx, common.HexToAddress(token.Address), data, "allowance", &out); err != nil {
		return amount.Amount{}, fmt.Errorf("获取授权额度失败: %w", err)
	}
	return amount.ForToken(token, out), nil
}

func (c *Client) call(ctx context.Context, to common.Address, data []byte, method string, out interface{}) error {
	raw, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return fmt.Errorf("empty result from %s (not a contract?)", to.Hex())
	}
	return erc20ABI.UnpackIntoInterface(out, method, raw)
}

// EstimateFee 估算一笔交易的最大手续费（gasLimit * maxFee）
func (c *Client) EstimateFee(ctx context.Context, gasLimit uint64) (amount.Amount, error) {
	fees, err := c.SuggestFees(ctx)
	if err != nil {
		return amount.Amount{}, err
	}
	cost := new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), fees.Max())
	return amount.ForToken(c.chain.Native, cost), nil
}

// MaxSendable 扫空原生币时可发送的数量：余额 - 手续费 * reserveFactor
func (c *Client) MaxSendable(ctx context.Context, from common.Address, gasLimit uint64, reserveFactor float64) (amount.Amount, error) {
	if reserveFactor < 1 {
		reserveFactor = 1
	}
	bal, err := c.Balance(ctx, from)
	if err != nil {
		return amount.Amount{}, err
	}
	fee, err := c.EstimateFee(ctx, gasLimit)
	if err != nil {
		return amount.Amount{}, err
	}
	fee = fee.MulRatio(decimal.NewFromFloat(reserveFactor))
	out, err := bal.Sub(fee)
	if err != nil {
		return amount.Amount{}, txflow.Permanent(fmt.Errorf("%w: 余额 %s 不足以支付手续费 %s", ErrInsufficientFunds, bal, fee))
	}
	return out, nil
}

// ErrInsufficientFunds 本地余额检查失败
var ErrInsufficientFunds = errors.New("insufficient funds")

// AddressOf 私钥对应地址
func AddressOf(key *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}

// ParseKey 解析 hex 私钥（可带 0x）
func ParseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	k, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid evm private key: %w", err)
	}
	return k, nil
}
