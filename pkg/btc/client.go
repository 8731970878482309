// Package btc 比特币类链（BTC / LTC）客户端，基于 Esplora REST 接口，本地构造并签名 P2WPKH 交易。
package btc

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/tidwall/gjson"

	"github.com/web3mt/web3mt/pkg/amount"
	"github.com/web3mt/web3mt/pkg/chain"
	"github.com/web3mt/web3mt/pkg/httpx"
	"github.com/web3mt/web3mt/pkg/txflow"
)

// Config 费用参数
type Config struct {
	// TargetBlocks 费率估算的目标确认块数
	TargetBlocks int `yaml:"target_blocks" json:"target_blocks"`
	// MinFeeRate / MaxFeeRate sat/vB
	MinFeeRate float64 `yaml:"min_fee_rate" json:"min_fee_rate"`
	MaxFeeRate float64 `yaml:"max_fee_rate" json:"max_fee_rate"`

	Flow txflow.Options `yaml:"-" json:"-"`
}

func (c Config) withDefaults() Config {
	if c.TargetBlocks <= 0 {
		c.TargetBlocks = 3
	}
	if c.MinFeeRate <= 0 {
		c.MinFeeRate = 1
	}
	if c.MaxFeeRate <= 0 {
		c.MaxFeeRate = 500
	}
	return c
}

// Client Esplora 客户端
type Client struct {
	chain *chain.Chain
	net   Network
	http  *httpx.Client
	cfg   Config
}

// NewClient opts.BaseURL 为空时使用链配置的 RPC（如 https://blockstream.info/api）
func NewClient(c *chain.Chain, net Network, opts httpx.Options, cfg Config) (*Client, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = c.RPC()
	}
	hc, err := httpx.New(opts)
	if err != nil {
		return nil, err
	}
	return &Client{chain: c, net: net, http: hc, cfg: cfg.withDefaults()}, nil
}

// Chain 链描述
func (c *Client) Chain() *chain.Chain { return c.chain }

// Network 网络参数
func (c *Client) Network() Network { return c.net }

// ParseKey 解析 WIF 或 32 字节 hex 私钥
func ParseKey(s string) (*btcec.PrivateKey, error) {
	s = strings.TrimSpace(s)
	if wif, err := btcutil.DecodeWIF(s); err == nil {
		return wif.PrivKey, nil
	}
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(b) != 32 {
		return nil, fmt.Errorf("btc: invalid private key")
	}
	key, _ := btcec.PrivKeyFromBytes(b)
	return key, nil
}

// Address 私钥对应的 P2WPKH 地址
func (c *Client) Address(key *btcec.PrivateKey) (btcutil.Address, error) {
	return P2WPKH(key.PubKey(), c.net)
}

// P2WPKH 压缩公钥的原生隔离见证地址
func P2WPKH(pub *btcec.PublicKey, net Network) (*btcutil.AddressWitnessPubKeyHash, error) {
	return btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pub.SerializeCompressed()), net.Params)
}

// DecodeAddress 校验地址属于当前网络
func (c *Client) DecodeAddress(s string) (btcutil.Address, error) {
	addr, err := btcutil.DecodeAddress(strings.TrimSpace(s), c.net.Params)
	if err != nil {
		return nil, fmt.Errorf("btc: invalid %s address %q: %w", c.net.Name, s, err)
	}
	if !addr.IsForNet(c.net.Params) {
		return nil, fmt.Errorf("btc: address %q is not for %s", s, c.net.Name)
	}
	return addr, nil
}

func (c *Client) get(ctx context.Context, path string) (gjson.Result, error) {
	resp, err := c.http.Do(ctx, "GET", path, nil, nil)
	if err != nil {
		return gjson.Result{}, err
	}
	return gjson.ParseBytes(resp.Body()), nil
}

// Balance 已确认 + 内存池余额（sats）
func (c *Client) Balance(ctx context.Context, addr string) (amount.Amount, error) {
	res, err := c.get(ctx, "/address/"+addr)
	if err != nil {
		return amount.Amount{}, fmt.Errorf("获取 %s 余额失败: %w", c.chain.Native.Symbol, err)
	}
	sats := res.Get("chain_stats.funded_txo_sum").Int() - res.Get("chain_stats.spent_txo_sum").Int() +
		res.Get("mempool_stats.funded_txo_sum").Int() - res.Get("mempool_stats.spent_txo_sum").Int()
	if sats < 0 {
		sats = 0
	}
	return amount.FromUint(uint64(sats), c.chain.Native.Decimals, c.chain.Native.Symbol), nil
}

// UTXO 未花费输出
type UTXO struct {
	TxID      string
	Vout      uint32
	Value     int64
	Confirmed bool
}

// UTXOs 地址的未花费输出，按金额从大到小排序
func (c *Client) UTXOs(ctx context.Context, addr string) ([]UTXO, error) {
	res, err := c.get(ctx, "/address/"+addr+"/utxo")
	if err != nil {
		return nil, fmt.Errorf("获取UTXO失败: %w", err)
	}
	var out []UTXO
	res.ForEach(func(_, u gjson.Result) bool {
		out = append(out, UTXO{
			TxID:      u.Get("txid").String(),
			Vout:      uint32(u.Get("vout").Uint()),
			Value:     u.Get("value").Int(),
			Confirmed: u.Get("status.confirmed").Bool(),
		})
		return true
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Value > out[j].Value })
	return out, nil
}

// FeeRate 目标块数内确认的费率（sat/vB），取不到精确目标时用更慢一档
func (c *Client) FeeRate(ctx context.Context, targetBlocks int) (float64, error) {
	res, err := c.get(ctx, "/fee-estimates")
	if err != nil {
		return 0, fmt.Errorf("获取费率失败: %w", err)
	}
	rate := 0.0
	best := 0
	res.ForEach(func(k, v gjson.Result) bool {
		n, err := strconv.Atoi(k.String())
		if err != nil {
			return true
		}
		// 目标以内最慢的一档；都不满足时取最快的一档
		if n <= targetBlocks && n > best {
			best, rate = n, v.Float()
		}
		return true
	})
	if rate == 0 {
		res.ForEach(func(k, v gjson.Result) bool {
			if v.Float() > rate {
				rate = v.Float()
			}
			return true
		})
	}
	if rate < c.cfg.MinFeeRate {
		rate = c.cfg.MinFeeRate
	}
	if rate > c.cfg.MaxFeeRate {
		return 0, fmt.Errorf("btc: fee rate %.1f sat/vB above max %.1f", rate, c.cfg.MaxFeeRate)
	}
	return rate, nil
}

// TxStatus /tx/{id}/status
func (c *Client) TxStatus(ctx context.Context, txid string) (confirmed bool, height int64, err error) {
	res, err := c.get(ctx, "/tx/"+txid+"/status")
	if err != nil {
		return false, 0, err
	}
	return res.Get("confirmed").Bool(), res.Get("block_height").Int(), nil
}

// Broadcast 广播原始交易，返回 txid
func (c *Client) Broadcast(ctx context.Context, rawHex string) (string, error) {
	resp, err := c.http.R(ctx).
		SetHeader("Content-Type", "text/plain").
		SetBody(rawHex).
		Post("/tx")
	if err := httpx.ParseHTTPError(resp, err); err != nil {
		return "", err
	}
	return strings.TrimSpace(string(resp.Body())), nil
}
