package evm

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"

	"github.com/web3mt/web3mt/pkg/chain"
	"github.com/web3mt/web3mt/pkg/httpx"
	"github.com/web3mt/web3mt/pkg/logger"
)

// Backend ethclient.Client 的子集，测试里用 fake 实现
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
}

var _ Backend = (*ethclient.Client)(nil)

// DialOptions 连接参数
type DialOptions struct {
	Proxy   string
	Timeout time.Duration
	// RPS 每秒请求上限，0 表示不限
	RPS     float64
	Burst   int
	Config  Config
}

// Dial 依次尝试链上配置的 RPC，校验 chain id 后返回客户端
func Dial(ctx context.Context, c *chain.Chain, opts DialOptions) (*Client, error) {
	if c == nil || c.Kind != chain.KindEVM {
		return nil, fmt.Errorf("evm: not an evm chain: %v", c)
	}
	if len(c.RPCs) == 0 {
		return nil, fmt.Errorf("evm: %s has no rpc configured", c.Name)
	}
	httpClient, err := httpx.HTTPClient(opts.Proxy, opts.Timeout)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, url := range c.RPCs {
		rc, err := rpc.DialOptions(ctx, url, rpc.WithHTTPClient(httpClient))
		if err != nil {
			lastErr = err
			continue
		}
		var b Backend = ethclient.NewClient(rc)
		if opts.RPS > 0 {
			b = Throttle(b, opts.RPS, opts.Burst)
		}

		id, err := b.ChainID(ctx)
		if err != nil {
			rc.Close()
			lastErr = fmt.Errorf("%s: %w", url, err)
			logger.ForChain(c.Name).Warnf("RPC 不可用 %s: %v", url, err)
			continue
		}
		if id.Int64() != c.ChainID {
			rc.Close()
			lastErr = fmt.Errorf("%s: chain id mismatch: want %d, got %s", url, c.ChainID, id)
			continue
		}
		cl := NewClient(c, b, opts.Config)
		cl.closer = rc.Close
		return cl, nil
	}
	return nil, fmt.Errorf("evm: dial %s: %w", c.Name, lastErr)
}

// throttled 每次 RPC 调用前先过限速器
type throttled struct {
	b   Backend
	lim *rate.Limiter
}

// Throttle 给 Backend 加上 x/time/rate 限速
func Throttle(b Backend, rps float64, burst int) Backend {
	if burst <= 0 {
		burst = 1
	}
	return &throttled{b: b, lim: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (t *throttled) ChainID(ctx context.Context) (*big.Int, error) {
	if err := t.lim.Wait(ctx); err != nil {
		return nil, err
	}
	return t.b.ChainID(ctx)
}

func (t *throttled) BalanceAt(ctx context.Context, a common.Address, n *big.Int) (*big.Int, error) {
	if err := t.lim.Wait(ctx); err != nil {
		return nil, err
	}
	return t.b.BalanceAt(ctx, a, n)
}

func (t *throttled) PendingNonceAt(ctx context.Context, a common.Address) (uint64, error) {
	if err := t.lim.Wait(ctx); err != nil {
		return 0, err
	}
	return t.b.PendingNonceAt(ctx, a)
}

func (t *throttled) NonceAt(ctx context.Context, a common.Address, n *big.Int) (uint64, error) {
	if err := t.lim.Wait(ctx); err != nil {
		return 0, err
	}
	return t.b.NonceAt(ctx, a, n)
}

func (t *throttled) HeaderByNumber(ctx context.Context, n *big.Int) (*types.Header, error) {
	if err := t.lim.Wait(ctx); err != nil {
		return nil, err
	}
	return t.b.HeaderByNumber(ctx, n)
}

func (t *throttled) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if err := t.lim.Wait(ctx); err != nil {
		return nil, err
	}
	return t.b.SuggestGasPrice(ctx)
}

func (t *throttled) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	if err := t.lim.Wait(ctx); err != nil {
		return nil, err
	}
	return t.b.SuggestGasTipCap(ctx)
}

func (t *throttled) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if err := t.lim.Wait(ctx); err != nil {
		return 0, err
	}
	return t.b.EstimateGas(ctx, msg)
}

func (t *throttled) CallContract(ctx context.Context, msg ethereum.CallMsg, n *big.Int) ([]byte, error) {
	if err := t.lim.Wait(ctx); err != nil {
		return nil, err
	}
	return t.b.CallContract(ctx, msg, n)
}

func (t *throttled) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := t.lim.Wait(ctx); err != nil {
		return err
	}
	return t.b.SendTransaction(ctx, tx)
}

func (t *throttled) TransactionReceipt(ctx context.Context, h common.Hash) (*types.Receipt, error) {
	if err := t.lim.Wait(ctx); err != nil {
		return nil, err
	}
	return t.b.TransactionReceipt(ctx, h)
}

func (t *throttled) TransactionByHash(ctx context.Context, h common.Hash) (*types.Transaction, bool, error) {
	if err := t.lim.Wait(ctx); err != nil {
		return nil, false, err
	}
	return t.b.TransactionByHash(ctx, h)
}
