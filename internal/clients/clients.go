// Package clients 按 (链, 代理) 缓存各链客户端，并提供跨链统一的余额查询和转账。
package clients

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/web3mt/web3mt/pkg/aptos"
	"github.com/web3mt/web3mt/pkg/btc"
	"github.com/web3mt/web3mt/pkg/chain"
	"github.com/web3mt/web3mt/pkg/evm"
	"github.com/web3mt/web3mt/pkg/httpx"
	"github.com/web3mt/web3mt/pkg/monero"
	"github.com/web3mt/web3mt/pkg/solana"
	"github.com/web3mt/web3mt/pkg/tron"
	"github.com/web3mt/web3mt/pkg/txflow"
)

// Options 客户端公共参数
type Options struct {
	Timeout time.Duration
	// RPS 每个 EVM RPC 的请求上限
	RPS   float64
	Burst int
	Flow  txflow.Options
	EVM   evm.Config
	Aptos aptos.Config
	Tron  tron.Config
	BTC   btc.Config
}

type cacheKey struct {
	chain string
	proxy string
}

// Set 各链客户端的懒加载缓存，并发安全
type Set struct {
	opts Options

	mu      sync.Mutex
	evms    map[cacheKey]*evm.Client
	aptoses map[cacheKey]*aptos.Client
	trons   map[cacheKey]*tron.Client
	solanas map[cacheKey]*solana.Client
	btcs    map[cacheKey]*btc.Client
	moneros map[cacheKey]*monero.Client
}

// New 创建
func New(opts Options) *Set {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Set{
		opts:    opts,
		evms:    map[cacheKey]*evm.Client{},
		aptoses: map[cacheKey]*aptos.Client{},
		trons:   map[cacheKey]*tron.Client{},
		solanas: map[cacheKey]*solana.Client{},
		btcs:    map[cacheKey]*btc.Client{},
		moneros: map[cacheKey]*monero.Client{},
	}
}

func (s *Set) httpOptions(proxy string) httpx.Options {
	return httpx.Options{Timeout: s.opts.Timeout, Proxy: proxy}
}

func checkKind(c *chain.Chain, kind chain.Kind) error {
	if c == nil {
		return fmt.Errorf("clients: nil chain")
	}
	if c.Kind != kind {
		return fmt.Errorf("clients: %s is %s, not %s", c.Name, c.Kind, kind)
	}
	return nil
}

// EVM 拨号后缓存
func (s *Set) EVM(ctx context.Context, c *chain.Chain, proxy string) (*evm.Client, error) {
	if err := checkKind(c, chain.KindEVM); err != nil {
		return nil, err
	}
	k := cacheKey{c.Name, proxy}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cl, ok := s.evms[k]; ok {
		return cl, nil
	}
	cfg := s.opts.EVM
	cfg.Flow = s.opts.Flow
	cl, err := evm.Dial(ctx, c, evm.DialOptions{
		Proxy:   proxy,
		Timeout: s.opts.Timeout,
		RPS:     s.opts.RPS,
		Burst:   s.opts.Burst,
		Config:  cfg,
	})
	if err != nil {
		return nil, err
	}
	s.evms[k] = cl
	return cl, nil
}

// Aptos REST 客户端
func (s *Set) Aptos(c *chain.Chain, proxy string) (*aptos.Client, error) {
	if err := checkKind(c, chain.KindAptos); err != nil {
		return nil, err
	}
	k := cacheKey{c.Name, proxy}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cl, ok := s.aptoses[k]; ok {
		return cl, nil
	}
	cfg := s.opts.Aptos
	cfg.Flow = s.opts.Flow
	cl, err := aptos.NewClient(c, s.httpOptions(proxy), cfg)
	if err != nil {
		return nil, err
	}
	s.aptoses[k] = cl
	return cl, nil
}

// Tron HTTP 客户端
func (s *Set) Tron(c *chain.Chain, proxy string) (*tron.Client, error) {
	if err := checkKind(c, chain.KindTron); err != nil {
		return nil, err
	}
	k := cacheKey{c.Name, proxy}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cl, ok := s.trons[k]; ok {
		return cl, nil
	}
	cfg := s.opts.Tron
	cfg.Flow = s.opts.Flow
	cl, err := tron.NewClient(c, s.httpOptions(proxy), cfg)
	if err != nil {
		return nil, err
	}
	s.trons[k] = cl
	return cl, nil
}

// Solana RPC 客户端
func (s *Set) Solana(c *chain.Chain, proxy string) (*solana.Client, error) {
	if err := checkKind(c, chain.KindSolana); err != nil {
		return nil, err
	}
	k := cacheKey{c.Name, proxy}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cl, ok := s.solanas[k]; ok {
		return cl, nil
	}
	cl, err := solana.Dial(c, proxy, solana.Config{Flow: s.opts.Flow})
	if err != nil {
		return nil, err
	}
	s.solanas[k] = cl
	return cl, nil
}

// BitcoinNetwork 链对应的地址参数
func BitcoinNetwork(c *chain.Chain) (btc.Network, error) {
	if c.Testnet {
		return btc.NetworkFor("testnet")
	}
	return btc.NetworkFor(c.Name)
}

// Bitcoin Esplora 客户端（Bitcoin / Litecoin）
func (s *Set) Bitcoin(c *chain.Chain, proxy string) (*btc.Client, error) {
	if err := checkKind(c, chain.KindBitcoin); err != nil {
		return nil, err
	}
	net, err := BitcoinNetwork(c)
	if err != nil {
		return nil, err
	}
	k := cacheKey{c.Name, proxy}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cl, ok := s.btcs[k]; ok {
		return cl, nil
	}
	cfg := s.opts.BTC
	cfg.Flow = s.opts.Flow
	cl, err := btc.NewClient(c, net, s.httpOptions(proxy), cfg)
	if err != nil {
		return nil, err
	}
	s.btcs[k] = cl
	return cl, nil
}

// Monero wallet-rpc 客户端。wallet-rpc 一般在本机，不走代理
func (s *Set) Monero(c *chain.Chain) (*monero.Client, error) {
	if err := checkKind(c, chain.KindMonero); err != nil {
		return nil, err
	}
	k := cacheKey{chain: c.Name}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cl, ok := s.moneros[k]; ok {
		return cl, nil
	}
	cl, err := monero.NewClient(c, httpx.Options{Timeout: s.opts.Timeout})
	if err != nil {
		return nil, err
	}
	s.moneros[k] = cl
	return cl, nil
}
