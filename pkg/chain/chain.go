// Package chain 链描述符与注册表。
package chain

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/web3mt/web3mt/pkg/amount"
)

// Kind 链类型，决定使用哪个客户端
type Kind string

const (
	KindEVM     Kind = "evm"
	KindAptos   Kind = "aptos"
	KindTron    Kind = "tron"
	KindSolana  Kind = "solana"
	KindBitcoin Kind = "bitcoin"
	KindMonero  Kind = "monero"
)

// Kinds 所有支持的链类型
var Kinds = []Kind{KindEVM, KindAptos, KindTron, KindSolana, KindBitcoin, KindMonero}

// ParseKind 解析链类型
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown chain kind: %q", s)
}

// Chain 链描述
type Chain struct {
	Name     string
	Kind     Kind
	ChainID  int64 // 仅 EVM
	Native   amount.Token
	RPCs     []string
	Explorer string // 不带结尾斜杠
	EIP1559  bool
	Aliases  []string
	// Tokens 按大写 symbol 索引
	Tokens map[string]amount.Token
	// Testnet 标记测试网（bitcoin 类用于选择地址参数）
	Testnet bool
}

// RPC 返回首选 RPC
func (c *Chain) RPC() string {
	if len(c.RPCs) == 0 {
		return ""
	}
	return c.RPCs[0]
}

// Token 按 symbol 查找代币；原生币 symbol 返回 Native
func (c *Chain) Token(symbol string) (amount.Token, bool) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == strings.ToUpper(c.Native.Symbol) {
		return c.Native, true
	}
	t, ok := c.Tokens[s]
	return t, ok
}

// TxURL 浏览器交易链接
func (c *Chain) TxURL(hash string) string {
	if c.Explorer == "" {
		return hash
	}
	switch c.Kind {
	case KindTron:
		return c.Explorer + "/#/transaction/" + strings.TrimPrefix(hash, "0x")
	case KindAptos:
		return c.Explorer + "/txn/" + hash
	}
	return c.Explorer + "/tx/" + hash
}

// AddressURL 浏览器地址链接
func (c *Chain) AddressURL(addr string) string {
	if c.Explorer == "" {
		return addr
	}
	switch c.Kind {
	case KindTron:
		return c.Explorer + "/#/address/" + addr
	case KindAptos:
		return c.Explorer + "/account/" + addr
	case KindSolana:
		return c.Explorer + "/account/" + addr
	}
	return c.Explorer + "/address/" + addr
}

func (c *Chain) String() string { return c.Name }

// Registry 链注册表（并发安全）
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]*Chain
	byAlias map[string]*Chain
	byID    map[int64]*Chain
}

// NewRegistry 空注册表
func NewRegistry() *Registry {
	return &Registry{
		byName:  make(map[string]*Chain),
		byAlias: make(map[string]*Chain),
		byID:    make(map[int64]*Chain),
	}
}

func key(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// Register 注册链；同名覆盖
func (r *Registry) Register(c *Chain) error {
	if c == nil || strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("chain: name is required")
	}
	if _, err := ParseKind(string(c.Kind)); err != nil {
		return err
	}
	if c.Kind == KindEVM && c.ChainID <= 0 {
		return fmt.Errorf("chain %s: evm chain id is required", c.Name)
	}
	if c.Tokens == nil {
		c.Tokens = map[string]amount.Token{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[key(c.Name)] = c
	for _, a := range c.Aliases {
		r.byAlias[key(a)] = c
	}
	if c.Kind == KindEVM {
		r.byID[c.ChainID] = c
	}
	return nil
}

// Get 按名称或别名查找（大小写不敏感）
func (r *Registry) Get(name string) (*Chain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k := key(name)
	if c, ok := r.byName[k]; ok {
		return c, nil
	}
	if c, ok := r.byAlias[k]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("chain: unknown chain %q", name)
}

// ByChainID 按 EVM chain id 查找
func (r *Registry) ByChainID(id int64) (*Chain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.byID[id]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("chain: unknown chain id %d", id)
}

// All 按名称排序返回所有链
func (r *Registry) All() []*Chain {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Chain, 0, len(r.byName))
	for _, c := range r.byName {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// OfKind 返回某类链
func (r *Registry) OfKind(kind Kind) []*Chain {
	var out []*Chain
	for _, c := range r.All() {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// OverrideRPC 用配置里的 RPC 覆盖默认值
func (r *Registry) OverrideRPC(name string, urls []string) error {
	c, err := r.Get(name)
	if err != nil {
		return err
	}
	var clean []string
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			clean = append(clean, u)
		}
	}
	if len(clean) == 0 {
		return fmt.Errorf("chain %s: empty rpc override", name)
	}
	r.mu.Lock()
	c.RPCs = clean
	r.mu.Unlock()
	return nil
}

// AddToken 给链追加代币
func (r *Registry) AddToken(name string, t amount.Token) error {
	c, err := r.Get(name)
	if err != nil {
		return err
	}
	if t.Symbol == "" {
		return fmt.Errorf("chain %s: token symbol is required", name)
	}
	r.mu.Lock()
	c.Tokens[strings.ToUpper(t.Symbol)] = t
	r.mu.Unlock()
	return nil
}
