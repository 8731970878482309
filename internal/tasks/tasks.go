// Package tasks 按 profile 执行的自动化任务：转账、归集、提币、跨链、自转。
package tasks

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/web3mt/web3mt/internal/bridge"
	"github.com/web3mt/web3mt/internal/clients"
	"github.com/web3mt/web3mt/internal/store"
	"github.com/web3mt/web3mt/pkg/amount"
	"github.com/web3mt/web3mt/pkg/cex"
	"github.com/web3mt/web3mt/pkg/chain"
	"github.com/web3mt/web3mt/pkg/evm"
	"github.com/web3mt/web3mt/pkg/persistence"
)

// Task 一个可配置的步骤
type Task interface {
	Name() string
	Run(ctx context.Context, env *Env) error
}

// Registry 任务注册表
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]Task
}

// NewRegistry 空注册表
func NewRegistry() *Registry {
	return &Registry{tasks: map[string]Task{}}
}

// Register 重复注册 panic
func (r *Registry) Register(t Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := strings.ToLower(t.Name())
	if _, exists := r.tasks[name]; exists {
		panic(fmt.Errorf("task %s already registered", name))
	}
	r.tasks[name] = t
}

// Get 按名称查找
func (r *Registry) Get(name string) (Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown task %q", name)
	}
	return t, nil
}

// Names 已注册的任务名（排序）
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tasks))
	for n := range r.tasks {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Builtin 内置任务
func Builtin() *Registry {
	r := NewRegistry()
	r.Register(Transfer{})
	r.Register(CollectToCEX{})
	r.Register(CEXWithdraw{})
	r.Register(Bridge{})
	r.Register(SelfTransfer{})
	r.Register(Sleep{})
	return r
}

// EVMSender bridge 任务需要的 EVM 能力，*evm.Client 满足该接口
type EVMSender interface {
	EnsureAllowance(ctx context.Context, from *ecdsa.PrivateKey, token amount.Token, spender common.Address, need amount.Amount, infinite bool) (*evm.Receipt, error)
	Send(ctx context.Context, req evm.TxRequest) (*evm.Receipt, error)
}

// ChainClients 跨链操作
type ChainClients interface {
	Balance(ctx context.Context, c *chain.Chain, proxy string, acct clients.Account, token amount.Token) (amount.Amount, error)
	FeeReserve(ctx context.Context, c *chain.Chain, proxy string, token amount.Token) (amount.Amount, error)
	Transfer(ctx context.Context, req clients.TransferRequest) (*clients.Tx, error)
	EVMSender(ctx context.Context, c *chain.Chain, proxy string) (EVMSender, error)
}

type setAdapter struct{ *clients.Set }

func (a setAdapter) EVMSender(ctx context.Context, c *chain.Chain, proxy string) (EVMSender, error) {
	return a.Set.EVM(ctx, c, proxy)
}

// FromSet 把 clients.Set 适配为 ChainClients
func FromSet(s *clients.Set) ChainClients { return setAdapter{s} }

// ProfileStore 任务用到的存储操作，*store.Store 满足该接口
type ProfileStore interface {
	GetProfile(ctx context.Context, id string) (*store.Profile, error)
	UpdateProfile(ctx context.Context, id string, u store.ProfileUpdate) (*store.Profile, error)
	Wallets(ctx context.Context, profileID string) ([]store.Wallet, error)
	Wallet(ctx context.Context, profileID string, kind chain.Kind) (store.Wallet, error)
	PrivateKey(ctx context.Context, profileID string, kind chain.Kind) (string, error)
}

// Env 任务执行上下文，每个 (profile, step) 一份
type Env struct {
	RunID string
	// StepKey 幂等键，同一个 run 内每个步骤唯一
	StepKey   string
	Profile   *store.Profile
	Wallets   map[chain.Kind]clients.Account
	Chains    *chain.Registry
	Clients   ChainClients
	Exchanges map[string]cex.Exchange
	Store     ProfileStore
	Bridge    *bridge.Client
	Idem      persistence.Service
	Params    Params
	Log       *logrus.Entry
	Rand      *rand.Rand

	results []string
}

// Record 追加一条结果（写入 task_runs.result）
func (e *Env) Record(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	e.results = append(e.results, msg)
	e.Log.Info(msg)
}

// Result 所有记录
func (e *Env) Result() string { return strings.Join(e.results, "; ") }

// Account 当前 profile 在链上的账户（含私钥）
func (e *Env) Account(c *chain.Chain) (clients.Account, error) {
	acct, ok := e.Wallets[c.Kind]
	if !ok {
		return clients.Account{}, fmt.Errorf("profile %s has no %s wallet", e.Profile.ID, c.Kind)
	}
	addr, err := clients.AddressOn(c, acct)
	if err != nil {
		return clients.Account{}, err
	}
	acct.Address = addr
	return acct, nil
}

// Exchange 按名称取交易所客户端
func (e *Env) Exchange(name string) (cex.Exchange, error) {
	ex, ok := e.Exchanges[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s (not enabled)", cex.ErrUnsupported, name)
	}
	return ex, nil
}

// Chain 按名称或别名取链
func (e *Env) Chain(name string) (*chain.Chain, error) {
	if name == "" {
		return nil, fmt.Errorf("chain is required")
	}
	return e.Chains.Get(name)
}
