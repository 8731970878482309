// Package portfolio 汇总多个 profile 在多条链上的余额，并按 USD 统计。
package portfolio

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/web3mt/web3mt/internal/clients"
	"github.com/web3mt/web3mt/internal/store"
	"github.com/web3mt/web3mt/pkg/amount"
	"github.com/web3mt/web3mt/pkg/chain"
	"github.com/web3mt/web3mt/pkg/logger"
)

// Target 要查询的链和代币；Tokens 为空时只查原生币
type Target struct {
	Chain  string   `yaml:"chain" json:"chain"`
	Tokens []string `yaml:"tokens" json:"tokens"`
}

// DefaultTargets 每条内置链的原生币 + 登记的稳定币
func DefaultTargets(reg *chain.Registry) []Target {
	var out []Target
	for _, c := range reg.All() {
		if c.Testnet {
			continue
		}
		t := Target{Chain: c.Name, Tokens: []string{c.Native.Symbol}}
		for sym := range c.Tokens {
			t.Tokens = append(t.Tokens, sym)
		}
		sort.Strings(t.Tokens[1:])
		out = append(out, t)
	}
	return out
}

// Holder 一个 profile 及其各链账户
type Holder struct {
	ProfileID string
	Proxy     string
	Accounts  map[chain.Kind]clients.Account
}

// BalanceSource clients.Set 满足该接口
type BalanceSource interface {
	Balance(ctx context.Context, c *chain.Chain, proxy string, acct clients.Account, token amount.Token) (amount.Amount, error)
}

// Pricer USD 价格来源
type Pricer interface {
	USD(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Entry 单个 (profile, chain, token) 的结果。Err 不为空时 Amount 无意义
type Entry struct {
	ProfileID string
	Chain     string
	Token     string
	Address   string
	Amount    amount.Amount
	USD       decimal.Decimal
	Priced    bool
	Err       error
}

// Aggregator 并发查询余额
type Aggregator struct {
	Chains      *chain.Registry
	Balances    BalanceSource
	Prices      Pricer
	Concurrency int
	// Observe 每次余额查询后回调（指标）
	Observe func(chain string, err error)
}

type job struct {
	holder Holder
	chain  *chain.Chain
	token  amount.Token
	acct   clients.Account
}

// Collect profile × chain × token 扇出查询。单项失败记录在 Entry.Err，不影响其他项；
// 只有目标配置错误或 ctx 取消时返回 error。
func (a *Aggregator) Collect(ctx context.Context, holders []Holder, targets []Target) (*Report, error) {
	jobs, err := a.plan(holders, targets)
	if err != nil {
		return nil, err
	}
	limit := a.Concurrency
	if limit <= 0 {
		limit = 4
	}

	entries := make([]Entry, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, j := range jobs {
		g.Go(func() error {
			entries[i] = a.fetch(gctx, j)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	a.price(ctx, entries)
	return newReport(entries), nil
}

func (a *Aggregator) plan(holders []Holder, targets []Target) ([]job, error) {
	var jobs []job
	for _, t := range targets {
		c, err := a.Chains.Get(t.Chain)
		if err != nil {
			return nil, err
		}
		symbols := t.Tokens
		if len(symbols) == 0 {
			symbols = []string{c.Native.Symbol}
		}
		tokens := make([]amount.Token, 0, len(symbols))
		for _, sym := range symbols {
			tok, ok := c.Token(sym)
			if !ok {
				return nil, fmt.Errorf("portfolio: unknown token %s on %s", sym, c.Name)
			}
			tokens = append(tokens, tok)
		}
		for _, h := range holders {
			acct, ok := h.Accounts[c.Kind]
			if !ok {
				continue
			}
			for _, tok := range tokens {
				jobs = append(jobs, job{holder: h, chain: c, token: tok, acct: acct})
			}
		}
	}
	return jobs, nil
}

func (a *Aggregator) fetch(ctx context.Context, j job) Entry {
	e := Entry{ProfileID: j.holder.ProfileID, Chain: j.chain.Name, Token: j.token.Symbol, Address: j.acct.Address}
	if addr, err := clients.AddressOn(j.chain, j.acct); err == nil {
		e.Address = addr
	}
	e.Amount, e.Err = a.Balances.Balance(ctx, j.chain, j.holder.Proxy, j.acct, j.token)
	if a.Observe != nil {
		a.Observe(j.chain.Name, e.Err)
	}
	if e.Err != nil && ctx.Err() == nil {
		logger.ForProfile(j.holder.ProfileID).WithField(logger.FieldChain, j.chain.Name).
			Warnf("查询 %s 余额失败: %v", j.token.Symbol, e.Err)
	}
	return e
}

// price 每个币种只查一次价格
func (a *Aggregator) price(ctx context.Context, entries []Entry) {
	if a.Prices == nil {
		return
	}
	prices := map[string]decimal.Decimal{}
	for i := range entries {
		e := &entries[i]
		if e.Err != nil || e.Amount.IsZero() {
			continue
		}
		sym := strings.ToUpper(e.Token)
		p, ok := prices[sym]
		if !ok {
			var err error
			p, err = a.Prices.USD(ctx, sym)
			if err != nil {
				logger.Debugf("跳过 %s 估值: %v", sym, err)
				continue
			}
			prices[sym] = p
		}
		e.USD = e.Amount.Decimal().Mul(p)
		e.Priced = true
	}
}

// Totals 汇总
type Totals struct {
	Amount decimal.Decimal
	USD    decimal.Decimal
}

// Report 汇总结果
type Report struct {
	At        time.Time
	Entries   []Entry
	ByToken   map[string]Totals
	ByChain   map[string]decimal.Decimal
	ByProfile map[string]decimal.Decimal
	Total     decimal.Decimal
	Failed    int
}

func newReport(entries []Entry) *Report {
	r := &Report{
		At:        time.Now(),
		Entries:   entries,
		ByToken:   map[string]Totals{},
		ByChain:   map[string]decimal.Decimal{},
		ByProfile: map[string]decimal.Decimal{},
		Total:     decimal.Zero,
	}
	for _, e := range entries {
		if e.Err != nil {
			r.Failed++
			continue
		}
		t := r.ByToken[e.Token]
		t.Amount = t.Amount.Add(e.Amount.Decimal())
		t.USD = t.USD.Add(e.USD)
		r.ByToken[e.Token] = t
		r.ByChain[e.Chain] = r.ByChain[e.Chain].Add(e.USD)
		r.ByProfile[e.ProfileID] = r.ByProfile[e.ProfileID].Add(e.USD)
		r.Total = r.Total.Add(e.USD)
	}
	sort.SliceStable(r.Entries, func(i, j int) bool {
		a, b := r.Entries[i], r.Entries[j]
		if a.ProfileID != b.ProfileID {
			return a.ProfileID < b.ProfileID
		}
		if a.Chain != b.Chain {
			return a.Chain < b.Chain
		}
		return a.Token < b.Token
	})
	return r
}

// Snapshots 成功的条目转成落库快照
func (r *Report) Snapshots() []store.BalanceSnapshot {
	out := make([]store.BalanceSnapshot, 0, len(r.Entries))
	for _, e := range r.Entries {
		if e.Err != nil {
			continue
		}
		out = append(out, store.BalanceSnapshot{
			ProfileID: e.ProfileID,
			Chain:     e.Chain,
			Token:     e.Token,
			Amount:    e.Amount.Decimal(),
			USD:       e.USD,
			At:        r.At,
		})
	}
	return out
}

// SnapshotWriter store.Store 满足该接口
type SnapshotWriter interface {
	InsertBalanceSnapshots(ctx context.Context, snaps []store.BalanceSnapshot) error
}

// Save 持久化快照
func (r *Report) Save(ctx context.Context, w SnapshotWriter) error {
	return w.InsertBalanceSnapshots(ctx, r.Snapshots())
}
