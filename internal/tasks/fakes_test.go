package tasks

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/web3mt/web3mt/internal/clients"
	"github.com/web3mt/web3mt/internal/store"
	"github.com/web3mt/web3mt/pkg/amount"
	"github.com/web3mt/web3mt/pkg/cex"
	"github.com/web3mt/web3mt/pkg/chain"
	"github.com/web3mt/web3mt/pkg/evm"
	"github.com/web3mt/web3mt/pkg/persistence"
)

const testEVMKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type fakeClients struct {
	mu        sync.Mutex
	balances  map[string]amount.Amount
	transfers []clients.TransferRequest
	sender    *fakeSender
	failWith  error
}

func balanceKey(c *chain.Chain, symbol, addr string) string {
	return c.Name + "/" + strings.ToUpper(symbol) + "/" + strings.ToLower(addr)
}

func (f *fakeClients) set(c *chain.Chain, t amount.Token, addr, v string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balances == nil {
		f.balances = map[string]amount.Amount{}
	}
	a, err := amount.Parse(v, t.Decimals, t.Symbol)
	if err != nil {
		panic(err)
	}
	f.balances[balanceKey(c, t.Symbol, addr)] = a
}

func (f *fakeClients) Balance(_ context.Context, c *chain.Chain, _ string, acct clients.Account, t amount.Token) (amount.Amount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.balances[balanceKey(c, t.Symbol, acct.Address)]; ok {
		return a, nil
	}
	return amount.Zero(t.Decimals, t.Symbol), nil
}

func (f *fakeClients) FeeReserve(_ context.Context, _ *chain.Chain, _ string, t amount.Token) (amount.Amount, error) {
	return amount.Zero(t.Decimals, t.Symbol), nil
}

func (f *fakeClients) Transfer(_ context.Context, req clients.TransferRequest) (*clients.Tx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.transfers = append(f.transfers, req)
	return &clients.Tx{Hash: fmt.Sprintf("0xtx%d", len(f.transfers))}, nil
}

func (f *fakeClients) EVMSender(context.Context, *chain.Chain, string) (EVMSender, error) {
	if f.sender == nil {
		return nil, fmt.Errorf("no sender")
	}
	return f.sender, nil
}

type fakeSender struct {
	approvals []amount.Amount
	sent      []evm.TxRequest
}

func (s *fakeSender) EnsureAllowance(_ context.Context, _ *ecdsa.PrivateKey, _ amount.Token, _ common.Address, need amount.Amount, _ bool) (*evm.Receipt, error) {
	s.approvals = append(s.approvals, need)
	return &evm.Receipt{}, nil
}

func (s *fakeSender) Send(_ context.Context, req evm.TxRequest) (*evm.Receipt, error) {
	s.sent = append(s.sent, req)
	return &evm.Receipt{URL: "https://arbiscan.io/tx/0xbridge"}, nil
}

type fakeStore struct {
	mu       sync.Mutex
	profiles map[string]*store.Profile
	wallets  map[string][]store.Wallet
	keys     map[string]string
	updates  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{profiles: map[string]*store.Profile{}, wallets: map[string][]store.Wallet{}, keys: map[string]string{}}
}

func (s *fakeStore) addProfile(id string, idx uint32, ws ...store.Wallet) *store.Profile {
	p := &store.Profile{ID: id, Index: idx, Deposits: map[string]string{}}
	s.profiles[id] = p
	for _, w := range ws {
		w.ProfileID = id
		s.wallets[id] = append(s.wallets[id], w)
		s.keys[id+"/"+string(w.Kind)] = testEVMKey
	}
	return p
}

func (s *fakeStore) GetProfile(_ context.Context, id string) (*store.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *fakeStore) UpdateProfile(_ context.Context, id string, u store.ProfileUpdate) (*store.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	s.updates++
	deps := map[string]string{}
	for k, v := range p.Deposits {
		deps[k] = v
	}
	for k, v := range u.Deposits {
		deps[k] = v
	}
	cp := *p
	cp.Deposits = deps
	s.profiles[id] = &cp
	out := cp
	return &out, nil
}

func (s *fakeStore) Wallets(_ context.Context, profileID string) ([]store.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.Wallet(nil), s.wallets[profileID]...), nil
}

func (s *fakeStore) Wallet(_ context.Context, profileID string, kind chain.Kind) (store.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.wallets[profileID] {
		if w.Kind == kind {
			return w, nil
		}
	}
	return store.Wallet{}, store.ErrNotFound
}

func (s *fakeStore) PrivateKey(_ context.Context, profileID string, kind chain.Kind) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[profileID+"/"+string(kind)]
	if !ok {
		return "", store.ErrNotFound
	}
	return k, nil
}

type fakeExchange struct {
	mu           sync.Mutex
	name         string
	networks     map[string]string
	deposit      cex.DepositAddress
	depositCalls int
	free         map[string]decimal.Decimal
	withdrawals  []cex.WithdrawRequest
	state        cex.WithdrawalState
}

func (e *fakeExchange) Name() string { return e.name }

func (e *fakeExchange) Network(c string) (string, error) {
	n, ok := e.networks[c]
	if !ok {
		return "", cex.ErrUnknownNetwork
	}
	return n, nil
}

func (e *fakeExchange) Balances(context.Context) ([]cex.Balance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []cex.Balance
	for coin, v := range e.free {
		out = append(out, cex.Balance{Coin: coin, Free: v})
	}
	return out, nil
}

func (e *fakeExchange) DepositAddress(_ context.Context, coin, network string) (*cex.DepositAddress, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.depositCalls++
	da := e.deposit
	da.Coin, da.Network = coin, network
	return &da, nil
}

func (e *fakeExchange) Withdraw(_ context.Context, req cex.WithdrawRequest) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.withdrawals = append(e.withdrawals, req)
	return fmt.Sprintf("w-%d", len(e.withdrawals)), nil
}

func (e *fakeExchange) Withdrawal(_ context.Context, id string) (*cex.Withdrawal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return &cex.Withdrawal{ID: id, State: e.state, TxID: "0xwd"}, nil
}

func (e *fakeExchange) Price(context.Context, string, string) (decimal.Decimal, error) {
	return decimal.Zero, cex.ErrNotFound
}

type fakeRecorder struct {
	mu   sync.Mutex
	runs []store.TaskRun
}

func (r *fakeRecorder) StartTaskRun(_ context.Context, runID, task, profileID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, store.TaskRun{ID: int64(len(r.runs) + 1), RunID: runID, Task: task, ProfileID: profileID})
	return int64(len(r.runs)), nil
}

func (r *fakeRecorder) FinishTaskRun(_ context.Context, id int64, runErr error, result string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ok := runErr == nil
	r.runs[id-1].OK = &ok
	r.runs[id-1].Result = result
	if runErr != nil {
		r.runs[id-1].Error = runErr.Error()
	}
	return nil
}

func (r *fakeRecorder) LastSuccess(_ context.Context, task, profileID string) (*store.TaskRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.runs) - 1; i >= 0; i-- {
		run := r.runs[i]
		if run.Task == task && run.ProfileID == profileID && run.OK != nil && *run.OK {
			return &run, nil
		}
	}
	return nil, store.ErrNotFound
}

type fixture struct {
	chains  *chain.Registry
	clients *fakeClients
	store   *fakeStore
	okx     *fakeExchange
	idem    persistence.Service
}

const (
	addrP1  = "0x00000000000000000000000000000000000000a1"
	addrP2  = "0x00000000000000000000000000000000000000a2"
	addrCEX = "0x00000000000000000000000000000000000000cc"
)

func newFixture(dir string) *fixture {
	st := newFakeStore()
	st.addProfile("p001", 1, store.Wallet{Kind: chain.KindEVM, Address: addrP1})
	st.addProfile("p002", 2, store.Wallet{Kind: chain.KindEVM, Address: addrP2})
	return &fixture{
		chains:  chain.Default(),
		clients: &fakeClients{sender: &fakeSender{}},
		store:   st,
		okx: &fakeExchange{
			name:     "okx",
			networks: map[string]string{"Arbitrum": "Arbitrum One"},
			deposit:  cex.DepositAddress{Address: addrCEX},
			free:     map[string]decimal.Decimal{},
			state:    cex.WithdrawalCompleted,
		},
		idem: persistence.NewJSONFileService(dir),
	}
}

func (f *fixture) deps() *Deps {
	return &Deps{
		Chains:    f.chains,
		Clients:   f.clients,
		Exchanges: map[string]cex.Exchange{"okx": f.okx},
		Store:     f.store,
		Idem:      f.idem,
	}
}

func (f *fixture) env(profileID, stepKey string, params Params) *Env {
	p, err := f.store.GetProfile(context.Background(), profileID)
	if err != nil {
		panic(err)
	}
	accts, err := f.deps().Accounts(context.Background(), p)
	if err != nil {
		panic(err)
	}
	return &Env{
		RunID:     "run-1",
		StepKey:   stepKey,
		Profile:   p,
		Wallets:   accts,
		Chains:    f.chains,
		Clients:   f.clients,
		Exchanges: map[string]cex.Exchange{"okx": f.okx},
		Store:     f.store,
		Idem:      f.idem,
		Params:    params,
		Log:       quietLog(),
		Rand:      rand.New(rand.NewSource(1)),
	}
}
