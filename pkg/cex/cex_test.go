package cex

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExchange struct {
	mu    sync.Mutex
	calls int
	steps []func() (*Withdrawal, error)
}

func (f *fakeExchange) Name() string { return "fake" }
func (f *fakeExchange) Network(chain string) (string, error) { return chain, nil }
func (f *fakeExchange) Balances(context.Context) ([]Balance, error) {
	return nil, nil
}
func (f *fakeExchange) DepositAddress(context.Context, string, string) (*DepositAddress, error) {
	return nil, ErrNotFound
}
func (f *fakeExchange) Withdraw(context.Context, WithdrawRequest) (string, error) { return "1", nil }
func (f *fakeExchange) Price(context.Context, string, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (f *fakeExchange) Withdrawal(context.Context, string) (*Withdrawal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i >= len(f.steps) {
		i = len(f.steps) - 1
	}
	return f.steps[i]()
}

func pending() (*Withdrawal, error) { return &Withdrawal{ID: "1", State: WithdrawalPending}, nil }
func notFound() (*Withdrawal, error) { return nil, ErrNotFound }
func broken() (*Withdrawal, error) { return nil, errors.New("502 bad gateway") }

func TestWaitWithdrawalCompletes(t *testing.T) {
	ex := &fakeExchange{steps: []func() (*Withdrawal, error){
		notFound, pending, broken,
		func() (*Withdrawal, error) {
			return &Withdrawal{ID: "1", TxID: "0xabc", State: WithdrawalCompleted}, nil
		},
	}}
	w, err := WaitWithdrawal(context.Background(), ex, "1", time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "0xabc", w.TxID)
	assert.Equal(t, 4, ex.calls)
}

func TestWaitWithdrawalFailedState(t *testing.T) {
	ex := &fakeExchange{steps: []func() (*Withdrawal, error){
		func() (*Withdrawal, error) {
			return &Withdrawal{ID: "1", State: WithdrawalFailed, Status: "rejected"}, nil
		},
	}}
	w, err := WaitWithdrawal(context.Background(), ex, "1", time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")
	assert.Equal(t, WithdrawalFailed, w.State)
}

func TestWaitWithdrawalGivesUpAfterRepeatedErrors(t *testing.T) {
	ex := &fakeExchange{steps: []func() (*Withdrawal, error){broken}}
	_, err := WaitWithdrawal(context.Background(), ex, "1", time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, maxPollFailures, ex.calls)
}

func TestWaitWithdrawalContextCancel(t *testing.T) {
	ex := &fakeExchange{steps: []func() (*Withdrawal, error){pending}}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := WaitWithdrawal(ctx, ex, "1", 5*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type mapSecrets map[string]string

func (m mapSecrets) GetString(key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func TestLoadCredentials(t *testing.T) {
	s := mapSecrets{
		"cex/okx/api_key":     "k",
		"cex/okx/secret":      "s",
		"cex/okx/passphrase":  "p",
		"cex/binance/api_key": "k",
	}
	c, err := LoadCredentials(s, "OKX")
	require.NoError(t, err)
	assert.Equal(t, Credentials{APIKey: "k", Secret: "s", Passphrase: "p"}, c)

	_, err = LoadCredentials(s, "binance")
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestResolveNetwork(t *testing.T) {
	defaults := map[string]string{"Arbitrum": "ARBITRUM", "Ethereum": "ETH"}
	overrides := map[string]string{"arbitrum": "ARB"}

	n, err := ResolveNetwork("Arbitrum", overrides, defaults)
	require.NoError(t, err)
	assert.Equal(t, "ARB", n)

	n, err = ResolveNetwork("ethereum", nil, defaults)
	require.NoError(t, err)
	assert.Equal(t, "ETH", n)

	n, err = ResolveNetwork("Sui", nil, defaults)
	require.NoError(t, err)
	assert.Equal(t, "SUI", n)

	_, err = ResolveNetwork("", nil, defaults)
	assert.ErrorIs(t, err, ErrUnknownNetwork)
}

func TestWithdrawalStateTerminal(t *testing.T) {
	assert.False(t, WithdrawalPending.Terminal())
	assert.True(t, WithdrawalCompleted.Terminal())
	assert.True(t, WithdrawalFailed.Terminal())
	assert.Equal(t, "completed", WithdrawalCompleted.String())
}

func TestHMAC(t *testing.T) {
	assert.Equal(t, "f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8",
		HMACHex("key", "The quick brown fox jumps over the lazy dog"))
	assert.Equal(t, "97yD9DBThCSxMpjmqm+xQ+9NWaFJRhdZl0edvC0aPNg=",
		HMACBase64("key", "The quick brown fox jumps over the lazy dog"))
}
