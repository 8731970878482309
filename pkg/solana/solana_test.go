package solana

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/blocto/solana-go-sdk/types"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3mt/web3mt/pkg/amount"
	"github.com/web3mt/web3mt/pkg/chain"
	"github.com/web3mt/web3mt/pkg/txflow"
)

type fakeBackend struct {
	mu        sync.Mutex
	balance   uint64
	tokenBal  uint64
	tokenErr  error
	blockhash int
	sendErrs  []error
	sent      []types.Transaction
	failed    bool
}

func (f *fakeBackend) GetBalance(context.Context, string) (uint64, error) { return f.balance, nil }

func (f *fakeBackend) TokenAccountBalance(context.Context, string) (uint64, error) {
	return f.tokenBal, f.tokenErr
}

func (f *fakeBackend) LatestBlockhash(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockhash++
	return base58.Encode(bytes.Repeat([]byte{byte(f.blockhash)}, 32)), nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx types.Transaction) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		return "", err
	}
	f.sent = append(f.sent, tx)
	return base58.Encode(tx.Signatures[0]), nil
}

func (f *fakeBackend) SignatureStatus(_ context.Context, sig string) (SigStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tx := range f.sent {
		if base58.Encode(tx.Signatures[0]) == sig {
			st := SigStatus{Found: true, Confirmed: true, Slot: 42}
			if f.failed {
				st.Err = "InstructionError"
			}
			return st, nil
		}
	}
	return SigStatus{}, nil
}

func testClient(t *testing.T, fb *fakeBackend) *Client {
	sol, err := chain.Default().Get("solana")
	require.NoError(t, err)
	return NewClient(sol, fb, Config{Flow: txflow.Options{
		MaxAttempts: 4, RetryDelay: time.Millisecond, PollInterval: time.Millisecond,
	}})
}

func testAccount(t *testing.T) types.Account {
	acct, err := AccountFromSeed(bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)
	return acct
}

func TestAccounts(t *testing.T) {
	acct := testAccount(t)
	require.NoError(t, ValidateAddress(acct.PublicKey.ToBase58()))

	again, err := AccountFromBase58(base58.Encode(acct.PrivateKey))
	require.NoError(t, err)
	assert.Equal(t, acct.PublicKey, again.PublicKey)

	_, err = AccountFromSeed([]byte{1, 2})
	assert.Error(t, err)
	assert.Error(t, ValidateAddress("not-base58!"))
}

func TestBalance(t *testing.T) {
	cl := testClient(t, &fakeBackend{balance: 1_500_000_000, tokenBal: 2_500_000})
	acct := testAccount(t)

	bal, err := cl.Balance(context.Background(), acct.PublicKey.ToBase58())
	require.NoError(t, err)
	assert.Equal(t, "1.5 SOL", bal.String())

	usdc, _ := cl.Chain().Token("USDC")
	tb, err := cl.TokenBalance(context.Background(), usdc, acct.PublicKey.ToBase58())
	require.NoError(t, err)
	assert.Equal(t, "2.5 USDC", tb.String())
}

func TestTokenBalanceMissingAccount(t *testing.T) {
	cl := testClient(t, &fakeBackend{tokenErr: errors.New("rpc error: Invalid param: could not find account")})
	usdc, _ := cl.Chain().Token("USDC")
	tb, err := cl.TokenBalance(context.Background(), usdc, testAccount(t).PublicKey.ToBase58())
	require.NoError(t, err)
	assert.True(t, tb.IsZero())
}

func TestTransfer(t *testing.T) {
	fb := &fakeBackend{balance: 2_000_000_000}
	cl := testClient(t, fb)
	from := testAccount(t)
	to, _ := AccountFromSeed(bytes.Repeat([]byte{2}, 32))

	value, _ := amount.Parse("0.25", 9, "SOL")
	rc, err := cl.Transfer(context.Background(), from, to.PublicKey.ToBase58(), value)
	require.NoError(t, err)
	require.Len(t, fb.sent, 1)

	tx := fb.sent[0]
	msg, err := tx.Message.Serialize()
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(from.PublicKey.Bytes(), msg, tx.Signatures[0]))
	assert.Equal(t, base58.Encode(tx.Signatures[0]), rc.Signature)
	assert.Equal(t, uint64(42), rc.Slot)
	assert.Equal(t, "0.000005 SOL", rc.Fee.String())
}

func TestTransferExpiredBlockhashRebuilds(t *testing.T) {
	fb := &fakeBackend{balance: 2_000_000_000, sendErrs: []error{errors.New("Transaction simulation failed: Blockhash not found")}}
	cl := testClient(t, fb)
	to, _ := AccountFromSeed(bytes.Repeat([]byte{2}, 32))

	value, _ := amount.Parse("0.1", 9, "SOL")
	_, err := cl.Transfer(context.Background(), testAccount(t), to.PublicKey.ToBase58(), value)
	require.NoError(t, err)
	assert.Equal(t, 2, fb.blockhash)
}

func TestTransferInsufficientFunds(t *testing.T) {
	fb := &fakeBackend{balance: 1000}
	cl := testClient(t, fb)
	to, _ := AccountFromSeed(bytes.Repeat([]byte{2}, 32))

	value, _ := amount.Parse("0.1", 9, "SOL")
	_, err := cl.Transfer(context.Background(), testAccount(t), to.PublicKey.ToBase58(), value)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Empty(t, fb.sent)
}

func TestTransferFailedOnChain(t *testing.T) {
	fb := &fakeBackend{balance: 2_000_000_000, failed: true}
	cl := testClient(t, fb)
	to, _ := AccountFromSeed(bytes.Repeat([]byte{2}, 32))

	value, _ := amount.Parse("0.1", 9, "SOL")
	rc, err := cl.Transfer(context.Background(), testAccount(t), to.PublicKey.ToBase58(), value)
	assert.ErrorIs(t, err, txflow.ErrReverted)
	require.NotNil(t, rc)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, txflow.ActionRefreshNonce, Classify(errors.New("Blockhash not found")))
	assert.Equal(t, txflow.ActionKnown, Classify(errors.New("This transaction has already been processed")))
	assert.Equal(t, txflow.ActionFail, Classify(errors.New("Transfer: insufficient lamports 100, need 5000")))
	assert.Equal(t, txflow.ActionRetry, Classify(errors.New("503 Service Unavailable")))
}
