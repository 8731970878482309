package txflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRules = []Rule{
	{Contains: []string{"nonce too low"}, Action: ActionCheckMined},
	{Contains: []string{"already known"}, Action: ActionKnown},
	{Contains: []string{"underpriced"}, Action: ActionBumpFee},
	{Contains: []string{"insufficient funds"}, Action: ActionFail},
	{Contains: []string{"bad nonce"}, Action: ActionRefreshNonce},
}

// fakeSubmitter 按脚本返回 submit 错误和各 hash 的状态
type fakeSubmitter struct {
	mu          sync.Mutex
	prepared    []Attempt
	submitErrs  []error
	knownHash   string
	statuses    map[string][]Status // 每次查询弹出一个，剩最后一个时保持
	submitCount int
}

func (f *fakeSubmitter) Prepare(_ context.Context, at *Attempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prepared = append(f.prepared, *at)
	return nil
}

func (f *fakeSubmitter) Submit(_ context.Context, _ *Attempt) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCount++
	if len(f.submitErrs) > 0 {
		err := f.submitErrs[0]
		f.submitErrs = f.submitErrs[1:]
		if err != nil {
			return f.knownHash, err
		}
	}
	return fmt.Sprintf("0x%02d", f.submitCount), nil
}

func (f *fakeSubmitter) Status(_ context.Context, hash string) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seq, ok := f.statuses[hash]
	if !ok || len(seq) == 0 {
		return StatusNotFound, nil
	}
	st := seq[0]
	if len(seq) > 1 {
		f.statuses[hash] = seq[1:]
	}
	return st, nil
}

func (f *fakeSubmitter) Classify(err error) Action { return Classify(err, testRules, ActionRetry) }

func fastOpts() Options {
	return Options{
		MaxAttempts:   5,
		RetryDelay:    time.Millisecond,
		PollInterval:  time.Millisecond,
		SlowAfter:     20 * time.Millisecond,
		MaxBumps:      2,
		NotFoundLimit: 3,
		Label:         "test",
	}
}

func TestRunSuccessFirstTry(t *testing.T) {
	f := &fakeSubmitter{statuses: map[string][]Status{"0x01": {StatusPending, StatusSuccess}}}
	res, err := Run(context.Background(), f, fastOpts())
	require.NoError(t, err)
	assert.Equal(t, "0x01", res.Hash)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 0, res.Bumps)
}

func TestRunNonceTooLowRefreshes(t *testing.T) {
	f := &fakeSubmitter{
		submitErrs: []error{errors.New("nonce too low")},
		statuses:   map[string][]Status{"0x02": {StatusSuccess}},
	}
	res, err := Run(context.Background(), f, fastOpts())
	require.NoError(t, err)
	assert.Equal(t, "0x02", res.Hash)
	require.Len(t, f.prepared, 2)
	assert.False(t, f.prepared[0].RefreshNonce)
	assert.True(t, f.prepared[1].RefreshNonce)
}

func TestRunSlowTransactionBumps(t *testing.T) {
	f := &fakeSubmitter{statuses: map[string][]Status{
		"0x01": {StatusPending},
		"0x02": {StatusSuccess},
	}}
	res, err := Run(context.Background(), f, fastOpts())
	require.NoError(t, err)
	assert.Equal(t, "0x02", res.Hash)
	assert.Equal(t, 1, res.Bumps)
	assert.Equal(t, []string{"0x01", "0x02"}, res.Hashes)
	require.Len(t, f.prepared, 2)
	assert.True(t, f.prepared[1].Bump)
	assert.False(t, f.prepared[1].RefreshNonce)
}

func TestRunReplacedTransactionOriginalMines(t *testing.T) {
	// 提价后原交易先上链：也算成功
	f := &fakeSubmitter{statuses: map[string][]Status{
		"0x01": {StatusPending, StatusPending, StatusPending, StatusPending, StatusPending, StatusPending, StatusSuccess},
		"0x02": {StatusPending},
	}}
	// 每次 await 至少查询一次 0x01，给足提价次数保证能等到它上链
	opts := fastOpts()
	opts.SlowAfter = 5 * time.Millisecond
	opts.MaxBumps = 9
	opts.MaxAttempts = 10
	res, err := Run(context.Background(), f, opts)
	require.NoError(t, err)
	assert.Equal(t, "0x01", res.Hash)
}

func TestRunStuckAfterMaxBumps(t *testing.T) {
	f := &fakeSubmitter{statuses: map[string][]Status{
		"0x01": {StatusPending}, "0x02": {StatusPending}, "0x03": {StatusPending},
	}}
	opts := fastOpts()
	opts.SlowAfter = 3 * time.Millisecond
	_, err := Run(context.Background(), f, opts)
	assert.ErrorIs(t, err, ErrStuck)
	assert.Equal(t, 3, f.submitCount)
}

func TestRunReverted(t *testing.T) {
	f := &fakeSubmitter{statuses: map[string][]Status{"0x01": {StatusReverted}}}
	res, err := Run(context.Background(), f, fastOpts())
	assert.ErrorIs(t, err, ErrReverted)
	assert.Equal(t, "0x01", res.Hash)
	assert.Equal(t, 1, f.submitCount)
}

func TestRunFailIsImmediate(t *testing.T) {
	f := &fakeSubmitter{submitErrs: []error{errors.New("insufficient funds for gas * price + value")}}
	_, err := Run(context.Background(), f, fastOpts())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient funds")
	assert.Equal(t, 1, f.submitCount)
}

func TestRunMaxAttempts(t *testing.T) {
	errs := make([]error, 10)
	for i := range errs {
		errs[i] = errors.New("connection reset")
	}
	f := &fakeSubmitter{submitErrs: errs}
	_, err := Run(context.Background(), f, fastOpts())
	assert.ErrorIs(t, err, ErrMaxAttempts)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, 5, f.submitCount)
}

func TestRunBumpLimitOnUnderpriced(t *testing.T) {
	f := &fakeSubmitter{submitErrs: []error{
		errors.New("replacement transaction underpriced"),
		errors.New("replacement transaction underpriced"),
		errors.New("replacement transaction underpriced"),
	}}
	_, err := Run(context.Background(), f, fastOpts())
	assert.ErrorIs(t, err, ErrBumpLimit)
}

func TestRunKnownUsesReturnedHash(t *testing.T) {
	f := &fakeSubmitter{
		submitErrs: []error{errors.New("already known")},
		knownHash:  "0xaa",
		statuses:   map[string][]Status{"0xaa": {StatusSuccess}},
	}
	res, err := Run(context.Background(), f, fastOpts())
	require.NoError(t, err)
	assert.Equal(t, "0xaa", res.Hash)
}

func TestRunDroppedRefreshesNonce(t *testing.T) {
	f := &fakeSubmitter{statuses: map[string][]Status{"0x02": {StatusSuccess}}}
	opts := fastOpts()
	opts.SlowAfter = time.Minute
	res, err := Run(context.Background(), f, opts)
	require.NoError(t, err)
	assert.Equal(t, "0x02", res.Hash)
	require.Len(t, f.prepared, 2)
	assert.True(t, f.prepared[1].RefreshNonce)
}

func TestRunContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &fakeSubmitter{}
	_, err := Run(ctx, f, fastOpts())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.submitCount)
}

type recordingObserver struct {
	submits []string
	retries []Action
	done    int
}

func (r *recordingObserver) OnSubmit(_, hash string, _ *Attempt) { r.submits = append(r.submits, hash) }
func (r *recordingObserver) OnRetry(_ string, a Action, _ error, _ *Attempt) {
	r.retries = append(r.retries, a)
}
func (r *recordingObserver) OnDone(string, *Result, error) { r.done++ }

func TestObserver(t *testing.T) {
	obs := &recordingObserver{}
	f := &fakeSubmitter{
		submitErrs: []error{errors.New("bad nonce")},
		statuses:   map[string][]Status{"0x02": {StatusSuccess}},
	}
	opts := fastOpts()
	opts.Observer = obs
	_, err := Run(context.Background(), f, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"0x02"}, obs.submits)
	assert.Equal(t, []Action{ActionRefreshNonce}, obs.retries)
	assert.Equal(t, 1, obs.done)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ActionFail, Classify(Permanent(errors.New("nonce too low")), testRules, ActionRetry))
	assert.Equal(t, ActionFail, Classify(fmt.Errorf("x: %w", context.Canceled), testRules, ActionRetry))
	assert.Equal(t, ActionCheckMined, Classify(errors.New("NONCE TOO LOW"), testRules, ActionRetry))
	assert.Equal(t, ActionRetry, Classify(errors.New("timeout"), testRules, ActionRetry))
	assert.Equal(t, ActionFail, Classify(errors.New("timeout"), testRules, ActionFail))
}
