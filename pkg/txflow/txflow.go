// Package txflow 通用的交易提交/重试引擎。
//
// 各链客户端只需要实现 Submitter：准备参数（nonce/费用/gas）、签名广播、查询状态、
// 以及把节点返回的错误归类成 Action；重试、提价、nonce 重取、回执轮询都在这里统一处理。
package txflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/web3mt/web3mt/pkg/logger"
)

var (
	ErrReverted    = errors.New("txflow: transaction reverted")
	ErrMaxAttempts = errors.New("txflow: max attempts reached")
	ErrStuck       = errors.New("txflow: transaction not confirmed and fee bump limit reached")
	ErrBumpLimit   = errors.New("txflow: fee bump limit reached")
)

// Status 链上状态
type Status int

const (
	StatusPending Status = iota
	StatusSuccess
	StatusReverted
	StatusNotFound
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusReverted:
		return "reverted"
	case StatusNotFound:
		return "not_found"
	}
	return "pending"
}

// Action 出错后的处理方式
type Action int

const (
	// ActionFail 不可恢复，直接返回
	ActionFail Action = iota
	// ActionRetry 原样重试（保留 nonce）
	ActionRetry
	// ActionRefreshNonce 重新获取 nonce / sequence / blockhash / utxo 后重试
	ActionRefreshNonce
	// ActionBumpFee 同 nonce 提价重发
	ActionBumpFee
	// ActionKnown 节点已有这笔交易，按已广播处理
	ActionKnown
	// ActionCheckMined nonce 过低：先看之前发出的交易是否已经上链
	ActionCheckMined
)

func (a Action) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionRefreshNonce:
		return "refresh_nonce"
	case ActionBumpFee:
		return "bump_fee"
	case ActionKnown:
		return "known"
	case ActionCheckMined:
		return "check_mined"
	}
	return "fail"
}

// Attempt 一次提交过程中的可变状态，Submitter 读取它决定如何准备参数
type Attempt struct {
	Number int // 从 1 开始
	Bumps  int // 已提价次数
	// RefreshNonce 为 true 时 Prepare 必须重新获取 nonce（或等价物）
	RefreshNonce bool
	// Bump 为 true 时 Prepare 应在上一次费用基础上提价，nonce 不变
	Bump bool
	// Hash 最近一次广播成功的交易 hash
	Hash string
	// Hashes 所有广播过的 hash，替换交易里任何一笔都可能上链
	Hashes  []string
	LastErr error
}

func (a *Attempt) addHash(h string) {
	a.Hash = h
	for _, existing := range a.Hashes {
		if existing == h {
			return
		}
	}
	a.Hashes = append(a.Hashes, h)
}

// Submitter 由各链实现
type Submitter interface {
	Prepare(ctx context.Context, at *Attempt) error
	Submit(ctx context.Context, at *Attempt) (string, error)
	Status(ctx context.Context, hash string) (Status, error)
	Classify(err error) Action
}

// Observer 观察提交过程（指标、审计）。所有方法都在 Run 的 goroutine 内同步调用。
type Observer interface {
	OnSubmit(label, hash string, at *Attempt)
	OnRetry(label string, action Action, err error, at *Attempt)
	OnDone(label string, res *Result, err error)
}

// Options 重试参数
type Options struct {
	MaxAttempts   int
	RetryDelay    time.Duration
	PollInterval  time.Duration
	SlowAfter     time.Duration // 超过这个时间仍未确认视为慢交易，提价
	MaxBumps      int
	NotFoundLimit int // 连续查询不到交易的次数上限，超过视为被丢弃
	Label         string
	Observer      Observer
	Log           *logrus.Entry
}

// 默认值
const (
	DefaultMaxAttempts   = 9
	DefaultRetryDelay    = 5 * time.Second
	DefaultPollInterval  = 5 * time.Second
	DefaultSlowAfter     = 90 * time.Second
	DefaultMaxBumps      = 5
	DefaultNotFoundLimit = 12
)

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.SlowAfter <= 0 {
		o.SlowAfter = DefaultSlowAfter
	}
	if o.MaxBumps < 0 {
		o.MaxBumps = 0
	} else if o.MaxBumps == 0 {
		o.MaxBumps = DefaultMaxBumps
	}
	if o.NotFoundLimit <= 0 {
		o.NotFoundLimit = DefaultNotFoundLimit
	}
	if o.Log == nil {
		o.Log = logger.WithField("flow", o.Label)
	}
	return o
}

// Result 提交结果
type Result struct {
	Hash     string
	Hashes   []string
	Attempts int
	Bumps    int
	Elapsed  time.Duration
}

// Run 执行 prepare → submit → await 循环直到交易确认、回滚或重试耗尽
func Run(ctx context.Context, s Submitter, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	start := time.Now()
	at := &Attempt{}

	res, err := run(ctx, s, opts, at)
	if res == nil {
		res = &Result{}
	}
	res.Hashes = append([]string(nil), at.Hashes...)
	res.Attempts = at.Number
	res.Bumps = at.Bumps
	res.Elapsed = time.Since(start)
	if res.Hash == "" {
		res.Hash = at.Hash
	}
	if opts.Observer != nil {
		opts.Observer.OnDone(opts.Label, res, err)
	}
	return res, err
}

func run(ctx context.Context, s Submitter, opts Options, at *Attempt) (*Result, error) {
	log := opts.Log
	delay := false

	for at.Number = 1; at.Number <= opts.MaxAttempts; at.Number++ {
		if delay {
			if err := sleep(ctx, opts.RetryDelay); err != nil {
				return nil, err
			}
		}
		delay = true
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := s.Prepare(ctx, at); err != nil {
			at.LastErr = err
			if done, res, ferr := handle(ctx, s, opts, at, s.Classify(err), err); done {
				return res, ferr
			}
			continue
		}

		hash, err := s.Submit(ctx, at)
		if err != nil {
			at.LastErr = err
			action := s.Classify(err)
			if action != ActionKnown {
				if done, res, ferr := handle(ctx, s, opts, at, action, err); done {
					return res, ferr
				}
				continue
			}
			if hash == "" {
				hash = at.Hash
			}
			if hash == "" {
				// 节点说已存在但我们不知道 hash，只能重取 nonce 再来
				notify(opts, ActionRefreshNonce, err, at)
				at.RefreshNonce = true
				continue
			}
			log.Debugf("交易已在内存池中: %s", hash)
		}

		at.addHash(hash)
		at.RefreshNonce = false
		at.Bump = false
		if opts.Observer != nil {
			opts.Observer.OnSubmit(opts.Label, hash, at)
		}
		log.WithField(logger.FieldTx, hash).Infof("交易已广播 (第 %d 次尝试, 提价 %d 次)", at.Number, at.Bumps)

		st, minedHash, err := await(ctx, s, opts, at)
		if err != nil {
			return nil, err
		}
		switch st {
		case StatusSuccess:
			log.WithField(logger.FieldTx, minedHash).Infof("交易已确认")
			return &Result{Hash: minedHash}, nil
		case StatusReverted:
			return &Result{Hash: minedHash}, fmt.Errorf("%w: %s", ErrReverted, minedHash)
		case StatusNotFound:
			at.LastErr = fmt.Errorf("transaction %s dropped", at.Hash)
			log.Warnf("交易 %s 长时间查询不到，重新获取 nonce 后重发", at.Hash)
			notify(opts, ActionRefreshNonce, at.LastErr, at)
			at.RefreshNonce = true
		default:
			if at.Bumps >= opts.MaxBumps {
				return &Result{Hash: at.Hash}, fmt.Errorf("%w: %s", ErrStuck, at.Hash)
			}
			log.Warnf("交易 %s 超过 %v 未确认，提价重发", at.Hash, opts.SlowAfter)
			notify(opts, ActionBumpFee, errors.New("slow transaction"), at)
			at.Bump = true
			at.Bumps++
			delay = false
		}
	}

	if at.LastErr != nil {
		return nil, fmt.Errorf("%w (%d): %w", ErrMaxAttempts, opts.MaxAttempts, at.LastErr)
	}
	return nil, fmt.Errorf("%w (%d)", ErrMaxAttempts, opts.MaxAttempts)
}

// handle 处理 Prepare/Submit 的错误；done=true 表示结束循环
func handle(ctx context.Context, s Submitter, opts Options, at *Attempt, action Action, err error) (bool, *Result, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return true, nil, ctxErr
	}
	notify(opts, action, err, at)

	switch action {
	case ActionRetry, ActionKnown:
		opts.Log.Warnf("提交失败，稍后重试: %v", err)
		return false, nil, nil
	case ActionRefreshNonce:
		opts.Log.Warnf("nonce 失效，重新获取: %v", err)
		at.RefreshNonce = true
		return false, nil, nil
	case ActionBumpFee:
		if at.Bumps >= opts.MaxBumps {
			return true, nil, fmt.Errorf("%w: %w", ErrBumpLimit, err)
		}
		opts.Log.Warnf("费用不足，提价重试: %v", err)
		at.Bump = true
		at.Bumps++
		return false, nil, nil
	case ActionCheckMined:
		// 之前发出的交易可能已经上链，先确认再决定是否重发
		for i := len(at.Hashes) - 1; i >= 0; i-- {
			st, serr := s.Status(ctx, at.Hashes[i])
			if serr != nil {
				continue
			}
			switch st {
			case StatusSuccess:
				return true, &Result{Hash: at.Hashes[i]}, nil
			case StatusReverted:
				return true, &Result{Hash: at.Hashes[i]}, fmt.Errorf("%w: %s", ErrReverted, at.Hashes[i])
			}
		}
		opts.Log.Warnf("nonce 过低且未找到已上链交易，重新获取 nonce: %v", err)
		at.RefreshNonce = true
		return false, nil, nil
	}
	return true, nil, err
}

// await 轮询状态直到成功/回滚/丢弃/超时。替换过的交易逐个检查，最新的优先。
func await(ctx context.Context, s Submitter, opts Options, at *Attempt) (Status, string, error) {
	deadline := time.Now().Add(opts.SlowAfter)
	notFound := 0

	for {
		if err := sleep(ctx, opts.PollInterval); err != nil {
			return StatusPending, "", err
		}

		anyKnown := false
		for i := len(at.Hashes) - 1; i >= 0; i-- {
			h := at.Hashes[i]
			st, err := s.Status(ctx, h)
			if err != nil {
				opts.Log.Debugf("查询交易状态失败 %s: %v", h, err)
				anyKnown = true
				continue
			}
			switch st {
			case StatusSuccess, StatusReverted:
				return st, h, nil
			case StatusPending:
				anyKnown = true
			}
		}

		if anyKnown {
			notFound = 0
		} else {
			notFound++
			if notFound >= opts.NotFoundLimit {
				return StatusNotFound, "", nil
			}
		}
		if time.Now().After(deadline) {
			return StatusPending, "", nil
		}
	}
}

func notify(opts Options, action Action, err error, at *Attempt) {
	if opts.Observer != nil {
		opts.Observer.OnRetry(opts.Label, action, err, at)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
