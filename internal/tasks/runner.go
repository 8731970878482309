package tasks

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/web3mt/web3mt/internal/bridge"
	"github.com/web3mt/web3mt/internal/clients"
	"github.com/web3mt/web3mt/internal/store"
	"github.com/web3mt/web3mt/pkg/cex"
	"github.com/web3mt/web3mt/pkg/chain"
	"github.com/web3mt/web3mt/pkg/logger"
	"github.com/web3mt/web3mt/pkg/persistence"
)

// Recorder task_runs 记录，*store.Store 满足该接口
type Recorder interface {
	StartTaskRun(ctx context.Context, runID, task, profileID string) (int64, error)
	FinishTaskRun(ctx context.Context, id int64, runErr error, result string) error
	LastSuccess(ctx context.Context, task, profileID string) (*store.TaskRun, error)
}

// Deps 所有任务共享的依赖
type Deps struct {
	Chains    *chain.Registry
	Clients   ChainClients
	Exchanges map[string]cex.Exchange
	Store     ProfileStore
	Bridge    *bridge.Client
	Idem      persistence.Service
}

// Accounts 读取 profile 的钱包并解密私钥
func (d *Deps) Accounts(ctx context.Context, p *store.Profile) (map[chain.Kind]clients.Account, error) {
	ws, err := d.Store.Wallets(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	out := make(map[chain.Kind]clients.Account, len(ws))
	for _, w := range ws {
		key, err := d.Store.PrivateKey(ctx, p.ID, w.Kind)
		if err != nil {
			return nil, fmt.Errorf("profile %s %s key: %w", p.ID, w.Kind, err)
		}
		out[w.Kind] = clients.Account{Kind: w.Kind, Address: w.Address, PrivateKey: key, Index: p.Index}
	}
	return out, nil
}

// StepResult 单个 (profile, step) 的执行结果
type StepResult struct {
	ProfileID string
	Step      string
	Skipped   bool
	Err       error
	Result    string
	Elapsed   time.Duration
}

// Summary 一次 run 的汇总
type Summary struct {
	RunID   string
	Results []StepResult
	OK      int
	Failed  int
	Skipped int
}

func (s *Summary) add(r StepResult) {
	s.Results = append(s.Results, r)
	switch {
	case r.Skipped:
		s.Skipped++
	case r.Err != nil:
		s.Failed++
	default:
		s.OK++
	}
}

// Err 有失败步骤时返回汇总错误
func (s *Summary) Err() error {
	var errs []error
	for _, r := range s.Results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s/%s: %w", r.ProfileID, r.Step, r.Err))
		}
	}
	return errors.Join(errs...)
}

// Runner 对一批 profile 依次执行步骤。profile 之间并发，单个 profile 内顺序执行。
type Runner struct {
	Registry    *Registry
	Deps        *Deps
	Recorder    Recorder
	Concurrency int
	Shuffle     bool
	// DelayMin/DelayMax 启动相邻 profile 之间的随机间隔
	DelayMin time.Duration
	DelayMax time.Duration
	// SkipDone 跳过该 profile 已成功执行过的同名步骤
	SkipDone bool
	Observe  func(task string, elapsed time.Duration, err error)
	Rand     *rand.Rand

	rndMu sync.Mutex
}

// ForPlan 用计划里的设置覆盖并发/随机/间隔参数
func (r *Runner) ForPlan(p *Plan) {
	if p.Concurrency > 0 {
		r.Concurrency = p.Concurrency
	}
	r.Shuffle = r.Shuffle || p.Shuffle
	r.SkipDone = r.SkipDone || p.SkipDone
	if p.Delay.Max > 0 || p.Delay.Min > 0 {
		r.DelayMin = time.Duration(p.Delay.Min * float64(time.Second))
		r.DelayMax = time.Duration(p.Delay.Max * float64(time.Second))
	}
}

func (r *Runner) int63n(n int64) int64 {
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.Rand.Int63n(n)
}

// childRand 每个 profile 一个独立的随机源，rand.Rand 不是并发安全的
func (r *Runner) childRand() *rand.Rand {
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return rand.New(rand.NewSource(r.Rand.Int63()))
}

func (r *Runner) delay() time.Duration {
	if r.DelayMax <= r.DelayMin {
		return r.DelayMin
	}
	return r.DelayMin + time.Duration(r.int63n(int64(r.DelayMax-r.DelayMin)))
}

// Run 执行。ctx 取消后不再启动新的 profile / 步骤，已在执行的步骤由各自的 ctx 处理。
func (r *Runner) Run(ctx context.Context, runID string, profiles []*store.Profile, steps []Step) (*Summary, error) {
	if r.Rand == nil {
		r.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("no steps to run")
	}
	for _, s := range steps {
		if _, err := r.Registry.Get(s.Task); err != nil {
			return nil, err
		}
	}
	order := append([]*store.Profile(nil), profiles...)
	if r.Shuffle {
		r.rndMu.Lock()
		r.Rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		r.rndMu.Unlock()
	}
	limit := r.Concurrency
	if limit <= 0 {
		limit = 1
	}

	sum := &Summary{RunID: runID}
	var mu sync.Mutex
	collect := func(res []StepResult) {
		mu.Lock()
		defer mu.Unlock()
		for _, x := range res {
			sum.add(x)
		}
	}

	logger.Infof("run %s: %d 个 profile, %d 个步骤, 并发 %d", runID, len(order), len(steps), limit)
	var g errgroup.Group
	g.SetLimit(limit)
dispatch:
	for i, p := range order {
		if i > 0 {
			if d := r.delay(); d > 0 {
				t := time.NewTimer(d)
				select {
				case <-ctx.Done():
					t.Stop()
					break dispatch
				case <-t.C:
				}
			}
		}
		if ctx.Err() != nil {
			break
		}
		rnd := r.childRand()
		g.Go(func() error {
			collect(r.runProfile(ctx, runID, p, steps, rnd))
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return sum, err
	}
	return sum, nil
}

func (r *Runner) runProfile(ctx context.Context, runID string, p *store.Profile, steps []Step, rnd *rand.Rand) []StepResult {
	log := logger.WithFields(logrus.Fields{logger.FieldProfile: p.ID})
	accounts, err := r.Deps.Accounts(ctx, p)
	if err != nil {
		log.Errorf("加载钱包失败: %v", err)
		return []StepResult{{ProfileID: p.ID, Step: steps[0].Label(), Err: err}}
	}

	var out []StepResult
	for i, s := range steps {
		if ctx.Err() != nil {
			break
		}
		label := s.Label()
		if r.SkipDone && r.Recorder != nil {
			if _, err := r.Recorder.LastSuccess(ctx, label, p.ID); err == nil {
				log.Infof("步骤 %s 已完成过，跳过", label)
				out = append(out, StepResult{ProfileID: p.ID, Step: label, Skipped: true})
				continue
			} else if !errors.Is(err, store.ErrNotFound) {
				log.Warnf("查询历史记录失败: %v", err)
			}
		}

		env := &Env{
			RunID:     runID,
			StepKey:   fmt.Sprintf("%s.%d", runID, i),
			Profile:   p,
			Wallets:   accounts,
			Chains:    r.Deps.Chains,
			Clients:   r.Deps.Clients,
			Exchanges: r.Deps.Exchanges,
			Store:     r.Deps.Store,
			Bridge:    r.Deps.Bridge,
			Idem:      r.Deps.Idem,
			Params:    s.Params,
			Log:       log.WithField(logger.FieldTask, label),
			Rand:      rnd,
		}
		res := r.runStep(ctx, env, s)
		out = append(out, res)
		// 任务可能更新了 profile（如充值地址）
		p = env.Profile
		if res.Err != nil && !s.ContinueOnError {
			break
		}
	}
	return out
}

func (r *Runner) runStep(ctx context.Context, env *Env, s Step) StepResult {
	label := s.Label()
	res := StepResult{ProfileID: env.Profile.ID, Step: label}
	task, err := r.Registry.Get(s.Task)
	if err != nil {
		res.Err = err
		return res
	}

	var runRow int64
	if r.Recorder != nil {
		if runRow, err = r.Recorder.StartTaskRun(ctx, env.RunID, label, env.Profile.ID); err != nil {
			env.Log.Warnf("写入 task_run 失败: %v", err)
		}
	}

	start := time.Now()
	err = task.Run(ctx, env)
	res.Elapsed = time.Since(start)
	res.Err = err
	res.Result = env.Result()
	if err != nil {
		env.Log.Errorf("失败 (%s): %v", res.Elapsed.Round(time.Millisecond), err)
	} else {
		env.Log.Infof("完成 (%s)", res.Elapsed.Round(time.Millisecond))
	}

	if r.Recorder != nil && runRow > 0 {
		// 取消后仍要落库
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if ferr := r.Recorder.FinishTaskRun(fctx, runRow, err, res.Result); ferr != nil {
			env.Log.Warnf("更新 task_run 失败: %v", ferr)
		}
		cancel()
	}
	if r.Observe != nil {
		r.Observe(s.Task, res.Elapsed, err)
	}
	return res
}
