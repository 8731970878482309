package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/web3mt/web3mt/pkg/txflow"
)

// TxObserver 把 txflow 事件记成指标
type TxObserver struct {
	m *Metrics
}

var _ txflow.Observer = (*TxObserver)(nil)

// Observer 给 txflow.Options.Observer 用
func (m *Metrics) Observer() *TxObserver {
	return &TxObserver{m: m}
}

func (o *TxObserver) OnSubmit(label, _ string, _ *txflow.Attempt) {
	o.m.TxSubmitted.WithLabelValues(chainOf(label)).Inc()
}

func (o *TxObserver) OnRetry(label string, action txflow.Action, _ error, _ *txflow.Attempt) {
	o.m.TxRetries.WithLabelValues(chainOf(label), action.String()).Inc()
}

func (o *TxObserver) OnDone(label string, res *txflow.Result, err error) {
	chain := chainOf(label)
	if err == nil {
		o.m.TxSucceeded.WithLabelValues(chain).Inc()
		if res != nil {
			o.m.TxConfirmTime.WithLabelValues(chain).Observe(res.Elapsed.Seconds())
		}
		return
	}
	o.m.TxFailed.WithLabelValues(chain, failReason(err)).Inc()
}

func failReason(err error) string {
	switch {
	case errors.Is(err, txflow.ErrReverted):
		return "reverted"
	case errors.Is(err, txflow.ErrMaxAttempts):
		return "max_attempts"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

// ObserveTask 记录一次任务执行
func (m *Metrics) ObserveTask(task string, elapsed time.Duration, err error) {
	m.TaskRuns.WithLabelValues(task, result(err)).Inc()
	m.TaskDuration.WithLabelValues(task).Observe(elapsed.Seconds())
}

// ObserveBalance 记录一次余额查询
func (m *Metrics) ObserveBalance(chain string, err error) {
	m.BalanceFetches.WithLabelValues(chain, result(err)).Inc()
}
