// Package metrics prometheus 指标：交易提交、重试、任务执行、交易所请求。
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "web3mt"

// Metrics 全部指标。用独立 Registry，测试里可以各自新建。
type Metrics struct {
	Registry *prometheus.Registry

	TxSubmitted    *prometheus.CounterVec
	TxSucceeded    *prometheus.CounterVec
	TxFailed       *prometheus.CounterVec
	TxRetries      *prometheus.CounterVec
	TxConfirmTime  *prometheus.HistogramVec
	TaskRuns       *prometheus.CounterVec
	TaskDuration   *prometheus.HistogramVec
	CEXRequests    *prometheus.CounterVec
	BalanceFetches *prometheus.CounterVec
}

// New 创建并注册
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		TxSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_submitted_total",
			Help:      "Transactions broadcast, including replacements",
		}, []string{"chain"}),
		TxSucceeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_succeeded_total",
			Help:      "Transactions confirmed successfully",
		}, []string{"chain"}),
		TxFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_failed_total",
			Help:      "Transactions that reverted or exhausted retries",
		}, []string{"chain", "reason"}),
		TxRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_retries_total",
			Help:      "Submission retries by classified action",
		}, []string{"chain", "action"}),
		TxConfirmTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tx_confirm_seconds",
			Help:      "Time from first attempt to confirmation",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300, 600},
		}, []string{"chain"}),
		TaskRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_runs_total",
			Help:      "Task executions per task and result",
		}, []string{"task", "result"}),
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Task execution time",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"task"}),
		CEXRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cex_requests_total",
			Help:      "Exchange API calls per exchange, operation and result",
		}, []string{"exchange", "op", "result"}),
		BalanceFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "balance_fetches_total",
			Help:      "Balance queries per chain and result",
		}, []string{"chain", "result"}),
	}
	m.Registry.MustRegister(
		m.TxSubmitted, m.TxSucceeded, m.TxFailed, m.TxRetries, m.TxConfirmTime,
		m.TaskRuns, m.TaskDuration, m.CEXRequests, m.BalanceFetches,
	)
	return m
}

// chainOf 从 txflow label（"Arbitrum:transfer_usdc"）中取链名
func chainOf(label string) string {
	if i := strings.IndexByte(label, ':'); i >= 0 {
		return label[:i]
	}
	if label == "" {
		return "unknown"
	}
	return label
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
