package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"
)

// RateLimiter 速率限制器接口
type RateLimiter interface {
	Wait(ctx context.Context) error
	Allow() bool
	GetRemaining() int
}

// TokenBucket 令牌桶速率限制器
type TokenBucket struct {
	capacity   float64
	tokens     float64
	refillRate float64 // 每秒补充的令牌数
	lastRefill time.Time
	mu         sync.Mutex
}

// NewTokenBucket 创建新的令牌桶：容量 capacity，每秒补充 refillRate 个
func NewTokenBucket(capacity int, refillRate float64) *TokenBucket {
	return &TokenBucket{
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

func (tb *TokenBucket) refill(now time.Time) {
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	tb.tokens += elapsed * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now
}

// Allow 检查是否允许请求（允许则消耗一个令牌）
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill(time.Now())
	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// Wait 等待直到允许请求
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		tb.refill(now)
		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}
		wait := time.Second
		if tb.refillRate > 0 {
			wait = time.Duration((1 - tb.tokens) / tb.refillRate * float64(time.Second))
		}
		tb.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// GetRemaining 获取剩余令牌数
func (tb *TokenBucket) GetRemaining() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill(time.Now())
	return int(tb.tokens)
}

// SlidingWindow 滑动窗口速率限制器（交易所常见的 "N 次 / 窗口" 限制）
type SlidingWindow struct {
	limit      int
	windowSize time.Duration
	requests   []time.Time
	mu         sync.Mutex
}

// NewSlidingWindow 创建新的滑动窗口速率限制器
func NewSlidingWindow(limit int, windowSize time.Duration) *SlidingWindow {
	return &SlidingWindow{limit: limit, windowSize: windowSize}
}

func (sw *SlidingWindow) prune(now time.Time) {
	cutoff := now.Add(-sw.windowSize)
	i := 0
	for i < len(sw.requests) && !sw.requests[i].After(cutoff) {
		i++
	}
	sw.requests = sw.requests[i:]
}

// Allow 检查是否允许请求
func (sw *SlidingWindow) Allow() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := time.Now()
	sw.prune(now)
	if len(sw.requests) >= sw.limit {
		return false
	}
	sw.requests = append(sw.requests, now)
	return true
}

// Wait 等待直到允许请求
func (sw *SlidingWindow) Wait(ctx context.Context) error {
	for {
		sw.mu.Lock()
		now := time.Now()
		sw.prune(now)
		if len(sw.requests) < sw.limit {
			sw.requests = append(sw.requests, now)
			sw.mu.Unlock()
			return nil
		}
		wait := sw.requests[0].Add(sw.windowSize).Sub(now)
		sw.mu.Unlock()

		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// GetRemaining 获取剩余请求数
func (sw *SlidingWindow) GetRemaining() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.prune(time.Now())
	if n := sw.limit - len(sw.requests); n > 0 {
		return n
	}
	return 0
}

// Manager 按 "exchange:endpoint" 管理速率限制器。
// 查找顺序：精确 key -> "exchange:general" -> 全局兜底。
type Manager struct {
	limiters map[string]RateLimiter
	fallback RateLimiter
	mu       sync.RWMutex
}

// NewManager 创建新的速率限制管理器（带各交易所默认限制）
func NewManager() *Manager {
	m := &Manager{
		limiters: make(map[string]RateLimiter),
		fallback: NewSlidingWindow(20, time.Second),
	}
	m.initDefaultLimiters()
	return m
}

// initDefaultLimiters 各交易所公开文档里的限制，留一点余量
func (m *Manager) initDefaultLimiters() {
	// OKX: 资金接口 6 次/秒，提币 6 次/秒
	m.limiters["okx:general"] = NewSlidingWindow(10, 2*time.Second)
	m.limiters["okx:withdraw"] = NewSlidingWindow(6, time.Second)
	m.limiters["okx:asset"] = NewSlidingWindow(6, time.Second)

	// Binance: sapi 按 IP 权重 12000/分钟，提币接口单独限制
	m.limiters["binance:general"] = NewSlidingWindow(1000, time.Minute)
	m.limiters["binance:withdraw"] = NewTokenBucket(2, 1)

	// Bybit: 资产类接口 5 次/秒
	m.limiters["bybit:general"] = NewSlidingWindow(10, time.Second)
	m.limiters["bybit:withdraw"] = NewSlidingWindow(5, time.Second)

	// HTX: 100 次/10秒
	m.limiters["htx:general"] = NewSlidingWindow(100, 10*time.Second)
	m.limiters["htx:withdraw"] = NewSlidingWindow(20, 2*time.Second)

	// Kucoin: 资源池制，这里按保守值限制
	m.limiters["kucoin:general"] = NewSlidingWindow(30, 3*time.Second)
	m.limiters["kucoin:withdraw"] = NewTokenBucket(1, 1)

	// MEXC: 20 次/秒
	m.limiters["mexc:general"] = NewSlidingWindow(20, time.Second)
	m.limiters["mexc:withdraw"] = NewTokenBucket(1, 0.5)
}

// Set 覆盖或新增某个 key 的限制器
func (m *Manager) Set(key string, limiter RateLimiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[key] = limiter
}

// GetLimiter 获取指定端点的速率限制器
func (m *Manager) GetLimiter(endpoint string) RateLimiter {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limiter, ok := m.limiters[endpoint]; ok {
		return limiter
	}
	if prefix, _, ok := strings.Cut(endpoint, ":"); ok {
		if limiter, ok := m.limiters[prefix+":general"]; ok {
			return limiter
		}
	}
	return m.fallback
}

// Wait 等待直到允许请求
func (m *Manager) Wait(ctx context.Context, endpoint string) error {
	return m.GetLimiter(endpoint).Wait(ctx)
}

// Allow 检查是否允许请求
func (m *Manager) Allow(endpoint string) bool {
	return m.GetLimiter(endpoint).Allow()
}
