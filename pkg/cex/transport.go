package cex

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/web3mt/web3mt/pkg/httpx"
	"github.com/web3mt/web3mt/pkg/ratelimit"
)

// HMACHex hex(HMAC-SHA256(secret, msg))
func HMACHex(secret, msg string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(msg))
	return hex.EncodeToString(h.Sum(nil))
}

// HMACBase64 base64(HMAC-SHA256(secret, msg))
func HMACBase64(secret, msg string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(msg))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// NewHTTP 交易所客户端共用的 HTTP 客户端。
// 不做自动重试：签名带时间戳，且提币请求重放可能导致重复提币。
func NewHTTP(opts Options, defaultBase string) (*httpx.Client, error) {
	base := opts.BaseURL
	if base == "" {
		base = defaultBase
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return httpx.New(httpx.Options{BaseURL: base, Proxy: opts.Proxy, Timeout: timeout, Retries: -1})
}

// Limiter 没有配置时使用默认限速
func Limiter(opts Options) *ratelimit.Manager {
	if opts.Limiter != nil {
		return opts.Limiter
	}
	return ratelimit.NewManager()
}

// Throttle 按 "<exchange>:<group>" 限速
func Throttle(ctx context.Context, m *ratelimit.Manager, exchange, group string) error {
	return m.Wait(ctx, exchange+":"+group)
}
