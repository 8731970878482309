package txflow

import (
	"context"
	"errors"
	"strings"
)

// Rule 按错误信息子串匹配的归类规则（大小写不敏感）
type Rule struct {
	Contains []string
	Action   Action
}

// permanentError 标记不可重试的错误
type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent 包装一个不应重试的错误（参数错误、余额不足等本地检查）
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent 是否被标记为不可重试
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Classify 依次匹配规则；未命中返回 fallback。context 取消和 Permanent 错误总是 ActionFail。
func Classify(err error, rules []Rule, fallback Action) Action {
	if err == nil {
		return ActionRetry
	}
	if IsPermanent(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ActionFail
	}
	msg := strings.ToLower(err.Error())
	for _, r := range rules {
		for _, sub := range r.Contains {
			if strings.Contains(msg, strings.ToLower(sub)) {
				return r.Action
			}
		}
	}
	return fallback
}
