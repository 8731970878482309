package tasks

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/web3mt/web3mt/pkg/amount"
)

// Params 步骤参数（YAML 解码后的 map）
type Params map[string]any

// String 缺省返回 def
func (p Params) String(key, def string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return def
	}
	s := strings.TrimSpace(fmt.Sprint(v))
	if s == "" {
		return def
	}
	return s
}

// Require 必填参数
func (p Params) Require(key string) (string, error) {
	s := p.String(key, "")
	if s == "" {
		return "", fmt.Errorf("param %q is required", key)
	}
	return s, nil
}

// Bool 支持 bool 和 "true"/"false"
func (p Params) Bool(key string, def bool) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return def
		}
		return b
	}
	return def
}

// Float 数值参数
func (p Params) Float(key string, def float64) (float64, error) {
	switch v := p[key].(type) {
	case nil:
		return def, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("param %q: %w", key, err)
		}
		return f, nil
	}
	return 0, fmt.Errorf("param %q: unexpected type %T", key, p[key])
}

// Duration 数字按秒，字符串按 time.ParseDuration
func (p Params) Duration(key string, def time.Duration) (time.Duration, error) {
	if s, ok := p[key].(string); ok {
		d, err := time.ParseDuration(strings.TrimSpace(s))
		if err != nil {
			return 0, fmt.Errorf("param %q: %w", key, err)
		}
		return d, nil
	}
	f, err := p.Float(key, -1)
	if err != nil {
		return 0, err
	}
	if f < 0 {
		return def, nil
	}
	return time.Duration(f * float64(time.Second)), nil
}

// Strings 列表参数，也接受逗号分隔的字符串
func (p Params) Strings(key string) []string {
	var raw []string
	switch v := p[key].(type) {
	case []any:
		for _, x := range v {
			raw = append(raw, fmt.Sprint(x))
		}
	case []string:
		raw = v
	case string:
		raw = strings.Split(v, ",")
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Spec 金额表达式
func (p Params) Spec(key, def string) (amount.Spec, error) {
	s := p.String(key, def)
	sp, err := amount.ParseSpec(s)
	if err != nil {
		return amount.Spec{}, fmt.Errorf("param %q: %w", key, err)
	}
	if v, ok := p["precision"]; ok {
		n, err := strconv.Atoi(fmt.Sprint(v))
		if err != nil || n < 0 || n > 18 {
			return amount.Spec{}, fmt.Errorf("param \"precision\": invalid %v", v)
		}
		sp.Precision = int32(n)
	}
	return sp, nil
}
