package amount

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"github.com/shopspring/decimal"
)

// SpecKind 金额表达式类型
type SpecKind int

const (
	SpecFixed   SpecKind = iota // "0.1"
	SpecRange                   // "0.1-0.2"
	SpecPercent                 // "50%" 或 "10%-20%"
	SpecAll                     // "all"
)

// Spec 任务里配置的金额表达式
type Spec struct {
	Kind SpecKind
	Min  decimal.Decimal
	Max  decimal.Decimal
	// Precision 随机金额保留的小数位
	Precision int32
}

var ErrInsufficient = errors.New("amount: balance below reserve")

// ParseSpec 解析金额表达式
func ParseSpec(s string) (Spec, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Spec{}, errors.New("amount: empty spec")
	}
	if s == "all" || s == "max" {
		return Spec{Kind: SpecAll}, nil
	}

	percent := strings.HasSuffix(s, "%")
	lo, hi, isRange := strings.Cut(s, "-")
	parse := func(v string) (decimal.Decimal, error) {
		v = strings.TrimSuffix(strings.TrimSpace(v), "%")
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, fmt.Errorf("amount: invalid spec %q", s)
		}
		if d.IsNegative() {
			return decimal.Zero, fmt.Errorf("amount: negative spec %q", s)
		}
		return d, nil
	}

	min, err := parse(lo)
	if err != nil {
		return Spec{}, err
	}
	max := min
	if isRange {
		if max, err = parse(hi); err != nil {
			return Spec{}, err
		}
		if max.LessThan(min) {
			min, max = max, min
		}
	}

	sp := Spec{Min: min, Max: max, Precision: 6}
	switch {
	case percent:
		if max.GreaterThan(decimal.NewFromInt(100)) {
			return Spec{}, fmt.Errorf("amount: percent above 100 in %q", s)
		}
		sp.Kind = SpecPercent
	case isRange:
		sp.Kind = SpecRange
	default:
		sp.Kind = SpecFixed
	}
	return sp, nil
}

// MustParseSpec 测试与常量用
func MustParseSpec(s string) Spec {
	sp, err := ParseSpec(s)
	if err != nil {
		panic(err)
	}
	return sp
}

func (s Spec) pick(rnd *rand.Rand) decimal.Decimal {
	if s.Min.Equal(s.Max) || rnd == nil {
		return s.Min
	}
	span := s.Max.Sub(s.Min)
	return s.Min.Add(span.Mul(decimal.NewFromFloat(rnd.Float64())))
}

// Resolve 根据可用余额计算本次要发送的金额：
// 可用 = balance - reserve；固定/区间金额超过可用时报错，百分比/all 基于可用计算。
func (s Spec) Resolve(balance, reserve Amount, rnd *rand.Rand) (Amount, error) {
	available, err := balance.Sub(reserve)
	if err != nil {
		if errors.Is(err, ErrNegative) {
			return Amount{}, fmt.Errorf("%w: balance %s, reserve %s", ErrInsufficient, balance, reserve)
		}
		return Amount{}, err
	}

	var out Amount
	switch s.Kind {
	case SpecAll:
		out = available
	case SpecPercent:
		ratio := s.pick(rnd).Div(decimal.NewFromInt(100))
		out = available.MulRatio(ratio)
	default:
		d := s.pick(rnd)
		if s.Kind == SpecRange {
			d = d.Truncate(s.Precision)
		}
		out = FromDecimal(d, balance.decimals, balance.symbol)
		if out.Cmp(available) > 0 {
			return Amount{}, fmt.Errorf("%w: want %s, available %s", ErrInsufficient, out, available)
		}
	}
	if out.IsZero() {
		return Amount{}, fmt.Errorf("%w: resolved zero from %s", ErrInsufficient, available)
	}
	return out, nil
}

func (s Spec) String() string {
	switch s.Kind {
	case SpecAll:
		return "all"
	case SpecPercent:
		if s.Min.Equal(s.Max) {
			return s.Min.String() + "%"
		}
		return s.Min.String() + "%-" + s.Max.String() + "%"
	case SpecRange:
		return s.Min.String() + "-" + s.Max.String()
	}
	return s.Min.String()
}
