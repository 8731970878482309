// Package amount 链上金额值对象：最小单位整数 + 精度 + 符号。
package amount

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrMismatch = errors.New("amount: decimals or symbol mismatch")
	ErrNegative = errors.New("amount: negative result")
)

// Token 代币描述
type Token struct {
	Symbol   string `yaml:"symbol" json:"symbol"`
	Decimals int32  `yaml:"decimals" json:"decimals"`
	// Address 合约地址 / mint / 资源类型；原生币为空
	Address string `yaml:"address,omitempty" json:"address,omitempty"`
}

// IsNative 是否原生币
func (t Token) IsNative() bool { return t.Address == "" }

// Amount 不可变的金额值对象
type Amount struct {
	wei      *big.Int
	decimals int32
	symbol   string
}

// Zero 零值
func Zero(decimals int32, symbol string) Amount {
	return Amount{wei: new(big.Int), decimals: decimals, symbol: symbol}
}

// FromWei 由最小单位构造
func FromWei(wei *big.Int, decimals int32, symbol string) Amount {
	v := new(big.Int)
	if wei != nil {
		v.Set(wei)
	}
	return Amount{wei: v, decimals: decimals, symbol: symbol}
}

// FromUint 由 uint64 最小单位构造（lamports / sats / octas）
func FromUint(v uint64, decimals int32, symbol string) Amount {
	return Amount{wei: new(big.Int).SetUint64(v), decimals: decimals, symbol: symbol}
}

// FromDecimal 由人类可读数值构造，低于最小单位的部分截断
func FromDecimal(d decimal.Decimal, decimals int32, symbol string) Amount {
	wei := d.Shift(decimals).Truncate(0).BigInt()
	return Amount{wei: wei, decimals: decimals, symbol: symbol}
}

// Parse 解析 "1.25" 这样的字符串
func Parse(s string, decimals int32, symbol string) (Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Amount{}, fmt.Errorf("amount: parse %q: %w", s, err)
	}
	if d.IsNegative() {
		return Amount{}, ErrNegative
	}
	return FromDecimal(d, decimals, symbol), nil
}

// ForToken 用 Token 的精度和符号构造
func ForToken(t Token, wei *big.Int) Amount {
	return FromWei(wei, t.Decimals, t.Symbol)
}

func (a Amount) raw() *big.Int {
	if a.wei == nil {
		return new(big.Int)
	}
	return a.wei
}

// Wei 返回最小单位（副本）
func (a Amount) Wei() *big.Int { return new(big.Int).Set(a.raw()) }

// Uint64 返回最小单位；超出范围时返回 false
func (a Amount) Uint64() (uint64, bool) {
	w := a.raw()
	if !w.IsUint64() {
		return 0, false
	}
	return w.Uint64(), true
}

// Decimals 精度
func (a Amount) Decimals() int32 { return a.decimals }

// Symbol 符号
func (a Amount) Symbol() string { return a.symbol }

// Decimal 人类可读数值
func (a Amount) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(a.raw(), -a.decimals)
}

// Float64 近似浮点值（只用于展示/比例计算）
func (a Amount) Float64() float64 {
	f, _ := a.Decimal().Float64()
	return f
}

// IsZero 是否为零
func (a Amount) IsZero() bool { return a.raw().Sign() == 0 }

func (a Amount) compatible(b Amount) error {
	if a.decimals != b.decimals || !strings.EqualFold(a.symbol, b.symbol) {
		return fmt.Errorf("%w: %s(%d) vs %s(%d)", ErrMismatch, a.symbol, a.decimals, b.symbol, b.decimals)
	}
	return nil
}

// Add 相加
func (a Amount) Add(b Amount) (Amount, error) {
	if err := a.compatible(b); err != nil {
		return Amount{}, err
	}
	return FromWei(new(big.Int).Add(a.raw(), b.raw()), a.decimals, a.symbol), nil
}

// Sub 相减，结果为负返回 ErrNegative
func (a Amount) Sub(b Amount) (Amount, error) {
	if err := a.compatible(b); err != nil {
		return Amount{}, err
	}
	r := new(big.Int).Sub(a.raw(), b.raw())
	if r.Sign() < 0 {
		return Amount{}, ErrNegative
	}
	return FromWei(r, a.decimals, a.symbol), nil
}

// SubFloor 相减，不足时返回零
func (a Amount) SubFloor(b Amount) Amount {
	r, err := a.Sub(b)
	if err != nil {
		return Zero(a.decimals, a.symbol)
	}
	return r
}

// MulRatio 乘以比例（向下取整到最小单位）
func (a Amount) MulRatio(ratio decimal.Decimal) Amount {
	wei := decimal.NewFromBigInt(a.raw(), 0).Mul(ratio).Truncate(0).BigInt()
	if wei.Sign() < 0 {
		wei.SetInt64(0)
	}
	return FromWei(wei, a.decimals, a.symbol)
}

// Cmp 比较最小单位；精度不同时按数值比较
func (a Amount) Cmp(b Amount) int {
	if a.decimals == b.decimals {
		return a.raw().Cmp(b.raw())
	}
	return a.Decimal().Cmp(b.Decimal())
}

// Round 按 places 位小数向下取整（随机金额时避免出现长尾小数）
func (a Amount) Round(places int32) Amount {
	if places >= a.decimals {
		return a
	}
	return FromDecimal(a.Decimal().Truncate(places), a.decimals, a.symbol)
}

// String 形如 "1.5 ETH"
func (a Amount) String() string {
	s := a.Decimal().String()
	if a.symbol == "" {
		return s
	}
	return s + " " + a.symbol
}

type amountJSON struct {
	Amount   string `json:"amount"`
	Symbol   string `json:"symbol"`
	Decimals int32  `json:"decimals"`
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(amountJSON{Amount: a.Decimal().String(), Symbol: a.symbol, Decimals: a.decimals})
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	var v amountJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := Parse(v.Amount, v.Decimals, v.Symbol)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// GweiToWei 1 gwei = 1e9 wei
func GweiToWei(gwei decimal.Decimal) *big.Int {
	return gwei.Shift(9).Truncate(0).BigInt()
}

// WeiToGwei 展示用
func WeiToGwei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -9)
}
