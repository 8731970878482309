package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/web3mt/web3mt/pkg/amount"
)

// Fees 一笔交易的费用参数。Dynamic=true 时使用 TipCap/FeeCap，否则使用 GasPrice。
type Fees struct {
	Dynamic  bool
	GasPrice *big.Int
	TipCap   *big.Int
	FeeCap   *big.Int
}

// Max 每单位 gas 的最大花费
func (f *Fees) Max() *big.Int {
	if f.Dynamic {
		return new(big.Int).Set(f.FeeCap)
	}
	return new(big.Int).Set(f.GasPrice)
}

func (f *Fees) String() string {
	if f.Dynamic {
		return fmt.Sprintf("tip=%s gwei, maxFee=%s gwei", amount.WeiToGwei(f.TipCap), amount.WeiToGwei(f.FeeCap))
	}
	return fmt.Sprintf("gasPrice=%s gwei", amount.WeiToGwei(f.GasPrice))
}

func mulFloat(v *big.Int, factor float64) *big.Int {
	return decimal.NewFromBigInt(v, 0).Mul(decimal.NewFromFloat(factor)).Ceil().BigInt()
}

func maxBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// SuggestFees 按链类型给出建议费用：
// EIP-1559 链 maxFee = 2 * baseFee + tip；节点不返回 baseFee 时退回 legacy gasPrice。
func (c *Client) SuggestFees(ctx context.Context) (*Fees, error) {
	minTip := amount.GweiToWei(decimal.NewFromFloat(c.cfg.MinTipGwei))

	if c.chain.EIP1559 {
		head, err := c.backend.HeaderByNumber(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("获取最新区块失败: %w", err)
		}
		if head.BaseFee != nil {
			tip, err := c.backend.SuggestGasTipCap(ctx)
			if err != nil || tip == nil {
				tip = new(big.Int).Set(minTip)
			}
			tip = maxBig(mulFloat(tip, c.cfg.FeeMultiplier), minTip)
			feeCap := new(big.Int).Mul(head.BaseFee, big.NewInt(2))
			feeCap.Add(feeCap, tip)
			f := &Fees{Dynamic: true, TipCap: tip, FeeCap: feeCap}
			return c.capFees(f)
		}
	}

	price, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取gas价格失败: %w", err)
	}
	return c.capFees(&Fees{GasPrice: mulFloat(price, c.cfg.FeeMultiplier)})
}

// capFees 应用配置的最高费用；低于当前网络费用时直接报错，避免发出永远不会上链的交易
func (c *Client) capFees(f *Fees) (*Fees, error) {
	if c.cfg.MaxFeeGwei <= 0 {
		return f, nil
	}
	limit := amount.GweiToWei(decimal.NewFromFloat(c.cfg.MaxFeeGwei))
	if f.Dynamic {
		if f.TipCap.Cmp(limit) > 0 {
			return nil, fmt.Errorf("%w: tip %s gwei above max %v gwei", ErrFeeTooHigh, amount.WeiToGwei(f.TipCap), c.cfg.MaxFeeGwei)
		}
		f.FeeCap = minBig(f.FeeCap, limit)
		return f, nil
	}
	if f.GasPrice.Cmp(limit) > 0 {
		return nil, fmt.Errorf("%w: gas price %s gwei above max %v gwei", ErrFeeTooHigh, amount.WeiToGwei(f.GasPrice), c.cfg.MaxFeeGwei)
	}
	return f, nil
}

// Bump 在 prev 基础上提价（tip×TipBump，feeCap×FeeCapBump），并与最新建议值取大，
// 结果不超过 initial×MaxBumpMultiplier。无法再提价时返回 ErrFeeCeiling。
func (c *Client) Bump(prev, fresh, initial *Fees) (*Fees, error) {
	ceilMul := c.cfg.MaxBumpMultiplier
	if prev.Dynamic {
		tip := mulFloat(prev.TipCap, c.cfg.TipBump)
		feeCap := mulFloat(prev.FeeCap, c.cfg.FeeCapBump)
		if fresh != nil && fresh.Dynamic {
			tip = maxBig(tip, fresh.TipCap)
			feeCap = maxBig(feeCap, fresh.FeeCap)
		}
		if initial != nil {
			feeCap = minBig(feeCap, mulFloat(initial.FeeCap, ceilMul))
			tip = minBig(tip, mulFloat(initial.TipCap, ceilMul))
		}
		if tip.Cmp(feeCap) > 0 {
			tip = new(big.Int).Set(feeCap)
		}
		// 节点要求替换交易两个字段都至少 +10%
		if !raisedEnough(prev.TipCap, tip) || !raisedEnough(prev.FeeCap, feeCap) {
			return nil, ErrFeeCeiling
		}
		return &Fees{Dynamic: true, TipCap: tip, FeeCap: feeCap}, nil
	}

	price := mulFloat(prev.GasPrice, c.cfg.FeeCapBump)
	if fresh != nil && !fresh.Dynamic {
		price = maxBig(price, fresh.GasPrice)
	}
	if initial != nil {
		price = minBig(price, mulFloat(initial.GasPrice, ceilMul))
	}
	if !raisedEnough(prev.GasPrice, price) {
		return nil, ErrFeeCeiling
	}
	return &Fees{GasPrice: price}, nil
}

// raisedEnough next >= prev * 1.1
func raisedEnough(prev, next *big.Int) bool {
	floor := new(big.Int).Mul(prev, big.NewInt(110))
	floor.Div(floor, big.NewInt(100))
	return next.Cmp(floor) >= 0 && next.Cmp(prev) > 0
}
