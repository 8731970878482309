package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/web3mt/web3mt/pkg/amount"
	"github.com/web3mt/web3mt/pkg/logger"
	"github.com/web3mt/web3mt/pkg/txflow"
)

var (
	ErrFeeTooHigh = errors.New("evm: network fee above configured maximum")
	ErrFeeCeiling = errors.New("evm: fee bump ceiling reached")
)

// TxRequest 待发送的交易
type TxRequest struct {
	From  *ecdsa.PrivateKey
	To    common.Address
	Value *big.Int
	Data  []byte
	// GasLimit 为 0 时自动估算
	GasLimit uint64
	// Label 日志/指标里的标识，如 "transfer" / "approve"
	Label string
}

// Receipt 确认后的交易信息
type Receipt struct {
	Hash     common.Hash
	Block    uint64
	GasUsed  uint64
	Fee      amount.Amount
	URL      string
	Attempts int
	Bumps    int
}

// evmRules 节点错误归类。不同客户端（geth / erigon / nethermind / 各 L2）措辞不一，尽量覆盖常见写法。
var evmRules = []txflow.Rule{
	{Contains: []string{"nonce too low", "nonce is too low", "oldnonce", "nonce has already been used"}, Action: txflow.ActionCheckMined},
	{Contains: []string{"nonce too high", "nonce gap"}, Action: txflow.ActionRefreshNonce},
	{Contains: []string{"already known", "known transaction", "alreadyknown", "already imported", "tx already exists in cache"}, Action: txflow.ActionKnown},
	{Contains: []string{
		"replacement transaction underpriced", "transaction underpriced", "underpriced",
		"max fee per gas less than block base fee", "fee cap less than block base fee",
		"maxfeepergas too low", "fee too low", "gas price too low",
	}, Action: txflow.ActionBumpFee},
	{Contains: []string{"insufficient funds", "exceeds balance", "execution reverted", "invalid opcode", "exceeds block gas limit"}, Action: txflow.ActionFail},
	{Contains: []string{"intrinsic gas too low", "gas too low", "out of gas"}, Action: txflow.ActionRetry},
}

// Classify EVM 错误归类，未命中的按网络抖动处理（重试）
func Classify(err error) txflow.Action {
	if errors.Is(err, ErrFeeTooHigh) || errors.Is(err, ErrFeeCeiling) || errors.Is(err, ErrInsufficientFunds) {
		return txflow.ActionFail
	}
	return txflow.Classify(err, evmRules, txflow.ActionRetry)
}

func isGasTooLow(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "gas too low") || strings.Contains(msg, "out of gas")
}

// submitter 实现 txflow.Submitter
type submitter struct {
	c    *Client
	req  TxRequest
	from common.Address

	nonce    uint64
	hasNonce bool
	fees     *Fees
	initial  *Fees
	gas      uint64
	signed   *types.Transaction
	sent     bool
}

var _ txflow.Submitter = (*submitter)(nil)

func (s *submitter) Prepare(ctx context.Context, at *txflow.Attempt) error {
	b := s.c.backend

	if !s.hasNonce || at.RefreshNonce {
		n, err := s.c.nonces.Acquire(ctx, b, s.from, at.RefreshNonce)
		if err != nil {
			return fmt.Errorf("获取nonce失败: %w", err)
		}
		s.nonce, s.hasNonce = n, true
	}

	switch {
	case s.fees == nil:
		fees, err := s.c.SuggestFees(ctx)
		if err != nil {
			return err
		}
		s.fees, s.initial = fees, fees
	case at.Bump:
		fresh, _ := s.c.SuggestFees(ctx)
		bumped, err := s.c.Bump(s.fees, fresh, s.initial)
		if err != nil {
			return err
		}
		logger.ForChain(s.c.chain.Name).Infof("提价: %s -> %s", s.fees, bumped)
		s.fees = bumped
	case at.RefreshNonce && !s.sent:
		// 新 nonce 的交易不是替换，可以用最新费用
		if fees, err := s.c.SuggestFees(ctx); err == nil {
			s.fees, s.initial = fees, fees
		}
	}

	value := s.req.Value
	if value == nil {
		value = new(big.Int)
	}

	switch {
	case s.req.GasLimit > 0:
		s.gas = s.req.GasLimit
		if isGasTooLow(at.LastErr) {
			s.gas = uint64(float64(s.gas) * 1.3)
			s.req.GasLimit = s.gas
		}
	case s.gas == 0 || isGasTooLow(at.LastErr):
		to := s.req.To
		est, err := s.c.backend.EstimateGas(ctx, ethereum.CallMsg{From: s.from, To: &to, Value: value, Data: s.req.Data})
		if err != nil {
			return fmt.Errorf("估算gas失败: %w", err)
		}
		buffer := s.c.cfg.GasBuffer
		if isGasTooLow(at.LastErr) {
			buffer *= 1.3
		}
		s.gas = uint64(float64(est) * buffer)
	}

	// 本地余额检查：value + gas * maxFee
	cost := new(big.Int).Mul(new(big.Int).SetUint64(s.gas), s.fees.Max())
	cost.Add(cost, value)
	bal, err := s.c.backend.BalanceAt(ctx, s.from, nil)
	if err != nil {
		return fmt.Errorf("获取余额失败: %w", err)
	}
	if bal.Cmp(cost) < 0 {
		return txflow.Permanent(fmt.Errorf("%w: have %s, need %s",
			ErrInsufficientFunds, amount.ForToken(s.c.chain.Native, bal), amount.ForToken(s.c.chain.Native, cost)))
	}

	var txdata types.TxData
	to := s.req.To
	if s.fees.Dynamic {
		txdata = &types.DynamicFeeTx{
			ChainID:   big.NewInt(s.c.chain.ChainID),
			Nonce:     s.nonce,
			GasTipCap: s.fees.TipCap,
			GasFeeCap: s.fees.FeeCap,
			Gas:       s.gas,
			To:        &to,
			Value:     value,
			Data:      s.req.Data,
		}
	} else {
		txdata = &types.LegacyTx{
			Nonce:    s.nonce,
			GasPrice: s.fees.GasPrice,
			Gas:      s.gas,
			To:       &to,
			Value:    value,
			Data:     s.req.Data,
		}
	}
	signer := types.LatestSignerForChainID(big.NewInt(s.c.chain.ChainID))
	signed, err := types.SignNewTx(s.req.From, signer, txdata)
	if err != nil {
		return txflow.Permanent(fmt.Errorf("签名交易失败: %w", err))
	}
	s.signed = signed
	return nil
}

func (s *submitter) Submit(ctx context.Context, _ *txflow.Attempt) (string, error) {
	hash := s.signed.Hash().Hex()
	if err := s.c.backend.SendTransaction(ctx, s.signed); err != nil {
		return hash, err
	}
	s.sent = true
	return hash, nil
}

func (s *submitter) Status(ctx context.Context, hash string) (txflow.Status, error) {
	h := common.HexToHash(hash)
	r, err := s.c.backend.TransactionReceipt(ctx, h)
	if err == nil && r != nil {
		if r.Status == types.ReceiptStatusSuccessful {
			return txflow.StatusSuccess, nil
		}
		return txflow.StatusReverted, nil
	}
	if err != nil && !errors.Is(err, ethereum.NotFound) {
		return txflow.StatusPending, err
	}
	_, pending, err := s.c.backend.TransactionByHash(ctx, h)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return txflow.StatusNotFound, nil
		}
		return txflow.StatusPending, err
	}
	if pending {
		return txflow.StatusPending, nil
	}
	// 已打包但回执还没同步到这个节点
	return txflow.StatusPending, nil
}

func (s *submitter) Classify(err error) txflow.Action { return Classify(err) }

// Send 发送交易并等待确认
func (c *Client) Send(ctx context.Context, req TxRequest) (*Receipt, error) {
	if req.From == nil {
		return nil, errors.New("evm: sender key is required")
	}
	s := &submitter{c: c, req: req, from: AddressOf(req.From)}

	opts := c.cfg.Flow
	opts.Label = c.chain.Name + ":" + req.Label
	opts.Log = logger.WithFields(map[string]interface{}{
		logger.FieldChain: c.chain.Name,
		"from":            s.from.Hex(),
		"op":              req.Label,
	})

	res, err := txflow.Run(ctx, s, opts)
	if err != nil {
		if s.hasNonce && !s.sent {
			c.nonces.Release(s.from, s.nonce)
		}
		if res != nil && res.Hash != "" {
			return c.receipt(ctx, res), err
		}
		return nil, err
	}
	return c.receipt(ctx, res), nil
}

func (c *Client) receipt(ctx context.Context, res *txflow.Result) *Receipt {
	h := common.HexToHash(res.Hash)
	out := &Receipt{
		Hash:     h,
		URL:      c.chain.TxURL(h.Hex()),
		Attempts: res.Attempts,
		Bumps:    res.Bumps,
		Fee:      amount.Zero(c.chain.Native.Decimals, c.chain.Native.Symbol),
	}
	r, err := c.backend.TransactionReceipt(ctx, h)
	if err != nil || r == nil {
		return out
	}
	if r.BlockNumber != nil {
		out.Block = r.BlockNumber.Uint64()
	}
	out.GasUsed = r.GasUsed
	if r.EffectiveGasPrice != nil {
		fee := new(big.Int).Mul(r.EffectiveGasPrice, new(big.Int).SetUint64(r.GasUsed))
		out.Fee = amount.ForToken(c.chain.Native, fee)
	}
	return out
}

// Transfer 发送原生币
func (c *Client) Transfer(ctx context.Context, from *ecdsa.PrivateKey, to common.Address, value amount.Amount) (*Receipt, error) {
	return c.Send(ctx, TxRequest{From: from, To: to, Value: value.Wei(), GasLimit: c.transferGas(), Label: "transfer"})
}

// transferGas 原生转账 gas；L2 上 21000 不一定够（zkSync 等），交给节点估算
func (c *Client) transferGas() uint64 {
	switch c.chain.ChainID {
	case 1, 56, 137, 43114, 11155111:
		return 21000
	}
	return 0
}
