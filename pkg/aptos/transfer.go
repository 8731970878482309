package aptos

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/web3mt/web3mt/pkg/amount"
	"github.com/web3mt/web3mt/pkg/logger"
	"github.com/web3mt/web3mt/pkg/txflow"
)

// Payload entry function 调用
type Payload struct {
	Function      string
	TypeArguments []string
	Arguments     []any
}

func (p Payload) toJSON() map[string]any {
	typeArgs := p.TypeArguments
	if typeArgs == nil {
		typeArgs = []string{}
	}
	args := p.Arguments
	if args == nil {
		args = []any{}
	}
	return map[string]any{
		"type":           "entry_function_payload",
		"function":       p.Function,
		"type_arguments": typeArgs,
		"arguments":      args,
	}
}

// Receipt 已确认交易
type Receipt struct {
	Hash     string
	Version  uint64
	GasUsed  uint64
	Fee      amount.Amount
	URL      string
	Attempts int
	Bumps    int
}

var aptosRules = []txflow.Rule{
	{Contains: []string{"SEQUENCE_NUMBER_TOO_OLD", "SEQUENCE_NUMBER_TOO_NEW", "TRANSACTION_EXPIRED"}, Action: txflow.ActionRefreshNonce},
	{Contains: []string{"GAS_UNIT_PRICE_BELOW_MIN_BOUND"}, Action: txflow.ActionBumpFee},
	{Contains: []string{
		"INSUFFICIENT_BALANCE_FOR_TRANSACTION_FEE", "EINSUFFICIENT_BALANCE",
		"MAX_GAS_UNITS_EXCEEDS_MAX_GAS_UNITS_BOUND", "INVALID_AUTH_KEY", "INVALID_SIGNATURE",
	}, Action: txflow.ActionFail},
	{Contains: []string{"already in mempool"}, Action: txflow.ActionKnown},
}

// Classify Aptos 错误归类
func Classify(err error) txflow.Action {
	return txflow.Classify(err, aptosRules, txflow.ActionRetry)
}

type submitter struct {
	c       *Client
	acct    *Account
	payload Payload
	need    *big.Int // 本地余额检查的 APT 数量（不含手续费），nil 不检查

	seq     uint64
	hasSeq  bool
	price   uint64
	initial uint64
	signed  map[string]any
}

func (s *submitter) Prepare(ctx context.Context, at *txflow.Attempt) error {
	if !s.hasSeq || at.RefreshNonce {
		seq, err := s.c.SequenceNumber(ctx, s.acct.Address)
		if err != nil {
			return err
		}
		s.seq, s.hasSeq = seq, true
	}

	switch {
	case s.price == 0:
		p, err := s.c.GasPrice(ctx)
		if err != nil {
			return err
		}
		s.price, s.initial = p, p
	case at.Bump:
		next := s.price * 12 / 10
		if next <= s.price {
			next = s.price + 1
		}
		if next > s.initial*5 {
			return txflow.Permanent(fmt.Errorf("aptos: gas price bump ceiling reached (%d)", s.price))
		}
		logger.ForChain(s.c.chain.Name).Infof("提价: %d -> %d octas", s.price, next)
		s.price = next
	}

	if s.need != nil {
		bal, err := s.c.Balance(ctx, s.acct.Address)
		if err != nil {
			return err
		}
		cost := new(big.Int).SetUint64(s.c.cfg.MaxGasAmount * s.price)
		cost.Add(cost, s.need)
		if bal.Wei().Cmp(cost) < 0 {
			return txflow.Permanent(fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, bal, amount.ForToken(s.c.chain.Native, cost)))
		}
	}

	txn := map[string]any{
		"sender":                    s.acct.Address,
		"sequence_number":           strconv.FormatUint(s.seq, 10),
		"max_gas_amount":            strconv.FormatUint(s.c.cfg.MaxGasAmount, 10),
		"gas_unit_price":            strconv.FormatUint(s.price, 10),
		"expiration_timestamp_secs": strconv.FormatInt(time.Now().Add(s.c.cfg.ExpireAfter).Unix(), 10),
		"payload":                   s.payload.toJSON(),
	}
	res, err := s.c.post(ctx, "/transactions/encode_submission", txn)
	if err != nil {
		return fmt.Errorf("编码交易失败: %w", err)
	}
	msg, err := hex.DecodeString(strings.TrimPrefix(res.String(), "0x"))
	if err != nil || len(msg) == 0 {
		return fmt.Errorf("aptos: invalid signing message %s", res.Raw)
	}
	sig := ed25519.Sign(s.acct.Key, msg)
	txn["signature"] = map[string]any{
		"type":       "ed25519_signature",
		"public_key": s.acct.PublicKeyHex(),
		"signature":  "0x" + hex.EncodeToString(sig),
	}
	s.signed = txn
	return nil
}

func (s *submitter) Submit(ctx context.Context, _ *txflow.Attempt) (string, error) {
	res, err := s.c.post(ctx, "/transactions", s.signed)
	if err != nil {
		return "", err
	}
	return res.Get("hash").String(), nil
}

func (s *submitter) Status(ctx context.Context, hash string) (txflow.Status, error) {
	info, err := s.c.Transaction(ctx, hash)
	if err != nil {
		if notFound(err) {
			return txflow.StatusNotFound, nil
		}
		return txflow.StatusPending, err
	}
	switch {
	case info.Pending:
		return txflow.StatusPending, nil
	case info.Success:
		return txflow.StatusSuccess, nil
	default:
		return txflow.StatusReverted, nil
	}
}

func (s *submitter) Classify(err error) txflow.Action { return Classify(err) }

// Submit 签名并提交一个 entry function 调用，等待确认
func (c *Client) Submit(ctx context.Context, acct *Account, payload Payload, label string) (*Receipt, error) {
	return c.submit(ctx, &submitter{c: c, acct: acct, payload: payload}, label)
}

func (c *Client) submit(ctx context.Context, s *submitter, label string) (*Receipt, error) {
	opts := c.cfg.Flow
	opts.Label = c.chain.Name + ":" + label
	opts.Log = logger.WithFields(map[string]interface{}{
		logger.FieldChain: c.chain.Name,
		"from":            s.acct.Address,
		"op":              label,
	})
	res, err := txflow.Run(ctx, s, opts)
	if res == nil || res.Hash == "" {
		return nil, err
	}
	return c.receipt(ctx, res), err
}

func (c *Client) receipt(ctx context.Context, res *txflow.Result) *Receipt {
	out := &Receipt{
		Hash:     res.Hash,
		URL:      c.chain.TxURL(res.Hash),
		Attempts: res.Attempts,
		Bumps:    res.Bumps,
		Fee:      amount.Zero(c.chain.Native.Decimals, c.chain.Native.Symbol),
	}
	info, err := c.Transaction(ctx, res.Hash)
	if err != nil {
		return out
	}
	out.Version = info.Version
	out.GasUsed = info.GasUsed
	out.Fee = amount.FromUint(info.GasUsed*info.GasPrice, c.chain.Native.Decimals, c.chain.Native.Symbol)
	return out
}

// Transfer 转 APT；目标账户不存在时 aptos_account::transfer 会自动创建
func (c *Client) Transfer(ctx context.Context, acct *Account, to string, value amount.Amount) (*Receipt, error) {
	to, err := NormalizeAddress(to)
	if err != nil {
		return nil, err
	}
	s := &submitter{
		c:    c,
		acct: acct,
		need: value.Wei(),
		payload: Payload{
			Function:  "0x1::aptos_account::transfer",
			Arguments: []any{to, value.Wei().String()},
		},
	}
	return c.submit(ctx, s, "transfer")
}

// TransferCoin 转任意 Coin；token.Address 为 coin 类型
func (c *Client) TransferCoin(ctx context.Context, acct *Account, token amount.Token, to string, value amount.Amount) (*Receipt, error) {
	if token.IsNative() {
		return c.Transfer(ctx, acct, to, value)
	}
	to, err := NormalizeAddress(to)
	if err != nil {
		return nil, err
	}
	return c.Submit(ctx, acct, Payload{
		Function:      "0x1::aptos_account::transfer_coins",
		TypeArguments: []string{token.Address},
		Arguments:     []any{to, value.Wei().String()},
	}, "transfer_coins")
}
