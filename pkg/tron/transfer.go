package tron

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tidwall/gjson"

	"github.com/web3mt/web3mt/pkg/amount"
	"github.com/web3mt/web3mt/pkg/logger"
	"github.com/web3mt/web3mt/pkg/txflow"
)

var ErrTxIDMismatch = errors.New("tron: txID does not match raw_data_hex")

// Receipt 已确认交易
type Receipt struct {
	TxID       string
	Block      uint64
	Fee        amount.Amount
	EnergyUsed uint64
	URL        string
	Attempts   int
}

var tronRules = []txflow.Rule{
	{Contains: []string{"DUP_TRANSACTION_ERROR"}, Action: txflow.ActionKnown},
	{Contains: []string{"TAPOS_ERROR", "TRANSACTION_EXPIRATION_ERROR", "Transaction expired"}, Action: txflow.ActionRefreshNonce},
	{Contains: []string{
		"BANDWITH_ERROR", "balance is not sufficient", "CONTRACT_VALIDATE_ERROR",
		"SIGERROR", "account does not exist", "Validate TransferContract error",
	}, Action: txflow.ActionFail},
	{Contains: []string{"SERVER_BUSY", "NOT_ENOUGH_EFFECTIVE_CONNECTION", "NO_CONNECTION"}, Action: txflow.ActionRetry},
}

// Classify Tron 错误归类
func Classify(err error) txflow.Action {
	if errors.Is(err, ErrTxIDMismatch) {
		return txflow.ActionFail
	}
	return txflow.Classify(err, tronRules, txflow.ActionRetry)
}

// builder 在节点上构造未签名交易
type builder func(ctx context.Context) (gjson.Result, error)

type submitter struct {
	c     *Client
	key   *ecdsa.PrivateKey
	build builder

	tx map[string]any
	id string
}

// verifyTxID txID 必须等于 sha256(raw_data)，防止节点替换交易内容
func verifyTxID(tx gjson.Result) (string, []byte, error) {
	raw, err := hex.DecodeString(tx.Get("raw_data_hex").String())
	if err != nil || len(raw) == 0 {
		return "", nil, fmt.Errorf("tron: invalid raw_data_hex: %s", tx.Raw)
	}
	sum := sha256.Sum256(raw)
	id := hex.EncodeToString(sum[:])
	if id != tx.Get("txID").String() {
		return "", nil, fmt.Errorf("%w: node %s, local %s", ErrTxIDMismatch, tx.Get("txID").String(), id)
	}
	return id, sum[:], nil
}

func (s *submitter) Prepare(ctx context.Context, at *txflow.Attempt) error {
	// Tron 没有 nonce 和费用竞价；只有交易过期/引用区块失效后才重新构造，
	// 慢交易原样重播，避免新旧两笔都上链
	if s.tx != nil && !at.RefreshNonce {
		return nil
	}
	res, err := s.build(ctx)
	if err != nil {
		return err
	}
	id, digest, err := verifyTxID(res)
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return txflow.Permanent(fmt.Errorf("签名交易失败: %w", err))
	}
	// 保留数字原样，raw_data 里的大整数不能变成 float64
	var tx map[string]any
	dec := json.NewDecoder(strings.NewReader(res.Raw))
	dec.UseNumber()
	if err := dec.Decode(&tx); err != nil {
		return err
	}
	tx["signature"] = []string{hex.EncodeToString(sig)}
	s.tx, s.id = tx, id
	return nil
}

func (s *submitter) Submit(ctx context.Context, _ *txflow.Attempt) (string, error) {
	res, err := s.c.post(ctx, "/wallet/broadcasttransaction", s.tx)
	if err != nil {
		return s.id, err
	}
	if !res.Get("result").Bool() {
		return s.id, &APIError{Code: res.Get("code").String(), Message: decodeMessage(res.Get("message").String())}
	}
	return s.id, nil
}

func (s *submitter) Status(ctx context.Context, hash string) (txflow.Status, error) {
	info, err := s.c.TransactionInfo(ctx, hash)
	if err != nil {
		return txflow.StatusPending, err
	}
	if info.Found {
		if info.Success {
			return txflow.StatusSuccess, nil
		}
		return txflow.StatusReverted, nil
	}
	known, err := s.c.pendingKnown(ctx, hash)
	if err != nil {
		return txflow.StatusPending, err
	}
	if !known {
		return txflow.StatusNotFound, nil
	}
	return txflow.StatusPending, nil
}

func (s *submitter) Classify(err error) txflow.Action { return Classify(err) }

func (c *Client) run(ctx context.Context, key *ecdsa.PrivateKey, label string, build builder) (*Receipt, error) {
	from := AddressFromKey(&key.PublicKey)
	opts := c.cfg.Flow
	opts.Label = c.chain.Name + ":" + label
	opts.Log = logger.WithFields(map[string]interface{}{
		logger.FieldChain: c.chain.Name,
		"from":            from.String(),
		"op":              label,
	})
	res, err := txflow.Run(ctx, &submitter{c: c, key: key, build: build}, opts)
	if res == nil || res.Hash == "" {
		return nil, err
	}
	out := &Receipt{
		TxID:     res.Hash,
		URL:      c.chain.TxURL(res.Hash),
		Attempts: res.Attempts,
		Fee:      amount.Zero(c.chain.Native.Decimals, c.chain.Native.Symbol),
	}
	if info, ierr := c.TransactionInfo(ctx, res.Hash); ierr == nil && info.Found {
		out.Block = info.BlockNumber
		out.EnergyUsed = info.EnergyUsed
		out.Fee = amount.FromUint(info.Fee, c.chain.Native.Decimals, c.chain.Native.Symbol)
	}
	return out, err
}

// TransferTRX 转 TRX
func (c *Client) TransferTRX(ctx context.Context, key *ecdsa.PrivateKey, to Address, value amount.Amount) (*Receipt, error) {
	sun, ok := value.Uint64()
	if !ok || sun == 0 {
		return nil, fmt.Errorf("tron: invalid amount %s", value)
	}
	from := AddressFromKey(&key.PublicKey)
	return c.run(ctx, key, "transfer", func(ctx context.Context) (gjson.Result, error) {
		return c.post(ctx, "/wallet/createtransaction", map[string]any{
			"owner_address": from.String(),
			"to_address":    to.String(),
			"amount":        sun,
			"visible":       true,
		})
	})
}

// TransferTRC20 调用合约 transfer(address,uint256)
func (c *Client) TransferTRC20(ctx context.Context, key *ecdsa.PrivateKey, token amount.Token, to Address, value amount.Amount) (*Receipt, error) {
	if token.IsNative() {
		return c.TransferTRX(ctx, key, to, value)
	}
	from := AddressFromKey(&key.PublicKey)
	return c.run(ctx, key, "transfer_trc20", func(ctx context.Context) (gjson.Result, error) {
		res, err := c.post(ctx, "/wallet/triggersmartcontract", map[string]any{
			"owner_address":     from.String(),
			"contract_address":  token.Address,
			"function_selector": "transfer(address,uint256)",
			"parameter":         addressParam(to) + uintParam(value.Wei()),
			"fee_limit":         c.cfg.FeeLimit,
			"call_value":        0,
			"visible":           true,
		})
		if err != nil {
			return res, err
		}
		if !res.Get("result.result").Bool() {
			return res, &APIError{Code: res.Get("result.code").String(), Message: decodeMessage(res.Get("result.message").String())}
		}
		return res.Get("transaction"), nil
	})
}
