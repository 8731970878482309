package btc

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/web3mt/web3mt/pkg/amount"
	"github.com/web3mt/web3mt/pkg/httpx"
	"github.com/web3mt/web3mt/pkg/logger"
	"github.com/web3mt/web3mt/pkg/txflow"
)

var ErrInsufficientFunds = errors.New("btc: insufficient funds")

// P2WPKH 交易的 vsize 估算
const (
	txOverheadVBytes = 11
	inputVBytes      = 68
	outputVBytes     = 31
)

func estimateVSize(nIn, nOut int) int64 {
	return int64(txOverheadVBytes + inputVBytes*nIn + outputVBytes*nOut)
}

func feeFor(rate float64, nIn, nOut int) int64 {
	return int64(math.Ceil(rate * float64(estimateVSize(nIn, nOut))))
}

// selection 选币结果
type selection struct {
	inputs []UTXO
	send   int64
	change int64
	fee    int64
}

// selectCoins 大额优先选币。sweep=true 时花掉全部 UTXO，扣除手续费后全部发送。
// 找零低于 dust 时并入手续费。
func selectCoins(utxos []UTXO, target int64, rate float64, dust int64, sweep bool) (*selection, error) {
	var total int64
	if sweep {
		for _, u := range utxos {
			total += u.Value
		}
		fee := feeFor(rate, len(utxos), 1)
		if total-fee < dust {
			return nil, fmt.Errorf("%w: balance %d sats cannot cover fee %d", ErrInsufficientFunds, total, fee)
		}
		return &selection{inputs: utxos, send: total - fee, fee: fee}, nil
	}

	for i, u := range utxos {
		total += u.Value
		n := i + 1
		noChange := feeFor(rate, n, 1)
		if total < target+noChange {
			continue
		}
		withChange := feeFor(rate, n, 2)
		change := total - target - withChange
		if change >= dust {
			return &selection{inputs: utxos[:n], send: target, change: change, fee: withChange}, nil
		}
		return &selection{inputs: utxos[:n], send: target, fee: total - target}, nil
	}
	return nil, fmt.Errorf("%w: have %d sats, need %d + fee", ErrInsufficientFunds, total, target)
}

var btcRules = []txflow.Rule{
	{Contains: []string{"txn-already-in-mempool", "txn-already-known", "transaction already in block chain"}, Action: txflow.ActionKnown},
	{Contains: []string{
		"min relay fee not met", "mempool min fee not met", "insufficient fee", "fee too low",
	}, Action: txflow.ActionBumpFee},
	{Contains: []string{"txn-mempool-conflict", "bad-txns-inputs-missingorspent", "missing-inputs", "missingorspent"}, Action: txflow.ActionRefreshNonce},
	{Contains: []string{"dust", "bad-txns-in-belowout", "non-mandatory-script-verify-flag", "too-long-mempool-chain"}, Action: txflow.ActionFail},
}

// Classify 广播错误归类
func Classify(err error) txflow.Action {
	if errors.Is(err, ErrInsufficientFunds) {
		return txflow.ActionFail
	}
	return txflow.Classify(err, btcRules, txflow.ActionRetry)
}

// Receipt 已确认交易
type Receipt struct {
	TxID     string
	Height   int64
	Sent     amount.Amount
	Fee      amount.Amount
	URL      string
	Attempts int
	Bumps    int
}

type submitter struct {
	c          *Client
	key        *btcec.PrivateKey
	fromAddr   string
	fromScript []byte
	toScript   []byte
	value      int64
	sweep      bool

	utxos   []UTXO
	rate    float64
	initial float64
	sel     *selection
	raw     string
	txid    string
}

func (s *submitter) Prepare(ctx context.Context, at *txflow.Attempt) error {
	if s.utxos == nil || at.RefreshNonce {
		utxos, err := s.c.UTXOs(ctx, s.fromAddr)
		if err != nil {
			return err
		}
		if len(utxos) == 0 {
			return txflow.Permanent(fmt.Errorf("%w: no spendable outputs", ErrInsufficientFunds))
		}
		s.utxos = utxos
	}

	switch {
	case s.rate == 0:
		rate, err := s.c.FeeRate(ctx, s.c.cfg.TargetBlocks)
		if err != nil {
			return err
		}
		s.rate, s.initial = rate, rate
	case at.Bump:
		// RBF 要求新交易总费用更高，且至少多出 1 sat/vB
		next := math.Max(s.rate*1.25, s.rate+1)
		if next > s.initial*5 || next > s.c.cfg.MaxFeeRate {
			return txflow.Permanent(fmt.Errorf("btc: fee rate bump ceiling reached (%.1f sat/vB)", s.rate))
		}
		logger.ForChain(s.c.chain.Name).Infof("提价: %.1f -> %.1f sat/vB", s.rate, next)
		s.rate = next
	}

	sel, err := selectCoins(s.utxos, s.value, s.rate, s.c.net.DustLimit, s.sweep)
	if err != nil {
		return txflow.Permanent(err)
	}
	tx, err := s.build(sel)
	if err != nil {
		return txflow.Permanent(err)
	}
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return txflow.Permanent(err)
	}
	s.sel = sel
	s.raw = hex.EncodeToString(buf.Bytes())
	s.txid = tx.TxHash().String()
	return nil
}

// build 构造并签名交易。输入序号 < 0xfffffffe 以支持 RBF。
func (s *submitter) build(sel *selection) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(2)
	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(sel.inputs))
	for _, u := range sel.inputs {
		h, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return nil, fmt.Errorf("btc: bad utxo txid %q: %w", u.TxID, err)
		}
		op := wire.NewOutPoint(h, u.Vout)
		in := wire.NewTxIn(op, nil, nil)
		in.Sequence = wire.MaxTxInSequenceNum - 2
		tx.AddTxIn(in)
		prevOuts[*op] = wire.NewTxOut(u.Value, s.fromScript)
	}
	tx.AddTxOut(wire.NewTxOut(sel.send, s.toScript))
	if sel.change > 0 {
		tx.AddTxOut(wire.NewTxOut(sel.change, s.fromScript))
	}

	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	hashes := txscript.NewTxSigHashes(tx, fetcher)
	for i, u := range sel.inputs {
		w, err := txscript.WitnessSignature(tx, hashes, i, u.Value, s.fromScript, txscript.SigHashAll, s.key, true)
		if err != nil {
			return nil, fmt.Errorf("btc: sign input %d: %w", i, err)
		}
		tx.TxIn[i].Witness = w
	}
	return tx, nil
}

func (s *submitter) Submit(ctx context.Context, _ *txflow.Attempt) (string, error) {
	if _, err := s.c.Broadcast(ctx, s.raw); err != nil {
		return s.txid, err
	}
	return s.txid, nil
}

func (s *submitter) Status(ctx context.Context, hash string) (txflow.Status, error) {
	confirmed, _, err := s.c.TxStatus(ctx, hash)
	if err != nil {
		if httpx.StatusCode(err) == 404 {
			return txflow.StatusNotFound, nil
		}
		return txflow.StatusPending, err
	}
	if confirmed {
		return txflow.StatusSuccess, nil
	}
	return txflow.StatusPending, nil
}

func (s *submitter) Classify(err error) txflow.Action { return Classify(err) }

// Send 发送 value 到 to，找零回到自己的 P2WPKH 地址
func (c *Client) Send(ctx context.Context, key *btcec.PrivateKey, to string, value amount.Amount) (*Receipt, error) {
	sats, ok := value.Uint64()
	if !ok || sats == 0 || sats > math.MaxInt64 {
		return nil, fmt.Errorf("btc: invalid amount %s", value)
	}
	return c.send(ctx, key, to, int64(sats), false)
}

// SendAll 扫空地址余额
func (c *Client) SendAll(ctx context.Context, key *btcec.PrivateKey, to string) (*Receipt, error) {
	return c.send(ctx, key, to, 0, true)
}

func (c *Client) send(ctx context.Context, key *btcec.PrivateKey, to string, sats int64, sweep bool) (*Receipt, error) {
	from, err := c.Address(key)
	if err != nil {
		return nil, err
	}
	toAddr, err := c.DecodeAddress(to)
	if err != nil {
		return nil, err
	}
	s, err := newSubmitter(c, key, from, toAddr)
	if err != nil {
		return nil, err
	}
	s.value, s.sweep = sats, sweep

	opts := c.cfg.Flow
	opts.Label = c.chain.Name + ":send"
	opts.Log = logger.WithFields(map[string]interface{}{
		logger.FieldChain: c.chain.Name,
		"from":            from.EncodeAddress(),
		"op":              "send",
	})
	res, err := txflow.Run(ctx, s, opts)
	if res == nil || res.Hash == "" {
		return nil, err
	}
	native := c.chain.Native
	out := &Receipt{
		TxID:     res.Hash,
		URL:      c.chain.TxURL(res.Hash),
		Attempts: res.Attempts,
		Bumps:    res.Bumps,
		Sent:     amount.Zero(native.Decimals, native.Symbol),
		Fee:      amount.Zero(native.Decimals, native.Symbol),
	}
	if s.sel != nil {
		out.Sent = amount.FromUint(uint64(s.sel.send), native.Decimals, native.Symbol)
		out.Fee = amount.FromUint(uint64(s.sel.fee), native.Decimals, native.Symbol)
	}
	if _, h, serr := c.TxStatus(ctx, res.Hash); serr == nil {
		out.Height = h
	}
	return out, err
}

func newSubmitter(c *Client, key *btcec.PrivateKey, from, to btcutil.Address) (*submitter, error) {
	fromScript, err := txscript.PayToAddrScript(from)
	if err != nil {
		return nil, err
	}
	toScript, err := txscript.PayToAddrScript(to)
	if err != nil {
		return nil, err
	}
	return &submitter{c: c, key: key, fromAddr: from.EncodeAddress(), fromScript: fromScript, toScript: toScript}, nil
}
