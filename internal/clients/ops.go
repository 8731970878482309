package clients

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/web3mt/web3mt/pkg/amount"
	"github.com/web3mt/web3mt/pkg/aptos"
	"github.com/web3mt/web3mt/pkg/btc"
	"github.com/web3mt/web3mt/pkg/chain"
	"github.com/web3mt/web3mt/pkg/evm"
	"github.com/web3mt/web3mt/pkg/monero"
	"github.com/web3mt/web3mt/pkg/solana"
	"github.com/web3mt/web3mt/pkg/tron"
)

// ErrUnsupported 链不支持该操作
var ErrUnsupported = errors.New("clients: unsupported operation")

// Account 一个链上账户。PrivateKey 编码与 wallet.Key 一致；
// Monero 由 wallet-rpc 托管私钥，用 Index 作为账户序号。
type Account struct {
	Kind       chain.Kind
	Address    string
	PrivateKey string
	Index      uint32
}

// Tx 已确认的转账
type Tx struct {
	Hash string
	URL  string
	Fee  amount.Amount
}

// AddressOn 账户在某条链上的地址。Bitcoin 类共用同一把 key，按网络重新编码 bech32。
func AddressOn(c *chain.Chain, acct Account) (string, error) {
	if c.Kind != chain.KindBitcoin {
		return acct.Address, nil
	}
	net, err := BitcoinNetwork(c)
	if err != nil {
		return "", err
	}
	var prog []byte
	for _, p := range []*chaincfg.Params{&chaincfg.MainNetParams, &chaincfg.TestNet3Params, &btc.LitecoinParams} {
		if a, err := btcutil.DecodeAddress(acct.Address, p); err == nil {
			if w, ok := a.(*btcutil.AddressWitnessPubKeyHash); ok {
				prog = w.WitnessProgram()
				break
			}
		}
	}
	if prog == nil {
		return "", fmt.Errorf("clients: %q is not a p2wpkh address", acct.Address)
	}
	a, err := btcutil.NewAddressWitnessPubKeyHash(prog, net.Params)
	if err != nil {
		return "", err
	}
	return a.EncodeAddress(), nil
}

// Balance 原生币或代币余额。Monero 返回账户总额（含未解锁）
func (s *Set) Balance(ctx context.Context, c *chain.Chain, proxy string, acct Account, token amount.Token) (amount.Amount, error) {
	switch c.Kind {
	case chain.KindEVM:
		cl, err := s.EVM(ctx, c, proxy)
		if err != nil {
			return amount.Amount{}, err
		}
		if !common.IsHexAddress(acct.Address) {
			return amount.Amount{}, fmt.Errorf("clients: invalid evm address %q", acct.Address)
		}
		owner := common.HexToAddress(acct.Address)
		if token.IsNative() {
			return cl.Balance(ctx, owner)
		}
		return cl.TokenBalance(ctx, token, owner)
	case chain.KindAptos:
		cl, err := s.Aptos(c, proxy)
		if err != nil {
			return amount.Amount{}, err
		}
		return cl.CoinBalance(ctx, token, acct.Address)
	case chain.KindTron:
		cl, err := s.Tron(c, proxy)
		if err != nil {
			return amount.Amount{}, err
		}
		addr, err := tron.ParseAddress(acct.Address)
		if err != nil {
			return amount.Amount{}, err
		}
		if token.IsNative() {
			return cl.Balance(ctx, addr)
		}
		return cl.TRC20Balance(ctx, token, addr)
	case chain.KindSolana:
		cl, err := s.Solana(c, proxy)
		if err != nil {
			return amount.Amount{}, err
		}
		return cl.TokenBalance(ctx, token, acct.Address)
	case chain.KindBitcoin:
		if !token.IsNative() {
			return amount.Amount{}, fmt.Errorf("%w: %s tokens", ErrUnsupported, c.Name)
		}
		cl, err := s.Bitcoin(c, proxy)
		if err != nil {
			return amount.Amount{}, err
		}
		addr, err := AddressOn(c, acct)
		if err != nil {
			return amount.Amount{}, err
		}
		return cl.Balance(ctx, addr)
	case chain.KindMonero:
		cl, err := s.Monero(c)
		if err != nil {
			return amount.Amount{}, err
		}
		total, _, err := cl.Balance(ctx, acct.Index)
		return total, err
	}
	return amount.Amount{}, fmt.Errorf("%w: balance on %s", ErrUnsupported, c.Kind)
}

// 各链给手续费预留的量
const (
	evmReserveGas  = 30_000
	tronReserveSun = 1_100_000
	solReserveLamp = 10_000
)

var evmReserveFactor = decimal.NewFromFloat(1.5)

// FeeReserve 发送原生币时要留下的手续费。代币转账返回 0（手续费用原生币付）。
// Bitcoin 类和 Monero 扫空由节点计算手续费，这里返回 0。
func (s *Set) FeeReserve(ctx context.Context, c *chain.Chain, proxy string, token amount.Token) (amount.Amount, error) {
	zero := amount.Zero(token.Decimals, token.Symbol)
	if !token.IsNative() {
		return zero, nil
	}
	switch c.Kind {
	case chain.KindEVM:
		cl, err := s.EVM(ctx, c, proxy)
		if err != nil {
			return amount.Amount{}, err
		}
		fee, err := cl.EstimateFee(ctx, evmReserveGas)
		if err != nil {
			return amount.Amount{}, err
		}
		return fee.MulRatio(evmReserveFactor), nil
	case chain.KindAptos:
		cl, err := s.Aptos(c, proxy)
		if err != nil {
			return amount.Amount{}, err
		}
		price, err := cl.GasPrice(ctx)
		if err != nil {
			return amount.Amount{}, err
		}
		maxGas := s.opts.Aptos.MaxGasAmount
		if maxGas == 0 {
			maxGas = 2000
		}
		return amount.ForToken(token, new(big.Int).SetUint64(price*maxGas)), nil
	case chain.KindTron:
		return amount.ForToken(token, big.NewInt(tronReserveSun)), nil
	case chain.KindSolana:
		return amount.FromUint(solReserveLamp, token.Decimals, token.Symbol), nil
	}
	return zero, nil
}

// TransferRequest 统一转账参数。All 为 true 时扫空（Bitcoin 类 / Monero 由节点算手续费），
// 其他链调用方需先用 FeeReserve 算好 Amount。
type TransferRequest struct {
	Chain  *chain.Chain
	Proxy  string
	From   Account
	To     string
	Token  amount.Token
	Amount amount.Amount
	All    bool
}

// Transfer 发送并等待确认
func (s *Set) Transfer(ctx context.Context, req TransferRequest) (*Tx, error) {
	c := req.Chain
	if c == nil {
		return nil, fmt.Errorf("clients: chain is required")
	}
	if req.To == "" {
		return nil, fmt.Errorf("clients: empty destination")
	}
	native := req.Token.IsNative()
	if !req.All || (c.Kind != chain.KindBitcoin && c.Kind != chain.KindMonero) {
		if req.Amount.IsZero() {
			return nil, fmt.Errorf("clients: zero amount")
		}
	}

	switch c.Kind {
	case chain.KindEVM:
		cl, err := s.EVM(ctx, c, req.Proxy)
		if err != nil {
			return nil, err
		}
		key, err := evm.ParseKey(req.From.PrivateKey)
		if err != nil {
			return nil, err
		}
		if !common.IsHexAddress(req.To) {
			return nil, fmt.Errorf("clients: invalid evm address %q", req.To)
		}
		to := common.HexToAddress(req.To)
		var r *evm.Receipt
		if native {
			r, err = cl.Transfer(ctx, key, to, req.Amount)
		} else {
			r, err = cl.TransferToken(ctx, key, req.Token, to, req.Amount)
		}
		if r == nil {
			return nil, err
		}
		return &Tx{Hash: r.Hash.Hex(), URL: r.URL, Fee: r.Fee}, err

	case chain.KindAptos:
		cl, err := s.Aptos(c, req.Proxy)
		if err != nil {
			return nil, err
		}
		acct, err := aptos.AccountFromHex(req.From.PrivateKey)
		if err != nil {
			return nil, err
		}
		var r *aptos.Receipt
		if native {
			r, err = cl.Transfer(ctx, acct, req.To, req.Amount)
		} else {
			r, err = cl.TransferCoin(ctx, acct, req.Token, req.To, req.Amount)
		}
		if r == nil {
			return nil, err
		}
		return &Tx{Hash: r.Hash, URL: r.URL, Fee: r.Fee}, err

	case chain.KindTron:
		cl, err := s.Tron(c, req.Proxy)
		if err != nil {
			return nil, err
		}
		key, err := evm.ParseKey(req.From.PrivateKey)
		if err != nil {
			return nil, err
		}
		to, err := tron.ParseAddress(req.To)
		if err != nil {
			return nil, err
		}
		var r *tron.Receipt
		if native {
			r, err = cl.TransferTRX(ctx, key, to, req.Amount)
		} else {
			r, err = cl.TransferTRC20(ctx, key, req.Token, to, req.Amount)
		}
		if r == nil {
			return nil, err
		}
		return &Tx{Hash: r.TxID, URL: r.URL, Fee: r.Fee}, err

	case chain.KindSolana:
		if !native {
			return nil, fmt.Errorf("%w: spl token transfer", ErrUnsupported)
		}
		cl, err := s.Solana(c, req.Proxy)
		if err != nil {
			return nil, err
		}
		acct, err := solana.AccountFromBase58(req.From.PrivateKey)
		if err != nil {
			return nil, err
		}
		r, err := cl.Transfer(ctx, acct, req.To, req.Amount)
		if r == nil {
			return nil, err
		}
		return &Tx{Hash: r.Signature, URL: r.URL, Fee: r.Fee}, err

	case chain.KindBitcoin:
		if !native {
			return nil, fmt.Errorf("%w: %s tokens", ErrUnsupported, c.Name)
		}
		cl, err := s.Bitcoin(c, req.Proxy)
		if err != nil {
			return nil, err
		}
		key, err := btc.ParseKey(req.From.PrivateKey)
		if err != nil {
			return nil, err
		}
		var r *btc.Receipt
		if req.All {
			r, err = cl.SendAll(ctx, key, req.To)
		} else {
			r, err = cl.Send(ctx, key, req.To, req.Amount)
		}
		if r == nil {
			return nil, err
		}
		return &Tx{Hash: r.TxID, URL: r.URL, Fee: r.Fee}, err

	case chain.KindMonero:
		cl, err := s.Monero(c)
		if err != nil {
			return nil, err
		}
		var hash string
		fee := amount.Zero(c.Native.Decimals, c.Native.Symbol)
		if req.All {
			res, err := cl.SweepAll(ctx, req.From.Index, req.To, monero.PriorityDefault)
			if err != nil {
				return nil, err
			}
			if len(res) == 0 {
				return nil, fmt.Errorf("monero: sweep produced no transaction")
			}
			hash = res[0].TxHash
			for _, r := range res {
				fee, _ = fee.Add(r.Fee)
			}
		} else {
			res, err := cl.Transfer(ctx, req.From.Index, []monero.Destination{{Address: req.To, Amount: req.Amount}}, monero.PriorityDefault)
			if err != nil {
				return nil, err
			}
			hash, fee = res.TxHash, res.Fee
		}
		if _, err := cl.WaitConfirmed(ctx, req.From.Index, hash, 1, 0); err != nil {
			return &Tx{Hash: hash, Fee: fee}, err
		}
		return &Tx{Hash: hash, URL: c.TxURL(hash), Fee: fee}, nil
	}
	return nil, fmt.Errorf("%w: transfer on %s", ErrUnsupported, c.Kind)
}
