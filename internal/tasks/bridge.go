package tasks

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/web3mt/web3mt/internal/bridge"
	"github.com/web3mt/web3mt/pkg/amount"
	"github.com/web3mt/web3mt/pkg/chain"
	"github.com/web3mt/web3mt/pkg/evm"
	"github.com/web3mt/web3mt/pkg/logger"
)

// Bridge 通过 LI.FI 在 EVM 链之间跨链
//
//	from: Arbitrum
//	to: Base
//	token: ETH             # 源链 token，缺省原生币
//	to_token: ETH          # 目标链 token，缺省同名
//	amount: "40%-60%"
//	slippage: 0.005
//	bridges: [across, stargate]
//	wait: true
type Bridge struct{}

func (Bridge) Name() string { return "bridge" }

func (Bridge) Run(ctx context.Context, env *Env) error {
	if env.Bridge == nil {
		return fmt.Errorf("bridge client not configured")
	}
	src, err := env.Chain(env.Params.String("from", ""))
	if err != nil {
		return err
	}
	dst, err := env.Chain(env.Params.String("to", ""))
	if err != nil {
		return err
	}
	if src.Kind != chain.KindEVM || dst.Kind != chain.KindEVM {
		return fmt.Errorf("bridge supports evm chains only: %s -> %s", src.Name, dst.Name)
	}
	if src.ChainID == dst.ChainID {
		return fmt.Errorf("bridge source and destination are both %s", src.Name)
	}
	fromSym := env.Params.String("token", src.Native.Symbol)
	fromToken, ok := src.Token(fromSym)
	if !ok {
		return fmt.Errorf("unknown token %s on %s", fromSym, src.Name)
	}
	toSym := env.Params.String("to_token", fromToken.Symbol)
	toToken, ok := dst.Token(toSym)
	if !ok {
		return fmt.Errorf("unknown token %s on %s", toSym, dst.Name)
	}
	spec, err := env.Params.Spec("amount", "")
	if err != nil {
		return err
	}
	slippage, err := env.Params.Float("slippage", 0.005)
	if err != nil {
		return err
	}
	poll, err := env.Params.Duration("poll", 0)
	if err != nil {
		return err
	}

	acct, err := env.Account(src)
	if err != nil {
		return err
	}
	key, err := evm.ParseKey(acct.PrivateKey)
	if err != nil {
		return err
	}
	proxy := env.Profile.Proxy
	balance, err := env.Clients.Balance(ctx, src, proxy, acct, fromToken)
	if err != nil {
		return err
	}
	reserve, err := env.Clients.FeeReserve(ctx, src, proxy, fromToken)
	if err != nil {
		return err
	}
	value, err := spec.Resolve(balance, reserve, env.Rand)
	if err != nil {
		return err
	}

	log := env.Log.WithField(logger.FieldChain, src.Name)
	q, err := env.Bridge.Quote(ctx, bridge.QuoteRequest{
		FromChain:   src.ChainID,
		ToChain:     dst.ChainID,
		FromToken:   tokenAddress(fromToken),
		ToToken:     tokenAddress(toToken),
		FromAmount:  value.Wei(),
		FromAddress: acct.Address,
		ToAddress:   acct.Address,
		Slippage:    slippage,
		Bridges:     env.Params.Strings("bridges"),
	})
	if err != nil {
		return err
	}
	if q.Tx.ChainID != 0 && q.Tx.ChainID != src.ChainID {
		return fmt.Errorf("lifi quote tx for chain %d, expected %d", q.Tx.ChainID, src.ChainID)
	}
	out := amount.ForToken(toToken, orZero(q.ToAmount))
	log.Infof("LI.FI 报价 %s: %s → %s (%s), 约 %s, 费用 $%.2f", q.Tool, value, out, dst.Name, q.Duration, q.FeeUSD)

	sender, err := env.Clients.EVMSender(ctx, src, proxy)
	if err != nil {
		return err
	}
	if q.NeedsApproval() && !fromToken.IsNative() {
		if _, err := sender.EnsureAllowance(ctx, key, fromToken, q.ApprovalAddress, value, env.Params.Bool("infinite_approve", false)); err != nil {
			return fmt.Errorf("approve %s: %w", fromToken.Symbol, err)
		}
	}
	rcpt, err := sender.Send(ctx, evm.TxRequest{
		From:     key,
		To:       q.Tx.To,
		Value:    q.Tx.Value,
		Data:     q.Tx.Data,
		GasLimit: q.Tx.GasLimit,
		Label:    "bridge",
	})
	if err != nil {
		return err
	}
	env.Record("bridge %s %s → %s via %s tx=%s", src.Name, value, dst.Name, q.Tool, receiptRef(rcpt))

	if !env.Params.Bool("wait", true) {
		return nil
	}
	st, err := env.Bridge.WaitDone(ctx, rcpt.Hash.Hex(), src.ChainID, dst.ChainID, poll)
	if err != nil {
		return err
	}
	env.Record("bridge %s %s receiving=%s", st.State, st.Substatus, st.ReceivingTx)
	return nil
}

func tokenAddress(t amount.Token) string {
	if t.IsNative() {
		return bridge.NativeToken
	}
	return common.HexToAddress(t.Address).Hex()
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func receiptRef(r *evm.Receipt) string {
	if r.URL != "" {
		return r.URL
	}
	return r.Hash.Hex()
}
