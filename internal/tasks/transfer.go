package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/web3mt/web3mt/internal/clients"
	"github.com/web3mt/web3mt/internal/store"
	"github.com/web3mt/web3mt/pkg/amount"
	"github.com/web3mt/web3mt/pkg/chain"
	"github.com/web3mt/web3mt/pkg/logger"
)

// Transfer 任意链原生币/代币转账。
//
//	chain: Arbitrum
//	token: USDC            # 缺省为原生币
//	amount: "10%-20%"      # 缺省 all
//	to: 0x... | cex:okx | profile:p003 | self
type Transfer struct{}

func (Transfer) Name() string { return "transfer" }

func (Transfer) Run(ctx context.Context, env *Env) error {
	c, err := env.Chain(env.Params.String("chain", ""))
	if err != nil {
		return err
	}
	spec, err := env.Params.Spec("amount", "all")
	if err != nil {
		return err
	}
	to, err := env.Params.Require("to")
	if err != nil {
		return err
	}
	return transfer(ctx, env, transferArgs{
		chain:     c,
		token:     env.Params.String("token", c.Native.Symbol),
		spec:      spec,
		to:        to,
		skipEmpty: env.Params.Bool("skip_empty", false),
	})
}

// CollectToCEX 把余额归集到交易所充值地址，余额不足时跳过
type CollectToCEX struct{}

func (CollectToCEX) Name() string { return "collect-to-cex" }

func (CollectToCEX) Run(ctx context.Context, env *Env) error {
	c, err := env.Chain(env.Params.String("chain", ""))
	if err != nil {
		return err
	}
	exchange, err := env.Params.Require("exchange")
	if err != nil {
		return err
	}
	spec, err := env.Params.Spec("amount", "all")
	if err != nil {
		return err
	}
	return transfer(ctx, env, transferArgs{
		chain:     c,
		token:     env.Params.String("token", c.Native.Symbol),
		spec:      spec,
		to:        "cex:" + exchange,
		skipEmpty: env.Params.Bool("skip_empty", true),
	})
}

// SelfTransfer 给自己转一笔小额，用于提升地址活跃度
type SelfTransfer struct{}

func (SelfTransfer) Name() string { return "self-transfer" }

func (SelfTransfer) Run(ctx context.Context, env *Env) error {
	c, err := env.Chain(env.Params.String("chain", ""))
	if err != nil {
		return err
	}
	spec, err := env.Params.Spec("amount", "1%-5%")
	if err != nil {
		return err
	}
	if spec.Kind == amount.SpecAll {
		return fmt.Errorf("self-transfer does not accept amount=all")
	}
	return transfer(ctx, env, transferArgs{
		chain:     c,
		token:     env.Params.String("token", c.Native.Symbol),
		spec:      spec,
		to:        "self",
		allowSelf: true,
	})
}

type transferArgs struct {
	chain     *chain.Chain
	token     string
	spec      amount.Spec
	to        string
	skipEmpty bool
	allowSelf bool
}

func transfer(ctx context.Context, env *Env, a transferArgs) error {
	c := a.chain
	token, ok := c.Token(a.token)
	if !ok {
		return fmt.Errorf("unknown token %s on %s", a.token, c.Name)
	}
	from, err := env.Account(c)
	if err != nil {
		return err
	}
	dest, err := resolveDestination(ctx, env, c, token, from, a.to)
	if err != nil {
		return err
	}
	if strings.EqualFold(dest, from.Address) && !a.allowSelf {
		return fmt.Errorf("destination %s is the sender itself", dest)
	}

	proxy := env.Profile.Proxy
	balance, err := env.Clients.Balance(ctx, c, proxy, from, token)
	if err != nil {
		return err
	}
	// Bitcoin 类和 Monero 扫空交给节点算手续费
	sweep := a.spec.Kind == amount.SpecAll && (c.Kind == chain.KindBitcoin || c.Kind == chain.KindMonero)

	var value amount.Amount
	if sweep {
		if balance.IsZero() {
			err = fmt.Errorf("%w: %s balance is zero", amount.ErrInsufficient, token.Symbol)
		}
		value = balance
	} else {
		var reserve amount.Amount
		reserve, err = env.Clients.FeeReserve(ctx, c, proxy, token)
		if err != nil {
			return err
		}
		value, err = a.spec.Resolve(balance, reserve, env.Rand)
		if err == nil && a.spec.Kind == amount.SpecPercent {
			value = value.Round(a.spec.Precision)
			if value.IsZero() {
				err = fmt.Errorf("%w: %s rounds to zero", amount.ErrInsufficient, a.spec)
			}
		}
	}
	if err != nil {
		if a.skipEmpty && errors.Is(err, amount.ErrInsufficient) {
			env.Record("%s %s 余额 %s 不足，跳过", c.Name, token.Symbol, balance)
			return nil
		}
		return err
	}

	env.Log.WithField(logger.FieldChain, c.Name).Infof("发送 %s → %s", value, dest)
	tx, err := env.Clients.Transfer(ctx, clients.TransferRequest{
		Chain:  c,
		Proxy:  proxy,
		From:   from,
		To:     dest,
		Token:  token,
		Amount: value,
		All:    sweep,
	})
	if err != nil {
		if tx != nil && tx.Hash != "" {
			return fmt.Errorf("transfer %s: %w", tx.Hash, err)
		}
		return err
	}
	env.Record("%s %s → %s tx=%s", c.Name, value, dest, txRef(tx))
	return nil
}

func txRef(tx *clients.Tx) string {
	if tx.URL != "" {
		return tx.URL
	}
	return tx.Hash
}

// resolveDestination 支持 self / profile:<id> / cex[:name] / 地址
func resolveDestination(ctx context.Context, env *Env, c *chain.Chain, token amount.Token, from clients.Account, to string) (string, error) {
	to = strings.TrimSpace(to)
	kind, rest, _ := strings.Cut(to, ":")
	switch strings.ToLower(kind) {
	case "self":
		return from.Address, nil
	case "profile":
		if rest == "" {
			return "", fmt.Errorf("profile destination needs an id: %q", to)
		}
		w, err := env.Store.Wallet(ctx, rest, c.Kind)
		if err != nil {
			return "", err
		}
		return clients.AddressOn(c, clients.Account{Kind: w.Kind, Address: w.Address})
	case "cex":
		name := rest
		if name == "" {
			name = env.Params.String("exchange", "")
		}
		if name == "" {
			return "", fmt.Errorf("cex destination needs an exchange: %q", to)
		}
		return depositAddress(ctx, env, name, c, token)
	}
	return to, nil
}

// depositAddress 先查 profile 里登记的充值地址，没有时向交易所查询并保存
func depositAddress(ctx context.Context, env *Env, name string, c *chain.Chain, token amount.Token) (string, error) {
	ex, err := env.Exchange(name)
	if err != nil {
		return "", err
	}
	network, err := ex.Network(c.Name)
	if err != nil {
		return "", err
	}
	if addr, ok := env.Profile.DepositAddress(ex.Name(), network); ok {
		return addr, nil
	}
	da, err := ex.DepositAddress(ctx, token.Symbol, network)
	if err != nil {
		return "", fmt.Errorf("%s deposit address %s/%s: %w", ex.Name(), token.Symbol, network, err)
	}
	if da.Memo != "" {
		return "", fmt.Errorf("%s %s/%s requires memo, not supported for on-chain transfer", ex.Name(), token.Symbol, network)
	}
	key := store.DepositKey(ex.Name(), network)
	p, err := env.Store.UpdateProfile(ctx, env.Profile.ID, store.ProfileUpdate{Deposits: map[string]string{key: da.Address}})
	if err != nil {
		env.Log.Warnf("保存充值地址失败: %v", err)
	} else {
		env.Profile = p
	}
	return da.Address, nil
}
