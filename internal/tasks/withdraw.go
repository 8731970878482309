package tasks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/web3mt/web3mt/internal/clients"
	"github.com/web3mt/web3mt/pkg/amount"
	"github.com/web3mt/web3mt/pkg/cex"
	"github.com/web3mt/web3mt/pkg/logger"
	"github.com/web3mt/web3mt/pkg/persistence"
)

const withdrawPrefix = "withdraw"

// WithdrawRecord 提币幂等记录，按 (profile, step) 落盘
type WithdrawRecord struct {
	Profile  string `json:"profile"`
	Step     string `json:"step"`
	Exchange string `json:"exchange"`
	ClientID string `json:"client_id"`
	ID       string `json:"id,omitempty"`
	Coin     string `json:"coin"`
	Network  string `json:"network"`
	Address  string `json:"address"`
	Amount   string `json:"amount"`
	State    string `json:"state"`
	TxID     string `json:"tx_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Withdrawals 读取全部提币记录，按创建时间排序
func Withdrawals(svc persistence.Service) ([]WithdrawRecord, error) {
	stores, err := svc.List(withdrawPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]WithdrawRecord, 0, len(stores))
	for _, st := range stores {
		var rec WithdrawRecord
		if err := st.Load(&rec); err != nil {
			logger.Warnf("跳过提币记录 %s: %v", st.Key(), err)
			continue
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// CEXWithdraw 从交易所提币到 profile 钱包
//
//	exchange: okx
//	chain: Arbitrum
//	coin: ETH              # 缺省为链原生币
//	amount: "0.01-0.02"
//	to: self | profile:<id> | 地址
//	wait: true
type CEXWithdraw struct{}

func (CEXWithdraw) Name() string { return "cex-withdraw" }

func (CEXWithdraw) Run(ctx context.Context, env *Env) error {
	name, err := env.Params.Require("exchange")
	if err != nil {
		return err
	}
	ex, err := env.Exchange(name)
	if err != nil {
		return err
	}
	c, err := env.Chain(env.Params.String("chain", ""))
	if err != nil {
		return err
	}
	token, ok := c.Token(env.Params.String("coin", c.Native.Symbol))
	if !ok {
		return fmt.Errorf("unknown coin %s on %s", env.Params.String("coin", ""), c.Name)
	}
	wait := env.Params.Bool("wait", true)
	poll, err := env.Params.Duration("poll", 0)
	if err != nil {
		return err
	}

	idem := env.Idem.NewStore(withdrawPrefix, env.Profile.ID, env.StepKey)
	var rec WithdrawRecord
	switch err := idem.Load(&rec); {
	case err == nil && rec.ID != "":
		env.Log.WithField(logger.FieldCEX, ex.Name()).Infof("提币 %s 已提交过（%s），继续跟踪", rec.ID, rec.State)
		if rec.State == cex.WithdrawalCompleted.String() || !wait {
			env.Record("%s withdraw %s %s %s → %s id=%s", ex.Name(), rec.Amount, rec.Coin, rec.Network, rec.Address, rec.ID)
			return nil
		}
		return waitWithdrawal(ctx, env, ex, idem, &rec, poll)
	case err == nil:
		// 上次在提交前后中断，用同一个 ClientID 重新提交
	case errors.Is(err, persistence.ErrNotExists):
		rec, err = newWithdrawRecord(ctx, env, ex, c.Name, token)
		if err != nil {
			return err
		}
		if err := idem.Save(rec); err != nil {
			return fmt.Errorf("save withdraw record: %w", err)
		}
	default:
		return fmt.Errorf("load withdraw record: %w", err)
	}

	value, err := decimal.NewFromString(rec.Amount)
	if err != nil {
		return fmt.Errorf("withdraw record amount %q: %w", rec.Amount, err)
	}
	id, err := ex.Withdraw(ctx, cex.WithdrawRequest{
		Coin:     rec.Coin,
		Network:  rec.Network,
		Address:  rec.Address,
		Amount:   value,
		ClientID: rec.ClientID,
	})
	if err != nil {
		return fmt.Errorf("%s withdraw: %w", ex.Name(), err)
	}
	rec.ID = id
	rec.State = cex.WithdrawalPending.String()
	if err := idem.Save(rec); err != nil {
		env.Log.Warnf("保存提币记录失败: %v", err)
	}
	env.Record("%s withdraw %s %s %s → %s id=%s", ex.Name(), rec.Amount, rec.Coin, rec.Network, rec.Address, id)
	if !wait {
		return nil
	}
	return waitWithdrawal(ctx, env, ex, idem, &rec, poll)
}

func newWithdrawRecord(ctx context.Context, env *Env, ex cex.Exchange, chainName string, token amount.Token) (WithdrawRecord, error) {
	c, err := env.Chain(chainName)
	if err != nil {
		return WithdrawRecord{}, err
	}
	network, err := ex.Network(c.Name)
	if err != nil {
		return WithdrawRecord{}, err
	}
	spec, err := env.Params.Spec("amount", "")
	if err != nil {
		return WithdrawRecord{}, err
	}

	var address string
	switch to := env.Params.String("to", "self"); {
	case strings.EqualFold(to, "self"):
		acct, err := env.Account(c)
		if err != nil {
			return WithdrawRecord{}, err
		}
		address = acct.Address
	default:
		address, err = resolveDestination(ctx, env, c, token, clients.Account{}, to)
		if err != nil {
			return WithdrawRecord{}, err
		}
	}

	free, err := freeBalance(ctx, ex, token.Symbol)
	if err != nil {
		return WithdrawRecord{}, err
	}
	balance := amount.FromDecimal(free, token.Decimals, token.Symbol)
	value, err := spec.Resolve(balance, amount.Zero(token.Decimals, token.Symbol), env.Rand)
	if err != nil {
		return WithdrawRecord{}, fmt.Errorf("%s %s: %w", ex.Name(), token.Symbol, err)
	}

	return WithdrawRecord{
		Profile:   env.Profile.ID,
		Step:      env.StepKey,
		Exchange:  ex.Name(),
		ClientID:  strings.ReplaceAll(uuid.NewString(), "-", ""),
		Coin:      token.Symbol,
		Network:   network,
		Address:   address,
		Amount:    value.Decimal().String(),
		State:     "new",
		CreatedAt: time.Now().UTC(),
	}, nil
}

func freeBalance(ctx context.Context, ex cex.Exchange, coin string) (decimal.Decimal, error) {
	balances, err := ex.Balances(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s balances: %w", ex.Name(), err)
	}
	for _, b := range balances {
		if strings.EqualFold(b.Coin, coin) {
			return b.Free, nil
		}
	}
	return decimal.Zero, nil
}

func waitWithdrawal(ctx context.Context, env *Env, ex cex.Exchange, idem persistence.Store, rec *WithdrawRecord, poll time.Duration) error {
	w, err := cex.WaitWithdrawal(ctx, ex, rec.ID, poll)
	if w != nil {
		rec.State = w.State.String()
		rec.TxID = w.TxID
		if serr := idem.Save(*rec); serr != nil {
			env.Log.Warnf("保存提币记录失败: %v", serr)
		}
	}
	if err != nil {
		return err
	}
	env.Record("%s withdrawal %s %s tx=%s", ex.Name(), rec.ID, rec.State, rec.TxID)
	return nil
}
