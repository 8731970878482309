package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/web3mt/web3mt/internal/store"
	"github.com/web3mt/web3mt/internal/tasks"
	"github.com/web3mt/web3mt/internal/ui"
	"github.com/web3mt/web3mt/pkg/cex"
	"github.com/web3mt/web3mt/pkg/cex/exchanges"
	"github.com/web3mt/web3mt/pkg/logger"
)

func cexCommand(a *app) *cli.Command {
	exchangeFlag := &cli.StringFlag{Name: "exchange", Aliases: []string{"e"}, Usage: strings.Join(exchanges.Names(), " / ")}
	return &cli.Command{
		Name:  "cex",
		Usage: "交易所：余额、提币、充值地址",
		Subcommands: []*cli.Command{
			{
				Name:  "balances",
				Usage: "资金账户余额（默认所有已启用交易所）",
				Flags: []cli.Flag{exchangeFlag},
				Action: func(c *cli.Context) error {
					list := a.exchangeList()
					if name := c.String("exchange"); name != "" {
						ex, err := a.openExchange(name)
						if err != nil {
							return err
						}
						list = []cex.Exchange{ex}
					}
					if len(list) == 0 {
						return errors.New("no exchange enabled: set exchanges.<name>.enabled in config")
					}
					var errs []error
					for _, ex := range list {
						bs, err := ex.Balances(c.Context)
						if err != nil {
							logger.WithField(logger.FieldCEX, ex.Name()).Errorf("查询余额失败: %v", err)
							errs = append(errs, err)
							continue
						}
						fmt.Println(ui.CEXBalances(ex.Name(), bs))
						fmt.Println()
					}
					return errors.Join(errs...)
				},
			},
			{
				Name:  "withdraw",
				Usage: "从交易所提币到 profile 钱包（随机金额，幂等）",
				Flags: append(append(profileFilterFlags(), runFlags()...),
					&cli.StringFlag{Name: "exchange", Aliases: []string{"e"}, Required: true},
					&cli.StringFlag{Name: "chain", Required: true},
					&cli.StringFlag{Name: "coin", Usage: "默认链原生币"},
					&cli.StringFlag{Name: "amount", Required: true, Usage: "0.01 / 0.01-0.02 / 50% / all"},
					&cli.StringFlag{Name: "to", Value: "self", Usage: "self / profile:<id> / 地址"},
					&cli.BoolFlag{Name: "wait", Value: true, Usage: "等待提币完成"},
				),
				Action: func(c *cli.Context) error {
					f := filterFrom(c)
					if len(f.IDs) == 0 && f.Tag == "" {
						return errors.New("select profiles with --profile or --tag")
					}
					params := tasks.Params{
						"exchange": c.String("exchange"),
						"chain":    c.String("chain"),
						"amount":   c.String("amount"),
						"to":       c.String("to"),
						"wait":     c.Bool("wait"),
					}
					if coin := c.String("coin"); coin != "" {
						params["coin"] = coin
					}
					plan := &tasks.Plan{
						Name:     "cex-withdraw",
						Profiles: tasks.ProfileSelector{IDs: f.IDs, Tag: f.Tag},
						Steps:    []tasks.Step{{Task: tasks.CEXWithdraw{}.Name(), Params: params}},
					}
					return a.runPlan(c, plan, plan.Steps)
				},
			},
			{
				Name:  "withdrawals",
				Usage: "本地提币记录（按 run 步骤幂等）",
				Flags: []cli.Flag{&cli.BoolFlag{Name: "pending", Usage: "只显示未完成的"}},
				Action: func(c *cli.Context) error {
					recs, err := tasks.Withdrawals(a.idempotency())
					if err != nil {
						return err
					}
					if c.Bool("pending") {
						out := recs[:0]
						for _, r := range recs {
							if r.State != cex.WithdrawalCompleted.String() && r.State != cex.WithdrawalFailed.String() {
								out = append(out, r)
							}
						}
						recs = out
					}
					fmt.Println(ui.Withdrawals(recs))
					return nil
				},
			},
			{
				Name:  "deposit-address",
				Usage: "查询充值地址，可保存到 profile",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "exchange", Aliases: []string{"e"}, Required: true},
					&cli.StringFlag{Name: "chain", Required: true},
					&cli.StringFlag{Name: "coin", Usage: "默认链原生币"},
					&cli.StringFlag{Name: "save", Usage: "保存到该 profile"},
				},
				Action: func(c *cli.Context) error {
					ex, err := a.openExchange(c.String("exchange"))
					if err != nil {
						return err
					}
					ch, err := a.chains.Get(c.String("chain"))
					if err != nil {
						return err
					}
					coin := c.String("coin")
					if coin == "" {
						coin = ch.Native.Symbol
					}
					network, err := ex.Network(ch.Name)
					if err != nil {
						return err
					}
					da, err := ex.DepositAddress(c.Context, strings.ToUpper(coin), network)
					if err != nil {
						return err
					}
					fmt.Printf("%s %s/%s: %s", ex.Name(), da.Coin, da.Network, da.Address)
					if da.Memo != "" {
						fmt.Printf("  memo=%s", da.Memo)
					}
					fmt.Println()

					if id := c.String("save"); id != "" {
						db, err := a.openStore(false)
						if err != nil {
							return err
						}
						_, err = db.UpdateProfile(c.Context, id, store.ProfileUpdate{
							Deposits: map[string]string{store.DepositKey(ex.Name(), network): da.Address},
						})
						if err != nil {
							return err
						}
						logger.ForProfile(id).Infof("已保存 %s 充值地址", store.DepositKey(ex.Name(), network))
					}
					return nil
				},
			},
		},
	}
}
