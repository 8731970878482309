package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/web3mt/web3mt/internal/portfolio"
	"github.com/web3mt/web3mt/internal/ui"
	"github.com/web3mt/web3mt/pkg/logger"
)

func balancesCommand(a *app) *cli.Command {
	return &cli.Command{
		Name:  "balances",
		Usage: "查询所有 profile 在各链上的余额并按 USD 汇总",
		Flags: append(profileFilterFlags(),
			&cli.StringSliceFlag{Name: "chain", Usage: "只查这些链（默认全部主网）"},
			&cli.StringSliceFlag{Name: "token", Usage: "只查这些 token（配合 --chain）"},
			&cli.BoolFlag{Name: "zero", Usage: "显示零余额"},
			&cli.BoolFlag{Name: "save", Value: true, Usage: "保存余额快照"},
		),
		Action: func(c *cli.Context) error {
			db, err := a.openStore(false)
			if err != nil {
				return err
			}
			profiles, err := a.selectProfiles(c.Context, db, filterFrom(c))
			if err != nil {
				return err
			}
			if len(profiles) == 0 {
				return fmt.Errorf("no profiles selected")
			}
			holders, err := portfolio.LoadHolders(c.Context, db, profiles)
			if err != nil {
				return err
			}
			targets, err := a.balanceTargets(c.StringSlice("chain"), c.StringSlice("token"))
			if err != nil {
				return err
			}

			prices := portfolio.NewPriceSource(time.Minute, a.exchangeList()...)
			defer prices.Close()
			agg := &portfolio.Aggregator{
				Chains:      a.chains,
				Balances:    a.chainClients(),
				Prices:      prices,
				Concurrency: a.cfg.Concurrency,
				Observe:     a.metrics.ObserveBalance,
			}
			start := time.Now()
			report, err := agg.Collect(c.Context, holders, targets)
			if err != nil {
				return err
			}
			logger.Infof("余额查询完成：%d 项，失败 %d，耗时 %s", len(report.Entries), report.Failed, time.Since(start).Round(time.Millisecond))
			fmt.Println(ui.Balances(report, c.Bool("zero")))

			if c.Bool("save") {
				if err := report.Save(c.Context, db); err != nil {
					return fmt.Errorf("保存快照失败: %w", err)
				}
			}
			return nil
		},
	}
}

func (a *app) balanceTargets(chains, tokens []string) ([]portfolio.Target, error) {
	if len(chains) == 0 {
		return portfolio.DefaultTargets(a.chains), nil
	}
	out := make([]portfolio.Target, 0, len(chains))
	for _, name := range chains {
		ch, err := a.chains.Get(name)
		if err != nil {
			return nil, err
		}
		t := portfolio.Target{Chain: ch.Name, Tokens: tokens}
		if len(tokens) == 0 {
			t.Tokens = []string{ch.Native.Symbol}
			for sym := range ch.Tokens {
				t.Tokens = append(t.Tokens, sym)
			}
		}
		out = append(out, t)
	}
	return out, nil
}
