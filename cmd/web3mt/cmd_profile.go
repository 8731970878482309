package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/web3mt/web3mt/internal/store"
	"github.com/web3mt/web3mt/internal/ui"
	"github.com/web3mt/web3mt/internal/wallet"
	"github.com/web3mt/web3mt/pkg/btc"
	"github.com/web3mt/web3mt/pkg/chain"
	"github.com/web3mt/web3mt/pkg/logger"
	"github.com/web3mt/web3mt/pkg/secretstore"
)

func profileFilterFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{Name: "profile", Aliases: []string{"p"}, Usage: "profile id，可重复"},
		&cli.StringFlag{Name: "tag", Aliases: []string{"t"}, Usage: "按标签筛选"},
	}
}

func filterFrom(c *cli.Context) store.Filter {
	return store.Filter{IDs: c.StringSlice("profile"), Tag: c.String("tag")}
}

func profileCommand(a *app) *cli.Command {
	return &cli.Command{
		Name:  "profile",
		Usage: "管理 profile（一组多链钱包 + 代理 + 标签）",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "用助记词派生新的 profile",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Value: 1},
					&cli.StringFlag{Name: "label"},
					&cli.StringSliceFlag{Name: "tag"},
					&cli.StringFlag{Name: "proxy"},
					&cli.StringFlag{Name: "btc-network", Value: "bitcoin", Usage: "bitcoin / testnet / signet / regtest"},
				},
				Action: func(c *cli.Context) error { return createProfiles(c, a) },
			},
			{
				Name:      "import",
				Usage:     "给 profile 导入外部私钥（或只登记 Monero 地址）",
				ArgsUsage: "<profile-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "kind", Required: true, Usage: "evm / tron / bitcoin / aptos / solana / monero"},
					&cli.StringFlag{Name: "address", Usage: "monero 地址"},
					&cli.StringFlag{Name: "btc-network", Value: "bitcoin"},
				},
				Action: func(c *cli.Context) error { return importWallet(c, a) },
			},
			{
				Name:  "list",
				Usage: "列出 profile",
				Flags: append(profileFilterFlags(), &cli.BoolFlag{Name: "wallets", Aliases: []string{"w"}, Usage: "显示地址"}),
				Action: func(c *cli.Context) error {
					db, err := a.openStore(false)
					if err != nil {
						return err
					}
					ps, err := db.ListProfiles(c.Context, filterFrom(c))
					if err != nil {
						return err
					}
					ws := map[string][]store.Wallet{}
					if c.Bool("wallets") {
						for _, p := range ps {
							if ws[p.ID], err = db.Wallets(c.Context, p.ID); err != nil {
								return err
							}
						}
					}
					fmt.Println(ui.Profiles(ps, ws))
					return nil
				},
			},
			{
				Name:      "show",
				Usage:     "profile 详情",
				ArgsUsage: "<profile-id>",
				Action: func(c *cli.Context) error {
					db, err := a.openStore(false)
					if err != nil {
						return err
					}
					p, err := db.GetProfile(c.Context, c.Args().First())
					if err != nil {
						return err
					}
					ws, err := db.Wallets(c.Context, p.ID)
					if err != nil {
						return err
					}
					latest, err := db.LatestBalances(c.Context, p.ID)
					if err != nil {
						return err
					}
					fmt.Println(ui.Profile(p, ws, latest))
					return nil
				},
			},
			{
				Name:      "set",
				Usage:     "修改 profile 的标签、代理、备注、交易所充值地址",
				ArgsUsage: "<profile-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "label"},
					&cli.StringSliceFlag{Name: "tag", Usage: "替换全部标签"},
					&cli.StringFlag{Name: "proxy", Usage: "空字符串表示清除"},
					&cli.StringFlag{Name: "note"},
					&cli.StringSliceFlag{Name: "deposit", Usage: "exchange:network=address，address 为空表示删除"},
				},
				Action: func(c *cli.Context) error { return setProfile(c, a) },
			},
		},
	}
}

func createProfiles(c *cli.Context, a *app) error {
	ss, err := a.openSecrets()
	if err != nil {
		return err
	}
	mn, ok, err := ss.GetString(secretstore.KeyMnemonic)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("mnemonic not found: run `web3mt init` first")
	}
	net, err := btc.NetworkFor(c.String("btc-network"))
	if err != nil {
		return err
	}
	db, err := a.openStore(true)
	if err != nil {
		return err
	}

	n := c.Int("count")
	if n < 1 || n > 1000 {
		return fmt.Errorf("count must be in [1, 1000]: %d", n)
	}
	created := make([]*store.Profile, 0, n)
	for i := 0; i < n; i++ {
		idx, err := db.NextProfileIndex(c.Context)
		if err != nil {
			return err
		}
		keys, err := wallet.DeriveAll(mn, idx, net)
		if err != nil {
			return err
		}
		p := &store.Profile{Index: idx, Label: c.String("label"), Tags: c.StringSlice("tag"), Proxy: c.String("proxy")}
		if err := db.CreateProfile(c.Context, p); err != nil {
			return err
		}
		for _, k := range keys.All() {
			if err := db.AddWallet(c.Context, p.ID, k.Kind, k.Address, k.PrivateKey, k.Path); err != nil {
				return fmt.Errorf("profile %s %s: %w", p.ID, k.Kind, err)
			}
		}
		logger.ForProfile(p.ID).Infof("已创建 #%d evm=%s", idx, keys.EVM.Address)
		created = append(created, p)
	}
	fmt.Println(ui.Profiles(created, nil))
	return nil
}

func importWallet(c *cli.Context, a *app) error {
	id := c.Args().First()
	if id == "" {
		return errors.New("profile id is required")
	}
	kind, err := chain.ParseKind(c.String("kind"))
	if err != nil {
		return err
	}
	db, err := a.openStore(true)
	if err != nil {
		return err
	}
	if _, err := db.GetProfile(c.Context, id); errors.Is(err, store.ErrNotFound) {
		idx, err := db.NextProfileIndex(c.Context)
		if err != nil {
			return err
		}
		if err := db.CreateProfile(c.Context, &store.Profile{ID: id, Index: idx}); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if kind == chain.KindMonero {
		addr := strings.TrimSpace(c.String("address"))
		if addr == "" {
			return errors.New("--address is required for monero")
		}
		return db.AddWallet(c.Context, id, kind, addr, "", "")
	}

	net, err := btc.NetworkFor(c.String("btc-network"))
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "请输入 %s 私钥后回车：\n", kind)
	k, err := wallet.FromPrivateKey(kind, readLine(), net)
	if err != nil {
		return err
	}
	if err := db.AddWallet(c.Context, id, kind, k.Address, k.PrivateKey, "imported"); err != nil {
		return err
	}
	logger.ForProfile(id).Infof("已导入 %s 地址 %s", kind, k.Address)
	return nil
}

func setProfile(c *cli.Context, a *app) error {
	db, err := a.openStore(false)
	if err != nil {
		return err
	}
	var u store.ProfileUpdate
	if c.IsSet("label") {
		v := c.String("label")
		u.Label = &v
	}
	if c.IsSet("proxy") {
		v := c.String("proxy")
		u.Proxy = &v
	}
	if c.IsSet("note") {
		v := c.String("note")
		u.Note = &v
	}
	if c.IsSet("tag") {
		u.Tags = c.StringSlice("tag")
	}
	for _, d := range c.StringSlice("deposit") {
		k, v, ok := strings.Cut(d, "=")
		ex, network, ok2 := strings.Cut(k, ":")
		if !ok || !ok2 {
			return fmt.Errorf("invalid --deposit %q, want exchange:network=address", d)
		}
		if u.Deposits == nil {
			u.Deposits = map[string]string{}
		}
		u.Deposits[store.DepositKey(ex, network)] = strings.TrimSpace(v)
	}
	p, err := db.UpdateProfile(c.Context, c.Args().First(), u)
	if err != nil {
		return err
	}
	ws, err := db.Wallets(c.Context, p.ID)
	if err != nil {
		return err
	}
	fmt.Println(ui.Profile(p, ws, nil))
	return nil
}
