package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/web3mt/web3mt/internal/ui"
	"github.com/web3mt/web3mt/pkg/cex/exchanges"
	"github.com/web3mt/web3mt/pkg/secretstore"
)

// mask 只露出首尾各 4 个字符
func mask(v string) string {
	if len(v) <= 8 {
		return strings.Repeat("*", len(v))
	}
	return v[:4] + strings.Repeat("*", len(v)-8) + v[len(v)-4:]
}

// valueArg 第 i 个参数缺省时从 stdin 读
func valueArg(c *cli.Context, i int, prompt string) string {
	if c.NArg() > i {
		return c.Args().Get(i)
	}
	fmt.Print(prompt)
	return readLine()
}

func secretCommand(a *app) *cli.Command {
	return &cli.Command{
		Name:  "secret",
		Usage: "管理加密 secret store（交易所 API key、助记词等）",
		Subcommands: []*cli.Command{
			{
				Name:      "list",
				Usage:     "列出 key",
				ArgsUsage: "[prefix]",
				Action: func(c *cli.Context) error {
					ss, err := a.openSecrets()
					if err != nil {
						return err
					}
					keys, err := ss.List(c.Args().First())
					if err != nil {
						return err
					}
					t := &ui.Table{Title: "Secrets", Headers: []string{"Key"}}
					for _, k := range keys {
						t.Row(k)
					}
					fmt.Println(t)
					return nil
				},
			},
			{
				Name:      "get",
				ArgsUsage: "<key>",
				Flags:     []cli.Flag{&cli.BoolFlag{Name: "reveal", Usage: "显示明文"}},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return errors.New("usage: web3mt secret get <key>")
					}
					ss, err := a.openSecrets()
					if err != nil {
						return err
					}
					v, ok, err := ss.GetString(c.Args().First())
					if err != nil {
						return err
					}
					if !ok {
						return fmt.Errorf("secret %q not found", c.Args().First())
					}
					if !c.Bool("reveal") {
						v = mask(v)
					}
					fmt.Println(v)
					return nil
				},
			},
			{
				Name:      "set",
				ArgsUsage: "<key> [value]",
				Action: func(c *cli.Context) error {
					if c.NArg() < 1 {
						return errors.New("usage: web3mt secret set <key> [value]")
					}
					ss, err := a.openSecrets()
					if err != nil {
						return err
					}
					key := c.Args().First()
					val := valueArg(c, 1, key+": ")
					if val == "" {
						return errors.New("empty value")
					}
					return ss.SetString(key, val)
				},
			},
			{
				Name:      "delete",
				ArgsUsage: "<key>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return errors.New("usage: web3mt secret delete <key>")
					}
					ss, err := a.openSecrets()
					if err != nil {
						return err
					}
					return ss.Delete(c.Args().First())
				},
			},
			{
				Name:      "cex",
				Usage:     "写入交易所 API 凭证",
				ArgsUsage: "<exchange>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("usage: web3mt secret cex <%s>", strings.Join(exchanges.Names(), "|"))
					}
					name := strings.ToLower(c.Args().First())
					known := false
					for _, n := range exchanges.Names() {
						known = known || n == name
					}
					if !known {
						return fmt.Errorf("unknown exchange %q", name)
					}
					ss, err := a.openSecrets()
					if err != nil {
						return err
					}
					for _, field := range []string{"api_key", "secret", "passphrase"} {
						fmt.Printf("%s %s（可留空）: ", name, field)
						v := readLine()
						if v == "" {
							continue
						}
						if err := ss.SetString(secretstore.CEXKey(name, field), v); err != nil {
							return err
						}
					}
					fmt.Printf("已保存 %s\n", secretstore.CEXKey(name, "*"))
					return nil
				},
			},
		},
	}
}
