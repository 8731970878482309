package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/web3mt/web3mt/internal/store"
	"github.com/web3mt/web3mt/internal/wallet"
	"github.com/web3mt/web3mt/pkg/secretstore"
)

var stdin = bufio.NewReader(os.Stdin)

func readLine() string {
	s, _ := stdin.ReadString('\n')
	return strings.TrimSpace(s)
}

func initCommand(a *app) *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "初始化 secret store：加密密钥、钱包主密钥、助记词",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "import", Usage: "从标准输入导入已有助记词"},
			&cli.BoolFlag{Name: "force", Usage: "覆盖已存在的助记词"},
		},
		Action: func(c *cli.Context) error {
			if strings.TrimSpace(a.secretKey) == "" {
				key, err := secretstore.GenerateKey()
				if err != nil {
					return err
				}
				a.secretKey = key
				fmt.Fprintf(os.Stderr, "已生成 secret store 密钥，请写入 .env 并妥善保存：\n\nWEB3MT_SECRET_KEY=%s\n\n", key)
			}
			ss, err := a.openSecrets()
			if err != nil {
				return err
			}

			if _, ok, err := ss.GetString(secretstore.KeyVault); err != nil {
				return err
			} else if !ok && os.Getenv(store.EnvMasterKey) == "" {
				vk, err := secretstore.GenerateKey()
				if err != nil {
					return err
				}
				if err := ss.SetString(secretstore.KeyVault, vk); err != nil {
					return err
				}
				fmt.Fprintln(os.Stderr, "已生成钱包主密钥（保存在 secret store）")
			}

			_, exists, err := ss.GetString(secretstore.KeyMnemonic)
			if err != nil {
				return err
			}
			if exists && !c.Bool("force") {
				fmt.Fprintln(os.Stderr, "助记词已存在，跳过（--force 覆盖）")
			} else {
				var mn string
				if c.Bool("import") {
					fmt.Fprintln(os.Stderr, "请输入助记词（12/15/18/21/24 个单词），输入完成后回车：")
					mn = strings.Join(strings.Fields(readLine()), " ")
					if mn == "" {
						return errors.New("mnemonic is empty")
					}
				} else if mn, err = wallet.NewMnemonic(); err != nil {
					return err
				}
				if err := wallet.ValidateMnemonic(mn); err != nil {
					return err
				}
				if err := ss.SetString(secretstore.KeyMnemonic, mn); err != nil {
					return err
				}
				if !c.Bool("import") {
					fmt.Fprintf(os.Stderr, "已生成新助记词，只显示这一次，请离线备份：\n\n%s\n\n", mn)
				}
			}

			if _, err := a.openStore(true); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "初始化完成：db=%s secrets=%s\n", a.cfg.DBPath, a.cfg.SecretsPath)
			return nil
		},
	}
}
