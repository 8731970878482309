package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/web3mt/web3mt/internal/ui"
	"github.com/web3mt/web3mt/pkg/config"
	"github.com/web3mt/web3mt/pkg/logger"
)

var version = "dev"

func main() {
	// .env 不存在时忽略
	_ = godotenv.Load()

	a := &app{}
	cliApp := &cli.App{
		Name:    "web3mt",
		Usage:   "多账号链上操作：钱包派生、余额汇总、转账归集、交易所提币、跨链",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "配置文件 (.yaml/.json)", EnvVars: []string{"WEB3MT_CONFIG"}},
			&cli.StringFlag{Name: "secret-key", Usage: "secret store 加密密钥 (32 字节 hex/base64)", EnvVars: []string{"WEB3MT_SECRET_KEY"}},
			&cli.StringFlag{Name: "log-level", Usage: "覆盖日志级别"},
			&cli.StringFlag{Name: "metrics", Usage: "prometheus 监听地址，如 127.0.0.1:9108", EnvVars: []string{"METRICS_ADDR"}},
		},
		Before: a.before,
		After:  a.after,
		Commands: []*cli.Command{
			initCommand(a),
			profileCommand(a),
			balancesCommand(a),
			runCommand(a),
			menuCommand(a),
			cexCommand(a),
			runsCommand(a),
			secretCommand(a),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cliApp.RunContext(ctx, os.Args)
	stop()
	if err != nil {
		if errors.Is(err, ui.ErrAborted) {
			os.Exit(130)
		}
		logrus.Errorf("%v", err)
		os.Exit(1)
	}
}

func (a *app) before(c *cli.Context) error {
	path := c.String("config")
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return err
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if addr := c.String("metrics"); addr != "" {
		cfg.MetricsAddr = addr
	}
	if err := logger.Init(cfg.Log); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	return a.init(c.Context, cfg, c.String("secret-key"))
}

func (a *app) after(c *cli.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.close(ctx)
	return nil
}
