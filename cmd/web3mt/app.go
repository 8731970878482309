package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/web3mt/web3mt/internal/bridge"
	"github.com/web3mt/web3mt/internal/clients"
	"github.com/web3mt/web3mt/internal/metrics"
	"github.com/web3mt/web3mt/internal/store"
	"github.com/web3mt/web3mt/internal/tasks"
	"github.com/web3mt/web3mt/pkg/cex"
	"github.com/web3mt/web3mt/pkg/cex/exchanges"
	"github.com/web3mt/web3mt/pkg/chain"
	"github.com/web3mt/web3mt/pkg/config"
	"github.com/web3mt/web3mt/pkg/logger"
	"github.com/web3mt/web3mt/pkg/persistence"
	"github.com/web3mt/web3mt/pkg/secretstore"
	"github.com/web3mt/web3mt/pkg/shutdown"
)

// app 命令共享的依赖，按需打开
type app struct {
	cfg       *config.Config
	secretKey string
	chains    *chain.Registry
	metrics   *metrics.Metrics
	shutdown  *shutdown.Manager

	secrets   *secretstore.Store
	db        *store.Store
	clients   *clients.Set
	exchanges map[string]cex.Exchange
}

func (a *app) init(ctx context.Context, cfg *config.Config, secretKey string) error {
	a.cfg = cfg
	a.secretKey = secretKey
	a.shutdown = shutdown.NewManager()
	a.metrics = metrics.New()

	a.chains = chain.Default()
	for name, urls := range cfg.RPC {
		if err := a.chains.OverrideRPC(name, urls); err != nil {
			logger.Warnf("忽略 RPC 配置 %s: %v", name, err)
		}
	}

	if cfg.MetricsAddr != "" {
		srv, err := a.metrics.StartAsync(ctx, cfg.MetricsAddr)
		if err != nil {
			return fmt.Errorf("启动 metrics 失败: %w", err)
		}
		logger.Infof("metrics: http://%s/metrics", srv.Addr)
		a.shutdown.OnShutdown("metrics", srv.Shutdown)
	}
	return nil
}

func (a *app) close(ctx context.Context) {
	if a.shutdown != nil {
		a.shutdown.Shutdown(ctx)
	}
}

// openSecrets 打开 badger secret store
func (a *app) openSecrets() (*secretstore.Store, error) {
	if a.secrets != nil {
		return a.secrets, nil
	}
	key, err := secretstore.ParseKey(a.secretKey)
	if err != nil {
		return nil, fmt.Errorf("WEB3MT_SECRET_KEY: %w", err)
	}
	if key == nil {
		return nil, errors.New("secret store key not set: run `web3mt init` and put WEB3MT_SECRET_KEY into .env")
	}
	ss, err := secretstore.Open(secretstore.OpenOptions{Path: a.cfg.SecretsPath, EncryptionKey: key})
	if err != nil {
		return nil, fmt.Errorf("打开 secret store %s 失败: %w", a.cfg.SecretsPath, err)
	}
	a.secrets = ss
	a.shutdown.OnShutdown("secretstore", func(context.Context) error { return ss.Close() })
	return ss, nil
}

// openStore 打开 profile 数据库。needVault 为 false 时不解锁私钥（只读列表类命令）
func (a *app) openStore(needVault bool) (*store.Store, error) {
	if a.db != nil {
		return a.db, nil
	}
	var vault *store.Vault
	if needVault {
		ss, err := a.openSecrets()
		if err != nil {
			return nil, err
		}
		if vault, err = store.LoadVault(ss); err != nil {
			return nil, err
		}
	}
	db, err := store.Open(a.cfg.DBPath, vault)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.shutdown.OnShutdown("store", func(context.Context) error { return db.Close() })
	return db, nil
}

func (a *app) chainClients() *clients.Set {
	if a.clients != nil {
		return a.clients
	}
	flow := a.cfg.Engine.Flow()
	flow.Observer = a.metrics.Observer()
	a.clients = clients.New(clients.Options{
		Timeout: 30 * time.Second,
		RPS:     a.cfg.Engine.RPS,
		Flow:    flow,
		EVM:     a.cfg.Engine.EVM,
	})
	return a.clients
}

// openExchange 按名称创建（已启用的或显式指定的）交易所客户端
func (a *app) openExchange(name string) (cex.Exchange, error) {
	ss, err := a.openSecrets()
	if err != nil {
		return nil, err
	}
	name = strings.ToLower(name)
	ec := a.cfg.Exchanges[name]
	proxy := ec.Proxy
	if proxy == "" {
		proxy = a.cfg.Proxy
	}
	ex, err := exchanges.FromSecrets(name, ss, cex.Options{
		BaseURL:  ec.BaseURL,
		Proxy:    proxy,
		Timeout:  30 * time.Second,
		Networks: ec.Networks,
	})
	if err != nil {
		return nil, err
	}
	return a.metrics.InstrumentExchange(ex), nil
}

// enabledExchanges 配置里启用的交易所；凭证缺失的跳过并告警
func (a *app) enabledExchanges() map[string]cex.Exchange {
	if a.exchanges != nil {
		return a.exchanges
	}
	a.exchanges = map[string]cex.Exchange{}
	names := a.cfg.EnabledExchanges()
	sort.Strings(names)
	for _, n := range names {
		ex, err := a.openExchange(n)
		if err != nil {
			logger.WithField(logger.FieldCEX, n).Warnf("交易所不可用: %v", err)
			continue
		}
		a.exchanges[ex.Name()] = ex
	}
	return a.exchanges
}

func (a *app) exchangeList() []cex.Exchange {
	m := a.enabledExchanges()
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]cex.Exchange, 0, len(names))
	for _, n := range names {
		out = append(out, m[n])
	}
	return out
}

// selectProfiles ids 优先，否则按 tag；全局代理作为 profile 代理的缺省值
func (a *app) selectProfiles(ctx context.Context, db *store.Store, f store.Filter) ([]*store.Profile, error) {
	ps, err := db.ListProfiles(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(f.IDs) > 0 && len(ps) != len(f.IDs) {
		found := map[string]bool{}
		for _, p := range ps {
			found[p.ID] = true
		}
		var missing []string
		for _, id := range f.IDs {
			if !found[id] {
				missing = append(missing, id)
			}
		}
		return nil, fmt.Errorf("%w: profiles %s", store.ErrNotFound, strings.Join(missing, ", "))
	}
	for _, p := range ps {
		if p.Proxy == "" {
			p.Proxy = a.cfg.Proxy
		}
	}
	return ps, nil
}

func (a *app) bridgeClient() (*bridge.Client, error) {
	return bridge.New(bridge.Options{
		BaseURL:    a.cfg.LiFi.BaseURL,
		APIKey:     a.cfg.LiFi.APIKey,
		Integrator: a.cfg.LiFi.Integrator,
		Proxy:      a.cfg.Proxy,
	})
}

// taskDeps 任务执行需要的全部依赖
func (a *app) taskDeps(db *store.Store) (*tasks.Deps, error) {
	bc, err := a.bridgeClient()
	if err != nil {
		return nil, err
	}
	return &tasks.Deps{
		Chains:    a.chains,
		Clients:   tasks.FromSet(a.chainClients()),
		Exchanges: a.enabledExchanges(),
		Store:     db,
		Bridge:    bc,
		Idem:      a.idempotency(),
	}, nil
}

// idempotency 提币等步骤的幂等记录目录
func (a *app) idempotency() persistence.Service {
	return persistence.NewJSONFileService(filepath.Join(a.cfg.DataDir, "idempotency"))
}
