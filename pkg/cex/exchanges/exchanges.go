// Package exchanges 按名字创建交易所客户端
package exchanges

import (
	"fmt"
	"sort"
	"strings"

	"github.com/web3mt/web3mt/pkg/cex"
	"github.com/web3mt/web3mt/pkg/cex/binance"
	"github.com/web3mt/web3mt/pkg/cex/bybit"
	"github.com/web3mt/web3mt/pkg/cex/htx"
	"github.com/web3mt/web3mt/pkg/cex/kucoin"
	"github.com/web3mt/web3mt/pkg/cex/mexc"
	"github.com/web3mt/web3mt/pkg/cex/okx"
)

type factory func(cex.Credentials, cex.Options) (cex.Exchange, error)

var factories = map[string]factory{
	okx.Name:     func(c cex.Credentials, o cex.Options) (cex.Exchange, error) { return okx.New(c, o) },
	binance.Name: func(c cex.Credentials, o cex.Options) (cex.Exchange, error) { return binance.New(c, o) },
	bybit.Name:   func(c cex.Credentials, o cex.Options) (cex.Exchange, error) { return bybit.New(c, o) },
	htx.Name:     func(c cex.Credentials, o cex.Options) (cex.Exchange, error) { return htx.New(c, o) },
	kucoin.Name:  func(c cex.Credentials, o cex.Options) (cex.Exchange, error) { return kucoin.New(c, o) },
	mexc.Name:    func(c cex.Credentials, o cex.Options) (cex.Exchange, error) { return mexc.New(c, o) },
}

// aliases 常用别名
var aliases = map[string]string{
	"huobi": htx.Name,
	"okex":  okx.Name,
}

// Names 支持的交易所
func Names() []string {
	out := make([]string, 0, len(factories))
	for n := range factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// New 创建交易所客户端
func New(name string, creds cex.Credentials, opts cex.Options) (cex.Exchange, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if a, ok := aliases[key]; ok {
		key = a
	}
	f, ok := factories[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q (supported: %s)", cex.ErrUnsupported, name, strings.Join(Names(), ", "))
	}
	return f(creds, opts)
}

// FromSecrets 从密钥库读取凭证后创建客户端
func FromSecrets(name string, s cex.SecretGetter, opts cex.Options) (cex.Exchange, error) {
	key := strings.ToLower(name)
	if a, ok := aliases[key]; ok {
		key = a
	}
	creds, err := cex.LoadCredentials(s, key)
	if err != nil {
		return nil, err
	}
	return New(key, creds, opts)
}
