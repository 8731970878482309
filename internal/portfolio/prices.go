package portfolio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3mt/web3mt/pkg/cache"
	"github.com/web3mt/web3mt/pkg/cex"
	"github.com/web3mt/web3mt/pkg/logger"
)

// Quote 交易所报价币种，按 1 USD 计
const Quote = "USDT"

var stablecoins = map[string]bool{
	"USDT": true, "USDC": true, "USDC.E": true, "USDBC": true, "DAI": true,
	"BUSD": true, "FDUSD": true, "TUSD": true, "USDE": true,
}

// wrapped 包装币按底层资产计价
var wrapped = map[string]string{
	"WETH": "ETH", "WBTC": "BTC", "WBNB": "BNB", "WMATIC": "MATIC", "WPOL": "POL", "WAVAX": "AVAX",
}

// ErrNoPrice 所有交易所都拿不到价格
var ErrNoPrice = errors.New("portfolio: no price")

// PriceSource USD 价格。按顺序问交易所，结果缓存 TTL
type PriceSource struct {
	exchanges []cex.Exchange
	cache     *cache.InMemoryCache[string, decimal.Decimal]
}

// NewPriceSource ttl<=0 时默认 1 分钟
func NewPriceSource(ttl time.Duration, exchanges ...cex.Exchange) *PriceSource {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &PriceSource{exchanges: exchanges, cache: cache.NewInMemoryCache[string, decimal.Decimal](ttl)}
}

// Close 停止缓存清理
func (p *PriceSource) Close() { p.cache.Close() }

// USD 单价
func (p *PriceSource) USD(ctx context.Context, symbol string) (decimal.Decimal, error) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if stablecoins[sym] {
		return decimal.NewFromInt(1), nil
	}
	if base, ok := wrapped[sym]; ok {
		sym = base
	}
	return p.cache.GetOrLoad(sym, func() (decimal.Decimal, error) {
		var errs []error
		for _, ex := range p.exchanges {
			price, err := ex.Price(ctx, sym, Quote)
			if err == nil && price.IsPositive() {
				return price, nil
			}
			if err != nil {
				logger.WithField(logger.FieldCEX, ex.Name()).Debugf("查询 %s 价格失败: %v", sym, err)
				errs = append(errs, fmt.Errorf("%s: %w", ex.Name(), err))
			}
		}
		return decimal.Zero, fmt.Errorf("%w for %s: %w", ErrNoPrice, sym, errors.Join(errs...))
	})
}
