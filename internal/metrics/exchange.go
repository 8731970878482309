package metrics

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/web3mt/web3mt/pkg/cex"
)

// Exchange 给 cex.Exchange 加请求计数
type Exchange struct {
	cex.Exchange
	m *Metrics
}

// InstrumentExchange 包装交易所客户端
func (m *Metrics) InstrumentExchange(ex cex.Exchange) cex.Exchange {
	if m == nil {
		return ex
	}
	return &Exchange{Exchange: ex, m: m}
}

func (e *Exchange) count(op string, err error) {
	e.m.CEXRequests.WithLabelValues(e.Name(), op, result(err)).Inc()
}

func (e *Exchange) Balances(ctx context.Context) ([]cex.Balance, error) {
	b, err := e.Exchange.Balances(ctx)
	e.count("balances", err)
	return b, err
}

func (e *Exchange) DepositAddress(ctx context.Context, coin, network string) (*cex.DepositAddress, error) {
	a, err := e.Exchange.DepositAddress(ctx, coin, network)
	e.count("deposit_address", err)
	return a, err
}

func (e *Exchange) Withdraw(ctx context.Context, req cex.WithdrawRequest) (string, error) {
	id, err := e.Exchange.Withdraw(ctx, req)
	e.count("withdraw", err)
	return id, err
}

func (e *Exchange) Withdrawal(ctx context.Context, id string) (*cex.Withdrawal, error) {
	w, err := e.Exchange.Withdrawal(ctx, id)
	e.count("withdrawal", err)
	return w, err
}

func (e *Exchange) Price(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	p, err := e.Exchange.Price(ctx, base, quote)
	e.count("price", err)
	return p, err
}
