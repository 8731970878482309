// Package cex 中心化交易所的通用模型：余额、充值地址、提币与提币状态。
// 各交易所的签名和接口实现在子包里。
package cex

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3mt/web3mt/pkg/logger"
	"github.com/web3mt/web3mt/pkg/ratelimit"
)

var (
	ErrNotFound       = errors.New("cex: not found")
	ErrNoCredentials  = errors.New("cex: api credentials not configured")
	ErrUnknownNetwork = errors.New("cex: unknown network")
	ErrUnsupported    = errors.New("cex: unsupported exchange")
)

// Credentials API 凭证。Passphrase 只有 OKX / Kucoin 需要。
type Credentials struct {
	APIKey     string
	Secret     string
	Passphrase string
}

// Valid 必填项是否齐全
func (c Credentials) Valid() bool {
	return c.APIKey != "" && c.Secret != ""
}

// Balance 资金账户余额
type Balance struct {
	Coin   string
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// Total 可用 + 冻结
func (b Balance) Total() decimal.Decimal { return b.Free.Add(b.Locked) }

// DepositAddress 充值地址
type DepositAddress struct {
	Coin    string
	Network string
	Address string
	Memo    string
}

// WithdrawRequest 提币参数。Network 为交易所自己的网络名（见 Exchange.Network）。
type WithdrawRequest struct {
	Coin    string
	Network string
	Address string
	Memo    string
	Amount  decimal.Decimal
	// Fee 部分交易所（OKX）要求显式传手续费；为零时由实现自行查询
	Fee decimal.Decimal
	// ClientID 幂等标识，交易所支持时透传
	ClientID string
}

// WithdrawalState 归一化的提币状态
type WithdrawalState int

const (
	WithdrawalPending WithdrawalState = iota
	WithdrawalCompleted
	WithdrawalFailed
)

func (s WithdrawalState) String() string {
	switch s {
	case WithdrawalCompleted:
		return "completed"
	case WithdrawalFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Terminal 是否终态
func (s WithdrawalState) Terminal() bool { return s != WithdrawalPending }

// Withdrawal 提币记录
type Withdrawal struct {
	ID      string
	Coin    string
	Network string
	Address string
	Amount  decimal.Decimal
	Fee     decimal.Decimal
	TxID    string
	State   WithdrawalState
	// Status 交易所原始状态
	Status string
}

// Exchange 交易所接口
type Exchange interface {
	Name() string
	// Network 把链名（registry 里的 Name，如 "Arbitrum"）映射为交易所网络名
	Network(chain string) (string, error)
	Balances(ctx context.Context) ([]Balance, error)
	DepositAddress(ctx context.Context, coin, network string) (*DepositAddress, error)
	Withdraw(ctx context.Context, req WithdrawRequest) (string, error)
	Withdrawal(ctx context.Context, id string) (*Withdrawal, error)
	Price(ctx context.Context, base, quote string) (decimal.Decimal, error)
}

// Options 交易所客户端通用选项
type Options struct {
	BaseURL string
	Proxy   string
	Timeout time.Duration
	Limiter *ratelimit.Manager
	// Networks 覆盖默认的链名 -> 网络名映射
	Networks map[string]string
}

// APIError 交易所返回的业务错误
type APIError struct {
	Exchange string
	Code     string
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error %s: %s", e.Exchange, e.Code, e.Message)
}

// SecretGetter 凭证来源（secretstore.Store 满足该接口）
type SecretGetter interface {
	GetString(key string) (string, bool, error)
}

// LoadCredentials 从 cex/<name>/{api_key,secret,passphrase} 读取凭证
func LoadCredentials(s SecretGetter, name string) (Credentials, error) {
	name = strings.ToLower(name)
	get := func(field string) (string, error) {
		v, _, err := s.GetString("cex/" + name + "/" + field)
		return v, err
	}
	var c Credentials
	var err error
	if c.APIKey, err = get("api_key"); err != nil {
		return c, err
	}
	if c.Secret, err = get("secret"); err != nil {
		return c, err
	}
	if c.Passphrase, err = get("passphrase"); err != nil {
		return c, err
	}
	if !c.Valid() {
		return c, fmt.Errorf("%w: %s", ErrNoCredentials, name)
	}
	return c, nil
}

// ResolveNetwork 先查覆盖表，再查默认表；都没有时原样返回大写的 chain
func ResolveNetwork(chain string, overrides, defaults map[string]string) (string, error) {
	for _, m := range []map[string]string{overrides, defaults} {
		for k, v := range m {
			if strings.EqualFold(k, chain) {
				return v, nil
			}
		}
	}
	if chain == "" {
		return "", ErrUnknownNetwork
	}
	return strings.ToUpper(chain), nil
}

// maxPollFailures 连续查询失败次数上限
const maxPollFailures = 5

// WaitWithdrawal 轮询直到提币进入终态。失败状态返回带记录的错误。
func WaitWithdrawal(ctx context.Context, ex Exchange, id string, poll time.Duration) (*Withdrawal, error) {
	if poll <= 0 {
		poll = 15 * time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	failures := 0
	for {
		w, err := ex.Withdrawal(ctx, id)
		switch {
		case err == nil && w.State.Terminal():
			if w.State == WithdrawalFailed {
				return w, fmt.Errorf("%s withdrawal %s failed: %s", ex.Name(), id, w.Status)
			}
			return w, nil
		case err == nil, errors.Is(err, ErrNotFound):
			// 刚提交的提币可能还查不到
			failures = 0
		default:
			failures++
			if failures >= maxPollFailures {
				return nil, err
			}
			logger.WithField(logger.FieldCEX, ex.Name()).Warnf("查询提币 %s 失败 (%d/%d): %v", id, failures, maxPollFailures, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
