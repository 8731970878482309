// Package monero monero-wallet-rpc 的 JSON-RPC 客户端。
// 钱包文件由 wallet-rpc 自己管理，这里只做余额查询、转账与状态跟踪。
package monero

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"

	"github.com/web3mt/web3mt/pkg/amount"
	"github.com/web3mt/web3mt/pkg/chain"
	"github.com/web3mt/web3mt/pkg/httpx"
	"github.com/web3mt/web3mt/pkg/logger"
)

// Priority 交易优先级
type Priority uint32

const (
	PriorityDefault Priority = iota
	PriorityUnimportant
	PriorityNormal
	PriorityElevated
	PriorityPriority
)

// RPCError wallet-rpc 返回的错误对象
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("monero rpc error %d: %s", e.Code, e.Message)
}

// Client wallet-rpc 客户端
type Client struct {
	chain *chain.Chain
	http  *httpx.Client
	id    atomic.Uint64
}

// NewClient opts.BaseURL 为空时使用链配置的 RPC（http://127.0.0.1:18082/json_rpc）
func NewClient(c *chain.Chain, opts httpx.Options) (*Client, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = c.RPC()
	}
	// 转账请求不能自动重试，否则可能重复发送
	opts.Retries = -1
	hc, err := httpx.New(opts)
	if err != nil {
		return nil, err
	}
	return &Client{chain: c, http: hc}, nil
}

// Chain 链描述
func (c *Client) Chain() *chain.Chain { return c.chain }

func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	if params == nil {
		params = map[string]any{}
	}
	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      strconv.FormatUint(c.id.Add(1), 10),
		"method":  method,
		"params":  params,
	}
	resp, err := c.http.Do(ctx, "POST", "", &httpx.RequestOptions{Body: req}, nil)
	if err != nil {
		return err
	}
	res := gjson.ParseBytes(resp.Body())
	if e := res.Get("error"); e.Exists() {
		return &RPCError{Code: int(e.Get("code").Int()), Message: e.Get("message").String()}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal([]byte(res.Get("result").Raw), out)
}

func (c *Client) atomic(v uint64) amount.Amount {
	return amount.FromUint(v, c.chain.Native.Decimals, c.chain.Native.Symbol)
}

// Balance 账户余额与可用余额
func (c *Client) Balance(ctx context.Context, account uint32) (total, unlocked amount.Amount, err error) {
	var out struct {
		Balance         uint64 `json:"balance"`
		UnlockedBalance uint64 `json:"unlocked_balance"`
	}
	if err := c.call(ctx, "get_balance", map[string]any{"account_index": account}, &out); err != nil {
		return amount.Amount{}, amount.Amount{}, fmt.Errorf("获取 XMR 余额失败: %w", err)
	}
	return c.atomic(out.Balance), c.atomic(out.UnlockedBalance), nil
}

// Address 账户主地址
func (c *Client) Address(ctx context.Context, account uint32) (string, error) {
	var out struct {
		Address string `json:"address"`
	}
	if err := c.call(ctx, "get_address", map[string]any{"account_index": account}, &out); err != nil {
		return "", err
	}
	return out.Address, nil
}

// Destination 收款方
type Destination struct {
	Address string
	Amount  amount.Amount
}

// TransferResult 转账结果
type TransferResult struct {
	TxHash string
	TxKey  string
	Amount amount.Amount
	Fee    amount.Amount
}

// Transfer 从 account 转给 dests
func (c *Client) Transfer(ctx context.Context, account uint32, dests []Destination, priority Priority) (*TransferResult, error) {
	if len(dests) == 0 {
		return nil, fmt.Errorf("monero: no destinations")
	}
	list := make([]map[string]any, 0, len(dests))
	for _, d := range dests {
		v, ok := d.Amount.Uint64()
		if !ok || v == 0 {
			return nil, fmt.Errorf("monero: invalid amount %s", d.Amount)
		}
		list = append(list, map[string]any{"address": d.Address, "amount": v})
	}
	var out struct {
		TxHash string `json:"tx_hash"`
		TxKey  string `json:"tx_key"`
		Amount uint64 `json:"amount"`
		Fee    uint64 `json:"fee"`
	}
	err := c.call(ctx, "transfer", map[string]any{
		"destinations":  list,
		"account_index": account,
		"priority":      priority,
		"get_tx_key":    true,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("XMR 转账失败: %w", err)
	}
	logger.ForChain(c.chain.Name).WithField(logger.FieldTx, out.TxHash).
		Infof("XMR 转账已提交: %s, 手续费 %s", c.atomic(out.Amount), c.atomic(out.Fee))
	return &TransferResult{TxHash: out.TxHash, TxKey: out.TxKey, Amount: c.atomic(out.Amount), Fee: c.atomic(out.Fee)}, nil
}

// SweepAll 把账户全部可用余额转到 address
func (c *Client) SweepAll(ctx context.Context, account uint32, address string, priority Priority) ([]TransferResult, error) {
	var out struct {
		TxHashList []string `json:"tx_hash_list"`
		AmountList []uint64 `json:"amount_list"`
		FeeList    []uint64 `json:"fee_list"`
	}
	err := c.call(ctx, "sweep_all", map[string]any{
		"address":       address,
		"account_index": account,
		"priority":      priority,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("XMR 扫空失败: %w", err)
	}
	res := make([]TransferResult, 0, len(out.TxHashList))
	for i, h := range out.TxHashList {
		r := TransferResult{TxHash: h, Amount: c.atomic(0), Fee: c.atomic(0)}
		if i < len(out.AmountList) {
			r.Amount = c.atomic(out.AmountList[i])
		}
		if i < len(out.FeeList) {
			r.Fee = c.atomic(out.FeeList[i])
		}
		res = append(res, r)
	}
	return res, nil
}

// TransferInfo get_transfer_by_txid 的结果；Type 为 in/out/pending/failed/pool
type TransferInfo struct {
	TxID          string
	Type          string
	Confirmations uint64
	Height        uint64
	Amount        amount.Amount
	Fee           amount.Amount
}

// TransferStatus 查询转账状态
func (c *Client) TransferStatus(ctx context.Context, account uint32, txid string) (*TransferInfo, error) {
	var out struct {
		Transfer struct {
			TxID          string `json:"txid"`
			Type          string `json:"type"`
			Confirmations uint64 `json:"confirmations"`
			Height        uint64 `json:"height"`
			Amount        uint64 `json:"amount"`
			Fee           uint64 `json:"fee"`
		} `json:"transfer"`
	}
	if err := c.call(ctx, "get_transfer_by_txid", map[string]any{"txid": txid, "account_index": account}, &out); err != nil {
		return nil, err
	}
	t := out.Transfer
	return &TransferInfo{
		TxID:          t.TxID,
		Type:          t.Type,
		Confirmations: t.Confirmations,
		Height:        t.Height,
		Amount:        c.atomic(t.Amount),
		Fee:           c.atomic(t.Fee),
	}, nil
}

// WaitConfirmed 轮询直到确认数达到 confirmations；交易失败返回错误
func (c *Client) WaitConfirmed(ctx context.Context, account uint32, txid string, confirmations uint64, poll time.Duration) (*TransferInfo, error) {
	if poll <= 0 {
		poll = 30 * time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		info, err := c.TransferStatus(ctx, account, txid)
		switch {
		case err != nil:
			logger.ForChain(c.chain.Name).Warnf("查询 XMR 交易 %s 失败: %v", txid, err)
		case info.Type == "failed":
			return info, fmt.Errorf("monero: transfer %s failed", txid)
		case info.Type == "out" && info.Confirmations >= confirmations:
			return info, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
