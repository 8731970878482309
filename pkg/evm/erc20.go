package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/web3mt/web3mt/pkg/amount"
	"github.com/web3mt/web3mt/pkg/logger"
)

const erc20JSON = `[
{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"},
{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},
{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"},
{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"},
{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

var erc20ABI = mustABI(erc20JSON)

func mustABI(s string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("解析ERC20 ABI失败: %v", err))
	}
	return a
}

// EncodeTransfer transfer(to, amount) calldata
func EncodeTransfer(to common.Address, value *big.Int) ([]byte, error) {
	return erc20ABI.Pack("transfer", to, value)
}

// EncodeApprove approve(spender, amount) calldata
func EncodeApprove(spender common.Address, value *big.Int) ([]byte, error) {
	return erc20ABI.Pack("approve", spender, value)
}

// TransferToken 发送原生币或 ERC20
func (c *Client) TransferToken(ctx context.Context, from *ecdsa.PrivateKey, token amount.Token, to common.Address, value amount.Amount) (*Receipt, error) {
	if token.IsNative() {
		return c.Transfer(ctx, from, to, value)
	}
	data, err := EncodeTransfer(to, value.Wei())
	if err != nil {
		return nil, err
	}
	return c.Send(ctx, TxRequest{
		From:  from,
		To:    common.HexToAddress(token.Address),
		Data:  data,
		Label: "transfer_" + strings.ToLower(token.Symbol),
	})
}

// Approve 授权 spender
func (c *Client) Approve(ctx context.Context, from *ecdsa.PrivateKey, token amount.Token, spender common.Address, value *big.Int) (*Receipt, error) {
	data, err := EncodeApprove(spender, value)
	if err != nil {
		return nil, err
	}
	return c.Send(ctx, TxRequest{
		From:  from,
		To:    common.HexToAddress(token.Address),
		Data:  data,
		Label: "approve_" + strings.ToLower(token.Symbol),
	})
}

// EnsureAllowance 额度不足时授权；infinite=true 授权 MaxUint256。已足够时返回 nil, nil。
func (c *Client) EnsureAllowance(ctx context.Context, from *ecdsa.PrivateKey, token amount.Token, spender common.Address, need amount.Amount, infinite bool) (*Receipt, error) {
	if token.IsNative() {
		return nil, nil
	}
	owner := AddressOf(from)
	cur, err := c.Allowance(ctx, token, owner, spender)
	if err != nil {
		return nil, err
	}
	if cur.Cmp(need) >= 0 {
		return nil, nil
	}
	value := need.Wei()
	if infinite {
		value = new(big.Int).Set(math.MaxBig256)
	}
	logger.ForChain(c.chain.Name).Infof("授权 %s 给 %s: 当前 %s, 需要 %s", token.Symbol, spender.Hex(), cur, need)
	return c.Approve(ctx, from, token, spender, value)
}
