package solana

import (
	"context"
	"fmt"
	"time"

	"github.com/blocto/solana-go-sdk/client"
	"github.com/blocto/solana-go-sdk/rpc"
	"github.com/blocto/solana-go-sdk/types"

	"github.com/web3mt/web3mt/pkg/chain"
	"github.com/web3mt/web3mt/pkg/httpx"
)

// SigStatus 签名状态
type SigStatus struct {
	Found     bool
	Confirmed bool
	Err       string
	Slot      uint64
}

// Backend 客户端依赖的 RPC 子集，测试里用 fake 实现
type Backend interface {
	GetBalance(ctx context.Context, addr string) (uint64, error)
	TokenAccountBalance(ctx context.Context, tokenAccount string) (uint64, error)
	LatestBlockhash(ctx context.Context) (string, error)
	SendTransaction(ctx context.Context, tx types.Transaction) (string, error)
	SignatureStatus(ctx context.Context, sig string) (SigStatus, error)
}

// rpcBackend 基于 blocto client 的实现
type rpcBackend struct {
	c *client.Client
}

// NewBackend 连接 RPC；proxy 为空时直连
func NewBackend(endpoint, proxy string, timeout time.Duration) (Backend, error) {
	hc, err := httpx.HTTPClient(proxy, timeout)
	if err != nil {
		return nil, err
	}
	return &rpcBackend{c: client.New(rpc.WithEndpoint(endpoint), rpc.WithHTTPClient(hc))}, nil
}

// Dial 使用链配置的第一个 RPC
func Dial(c *chain.Chain, proxy string, cfg Config) (*Client, error) {
	if c.RPC() == "" {
		return nil, fmt.Errorf("solana: no rpc configured for %s", c.Name)
	}
	b, err := NewBackend(c.RPC(), proxy, 30*time.Second)
	if err != nil {
		return nil, err
	}
	return NewClient(c, b, cfg), nil
}

func (b *rpcBackend) GetBalance(ctx context.Context, addr string) (uint64, error) {
	return b.c.GetBalance(ctx, addr)
}

func (b *rpcBackend) TokenAccountBalance(ctx context.Context, tokenAccount string) (uint64, error) {
	v, err := b.c.GetTokenAccountBalance(ctx, tokenAccount)
	if err != nil {
		return 0, err
	}
	return v.Amount, nil
}

func (b *rpcBackend) LatestBlockhash(ctx context.Context) (string, error) {
	v, err := b.c.GetLatestBlockhash(ctx)
	if err != nil {
		return "", err
	}
	return v.Blockhash, nil
}

func (b *rpcBackend) SendTransaction(ctx context.Context, tx types.Transaction) (string, error) {
	return b.c.SendTransaction(ctx, tx)
}

func (b *rpcBackend) SignatureStatus(ctx context.Context, sig string) (SigStatus, error) {
	st, err := b.c.GetSignatureStatus(ctx, sig)
	if err != nil {
		return SigStatus{}, err
	}
	if st == nil {
		return SigStatus{}, nil
	}
	out := SigStatus{Found: true, Slot: st.Slot}
	if st.ConfirmationStatus != nil {
		switch *st.ConfirmationStatus {
		case rpc.CommitmentConfirmed, rpc.CommitmentFinalized:
			out.Confirmed = true
		}
	}
	if st.Err != nil {
		out.Err = fmt.Sprint(st.Err)
	}
	return out, nil
}
