package portfolio

import (
	"context"

	"github.com/web3mt/web3mt/internal/clients"
	"github.com/web3mt/web3mt/internal/store"
	"github.com/web3mt/web3mt/pkg/chain"
)

// WalletLister store.Store 满足该接口
type WalletLister interface {
	Wallets(ctx context.Context, profileID string) ([]store.Wallet, error)
}

// LoadHolders 读取 profile 的钱包地址（不解密私钥）
func LoadHolders(ctx context.Context, wl WalletLister, profiles []*store.Profile) ([]Holder, error) {
	out := make([]Holder, 0, len(profiles))
	for _, p := range profiles {
		ws, err := wl.Wallets(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		h := Holder{ProfileID: p.ID, Proxy: p.Proxy, Accounts: map[chain.Kind]clients.Account{}}
		for _, w := range ws {
			h.Accounts[w.Kind] = clients.Account{Kind: w.Kind, Address: w.Address, Index: p.Index}
		}
		out = append(out, h)
	}
	return out, nil
}
