package wallet

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/web3mt/web3mt/pkg/aptos"
	"github.com/web3mt/web3mt/pkg/btc"
	"github.com/web3mt/web3mt/pkg/chain"
	"github.com/web3mt/web3mt/pkg/evm"
	"github.com/web3mt/web3mt/pkg/solana"
	"github.com/web3mt/web3mt/pkg/tron"
)

// FromPrivateKey 导入外部私钥，返回规范化后的 Key（编码同 Derive*）。
// Monero 不支持私钥导入，钱包由 wallet-rpc 管理，只登记地址。
func FromPrivateKey(kind chain.Kind, raw string, btcNet btc.Network) (Key, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Key{}, fmt.Errorf("wallet: empty private key")
	}
	switch kind {
	case chain.KindEVM, chain.KindTron:
		k, err := evm.ParseKey(raw)
		if err != nil {
			return Key{}, err
		}
		addr := evm.AddressOf(k).Hex()
		if kind == chain.KindTron {
			addr = tron.AddressFromKey(&k.PublicKey).String()
		}
		return Key{Kind: kind, Address: addr, PrivateKey: hex.EncodeToString(crypto.FromECDSA(k))}, nil
	case chain.KindBitcoin:
		k, err := btc.ParseKey(raw)
		if err != nil {
			return Key{}, err
		}
		addr, err := btc.P2WPKH(k.PubKey(), btcNet)
		if err != nil {
			return Key{}, err
		}
		wif, err := btcutil.NewWIF(k, btcNet.Params, true)
		if err != nil {
			return Key{}, err
		}
		return Key{Kind: kind, Address: addr.EncodeAddress(), PrivateKey: wif.String()}, nil
	case chain.KindAptos:
		acct, err := aptos.AccountFromHex(raw)
		if err != nil {
			return Key{}, err
		}
		return Key{Kind: kind, Address: acct.Address, PrivateKey: acct.PrivateKeyHex()}, nil
	case chain.KindSolana:
		acct, err := solana.AccountFromBase58(raw)
		if err != nil {
			return Key{}, err
		}
		return Key{Kind: kind, Address: acct.PublicKey.ToBase58(), PrivateKey: base58.Encode(acct.PrivateKey)}, nil
	}
	return Key{}, fmt.Errorf("wallet: private key import not supported for %s", kind)
}
