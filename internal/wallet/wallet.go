// Package wallet 由助记词派生各链账户。
//
// secp256k1 链（EVM / Tron / Bitcoin 类）走 BIP32，ed25519 链（Aptos / Solana）走 SLIP-0010。
package wallet

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/ethereum/go-ethereum/crypto"
	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"
	"github.com/tyler-smith/go-bip39"

	"github.com/web3mt/web3mt/pkg/aptos"
	"github.com/web3mt/web3mt/pkg/btc"
	"github.com/web3mt/web3mt/pkg/chain"
	"github.com/web3mt/web3mt/pkg/evm"
	"github.com/web3mt/web3mt/pkg/solana"
	"github.com/web3mt/web3mt/pkg/tron"
)

// 派生路径模板，%d 为账户序号
const (
	PathEVM     = "m/44'/60'/0'/0/%d"
	PathTron    = "m/44'/195'/0'/0/%d"
	PathBitcoin = "m/84'/%d'/0'/0/%d" // coin type, index
	PathAptos   = "m/44'/637'/%d'/0'/0'"
	PathSolana  = "m/44'/501'/%d'/0'"
)

// Key 单链账户。PrivateKey 的编码随链不同：
// EVM/Tron 为 hex，Bitcoin 类为 WIF，Aptos 为 0x hex seed，Solana 为 base58(64 字节)。
type Key struct {
	Kind       chain.Kind
	Address    string
	PrivateKey string
	Path       string
}

// Keys 一个 profile 的全部链账户
type Keys struct {
	Index   uint32
	EVM     Key
	Tron    Key
	Bitcoin Key
	Aptos   Key
	Solana  Key
}

// All 按固定顺序返回
func (k *Keys) All() []Key {
	return []Key{k.EVM, k.Tron, k.Bitcoin, k.Aptos, k.Solana}
}

// NewMnemonic 24 词助记词
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// ValidateMnemonic 校验助记词
func ValidateMnemonic(mnemonic string) error {
	if !bip39.IsMnemonicValid(normalize(mnemonic)) {
		return fmt.Errorf("wallet: invalid mnemonic")
	}
	return nil
}

func normalize(mnemonic string) string {
	return strings.Join(strings.Fields(mnemonic), " ")
}

// deriveSecp256k1 BIP32 派生
func deriveSecp256k1(mnemonic, path string) (*ecdsa.PrivateKey, error) {
	w, err := hdwallet.NewFromMnemonic(normalize(mnemonic))
	if err != nil {
		return nil, fmt.Errorf("wallet: invalid mnemonic: %w", err)
	}
	dp, err := hdwallet.ParseDerivationPath(path)
	if err != nil {
		return nil, fmt.Errorf("wallet: invalid derivation path %q: %w", path, err)
	}
	acct, err := w.Derive(dp, false)
	if err != nil {
		return nil, fmt.Errorf("wallet: derive %s: %w", path, err)
	}
	return w.PrivateKey(acct)
}

// DeriveEVM m/44'/60'/0'/0/i
func DeriveEVM(mnemonic string, index uint32) (Key, error) {
	path := fmt.Sprintf(PathEVM, index)
	k, err := deriveSecp256k1(mnemonic, path)
	if err != nil {
		return Key{}, err
	}
	return Key{
		Kind:       chain.KindEVM,
		Address:    evm.AddressOf(k).Hex(),
		PrivateKey: hex.EncodeToString(crypto.FromECDSA(k)),
		Path:       path,
	}, nil
}

// DeriveTron m/44'/195'/0'/0/i
func DeriveTron(mnemonic string, index uint32) (Key, error) {
	path := fmt.Sprintf(PathTron, index)
	k, err := deriveSecp256k1(mnemonic, path)
	if err != nil {
		return Key{}, err
	}
	return Key{
		Kind:       chain.KindTron,
		Address:    tron.AddressFromKey(&k.PublicKey).String(),
		PrivateKey: hex.EncodeToString(crypto.FromECDSA(k)),
		Path:       path,
	}, nil
}

// coinType BIP44 coin type：主网 0，测试网 1，litecoin 2
func coinType(net btc.Network) uint32 {
	if net.Params == nil {
		return 0
	}
	return net.Params.HDCoinType
}

// DeriveBitcoin BIP84 原生隔离见证地址
func DeriveBitcoin(mnemonic string, index uint32, net btc.Network) (Key, error) {
	path := fmt.Sprintf(PathBitcoin, coinType(net), index)
	k, err := deriveSecp256k1(mnemonic, path)
	if err != nil {
		return Key{}, err
	}
	priv, pub := btcec.PrivKeyFromBytes(crypto.FromECDSA(k))
	addr, err := btc.P2WPKH(pub, net)
	if err != nil {
		return Key{}, err
	}
	wif, err := btcutil.NewWIF(priv, net.Params, true)
	if err != nil {
		return Key{}, err
	}
	return Key{
		Kind:       chain.KindBitcoin,
		Address:    addr.EncodeAddress(),
		PrivateKey: wif.String(),
		Path:       path,
	}, nil
}

// DeriveAptos m/44'/637'/i'/0'/0'
func DeriveAptos(mnemonic string, index uint32) (Key, error) {
	path := fmt.Sprintf(PathAptos, index)
	seed, err := DeriveEd25519(mnemonic, path)
	if err != nil {
		return Key{}, err
	}
	acct, err := aptos.AccountFromSeed(seed)
	if err != nil {
		return Key{}, err
	}
	return Key{Kind: chain.KindAptos, Address: acct.Address, PrivateKey: acct.PrivateKeyHex(), Path: path}, nil
}

// DeriveSolana m/44'/501'/i'/0'（Phantom / Solflare 默认路径）
func DeriveSolana(mnemonic string, index uint32) (Key, error) {
	path := fmt.Sprintf(PathSolana, index)
	seed, err := DeriveEd25519(mnemonic, path)
	if err != nil {
		return Key{}, err
	}
	acct, err := solana.AccountFromSeed(seed)
	if err != nil {
		return Key{}, err
	}
	return Key{
		Kind:       chain.KindSolana,
		Address:    acct.PublicKey.ToBase58(),
		PrivateKey: base58.Encode(acct.PrivateKey),
		Path:       path,
	}, nil
}

// DeriveAll 派生一个 profile 的全部账户
func DeriveAll(mnemonic string, index uint32, btcNet btc.Network) (*Keys, error) {
	if err := ValidateMnemonic(mnemonic); err != nil {
		return nil, err
	}
	keys := &Keys{Index: index}
	var err error
	if keys.EVM, err = DeriveEVM(mnemonic, index); err != nil {
		return nil, err
	}
	if keys.Tron, err = DeriveTron(mnemonic, index); err != nil {
		return nil, err
	}
	if keys.Bitcoin, err = DeriveBitcoin(mnemonic, index, btcNet); err != nil {
		return nil, err
	}
	if keys.Aptos, err = DeriveAptos(mnemonic, index); err != nil {
		return nil, err
	}
	if keys.Solana, err = DeriveSolana(mnemonic, index); err != nil {
		return nil, err
	}
	return keys, nil
}

