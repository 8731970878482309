package wallet

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3mt/web3mt/pkg/aptos"
	"github.com/web3mt/web3mt/pkg/btc"
	"github.com/web3mt/web3mt/pkg/evm"
	"github.com/web3mt/web3mt/pkg/solana"
	"github.com/web3mt/web3mt/pkg/tron"
)

const abandon = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestNewMnemonic(t *testing.T) {
	m, err := NewMnemonic()
	require.NoError(t, err)
	assert.Len(t, strings.Fields(m), 24)
	assert.NoError(t, ValidateMnemonic(m))
	assert.Error(t, ValidateMnemonic("abandon abandon"))
}

func TestDeriveEVMKnownVector(t *testing.T) {
	k, err := DeriveEVM(abandon, 0)
	require.NoError(t, err)
	assert.Equal(t, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", k.Address)
	assert.Equal(t, "m/44'/60'/0'/0/0", k.Path)

	key, err := evm.ParseKey(k.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, k.Address, evm.AddressOf(key).Hex())

	// 多余空白不影响结果
	k2, err := DeriveEVM("  "+strings.ReplaceAll(abandon, " ", "  ")+"\n", 0)
	require.NoError(t, err)
	assert.Equal(t, k.Address, k2.Address)
}

func TestDeriveBitcoinKnownVector(t *testing.T) {
	net, err := btc.NetworkFor("bitcoin")
	require.NoError(t, err)
	k, err := DeriveBitcoin(abandon, 0, net)
	require.NoError(t, err)
	assert.Equal(t, "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu", k.Address)
	assert.Equal(t, "m/84'/0'/0'/0/0", k.Path)

	priv, err := btc.ParseKey(k.PrivateKey)
	require.NoError(t, err)
	addr, err := btc.P2WPKH(priv.PubKey(), net)
	require.NoError(t, err)
	assert.Equal(t, k.Address, addr.EncodeAddress())

	ltc, err := btc.NetworkFor("litecoin")
	require.NoError(t, err)
	lk, err := DeriveBitcoin(abandon, 0, ltc)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(lk.Address, "ltc1q"), lk.Address)
	assert.Equal(t, "m/84'/2'/0'/0/0", lk.Path)
}

func TestDeriveTron(t *testing.T) {
	k, err := DeriveTron(abandon, 0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(k.Address, "T"))
	_, err = tron.ParseAddress(k.Address)
	assert.NoError(t, err)

	k1, err := DeriveTron(abandon, 1)
	require.NoError(t, err)
	assert.NotEqual(t, k.Address, k1.Address)
}

func TestSLIP10Vector(t *testing.T) {
	seed, _ := hex.DecodeString("000102030405060708090a0b0c0d0e0f")
	key, cc := slip10Master(seed)
	assert.Equal(t, "2b4be7f19ee27bbf30c667b642d5f4aa69fd169872f8fc3059c08ebae2eb19e7", hex.EncodeToString(key))
	assert.Equal(t, "90046a93de5380a72b5e45010748567d5ea02bbf6522f979e05c0d8d8ca9fffb", hex.EncodeToString(cc))

	key, cc = slip10Child(key, cc, hardenedOffset)
	assert.Equal(t, "68e0fe46dfb67e368c75379acec591dad19df3cde26e63b93a8e704f1dade7a3", hex.EncodeToString(key))
	assert.Equal(t, "8b59aa11380b624e81507a27fedda59fea6d0b779a778918a2fd3590e16e9c69", hex.EncodeToString(cc))
}

func TestParseHardenedPath(t *testing.T) {
	idx, err := parseHardenedPath("m/44'/501'/0h/0'")
	require.NoError(t, err)
	assert.Equal(t, []uint32{44 + hardenedOffset, 501 + hardenedOffset, hardenedOffset, hardenedOffset}, idx)

	_, err = parseHardenedPath("m/44'/501'/0/0'")
	assert.ErrorContains(t, err, "hardened")
	_, err = parseHardenedPath("44'/501'")
	assert.Error(t, err)
}

func TestDeriveEd25519Accounts(t *testing.T) {
	ak, err := DeriveAptos(abandon, 0)
	require.NoError(t, err)
	acct, err := aptos.AccountFromHex(ak.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, ak.Address, acct.Address)
	assert.Len(t, ak.Address, 66)

	sk, err := DeriveSolana(abandon, 0)
	require.NoError(t, err)
	sacct, err := solana.AccountFromBase58(sk.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, sk.Address, sacct.PublicKey.ToBase58())
	assert.NoError(t, solana.ValidateAddress(sk.Address))

	sk1, err := DeriveSolana(abandon, 1)
	require.NoError(t, err)
	assert.NotEqual(t, sk.Address, sk1.Address)
}

func TestDeriveAll(t *testing.T) {
	net, err := btc.NetworkFor("testnet")
	require.NoError(t, err)
	keys, err := DeriveAll(abandon, 3, net)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), keys.Index)
	assert.Len(t, keys.All(), 5)
	assert.True(t, strings.HasPrefix(keys.Bitcoin.Address, "tb1q"))
	assert.Equal(t, "m/84'/1'/0'/0/3", keys.Bitcoin.Path)

	_, err = DeriveAll("not a mnemonic", 0, net)
	assert.Error(t, err)
}

func TestFromPrivateKeyRoundTrip(t *testing.T) {
	net, err := btc.NetworkFor("bitcoin")
	require.NoError(t, err)
	keys, err := DeriveAll(abandon, 3, net)
	require.NoError(t, err)
	for _, k := range keys.All() {
		got, err := FromPrivateKey(k.Kind, k.PrivateKey, net)
		require.NoError(t, err, k.Kind)
		assert.Equal(t, k.Address, got.Address, k.Kind)
		assert.Equal(t, k.PrivateKey, got.PrivateKey, k.Kind)
	}

	// 0x 前缀的 EVM 私钥
	got, err := FromPrivateKey(keys.EVM.Kind, "0x"+keys.EVM.PrivateKey, net)
	require.NoError(t, err)
	assert.Equal(t, keys.EVM.Address, got.Address)

	_, err = FromPrivateKey(keys.EVM.Kind, " ", net)
	assert.Error(t, err)
	_, err = FromPrivateKey("monero", "abc", net)
	assert.Error(t, err)
}
