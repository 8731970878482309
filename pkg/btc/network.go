package btc

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
)

// Network 比特币类链的地址参数
type Network struct {
	Name   string
	Params *chaincfg.Params
	// DustLimit 小于该值的找零直接并入手续费（sats）
	DustLimit int64
}

// LitecoinParams 只包含地址编码相关字段
var LitecoinParams = func() chaincfg.Params {
	p := chaincfg.MainNetParams
	p.Name = "litecoin"
	p.Net = wire.BitcoinNet(0xdbb6c0fb)
	p.Bech32HRPSegwit = "ltc"
	p.PubKeyHashAddrID = 0x30
	p.ScriptHashAddrID = 0x32
	p.PrivateKeyID = 0xb0
	p.HDPrivateKeyID = [4]byte{0x01, 0x9d, 0x9c, 0xfe}
	p.HDPublicKeyID = [4]byte{0x01, 0x9d, 0xa4, 0x62}
	p.HDCoinType = 2
	return p
}()

func init() {
	// bech32 地址解码依赖注册表里的 HRP
	if err := chaincfg.Register(&LitecoinParams); err != nil {
		panic(err)
	}
}

var networks = map[string]Network{
	"bitcoin":  {Name: "Bitcoin", Params: &chaincfg.MainNetParams, DustLimit: 546},
	"testnet":  {Name: "Testnet", Params: &chaincfg.TestNet3Params, DustLimit: 546},
	"signet":   {Name: "Signet", Params: &chaincfg.SigNetParams, DustLimit: 546},
	"regtest":  {Name: "Regtest", Params: &chaincfg.RegressionNetParams, DustLimit: 546},
	"litecoin": {Name: "Litecoin", Params: &LitecoinParams, DustLimit: 5460},
}

// NetworkFor 按链名取网络参数
func NetworkFor(name string) (Network, error) {
	n, ok := networks[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Network{}, fmt.Errorf("btc: unsupported network %q", name)
	}
	return n, nil
}
