package chain

import "github.com/web3mt/web3mt/pkg/amount"

func evmNative(symbol string) amount.Token { return amount.Token{Symbol: symbol, Decimals: 18} }

func tokens(ts ...amount.Token) map[string]amount.Token {
	m := make(map[string]amount.Token, len(ts))
	for _, t := range ts {
		m[t.Symbol] = t
	}
	return m
}

func usdc(addr string) amount.Token { return amount.Token{Symbol: "USDC", Decimals: 6, Address: addr} }
func usdt(addr string) amount.Token { return amount.Token{Symbol: "USDT", Decimals: 6, Address: addr} }

// Default 内置链列表。RPC 均为公共节点，实际使用建议在配置里覆盖。
func Default() *Registry {
	r := NewRegistry()
	for _, c := range defaultChains() {
		if err := r.Register(c); err != nil {
			panic(err)
		}
	}
	return r
}

func defaultChains() []*Chain {
	return []*Chain{
		{
			Name: "Ethereum", Kind: KindEVM, ChainID: 1, Native: evmNative("ETH"), EIP1559: true,
			RPCs: []string{"https://ethereum-rpc.publicnode.com"}, Explorer: "https://etherscan.io",
			Aliases: []string{"eth", "mainnet"},
			Tokens: tokens(
				usdc("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
				usdt("0xdAC17F958D2ee523a2206206994597C13D831ec7"),
				amount.Token{Symbol: "WETH", Decimals: 18, Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"},
			),
		},
		{
			Name: "Arbitrum", Kind: KindEVM, ChainID: 42161, Native: evmNative("ETH"), EIP1559: true,
			RPCs: []string{"https://arb1.arbitrum.io/rpc"}, Explorer: "https://arbiscan.io",
			Aliases: []string{"arb", "arbitrum one"},
			Tokens: tokens(
				usdc("0xaf88d065e77c8cC2239327C5EDb3A432268e5831"),
				usdt("0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9"),
			),
		},
		{
			Name: "Optimism", Kind: KindEVM, ChainID: 10, Native: evmNative("ETH"), EIP1559: true,
			RPCs: []string{"https://mainnet.optimism.io"}, Explorer: "https://optimistic.etherscan.io",
			Aliases: []string{"op"},
			Tokens: tokens(
				usdc("0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85"),
				usdt("0x94b008aA00579c1307B0EF2c499aD98a8ce58e58"),
			),
		},
		{
			Name: "Base", Kind: KindEVM, ChainID: 8453, Native: evmNative("ETH"), EIP1559: true,
			RPCs: []string{"https://mainnet.base.org"}, Explorer: "https://basescan.org",
			Tokens: tokens(usdc("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")),
		},
		{
			Name: "Linea", Kind: KindEVM, ChainID: 59144, Native: evmNative("ETH"), EIP1559: true,
			RPCs: []string{"https://rpc.linea.build"}, Explorer: "https://lineascan.build",
			Tokens: tokens(
				usdc("0x176211869cA2b568f2A7D4EE941E073a821EE1ff"),
				usdt("0xA219439258ca9da29E9Cc4cE5596924745e12B93"),
			),
		},
		{
			Name: "zkSync", Kind: KindEVM, ChainID: 324, Native: evmNative("ETH"), EIP1559: true,
			RPCs: []string{"https://mainnet.era.zksync.io"}, Explorer: "https://explorer.zksync.io",
			Aliases: []string{"zksync era", "era"},
			Tokens: tokens(usdc("0x1d17CBcF0D6D143135aE902365D2E5e2A16538D4")),
		},
		{
			Name: "Scroll", Kind: KindEVM, ChainID: 534352, Native: evmNative("ETH"), EIP1559: true,
			RPCs: []string{"https://rpc.scroll.io"}, Explorer: "https://scrollscan.com",
			Tokens: tokens(
				usdc("0x06eFdBFf2a14a7c8E15944D1F4A48F9F95F663A4"),
				usdt("0xf55BEC9cafDbE8730f096Aa55dad6D22d44099Df"),
			),
		},
		{
			Name: "Zora", Kind: KindEVM, ChainID: 7777777, Native: evmNative("ETH"), EIP1559: true,
			RPCs: []string{"https://rpc.zora.energy"}, Explorer: "https://explorer.zora.energy",
		},
		{
			Name: "BSC", Kind: KindEVM, ChainID: 56, Native: evmNative("BNB"), EIP1559: false,
			RPCs: []string{"https://bsc-dataseed.bnbchain.org"}, Explorer: "https://bscscan.com",
			Aliases: []string{"bnb", "bnb chain", "bep20"},
			Tokens: tokens(
				amount.Token{Symbol: "USDC", Decimals: 18, Address: "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d"},
				amount.Token{Symbol: "USDT", Decimals: 18, Address: "0x55d398326f99059fF775485246999027B3197955"},
			),
		},
		{
			Name: "Polygon", Kind: KindEVM, ChainID: 137, Native: evmNative("POL"), EIP1559: true,
			RPCs: []string{"https://polygon-rpc.com"}, Explorer: "https://polygonscan.com",
			Aliases: []string{"matic"},
			Tokens: tokens(
				usdc("0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359"),
				usdt("0xc2132D05D31c914a87C6611C10748AEb04B58e8F"),
			),
		},
		{
			Name: "Avalanche", Kind: KindEVM, ChainID: 43114, Native: evmNative("AVAX"), EIP1559: true,
			RPCs: []string{"https://api.avax.network/ext/bc/C/rpc"}, Explorer: "https://snowtrace.io",
			Aliases: []string{"avax", "avaxc"},
			Tokens: tokens(
				usdc("0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E"),
				usdt("0x9702230A8Ea53601f5cD2dc00fDBc13d4dF4A8c7"),
			),
		},
		{
			Name: "Sepolia", Kind: KindEVM, ChainID: 11155111, Native: evmNative("ETH"), EIP1559: true,
			RPCs: []string{"https://ethereum-sepolia-rpc.publicnode.com"}, Explorer: "https://sepolia.etherscan.io",
			Testnet: true,
		},
		{
			Name: "Aptos", Kind: KindAptos, Native: amount.Token{Symbol: "APT", Decimals: 8},
			RPCs: []string{"https://fullnode.mainnet.aptoslabs.com/v1"}, Explorer: "https://explorer.aptoslabs.com",
			Aliases: []string{"apt"},
		},
		{
			Name: "Tron", Kind: KindTron, Native: amount.Token{Symbol: "TRX", Decimals: 6},
			RPCs: []string{"https://api.trongrid.io"}, Explorer: "https://tronscan.org",
			Aliases: []string{"trx", "trc20"},
			Tokens: tokens(usdt("TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t")),
		},
		{
			Name: "Solana", Kind: KindSolana, Native: amount.Token{Symbol: "SOL", Decimals: 9},
			RPCs: []string{"https://api.mainnet-beta.solana.com"}, Explorer: "https://solscan.io",
			Aliases: []string{"sol"},
			Tokens: tokens(
				usdc("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"),
				usdt("Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"),
			),
		},
		{
			Name: "Bitcoin", Kind: KindBitcoin, Native: amount.Token{Symbol: "BTC", Decimals: 8},
			RPCs: []string{"https://blockstream.info/api"}, Explorer: "https://mempool.space",
			Aliases: []string{"btc"},
		},
		{
			Name: "Litecoin", Kind: KindBitcoin, Native: amount.Token{Symbol: "LTC", Decimals: 8},
			RPCs: []string{"https://litecoinspace.org/api"}, Explorer: "https://litecoinspace.org",
			Aliases: []string{"ltc"},
		},
		{
			Name: "Monero", Kind: KindMonero, Native: amount.Token{Symbol: "XMR", Decimals: 12},
			RPCs: []string{"http://127.0.0.1:18082/json_rpc"},
			Aliases: []string{"xmr"},
		},
	}
}
