// Package solana Solana 客户端：SOL / SPL 余额与 SOL 转账。
package solana

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"

	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/program/system"
	"github.com/blocto/solana-go-sdk/types"
	"github.com/btcsuite/btcd/btcutil/base58"

	"github.com/web3mt/web3mt/pkg/amount"
	"github.com/web3mt/web3mt/pkg/chain"
	"github.com/web3mt/web3mt/pkg/logger"
	"github.com/web3mt/web3mt/pkg/txflow"
)

// BaseFee 每个签名的基础手续费（lamports）
const BaseFee = 5000

var ErrInsufficientFunds = errors.New("solana: insufficient funds")

// Config 重试参数
type Config struct {
	Flow txflow.Options `yaml:"-" json:"-"`
}

func (c Config) withDefaults() Config {
	// blockhash 约 150 个 slot 内有效，查询不到的容忍时间要覆盖这段窗口
	if c.Flow.NotFoundLimit <= 0 {
		c.Flow.NotFoundLimit = 30
	}
	return c
}

// Client Solana 客户端
type Client struct {
	chain   *chain.Chain
	backend Backend
	cfg     Config
}

// NewClient 用已有 Backend 创建客户端
func NewClient(c *chain.Chain, b Backend, cfg Config) *Client {
	return &Client{chain: c, backend: b, cfg: cfg.withDefaults()}
}

// Chain 链描述
func (c *Client) Chain() *chain.Chain { return c.chain }

// AccountFromSeed 32 字节 ed25519 种子
func AccountFromSeed(seed []byte) (types.Account, error) {
	if len(seed) != ed25519.SeedSize {
		return types.Account{}, fmt.Errorf("solana: seed must be %d bytes", ed25519.SeedSize)
	}
	return types.AccountFromSeed(seed)
}

// AccountFromBase58 钱包导出的 base58 私钥（64 字节）
func AccountFromBase58(s string) (types.Account, error) {
	raw := base58.Decode(strings.TrimSpace(s))
	if len(raw) != ed25519.PrivateKeySize {
		return types.Account{}, fmt.Errorf("solana: invalid base58 private key")
	}
	return types.AccountFromBytes(raw)
}

// ValidateAddress 校验 base58 公钥
func ValidateAddress(addr string) error {
	if len(base58.Decode(strings.TrimSpace(addr))) != 32 {
		return fmt.Errorf("solana: invalid address %q", addr)
	}
	return nil
}

// Balance SOL 余额
func (c *Client) Balance(ctx context.Context, addr string) (amount.Amount, error) {
	if err := ValidateAddress(addr); err != nil {
		return amount.Amount{}, err
	}
	v, err := c.backend.GetBalance(ctx, addr)
	if err != nil {
		return amount.Amount{}, fmt.Errorf("获取 SOL 余额失败: %w", err)
	}
	return amount.FromUint(v, c.chain.Native.Decimals, c.chain.Native.Symbol), nil
}

// TokenBalance SPL 代币余额（关联代币账户）；账户不存在视为 0
func (c *Client) TokenBalance(ctx context.Context, token amount.Token, owner string) (amount.Amount, error) {
	if token.IsNative() {
		return c.Balance(ctx, owner)
	}
	if err := ValidateAddress(owner); err != nil {
		return amount.Amount{}, err
	}
	ata, _, err := common.FindAssociatedTokenAddress(common.PublicKeyFromString(owner), common.PublicKeyFromString(token.Address))
	if err != nil {
		return amount.Amount{}, err
	}
	v, err := c.backend.TokenAccountBalance(ctx, ata.ToBase58())
	if err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "could not find account") || strings.Contains(msg, "invalid param") {
			return amount.Zero(token.Decimals, token.Symbol), nil
		}
		return amount.Amount{}, fmt.Errorf("获取 %s 余额失败: %w", token.Symbol, err)
	}
	return amount.FromUint(v, token.Decimals, token.Symbol), nil
}

var solanaRules = []txflow.Rule{
	{Contains: []string{"blockhash not found", "block height exceeded"}, Action: txflow.ActionRefreshNonce},
	{Contains: []string{"already been processed", "AlreadyProcessed"}, Action: txflow.ActionKnown},
	{Contains: []string{
		"insufficient lamports", "insufficient funds",
		"found no record of a prior credit", "InsufficientFundsForRent", "invalid account data",
	}, Action: txflow.ActionFail},
}

// Classify Solana 错误归类
func Classify(err error) txflow.Action {
	return txflow.Classify(err, solanaRules, txflow.ActionRetry)
}

// Receipt 已确认交易
type Receipt struct {
	Signature string
	Slot      uint64
	Fee       amount.Amount
	URL       string
	Attempts  int
}

type submitter struct {
	c            *Client
	from         types.Account
	instructions []types.Instruction
	need         uint64

	tx  *types.Transaction
	sig string
}

func (s *submitter) Prepare(ctx context.Context, at *txflow.Attempt) error {
	// 同一 blockhash 的交易签名不变，慢交易原样重播；只有 blockhash 过期才重建
	if s.tx != nil && !at.RefreshNonce {
		return nil
	}
	if s.need > 0 {
		bal, err := s.c.backend.GetBalance(ctx, s.from.PublicKey.ToBase58())
		if err != nil {
			return err
		}
		if bal < s.need+BaseFee {
			return txflow.Permanent(fmt.Errorf("%w: have %d lamports, need %d", ErrInsufficientFunds, bal, s.need+BaseFee))
		}
	}
	blockhash, err := s.c.backend.LatestBlockhash(ctx)
	if err != nil {
		return fmt.Errorf("获取 blockhash 失败: %w", err)
	}
	tx, err := types.NewTransaction(types.NewTransactionParam{
		Signers: []types.Account{s.from},
		Message: types.NewMessage(types.NewMessageParam{
			FeePayer:        s.from.PublicKey,
			RecentBlockhash: blockhash,
			Instructions:    s.instructions,
		}),
	})
	if err != nil {
		return txflow.Permanent(fmt.Errorf("构造交易失败: %w", err))
	}
	s.tx = &tx
	s.sig = base58.Encode(tx.Signatures[0])
	return nil
}

func (s *submitter) Submit(ctx context.Context, _ *txflow.Attempt) (string, error) {
	if _, err := s.c.backend.SendTransaction(ctx, *s.tx); err != nil {
		return s.sig, err
	}
	return s.sig, nil
}

func (s *submitter) Status(ctx context.Context, hash string) (txflow.Status, error) {
	st, err := s.c.backend.SignatureStatus(ctx, hash)
	if err != nil {
		return txflow.StatusPending, err
	}
	switch {
	case !st.Found:
		return txflow.StatusNotFound, nil
	case st.Err != "":
		return txflow.StatusReverted, nil
	case st.Confirmed:
		return txflow.StatusSuccess, nil
	}
	return txflow.StatusPending, nil
}

func (s *submitter) Classify(err error) txflow.Action { return Classify(err) }

// Transfer 转 SOL
func (c *Client) Transfer(ctx context.Context, from types.Account, to string, value amount.Amount) (*Receipt, error) {
	if err := ValidateAddress(to); err != nil {
		return nil, err
	}
	lamports, ok := value.Uint64()
	if !ok || lamports == 0 {
		return nil, fmt.Errorf("solana: invalid amount %s", value)
	}
	s := &submitter{
		c:    c,
		from: from,
		need: lamports,
		instructions: []types.Instruction{
			system.Transfer(system.TransferParam{
				From:   from.PublicKey,
				To:     common.PublicKeyFromString(to),
				Amount: lamports,
			}),
		},
	}

	opts := c.cfg.Flow
	opts.Label = c.chain.Name + ":transfer"
	opts.Log = logger.WithFields(map[string]interface{}{
		logger.FieldChain: c.chain.Name,
		"from":            from.PublicKey.ToBase58(),
		"op":              "transfer",
	})
	res, err := txflow.Run(ctx, s, opts)
	if res == nil || res.Hash == "" {
		return nil, err
	}
	out := &Receipt{
		Signature: res.Hash,
		URL:       c.chain.TxURL(res.Hash),
		Attempts:  res.Attempts,
		Fee:       amount.FromUint(BaseFee, c.chain.Native.Decimals, c.chain.Native.Symbol),
	}
	if st, serr := c.backend.SignatureStatus(ctx, res.Hash); serr == nil {
		out.Slot = st.Slot
	}
	return out, err
}
