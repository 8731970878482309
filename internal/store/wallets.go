package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/web3mt/web3mt/pkg/chain"
)

// Wallet 链钱包，私钥只以密文落库
type Wallet struct {
	ProfileID string
	Kind      chain.Kind
	Address   string
	Path      string
	CreatedAt time.Time
}

var errNoVault = errors.New("store: vault not configured")

// AddWallet 写入（同 profile 同 kind 覆盖）
func (s *Store) AddWallet(ctx context.Context, profileID string, kind chain.Kind, address, privateKey, path string) error {
	if s.vault == nil {
		return errNoVault
	}
	enc, err := s.vault.Encrypt(privateKey)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO wallets(profile_id, kind, address, key_enc, path, created_at)
VALUES(?,?,?,?,?,?)
ON CONFLICT(profile_id, kind) DO UPDATE SET
  address=excluded.address,
  key_enc=excluded.key_enc,
  path=excluded.path
`, profileID, string(kind), address, enc, path, now())
	if err != nil {
		return fmt.Errorf("add wallet %s/%s: %w", profileID, kind, err)
	}
	return nil
}

// Wallets profile 的全部钱包
func (s *Store) Wallets(ctx context.Context, profileID string) ([]Wallet, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT profile_id, kind, address, path, created_at FROM wallets
WHERE profile_id=? ORDER BY kind ASC
`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// Wallet 单个钱包
func (s *Store) Wallet(ctx context.Context, profileID string, kind chain.Kind) (Wallet, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT profile_id, kind, address, path, created_at FROM wallets
WHERE profile_id=? AND kind=?
`, profileID, string(kind))
	w, err := scanWallet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Wallet{}, fmt.Errorf("wallet %s/%s: %w", profileID, kind, ErrNotFound)
	}
	return w, err
}

// PrivateKey 解密私钥
func (s *Store) PrivateKey(ctx context.Context, profileID string, kind chain.Kind) (string, error) {
	if s.vault == nil {
		return "", errNoVault
	}
	var enc string
	err := s.db.QueryRowContext(ctx, `SELECT key_enc FROM wallets WHERE profile_id=? AND kind=?`, profileID, string(kind)).Scan(&enc)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("wallet %s/%s: %w", profileID, kind, ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return s.vault.Decrypt(enc)
}

// FindWalletByAddress 反查地址属于哪个 profile
func (s *Store) FindWalletByAddress(ctx context.Context, address string) (Wallet, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT profile_id, kind, address, path, created_at FROM wallets
WHERE address=? COLLATE NOCASE LIMIT 1
`, address)
	w, err := scanWallet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Wallet{}, fmt.Errorf("wallet %s: %w", address, ErrNotFound)
	}
	return w, err
}

func scanWallet(r scanner) (Wallet, error) {
	var (
		w       Wallet
		kind    string
		created string
	)
	if err := r.Scan(&w.ProfileID, &kind, &w.Address, &w.Path, &created); err != nil {
		return Wallet{}, err
	}
	w.Kind = chain.Kind(kind)
	w.CreatedAt = parseTime(created)
	return w, nil
}
