package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// BalanceSnapshot 某一时刻的余额（amount 为人类可读单位）
type BalanceSnapshot struct {
	ProfileID string
	Chain     string
	Token     string
	Amount    decimal.Decimal
	USD       decimal.Decimal
	At        time.Time
}

// InsertBalanceSnapshots 同一事务内批量写入
func (s *Store) InsertBalanceSnapshots(ctx context.Context, snaps []BalanceSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO balance_snapshots(profile_id, chain, token, amount, usd, ts)
VALUES(?,?,?,?,?,?)
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	ts := now()
	for _, b := range snaps {
		at := ts
		if !b.At.IsZero() {
			at = b.At.UTC().Format(time.RFC3339Nano)
		}
		if _, err := stmt.ExecContext(ctx, b.ProfileID, b.Chain, b.Token, b.Amount.String(), b.USD.String(), at); err != nil {
			return fmt.Errorf("insert snapshot %s/%s/%s: %w", b.ProfileID, b.Chain, b.Token, err)
		}
	}
	return tx.Commit()
}

// LatestBalances 每个 (chain, token) 最近一次快照
func (s *Store) LatestBalances(ctx context.Context, profileID string) ([]BalanceSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT b.profile_id, b.chain, b.token, b.amount, b.usd, b.ts
FROM balance_snapshots b
JOIN (
  SELECT chain, token, MAX(ts) AS ts FROM balance_snapshots
  WHERE profile_id=? GROUP BY chain, token
) l ON l.chain=b.chain AND l.token=b.token AND l.ts=b.ts
WHERE b.profile_id=?
ORDER BY b.chain ASC, b.token ASC
`, profileID, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BalanceSnapshot
	for rows.Next() {
		var (
			b      BalanceSnapshot
			amount string
			usd    string
			ts     string
		)
		if err := rows.Scan(&b.ProfileID, &b.Chain, &b.Token, &amount, &usd, &ts); err != nil {
			return nil, err
		}
		if b.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("bad amount %q: %w", amount, err)
		}
		if b.USD, err = decimal.NewFromString(usd); err != nil {
			return nil, fmt.Errorf("bad usd %q: %w", usd, err)
		}
		b.At = parseTime(ts)
		out = append(out, b)
	}
	return out, rows.Err()
}
