// Package store profile 数据库（SQLite）：profiles、wallets、余额快照、任务执行记录。
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("store: not found")

// Store SQLite 存储
type Store struct {
	db    *sql.DB
	vault *Vault
}

// Open 打开数据库并迁移。vault 为空时不能读写私钥。
func Open(path string, vault *Vault) (*Store, error) {
	if path == "" {
		return nil, errors.New("store: db path is required")
	}
	if !strings.HasPrefix(path, "file:") && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定

	s := &Store{db: db, vault: vault}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close 关闭数据库
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA foreign_keys=ON;`,
		`
CREATE TABLE IF NOT EXISTS profiles (
  id TEXT PRIMARY KEY,
  idx INTEGER NOT NULL,
  label TEXT NOT NULL DEFAULT '',
  proxy TEXT NOT NULL DEFAULT '',
  tags TEXT NOT NULL DEFAULT '',
  cex_deposits TEXT NOT NULL DEFAULT '{}',
  note TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_profiles_idx ON profiles(idx);`,
		`
CREATE TABLE IF NOT EXISTS wallets (
  profile_id TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
  kind TEXT NOT NULL,
  address TEXT NOT NULL,
  key_enc TEXT NOT NULL,
  path TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL,
  PRIMARY KEY (profile_id, kind)
);`,
		`CREATE INDEX IF NOT EXISTS idx_wallets_address ON wallets(address);`,
		`
CREATE TABLE IF NOT EXISTS balance_snapshots (
  profile_id TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
  chain TEXT NOT NULL,
  token TEXT NOT NULL,
  amount TEXT NOT NULL,
  usd TEXT NOT NULL,
  ts TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_balance_snapshots_profile_ts ON balance_snapshots(profile_id, ts DESC);`,
		`
CREATE TABLE IF NOT EXISTS task_runs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  run_id TEXT NOT NULL,
  task TEXT NOT NULL,
  profile_id TEXT NOT NULL,
  started_at TEXT NOT NULL,
  finished_at TEXT,
  ok INTEGER,
  error TEXT,
  result TEXT
);`,
		`CREATE INDEX IF NOT EXISTS idx_task_runs_task_profile ON task_runs(task, profile_id, ok);`,
		`CREATE INDEX IF NOT EXISTS idx_task_runs_started_at ON task_runs(started_at DESC);`,
	}

	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate exec failed: %w", err)
		}
	}

	// 兼容：旧库没有 note 列时补齐（SQLite 不支持 ADD COLUMN IF NOT EXISTS）
	ok, err := hasColumn(ctx, s.db, "profiles", "note")
	if err != nil {
		return err
	}
	if !ok {
		if _, err := s.db.ExecContext(ctx, `ALTER TABLE profiles ADD COLUMN note TEXT NOT NULL DEFAULT '';`); err != nil {
			return fmt.Errorf("alter profiles add note: %w", err)
		}
	}
	return nil
}

func hasColumn(ctx context.Context, db *sql.DB, table string, col string) (bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s);`, table))
	if err != nil {
		return false, err
	}
	defer rows.Close()
	// PRAGMA table_info 返回：cid,name,type,notnull,dflt_value,pk
	for rows.Next() {
		var (
			cid       int
			name      string
			typ       string
			notnull   int
			dfltValue any
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == col {
			return true, nil
		}
	}
	return false, rows.Err()
}

func now() string { return time.Now().UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
