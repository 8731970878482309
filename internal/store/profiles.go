package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Profile 一个被管理的身份：一组链钱包 + 代理 + 交易所充值地址
type Profile struct {
	ID    string
	Index uint32
	Label string
	Proxy string
	Tags  []string
	// Deposits key 为 "exchange:network"，例如 "okx:Arbitrum"
	Deposits  map[string]string
	Note      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DepositAddress 交易所充值地址
func (p *Profile) DepositAddress(exchange, network string) (string, bool) {
	addr, ok := p.Deposits[DepositKey(exchange, network)]
	return addr, ok
}

// HasTag 是否带有 tag
func (p *Profile) HasTag(tag string) bool {
	for _, t := range p.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// DepositKey "okx:Arbitrum"
func DepositKey(exchange, network string) string {
	return strings.ToLower(exchange) + ":" + network
}

// Filter ListProfiles 过滤条件，零值返回全部
type Filter struct {
	IDs []string
	Tag string
}

// ProfileUpdate 为 nil 的字段不修改
type ProfileUpdate struct {
	Label    *string
	Proxy    *string
	Tags     []string
	Deposits map[string]string // 合并，空字符串表示删除
	Note     *string
}

const profileColumns = `id, idx, label, proxy, tags, cex_deposits, note, created_at, updated_at`

// CreateProfile 新建 profile，ID 为空时用 index 生成
func (s *Store) CreateProfile(ctx context.Context, p *Profile) error {
	if p.ID == "" {
		p.ID = fmt.Sprintf("p%03d", p.Index)
	}
	deposits, err := json.Marshal(nonNilMap(p.Deposits))
	if err != nil {
		return err
	}
	ts := now()
	_, err = s.db.ExecContext(ctx, `
INSERT INTO profiles(`+profileColumns+`)
VALUES(?,?,?,?,?,?,?,?,?)
`, p.ID, p.Index, p.Label, p.Proxy, joinTags(p.Tags), string(deposits), p.Note, ts, ts)
	if err != nil {
		return fmt.Errorf("create profile %s: %w", p.ID, err)
	}
	p.CreatedAt = parseTime(ts)
	p.UpdatedAt = p.CreatedAt
	return nil
}

// GetProfile 按 ID 查询
func (s *Store) GetProfile(ctx context.Context, id string) (*Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id=?`, id)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", id, ErrNotFound)
	}
	return p, err
}

// ListProfiles 按 index 升序
func (s *Store) ListProfiles(ctx context.Context, f Filter) ([]*Profile, error) {
	q := `SELECT ` + profileColumns + ` FROM profiles`
	var args []any
	if len(f.IDs) > 0 {
		q += ` WHERE id IN (?` + strings.Repeat(",?", len(f.IDs)-1) + `)`
		for _, id := range f.IDs {
			args = append(args, id)
		}
	}
	q += ` ORDER BY idx ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		if f.Tag != "" && !p.HasTag(f.Tag) {
			continue
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateProfile 修改代理、充值地址、备注等
func (s *Store) UpdateProfile(ctx context.Context, id string, u ProfileUpdate) (*Profile, error) {
	p, err := s.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Label != nil {
		p.Label = *u.Label
	}
	if u.Proxy != nil {
		p.Proxy = *u.Proxy
	}
	if u.Tags != nil {
		p.Tags = u.Tags
	}
	if u.Note != nil {
		p.Note = *u.Note
	}
	for k, v := range u.Deposits {
		if v == "" {
			delete(p.Deposits, k)
			continue
		}
		p.Deposits[k] = v
	}
	deposits, err := json.Marshal(p.Deposits)
	if err != nil {
		return nil, err
	}
	ts := now()
	_, err = s.db.ExecContext(ctx, `
UPDATE profiles SET label=?, proxy=?, tags=?, cex_deposits=?, note=?, updated_at=?
WHERE id=?
`, p.Label, p.Proxy, joinTags(p.Tags), string(deposits), p.Note, ts, id)
	if err != nil {
		return nil, fmt.Errorf("update profile %s: %w", id, err)
	}
	p.UpdatedAt = parseTime(ts)
	return p, nil
}

// NextProfileIndex 下一个可用的派生序号
func (s *Store) NextProfileIndex(ctx context.Context) (uint32, error) {
	var max sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(idx) FROM profiles`).Scan(&max); err != nil {
		return 0, err
	}
	if !max.Valid {
		return 0, nil
	}
	return uint32(max.Int64) + 1, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProfile(r scanner) (*Profile, error) {
	var (
		p        Profile
		tags     string
		deposits string
		created  string
		updated  string
	)
	if err := r.Scan(&p.ID, &p.Index, &p.Label, &p.Proxy, &tags, &deposits, &p.Note, &created, &updated); err != nil {
		return nil, err
	}
	p.Tags = splitTags(tags)
	p.Deposits = map[string]string{}
	if deposits != "" {
		if err := json.Unmarshal([]byte(deposits), &p.Deposits); err != nil {
			return nil, fmt.Errorf("profile %s: bad cex_deposits: %w", p.ID, err)
		}
	}
	p.CreatedAt = parseTime(created)
	p.UpdatedAt = parseTime(updated)
	return &p, nil
}

func joinTags(tags []string) string {
	clean := make([]string, 0, len(tags))
	seen := map[string]bool{}
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		clean = append(clean, t)
	}
	sort.Strings(clean)
	return strings.Join(clean, ",")
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
