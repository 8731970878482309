package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// TaskRun 一次 (task, profile) 执行记录
type TaskRun struct {
	ID         int64
	RunID      string
	Task       string
	ProfileID  string
	StartedAt  time.Time
	FinishedAt *time.Time
	OK         *bool
	Error      string
	Result     string
}

// StartTaskRun 记录开始，返回行 ID
func (s *Store) StartTaskRun(ctx context.Context, runID, task, profileID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO task_runs(run_id, task, profile_id, started_at)
VALUES(?,?,?,?)
`, runID, task, profileID, now())
	if err != nil {
		return 0, fmt.Errorf("start task run: %w", err)
	}
	return res.LastInsertId()
}

// FinishTaskRun 记录结束。runErr 为 nil 视为成功
func (s *Store) FinishTaskRun(ctx context.Context, id int64, runErr error, result string) error {
	var errText sql.NullString
	if runErr != nil {
		errText = sql.NullString{String: runErr.Error(), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE task_runs SET finished_at=?, ok=?, error=?, result=?
WHERE id=?
`, now(), boolToInt(runErr == nil), errText, result, id)
	if err != nil {
		return fmt.Errorf("finish task run %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task run %d: %w", id, ErrNotFound)
	}
	return nil
}

// LastSuccess 最近一次成功的记录，没有时返回 ErrNotFound
func (s *Store) LastSuccess(ctx context.Context, task, profileID string) (*TaskRun, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, run_id, task, profile_id, started_at, finished_at, ok, error, result
FROM task_runs
WHERE task=? AND profile_id=? AND ok=1
ORDER BY id DESC LIMIT 1
`, task, profileID)
	r, err := scanTaskRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s/%s: %w", task, profileID, ErrNotFound)
	}
	return r, err
}

// ListTaskRuns 最近的记录，limit 超出范围时取 50
func (s *Store) ListTaskRuns(ctx context.Context, limit int) ([]TaskRun, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, run_id, task, profile_id, started_at, finished_at, ok, error, result
FROM task_runs
ORDER BY id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaskRun
	for rows.Next() {
		r, err := scanTaskRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanTaskRun(sc scanner) (*TaskRun, error) {
	var (
		r        TaskRun
		started  string
		finished sql.NullString
		ok       sql.NullInt64
		errText  sql.NullString
		result   sql.NullString
	)
	if err := sc.Scan(&r.ID, &r.RunID, &r.Task, &r.ProfileID, &started, &finished, &ok, &errText, &result); err != nil {
		return nil, err
	}
	r.StartedAt = parseTime(started)
	if finished.Valid {
		t := parseTime(finished.String)
		r.FinishedAt = &t
	}
	if ok.Valid {
		b := ok.Int64 == 1
		r.OK = &b
	}
	r.Error = errText.String
	r.Result = result.String
	return &r, nil
}
