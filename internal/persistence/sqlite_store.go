package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/podharvest/internal/jobs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(path.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

func (s *SQLiteStore) LoadTasks(ctx context.Context) ([]*jobs.Task, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, kind, source, dedupe_key, payload_json, status, result, error, created_at, updated_at
		 FROM tasks
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*jobs.Task, 0)
	for rows.Next() {
		var item jobs.Task
		var kind, status, payloadJSON string
		if err := rows.Scan(
			&item.ID,
			&kind,
			&item.Source,
			&item.DedupeKey,
			&payloadJSON,
			&status,
			&item.Result,
			&item.Error,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payloadJSON), &item.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of task %s: %w", item.ID, err)
		}
		item.Kind = jobs.Kind(kind)
		item.Status = jobs.Status(status)
		ret = append(ret, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteStore) DeleteTask(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, taskID)
	return err
}

func (s *SQLiteStore) UpsertTask(ctx context.Context, task *jobs.Task) error {
	if task == nil {
		return fmt.Errorf("task is nil")
	}
	payload, err := json.Marshal(task.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO tasks (
			id, kind, source, dedupe_key, payload_json, status, result, error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind=excluded.kind,
			source=excluded.source,
			dedupe_key=excluded.dedupe_key,
			payload_json=excluded.payload_json,
			status=excluded.status,
			result=excluded.result,
			error=excluded.error,
			updated_at=excluded.updated_at`,
		task.ID,
		string(task.Kind),
		task.Source,
		task.DedupeKey,
		string(payload),
		string(task.Status),
		task.Result,
		task.Error,
		task.CreatedAt,
		task.UpdatedAt,
	)
	return err
}

// DeleteTaskData removes the runs started by a task and their unit results.
func (s *SQLiteStore) DeleteTaskData(ctx context.Context, taskID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM run_units WHERE run_id IN (SELECT id FROM runs WHERE task_id = ?)`, taskID); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE task_id = ?`, taskID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) StartRun(ctx context.Context, run Run) error {
	startedAt := run.StartedAt.UTC()
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO runs (id, task_id, kind, started_at, total_units)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			task_id=excluded.task_id,
			kind=excluded.kind,
			started_at=excluded.started_at,
			total_units=excluded.total_units`,
		run.ID,
		run.TaskID,
		run.Kind,
		startedAt,
		run.Total,
	)
	return err
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, failed int, finishedAt time.Time) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE runs SET finished_at = ?, failed_units = ? WHERE id = ?`,
		finishedAt.UTC(),
		failed,
		runID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

func (s *SQLiteStore) PutUnitResult(ctx context.Context, result UnitResult) error {
	updatedAt := result.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO run_units (run_id, unit, status, detail, error, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, unit) DO UPDATE SET
			status=excluded.status,
			detail=excluded.detail,
			error=excluded.error,
			updated_at=excluded.updated_at`,
		result.RunID,
		result.Unit,
		result.Status,
		result.Detail,
		result.Error,
		updatedAt,
	)
	return err
}

// LatestRun returns the most recently started run of kind.
func (s *SQLiteStore) LatestRun(ctx context.Context, kind string) (Run, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, task_id, kind, started_at, finished_at, total_units, failed_units
		 FROM runs
		 WHERE kind = ?
		 ORDER BY started_at DESC
		 LIMIT 1`,
		kind,
	)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, false, nil
		}
		return Run{}, false, err
	}
	return run, true, nil
}

// RunsByTask returns the runs started by a task, oldest first.
func (s *SQLiteStore) RunsByTask(ctx context.Context, taskID string) ([]Run, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, task_id, kind, started_at, finished_at, total_units, failed_units
		 FROM runs
		 WHERE task_id = ?
		 ORDER BY started_at ASC`,
		taskID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var finishedAt sql.NullTime
	if err := row.Scan(&run.ID, &run.TaskID, &run.Kind, &run.StartedAt, &finishedAt, &run.Total, &run.Failed); err != nil {
		return Run{}, err
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	return run, nil
}

func (s *SQLiteStore) LoadUnitResults(ctx context.Context, runID string) ([]UnitResult, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT run_id, unit, status, detail, error, updated_at
		 FROM run_units
		 WHERE run_id = ?
		 ORDER BY unit ASC`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]UnitResult, 0)
	for rows.Next() {
		var item UnitResult
		if err := rows.Scan(&item.RunID, &item.Unit, &item.Status, &item.Detail, &item.Error, &item.UpdatedAt); err != nil {
			return nil, err
		}
		ret = append(ret, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}
