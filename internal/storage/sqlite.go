package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"streamvault/internal/job"
	"streamvault/internal/schedule"
	logx "streamvault/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "./streamvault.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) SaveSchedule(ctx context.Context, sch schedule.Schedule) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	data, err := json.Marshal(sch)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO schedules(id, created_at, data) VALUES(?,?,?)
		 ON CONFLICT(id) DO UPDATE SET data=excluded.data`,
		sch.ID, sch.CreatedAt.Format(time.RFC3339Nano), string(data),
	)
	return err
}

func (s *sqliteStore) DeleteSchedule(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) ListSchedules(ctx context.Context) ([]schedule.Schedule, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM schedules ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []schedule.Schedule
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var sch schedule.Schedule
		if err := json.Unmarshal([]byte(data), &sch); err != nil {
			// One corrupt row should not wedge startup.
			s.log.Warn("skipping unreadable schedule row", logx.Err(err))
			continue
		}
		out = append(out, sch)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveJob(ctx context.Context, j job.DownloadJob) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	data, err := json.Marshal(j)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs(id, schedule_id, state, created_at, data) VALUES(?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET schedule_id=excluded.schedule_id,
		   state=excluded.state, data=excluded.data`,
		j.ID, nullStr(j.ScheduleID), string(j.State),
		j.CreatedAt.Format(time.RFC3339Nano), string(data),
	)
	return err
}

func (s *sqliteStore) ListJobs(ctx context.Context) ([]job.DownloadJob, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM jobs ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []job.DownloadJob
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var j job.DownloadJob
		if err := json.Unmarshal([]byte(data), &j); err != nil {
			s.log.Warn("skipping unreadable job row", logx.Err(err))
			continue
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteJobs(ctx context.Context, ids []string) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, err
	}
	var n int64
	if res != nil {
		n, _ = res.RowsAffected()
	}
	return int(n), nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
