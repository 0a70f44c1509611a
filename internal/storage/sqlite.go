package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"roadmapd/internal/roadmap"
	"roadmapd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type Config struct {
	Path        string
	BusyTimeout time.Duration
}

// DB is the SQLite-backed store. It implements roadmap.Store,
// roadmap.TemplateImporter and the notifier's dedup persistence.
type DB struct {
	db   *sql.DB
	path string
	log  logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func Open(cfg Config, log logx.Logger) (*DB, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &DB{db: db, path: cfg.Path, log: log, pruneEvery: 500}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *DB) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

// Path returns the database file path the store was opened with.
func (s *DB) Path() string { return s.path }

func (s *DB) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// WithTx runs fn inside one transaction; any error rolls everything back.
func (s *DB) WithTx(ctx context.Context, fn func(tx roadmap.Tx) error) error {
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&sqlTx{tx: dbtx}); err != nil {
		_ = dbtx.Rollback()
		return err
	}
	if err := dbtx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ---- Template import ----

// UpsertTemplate replaces the template definition in place: the template row
// is upserted and its stage/task rows rewritten, so re-importing a pack is
// idempotent.
func (s *DB) UpsertTemplate(ctx context.Context, t roadmap.Template) error {
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = dbtx.Rollback() }()

	_, err = dbtx.ExecContext(ctx,
		`INSERT INTO templates(id, name) VALUES(?,?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name`,
		t.ID, t.Name,
	)
	if err != nil {
		return err
	}
	if _, err := dbtx.ExecContext(ctx, `DELETE FROM template_stages WHERE template_id = ?`, t.ID); err != nil {
		return err
	}

	for _, st := range t.Stages {
		_, err = dbtx.ExecContext(ctx,
			`INSERT INTO template_stages(id, template_id, name, order_index) VALUES(?,?,?,?)`,
			st.ID, t.ID, st.Name, st.OrderIndex,
		)
		if err != nil {
			return err
		}
		for _, task := range st.Tasks {
			tags, err := tagsJSON(task.Tags)
			if err != nil {
				return err
			}
			_, err = dbtx.ExecContext(ctx,
				`INSERT INTO template_tasks(id, stage_id, title, description, tags, required_role, duration_days, estimated_hours, order_index)
				 VALUES(?,?,?,?,?,?,?,?,?)`,
				task.ID, st.ID, task.Title, nullStr(task.Description), tags,
				nullStr(string(task.RequiredRole)), task.DurationDays, task.EstimatedHours, task.OrderIndex,
			)
			if err != nil {
				return err
			}
		}
	}
	return dbtx.Commit()
}

// ---- Membership directory ----

// UpsertMember mirrors one membership fact from the external directory.
func (s *DB) UpsertMember(ctx context.Context, m roadmap.Member) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO members(project_id, user_id, job_title) VALUES(?,?,?)
		 ON CONFLICT(project_id, user_id) DO UPDATE SET job_title=excluded.job_title`,
		m.ProjectID, m.UserID, string(m.JobTitle),
	)
	return err
}

// RemoveMember drops a membership fact.
func (s *DB) RemoveMember(ctx context.Context, projectID string, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM members WHERE project_id = ? AND user_id = ?`, projectID, userID)
	return err
}

// ---- Notification dedup ----

func (s *DB) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, until.UnixMilli(),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_ = s.pruneExpired(pctx)
		cancel()
	}
	return err
}

func (s *DB) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *DB) pruneExpired(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, time.Now().UnixMilli())
	return err
}

// ---- helpers shared with tx.go ----

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func tagsJSON(tags []string) (any, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("encode tags: %w", err)
	}
	return string(b), nil
}

func parseTags(s sql.NullString) ([]string, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(s.String), &tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	return tags, nil
}

func timeStr(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func timePtrStr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return timeStr(*t)
}

func parseTime(s sql.NullString) (time.Time, error) {
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s.String, err)
	}
	return t, nil
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	t, err := parseTime(s)
	if err != nil || t.IsZero() {
		return nil, err
	}
	return &t, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
