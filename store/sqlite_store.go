package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/tnicklin/cubeclock/logger"
)

var _ Store = (*SQLiteStore)(nil)

//go:embed schema/migrations/*.sql
var migrations embed.FS

var errNotOpen = errors.New("store is not open")

type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	logger logger.Logger
}

type Params struct {
	Path   string
	Logger logger.Logger
}

func NewSQLiteStore(p Params) *SQLiteStore {
	return &SQLiteStore{
		path:   p.Path,
		logger: logger.OrNop(p.Logger),
	}
}

func (s *SQLiteStore) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}
	if s.path == "" {
		return errors.New("store path is required")
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create store directory: %w", err)
		}
	}

	database, err := sql.Open("sqlite3", sqliteFileDSN(s.path))
	if err != nil {
		return err
	}
	database.SetMaxOpenConns(1)
	database.SetMaxIdleConns(1)

	if err = database.PingContext(ctx); err != nil {
		_ = database.Close()
		return err
	}

	s.db = database
	if err = s.applyMigrations(ctx); err != nil {
		_ = database.Close()
		s.db = nil
		return err
	}

	s.logger.DebugW("store opened", "path", s.path)
	return nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) InsertSample(ctx context.Context, sample Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return errNotOpen
	}

	s.logger.DebugW("inserting sample",
		"id", sample.ID,
		"server", sample.Server,
		"stratum", sample.Stratum,
		"offset", sample.Offset,
		"delay", sample.Delay,
	)

	_, err := s.db.ExecContext(ctx, `
INSERT INTO samples (id, server, stratum, reference_id, offset_ns, delay_ns, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    server = excluded.server,
    stratum = excluded.stratum,
    reference_id = excluded.reference_id,
    offset_ns = excluded.offset_ns,
    delay_ns = excluded.delay_ns,
    created_at = excluded.created_at`,
		sample.ID,
		sample.Server,
		sample.Stratum,
		sample.ReferenceID,
		int64(sample.Offset),
		int64(sample.Delay),
		sample.CreatedAt.UnixNano(),
	)
	return err
}

func (s *SQLiteStore) InsertFailure(ctx context.Context, f Failure) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return errNotOpen
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO failures (id, server, error, occurred_at) VALUES (?, ?, ?, ?)`,
		f.ID, f.Server, f.Error, f.OccurredAt.UnixNano(),
	)
	return err
}

func (s *SQLiteStore) InsertAdjustment(ctx context.Context, a Adjustment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return errNotOpen
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO adjustments (id, server, offset_ns, error, applied_at) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.Server, int64(a.Offset), a.Error, a.AppliedAt.UnixNano(),
	)
	return err
}

// ListSamplesSince returns samples created at or after since, newest
// first. A non-positive limit returns all of them.
func (s *SQLiteStore) ListSamplesSince(ctx context.Context, since time.Time, limit int) ([]Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errNotOpen
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, server, stratum, reference_id, offset_ns, delay_ns, created_at
FROM samples
WHERE created_at >= ?
ORDER BY created_at DESC
LIMIT ?`, since.UnixNano(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var (
			sample         Sample
			offset, delay  int64
			createdAtNanos int64
		)
		if err = rows.Scan(&sample.ID, &sample.Server, &sample.Stratum, &sample.ReferenceID, &offset, &delay, &createdAtNanos); err != nil {
			return nil, err
		}
		sample.Offset = time.Duration(offset)
		sample.Delay = time.Duration(delay)
		sample.CreatedAt = time.Unix(0, createdAtNanos).UTC()
		out = append(out, sample)
	}
	return out, rows.Err()
}

// ListAdjustments returns the most recent adjustments, newest first.
func (s *SQLiteStore) ListAdjustments(ctx context.Context, limit int) ([]Adjustment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errNotOpen
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, server, offset_ns, error, applied_at
FROM adjustments
ORDER BY applied_at DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Adjustment
	for rows.Next() {
		var (
			a              Adjustment
			offset         int64
			appliedAtNanos int64
		)
		if err = rows.Scan(&a.ID, &a.Server, &offset, &a.Error, &appliedAtNanos); err != nil {
			return nil, err
		}
		a.Offset = time.Duration(offset)
		a.AppliedAt = time.Unix(0, appliedAtNanos).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CountFailuresSince(ctx context.Context, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return 0, errNotOpen
	}

	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM failures WHERE occurred_at >= ?`, since.UnixNano(),
	).Scan(&n)
	return n, err
}

// PruneBefore deletes samples and failures older than cutoff and returns
// the number of rows removed. Adjustments are kept.
func (s *SQLiteStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return 0, errNotOpen
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for _, q := range []string{
		`DELETE FROM samples WHERE created_at < ?`,
		`DELETE FROM failures WHERE occurred_at < ?`,
	} {
		res, err := tx.ExecContext(ctx, q, cutoff.UnixNano())
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		total += n
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}
	if total > 0 {
		s.logger.InfoW("pruned history", "rows", total, "cutoff", cutoff)
	}
	return total, nil
}

func (s *SQLiteStore) applyMigrations(ctx context.Context) error {
	if s.db == nil {
		return errNotOpen
	}

	files, err := fs.Glob(migrations, "schema/migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(files)

	for _, name := range files {
		content, err := migrations.ReadFile(name)
		if err != nil {
			return err
		}
		sqlText := strings.TrimSpace(string(content))
		if sqlText == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, sqlText); err != nil {
			return fmt.Errorf("migration %s: %w", filepath.Base(name), err)
		}
	}
	return nil
}

func sqliteFileDSN(path string) string {
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
}
