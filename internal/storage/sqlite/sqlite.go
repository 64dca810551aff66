// Package sqlite is the append-only audit store for runs. It persists
// engine events and projects them into usage, iteration and decision tables
// for reporting. Nothing here is read back into a live tracker or controller.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"go.uber.org/zap"

	"github.com/RayYangTW/pdca/internal/storage/migrations"
)

// timeLayout is fixed-width so TEXT timestamps sort chronologically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements events.Sink on top of SQLite
type Store struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New opens (or creates) the audit database at path and applies pending
// migrations. Use ":memory:" for a throwaway store.
func New(ctx context.Context, path string, opts ...Option) (*Store, error) {
	s := &Store{path: path, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		// WAL lets `pdca report` read while a run is writing
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrations.NewManager(schemaMigrations...).Apply(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.db = db
	s.logger.Debug("audit store opened", zap.String("path", path))
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database path
func (s *Store) Path() string {
	return s.path
}

// SchemaVersion returns the applied migration version
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	return migrations.CurrentVersion(ctx, s.db)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}
