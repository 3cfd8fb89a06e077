package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	_ "modernc.org/sqlite"

	"interactionlog/internal/logger"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// Database connection pool configuration
const (
	maxOpenConns    = 25
	maxIdleConns    = 5
	connMaxLifetime = time.Hour
	connMaxIdleTime = time.Minute * 15
	queryTimeout    = time.Second * 30
	openRetries     = 3
)

// TimeLayout is fixed width so stored timestamps sort lexically.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

var tracer = otel.Tracer("interactionlog/internal/data")

// =============================================================================
// STORE
// =============================================================================

// Store is the sqlite-backed record and option store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open connects to the sqlite database at path, creating parent
// directories as needed, and ensures the schema exists.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is empty")
	}
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o775); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := openWithRetry(ctx, path, openRetries)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, now: time.Now}
	if err := s.CreateTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func openWithRetry(ctx context.Context, dataSourceName string, maxRetries int) (*sql.DB, error) {
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		db, err := sql.Open("sqlite", dataSourceName)
		if err != nil {
			lastErr = err
			logger.LogWarn("Database connection attempt %d failed: %v", attempt, err)
			if !sleepAttempt(ctx, attempt, maxRetries) {
				break
			}
			continue
		}

		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxIdleConns)
		db.SetConnMaxLifetime(connMaxLifetime)
		db.SetConnMaxIdleTime(connMaxIdleTime)

		pingCtx, cancel := context.WithTimeout(ctx, queryTimeout)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			lastErr = err
			logger.LogWarn("Database ping attempt %d failed: %v", attempt, err)
			db.Close()
			if !sleepAttempt(ctx, attempt, maxRetries) {
				break
			}
			continue
		}

		if err := enablePragmas(ctx, db); err != nil {
			// Pragmas are optimizations; the store works without them.
			logger.LogWarn("Failed to enable some database optimizations: %v", err)
		}

		logger.LogInfo("Database connection established (attempt %d)", attempt)
		return db, nil
	}

	return nil, fmt.Errorf("open database after %d attempts: %w", maxRetries, lastErr)
}

// sleepAttempt backs off linearly between attempts. It returns false when
// no further attempt should be made.
func sleepAttempt(ctx context.Context, attempt, maxRetries int) bool {
	if attempt >= maxRetries {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(time.Duration(attempt) * time.Second):
		return true
	}
}

func enablePragmas(ctx context.Context, conn *sql.DB) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA temp_store = MEMORY",
	}

	var lastErr error
	for _, pragma := range pragmas {
		pctx, cancel := context.WithTimeout(ctx, time.Second*5)
		_, err := conn.ExecContext(pctx, pragma)
		cancel()
		if err != nil {
			logger.LogWarn("Failed to execute %s: %v", pragma, err)
			lastErr = err
		}
	}
	return lastErr
}

// Ping checks that the database still answers.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*2)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database connection unhealthy: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// SCHEMA
// =============================================================================

const interactionsTableSchema = `
	CREATE TABLE IF NOT EXISTS interactions (
		id TEXT PRIMARY KEY,
		staff_name TEXT NOT NULL,
		channel TEXT NOT NULL,
		other_channel TEXT,
		branch TEXT,
		category TEXT NOT NULL,
		other_category TEXT,
		purchased INTEGER,
		out_of_stock INTEGER,
		wanted_item TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_interactions_created_at ON interactions(created_at);
	CREATE INDEX IF NOT EXISTS idx_interactions_channel ON interactions(channel);
	CREATE INDEX IF NOT EXISTS idx_interactions_category ON interactions(category);
	CREATE INDEX IF NOT EXISTS idx_interactions_staff ON interactions(staff_name);`

const formOptionsTableSchema = `
	CREATE TABLE IF NOT EXISTS form_options (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		option_set TEXT NOT NULL,
		name TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		display_order INTEGER NOT NULL DEFAULT 0,
		UNIQUE(option_set, name)
	);
	CREATE INDEX IF NOT EXISTS idx_form_options_set ON form_options(option_set, active, display_order);`

// CreateTables creates any missing tables and indexes.
func (s *Store) CreateTables(ctx context.Context) error {
	tables := []struct {
		name   string
		schema string
	}{
		{"interactions", interactionsTableSchema},
		{"form_options", formOptionsTableSchema},
	}

	for _, table := range tables {
		if _, err := s.exec(ctx, table.schema); err != nil {
			return fmt.Errorf("failed to create %s table: %w", table.name, err)
		}
	}
	return nil
}

// =============================================================================
// GENERIC DATABASE OPERATIONS
// =============================================================================

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	result, err := s.db.ExecContext(ctx, query, normalizeArgs(args)...)
	if err != nil {
		logger.LogError("Database exec failed: query=%s, error=%v", compactQuery(query), err)
		return nil, fmt.Errorf("database execution failed: %w", err)
	}
	return result, nil
}

// query runs a select. The returned cancel must be called after the rows
// are closed.
func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)

	rows, err := s.db.QueryContext(ctx, query, normalizeArgs(args)...)
	if err != nil {
		cancel()
		logger.LogError("Database query failed: query=%s, error=%v", compactQuery(query), err)
		return nil, nil, fmt.Errorf("database query failed: %w", err)
	}
	return rows, cancel, nil
}

// normalizeArgs converts filter parameters into their stored form.
func normalizeArgs(args []any) []any {
	out := make([]any, len(args))
	for i, arg := range args {
		switch v := arg.(type) {
		case time.Time:
			out[i] = formatTime(v)
		case bool:
			out[i] = boolToInt(v)
		default:
			out[i] = arg
		}
	}
	return out
}

func compactQuery(q string) string {
	return strings.Join(strings.Fields(q), " ")
}

// =============================================================================
// VALUE HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func nullableBool(b *bool) any {
	if b == nil {
		return nil
	}
	return boolToInt(*b)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
