// Package db manages a registry of per-key SQLite databases: pool
// sizing from configuration, a schema_migrations ledger, and a typed
// execute/query/transaction surface over database/sql.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/CarryPigeon/CarryPigeon-Desktop/internal/apierr"
	"github.com/CarryPigeon/CarryPigeon-Desktop/internal/config"
)

const (
	defaultMaxConnections = 5
	defaultMinConnections = 1
	connectTimeout        = 3 * time.Second
	idleTimeout           = 10 * time.Second
	maxConnLifetime       = time.Hour
)

// entry is one registered database: its open *sql.DB plus the path it
// was opened against, so a rebind to a different path can be rejected.
type entry struct {
	conn *sql.DB
	path string
}

// Registry holds every named database this process has opened. Keys
// are caller-chosen identifiers ("system" or a per-server id); each
// maps to exactly one on-disk SQLite file.
type Registry struct {
	Config config.Source
	Logger *log.Logger

	// BaseDir is the directory a key-derived default path is rooted
	// under when Init is called with an empty path. Defaults to "./data".
	BaseDir string

	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry constructs an empty registry. cfg may be nil, in which
// case config.EnvSource is used (pool sizes then come from the
// environment, or the documented defaults when unset); logger may be
// nil, in which case a default stderr logger is installed.
func NewRegistry(cfg config.Source, logger *log.Logger) *Registry {
	if cfg == nil {
		cfg = config.EnvSource{}
	}
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	return &Registry{Config: cfg, Logger: logger, BaseDir: "./data", entries: make(map[string]*entry)}
}

// sanitizeKey replaces every character outside [A-Za-z0-9_-] with '_',
// falling back to "default" when the result would be empty.
func sanitizeKey(key string) string {
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		ch := key[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9', ch == '-', ch == '_':
			out = append(out, ch)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "default"
	}
	return string(out)
}

// defaultDBPath derives the db/{sanitized-key}.db path under baseDir,
// per spec.md §6's external-interface layout.
func defaultDBPath(baseDir, key string) string {
	return filepath.Join(baseDir, "db", sanitizeKey(key)+".db")
}

// sqliteURLForPath builds a DSN with forward slashes (even on Windows),
// always appending ?mode=rwc so the file is created if absent.
func sqliteURLForPath(path string) string {
	clean := strings.ReplaceAll(path, "\\", "/")
	return clean + "?mode=rwc"
}

func clampPoolSizes(max, min int) (int, int) {
	if max <= 0 {
		max = defaultMaxConnections
	}
	if min <= 0 {
		min = defaultMinConnections
	}
	if min > max {
		min = max
	}
	return max, min
}

// Init opens (or re-validates) the database registered under key at
// path, applies pool-size settings drawn from Config, and runs
// migrations for kind (or the key-derived default set when kind is
// empty). Rebinding key to a different path fails; rebinding to the
// same path is idempotent.
func (r *Registry) Init(ctx context.Context, key, path, kind string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return apierr.Wrap(apierr.CodeDBInitFailed, fmt.Errorf("key is required"))
	}
	path = strings.TrimSpace(path)
	if path == "" {
		path = defaultDBPath(r.BaseDir, key)
	}

	r.mu.Lock()
	if existing, ok := r.entries[key]; ok {
		r.mu.Unlock()
		if existing.path == path {
			return nil
		}
		return apierr.Wrap(apierr.CodeDBInitFailed, fmt.Errorf("%w: %s", apierr.ErrKeyAlreadyBound, key))
	}
	r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apierr.Wrap(apierr.CodeDBInitFailed, fmt.Errorf("failed to create db dir: %w", err))
	}

	conn, err := sql.Open("sqlite3", sqliteURLForPath(path))
	if err != nil {
		return apierr.Wrap(apierr.CodeDBInitFailed, fmt.Errorf("failed to open database: %w", err))
	}

	maxConn, minConn := clampPoolSizes(
		r.Config.Int(config.KeyDatabasePoolMaxConnections, defaultMaxConnections),
		r.Config.Int(config.KeyDatabasePoolMinConnections, defaultMinConnections),
	)
	conn.SetMaxOpenConns(maxConn)
	conn.SetMaxIdleConns(minConn)
	conn.SetConnMaxIdleTime(idleTimeout)
	conn.SetConnMaxLifetime(maxConnLifetime)

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := conn.PingContext(connectCtx); err != nil {
		conn.Close()
		return apierr.Wrap(apierr.CodeDBInitFailed, fmt.Errorf("failed to connect: %w", err))
	}

	e := &entry{conn: conn, path: path}
	r.mu.Lock()
	if existing, ok := r.entries[key]; ok {
		r.mu.Unlock()
		conn.Close()
		if existing.path == path {
			return nil
		}
		return apierr.Wrap(apierr.CodeDBInitFailed, fmt.Errorf("%w: %s", apierr.ErrKeyAlreadyBound, key))
	}
	r.entries[key] = e
	r.mu.Unlock()

	r.Logger.Printf("opened database key=%s path=%s", key, path)

	if err := r.runMigrations(ctx, key, kind); err != nil {
		return apierr.Wrap(apierr.CodeDBInitFailed, err)
	}
	return nil
}

func (r *Registry) get(key string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apierr.ErrDatabaseNotInit, key)
	}
	return e, nil
}

// ExecResult reports the outcome of a single execute statement.
type ExecResult struct {
	RowsAffected     int64
	LastInsertRowID  int64
	HasLastInsertRow bool
}

// Execute runs sql against key's database with the supplied params.
func (r *Registry) Execute(ctx context.Context, key, sqlText string, params []Value) (ExecResult, error) {
	e, err := r.get(key)
	if err != nil {
		return ExecResult{}, apierr.Wrap(apierr.CodeDBExecuteFailed, err)
	}
	res, err := e.conn.ExecContext(ctx, sqlText, toArgs(params)...)
	if err != nil {
		return ExecResult{}, apierr.Wrap(apierr.CodeDBExecuteFailed, err)
	}
	return buildExecResult(res), nil
}

// QueryResult is a column-aligned result set.
type QueryResult struct {
	Columns []string
	Rows    [][]Value
}

// Query runs sql against key's database and aligns each row to columns,
// which must be non-empty.
func (r *Registry) Query(ctx context.Context, key, sqlText string, params []Value, columns []string) (QueryResult, error) {
	if len(columns) == 0 {
		return QueryResult{}, apierr.Wrap(apierr.CodeDBQueryFailed, apierr.ErrColumnsRequired)
	}
	e, err := r.get(key)
	if err != nil {
		return QueryResult{}, apierr.Wrap(apierr.CodeDBQueryFailed, err)
	}
	rows, err := e.conn.QueryContext(ctx, sqlText, toArgs(params)...)
	if err != nil {
		return QueryResult{}, apierr.Wrap(apierr.CodeDBQueryFailed, err)
	}
	defer rows.Close()

	result := QueryResult{Columns: columns}
	scanTargets := make([]any, len(columns))
	for {
		more := rows.Next()
		if !more {
			break
		}
		raws := make([]any, len(columns))
		for i := range scanTargets {
			scanTargets[i] = &raws[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return QueryResult{}, apierr.Wrap(apierr.CodeDBQueryFailed, err)
		}
		row := make([]Value, len(columns))
		for i, raw := range raws {
			row[i] = scanToValue(raw)
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return QueryResult{}, apierr.Wrap(apierr.CodeDBQueryFailed, err)
	}
	return result, nil
}

// Statement is one step of a Transaction call.
type Statement struct {
	SQL    string
	Params []Value
}

// Transaction runs every statement inside one SQLite transaction,
// rolling back on the first failure.
func (r *Registry) Transaction(ctx context.Context, key string, statements []Statement) ([]ExecResult, error) {
	e, err := r.get(key)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeDBTransactionFailed, err)
	}
	tx, err := e.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeDBTransactionFailed, err)
	}
	results := make([]ExecResult, 0, len(statements))
	for _, stmt := range statements {
		res, err := tx.ExecContext(ctx, stmt.SQL, toArgs(stmt.Params)...)
		if err != nil {
			tx.Rollback()
			return nil, apierr.Wrap(apierr.CodeDBTransactionFailed, err)
		}
		results = append(results, buildExecResult(res))
	}
	if err := tx.Commit(); err != nil {
		return nil, apierr.Wrap(apierr.CodeDBTransactionFailed, err)
	}
	return results, nil
}

// Close drops key's registry entry without deleting its file.
func (r *Registry) Close(key string) error {
	r.mu.Lock()
	e, ok := r.entries[key]
	if ok {
		delete(r.entries, key)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return e.conn.Close()
}

// Remove closes key's entry and deletes its backing file, if any.
func (r *Registry) Remove(key string) error {
	r.mu.Lock()
	e, ok := r.entries[key]
	if ok {
		delete(r.entries, key)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	path := e.path
	if err := e.conn.Close(); err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove db file: %w", err)
		}
	}
	return nil
}

// Path returns the on-disk path key was opened with, or the default
// db/{sanitized-key}.db path under BaseDir if key has not been
// initialized.
func (r *Registry) Path(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("key is required")
	}
	if e, err := r.get(key); err == nil {
		return e.path, nil
	}
	return defaultDBPath(r.BaseDir, key), nil
}

func toArgs(params []Value) []any {
	args := make([]any, len(params))
	for i, p := range params {
		args[i] = p.arg()
	}
	return args
}

func buildExecResult(res sql.Result) ExecResult {
	out := ExecResult{}
	if n, err := res.RowsAffected(); err == nil {
		out.RowsAffected = n
	}
	if id, err := res.LastInsertId(); err == nil {
		out.LastInsertRowID = id
		out.HasLastInsertRow = true
	}
	return out
}
