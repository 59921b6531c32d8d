package db

import (
	"context"
	"fmt"
	"time"
)

// migration is one versioned, named group of DDL statements applied
// inside a single transaction, with a ledger row inserted on success.
type migration struct {
	Version    int64
	Name       string
	Statements []string
}

func systemMigrations() []migration {
	return []migration{
		{
			Version: 1,
			Name:    "system_base",
			Statements: []string{
				`CREATE TABLE IF NOT EXISTS app_config (
					key TEXT PRIMARY KEY,
					value TEXT NOT NULL,
					updated_at INTEGER NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS servers (
					server_socket TEXT PRIMARY KEY,
					server_name TEXT,
					ecc_public_key TEXT,
					last_connected_at INTEGER,
					db_key TEXT,
					db_path TEXT
				)`,
			},
		},
	}
}

func serverMigrations() []migration {
	return []migration{
		{
			Version: 1,
			Name:    "server_base",
			Statements: []string{
				`CREATE TABLE IF NOT EXISTS channels (
					id INTEGER PRIMARY KEY,
					name TEXT NOT NULL,
					owner_id INTEGER,
					created_at INTEGER
				)`,
				`CREATE TABLE IF NOT EXISTS messages (
					id TEXT PRIMARY KEY,
					channel_id INTEGER NOT NULL,
					user_id INTEGER NOT NULL,
					content TEXT NOT NULL,
					created_at INTEGER NOT NULL,
					updated_at INTEGER NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_messages_channel_time ON messages(channel_id, created_at)`,
				`CREATE TABLE IF NOT EXISTS kv (
					key TEXT PRIMARY KEY,
					value TEXT NOT NULL,
					updated_at INTEGER NOT NULL
				)`,
			},
		},
	}
}

// migrationsForKind selects the migration set. An explicit kind
// ("system"|"server") overrides the key-derived default; otherwise the
// key "system" selects the system set and every other key the server
// set.
func migrationsForKind(key, kind string) []migration {
	resolved := kind
	if resolved == "" {
		if key == "system" {
			resolved = "system"
		} else {
			resolved = "server"
		}
	}
	if resolved == "system" {
		return systemMigrations()
	}
	return serverMigrations()
}

// runMigrations ensures the schema_migrations ledger table exists,
// loads already-applied versions, and applies every migration in kind's
// set that is not yet in the ledger, one transaction per migration.
func (r *Registry) runMigrations(ctx context.Context, key, kind string) error {
	e, err := r.get(key)
	if err != nil {
		return err
	}
	conn := e.conn

	if _, err := conn.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create migration ledger: %w", err)
	}

	rows, err := conn.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version ASC")
	if err != nil {
		return fmt.Errorf("failed to read migration ledger: %w", err)
	}
	applied := map[int64]bool{}
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration ledger: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, m := range migrationsForKind(key, kind) {
		if applied[m.Version] {
			continue
		}
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.Version, err)
		}
		for _, stmt := range m.Statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Name, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Name, time.Now().UnixMilli(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}
