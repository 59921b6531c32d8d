// Package config defines the abstract configuration surface the core reads
// pool-size settings through. The webview host owns the real settings file;
// this package only carries the interface and an environment-backed
// implementation for standalone wiring and tests.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Keys consumed by internal/db.
const (
	KeyDatabasePoolMaxConnections = "database_pool_max_connections"
	KeyDatabasePoolMinConnections = "database_pool_min_connections"
)

// Source reads a single integer configuration value, falling back to the
// supplied default when the key is absent or cannot be parsed.
type Source interface {
	Int(key string, fallback int) int
}

// EnvSource reads configuration from OS environment variables, uppercased
// verbatim (callers pass the canonical snake_case key).
type EnvSource struct{}

// Int implements Source. key is matched against the uppercased environment
// variable name (e.g. "database_pool_max_connections" -> DATABASE_POOL_MAX_CONNECTIONS).
func (EnvSource) Int(key string, fallback int) int {
	raw, ok := os.LookupEnv(strings.ToUpper(key))
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
