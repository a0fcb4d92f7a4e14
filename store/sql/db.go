package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	"github.com/goliatone/go-identity/core"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// ResolveDialect maps a driver name to its bun dialect. An empty driver
// falls back to the configured default.
func ResolveDialect(driver string) (schema.Dialect, error) {
	if driver == "" {
		driver = core.DefaultConfig().Backend.Driver
	}
	switch driver {
	case DriverPostgres:
		return pgdialect.New(), nil
	case DriverSQLite:
		return sqlitedialect.New(), nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
}

// Connect opens the configured database and wraps it with the matching
// bun dialect. Importing this package registers both supported drivers.
func Connect(cfg core.BackendConfig) (*bun.DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = core.DefaultConfig().Backend.Driver
	}
	dialect, err := ResolveDialect(driver)
	if err != nil {
		return nil, err
	}
	sqldb, err := sql.Open(driver, cfg.Server)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s database: %w", driver, err)
	}
	if driver == DriverSQLite {
		// A single connection keeps in-memory databases coherent and
		// avoids SQLITE_BUSY under concurrent writers.
		sqldb.SetMaxOpenConns(1)
	}
	return bun.NewDB(sqldb, dialect), nil
}

// isUniqueViolation recognizes the driver-specific shape of a unique
// constraint failure so stores can answer with a conflict instead of an
// opaque internal error.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
