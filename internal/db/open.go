package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// database/sql driver names registered by the imported drivers.
const (
	DriverPgx    = "pgx"
	DriverSQLite = "sqlite"
)

// Kinds accepted by Open, as configured with DB_DRIVER.
const (
	KindPostgres = "postgres"
	KindSQLite   = "sqlite"
)

var ErrUnknownDriver = errors.New("unknown database driver")

// Open connects to the configured backend and returns the database/sql driver name
// alongside the handle, so callers can pick placeholder style.
func Open(ctx context.Context, kind, dsn string, cfg PostgresConfig) (*sql.DB, string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindPostgres, DriverPgx:
		db, err := OpenPostgresWithConfig(ctx, dsn, cfg)
		return db, DriverPgx, err
	case KindSQLite:
		db, err := OpenSQLite(ctx, dsn)
		return db, DriverSQLite, err
	default:
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownDriver, kind)
	}
}
