package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Open connects to the database selected by driver ("postgres" or
// "sqlite"). The returned func closes everything that was opened.
func Open(ctx context.Context, driver, postgresDSN, sqlitePath string) (*sql.DB, func(), error) {
	switch driver {
	case "postgres":
		conn, pool, err := OpenPostgres(ctx, postgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return conn, func() {
			conn.Close()
			pool.Close()
		}, nil
	case "sqlite":
		conn, err := OpenSQLite(ctx, sqlitePath)
		if err != nil {
			return nil, nil, err
		}
		return conn, func() { conn.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unsupported driver %q", driver)
}
