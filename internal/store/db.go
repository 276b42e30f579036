package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"classattend/internal/attendance"
)

// DB wraps sql.DB for Postgres (pgx) or SQLite.
type DB struct {
	Client  *sql.DB
	Dialect attendance.Dialect
}

// NewDB opens a Postgres connection with sane defaults.
func NewDB(ctx context.Context, connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return ping(ctx, &DB{Client: db, Dialect: attendance.DialectPostgres})
}

// NewSQLite opens a SQLite database file. SQLite allows one writer, so the
// pool is limited to a single connection.
func NewSQLite(ctx context.Context, path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return ping(ctx, &DB{Client: db, Dialect: attendance.DialectSQLite})
}

func ping(ctx context.Context, d *DB) (*DB, error) {
	if err := d.Client.PingContext(ctx); err != nil {
		d.Client.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return d, nil
}

// Open connects to the backend named by kind ("postgres" or "sqlite").
func Open(ctx context.Context, kind, dsn string) (*DB, error) {
	switch kind {
	case "postgres":
		return NewDB(ctx, dsn)
	case "sqlite":
		return NewSQLite(ctx, dsn)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", kind)
	}
}

// Repository returns an attendance repository on this connection.
func (d *DB) Repository() *attendance.Repository {
	return attendance.NewRepository(d.Client, d.Dialect)
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
