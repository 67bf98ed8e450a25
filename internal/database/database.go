package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"feedsync/internal/config"
)

const (
	MaxConns        = 10
	MinConns        = 2
	MaxConnLifetime = 10 * time.Minute
	MaxConnIdleTime = 5 * time.Minute
)

// Init opens the database/sql handle for the sqlite and mysql drivers
func Init(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	switch cfg.DBDriver {
	case "sqlite":
		return OpenSQLite(ctx, cfg.DatabasePath)
	case "mysql":
		return OpenMySQL(ctx, cfg.MySQLDSN())
	default:
		return nil, fmt.Errorf("driver %q is not served by database/sql", cfg.DBDriver)
	}
}

// OpenSQLite opens a SQLite database. ":memory:" is accepted for tests.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening sqlite: %w", err)
	}

	// SQLite は書き込みが単一コネクションのみ
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error pinging sqlite: %w", err)
	}
	return db, nil
}

// OpenMySQL opens a MySQL/MariaDB connection pool
func OpenMySQL(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening mysql: %w", err)
	}

	db.SetMaxOpenConns(MaxConns)
	db.SetMaxIdleConns(MinConns)
	db.SetConnMaxLifetime(MaxConnLifetime)
	db.SetConnMaxIdleTime(MaxConnIdleTime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error pinging mysql: %w", err)
	}
	return db, nil
}
