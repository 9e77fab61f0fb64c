// Package db is the on-device relational store: appointments, assessment
// masters, assessment items and media file records, each carrying a
// pending_sync dirty flag that the sync engine drains.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/vonshlovens/fieldsync/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsDir = "migrations"

// DB wraps the embedded SQLite connection pool
type DB struct {
	conn *sql.DB
	path string
}

// Open opens (creating if needed) the local database file.
//
// Pragmas are passed through the DSN so every pooled connection gets WAL,
// the busy timeout and foreign keys, not just the first one.
func Open(ctx context.Context, cfg *config.StorageConfig) (*DB, error) {
	path := cfg.DatabasePath
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Debug("opened local store", "path", path)

	return &DB{conn: conn, path: path}, nil
}

// dsn builds a SQLite URI for path. The path is percent-escaped so a '?' or
// '#' in a directory name cannot leak into the query string.
func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_txlock", "immediate")
	return "file:" + (&url.URL{Path: filepath.ToSlash(path)}).EscapedPath() + "?" + q.Encode()
}

// Path returns the database file location
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection pool
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		slog.Warn("failed to checkpoint WAL", "error", err)
	}
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	db.conn = nil
	slog.Debug("local store closed", "path", db.path)
	return nil
}

// RunMigrations applies all pending embedded schema migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	if err := prepareGoose(); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db.conn, migrationsDir); err != nil {
		return &StorageError{Op: "migrate", Err: err}
	}
	slog.Debug("local store migrations applied", "path", db.path)
	return nil
}

// Reset drops every table and recreates the schema. Development use only:
// all local data, including unsynced rows, is lost.
func (db *DB) Reset(ctx context.Context) error {
	if err := prepareGoose(); err != nil {
		return err
	}
	if err := goose.DownToContext(ctx, db.conn, migrationsDir, 0); err != nil {
		return &StorageError{Op: "reset", Err: err}
	}
	if err := goose.UpContext(ctx, db.conn, migrationsDir); err != nil {
		return &StorageError{Op: "reset", Err: err}
	}
	slog.Warn("local store reset", "path", db.path)
	return nil
}

func prepareGoose() error {
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	return nil
}

// TableStat is a row count snapshot for one table
type TableStat struct {
	Table   string
	Rows    int
	Pending int
}

// TableStats returns row and pending counts for every synced table
func (db *DB) TableStats(ctx context.Context) ([]TableStat, error) {
	stats := make([]TableStat, 0, len(kindOrder))
	for _, kind := range kindOrder {
		t := tables[kind]
		stat := TableStat{Table: t.name}
		query := fmt.Sprintf("SELECT COUNT(*), COALESCE(SUM(pending_sync), 0) FROM %s", t.name)
		if err := db.conn.QueryRowContext(ctx, query).Scan(&stat.Rows, &stat.Pending); err != nil {
			return nil, wrap("stats", t.name, err)
		}
		stats = append(stats, stat)
	}

	var tombstones int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM tombstones").Scan(&tombstones); err != nil {
		return nil, wrap("stats", "tombstones", err)
	}
	stats = append(stats, TableStat{Table: "tombstones", Rows: tombstones})

	return stats, nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withTx runs fn inside a transaction, rolling back on error
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// scanner abstracts *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}
