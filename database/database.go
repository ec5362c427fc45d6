package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"imagededup/logging"
	"imagededup/types"

	_ "github.com/mattn/go-sqlite3"
)

var log = logging.Module("database")

var (
	// ErrDimensionMismatch is returned when an embedding does not match the
	// dimensionality already recorded for the store
	ErrDimensionMismatch = types.ErrDimensionMismatch
	// ErrAlgorithmMismatch is returned when a non-empty store was hashed with
	// a different perceptual hash algorithm
	ErrAlgorithmMismatch = errors.New("perceptual hash algorithm mismatch")
)

// StoreError is a persistence failure. Callers treat it as fatal for the
// current operation.
type StoreError struct {
	Op   string
	Path string
	Err  error
}

func (e *StoreError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("store %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB is the SQLite-backed record store. Writes accumulate in one pending
// transaction until Commit; reads observe pending writes.
type DB struct {
	sql          *sql.DB
	mu           sync.Mutex
	tx           *sql.Tx
	embeddingDim int
}

const schemaSQL = `
	CREATE TABLE IF NOT EXISTS images (
		path TEXT PRIMARY KEY,
		content_hash TEXT NOT NULL,
		perceptual_hash TEXT NOT NULL,
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		file_size INTEGER NOT NULL DEFAULT 0,
		modified_at INTEGER NOT NULL DEFAULT 0,
		quality_score REAL NOT NULL DEFAULT 0,
		embedding BLOB,
		faces TEXT,
		objects TEXT,
		indexed_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_content_hash ON images(content_hash);
	CREATE INDEX IF NOT EXISTS idx_perceptual_hash ON images(perceptual_hash);
	CREATE TABLE IF NOT EXISTS folders (
		path TEXT PRIMARY KEY,
		added_at TEXT
	);
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT
	);
	CREATE TABLE IF NOT EXISTS scans (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		folders TEXT,
		scanned INTEGER NOT NULL DEFAULT 0,
		indexed INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		unchanged INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL
	);`

// columns added after the first release of the images table
var addedColumns = []struct {
	name string
	ddl  string
}{
	{"sharpness", "ALTER TABLE images ADD COLUMN sharpness REAL NOT NULL DEFAULT 0;"},
	{"enrichment_error", "ALTER TABLE images ADD COLUMN enrichment_error TEXT;"},
}

// InitDatabase opens the store at dbPath, creating or migrating the schema
func InitDatabase(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// pending writes and reads share the single connection
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("error creating schema: %w", err)
	}

	for _, col := range addedColumns {
		var hasColumn bool
		err = conn.QueryRow("SELECT COUNT(*) FROM pragma_table_info('images') WHERE name=?", col.name).Scan(&hasColumn)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("error checking for %s column: %w", col.name, err)
		}
		if !hasColumn {
			if _, err := conn.Exec(col.ddl); err != nil {
				conn.Close()
				return nil, fmt.Errorf("error adding %s column: %w", col.name, err)
			}
			log.Debug("added column to existing schema", "column", col.name)
		}
	}

	db := &DB{sql: conn}
	dim, ok, err := db.getMeta(context.Background(), metaEmbeddingDim)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if ok {
		db.embeddingDim, _ = strconv.Atoi(dim)
	}
	return db, nil
}

// q returns the pending transaction, starting one if needed. Callers hold mu.
// The transaction outlives ctx so that a cancelled caller can still commit.
func (db *DB) q(ctx context.Context) (querier, error) {
	if db.tx == nil {
		tx, err := db.sql.BeginTx(context.WithoutCancel(ctx), nil)
		if err != nil {
			return nil, err
		}
		db.tx = tx
	}
	return db.tx, nil
}

// Commit makes all pending writes durable
func (db *DB) Commit(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.commitLocked()
}

func (db *DB) commitLocked() error {
	if db.tx == nil {
		return nil
	}
	err := db.tx.Commit()
	db.tx = nil
	if err != nil {
		return &StoreError{Op: "commit", Err: err}
	}
	return nil
}

// Close commits pending writes and closes the connection
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	commitErr := db.commitLocked()
	return errors.Join(commitErr, db.sql.Close())
}
