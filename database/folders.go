package database

import (
	"context"
	"path/filepath"
	"time"
)

// AddFolder registers a folder for future scans
func (db *DB) AddFolder(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	q, err := db.q(ctx)
	if err != nil {
		return &StoreError{Op: "add folder", Path: abs, Err: err}
	}
	if _, err := q.ExecContext(ctx, "INSERT OR IGNORE INTO folders (path, added_at) VALUES (?, ?)",
		abs, time.Now().Format(time.RFC3339)); err != nil {
		return &StoreError{Op: "add folder", Path: abs, Err: err}
	}
	return db.commitLocked()
}

// RemoveFolder unregisters a folder. Records already indexed under it stay.
func (db *DB) RemoveFolder(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	q, err := db.q(ctx)
	if err != nil {
		return &StoreError{Op: "remove folder", Path: abs, Err: err}
	}
	if _, err := q.ExecContext(ctx, "DELETE FROM folders WHERE path = ?", abs); err != nil {
		return &StoreError{Op: "remove folder", Path: abs, Err: err}
	}
	return db.commitLocked()
}

// Folders lists registered folders ordered by path
func (db *DB) Folders(ctx context.Context) ([]string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	q, err := db.q(ctx)
	if err != nil {
		return nil, &StoreError{Op: "folders", Err: err}
	}
	rows, err := q.QueryContext(ctx, "SELECT path FROM folders ORDER BY path")
	if err != nil {
		return nil, &StoreError{Op: "folders", Err: err}
	}
	defer rows.Close()

	var folders []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, &StoreError{Op: "folders", Err: err}
		}
		folders = append(folders, p)
	}
	return folders, rows.Err()
}
