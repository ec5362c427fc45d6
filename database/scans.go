package database

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Scan run statuses
const (
	ScanRunning   = "running"
	ScanCompleted = "completed"
	ScanStopped   = "stopped"
	ScanFailed    = "failed"
)

// ScanRun is one row of scan history
type ScanRun struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Folders    []string
	Scanned    int
	Indexed    int
	Skipped    int
	Unchanged  int
	Status     string
}

// BeginScan records the start of a scan and returns its run id
func (db *DB) BeginScan(ctx context.Context, folders []string) (string, error) {
	id := uuid.NewString()

	db.mu.Lock()
	defer db.mu.Unlock()

	q, err := db.q(ctx)
	if err != nil {
		return "", &StoreError{Op: "begin scan", Err: err}
	}
	_, err = q.ExecContext(ctx, "INSERT INTO scans (id, started_at, folders, status) VALUES (?, ?, ?, ?)",
		id, time.Now().Format(time.RFC3339), strings.Join(folders, "\n"), ScanRunning)
	if err != nil {
		return "", &StoreError{Op: "begin scan", Err: err}
	}
	return id, db.commitLocked()
}

// FinishScan stores the final counters and status of a run
func (db *DB) FinishScan(ctx context.Context, run ScanRun) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	q, err := db.q(ctx)
	if err != nil {
		return &StoreError{Op: "finish scan", Err: err}
	}
	_, err = q.ExecContext(ctx, `UPDATE scans SET finished_at = ?, scanned = ?, indexed = ?, skipped = ?,
		unchanged = ?, status = ? WHERE id = ?`,
		time.Now().Format(time.RFC3339), run.Scanned, run.Indexed, run.Skipped, run.Unchanged, run.Status, run.ID)
	if err != nil {
		return &StoreError{Op: "finish scan", Err: err}
	}
	return db.commitLocked()
}

// RecentScans returns up to limit runs, newest first
func (db *DB) RecentScans(ctx context.Context, limit int) ([]ScanRun, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	q, err := db.q(ctx)
	if err != nil {
		return nil, &StoreError{Op: "scans", Err: err}
	}
	rows, err := q.QueryContext(ctx, `SELECT id, started_at, finished_at, folders, scanned, indexed, skipped,
		unchanged, status FROM scans ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, &StoreError{Op: "scans", Err: err}
	}
	defer rows.Close()

	var runs []ScanRun
	for rows.Next() {
		var (
			run      ScanRun
			started  string
			finished sql.NullString
			folders  string
		)
		if err := rows.Scan(&run.ID, &started, &finished, &folders, &run.Scanned, &run.Indexed,
			&run.Skipped, &run.Unchanged, &run.Status); err != nil {
			return nil, &StoreError{Op: "scans", Err: err}
		}
		run.StartedAt, _ = time.Parse(time.RFC3339, started)
		if finished.Valid {
			run.FinishedAt, _ = time.Parse(time.RFC3339, finished.String)
		}
		if folders != "" {
			run.Folders = strings.Split(folders, "\n")
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
