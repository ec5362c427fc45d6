package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"imagededup/imagehash"
	"imagededup/types"
)

const recordColumns = `path, content_hash, perceptual_hash, width, height, file_size, modified_at,
	sharpness, quality_score, embedding, faces, objects, enrichment_error`

const upsertSQL = `
	INSERT INTO images (` + recordColumns + `, indexed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(path) DO UPDATE SET
		content_hash = excluded.content_hash,
		perceptual_hash = excluded.perceptual_hash,
		width = excluded.width,
		height = excluded.height,
		file_size = excluded.file_size,
		modified_at = excluded.modified_at,
		sharpness = excluded.sharpness,
		quality_score = excluded.quality_score,
		embedding = excluded.embedding,
		faces = excluded.faces,
		objects = excluded.objects,
		enrichment_error = excluded.enrichment_error,
		indexed_at = excluded.indexed_at`

// Upsert inserts or replaces the record keyed by its path. The write is
// pending until Commit.
func (db *DB) Upsert(ctx context.Context, rec types.ImageRecord) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	q, err := db.q(ctx)
	if err != nil {
		return &StoreError{Op: "upsert", Path: rec.Path, Err: err}
	}

	if rec.HasEmbedding() {
		switch {
		case db.embeddingDim == 0:
			if err := setMeta(ctx, q, metaEmbeddingDim, strconv.Itoa(len(rec.Embedding))); err != nil {
				return &StoreError{Op: "upsert", Path: rec.Path, Err: err}
			}
			db.embeddingDim = len(rec.Embedding)
		case db.embeddingDim != len(rec.Embedding):
			return &StoreError{Op: "upsert", Path: rec.Path,
				Err: fmt.Errorf("%w: got %d, store holds %d", ErrDimensionMismatch, len(rec.Embedding), db.embeddingDim)}
		}
	}

	faces, err := encodeDetections(rec.Faces)
	if err != nil {
		return &StoreError{Op: "upsert", Path: rec.Path, Err: err}
	}
	objects, err := encodeDetections(rec.Objects)
	if err != nil {
		return &StoreError{Op: "upsert", Path: rec.Path, Err: err}
	}
	var enrichErr any
	if rec.EnrichmentError != "" {
		enrichErr = rec.EnrichmentError
	}

	_, err = q.ExecContext(ctx, upsertSQL,
		rec.Path,
		rec.ContentHash,
		imagehash.Format(rec.PerceptualHash),
		rec.Width,
		rec.Height,
		rec.FileSize,
		rec.ModTime.UnixNano(),
		rec.Sharpness,
		rec.QualityScore,
		encodeEmbedding(rec.Embedding),
		faces,
		objects,
		enrichErr,
		time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return &StoreError{Op: "upsert", Path: rec.Path, Err: err}
	}
	return nil
}

// Delete removes the record for path. Deleting an absent path is not an error.
func (db *DB) Delete(ctx context.Context, path string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	q, err := db.q(ctx)
	if err != nil {
		return &StoreError{Op: "delete", Path: path, Err: err}
	}
	if _, err := q.ExecContext(ctx, "DELETE FROM images WHERE path = ?", path); err != nil {
		return &StoreError{Op: "delete", Path: path, Err: err}
	}
	return nil
}

// Get returns the record for path, or nil if none is stored
func (db *DB) Get(ctx context.Context, path string) (*types.ImageRecord, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	q, err := db.q(ctx)
	if err != nil {
		return nil, &StoreError{Op: "get", Path: path, Err: err}
	}
	row := q.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM images WHERE path = ?", path)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &StoreError{Op: "get", Path: path, Err: err}
	}
	return &rec, nil
}

// All returns every record ordered by path
func (db *DB) All(ctx context.Context) ([]types.ImageRecord, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	q, err := db.q(ctx)
	if err != nil {
		return nil, &StoreError{Op: "all", Err: err}
	}
	rows, err := q.QueryContext(ctx, "SELECT "+recordColumns+" FROM images ORDER BY path")
	if err != nil {
		return nil, &StoreError{Op: "all", Err: err}
	}
	defer rows.Close()

	var records []types.ImageRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, &StoreError{Op: "all", Err: err}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "all", Err: err}
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (types.ImageRecord, error) {
	var (
		rec       types.ImageRecord
		phash     string
		modified  int64
		embedding []byte
		faces     *string
		objects   *string
		enrichErr *string
	)
	err := row.Scan(&rec.Path, &rec.ContentHash, &phash, &rec.Width, &rec.Height, &rec.FileSize,
		&modified, &rec.Sharpness, &rec.QualityScore, &embedding, &faces, &objects, &enrichErr)
	if err != nil {
		return rec, err
	}

	if rec.PerceptualHash, err = imagehash.Parse(phash); err != nil {
		return rec, fmt.Errorf("%s: %w", rec.Path, err)
	}
	rec.ModTime = time.Unix(0, modified)
	if rec.Embedding, err = decodeEmbedding(embedding); err != nil {
		return rec, fmt.Errorf("%s: %w", rec.Path, err)
	}
	if rec.Faces, err = decodeDetections(faces); err != nil {
		return rec, fmt.Errorf("%s: faces: %w", rec.Path, err)
	}
	if rec.Objects, err = decodeDetections(objects); err != nil {
		return rec, fmt.Errorf("%s: objects: %w", rec.Path, err)
	}
	if enrichErr != nil {
		rec.EnrichmentError = *enrichErr
	}
	return rec, nil
}

// ClearImages removes every record and the embedding dimension guard.
// Registered folders are kept.
func (db *DB) ClearImages(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	q, err := db.q(ctx)
	if err != nil {
		return &StoreError{Op: "clear", Err: err}
	}
	if _, err := q.ExecContext(ctx, "DELETE FROM images"); err != nil {
		return &StoreError{Op: "clear", Err: err}
	}
	if _, err := q.ExecContext(ctx, "DELETE FROM meta WHERE key = ?", metaEmbeddingDim); err != nil {
		return &StoreError{Op: "clear", Err: err}
	}
	db.embeddingDim = 0
	return db.commitLocked()
}

// Stats summarizes the store contents
type Stats struct {
	Images              int
	WithEmbeddings      int
	UniqueContentHashes int
	TotalBytes          int64
	Folders             int
}

// GetStats retrieves statistics about the indexed images
func (db *DB) GetStats(ctx context.Context) (*Stats, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	q, err := db.q(ctx)
	if err != nil {
		return nil, &StoreError{Op: "stats", Err: err}
	}

	var stats Stats
	err = q.QueryRowContext(ctx, `SELECT COUNT(*), COUNT(embedding), COUNT(DISTINCT content_hash),
		COALESCE(SUM(file_size), 0) FROM images`).
		Scan(&stats.Images, &stats.WithEmbeddings, &stats.UniqueContentHashes, &stats.TotalBytes)
	if err != nil {
		return nil, &StoreError{Op: "stats", Err: fmt.Errorf("failed to count images: %w", err)}
	}
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM folders").Scan(&stats.Folders); err != nil {
		return nil, &StoreError{Op: "stats", Err: fmt.Errorf("failed to count folders: %w", err)}
	}
	return &stats, nil
}
