package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"imagededup/imagehash"
)

const (
	metaHashAlgorithm = "phash_algorithm"
	metaEmbeddingDim  = "embedding_dim"
)

func (db *DB) getMeta(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := db.sql.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("error reading meta %s: %w", key, err)
	}
	return value, true, nil
}

func setMeta(ctx context.Context, q querier, key, value string) error {
	_, err := q.ExecContext(ctx,
		"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	return err
}

// EnsureHashAlgorithm records the perceptual hash algorithm used by this
// store. A store that already holds records hashed another way is rejected,
// since Hamming distances across algorithms are meaningless.
func (db *DB) EnsureHashAlgorithm(ctx context.Context, algo imagehash.Algorithm) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	q, err := db.q(ctx)
	if err != nil {
		return &StoreError{Op: "meta", Err: err}
	}

	var stored string
	err = q.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", metaHashAlgorithm).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return &StoreError{Op: "meta", Err: err}
	case stored == string(algo):
		return nil
	default:
		var count int
		if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM images").Scan(&count); err != nil {
			return &StoreError{Op: "meta", Err: err}
		}
		if count > 0 {
			return fmt.Errorf("%w: store uses %q, configured %q (clear the store to switch)",
				ErrAlgorithmMismatch, stored, algo)
		}
	}

	if err := setMeta(ctx, q, metaHashAlgorithm, string(algo)); err != nil {
		return &StoreError{Op: "meta", Err: err}
	}
	return db.commitLocked()
}

// EmbeddingDim returns the embedding dimensionality of the store, or 0 if no
// embedding has been stored yet
func (db *DB) EmbeddingDim() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.embeddingDim
}
