package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Record is one stored value with its version stamp.
type Record struct {
	Key       string
	Value     []byte
	Version   int64
	UpdatedAt time.Time
}

// Write replaces Key only if its stored version still equals
// ExpectedVersion. ExpectedVersion 0 means the key must not exist yet.
type Write struct {
	Key             string
	Value           []byte
	ExpectedVersion int64
}

type KVRepository struct {
	db *sql.DB
}

func NewKVRepository(db *sql.DB) *KVRepository {
	return &KVRepository{db: db}
}

func (r *KVRepository) Get(ctx context.Context, key string) (*Record, error) {
	row := r.db.QueryRowContext(
		ctx,
		`SELECT key, value, version, updated_at FROM kv_store WHERE key = ?`,
		key,
	)

	var record Record
	var value string
	var updatedAt string
	if err := row.Scan(&record.Key, &value, &record.Version, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	record.Value = []byte(value)

	parsed, err := parseTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse %s updated_at: %w", key, err)
	}
	record.UpdatedAt = parsed
	return &record, nil
}

// Put applies all writes in one transaction and returns the new versions in
// the same order. Any stale write aborts the whole batch with
// ErrVersionConflict.
func (r *KVRepository) Put(ctx context.Context, writes ...Write) ([]int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	versions := make([]int64, 0, len(writes))
	for _, write := range writes {
		version, err := putTx(ctx, tx, write, now)
		if err != nil {
			return nil, err
		}
		versions = append(versions, version)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return versions, nil
}

func putTx(ctx context.Context, tx *sql.Tx, write Write, now string) (int64, error) {
	if write.ExpectedVersion == 0 {
		result, err := tx.ExecContext(
			ctx,
			`INSERT INTO kv_store (key, value, version, updated_at) VALUES (?, ?, 1, ?)
			 ON CONFLICT(key) DO NOTHING`,
			write.Key,
			string(write.Value),
			now,
		)
		if err != nil {
			return 0, fmt.Errorf("insert %s: %w", write.Key, err)
		}
		return 1, requireAffected(result, write)
	}

	result, err := tx.ExecContext(
		ctx,
		`UPDATE kv_store
		 SET value = ?,
		     version = version + 1,
		     updated_at = ?
		 WHERE key = ? AND version = ?`,
		string(write.Value),
		now,
		write.Key,
		write.ExpectedVersion,
	)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", write.Key, err)
	}
	if err := requireAffected(result, write); err != nil {
		return 0, err
	}
	return write.ExpectedVersion + 1, nil
}

func requireAffected(result sql.Result, write Write) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("write %s: %w", write.Key, err)
	}
	if affected == 0 {
		return fmt.Errorf("write %s at version %d: %w", write.Key, write.ExpectedVersion, ErrVersionConflict)
	}
	return nil
}

func (r *KVRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM kv_store WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
