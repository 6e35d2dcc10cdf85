/*
Package db persists room-file associations so a server restart keeps them.

Two backends implement RoomFileStore: SQLite (the default, a single local file) and
PostgreSQL through a pgx pool. Both share one goose migration set and one set of
queries; writes that fail with a transient error are retried with exponential backoff.
*/
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sethvargo/go-retry"
)

const (
	upsertRoomFile = `
INSERT INTO room_files (room_id, file_url, filename, storage_path, uploaded_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (room_id) DO UPDATE SET
    file_url = excluded.file_url,
    filename = excluded.filename,
    storage_path = excluded.storage_path,
    uploaded_at = excluded.uploaded_at`

	deleteRoomFile = `DELETE FROM room_files WHERE room_id = $1 AND uploaded_at <= $2`

	selectRoomFiles = `SELECT room_id, file_url, filename, storage_path, uploaded_at FROM room_files`
)

// writeAttempts bounds retries of a transient write failure.
const writeAttempts = 4

// RoomFile is one persisted room-file association.
type RoomFile struct {
	RoomID      string
	FileURL     string
	Filename    string
	StoragePath string
	UploadedAt  time.Time
}

// RoomFileStore is the durable side of the room-file registry.
type RoomFileStore interface {
	// Save inserts or replaces the room's association.
	Save(ctx context.Context, rf RoomFile) error

	// Delete removes the room's association if it was uploaded at or before uploadedAt,
	// so a teardown never removes a newer upload's row.
	Delete(ctx context.Context, roomID string, uploadedAt time.Time) error

	// LoadAll returns every association.
	LoadAll(ctx context.Context) ([]RoomFile, error)

	Close() error
}

// Open connects the configured backend and runs migrations.
func Open(ctx context.Context, driver, dsn string) (RoomFileStore, error) {
	switch driver {
	case DriverSQLite:
		sqlDB, err := OpenSQLite(dsn)
		if err != nil {
			return nil, err
		}
		return NewSQLStore(sqlDB), nil

	case DriverPostgres:
		pool, err := NewPool(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return NewPGStore(pool), nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}

// withRetry runs fn, retrying transient failures with exponential backoff.
func withRetry(ctx context.Context, fn func(context.Context) error) error {
	backoff := retry.WithMaxRetries(writeAttempts-1, retry.NewExponential(50*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if IsTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// SQLStore is the database/sql backend, used with SQLite.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an open, migrated database.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Save(ctx context.Context, rf RoomFile) error {
	err := withRetry(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, upsertRoomFile,
			rf.RoomID, rf.FileURL, rf.Filename, rf.StoragePath, rf.UploadedAt.UnixMilli())
		return err
	})
	if err != nil {
		return fmt.Errorf("save room file %s: %w", rf.RoomID, err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, roomID string, uploadedAt time.Time) error {
	err := withRetry(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, deleteRoomFile, roomID, uploadedAt.UnixMilli())
		return err
	})
	if err != nil {
		return fmt.Errorf("delete room file %s: %w", roomID, err)
	}
	return nil
}

func (s *SQLStore) LoadAll(ctx context.Context) ([]RoomFile, error) {
	rows, err := s.db.QueryContext(ctx, selectRoomFiles)
	if err != nil {
		return nil, fmt.Errorf("load room files: %w", err)
	}
	defer rows.Close()

	var out []RoomFile
	for rows.Next() {
		var (
			rf RoomFile
			ms int64
		)
		if err := rows.Scan(&rf.RoomID, &rf.FileURL, &rf.Filename, &rf.StoragePath, &ms); err != nil {
			return nil, fmt.Errorf("scan room file: %w", err)
		}
		rf.UploadedAt = time.UnixMilli(ms)
		out = append(out, rf)
	}
	return out, rows.Err()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// PGStore is the PostgreSQL backend.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore wraps a migrated pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Save(ctx context.Context, rf RoomFile) error {
	err := withRetry(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, upsertRoomFile,
			rf.RoomID, rf.FileURL, rf.Filename, rf.StoragePath, rf.UploadedAt.UnixMilli())
		return err
	})
	if err != nil {
		return fmt.Errorf("save room file %s: %w", rf.RoomID, err)
	}
	return nil
}

func (s *PGStore) Delete(ctx context.Context, roomID string, uploadedAt time.Time) error {
	err := withRetry(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, deleteRoomFile, roomID, uploadedAt.UnixMilli())
		return err
	})
	if err != nil {
		return fmt.Errorf("delete room file %s: %w", roomID, err)
	}
	return nil
}

func (s *PGStore) LoadAll(ctx context.Context) ([]RoomFile, error) {
	rows, err := s.pool.Query(ctx, selectRoomFiles)
	if err != nil {
		return nil, fmt.Errorf("load room files: %w", err)
	}
	defer rows.Close()

	var out []RoomFile
	for rows.Next() {
		var (
			rf RoomFile
			ms int64
		)
		if err := rows.Scan(&rf.RoomID, &rf.FileURL, &rf.Filename, &rf.StoragePath, &ms); err != nil {
			return nil, fmt.Errorf("scan room file: %w", err)
		}
		rf.UploadedAt = time.UnixMilli(ms)
		out = append(out, rf)
	}
	return out, rows.Err()
}

func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}
