package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) RoomFileStore {
	t.Helper()
	store, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "viewsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLStore_SaveOverwritesAndLoads(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	first := RoomFile{RoomID: "r2", FileURL: "/api/file/r2/1-a.ifc", Filename: "a.ifc", StoragePath: "r2/1-a.ifc", UploadedAt: time.UnixMilli(1)}
	second := RoomFile{RoomID: "r2", FileURL: "/api/file/r2/2-b.ifc", Filename: "b.ifc", StoragePath: "r2/2-b.ifc", UploadedAt: time.UnixMilli(2)}
	other := RoomFile{RoomID: "r3", FileURL: "/api/file/r3/3-c.ifc", Filename: "c.ifc", StoragePath: "r3/3-c.ifc", UploadedAt: time.UnixMilli(3)}

	require.NoError(t, store.Save(ctx, first))
	require.NoError(t, store.Save(ctx, second))
	require.NoError(t, store.Save(ctx, other))

	all, err := store.LoadAll(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []RoomFile{second, other}, all)
}

func TestSQLStore_DeleteKeepsNewerUpload(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.Save(ctx, RoomFile{RoomID: "r2", StoragePath: "r2/5-x", UploadedAt: time.UnixMilli(5)}))

	// A teardown that saw an older upload leaves the newer row alone.
	require.NoError(t, store.Delete(ctx, "r2", time.UnixMilli(4)))
	all, err := store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, store.Delete(ctx, "r2", time.UnixMilli(5)))
	all, err = store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	// Deleting a missing row is not an error.
	require.NoError(t, store.Delete(ctx, "r2", time.UnixMilli(5)))
}

func TestOpen_ReopenKeepsRows(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "viewsync.db")

	store, err := Open(ctx, DriverSQLite, path)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, RoomFile{RoomID: "r1", StoragePath: "r1/1-m", UploadedAt: time.UnixMilli(1)}))
	require.NoError(t, store.Close())

	store, err = Open(ctx, DriverSQLite, path)
	require.NoError(t, err)
	defer store.Close()

	all, err := store.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "r1", all[0].RoomID)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "x")
	assert.Error(t, err)
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errors.New("boom")))
	assert.True(t, IsTransient(sqlite3.Error{Code: sqlite3.ErrBusy}))
	assert.False(t, IsTransient(sqlite3.Error{Code: sqlite3.ErrConstraint}))
	assert.True(t, IsTransient(&pgconn.PgError{Code: "40001"}))
	assert.False(t, IsTransient(&pgconn.PgError{Code: "23505"}))
}

func TestWithRetry_RetriesTransientOnly(t *testing.T) {
	ctx := context.Background()

	calls := 0
	err := withRetry(ctx, func(context.Context) error {
		calls++
		if calls < 3 {
			return sqlite3.Error{Code: sqlite3.ErrBusy}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = withRetry(ctx, func(context.Context) error {
		calls++
		return errors.New("permanent")
	})
	assert.EqualError(t, err, "permanent")
	assert.Equal(t, 1, calls)
}
