package txn

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCommitPersists(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	tx, err := Begin(ctx, db, false)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, "INSERT INTO t (v) VALUES (?)", "a")
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM t").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestRollbackDiscards(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	tx, err := Begin(ctx, db, false)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, "INSERT INTO t (v) VALUES (?)", "a")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM t").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestNestedSavepointRollbackKeepsOuterWrites(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	tx, err := Begin(ctx, db, false)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, "INSERT INTO t (v) VALUES (?)", "outer")
	require.NoError(t, err)

	sp, err := tx.Savepoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, tx.Depth())
	_, err = tx.ExecContext(ctx, "INSERT INTO t (v) VALUES (?)", "inner")
	require.NoError(t, err)
	require.NoError(t, sp.Rollback(ctx))
	assert.Equal(t, 1, tx.Depth())

	require.NoError(t, tx.Commit(ctx))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM t").Scan(&count))
	assert.Equal(t, 1, count)
	var v string
	require.NoError(t, db.QueryRow("SELECT v FROM t").Scan(&v))
	assert.Equal(t, "outer", v)
}

func TestWithSavepointReleasesOnSuccess(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	tx, err := Begin(ctx, db, false)
	require.NoError(t, err)

	err = WithSavepoint(ctx, tx, func(tx *Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO t (v) VALUES (?)", "a")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, tx.Depth())
	require.NoError(t, tx.Commit(ctx))
}

func TestWithSavepointRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	tx, err := Begin(ctx, db, false)
	require.NoError(t, err)

	sentinel := assert.AnError
	err = WithSavepoint(ctx, tx, func(tx *Tx) error {
		_, execErr := tx.ExecContext(ctx, "INSERT INTO t (v) VALUES (?)", "a")
		require.NoError(t, execErr)
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, tx.Depth())
	require.NoError(t, tx.Commit(ctx))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM t").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestCommitFailsWithOpenSavepoint(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	tx, err := Begin(ctx, db, false)
	require.NoError(t, err)
	_, err = tx.Savepoint(ctx)
	require.NoError(t, err)

	err = tx.Commit(ctx)
	assert.Error(t, err)
}
