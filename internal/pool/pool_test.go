package pool

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doclite/doclite/internal/driver"
)

func testDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "pool.db")
}

func TestOpenWriterAndReaders(t *testing.T) {
	p, err := Open(Config{
		DriverName:  "sqlite",
		DBOptions:   driver.Options{Path: testDBPath(t)},
		ReaderCount: 2,
	})
	require.NoError(t, err)
	defer p.Close()

	_, err = p.WriterDB().Exec("CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)")
	require.NoError(t, err)
	_, err = p.WriterDB().Exec("INSERT INTO t (v) VALUES (?)", "hello")
	require.NoError(t, err)

	ctx := context.Background()
	var v string
	require.NoError(t, p.Reader().QueryRowContext(ctx, "SELECT v FROM t WHERE id = 1").Scan(&v))
	assert.Equal(t, "hello", v)
}

func TestReaderRoundRobinsAcrossConnections(t *testing.T) {
	p, err := Open(Config{
		DriverName:  "sqlite",
		DBOptions:   driver.Options{Path: testDBPath(t)},
		ReaderCount: 3,
	})
	require.NoError(t, err)
	defer p.Close()

	seen := map[Reader]bool{}
	for i := 0; i < 3; i++ {
		seen[p.Reader()] = true
	}
	assert.Len(t, seen, 3)
}

func TestReaderFallsBackToWriterWithZeroReaders(t *testing.T) {
	p, err := Open(Config{
		DriverName: "sqlite",
		DBOptions:  driver.Options{Path: testDBPath(t)},
	})
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, p.WriterDB(), p.Reader())
}

func TestRetrySucceedsAfterTransientErrors(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), time.Millisecond, time.Second, func(error) bool { return true }, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryStopsOnNonRetriableError(t *testing.T) {
	sentinel := errors.New("constraint violation")
	attempts := 0
	err := Retry(context.Background(), time.Millisecond, time.Second, func(error) bool { return false }, func() error {
		attempts++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, attempts)
}

func TestLinearBackOffGrowsByFixedStep(t *testing.T) {
	b := &linearBackOff{step: 10 * time.Millisecond}
	assert.Equal(t, 10*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 20*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 30*time.Millisecond, b.NextBackOff())
	b.Reset()
	assert.Equal(t, 10*time.Millisecond, b.NextBackOff())
}

func TestHealthLoopKeepsConnectionsAlive(t *testing.T) {
	p, err := Open(Config{
		DriverName:  "sqlite",
		DBOptions:   driver.Options{Path: testDBPath(t)},
		ReaderCount: 1,
		HealthEvery: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	defer p.Close()

	time.Sleep(30 * time.Millisecond)
	assert.NoError(t, p.WriterManaged().Ping(context.Background()))
}
