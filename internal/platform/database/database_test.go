package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAppliesPool(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "pool.db")
	db, err := Open(context.Background(), "sqlite", sqlite.Open(dsn), Pool{
		MaxOpenConns:    3,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	assert.Equal(t, 3, sqlDB.Stats().MaxOpenConnections)
	assert.NoError(t, db.Exec("SELECT 1").Error)
}

func TestOpenPingFailure(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "missing", "dir", "pool.db")
	_, err := Open(context.Background(), "sqlite", sqlite.Open(dsn), Pool{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqlite failed")
}

func TestOpenHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dsn := filepath.Join(t.TempDir(), "pool.db")
	_, err := Open(ctx, "sqlite", sqlite.Open(dsn), Pool{})
	assert.ErrorIs(t, err, context.Canceled)
}
