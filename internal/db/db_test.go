package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Leganyst/clinic-scheduling/internal/config"
	"github.com/Leganyst/clinic-scheduling/internal/model"
)

func TestNewGormDBSQLite(t *testing.T) {
	cfg := config.DBConfig{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "clinic.db")}

	gdb, err := NewGormDB(cfg)
	require.NoError(t, err)
	require.False(t, SupportsRowLocks(gdb))
	require.NoError(t, model.AutoMigrate(gdb))

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	require.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
	require.NoError(t, sqlDB.Close())
}
