package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/telegraphhq/telegraph/internal/database"
)

// MustOpenTestDB opens a throwaway SQLite database for tests with the full
// schema applied. Each call gets its own file so tests stay isolated; the
// connection is closed via t.Cleanup.
func MustOpenTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := database.Open(database.Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "telegraph_test.sqlite"),
	})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}
