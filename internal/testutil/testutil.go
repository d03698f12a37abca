package testutil

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/recotune/recotune/internal/models"
	"github.com/recotune/recotune/pkg/db"
	"gorm.io/gorm"
)

// OpenTestDB returns an in-memory sqlite DB with migrations applied.
func OpenTestDB(tb testing.TB) *gorm.DB {
	tb.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared&_busy_timeout=5000"
	gdb, err := db.Open(db.TypeSQLite, dsn)
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}

	if err := gdb.AutoMigrate(models.All...); err != nil {
		tb.Fatalf("migrate: %v", err)
	}

	tb.Cleanup(func() { db.Close(gdb) })
	return gdb
}

// OpenFileDB returns a migrated sqlite DB stored in a temporary directory.
// Each call opens an independent connection pool to the same file, which
// mimics separate dispatcher processes.
func OpenFileDB(tb testing.TB, dir string) *gorm.DB {
	tb.Helper()

	gdb, err := db.Open(db.TypeSQLite, filepath.Join(dir, "jobs.db"))
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}

	if err := gdb.AutoMigrate(models.All...); err != nil {
		tb.Fatalf("migrate: %v", err)
	}

	tb.Cleanup(func() { db.Close(gdb) })
	return gdb
}

// AssertCount asserts a count for the provided model using the supplied DB.
func AssertCount(tb testing.TB, gdb *gorm.DB, model any, expected int64) {
	tb.Helper()

	var count int64
	if err := gdb.Model(model).Count(&count).Error; err != nil {
		tb.Fatalf("count: %v", err)
	}
	if count != expected {
		tb.Fatalf("expected %d records, got %d", expected, count)
	}
}
