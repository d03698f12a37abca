package db

import (
	"fmt"
	"strings"
	"sync"

	"github.com/recotune/recotune/internal/models"
	"github.com/recotune/recotune/pkg/env"
	"github.com/recotune/recotune/pkg/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
)

var (
	conn     *gorm.DB
	connOnce sync.Once
)

// Connection returns the process-wide database connection configured
// through the environment.
func Connection() *gorm.DB {
	connOnce.Do(func() {
		vars := env.Variables()
		dsn := vars.DatabaseDSN
		if vars.DatabaseType == TypeSQLite && dsn == "" {
			dsn = vars.DBPath
		}

		var err error
		if conn, err = Open(vars.DatabaseType, dsn); err != nil {
			log.Fatal("failed to connect to database", "type", vars.DatabaseType, "error", err)
		}
	})

	return conn
}

// Open connects to a database of the given type.
func Open(dbType, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	switch strings.ToLower(dbType) {
	case TypePostgres:
		return gorm.Open(postgres.Open(dsn), cfg)
	case TypeSQLite, "":
		gdb, err := gorm.Open(sqlite.Open(SQLiteDSN(dsn)), cfg)
		if err != nil {
			return nil, err
		}
		// sqlite serialises writers; a single connection avoids
		// SQLITE_BUSY churn between goroutines of the same process.
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
		return gdb, nil
	default:
		return nil, fmt.Errorf("unsupported database type: %v", dbType)
	}
}

// SQLiteDSN appends the pragmas recotune relies on for multi-process
// access to a sqlite file.
func SQLiteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_busy_timeout=10000&_journal_mode=WAL&_txlock=immediate"
}

// Migrate applies the schema for all persisted models.
func Migrate() error {
	return Connection().AutoMigrate(models.All...)
}

// Close closes the underlying sql.DB if available.
func Close(gdb *gorm.DB) {
	if gdb == nil {
		return
	}
	if sqlDB, err := gdb.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			log.Warn("database close failure", "error", err)
		}
	}
}
