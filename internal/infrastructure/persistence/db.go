// Package persistence is CIS's node-local durable store: a single embedded
// SQLite database holding dag runs, memory entries, conflict records,
// vector clocks, and agent sessions (spec.md §6). Grounded on the
// teacher's internal/infrastructure/persistence/db.go (NewDBConnection +
// AutoMigrate pattern), reduced to sqlite-only — CIS has no multi-tenant
// deployment concern that would call for the teacher's postgres option,
// every node owns exactly one local database file.
package persistence

import (
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/cis-project/cis/internal/infrastructure/config"
	"github.com/cis-project/cis/internal/infrastructure/persistence/models"
	cerr "github.com/cis-project/cis/pkg/errors"
)

// Open connects to the sqlite database named by cfg.DSN and migrates every
// table in spec.md §6.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(sqlite.Open(cfg.DSN), gormConfig)
	if err != nil {
		return nil, cerr.Database(fmt.Sprintf("opening sqlite database %q", cfg.DSN), err)
	}

	if cfg.MaxConnections > 0 {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, cerr.Database("retrieving sql.DB handle", err)
		}
		sqlDB.SetMaxOpenConns(cfg.MaxConnections)
	}

	if err := autoMigrate(db); err != nil {
		return nil, cerr.Database("migrating database", err)
	}
	return db, nil
}

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.DagRunModel{},
		&models.MemoryEntryModel{},
		&models.ConflictModel{},
		&models.VectorClockModel{},
		&models.SessionModel{},
	)
}
