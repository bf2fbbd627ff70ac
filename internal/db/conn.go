package db

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	glogger "gorm.io/gorm/logger"

	"github.com/draftsync/draftsync/internal/conf"
	"github.com/draftsync/draftsync/internal/model"
)

var db *gorm.DB

// Init opens the configured database and migrates the task record schema.
func Init(cfg conf.Database) error {
	var dialector gorm.Dialector
	switch cfg.Type {
	case "sqlite3", "sqlite", "":
		if err := os.MkdirAll(filepath.Dir(cfg.DBFile), 0o755); err != nil {
			return errors.WithStack(err)
		}
		dialector = sqlite.Open(cfg.DBFile)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return errors.Errorf("unsupported database type: %s", cfg.Type)
	}
	d, err := gorm.Open(dialector, &gorm.Config{
		Logger: glogger.Default.LogMode(glogger.Silent),
	})
	if err != nil {
		return errors.Wrapf(err, "failed to open %s database", cfg.Type)
	}
	db = d
	return errors.WithStack(db.AutoMigrate(&model.TaskRecord{}))
}

// Close releases the underlying connection pool.
func Close() {
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
