package db

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"github.com/sirdesai22/event-service/internal/config"
	"github.com/sirdesai22/event-service/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens the configured database. Postgres is the production store;
// sqlite serves local development.
func Connect(cfg config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "postgres":
		dialector = postgres.Open(cfg.PostgresDSN)
	case "sqlite":
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		dialector = sqlite.Open(cfg.SQLitePath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.DBDriver)
	}

	db, err := Open(dialector, logger.Warn)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.DBDriver, err)
	}
	if cfg.DBDriver == "sqlite" {
		// one writer at a time; sqlite would otherwise answer SQLITE_BUSY
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	log.Printf("✅ Connected to %s", cfg.DBDriver)
	return db, nil
}

// Open wraps gorm.Open with the settings every store relies on:
// duplicate-key errors are translated to gorm.ErrDuplicatedKey and
// autoTime columns are stamped in UTC.
func Open(dialector gorm.Dialector, level logger.LogLevel) (*gorm.DB, error) {
	return gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		NowFunc:        models.UTCNow,
		Logger:         logger.Default.LogMode(level),
	})
}
