package db

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"penelope-batcher/config"
	"penelope-batcher/models"

	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/postgres"
	_ "github.com/jinzhu/gorm/dialects/sqlite"
)

// Connect opens the configured database (sqlite3 by default) and migrates the
// mailbox and history tables.
func Connect(conf config.Configuration, logger *slog.Logger) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)

	switch conf.Database {
	case "postgres", "postgresql":
		logger.Info("using postgresql", "host", conf.DbHost, "db", conf.DbName)
		path := "host=" + conf.DbHost + " port=" + conf.DbPort
		path += " user=" + conf.DbUser + " dbname=" + conf.DbName
		path += " password=" + conf.DbPass + " sslmode=disable"
		db, err = gorm.Open("postgres", path)
	case "sqlite3", "sqlite":
		logger.Info("using sqlite3", "path", conf.DbPath)
		if dir := filepath.Dir(conf.DbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
		db, err = gorm.Open("sqlite3", conf.DbPath)
		if err == nil {
			// sqlite allows one writer; mailbox transactions would otherwise hit "database is locked"
			db.DB().SetMaxOpenConns(1)
		}
	default:
		return nil, fmt.Errorf("unsupported database %q", conf.Database)
	}
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", conf.Database, err)
	}

	db.LogMode(conf.DbDebug)

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates the tables this service owns.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.MailboxEvent{},
		&models.ConversationMessage{},
	).Error; err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	return nil
}
