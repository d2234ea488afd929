// Package database opens the SQLite store and brings its schema up to date.
package database

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/folio/internal/archive"
	"github.com/MarcoPoloResearchLab/folio/internal/jobs"
	"github.com/MarcoPoloResearchLab/folio/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(schemaModels()...); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

func schemaModels() []any {
	models := archive.Models()
	return append(models, &jobs.Job{}, &users.Account{}, &migrationRecord{})
}
