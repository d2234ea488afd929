package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/folio/internal/archive"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationUnassignOrphanedPages = "2026-03-02_unassign_orphaned_pages"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

// applyMigrations runs each named data migration once, recording it in db_migrations.
func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationUnassignOrphanedPages, apply: unassignOrphanedPages},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: time.Now().UTC().Unix()}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// unassignOrphanedPages detaches pages whose document row is gone and zeroes the order of every
// unassigned page.
func unassignOrphanedPages(db *gorm.DB) error {
	orphaned := db.Model(&archive.Document{}).Select("document_id")
	err := db.Model(&archive.Page{}).
		Where("document_id IS NOT NULL AND document_id NOT IN (?)", orphaned).
		Updates(map[string]any{"document_id": nil, "sort_order": 0}).Error
	if err != nil {
		return err
	}
	return db.Model(&archive.Page{}).
		Where("document_id IS NULL AND sort_order <> 0").
		Update("sort_order", 0).Error
}
