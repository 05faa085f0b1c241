package database

import (
	"fmt"

	"invoiceflow/internal/model"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// NewConnection initializes a new connection pool using GORM
func NewConnection(dsn string, log *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		log.Warn("failed to auto-migrate models", zap.Error(err))
	}

	return db, nil
}

// Migrate creates or updates the workflow tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.Category{},
		&model.CategoryHistory{},
		&model.Request{},
		&model.RequestHistory{},
	); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	// history rows share the category columns, so the case-insensitive key lives here and not in a struct tag
	if err := db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS idx_categories_name_upper ON categories (UPPER(name))").Error; err != nil {
		return fmt.Errorf("create category name index: %w", err)
	}
	return nil
}
