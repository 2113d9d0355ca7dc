package db

import (
	"github.com/fleetmaint/backend/internal/domain"
	"gorm.io/gorm"
)

func RunMigrations(db *gorm.DB) error {
	err := db.AutoMigrate(
		&domain.Task{},
		&domain.TaskAsset{},
		&domain.SubAssetRecord{},
		&domain.AuditEvent{},
	)
	if err != nil {
		return err
	}

	if err := createCustomIndexes(db); err != nil {
		return err
	}

	return nil
}

func createCustomIndexes(db *gorm.DB) error {
	// Readiness joins look up all records of one owner asset
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_sub_asset_records_owner
		ON sub_asset_records (task_id, type_id, asset_id)
	`).Error; err != nil {
		return err
	}

	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_audit_events_task_kind
		ON audit_events (task_id, kind)
	`).Error; err != nil {
		return err
	}

	return nil
}
