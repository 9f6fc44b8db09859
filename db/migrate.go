package db

import (
	"gorm.io/gorm"

	"github.com/agrovale/bbhook/models"
)

// RunMigrations brings the schema up to date. The batch, item and
// harvest-cost tables are shared with the outbound payment flow, so the
// column set here must stay compatible with what that flow writes.
func RunMigrations(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.WebhookEvent{},
		&models.PaymentBatch{},
		&models.PaymentItem{},
		&models.HarvestCostRecord{},
	)
}
