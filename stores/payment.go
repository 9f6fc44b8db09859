package stores

import (
	"context"

	"gorm.io/gorm"

	"github.com/agrovale/bbhook/models"
)

// PaymentStore is the reconciliation-facing view of the payment data layer.
// Batches, items and harvest-cost records are created by the outbound
// payment flow; this store only reads them and advances their state.
type PaymentStore struct {
	BaseStore
}

func CreatePaymentStore(db *gorm.DB) *PaymentStore {
	return &PaymentStore{BaseStore: BaseStore{db: db}}
}

func (s *PaymentStore) GetBatchByRequestNumber(ctx context.Context, requestNumber int64) (*models.PaymentBatch, error) {
	var batch models.PaymentBatch
	if err := s.GetDB(ctx).Where("request_number = ?", requestNumber).First(&batch).Error; err != nil {
		return nil, err
	}
	return &batch, nil
}

// FindItem locates an item inside a batch by the partner-reported payment
// identifier, matching whichever business key the item's rail populated.
func (s *PaymentStore) FindItem(ctx context.Context, batchID, identifier string) (*models.PaymentItem, error) {
	var item models.PaymentItem
	err := s.GetDB(ctx).
		Where("batch_id = ?", batchID).
		Where("pix_identifier = ? OR document_identifier = ?", identifier, identifier).
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *PaymentStore) UpdateItem(ctx context.Context, item *models.PaymentItem) error {
	return s.GetDB(ctx).Save(item).Error
}

func (s *PaymentStore) HarvestCostsByItem(ctx context.Context, itemID string) ([]*models.HarvestCostRecord, error) {
	var costs []*models.HarvestCostRecord
	err := s.GetDB(ctx).
		Joins("JOIN payment_item_harvest_costs ON payment_item_harvest_costs.harvest_cost_record_id = harvest_cost_records.id").
		Where("payment_item_harvest_costs.payment_item_id = ?", itemID).
		Find(&costs).Error
	if err != nil {
		return nil, err
	}
	return costs, nil
}

func (s *PaymentStore) UpdateHarvestCost(ctx context.Context, cost *models.HarvestCostRecord) error {
	return s.GetDB(ctx).Save(cost).Error
}

// CountItems re-scans the batch's items so batch conclusion is always
// derived from current rows, never from a cached counter.
func (s *PaymentStore) CountItems(ctx context.Context, batchID string) (total int64, processed int64, err error) {
	db := s.GetDB(ctx)
	if err = db.Model(&models.PaymentItem{}).Where("batch_id = ?", batchID).Count(&total).Error; err != nil {
		return 0, 0, err
	}
	err = db.Model(&models.PaymentItem{}).
		Where("batch_id = ? AND status = ?", batchID, models.ItemStatusProcessed).
		Count(&processed).Error
	if err != nil {
		return 0, 0, err
	}
	return total, processed, nil
}

func (s *PaymentStore) UpdateBatch(ctx context.Context, batch *models.PaymentBatch) error {
	return s.GetDB(ctx).Save(batch).Error
}
