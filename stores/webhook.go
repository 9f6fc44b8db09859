package stores

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/agrovale/bbhook/models"
)

// WebhookStore is the durable event log for inbound deliveries. Rows are
// written before any business validation and are kept indefinitely; the log
// is the operator's sole record of every delivery and its outcome.
type WebhookStore struct {
	BaseStore
}

func CreateWebhookStore(db *gorm.DB) *WebhookStore {
	return &WebhookStore{BaseStore: BaseStore{db: db}}
}

func (s *WebhookStore) Create(ctx context.Context, event *models.WebhookEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.ProcessingStatus == "" {
		event.ProcessingStatus = models.ProcessingStatusPending
	}
	return s.GetDB(ctx).Create(event).Error
}

func (s *WebhookStore) GetByID(ctx context.Context, id string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	if err := s.GetDB(ctx).First(&event, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

// Finalize records the terminal outcome of one processing run. The
// transition happens once; a finalized event is never re-queued.
func (s *WebhookStore) Finalize(ctx context.Context, id string, status models.ProcessingStatus, processed, discarded int, itemErrors []models.ItemError) error {
	now := time.Now()

	var errorsJSON models.JSONRaw
	if len(itemErrors) > 0 {
		data, err := json.Marshal(itemErrors)
		if err != nil {
			return err
		}
		errorsJSON = models.JSONRaw(data)
	}

	return s.GetDB(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processing_status": status,
			"processed_count":   processed,
			"discarded_count":   discarded,
			"errors":            errorsJSON,
			"processed_at":      now,
		}).Error
}

func (s *WebhookStore) ListByResource(ctx context.Context, resourceType string, status *models.ProcessingStatus, limit, offset int) ([]*models.WebhookEvent, error) {
	var events []*models.WebhookEvent
	query := s.GetDB(ctx).Where("resource_type = ?", resourceType)

	if status != nil {
		query = query.Where("processing_status = ?", *status)
	}

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	if err := query.Order("created_at DESC").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
