package services

import (
	"context"
	"net/http"
	"strings"

	"github.com/agrovale/bbhook/middleware"
	"github.com/agrovale/bbhook/models"
	"github.com/agrovale/bbhook/utils"
)

// Intake is the synchronous half of webhook ingestion: persist first, then
// hand the event id to the queue. The audit row exists before any business
// validation runs, so every delivery leaves a trace even when processing
// later discards or rejects it.
type Intake struct {
	events EventStore
	queue  *Queue
	logger *utils.Logger
}

func CreateIntake(events EventStore, queue *Queue) *Intake {
	return &Intake{
		events: events,
		queue:  queue,
		logger: utils.NewLogger("intake"),
	}
}

// Accept stores the raw delivery and schedules its processing. The returned
// event is already persisted; processing outcome is not awaited.
func (s *Intake) Accept(ctx context.Context, resourceType string, body []byte, headers http.Header) (*models.WebhookEvent, error) {
	payload := models.JSONRaw(body)
	items := models.NormalizeItems(payload)

	event := &models.WebhookEvent{
		ResourceType:     resourceType,
		Payload:          payload,
		AuditHeaders:     auditHeaders(ctx, headers),
		ItemCount:        len(items),
		ProcessingStatus: models.ProcessingStatusPending,
	}

	if err := s.events.Create(ctx, event); err != nil {
		utils.LogError(ctx, err, "failed to persist webhook event", map[string]interface{}{
			"resource": resourceType,
		})
		return nil, err
	}

	s.logger.Info(ctx, "webhook event stored", map[string]interface{}{
		"event_id":   event.ID,
		"resource":   resourceType,
		"item_count": event.ItemCount,
	})

	s.queue.Enqueue(event.ID)
	return event, nil
}

func auditHeaders(ctx context.Context, headers http.Header) models.JSON {
	audit := make(models.JSON, len(headers)+1)
	for name, values := range headers {
		audit[name] = strings.Join(values, ", ")
	}

	if meta := middleware.CertMetadataFromContext(ctx); meta != nil {
		audit["client_certificate"] = map[string]interface{}{
			"subject":       meta.Subject,
			"common_name":   meta.CommonName,
			"issuer":        meta.Issuer,
			"valid_from":    meta.ValidFrom,
			"valid_to":      meta.ValidTo,
			"fingerprint":   meta.Fingerprint,
			"serial_number": meta.SerialNumber,
		}
	}

	return audit
}
