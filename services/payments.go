package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/agrovale/bbhook/models"
	"github.com/agrovale/bbhook/utils"
)

// ResourcePayments is the partner's resource tag for payment confirmations.
const ResourcePayments = "pagamentos"

// PaymentData is the slice of the payment store the reconciler consumes.
type PaymentData interface {
	GetBatchByRequestNumber(ctx context.Context, requestNumber int64) (*models.PaymentBatch, error)
	FindItem(ctx context.Context, batchID, identifier string) (*models.PaymentItem, error)
	UpdateItem(ctx context.Context, item *models.PaymentItem) error
	HarvestCostsByItem(ctx context.Context, itemID string) ([]*models.HarvestCostRecord, error)
	UpdateHarvestCost(ctx context.Context, cost *models.HarvestCostRecord) error
	CountItems(ctx context.Context, batchID string) (total int64, processed int64, err error)
	UpdateBatch(ctx context.Context, batch *models.PaymentBatch) error
	WithTransaction(ctx context.Context, fn func(context.Context) error) error
}

// PaymentReconciler applies partner-reported payment confirmations to
// batches, items and linked harvest-cost records. Items are independent:
// one failing item is recorded and its siblings still run. The whole
// per-item pipeline is idempotent, so duplicate deliveries converge on the
// same terminal state.
type PaymentReconciler struct {
	store  PaymentData
	locks  BatchLocker
	logger *utils.Logger
}

func CreatePaymentReconciler(store PaymentData, locks BatchLocker) *PaymentReconciler {
	return &PaymentReconciler{
		store:  store,
		locks:  locks,
		logger: utils.NewLogger("payment-reconciler"),
	}
}

type itemResult struct {
	processed bool
	reason    string
	err       error
	stack     string
}

func (h *PaymentReconciler) ProcessEvent(ctx context.Context, event *models.WebhookEvent, items []json.RawMessage) Outcome {
	var outcome Outcome

	for i, raw := range items {
		result := h.processItem(ctx, raw)

		switch {
		case result.err != nil:
			outcome.Discarded++
			outcome.Errors = append(outcome.Errors, models.ItemError{
				Item:    i,
				Message: result.err.Error(),
				Stack:   result.stack,
			})
			utils.LogError(ctx, result.err, "payment item reconciliation failed", map[string]interface{}{
				"event_id": event.ID,
				"item":     i,
			})
		case result.processed:
			outcome.Processed++
		default:
			outcome.Discarded++
			h.logger.Debug(ctx, "payment item discarded", map[string]interface{}{
				"event_id": event.ID,
				"item":     i,
				"reason":   result.reason,
			})
		}
	}

	return outcome
}

// processItem runs the per-item pipeline: state filter, batch and item
// resolution, audit merge, item update, harvest-cost cascade and batch
// re-evaluation. Steps past the filter run inside one transaction,
// serialized per batch.
func (h *PaymentReconciler) processItem(ctx context.Context, raw json.RawMessage) (result itemResult) {
	defer func() {
		if rec := recover(); rec != nil {
			result = itemResult{
				err:   fmt.Errorf("panic: %v", rec),
				stack: string(debug.Stack()),
			}
		}
	}()

	var confirmation models.PaymentConfirmation
	if err := json.Unmarshal(raw, &confirmation); err != nil {
		return itemResult{err: fmt.Errorf("invalid payment confirmation: %w", err)}
	}

	if confirmation.StateCode != models.StateCodePaid {
		return itemResult{reason: fmt.Sprintf(
			"payment state %d (%s) is not paid, nothing to reconcile",
			confirmation.StateCode, confirmation.StateText)}
	}

	release, err := h.locks.Lock(ctx, strconv.FormatInt(confirmation.RequestNumber, 10))
	if err != nil {
		return itemResult{err: fmt.Errorf("acquiring batch lock: %w", err)}
	}
	defer release()

	txErr := h.store.WithTransaction(ctx, func(txCtx context.Context) error {
		batch, err := h.store.GetBatchByRequestNumber(txCtx, confirmation.RequestNumber)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				result = itemResult{reason: fmt.Sprintf(
					"payment batch %d not found", confirmation.RequestNumber)}
				return nil
			}
			return err
		}

		item, err := h.store.FindItem(txCtx, batch.ID, confirmation.PaymentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				result = itemResult{reason: fmt.Sprintf(
					"payment item %q not found in batch %d",
					confirmation.PaymentID, confirmation.RequestNumber)}
				return nil
			}
			return err
		}

		paidAt, err := NormalizePaymentDate(confirmation.PaymentDate)
		if err != nil {
			return err
		}

		merged, err := appendResponseAudit(item.LastResponsePayload, raw)
		if err != nil {
			return err
		}

		now := time.Now()
		item.Status = models.ItemStatusProcessed
		item.Success = true
		item.StateText = "Paid"
		item.PixAccepted = true
		item.BoletoAccepted = true
		item.GuiaAccepted = true
		item.LastResponsePayload = merged
		item.LastStatusUpdateAt = &now

		if err := h.store.UpdateItem(txCtx, item); err != nil {
			return err
		}

		costs, err := h.store.HarvestCostsByItem(txCtx, item.ID)
		if err != nil {
			return err
		}
		for _, cost := range costs {
			paymentDate := paidAt
			cost.PaymentStatus = models.CostPaymentStatusPaid
			cost.PaymentEffected = true
			cost.PaymentDate = &paymentDate
			if err := h.store.UpdateHarvestCost(txCtx, cost); err != nil {
				return err
			}
		}

		return h.concludeBatch(txCtx, batch)
	})
	if txErr != nil {
		return itemResult{err: txErr}
	}
	if result.reason != "" {
		return result
	}

	return itemResult{processed: true}
}

// concludeBatch re-counts the batch's items and closes the batch only when
// every sibling is processed. Status moves toward concluded, never back.
func (h *PaymentReconciler) concludeBatch(ctx context.Context, batch *models.PaymentBatch) error {
	total, processed, err := h.store.CountItems(ctx, batch.ID)
	if err != nil {
		return err
	}

	batch.CurrentRequestState = models.StateCodePaid
	if total > 0 && processed == total {
		batch.Status = models.BatchStatusConcluded
		batch.FullyProcessed = true
	}

	return h.store.UpdateBatch(ctx, batch)
}

// NormalizePaymentDate converts the partner's date-only string to a midday
// UTC timestamp, so the calendar day survives any local-timezone rendering.
func NormalizePaymentDate(date string) (time.Time, error) {
	parsed, err := time.Parse("2006-01-02", date)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid payment date %q: %w", date, err)
	}
	return time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 12, 0, 0, 0, time.UTC), nil
}

type responseAuditEntry struct {
	ReceivedAt string          `json:"received_at"`
	Payload    json.RawMessage `json:"payload"`
}

// appendResponseAudit merges a new webhook payload into the item's
// append-only response trail.
func appendResponseAudit(existing models.JSONRaw, payload json.RawMessage) (models.JSONRaw, error) {
	var trail []json.RawMessage
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &trail); err != nil {
			// Legacy single-object trails are wrapped instead of dropped.
			trail = []json.RawMessage{json.RawMessage(existing)}
		}
	}

	entry, err := json.Marshal(responseAuditEntry{
		ReceivedAt: time.Now().UTC().Format(time.RFC3339),
		Payload:    payload,
	})
	if err != nil {
		return nil, err
	}

	trail = append(trail, entry)
	merged, err := json.Marshal(trail)
	if err != nil {
		return nil, err
	}
	return models.JSONRaw(merged), nil
}
