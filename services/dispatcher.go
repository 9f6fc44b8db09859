package services

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"

	"github.com/agrovale/bbhook/models"
	"github.com/agrovale/bbhook/utils"
)

// Outcome aggregates the per-item results of one handler invocation.
type Outcome struct {
	Processed int
	Discarded int
	Errors    []models.ItemError
}

// ResourceHandler reconciles the items of one webhook delivery for a single
// resource type. Implementations are registered by tag; adding a resource
// never changes the dispatcher itself.
type ResourceHandler interface {
	ProcessEvent(ctx context.Context, event *models.WebhookEvent, items []json.RawMessage) Outcome
}

// EventStore is the slice of the webhook store the dispatcher needs.
type EventStore interface {
	Create(ctx context.Context, event *models.WebhookEvent) error
	GetByID(ctx context.Context, id string) (*models.WebhookEvent, error)
	Finalize(ctx context.Context, id string, status models.ProcessingStatus, processed, discarded int, itemErrors []models.ItemError) error
}

type Dispatcher struct {
	events   EventStore
	handlers map[string]ResourceHandler
	logger   *utils.Logger
}

func CreateDispatcher(events EventStore) *Dispatcher {
	return &Dispatcher{
		events:   events,
		handlers: make(map[string]ResourceHandler),
		logger:   utils.NewLogger("dispatcher"),
	}
}

func (d *Dispatcher) Register(resourceType string, handler ResourceHandler) {
	d.handlers[resourceType] = handler
}

// Process runs a persisted event through its resource handler and writes the
// terminal outcome back to the event log. It never re-queues: whatever
// happens here, the event ends in a terminal status.
func (d *Dispatcher) Process(ctx context.Context, eventID string) error {
	event, err := d.events.GetByID(ctx, eventID)
	if err != nil {
		utils.LogError(ctx, err, "failed to load webhook event", map[string]interface{}{"event_id": eventID})
		return err
	}

	items := models.NormalizeItems(event.Payload)

	handler, ok := d.handlers[event.ResourceType]
	if !ok {
		reason := fmt.Sprintf("handler not found for resource %q", event.ResourceType)
		d.logger.Info(ctx, "discarding event without handler", map[string]interface{}{
			"event_id": eventID,
			"resource": event.ResourceType,
		})
		return d.events.Finalize(ctx, eventID, models.ProcessingStatusDiscarded, 0, len(items),
			[]models.ItemError{{Item: 0, Message: reason}})
	}

	outcome, dispatchErr := d.invoke(ctx, handler, event, items)
	if dispatchErr != nil {
		d.logger.Error(ctx, "handler dispatch failed", map[string]interface{}{
			"event_id": eventID,
			"resource": event.ResourceType,
			"error":    dispatchErr.Error(),
		})
		return d.events.Finalize(ctx, eventID, models.ProcessingStatusError, 0, 0,
			[]models.ItemError{{Item: 0, Message: dispatchErr.Error(), Stack: stackFor(dispatchErr)}})
	}

	status := terminalStatus(outcome)
	d.logger.Info(ctx, "event processed", map[string]interface{}{
		"event_id":  eventID,
		"resource":  event.ResourceType,
		"status":    string(status),
		"processed": outcome.Processed,
		"discarded": outcome.Discarded,
		"errors":    len(outcome.Errors),
	})

	return d.events.Finalize(ctx, eventID, status, outcome.Processed, outcome.Discarded, outcome.Errors)
}

// invoke contains handler panics so a broken handler marks the event ERROR
// instead of killing the worker.
func (d *Dispatcher) invoke(ctx context.Context, handler ResourceHandler, event *models.WebhookEvent, items []json.RawMessage) (outcome Outcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &panicError{value: rec, stack: string(debug.Stack())}
		}
	}()
	return handler.ProcessEvent(ctx, event, items), nil
}

func terminalStatus(outcome Outcome) models.ProcessingStatus {
	switch {
	case len(outcome.Errors) > 0:
		return models.ProcessingStatusError
	case outcome.Discarded > 0 && outcome.Processed == 0:
		return models.ProcessingStatusDiscarded
	case outcome.Discarded > 0 && outcome.Processed > 0:
		return models.ProcessingStatusPartiallyProcessed
	default:
		return models.ProcessingStatusProcessed
	}
}

type panicError struct {
	value interface{}
	stack string
}

func (e *panicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.value)
}

func stackFor(err error) string {
	if pe, ok := err.(*panicError); ok {
		return pe.stack
	}
	return ""
}
