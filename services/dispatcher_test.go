package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"gorm.io/gorm"

	"github.com/agrovale/bbhook/models"
)

type finalizeCall struct {
	status     models.ProcessingStatus
	processed  int
	discarded  int
	itemErrors []models.ItemError
}

type fakeEventStore struct {
	mu     sync.Mutex
	nextID int
	events map[string]*models.WebhookEvent
	finals map[string]finalizeCall
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{
		events: make(map[string]*models.WebhookEvent),
		finals: make(map[string]finalizeCall),
	}
}

func (f *fakeEventStore) Create(ctx context.Context, event *models.WebhookEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if event.ID == "" {
		f.nextID++
		event.ID = fmt.Sprintf("evt_%d", f.nextID)
	}
	copied := *event
	f.events[event.ID] = &copied
	return nil
}

func (f *fakeEventStore) GetByID(ctx context.Context, id string) (*models.WebhookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	event, ok := f.events[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *event
	return &copied, nil
}

func (f *fakeEventStore) Finalize(ctx context.Context, id string, status models.ProcessingStatus, processed, discarded int, itemErrors []models.ItemError) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finals[id] = finalizeCall{status: status, processed: processed, discarded: discarded, itemErrors: itemErrors}
	if event, ok := f.events[id]; ok {
		event.ProcessingStatus = status
		event.ProcessedCount = processed
		event.DiscardedCount = discarded
	}
	return nil
}

func (f *fakeEventStore) finalized(id string) (finalizeCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call, ok := f.finals[id]
	return call, ok
}

type stubHandler struct {
	outcome Outcome
	panics  bool
}

func (h *stubHandler) ProcessEvent(ctx context.Context, event *models.WebhookEvent, items []json.RawMessage) Outcome {
	if h.panics {
		panic("handler exploded")
	}
	return h.outcome
}

func storedEvent(t *testing.T, store *fakeEventStore, resource, payload string) string {
	t.Helper()
	event := &models.WebhookEvent{
		ResourceType:     resource,
		Payload:          models.JSONRaw(payload),
		ProcessingStatus: models.ProcessingStatusPending,
	}
	if err := store.Create(context.Background(), event); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return event.ID
}

func TestDispatcher_UnknownResourceDiscards(t *testing.T) {
	store := newFakeEventStore()
	dispatcher := CreateDispatcher(store)

	id := storedEvent(t, store, "desconhecido", `[{"x":1},{"x":2}]`)

	if err := dispatcher.Process(context.Background(), id); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	call, ok := store.finalized(id)
	if !ok {
		t.Fatal("event was not finalized")
	}
	if call.status != models.ProcessingStatusDiscarded {
		t.Errorf("status = %s, want %s", call.status, models.ProcessingStatusDiscarded)
	}
	if call.discarded != 2 || call.processed != 0 {
		t.Errorf("counts = (%d processed, %d discarded), want (0, 2)", call.processed, call.discarded)
	}
	if len(call.itemErrors) == 0 || !strings.Contains(call.itemErrors[0].Message, `handler not found for resource "desconhecido"`) {
		t.Errorf("reason = %+v, want handler-not-found reason", call.itemErrors)
	}
}

func TestDispatcher_TerminalStatusPrecedence(t *testing.T) {
	tests := []struct {
		name    string
		outcome Outcome
		want    models.ProcessingStatus
	}{
		{"all processed", Outcome{Processed: 3}, models.ProcessingStatusProcessed},
		{"empty delivery", Outcome{}, models.ProcessingStatusProcessed},
		{"all discarded", Outcome{Discarded: 2}, models.ProcessingStatusDiscarded},
		{"mixed", Outcome{Processed: 1, Discarded: 1}, models.ProcessingStatusPartiallyProcessed},
		{"errors win", Outcome{Processed: 1, Discarded: 1, Errors: []models.ItemError{{Item: 1, Message: "boom"}}}, models.ProcessingStatusError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeEventStore()
			dispatcher := CreateDispatcher(store)
			dispatcher.Register("pagamentos", &stubHandler{outcome: tt.outcome})

			id := storedEvent(t, store, "pagamentos", `[{"x":1}]`)
			if err := dispatcher.Process(context.Background(), id); err != nil {
				t.Fatalf("Process() error = %v", err)
			}

			call, _ := store.finalized(id)
			if call.status != tt.want {
				t.Errorf("status = %s, want %s", call.status, tt.want)
			}
		})
	}
}

func TestDispatcher_HandlerPanicMarksError(t *testing.T) {
	store := newFakeEventStore()
	dispatcher := CreateDispatcher(store)
	dispatcher.Register("pagamentos", &stubHandler{panics: true})

	id := storedEvent(t, store, "pagamentos", `[{"x":1}]`)

	if err := dispatcher.Process(context.Background(), id); err != nil {
		t.Fatalf("Process() error = %v, want contained", err)
	}

	call, _ := store.finalized(id)
	if call.status != models.ProcessingStatusError {
		t.Errorf("status = %s, want %s", call.status, models.ProcessingStatusError)
	}
	if len(call.itemErrors) != 1 || !strings.Contains(call.itemErrors[0].Message, "handler exploded") {
		t.Errorf("errors = %+v, want panic message recorded", call.itemErrors)
	}
	if call.itemErrors[0].Stack == "" {
		t.Error("stack trace not recorded for handler panic")
	}
}

func TestDispatcher_MissingEvent(t *testing.T) {
	dispatcher := CreateDispatcher(newFakeEventStore())

	if err := dispatcher.Process(context.Background(), "missing"); err == nil {
		t.Error("Process() error = nil, want load failure")
	}
}
