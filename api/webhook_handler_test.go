package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"github.com/agrovale/bbhook/models"
	"github.com/agrovale/bbhook/services"
)

type memoryEventStore struct {
	mu     sync.Mutex
	nextID int
	events map[string]*models.WebhookEvent
}

func newMemoryEventStore() *memoryEventStore {
	return &memoryEventStore{events: make(map[string]*models.WebhookEvent)}
}

func (s *memoryEventStore) Create(ctx context.Context, event *models.WebhookEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.ID == "" {
		s.nextID++
		event.ID = fmt.Sprintf("evt_%d", s.nextID)
	}
	copied := *event
	s.events[event.ID] = &copied
	return nil
}

func (s *memoryEventStore) GetByID(ctx context.Context, id string) (*models.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *event
	return &copied, nil
}

func (s *memoryEventStore) Finalize(ctx context.Context, id string, status models.ProcessingStatus, processed, discarded int, itemErrors []models.ItemError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event, ok := s.events[id]; ok {
		event.ProcessingStatus = status
		event.ProcessedCount = processed
		event.DiscardedCount = discarded
	}
	return nil
}

func (s *memoryEventStore) only(t *testing.T) *models.WebhookEvent {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) != 1 {
		t.Fatalf("stored events = %d, want exactly 1", len(s.events))
	}
	for _, event := range s.events {
		copied := *event
		return &copied
	}
	return nil
}

func newTestRouter(store *memoryEventStore) (*mux.Router, *services.Queue) {
	dispatcher := services.CreateDispatcher(store)
	queue := services.CreateQueue(dispatcher, 1, 4)
	queue.Start()

	handler := CreateWebhookHandler(services.CreateIntake(store, queue))
	router := mux.NewRouter()
	handler.RegisterRoutes(router)
	return router, queue
}

func TestWebhookHandler_ArrayPayload(t *testing.T) {
	store := newMemoryEventStore()
	router, queue := newTestRouter(store)
	defer queue.Close()

	payload := []byte(`[
		{"numeroRequisicaoPagamento":555,"codigoIdentificadorPagamento":"X","codigoTextoEstado":1},
		{"numeroRequisicaoPagamento":555,"codigoIdentificadorPagamento":"Y","codigoTextoEstado":1}
	]`)

	req := httptest.NewRequest("POST", "/api/webhooks/bb/pagamentos", bytes.NewBuffer(payload))
	req.Header.Set("User-Agent", "bb-callback/1.0")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if _, ok := response["message"].(string); !ok {
		t.Error("response missing message")
	}
	if _, ok := response["timestamp"].(string); !ok {
		t.Error("response missing timestamp")
	}

	event := store.only(t)
	if event.ResourceType != "pagamentos" {
		t.Errorf("resource = %q, want %q", event.ResourceType, "pagamentos")
	}
	if event.ItemCount != 2 {
		t.Errorf("item_count = %d, want 2", event.ItemCount)
	}
	if got := event.AuditHeaders["User-Agent"]; got != "bb-callback/1.0" {
		t.Errorf("audit headers User-Agent = %v, want captured", got)
	}
}

func TestWebhookHandler_SingleObjectPayload(t *testing.T) {
	store := newMemoryEventStore()
	router, queue := newTestRouter(store)
	defer queue.Close()

	payload := []byte(`{"numeroRequisicaoPagamento":555,"codigoTextoEstado":1}`)

	req := httptest.NewRequest("POST", "/api/webhooks/bb/pagamentos", bytes.NewBuffer(payload))
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if event := store.only(t); event.ItemCount != 1 {
		t.Errorf("item_count = %d, want 1", event.ItemCount)
	}
}

func TestWebhookHandler_UnknownResourceStillAccepted(t *testing.T) {
	store := newMemoryEventStore()
	router, queue := newTestRouter(store)

	payload := []byte(`[{"x":1}]`)

	req := httptest.NewRequest("POST", "/api/webhooks/bb/desconhecido", bytes.NewBuffer(payload))
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: recognition is asynchronous", w.Code, http.StatusOK)
	}

	queue.Close()

	if event := store.only(t); event.ProcessingStatus != models.ProcessingStatusDiscarded {
		t.Errorf("processing_status = %s, want %s", event.ProcessingStatus, models.ProcessingStatusDiscarded)
	}
}

func TestWebhookHandler_MalformedPayloadStillAudited(t *testing.T) {
	store := newMemoryEventStore()
	router, queue := newTestRouter(store)
	defer queue.Close()

	req := httptest.NewRequest("POST", "/api/webhooks/bb/pagamentos", bytes.NewBufferString("not json"))
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if event := store.only(t); event.ItemCount != 0 {
		t.Errorf("item_count = %d, want 0 for malformed payload", event.ItemCount)
	}
}
