package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/agrovale/bbhook/models"
	"github.com/agrovale/bbhook/services"
	"github.com/agrovale/bbhook/stores"
)

// EventsHandler exposes the delivery audit log to operators. The log is the
// only place processing outcomes surface, so disputes are worked from here.
type EventsHandler struct {
	events *stores.WebhookStore
	queue  *services.Queue
}

func CreateEventsHandler(events *stores.WebhookStore, queue *services.Queue) *EventsHandler {
	return &EventsHandler{events: events, queue: queue}
}

func (h *EventsHandler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	resource := mux.Vars(r)["recurso"]

	var status *models.ProcessingStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := models.ProcessingStatus(raw)
		status = &s
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	events, err := h.events.ListByResource(r.Context(), resource, status, clampLimit(limit), offset)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Failed to list webhook events"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

func (h *EventsHandler) HandleGetEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	event, err := h.events.GetByID(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "Webhook event not found"})
		return
	}

	writeJSON(w, http.StatusOK, event)
}

func (h *EventsHandler) HandleQueueStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.queue.Stats())
}

func (h *EventsHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/events/{recurso}", h.HandleListEvents).Methods("GET")
	router.HandleFunc("/api/events/id/{id}", h.HandleGetEvent).Methods("GET")
	router.HandleFunc("/api/queue/stats", h.HandleQueueStats).Methods("GET")
}
