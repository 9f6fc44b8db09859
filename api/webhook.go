package api

import (
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/agrovale/bbhook/services"
	"github.com/agrovale/bbhook/utils"
)

// WebhookHandler is the single partner-facing entry point. It persists the
// delivery and answers immediately; whether the resource tag is recognized
// or the payload parses is decided later, in the asynchronous phase.
type WebhookHandler struct {
	intake *services.Intake
}

func CreateWebhookHandler(intake *services.Intake) *WebhookHandler {
	return &WebhookHandler{intake: intake}
}

func (h *WebhookHandler) HandleBankWebhook(w http.ResponseWriter, r *http.Request) {
	resource := mux.Vars(r)["recurso"]

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Failed to read webhook payload"})
		return
	}

	if _, err := h.intake.Accept(r.Context(), resource, body, r.Header); err != nil {
		// The audit insert is the only synchronous dependency; if it fails
		// the partner should redeliver.
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: utils.ErrInternalServer.Message})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":   "Webhook received for resource: " + resource,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (h *WebhookHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/webhooks/bb/{recurso}", h.HandleBankWebhook).Methods("POST")
}
