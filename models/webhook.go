package models

import (
	"encoding/json"
	"time"
)

type ProcessingStatus string

const (
	ProcessingStatusPending            ProcessingStatus = "PENDING"
	ProcessingStatusProcessed          ProcessingStatus = "PROCESSED"
	ProcessingStatusDiscarded          ProcessingStatus = "DISCARDED"
	ProcessingStatusPartiallyProcessed ProcessingStatus = "PARTIALLY_PROCESSED"
	ProcessingStatusError              ProcessingStatus = "ERROR"
)

// WebhookEvent is the append-only audit record of one inbound delivery.
// A row is written before any business validation runs and processing_status
// moves exactly once from PENDING to a terminal value; nothing reprocesses a
// terminal event automatically.
type WebhookEvent struct {
	ID               string           `json:"id" gorm:"primaryKey;type:uuid"`
	ResourceType     string           `json:"resource_type" gorm:"not null;index"`
	Payload          JSONRaw          `json:"payload" gorm:"type:jsonb"`
	AuditHeaders     JSON             `json:"audit_headers" gorm:"type:jsonb"`
	ItemCount        int              `json:"item_count" gorm:"default:0"`
	ProcessingStatus ProcessingStatus `json:"processing_status" gorm:"not null;default:'PENDING'"`
	ProcessedCount   int              `json:"processed_count" gorm:"default:0"`
	DiscardedCount   int              `json:"discarded_count" gorm:"default:0"`
	Errors           JSONRaw          `json:"errors" gorm:"type:jsonb"`
	ProcessedAt      *time.Time       `json:"processed_at"`
	CreatedAt        time.Time        `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt        time.Time        `json:"updated_at" gorm:"autoUpdateTime"`
}

// ItemError records one unexpected per-item failure during processing.
type ItemError struct {
	Item    int    `json:"item"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// NormalizeItems returns the array form of a webhook payload. A single
// object becomes a one-element slice; empty or invalid JSON yields nil.
func NormalizeItems(payload JSONRaw) []json.RawMessage {
	if len(payload) == 0 {
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(payload, &items); err == nil {
		return items
	}

	var single map[string]interface{}
	if err := json.Unmarshal(payload, &single); err != nil {
		return nil
	}
	return []json.RawMessage{json.RawMessage(payload)}
}
