package testing

import (
	"encoding/json"
	"fmt"

	"github.com/agrovale/bbhook/models"
)

func MockBatch(requestNumber int64) *models.PaymentBatch {
	return &models.PaymentBatch{
		ID:            fmt.Sprintf("batch_%d", requestNumber),
		RequestNumber: requestNumber,
		Status:        models.BatchStatusProcessing,
	}
}

func MockPixItem(batchID, pixID string) *models.PaymentItem {
	return &models.PaymentItem{
		ID:            "item_" + pixID,
		BatchID:       batchID,
		PixIdentifier: &pixID,
		Amount:        10000,
		Status:        models.ItemStatusPending,
	}
}

func MockBoletoItem(batchID, documentID string) *models.PaymentItem {
	return &models.PaymentItem{
		ID:                 "item_" + documentID,
		BatchID:            batchID,
		DocumentIdentifier: &documentID,
		Amount:             10000,
		Status:             models.ItemStatusPending,
	}
}

func MockHarvestCost(id string) *models.HarvestCostRecord {
	return &models.HarvestCostRecord{
		ID:            id,
		HarvestTeamID: "team_1",
		OrderID:       "order_1",
		Amount:        10000,
		PaymentStatus: models.CostPaymentStatusPending,
	}
}

// PaidConfirmationJSON builds one partner payment-confirmation item in the
// paid state.
func PaidConfirmationJSON(requestNumber int64, paymentID, date string) json.RawMessage {
	return ConfirmationJSON(requestNumber, paymentID, date, models.StateCodePaid, "Pago")
}

func ConfirmationJSON(requestNumber int64, paymentID, date string, stateCode int, stateText string) json.RawMessage {
	raw, _ := json.Marshal(map[string]interface{}{
		"numeroRequisicaoPagamento":    requestNumber,
		"codigoIdentificadorPagamento": paymentID,
		"dataPagamento":                date,
		"valorPagamento":               100.0,
		"codigoTextoEstado":            stateCode,
		"textoEstado":                  stateText,
	})
	return raw
}

func MockWebhookEvent(resourceType string, payload json.RawMessage) *models.WebhookEvent {
	items := models.NormalizeItems(models.JSONRaw(payload))
	return &models.WebhookEvent{
		ID:               "evt_test",
		ResourceType:     resourceType,
		Payload:          models.JSONRaw(payload),
		ItemCount:        len(items),
		ProcessingStatus: models.ProcessingStatusPending,
	}
}
