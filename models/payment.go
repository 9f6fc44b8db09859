package models

import (
	"time"
)

type BatchStatus string
type ItemStatus string
type CostPaymentStatus string

const (
	BatchStatusCreated    BatchStatus = "created"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusConcluded  BatchStatus = "concluded"

	ItemStatusPending   ItemStatus = "pending"
	ItemStatusProcessed ItemStatus = "processed"

	CostPaymentStatusPending CostPaymentStatus = "pending"
	CostPaymentStatusPaid    CostPaymentStatus = "paid"
)

// StateCodePaid is the partner's numeric state for a settled payment, both
// on individual items (codigoTextoEstado) and on the batch request state.
const StateCodePaid = 1

// PaymentBatch mirrors one lote de pagamentos submitted to the banking
// partner. Batches are created by the outbound payment flow; this service
// only advances them toward conclusion, never backwards.
type PaymentBatch struct {
	ID                  string        `json:"id" gorm:"primaryKey;type:uuid"`
	RequestNumber       int64         `json:"request_number" gorm:"not null;uniqueIndex"`
	CurrentRequestState int           `json:"current_request_state" gorm:"default:0"`
	Status              BatchStatus   `json:"status" gorm:"not null;default:'created'"`
	FullyProcessed      bool          `json:"fully_processed" gorm:"default:false"`
	Items               []PaymentItem `json:"items,omitempty" gorm:"foreignKey:BatchID"`
	CreatedAt           time.Time     `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt           time.Time     `json:"updated_at" gorm:"autoUpdateTime"`
}

// PaymentItem is a single payment instruction inside a batch. Depending on
// the rail, the partner identifies it either by the PIX identifier or by the
// boleto/guia document identifier; the two keys are mutually exclusive.
type PaymentItem struct {
	ID                  string              `json:"id" gorm:"primaryKey;type:uuid"`
	BatchID             string              `json:"batch_id" gorm:"not null;index"`
	PixIdentifier       *string             `json:"pix_identifier" gorm:"index"`
	DocumentIdentifier  *string             `json:"document_identifier" gorm:"index"`
	Amount              int64               `json:"amount" gorm:"not null"`
	Status              ItemStatus          `json:"status" gorm:"not null;default:'pending'"`
	Success             bool                `json:"success" gorm:"default:false"`
	StateText           string              `json:"state_text"`
	PixAccepted         bool                `json:"pix_accepted" gorm:"default:false"`
	BoletoAccepted      bool                `json:"boleto_accepted" gorm:"default:false"`
	GuiaAccepted        bool                `json:"guia_accepted" gorm:"default:false"`
	LastResponsePayload JSONRaw             `json:"last_response_payload" gorm:"type:jsonb"`
	LastStatusUpdateAt  *time.Time          `json:"last_status_update_at"`
	HarvestCosts        []HarvestCostRecord `json:"harvest_costs,omitempty" gorm:"many2many:payment_item_harvest_costs"`
	CreatedAt           time.Time           `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt           time.Time           `json:"updated_at" gorm:"autoUpdateTime"`
}

// HarvestCostRecord is a ledger entry for labor owed to a harvest crew,
// settled through one of the payment items it is linked to.
type HarvestCostRecord struct {
	ID              string            `json:"id" gorm:"primaryKey;type:uuid"`
	HarvestTeamID   string            `json:"harvest_team_id" gorm:"index"`
	OrderID         string            `json:"order_id" gorm:"index"`
	Amount          int64             `json:"amount" gorm:"not null"`
	PaymentStatus   CostPaymentStatus `json:"payment_status" gorm:"not null;default:'pending'"`
	PaymentEffected bool              `json:"payment_effected" gorm:"default:false"`
	PaymentDate     *time.Time        `json:"payment_date"`
	CreatedAt       time.Time         `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt       time.Time         `json:"updated_at" gorm:"autoUpdateTime"`
}

// PaymentConfirmation is one item of the partner's "pagamentos" callback,
// field names as delivered by the Banco do Brasil lote-de-pagamentos API.
type PaymentConfirmation struct {
	RequestNumber    int64   `json:"numeroRequisicaoPagamento"`
	PaymentID        string  `json:"codigoIdentificadorPagamento"`
	ClientPaymentID  string  `json:"codigoIdentificadorInformadoCliente,omitempty"`
	PaymentDate      string  `json:"dataPagamento"`
	Amount           float64 `json:"valorPagamento"`
	StateCode        int     `json:"codigoTextoEstado"`
	StateText        string  `json:"textoEstado"`
}
