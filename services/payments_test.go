package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/agrovale/bbhook/models"
	mocks "github.com/agrovale/bbhook/testing"
)

type fakePaymentData struct {
	mu      sync.Mutex
	batches map[int64]*models.PaymentBatch
	items   map[string]*models.PaymentItem
	costs   map[string]*models.HarvestCostRecord
	links   map[string][]string
}

func newFakePaymentData() *fakePaymentData {
	return &fakePaymentData{
		batches: make(map[int64]*models.PaymentBatch),
		items:   make(map[string]*models.PaymentItem),
		costs:   make(map[string]*models.HarvestCostRecord),
		links:   make(map[string][]string),
	}
}

func (f *fakePaymentData) addBatch(batch *models.PaymentBatch, items ...*models.PaymentItem) {
	f.batches[batch.RequestNumber] = batch
	for _, item := range items {
		f.items[item.ID] = item
	}
}

func (f *fakePaymentData) linkCost(itemID string, cost *models.HarvestCostRecord) {
	f.costs[cost.ID] = cost
	f.links[itemID] = append(f.links[itemID], cost.ID)
}

func (f *fakePaymentData) GetBatchByRequestNumber(ctx context.Context, requestNumber int64) (*models.PaymentBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	batch, ok := f.batches[requestNumber]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return batch, nil
}

func (f *fakePaymentData) FindItem(ctx context.Context, batchID, identifier string) (*models.PaymentItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range f.items {
		if item.BatchID != batchID {
			continue
		}
		if item.PixIdentifier != nil && *item.PixIdentifier == identifier {
			return item, nil
		}
		if item.DocumentIdentifier != nil && *item.DocumentIdentifier == identifier {
			return item, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakePaymentData) UpdateItem(ctx context.Context, item *models.PaymentItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[item.ID] = item
	return nil
}

func (f *fakePaymentData) HarvestCostsByItem(ctx context.Context, itemID string) ([]*models.HarvestCostRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var costs []*models.HarvestCostRecord
	for _, costID := range f.links[itemID] {
		costs = append(costs, f.costs[costID])
	}
	return costs, nil
}

func (f *fakePaymentData) UpdateHarvestCost(ctx context.Context, cost *models.HarvestCostRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.costs[cost.ID] = cost
	return nil
}

func (f *fakePaymentData) CountItems(ctx context.Context, batchID string) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total, processed int64
	for _, item := range f.items {
		if item.BatchID != batchID {
			continue
		}
		total++
		if item.Status == models.ItemStatusProcessed {
			processed++
		}
	}
	return total, processed, nil
}

func (f *fakePaymentData) UpdateBatch(ctx context.Context, batch *models.PaymentBatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches[batch.RequestNumber] = batch
	return nil
}

func (f *fakePaymentData) WithTransaction(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func newReconciler(store *fakePaymentData) *PaymentReconciler {
	return CreatePaymentReconciler(store, NewKeyedMutex())
}

func twoItemBatch(store *fakePaymentData) (*models.PaymentBatch, *models.PaymentItem, *models.PaymentItem) {
	batch := mocks.MockBatch(555)
	itemX := mocks.MockPixItem(batch.ID, "X")
	itemY := mocks.MockPixItem(batch.ID, "Y")
	store.addBatch(batch, itemX, itemY)
	return batch, itemX, itemY
}

func TestPaymentReconciler_PaidItemLeavesBatchOpen(t *testing.T) {
	store := newFakePaymentData()
	batch, itemX, itemY := twoItemBatch(store)
	reconciler := newReconciler(store)

	payload := mocks.PaidConfirmationJSON(555, "X", "2024-05-10")
	event := mocks.MockWebhookEvent(ResourcePayments, payload)

	outcome := reconciler.ProcessEvent(context.Background(), event, []json.RawMessage{payload})

	assert.Equal(t, 1, outcome.Processed)
	assert.Equal(t, 0, outcome.Discarded)
	assert.Empty(t, outcome.Errors)

	assert.Equal(t, models.ItemStatusProcessed, itemX.Status)
	assert.True(t, itemX.Success)
	assert.Equal(t, "Paid", itemX.StateText)
	assert.True(t, itemX.PixAccepted)
	assert.True(t, itemX.BoletoAccepted)
	assert.True(t, itemX.GuiaAccepted)
	assert.NotNil(t, itemX.LastStatusUpdateAt)

	assert.Equal(t, models.ItemStatusPending, itemY.Status)
	assert.NotEqual(t, models.BatchStatusConcluded, batch.Status)
	assert.False(t, batch.FullyProcessed)
	assert.Equal(t, models.StateCodePaid, batch.CurrentRequestState)
}

func TestPaymentReconciler_LastItemConcludesBatch(t *testing.T) {
	store := newFakePaymentData()
	batch, _, _ := twoItemBatch(store)
	reconciler := newReconciler(store)

	for _, id := range []string{"X", "Y"} {
		payload := mocks.PaidConfirmationJSON(555, id, "2024-05-10")
		event := mocks.MockWebhookEvent(ResourcePayments, payload)
		outcome := reconciler.ProcessEvent(context.Background(), event, []json.RawMessage{payload})
		require.Equal(t, 1, outcome.Processed)
	}

	assert.Equal(t, models.BatchStatusConcluded, batch.Status)
	assert.True(t, batch.FullyProcessed)
}

func TestPaymentReconciler_UnknownBatchDiscards(t *testing.T) {
	store := newFakePaymentData()
	reconciler := newReconciler(store)

	payload := mocks.PaidConfirmationJSON(999, "X", "2024-05-10")
	event := mocks.MockWebhookEvent(ResourcePayments, payload)

	outcome := reconciler.ProcessEvent(context.Background(), event, []json.RawMessage{payload})

	assert.Equal(t, 0, outcome.Processed)
	assert.Equal(t, 1, outcome.Discarded)
	assert.Empty(t, outcome.Errors)

	result := reconciler.processItem(context.Background(), payload)
	assert.Contains(t, result.reason, "not found")
}

func TestPaymentReconciler_UnknownItemDiscards(t *testing.T) {
	store := newFakePaymentData()
	twoItemBatch(store)
	reconciler := newReconciler(store)

	payload := mocks.PaidConfirmationJSON(555, "Z", "2024-05-10")
	result := reconciler.processItem(context.Background(), payload)

	assert.False(t, result.processed)
	assert.Contains(t, result.reason, `"Z" not found`)
	assert.NoError(t, result.err)
}

func TestPaymentReconciler_NonPaidStateIsFiltered(t *testing.T) {
	store := newFakePaymentData()
	_, itemX, _ := twoItemBatch(store)
	reconciler := newReconciler(store)

	payload := mocks.ConfirmationJSON(555, "X", "2024-05-10", 3, "Agendado")
	event := mocks.MockWebhookEvent(ResourcePayments, payload)

	outcome := reconciler.ProcessEvent(context.Background(), event, []json.RawMessage{payload})

	assert.Equal(t, 0, outcome.Processed)
	assert.Equal(t, 1, outcome.Discarded)
	assert.Empty(t, outcome.Errors)

	// Nothing was mutated for a non-paid state.
	assert.Equal(t, models.ItemStatusPending, itemX.Status)
	assert.False(t, itemX.Success)
	assert.Nil(t, itemX.LastStatusUpdateAt)
}

func TestPaymentReconciler_Idempotent(t *testing.T) {
	store := newFakePaymentData()
	batch, itemX, _ := twoItemBatch(store)
	reconciler := newReconciler(store)

	payload := mocks.PaidConfirmationJSON(555, "X", "2024-05-10")
	event := mocks.MockWebhookEvent(ResourcePayments, payload)

	first := reconciler.ProcessEvent(context.Background(), event, []json.RawMessage{payload})
	second := reconciler.ProcessEvent(context.Background(), event, []json.RawMessage{payload})

	assert.Equal(t, 1, first.Processed)
	assert.Equal(t, 1, second.Processed)
	assert.Empty(t, second.Errors)

	assert.Equal(t, models.ItemStatusProcessed, itemX.Status)
	assert.True(t, itemX.Success)
	assert.False(t, batch.FullyProcessed)

	// The response trail keeps every delivery.
	var trail []json.RawMessage
	require.NoError(t, json.Unmarshal(itemX.LastResponsePayload, &trail))
	assert.Len(t, trail, 2)
}

func TestPaymentReconciler_HarvestCostCascade(t *testing.T) {
	store := newFakePaymentData()
	_, itemX, _ := twoItemBatch(store)
	costA := mocks.MockHarvestCost("cost_a")
	costB := mocks.MockHarvestCost("cost_b")
	store.linkCost(itemX.ID, costA)
	store.linkCost(itemX.ID, costB)
	reconciler := newReconciler(store)

	payload := mocks.PaidConfirmationJSON(555, "X", "2024-05-10")
	event := mocks.MockWebhookEvent(ResourcePayments, payload)
	outcome := reconciler.ProcessEvent(context.Background(), event, []json.RawMessage{payload})
	require.Equal(t, 1, outcome.Processed)

	wantDate := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	for _, cost := range []*models.HarvestCostRecord{costA, costB} {
		assert.Equal(t, models.CostPaymentStatusPaid, cost.PaymentStatus)
		assert.True(t, cost.PaymentEffected)
		require.NotNil(t, cost.PaymentDate)
		assert.True(t, cost.PaymentDate.Equal(wantDate))
	}
}

func TestPaymentReconciler_NoLinkedCostsIsNoop(t *testing.T) {
	store := newFakePaymentData()
	twoItemBatch(store)
	reconciler := newReconciler(store)

	payload := mocks.PaidConfirmationJSON(555, "X", "2024-05-10")
	result := reconciler.processItem(context.Background(), payload)

	assert.True(t, result.processed)
	assert.NoError(t, result.err)
}

func TestPaymentReconciler_BoletoIdentifierMatches(t *testing.T) {
	store := newFakePaymentData()
	batch := mocks.MockBatch(777)
	item := mocks.MockBoletoItem(batch.ID, "DOC-1")
	store.addBatch(batch, item)
	reconciler := newReconciler(store)

	payload := mocks.PaidConfirmationJSON(777, "DOC-1", "2024-06-01")
	result := reconciler.processItem(context.Background(), payload)

	assert.True(t, result.processed)
	assert.Equal(t, models.ItemStatusProcessed, item.Status)
	assert.Equal(t, models.BatchStatusConcluded, batch.Status)
	assert.True(t, batch.FullyProcessed)
}

func TestPaymentReconciler_InvalidItemCountsAsError(t *testing.T) {
	store := newFakePaymentData()
	twoItemBatch(store)
	reconciler := newReconciler(store)

	good := mocks.PaidConfirmationJSON(555, "X", "2024-05-10")
	bad := json.RawMessage(`{"numeroRequisicaoPagamento":"not-a-number"}`)
	event := mocks.MockWebhookEvent(ResourcePayments, good)

	outcome := reconciler.ProcessEvent(context.Background(), event, []json.RawMessage{bad, good})

	assert.Equal(t, 1, outcome.Processed)
	assert.Equal(t, 1, outcome.Discarded)
	require.Len(t, outcome.Errors, 1)
	assert.Equal(t, 0, outcome.Errors[0].Item)
}

func TestPaymentReconciler_BadDateIsError(t *testing.T) {
	store := newFakePaymentData()
	twoItemBatch(store)
	reconciler := newReconciler(store)

	payload := mocks.PaidConfirmationJSON(555, "X", "10/05/2024")
	result := reconciler.processItem(context.Background(), payload)

	assert.Error(t, result.err)
	assert.Contains(t, result.err.Error(), "invalid payment date")
}

func TestNormalizePaymentDate(t *testing.T) {
	got, err := NormalizePaymentDate("2024-05-10")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC), got)

	_, err = NormalizePaymentDate("2024-13-40")
	assert.Error(t, err)
}
