package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/keyvault/internal/adapter/notifier"
	"github.com/rl1809/keyvault/internal/adapter/queue"
	"github.com/rl1809/keyvault/internal/adapter/storage"
	"github.com/rl1809/keyvault/internal/core/domain"
	"github.com/rl1809/keyvault/internal/core/service"
	"github.com/rl1809/keyvault/internal/port"
)

type testEnv struct {
	store  *storage.MemoryAdapter
	queue  *queue.MemoryQueue
	router http.Handler
}

func newTestEnv(t *testing.T, seed map[string][]string) *testEnv {
	t.Helper()
	store := storage.NewMemoryAdapter()
	for productID, keys := range seed {
		require.NoError(t, store.SetInventory(context.Background(), productID, keys))
	}
	return newTestEnvWith(t, store, store)
}

func newTestEnvWith(t *testing.T, backing port.Storage, store *storage.MemoryAdapter) *testEnv {
	t.Helper()
	q := queue.NewMemoryQueue(4)
	checkout := service.NewCheckoutService(backing, nil)
	fulfillment := service.NewFulfillmentService(checkout, q, notifier.NewLogNotifier(nil), service.FulfillmentOptions{}, nil)
	return &testEnv{
		store:  store,
		queue:  q,
		router: NewRouter(NewHTTPHandler(checkout, fulfillment, nil)),
	}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

const webhookBody = `{
	"event_id": "evt_1",
	"type": "payment.succeeded",
	"order_id": "o1",
	"email": "buyer@example.com",
	"items": [{"product_id": "sku-1", "quantity": 2, "description": "Pro license"}]
}`

func TestPaymentWebhook_Accepted(t *testing.T) {
	env := newTestEnv(t, map[string][]string{"sku-1": {"K1", "K2", "K3"}})

	rec := env.do(http.MethodPost, "/webhooks/payment", webhookBody)
	require.Equal(t, http.StatusAccepted, rec.Code)

	resp := decode[WebhookHTTPResponse](t, rec)
	assert.True(t, resp.Accepted)
	assert.NotEmpty(t, resp.TaskID)
	assert.Equal(t, 1, env.queue.Len())

	// acknowledged before any key moved
	assert.Equal(t, 3, mustAvailable(t, env.store, "sku-1"))
}

func TestPaymentWebhook_IgnoresOtherEvents(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPost, "/webhooks/payment", `{"event_id":"evt_2","type":"payment.refunded","order_id":"o1"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 0, env.queue.Len())
}

func TestPaymentWebhook_BadRequests(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := map[string]string{
		"malformed json":   `{"event_id":`,
		"missing order id": `{"event_id":"e","type":"payment.succeeded","items":[]}`,
		"zero quantity":    `{"event_id":"e","type":"payment.succeeded","order_id":"o","items":[{"product_id":"p","quantity":0}]}`,
		"missing product":  `{"event_id":"e","type":"payment.succeeded","order_id":"o","items":[{"quantity":1}]}`,
		"bad email":        `{"event_id":"e","type":"payment.succeeded","order_id":"o","email":"nope","items":[]}`,
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/webhooks/payment", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Equal(t, 0, env.queue.Len())
}

func TestPaymentWebhook_EnqueueFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.queue.Close())

	rec := env.do(http.MethodPost, "/webhooks/payment", webhookBody)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, decode[WebhookHTTPResponse](t, rec).Accepted)
}

func TestCheckout_HTTP(t *testing.T) {
	env := newTestEnv(t, map[string][]string{"sku-1": {"K1", "K2", "K3"}})
	body := `{"order_id":"o1","items":[{"product_id":"sku-1","quantity":2,"description":"Pro license"}]}`

	rec := env.do(http.MethodPost, "/api/checkout", body)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[CheckoutHTTPResponse](t, rec)
	assert.True(t, resp.Success)
	require.Len(t, resp.Allocations, 1)
	assert.Equal(t, []string{"K3", "K2"}, resp.Allocations[0].Keys)
	assert.Equal(t, "Pro license", resp.Allocations[0].Description)

	rec = env.do(http.MethodPost, "/api/checkout", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "order already processed", decode[CheckoutHTTPResponse](t, rec).Message)

	rec = env.do(http.MethodPost, "/api/checkout", `{"order_id":"o2","items":[{"product_id":"sku-1","quantity":5}]}`)
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, "sold out: sku-1", decode[CheckoutHTTPResponse](t, rec).Message)

	rec = env.do(http.MethodPost, "/api/checkout", `{"items":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, 1, mustAvailable(t, env.store, "sku-1"))
}

type unavailableLedger struct {
	*storage.MemoryAdapter
}

func (unavailableLedger) GetLedgerEntry(ctx context.Context, orderID string) (*domain.LedgerEntry, error) {
	return nil, errors.New("dial tcp 10.0.0.7:6379: connect: connection refused")
}

func TestCheckout_HTTPRetryable(t *testing.T) {
	store := storage.NewMemoryAdapter()
	env := newTestEnvWith(t, unavailableLedger{store}, store)

	rec := env.do(http.MethodPost, "/api/checkout", `{"order_id":"o1","items":[{"product_id":"sku-1","quantity":1}]}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.7")
}

func TestGetInventory_HTTP(t *testing.T) {
	env := newTestEnv(t, map[string][]string{"sku-1": {"K1", "K2"}})

	rec := env.do(http.MethodGet, "/api/inventory/sku-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, InventoryHTTPResponse{ProductID: "sku-1", Available: 2}, decode[InventoryHTTPResponse](t, rec))
	assert.NotContains(t, rec.Body.String(), "K1")

	rec = env.do(http.MethodGet, "/api/inventory/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	env.do(http.MethodGet, "/health", "")
	rec = env.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func mustAvailable(t *testing.T, store *storage.MemoryAdapter, productID string) int {
	t.Helper()
	rec, err := store.GetInventory(context.Background(), productID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	return len(rec.Keys)
}
