package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/rl1809/keyvault/internal/core/domain"
	"github.com/rl1809/keyvault/internal/core/service"
	"github.com/rl1809/keyvault/internal/pkg/logger"
)

const EventPaymentSucceeded = "payment.succeeded"

var validate = validator.New()

type HTTPHandler struct {
	checkout    *service.CheckoutService
	fulfillment *service.FulfillmentService
	logger      *slog.Logger
}

type LineItemRequest struct {
	ProductID   string `json:"product_id" validate:"required"`
	Quantity    int    `json:"quantity" validate:"gte=1"`
	Description string `json:"description"`
}

type PaymentWebhookRequest struct {
	EventID string            `json:"event_id" validate:"required"`
	Type    string            `json:"type" validate:"required"`
	OrderID string            `json:"order_id" validate:"required"`
	Email   string            `json:"email" validate:"omitempty,email"`
	Items   []LineItemRequest `json:"items" validate:"dive"`
}

type WebhookHTTPResponse struct {
	Accepted bool   `json:"accepted"`
	TaskID   string `json:"task_id,omitempty"`
	Message  string `json:"message,omitempty"`
}

type CheckoutHTTPRequest struct {
	OrderID string            `json:"order_id" validate:"required"`
	Items   []LineItemRequest `json:"items" validate:"dive"`
}

type AllocationResponse struct {
	ProductID   string   `json:"product_id"`
	Description string   `json:"description,omitempty"`
	Keys        []string `json:"keys"`
}

type CheckoutHTTPResponse struct {
	Success     bool                 `json:"success"`
	Message     string               `json:"message"`
	Allocations []AllocationResponse `json:"allocations,omitempty"`
}

type InventoryHTTPResponse struct {
	ProductID string `json:"product_id"`
	Available int    `json:"available"`
}

func NewHTTPHandler(checkout *service.CheckoutService, fulfillment *service.FulfillmentService, log *slog.Logger) *HTTPHandler {
	if log == nil {
		log = slog.Default()
	}
	return &HTTPHandler{
		checkout:    checkout,
		fulfillment: fulfillment,
		logger:      log,
	}
}

// PaymentWebhook acknowledges a payment event as soon as it is queued. The
// checkout outcome never changes the response.
func (h *HTTPHandler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var req PaymentWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, WebhookHTTPResponse{Message: "invalid request body"})
		return
	}

	if req.Type != "" && req.Type != EventPaymentSucceeded {
		writeJSON(w, http.StatusAccepted, WebhookHTTPResponse{Accepted: true, Message: "event type ignored"})
		return
	}

	if err := validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, WebhookHTTPResponse{Message: err.Error()})
		return
	}

	taskID, err := h.fulfillment.Accept(r.Context(), domain.PaymentEvent{
		EventID:    req.EventID,
		OrderID:    req.OrderID,
		Email:      req.Email,
		Items:      toLineItems(req.Items),
		ReceivedAt: time.Now().UTC(),
	})
	if err != nil {
		logger.From(r.Context(), h.logger).Error("enqueue payment event",
			slog.String("event_id", req.EventID),
			slog.String("order_id", req.OrderID),
			slog.Any("error", err),
		)
		writeJSON(w, http.StatusServiceUnavailable, WebhookHTTPResponse{Message: "unable to accept event, retry later"})
		return
	}

	writeJSON(w, http.StatusAccepted, WebhookHTTPResponse{Accepted: true, TaskID: taskID})
}

// Checkout runs a checkout synchronously and returns the allocated keys.
func (h *HTTPHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, CheckoutHTTPResponse{
			Success: false,
			Message: "invalid request body",
		})
		return
	}

	if err := validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, CheckoutHTTPResponse{
			Success: false,
			Message: err.Error(),
		})
		return
	}

	allocs, err := h.checkout.Checkout(r.Context(), req.OrderID, toLineItems(req.Items))
	if err != nil {
		status, message := checkoutStatus(err)
		if status >= http.StatusInternalServerError {
			logger.From(r.Context(), h.logger).Error("checkout failed",
				slog.String("order_id", req.OrderID),
				slog.Any("error", err),
			)
		}
		writeJSON(w, status, CheckoutHTTPResponse{
			Success: false,
			Message: message,
		})
		return
	}

	writeJSON(w, http.StatusOK, CheckoutHTTPResponse{
		Success:     true,
		Message:     "order fulfilled",
		Allocations: toAllocationResponses(allocs),
	})
}

func (h *HTTPHandler) GetInventory(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")

	n, err := h.checkout.Inventory().Available(r.Context(), productID)
	if errors.Is(err, domain.ErrProductNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, InventoryHTTPResponse{ProductID: productID, Available: n})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func checkoutStatus(err error) (int, string) {
	var insufficient *domain.InsufficientInventoryError
	switch {
	case errors.Is(err, domain.ErrOrderAlreadyProcessed):
		return http.StatusConflict, "order already processed"
	case errors.As(err, &insufficient):
		return http.StatusGone, "sold out: " + insufficient.ProductID
	case errors.Is(err, domain.ErrInvalidOrder), errors.Is(err, domain.ErrInvalidLineItem):
		return http.StatusBadRequest, err.Error()
	case domain.IsRetryable(err):
		return http.StatusServiceUnavailable, "temporarily unavailable, retry"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func toLineItems(items []LineItemRequest) []domain.LineItem {
	out := make([]domain.LineItem, 0, len(items))
	for _, it := range items {
		out = append(out, domain.LineItem{
			ProductID:   it.ProductID,
			Quantity:    it.Quantity,
			Description: it.Description,
		})
	}
	return out
}

func toAllocationResponses(allocs []domain.Allocation) []AllocationResponse {
	out := make([]AllocationResponse, 0, len(allocs))
	for _, a := range allocs {
		out = append(out, AllocationResponse{
			ProductID:   a.ProductID,
			Description: a.Description,
			Keys:        a.Keys,
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
