package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/velopay/backend/internal/domain"
	"github.com/velopay/backend/internal/services"
)

type PaymentHandler struct {
	payments  *services.PaymentService
	driver    *services.SagaDriver
	ledger    *services.LedgerService
	validator *services.ValidationHelper
}

func NewPaymentHandler(payments *services.PaymentService, driver *services.SagaDriver, ledger *services.LedgerService) *PaymentHandler {
	return &PaymentHandler{
		payments:  payments,
		driver:    driver,
		ledger:    ledger,
		validator: services.NewValidationHelper(),
	}
}

// CreatePayment accepts a payment request and drives the saga to a terminal
// state before responding. A duplicate request id returns the prior payment
// with 200 instead of 201.
func (h *PaymentHandler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req services.PaymentRequest

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	saga, created, err := h.payments.InitiatePayment(r.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownCurrency), errors.Is(err, domain.ErrInvalidAmount):
			services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		default:
			log.Printf("[PAYMENT] Initiate failed for request %s: %v", req.RequestID, err)
			services.SendErrorResponse(w, "Failed to initiate payment", http.StatusInternalServerError, nil)
		}
		return
	}

	if created || !saga.IsTerminal() {
		if err := h.driver.Execute(r.Context(), saga); err != nil {
			log.Printf("[PAYMENT] Execution halted for payment %s: %v", saga.ID, err)
			// The saga is resumable; report its current state.
		}
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	services.SendJSONResponse(w, status, saga)
}

func (h *PaymentHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "paymentId")

	saga, err := h.payments.GetPayment(r.Context(), paymentID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			services.SendErrorResponse(w, "Payment not found", http.StatusNotFound, nil)
			return
		}
		services.SendErrorResponse(w, "Failed to fetch payment", http.StatusInternalServerError, nil)
		return
	}
	services.SendJSONResponse(w, http.StatusOK, saga)
}

// GetByRequestID resolves a payment by the caller's request id, for clients
// that lost the response to their original submission.
func (h *PaymentHandler) GetByRequestID(w http.ResponseWriter, r *http.Request) {
	requestID := r.URL.Query().Get("requestId")
	if requestID == "" {
		services.SendErrorResponse(w, "requestId query parameter required", http.StatusBadRequest, nil)
		return
	}

	saga, err := h.payments.GetByRequestID(r.Context(), requestID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			services.SendErrorResponse(w, "Payment not found", http.StatusNotFound, nil)
			return
		}
		services.SendErrorResponse(w, "Failed to fetch payment", http.StatusInternalServerError, nil)
		return
	}
	services.SendJSONResponse(w, http.StatusOK, saga)
}

func (h *PaymentHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")
	if accountID == "" {
		accountID = r.URL.Query().Get("accountId")
	}
	if accountID == "" {
		services.SendErrorResponse(w, "accountId required", http.StatusBadRequest, nil)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	sagas, err := h.payments.ListPayments(r.Context(), accountID, limit)
	if err != nil {
		services.SendErrorResponse(w, "Failed to list payments", http.StatusInternalServerError, nil)
		return
	}
	services.SendJSONResponse(w, http.StatusOK, map[string]any{
		"payments": sagas,
		"count":    len(sagas),
	})
}

func (h *PaymentHandler) GetPaymentLedger(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "paymentId")

	entries, err := h.ledger.PaymentEntries(r.Context(), paymentID)
	if err != nil {
		services.SendErrorResponse(w, "Failed to fetch ledger entries", http.StatusInternalServerError, nil)
		return
	}
	services.SendJSONResponse(w, http.StatusOK, map[string]any{
		"paymentId": paymentID,
		"entries":   entries,
	})
}
