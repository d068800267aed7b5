package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/velopay/backend/internal/domain"
	"github.com/velopay/backend/internal/services"
)

type AccountHandler struct {
	accounts  *services.AccountService
	validator *services.ValidationHelper
}

func NewAccountHandler(accounts *services.AccountService) *AccountHandler {
	return &AccountHandler{
		accounts:  accounts,
		validator: services.NewValidationHelper(),
	}
}

func (h *AccountHandler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountNumber string   `json:"accountNumber" validate:"required,numeric,len=10"`
		HolderName    string   `json:"holderName" validate:"required,max=140"`
		Email         string   `json:"email" validate:"required,email"`
		Currencies    []string `json:"currencies" validate:"required,min=1,dive,len=3"`
	}

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

	account, err := h.accounts.OpenAccount(r.Context(), req.AccountNumber, req.HolderName, req.Email, req.Currencies)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownCurrency) {
			services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
			return
		}
		log.Printf("[ACCOUNT] Open account failed: %v", err)
		services.SendErrorResponse(w, "Failed to open account", http.StatusInternalServerError, nil)
		return
	}
	services.SendJSONResponse(w, http.StatusCreated, account)
}

func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.accounts.GetAccount(r.Context(), chi.URLParam(r, "accountId"))
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) || errors.Is(err, domain.ErrNotFound) {
			services.SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
			return
		}
		services.SendErrorResponse(w, "Failed to fetch account", http.StatusInternalServerError, nil)
		return
	}
	services.SendJSONResponse(w, http.StatusOK, account)
}

// AccountNameEnquiry resolves an account number to its holder name.
func (h *AccountHandler) AccountNameEnquiry(w http.ResponseWriter, r *http.Request) {
	accountNumber := r.URL.Query().Get("accountNumber")
	if accountNumber == "" {
		services.SendErrorResponse(w, "accountNumber query parameter required", http.StatusBadRequest, nil)
		return
	}

	account, err := h.accounts.GetAccountByNumber(r.Context(), accountNumber)
	if err != nil {
		services.SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return
	}
	services.SendJSONResponse(w, http.StatusOK, map[string]string{
		"accountId":     account.ID,
		"accountNumber": account.AccountNumber,
		"holderName":    account.HolderName,
		"status":        string(account.Status),
	})
}

// AccountBalanceEnquiry returns one currency balance, or all of them when no
// currency is given.
func (h *AccountHandler) AccountBalanceEnquiry(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("accountId")
	if accountID == "" {
		services.SendErrorResponse(w, "accountId query parameter required", http.StatusBadRequest, nil)
		return
	}

	account, err := h.accounts.GetAccount(r.Context(), accountID)
	if err != nil {
		services.SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return
	}

	currency := strings.ToUpper(r.URL.Query().Get("currency"))
	if currency == "" {
		services.SendJSONResponse(w, http.StatusOK, map[string]any{
			"accountId": account.ID,
			"balances":  account.Balances,
		})
		return
	}

	balance, ok := account.Balances[currency]
	if !ok {
		services.SendErrorResponse(w, "Currency not enabled on account", http.StatusNotFound, nil)
		return
	}
	services.SendJSONResponse(w, http.StatusOK, balance)
}

// CreditAccount posts money onto an account balance, the entry point for
// inbound settlements and test funding.
func (h *AccountHandler) CreditAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")

	var req struct {
		AmountMinor int64  `json:"amountMinor" validate:"required,gt=0"`
		Currency    string `json:"currency" validate:"required,len=3"`
		Reference   string `json:"reference,omitempty"`
	}

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

	amount, err := domain.NewMoney(req.AmountMinor, req.Currency)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	opID := req.Reference
	if opID == "" {
		opID = uuid.New().String()
	}

	if err := h.accounts.PostCredit(r.Context(), accountID, amount, opID); err != nil {
		switch {
		case errors.Is(err, domain.ErrAccountNotFound), errors.Is(err, domain.ErrNotFound):
			services.SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		case errors.Is(err, domain.ErrCurrencyNotEnabled), errors.Is(err, domain.ErrAccountNotActive):
			services.SendErrorResponse(w, err.Error(), http.StatusUnprocessableEntity, nil)
		default:
			log.Printf("[ACCOUNT] Credit failed for %s: %v", accountID, err)
			services.SendErrorResponse(w, "Failed to credit account", http.StatusInternalServerError, nil)
		}
		return
	}

	account, err := h.accounts.GetAccount(r.Context(), accountID)
	if err != nil {
		services.SendErrorResponse(w, "Failed to fetch account", http.StatusInternalServerError, nil)
		return
	}
	services.SendJSONResponse(w, http.StatusOK, account)
}

func (h *AccountHandler) EnableCurrency(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")

	var req struct {
		Currency string `json:"currency" validate:"required,len=3"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := h.accounts.EnableCurrency(r.Context(), accountID, req.Currency); err != nil {
		switch {
		case errors.Is(err, domain.ErrAccountNotFound), errors.Is(err, domain.ErrNotFound):
			services.SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		case errors.Is(err, domain.ErrUnknownCurrency):
			services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		default:
			services.SendErrorResponse(w, "Failed to enable currency", http.StatusInternalServerError, nil)
		}
		return
	}
	services.SendJSONResponse(w, http.StatusOK, map[string]string{"status": "enabled", "currency": strings.ToUpper(req.Currency)})
}

func (h *AccountHandler) SuspendAccount(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.accounts.Suspend, "suspended")
}

func (h *AccountHandler) ActivateAccount(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.accounts.Activate, "active")
}

func (h *AccountHandler) CloseAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")
	if err := h.accounts.CloseAccount(r.Context(), accountID); err != nil {
		switch {
		case errors.Is(err, domain.ErrAccountNotFound), errors.Is(err, domain.ErrNotFound):
			services.SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		case errors.Is(err, domain.ErrBalanceNotZero):
			services.SendErrorResponse(w, err.Error(), http.StatusUnprocessableEntity, nil)
		default:
			services.SendErrorResponse(w, "Failed to close account", http.StatusInternalServerError, nil)
		}
		return
	}
	services.SendJSONResponse(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (h *AccountHandler) changeStatus(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, accountID string) error, result string) {
	accountID := chi.URLParam(r, "accountId")
	if err := op(r.Context(), accountID); err != nil {
		switch {
		case errors.Is(err, domain.ErrAccountNotFound), errors.Is(err, domain.ErrNotFound):
			services.SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		default:
			services.SendErrorResponse(w, "Failed to update account status", http.StatusInternalServerError, nil)
		}
		return
	}
	services.SendJSONResponse(w, http.StatusOK, map[string]string{"status": result})
}
