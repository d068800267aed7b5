package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/velopay/backend/internal/domain"
	"github.com/velopay/backend/internal/services"
)

type FXHandler struct {
	rates      *services.FXRateService
	conversion *services.FXConversionService
	validator  *services.ValidationHelper
}

func NewFXHandler(rates *services.FXRateService, conversion *services.FXConversionService) *FXHandler {
	return &FXHandler{
		rates:      rates,
		conversion: conversion,
		validator:  services.NewValidationHelper(),
	}
}

// CreateRateLock quotes and locks a rate for a currency pair. The lock is
// single-use and expires on its own if never consumed.
func (h *FXHandler) CreateRateLock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BaseCurrency    string `json:"baseCurrency" validate:"required,len=3"`
		QuoteCurrency   string `json:"quoteCurrency" validate:"required,len=3"`
		AccountID       string `json:"accountId" validate:"required,uuid4"`
		DurationSeconds int64  `json:"durationSeconds,omitempty" validate:"omitempty,gt=0"`
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

	lock, err := h.rates.Lock(r.Context(), req.BaseCurrency, req.QuoteCurrency, req.AccountID, uuid.New().String(), time.Duration(req.DurationSeconds)*time.Second)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrRateUnavailable):
			services.SendErrorResponse(w, err.Error(), http.StatusServiceUnavailable, nil)
		case errors.Is(err, domain.ErrUnknownCurrency):
			services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		default:
			log.Printf("[FXLOCK] Create lock failed: %v", err)
			services.SendErrorResponse(w, "Failed to lock rate", http.StatusInternalServerError, nil)
		}
		return
	}
	services.SendJSONResponse(w, http.StatusCreated, lock)
}

func (h *FXHandler) GetRateLock(w http.ResponseWriter, r *http.Request) {
	lock, err := h.rates.GetLock(r.Context(), chi.URLParam(r, "lockId"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			services.SendErrorResponse(w, "Rate lock not found", http.StatusNotFound, nil)
			return
		}
		services.SendErrorResponse(w, "Failed to fetch rate lock", http.StatusInternalServerError, nil)
		return
	}
	services.SendJSONResponse(w, http.StatusOK, lock)
}

func (h *FXHandler) GetConversion(w http.ResponseWriter, r *http.Request) {
	conv, err := h.conversion.GetConversion(r.Context(), chi.URLParam(r, "conversionId"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			services.SendErrorResponse(w, "Conversion not found", http.StatusNotFound, nil)
			return
		}
		services.SendErrorResponse(w, "Failed to fetch conversion", http.StatusInternalServerError, nil)
		return
	}
	services.SendJSONResponse(w, http.StatusOK, conv)
}
