package services

import (
	"context"
	"fmt"
	"log"

	"github.com/velopay/backend/internal/domain"
)

// FXConversionService executes conversions against previously locked rates.
// It never fetches a fresh rate: the lock consumed here carries the exact
// factors quoted to the payer.
type FXConversionService struct {
	rateLocks   *FXRateService
	conversions domain.ConversionRepository
}

func NewFXConversionService(rateLocks *FXRateService, conversions domain.ConversionRepository) *FXConversionService {
	return &FXConversionService{rateLocks: rateLocks, conversions: conversions}
}

// Convert consumes the lock and converts the amount at its effective rate
// (locked rate minus spread), truncating toward zero.
func (s *FXConversionService) Convert(ctx context.Context, lockID string, from domain.Money, correlationID string) (*domain.FXConversion, error) {
	lock, err := s.rateLocks.Use(ctx, lockID)
	if err != nil {
		return nil, err
	}
	if lock.BaseCurrency != from.Currency {
		return nil, fmt.Errorf("%w: lock %s is %s based, amount is %s",
			domain.ErrCurrencyMismatch, lockID, lock.BaseCurrency, from.Currency)
	}

	toMinor := lock.Convert(from.MinorUnits)
	conv := domain.NewFXConversion(lock, correlationID, from.MinorUnits, toMinor)
	if err := s.conversions.Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("persist conversion: %w", err)
	}

	log.Printf("[FXCONVERT] Converted %d %s -> %d %s at %s (spread %s, provider %s)",
		from.MinorUnits, from.Currency, toMinor, lock.QuoteCurrency,
		lock.Rate, lock.Spread, lock.Provider)
	return conv, nil
}

// MarkReversed flags the conversion record when a saga compensates after the
// conversion completed. The audit row stays; the money reversal happens in the
// source currency for the original amount.
func (s *FXConversionService) MarkReversed(ctx context.Context, conversionID string) error {
	return s.conversions.MarkReversed(ctx, conversionID)
}

func (s *FXConversionService) GetConversion(ctx context.Context, id string) (*domain.FXConversion, error) {
	return s.conversions.GetByID(ctx, id)
}
