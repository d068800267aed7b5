package domain

// CurrencyBalance tracks one currency's funds within an account, split into an
// available portion and a reserved portion. TotalMinor is always
// AvailableMinor + ReservedMinor and neither component ever goes negative; the
// transition methods enforce both.
type CurrencyBalance struct {
	Currency       string `json:"currency"`
	AvailableMinor int64  `json:"availableMinor"`
	ReservedMinor  int64  `json:"reservedMinor"`
	TotalMinor     int64  `json:"totalMinor"`
	Version        int64  `json:"version"`
}

func NewCurrencyBalance(currency string) CurrencyBalance {
	return CurrencyBalance{Currency: currency}
}

func (b CurrencyBalance) next() CurrencyBalance {
	b.Version++
	return b
}

func (b CurrencyBalance) checkAmount(amount Money) error {
	if amount.MinorUnits <= 0 {
		return ErrInvalidAmount
	}
	if amount.Currency != b.Currency {
		return ErrCurrencyMismatch
	}
	return nil
}

// Credit adds funds to the available portion.
func (b CurrencyBalance) Credit(amount Money) (CurrencyBalance, error) {
	if err := b.checkAmount(amount); err != nil {
		return b, err
	}
	n := b.next()
	n.AvailableMinor += amount.MinorUnits
	n.TotalMinor = n.AvailableMinor + n.ReservedMinor
	return n, nil
}

// Debit removes funds from the available portion.
func (b CurrencyBalance) Debit(amount Money) (CurrencyBalance, error) {
	if err := b.checkAmount(amount); err != nil {
		return b, err
	}
	if b.AvailableMinor < amount.MinorUnits {
		return b, ErrInsufficientFunds
	}
	n := b.next()
	n.AvailableMinor -= amount.MinorUnits
	n.TotalMinor = n.AvailableMinor + n.ReservedMinor
	return n, nil
}

// Reserve moves funds from available to reserved.
func (b CurrencyBalance) Reserve(amount Money) (CurrencyBalance, error) {
	if err := b.checkAmount(amount); err != nil {
		return b, err
	}
	if b.AvailableMinor < amount.MinorUnits {
		return b, ErrInsufficientFunds
	}
	n := b.next()
	n.AvailableMinor -= amount.MinorUnits
	n.ReservedMinor += amount.MinorUnits
	n.TotalMinor = n.AvailableMinor + n.ReservedMinor
	return n, nil
}

// ReleaseReservation moves reserved funds back to available.
func (b CurrencyBalance) ReleaseReservation(amount Money) (CurrencyBalance, error) {
	if err := b.checkAmount(amount); err != nil {
		return b, err
	}
	if b.ReservedMinor < amount.MinorUnits {
		return b, ErrInsufficientReservation
	}
	n := b.next()
	n.ReservedMinor -= amount.MinorUnits
	n.AvailableMinor += amount.MinorUnits
	n.TotalMinor = n.AvailableMinor + n.ReservedMinor
	return n, nil
}

// UseReservation finalizes a reservation as a debit: the funds leave the
// account entirely.
func (b CurrencyBalance) UseReservation(amount Money) (CurrencyBalance, error) {
	if err := b.checkAmount(amount); err != nil {
		return b, err
	}
	if b.ReservedMinor < amount.MinorUnits {
		return b, ErrInsufficientReservation
	}
	n := b.next()
	n.ReservedMinor -= amount.MinorUnits
	n.TotalMinor = n.AvailableMinor + n.ReservedMinor
	return n, nil
}
