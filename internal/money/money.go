package money

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/commons-ledger/be-tranche-core/internal/errors"
)

// Money is a fixed-point amount tagged with an ISO 4217 currency code.
// Arithmetic across currencies is rejected; the core performs no FX
// conversion.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

// New builds Money from a decimal amount and currency code.
func New(amount decimal.Decimal, currency string) (Money, error) {
	c := strings.ToUpper(strings.TrimSpace(currency))
	if len(c) != 3 {
		return Money{}, errors.InvalidInput("currency", "must be a 3-letter ISO code")
	}
	return Money{Amount: amount, Currency: c}, nil
}

// FromString parses a decimal string ("1234.50") into Money.
func FromString(amount, currency string) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, errors.InvalidInput("amount", "not a valid decimal")
	}
	return New(d, currency)
}

// Zero returns the zero amount in the given currency.
func Zero(currency string) Money {
	return Money{Amount: decimal.Zero, Currency: strings.ToUpper(currency)}
}

func (m Money) sameCurrency(other Money) error {
	if m.Currency != other.Currency {
		return errors.Newf(errors.ErrCodeValidation,
			"currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	return nil
}

// Add returns m + other.
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}, nil
}

// Sub returns m − other.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount.Sub(other.Amount), Currency: m.Currency}, nil
}

// Cmp returns -1, 0 or 1 comparing m to other.
func (m Money) Cmp(other Money) (int, error) {
	if err := m.sameCurrency(other); err != nil {
		return 0, err
	}
	return m.Amount.Cmp(other.Amount), nil
}

// GreaterThanOrEqual reports m ≥ other.
func (m Money) GreaterThanOrEqual(other Money) (bool, error) {
	c, err := m.Cmp(other)
	return c >= 0, err
}

// LessThan reports m < other.
func (m Money) LessThan(other Money) (bool, error) {
	c, err := m.Cmp(other)
	return c < 0, err
}

// Min returns the smaller of m and other.
func (m Money) Min(other Money) (Money, error) {
	less, err := m.LessThan(other)
	if err != nil {
		return Money{}, err
	}
	if less {
		return m, nil
	}
	return other, nil
}

// IsPositive reports m > 0.
func (m Money) IsPositive() bool { return m.Amount.IsPositive() }

// IsZero reports m == 0.
func (m Money) IsZero() bool { return m.Amount.IsZero() }

// IsNegative reports m < 0.
func (m Money) IsNegative() bool { return m.Amount.IsNegative() }

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Amount.StringFixed(2), m.Currency)
}

type moneyJSON struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// MarshalJSON encodes the amount as a string to avoid float rounding in
// consumers.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.Amount.StringFixed(2), Currency: m.Currency})
}

// UnmarshalJSON decodes the string-amount form.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := FromString(raw.Amount, raw.Currency)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
