package repository

import (
	"github.com/shopspring/decimal"

	"github.com/commons-ledger/be-tranche-core/internal/errors"
	"github.com/commons-ledger/be-tranche-core/internal/extension"
	"github.com/commons-ledger/be-tranche-core/internal/money"
)

// Numeric columns are selected as ::text and parsed here, keeping exact
// decimal values end to end.

func parseMoney(text, currency string) (money.Money, error) {
	d, err := decimal.NewFromString(text)
	if err != nil {
		return money.Money{}, errors.Wrap(err, errors.ErrCodeInternal, "unparseable numeric column")
	}
	return money.Money{Amount: d, Currency: currency}, nil
}

func parseNullableMoney(text *string, currency string) (*money.Money, error) {
	if text == nil {
		return nil, nil
	}
	m, err := parseMoney(*text, currency)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func parseNullableDecimal(text *string) (*decimal.Decimal, error) {
	if text == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*text)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "unparseable numeric column")
	}
	return &d, nil
}

func parseMetadata(raw []byte) (*extension.Map, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	m := extension.NewMap()
	if err := m.UnmarshalJSON(raw); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "unparseable metadata column")
	}
	return m, nil
}

func metadataBytes(m *extension.Map) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	raw, err := m.MarshalJSON()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "unencodable metadata")
	}
	return raw, nil
}
