package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/commons-ledger/be-tranche-core/internal/errors"
)

func TestParseAmount(t *testing.T) {
	m, err := parseAmount("1234.56", "USD", "amount")
	if err != nil {
		t.Fatalf("parseAmount: %v", err)
	}
	if m.String() != "1234.56 USD" {
		t.Errorf("parsed = %s", m)
	}

	// Lowercase currency is normalized at the boundary, not rejected
	// later as a mismatch.
	m, err = parseAmount("100", "usd", "amount")
	if err != nil {
		t.Fatalf("parseAmount lowercase currency: %v", err)
	}
	if m.Currency != "USD" {
		t.Errorf("currency = %q, want USD", m.Currency)
	}

	cases := []struct{ raw, currency string }{
		{"", "USD"},
		{"12.3.4", "USD"},
		{"100", ""},
		{"100", "US"},
	}
	for _, c := range cases {
		if _, err := parseAmount(c.raw, c.currency, "amount"); !errors.HasCode(err, errors.ErrCodeValidation) {
			t.Errorf("parseAmount(%q, %q): %v", c.raw, c.currency, err)
		}
	}
}

func TestParseDate(t *testing.T) {
	if _, err := parseDate("2026-08-29", "due_date"); err != nil {
		t.Errorf("date-only form: %v", err)
	}
	ts, err := parseDate("2026-08-29T10:30:00Z", "due_date")
	if err != nil {
		t.Errorf("RFC 3339 form: %v", err)
	}
	if ts.Hour() != 10 {
		t.Errorf("parsed = %s", ts.Format(time.RFC3339))
	}
	if _, err := parseDate("29/08/2026", "due_date"); !errors.HasCode(err, errors.ErrCodeValidation) {
		t.Errorf("unsupported layout: %v", err)
	}
}

func TestWriteError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{errors.InvalidInput("amount", "bad"), http.StatusBadRequest},
		{errors.NotFound("tranche", "tr-1"), http.StatusNotFound},
		{errors.New(errors.ErrCodeConflict, "illegal transition"), http.StatusConflict},
		{errors.New(errors.ErrCodeInvariant, "TrancheOverfunded"), http.StatusConflict},
		{errors.New(errors.ErrCodeUnauthorized, "not yours"), http.StatusForbidden},
		{errors.New(errors.ErrCodeTimeout, "LockTimeout"), http.StatusServiceUnavailable},
		{errors.New(errors.ErrCodeInternal, "boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, c.err)
		if rec.Code != c.want {
			t.Errorf("writeError(%v) status = %d, want %d", c.err, rec.Code, c.want)
		}
		var body map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("body not JSON: %v", err)
		}
		if body["code"] == "" {
			t.Errorf("missing error code in body: %s", rec.Body)
		}
	}
}
