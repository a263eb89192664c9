package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/commons-ledger/be-tranche-core/internal/errors"
	"github.com/commons-ledger/be-tranche-core/internal/logger"
	"github.com/commons-ledger/be-tranche-core/internal/money"
	"github.com/commons-ledger/be-tranche-core/internal/repository"
	"github.com/commons-ledger/be-tranche-core/internal/service"
)

// HTTPHandler exposes the funding and lifecycle operations over JSON.
type HTTPHandler struct {
	reconciler *service.InvoiceReconcilerService
	ledger     *service.TrancheLedgerService
	lifecycle  *service.TrancheLifecycleService
	verifier   *service.AttestationVerifier
	gate       *service.ScoreGate
	log        *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(
	reconciler *service.InvoiceReconcilerService,
	ledger *service.TrancheLedgerService,
	lifecycle *service.TrancheLifecycleService,
	verifier *service.AttestationVerifier,
	gate *service.ScoreGate,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		reconciler: reconciler,
		ledger:     ledger,
		lifecycle:  lifecycle,
		verifier:   verifier,
		gate:       gate,
		log:        log,
	}
}

// Register mounts all routes on mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/invoices", h.CreateInvoice)
	mux.HandleFunc("/api/v1/invoices/get", h.GetInvoice)
	mux.HandleFunc("/api/v1/invoices/list", h.ListInvoices)
	mux.HandleFunc("/api/v1/invoices/cancel", h.CancelInvoice)
	mux.HandleFunc("/api/v1/invoices/reconcile", h.ReconcileInvoice)
	mux.HandleFunc("/api/v1/tranches", h.OpenTranche)
	mux.HandleFunc("/api/v1/tranches/get", h.GetTranche)
	mux.HandleFunc("/api/v1/tranches/list", h.ListTranches)
	mux.HandleFunc("/api/v1/tranches/transition", h.TransitionTranche)
	mux.HandleFunc("/api/v1/tranches/settle", h.SettlePledges)
	mux.HandleFunc("/api/v1/tranches/repayment", h.RecordRepayment)
	mux.HandleFunc("/api/v1/pledges", h.SubmitPledge)
	mux.HandleFunc("/api/v1/pledges/revoke", h.RevokePledge)
	mux.HandleFunc("/api/v1/attestations/verify", h.VerifyAttestation)
	mux.HandleFunc("/api/v1/scores/gate", h.GetGateDecision)
	mux.HandleFunc("/health", h.Health)
}

// CreateInvoice handles create invoice HTTP requests.
func (h *HTTPHandler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		OrgID         string  `json:"org_id"`
		CustomerID    string  `json:"customer_id"`
		InvoiceNumber string  `json:"invoice_number"`
		Amount        string  `json:"amount"`
		TaxAmount     string  `json:"tax_amount"`
		TotalAmount   string  `json:"total_amount"`
		Currency      string  `json:"currency"`
		IssuedDate    string  `json:"issued_date"`
		DueDate       string  `json:"due_date"`
		Description   *string `json:"description"`
		ActorID       string  `json:"actor_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	amount, err := parseAmount(req.Amount, req.Currency, "amount")
	if err != nil {
		writeError(w, err)
		return
	}
	tax, err := parseAmount(req.TaxAmount, req.Currency, "tax_amount")
	if err != nil {
		writeError(w, err)
		return
	}
	total, err := parseAmount(req.TotalAmount, req.Currency, "total_amount")
	if err != nil {
		writeError(w, err)
		return
	}
	issued, err := parseDate(req.IssuedDate, "issued_date")
	if err != nil {
		writeError(w, err)
		return
	}
	due, err := parseDate(req.DueDate, "due_date")
	if err != nil {
		writeError(w, err)
		return
	}

	inv := &repository.Invoice{
		OrgID:         req.OrgID,
		CustomerID:    req.CustomerID,
		CreatorID:     req.ActorID,
		InvoiceNumber: req.InvoiceNumber,
		Amount:        amount,
		TaxAmount:     tax,
		TotalAmount:   total,
		Currency:      req.Currency,
		IssuedDate:    issued,
		DueDate:       due,
		Status:        repository.InvoiceStatusIssued,
		Description:   req.Description,
	}

	created, err := h.reconciler.CreateInvoice(r.Context(), inv, req.ActorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// GetInvoice handles get invoice HTTP requests.
func (h *HTTPHandler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Invoice ID is required", http.StatusBadRequest)
		return
	}

	inv, err := h.reconciler.GetInvoice(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// ListInvoices handles list invoices HTTP requests.
func (h *HTTPHandler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	orgID := r.URL.Query().Get("org_id")
	if orgID == "" {
		http.Error(w, "Org ID is required", http.StatusBadRequest)
		return
	}

	var status *repository.InvoiceStatus
	if s := r.URL.Query().Get("status"); s != "" {
		st := repository.InvoiceStatus(s)
		status = &st
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	invoices, err := h.reconciler.ListInvoices(r.Context(), orgID, status, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"invoices": invoices,
		"total":    len(invoices),
	})
}

// CancelInvoice handles cancel invoice HTTP requests.
func (h *HTTPHandler) CancelInvoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		InvoiceID string `json:"invoice_id"`
		ActorID   string `json:"actor_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.reconciler.CancelInvoice(r.Context(), req.InvoiceID, req.ActorID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// ReconcileInvoice forces a recompute of amount_paid and status from the
// tranche ledger.
func (h *HTTPHandler) ReconcileInvoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		InvoiceID string `json:"invoice_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	inv, err := h.reconciler.Reconcile(r.Context(), req.InvoiceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// OpenTranche handles open tranche HTTP requests.
func (h *HTTPHandler) OpenTranche(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		InvoiceID         string  `json:"invoice_id"`
		TrancheNumber     string  `json:"tranche_number"`
		ShareAmount       string  `json:"share_amount"`
		Price             string  `json:"price"`
		TargetAmount      string  `json:"target_amount"`
		ExpectedReturn    string  `json:"expected_return"`
		Currency          string  `json:"currency"`
		FundingDeadline   *string `json:"funding_deadline"`
		MaturityDate      *string `json:"maturity_date"`
		MinimumInvestment *string `json:"minimum_investment"`
		MaximumInvestment *string `json:"maximum_investment"`
		Terms             *string `json:"terms"`
		ActorID           string  `json:"actor_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	share, err := parseAmount(req.ShareAmount, req.Currency, "share_amount")
	if err != nil {
		writeError(w, err)
		return
	}
	price, err := parseAmount(req.Price, req.Currency, "price")
	if err != nil {
		writeError(w, err)
		return
	}
	target, err := parseAmount(req.TargetAmount, req.Currency, "target_amount")
	if err != nil {
		writeError(w, err)
		return
	}
	expected, err := parseAmount(req.ExpectedReturn, req.Currency, "expected_return")
	if err != nil {
		writeError(w, err)
		return
	}

	t := &repository.Tranche{
		InvoiceID:      req.InvoiceID,
		TrancheNumber:  req.TrancheNumber,
		ShareAmount:    share,
		Price:          price,
		TargetAmount:   target,
		ExpectedReturn: expected,
		Currency:       req.Currency,
		Terms:          req.Terms,
	}
	if req.FundingDeadline != nil {
		deadline, err := parseDate(*req.FundingDeadline, "funding_deadline")
		if err != nil {
			writeError(w, err)
			return
		}
		t.FundingDeadline = &deadline
	}
	if req.MaturityDate != nil {
		maturity, err := parseDate(*req.MaturityDate, "maturity_date")
		if err != nil {
			writeError(w, err)
			return
		}
		t.MaturityDate = &maturity
	}
	if req.MinimumInvestment != nil {
		min, err := parseAmount(*req.MinimumInvestment, req.Currency, "minimum_investment")
		if err != nil {
			writeError(w, err)
			return
		}
		t.MinimumInvestment = &min
	}
	if req.MaximumInvestment != nil {
		max, err := parseAmount(*req.MaximumInvestment, req.Currency, "maximum_investment")
		if err != nil {
			writeError(w, err)
			return
		}
		t.MaximumInvestment = &max
	}

	created, err := h.reconciler.OpenTranche(r.Context(), t, req.ActorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// GetTranche handles get tranche HTTP requests.
func (h *HTTPHandler) GetTranche(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Tranche ID is required", http.StatusBadRequest)
		return
	}

	t, err := h.reconciler.GetTranche(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// ListTranches handles list tranches HTTP requests.
func (h *HTTPHandler) ListTranches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	invoiceID := r.URL.Query().Get("invoice_id")
	if invoiceID == "" {
		http.Error(w, "Invoice ID is required", http.StatusBadRequest)
		return
	}

	tranches, err := h.reconciler.ListTranches(r.Context(), invoiceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tranches": tranches,
		"total":    len(tranches),
	})
}

// SubmitPledge handles submit pledge HTTP requests.
func (h *HTTPHandler) SubmitPledge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		TrancheID  string `json:"tranche_id"`
		InvestorID string `json:"investor_id"`
		Amount     string `json:"amount"`
		Currency   string `json:"currency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	amount, err := parseAmount(req.Amount, req.Currency, "amount")
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.ledger.SubmitPledge(r.Context(), req.TrancheID, req.InvestorID, amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// RevokePledge handles revoke pledge HTTP requests.
func (h *HTTPHandler) RevokePledge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		PledgeID   string `json:"pledge_id"`
		InvestorID string `json:"investor_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.ledger.RevokePledge(r.Context(), req.PledgeID, req.InvestorID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// SettlePledges handles the payment-rail settlement callback.
func (h *HTTPHandler) SettlePledges(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		TrancheID  string   `json:"tranche_id"`
		PledgeIDs  []string `json:"pledge_ids"`
		PaymentRef *string  `json:"payment_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	settled, err := h.ledger.SettlePledges(r.Context(), req.TrancheID, req.PledgeIDs, req.PaymentRef)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "settled",
		"settled_amount": settled,
	})
}

// TransitionTranche handles tranche state transition HTTP requests.
func (h *HTTPHandler) TransitionTranche(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		TrancheID string `json:"tranche_id"`
		Target    string `json:"target"`
		ActorID   string `json:"actor_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.lifecycle.Transition(r.Context(), req.TrancheID, repository.TrancheStatus(req.Target), req.ActorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// RecordRepayment handles the repayment-rail callback.
func (h *HTTPHandler) RecordRepayment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		TrancheID string `json:"tranche_id"`
		Amount    string `json:"amount"`
		Currency  string `json:"currency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	amount, err := parseAmount(req.Amount, req.Currency, "amount")
	if err != nil {
		writeError(w, err)
		return
	}

	t, err := h.lifecycle.RecordRepayment(r.Context(), req.TrancheID, amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// VerifyAttestation handles attestation verification HTTP requests.
func (h *HTTPHandler) VerifyAttestation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		AttestationID string `json:"attestation_id"`
		Payload       []byte `json:"payload"`
		ActorID       string `json:"actor_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.verifier.VerifyAndRecord(r.Context(), req.AttestationID, req.Payload, req.ActorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetGateDecision evaluates the score gate for an entity without side
// effects.
func (h *HTTPHandler) GetGateDecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	entityID := r.URL.Query().Get("entity_id")
	if entityID == "" {
		http.Error(w, "Entity ID is required", http.StatusBadRequest)
		return
	}

	decision := h.gate.AuthorizeDefault(r.Context(), entityID)
	writeJSON(w, http.StatusOK, decision)
}

// Health reports liveness.
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseAmount(raw, currency, field string) (money.Money, error) {
	if raw == "" {
		return money.Money{}, errors.InvalidInput(field, "required")
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return money.Money{}, errors.InvalidInput(field, "not a valid decimal amount")
	}
	if currency == "" {
		return money.Money{}, errors.InvalidInput("currency", "required")
	}
	return money.New(amount, currency)
}

func parseDate(raw, field string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, errors.InvalidInput(field, "expected RFC 3339 timestamp or YYYY-MM-DD date")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.CodeOf(err) {
	case errors.ErrCodeValidation:
		status = http.StatusBadRequest
	case errors.ErrCodeNotFound:
		status = http.StatusNotFound
	case errors.ErrCodeConflict, errors.ErrCodeInvariant:
		status = http.StatusConflict
	case errors.ErrCodeUnauthorized:
		status = http.StatusForbidden
	case errors.ErrCodeTimeout:
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{
		"code":    string(errors.CodeOf(err)),
		"message": err.Error(),
	})
}
