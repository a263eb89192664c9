package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/commons-ledger/be-tranche-core/internal/client"
	"github.com/commons-ledger/be-tranche-core/internal/errors"
	"github.com/commons-ledger/be-tranche-core/internal/logger"
	"github.com/commons-ledger/be-tranche-core/internal/money"
	"github.com/commons-ledger/be-tranche-core/internal/repository"
)

// fakeStore is an in-memory stand-in for the pgx repositories. It
// mirrors the real atomicity contract: Apply* methods mutate under one
// mutex and ApplyPledge/ApplyRevoke enforce the optimistic
// expected-amount guard the SQL UPDATE carries.
type fakeStore struct {
	mu       sync.Mutex
	seq      int
	invoices map[string]*repository.Invoice
	tranches map[string]*repository.Tranche
	pledges  map[string]*repository.Pledge

	failNext error // returned by the next mutating call, then cleared
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		invoices: make(map[string]*repository.Invoice),
		tranches: make(map[string]*repository.Tranche),
		pledges:  make(map[string]*repository.Pledge),
	}
}

func (f *fakeStore) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *fakeStore) takeFailure() error {
	err := f.failNext
	f.failNext = nil
	return err
}

// ── InvoiceStore ─────────────────────────────────────────────────────────────

func (f *fakeStore) Create(ctx context.Context, inv *repository.Invoice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return err
	}
	if inv.ID == "" {
		inv.ID = f.nextID("inv")
	}
	cp := *inv
	f.invoices[inv.ID] = &cp
	return nil
}

func (f *fakeStore) GetByID(ctx context.Context, id string) (*repository.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invoices[id]
	if !ok {
		return nil, errors.NotFound("invoice", id)
	}
	cp := *inv
	return &cp, nil
}

func (f *fakeStore) ApplyReconciliation(ctx context.Context, inv *repository.Invoice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return err
	}
	if _, ok := f.invoices[inv.ID]; !ok {
		return errors.NotFound("invoice", inv.ID)
	}
	cp := *inv
	f.invoices[inv.ID] = &cp
	return nil
}

func (f *fakeStore) UpdateStatus(ctx context.Context, id string, status repository.InvoiceStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return err
	}
	inv, ok := f.invoices[id]
	if !ok {
		return errors.NotFound("invoice", id)
	}
	inv.Status = status
	return nil
}

func (f *fakeStore) ListByOrg(ctx context.Context, orgID string, status *repository.InvoiceStatus, limit, offset int) ([]*repository.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return nil, err
	}
	var out []*repository.Invoice
	for _, inv := range f.invoices {
		if inv.OrgID != orgID {
			continue
		}
		if status != nil && inv.Status != *status {
			continue
		}
		cp := *inv
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// ── TrancheStore ─────────────────────────────────────────────────────────────

// trancheStore adapts fakeStore to the TrancheStore interface; the
// method set collides with InvoiceStore's otherwise (Create, GetByID).
type trancheStore struct{ *fakeStore }

func (f trancheStore) Create(ctx context.Context, t *repository.Tranche) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = f.nextID("tr")
	}
	cp := *t
	f.tranches[t.ID] = &cp
	return nil
}

func (f trancheStore) GetByID(ctx context.Context, id string) (*repository.Tranche, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tranches[id]
	if !ok {
		return nil, errors.NotFound("tranche", id)
	}
	cp := *t
	return &cp, nil
}

func (f trancheStore) ListByInvoice(ctx context.Context, invoiceID string) ([]*repository.Tranche, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.Tranche
	for _, t := range f.tranches {
		if t.InvoiceID == invoiceID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f trancheStore) ApplyPledge(ctx context.Context, t *repository.Tranche, expectedPledged decimal.Decimal, p *repository.Pledge) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return err
	}
	stored, ok := f.tranches[t.ID]
	if !ok {
		return errors.NotFound("tranche", t.ID)
	}
	if !stored.PledgedAmount.Amount.Equal(expectedPledged) {
		return errors.New(errors.ErrCodeConflict, "tranche amounts changed concurrently")
	}
	if p.ID == "" {
		p.ID = f.nextID("plg")
	}
	tcp := *t
	pcp := *p
	f.tranches[t.ID] = &tcp
	f.pledges[p.ID] = &pcp
	return nil
}

func (f trancheStore) ApplyRevoke(ctx context.Context, t *repository.Tranche, expectedPledged decimal.Decimal, p *repository.Pledge) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return err
	}
	stored, ok := f.tranches[t.ID]
	if !ok {
		return errors.NotFound("tranche", t.ID)
	}
	if !stored.PledgedAmount.Amount.Equal(expectedPledged) {
		return errors.New(errors.ErrCodeConflict, "tranche amounts changed concurrently")
	}
	tcp := *t
	f.tranches[t.ID] = &tcp
	if sp, ok := f.pledges[p.ID]; ok {
		sp.Status = repository.PledgeStatusRevoked
		now := time.Now()
		sp.RevokedAt = &now
	}
	return nil
}

func (f trancheStore) ApplySettlement(ctx context.Context, t *repository.Tranche, pledgeIDs []string, paymentRef *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return err
	}
	if _, ok := f.tranches[t.ID]; !ok {
		return errors.NotFound("tranche", t.ID)
	}
	tcp := *t
	f.tranches[t.ID] = &tcp
	now := time.Now()
	for _, id := range pledgeIDs {
		p, ok := f.pledges[id]
		if !ok || p.Status != repository.PledgeStatusPending {
			return errors.New(errors.ErrCodeConflict, "pledge no longer pending")
		}
		p.Status = repository.PledgeStatusSettled
		p.SettledAt = &now
		p.PaymentRef = paymentRef
	}
	return nil
}

func (f trancheStore) ApplyTransition(ctx context.Context, t *repository.Tranche) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return err
	}
	if _, ok := f.tranches[t.ID]; !ok {
		return errors.NotFound("tranche", t.ID)
	}
	cp := *t
	f.tranches[t.ID] = &cp
	return nil
}

func (f trancheStore) SumTargetAmounts(ctx context.Context, invoiceID string, excluding []repository.TrancheStatus) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	skip := make(map[repository.TrancheStatus]bool, len(excluding))
	for _, s := range excluding {
		skip[s] = true
	}
	sum := decimal.Zero
	for _, t := range f.tranches {
		if t.InvoiceID == invoiceID && !skip[t.Status] {
			sum = sum.Add(t.TargetAmount.Amount)
		}
	}
	return sum, nil
}

func (f trancheStore) SumFundedAmounts(ctx context.Context, invoiceID string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sum := decimal.Zero
	for _, t := range f.tranches {
		if t.InvoiceID != invoiceID {
			continue
		}
		if t.Status == repository.TrancheStatusCancelled || t.Status == repository.TrancheStatusDefaulted {
			continue
		}
		sum = sum.Add(t.FundedAmount.Amount)
	}
	return sum, nil
}

// ── PledgeStore ──────────────────────────────────────────────────────────────

type pledgeStore struct{ *fakeStore }

func (f pledgeStore) GetByID(ctx context.Context, id string) (*repository.Pledge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pledges[id]
	if !ok {
		return nil, errors.NotFound("pledge", id)
	}
	cp := *p
	return &cp, nil
}

func (f pledgeStore) ListByTranche(ctx context.Context, trancheID string) ([]*repository.Pledge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.Pledge
	for _, p := range f.pledges {
		if p.TrancheID == trancheID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ── AttestationStore ─────────────────────────────────────────────────────────

type fakeAttestationStore struct {
	mu       sync.Mutex
	byID     map[string]*repository.Attestation
	latest   map[string]*repository.Attestation // invoiceID → newest
	verified []string
}

func newFakeAttestationStore() *fakeAttestationStore {
	return &fakeAttestationStore{
		byID:   make(map[string]*repository.Attestation),
		latest: make(map[string]*repository.Attestation),
	}
}

func (f *fakeAttestationStore) put(att *repository.Attestation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[att.ID] = att
	f.latest[att.InvoiceID] = att
}

func (f *fakeAttestationStore) GetByID(ctx context.Context, id string) (*repository.Attestation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	att, ok := f.byID[id]
	if !ok {
		return nil, errors.NotFound("attestation", id)
	}
	cp := *att
	return &cp, nil
}

func (f *fakeAttestationStore) LatestByInvoice(ctx context.Context, invoiceID string) (*repository.Attestation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	att, ok := f.latest[invoiceID]
	if !ok {
		return nil, errors.NotFound("attestation", invoiceID)
	}
	cp := *att
	return &cp, nil
}

func (f *fakeAttestationStore) MarkVerified(ctx context.Context, id string, verified bool, verifiedBy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	att, ok := f.byID[id]
	if !ok {
		return errors.NotFound("attestation", id)
	}
	att.IsVerified = verified
	f.verified = append(f.verified, fmt.Sprintf("%s=%v", id, verified))
	return nil
}

// ── ScoreStore ───────────────────────────────────────────────────────────────

type fakeScoreStore struct {
	score *repository.ScoreCache
	err   error
}

func (f *fakeScoreStore) LatestByEntity(ctx context.Context, entityID, entityType string) (*repository.ScoreCache, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.score == nil {
		return nil, errors.NotFound("score", entityID)
	}
	cp := *f.score
	return &cp, nil
}

// ── Signer, audit, events, sinks ─────────────────────────────────────────────

type fakeSigner struct {
	valid bool
	err   error
	calls int
}

func (f *fakeSigner) VerifySignature(ctx context.Context, payload, signature, algorithm, keyID string) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.valid, nil
}

type fakeAuditor struct {
	mu     sync.Mutex
	events []client.AuditEvent
}

func (f *fakeAuditor) Publish(ctx context.Context, event client.AuditEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeAuditor) byAction(action string) []client.AuditEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []client.AuditEvent
	for _, e := range f.events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

type fakeEvents struct {
	mu        sync.Mutex
	published []string // "<event_type>:<tranche_id>"
}

func (f *fakeEvents) Publish(ctx context.Context, eventType, trancheID string, payload map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, eventType+":"+trancheID)
}

func (f *fakeEvents) has(entry string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.published {
		if e == entry {
			return true
		}
	}
	return false
}

type fakeReconcilerSink struct {
	mu         sync.Mutex
	settled    []string
	funded     []string
	defaulted  []string
	repayments []string
	err        error
}

func (f *fakeReconcilerSink) OnTrancheSettled(ctx context.Context, trancheID string, amount money.Money) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settled = append(f.settled, trancheID)
	return f.err
}

func (f *fakeReconcilerSink) OnTrancheFunded(ctx context.Context, trancheID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.funded = append(f.funded, trancheID)
	return f.err
}

func (f *fakeReconcilerSink) OnTrancheDefaulted(ctx context.Context, trancheID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defaulted = append(f.defaulted, trancheID)
	return f.err
}

func (f *fakeReconcilerSink) OnRepayment(ctx context.Context, trancheID string, amount money.Money) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.repayments = append(f.repayments, trancheID)
	return f.err
}

// ── Shared helpers ───────────────────────────────────────────────────────────

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "disabled", ServiceName: "test"})
}

func mustUSD(s string) money.Money {
	return money.Money{Amount: decimal.RequireFromString(s), Currency: "USD"}
}
