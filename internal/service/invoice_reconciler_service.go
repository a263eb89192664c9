package service

import (
	"context"
	"time"

	"github.com/commons-ledger/be-tranche-core/internal/client"
	"github.com/commons-ledger/be-tranche-core/internal/config"
	"github.com/commons-ledger/be-tranche-core/internal/errors"
	"github.com/commons-ledger/be-tranche-core/internal/lockmgr"
	"github.com/commons-ledger/be-tranche-core/internal/logger"
	"github.com/commons-ledger/be-tranche-core/internal/money"
	"github.com/commons-ledger/be-tranche-core/internal/repository"
)

// InvoiceReconcilerService owns invoices and the tranches opened against
// them. It never edits financial fields in place: reconciliation
// recomputes amount_paid and status from the tranche ledger, so running
// it twice is the same as running it once.
type InvoiceReconcilerService struct {
	invoices InvoiceStore
	tranches TrancheStore
	scores   ScoreStore
	locks    *lockmgr.Manager
	policy   config.PolicyConfig
	features config.FeatureFlags
	audit    Auditor
	log      *logger.Logger
	now      func() time.Time
}

// NewInvoiceReconcilerService creates the invoice/tranche owner.
func NewInvoiceReconcilerService(
	invoices InvoiceStore,
	tranches TrancheStore,
	scores ScoreStore,
	locks *lockmgr.Manager,
	policy config.PolicyConfig,
	features config.FeatureFlags,
	audit Auditor,
	log *logger.Logger,
) *InvoiceReconcilerService {
	return &InvoiceReconcilerService{
		invoices: invoices,
		tranches: tranches,
		scores:   scores,
		locks:    locks,
		policy:   policy,
		features: features,
		audit:    audit,
		log:      log,
		now:      time.Now,
	}
}

// CreateInvoice validates and persists a new receivable.
func (s *InvoiceReconcilerService) CreateInvoice(ctx context.Context, inv *repository.Invoice, actorID string) (*repository.Invoice, error) {
	if inv.OrgID == "" {
		return nil, errors.InvalidInput("org_id", "org_id is required")
	}
	if inv.InvoiceNumber == "" {
		return nil, errors.InvalidInput("invoice_number", "invoice_number is required")
	}
	if !inv.TotalAmount.IsPositive() {
		return nil, errors.InvalidInput("total_amount", "total_amount must be positive")
	}
	sum, err := inv.Amount.Add(inv.TaxAmount)
	if err != nil {
		return nil, err
	}
	cmp, err := sum.Cmp(inv.TotalAmount)
	if err != nil {
		return nil, err
	}
	if cmp != 0 {
		return nil, errors.InvalidInput("total_amount", "total_amount must equal amount plus tax_amount")
	}
	if inv.DueDate.Before(inv.IssuedDate) {
		return nil, errors.InvalidInput("due_date", "due_date must not precede issued_date")
	}

	if inv.Status == "" {
		inv.Status = repository.InvoiceStatusDraft
	}
	inv.AmountPaid = money.Zero(inv.Currency)

	if err := s.invoices.Create(ctx, inv); err != nil {
		return nil, err
	}

	s.audit.Publish(ctx, client.AuditEvent{
		ActorID:      actorID,
		ActorType:    actorType(actorID),
		Action:       "invoice_created",
		ResourceType: "invoice",
		ResourceID:   inv.ID,
		OrgID:        inv.OrgID,
		Result:       "success",
		Details: map[string]any{
			"invoice_number": inv.InvoiceNumber,
			"total_amount":   inv.TotalAmount.String(),
		},
	})
	s.log.Info().
		Str("invoice_id", inv.ID).
		Str("org_id", inv.OrgID).
		Msg("Invoice created")
	return inv, nil
}

// OpenTranche creates a financing tranche against an invoice. The
// capacity check runs under the invoice lock: target amounts of all
// non-cancelled tranches, including the new one, must not exceed the
// invoice total.
func (s *InvoiceReconcilerService) OpenTranche(ctx context.Context, t *repository.Tranche, actorID string) (*repository.Tranche, error) {
	if !s.features.EnableFinancing {
		return nil, errors.New(errors.ErrCodeConflict, "invoice financing is disabled")
	}
	if t.InvoiceID == "" {
		return nil, errors.InvalidInput("invoice_id", "invoice_id is required")
	}
	if !t.TargetAmount.IsPositive() {
		return nil, errors.InvalidInput("target_amount", "target_amount must be positive")
	}
	exceedsShare, err := t.ShareAmount.LessThan(t.TargetAmount)
	if err != nil {
		return nil, err
	}
	if exceedsShare {
		return nil, errors.InvalidInput("target_amount", "target_amount cannot exceed share_amount")
	}
	if t.MinimumInvestment != nil && t.MaximumInvestment != nil {
		inverted, err := t.MaximumInvestment.LessThan(*t.MinimumInvestment)
		if err != nil {
			return nil, err
		}
		if inverted {
			return nil, errors.InvalidInput("maximum_investment", "maximum_investment cannot be below minimum_investment")
		}
	}

	release, err := s.locks.Acquire(ctx, invoiceLockKey(t.InvoiceID))
	if err != nil {
		return nil, err
	}
	defer release()

	inv, err := s.invoices.GetByID(ctx, t.InvoiceID)
	if err != nil {
		return nil, err
	}
	switch inv.Status {
	case repository.InvoiceStatusIssued, repository.InvoiceStatusPaymentPending, repository.InvoiceStatusPartiallyPaid, repository.InvoiceStatusOverdue:
	default:
		return nil, errors.Newf(errors.ErrCodeConflict,
			"invoice %s is %s and cannot be financed", inv.InvoiceNumber, inv.Status)
	}
	if t.Currency != inv.Currency {
		return nil, errors.InvalidInput("currency", "tranche currency must match the invoice")
	}

	committed, err := s.tranches.SumTargetAmounts(ctx, inv.ID,
		[]repository.TrancheStatus{repository.TrancheStatusCancelled})
	if err != nil {
		return nil, err
	}
	total := committed.Add(t.TargetAmount.Amount)
	if total.GreaterThan(inv.TotalAmount.Amount) {
		return nil, errors.Newf(errors.ErrCodeInvariant,
			"OverFinancedInvoice: tranche targets %s would exceed invoice total %s",
			total.String(), inv.TotalAmount)
	}

	// Snapshot risk at open time so later score refreshes do not rewrite
	// the terms investors pledged against.
	if score, err := s.scores.LatestByEntity(ctx, inv.OrgID, s.policy.ScoreEntityType); err == nil && score != nil {
		t.RiskScore = &score.Score
		t.RiskBand = score.ScoreBand
	} else if err != nil && !errors.HasCode(err, errors.ErrCodeNotFound) {
		s.log.Warn().Err(err).Str("org_id", inv.OrgID).Msg("Risk snapshot unavailable at tranche open")
	}

	t.Status = repository.TrancheStatusOpen
	t.Currency = inv.Currency
	t.PledgedAmount = money.Zero(t.Currency)
	t.FundedAmount = money.Zero(t.Currency)
	t.ActualReturn = money.Zero(t.Currency)
	if t.OpenDate.IsZero() {
		t.OpenDate = s.now()
	}

	if err := s.tranches.Create(ctx, t); err != nil {
		return nil, err
	}

	s.audit.Publish(ctx, client.AuditEvent{
		ActorID:      actorID,
		ActorType:    actorType(actorID),
		Action:       "tranche_opened",
		ResourceType: "tranche",
		ResourceID:   t.ID,
		OrgID:        inv.OrgID,
		Result:       "success",
		Details: map[string]any{
			"invoice_id":    inv.ID,
			"target_amount": t.TargetAmount.String(),
		},
	})
	s.log.Info().
		Str("tranche_id", t.ID).
		Str("invoice_id", inv.ID).
		Str("target_amount", t.TargetAmount.String()).
		Msg("Tranche opened")
	return t, nil
}

// Reconcile recomputes an invoice's amount_paid and status from funded
// tranche amounts. It is a pure recompute over current ledger state, so
// replays and out-of-order notifications converge on the same result.
func (s *InvoiceReconcilerService) Reconcile(ctx context.Context, invoiceID string) (*repository.Invoice, error) {
	release, err := s.locks.Acquire(ctx, invoiceLockKey(invoiceID))
	if err != nil {
		return nil, err
	}
	defer release()

	inv, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	funded, err := s.tranches.SumFundedAmounts(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	paid := money.Money{Amount: funded, Currency: inv.Currency}
	status, paymentDate := deriveInvoiceStatus(inv, paid, s.now())

	if inv.Status == status && inv.AmountPaid.Amount.Equal(paid.Amount) {
		return inv, nil
	}

	prev := inv.Status
	inv.AmountPaid = paid
	inv.Status = status
	inv.PaymentDate = paymentDate

	if err := s.invoices.ApplyReconciliation(ctx, inv); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("invoice_id", inv.ID).
		Str("amount_paid", paid.String()).
		Str("from", string(prev)).
		Str("to", string(status)).
		Msg("Invoice reconciled")
	return inv, nil
}

// deriveInvoiceStatus maps the paid total onto a payment status. Draft
// and cancelled invoices are left alone; they are not in the payment
// flow.
func deriveInvoiceStatus(inv *repository.Invoice, paid money.Money, now time.Time) (repository.InvoiceStatus, *time.Time) {
	if inv.Status == repository.InvoiceStatusDraft || inv.Status == repository.InvoiceStatusCancelled {
		return inv.Status, inv.PaymentDate
	}
	switch {
	case paid.Amount.GreaterThanOrEqual(inv.TotalAmount.Amount):
		if inv.PaymentDate != nil {
			return repository.InvoiceStatusPaid, inv.PaymentDate
		}
		return repository.InvoiceStatusPaid, &now
	case paid.Amount.IsPositive():
		return repository.InvoiceStatusPartiallyPaid, nil
	case now.After(inv.DueDate):
		return repository.InvoiceStatusOverdue, nil
	default:
		return inv.Status, nil
	}
}

// ── Ledger and lifecycle notification hooks ──────────────────────────────────

// OnTrancheSettled reruns reconciliation after pledges settle into a
// tranche.
func (s *InvoiceReconcilerService) OnTrancheSettled(ctx context.Context, trancheID string, amount money.Money) error {
	return s.reconcileByTranche(ctx, trancheID)
}

// OnTrancheFunded reruns reconciliation after a tranche activates.
func (s *InvoiceReconcilerService) OnTrancheFunded(ctx context.Context, trancheID string) error {
	return s.reconcileByTranche(ctx, trancheID)
}

// OnTrancheDefaulted recognizes the loss: the defaulted tranche's funded
// amount drops out of the reconciliation sum.
func (s *InvoiceReconcilerService) OnTrancheDefaulted(ctx context.Context, trancheID string) error {
	return s.reconcileByTranche(ctx, trancheID)
}

// OnRepayment reruns reconciliation after the customer pays down the
// receivable.
func (s *InvoiceReconcilerService) OnRepayment(ctx context.Context, trancheID string, amount money.Money) error {
	return s.reconcileByTranche(ctx, trancheID)
}

func (s *InvoiceReconcilerService) reconcileByTranche(ctx context.Context, trancheID string) error {
	t, err := s.tranches.GetByID(ctx, trancheID)
	if err != nil {
		return err
	}
	_, err = s.Reconcile(ctx, t.InvoiceID)
	return err
}

// CancelInvoice withdraws a receivable from the payment flow. Refused
// while any tranche still carries pledged or settled funds; invoices are
// never physically deleted.
func (s *InvoiceReconcilerService) CancelInvoice(ctx context.Context, invoiceID, actorID string) error {
	release, err := s.locks.Acquire(ctx, invoiceLockKey(invoiceID))
	if err != nil {
		return err
	}
	defer release()

	inv, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return err
	}
	switch inv.Status {
	case repository.InvoiceStatusCancelled:
		return errors.New(errors.ErrCodeConflict, "invoice already cancelled")
	case repository.InvoiceStatusPaid:
		return errors.New(errors.ErrCodeConflict, "paid invoices cannot be cancelled")
	}

	tranches, err := s.tranches.ListByInvoice(ctx, invoiceID)
	if err != nil {
		return err
	}
	for _, t := range tranches {
		if t.Status.IsTerminal() {
			continue
		}
		if t.PledgedAmount.IsPositive() || t.FundedAmount.IsPositive() {
			return errors.Newf(errors.ErrCodeConflict,
				"tranche %s still holds investor commitments", t.TrancheNumber)
		}
	}

	if err := s.invoices.UpdateStatus(ctx, invoiceID, repository.InvoiceStatusCancelled); err != nil {
		return err
	}

	s.audit.Publish(ctx, client.AuditEvent{
		ActorID:      actorID,
		ActorType:    actorType(actorID),
		Action:       "invoice_cancelled",
		ResourceType: "invoice",
		ResourceID:   invoiceID,
		OrgID:        inv.OrgID,
		Result:       "success",
	})
	s.log.Info().Str("invoice_id", invoiceID).Msg("Invoice cancelled")
	return nil
}

// GetInvoice returns one invoice.
func (s *InvoiceReconcilerService) GetInvoice(ctx context.Context, id string) (*repository.Invoice, error) {
	return s.invoices.GetByID(ctx, id)
}

// ListInvoices returns an organization's invoices, optionally filtered
// by status.
func (s *InvoiceReconcilerService) ListInvoices(ctx context.Context, orgID string, status *repository.InvoiceStatus, limit, offset int) ([]*repository.Invoice, error) {
	if orgID == "" {
		return nil, errors.InvalidInput("org_id", "required")
	}
	if limit < 1 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.invoices.ListByOrg(ctx, orgID, status, limit, offset)
}

// GetTranche returns one tranche.
func (s *InvoiceReconcilerService) GetTranche(ctx context.Context, id string) (*repository.Tranche, error) {
	return s.tranches.GetByID(ctx, id)
}

// ListTranches returns all tranches opened against an invoice.
func (s *InvoiceReconcilerService) ListTranches(ctx context.Context, invoiceID string) ([]*repository.Tranche, error) {
	return s.tranches.ListByInvoice(ctx, invoiceID)
}

// invoiceLockKey namespaces invoice locks away from tranche locks, which
// use the bare tranche ID.
func invoiceLockKey(invoiceID string) string {
	return "invoice:" + invoiceID
}
