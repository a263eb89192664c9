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

// SettlementSink is notified after settled funds land on a tranche.
// Implemented by the invoice reconciler.
type SettlementSink interface {
	OnTrancheSettled(ctx context.Context, trancheID string, amount money.Money) error
}

// TrancheLedgerService is the pledge/settlement engine. It owns every
// mutation of pledged_amount and funded_amount; status flips ride along
// through the shared state machine so capacity checks and updates stay
// atomic under the per-tranche lock.
type TrancheLedgerService struct {
	tranches TrancheStore
	pledges  PledgeStore
	locks    *lockmgr.Manager
	policy   config.PolicyConfig
	features config.FeatureFlags
	audit    Auditor
	events   LifecycleEvents
	sink     SettlementSink
	log      *logger.Logger
	now      func() time.Time
}

// NewTrancheLedgerService creates the ledger.
func NewTrancheLedgerService(
	tranches TrancheStore,
	pledges PledgeStore,
	locks *lockmgr.Manager,
	policy config.PolicyConfig,
	features config.FeatureFlags,
	audit Auditor,
	events LifecycleEvents,
	sink SettlementSink,
	log *logger.Logger,
) *TrancheLedgerService {
	return &TrancheLedgerService{
		tranches: tranches,
		pledges:  pledges,
		locks:    locks,
		policy:   policy,
		features: features,
		audit:    audit,
		events:   events,
		sink:     sink,
		log:      log,
		now:      time.Now,
	}
}

// PledgeResult reports what the ledger accepted.
type PledgeResult struct {
	Pledge         *repository.Pledge
	AcceptedAmount money.Money
	// Capped is true when the partial-fill policy trimmed the pledge to
	// the remaining headroom.
	Capped        bool
	TargetReached bool
	TrancheStatus repository.TrancheStatus
}

// SubmitPledge commits an investor amount toward a tranche's target.
// Never partially applied: the pledge row and the tranche's amounts and
// status land in one transaction, serialized per tranche.
func (s *TrancheLedgerService) SubmitPledge(ctx context.Context, trancheID, investorID string, amount money.Money) (*PledgeResult, error) {
	if !s.features.EnableFinancing {
		return nil, errors.New(errors.ErrCodeConflict, "invoice financing is disabled")
	}
	if !amount.IsPositive() {
		return nil, errors.InvalidInput("amount", "pledge amount must be positive")
	}
	if investorID == "" {
		return nil, errors.InvalidInput("investor_id", "required")
	}

	release, err := s.locks.Acquire(ctx, trancheID)
	if err != nil {
		return nil, err
	}
	defer release()

	t, err := s.tranches.GetByID(ctx, trancheID)
	if err != nil {
		return nil, err
	}

	if !t.Status.AcceptsFunds() {
		return nil, errors.Newf(errors.ErrCodeConflict,
			"TrancheNotAcceptingFunds: tranche %s is %s", t.TrancheNumber, t.Status)
	}
	if t.DeadlinePassed(s.now()) {
		return nil, errors.Newf(errors.ErrCodeConflict,
			"TrancheNotAcceptingFunds: funding deadline for %s has passed", t.TrancheNumber)
	}
	if amount.Currency != t.Currency {
		return nil, errors.InvalidInput("amount", "currency does not match tranche")
	}
	if err := s.checkInvestmentBounds(t, amount); err != nil {
		return nil, err
	}

	headroom, err := t.Headroom()
	if err != nil {
		return nil, err
	}

	accepted := amount
	capped := false
	overflow, err := amount.Cmp(headroom)
	if err != nil {
		return nil, err
	}
	if overflow > 0 {
		switch s.policy.Oversubscription {
		case config.PolicyPartialFill:
			accepted = headroom
			capped = true
		default:
			return nil, errors.Newf(errors.ErrCodeInvariant,
				"TrancheOverfunded: pledge %s exceeds remaining headroom %s", amount, headroom)
		}
	}
	if !accepted.IsPositive() {
		return nil, errors.New(errors.ErrCodeConflict, "TrancheNotAcceptingFunds: no headroom remains")
	}

	expectedPledged := t.PledgedAmount.Amount
	if t.PledgedAmount, err = t.PledgedAmount.Add(accepted); err != nil {
		return nil, err
	}
	targetReached, err := applyFundingProgress(t)
	if err != nil {
		return nil, err
	}

	pledge := &repository.Pledge{
		TrancheID:  t.ID,
		InvestorID: investorID,
		Amount:     accepted,
		Status:     repository.PledgeStatusPending,
		PledgedAt:  s.now(),
	}
	if err := s.tranches.ApplyPledge(ctx, t, expectedPledged, pledge); err != nil {
		return nil, err
	}

	s.audit.Publish(ctx, client.AuditEvent{
		ActorID:      investorID,
		ActorType:    "user",
		Action:       "pledge_submitted",
		ResourceType: "tranche",
		ResourceID:   t.ID,
		Result:       "success",
		Details: map[string]any{
			"pledge_id": pledge.ID,
			"amount":    accepted.String(),
			"capped":    capped,
		},
	})

	s.log.Info().
		Str("tranche_id", t.ID).
		Str("tranche_number", t.TrancheNumber).
		Str("investor_id", investorID).
		Str("accepted", accepted.String()).
		Bool("target_reached", targetReached).
		Msg("Pledge accepted")

	if targetReached {
		s.events.Publish(ctx, "ready_to_settle", t.ID, map[string]any{
			"invoice_id":     t.InvoiceID,
			"pledged_amount": t.PledgedAmount.String(),
		})
	}

	return &PledgeResult{
		Pledge:         pledge,
		AcceptedAmount: accepted,
		Capped:         capped,
		TargetReached:  targetReached,
		TrancheStatus:  t.Status,
	}, nil
}

// RevokePledge withdraws a pending pledge. Only honored while the
// tranche still accepts funds; once settlement has begun the request
// fails with AlreadySettling.
func (s *TrancheLedgerService) RevokePledge(ctx context.Context, pledgeID, investorID string) error {
	pledge, err := s.pledges.GetByID(ctx, pledgeID)
	if err != nil {
		return err
	}
	if pledge.InvestorID != investorID {
		return errors.New(errors.ErrCodeUnauthorized, "pledge belongs to another investor")
	}

	release, err := s.locks.Acquire(ctx, pledge.TrancheID)
	if err != nil {
		return err
	}
	defer release()

	// Re-read under the lock; settlement may have started meanwhile.
	pledge, err = s.pledges.GetByID(ctx, pledgeID)
	if err != nil {
		return err
	}
	switch pledge.Status {
	case repository.PledgeStatusSettled:
		return errors.New(errors.ErrCodeConflict, "AlreadySettling: pledge has settled")
	case repository.PledgeStatusRevoked:
		return errors.New(errors.ErrCodeConflict, "pledge already revoked")
	}

	t, err := s.tranches.GetByID(ctx, pledge.TrancheID)
	if err != nil {
		return err
	}
	if !t.Status.AcceptsFunds() {
		return errors.Newf(errors.ErrCodeConflict,
			"AlreadySettling: tranche %s is %s", t.TrancheNumber, t.Status)
	}
	if t.DeadlinePassed(s.now()) {
		return errors.New(errors.ErrCodeConflict, "funding deadline has passed")
	}

	expectedPledged := t.PledgedAmount.Amount
	if t.PledgedAmount, err = t.PledgedAmount.Sub(pledge.Amount); err != nil {
		return err
	}
	if err := s.tranches.ApplyRevoke(ctx, t, expectedPledged, pledge); err != nil {
		return err
	}

	s.audit.Publish(ctx, client.AuditEvent{
		ActorID:      investorID,
		ActorType:    "user",
		Action:       "pledge_revoked",
		ResourceType: "tranche",
		ResourceID:   t.ID,
		Result:       "success",
		Details:      map[string]any{"pledge_id": pledge.ID, "amount": pledge.Amount.String()},
	})

	s.log.Info().
		Str("tranche_id", t.ID).
		Str("pledge_id", pledge.ID).
		Str("investor_id", investorID).
		Msg("Pledge revoked")
	return nil
}

// SettlePledges moves pledged funds into funded_amount for the pledges
// the payment rail reports settled. This is the only path that increases
// funded_amount. paymentRef is the rail's settlement reference.
func (s *TrancheLedgerService) SettlePledges(ctx context.Context, trancheID string, settledPledgeIDs []string, paymentRef *string) (money.Money, error) {
	if len(settledPledgeIDs) == 0 {
		return money.Money{}, errors.InvalidInput("pledge_ids", "at least one settled pledge required")
	}

	release, err := s.locks.Acquire(ctx, trancheID)
	if err != nil {
		return money.Money{}, err
	}
	defer release()

	t, err := s.tranches.GetByID(ctx, trancheID)
	if err != nil {
		return money.Money{}, err
	}
	if t.Status != repository.TrancheStatusFunded && !t.Status.AcceptsFunds() {
		return money.Money{}, errors.Newf(errors.ErrCodeConflict,
			"tranche %s cannot settle from status %s", t.TrancheNumber, t.Status)
	}

	all, err := s.pledges.ListByTranche(ctx, trancheID)
	if err != nil {
		return money.Money{}, err
	}
	byID := make(map[string]*repository.Pledge, len(all))
	for _, p := range all {
		byID[p.ID] = p
	}

	settledTotal := money.Zero(t.Currency)
	for _, id := range settledPledgeIDs {
		p, ok := byID[id]
		if !ok {
			return money.Money{}, errors.NotFound("pledge", id)
		}
		if p.Status != repository.PledgeStatusPending {
			return money.Money{}, errors.Newf(errors.ErrCodeConflict,
				"pledge %s is %s, not pending", id, p.Status)
		}
		if settledTotal, err = settledTotal.Add(p.Amount); err != nil {
			return money.Money{}, err
		}
	}

	newFunded, err := t.FundedAmount.Add(settledTotal)
	if err != nil {
		return money.Money{}, err
	}
	if over, err := t.TargetAmount.LessThan(newFunded); err != nil {
		return money.Money{}, err
	} else if over {
		return money.Money{}, errors.Newf(errors.ErrCodeInvariant,
			"FundedExceedsTarget: settlement would take funded to %s over target %s", newFunded, t.TargetAmount)
	}
	if over, err := t.PledgedAmount.LessThan(newFunded); err != nil {
		return money.Money{}, err
	} else if over {
		return money.Money{}, errors.Newf(errors.ErrCodeInvariant,
			"FundedExceedsPledged: settlement would take funded to %s over pledged %s", newFunded, t.PledgedAmount)
	}

	t.FundedAmount = newFunded
	fullyFunded, err := t.FundedAmount.GreaterThanOrEqual(t.TargetAmount)
	if err != nil {
		return money.Money{}, err
	}
	if fullyFunded && t.FundedDate == nil {
		funded := s.now()
		t.FundedDate = &funded
	}

	if err := s.tranches.ApplySettlement(ctx, t, settledPledgeIDs, paymentRef); err != nil {
		return money.Money{}, err
	}

	s.audit.Publish(ctx, client.AuditEvent{
		ActorType:    "system",
		Action:       "pledges_settled",
		ResourceType: "tranche",
		ResourceID:   t.ID,
		Result:       "success",
		Details: map[string]any{
			"settled_amount": settledTotal.String(),
			"funded_amount":  t.FundedAmount.String(),
			"pledge_count":   len(settledPledgeIDs),
		},
	})
	s.events.Publish(ctx, "settled", t.ID, map[string]any{
		"invoice_id":    t.InvoiceID,
		"funded_amount": t.FundedAmount.String(),
	})

	s.log.Info().
		Str("tranche_id", t.ID).
		Str("settled", settledTotal.String()).
		Str("funded_amount", t.FundedAmount.String()).
		Bool("fully_funded", fullyFunded).
		Msg("Pledges settled")

	if err := s.sink.OnTrancheSettled(ctx, t.ID, settledTotal); err != nil {
		// The settlement itself is committed; reconciliation recomputes
		// from persisted state on the next event, so log and continue.
		s.log.Warn().Err(err).Str("tranche_id", t.ID).Msg("Invoice reconciliation failed after settlement")
	}
	return settledTotal, nil
}

func (s *TrancheLedgerService) checkInvestmentBounds(t *repository.Tranche, amount money.Money) error {
	if t.MinimumInvestment != nil {
		below, err := amount.LessThan(*t.MinimumInvestment)
		if err != nil {
			return err
		}
		if below {
			return errors.Newf(errors.ErrCodeValidation,
				"amount below minimum investment %s", *t.MinimumInvestment)
		}
	}
	if t.MaximumInvestment != nil {
		over, err := t.MaximumInvestment.LessThan(amount)
		if err != nil {
			return err
		}
		if over {
			return errors.Newf(errors.ErrCodeValidation,
				"amount above maximum investment %s", *t.MaximumInvestment)
		}
	}
	return nil
}
