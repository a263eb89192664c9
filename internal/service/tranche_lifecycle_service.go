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

// ReconcilerSink receives lifecycle notifications that change what the
// owning invoice is owed. Implemented by the invoice reconciler.
type ReconcilerSink interface {
	OnTrancheFunded(ctx context.Context, trancheID string) error
	OnTrancheDefaulted(ctx context.Context, trancheID string) error
	OnRepayment(ctx context.Context, trancheID string, amount money.Money) error
}

// TransitionResult reports a transition attempt. A gate denial is a
// normal outcome: Applied is false, BlockReason names the failing guard,
// and no error is returned — the attempt becomes retryable as soon as
// the underlying condition changes.
type TransitionResult struct {
	Tranche     *repository.Tranche
	Applied     bool
	BlockReason string
	Attestation *VerificationResult
	Score       *GateDecision
}

// TrancheLifecycleService orchestrates tranche state transitions. Every
// attempt re-derives its guards from current state while holding the
// tranche lock; nothing trusts the caller's view of the world.
type TrancheLifecycleService struct {
	tranches   TrancheStore
	invoices   InvoiceStore
	verifier   *AttestationVerifier
	gate       *ScoreGate
	reconciler ReconcilerSink
	locks      *lockmgr.Manager
	features   config.FeatureFlags
	audit      Auditor
	events     LifecycleEvents
	log        *logger.Logger
	now        func() time.Time
}

// NewTrancheLifecycleService creates the lifecycle orchestrator.
func NewTrancheLifecycleService(
	tranches TrancheStore,
	invoices InvoiceStore,
	verifier *AttestationVerifier,
	gate *ScoreGate,
	reconciler ReconcilerSink,
	locks *lockmgr.Manager,
	features config.FeatureFlags,
	audit Auditor,
	events LifecycleEvents,
	log *logger.Logger,
) *TrancheLifecycleService {
	return &TrancheLifecycleService{
		tranches:   tranches,
		invoices:   invoices,
		verifier:   verifier,
		gate:       gate,
		reconciler: reconciler,
		locks:      locks,
		features:   features,
		audit:      audit,
		events:     events,
		log:        log,
		now:        time.Now,
	}
}

// Transition attempts to move a tranche to target, re-validating the
// edge and its guards under the tranche lock.
func (s *TrancheLifecycleService) Transition(ctx context.Context, trancheID string, target repository.TrancheStatus, actorID string) (*TransitionResult, error) {
	release, err := s.locks.Acquire(ctx, trancheID)
	if err != nil {
		return nil, err
	}
	defer release()

	t, err := s.tranches.GetByID(ctx, trancheID)
	if err != nil {
		return nil, err
	}

	if t.Status == target {
		// Retried event; nothing to do.
		return &TransitionResult{Tranche: t, Applied: false, BlockReason: "AlreadyInState"}, nil
	}
	if !canTransition(t.Status, target) {
		return nil, errors.Newf(errors.ErrCodeConflict,
			"illegal transition %s → %s for tranche %s", t.Status, target, t.TrancheNumber)
	}

	var result *TransitionResult
	switch target {
	case repository.TrancheStatusFunding:
		return nil, errors.New(errors.ErrCodeConflict,
			"funding is entered by the first accepted pledge, not by request")
	case repository.TrancheStatusFunded:
		result, err = s.toFunded(t)
	case repository.TrancheStatusActive:
		result, err = s.toActive(ctx, t)
	case repository.TrancheStatusRepaying:
		result = &TransitionResult{Tranche: t, Applied: true}
	case repository.TrancheStatusCompleted:
		result, err = s.toCompleted(t)
	case repository.TrancheStatusCancelled:
		result, err = s.toCancelled(t)
	case repository.TrancheStatusDefaulted:
		result, err = s.toDefaulted(t)
	default:
		return nil, errors.InvalidInput("target", "unknown tranche status")
	}
	if err != nil {
		return nil, err
	}

	from := t.Status
	outcome := "denied"
	if result.Applied {
		t.Status = target
		outcome = "success"
		if err := s.tranches.ApplyTransition(ctx, t); err != nil {
			return nil, err
		}
	}

	s.audit.Publish(ctx, client.AuditEvent{
		ActorID:      actorID,
		ActorType:    actorType(actorID),
		Action:       "tranche_transition",
		ResourceType: "tranche",
		ResourceID:   t.ID,
		Result:       outcome,
		Reason:       result.BlockReason,
		Details: map[string]any{
			"from": string(from),
			"to":   string(target),
		},
	})

	if result.Applied {
		s.events.Publish(ctx, string(target), t.ID, map[string]any{"invoice_id": t.InvoiceID})
		s.log.Info().
			Str("tranche_id", t.ID).
			Str("from", string(from)).
			Str("to", string(target)).
			Msg("Tranche transitioned")

		switch target {
		case repository.TrancheStatusActive:
			if err := s.reconciler.OnTrancheFunded(ctx, t.ID); err != nil {
				s.log.Warn().Err(err).Str("tranche_id", t.ID).Msg("Invoice reconciliation failed after activation")
			}
		case repository.TrancheStatusDefaulted:
			if err := s.reconciler.OnTrancheDefaulted(ctx, t.ID); err != nil {
				s.log.Warn().Err(err).Str("tranche_id", t.ID).Msg("Loss recognition failed after default")
			}
		}
	} else {
		s.log.Info().
			Str("tranche_id", t.ID).
			Str("target", string(target)).
			Str("block_reason", result.BlockReason).
			Msg("Tranche transition blocked")
	}

	return result, nil
}

// toFunded re-derives the funding-complete condition instead of trusting
// the caller: pledged_amount must have reached the target before the
// deadline.
func (s *TrancheLifecycleService) toFunded(t *repository.Tranche) (*TransitionResult, error) {
	reached, err := t.PledgedAmount.GreaterThanOrEqual(t.TargetAmount)
	if err != nil {
		return nil, err
	}
	if !reached {
		return nil, errors.Newf(errors.ErrCodeInvariant,
			"TargetNotReached: pledged %s below target %s", t.PledgedAmount, t.TargetAmount)
	}
	if t.DeadlinePassed(s.now()) {
		return nil, errors.New(errors.ErrCodeConflict, "funding deadline has passed")
	}
	return &TransitionResult{Tranche: t, Applied: true}, nil
}

// toActive evaluates the activation guards in order: capacity, then
// attestation, then credit score. Both gates run fresh on every attempt;
// the first failure is the reported block reason and the tranche stays
// funded.
func (s *TrancheLifecycleService) toActive(ctx context.Context, t *repository.Tranche) (*TransitionResult, error) {
	settled, err := t.FundedAmount.GreaterThanOrEqual(t.TargetAmount)
	if err != nil {
		return nil, err
	}
	if !settled {
		return &TransitionResult{Tranche: t, BlockReason: "NotFullySettled"}, nil
	}

	inv, err := s.invoices.GetByID(ctx, t.InvoiceID)
	if err != nil {
		return nil, err
	}

	result := &TransitionResult{Tranche: t}

	if s.features.EnableAttestations {
		att := s.verifier.VerifyLatestForInvoice(ctx, t.InvoiceID)
		result.Attestation = &att
		s.publishGateAudit(ctx, t, "attestation_gate", att.Verified, att.Reason)
		if !att.Verified {
			result.BlockReason = att.Reason
			return result, nil
		}
	} else {
		s.publishGateAudit(ctx, t, "attestation_gate", true, GateReasonGateDisabled)
	}

	if s.features.EnableCreditScoring {
		decision := s.gate.AuthorizeDefault(ctx, inv.OrgID)
		result.Score = &decision
		s.publishGateAudit(ctx, t, "score_gate", decision.Allow, decision.Reason)
		if !decision.Allow {
			result.BlockReason = decision.Reason
			return result, nil
		}
	} else {
		s.publishGateAudit(ctx, t, "score_gate", true, GateReasonGateDisabled)
	}

	result.Applied = true
	return result, nil
}

// toCompleted requires the funded principal to be fully repaid.
func (s *TrancheLifecycleService) toCompleted(t *repository.Tranche) (*TransitionResult, error) {
	repaid, err := t.ActualReturn.GreaterThanOrEqual(t.FundedAmount)
	if err != nil {
		return nil, err
	}
	if !repaid {
		return nil, errors.Newf(errors.ErrCodeInvariant,
			"RepaymentIncomplete: returned %s of funded %s", t.ActualReturn, t.FundedAmount)
	}
	stampClosed(t, s.now())
	return &TransitionResult{Tranche: t, Applied: true}, nil
}

// toDefaulted re-derives the default conditions instead of trusting the
// caller: repayment must actually be short, and a set maturity date must
// have passed. A healthy tranche cannot be pushed into loss recognition.
func (s *TrancheLifecycleService) toDefaulted(t *repository.Tranche) (*TransitionResult, error) {
	repaid, err := t.ActualReturn.GreaterThanOrEqual(t.FundedAmount)
	if err != nil {
		return nil, err
	}
	if repaid && !t.FundedAmount.IsZero() {
		return nil, errors.Newf(errors.ErrCodeInvariant,
			"TrancheFullyRepaid: returned %s of funded %s; close via completed", t.ActualReturn, t.FundedAmount)
	}
	if t.MaturityDate != nil && s.now().Before(*t.MaturityDate) {
		return &TransitionResult{Tranche: t, BlockReason: "MaturityNotReached"}, nil
	}
	stampClosed(t, s.now())
	return &TransitionResult{Tranche: t, Applied: true}, nil
}

// toCancelled refuses to cancel a tranche already holding settled
// investor funds; unwinding those requires the defaulted flow.
func (s *TrancheLifecycleService) toCancelled(t *repository.Tranche) (*TransitionResult, error) {
	if !t.FundedAmount.IsZero() {
		return nil, errors.Newf(errors.ErrCodeInvariant,
			"TrancheHoldsFunds: cannot cancel with %s settled; wind down via default", t.FundedAmount)
	}
	stampClosed(t, s.now())
	return &TransitionResult{Tranche: t, Applied: true}, nil
}

// RecordRepayment applies a repayment signal from the payment rail. The
// first repayment moves an active tranche to repaying; full repayment of
// the funded principal completes it.
func (s *TrancheLifecycleService) RecordRepayment(ctx context.Context, trancheID string, amount money.Money) (*repository.Tranche, error) {
	if !amount.IsPositive() {
		return nil, errors.InvalidInput("amount", "repayment amount must be positive")
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

	switch t.Status {
	case repository.TrancheStatusActive:
		t.Status = repository.TrancheStatusRepaying
	case repository.TrancheStatusRepaying:
	default:
		return nil, errors.Newf(errors.ErrCodeConflict,
			"tranche %s cannot accept repayments while %s", t.TrancheNumber, t.Status)
	}

	if t.ActualReturn, err = t.ActualReturn.Add(amount); err != nil {
		return nil, err
	}

	completed, err := t.ActualReturn.GreaterThanOrEqual(t.FundedAmount)
	if err != nil {
		return nil, err
	}
	if completed {
		t.Status = repository.TrancheStatusCompleted
		stampClosed(t, s.now())
	}

	if err := s.tranches.ApplyTransition(ctx, t); err != nil {
		return nil, err
	}

	s.audit.Publish(ctx, client.AuditEvent{
		ActorType:    "system",
		Action:       "repayment_recorded",
		ResourceType: "tranche",
		ResourceID:   t.ID,
		Result:       "success",
		Details: map[string]any{
			"amount":        amount.String(),
			"actual_return": t.ActualReturn.String(),
			"status":        string(t.Status),
		},
	})
	s.events.Publish(ctx, string(t.Status), t.ID, map[string]any{"invoice_id": t.InvoiceID})

	s.log.Info().
		Str("tranche_id", t.ID).
		Str("amount", amount.String()).
		Str("status", string(t.Status)).
		Msg("Repayment recorded")

	if err := s.reconciler.OnRepayment(ctx, t.ID, amount); err != nil {
		s.log.Warn().Err(err).Str("tranche_id", t.ID).Msg("Invoice reconciliation failed after repayment")
	}
	return t, nil
}

func (s *TrancheLifecycleService) publishGateAudit(ctx context.Context, t *repository.Tranche, gate string, allowed bool, reason string) {
	outcome := "denied"
	if allowed {
		outcome = "success"
	}
	s.audit.Publish(ctx, client.AuditEvent{
		ActorType:    "system",
		Action:       gate,
		ResourceType: "tranche",
		ResourceID:   t.ID,
		Result:       outcome,
		Reason:       reason,
		Details:      map[string]any{"invoice_id": t.InvoiceID},
	})
}

func actorType(actorID string) string {
	if actorID == "" {
		return "system"
	}
	return "user"
}
