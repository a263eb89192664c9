package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/commons-ledger/be-tranche-core/internal/client"
	"github.com/commons-ledger/be-tranche-core/internal/repository"
)

// Store interfaces mirror the pgx repositories so the funding logic can
// be exercised against in-memory fakes. The concrete repositories in
// internal/repository satisfy them directly.

// InvoiceStore is the invoice persistence surface the core needs.
type InvoiceStore interface {
	Create(ctx context.Context, inv *repository.Invoice) error
	GetByID(ctx context.Context, id string) (*repository.Invoice, error)
	ApplyReconciliation(ctx context.Context, inv *repository.Invoice) error
	UpdateStatus(ctx context.Context, id string, status repository.InvoiceStatus) error
	ListByOrg(ctx context.Context, orgID string, status *repository.InvoiceStatus, limit, offset int) ([]*repository.Invoice, error)
}

// TrancheStore is the tranche persistence surface. The Apply* methods are
// atomic: amounts, status and child pledge rows land together or not at all.
type TrancheStore interface {
	Create(ctx context.Context, t *repository.Tranche) error
	GetByID(ctx context.Context, id string) (*repository.Tranche, error)
	ListByInvoice(ctx context.Context, invoiceID string) ([]*repository.Tranche, error)
	ApplyPledge(ctx context.Context, t *repository.Tranche, expectedPledged decimal.Decimal, p *repository.Pledge) error
	ApplyRevoke(ctx context.Context, t *repository.Tranche, expectedPledged decimal.Decimal, p *repository.Pledge) error
	ApplySettlement(ctx context.Context, t *repository.Tranche, pledgeIDs []string, paymentRef *string) error
	ApplyTransition(ctx context.Context, t *repository.Tranche) error
	SumTargetAmounts(ctx context.Context, invoiceID string, excluding []repository.TrancheStatus) (decimal.Decimal, error)
	SumFundedAmounts(ctx context.Context, invoiceID string) (decimal.Decimal, error)
}

// PledgeStore reads pledge records.
type PledgeStore interface {
	GetByID(ctx context.Context, id string) (*repository.Pledge, error)
	ListByTranche(ctx context.Context, trancheID string) ([]*repository.Pledge, error)
}

// AttestationStore reads attestations and records verification outcomes.
type AttestationStore interface {
	GetByID(ctx context.Context, id string) (*repository.Attestation, error)
	LatestByInvoice(ctx context.Context, invoiceID string) (*repository.Attestation, error)
	MarkVerified(ctx context.Context, id string, verified bool, verifiedBy string) error
}

// ScoreStore reads cached credit scores.
type ScoreStore interface {
	LatestByEntity(ctx context.Context, entityID, entityType string) (*repository.ScoreCache, error)
}

// SignatureChecker is the external cryptographic capability. Any error
// from this boundary is treated as verification failure, never success.
type SignatureChecker interface {
	VerifySignature(ctx context.Context, payload, signature, algorithm, keyID string) (bool, error)
}

// Auditor receives one structured event per state transition and gate
// decision. Implementations must be non-fatal.
type Auditor interface {
	Publish(ctx context.Context, event client.AuditEvent)
}

// LifecycleEvents carries tranche lifecycle signals (ready_to_settle and
// friends) to interested consumers.
type LifecycleEvents interface {
	Publish(ctx context.Context, eventType, trancheID string, payload map[string]any)
}
