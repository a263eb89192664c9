package repository

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/commons-ledger/be-tranche-core/internal/extension"
	"github.com/commons-ledger/be-tranche-core/internal/money"
)

// ── Status enums ─────────────────────────────────────────────────────────────

// InvoiceStatus is the derived payment status of an invoice.
type InvoiceStatus string

const (
	InvoiceStatusDraft          InvoiceStatus = "draft"
	InvoiceStatusIssued         InvoiceStatus = "issued"
	InvoiceStatusPaymentPending InvoiceStatus = "payment_pending"
	InvoiceStatusPartiallyPaid  InvoiceStatus = "partially_paid"
	InvoiceStatusPaid           InvoiceStatus = "paid"
	InvoiceStatusOverdue        InvoiceStatus = "overdue"
	InvoiceStatusCancelled      InvoiceStatus = "cancelled"
)

// TrancheStatus is the lifecycle state of a financing tranche. All
// transition logic lives in the lifecycle service; nothing else flips
// these values.
type TrancheStatus string

const (
	TrancheStatusOpen      TrancheStatus = "open"
	TrancheStatusFunding   TrancheStatus = "funding"
	TrancheStatusFunded    TrancheStatus = "funded"
	TrancheStatusActive    TrancheStatus = "active"
	TrancheStatusRepaying  TrancheStatus = "repaying"
	TrancheStatusCompleted TrancheStatus = "completed"
	TrancheStatusDefaulted TrancheStatus = "defaulted"
	TrancheStatusCancelled TrancheStatus = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s TrancheStatus) IsTerminal() bool {
	switch s {
	case TrancheStatusCompleted, TrancheStatusDefaulted, TrancheStatusCancelled:
		return true
	}
	return false
}

// AcceptsFunds reports whether pledges may still be submitted.
func (s TrancheStatus) AcceptsFunds() bool {
	return s == TrancheStatusOpen || s == TrancheStatusFunding
}

// PledgeStatus tracks a pledge from commitment to settlement.
type PledgeStatus string

const (
	PledgeStatusPending PledgeStatus = "pending"
	PledgeStatusSettled PledgeStatus = "settled"
	PledgeStatusRevoked PledgeStatus = "revoked"
)

// ── Records ──────────────────────────────────────────────────────────────────

// Invoice is a receivable owed by a customer to an organization.
// Cancellation is a status flip; invoices are never physically deleted.
type Invoice struct {
	ID            string
	OrgID         string
	CustomerID    string
	CreatorID     string
	InvoiceNumber string

	Amount      money.Money // net of tax
	TaxAmount   money.Money
	TotalAmount money.Money
	AmountPaid  money.Money
	Currency    string

	IssuedDate  time.Time
	DueDate     time.Time
	PaymentDate *time.Time

	Status      InvoiceStatus
	Description *string
	Notes       *string

	OCRExtracted  bool
	OCRConfidence *decimal.Decimal
	FileURL       *string
	FileHash      *string

	Metadata  *extension.Map
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Outstanding is the financeable remainder: total_amount − amount_paid.
func (i *Invoice) Outstanding() (money.Money, error) {
	return i.TotalAmount.Sub(i.AmountPaid)
}

// Tranche is a fractional financing claim against exactly one invoice.
// Amounts are mutated only through the ledger service, status only
// through the lifecycle service.
type Tranche struct {
	ID            string
	InvoiceID     string
	TrancheNumber string

	ShareAmount   money.Money // face value of the slice
	Price         money.Money // purchase price, may embed a discount
	TargetAmount  money.Money // funding goal, ≤ share_amount
	PledgedAmount money.Money
	FundedAmount  money.Money
	Currency      string

	ExpectedReturn   money.Money
	ActualReturn     money.Money
	ReturnPercentage *decimal.Decimal

	RiskBand  *string // snapshot at open time
	RiskScore *decimal.Decimal

	Status TrancheStatus

	OpenDate        time.Time
	FundingDeadline *time.Time
	FundedDate      *time.Time
	MaturityDate    *time.Time
	ClosedDate      *time.Time

	Terms             *string
	MinimumInvestment *money.Money
	MaximumInvestment *money.Money

	Metadata  *extension.Map
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Headroom is the unpledged remainder: target_amount − pledged_amount.
func (t *Tranche) Headroom() (money.Money, error) {
	return t.TargetAmount.Sub(t.PledgedAmount)
}

// DeadlinePassed reports whether the funding deadline (if any) is behind now.
func (t *Tranche) DeadlinePassed(now time.Time) bool {
	return t.FundingDeadline != nil && now.After(*t.FundingDeadline)
}

// Pledge is one investor's commitment toward a tranche's target. Immutable
// once settled; revocable only while the tranche still accepts funds.
type Pledge struct {
	ID         string
	TrancheID  string
	InvestorID string
	Amount     money.Money
	Status     PledgeStatus
	PledgedAt  time.Time
	SettledAt  *time.Time
	RevokedAt  *time.Time
	// PaymentRef is the external payment-rail reference recorded at
	// settlement time; the core never moves funds itself.
	PaymentRef *string
}

// Settled reports whether the pledge's funds have been settled.
func (p *Pledge) Settled() bool { return p.Status == PledgeStatusSettled }

// Attestation is agent-submitted, signed proof tied to one invoice. The
// core only ever writes the verification fields.
type Attestation struct {
	ID        string
	InvoiceID string
	AgentID   string

	AttestationType string // inspection, delivery, payment_proof, ...

	MediaURL *string
	FileHash string // SHA-256 of the attested payload
	IPFSHash *string

	Signature          string
	SignatureAlgorithm string
	PublicKeyID        *string

	// Geolocation context, stored opaque and never interpreted here.
	Latitude         *string
	Longitude        *string
	LocationAccuracy *int

	DeviceTimestamp *time.Time
	Notes           *string
	Metadata        *extension.Map

	IsVerified bool
	VerifiedBy *string
	VerifiedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ScoreCache is a cached, versioned credit score produced by the external
// scoring subsystem. Read-only for this service.
type ScoreCache struct {
	ID         string
	EntityID   string
	EntityType string // organization, user, customer

	Score      decimal.Decimal // 0–100
	ScoreBand  *string         // A, B, C, D, ...
	Confidence *decimal.Decimal

	ModelVersion string
	ModelType    string

	Features    json.RawMessage
	SHAPValues  json.RawMessage
	TopFeatures json.RawMessage

	ValidUntil *time.Time
	IsValid    bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Usable reports whether the score may gate a transition at the given
// instant. Stale or explicitly invalidated scores never gate anything.
func (s *ScoreCache) Usable(now time.Time) bool {
	if !s.IsValid {
		return false
	}
	if s.ValidUntil != nil && !now.Before(*s.ValidUntil) {
		return false
	}
	return true
}
