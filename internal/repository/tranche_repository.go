package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/commons-ledger/be-tranche-core/internal/database"
	"github.com/commons-ledger/be-tranche-core/internal/errors"
)

// TrancheRepository handles tranche and pledge data operations. Writes
// that touch amounts, status and pledges together always run in one
// transaction with the tranche row locked, so no partial state is ever
// committed.
type TrancheRepository struct {
	db *database.DB
}

// NewTrancheRepository creates a new tranche repository.
func NewTrancheRepository(db *database.DB) *TrancheRepository {
	return &TrancheRepository{db: db}
}

const trancheColumns = `
	id, invoice_id, tranche_number,
	share_amount::text, price::text, target_amount::text,
	pledged_amount::text, funded_amount::text, currency,
	expected_return::text, actual_return::text, return_percentage::text,
	risk_band, risk_score::text, status,
	open_date, funding_deadline, funded_date, maturity_date, closed_date,
	terms, minimum_investment::text, maximum_investment::text,
	metadata, created_at, updated_at
`

// Create inserts a new tranche.
func (r *TrancheRepository) Create(ctx context.Context, t *Tranche) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	meta, err := metadataBytes(t.Metadata)
	if err != nil {
		return err
	}

	var minInv, maxInv *decimal.Decimal
	if t.MinimumInvestment != nil {
		minInv = &t.MinimumInvestment.Amount
	}
	if t.MaximumInvestment != nil {
		maxInv = &t.MaximumInvestment.Amount
	}

	query := `
		INSERT INTO tranches (id, invoice_id, tranche_number,
		                      share_amount, price, target_amount,
		                      pledged_amount, funded_amount, currency,
		                      expected_return, actual_return, return_percentage,
		                      risk_band, risk_score, status,
		                      open_date, funding_deadline, maturity_date,
		                      terms, minimum_investment, maximum_investment, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
		        $13, $14, $15::tranche_status, $16, $17, $18, $19, $20, $21, $22)
		RETURNING created_at, updated_at
	`

	err = r.db.QueryRow(ctx, query,
		t.ID,
		t.InvoiceID,
		t.TrancheNumber,
		t.ShareAmount.Amount,
		t.Price.Amount,
		t.TargetAmount.Amount,
		t.PledgedAmount.Amount,
		t.FundedAmount.Amount,
		t.Currency,
		t.ExpectedReturn.Amount,
		t.ActualReturn.Amount,
		t.ReturnPercentage,
		t.RiskBand,
		t.RiskScore,
		t.Status,
		t.OpenDate,
		t.FundingDeadline,
		t.MaturityDate,
		t.Terms,
		minInv,
		maxInv,
		meta,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create tranche")
	}
	return nil
}

// GetByID retrieves a tranche by ID.
func (r *TrancheRepository) GetByID(ctx context.Context, id string) (*Tranche, error) {
	query := `SELECT ` + trancheColumns + ` FROM tranches WHERE id = $1`
	t, err := scanTranche(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("tranche", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get tranche")
	}
	return t, nil
}

// ListByInvoice returns all tranches attached to an invoice.
func (r *TrancheRepository) ListByInvoice(ctx context.Context, invoiceID string) ([]*Tranche, error) {
	query := `SELECT ` + trancheColumns + ` FROM tranches WHERE invoice_id = $1 ORDER BY open_date`
	rows, err := r.db.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list tranches")
	}
	defer rows.Close()

	tranches := make([]*Tranche, 0)
	for rows.Next() {
		t, err := scanTranche(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan tranche")
		}
		tranches = append(tranches, t)
	}
	return tranches, rows.Err()
}

// ApplyPledge persists an accepted pledge: tranche amounts, status and
// the new pledge row land in one transaction. The update is guarded on
// the pledged_amount the caller read; a mismatch means another writer
// got between the read and this write, reported as a retryable conflict.
func (r *TrancheRepository) ApplyPledge(ctx context.Context, t *Tranche, expectedPledged decimal.Decimal, p *Pledge) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}

	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		update := `
			UPDATE tranches
			SET pledged_amount = $2,
			    status = $3::tranche_status,
			    updated_at = NOW()
			WHERE id = $1 AND pledged_amount = $4
		`
		tag, err := tx.Exec(ctx, update,
			t.ID, t.PledgedAmount.Amount, t.Status, expectedPledged)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update tranche amounts")
		}
		if tag.RowsAffected() == 0 {
			return errors.New(errors.ErrCodeConflict, "tranche amounts changed concurrently")
		}

		insert := `
			INSERT INTO pledges (id, tranche_id, investor_id, amount, status, pledged_at)
			VALUES ($1, $2, $3, $4, $5::pledge_status, $6)
		`
		if _, err := tx.Exec(ctx, insert,
			p.ID, p.TrancheID, p.InvestorID, p.Amount.Amount, p.Status, p.PledgedAt); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create pledge")
		}
		return nil
	})
}

// ApplyRevoke removes a pending pledge's amount from the tranche and
// marks the pledge revoked, atomically.
func (r *TrancheRepository) ApplyRevoke(ctx context.Context, t *Tranche, expectedPledged decimal.Decimal, p *Pledge) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		update := `
			UPDATE tranches
			SET pledged_amount = $2,
			    status = $3::tranche_status,
			    updated_at = NOW()
			WHERE id = $1 AND pledged_amount = $4
		`
		tag, err := tx.Exec(ctx, update,
			t.ID, t.PledgedAmount.Amount, t.Status, expectedPledged)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update tranche amounts")
		}
		if tag.RowsAffected() == 0 {
			return errors.New(errors.ErrCodeConflict, "tranche amounts changed concurrently")
		}

		revoke := `
			UPDATE pledges
			SET status = 'revoked'::pledge_status, revoked_at = NOW()
			WHERE id = $1 AND status = 'pending'::pledge_status
		`
		tag, err = tx.Exec(ctx, revoke, p.ID)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to revoke pledge")
		}
		if tag.RowsAffected() == 0 {
			return errors.New(errors.ErrCodeConflict, "pledge is no longer pending")
		}
		return nil
	})
}

// ApplySettlement moves settled pledge amounts into funded_amount and
// marks the pledges settled with their payment-rail reference, all in
// one transaction.
func (r *TrancheRepository) ApplySettlement(ctx context.Context, t *Tranche, pledgeIDs []string, paymentRef *string) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		update := `
			UPDATE tranches
			SET funded_amount = $2,
			    status = $3::tranche_status,
			    funded_date = $4,
			    updated_at = NOW()
			WHERE id = $1
		`
		tag, err := tx.Exec(ctx, update,
			t.ID, t.FundedAmount.Amount, t.Status, t.FundedDate)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update funded amount")
		}
		if tag.RowsAffected() == 0 {
			return errors.NotFound("tranche", t.ID)
		}

		settle := `
			UPDATE pledges
			SET status = 'settled'::pledge_status,
			    settled_at = NOW(),
			    payment_ref = $2
			WHERE id = ANY($1) AND status = 'pending'::pledge_status
		`
		tag, err = tx.Exec(ctx, settle, pledgeIDs, paymentRef)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to settle pledges")
		}
		if int(tag.RowsAffected()) != len(pledgeIDs) {
			return errors.New(errors.ErrCodeConflict, "some pledges were not pending at settlement")
		}
		return nil
	})
}

// ApplyTransition persists a lifecycle state change together with its
// date stamps and return figures.
func (r *TrancheRepository) ApplyTransition(ctx context.Context, t *Tranche) error {
	query := `
		UPDATE tranches
		SET status = $2::tranche_status,
		    funded_date = $3,
		    closed_date = $4,
		    actual_return = $5,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.db.QueryRow(ctx, query,
		t.ID, t.Status, t.FundedDate, t.ClosedDate, t.ActualReturn.Amount,
	).Scan(&t.UpdatedAt)
	if err == pgx.ErrNoRows {
		return errors.NotFound("tranche", t.ID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to persist tranche transition")
	}
	return nil
}

// SumTargetAmounts totals target_amount across an invoice's tranches,
// skipping the given statuses (normally cancelled).
func (r *TrancheRepository) SumTargetAmounts(ctx context.Context, invoiceID string, excluding []TrancheStatus) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(target_amount), 0)::text
		FROM tranches
		WHERE invoice_id = $1 AND NOT (status = ANY($2::tranche_status[]))
	`
	statuses := make([]string, len(excluding))
	for i, s := range excluding {
		statuses[i] = string(s)
	}

	var total string
	if err := r.db.QueryRow(ctx, query, invoiceID, statuses).Scan(&total); err != nil {
		return decimal.Zero, errors.Wrap(err, errors.ErrCodeInternal, "failed to sum target amounts")
	}
	d, err := decimal.NewFromString(total)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, errors.ErrCodeInternal, "unparseable sum")
	}
	return d, nil
}

// SumFundedAmounts totals funded_amount across an invoice's non-cancelled,
// non-defaulted tranches.
func (r *TrancheRepository) SumFundedAmounts(ctx context.Context, invoiceID string) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(funded_amount), 0)::text
		FROM tranches
		WHERE invoice_id = $1
		  AND status NOT IN ('cancelled'::tranche_status, 'defaulted'::tranche_status)
	`
	var total string
	if err := r.db.QueryRow(ctx, query, invoiceID).Scan(&total); err != nil {
		return decimal.Zero, errors.Wrap(err, errors.ErrCodeInternal, "failed to sum funded amounts")
	}
	d, err := decimal.NewFromString(total)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, errors.ErrCodeInternal, "unparseable sum")
	}
	return d, nil
}

func scanTranche(row pgx.Row) (*Tranche, error) {
	var (
		t                                    Tranche
		share, price, target, pledged        string
		funded, expectedRet, actualRet       string
		returnPct, riskScore, minInv, maxInv *string
		meta                                 []byte
		openDate                             time.Time
	)

	err := row.Scan(
		&t.ID,
		&t.InvoiceID,
		&t.TrancheNumber,
		&share,
		&price,
		&target,
		&pledged,
		&funded,
		&t.Currency,
		&expectedRet,
		&actualRet,
		&returnPct,
		&t.RiskBand,
		&riskScore,
		&t.Status,
		&openDate,
		&t.FundingDeadline,
		&t.FundedDate,
		&t.MaturityDate,
		&t.ClosedDate,
		&t.Terms,
		&minInv,
		&maxInv,
		&meta,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.OpenDate = openDate

	if t.ShareAmount, err = parseMoney(share, t.Currency); err != nil {
		return nil, err
	}
	if t.Price, err = parseMoney(price, t.Currency); err != nil {
		return nil, err
	}
	if t.TargetAmount, err = parseMoney(target, t.Currency); err != nil {
		return nil, err
	}
	if t.PledgedAmount, err = parseMoney(pledged, t.Currency); err != nil {
		return nil, err
	}
	if t.FundedAmount, err = parseMoney(funded, t.Currency); err != nil {
		return nil, err
	}
	if t.ExpectedReturn, err = parseMoney(expectedRet, t.Currency); err != nil {
		return nil, err
	}
	if t.ActualReturn, err = parseMoney(actualRet, t.Currency); err != nil {
		return nil, err
	}
	if t.ReturnPercentage, err = parseNullableDecimal(returnPct); err != nil {
		return nil, err
	}
	if t.RiskScore, err = parseNullableDecimal(riskScore); err != nil {
		return nil, err
	}
	if t.MinimumInvestment, err = parseNullableMoney(minInv, t.Currency); err != nil {
		return nil, err
	}
	if t.MaximumInvestment, err = parseNullableMoney(maxInv, t.Currency); err != nil {
		return nil, err
	}
	if t.Metadata, err = parseMetadata(meta); err != nil {
		return nil, err
	}
	return &t, nil
}
