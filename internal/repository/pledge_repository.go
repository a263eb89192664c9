package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/commons-ledger/be-tranche-core/internal/database"
	"github.com/commons-ledger/be-tranche-core/internal/errors"
)

// PledgeRepository reads pledge records. Pledge writes happen inside
// TrancheRepository transactions because a pledge never changes without
// its tranche's amounts changing with it.
type PledgeRepository struct {
	db *database.DB
}

// NewPledgeRepository creates a new pledge repository.
func NewPledgeRepository(db *database.DB) *PledgeRepository {
	return &PledgeRepository{db: db}
}

const pledgeColumns = `
	p.id, p.tranche_id, p.investor_id, p.amount::text, t.currency,
	p.status, p.pledged_at, p.settled_at, p.revoked_at, p.payment_ref
`

// GetByID retrieves a pledge by ID.
func (r *PledgeRepository) GetByID(ctx context.Context, id string) (*Pledge, error) {
	query := `
		SELECT ` + pledgeColumns + `
		FROM pledges p JOIN tranches t ON t.id = p.tranche_id
		WHERE p.id = $1
	`
	p, err := scanPledge(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("pledge", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get pledge")
	}
	return p, nil
}

// ListByTranche returns all pledges for a tranche, oldest first.
func (r *PledgeRepository) ListByTranche(ctx context.Context, trancheID string) ([]*Pledge, error) {
	query := `
		SELECT ` + pledgeColumns + `
		FROM pledges p JOIN tranches t ON t.id = p.tranche_id
		WHERE p.tranche_id = $1
		ORDER BY p.pledged_at
	`
	rows, err := r.db.Query(ctx, query, trancheID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list pledges")
	}
	defer rows.Close()

	pledges := make([]*Pledge, 0)
	for rows.Next() {
		p, err := scanPledge(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan pledge")
		}
		pledges = append(pledges, p)
	}
	return pledges, rows.Err()
}

func scanPledge(row pgx.Row) (*Pledge, error) {
	var (
		p        Pledge
		amount   string
		currency string
	)
	err := row.Scan(
		&p.ID,
		&p.TrancheID,
		&p.InvestorID,
		&amount,
		&currency,
		&p.Status,
		&p.PledgedAt,
		&p.SettledAt,
		&p.RevokedAt,
		&p.PaymentRef,
	)
	if err != nil {
		return nil, err
	}
	if p.Amount, err = parseMoney(amount, currency); err != nil {
		return nil, err
	}
	return &p, nil
}
