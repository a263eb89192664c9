package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/commons-ledger/be-tranche-core/internal/database"
	"github.com/commons-ledger/be-tranche-core/internal/errors"
)

// AttestationRepository reads attestations submitted by field agents and
// records verification outcomes. Everything except the verification
// fields is written by the upload pipeline, not here.
type AttestationRepository struct {
	db *database.DB
}

// NewAttestationRepository creates a new attestation repository.
func NewAttestationRepository(db *database.DB) *AttestationRepository {
	return &AttestationRepository{db: db}
}

const attestationColumns = `
	id, invoice_id, agent_id, attestation_type,
	media_url, file_hash, ipfs_hash,
	signature, signature_algorithm, public_key_id,
	latitude, longitude, location_accuracy,
	device_timestamp, notes, metadata,
	is_verified, verified_by, verified_at,
	created_at, updated_at
`

// GetByID retrieves an attestation by ID.
func (r *AttestationRepository) GetByID(ctx context.Context, id string) (*Attestation, error) {
	query := `SELECT ` + attestationColumns + ` FROM attestations WHERE id = $1`
	att, err := scanAttestation(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("attestation", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get attestation")
	}
	return att, nil
}

// LatestByInvoice returns the most recently submitted attestation for an
// invoice, or a NotFound error when none exists.
func (r *AttestationRepository) LatestByInvoice(ctx context.Context, invoiceID string) (*Attestation, error) {
	query := `
		SELECT ` + attestationColumns + `
		FROM attestations
		WHERE invoice_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	att, err := scanAttestation(r.db.QueryRow(ctx, query, invoiceID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("attestation for invoice", invoiceID)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get latest attestation")
	}
	return att, nil
}

// MarkVerified records a verification outcome. Re-verification of an
// already-verified attestation overwrites the previous stamp; the check
// itself is idempotent.
func (r *AttestationRepository) MarkVerified(ctx context.Context, id string, verified bool, verifiedBy string) error {
	query := `
		UPDATE attestations
		SET is_verified = $2,
		    verified_by = $3,
		    verified_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`
	var returned string
	err := r.db.QueryRow(ctx, query, id, verified, verifiedBy).Scan(&returned)
	if err == pgx.ErrNoRows {
		return errors.NotFound("attestation", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to mark attestation verified")
	}
	return nil
}

func scanAttestation(row pgx.Row) (*Attestation, error) {
	var (
		att  Attestation
		meta []byte
		ts   *time.Time
	)
	err := row.Scan(
		&att.ID,
		&att.InvoiceID,
		&att.AgentID,
		&att.AttestationType,
		&att.MediaURL,
		&att.FileHash,
		&att.IPFSHash,
		&att.Signature,
		&att.SignatureAlgorithm,
		&att.PublicKeyID,
		&att.Latitude,
		&att.Longitude,
		&att.LocationAccuracy,
		&ts,
		&att.Notes,
		&meta,
		&att.IsVerified,
		&att.VerifiedBy,
		&att.VerifiedAt,
		&att.CreatedAt,
		&att.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	att.DeviceTimestamp = ts
	if att.Metadata, err = parseMetadata(meta); err != nil {
		return nil, err
	}
	return &att, nil
}
