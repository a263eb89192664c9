package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/commons-ledger/be-tranche-core/internal/database"
	"github.com/commons-ledger/be-tranche-core/internal/errors"
)

// InvoiceRepository handles invoice data operations.
type InvoiceRepository struct {
	db *database.DB
}

// NewInvoiceRepository creates a new invoice repository.
func NewInvoiceRepository(db *database.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

const invoiceColumns = `
	id, org_id, customer_id, creator_id, invoice_number,
	amount::text, tax_amount::text, total_amount::text, amount_paid::text, currency,
	issued_date, due_date, payment_date,
	status, description, notes,
	ocr_extracted, ocr_confidence::text, file_url, file_hash,
	metadata, created_at, updated_at
`

// Create inserts a new invoice record.
func (r *InvoiceRepository) Create(ctx context.Context, inv *Invoice) error {
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	meta, err := metadataBytes(inv.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO invoices (id, org_id, customer_id, creator_id, invoice_number,
		                      amount, tax_amount, total_amount, amount_paid, currency,
		                      issued_date, due_date, status, description, notes,
		                      ocr_extracted, file_url, file_hash, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		        $11, $12, $13::invoice_status, $14, $15, $16, $17, $18, $19)
		RETURNING created_at, updated_at
	`

	err = r.db.QueryRow(ctx, query,
		inv.ID,
		inv.OrgID,
		inv.CustomerID,
		inv.CreatorID,
		inv.InvoiceNumber,
		inv.Amount.Amount,
		inv.TaxAmount.Amount,
		inv.TotalAmount.Amount,
		inv.AmountPaid.Amount,
		inv.Currency,
		inv.IssuedDate,
		inv.DueDate,
		inv.Status,
		inv.Description,
		inv.Notes,
		inv.OCRExtracted,
		inv.FileURL,
		inv.FileHash,
		meta,
	).Scan(&inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create invoice")
	}
	return nil
}

// GetByID retrieves an invoice by ID.
func (r *InvoiceRepository) GetByID(ctx context.Context, id string) (*Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`
	inv, err := scanInvoice(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("invoice", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get invoice")
	}
	return inv, nil
}

// ApplyReconciliation persists the recomputed payment fields. Amount and
// status always land together.
func (r *InvoiceRepository) ApplyReconciliation(ctx context.Context, inv *Invoice) error {
	query := `
		UPDATE invoices
		SET amount_paid = $2,
		    status = $3::invoice_status,
		    payment_date = $4,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.db.QueryRow(ctx, query,
		inv.ID,
		inv.AmountPaid.Amount,
		inv.Status,
		inv.PaymentDate,
	).Scan(&inv.UpdatedAt)
	if err == pgx.ErrNoRows {
		return errors.NotFound("invoice", inv.ID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to reconcile invoice")
	}
	return nil
}

// UpdateStatus flips the invoice status only.
func (r *InvoiceRepository) UpdateStatus(ctx context.Context, id string, status InvoiceStatus) error {
	query := `
		UPDATE invoices
		SET status = $2::invoice_status, updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`
	var returned string
	err := r.db.QueryRow(ctx, query, id, status).Scan(&returned)
	if err == pgx.ErrNoRows {
		return errors.NotFound("invoice", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update invoice status")
	}
	return nil
}

// ListByOrg retrieves invoices for an organization with pagination.
func (r *InvoiceRepository) ListByOrg(ctx context.Context, orgID string, status *InvoiceStatus, limit, offset int) ([]*Invoice, error) {
	query := `SELECT ` + invoiceColumns + `
		FROM invoices
		WHERE org_id = $1 AND ($2::invoice_status IS NULL OR status = $2::invoice_status)
		ORDER BY issued_date DESC, invoice_number DESC
		LIMIT $3 OFFSET $4`

	rows, err := r.db.Query(ctx, query, orgID, status, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list invoices")
	}
	defer rows.Close()

	invoices := make([]*Invoice, 0)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan invoice")
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var (
		inv                      Invoice
		amount, tax, total, paid string
		ocrConfidence            *string
		meta                     []byte
		issuedDate, dueDate      time.Time
		paymentDate              *time.Time
	)

	err := row.Scan(
		&inv.ID,
		&inv.OrgID,
		&inv.CustomerID,
		&inv.CreatorID,
		&inv.InvoiceNumber,
		&amount,
		&tax,
		&total,
		&paid,
		&inv.Currency,
		&issuedDate,
		&dueDate,
		&paymentDate,
		&inv.Status,
		&inv.Description,
		&inv.Notes,
		&inv.OCRExtracted,
		&ocrConfidence,
		&inv.FileURL,
		&inv.FileHash,
		&meta,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	inv.IssuedDate = issuedDate
	inv.DueDate = dueDate
	inv.PaymentDate = paymentDate

	if inv.Amount, err = parseMoney(amount, inv.Currency); err != nil {
		return nil, err
	}
	if inv.TaxAmount, err = parseMoney(tax, inv.Currency); err != nil {
		return nil, err
	}
	if inv.TotalAmount, err = parseMoney(total, inv.Currency); err != nil {
		return nil, err
	}
	if inv.AmountPaid, err = parseMoney(paid, inv.Currency); err != nil {
		return nil, err
	}
	if inv.OCRConfidence, err = parseNullableDecimal(ocrConfidence); err != nil {
		return nil, err
	}
	if inv.Metadata, err = parseMetadata(meta); err != nil {
		return nil, err
	}
	return &inv, nil
}
