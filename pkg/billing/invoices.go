package billing

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
)

const invoiceColumns = `
	id, lease_id, tenant_id, recurring_billable_id, invoice_number, category, due_amount, due_date, status, created_at, updated_at
`

// scanInvoice rehydrates the due date as a civil date in the billing
// zone; the driver scans DATE columns as midnight in its own session
// zone, which names the right day but the wrong instant.
func (s *PostgresService) scanInvoice(row interface{ Scan(...any) error }) (*Invoice, error) {
	inv := &Invoice{}
	err := row.Scan(
		&inv.ID, &inv.LeaseID, &inv.TenantID, &inv.RecurringBillableID,
		&inv.InvoiceNumber, &inv.Category, &inv.DueAmount, &inv.DueDate,
		&inv.Status, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	inv.DueDate = CivilDate(inv.DueDate, s.loc)
	return inv, nil
}

func validateInvoice(req *CreateInvoiceRequest) error {
	if (req.LeaseID == nil) == (req.TenantID == nil) {
		return fmt.Errorf("%w: exactly one of lease_id or tenant_id must be set", ErrInvalidInput)
	}
	if !req.DueAmount.IsPositive() {
		return fmt.Errorf("%w: due_amount must be positive", ErrInvalidInput)
	}
	if req.DueDate.IsZero() {
		return fmt.Errorf("%w: due_date is required", ErrInvalidInput)
	}
	if len(req.LineItems) > 0 {
		sum := decimal.Zero
		for _, li := range req.LineItems {
			sum = sum.Add(li.Amount)
		}
		if !sum.Equal(req.DueAmount) {
			return fmt.Errorf("%w: line items sum to %s, due_amount is %s", ErrInvalidInput, sum, req.DueAmount)
		}
	}
	return nil
}

// CreateInvoice records a manually entered invoice, either against a
// lease or billed directly to a tenant. When no line items are given a
// single fallback line covering the full amount is written.
func (s *PostgresService) CreateInvoice(ctx context.Context, req *CreateInvoiceRequest) (*Invoice, error) {
	if err := validateInvoice(req); err != nil {
		return nil, err
	}

	category := req.Category
	if category == "" {
		category = CategoryOther
	}
	status := InvoiceStatusPending
	if req.Draft {
		status = InvoiceStatusDraft
	}

	inv := &Invoice{
		LeaseID:       req.LeaseID,
		TenantID:      req.TenantID,
		InvoiceNumber: newInvoiceNumber(),
		Category:      category,
		DueAmount:     req.DueAmount,
		DueDate:       CivilDate(req.DueDate, s.loc),
		Status:        status,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	lines := req.LineItems
	if len(lines) == 0 {
		lines = []InvoiceLineItem{{
			Description: string(category),
			Quantity:    decimal.NewFromInt(1),
			Rate:        req.DueAmount,
			Amount:      req.DueAmount,
		}}
	}

	if err := s.insertInvoiceTx(ctx, tx, inv, nil); err != nil {
		return nil, err
	}
	inv.LineItems = nil
	for i := range lines {
		line := lines[i]
		line.InvoiceID = inv.ID
		line.Position = i + 1
		err = tx.QueryRowContext(ctx, `
			INSERT INTO invoice_line_items (invoice_id, position, description, quantity, rate, amount)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`, line.InvoiceID, line.Position, line.Description, line.Quantity, line.Rate, line.Amount).
			Scan(&line.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to insert line item: %w", err)
		}
		inv.LineItems = append(inv.LineItems, line)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit invoice: %w", err)
	}
	return inv, nil
}

// GetInvoice retrieves an invoice with its line items
func (s *PostgresService) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`
	inv, err := s.scanInvoice(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, invoice_id, position, description, quantity, rate, amount
		FROM invoice_line_items
		WHERE invoice_id = $1
		ORDER BY position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query line items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var li InvoiceLineItem
		if err := rows.Scan(&li.ID, &li.InvoiceID, &li.Position, &li.Description, &li.Quantity, &li.Rate, &li.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan line item: %w", err)
		}
		inv.LineItems = append(inv.LineItems, li)
	}
	return inv, rows.Err()
}

// ListInvoicesForLease lists a lease's invoices, newest due date first
func (s *PostgresService) ListInvoicesForLease(ctx context.Context, leaseID int64) ([]*Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE lease_id = $1 ORDER BY due_date DESC, id DESC`
	rows, err := s.db.QueryContext(ctx, query, leaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []*Invoice
	for rows.Next() {
		inv, err := s.scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

// IssueInvoice moves a draft invoice to pending so it can start
// collecting payments
func (s *PostgresService) IssueInvoice(ctx context.Context, id int64) (*Invoice, error) {
	return s.transition(ctx, id, func(inv *Invoice) (InvoiceStatus, error) {
		if inv.Status != InvoiceStatusDraft {
			return "", &InvalidTransitionError{InvoiceID: inv.ID, From: inv.Status, To: InvoiceStatusPending}
		}
		return InvoiceStatusPending, nil
	})
}
