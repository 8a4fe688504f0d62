package billing

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// newInvoiceNumber generates a short human-referenceable invoice number
func newInvoiceNumber() string {
	return "INV-" + strings.ToUpper(uuid.NewString()[:8])
}

// periodDescription renders the billing period covered by an invoice,
// from its due date up to (not including) the next schedule point.
func periodDescription(b *RecurringBillable, periodStart, periodEnd time.Time) string {
	desc := b.Description
	if desc == "" {
		desc = string(b.Category)
	}
	return fmt.Sprintf("%s (%s to %s)", desc,
		periodStart.Format("2006-01-02"), periodEnd.AddDate(0, 0, -1).Format("2006-01-02"))
}

// insertInvoiceTx writes an invoice and its single line item inside tx
func (s *PostgresService) insertInvoiceTx(ctx context.Context, tx *sql.Tx, inv *Invoice, line *InvoiceLineItem) error {
	query := `
		INSERT INTO invoices (lease_id, tenant_id, recurring_billable_id, invoice_number, category, due_amount, due_date, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`
	err := tx.QueryRowContext(ctx, query, inv.LeaseID, inv.TenantID, inv.RecurringBillableID,
		inv.InvoiceNumber, inv.Category, inv.DueAmount, inv.DueDate, inv.Status).
		Scan(&inv.ID, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert invoice: %w", err)
	}

	if line != nil {
		line.InvoiceID = inv.ID
		err = tx.QueryRowContext(ctx, `
			INSERT INTO invoice_line_items (invoice_id, position, description, quantity, rate, amount)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`, line.InvoiceID, line.Position, line.Description, line.Quantity, line.Rate, line.Amount).
			Scan(&line.ID)
		if err != nil {
			return fmt.Errorf("failed to insert line item: %w", err)
		}
		inv.LineItems = []InvoiceLineItem{*line}
	}
	return nil
}

// lockBillableTx re-reads a billable under FOR UPDATE so that the
// generate-and-advance step is serialized per billable across concurrent
// sweeps.
func (s *PostgresService) lockBillableTx(ctx context.Context, tx *sql.Tx, where string, arg any) (*RecurringBillable, error) {
	query := `SELECT ` + billableColumns + ` FROM recurring_billables WHERE ` + where + ` FOR UPDATE`
	b, err := s.scanBillable(tx.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock billable: %w", err)
	}
	return b, nil
}

// GenerateInvoice materializes one invoice for the billable's current
// period and advances the cursor, both inside a single transaction. The
// cursor never moves without the invoice write committing alongside it,
// which is what makes generation at-most-once per (lease, period) and
// retry-safe: a failed attempt leaves the cursor untouched.
//
// Returns ErrNotDue when the cursor has not reached asOf; a billable that
// is several periods behind yields one invoice per call, so callers loop
// until ErrNotDue.
func (s *PostgresService) GenerateInvoice(ctx context.Context, billableID int64, asOf time.Time) (*Invoice, error) {
	asOf = StartOfDay(asOf, s.loc)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	b, err := s.lockBillableTx(ctx, tx, "id = $1", billableID)
	if err != nil {
		return nil, err
	}
	if !b.IsActive {
		return nil, ErrBillableInactive
	}
	if b.NextInvoiceAt.After(asOf) {
		return nil, ErrNotDue
	}

	dueDate := StartOfDay(b.NextInvoiceAt, s.loc)
	next := NextOnSchedule(b.StartDate, dueDate, b.Cycle, s.loc)

	leaseID := b.LeaseID
	inv := &Invoice{
		LeaseID:             &leaseID,
		RecurringBillableID: &b.ID,
		InvoiceNumber:       newInvoiceNumber(),
		Category:            b.Category,
		DueAmount:           b.Amount,
		DueDate:             dueDate,
		Status:              InvoiceStatusPending,
	}
	line := &InvoiceLineItem{
		Position:    1,
		Description: periodDescription(b, dueDate, next),
		Quantity:    decimal.NewFromInt(1),
		Rate:        b.Amount,
		Amount:      b.Amount,
	}
	if err := s.insertInvoiceTx(ctx, tx, inv, line); err != nil {
		return nil, err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE recurring_billables
		SET next_invoice_at = $1, updated_at = NOW()
		WHERE id = $2 AND next_invoice_at = $3
	`, next, b.ID, b.NextInvoiceAt)
	if err != nil {
		return nil, fmt.Errorf("failed to advance cursor: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return nil, ErrConflict
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit invoice generation: %w", err)
	}
	return inv, nil
}

// BackfillLease synthesizes invoices for every period a lease's billable
// is behind, in one transaction. With markPastPaid, every fully elapsed
// period is created already paid with a synthetic transaction recording
// the back-fill; the current, un-elapsed period stays pending. This path
// never produces overdue invoices for prepaid back-history.
func (s *PostgresService) BackfillLease(ctx context.Context, leaseID int64, markPastPaid bool) ([]*Invoice, error) {
	today := s.today()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	b, err := s.lockBillableTx(ctx, tx, "lease_id = $1 AND is_active = TRUE", leaseID)
	if err != nil {
		return nil, err
	}

	var invoices []*Invoice
	cursor := StartOfDay(b.NextInvoiceAt, s.loc)
	for !cursor.After(today) {
		periodEnd := NextOnSchedule(b.StartDate, cursor, b.Cycle, s.loc)
		elapsed := !periodEnd.After(today)

		status := InvoiceStatusPending
		if elapsed && markPastPaid {
			status = InvoiceStatusPaid
		}

		lid := b.LeaseID
		inv := &Invoice{
			LeaseID:             &lid,
			RecurringBillableID: &b.ID,
			InvoiceNumber:       newInvoiceNumber(),
			Category:            b.Category,
			DueAmount:           b.Amount,
			DueDate:             cursor,
			Status:              status,
		}
		line := &InvoiceLineItem{
			Position:    1,
			Description: periodDescription(b, cursor, periodEnd),
			Quantity:    decimal.NewFromInt(1),
			Rate:        b.Amount,
			Amount:      b.Amount,
		}
		if err := s.insertInvoiceTx(ctx, tx, inv, line); err != nil {
			return nil, err
		}

		if status == InvoiceStatusPaid {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO transactions (invoice_id, lease_id, amount_paid, reference)
				VALUES ($1, $2, $3, $4)
			`, inv.ID, b.LeaseID, b.Amount, "backfill:"+uuid.NewString())
			if err != nil {
				return nil, fmt.Errorf("failed to record back-fill transaction: %w", err)
			}
		}

		invoices = append(invoices, inv)
		cursor = periodEnd
	}

	if len(invoices) > 0 {
		result, err := tx.ExecContext(ctx, `
			UPDATE recurring_billables
			SET next_invoice_at = $1, updated_at = NOW()
			WHERE id = $2 AND next_invoice_at = $3
		`, cursor, b.ID, b.NextInvoiceAt)
		if err != nil {
			return nil, fmt.Errorf("failed to advance cursor: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to read affected rows: %w", err)
		}
		if affected == 0 {
			return nil, ErrConflict
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit back-fill: %w", err)
	}
	return invoices, nil
}
