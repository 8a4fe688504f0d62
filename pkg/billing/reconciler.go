package billing

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func (s *PostgresService) lockInvoiceTx(ctx context.Context, tx *sql.Tx, id int64) (*Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1 FOR UPDATE`
	inv, err := s.scanInvoice(tx.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock invoice: %w", err)
	}
	return inv, nil
}

func (s *PostgresService) updateInvoiceStatusTx(ctx context.Context, tx *sql.Tx, inv *Invoice, target InvoiceStatus) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE invoices SET status = $1, updated_at = NOW() WHERE id = $2`,
		target, inv.ID)
	if err != nil {
		return fmt.Errorf("failed to update invoice status: %w", err)
	}
	inv.Status = target
	return nil
}

// transition applies a status change decided by fn under a row lock. fn
// returning the current status means no-op; any other status must be a
// legal transition per the central table.
func (s *PostgresService) transition(ctx context.Context, id int64, fn func(*Invoice) (InvoiceStatus, error)) (*Invoice, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	inv, err := s.lockInvoiceTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	target, err := fn(inv)
	if err != nil {
		return nil, err
	}
	if target == inv.Status {
		return inv, tx.Commit()
	}
	if !inv.Status.CanTransitionTo(target) {
		return nil, &InvalidTransitionError{InvoiceID: inv.ID, From: inv.Status, To: target}
	}
	if err := s.updateInvoiceStatusTx(ctx, tx, inv, target); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit status transition: %w", err)
	}
	return inv, nil
}

// ApplyPayment records a payment transaction against an invoice and
// recomputes the invoice status from the full transaction ledger, all in
// one transaction so concurrent payments cannot race a lost update.
//
// Payments against invoices in a terminal status are still recorded
// (financial history is immutable) but leave the status untouched.
func (s *PostgresService) ApplyPayment(ctx context.Context, invoiceID int64, amount decimal.Decimal, reference string) (*Transaction, *Invoice, error) {
	if !amount.IsPositive() {
		return nil, nil, fmt.Errorf("%w: payment amount must be positive", ErrInvalidInput)
	}
	if reference == "" {
		reference = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	inv, err := s.lockInvoiceTx(ctx, tx, invoiceID)
	if err != nil {
		return nil, nil, err
	}
	if inv.Status == InvoiceStatusDraft {
		return nil, nil, &InvalidTransitionError{InvoiceID: inv.ID, From: inv.Status, To: InvoiceStatusPartiallyPaid}
	}

	txn := &Transaction{
		InvoiceID:  &inv.ID,
		LeaseID:    inv.LeaseID,
		AmountPaid: amount,
		Reference:  reference,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO transactions (invoice_id, lease_id, amount_paid, reference)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, txn.InvoiceID, txn.LeaseID, txn.AmountPaid, txn.Reference).
		Scan(&txn.ID, &txn.CreatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to record transaction: %w", err)
	}

	var totalPaid decimal.Decimal
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount_paid), 0) FROM transactions WHERE invoice_id = $1`,
		inv.ID).Scan(&totalPaid)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to sum transactions: %w", err)
	}

	if target := reconcileStatus(inv.Status, inv.DueAmount, totalPaid); target != inv.Status {
		if err := s.updateInvoiceStatusTx(ctx, tx, inv, target); err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit payment: %w", err)
	}
	return txn, inv, nil
}

// ListTransactionsForInvoice lists an invoice's payment ledger in
// insertion order
func (s *PostgresService) ListTransactionsForInvoice(ctx context.Context, invoiceID int64) ([]*Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, invoice_id, lease_id, amount_paid, reference, created_at
		FROM transactions
		WHERE invoice_id = $1
		ORDER BY id
	`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txns []*Transaction
	for rows.Next() {
		txn := &Transaction{}
		if err := rows.Scan(&txn.ID, &txn.InvoiceID, &txn.LeaseID, &txn.AmountPaid, &txn.Reference, &txn.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

// MarkOverdue flips a pending or partially paid invoice whose due date
// has passed to overdue. Anything else, including paid and cancelled
// invoices, is left untouched.
func (s *PostgresService) MarkOverdue(ctx context.Context, invoiceID int64, asOf time.Time) (*Invoice, error) {
	asOf = StartOfDay(asOf, s.loc)
	return s.transition(ctx, invoiceID, func(inv *Invoice) (InvoiceStatus, error) {
		collectible := inv.Status == InvoiceStatusPending || inv.Status == InvoiceStatusPartiallyPaid
		if collectible && inv.DueDate.Before(asOf) {
			return InvoiceStatusOverdue, nil
		}
		return inv.Status, nil
	})
}

// SweepOverdue bulk-marks every collectible invoice past its due date as
// overdue. Returns the number of invoices transitioned.
func (s *PostgresService) SweepOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE invoices
		SET status = $1, updated_at = NOW()
		WHERE status IN ($2, $3) AND due_date < $4
	`, InvoiceStatusOverdue, InvoiceStatusPending, InvoiceStatusPartiallyPaid, StartOfDay(asOf, s.loc))
	if err != nil {
		return 0, fmt.Errorf("failed to sweep overdue invoices: %w", err)
	}
	return result.RowsAffected()
}

// VoidInvoice cancels further collection on an invoice. Voiding a paid
// invoice is rejected; voiding an already cancelled one is a no-op.
// Recorded transactions are never reversed.
func (s *PostgresService) VoidInvoice(ctx context.Context, id int64) (*Invoice, error) {
	return s.transition(ctx, id, func(inv *Invoice) (InvoiceStatus, error) {
		if inv.Status == InvoiceStatusPaid {
			return "", &InvalidTransitionError{InvoiceID: inv.ID, From: inv.Status, To: InvoiceStatusCancelled}
		}
		return InvoiceStatusCancelled, nil
	})
}

// MarkAsPaid force-settles an invoice paid outside the system. The
// difference between the due amount and payments already on the ledger is
// written as a synthetic manual transaction, so the ledger total for a
// paid invoice always covers the due amount and reporting stays
// consistent with invoice status.
func (s *PostgresService) MarkAsPaid(ctx context.Context, id int64) (*Invoice, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	inv, err := s.lockInvoiceTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status == InvoiceStatusPaid {
		return inv, tx.Commit()
	}
	if !inv.Status.CanTransitionTo(InvoiceStatusPaid) {
		return nil, &InvalidTransitionError{InvoiceID: inv.ID, From: inv.Status, To: InvoiceStatusPaid}
	}

	var totalPaid decimal.Decimal
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount_paid), 0) FROM transactions WHERE invoice_id = $1`,
		inv.ID).Scan(&totalPaid)
	if err != nil {
		return nil, fmt.Errorf("failed to sum transactions: %w", err)
	}

	if remainder := inv.DueAmount.Sub(totalPaid); remainder.IsPositive() {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO transactions (invoice_id, lease_id, amount_paid, reference)
			VALUES ($1, $2, $3, $4)
		`, inv.ID, inv.LeaseID, remainder, "manual:"+uuid.NewString())
		if err != nil {
			return nil, fmt.Errorf("failed to record manual settlement transaction: %w", err)
		}
	}

	if err := s.updateInvoiceStatusTx(ctx, tx, inv, InvoiceStatusPaid); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit manual settlement: %w", err)
	}
	return inv, nil
}
