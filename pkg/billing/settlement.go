package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceBalance pairs an open invoice with its ledger state
type InvoiceBalance struct {
	Invoice     *Invoice        `json:"invoice"`
	AmountPaid  decimal.Decimal `json:"amount_paid"`
	Outstanding decimal.Decimal `json:"outstanding"`
}

// Settlement is the net financial outcome of ending a lease. It is a
// pure computation result: producing one mutates nothing.
type Settlement struct {
	LeaseID            int64            `json:"lease_id"`
	Deposit            decimal.Decimal  `json:"deposit"`
	OutstandingBalance decimal.Decimal  `json:"outstanding_balance"`
	RefundAmount       decimal.Decimal  `json:"refund_amount"`
	Shortfall          decimal.Decimal  `json:"shortfall"`
	OpenInvoices       []InvoiceBalance `json:"open_invoices,omitempty"`
	ComputedAt         time.Time        `json:"computed_at"`
}

// OutstandingBalance sums per-invoice outstanding amounts, clamping
// overpaid invoices to zero so an overpayment on one invoice never
// offsets another.
func OutstandingBalance(balances []InvoiceBalance) decimal.Decimal {
	total := decimal.Zero
	for _, b := range balances {
		if b.Outstanding.IsPositive() {
			total = total.Add(b.Outstanding)
		}
	}
	return total
}

// RefundAmount computes the deposit refund after netting the outstanding
// balance. Never negative, never more than the deposit.
func RefundAmount(deposit, outstanding decimal.Decimal) decimal.Decimal {
	refund := deposit.Sub(outstanding)
	if refund.IsNegative() {
		return decimal.Zero
	}
	return refund
}

// openInvoiceBalances loads every collectible invoice of a lease together
// with its paid total. Lease-less invoices never appear here, so a
// direct-to-tenant invoice cannot touch a deposit.
func (s *PostgresService) openInvoiceBalances(ctx context.Context, leaseID int64) ([]InvoiceBalance, error) {
	query := `
		SELECT ` + invoiceColumns + `,
		       COALESCE((SELECT SUM(t.amount_paid) FROM transactions t WHERE t.invoice_id = invoices.id), 0)
		FROM invoices
		WHERE lease_id = $1 AND status NOT IN ($2, $3)
		ORDER BY due_date, id
	`
	rows, err := s.db.QueryContext(ctx, query, leaseID, InvoiceStatusPaid, InvoiceStatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("failed to query open invoices: %w", err)
	}
	defer rows.Close()

	var balances []InvoiceBalance
	for rows.Next() {
		inv := &Invoice{}
		var paid decimal.Decimal
		err := rows.Scan(
			&inv.ID, &inv.LeaseID, &inv.TenantID, &inv.RecurringBillableID,
			&inv.InvoiceNumber, &inv.Category, &inv.DueAmount, &inv.DueDate,
			&inv.Status, &inv.CreatedAt, &inv.UpdatedAt, &paid,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice balance: %w", err)
		}
		inv.DueDate = CivilDate(inv.DueDate, s.loc)
		outstanding := inv.DueAmount.Sub(paid)
		if outstanding.IsNegative() {
			outstanding = decimal.Zero
		}
		balances = append(balances, InvoiceBalance{Invoice: inv, AmountPaid: paid, Outstanding: outstanding})
	}
	return balances, rows.Err()
}

// SettlementPreview computes the settlement for a lease without touching
// any state, so it can be shown speculatively before the operator commits
// to ending the lease.
func (s *PostgresService) SettlementPreview(ctx context.Context, leaseID int64) (*Settlement, error) {
	lease, err := s.leaseService.GetLease(ctx, leaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve lease %d: %w", leaseID, err)
	}

	balances, err := s.openInvoiceBalances(ctx, leaseID)
	if err != nil {
		return nil, err
	}

	outstanding := OutstandingBalance(balances)
	refund := RefundAmount(lease.DepositAmount, outstanding)
	shortfall := outstanding.Sub(lease.DepositAmount)
	if shortfall.IsNegative() {
		shortfall = decimal.Zero
	}

	return &Settlement{
		LeaseID:            leaseID,
		Deposit:            lease.DepositAmount,
		OutstandingBalance: outstanding,
		RefundAmount:       refund,
		Shortfall:          shortfall,
		OpenInvoices:       balances,
		ComputedAt:         s.clock.Now(),
	}, nil
}

// SettleLease executes the settlement an operator confirmed: it stops
// recurring invoicing, voids every remaining open invoice and marks the
// lease terminated. The returned settlement reflects the state at the
// moment of settlement.
func (s *PostgresService) SettleLease(ctx context.Context, leaseID int64) (*Settlement, error) {
	settlement, err := s.SettlementPreview(ctx, leaseID)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE recurring_billables
		SET is_active = FALSE, updated_at = NOW()
		WHERE lease_id = $1 AND is_active = TRUE
	`, leaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate billables: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE invoices
		SET status = $1, updated_at = NOW()
		WHERE lease_id = $2 AND status NOT IN ($1, $3)
	`, InvoiceStatusCancelled, leaseID, InvoiceStatusPaid)
	if err != nil {
		return nil, fmt.Errorf("failed to void open invoices: %w", err)
	}

	if err := s.leaseService.TerminateLeaseTx(ctx, tx, leaseID); err != nil {
		return nil, fmt.Errorf("failed to terminate lease: %w", err)
	}

	// Billable deactivation, invoice voiding and lease termination commit
	// together; a retry after any failure starts from the untouched state.
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit settlement: %w", err)
	}
	return settlement, nil
}
