// Package billing implements the lease billing and settlement lifecycle:
// recurring invoice generation, payment reconciliation and end-of-lease
// settlement.
//
// # Overview
//
// Each lease with automatic invoicing owns one RecurringBillable, whose
// NextInvoiceAt cursor marks the next period to invoice. A periodic
// sweep turns every due billable into a pending Invoice and advances the
// cursor in the same database transaction, which makes generation
// at-most-once per period and safe to retry.
//
// Payments arrive as immutable Transactions. The reconciler recomputes
// an invoice's status from its full transaction ledger, so replaying the
// same payments always lands on the same status. Invoice statuses form a
// closed state machine (draft, pending, partially_paid, paid, overdue,
// cancelled) with transitions validated centrally; paid and cancelled
// are terminal.
//
// # Dates and money
//
// All schedule arithmetic runs in a single configured civil timezone and
// normalizes to day boundaries; amounts are decimal.Decimal backed by
// NUMERIC columns.
//
// # Usage Example
//
// Generate the next invoice for a due billable:
//
//	invoice, err := service.GenerateInvoice(ctx, billable.ID, asOf)
//	if errors.Is(err, billing.ErrNotDue) {
//		// cursor already past asOf, nothing to do
//	}
//
// Preview a settlement before ending a lease:
//
//	s, err := service.SettlementPreview(ctx, leaseID)
//	fmt.Printf("refund: %s, shortfall: %s\n", s.RefundAmount, s.Shortfall)
//
// # Related Packages
//
//   - pkg/leases: the lease aggregate and its lifecycle
//   - pkg/sweep: the batch sweep driving invoice generation
package billing
