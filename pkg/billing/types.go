package billing

import (
	"time"

	"github.com/leaseward/leaseward/pkg/leases"
	"github.com/shopspring/decimal"
)

// InvoiceStatus represents the status of an invoice
type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "draft"
	InvoiceStatusPending       InvoiceStatus = "pending"
	InvoiceStatusPartiallyPaid InvoiceStatus = "partially_paid"
	InvoiceStatusPaid          InvoiceStatus = "paid"
	InvoiceStatusOverdue       InvoiceStatus = "overdue"
	InvoiceStatusCancelled     InvoiceStatus = "cancelled"
)

// invoiceTransitions is the closed transition table for invoice statuses.
// Transition validity is enforced here, not at call sites.
var invoiceTransitions = map[InvoiceStatus]map[InvoiceStatus]bool{
	InvoiceStatusDraft: {
		InvoiceStatusPending:   true,
		InvoiceStatusCancelled: true,
	},
	InvoiceStatusPending: {
		InvoiceStatusPartiallyPaid: true,
		InvoiceStatusPaid:          true,
		InvoiceStatusOverdue:       true,
		InvoiceStatusCancelled:     true,
	},
	InvoiceStatusPartiallyPaid: {
		InvoiceStatusPaid:      true,
		InvoiceStatusOverdue:   true,
		InvoiceStatusCancelled: true,
	},
	InvoiceStatusOverdue: {
		InvoiceStatusPartiallyPaid: true,
		InvoiceStatusPaid:          true,
		InvoiceStatusCancelled:     true,
	},
	// Terminal states
	InvoiceStatusPaid:      {},
	InvoiceStatusCancelled: {},
}

// Valid reports whether the status is a known invoice status
func (s InvoiceStatus) Valid() bool {
	_, ok := invoiceTransitions[s]
	return ok
}

// Terminal reports whether no further transitions are allowed
func (s InvoiceStatus) Terminal() bool {
	return s.Valid() && len(invoiceTransitions[s]) == 0
}

// CanTransitionTo reports whether moving from s to target is a legal
// transition in the invoice state machine
func (s InvoiceStatus) CanTransitionTo(target InvoiceStatus) bool {
	return invoiceTransitions[s][target]
}

// BillableCategory classifies what a billable or invoice charges for
type BillableCategory string

const (
	CategoryRent      BillableCategory = "rent"
	CategoryUtilities BillableCategory = "utilities"
	CategoryParking   BillableCategory = "parking"
	CategoryOther     BillableCategory = "other"
)

// RecurringBillable is the durable cadence record driving invoice
// generation for a lease. NextInvoiceAt is the cursor: it only moves
// forward, always onto the cycle schedule anchored at StartDate, and only
// inside the same transaction that writes the invoice it fired for.
type RecurringBillable struct {
	ID            int64            `json:"id"`
	LeaseID       int64            `json:"lease_id"`
	Description   string           `json:"description"`
	Amount        decimal.Decimal  `json:"amount"`
	Category      BillableCategory `json:"category"`
	Cycle         leases.Cycle     `json:"cycle"`
	StartDate     time.Time        `json:"start_date"`
	NextInvoiceAt time.Time        `json:"next_invoice_at"`
	IsActive      bool             `json:"is_active"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Invoice represents a billable demand. LeaseID is nil for invoices
// billed directly to a tenant. Invoices are never deleted, only
// cancelled.
type Invoice struct {
	ID                  int64             `json:"id"`
	LeaseID             *int64            `json:"lease_id,omitempty"`
	TenantID            *int64            `json:"tenant_id,omitempty"`
	RecurringBillableID *int64            `json:"recurring_billable_id,omitempty"`
	InvoiceNumber       string            `json:"invoice_number"`
	Category            BillableCategory  `json:"category"`
	DueAmount           decimal.Decimal   `json:"due_amount"`
	DueDate             time.Time         `json:"due_date"`
	Status              InvoiceStatus     `json:"status"`
	LineItems           []InvoiceLineItem `json:"line_items,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// InvoiceLineItem is a single ordered line on an invoice
type InvoiceLineItem struct {
	ID          int64           `json:"id"`
	InvoiceID   int64           `json:"invoice_id"`
	Position    int             `json:"position"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	Rate        decimal.Decimal `json:"rate"`
	Amount      decimal.Decimal `json:"amount"`
}

// Transaction is an immutable payment event. It references the invoice
// (and lease) it pays against; invoices never reference transactions so
// that an invoice can accumulate partial payments over time.
type Transaction struct {
	ID         int64           `json:"id"`
	InvoiceID  *int64          `json:"invoice_id,omitempty"`
	LeaseID    *int64          `json:"lease_id,omitempty"`
	AmountPaid decimal.Decimal `json:"amount_paid"`
	Reference  string          `json:"reference"`
	CreatedAt  time.Time       `json:"created_at"`
}

// CreateBillableRequest represents a request to register recurring
// invoicing for a lease
type CreateBillableRequest struct {
	LeaseID     int64            `json:"lease_id"`
	Description string           `json:"description"`
	Amount      decimal.Decimal  `json:"amount"`
	Category    BillableCategory `json:"category"`
	Cycle       leases.Cycle     `json:"cycle"`
	StartDate   time.Time        `json:"start_date"`
}

// CreateInvoiceRequest represents a manually entered invoice. Exactly one
// of LeaseID or TenantID must be set.
type CreateInvoiceRequest struct {
	LeaseID   *int64            `json:"lease_id,omitempty"`
	TenantID  *int64            `json:"tenant_id,omitempty"`
	Category  BillableCategory  `json:"category"`
	DueAmount decimal.Decimal   `json:"due_amount"`
	DueDate   time.Time         `json:"due_date"`
	LineItems []InvoiceLineItem `json:"line_items,omitempty"`
	Draft     bool              `json:"draft,omitempty"`
}

// reconcileStatus computes the invoice status implied by the transaction
// ledger. Pure and idempotent: replaying the same ledger always yields
// the same status. Terminal statuses are never recomputed away.
func reconcileStatus(current InvoiceStatus, dueAmount, totalPaid decimal.Decimal) InvoiceStatus {
	if current.Terminal() {
		return current
	}
	switch {
	case totalPaid.GreaterThanOrEqual(dueAmount):
		return InvoiceStatusPaid
	case totalPaid.IsPositive():
		return InvoiceStatusPartiallyPaid
	default:
		return current
	}
}
