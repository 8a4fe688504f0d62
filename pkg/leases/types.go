package leases

import (
	"time"

	"github.com/shopspring/decimal"
)

// Cycle represents the cadence at which a lease is invoiced
type Cycle string

const (
	CycleMonthly   Cycle = "monthly"
	CycleQuarterly Cycle = "quarterly"
)

// Months returns the length of the cycle in calendar months
func (c Cycle) Months() int {
	switch c {
	case CycleMonthly:
		return 1
	case CycleQuarterly:
		return 3
	default:
		return 0
	}
}

// Valid reports whether the cycle is a known cadence
func (c Cycle) Valid() bool {
	return c.Months() > 0
}

// LeaseStatus represents the lifecycle status of a lease
type LeaseStatus string

const (
	LeaseStatusActive     LeaseStatus = "active"
	LeaseStatusExpired    LeaseStatus = "expired"
	LeaseStatusTerminated LeaseStatus = "terminated"
)

// Lease represents a tenancy agreement for a unit.
// Leases are never physically deleted; lifecycle is tracked via Status.
type Lease struct {
	ID            int64           `json:"id"`
	UnitID        int64           `json:"unit_id"`
	TenantIDs     []int64         `json:"tenant_ids"`
	StartDate     time.Time       `json:"start_date"`
	EndDate       *time.Time      `json:"end_date,omitempty"` // nil for open-ended month-to-month
	RentAmount    decimal.Decimal `json:"rent_amount"`
	DepositAmount decimal.Decimal `json:"deposit_amount"`
	InvoiceCycle  Cycle           `json:"invoice_cycle"`
	AutoInvoice   bool            `json:"auto_invoice"`
	Status        LeaseStatus     `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// OpenEnded reports whether the lease has no fixed end date
func (l *Lease) OpenEnded() bool {
	return l.EndDate == nil
}

// CreateLeaseRequest represents a request to create a lease
type CreateLeaseRequest struct {
	UnitID        int64           `json:"unit_id"`
	TenantIDs     []int64         `json:"tenant_ids"`
	StartDate     time.Time       `json:"start_date"`
	EndDate       *time.Time      `json:"end_date,omitempty"`
	RentAmount    decimal.Decimal `json:"rent_amount"`
	DepositAmount decimal.Decimal `json:"deposit_amount"`
	InvoiceCycle  Cycle           `json:"invoice_cycle"`
	AutoInvoice   bool            `json:"auto_invoice"`
}

// RenewLeaseRequest represents a request to extend a lease
type RenewLeaseRequest struct {
	EndDate    *time.Time       `json:"end_date,omitempty"` // nil converts to open-ended
	RentAmount *decimal.Decimal `json:"rent_amount,omitempty"`
}
