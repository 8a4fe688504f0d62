// Package leases manages the lease aggregate: tenancy records, their
// lifecycle status (active/expired/terminated) and the billing cadence
// each lease carries.
//
// # Overview
//
// A lease ties one unit to one or more tenants for a period starting at
// StartDate, optionally ending at EndDate (open-ended month-to-month when
// nil). The lease owns the financial terms the billing core consumes:
// rent amount, deposit amount and invoice cycle.
//
// Leases are never deleted. Termination and expiry are soft transitions
// recorded in Status so that historic invoices and transactions keep a
// valid owner.
//
// # Usage Example
//
// Create a lease:
//
//	lease, err := service.CreateLease(ctx, &leases.CreateLeaseRequest{
//		UnitID:       unitID,
//		TenantIDs:    []int64{tenantID},
//		StartDate:    start,
//		RentAmount:   decimal.NewFromInt(1000),
//		InvoiceCycle: leases.CycleMonthly,
//		AutoInvoice:  true,
//	})
//
// # Related Packages
//
//   - pkg/billing: recurring invoicing, reconciliation and settlement
package leases
