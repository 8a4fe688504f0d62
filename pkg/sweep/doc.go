// Package sweep implements the recurring billing sweep.
//
// # Overview
//
// A sweep is one pass of the billing clock: expire leases whose end date has
// passed, generate an invoice for every recurring billable whose cursor is due
// (looping until each cursor moves past the sweep day, so gaps after downtime
// are closed), and mark unpaid past-due invoices overdue.
//
// Sweeps are idempotent. The generator's cursor guard and the per-period
// unique index mean a rerun for the same day produces no duplicate invoices.
//
// # Coordination
//
// When multiple instances share a database, a Redis SETNX lock keyed by
// leaseward:sweep:lock ensures only one instance sweeps at a time; the others
// skip the run. Without Redis the sweeper runs unlocked.
//
// # Usage Example
//
//	sweeper := sweep.New(billingSvc, leaseSvc, sweep.Options{
//		Redis:       redisClient,
//		Logger:      logger,
//		Metrics:     metrics,
//		Concurrency: 4,
//	})
//	result, err := sweeper.Run(ctx)
//
// # Related Packages
//
//   - pkg/billing: Invoice generation and overdue transitions
//   - pkg/leases: Lease expiry
package sweep
