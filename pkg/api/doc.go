// Package api provides the HTTP REST API server for the LeaseWard
// billing system.
//
// # Overview
//
// This package exposes the lease and billing services as RESTful
// endpoints under /api/v1. It is a thin layer: handlers parse requests,
// call the services and translate domain errors into HTTP statuses. All
// billing rules live in the billing and leases packages.
//
// The API is built on gorilla/mux and organized into two handler
// groups:
//
//   - LeaseHandlers: lease creation (with recurring billable
//     registration and invoice backfill), renewal, termination with
//     settlement, settlement preview and per-lease invoice listing
//   - BillingHandlers: recurring billables, manual invoices, invoice
//     lifecycle actions (issue, void, mark-paid), transaction listing
//     and the payment provider webhook
//
// # Error Mapping
//
// Domain sentinels map onto statuses: not-found errors become 404,
// validation errors 400, concurrent-modification conflicts 409, and
// rejected lifecycle actions (not due, inactive billable, invalid
// status transition) 422. Everything else is a 500 with a generic body.
//
// # Usage Example
//
//	server := api.NewServer(leaseSvc, billingSvc, api.ServerOptions{
//		Logger:  logger,
//		Metrics: metrics,
//	})
//	http.ListenAndServe(":8080", server.Handler())
//
// # Related Packages
//
//   - pkg/leases: lease lifecycle service
//   - pkg/billing: billable registry, invoices, payments, settlement
//   - pkg/httputil: request parsing and response helpers
//   - pkg/observability: logging, metrics and health endpoints
package api
