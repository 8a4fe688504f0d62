package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/leaseward/leaseward/pkg/billing"
	"github.com/leaseward/leaseward/pkg/httputil"
	"github.com/leaseward/leaseward/pkg/leases"
	"github.com/leaseward/leaseward/pkg/observability"
)

// LeaseHandlers handles lease lifecycle HTTP requests
type LeaseHandlers struct {
	leaseService   leases.Service
	billingService billing.Service
	logger         *observability.Logger
	metrics        *observability.Metrics
}

// NewLeaseHandlers creates a new LeaseHandlers. A nil metrics gets a
// private registry so handlers never nil-check.
func NewLeaseHandlers(leaseService leases.Service, billingService billing.Service, logger *observability.Logger, metrics *observability.Metrics) *LeaseHandlers {
	if metrics == nil {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}
	return &LeaseHandlers{
		leaseService:   leaseService,
		billingService: billingService,
		logger:         logger,
		metrics:        metrics,
	}
}

// RegisterRoutes registers lease routes
func (h *LeaseHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/leases", h.CreateLease).Methods("POST")
	router.HandleFunc("/leases", h.ListLeases).Methods("GET")
	router.HandleFunc("/leases/{id}", h.GetLease).Methods("GET")
	router.HandleFunc("/leases/{id}/renew", h.RenewLease).Methods("POST")
	router.HandleFunc("/leases/{id}/terminate", h.TerminateLease).Methods("POST")
	router.HandleFunc("/leases/{id}/settlement", h.GetSettlement).Methods("GET")
	router.HandleFunc("/leases/{id}/invoices", h.ListLeaseInvoices).Methods("GET")
}

// CreateLeaseResponse is the aggregate returned by lease creation. The
// billable and invoices are only present when the lease auto-invoices.
type CreateLeaseResponse struct {
	Lease    *leases.Lease              `json:"lease"`
	Billable *billing.RecurringBillable `json:"billable,omitempty"`
	Invoices []*billing.Invoice         `json:"invoices,omitempty"`
}

// createLeaseRequest is the HTTP body for lease creation. MarkPastPaid
// only matters for backdated leases: it records already-collected rent
// as paid invoices instead of pending ones.
type createLeaseRequest struct {
	leases.CreateLeaseRequest
	MarkPastPaid bool `json:"mark_past_paid,omitempty"`
}

// CreateLease creates a lease and, when auto-invoicing is requested,
// registers its recurring rent billable and backfills invoices for any
// periods already elapsed.
func (h *LeaseHandlers) CreateLease(w http.ResponseWriter, r *http.Request) {
	var req createLeaseRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	lease, err := h.leaseService.CreateLease(r.Context(), &req.CreateLeaseRequest)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := &CreateLeaseResponse{Lease: lease}
	if lease.AutoInvoice {
		billable, err := h.billingService.CreateRecurringBillable(r.Context(), &billing.CreateBillableRequest{
			LeaseID:     lease.ID,
			Description: "Monthly rent",
			Amount:      lease.RentAmount,
			Category:    billing.CategoryRent,
			Cycle:       lease.InvoiceCycle,
			StartDate:   lease.StartDate,
		})
		if err != nil {
			// The lease exists but its billable does not. Surface the
			// failure rather than return a half-built aggregate.
			h.logger.WithError(err).WithLease(lease.ID).Error("failed to register recurring billable for new lease")
			writeServiceError(w, err)
			return
		}
		resp.Billable = billable

		invoices, err := h.billingService.BackfillLease(r.Context(), lease.ID, req.MarkPastPaid)
		if err != nil {
			h.logger.WithError(err).WithLease(lease.ID).Error("failed to backfill invoices for new lease")
			writeServiceError(w, err)
			return
		}
		resp.Invoices = invoices
		h.metrics.InvoicesBackfilledTotal.Add(float64(len(invoices)))
	}

	httputil.WriteCreated(w, resp)
}

// GetLease retrieves a lease by ID
func (h *LeaseHandlers) GetLease(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	lease, err := h.leaseService.GetLease(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, lease)
}

// ListLeases lists leases filtered by lifecycle status. Defaults to
// active leases.
func (h *LeaseHandlers) ListLeases(w http.ResponseWriter, r *http.Request) {
	status := leases.LeaseStatus(httputil.ParseQueryString(r, "status", string(leases.LeaseStatusActive)))

	list, err := h.leaseService.ListLeasesByStatus(r.Context(), status)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

// RenewLease extends a lease's end date and optionally adjusts the rent
func (h *LeaseHandlers) RenewLease(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req leases.RenewLeaseRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	lease, err := h.leaseService.RenewLease(r.Context(), id, &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, lease)
}

// TerminateLease settles and terminates a lease: recurring invoicing
// stops, open invoices are voided and the settlement summary is
// returned. Deposit refunds are netted against outstanding balances.
func (h *LeaseHandlers) TerminateLease(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	settlement, err := h.billingService.SettleLease(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	h.metrics.SettlementsTotal.Inc()
	h.metrics.InvoicesVoidedTotal.Add(float64(len(settlement.OpenInvoices)))
	h.logger.WithLease(id).WithFields(map[string]interface{}{
		"refund_amount": settlement.RefundAmount.String(),
		"shortfall":     settlement.Shortfall.String(),
	}).Info("lease settled and terminated")
	httputil.WriteSuccess(w, settlement)
}

// GetSettlement previews the settlement of a lease without changing any
// state
func (h *LeaseHandlers) GetSettlement(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	settlement, err := h.billingService.SettlementPreview(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, settlement)
}

// ListLeaseInvoices lists every invoice attached to a lease, newest due
// date first
func (h *LeaseHandlers) ListLeaseInvoices(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	invoices, err := h.billingService.ListInvoicesForLease(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, invoices)
}
