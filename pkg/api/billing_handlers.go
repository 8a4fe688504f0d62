package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/leaseward/leaseward/pkg/billing"
	"github.com/leaseward/leaseward/pkg/httputil"
	"github.com/leaseward/leaseward/pkg/observability"
)

// BillingHandlers handles billable, invoice and payment HTTP requests
type BillingHandlers struct {
	billingService billing.Service
	logger         *observability.Logger
	metrics        *observability.Metrics
	clock          clockwork.Clock
	loc            *time.Location
}

// NewBillingHandlers creates a new BillingHandlers. loc is the civil
// timezone used to interpret date query parameters; it defaults to UTC.
// A nil metrics gets a private registry so handlers never nil-check.
func NewBillingHandlers(billingService billing.Service, logger *observability.Logger, metrics *observability.Metrics, clock clockwork.Clock, loc *time.Location) *BillingHandlers {
	if metrics == nil {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &BillingHandlers{
		billingService: billingService,
		logger:         logger,
		metrics:        metrics,
		clock:          clock,
		loc:            loc,
	}
}

// RegisterRoutes registers billing routes
func (h *BillingHandlers) RegisterRoutes(router *mux.Router) {
	// Recurring billables
	router.HandleFunc("/billables", h.CreateBillable).Methods("POST")
	router.HandleFunc("/billables/{id}", h.GetBillable).Methods("GET")
	router.HandleFunc("/billables/{id}/generate", h.GenerateInvoice).Methods("POST")

	// Invoices
	router.HandleFunc("/invoices", h.CreateInvoice).Methods("POST")
	router.HandleFunc("/invoices/{id}", h.GetInvoice).Methods("GET")
	router.HandleFunc("/invoices/{id}/issue", h.IssueInvoice).Methods("POST")
	router.HandleFunc("/invoices/{id}/void", h.VoidInvoice).Methods("POST")
	router.HandleFunc("/invoices/{id}/mark-paid", h.MarkInvoicePaid).Methods("POST")
	router.HandleFunc("/invoices/{id}/transactions", h.ListInvoiceTransactions).Methods("GET")

	// Payments
	router.HandleFunc("/payments/webhook", h.HandlePaymentWebhook).Methods("POST")
}

// CreateBillable registers recurring invoicing for a lease
func (h *BillingHandlers) CreateBillable(w http.ResponseWriter, r *http.Request) {
	var req billing.CreateBillableRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	billable, err := h.billingService.CreateRecurringBillable(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteCreated(w, billable)
}

// GetBillable retrieves a recurring billable by ID
func (h *BillingHandlers) GetBillable(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	billable, err := h.billingService.GetRecurringBillable(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, billable)
}

// GenerateInvoice generates the next due invoice for a billable. An
// optional as_of=YYYY-MM-DD query parameter overrides the evaluation
// date. Returns 422 when the billable's cursor has not reached the
// evaluation date yet.
func (h *BillingHandlers) GenerateInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	asOf, err := httputil.ParseQueryDate(r, "as_of", h.loc, h.clock.Now())
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	invoice, err := h.billingService.GenerateInvoice(r.Context(), id, asOf)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	h.metrics.InvoicesGeneratedTotal.WithLabelValues(string(invoice.Category)).Inc()
	httputil.WriteCreated(w, invoice)
}

// CreateInvoice records a manually entered invoice
func (h *BillingHandlers) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req billing.CreateInvoiceRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	invoice, err := h.billingService.CreateInvoice(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteCreated(w, invoice)
}

// GetInvoice retrieves an invoice with its line items
func (h *BillingHandlers) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	invoice, err := h.billingService.GetInvoice(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, invoice)
}

// IssueInvoice moves a draft invoice to pending
func (h *BillingHandlers) IssueInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	invoice, err := h.billingService.IssueInvoice(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, invoice)
}

// VoidInvoice cancels an invoice that should never be collected
func (h *BillingHandlers) VoidInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	invoice, err := h.billingService.VoidInvoice(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	h.metrics.InvoicesVoidedTotal.Inc()
	httputil.WriteSuccess(w, invoice)
}

// MarkInvoicePaid force-marks an invoice paid without a matching
// transaction, for payments collected outside the system
func (h *BillingHandlers) MarkInvoicePaid(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	invoice, err := h.billingService.MarkAsPaid(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	h.metrics.PaymentsAppliedTotal.WithLabelValues(string(invoice.Status)).Inc()
	httputil.WriteSuccess(w, invoice)
}

// ListInvoiceTransactions lists the payment ledger of an invoice
func (h *BillingHandlers) ListInvoiceTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	transactions, err := h.billingService.ListTransactionsForInvoice(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, transactions)
}

// PaymentWebhookRequest is the payload posted by the payment provider
// when a payment clears
type PaymentWebhookRequest struct {
	InvoiceID int64           `json:"invoice_id"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
}

// PaymentWebhookResponse pairs the recorded transaction with the
// invoice state after reconciliation
type PaymentWebhookResponse struct {
	Transaction *billing.Transaction `json:"transaction"`
	Invoice     *billing.Invoice     `json:"invoice"`
}

// HandlePaymentWebhook records a cleared payment against an invoice and
// reconciles the invoice status from its ledger. Partial payments leave
// the invoice partially paid; payments at or above the due amount mark
// it paid. Payments on already-paid invoices are still recorded.
func (h *BillingHandlers) HandlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var req PaymentWebhookRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.InvoiceID <= 0 {
		httputil.WriteValidationError(w, "invoice_id is required")
		return
	}

	transaction, invoice, err := h.billingService.ApplyPayment(r.Context(), req.InvoiceID, req.Amount, req.Reference)
	if err != nil {
		h.logger.WithError(err).WithInvoice(req.InvoiceID).Warn("payment webhook rejected")
		writeServiceError(w, err)
		return
	}

	h.metrics.PaymentsAppliedTotal.WithLabelValues(string(invoice.Status)).Inc()
	h.logger.WithInvoice(invoice.ID).WithFields(map[string]interface{}{
		"amount":    transaction.AmountPaid.String(),
		"reference": transaction.Reference,
		"status":    string(invoice.Status),
	}).Info("payment applied")
	httputil.WriteCreated(w, &PaymentWebhookResponse{Transaction: transaction, Invoice: invoice})
}
