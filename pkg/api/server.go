package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"

	"github.com/leaseward/leaseward/pkg/billing"
	"github.com/leaseward/leaseward/pkg/httputil"
	"github.com/leaseward/leaseward/pkg/leases"
	"github.com/leaseward/leaseward/pkg/observability"
)

// maxBodyBytes caps request bodies. No endpoint accepts payloads
// anywhere near this size.
const maxBodyBytes = 1 << 20

// Server represents the API server
type Server struct {
	router          *mux.Router
	logger          *observability.Logger
	metrics         *observability.Metrics
	leaseHandlers   *LeaseHandlers
	billingHandlers *BillingHandlers
}

// ServerOptions configures a Server. Clock and Location default to the
// real clock and UTC.
type ServerOptions struct {
	Logger   *observability.Logger
	Metrics  *observability.Metrics
	Clock    clockwork.Clock
	Location *time.Location
}

// NewServer creates a new API server with all routes registered under
// /api/v1
func NewServer(leaseService leases.Service, billingService billing.Service, opts ServerOptions) *Server {
	if opts.Logger == nil {
		opts.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	s := &Server{
		router:          mux.NewRouter(),
		logger:          opts.Logger,
		metrics:         opts.Metrics,
		leaseHandlers:   NewLeaseHandlers(leaseService, billingService, opts.Logger, opts.Metrics),
		billingHandlers: NewBillingHandlers(billingService, opts.Logger, opts.Metrics, opts.Clock, opts.Location),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	s.leaseHandlers.RegisterRoutes(v1)
	s.billingHandlers.RegisterRoutes(v1)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFoundError(w, "route not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}

// Handler returns the server's root handler with the middleware stack
// applied
func (s *Server) Handler() http.Handler {
	middlewares := []func(http.Handler) http.Handler{
		httputil.RequestIDMiddleware(s.logger),
		httputil.LoggingMiddleware(s.logger),
		httputil.RecoveryMiddleware(s.logger),
		httputil.MaxBytesMiddleware(maxBodyBytes),
	}
	if s.metrics != nil {
		middlewares = append(middlewares, observability.HTTPMetricsMiddleware(s.metrics))
	}
	return httputil.Chain(middlewares...)(s.router)
}

// Router exposes the underlying router so additional routes, such as
// health endpoints, can be attached before serving.
func (s *Server) Router() *mux.Router {
	return s.router
}
