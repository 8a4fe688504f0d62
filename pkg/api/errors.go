package api

import (
	"errors"
	"net/http"

	"github.com/leaseward/leaseward/pkg/billing"
	"github.com/leaseward/leaseward/pkg/httputil"
	"github.com/leaseward/leaseward/pkg/leases"
)

// writeServiceError maps domain errors onto HTTP statuses. Anything not
// carrying a known sentinel is treated as an internal failure and the
// underlying message is not leaked to the client.
func writeServiceError(w http.ResponseWriter, err error) {
	var transition *billing.InvalidTransitionError

	switch {
	case errors.Is(err, billing.ErrNotFound), errors.Is(err, leases.ErrNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, billing.ErrInvalidInput), errors.Is(err, leases.ErrInvalidInput):
		httputil.WriteValidationError(w, err.Error())
	case errors.Is(err, billing.ErrConflict):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, billing.ErrNotDue), errors.Is(err, billing.ErrBillableInactive):
		httputil.WriteUnprocessable(w, err.Error())
	case errors.As(err, &transition):
		httputil.WriteUnprocessable(w, transition.Error())
	default:
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "internal error")
	}
}
