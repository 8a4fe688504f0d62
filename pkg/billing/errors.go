package billing

import (
	"errors"
	"fmt"
)

// Sentinel errors for the billing core. Callers are expected to branch
// with errors.Is / errors.As.
var (
	// ErrNotFound is returned when a billable, invoice or transaction
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is wrapped by all validation failures. Validation
	// rejects before any state change, so retrying with corrected input
	// is always safe.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict is returned when a concurrent modification is detected
	// during atomic cursor advancement or payment application. The unit
	// of work was rolled back; callers retry the whole unit.
	ErrConflict = errors.New("concurrent modification conflict")

	// ErrNotDue is returned when invoice generation is requested for a
	// billable whose cursor has not yet reached the as-of date.
	ErrNotDue = errors.New("billable not due for invoicing")

	// ErrBillableInactive is returned when invoice generation is
	// requested for a deactivated billable.
	ErrBillableInactive = errors.New("recurring billable is inactive")
)

// InvalidTransitionError reports a rejected invoice status transition.
// These are terminal: retrying the same transition will fail again.
type InvalidTransitionError struct {
	InvoiceID int64
	From      InvoiceStatus
	To        InvoiceStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invoice %d: illegal status transition %s -> %s", e.InvoiceID, e.From, e.To)
}
