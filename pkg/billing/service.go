package billing

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/leaseward/leaseward/pkg/leases"
)

// Service defines the interface for the billing lifecycle: the recurring
// billable registry, invoice generation, payment reconciliation and lease
// settlement.
type Service interface {
	// Recurring billable registry
	CreateRecurringBillable(ctx context.Context, req *CreateBillableRequest) (*RecurringBillable, error)
	GetRecurringBillable(ctx context.Context, id int64) (*RecurringBillable, error)
	DueForInvoicing(ctx context.Context, asOf time.Time) ([]*RecurringBillable, error)
	DeactivateForLease(ctx context.Context, leaseID int64) error

	// Invoice generation
	GenerateInvoice(ctx context.Context, billableID int64, asOf time.Time) (*Invoice, error)
	BackfillLease(ctx context.Context, leaseID int64, markPastPaid bool) ([]*Invoice, error)

	// Invoices
	CreateInvoice(ctx context.Context, req *CreateInvoiceRequest) (*Invoice, error)
	GetInvoice(ctx context.Context, id int64) (*Invoice, error)
	ListInvoicesForLease(ctx context.Context, leaseID int64) ([]*Invoice, error)
	IssueInvoice(ctx context.Context, id int64) (*Invoice, error)

	// Payment reconciliation
	ApplyPayment(ctx context.Context, invoiceID int64, amount decimal.Decimal, reference string) (*Transaction, *Invoice, error)
	ListTransactionsForInvoice(ctx context.Context, invoiceID int64) ([]*Transaction, error)
	MarkOverdue(ctx context.Context, invoiceID int64, asOf time.Time) (*Invoice, error)
	SweepOverdue(ctx context.Context, asOf time.Time) (int64, error)
	VoidInvoice(ctx context.Context, id int64) (*Invoice, error)
	MarkAsPaid(ctx context.Context, id int64) (*Invoice, error)

	// Settlement
	SettlementPreview(ctx context.Context, leaseID int64) (*Settlement, error)
	SettleLease(ctx context.Context, leaseID int64) (*Settlement, error)
}

// PostgresService implements the billing Service interface using
// PostgreSQL
type PostgresService struct {
	db           *sql.DB
	leaseService leases.Service
	clock        clockwork.Clock
	loc          *time.Location
}

// NewPostgresService creates a new PostgresService. loc is the civil
// timezone all billing dates are computed in; it defaults to UTC.
func NewPostgresService(db *sql.DB, leaseService leases.Service, clock clockwork.Clock, loc *time.Location) *PostgresService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &PostgresService{
		db:           db,
		leaseService: leaseService,
		clock:        clock,
		loc:          loc,
	}
}

// today returns the current day boundary in the billing timezone
func (s *PostgresService) today() time.Time {
	return StartOfDay(s.clock.Now(), s.loc)
}

func validateBillable(req *CreateBillableRequest) error {
	if req.LeaseID <= 0 {
		return fmt.Errorf("%w: lease_id is required", ErrInvalidInput)
	}
	if !req.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if !req.Cycle.Valid() {
		return fmt.Errorf("%w: unknown cycle %q", ErrInvalidInput, req.Cycle)
	}
	if req.StartDate.IsZero() {
		return fmt.Errorf("%w: start_date is required", ErrInvalidInput)
	}
	return nil
}

// CreateRecurringBillable registers recurring invoicing for a lease. The
// cursor is initialized to the start date: the first invoice is due at
// lease start, not one cycle later.
func (s *PostgresService) CreateRecurringBillable(ctx context.Context, req *CreateBillableRequest) (*RecurringBillable, error) {
	if err := validateBillable(req); err != nil {
		return nil, err
	}
	if _, err := s.leaseService.GetLease(ctx, req.LeaseID); err != nil {
		return nil, fmt.Errorf("failed to resolve lease %d: %w", req.LeaseID, err)
	}

	category := req.Category
	if category == "" {
		category = CategoryRent
	}
	start := CivilDate(req.StartDate, s.loc)

	b := &RecurringBillable{
		LeaseID:       req.LeaseID,
		Description:   req.Description,
		Amount:        req.Amount,
		Category:      category,
		Cycle:         req.Cycle,
		StartDate:     start,
		NextInvoiceAt: start,
		IsActive:      true,
	}

	query := `
		INSERT INTO recurring_billables (lease_id, description, amount, category, cycle, start_date, next_invoice_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query, b.LeaseID, b.Description, b.Amount, b.Category,
		b.Cycle, b.StartDate, b.NextInvoiceAt, b.IsActive).
		Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create recurring billable: %w", err)
	}
	return b, nil
}

const billableColumns = `
	id, lease_id, description, amount, category, cycle, start_date, next_invoice_at, is_active, created_at, updated_at
`

// scanBillable rehydrates the DATE columns as civil dates in the billing
// zone: the driver hands them over as midnight in its session zone, and
// converting that instant into a billing zone west of it would land on
// the previous day. The cycle column is not CHECK-constrained, so an
// unknown cadence is rejected here before any schedule arithmetic can
// divide by its zero month count.
func (s *PostgresService) scanBillable(row interface{ Scan(...any) error }) (*RecurringBillable, error) {
	b := &RecurringBillable{}
	err := row.Scan(
		&b.ID, &b.LeaseID, &b.Description, &b.Amount, &b.Category, &b.Cycle,
		&b.StartDate, &b.NextInvoiceAt, &b.IsActive, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if !b.Cycle.Valid() {
		return nil, fmt.Errorf("billable %d has unknown cycle %q", b.ID, b.Cycle)
	}
	b.StartDate = CivilDate(b.StartDate, s.loc)
	b.NextInvoiceAt = CivilDate(b.NextInvoiceAt, s.loc)
	return b, nil
}

// GetRecurringBillable retrieves a billable by ID
func (s *PostgresService) GetRecurringBillable(ctx context.Context, id int64) (*RecurringBillable, error) {
	query := `SELECT ` + billableColumns + ` FROM recurring_billables WHERE id = $1`
	b, err := s.scanBillable(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recurring billable: %w", err)
	}
	return b, nil
}

// DueForInvoicing returns all active billables whose cursor has reached
// or passed asOf. Ordering is by ID for stable iteration only; callers
// process every returned billable, since a back-dated lease may be
// several periods behind.
func (s *PostgresService) DueForInvoicing(ctx context.Context, asOf time.Time) ([]*RecurringBillable, error) {
	query := `
		SELECT ` + billableColumns + `
		FROM recurring_billables
		WHERE is_active = TRUE AND next_invoice_at <= $1
		ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query, StartOfDay(asOf, s.loc))
	if err != nil {
		return nil, fmt.Errorf("failed to query due billables: %w", err)
	}
	defer rows.Close()

	var due []*RecurringBillable
	for rows.Next() {
		b, err := s.scanBillable(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan billable: %w", err)
		}
		due = append(due, b)
	}
	return due, rows.Err()
}

// DeactivateForLease stops recurring invoicing for a lease. Idempotent:
// deactivating an already-inactive or absent billable is a no-op.
func (s *PostgresService) DeactivateForLease(ctx context.Context, leaseID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE recurring_billables
		SET is_active = FALSE, updated_at = NOW()
		WHERE lease_id = $1 AND is_active = TRUE
	`, leaseID)
	if err != nil {
		return fmt.Errorf("failed to deactivate billables for lease %d: %w", leaseID, err)
	}
	return nil
}
