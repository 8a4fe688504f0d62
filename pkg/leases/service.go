package leases

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
)

// ErrNotFound is returned when a lease does not exist
var ErrNotFound = errors.New("lease not found")

// ErrInvalidInput is wrapped by all validation failures in this package
var ErrInvalidInput = errors.New("invalid lease input")

// Service defines the interface for lease operations
type Service interface {
	CreateLease(ctx context.Context, req *CreateLeaseRequest) (*Lease, error)
	GetLease(ctx context.Context, id int64) (*Lease, error)
	ListLeasesByStatus(ctx context.Context, status LeaseStatus) ([]*Lease, error)
	RenewLease(ctx context.Context, id int64, req *RenewLeaseRequest) (*Lease, error)
	TerminateLease(ctx context.Context, id int64) error
	TerminateLeaseTx(ctx context.Context, tx *sql.Tx, id int64) error
	MarkExpiredLeases(ctx context.Context, asOf time.Time) (int64, error)
}

// PostgresService implements the lease Service interface using PostgreSQL
type PostgresService struct {
	db    *sql.DB
	clock clockwork.Clock
}

// NewPostgresService creates a new PostgresService
func NewPostgresService(db *sql.DB, clock clockwork.Clock) *PostgresService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &PostgresService{db: db, clock: clock}
}

func validateCreate(req *CreateLeaseRequest) error {
	if req.UnitID <= 0 {
		return fmt.Errorf("%w: unit_id is required", ErrInvalidInput)
	}
	if len(req.TenantIDs) == 0 {
		return fmt.Errorf("%w: at least one tenant is required", ErrInvalidInput)
	}
	if req.StartDate.IsZero() {
		return fmt.Errorf("%w: start_date is required", ErrInvalidInput)
	}
	if req.EndDate != nil && req.EndDate.Before(req.StartDate) {
		return fmt.Errorf("%w: end_date precedes start_date", ErrInvalidInput)
	}
	if req.RentAmount.IsNegative() {
		return fmt.Errorf("%w: rent_amount must not be negative", ErrInvalidInput)
	}
	if req.DepositAmount.IsNegative() {
		return fmt.Errorf("%w: deposit_amount must not be negative", ErrInvalidInput)
	}
	if !req.InvoiceCycle.Valid() {
		return fmt.Errorf("%w: unknown invoice cycle %q", ErrInvalidInput, req.InvoiceCycle)
	}
	return nil
}

// CreateLease creates a lease and its tenant links in one transaction
func (s *PostgresService) CreateLease(ctx context.Context, req *CreateLeaseRequest) (*Lease, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	lease := &Lease{
		UnitID:        req.UnitID,
		TenantIDs:     req.TenantIDs,
		StartDate:     req.StartDate,
		EndDate:       req.EndDate,
		RentAmount:    req.RentAmount,
		DepositAmount: req.DepositAmount,
		InvoiceCycle:  req.InvoiceCycle,
		AutoInvoice:   req.AutoInvoice,
		Status:        LeaseStatusActive,
	}

	query := `
		INSERT INTO leases (unit_id, start_date, end_date, rent_amount, deposit_amount, invoice_cycle, auto_invoice, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`
	err = tx.QueryRowContext(ctx, query, lease.UnitID, lease.StartDate, lease.EndDate,
		lease.RentAmount, lease.DepositAmount, lease.InvoiceCycle, lease.AutoInvoice, lease.Status).
		Scan(&lease.ID, &lease.CreatedAt, &lease.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create lease: %w", err)
	}

	for _, tenantID := range req.TenantIDs {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO lease_tenants (lease_id, tenant_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			lease.ID, tenantID)
		if err != nil {
			return nil, fmt.Errorf("failed to link tenant %d: %w", tenantID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit lease: %w", err)
	}
	return lease, nil
}

const leaseColumns = `
	l.id, l.unit_id,
	ARRAY(SELECT lt.tenant_id FROM lease_tenants lt WHERE lt.lease_id = l.id ORDER BY lt.tenant_id),
	l.start_date, l.end_date, l.rent_amount, l.deposit_amount,
	l.invoice_cycle, l.auto_invoice, l.status, l.created_at, l.updated_at
`

func scanLease(row interface{ Scan(...any) error }) (*Lease, error) {
	lease := &Lease{}
	var tenantIDs pq.Int64Array
	err := row.Scan(
		&lease.ID, &lease.UnitID, &tenantIDs,
		&lease.StartDate, &lease.EndDate, &lease.RentAmount, &lease.DepositAmount,
		&lease.InvoiceCycle, &lease.AutoInvoice, &lease.Status,
		&lease.CreatedAt, &lease.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	lease.TenantIDs = tenantIDs
	return lease, nil
}

// GetLease retrieves a lease by ID
func (s *PostgresService) GetLease(ctx context.Context, id int64) (*Lease, error) {
	query := `SELECT ` + leaseColumns + ` FROM leases l WHERE l.id = $1`
	lease, err := scanLease(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lease: %w", err)
	}
	return lease, nil
}

// ListLeasesByStatus lists leases in the given lifecycle status
func (s *PostgresService) ListLeasesByStatus(ctx context.Context, status LeaseStatus) ([]*Lease, error) {
	query := `SELECT ` + leaseColumns + ` FROM leases l WHERE l.status = $1 ORDER BY l.id`
	rows, err := s.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list leases: %w", err)
	}
	defer rows.Close()

	var result []*Lease
	for rows.Next() {
		lease, err := scanLease(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lease: %w", err)
		}
		result = append(result, lease)
	}
	return result, rows.Err()
}

// RenewLease extends a lease's end date and optionally adjusts the rent.
// Only active or expired leases can be renewed; renewal reactivates an
// expired lease.
func (s *PostgresService) RenewLease(ctx context.Context, id int64, req *RenewLeaseRequest) (*Lease, error) {
	current, err := s.GetLease(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == LeaseStatusTerminated {
		return nil, fmt.Errorf("%w: terminated lease cannot be renewed", ErrInvalidInput)
	}
	if req.EndDate != nil && req.EndDate.Before(current.StartDate) {
		return nil, fmt.Errorf("%w: end_date precedes start_date", ErrInvalidInput)
	}

	rent := current.RentAmount
	if req.RentAmount != nil {
		if req.RentAmount.IsNegative() {
			return nil, fmt.Errorf("%w: rent_amount must not be negative", ErrInvalidInput)
		}
		rent = *req.RentAmount
	}

	query := `
		UPDATE leases
		SET end_date = $1, rent_amount = $2, status = $3, updated_at = NOW()
		WHERE id = $4
	`
	if _, err := s.db.ExecContext(ctx, query, req.EndDate, rent, LeaseStatusActive, id); err != nil {
		return nil, fmt.Errorf("failed to renew lease: %w", err)
	}
	return s.GetLease(ctx, id)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// TerminateLease marks a lease terminated. Idempotent: terminating a
// lease that is already terminated is a no-op.
func (s *PostgresService) TerminateLease(ctx context.Context, id int64) error {
	return terminateLease(ctx, s.db, id)
}

// TerminateLeaseTx terminates a lease inside a caller-owned transaction,
// so callers coordinating lease state with records in other tables can
// commit or roll back everything as one unit.
func (s *PostgresService) TerminateLeaseTx(ctx context.Context, tx *sql.Tx, id int64) error {
	return terminateLease(ctx, tx, id)
}

func terminateLease(ctx context.Context, db execer, id int64) error {
	result, err := db.ExecContext(ctx,
		`UPDATE leases SET status = $1, updated_at = NOW() WHERE id = $2`,
		LeaseStatusTerminated, id)
	if err != nil {
		return fmt.Errorf("failed to terminate lease: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkExpiredLeases flips active leases whose fixed end date has passed
// to expired. Returns the number of leases transitioned.
func (s *PostgresService) MarkExpiredLeases(ctx context.Context, asOf time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE leases
		SET status = $1, updated_at = NOW()
		WHERE status = $2 AND end_date IS NOT NULL AND end_date < $3
	`, LeaseStatusExpired, LeaseStatusActive, asOf)
	if err != nil {
		return 0, fmt.Errorf("failed to mark expired leases: %w", err)
	}
	return result.RowsAffected()
}
