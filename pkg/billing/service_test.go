package billing

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leaseward/leaseward/pkg/leases"
)

// mockLeaseService is a mock implementation of leases.Service
type mockLeaseService struct {
	getLeaseFunc  func(ctx context.Context, id int64) (*leases.Lease, error)
	terminateFunc func(ctx context.Context, id int64) error

	terminated []int64
}

func (m *mockLeaseService) CreateLease(ctx context.Context, req *leases.CreateLeaseRequest) (*leases.Lease, error) {
	return nil, nil
}

func (m *mockLeaseService) GetLease(ctx context.Context, id int64) (*leases.Lease, error) {
	if m.getLeaseFunc != nil {
		return m.getLeaseFunc(ctx, id)
	}
	return &leases.Lease{
		ID:            id,
		UnitID:        1,
		RentAmount:    decimal.RequireFromString("1200"),
		DepositAmount: decimal.RequireFromString("5000"),
		InvoiceCycle:  leases.CycleMonthly,
		Status:        leases.LeaseStatusActive,
	}, nil
}

func (m *mockLeaseService) ListLeasesByStatus(ctx context.Context, status leases.LeaseStatus) ([]*leases.Lease, error) {
	return nil, nil
}

func (m *mockLeaseService) RenewLease(ctx context.Context, id int64, req *leases.RenewLeaseRequest) (*leases.Lease, error) {
	return nil, nil
}

func (m *mockLeaseService) TerminateLease(ctx context.Context, id int64) error {
	m.terminated = append(m.terminated, id)
	if m.terminateFunc != nil {
		return m.terminateFunc(ctx, id)
	}
	return nil
}

func (m *mockLeaseService) TerminateLeaseTx(ctx context.Context, tx *sql.Tx, id int64) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE leases SET status = $1, updated_at = NOW() WHERE id = $2`,
		leases.LeaseStatusTerminated, id); err != nil {
		return err
	}
	m.terminated = append(m.terminated, id)
	if m.terminateFunc != nil {
		return m.terminateFunc(ctx, id)
	}
	return nil
}

func (m *mockLeaseService) MarkExpiredLeases(ctx context.Context, asOf time.Time) (int64, error) {
	return 0, nil
}

// testNow is the fake wall clock for billing tests
var testNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*PostgresService, sqlmock.Sqlmock, *mockLeaseService) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	leaseSvc := &mockLeaseService{}
	svc := NewPostgresService(db, leaseSvc, clockwork.NewFakeClockAt(testNow), time.UTC)
	return svc, mock, leaseSvc
}

func billableRow(id, leaseID int64, amount string, cycle leases.Cycle, start, next time.Time, active bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "lease_id", "description", "amount", "category", "cycle",
		"start_date", "next_invoice_at", "is_active", "created_at", "updated_at",
	}).AddRow(id, leaseID, "Monthly rent", amount, "rent", string(cycle), start, next, active, testNow, testNow)
}

func invoiceRow(id, leaseID int64, due string, dueDate time.Time, status InvoiceStatus) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "lease_id", "tenant_id", "recurring_billable_id", "invoice_number",
		"category", "due_amount", "due_date", "status", "created_at", "updated_at",
	}).AddRow(id, leaseID, nil, 9, "INV-TEST", "rent", due, dueDate, string(status), testNow, testNow)
}

func TestNewPostgresServiceDefaults(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db, &mockLeaseService{}, nil, nil)
	assert.NotNil(t, svc.clock)
	assert.Equal(t, time.UTC, svc.loc)
}

func TestCreateRecurringBillable(t *testing.T) {
	start := date(2024, 1, 1)

	t.Run("success initializes cursor at start date", func(t *testing.T) {
		svc, mock, _ := newTestService(t)

		rows := sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(9, testNow, testNow)
		mock.ExpectQuery("INSERT INTO recurring_billables").
			WithArgs(int64(42), "Monthly rent", sqlmock.AnyArg(), CategoryRent,
				leases.CycleMonthly, start, start, true).
			WillReturnRows(rows)

		b, err := svc.CreateRecurringBillable(context.Background(), &CreateBillableRequest{
			LeaseID:     42,
			Description: "Monthly rent",
			Amount:      decimal.RequireFromString("1200"),
			Category:    CategoryRent,
			Cycle:       leases.CycleMonthly,
			StartDate:   start,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(9), b.ID)
		assert.Equal(t, start, b.NextInvoiceAt)
		assert.True(t, b.IsActive)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty category defaults to rent", func(t *testing.T) {
		svc, mock, _ := newTestService(t)

		mock.ExpectQuery("INSERT INTO recurring_billables").
			WithArgs(int64(42), "", sqlmock.AnyArg(), CategoryRent,
				leases.CycleMonthly, start, start, true).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(9, testNow, testNow))

		b, err := svc.CreateRecurringBillable(context.Background(), &CreateBillableRequest{
			LeaseID:   42,
			Amount:    decimal.RequireFromString("1200"),
			Cycle:     leases.CycleMonthly,
			StartDate: start,
		})
		require.NoError(t, err)
		assert.Equal(t, CategoryRent, b.Category)
	})

	t.Run("validation failures", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		valid := CreateBillableRequest{
			LeaseID:   42,
			Amount:    decimal.RequireFromString("1200"),
			Cycle:     leases.CycleMonthly,
			StartDate: start,
		}

		tests := []struct {
			name   string
			mutate func(*CreateBillableRequest)
		}{
			{"missing lease", func(r *CreateBillableRequest) { r.LeaseID = 0 }},
			{"zero amount", func(r *CreateBillableRequest) { r.Amount = decimal.Zero }},
			{"negative amount", func(r *CreateBillableRequest) { r.Amount = decimal.RequireFromString("-5") }},
			{"unknown cycle", func(r *CreateBillableRequest) { r.Cycle = "weekly" }},
			{"missing start date", func(r *CreateBillableRequest) { r.StartDate = time.Time{} }},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				req := valid
				tt.mutate(&req)
				_, err := svc.CreateRecurringBillable(context.Background(), &req)
				assert.ErrorIs(t, err, ErrInvalidInput)
			})
		}
	})

	t.Run("unknown lease is rejected", func(t *testing.T) {
		svc, _, leaseSvc := newTestService(t)
		leaseSvc.getLeaseFunc = func(ctx context.Context, id int64) (*leases.Lease, error) {
			return nil, leases.ErrNotFound
		}

		_, err := svc.CreateRecurringBillable(context.Background(), &CreateBillableRequest{
			LeaseID:   404,
			Amount:    decimal.RequireFromString("1200"),
			Cycle:     leases.CycleMonthly,
			StartDate: start,
		})
		assert.ErrorIs(t, err, leases.ErrNotFound)
	})
}

func TestGetRecurringBillable(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		svc, mock, _ := newTestService(t)
		mock.ExpectQuery("SELECT (.+) FROM recurring_billables WHERE id").
			WithArgs(int64(9)).
			WillReturnRows(billableRow(9, 42, "1200", leases.CycleMonthly, date(2024, 1, 1), date(2024, 2, 1), true))

		b, err := svc.GetRecurringBillable(context.Background(), 9)
		require.NoError(t, err)
		assert.Equal(t, int64(42), b.LeaseID)
		assert.True(t, b.Amount.Equal(decimal.RequireFromString("1200")))
	})

	t.Run("missing", func(t *testing.T) {
		svc, mock, _ := newTestService(t)
		mock.ExpectQuery("SELECT (.+) FROM recurring_billables WHERE id").
			WithArgs(int64(404)).
			WillReturnError(sql.ErrNoRows)

		_, err := svc.GetRecurringBillable(context.Background(), 404)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("unknown cycle in storage is rejected", func(t *testing.T) {
		svc, mock, _ := newTestService(t)
		rows := sqlmock.NewRows([]string{
			"id", "lease_id", "description", "amount", "category", "cycle",
			"start_date", "next_invoice_at", "is_active", "created_at", "updated_at",
		}).AddRow(9, 42, "Monthly rent", "1200", "rent", "weekly", date(2024, 1, 1), date(2024, 2, 1), true, testNow, testNow)
		mock.ExpectQuery("SELECT (.+) FROM recurring_billables WHERE id").
			WithArgs(int64(9)).
			WillReturnRows(rows)

		_, err := svc.GetRecurringBillable(context.Background(), 9)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown cycle "weekly"`)
	})
}

func TestDueForInvoicing(t *testing.T) {
	svc, mock, _ := newTestService(t)

	rows := billableRow(9, 42, "1200", leases.CycleMonthly, date(2024, 1, 1), date(2024, 2, 1), true).
		AddRow(10, 43, "", "900", "rent", "monthly", date(2024, 3, 1), date(2024, 3, 1), true, testNow, testNow)
	mock.ExpectQuery("SELECT (.+) FROM recurring_billables").
		WithArgs(date(2024, 3, 15)).
		WillReturnRows(rows)

	due, err := svc.DueForInvoicing(context.Background(), testNow)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, int64(9), due[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeactivateForLease(t *testing.T) {
	svc, mock, _ := newTestService(t)

	mock.ExpectExec("UPDATE recurring_billables").
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.DeactivateForLease(context.Background(), 42))
	assert.NoError(t, mock.ExpectationsWereMet())
}
