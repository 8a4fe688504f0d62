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

func expectInvoiceInsert(mock sqlmock.Sqlmock, id int64) {
	mock.ExpectQuery("INSERT INTO invoices").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(id, testNow, testNow))
	mock.ExpectQuery("INSERT INTO invoice_line_items").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id * 10))
}

func TestGenerateInvoice(t *testing.T) {
	t.Run("generates one period and advances the cursor", func(t *testing.T) {
		svc, mock, _ := newTestService(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM recurring_billables WHERE id (.+) FOR UPDATE").
			WithArgs(int64(9)).
			WillReturnRows(billableRow(9, 42, "1200", leases.CycleMonthly, date(2024, 1, 1), date(2024, 1, 1), true))
		expectInvoiceInsert(mock, 100)
		mock.ExpectExec("UPDATE recurring_billables").
			WithArgs(date(2024, 2, 1), int64(9), date(2024, 1, 1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		inv, err := svc.GenerateInvoice(context.Background(), 9, testNow)
		require.NoError(t, err)
		assert.Equal(t, int64(100), inv.ID)
		assert.Equal(t, date(2024, 1, 1), inv.DueDate)
		assert.Equal(t, InvoiceStatusPending, inv.Status)
		assert.True(t, inv.DueAmount.Equal(decimal.RequireFromString("1200")))
		require.NotNil(t, inv.LeaseID)
		assert.Equal(t, int64(42), *inv.LeaseID)
		require.Len(t, inv.LineItems, 1)
		assert.Contains(t, inv.LineItems[0].Description, "2024-01-01")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("billing zone west of the session zone keeps the calendar day", func(t *testing.T) {
		ny, err := time.LoadLocation("America/New_York")
		require.NoError(t, err)

		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		svc := NewPostgresService(db, &mockLeaseService{}, clockwork.NewFakeClockAt(testNow), ny)

		// The driver scans DATE columns as midnight in its session zone
		// (UTC here); the calendar day must survive rehydration into a
		// billing zone west of it.
		nyCursor := time.Date(2024, 2, 1, 0, 0, 0, 0, ny)
		nyNext := time.Date(2024, 3, 1, 0, 0, 0, 0, ny)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM recurring_billables WHERE id (.+) FOR UPDATE").
			WithArgs(int64(9)).
			WillReturnRows(billableRow(9, 42, "1200", leases.CycleMonthly, date(2024, 1, 1), date(2024, 2, 1), true))
		expectInvoiceInsert(mock, 100)
		mock.ExpectExec("UPDATE recurring_billables").
			WithArgs(nyNext, int64(9), nyCursor).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		inv, err := svc.GenerateInvoice(context.Background(), 9, testNow)
		require.NoError(t, err)
		assert.Equal(t, nyCursor, inv.DueDate)
		require.Len(t, inv.LineItems, 1)
		assert.Contains(t, inv.LineItems[0].Description, "2024-02-01")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not due yet", func(t *testing.T) {
		svc, mock, _ := newTestService(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM recurring_billables WHERE id (.+) FOR UPDATE").
			WithArgs(int64(9)).
			WillReturnRows(billableRow(9, 42, "1200", leases.CycleMonthly, date(2024, 1, 1), date(2024, 4, 1), true))
		mock.ExpectRollback()

		_, err := svc.GenerateInvoice(context.Background(), 9, testNow)
		assert.ErrorIs(t, err, ErrNotDue)
	})

	t.Run("inactive billable", func(t *testing.T) {
		svc, mock, _ := newTestService(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM recurring_billables WHERE id (.+) FOR UPDATE").
			WithArgs(int64(9)).
			WillReturnRows(billableRow(9, 42, "1200", leases.CycleMonthly, date(2024, 1, 1), date(2024, 1, 1), false))
		mock.ExpectRollback()

		_, err := svc.GenerateInvoice(context.Background(), 9, testNow)
		assert.ErrorIs(t, err, ErrBillableInactive)
	})

	t.Run("unknown billable", func(t *testing.T) {
		svc, mock, _ := newTestService(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM recurring_billables WHERE id (.+) FOR UPDATE").
			WithArgs(int64(404)).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := svc.GenerateInvoice(context.Background(), 404, testNow)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("cursor moved concurrently", func(t *testing.T) {
		svc, mock, _ := newTestService(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM recurring_billables WHERE id (.+) FOR UPDATE").
			WithArgs(int64(9)).
			WillReturnRows(billableRow(9, 42, "1200", leases.CycleMonthly, date(2024, 1, 1), date(2024, 1, 1), true))
		expectInvoiceInsert(mock, 100)
		mock.ExpectExec("UPDATE recurring_billables").
			WithArgs(date(2024, 2, 1), int64(9), date(2024, 1, 1)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		_, err := svc.GenerateInvoice(context.Background(), 9, testNow)
		assert.ErrorIs(t, err, ErrConflict)
	})
}

func TestBackfillLease(t *testing.T) {
	newBackfillService := func(t *testing.T, now time.Time) (*PostgresService, sqlmock.Sqlmock) {
		t.Helper()
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		svc := NewPostgresService(db, &mockLeaseService{}, clockwork.NewFakeClockAt(now), time.UTC)
		return svc, mock
	}

	t.Run("marks fully elapsed periods paid", func(t *testing.T) {
		// Lease started January 1st, today is April 10th: January,
		// February and March are fully elapsed, April is in flight.
		svc, mock := newBackfillService(t, time.Date(2024, 4, 10, 9, 0, 0, 0, time.UTC))

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM recurring_billables WHERE lease_id (.+) FOR UPDATE").
			WithArgs(int64(42)).
			WillReturnRows(billableRow(9, 42, "1200", leases.CycleMonthly, date(2024, 1, 1), date(2024, 1, 1), true))

		for i := 0; i < 3; i++ {
			expectInvoiceInsert(mock, int64(100+i))
			mock.ExpectExec("INSERT INTO transactions").
				WillReturnResult(sqlmock.NewResult(1, 1))
		}
		expectInvoiceInsert(mock, 103)

		mock.ExpectExec("UPDATE recurring_billables").
			WithArgs(date(2024, 5, 1), int64(9), date(2024, 1, 1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		invoices, err := svc.BackfillLease(context.Background(), 42, true)
		require.NoError(t, err)
		require.Len(t, invoices, 4)

		assert.Equal(t, InvoiceStatusPaid, invoices[0].Status)
		assert.Equal(t, InvoiceStatusPaid, invoices[1].Status)
		assert.Equal(t, InvoiceStatusPaid, invoices[2].Status)
		assert.Equal(t, InvoiceStatusPending, invoices[3].Status)

		assert.Equal(t, date(2024, 1, 1), invoices[0].DueDate)
		assert.Equal(t, date(2024, 4, 1), invoices[3].DueDate)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("without markPastPaid every period is pending", func(t *testing.T) {
		svc, mock := newBackfillService(t, time.Date(2024, 2, 10, 9, 0, 0, 0, time.UTC))

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM recurring_billables WHERE lease_id (.+) FOR UPDATE").
			WithArgs(int64(42)).
			WillReturnRows(billableRow(9, 42, "1200", leases.CycleMonthly, date(2024, 1, 1), date(2024, 1, 1), true))
		expectInvoiceInsert(mock, 100)
		expectInvoiceInsert(mock, 101)
		mock.ExpectExec("UPDATE recurring_billables").
			WithArgs(date(2024, 3, 1), int64(9), date(2024, 1, 1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		invoices, err := svc.BackfillLease(context.Background(), 42, false)
		require.NoError(t, err)
		require.Len(t, invoices, 2)
		for _, inv := range invoices {
			assert.Equal(t, InvoiceStatusPending, inv.Status)
		}
	})

	t.Run("nothing due leaves the cursor alone", func(t *testing.T) {
		svc, mock := newBackfillService(t, time.Date(2024, 1, 20, 9, 0, 0, 0, time.UTC))

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM recurring_billables WHERE lease_id (.+) FOR UPDATE").
			WithArgs(int64(42)).
			WillReturnRows(billableRow(9, 42, "1200", leases.CycleMonthly, date(2024, 1, 1), date(2024, 2, 1), true))
		mock.ExpectCommit()

		invoices, err := svc.BackfillLease(context.Background(), 42, true)
		require.NoError(t, err)
		assert.Empty(t, invoices)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cursor moved concurrently", func(t *testing.T) {
		svc, mock := newBackfillService(t, time.Date(2024, 2, 10, 9, 0, 0, 0, time.UTC))

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM recurring_billables WHERE lease_id (.+) FOR UPDATE").
			WithArgs(int64(42)).
			WillReturnRows(billableRow(9, 42, "1200", leases.CycleMonthly, date(2024, 1, 1), date(2024, 1, 1), true))
		expectInvoiceInsert(mock, 100)
		expectInvoiceInsert(mock, 101)
		mock.ExpectExec("UPDATE recurring_billables").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		_, err := svc.BackfillLease(context.Background(), 42, false)
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("no active billable", func(t *testing.T) {
		svc, mock := newBackfillService(t, testNow)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM recurring_billables WHERE lease_id (.+) FOR UPDATE").
			WithArgs(int64(42)).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := svc.BackfillLease(context.Background(), 42, true)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
