package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all billing schema migrations
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create leases and lease_tenants tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS leases (
					id BIGSERIAL PRIMARY KEY,
					unit_id BIGINT NOT NULL,
					start_date DATE NOT NULL,
					end_date DATE,
					rent_amount NUMERIC(14,2) NOT NULL,
					deposit_amount NUMERIC(14,2) NOT NULL DEFAULT 0,
					invoice_cycle VARCHAR(20) NOT NULL,
					auto_invoice BOOLEAN NOT NULL DEFAULT FALSE,
					status VARCHAR(20) NOT NULL DEFAULT 'active',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					CONSTRAINT leases_dates_chk CHECK (end_date IS NULL OR end_date >= start_date)
				);

				CREATE TABLE IF NOT EXISTS lease_tenants (
					lease_id BIGINT NOT NULL REFERENCES leases(id) ON DELETE CASCADE,
					tenant_id BIGINT NOT NULL,
					PRIMARY KEY (lease_id, tenant_id)
				);

				CREATE INDEX idx_leases_status ON leases(status);
				CREATE INDEX idx_leases_unit_id ON leases(unit_id);
				CREATE INDEX idx_lease_tenants_tenant_id ON lease_tenants(tenant_id);
			`,
		},
		{
			Version:     2,
			Description: "Create recurring_billables table",
			SQL: `
				CREATE TABLE IF NOT EXISTS recurring_billables (
					id BIGSERIAL PRIMARY KEY,
					lease_id BIGINT NOT NULL REFERENCES leases(id),
					description TEXT NOT NULL DEFAULT '',
					amount NUMERIC(14,2) NOT NULL,
					category VARCHAR(20) NOT NULL DEFAULT 'rent',
					cycle VARCHAR(20) NOT NULL,
					start_date DATE NOT NULL,
					next_invoice_at DATE NOT NULL,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					CONSTRAINT billable_cursor_chk CHECK (next_invoice_at >= start_date)
				);

				CREATE INDEX idx_billables_lease_id ON recurring_billables(lease_id);
				CREATE INDEX idx_billables_due ON recurring_billables(next_invoice_at) WHERE is_active;
			`,
		},
		{
			Version:     3,
			Description: "Create invoices and invoice_line_items tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS invoices (
					id BIGSERIAL PRIMARY KEY,
					lease_id BIGINT REFERENCES leases(id),
					tenant_id BIGINT,
					recurring_billable_id BIGINT REFERENCES recurring_billables(id),
					invoice_number VARCHAR(32) NOT NULL UNIQUE,
					category VARCHAR(20) NOT NULL DEFAULT 'other',
					due_amount NUMERIC(14,2) NOT NULL,
					due_date DATE NOT NULL,
					status VARCHAR(20) NOT NULL DEFAULT 'pending',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					CONSTRAINT invoice_owner_chk CHECK (lease_id IS NOT NULL OR tenant_id IS NOT NULL)
				);

				CREATE INDEX idx_invoices_lease_id ON invoices(lease_id);
				CREATE INDEX idx_invoices_status_due ON invoices(status, due_date);

				-- At-most-once per (billable, period): backstop for the
				-- cursor-advancement transaction.
				CREATE UNIQUE INDEX uniq_invoice_billable_period
					ON invoices(recurring_billable_id, due_date)
					WHERE recurring_billable_id IS NOT NULL;

				CREATE TABLE IF NOT EXISTS invoice_line_items (
					id BIGSERIAL PRIMARY KEY,
					invoice_id BIGINT NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
					position INT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					quantity NUMERIC(10,2) NOT NULL DEFAULT 1,
					rate NUMERIC(14,2) NOT NULL,
					amount NUMERIC(14,2) NOT NULL,
					UNIQUE (invoice_id, position)
				);
			`,
		},
		{
			Version:     4,
			Description: "Create transactions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS transactions (
					id BIGSERIAL PRIMARY KEY,
					invoice_id BIGINT REFERENCES invoices(id),
					lease_id BIGINT REFERENCES leases(id),
					amount_paid NUMERIC(14,2) NOT NULL,
					reference VARCHAR(128) NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					CONSTRAINT transaction_amount_chk CHECK (amount_paid > 0)
				);

				CREATE INDEX idx_transactions_invoice_id ON transactions(invoice_id);
				CREATE INDEX idx_transactions_lease_id ON transactions(lease_id);
			`,
		},
	}
}

// RunMigrations applies all pending migrations in order, each in its own
// transaction
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS billing_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM billing_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}
	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO billing_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}
	return nil
}
