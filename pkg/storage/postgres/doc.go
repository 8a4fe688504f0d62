// Package postgres manages database connectivity and schema migrations
// for the LeaseWard billing store.
//
// The ConnectionManager opens a mandatory primary connection plus any
// number of optional read replicas. Writes always go to the primary;
// read-heavy surfaces can take Replica() and get round-robin load
// spreading with automatic fallback to the primary when no replica is
// healthy at startup.
//
// Schema changes are expressed as ordered Migration values and applied
// by RunMigrations, which records each applied version in the
// billing_migrations table and runs every pending migration in its own
// transaction.
package postgres
