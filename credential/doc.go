// Package credential is the durable account store.
//
// Accounts live in a single users table reached through database/sql. Two
// dialects are supported: Postgres through the pgx stdlib driver and SQLite
// through modernc.org/sqlite. Schema changes ship as embedded goose
// migrations, one set per dialect.
//
// The store never sees plaintext passwords. Callers hash before Create and
// Update. Every driver failure is returned wrapped as "db error: ..." and the
// sentinels ErrNotFound and ErrDuplicateEmail cover the two expected outcomes.
package credential
