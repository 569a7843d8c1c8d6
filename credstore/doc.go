// Package credstore provides goGate.CredentialStore implementations: an
// in-process Memory store and a PostgreSQL store over database/sql with the
// pgx driver. Postgres schema migrations are embedded and applied with goose.
package credstore
