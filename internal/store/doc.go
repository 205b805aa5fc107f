// Package store is the persistence layer of the development backend.
//
// It keeps the admin user collection in SQLite (default, a file path or
// ":memory:") or Postgres (a postgres:// DSN) and answers the collection,
// stats and bulk requests the devserver exposes.
//
// # Query Rules
//
//   - Every value is a bound parameter. Column names come only from the
//     whitelists in users.go, never from the request.
//   - Every page query ends in "id ASC" so equal sort keys page stably.
//   - Statements are written with "?" placeholders and rebound to "$n" for
//     Postgres.
//
// # SQLite Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - a single connection: SQLite has one writer
package store
