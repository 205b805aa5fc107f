package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var sqliteSchema string

//go:embed schema_postgres.sql
var postgresSchema string

// Schema version tracking:
// 0 - Initial schema
// 1 - Added index on users.verification_status
const currentSchemaVersion = 1

// Dialect is the SQL flavour of the connected database.
type Dialect string

const (
	SQLite   Dialect = "sqlite3"
	Postgres Dialect = "postgres"
)

// DialectFor picks the dialect from a DSN: postgres:// and postgresql://
// URLs are Postgres, anything else is a SQLite path.
func DialectFor(dsn string) Dialect {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return Postgres
	}
	return SQLite
}

// Store holds the user collection.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to dsn, applies pragmas (SQLite) and migrations.
// This function is idempotent - safe to call on an existing database.
func Open(ctx context.Context, dsn string) (*Store, error) {
	dialect := DialectFor(dsn)
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db, dialect: dialect}
	if dialect == SQLite {
		// SQLite only supports one writer at a time.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if err := applyPragmas(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
	}

	if err := s.applySchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Dialect reports which database the store is connected to.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Ping checks the connection. The devserver health endpoint uses it.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) applySchema(ctx context.Context) error {
	schema := sqliteSchema
	if s.dialect == Postgres {
		schema = postgresSchema
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := s.runMigrations(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental migrations based on the stored version.
func (s *Store) runMigrations(ctx context.Context) error {
	version, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}

	if version < 1 {
		if _, err := s.db.ExecContext(ctx,
			`CREATE INDEX IF NOT EXISTS idx_users_verification ON users(verification_status)`); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}

	return s.setSchemaVersion(ctx, currentSchemaVersion)
}

func (s *Store) schemaVersion(ctx context.Context) (int, error) {
	var version int
	if s.dialect == SQLite {
		if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
			return 0, fmt.Errorf("get user_version: %w", err)
		}
		return version, nil
	}
	err := s.db.QueryRowContext(ctx,
		`SELECT meta_value FROM adminsync_meta WHERE meta_key = 'schema_version'`).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get schema_version: %w", err)
	}
	return version, nil
}

func (s *Store) setSchemaVersion(ctx context.Context, v int) error {
	var err error
	if s.dialect == SQLite {
		_, err = s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v))
	} else {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO adminsync_meta (meta_key, meta_value) VALUES ('schema_version', $1)
			ON CONFLICT (meta_key) DO UPDATE SET meta_value = EXCLUDED.meta_value`, v)
	}
	if err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}

// rebind rewrites "?" placeholders for the store's dialect.
func (s *Store) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	return rebindDollar(query)
}

// rebindDollar numbers "?" placeholders as $1, $2, ... outside quoted
// literals.
func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
