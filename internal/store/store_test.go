package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/adminsync/internal/adminapi"
	"github.com/roach88/adminsync/internal/ids"
	"github.com/roach88/adminsync/internal/query"
)

var seedTime = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// createTestStore opens a file-backed SQLite store seeded with n users
// named u-1 ... u-n.
func createTestStore(t *testing.T, n int) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	if n > 0 {
		require.NoError(t, s.Seed(ctx, n, ids.NewSequence("u"), seedTime))
	}
	return s
}

func TestOpen_SQLitePragmasAndVersion(t *testing.T) {
	s := createTestStore(t, 0)
	assert.Equal(t, SQLite, s.Dialect())

	var mode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var version int
	require.NoError(t, s.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestOpen_Idempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "again.db")

	s1, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s1.Seed(ctx, 3, ids.NewSequence("u"), seedTime))
	require.NoError(t, s1.Close())

	s2, err := Open(ctx, path)
	require.NoError(t, err)
	defer s2.Close()

	page, err := s2.ListUsers(ctx, query.Default(10))
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
}

func TestOpen_Memory(t *testing.T) {
	s, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	defer s.Close()
	assert.NoError(t, s.Ping(context.Background()))
}

func TestDialectFor(t *testing.T) {
	assert.Equal(t, Postgres, DialectFor("postgres://u:p@localhost/db"))
	assert.Equal(t, Postgres, DialectFor("postgresql://localhost/db"))
	assert.Equal(t, SQLite, DialectFor("dev.db"))
	assert.Equal(t, SQLite, DialectFor(":memory:"))
}

func TestRebindDollar(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"SELECT 1", "SELECT 1"},
		{"a = ? AND b = ?", "a = $1 AND b = $2"},
		{`x LIKE ? ESCAPE '\' AND y = '?' AND z = ?`, `x LIKE $1 ESCAPE '\' AND y = '?' AND z = $2`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, rebindDollar(tt.in))
	}
}

func TestListUsers_PaginationIsStable(t *testing.T) {
	s := createTestStore(t, 25)
	ctx := context.Background()

	seen := map[string]bool{}
	for page := 1; page <= 3; page++ {
		q, err := query.Default(10).WithPage(page)
		require.NoError(t, err)
		p, err := s.ListUsers(ctx, q)
		require.NoError(t, err)
		assert.Equal(t, 25, p.Total)
		assert.Equal(t, 3, p.TotalPages(10))
		for _, r := range p.Records {
			assert.False(t, seen[r.ID], "id %s on two pages", r.ID)
			seen[r.ID] = true
		}
	}
	assert.Len(t, seen, 25)
}

func TestListUsers_DefaultOrderNewestFirst(t *testing.T) {
	s := createTestStore(t, 5)
	p, err := s.ListUsers(context.Background(), query.Default(5))
	require.NoError(t, err)
	require.Len(t, p.Records, 5)
	assert.Equal(t, "u-1", p.Records[0].ID)
	assert.Equal(t, seedTime, *p.Records[0].CreatedAt)
}

func TestListUsers_FilterSearchSort(t *testing.T) {
	s := createTestStore(t, 30)
	ctx := context.Background()

	q, err := query.Default(50).WithFilter("role", "admin")
	require.NoError(t, err)
	p, err := s.ListUsers(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 10, p.Total)
	for _, r := range p.Records {
		assert.Equal(t, "admin", r.Role)
	}

	q, err = q.WithFilter("role", "all")
	require.NoError(t, err)
	p, err = s.ListUsers(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 30, p.Total)

	p, err = s.ListUsers(ctx, query.Default(50).WithSearch("USER00"))
	require.NoError(t, err)
	assert.Equal(t, 9, p.Total, "user001..user009")

	q, err = query.Default(3).WithSort("name")
	require.NoError(t, err)
	q, err = q.WithSort("name")
	require.NoError(t, err)
	require.Equal(t, query.Desc, q.SortDirection)
	p, err = s.ListUsers(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, "User 030", p.Records[0].Name)
}

func TestListUsers_SearchEscapesWildcards(t *testing.T) {
	s := createTestStore(t, 5)
	p, err := s.ListUsers(context.Background(), query.Default(10).WithSearch("%"))
	require.NoError(t, err)
	assert.Equal(t, 0, p.Total)
}

func TestListUsers_RejectsUnknownColumns(t *testing.T) {
	s := createTestStore(t, 1)
	ctx := context.Background()

	q, err := query.Default(10).WithFilter("password", "x")
	require.NoError(t, err)
	_, err = s.ListUsers(ctx, q)
	assert.ErrorIs(t, err, adminapi.ErrValidation)

	q, err = query.Default(10).WithSort("id; DROP TABLE users")
	require.NoError(t, err)
	_, err = s.ListUsers(ctx, q)
	assert.ErrorIs(t, err, adminapi.ErrValidation)
}

func TestStats(t *testing.T) {
	s := createTestStore(t, 30)
	st, err := s.Stats(context.Background(), seedTime)
	require.NoError(t, err)

	assert.Equal(t, 30, st.TotalUsers)
	assert.Equal(t, 10, st.ActiveUsers)
	assert.Equal(t, 10, st.SuspendedUsers)
	assert.Equal(t, 9, st.PendingVerifications)
	assert.Equal(t, 13, st.NewUsersToday, "12:00 back to 00:00 inclusive")
}

func TestApplyBulk_PartialFailure(t *testing.T) {
	s := createTestStore(t, 3)
	ctx := context.Background()

	res, err := s.ApplyBulk(ctx, adminapi.BulkReject, []string{"u-1", "u-missing", "u-3"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, 1, res.FailureCount)
	assert.Equal(t, []adminapi.BulkItemError{{ID: "u-missing", Error: ItemNotFound}}, res.Errors)

	r, err := s.GetUser(ctx, "u-3")
	require.NoError(t, err)
	assert.Equal(t, "rejected", r.VerificationStatus)
}

func TestApplyBulk_DeleteAndStatus(t *testing.T) {
	s := createTestStore(t, 3)
	ctx := context.Background()

	_, err := s.ApplyBulk(ctx, adminapi.BulkSuspend, []string{"u-1"})
	require.NoError(t, err)
	r, err := s.GetUser(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, "suspended", r.Status)

	_, err = s.ApplyBulk(ctx, adminapi.BulkDelete, []string{"u-2"})
	require.NoError(t, err)
	_, err = s.GetUser(ctx, "u-2")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.ApplyBulk(ctx, adminapi.BulkAction("purge"), []string{"u-1"})
	assert.ErrorIs(t, err, adminapi.ErrValidation)
}

func TestInsertUser(t *testing.T) {
	s := createTestStore(t, 0)
	ctx := context.Background()
	created := seedTime.Add(-time.Hour)

	require.NoError(t, s.InsertUser(ctx, adminapi.Record{
		ID: "x", Email: "x@example.com", Name: "X", Role: "user",
		Status: "active", VerificationStatus: "pending", CreatedAt: &created,
	}))
	r, err := s.GetUser(ctx, "x")
	require.NoError(t, err)
	assert.Nil(t, r.LastActive)
	assert.Equal(t, created, *r.CreatedAt)

	assert.Error(t, s.InsertUser(ctx, adminapi.Record{ID: "y"}))
}

// TestPostgres runs against a live server when ADMINSYNC_TEST_POSTGRES_DSN is set.
func TestPostgres(t *testing.T) {
	dsn := os.Getenv("ADMINSYNC_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ADMINSYNC_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, dsn)
	require.NoError(t, err)
	defer s.Close()
	require.Equal(t, Postgres, s.Dialect())

	_, err = s.db.ExecContext(ctx, "DELETE FROM users")
	require.NoError(t, err)
	require.NoError(t, s.Seed(ctx, 12, ids.NewSequence("pg"), seedTime))

	q, err := query.Default(5).WithFilter("status", "active")
	require.NoError(t, err)
	p, err := s.ListUsers(ctx, q.WithSearch("user"))
	require.NoError(t, err)
	assert.Equal(t, 4, p.Total)

	res, err := s.ApplyBulk(ctx, adminapi.BulkVerify, []string{"pg-1", "nope"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.SuccessCount)
	assert.Equal(t, 1, res.FailureCount)
}
