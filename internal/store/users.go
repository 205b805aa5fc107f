package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/roach88/adminsync/internal/adminapi"
	"github.com/roach88/adminsync/internal/ids"
	"github.com/roach88/adminsync/internal/query"
)

// ErrNotFound is returned when a user id does not exist.
var ErrNotFound = errors.New("user not found")

// Bulk item error codes reported to clients.
const (
	ItemNotFound = "not_found"
)

// filterColumns maps collection filter keys to columns.
var filterColumns = map[string]string{
	"role":               "role",
	"status":             "status",
	"verificationStatus": "verification_status",
}

// sortColumns maps sortField values to columns.
var sortColumns = map[string]string{
	"name":               "name",
	"email":              "email",
	"role":               "role",
	"status":             "status",
	"verificationStatus": "verification_status",
	"lastActive":         "last_active",
	"createdAt":          "created_at",
}

const userColumns = "id, email, name, role, status, verification_status, last_active, created_at"

// Page is one page of users plus the size of the filtered collection.
type Page struct {
	Records []adminapi.Record
	Total   int
}

// TotalPages is the number of pages of pageSize needed for Total.
func (p Page) TotalPages(pageSize int) int {
	if pageSize <= 0 || p.Total == 0 {
		return 0
	}
	return (p.Total + pageSize - 1) / pageSize
}

// FilterKeys lists the accepted filter keys, sorted.
func FilterKeys() []string {
	return slices.Sorted(maps.Keys(filterColumns))
}

// SortFields lists the accepted sort fields, sorted.
func SortFields() []string {
	return slices.Sorted(maps.Keys(sortColumns))
}

// ListUsers returns the page of users q selects.
//
// Search matches name or email, case-insensitively. Without a sort field the
// newest users come first. Unknown filter keys and sort fields are
// validation errors.
func (s *Store) ListUsers(ctx context.Context, q query.Params) (Page, error) {
	where, args, err := whereClause(q)
	if err != nil {
		return Page{}, err
	}
	order, err := orderClause(q)
	if err != nil {
		return Page{}, err
	}

	var page Page
	countSQL := s.rebind("SELECT COUNT(*) FROM users" + where)
	if err := s.db.QueryRowContext(ctx, countSQL, args...).Scan(&page.Total); err != nil {
		return Page{}, fmt.Errorf("count users: %w", err)
	}

	size := q.PageSize
	if size <= 0 {
		size = query.DefaultPageSize
	}
	offset := 0
	if q.Page > 1 {
		offset = (q.Page - 1) * size
	}

	listSQL := s.rebind("SELECT " + userColumns + " FROM users" + where + order + " LIMIT ? OFFSET ?")
	rows, err := s.db.QueryContext(ctx, listSQL, append(args, size, offset)...)
	if err != nil {
		return Page{}, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	page.Records = make([]adminapi.Record, 0, size)
	for rows.Next() {
		r, err := scanUser(rows)
		if err != nil {
			return Page{}, err
		}
		page.Records = append(page.Records, r)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("list users: %w", err)
	}
	return page, nil
}

func whereClause(q query.Params) (string, []any, error) {
	var (
		conds []string
		args  []any
	)
	for _, key := range slices.Sorted(maps.Keys(q.Filters)) {
		v := q.Filters[key]
		if v.IsAll() {
			continue
		}
		col, ok := filterColumns[key]
		if !ok {
			return "", nil, adminapi.NewValidationError("unknown filter %q", key)
		}
		conds = append(conds, col+" = ?")
		args = append(args, string(v))
	}
	if q.Search != "" {
		pattern := "%" + escapeLike(strings.ToLower(q.Search)) + "%"
		conds = append(conds, `(LOWER(name) LIKE ? ESCAPE '\' OR LOWER(email) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}
	if len(conds) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

// orderClause always ends in id ASC so pages are stable.
func orderClause(q query.Params) (string, error) {
	if q.SortField == "" {
		return " ORDER BY created_at DESC, id ASC", nil
	}
	col, ok := sortColumns[q.SortField]
	if !ok {
		return "", adminapi.NewValidationError("unknown sort field %q", q.SortField)
	}
	dir := "ASC"
	if q.SortDirection == query.Desc {
		dir = "DESC"
	}
	return fmt.Sprintf(" ORDER BY %s %s, id ASC", col, dir), nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (adminapi.Record, error) {
	var (
		r          adminapi.Record
		lastActive sql.NullTime
		createdAt  time.Time
	)
	if err := row.Scan(&r.ID, &r.Email, &r.Name, &r.Role, &r.Status, &r.VerificationStatus, &lastActive, &createdAt); err != nil {
		return adminapi.Record{}, fmt.Errorf("scan user: %w", err)
	}
	if lastActive.Valid {
		t := lastActive.Time.UTC()
		r.LastActive = &t
	}
	createdAt = createdAt.UTC()
	r.CreatedAt = &createdAt
	return r, nil
}

// GetUser returns one user.
func (s *Store) GetUser(ctx context.Context, id string) (adminapi.Record, error) {
	row := s.db.QueryRowContext(ctx, s.rebind("SELECT "+userColumns+" FROM users WHERE id = ?"), id)
	r, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return adminapi.Record{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return r, err
}

// InsertUser adds r. CreatedAt must be set.
func (s *Store) InsertUser(ctx context.Context, r adminapi.Record) error {
	if r.ID == "" || r.CreatedAt == nil {
		return fmt.Errorf("insert user: id and created_at are required")
	}
	var lastActive any
	if r.LastActive != nil {
		lastActive = r.LastActive.UTC()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.Email, r.Name, r.Role, r.Status, r.VerificationStatus, lastActive, r.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert user %s: %w", r.ID, err)
	}
	return nil
}

// Stats summarizes the collection. now bounds "new today" (UTC day).
func (s *Store) Stats(ctx context.Context, now time.Time) (adminapi.Stats, error) {
	day := now.UTC().Truncate(24 * time.Hour)
	var st adminapi.Stats
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'active' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN verification_status = 'pending' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'suspended' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0)
		FROM users`), day).Scan(
		&st.TotalUsers, &st.ActiveUsers, &st.PendingVerifications, &st.SuspendedUsers, &st.NewUsersToday)
	if err != nil {
		return adminapi.Stats{}, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}

// bulkStatements maps an action to its per-id statement.
var bulkStatements = map[adminapi.BulkAction]string{
	adminapi.BulkVerify:   "UPDATE users SET verification_status = 'verified' WHERE id = ?",
	adminapi.BulkReject:   "UPDATE users SET verification_status = 'rejected' WHERE id = ?",
	adminapi.BulkSuspend:  "UPDATE users SET status = 'suspended' WHERE id = ?",
	adminapi.BulkActivate: "UPDATE users SET status = 'active' WHERE id = ?",
	adminapi.BulkDelete:   "DELETE FROM users WHERE id = ?",
}

// ApplyBulk applies action to every id in one transaction. Ids that do not
// exist are reported per item; they do not abort the others.
func (s *Store) ApplyBulk(ctx context.Context, action adminapi.BulkAction, userIDs []string) (adminapi.BulkResult, error) {
	stmt, ok := bulkStatements[action]
	if !ok {
		return adminapi.BulkResult{}, adminapi.NewValidationError("unknown bulk action %q", action)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return adminapi.BulkResult{}, fmt.Errorf("begin bulk %s: %w", action, err)
	}
	defer tx.Rollback()

	query := s.rebind(stmt)
	var res adminapi.BulkResult
	for _, id := range userIDs {
		out, err := tx.ExecContext(ctx, query, id)
		if err != nil {
			return adminapi.BulkResult{}, fmt.Errorf("bulk %s %s: %w", action, id, err)
		}
		n, err := out.RowsAffected()
		if err != nil {
			return adminapi.BulkResult{}, fmt.Errorf("bulk %s %s: %w", action, id, err)
		}
		if n == 0 {
			res.FailureCount++
			res.Errors = append(res.Errors, adminapi.BulkItemError{ID: id, Error: ItemNotFound})
			continue
		}
		res.SuccessCount++
	}

	if err := tx.Commit(); err != nil {
		return adminapi.BulkResult{}, fmt.Errorf("commit bulk %s: %w", action, err)
	}
	return res, nil
}

// Seed inserts n deterministic users, skipping any whose id or email
// already exists.
// Roles, statuses and verification states rotate so every filter value has
// members; users are created one hour apart going back from now.
func (s *Store) Seed(ctx context.Context, n int, gen ids.Generator, now time.Time) error {
	gen = ids.OrUUIDv7(gen)
	roles := []string{"user", "moderator", "admin"}
	statuses := []string{"active", "inactive", "suspended"}
	verification := []string{"verified", "pending", "rejected"}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed: %w", err)
	}
	defer tx.Rollback()

	insert := s.rebind(`
		INSERT INTO users (` + userColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`)
	for i := range n {
		created := now.UTC().Add(-time.Duration(i) * time.Hour)
		var lastActive any
		if i%4 != 3 {
			lastActive = created.Add(30 * time.Minute)
		}
		_, err := tx.ExecContext(ctx, insert,
			gen.Generate(),
			fmt.Sprintf("user%03d@example.com", i+1),
			fmt.Sprintf("User %03d", i+1),
			roles[i%len(roles)],
			statuses[i%len(statuses)],
			verification[(i/3)%len(verification)],
			lastActive,
			created,
		)
		if err != nil {
			return fmt.Errorf("seed user %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed: %w", err)
	}
	return nil
}
