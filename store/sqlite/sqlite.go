/*
Package sqlite provides a SQLite-backed implementation of the quota
engine's persistence interfaces.

INTERFACES IMPLEMENTED:
  quota/store.EnrollmentStore  (by *EnrollmentStore)
  quota/ledger.UsageLedger     (by *Ledger)
  quota/ledger.Locker          (by *Ledger)

Both types share one underlying *sql.DB (via conn), since
quota/commit.Committer locks the ledger around a read from the
enrollment store followed by a write to the usage ledger — the two
stores must serialize against the same lock for that to mean anything.
conn carries two separate mutexes for this: mu guards individual writes
(EnrollmentStore.Create), and commitMu backs Locker. They must stay
separate — Committer.Commit holds the lock for an entire
select-then-append pair, during which freemium provisioning may call
back into EnrollmentStore.Create; sharing one non-reentrant mutex
between Lock and Create would deadlock that call against itself.

KEY TABLES:
  enrollments: one row per Enrollment, bundles/meta_data as JSON columns.
  usages:      append-only ledger of Usage rows, leftover_bundles/
               meta_data as JSON columns.

APPEND-ONLY ENFORCEMENT:
  There is no UPDATE or DELETE statement anywhere against usages in this
  file — only INSERT and SELECT (spec.md §3, quota/ledger.go).

INDEXES:
  - idx_usages_enrollment_created: Latest/LeftoverOf's hot path.
  - idx_enrollments_lookup: find_active's hot path.
  - idx_enrollments_freemium_unique: a partial unique index enforcing at
    most one active, non-deleted freemium enrollment per
    (business_name, user_id) — spec.md §4.4's uniqueness rule pushed into
    the schema rather than left to an application-level race.

WAL MODE:
  Opened with _journal_mode=WAL, same as the teacher's store, for
  multiple-reader/single-writer concurrency.

CONCURRENCY:
  conn.commitMu backs the Locker interface quota/commit.Committer uses to
  wrap select-then-append (spec.md §5 strategy (a): "row-level lock on
  the enrollment during commit" — generalized here to a single
  store-wide lock, which is sufficient at this service's scale and
  matches the teacher's own store-wide sync.RWMutex). conn.mu is a
  separate mutex guarding EnrollmentStore.Create; kept apart from
  commitMu so a commit's freemium provisioning step can call Create
  without relocking the mutex Lock is already holding.

SEE ALSO:
  - quota/store/store.go, quota/ledger/ledger.go: interface definitions.
  - store/memory: in-memory implementation for tests.
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ufaasio/ufaas-saas/apperr"
	"github.com/ufaasio/ufaas-saas/bundle"
	"github.com/ufaasio/ufaas-saas/money"
	"github.com/ufaasio/ufaas-saas/quota"
	"github.com/ufaasio/ufaas-saas/quota/ledger"
	qstore "github.com/ufaasio/ufaas-saas/quota/store"
)

// conn is the database handle and lock shared by EnrollmentStore and
// Ledger.
type conn struct {
	db *sql.DB
	mu sync.Mutex
	// commitMu backs Locker, kept separate from mu — see the package
	// doc comment's CONCURRENCY section.
	commitMu sync.Mutex
}

// Open opens (and migrates) a SQLite database at dbPath, returning an
// EnrollmentStore and a Ledger backed by the same connection. Use
// ":memory:" for an ephemeral database, as store tests do.
func Open(dbPath string) (*EnrollmentStore, *Ledger, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	c := &conn{db: db}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &EnrollmentStore{conn: c}, &Ledger{conn: c}, nil
}

// Close closes the underlying database connection.
func (c *conn) Close() error { return c.db.Close() }

func (c *conn) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS enrollments (
		uid TEXT PRIMARY KEY,
		business_name TEXT NOT NULL,
		user_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		is_deleted BOOLEAN NOT NULL DEFAULT 0,
		price TEXT NOT NULL,
		invoice_id TEXT,
		acquisition_type TEXT NOT NULL,
		started_at TEXT NOT NULL,
		expired_at TEXT,
		status TEXT NOT NULL,
		bundles_json TEXT NOT NULL,
		variant TEXT,
		due_date TEXT,
		is_paid BOOLEAN NOT NULL DEFAULT 0,
		meta_data_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_enrollments_lookup
		ON enrollments(business_name, user_id, status, started_at, expired_at);

	-- At most one active, non-deleted freemium enrollment per tenant/user.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_enrollments_freemium_unique
		ON enrollments(business_name, user_id)
		WHERE acquisition_type = 'freemium' AND is_deleted = 0;

	CREATE TABLE IF NOT EXISTS usages (
		uid TEXT PRIMARY KEY,
		business_name TEXT NOT NULL,
		user_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		enrollment_id TEXT NOT NULL,
		asset TEXT NOT NULL,
		amount TEXT NOT NULL,
		variant TEXT,
		meta_data_json TEXT,
		leftover_bundles_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_usages_enrollment_created
		ON usages(enrollment_id, created_at DESC, uid DESC);

	CREATE INDEX IF NOT EXISTS idx_usages_scope
		ON usages(business_name, user_id, created_at DESC);
	`
	_, err := c.db.Exec(schema)
	return err
}

// ---------------------------------------------------------------------
// EnrollmentStore
// ---------------------------------------------------------------------

// EnrollmentStore implements quota/store.EnrollmentStore.
type EnrollmentStore struct {
	*conn
}

func (s *EnrollmentStore) Create(ctx context.Context, e quota.Enrollment) (quota.Enrollment, error) {
	if err := e.Validate(); err != nil {
		return quota.Enrollment{}, apperr.Validation(err.Error())
	}

	bundlesJSON, err := json.Marshal(e.Bundles)
	if err != nil {
		return quota.Enrollment{}, apperr.Internal(err, "failed to marshal bundles")
	}
	metaJSON, err := json.Marshal(e.MetaData)
	if err != nil {
		return quota.Enrollment{}, apperr.Internal(err, "failed to marshal meta_data")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO enrollments
		(uid, business_name, user_id, created_at, updated_at, is_deleted,
		 price, invoice_id, acquisition_type, started_at, expired_at, status,
		 bundles_json, variant, due_date, is_paid, meta_data_json)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.UID,
		e.BusinessName,
		e.UserID,
		formatTime(e.CreatedAt),
		formatTime(e.UpdatedAt),
		e.Price.String(),
		nullString(e.InvoiceID),
		string(e.AcquisitionType),
		formatTime(e.StartedAt),
		formatTimePtr(e.ExpiredAt),
		string(e.Status),
		string(bundlesJSON),
		nullString(e.Variant),
		formatTimePtr(e.DueDate),
		e.IsPaid,
		string(metaJSON),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return quota.Enrollment{}, apperr.Conflict("an active freemium enrollment already exists for this user")
		}
		return quota.Enrollment{}, apperr.Internal(err, "failed to create enrollment")
	}
	return e, nil
}

func (s *EnrollmentStore) Get(ctx context.Context, uid string, scope quota.Scope) (quota.Enrollment, bool, error) {
	row := s.db.QueryRowContext(ctx, enrollmentSelectColumns+`
		FROM enrollments WHERE uid = ? AND is_deleted = 0
	`, uid)

	e, err := scanEnrollment(row)
	if err == sql.ErrNoRows {
		return quota.Enrollment{}, false, nil
	}
	if err != nil {
		return quota.Enrollment{}, false, apperr.Internal(err, "failed to get enrollment")
	}
	if !scope.Allows(e.BusinessName, e.UserID) {
		return quota.Enrollment{}, false, nil
	}
	return e, true, nil
}

func (s *EnrollmentStore) List(ctx context.Context, q qstore.ListQuery) ([]quota.Enrollment, int, error) {
	where := "business_name = ? AND is_deleted = 0"
	args := []any{q.Scope.BusinessName}
	if q.Scope.UserID != "" {
		where += " AND user_id = ?"
		args = append(args, q.Scope.UserID)
	}

	var total int
	countRow := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM enrollments WHERE "+where, args...)
	if err := countRow.Scan(&total); err != nil {
		return nil, 0, apperr.Internal(err, "failed to count enrollments")
	}

	listArgs := append(append([]any{}, args...), q.Limit, q.Offset)
	rows, err := s.db.QueryContext(ctx, enrollmentSelectColumns+`
		FROM enrollments WHERE `+where+`
		ORDER BY created_at DESC, uid DESC
		LIMIT ? OFFSET ?
	`, listArgs...)
	if err != nil {
		return nil, 0, apperr.Internal(err, "failed to list enrollments")
	}
	defer rows.Close()

	var out []quota.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, 0, apperr.Internal(err, "failed to scan enrollment")
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func (s *EnrollmentStore) SoftDelete(ctx context.Context, uid string, scope quota.Scope) error {
	return apperr.NotImplemented("enrollment deletion is not supported; enrollments expire naturally")
}

func (s *EnrollmentStore) FindActive(ctx context.Context, q qstore.FindActiveQuery, now time.Time) ([]quota.Enrollment, error) {
	where := []string{
		"business_name = ?",
		"user_id = ?",
		"is_deleted = 0",
		"started_at < ?",
		"(variant IS NULL OR variant = ?)",
		"(expired_at IS NULL OR expired_at > ?)",
		"status = 'active'",
		"(acquisition_type = 'purchase' OR (acquisition_type = 'borrowed' AND due_date > ? AND is_paid = 0))",
	}
	args := []any{q.BusinessName, q.UserID, formatTime(now)}
	if q.Variant != nil {
		args = append(args, *q.Variant)
	} else {
		args = append(args, nil)
	}
	args = append(args, formatTime(now), formatTime(now))

	if q.EnrollmentID != nil {
		where = append(where, "uid = ?")
		args = append(args, *q.EnrollmentID)
	}

	rows, err := s.db.QueryContext(ctx, enrollmentSelectColumns+`
		FROM enrollments WHERE `+strings.Join(where, " AND "), args...)
	if err != nil {
		return nil, apperr.Internal(err, "failed to query active enrollments")
	}
	defer rows.Close()

	var candidates []quota.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, apperr.Internal(err, "failed to scan enrollment")
		}
		if bundle.Find(e.Bundles, q.Asset) < 0 {
			continue
		}
		candidates = append(candidates, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal(err, "failed to iterate active enrollments")
	}

	qstore.Sort(candidates)
	return candidates, nil
}

func (s *EnrollmentStore) FindActiveFreemium(ctx context.Context, businessName, userID string, now time.Time) (quota.Enrollment, bool, error) {
	row := s.db.QueryRowContext(ctx, enrollmentSelectColumns+`
		FROM enrollments
		WHERE business_name = ? AND user_id = ? AND is_deleted = 0
		  AND acquisition_type = 'freemium' AND status = 'active'
		  AND started_at <= ? AND (expired_at IS NULL OR expired_at > ?)
	`, businessName, userID, formatTime(now), formatTime(now))

	e, err := scanEnrollment(row)
	if err == sql.ErrNoRows {
		return quota.Enrollment{}, false, nil
	}
	if err != nil {
		return quota.Enrollment{}, false, apperr.Internal(err, "failed to find active freemium enrollment")
	}
	return e, true, nil
}

// ---------------------------------------------------------------------
// Ledger
// ---------------------------------------------------------------------

// Ledger implements quota/ledger.UsageLedger and quota/ledger.Locker.
type Ledger struct {
	*conn
}

// Lock implements ledger.Locker on conn.commitMu: fn runs exclusively with
// respect to every other Lock caller on this database. Reads and
// EnrollmentStore.Create calls made outside Lock are not blocked by it.
// commitMu is never taken by any other EnrollmentStore/Ledger method, so
// fn is free to call back into Create/FindActive/Latest/etc. (as
// quota/freemium's provisioning step does) without deadlocking against
// itself. Returns apperr.Conflict if ctx is already done before fn could
// start.
func (l *Ledger) Lock(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return apperr.Conflict("lock acquisition canceled: " + err.Error())
	}
	l.commitMu.Lock()
	defer l.commitMu.Unlock()
	if err := ctx.Err(); err != nil {
		return apperr.Conflict("lock acquisition canceled: " + err.Error())
	}
	return fn(ctx)
}

func (l *Ledger) Latest(ctx context.Context, enrollmentID string) (quota.Usage, bool, error) {
	row := l.db.QueryRowContext(ctx, usageSelectColumns+`
		FROM usages WHERE enrollment_id = ?
		ORDER BY created_at DESC, uid DESC
		LIMIT 1
	`, enrollmentID)

	u, err := scanUsage(row)
	if err == sql.ErrNoRows {
		return quota.Usage{}, false, nil
	}
	if err != nil {
		return quota.Usage{}, false, apperr.Internal(err, "failed to get latest usage")
	}
	return u, true, nil
}

func (l *Ledger) LeftoverOf(ctx context.Context, enrollment quota.Enrollment) ([]bundle.Bundle, error) {
	return ledger.DefaultLeftoverOf(ctx, l, enrollment)
}

func (l *Ledger) Append(ctx context.Context, u quota.Usage) (quota.Usage, error) {
	rows, err := l.appendRows(ctx, l.db, []quota.Usage{u})
	if err != nil {
		return quota.Usage{}, err
	}
	return rows[0], nil
}

func (l *Ledger) AppendBatch(ctx context.Context, rows []quota.Usage) ([]quota.Usage, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Internal(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	written, err := l.appendRows(ctx, tx, rows)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, apperr.Internal(err, "failed to commit usage batch")
	}
	return written, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (l *Ledger) appendRows(ctx context.Context, db execer, rows []quota.Usage) ([]quota.Usage, error) {
	out := make([]quota.Usage, 0, len(rows))
	for _, u := range rows {
		if err := u.Validate(); err != nil {
			return nil, apperr.Validation(err.Error())
		}

		leftoverJSON, err := json.Marshal(u.LeftoverBundles)
		if err != nil {
			return nil, apperr.Internal(err, "failed to marshal leftover_bundles")
		}
		metaJSON, err := json.Marshal(u.MetaData)
		if err != nil {
			return nil, apperr.Internal(err, "failed to marshal meta_data")
		}

		_, err = db.ExecContext(ctx, `
			INSERT INTO usages
			(uid, business_name, user_id, created_at, enrollment_id, asset,
			 amount, variant, meta_data_json, leftover_bundles_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			u.UID, u.BusinessName, u.UserID, formatTime(u.CreatedAt),
			u.EnrollmentID, u.Asset, u.Amount.String(), nullString(u.Variant),
			string(metaJSON), string(leftoverJSON),
		)
		if err != nil {
			return nil, apperr.Internal(err, "failed to append usage")
		}
		out = append(out, u)
	}
	return out, nil
}

func (l *Ledger) Get(ctx context.Context, uid string, scope quota.Scope) (quota.Usage, bool, error) {
	row := l.db.QueryRowContext(ctx, usageSelectColumns+`FROM usages WHERE uid = ?`, uid)
	u, err := scanUsage(row)
	if err == sql.ErrNoRows {
		return quota.Usage{}, false, nil
	}
	if err != nil {
		return quota.Usage{}, false, apperr.Internal(err, "failed to get usage")
	}
	if !scope.Allows(u.BusinessName, u.UserID) {
		return quota.Usage{}, false, nil
	}
	return u, true, nil
}

func (l *Ledger) List(ctx context.Context, scope quota.Scope, offset, limit int) ([]quota.Usage, int, error) {
	where := "business_name = ?"
	args := []any{scope.BusinessName}
	if scope.UserID != "" {
		where += " AND user_id = ?"
		args = append(args, scope.UserID)
	}

	var total int
	if err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM usages WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Internal(err, "failed to count usages")
	}

	listArgs := append(append([]any{}, args...), limit, offset)
	rows, err := l.db.QueryContext(ctx, usageSelectColumns+`
		FROM usages WHERE `+where+`
		ORDER BY created_at DESC, uid DESC
		LIMIT ? OFFSET ?
	`, listArgs...)
	if err != nil {
		return nil, 0, apperr.Internal(err, "failed to list usages")
	}
	defer rows.Close()

	var out []quota.Usage
	for rows.Next() {
		u, err := scanUsage(rows)
		if err != nil {
			return nil, 0, apperr.Internal(err, "failed to scan usage")
		}
		out = append(out, u)
	}
	return out, total, rows.Err()
}

// ---------------------------------------------------------------------
// scanning helpers
// ---------------------------------------------------------------------

const enrollmentSelectColumns = `
	SELECT uid, business_name, user_id, created_at, updated_at,
	       price, invoice_id, acquisition_type, started_at, expired_at,
	       status, bundles_json, variant, due_date, is_paid, meta_data_json
`

const usageSelectColumns = `
	SELECT uid, business_name, user_id, created_at, enrollment_id, asset,
	       amount, variant, meta_data_json, leftover_bundles_json
`

type scanner interface {
	Scan(dest ...any) error
}

func scanEnrollment(row scanner) (quota.Enrollment, error) {
	var e quota.Enrollment
	var createdAt, updatedAt, startedAt, price, acquisitionType, status string
	var invoiceID, variant, expiredAt, dueDate sql.NullString
	var isPaid bool
	var bundlesJSON, metaJSON string

	err := row.Scan(
		&e.UID, &e.BusinessName, &e.UserID, &createdAt, &updatedAt,
		&price, &invoiceID, &acquisitionType, &startedAt, &expiredAt,
		&status, &bundlesJSON, &variant, &dueDate, &isPaid, &metaJSON,
	)
	if err != nil {
		return quota.Enrollment{}, err
	}

	e.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return quota.Enrollment{}, err
	}
	e.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return quota.Enrollment{}, err
	}
	e.StartedAt, err = parseTime(startedAt)
	if err != nil {
		return quota.Enrollment{}, err
	}
	if expiredAt.Valid {
		t, err := parseTime(expiredAt.String)
		if err != nil {
			return quota.Enrollment{}, err
		}
		e.ExpiredAt = &t
	}
	if dueDate.Valid {
		t, err := parseTime(dueDate.String)
		if err != nil {
			return quota.Enrollment{}, err
		}
		e.DueDate = &t
	}

	e.Price, err = money.Parse(price)
	if err != nil {
		return quota.Enrollment{}, err
	}
	e.AcquisitionType = quota.AcquisitionType(acquisitionType)
	e.Status = quota.Status(status)
	e.IsPaid = isPaid
	if invoiceID.Valid {
		v := invoiceID.String
		e.InvoiceID = &v
	}
	if variant.Valid {
		v := variant.String
		e.Variant = &v
	}
	if err := json.Unmarshal([]byte(bundlesJSON), &e.Bundles); err != nil {
		return quota.Enrollment{}, err
	}
	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &e.MetaData); err != nil {
			return quota.Enrollment{}, err
		}
	}
	return e, nil
}

func scanUsage(row scanner) (quota.Usage, error) {
	var u quota.Usage
	var createdAt, amount string
	var variant sql.NullString
	var metaJSON, leftoverJSON string

	err := row.Scan(
		&u.UID, &u.BusinessName, &u.UserID, &createdAt, &u.EnrollmentID,
		&u.Asset, &amount, &variant, &metaJSON, &leftoverJSON,
	)
	if err != nil {
		return quota.Usage{}, err
	}

	u.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return quota.Usage{}, err
	}
	u.Amount, err = money.Parse(amount)
	if err != nil {
		return quota.Usage{}, err
	}
	if variant.Valid {
		v := variant.String
		u.Variant = &v
	}
	if err := json.Unmarshal([]byte(leftoverJSON), &u.LeftoverBundles); err != nil {
		return quota.Usage{}, err
	}
	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &u.MetaData); err != nil {
			return quota.Usage{}, err
		}
	}
	return u, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
