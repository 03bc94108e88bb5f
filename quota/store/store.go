/*
Package store defines the EnrollmentStore persistence interface and the
find_active query predicate/ordering of spec.md §4.2.

KEY INTERFACE:
  EnrollmentStore: Create, Get, List, SoftDelete, FindActive.

FindActive QUERY PREDICATE (spec.md §4.2, verbatim):

  business_name == T
  user_id == U
  is_deleted == false
  started_at < now
  status == "active"
  bundles contains an element with asset == A
  (acquisition_type == "purchase")
   OR (acquisition_type == "borrowed" AND due_date > now AND is_paid == false)
  (expired_at > now OR expired_at is null)
  (variant is null OR variant == V)
  (uid == enrollment_id)   -- only if enrollment_id specified

ORDERING (spec.md §4.2, total order, first = highest priority):
  1. variant non-null before variant null
  2. expired_at non-null before expired_at null
  3. ascending expired_at
  4. uid ascending (final tiebreak)

CLOSED FILTER SET:
  FindActiveQuery is a fixed struct of typed parameters, not a dynamic
  filter map — spec.md §9 flags "dynamic query builders from filter maps"
  as a pattern to re-architecture away from.

SEE ALSO:
  - generic/store.go: the Store interface shape this generalizes.
  - store/sqlite: SQL implementation pushing this predicate into a WHERE
    clause and this ordering into ORDER BY.
  - store/memory: in-memory implementation using Sort directly.
*/
package store

import (
	"context"
	"sort"
	"time"

	"github.com/ufaasio/ufaas-saas/quota"
)

// FindActiveQuery is the closed set of typed parameters for the
// find_active predicate.
type FindActiveQuery struct {
	BusinessName string
	UserID       string
	Asset        string
	Variant      *string
	// EnrollmentID, if set, restricts the match to a single named
	// enrollment (spec.md: Selector skips Freemium and considers only
	// this enrollment when the caller names one).
	EnrollmentID *string
}

// ListQuery is the closed set of typed parameters for List.
type ListQuery struct {
	Scope  quota.Scope
	Offset int
	Limit  int
}

// EnrollmentStore persists Enrollment records.
type EnrollmentStore interface {
	// Create inserts a new enrollment. Returns an error if bundles
	// contain a duplicate asset or started_at > expired_at.
	Create(ctx context.Context, e quota.Enrollment) (quota.Enrollment, error)

	// Get returns the enrollment with the given uid if visible under
	// scope, or (zero Enrollment, false) if absent or out of scope.
	Get(ctx context.Context, uid string, scope quota.Scope) (quota.Enrollment, bool, error)

	// List returns a page of enrollments visible under scope, and the
	// total count of visible enrollments (ignoring offset/limit).
	List(ctx context.Context, q ListQuery) (items []quota.Enrollment, total int, err error)

	// SoftDelete marks an enrollment deleted. Not used by any operation
	// in this spec — enrollment deletion is always rejected
	// (spec.md §4.7) — but kept on the interface so a future host could
	// wire natural-expiry-adjacent cleanup without changing the store
	// contract.
	SoftDelete(ctx context.Context, uid string, scope quota.Scope) error

	// FindActive returns enrollments matching q, ordered per this file's
	// doc comment: variant-matched first, soonest finite expiry first,
	// never-expires last, uid tiebreak. now is passed explicitly rather
	// than read from time.Now() so tests can fix it exactly as spec.md
	// §8's scenarios do.
	FindActive(ctx context.Context, q FindActiveQuery, now time.Time) ([]quota.Enrollment, error)

	// FindActiveFreemium implements spec.md §4.4's lookup: the active
	// freemium enrollment for (businessName, userID), independent of
	// asset — freemium's predicate has no asset filter, unlike
	// FindActive.
	FindActiveFreemium(ctx context.Context, businessName, userID string, now time.Time) (quota.Enrollment, bool, error)
}

// Sort orders candidates per spec.md §4.2's total order. Exported so both
// the SQLite store (as a defense-in-depth re-sort after SQL ORDER BY) and
// the in-memory store (as its only ordering step) share one
// implementation — determinism must not depend on which store is used.
func Sort(candidates []quota.Enrollment) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]

		aVariant, bVariant := a.Variant != nil, b.Variant != nil
		if aVariant != bVariant {
			return aVariant // variant non-null before variant null
		}

		aExpires, bExpires := a.ExpiredAt != nil, b.ExpiredAt != nil
		if aExpires != bExpires {
			return aExpires // expired_at non-null before expired_at null
		}

		if aExpires && bExpires {
			if !a.ExpiredAt.Equal(*b.ExpiredAt) {
				return a.ExpiredAt.Before(*b.ExpiredAt) // ascending expired_at
			}
		}

		return a.UID < b.UID // final tiebreak
	})
}
