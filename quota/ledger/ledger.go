/*
Package ledger defines the UsageLedger interface: append-only persistence
of Usage rows, and leftover derivation.

CRITICAL INVARIANTS (generalized from generic/ledger.go):
  1. APPEND-ONLY: no Update, no Delete, ever.
  2. IMMUTABLE: once written, a Usage row is never modified — any
     attempted update is a hard error (spec.md §3).
  3. LEDGER-AS-STATE: an enrollment's current leftover is not stored on
     the enrollment; it is the leftover_bundles of the latest Usage row
     for that enrollment, or the enrollment's own bundles if none exists
     (spec.md §3, §9 "stateful remain_resources column" re-architecture
     note — this spec deliberately has no such column).

WHY THIS MATTERS:
  Storing leftover on the enrollment row invites a read-modify-write race:
  two concurrent debits both read the same leftover, both compute a new
  leftover, and the second write clobbers the first's debit. Deriving
  leftover from the latest ledger row instead turns every debit into a
  pure append, which a unique constraint or CAS on
  (enrollment_id, latest usage uid) can serialize (spec.md §5).

SEE ALSO:
  - quota/store: EnrollmentStore, the other half of the domain.
  - quota/selector, quota/admin: the callers of LeftoverOf.
  - quota/commit: the caller of AppendBatch.
*/
package ledger

import (
	"context"

	"github.com/ufaasio/ufaas-saas/bundle"
	"github.com/ufaasio/ufaas-saas/quota"
)

// UsageLedger is the source of truth for enrollment leftover state.
type UsageLedger interface {
	// Latest returns the most recent Usage row for enrollmentID, ordered
	// by created_at desc then uid desc, or (zero, false) if none exists.
	Latest(ctx context.Context, enrollmentID string) (quota.Usage, bool, error)

	// LeftoverOf returns enrollment's current leftover bundles: the
	// latest Usage row's leftover_bundles if one exists, else a copy of
	// enrollment.Bundles. Callers must never mutate the backing
	// enrollment, so this always returns a fresh copy.
	LeftoverOf(ctx context.Context, enrollment quota.Enrollment) ([]bundle.Bundle, error)

	// Append persists a single Usage row. Rejects writes that fail
	// quota.Usage.Validate: amount <= 0, or a leftover bundle with a
	// negative quota. It does not check that enrollment_id names an
	// existing enrollment, nor compare leftover_bundles with that
	// enrollment's asset set.
	Append(ctx context.Context, u quota.Usage) (quota.Usage, error)

	// AppendBatch persists multiple Usage rows atomically: either all
	// are visible to subsequent reads or none are (spec.md §4.6, §5).
	// Rows are stored with the created_at the caller set; quota/commit
	// sets it strictly increasing within the batch.
	AppendBatch(ctx context.Context, rows []quota.Usage) ([]quota.Usage, error)

	// Get returns the Usage row with the given uid if visible under
	// scope.
	Get(ctx context.Context, uid string, scope quota.Scope) (quota.Usage, bool, error)

	// List returns a page of Usage rows visible under scope.
	List(ctx context.Context, scope quota.Scope, offset, limit int) (items []quota.Usage, total int, err error)
}

// DefaultLeftoverOf implements the LeftoverOf derivation rule in terms of
// Latest, for ledger backends that don't have a cheaper query path.
func DefaultLeftoverOf(ctx context.Context, l UsageLedger, enrollment quota.Enrollment) ([]bundle.Bundle, error) {
	latest, ok, err := l.Latest(ctx, enrollment.UID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return bundle.Clone(enrollment.Bundles), nil
	}
	return bundle.Clone(latest.LeftoverBundles), nil
}
