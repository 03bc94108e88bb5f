/*
Package commit implements Usage Commit (spec.md §4.6): turning a
selector.Plan into immutable Usage ledger rows, atomically.

ALGORITHM:
  1. Call Selector.Select.
  2. If the plan is empty OR sum(used) < amount: fail with
     insufficient_quota, providing requested/granted/shortfall. No ledger
     rows are written.
  3. Otherwise, for each (e, used, post) in plan order: append a Usage row
     with enrollment_id=e.uid, asset, amount=used, variant, meta_data,
     leftover_bundles=post. Append order equals plan order; created_at is
     strictly increasing within the plan.
  4. Return the appended rows.

ATOMICITY:
  The append sequence within one request must appear atomic to concurrent
  selectors: either all rows are visible or none (spec.md §5). This is
  UsageLedger.AppendBatch's contract — generalized from generic/ledger.go's
  AppendBatch ("approving a 5-day PTO request writes 5 transactions
  atomically, all-or-nothing").

ORDERING WITHIN A BATCH:
  Two splits committed in the same request may land on a clock that
  hasn't advanced between them. A ulid.ULID monotonic source guarantees a
  strictly increasing secondary key so "created_at, tiebreak uid"
  ordering (spec.md §4.3) is never ambiguous even at sub-millisecond
  commit rates — see NewMonotonicUID.
*/
package commit

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ufaasio/ufaas-saas/apperr"
	"github.com/ufaasio/ufaas-saas/quota"
	"github.com/ufaasio/ufaas-saas/quota/ledger"
	"github.com/ufaasio/ufaas-saas/quota/selector"
)

// Request is the input to Commit: a usage request plus the metadata that
// rides along with each resulting Usage row.
type Request struct {
	selector.Request
	Variant  *string
	MetaData map[string]any
}

// Committer calls Selector.Select and, on a complete plan, persists one
// Usage row per split.
type Committer struct {
	Selector *selector.Selector
	Ledger   ledger.UsageLedger
	UID      func() string
	Now      func() time.Time
}

func New(sel *selector.Selector, usageLedger ledger.UsageLedger, now func() time.Time) *Committer {
	if now == nil {
		now = time.Now
	}
	return &Committer{Selector: sel, Ledger: usageLedger, UID: NewMonotonicUID(), Now: now}
}

// Commit runs the full select-then-append flow of spec.md §4.6. If Ledger
// implements ledger.Locker, the select-then-append pair runs inside its
// critical section so two concurrent commits against the same enrollment
// can never both observe the same leftover (spec.md §5).
func (c *Committer) Commit(ctx context.Context, req Request) ([]quota.Usage, error) {
	var rows []quota.Usage

	run := func(ctx context.Context) error {
		plan, err := c.Selector.Select(ctx, req.Request)
		if err != nil {
			return err
		}

		granted := plan.Granted()
		if len(plan) == 0 || granted.LessThan(req.Amount) {
			shortfall := req.Amount.Sub(granted)
			return apperr.InsufficientQuota(req.Amount.String(), granted.String(), shortfall.String())
		}

		pending := make([]quota.Usage, 0, len(plan))
		now := c.Now()
		for i, split := range plan {
			pending = append(pending, quota.Usage{
				UID:             c.UID(),
				BusinessName:    req.BusinessName,
				UserID:          req.UserID,
				CreatedAt:       now.Add(time.Duration(i) * time.Nanosecond),
				EnrollmentID:    split.Enrollment.UID,
				Asset:           req.Asset,
				Amount:          split.Used,
				Variant:         req.Variant,
				MetaData:        req.MetaData,
				LeftoverBundles: split.PostLeftover,
			})
		}

		written, err := c.Ledger.AppendBatch(ctx, pending)
		if err != nil {
			return err
		}
		rows = written
		return nil
	}

	if locker, ok := c.Ledger.(ledger.Locker); ok {
		if err := locker.Lock(ctx, run); err != nil {
			return nil, err
		}
		return rows, nil
	}

	if err := run(ctx); err != nil {
		return nil, err
	}
	return rows, nil
}

// NewMonotonicUID returns a uid generator producing lexically and
// temporally ordered IDs (ULIDs), so Usage rows written within the same
// commit batch sort correctly by (created_at, uid) even when created_at
// itself doesn't advance between two splits.
func NewMonotonicUID() func() string {
	var mu sync.Mutex
	entropy := ulid.Monotonic(rand.Reader, 0)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
	}
}
