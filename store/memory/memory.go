/*
Package memory provides an in-memory implementation of the quota
engine's persistence interfaces, for tests that would rather not pay for
a SQLite file.

Grounded on generic/store/memory.go's Memory type: a mutex-guarded map.
Locker is backed by a second, separate mutex, as described below.

Store implements quota/store.EnrollmentStore; Ledger implements
quota/ledger.UsageLedger and quota/ledger.Locker. Both hold a pointer to
the same *shared, but Locker's critical section runs under a dedicated
commitMu, never the data mutex (mu) that the individual Get/List/
FindActive/Append methods take for each map access. Committer.Commit
holds the lock for the whole select-then-append pair, and that pair
calls straight back into Store/Ledger methods (FindActive, Latest,
FindActiveFreemium, Create) — if those methods and Lock shared one
non-reentrant mutex, a commit would deadlock itself on its own first read.
*/
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ufaasio/ufaas-saas/apperr"
	"github.com/ufaasio/ufaas-saas/bundle"
	"github.com/ufaasio/ufaas-saas/quota"
	"github.com/ufaasio/ufaas-saas/quota/ledger"
	qstore "github.com/ufaasio/ufaas-saas/quota/store"
)

type shared struct {
	mu          sync.Mutex
	enrollments map[string]quota.Enrollment
	// order preserves insertion order for List's stable paging.
	order []string
	usages map[string]quota.Usage
	usageOrder []string

	// commitMu backs Locker. It is distinct from mu: a commit's critical
	// section calls back into the Get/List/FindActive/Append methods
	// above, which take mu for themselves, so Lock must never hold mu
	// while running fn or those re-entrant calls would deadlock.
	commitMu sync.Mutex
}

// New returns a Store and Ledger pair sharing one in-memory backing map.
func New() (*Store, *Ledger) {
	s := &shared{
		enrollments: make(map[string]quota.Enrollment),
		usages:      make(map[string]quota.Usage),
	}
	return &Store{shared: s}, &Ledger{shared: s}
}

// ---------------------------------------------------------------------
// Store
// ---------------------------------------------------------------------

// Store implements quota/store.EnrollmentStore.
type Store struct {
	*shared
}

func (s *Store) Create(_ context.Context, e quota.Enrollment) (quota.Enrollment, error) {
	if err := e.Validate(); err != nil {
		return quota.Enrollment{}, apperr.Validation(err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e.AcquisitionType == quota.AcquisitionFreemium {
		for _, id := range s.order {
			existing := s.enrollments[id]
			if existing.IsDeleted {
				continue
			}
			if existing.AcquisitionType == quota.AcquisitionFreemium &&
				existing.BusinessName == e.BusinessName && existing.UserID == e.UserID {
				return quota.Enrollment{}, apperr.Conflict("an active freemium enrollment already exists for this user")
			}
		}
	}

	e.Bundles = bundle.Clone(e.Bundles)
	s.enrollments[e.UID] = e
	s.order = append(s.order, e.UID)
	return e, nil
}

func (s *Store) Get(_ context.Context, uid string, scope quota.Scope) (quota.Enrollment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.enrollments[uid]
	if !ok || e.IsDeleted || !scope.Allows(e.BusinessName, e.UserID) {
		return quota.Enrollment{}, false, nil
	}
	return e, true, nil
}

func (s *Store) List(_ context.Context, q qstore.ListQuery) ([]quota.Enrollment, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var visible []quota.Enrollment
	for i := len(s.order) - 1; i >= 0; i-- {
		e := s.enrollments[s.order[i]]
		if e.IsDeleted || !q.Scope.Allows(e.BusinessName, e.UserID) {
			continue
		}
		visible = append(visible, e)
	}

	total := len(visible)
	start := q.Offset
	if start > total {
		start = total
	}
	end := start + q.Limit
	if end > total {
		end = total
	}
	return visible[start:end], total, nil
}

func (s *Store) SoftDelete(_ context.Context, uid string, scope quota.Scope) error {
	return apperr.NotImplemented("enrollment deletion is not supported; enrollments expire naturally")
}

func (s *Store) FindActive(_ context.Context, q qstore.FindActiveQuery, now time.Time) ([]quota.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []quota.Enrollment
	for _, uid := range s.order {
		e := s.enrollments[uid]
		if e.IsDeleted || e.BusinessName != q.BusinessName || e.UserID != q.UserID {
			continue
		}
		if q.EnrollmentID != nil && e.UID != *q.EnrollmentID {
			continue
		}
		if !e.StartedAt.Before(now) {
			continue
		}
		if !e.MatchesVariant(q.Variant) {
			continue
		}
		if e.ExpiredAt != nil && !e.ExpiredAt.After(now) {
			continue
		}
		if e.Status != quota.StatusActive {
			continue
		}
		eligible := e.AcquisitionType == quota.AcquisitionPurchase ||
			(e.AcquisitionType == quota.AcquisitionBorrowed && e.IsBorrowedEligible(now))
		if !eligible {
			continue
		}
		if bundle.Find(e.Bundles, q.Asset) < 0 {
			continue
		}
		candidates = append(candidates, e)
	}

	qstore.Sort(candidates)
	return candidates, nil
}

func (s *Store) FindActiveFreemium(_ context.Context, businessName, userID string, now time.Time) (quota.Enrollment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, uid := range s.order {
		e := s.enrollments[uid]
		if e.IsDeleted || e.AcquisitionType != quota.AcquisitionFreemium || e.Status != quota.StatusActive {
			continue
		}
		if e.BusinessName != businessName || e.UserID != userID {
			continue
		}
		if e.StartedAt.After(now) {
			continue
		}
		if e.ExpiredAt != nil && !e.ExpiredAt.After(now) {
			continue
		}
		return e, true, nil
	}
	return quota.Enrollment{}, false, nil
}

// ---------------------------------------------------------------------
// Ledger
// ---------------------------------------------------------------------

// Ledger implements quota/ledger.UsageLedger and quota/ledger.Locker.
type Ledger struct {
	*shared
}

// Lock implements ledger.Locker. It serializes concurrent commits against
// each other on commitMu, a mutex no other Store/Ledger method ever
// takes, so fn is free to call back into FindActive/Latest/Create/etc.
// without deadlocking against itself.
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

func (l *Ledger) Latest(_ context.Context, enrollmentID string) (quota.Usage, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var latest quota.Usage
	found := false
	for i := len(l.usageOrder) - 1; i >= 0; i-- {
		u := l.usages[l.usageOrder[i]]
		if u.EnrollmentID != enrollmentID {
			continue
		}
		if !found || u.CreatedAt.After(latest.CreatedAt) ||
			(u.CreatedAt.Equal(latest.CreatedAt) && u.UID > latest.UID) {
			latest = u
			found = true
		}
	}
	return latest, found, nil
}

func (l *Ledger) LeftoverOf(ctx context.Context, enrollment quota.Enrollment) ([]bundle.Bundle, error) {
	return ledger.DefaultLeftoverOf(ctx, l, enrollment)
}

func (l *Ledger) Append(_ context.Context, u quota.Usage) (quota.Usage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(u)
}

// AppendBatch validates every row before writing any of them, so a bad
// row part-way through a batch leaves no trace in the ledger, matching
// the all-or-nothing guarantee store/sqlite gets from a single sql.Tx.
func (l *Ledger) AppendBatch(_ context.Context, rows []quota.Usage) ([]quota.Usage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prepared := make([]quota.Usage, len(rows))
	for i, u := range rows {
		if err := u.Validate(); err != nil {
			return nil, apperr.Validation(err.Error())
		}
		u.LeftoverBundles = bundle.Clone(u.LeftoverBundles)
		prepared[i] = u
	}

	out := make([]quota.Usage, 0, len(prepared))
	for _, u := range prepared {
		l.usages[u.UID] = u
		l.usageOrder = append(l.usageOrder, u.UID)
		out = append(out, u)
	}
	return out, nil
}

func (l *Ledger) appendLocked(u quota.Usage) (quota.Usage, error) {
	if err := u.Validate(); err != nil {
		return quota.Usage{}, apperr.Validation(err.Error())
	}
	u.LeftoverBundles = bundle.Clone(u.LeftoverBundles)
	l.usages[u.UID] = u
	l.usageOrder = append(l.usageOrder, u.UID)
	return u, nil
}

func (l *Ledger) Get(_ context.Context, uid string, scope quota.Scope) (quota.Usage, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.usages[uid]
	if !ok || !scope.Allows(u.BusinessName, u.UserID) {
		return quota.Usage{}, false, nil
	}
	return u, true, nil
}

func (l *Ledger) List(_ context.Context, scope quota.Scope, offset, limit int) ([]quota.Usage, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var visible []quota.Usage
	for i := len(l.usageOrder) - 1; i >= 0; i-- {
		u := l.usages[l.usageOrder[i]]
		if !scope.Allows(u.BusinessName, u.UserID) {
			continue
		}
		visible = append(visible, u)
	}

	total := len(visible)
	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return visible[start:end], total, nil
}
