/*
Package freemium implements the idempotent getter/creator for a
per-(tenant,user,variant) auto-renewing free-tier enrollment (spec.md
§4.4).

ALGORITHM:
  1. Look up an enrollment with acquisition_type == "freemium",
     status == "active", started_at <= now < expired_at, matching
     (tenant, user, [variant]).
  2. If found, return it.
  3. Otherwise create one: started_at = now, expired_at = now +
     period_days, bundles = quota.Bundles, variant = quota.Variant,
     status = "active". Persist and return.

  If the host supplies no Quota for a tenant (freemium disabled), the
  provisioner short-circuits and yields no enrollment.

IDEMPOTENCY UNDER CONCURRENCY (spec.md §5):
  Two callers racing on step 1 finding nothing both attempt step 3. At
  most one may win: the backing store enforces a unique constraint on
  (business_name, user_id, acquisition_type="freemium", variant, period
  window) — see store/sqlite's idx_enrollments_freemium_unique — and this
  package treats a unique-constraint failure on Create as "someone else just
  provisioned it", re-reading and returning the winner's row instead of
  surfacing an error to the caller. This mirrors generic/ledger.go's
  Append returning ErrDuplicateIdempotencyKey on retry, generalized from
  "reject the duplicate" to "return the existing winner" because
  provisioning (unlike a debit) has no amount to lose by converging on
  someone else's row.

SEE ALSO:
  - quota/selector: the only caller; treats the provisioned enrollment as
    the first candidate in the plan.
*/
package freemium

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ufaasio/ufaas-saas/bundle"
	"github.com/ufaasio/ufaas-saas/quota"
)

// Quota is the host-supplied free-tier configuration for a tenant: how
// long the grant lasts, what it contains, and which variant (if any) it
// is tagged with. Its configuration source is out of scope per spec.md
// §1; config.Config is one concrete source (see config package).
type Quota struct {
	PeriodDays int
	Bundles    []bundle.Bundle
	Variant    *string
}

// Lookup resolves a tenant's freemium Quota, or (zero, false) if freemium
// is disabled for that tenant.
type Lookup func(businessName string) (Quota, bool)

// Store is the subset of qstore.EnrollmentStore the provisioner needs: a
// dedicated freemium lookup (spec.md §4.4's predicate has no asset
// filter, unlike the general find_active query) and a create.
type Store interface {
	// FindActiveFreemium returns the active freemium enrollment for
	// (businessName, userID), if any: acquisition_type == "freemium",
	// status == "active", started_at <= now < expired_at.
	FindActiveFreemium(ctx context.Context, businessName, userID string, now time.Time) (quota.Enrollment, bool, error)
	Create(ctx context.Context, e quota.Enrollment) (quota.Enrollment, error)
}

// Provisioner is the idempotent getter/creator of spec.md §4.4.
type Provisioner struct {
	Store  Store
	Lookup Lookup
	Now    func() time.Time
	UID    func() string
}

func New(store Store, lookup Lookup, now func() time.Time) *Provisioner {
	if now == nil {
		now = time.Now
	}
	return &Provisioner{Store: store, Lookup: lookup, Now: now, UID: uuid.NewString}
}

// GetOrCreate returns the active freemium enrollment for
// (businessName, userID, variant), creating one if none exists and the
// host has freemium configured for this tenant.
//
// variant is the requesting usage's variant. Per spec.md §9's resolved
// open question: if it differs from the tenant's configured
// Quota.Variant, no freemium enrollment is created or returned.
func (p *Provisioner) GetOrCreate(ctx context.Context, businessName, userID string, variant *string) (quota.Enrollment, bool, error) {
	cfg, enabled := p.Lookup(businessName)
	if !enabled {
		return quota.Enrollment{}, false, nil
	}
	if !sameVariant(cfg.Variant, variant) {
		return quota.Enrollment{}, false, nil
	}

	now := p.Now()

	if existing, ok, err := p.Store.FindActiveFreemium(ctx, businessName, userID, now); err != nil {
		return quota.Enrollment{}, false, err
	} else if ok {
		return existing, true, nil
	}

	expiresAt := now.AddDate(0, 0, cfg.PeriodDays)
	created, err := p.Store.Create(ctx, quota.Enrollment{
		UID:             p.UID(),
		BusinessName:    businessName,
		UserID:          userID,
		AcquisitionType: quota.AcquisitionFreemium,
		StartedAt:       now,
		ExpiredAt:       &expiresAt,
		Status:          quota.StatusActive,
		Bundles:         bundle.Clone(cfg.Bundles),
		Variant:         cfg.Variant,
	})
	if err != nil {
		// A concurrent caller may have won the race on the unique
		// constraint; converge on their row rather than erroring.
		if existing, ok, rereadErr := p.Store.FindActiveFreemium(ctx, businessName, userID, now); rereadErr == nil && ok {
			return existing, true, nil
		}
		return quota.Enrollment{}, false, err
	}
	return created, true, nil
}

func sameVariant(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
