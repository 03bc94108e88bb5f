/*
Package fixtures builds the literal enrollment scenarios (spec.md §8) for
reuse across quota/selector and quota/commit tests, so each test doesn't
hand-roll the same five enrollments.

GROUNDED ON:
  api/scenarios.go's scenario-builder idea: a fixed table of named,
  pre-built states for exercising a system end to end. Generalized from
  "load a demo employee/policy/transaction set" to "build the five
  literal enrollments spec.md §8 describes".
*/
package fixtures

import (
	"time"

	"github.com/ufaasio/ufaas-saas/bundle"
	"github.com/ufaasio/ufaas-saas/money"
	"github.com/ufaasio/ufaas-saas/quota"
)

// Tenant and User are the fixed (business_name, user_id) spec.md §8's
// scenarios run under.
const (
	Tenant = "acme"
	User   = "user-1"
)

func amount(v int64) money.Amount { return money.NewFromInt(v) }

func expiry(t0 time.Time, d time.Duration) *time.Time {
	e := t0.Add(d)
	return &e
}

func variant(v string) *string { return &v }

// Scenario builds the five enrollments spec.md §8 fixes relative to t0,
// all started one second before t0 so find_active's started_at < now
// holds immediately.
type Scenario struct {
	E1, E2, E3, E4, E5 quota.Enrollment
}

// Build returns spec.md §8's literal scenario, with every enrollment's
// uid set to its own name ("E1".."E5") for test readability.
func Build(t0 time.Time) Scenario {
	startedAt := t0.Add(-time.Second)

	mk := func(uid string, expiredAt *time.Time, variantPtr *string, bundles ...bundle.Bundle) quota.Enrollment {
		return quota.Enrollment{
			UID:             uid,
			BusinessName:    Tenant,
			UserID:          User,
			CreatedAt:       startedAt,
			UpdatedAt:       startedAt,
			Price:           money.Zero,
			AcquisitionType: quota.AcquisitionPurchase,
			StartedAt:       startedAt,
			ExpiredAt:       expiredAt,
			Status:          quota.StatusActive,
			Bundles:         bundles,
			Variant:         variantPtr,
		}
	}

	return Scenario{
		E1: mk("E1", expiry(t0, 10*time.Second), nil,
			bundle.Bundle{Asset: "image", Quota: amount(10)}),
		E2: mk("E2", nil, nil,
			bundle.Bundle{Asset: "image", Quota: amount(10)}),
		E3: mk("E3", expiry(t0, 11*time.Second), variant("v"),
			bundle.Bundle{Asset: "image", Quota: amount(10)}),
		E4: mk("E4", expiry(t0, 2*time.Second), nil,
			bundle.Bundle{Asset: "image", Quota: amount(10)},
			bundle.Bundle{Asset: "text", Quota: amount(10)}),
		E5: mk("E5", expiry(t0, time.Second), nil,
			bundle.Bundle{Asset: "text", Quota: amount(10)}),
	}
}

// All returns the scenario's enrollments in E1..E5 order.
func (s Scenario) All() []quota.Enrollment {
	return []quota.Enrollment{s.E1, s.E2, s.E3, s.E4, s.E5}
}
