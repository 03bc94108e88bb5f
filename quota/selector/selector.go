/*
Package selector implements the core enrollment selection and debit
algorithm of spec.md §4.5: given a usage request, pick one or more active
enrollments whose leftover bundles cover the requested amount, in a
deterministic order, splitting the amount across them.

ALGORITHM (spec.md §4.5, verbatim shape):

  residual <- amount
  plan <- []

  if enrollment_id is unspecified:
      freemium_result <- Freemium.use(tenant, user, asset, residual, variant)
      if freemium_result present:
          plan.append(freemium_result); residual -= used
          if residual == 0: return plan

  candidates <- Store.find_active(tenant, user, asset, variant, enrollment_id)
  for e in candidates:
      leftover <- Ledger.leftover_of(e)
      (used, post) <- Bundle.deduct(leftover, asset, residual)
      if used == 0: continue
      plan.append((e, used, post))
      residual -= used
      if residual == 0: return plan

  return plan   // may be incomplete; caller decides partial-vs-fail

SEMANTICS:
  - used > 0 only for enrollments that contributed; skipped candidates
    never appear in the plan.
  - A plan whose sum(used) < amount is partial — returned unchanged; it is
    quota/commit's job to turn that into insufficient_quota.
  - When enrollment_id is specified, Freemium is skipped entirely and only
    the named enrollment is considered.
  - Determinism: identical inputs and identical enrollment/ledger state
    always produce the identical output sequence — store/store.go's Sort
    and this package's linear scan are both pure functions of their
    inputs.

GROUNDED ON:
  generic/balance.go's ConsumptionValidator/BalanceCalculator pattern:
  pure calculation functions that take a ledger dependency and return a
  typed result, adapted from "is this consumption valid" to "how is this
  consumption split across candidates".
*/
package selector

import (
	"context"
	"time"

	"github.com/ufaasio/ufaas-saas/bundle"
	"github.com/ufaasio/ufaas-saas/money"
	"github.com/ufaasio/ufaas-saas/quota"
	"github.com/ufaasio/ufaas-saas/quota/freemium"
	"github.com/ufaasio/ufaas-saas/quota/ledger"
	qstore "github.com/ufaasio/ufaas-saas/quota/store"
)

// Split is one element of a Plan: the enrollment that absorbed part of
// the request, how much it absorbed, and its post-debit leftover.
type Split struct {
	Enrollment    quota.Enrollment
	Used          money.Amount
	PostLeftover  []bundle.Bundle
}

// Plan is the ordered list of Splits produced by Select for one usage
// request. Plan is complete iff the sum of its Used amounts equals the
// requested amount; quota/commit is the only package that enforces that.
type Plan []Split

// Granted returns the sum of every split's Used amount.
func (p Plan) Granted() money.Amount {
	total := money.Zero
	for _, s := range p {
		total = total.Add(s.Used)
	}
	return total
}

// Request is the input to Select, mirroring spec.md §4.5's signature:
// select(tenant, user, asset, amount, variant?, enrollment_id?).
type Request struct {
	BusinessName string
	UserID       string
	Asset        string
	Amount       money.Amount
	Variant      *string
	// EnrollmentID, if set, skips the Freemium step and restricts the
	// candidate search to this single enrollment.
	EnrollmentID *string
}

// Selector ties together the Freemium Provisioner, the EnrollmentStore,
// and the UsageLedger to compute a Plan.
type Selector struct {
	Store    qstore.EnrollmentStore
	Ledger   ledger.UsageLedger
	Freemium *freemium.Provisioner
	Now      func() time.Time
}

func New(store qstore.EnrollmentStore, usageLedger ledger.UsageLedger, provisioner *freemium.Provisioner, now func() time.Time) *Selector {
	if now == nil {
		now = time.Now
	}
	return &Selector{Store: store, Ledger: usageLedger, Freemium: provisioner, Now: now}
}

// Select computes a Plan for req. The returned Plan may be partial; it is
// returned to the caller unchanged (spec.md §4.5) — quota/commit is
// responsible for rejecting partial plans.
func (s *Selector) Select(ctx context.Context, req Request) (Plan, error) {
	residual := req.Amount
	var plan Plan

	if req.EnrollmentID == nil && s.Freemium != nil {
		fe, found, err := s.Freemium.GetOrCreate(ctx, req.BusinessName, req.UserID, req.Variant)
		if err != nil {
			return nil, err
		}
		if found {
			if split, ok, err := s.tryDeduct(ctx, fe, req.Asset, residual); err != nil {
				return nil, err
			} else if ok {
				plan = append(plan, split)
				residual = residual.Sub(split.Used)
				if residual.IsZero() {
					return plan, nil
				}
			}
		}
	}

	candidates, err := s.Store.FindActive(ctx, qstore.FindActiveQuery{
		BusinessName: req.BusinessName,
		UserID:       req.UserID,
		Asset:        req.Asset,
		Variant:      req.Variant,
		EnrollmentID: req.EnrollmentID,
	}, s.Now())
	if err != nil {
		return nil, err
	}

	for _, e := range candidates {
		split, ok, err := s.tryDeduct(ctx, e, req.Asset, residual)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		plan = append(plan, split)
		residual = residual.Sub(split.Used)
		if residual.IsZero() {
			break
		}
	}

	return plan, nil
}

func (s *Selector) tryDeduct(ctx context.Context, e quota.Enrollment, asset string, residual money.Amount) (Split, bool, error) {
	leftover, err := s.Ledger.LeftoverOf(ctx, e)
	if err != nil {
		return Split{}, false, err
	}
	used, post := bundle.Deduct(leftover, asset, residual)
	if used.IsZero() {
		return Split{}, false, nil
	}
	return Split{Enrollment: e, Used: used, PostLeftover: post}, true, nil
}
