/*
Package admin implements Enrollment Admin (spec.md §4.7): create/list/get
enrollments, with role-gated create and rejected soft-delete.

RULES:
  - Create is allowed only for operator-role principals; user-role
    callers are rejected with unauthorized. business_name and user_id are
    always filled from the principal, never from client input.
  - List is paginated (offset >= 0, 1 <= limit <= PageMaxLimit). Each item
    is augmented with leftover_bundles from the ledger.
  - Get 404s when the enrollment is absent or out of scope; augmented
    with leftover_bundles.
  - SoftDelete is not supported on enrollments in this spec — always
    rejected with not_implemented; deletion happens only by natural
    expiry. The same prohibition applies to Usage rows (see
    quota/ledger: there is deliberately no Delete method on UsageLedger).

GROUNDED ON:
  api/handlers.go's employee/policy CRUD handlers (ListEmployees,
  GetEmployee, CreatePolicy), generalized with the operator/user
  authorization check spec.md §4.7 requires.
*/
package admin

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ufaasio/ufaas-saas/apperr"
	"github.com/ufaasio/ufaas-saas/bundle"
	"github.com/ufaasio/ufaas-saas/money"
	"github.com/ufaasio/ufaas-saas/principal"
	"github.com/ufaasio/ufaas-saas/quota"
	"github.com/ufaasio/ufaas-saas/quota/ledger"
	qstore "github.com/ufaasio/ufaas-saas/quota/store"
)

// CreateInput is the subset of Enrollment fields a client may set on
// create. business_name and user_id are always derived from the calling
// principal, never echoed from this struct.
type CreateInput struct {
	Price           money.Amount
	InvoiceID       *string
	AcquisitionType quota.AcquisitionType
	StartedAt       *time.Time
	ExpiredAt       *time.Time
	Status          quota.Status
	Bundles         []bundle.Bundle
	Variant         *string
	MetaData        map[string]any
	// DueDate/IsPaid, relevant only for AcquisitionBorrowed.
	DueDate *time.Time
	IsPaid  bool
}

// Detail augments an Enrollment with its derived leftover, the shape
// spec.md §6 calls EnrollmentDetail.
type Detail struct {
	quota.Enrollment
	LeftoverBundles []bundle.Bundle
}

// Admin is the Enrollment Admin component.
type Admin struct {
	Store  qstore.EnrollmentStore
	Ledger ledger.UsageLedger
	Now    func() time.Time
	UID    func() string
}

func New(store qstore.EnrollmentStore, usageLedger ledger.UsageLedger, now func() time.Time) *Admin {
	if now == nil {
		now = time.Now
	}
	return &Admin{Store: store, Ledger: usageLedger, Now: now, UID: uuid.NewString}
}

// Create inserts a new enrollment. caller must be an operator principal.
func (a *Admin) Create(ctx context.Context, caller principal.Principal, in CreateInput) (Detail, error) {
	if !caller.IsOperator() {
		return Detail{}, apperr.Unauthorized("only operator principals may create enrollments")
	}

	now := a.Now()
	startedAt := now
	if in.StartedAt != nil {
		startedAt = *in.StartedAt
	}
	status := in.Status
	if status == "" {
		status = quota.StatusActive
	}

	e := quota.Enrollment{
		UID:             a.UID(),
		BusinessName:    caller.BusinessName,
		UserID:          caller.UserID,
		CreatedAt:       now,
		UpdatedAt:       now,
		Price:           in.Price,
		InvoiceID:       in.InvoiceID,
		AcquisitionType: in.AcquisitionType,
		StartedAt:       startedAt,
		ExpiredAt:       in.ExpiredAt,
		Status:          status,
		Bundles:         in.Bundles,
		Variant:         in.Variant,
		DueDate:         in.DueDate,
		IsPaid:          in.IsPaid,
		MetaData:        in.MetaData,
	}

	if err := e.Validate(); err != nil {
		return Detail{}, apperr.Validation(err.Error())
	}

	created, err := a.Store.Create(ctx, e)
	if err != nil {
		// Store.Create already returns a typed *apperr.Error (e.g.
		// apperr.Conflict on a duplicate active freemium enrollment);
		// passing it through preserves that kind instead of collapsing
		// every store failure into a 500.
		return Detail{}, err
	}
	return a.toDetail(ctx, created)
}

// Get returns a single enrollment visible under scope, 404 if absent.
func (a *Admin) Get(ctx context.Context, scope quota.Scope, uid string) (Detail, error) {
	e, ok, err := a.Store.Get(ctx, uid, scope)
	if err != nil {
		return Detail{}, apperr.Internal(err, "failed to get enrollment")
	}
	if !ok {
		return Detail{}, apperr.NotFound("enrollment not found")
	}
	return a.toDetail(ctx, e)
}

// List returns a paginated page of enrollments visible under scope.
func (a *Admin) List(ctx context.Context, scope quota.Scope, offset, limit, pageMaxLimit int) ([]Detail, int, error) {
	if offset < 0 {
		return nil, 0, apperr.Validation("offset must be >= 0")
	}
	if limit < 1 || limit > pageMaxLimit {
		return nil, 0, apperr.Validation("limit out of range")
	}

	items, total, err := a.Store.List(ctx, qstore.ListQuery{Scope: scope, Offset: offset, Limit: limit})
	if err != nil {
		return nil, 0, apperr.Internal(err, "failed to list enrollments")
	}

	details := make([]Detail, 0, len(items))
	for _, e := range items {
		d, err := a.toDetail(ctx, e)
		if err != nil {
			return nil, 0, err
		}
		details = append(details, d)
	}
	return details, total, nil
}

// SoftDelete is explicitly rejected per spec.md §4.7.
func (a *Admin) SoftDelete(ctx context.Context, scope quota.Scope, uid string) error {
	return apperr.NotImplemented("enrollment deletion is not supported; enrollments expire naturally")
}

func (a *Admin) toDetail(ctx context.Context, e quota.Enrollment) (Detail, error) {
	leftover, err := a.Ledger.LeftoverOf(ctx, e)
	if err != nil {
		return Detail{}, apperr.Internal(err, "failed to derive leftover")
	}
	return Detail{Enrollment: e, LeftoverBundles: leftover}, nil
}
