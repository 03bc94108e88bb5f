/*
Package quota defines the Enrollment and Usage domain types: a user's
holding of pre-paid or free-tier bundles with a tenant, and the immutable
ledger rows that debit them.

KEY CONCEPTS:
  - Enrollment: "user U of tenant T holds this bundle-set." Bundles are
    write-once; everything else about an enrollment (status, soft-delete)
    may change.
  - Usage: one immutable ledger entry debiting some amount from one
    enrollment. Once written, never updated — see quota/ledger.

DESIGN PRINCIPLES (generalized from generic/types.go):
  1. Immutability: Usage rows are never modified, only appended.
  2. Precision: money.Amount everywhere, never float64.
  3. Auditability: every Usage carries the enrollment it debited and the
     post-debit leftover snapshot.

SEE ALSO:
  - quota/store: EnrollmentStore persistence and the find_active query.
  - quota/ledger: UsageLedger persistence and leftover derivation.
*/
package quota

import (
	"time"

	"github.com/ufaasio/ufaas-saas/bundle"
	"github.com/ufaasio/ufaas-saas/money"
)

// AcquisitionType is a closed enum of how an enrollment was obtained.
type AcquisitionType string

const (
	AcquisitionPurchase     AcquisitionType = "purchase"
	AcquisitionBorrowed     AcquisitionType = "borrowed"
	AcquisitionFreemium     AcquisitionType = "freemium"
	AcquisitionTrial        AcquisitionType = "trial"
	AcquisitionCredit       AcquisitionType = "credit"
	AcquisitionGifted       AcquisitionType = "gifted"
	AcquisitionDeferred     AcquisitionType = "deferred"
	AcquisitionPromo        AcquisitionType = "promo"
	AcquisitionSubscription AcquisitionType = "subscription"
	AcquisitionOnDemand     AcquisitionType = "on_demand"
)

// Status is an enrollment's lifecycle state.
type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
)

// Enrollment represents a user's holding of one or more bundles from a
// tenant, with expiry and variant constraints.
type Enrollment struct {
	UID          string
	BusinessName string
	UserID       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	IsDeleted    bool

	Price           money.Amount
	InvoiceID       *string
	AcquisitionType AcquisitionType

	StartedAt time.Time
	ExpiredAt *time.Time

	Status Status

	// Bundles is the original grant. Write-once after insert — never
	// mutated by any operation in this service.
	Bundles []bundle.Bundle

	// Variant optionally restricts which usage requests may draw from
	// this enrollment (see quota/store.FindActive).
	Variant *string

	// DueDate/IsPaid are consulted only for AcquisitionBorrowed
	// eligibility (quota/store.FindActive).
	DueDate *time.Time
	IsPaid  bool

	MetaData map[string]any
}

// Validate checks the create-time invariants of spec.md §3: bundles
// asset-unique, started_at <= expired_at when expired_at is set.
func (e Enrollment) Validate() error {
	if bundle.HasDuplicateAsset(e.Bundles) {
		return errDuplicateAsset
	}
	if e.ExpiredAt != nil && e.StartedAt.After(*e.ExpiredAt) {
		return errInvalidPeriod
	}
	return nil
}

// IsBorrowedEligible reports whether a borrowed enrollment is currently
// usable: due in the future and not yet paid (spec.md §4.2).
func (e Enrollment) IsBorrowedEligible(now time.Time) bool {
	return e.DueDate != nil && e.DueDate.After(now) && !e.IsPaid
}

// MatchesVariant implements spec.md §4.2's variant predicate:
// "variant is null OR variant == V". A null request variant matches
// only a null enrollment variant; a non-null request variant matches a
// null enrollment variant OR one tagged with the same variant.
func (e Enrollment) MatchesVariant(requested *string) bool {
	if e.Variant == nil {
		return true
	}
	return requested != nil && *e.Variant == *requested
}

// Usage is one immutable ledger entry debiting some amount from one
// enrollment.
type Usage struct {
	UID          string
	BusinessName string
	UserID       string
	CreatedAt    time.Time

	EnrollmentID string
	Asset        string
	Amount       money.Amount
	Variant      *string
	MetaData     map[string]any

	// LeftoverBundles is the enrollment's bundle list after this debit.
	// This field is the authoritative post-state for that enrollment
	// (spec.md §3: "the ledger IS the state").
	LeftoverBundles []bundle.Bundle
}

// Validate checks the write-time invariants of spec.md §3: positive
// amount, no negative-quota residue in the leftover snapshot.
func (u Usage) Validate() error {
	if !u.Amount.IsPositive() {
		return errNonPositiveAmount
	}
	for _, b := range u.LeftoverBundles {
		if b.Quota.IsNegative() {
			return errNegativeLeftover
		}
	}
	return nil
}

// Scope is the (business_name, user_id) pair derived from the calling
// principal, used to authorize every read (spec.md §4.2).
type Scope struct {
	BusinessName string
	// UserID is empty for operator-role callers, who may read any user
	// within their tenant; set for user-role callers, who are restricted
	// to their own records.
	UserID string
}

// Allows reports whether a record owned by (businessName, userID) is
// visible under this scope.
func (s Scope) Allows(businessName, userID string) bool {
	if s.BusinessName != businessName {
		return false
	}
	if s.UserID == "" {
		return true
	}
	return s.UserID == userID
}
