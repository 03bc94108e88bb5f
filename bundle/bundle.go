/*
Package bundle implements the Bundle value object and the pure list
operations the selector builds on.

A Bundle is an (asset, quota) pair: a grant of a specific quantity of one
named asset. Enrollments hold a list of bundles; usage debits walk that
list looking for the asset being consumed.

PURITY:
  Find, Deduct and DropEmpty never mutate their input slice. Each returns
  a new slice (or the same slice, copy-on-write, when nothing changed).
  This matters because a Bundle list may simultaneously be an
  Enrollment's original grant (spec.md: "bundles is write-once after
  insert") and a Usage row's leftover snapshot — sharing backing arrays
  between the two would silently violate that invariant.

SEE ALSO:
  - quota/selector: calls Deduct while walking ordered enrollment
    candidates.
*/
package bundle

import "github.com/ufaasio/ufaas-saas/money"

// Bundle is a grant of a specific quantity of one named asset.
type Bundle struct {
	Asset string      `json:"asset"`
	Quota money.Amount `json:"quota"`
}

// Equal reports whether two bundles have the same asset, byte-for-byte.
func Equal(a, b Bundle) bool { return a.Asset == b.Asset }

// Find returns the index of the first bundle with the given asset, or -1.
func Find(bundles []Bundle, asset string) int {
	for i, b := range bundles {
		if b.Asset == asset {
			return i
		}
	}
	return -1
}

// Clone returns a copy of bundles safe to mutate independently of the
// original slice.
func Clone(bundles []Bundle) []Bundle {
	out := make([]Bundle, len(bundles))
	copy(out, bundles)
	return out
}

// Deduct finds the bundle matching asset and removes up to amount from its
// quota.
//
//   - No matching bundle: returns (0, bundles unchanged) — a no-op, per
//     spec.md §4.1.
//   - Bundle.Quota >= amount: the copy's quota is reduced by amount;
//     used == amount.
//   - Bundle.Quota < amount: the bundle is removed entirely; used equals
//     the bundle's full quota (the caller handles the residual against
//     the next candidate).
func Deduct(bundles []Bundle, asset string, amount money.Amount) (used money.Amount, out []Bundle) {
	idx := Find(bundles, asset)
	if idx < 0 {
		return money.Zero, bundles
	}

	b := bundles[idx]
	out = Clone(bundles)

	if b.Quota.GreaterThanOrEqual(amount) {
		out[idx] = Bundle{Asset: b.Asset, Quota: b.Quota.Sub(amount)}
		return amount, DropEmpty(out)
	}

	// Residual case: bundle fully consumed, drop it.
	out = append(out[:idx], out[idx+1:]...)
	return b.Quota, out
}

// DropEmpty removes any bundle whose quota has reached zero. Negative
// quotas never occur (Deduct never overdraws a single bundle) but a zero
// quota bundle carries no information and spec.md §3 requires leftover
// bundles to omit exhausted assets.
func DropEmpty(bundles []Bundle) []Bundle {
	out := make([]Bundle, 0, len(bundles))
	for _, b := range bundles {
		if !b.Quota.IsZero() {
			out = append(out, b)
		}
	}
	return out
}

// HasDuplicateAsset reports whether two or more bundles share an asset —
// rejected on enrollment creation per spec.md §3.
func HasDuplicateAsset(bundles []Bundle) bool {
	seen := make(map[string]struct{}, len(bundles))
	for _, b := range bundles {
		if _, ok := seen[b.Asset]; ok {
			return true
		}
		seen[b.Asset] = struct{}{}
	}
	return false
}
