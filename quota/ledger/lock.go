/*
lock.go - the per-backend serialization hook spec.md §5 requires.

Between concurrent requests on the same enrollment, the pair
(read leftover_of, append usage) must be serialized — otherwise two
requests can both observe the same leftover and overdraw. spec.md §5
offers three implementation strategies; this service picks strategy (a):
"take a row-level lock on the enrollment during commit". Locker is the
seam that lets quota/commit ask its backing ledger for that lock without
knowing whether the backend is SQLite, an in-memory map, or something
else.

A backend that doesn't implement Locker is read-only-safe but not
write-safe under concurrency — store/memory and store/sqlite both
implement it; quota/commit falls back to running unlocked only when
neither is available (e.g. a future read-only reporting backend).
*/
package ledger

import "context"

// Locker serializes a critical section against concurrent callers
// targeting the same underlying store. Lock blocks until the critical
// section can run exclusively, then calls fn; it returns fn's error, or a
// *apperr.Error of kind conflict if ctx is canceled/deadline-exceeded
// before the section could start (spec.md §5 "Cancellation", §7 "bounded
// retries... exhaustion surfaces as conflict").
type Locker interface {
	Lock(ctx context.Context, fn func(ctx context.Context) error) error
}
