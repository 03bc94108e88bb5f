/*
errors.go - sentinel errors for the quota domain types.

Generalized from generic/errors.go's pattern of package-local sentinel
errors that callers match with errors.Is, wrapped at the apperr boundary
into the client-facing validation_error kind.
*/
package quota

import "errors"

var (
	errDuplicateAsset    = errors.New("duplicate asset in bundles")
	errInvalidPeriod     = errors.New("invalid period: started_at after expired_at")
	errNonPositiveAmount = errors.New("usage amount must be positive")
	errNegativeLeftover  = errors.New("leftover bundle quota cannot be negative")
)
