package apperr_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ufaasio/ufaas-saas/apperr"
)

func TestStatusCode_MapsEveryKnownKind(t *testing.T) {
	cases := map[*apperr.Error]int{
		apperr.Validation("x"):                         http.StatusBadRequest,
		apperr.Unauthorized("x"):                       http.StatusForbidden,
		apperr.NotFound("x"):                            http.StatusNotFound,
		apperr.Conflict("x"):                            http.StatusConflict,
		apperr.NotImplemented("x"):                      http.StatusNotImplemented,
		apperr.InsufficientQuota("10", "5", "5"):        http.StatusBadRequest,
		apperr.Internal(errors.New("boom"), "internal"): http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, err.StatusCode())
	}
}

func TestInsufficientQuota_CarriesStructuredFields(t *testing.T) {
	err := apperr.InsufficientQuota("10", "6", "4")
	assert.Equal(t, "10", err.Fields["requested"])
	assert.Equal(t, "6", err.Fields["granted"])
	assert.Equal(t, "4", err.Fields["shortfall"])
}

func TestAs_UnwrapsThroughWrappedErrors(t *testing.T) {
	original := apperr.Conflict("locked")
	wrapped := errors.New("outer: " + original.Error())

	_, ok := apperr.As(wrapped)
	assert.False(t, ok, "a plain wrapped string must not be mistaken for an *Error")

	found, ok := apperr.As(original)
	require.True(t, ok)
	assert.Equal(t, apperr.KindConflict, found.Kind)

	found, ok = apperr.As(fmt.Errorf("outer: %w", original))
	require.True(t, ok)
	assert.Equal(t, apperr.KindConflict, found.Kind)
}

func TestIsRetryable_OnlyTrueForConflict(t *testing.T) {
	assert.True(t, apperr.IsRetryable(apperr.Conflict("x")))
	assert.False(t, apperr.IsRetryable(apperr.Validation("x")))
	assert.False(t, apperr.IsRetryable(errors.New("not an apperr")))
}
