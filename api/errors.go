package api

import (
	"encoding/json"
	"net/http"

	"github.com/ufaasio/ufaas-saas/apperr"
)

// writeError is the single HTTP-boundary translator spec.md §7 requires:
// every *apperr.Error, wherever it originates, becomes the same
// { error, message, status_code } envelope here and nowhere else.
func writeError(w http.ResponseWriter, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		appErr = apperr.Internal(err, "unexpected error")
	}
	writeJSON(w, appErr.StatusCode(), ErrorResponse{
		Error:      string(appErr.Kind),
		Message:    appErr.Error(),
		StatusCode: appErr.StatusCode(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
