/*
Package api's handlers.go wires HTTP requests to quota/admin and
quota/commit, the two components spec.md §6's routes front.

REQUEST FLOW:
  1. Pull the Principal WithPrincipal stamped on the context.
  2. Decode and validator.Validate the body (go-playground/validator).
  3. Call the domain component.
  4. On error, writeError translates the *apperr.Error into spec.md §7's
     envelope; on success, writeJSON encodes the DTO.

No handler ever reads business_name/user_id from a request body — both
always come from the Principal (spec.md §4.7, §6).
*/
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ufaasio/ufaas-saas/apperr"
	"github.com/ufaasio/ufaas-saas/money"
	"github.com/ufaasio/ufaas-saas/principal"
	"github.com/ufaasio/ufaas-saas/quota"
	"github.com/ufaasio/ufaas-saas/quota/admin"
	"github.com/ufaasio/ufaas-saas/quota/commit"
	"github.com/ufaasio/ufaas-saas/quota/selector"
)

var validate = validator.New()

// Handler holds every domain component an HTTP route needs.
type Handler struct {
	Admin        *admin.Admin
	Committer    *commit.Committer
	PageMaxLimit int
	// MaxAttempts bounds the retry-on-conflict loop around CreateUsage
	// (spec.md §7: "retries for conflict are bounded... exhaustion
	// surfaces as conflict"). The underlying Locker already serializes
	// same-enrollment commits, so a conflict here only ever comes from a
	// canceled/expired context; retrying gives the caller's remaining
	// request budget another shot before giving up.
	MaxAttempts int
}

func New(a *admin.Admin, c *commit.Committer, pageMaxLimit, maxAttempts int) *Handler {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Handler{Admin: a, Committer: c, PageMaxLimit: pageMaxLimit, MaxAttempts: maxAttempts}
}

func scopeFromPrincipal(p principal.Principal) quota.Scope {
	if p.IsOperator() {
		return quota.Scope{BusinessName: p.BusinessName}
	}
	return quota.Scope{BusinessName: p.BusinessName, UserID: p.UserID}
}

func callerOrUnauthorized(r *http.Request) (principal.Principal, bool) {
	return principal.FromContext(r.Context())
}

func paginationFromQuery(r *http.Request, pageMaxLimit int) (offset, limit int) {
	offset = 0
	limit = pageMaxLimit
	if v := r.URL.Query().Get("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	return offset, limit
}

// ListEnrollments handles GET /enrollments/.
func (h *Handler) ListEnrollments(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrUnauthorized(r)
	if !ok {
		writeError(w, apperr.Unauthorized("missing caller principal"))
		return
	}

	offset, limit := paginationFromQuery(r, h.PageMaxLimit)
	items, total, err := h.Admin.List(r.Context(), scopeFromPrincipal(caller), offset, limit, h.PageMaxLimit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, PaginatedResponse[EnrollmentDetailResponse]{
		Items:  enrollmentDetailsToDTO(items),
		Total:  total,
		Offset: offset,
		Limit:  limit,
	})
}

// GetEnrollment handles GET /enrollments/{uid}.
func (h *Handler) GetEnrollment(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrUnauthorized(r)
	if !ok {
		writeError(w, apperr.Unauthorized("missing caller principal"))
		return
	}

	uid := chi.URLParam(r, "uid")
	detail, err := h.Admin.Get(r.Context(), scopeFromPrincipal(caller), uid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, enrollmentDetailToDTO(detail))
}

// CreateEnrollment handles POST /enrollments/.
func (h *Handler) CreateEnrollment(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrUnauthorized(r)
	if !ok {
		writeError(w, apperr.Unauthorized("missing caller principal"))
		return
	}

	var req EnrollmentCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("malformed request body: "+err.Error()))
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, apperr.Validation(err.Error()))
		return
	}

	input, err := req.toInput()
	if err != nil {
		writeError(w, apperr.Validation(err.Error()))
		return
	}

	detail, err := h.Admin.Create(r.Context(), caller, input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, enrollmentDetailToDTO(detail))
}

// DeleteEnrollment handles DELETE /enrollments/{uid}: always
// not_implemented (spec.md §4.7, §6).
func (h *Handler) DeleteEnrollment(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrUnauthorized(r)
	if !ok {
		writeError(w, apperr.Unauthorized("missing caller principal"))
		return
	}
	uid := chi.URLParam(r, "uid")
	writeError(w, h.Admin.SoftDelete(r.Context(), scopeFromPrincipal(caller), uid))
}

// ListUsages handles GET /usages/.
func (h *Handler) ListUsages(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrUnauthorized(r)
	if !ok {
		writeError(w, apperr.Unauthorized("missing caller principal"))
		return
	}

	offset, limit := paginationFromQuery(r, h.PageMaxLimit)
	items, total, err := h.Committer.Ledger.List(r.Context(), scopeFromPrincipal(caller), offset, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, PaginatedResponse[UsageResponse]{
		Items:  usagesToDTO(items),
		Total:  total,
		Offset: offset,
		Limit:  limit,
	})
}

// GetUsage handles GET /usages/{uid}.
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrUnauthorized(r)
	if !ok {
		writeError(w, apperr.Unauthorized("missing caller principal"))
		return
	}

	uid := chi.URLParam(r, "uid")
	u, found, err := h.Committer.Ledger.Get(r.Context(), uid, scopeFromPrincipal(caller))
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		writeError(w, apperr.NotFound("usage not found"))
		return
	}
	writeJSON(w, http.StatusOK, usageToDTO(u))
}

// CreateUsage handles POST /usages/: spec.md §4.5-4.6's select-then-commit
// flow, returning one Usage row per split of the resulting plan.
func (h *Handler) CreateUsage(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrUnauthorized(r)
	if !ok {
		writeError(w, apperr.Unauthorized("missing caller principal"))
		return
	}
	if !caller.IsOperator() {
		writeError(w, apperr.Unauthorized("only operator principals may record usage"))
		return
	}

	var req UsageCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("malformed request body: "+err.Error()))
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, apperr.Validation(err.Error()))
		return
	}

	amount := money.NewFromInt(1)
	if req.Amount != "" {
		parsed, err := money.Parse(req.Amount)
		if err != nil {
			writeError(w, apperr.Validation("invalid amount: "+err.Error()))
			return
		}
		amount = parsed
	}

	commitReq := commit.Request{
		Request: selector.Request{
			BusinessName: caller.BusinessName,
			UserID:       caller.UserID,
			Asset:        req.Asset,
			Amount:       amount,
			Variant:      req.Variant,
			EnrollmentID: req.EnrollmentID,
		},
		Variant:  req.Variant,
		MetaData: req.MetaData,
	}

	var rows []quota.Usage
	var err error
	for attempt := 1; attempt <= h.MaxAttempts; attempt++ {
		rows, err = h.Committer.Commit(r.Context(), commitReq)
		if err == nil || !apperr.IsRetryable(err) {
			break
		}
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, usagesToDTO(rows))
}
