/*
Package api exposes the quota engine over HTTP (spec.md §6): chi router,
JSON request/response DTOs, and a single error-translation boundary.

dto.go defines the wire shapes. Domain types (quota.Enrollment,
quota.Usage, bundle.Bundle) never cross the boundary directly — every
response is built from one of these, so a field rename on the wire never
forces a domain type change and vice versa.
*/
package api

import (
	"time"

	"github.com/ufaasio/ufaas-saas/bundle"
	"github.com/ufaasio/ufaas-saas/money"
	"github.com/ufaasio/ufaas-saas/quota"
	"github.com/ufaasio/ufaas-saas/quota/admin"
)

// BundleDTO is the wire form of bundle.Bundle.
type BundleDTO struct {
	Asset string `json:"asset" validate:"required"`
	Quota string `json:"quota" validate:"required"`
}

func bundleToDTO(b bundle.Bundle) BundleDTO {
	return BundleDTO{Asset: b.Asset, Quota: b.Quota.String()}
}

func bundlesToDTO(bs []bundle.Bundle) []BundleDTO {
	out := make([]BundleDTO, len(bs))
	for i, b := range bs {
		out[i] = bundleToDTO(b)
	}
	return out
}

func bundleFromDTO(d BundleDTO) (bundle.Bundle, error) {
	amount, err := money.Parse(d.Quota)
	if err != nil {
		return bundle.Bundle{}, err
	}
	return bundle.Bundle{Asset: d.Asset, Quota: amount}, nil
}

func bundlesFromDTO(ds []BundleDTO) ([]bundle.Bundle, error) {
	out := make([]bundle.Bundle, len(ds))
	for i, d := range ds {
		b, err := bundleFromDTO(d)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// EnrollmentCreateRequest is POST /enrollments/'s body (spec.md §6).
// business_name and user_id are never read from the body — they are
// always derived from the calling principal.
type EnrollmentCreateRequest struct {
	Price           string                `json:"price" validate:"required"`
	InvoiceID       *string               `json:"invoice_id,omitempty"`
	AcquisitionType quota.AcquisitionType `json:"acquisition_type" validate:"required"`
	StartedAt       *time.Time            `json:"started_at,omitempty"`
	ExpiredAt       *time.Time            `json:"expired_at,omitempty"`
	Status          quota.Status          `json:"status,omitempty"`
	Bundles         []BundleDTO           `json:"bundles" validate:"required,min=1,dive"`
	Variant         *string               `json:"variant,omitempty"`
	MetaData        map[string]any        `json:"meta_data,omitempty"`
	DueDate         *time.Time            `json:"due_date,omitempty"`
	IsPaid          bool                  `json:"is_paid,omitempty"`
}

func (r EnrollmentCreateRequest) toInput() (admin.CreateInput, error) {
	price, err := money.Parse(r.Price)
	if err != nil {
		return admin.CreateInput{}, err
	}
	bundles, err := bundlesFromDTO(r.Bundles)
	if err != nil {
		return admin.CreateInput{}, err
	}
	return admin.CreateInput{
		Price:           price,
		InvoiceID:       r.InvoiceID,
		AcquisitionType: r.AcquisitionType,
		StartedAt:       r.StartedAt,
		ExpiredAt:       r.ExpiredAt,
		Status:          r.Status,
		Bundles:         bundles,
		Variant:         r.Variant,
		MetaData:        r.MetaData,
		DueDate:         r.DueDate,
		IsPaid:          r.IsPaid,
	}, nil
}

// EnrollmentDetailResponse is the wire form of admin.Detail: an
// enrollment plus its derived leftover (spec.md §6).
type EnrollmentDetailResponse struct {
	UID             string                `json:"uid"`
	BusinessName    string                `json:"business_name"`
	UserID          string                `json:"user_id"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
	Price           string                `json:"price"`
	InvoiceID       *string               `json:"invoice_id,omitempty"`
	AcquisitionType quota.AcquisitionType `json:"acquisition_type"`
	StartedAt       time.Time             `json:"started_at"`
	ExpiredAt       *time.Time            `json:"expired_at,omitempty"`
	Status          quota.Status          `json:"status"`
	Bundles         []BundleDTO           `json:"bundles"`
	Variant         *string               `json:"variant,omitempty"`
	MetaData        map[string]any        `json:"meta_data,omitempty"`
	LeftoverBundles []BundleDTO           `json:"leftover_bundles"`
}

func enrollmentDetailToDTO(d admin.Detail) EnrollmentDetailResponse {
	return EnrollmentDetailResponse{
		UID:             d.UID,
		BusinessName:    d.BusinessName,
		UserID:          d.UserID,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
		Price:           d.Price.String(),
		InvoiceID:       d.InvoiceID,
		AcquisitionType: d.AcquisitionType,
		StartedAt:       d.StartedAt,
		ExpiredAt:       d.ExpiredAt,
		Status:          d.Status,
		Bundles:         bundlesToDTO(d.Bundles),
		Variant:         d.Variant,
		MetaData:        d.MetaData,
		LeftoverBundles: bundlesToDTO(d.LeftoverBundles),
	}
}

func enrollmentDetailsToDTO(ds []admin.Detail) []EnrollmentDetailResponse {
	out := make([]EnrollmentDetailResponse, len(ds))
	for i, d := range ds {
		out[i] = enrollmentDetailToDTO(d)
	}
	return out
}

// UsageCreateRequest is POST /usages/'s body (spec.md §6). Amount
// defaults to 1 when omitted.
type UsageCreateRequest struct {
	EnrollmentID *string        `json:"enrollment_id,omitempty"`
	Asset        string         `json:"asset" validate:"required"`
	Amount       string         `json:"amount,omitempty"`
	Variant      *string        `json:"variant,omitempty"`
	MetaData     map[string]any `json:"meta_data,omitempty"`
}

// UsageResponse is the wire form of quota.Usage (spec.md §6).
type UsageResponse struct {
	UID             string         `json:"uid"`
	BusinessName    string         `json:"business_name"`
	UserID          string         `json:"user_id"`
	CreatedAt       time.Time      `json:"created_at"`
	EnrollmentID    string         `json:"enrollment_id"`
	Asset           string         `json:"asset"`
	Amount          string         `json:"amount"`
	Variant         *string        `json:"variant,omitempty"`
	LeftoverBundles []BundleDTO    `json:"leftover_bundles"`
	MetaData        map[string]any `json:"meta_data,omitempty"`
}

func usageToDTO(u quota.Usage) UsageResponse {
	return UsageResponse{
		UID:             u.UID,
		BusinessName:    u.BusinessName,
		UserID:          u.UserID,
		CreatedAt:       u.CreatedAt,
		EnrollmentID:    u.EnrollmentID,
		Asset:           u.Asset,
		Amount:          u.Amount.String(),
		Variant:         u.Variant,
		LeftoverBundles: bundlesToDTO(u.LeftoverBundles),
		MetaData:        u.MetaData,
	}
}

func usagesToDTO(us []quota.Usage) []UsageResponse {
	out := make([]UsageResponse, len(us))
	for i, u := range us {
		out[i] = usageToDTO(u)
	}
	return out
}

// PaginatedResponse is the wire form spec.md §6 calls
// PaginatedResponse<T>.
type PaginatedResponse[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// ErrorResponse is the error envelope spec.md §6 requires:
// { error, message, status_code }.
type ErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
}
