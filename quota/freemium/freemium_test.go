package freemium_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ufaasio/ufaas-saas/bundle"
	"github.com/ufaasio/ufaas-saas/money"
	"github.com/ufaasio/ufaas-saas/quota"
	"github.com/ufaasio/ufaas-saas/quota/freemium"
	memstore "github.com/ufaasio/ufaas-saas/store/memory"
)

const (
	tenant = "acme"
	user   = "user-1"
)

func tenantQuota() freemium.Quota {
	return freemium.Quota{
		PeriodDays: 30,
		Bundles:    []bundle.Bundle{{Asset: "image", Quota: money.NewFromInt(100)}},
	}
}

func TestGetOrCreate_DisabledTenant_YieldsNone(t *testing.T) {
	store, _ := memstore.New()
	lookup := func(string) (freemium.Quota, bool) { return freemium.Quota{}, false }
	p := freemium.New(store, lookup, func() time.Time { return time.Now() })

	_, ok, err := p.GetOrCreate(context.Background(), tenant, user, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetOrCreate_FirstCall_Provisions(t *testing.T) {
	now := time.Now()
	store, _ := memstore.New()
	lookup := func(string) (freemium.Quota, bool) { return tenantQuota(), true }
	p := freemium.New(store, lookup, func() time.Time { return now })

	e, ok, err := p.GetOrCreate(context.Background(), tenant, user, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, quota.AcquisitionFreemium, e.AcquisitionType)
	assert.Equal(t, now.AddDate(0, 0, 30), *e.ExpiredAt)
	assert.Equal(t, tenantQuota().Bundles, e.Bundles)
}

func TestGetOrCreate_SecondCall_ReturnsSameEnrollment(t *testing.T) {
	now := time.Now()
	store, _ := memstore.New()
	lookup := func(string) (freemium.Quota, bool) { return tenantQuota(), true }
	p := freemium.New(store, lookup, func() time.Time { return now })

	first, _, err := p.GetOrCreate(context.Background(), tenant, user, nil)
	require.NoError(t, err)

	second, ok, err := p.GetOrCreate(context.Background(), tenant, user, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.UID, second.UID)
}

func TestGetOrCreate_VariantMismatch_YieldsNone(t *testing.T) {
	store, _ := memstore.New()
	v := "gold"
	cfg := tenantQuota()
	cfg.Variant = &v
	lookup := func(string) (freemium.Quota, bool) { return cfg, true }
	p := freemium.New(store, lookup, func() time.Time { return time.Now() })

	requestedVariant := "silver"
	_, ok, err := p.GetOrCreate(context.Background(), tenant, user, &requestedVariant)
	require.NoError(t, err)
	assert.False(t, ok)
}
