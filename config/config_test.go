package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ufaasio/ufaas-saas/config"
	"github.com/ufaasio/ufaas-saas/money"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(cwd) })
}

func TestLoad_AppliesDefaultsWithoutConfigFile(t *testing.T) {
	chdir(t, t.TempDir())

	h, err := config.Load()
	require.NoError(t, err)

	cfg := h.Get()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "ufaas.db", cfg.Server.DBPath)
	assert.Equal(t, 100, cfg.Pagination.PageMaxLimit)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
}

func TestFreemiumLookup_UnknownTenant_ReturnsFalse(t *testing.T) {
	chdir(t, t.TempDir())

	h, err := config.Load()
	require.NoError(t, err)

	_, ok := h.FreemiumLookup("no-such-tenant")
	assert.False(t, ok)
}

func TestFreemiumLookup_ParsesConfiguredTenant(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	contents := `
freemium:
  acme:
    period_days: 30
    variant: "v"
    bundles:
      - asset: image
        quota: "10"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(contents), 0o644))

	h, err := config.Load()
	require.NoError(t, err)

	quota, ok := h.FreemiumLookup("acme")
	require.True(t, ok)
	assert.Equal(t, 30, quota.PeriodDays)
	require.NotNil(t, quota.Variant)
	assert.Equal(t, "v", *quota.Variant)
	require.Len(t, quota.Bundles, 1)
	assert.Equal(t, "image", quota.Bundles[0].Asset)

	ten := money.NewFromInt(10)
	assert.True(t, quota.Bundles[0].Quota.Equal(ten.Decimal))
}
