/*
main.go - Application entry point

PURPOSE:
  Boots the quota-metering HTTP service: loads config, opens the SQLite
  store, wires the domain components (Freemium, Selector, Committer,
  Admin), mounts the chi router, and serves with graceful shutdown.

STARTUP SEQUENCE:
  1. Build a zap production logger.
  2. Load config (config.Load) — server port, db path, pagination limit,
     per-tenant freemium table.
  3. Open the SQLite store (store/sqlite).
  4. Wire quota/freemium -> quota/selector -> quota/commit, and
     quota/admin, all against the same store/ledger pair.
  5. Mount api.NewRouter and serve, shutting down gracefully on
     SIGINT/SIGTERM.

SEE ALSO:
  - api/server.go: router and middleware
  - config/config.go: configuration source
  - store/sqlite/sqlite.go: persistence
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ufaasio/ufaas-saas/api"
	"github.com/ufaasio/ufaas-saas/config"
	"github.com/ufaasio/ufaas-saas/quota/admin"
	"github.com/ufaasio/ufaas-saas/quota/commit"
	"github.com/ufaasio/ufaas-saas/quota/freemium"
	"github.com/ufaasio/ufaas-saas/quota/selector"
	"github.com/ufaasio/ufaas-saas/store/sqlite"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	settings := cfg.Get()

	enrollmentStore, usageLedger, err := sqlite.Open(settings.Server.DBPath)
	if err != nil {
		logger.Fatal("failed to open database", zap.String("path", settings.Server.DBPath), zap.Error(err))
	}
	defer enrollmentStore.Close()

	provisioner := freemium.New(enrollmentStore, cfg.FreemiumLookup, time.Now)
	sel := selector.New(enrollmentStore, usageLedger, provisioner, time.Now)
	committer := commit.New(sel, usageLedger, time.Now)
	adm := admin.New(enrollmentStore, usageLedger, time.Now)

	handler := api.New(adm, committer, settings.Pagination.PageMaxLimit, settings.Retry.MaxAttempts)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", settings.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.Int("port", settings.Server.Port), zap.String("db_path", settings.Server.DBPath))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
