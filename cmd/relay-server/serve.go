// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/sage-x-project/sage/internal/authsvc"
	"github.com/sage-x-project/sage/internal/config"
	"github.com/sage-x-project/sage/internal/hoststore"
	"github.com/sage-x-project/sage/internal/hoststore/memstore"
	"github.com/sage-x-project/sage/internal/hoststore/pgstore"
	"github.com/sage-x-project/sage/internal/logger"
	"github.com/sage-x-project/sage/internal/metrics"
	"github.com/sage-x-project/sage/internal/relayregistry"
	"github.com/sage-x-project/sage/internal/relayserver"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the rendezvous relay server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// repositories bundles the five persistence interfaces the rendezvous
// server needs (four for relayserver.Deps, users for the authsvc
// resolver), backed by either hoststore/memstore or hoststore/pgstore
// depending on whether a database URL was configured.
type repositories struct {
	hosts           hoststore.HostRepository
	authCodes       hoststore.AuthCodeRepository
	browserSessions hoststore.BrowserSessionRepository
	authSessions    hoststore.AuthSessionRepository
	users           hoststore.UserRepository
	close           func()
}

func openRepositories(ctx context.Context, cfg *config.ServerConfig, log logger.Logger) (*repositories, error) {
	if cfg.DatabaseURL == "" {
		log.Warn("no database configured, running against an in-memory store")
		store := memstore.New()
		return &repositories{
			hosts:           store.Hosts(),
			authCodes:       store.AuthCodes(),
			browserSessions: store.BrowserSessions(),
			authSessions:    store.AuthSessions(),
			users:           store.Users(),
			close:           func() {},
		}, nil
	}

	store, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return &repositories{
		hosts:           store.Hosts(),
		authCodes:       store.AuthCodes(),
		browserSessions: store.BrowserSessions(),
		authSessions:    store.AuthSessions(),
		users:           store.Users(),
		close:           store.Close,
	}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.ServerConfigFromEnv()
	if err != nil {
		return err
	}

	log := logger.New(os.Stdout, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repos, err := openRepositories(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open repository backend", logger.Err(err))
		return err
	}
	defer repos.close()

	jwtSvc, err := authsvc.NewJWTService(cfg.JWTSecret)
	if err != nil {
		return err
	}
	resolver := authsvc.NewResolver(jwtSvc, repos.authSessions, repos.users)
	registry := relayregistry.New()

	handler := relayserver.New(relayserver.Deps{
		Hosts:           repos.hosts,
		AuthCodes:       repos.authCodes,
		BrowserSessions: repos.browserSessions,
		AuthSessions:    repos.authSessions,
		Registry:        registry,
		Resolver:        resolver,
	})

	router := mux.NewRouter()
	handler.Register(router)
	router.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: relayserver.CORS(router),
	}

	serveErrCh := make(chan error, 1)
	go func() {
		log.Info("relay server starting", logger.String("addr", cfg.ListenAddr))
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
			return
		}
		serveErrCh <- nil
	}()

	select {
	case err := <-serveErrCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down relay server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", logger.Err(err))
		return err
	}
	return <-serveErrCh
}
