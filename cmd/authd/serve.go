// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/authd/authd/internal/auth"
	"github.com/authd/authd/internal/auth/bolt"
	"github.com/authd/authd/internal/auth/memory"
	"github.com/authd/authd/internal/auth/postgres"
	"github.com/authd/authd/internal/config"
	"github.com/authd/authd/internal/httpapi"
	"github.com/authd/authd/internal/logging"
	"github.com/authd/authd/internal/store"
	"github.com/authd/authd/internal/xdg"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the authentication API",
		Long: `Start the HTTP authentication API, and the metrics and health
listener unless --metrics-addr is empty.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), cmd, nil)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func runServeWithDeps(ctx context.Context, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()

	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return oops.With("operation", "load configuration").Wrap(err)
	}

	logger, err := logging.SetDefault(logging.Options{
		Service:      "authd",
		Version:      version,
		Format:       cfg.Log.Format,
		Level:        cfg.Log.Level,
		RedactFields: cfg.Log.RedactFields,
		Writer:       cmd.ErrOrStderr(),
	})
	if err != nil {
		return oops.With("operation", "set up logging").Wrap(err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	users, closeStore, err := deps.StoreFactory(ctx, cfg, logger)
	if err != nil {
		return oops.With("operation", "open user store").With("backend", cfg.Store.Backend).Wrap(err)
	}
	defer closeStore()

	hasher, err := auth.NewHasher(cfg.Auth.Hasher, cfg.Auth.BcryptCost)
	if err != nil {
		return oops.With("operation", "create password hasher").Wrap(err)
	}

	var ready atomic.Bool

	// Start observability server if configured
	var obsServer ObservabilityServer
	serviceOpts := []auth.Option{auth.WithLogger(logger)}
	apiOpts := []httpapi.Option{
		httpapi.WithLogger(logger),
		httpapi.WithSecureCookies(cfg.Auth.CookieSecure),
		httpapi.WithPublicPaths(cfg.Auth.PublicPaths),
	}
	if cfg.Server.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Server.MetricsAddr, ready.Load, logger)
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.With("operation", "start observability server").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		serviceOpts = append(serviceOpts, auth.WithRecorder(obsServer.Metrics()))
		apiOpts = append(apiOpts, httpapi.WithMetrics(obsServer.Metrics()))
	}

	svc, err := auth.NewService(users, hasher, serviceOpts...)
	if err != nil {
		return oops.With("operation", "create auth service").Wrap(err)
	}
	authn, err := auth.NewAuthenticator(svc, cfg.Auth.SessionCookie)
	if err != nil {
		return oops.With("operation", "create authenticator").Wrap(err)
	}
	api := httpapi.New(svc, authn, apiOpts...)

	listener, err := deps.ListenerFactory("tcp", cfg.Server.Addr)
	if err != nil {
		stopObservability(obsServer)
		return oops.Code("SERVE_LISTEN_FAILED").With("addr", cfg.Server.Addr).Wrap(err)
	}

	httpSrv := &http.Server{
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpErrChan := make(chan error, 1)
	go func() {
		defer close(httpErrChan)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			httpErrChan <- serveErr
		}
	}()

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	ready.Store(true)
	addr := listener.Addr().String()
	cmd.Println("authd listening on", addr)
	logger.Info("authd ready",
		"addr", addr,
		"store", cfg.Store.Backend,
		"hasher", cfg.Auth.Hasher,
	)
	deps.OnReady(addr)

	// Wait for shutdown signal or error
	var serveErr error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-httpErrChan:
		serveErr = oops.Code("SERVE_FAILED").Wrap(err)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	// Graceful shutdown
	ready.Store(false)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping API server", "error", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return serveErr
}

// openStore opens the user store selected by cfg.Store.Backend.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (auth.UserStore, func(), error) {
	switch cfg.Store.Backend {
	case config.BackendBolt:
		if err := xdg.EnsureDir(filepath.Dir(cfg.Store.BoltPath)); err != nil {
			return nil, nil, err
		}
		s, err := bolt.Open(cfg.Store.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				logger.Warn("error closing bolt store", "error", err)
			}
		}, nil
	case config.BackendPostgres:
		pool, err := store.Connect(ctx, cfg.Database.URL, store.PoolOptions{
			MaxConns:        cfg.Database.MaxConns,
			ConnectAttempts: cfg.Database.ConnectAttempts,
			ConnectBackoff:  cfg.Database.ConnectBackoff,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewStore(pool), pool.Close, nil
	default:
		return memory.NewStore(), func() {}, nil
	}
}

func stopObservability(s ObservabilityServer) {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		slog.Warn("failed to stop observability server during cleanup", "error", err)
	}
}

// monitorServerErrors monitors a server's error channel and cancels the context on error.
// It exits when either an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
