// Command server exposes the multi-tenant GRL rule engine over HTTP.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/liamcoop/grl/internal/config"
	"github.com/liamcoop/grl/internal/logger"
	"github.com/liamcoop/grl/internal/metrics"
	"github.com/liamcoop/grl/multitenantengine"
	"github.com/liamcoop/grl/rules"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		logger.Fatal("server failed", "error", err)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Configure(cfg.Logging.Level, cfg.Logging.ErrorSampleRate); err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	m := metrics.New()
	manager := multitenantengine.NewManager(
		multitenantengine.NewPostgresTenantStore(db),
		multitenantengine.WithMaxIterations(cfg.Engine.MaxIterations),
		multitenantengine.WithCacheConfig(rules.CacheConfig{TTL: cfg.Cache.TTL}),
		multitenantengine.WithExecutionObserver(func(tenantID string, res *rules.ExecutionResult) {
			m.ObserveExecution(tenantID, res.Duration, res.Iterations, len(res.RulesFired))
		}),
	)

	logger.Info("loading tenants")
	if err := manager.LoadAllTenants(); err != nil {
		return fmt.Errorf("failed to load tenants: %w", err)
	}

	srv := NewServer(manager, m, db.PingContext, cfg.Server)
	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", "port", cfg.Server.Port, "tenants", len(manager.ListTenants()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
