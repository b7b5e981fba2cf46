package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/refgrid/internal/audit"
	"github.com/JonMunkholm/refgrid/internal/config"
	"github.com/JonMunkholm/refgrid/internal/dispatch"
	"github.com/JonMunkholm/refgrid/internal/encode"
	"github.com/JonMunkholm/refgrid/internal/gateway"
	"github.com/JonMunkholm/refgrid/internal/logging"
	"github.com/JonMunkholm/refgrid/internal/reconcile"
	"github.com/JonMunkholm/refgrid/internal/schema"
	_ "github.com/JonMunkholm/refgrid/internal/schema/tables" // Register built-in tables
	"github.com/JonMunkholm/refgrid/internal/web"
)

func main() {
	// Load .env file if it exists; real environment variables win
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg.String())

	registry := schema.Default()
	if cfg.Schema.File != "" {
		n, err := registry.LoadYAMLFile(cfg.Schema.File)
		if err != nil {
			slog.Error("failed to load schema file", "path", cfg.Schema.File, "error", err)
			os.Exit(1)
		}
		slog.Info("schema file loaded", "path", cfg.Schema.File, "tables", n)
	}
	slog.Info("tables registered", "count", registry.Len())

	ctx := context.Background()

	// Command log: Postgres when configured, otherwise in memory
	var store audit.Store
	if cfg.Database.Enabled() {
		pool, err := openPool(ctx, cfg.Database)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		pg := audit.NewPgStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			slog.Error("failed to create command log table", "error", err)
			os.Exit(1)
		}
		store = pg
		slog.Info("command log stored in postgres")
	} else {
		store = audit.NewMemoryStore(cfg.Audit.MemoryCapacity)
		slog.Warn("DATABASE_URL not set, command log kept in memory only")
	}

	gw, err := gateway.New(cfg.Gateway.URL, cfg.Gateway.ClientID, gateway.WithTimeout(cfg.Gateway.Timeout))
	if err != nil {
		slog.Error("failed to create gateway client", "error", err)
		os.Exit(1)
	}

	encoder := encode.New(cfg.Gateway.DelimiterRune(), registry)
	engine := &reconcile.Engine{Epsilon: cfg.Reconcile.Epsilon, FoldCase: cfg.Reconcile.FoldCase}
	dispatcher := dispatch.New(gw, registry, encoder,
		dispatch.WithEngine(engine),
		dispatch.WithRecorder(store),
		dispatch.WithBulkLimiter(dispatch.NewBulkLimiter(cfg.Bulk.MaxConcurrent, cfg.Bulk.MaxWaitTime)),
		dispatch.WithCacheLimits(cfg.Cache.MaxViews, cfg.Cache.ViewTTL),
	)

	server := web.NewServer(web.Deps{
		Dispatcher: dispatcher,
		Registry:   registry,
		Encoder:    encoder,
		Commands:   store,
	}, cfg.Server, cfg.Rate)

	jobCtx, cancelJobs := context.WithCancel(context.Background())
	go audit.RunRetention(jobCtx, store, audit.RetentionConfig{
		RetentionDays: cfg.Audit.RetentionDays,
		CheckInterval: cfg.Audit.CheckInterval,
	})

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Let in-flight bulk payloads reach the gateway so their rollback or
		// commit is recorded
		if st := dispatcher.Limiter().Status(); st.Active > 0 {
			slog.Info("waiting for bulk submissions", "active", st.Active)
			if err := dispatcher.Limiter().WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("bulk submissions did not finish in time", "error", err)
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
	<-done
	slog.Info("server stopped")
}

func openPool(ctx context.Context, db config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(db.URL)
	if err != nil {
		return nil, err
	}
	poolConfig.MaxConns = int32(db.MaxConns)
	poolConfig.MinConns = int32(db.MinConns)
	poolConfig.MaxConnLifetime = db.MaxConnLifetime
	poolConfig.MaxConnIdleTime = db.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
