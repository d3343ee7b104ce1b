// Package main — cmd/headend/main.go
//
// Headend control-plane entrypoint.
//
// Startup sequence:
//  1. Load environment configuration (ASSETS_PATH, bind addresses, DATABASE_URL).
//  2. Load and validate the optional ops-config YAML file (mailbox capacity,
//     heartbeat staleness, dispatch rate limit, log level/format).
//  3. Initialise structured logger (zap).
//  4. Load the asset/site catalogue.
//  5. Open the BoltDB journal (unless DATABASE_URL is unset — journal-less
//     mode is supported).
//  6. Build Prometheus metrics and the appstate.AppState collaborator graph.
//  7. Hydrate simulator state from the journal's latest-telemetry-per-asset.
//  8. Start the operator HTTP/JSON API.
//  9. Start the agent-link gRPC server.
// 10. Register SIGHUP handler for ops-config hot-reload.
// 11. Block on SIGINT/SIGTERM for graceful shutdown.
//
// Shutdown sequence (on SIGINT/SIGTERM):
//  1. Cancel the root context (stops the gRPC server's accept loop).
//  2. Shut down the HTTP server with a bounded drain timeout.
//  3. Close the journal.
//  4. Flush the logger.
//
// On catalogue load failure or config validation failure: exit 1 immediately.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/der-control/headend/internal/appstate"
	"github.com/der-control/headend/internal/catalogue"
	"github.com/der-control/headend/internal/config"
	"github.com/der-control/headend/internal/journal"
	"github.com/der-control/headend/internal/journal/boltjournal"
	"github.com/der-control/headend/internal/observability"
	"github.com/der-control/headend/internal/ratelimit"
	"github.com/der-control/headend/internal/transport/agentlink"
	"github.com/der-control/headend/internal/transport/operatorapi"
)

func main() {
	// ── Flags ─────────────────────────────────────────────────────────────────
	opsConfigPath := flag.String("ops-config", "", "Path to an optional ops-config.yaml")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("headend %s (commit=%s built=%s)\n", config.Version, config.GitCommit, config.BuildTime)
		os.Exit(0)
	}

	// ── Step 1: Load environment ──────────────────────────────────────────────
	env, err := config.LoadEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}

	// ── Step 2: Load ops-config ───────────────────────────────────────────────
	ops, err := config.LoadOpsConfig(*opsConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: ops-config load failed: %v\n", err)
		os.Exit(1)
	}

	// ── Step 3: Logger ────────────────────────────────────────────────────────
	log, err := observability.BuildLogger(ops.LogLevel, ops.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("headend starting",
		zap.String("version", config.Version),
		zap.String("commit", config.GitCommit),
		zap.String("assets_path", env.AssetsPath),
		zap.String("grpc_addr", env.GRPCAddr),
		zap.String("http_addr", env.HTTPAddr),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Step 4: Catalogue ─────────────────────────────────────────────────────
	cat, err := catalogue.Load(env.AssetsPath)
	if err != nil {
		log.Fatal("catalogue load failed", zap.Error(err), zap.String("path", env.AssetsPath))
	}
	log.Info("catalogue loaded", zap.Int("assets", len(cat.ListAll())), zap.Int("sites", len(cat.Sites())))

	// ── Step 5: Journal ───────────────────────────────────────────────────────
	var j journal.Journal
	if env.DatabaseURL != "" {
		if env.ResetDB {
			if rmErr := os.Remove(env.DatabaseURL); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				log.Fatal("RESET_DB: failed to remove existing journal file", zap.Error(rmErr))
			}
			log.Info("RESET_DB: existing journal file removed", zap.String("path", env.DatabaseURL))
		}
		db, err := boltjournal.Open(env.DatabaseURL)
		if err != nil {
			log.Fatal("journal open failed", zap.Error(err), zap.String("path", env.DatabaseURL))
		}
		defer db.Close() //nolint:errcheck
		j = db
		log.Info("journal opened", zap.String("path", env.DatabaseURL))
	} else {
		log.Warn("DATABASE_URL not set — running without persistence")
	}

	// ── Step 6: Metrics and appstate ──────────────────────────────────────────
	metrics := observability.New()
	app := appstate.New(cat, j, metrics, log)

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.TickUptime()
			}
		}
	}()

	// ── Step 7: Hydration ─────────────────────────────────────────────────────
	n, err := app.Hydrate(ctx)
	if err != nil {
		log.Warn("startup hydration failed — continuing with midpoint state", zap.Error(err))
	} else {
		log.Info("startup hydration complete", zap.Int("assets_hydrated", n))
	}

	rateLimiter := ratelimit.NewKeyed(ops.DispatchRateLimitPerSite, ops.RateLimitRefillPeriod)
	defer rateLimiter.Close()

	// ── Step 8: Operator HTTP/JSON API ────────────────────────────────────────
	opServer := operatorapi.NewServer(app, rateLimiter)
	httpSrv := &http.Server{Addr: env.HTTPAddr, Handler: opServer.Handler()}
	go func() {
		log.Info("operator API listening", zap.String("addr", env.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("operator API server error", zap.Error(err))
		}
	}()

	// ── Step 9: Agent-link gRPC server ────────────────────────────────────────
	grpcSrv := agentlink.NewServer(cat, app.Ingest, app.Bootstrap, log)
	go func() {
		log.Info("agent-link server listening", zap.String("addr", env.GRPCAddr))
		if err := agentlink.ListenAndServe(ctx, env.GRPCAddr, grpcSrv, log); err != nil {
			log.Error("agent-link server error", zap.Error(err))
		}
	}()

	// ── Step 10: SIGHUP hot-reload ────────────────────────────────────────────
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Info("SIGHUP received — reloading ops-config...")
			newOps, err := config.LoadOpsConfig(*opsConfigPath)
			if err != nil {
				log.Error("ops-config hot-reload failed — retaining prior config", zap.Error(err))
				continue
			}
			ops = newOps
			log.Info("ops-config hot-reload successful",
				zap.Int("mailbox_capacity", ops.MailboxCapacity),
				zap.String("log_level", ops.LogLevel))
			// The reloaded values are stored and logged only: stream mailboxes
			// keep the fixed streamregistry.MailboxCapacity, and the logger and
			// rate limiter keep the settings they were built with at startup.
		}
	}()

	// ── Step 11: Wait for shutdown signal ─────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("operator API shutdown did not complete cleanly", zap.Error(err))
	}

	log.Info("headend shutdown complete")
}
