// Package main — cmd/agent/main.go
//
// Field agent entrypoint: simulates one or more battery assets and
// maintains a long-lived connection to a headend's agent-link gRPC
// service.
//
// Startup sequence:
//  1. Load environment configuration (AGENT_HEADEND_ADDR, ASSETS_PATH,
//     AGENT_ASSET_IDS, tick/heartbeat intervals).
//  2. Initialise structured logger.
//  3. Load the asset/site catalogue and select the assets to simulate.
//  4. Run the connect/register/tick loop until SIGINT/SIGTERM, reconnecting
//     with exponential backoff on any transport error.
//
// Exit codes: 0 on orderly shutdown, 1 on catalogue/config failure.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/der-control/headend/internal/catalogue"
	"github.com/der-control/headend/internal/config"
	"github.com/der-control/headend/internal/fieldagent"
	"github.com/der-control/headend/internal/observability"
)

func main() {
	env, err := config.LoadAgentEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}

	log, err := observability.BuildLogger(env.LogLevel, env.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	cat, err := catalogue.Load(env.AssetsPath)
	if err != nil {
		log.Fatal("catalogue load failed", zap.Error(err), zap.String("path", env.AssetsPath))
	}

	agent := fieldagent.New(cat, env.AssetIDs, env.HeadendAddr, env.TickInterval, env.HeartbeatInterval, log)

	log.Info("field agent starting",
		zap.String("headend_addr", env.HeadendAddr),
		zap.Int("asset_count", len(cat.ListAll())),
		zap.Duration("tick_interval", env.TickInterval),
		zap.Duration("heartbeat_interval", env.HeartbeatInterval),
	)

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	agent.Run(ctx)
	log.Info("field agent shutdown complete")
}
