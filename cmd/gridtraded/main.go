// gridtraded — the peer-to-peer energy trading daemon.
//
// Architecture:
//
//	main.go              — entry point: loads config, wires components, waits for SIGINT/SIGTERM
//	engine/              — orchestrator: validates, matches, drives settlement, emits events
//	book/                — price-time-priority resting books per energy category
//	registry/            — single source of truth for order state
//	contract/            — contract lifecycle: deploy, execute, verify with cached verdicts
//	chain/               — simulated settlement chain: blocks, mining, gas receipts
//	analytics/           — derived statistics with a short-TTL cache
//	archive/             — SQLite archive of terminal orders and contracts
//	notify/              — watermill fan-out of engine events
//	metrics/             — Prometheus collectors and the /metrics endpoint
//
// How it trades:
//
//	Participants submit limit orders for whole energy lots in four
//	categories. An incoming order matches the best resting order on the
//	opposite side when the prices cross and the quantities are equal; the
//	trade settles at the midpoint of the two limits through a simulated
//	smart contract. Unmatched orders rest at price-time priority until a
//	counterparty arrives or they are cancelled.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gridtrade/internal/archive"
	"gridtrade/internal/config"
	"gridtrade/internal/engine"
	"gridtrade/internal/metrics"
	"gridtrade/internal/notify"
	"gridtrade/pkg/types"
)

func main() {
	// Load config
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("GRID_CONFIG"); p != "" {
		cfgPath = p
	}
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) && os.Getenv("GRID_CONFIG") == "" {
		cfgPath = "" // defaults only
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	// Wire collaborators: metrics, notifier, archive
	engineOpts := []engine.Option{}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.New()
		engineOpts = append(engineOpts, engine.WithSink(collector))
	}

	var notifier *notify.Notifier
	if cfg.Notify.Enabled {
		notifier = notify.New(logger, cfg.Notify.BufferSize)
		engineOpts = append(engineOpts, engine.WithSink(notifier))
	}

	if cfg.Archive.Enabled {
		store, err := archive.Open(cfg.Archive.Path)
		if err != nil {
			logger.Error("failed to open archive", "error", err, "path", cfg.Archive.Path)
			os.Exit(1)
		}
		engineOpts = append(engineOpts, engine.WithStore(store))
		logger.Info("archive opened", "path", cfg.Archive.Path)
	}

	// Create and start engine
	eng, err := engine.New(*cfg, logger, engineOpts...)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}
	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Serve Prometheus metrics
	var metricsServer *http.Server
	if collector != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		logger.Info("metrics serving", "addr", cfg.Metrics.Addr)
	}

	// Log the notification stream
	if notifier != nil {
		messages, err := notifier.Subscribe(ctx)
		if err != nil {
			logger.Error("failed to subscribe to notifications", "error", err)
			os.Exit(1)
		}
		go func() {
			for msg := range messages {
				evt, err := notify.Decode(msg)
				msg.Ack()
				if err != nil {
					logger.Error("bad notification payload", "error", err)
					continue
				}
				logger.Info("event",
					"type", evt.Type,
					"order_id", evt.OrderID,
					"contract_id", evt.ContractID,
					"category", evt.Category,
				)
			}
		}()
	}

	// Periodic status line + book depth gauges
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if collector != nil {
					for _, cat := range types.Categories() {
						if view, err := eng.BookSnapshot(cat); err == nil {
							collector.SetBookDepth(cat, types.SideBuy, len(view.Buy))
							collector.SetBookDepth(cat, types.SideSell, len(view.Sell))
						}
					}
				}
				stats, err := eng.Stats(ctx)
				if err != nil {
					continue
				}
				logger.Info("status",
					"orders_total", stats.Orders.Total,
					"pending", stats.Orders.Pending,
					"completed", stats.Orders.Completed,
					"success_rate_pct", stats.SuccessRatePct,
					"orders_per_minute", stats.OrdersPerMinute,
					"verification_reduction_pct", stats.Verification.ReductionPct,
				)
			}
		}
	}()

	logger.Info("gridtrade started",
		"categories", len(types.Categories()),
		"execute_timeout", cfg.Engine.ExecuteTimeout,
		"retention_days", cfg.Engine.RetentionDays,
		"archive", cfg.Archive.Enabled,
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	cancel()
	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to stop metrics server", "error", err)
		}
		shutdownCancel()
	}
	if notifier != nil {
		if err := notifier.Close(); err != nil {
			logger.Error("failed to close notifier", "error", err)
		}
	}

	eng.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
