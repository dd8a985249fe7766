// Command beacon runs the Twine pulse generator: it loads configuration,
// bootstraps or verifies the strand, and then drives the scheduler loop
// until terminated.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/twine-protocol/beacon-in-a-box/internal/config"
	"github.com/twine-protocol/beacon-in-a-box/internal/supervisor"
	"github.com/twine-protocol/beacon-in-a-box/log"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code: 0 for a clean shutdown on signal,
// non-zero for a startup error the operator must fix before restarting.
func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "beacon: config error:", err)
		return 1
	}

	logger := newLogger(cfg.LogLevel)
	log.SetDefault(logger)

	reg := prometheus.NewRegistry()
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, reg, logger)
	}

	sup, err := supervisor.New(cfg, logger, reg)
	if err != nil {
		logger.Crit("beacon: startup failed", "err", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("beacon: received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := sup.Run(ctx); err != nil {
		logger.Crit("beacon: stopped on fatal error", "err", err)
		return 1
	}
	return 0
}

func newLogger(level string) log.Logger {
	handler := log.NewTerminalHandlerWithLevel(os.Stderr, parseLevel(level), false)
	return log.NewLogger(handler)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "trace":
		return log.LevelTrace
	case "debug":
		return log.LevelDebug
	case "warn":
		return log.LevelWarn
	case "error":
		return log.LevelError
	case "crit":
		return log.LevelCrit
	default:
		return log.LevelInfo
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger log.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("beacon: metrics server exited", "err", err)
	}
}
