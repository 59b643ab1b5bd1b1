// Command cf-xray-proxy runs the transport-aware reverse-proxy frontend:
// environment-driven configuration, the chi router assembled by internal/app,
// and (optionally) a separate metrics listener.
//
// Configuration is resolved once at startup, a zap logger is built according
// to DEBUG, and the process waits on SIGINT/SIGTERM for graceful shutdown.
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

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/hadimousavi79/cf-xray-proxy/internal/app"
	"github.com/hadimousavi79/cf-xray-proxy/internal/config"
	"github.com/hadimousavi79/cf-xray-proxy/internal/metrics"
)

const shutdownGracePeriod = 10 * time.Second

// flags overlay a subset of the environment-resolved Config for local runs.
// Any flag left at its zero value does not override the environment-resolved
// value; only flags the user explicitly set take precedence.
var (
	listenAddr  = pflag.String("listen", "", "override LISTEN_ADDR")
	metricsAddr = pflag.String("metrics", "", "override METRICS_ADDR")
	debug       = pflag.Bool("debug", false, "override DEBUG")
)

func main() {
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	pflag.Parse()

	cfg := config.FromEnv(bootstrapLogger())
	applyFlagOverlay(cfg)

	log, err := buildLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("exiting", zap.Error(err))
	}
}

// applyFlagOverlay overrides env-resolved fields with any flag the caller
// actually set on the command line.
func applyFlagOverlay(cfg *config.Config) {
	pflag.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "listen":
			cfg.ListenAddr = *listenAddr
		case "metrics":
			cfg.MetricsAddr = *metricsAddr
		case "debug":
			cfg.Debug = *debug
		}
	})
}

// bootstrapLogger is used only to report malformed environment variables
// while Config itself is being resolved, before the real logger (which
// depends on the resolved Debug flag) can be built.
func bootstrapLogger() *zap.Logger {
	l, _ := zap.NewProduction()
	return l
}

func buildLogger(debugMode bool) (*zap.Logger, error) {
	if debugMode {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg *config.Config, log *zap.Logger) error {
	log.Info("starting cf-xray-proxy",
		zap.String("listen_addr", cfg.ListenAddr),
		zap.String("default_transport", cfg.DefaultTransport),
		zap.Int("backend_count", len(cfg.Backends)),
		zap.Bool("subscription_enabled", cfg.SubscriptionEnabled),
		zap.String("fingerprint", cfg.Fingerprint),
	)

	a := app.New(cfg, log)
	defer a.Close()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = metrics.Serve(cfg.MetricsAddr)
		log.Info("metrics listener started", zap.String("addr", cfg.MetricsAddr))
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown failed, connections forced closed", zap.Error(err))
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	return <-serveErr
}
