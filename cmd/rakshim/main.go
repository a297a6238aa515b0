// Command rakshim transparently translates RakNet 3.25 traffic to the
// TCP/UDP replacement protocol. It hosts listeners the legacy client
// connects to, relays decoded traffic to the real backends, and intercepts
// redirect packets so every server the client is sent to is reached through
// this proxy.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/lunet/rakshim/internal/announce"
	"github.com/lunet/rakshim/internal/config"
	"github.com/lunet/rakshim/internal/logger"
	"github.com/lunet/rakshim/internal/raknet"
	"github.com/lunet/rakshim/internal/relay"
	"github.com/lunet/rakshim/internal/tracing"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config/config.yaml", "Configuration file path")
	flag.Parse()

	// Load configuration first; a malformed or missing file must terminate
	// the process with a descriptive message.
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := tracing.Init("rakshim", version, cfg.Tracing.CollectorEndpoint); err != nil {
		logger.L.Warn("Failed to initialize tracing", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Optional relay announcements
	publisher := announce.New(&cfg.Redis)
	if publisher != nil {
		if err := publisher.Ping(ctx); err != nil {
			logger.L.Warn("Redis unreachable, relay announcements degraded", zap.Error(err))
		}
		publisher.Start(ctx)
		defer publisher.Close()
	}

	startMetricsServer(cfg.Metrics.Port)

	orch, err := relay.New(*cfg, raknet.NewRawSession, publisher)
	if err != nil {
		logger.L.Fatal("Failed to start relay", zap.Error(err))
	}

	logger.L.Info("rakshim started",
		zap.String("version", version),
		zap.String("build_time", buildTime),
		zap.String("git_commit", gitCommit),
		zap.String("external", cfg.ExternalAddr().String()),
		zap.String("backend", cfg.BackendAuthAddr().String()),
	)

	// Stop the tick loop on SIGINT/SIGTERM; there is no drain of in-flight
	// messages, sessions end with the sockets.
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logger.L.Info("Received stop signal, shutting down")
		cancel()
	}()

	if err := orch.Run(ctx); err != nil {
		logger.L.Fatal("Relay failed", zap.Error(err))
	}

	if err := tracing.Shutdown(context.Background()); err != nil {
		logger.L.Warn("Error during tracing shutdown", zap.Error(err))
	}

	logger.L.Info("rakshim closed")
}

// startMetricsServer serves Prometheus metrics and a liveness endpoint.
func startMetricsServer(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.L.Error("metrics server error", zap.Error(err))
		}
	}()

	logger.L.Info("metrics server started", zap.Int("port", port))
}
