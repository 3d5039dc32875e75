package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MeKo-Tech/dpmscan/internal/config"
	"github.com/MeKo-Tech/dpmscan/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func (a *app) newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP decode service",
		Long: `Start an HTTP server that decodes uploaded photographs.

The server provides the following endpoints:
  POST /api/v1/decode    - Decode an uploaded image (multipart field "image")
  GET  /api/v1/machines  - List machine profiles
  GET  /ws/decode        - WebSocket decode stream (JSON requests or binary frames)
  GET  /health           - Health check endpoint
  GET  /metrics          - Prometheus metrics

Examples:
  dpmscan serve
  dpmscan serve --port 8080
  dpmscan serve --host 0.0.0.0 --port 3000 --machine machine_2`,
		Args: cobra.NoArgs,
		RunE: a.runServe,
	}

	f := serveCmd.Flags()
	f.StringP("host", "H", "localhost", "server host")
	f.IntP("port", "p", 8080, "server port")
	f.String("cors-origin", "*", "CORS allowed origins")
	f.Int("max-upload-size", 20, "maximum upload size in MB")
	f.Int("timeout", 30, "request timeout in seconds")
	f.Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	// Rate limiting flags
	f.Bool("rate-limit-enabled", false, "enable rate limiting")
	f.Int("requests-per-minute", 60, "maximum requests per minute per client")
	f.Int("requests-per-hour", 1000, "maximum requests per hour per client")
	f.Int("max-requests-per-day", 5000, "maximum requests per day per client")
	f.Int64("max-data-per-day", 100*1024*1024, "maximum data processed per day per client (bytes)")
	return serveCmd
}

// applyServeFlags copies explicitly set flags over the server configuration.
func applyServeFlags(f *pflag.FlagSet, sc *config.ServerConfig) error {
	if f.Changed("host") {
		sc.Host, _ = f.GetString("host")
	}
	if f.Changed("port") {
		sc.Port, _ = f.GetInt("port")
	}
	if f.Changed("cors-origin") {
		sc.CORSOrigin, _ = f.GetString("cors-origin")
	}
	if f.Changed("max-upload-size") {
		sc.MaxUploadMB, _ = f.GetInt("max-upload-size")
	}
	if f.Changed("timeout") {
		sc.TimeoutSec, _ = f.GetInt("timeout")
	}
	if f.Changed("shutdown-timeout") {
		sc.ShutdownTimeout, _ = f.GetInt("shutdown-timeout")
	}
	if f.Changed("rate-limit-enabled") {
		sc.RateLimitEnabled, _ = f.GetBool("rate-limit-enabled")
	}
	if f.Changed("requests-per-minute") {
		sc.RequestsPerMinute, _ = f.GetInt("requests-per-minute")
	}
	if f.Changed("requests-per-hour") {
		sc.RequestsPerHour, _ = f.GetInt("requests-per-hour")
	}
	if f.Changed("max-requests-per-day") {
		sc.MaxRequestsPerDay, _ = f.GetInt("max-requests-per-day")
	}
	if f.Changed("max-data-per-day") {
		sc.MaxDataPerDay, _ = f.GetInt64("max-data-per-day")
	}

	if sc.Port < 1 || sc.Port > 65535 {
		return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", sc.Port)
	}
	if sc.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d", sc.MaxUploadMB)
	}
	return nil
}

// newServer builds one decode chain per machine of the table.
func (a *app) newServer(cfg *config.Config) (*server.Server, error) {
	registry, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	if _, err := registry.Resolve(cfg.Machine); err != nil {
		return nil, err
	}

	classifiers := make(map[string]server.Classifier, registry.Len())
	for _, profile := range registry.Profiles() {
		params, err := cfg.Params(profile.Name())
		if err != nil {
			return nil, err
		}
		// Requests never wait on the stage viewer.
		params.DisplayWait = 0
		runner, err := a.newRunner(cfg, profile, params)
		if err != nil {
			return nil, err
		}
		classifiers[profile.Name()] = runner
	}

	sc := cfg.Server
	return server.NewServer(server.Config{
		Host:           sc.Host,
		Port:           sc.Port,
		CORSOrigin:     sc.CORSOrigin,
		MaxUploadMB:    int64(sc.MaxUploadMB),
		TimeoutSec:     sc.TimeoutSec,
		DefaultMachine: cfg.Machine,
		Registry:       registry,
		Classifiers:    classifiers,
		RateLimit: server.RateLimitConfig{
			Enabled:           sc.RateLimitEnabled,
			RequestsPerMinute: sc.RequestsPerMinute,
			RequestsPerHour:   sc.RequestsPerHour,
			MaxRequestsPerDay: sc.MaxRequestsPerDay,
			MaxDataPerDay:     sc.MaxDataPerDay,
		},
		Logger: a.log(),
	})
}

func (a *app) runServe(cmd *cobra.Command, args []string) error {
	cfg := a.config()
	if err := applyServeFlags(cmd.Flags(), &cfg.Server); err != nil {
		return err
	}
	sc := cfg.Server
	logger := a.log()

	decodeServer, err := a.newServer(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}
	defer func() { _ = decodeServer.Close() }()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	mux := http.NewServeMux()
	decodeServer.SetupRoutes(mux)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", sc.Host, sc.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(sc.TimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(sc.TimeoutSec) * time.Second,
	}

	go func() {
		logger.Info("Starting decode server", "host", sc.Host, "port", sc.Port, "machine", cfg.Machine)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled, initiating shutdown")
	}

	logger.Info("Starting graceful shutdown", "timeout", fmt.Sprintf("%ds", sc.ShutdownTimeout))
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(sc.ShutdownTimeout)*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	} else {
		logger.Info("HTTP server shutdown completed")
	}
	return nil
}
