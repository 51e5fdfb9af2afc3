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

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/api"
	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/history"
	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/resolver"
	"github.com/CodeMonkeyCybersecurity/scanrelay/pkg/shutdown"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"dashboard"},
	Short:   "Start the dashboard API server",
	Long: `Start the HTTP API behind the scan dashboard.

Endpoints:
  GET    /health                    Liveness
  GET    /metrics                   Prometheus metrics
  GET    /api/phases                Phases and test counts per mode
  POST   /api/scans                 Start a scan {"url", "scan_mode", "resolve"}
  GET    /api/scans                 Running and recent scans
  GET    /api/scans/:id             One scan with progress and result
  DELETE /api/scans/:id             Cancel a running scan
  GET    /api/scans/:id/stream      Progress over WebSocket
  GET    /api/scans/:id/report      Summary and recommendations
  GET    /api/history               Recent scan digests
  POST   /api/dns-lookup            Resolve {"domain"}

Set SCANRELAY_SERVER_API_KEY to require a bearer token on /api routes.

Example:
  scanrelay serve --addr 127.0.0.1:8080`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", ":8080", "address to listen on")
	serveCmd.Flags().Int("max-scans", 4, "maximum concurrent scans")
	viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	viper.BindPFlag("server.max_concurrent_scans", serveCmd.Flags().Lookup("max-scans"))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverLog := log.WithComponent("api-server")
	handler := shutdown.NewHandler(serverLog, cfg.Server.ShutdownTimeout)

	tel, serverLog, err := startTelemetry(ctx, cfg, serverLog)
	if err != nil {
		return err
	}
	handler.Register("telemetry", func(context.Context) error { return tel.Close() })

	store, err := history.Open(ctx, *cfg, serverLog)
	if err != nil {
		_ = handler.Shutdown()
		return fmt.Errorf("failed to open history: %w", err)
	}
	handler.Register("history", func(context.Context) error { return store.Close() })

	limiter := newBackendLimiter(cfg)
	orch, err := buildOrchestrator(cfg, serverLog, tel, limiter)
	if err != nil {
		_ = handler.Shutdown()
		return err
	}

	srv, err := api.NewServer(ctx, api.Deps{
		Scanner:             orch,
		History:             store,
		Resolver:            resolver.NewCache(resolver.New(cfg.Resolver, serverLog), cfg.Resolver.CacheTTL),
		Logger:              serverLog,
		Metrics:             api.NewMetrics(),
		BackendLimiter:      limiter,
		APIKey:              cfg.Server.APIKey,
		RateLimit:           cfg.Server.RateLimit,
		MaxConcurrentScans:  cfg.Server.MaxConcurrentScans,
		AllowPrivateTargets: cfg.Scan.AllowPrivateTargets,
	})
	if err != nil {
		_ = handler.Shutdown()
		return fmt.Errorf("failed to create API server: %w", err)
	}
	handler.Register("scans", srv.Shutdown)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	handler.Register("http", httpServer.Shutdown)

	serverLog.Infow("Starting dashboard API server",
		"addr", cfg.Server.Addr,
		"auth_enabled", cfg.Server.APIKey != "",
		"max_concurrent_scans", cfg.Server.MaxConcurrentScans,
		"history_backend", cfg.History.Backend,
		"config_file", viper.ConfigFileUsed(),
	)
	color.Cyan("Dashboard API listening on %s\n", cfg.Server.Addr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return handler.WaitForShutdown(gctx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	serverLog.Infow("Dashboard API server stopped")
	return nil
}
