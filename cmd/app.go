package cmd

import (
	"context"
	"fmt"

	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/catalog"
	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/config"
	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/httpclient"
	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/invoker"
	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/logger"
	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/orchestrator"
	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/ratelimit"
	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/telemetry"
)

// newBackendLimiter paces every call to the scanning backend.
func newBackendLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.NewLimiter(ratelimit.FromConfig(cfg.RateLimit))
}

// buildOrchestrator wires the backend client, pacing and telemetry into an orchestrator.
func buildOrchestrator(cfg *config.Config, log *logger.Logger, tel telemetry.Telemetry, limiter *ratelimit.Limiter) (*orchestrator.Orchestrator, error) {
	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = cfg.Backend.Timeout

	client, err := invoker.New(cfg.Backend,
		invoker.WithHTTPClient(httpclient.NewClient(httpCfg)),
		invoker.WithLimiter(limiter),
		invoker.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend client: %w", err)
	}

	orch, err := orchestrator.New(client,
		orchestrator.WithCatalog(catalog.Default()),
		orchestrator.WithTickInterval(cfg.Scan.TickInterval),
		orchestrator.WithLogger(log),
		orchestrator.WithTelemetry(tel),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	log.Debugw("Orchestrator ready",
		"endpoint", client.Endpoint(),
		"tick_interval", cfg.Scan.TickInterval.String(),
	)
	return orch, nil
}

// startTelemetry returns the configured telemetry and a logger that traces through it.
func startTelemetry(ctx context.Context, cfg *config.Config, log *logger.Logger) (telemetry.Telemetry, *logger.Logger, error) {
	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	return tel, log.WithTracer(tel.Tracer()), nil
}

func closeTelemetry(tel telemetry.Telemetry) {
	if err := tel.Close(); err != nil {
		log.Warnw("Failed to flush telemetry", "error", err)
	}
}
