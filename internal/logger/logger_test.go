package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  config.LoggerConfig
		wantErr bool
	}{
		{
			name: "valid json config",
			config: config.LoggerConfig{
				Level:  "debug",
				Format: "json",
			},
			wantErr: false,
		},
		{
			name: "valid console config",
			config: config.LoggerConfig{
				Level:  "info",
				Format: "console",
			},
			wantErr: false,
		},
		{
			name: "invalid level",
			config: config.LoggerConfig{
				Level:  "invalid",
				Format: "json",
			},
			wantErr: true,
		},
		{
			name:    "empty config uses defaults",
			config:  config.LoggerConfig{},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, logger)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, logger)
			}
		})
	}
}

func TestLoggerMethods(t *testing.T) {
	logger, err := New(config.LoggerConfig{Level: "debug", Format: "json", OutputPaths: []string{"stderr"}})
	require.NoError(t, err)

	ctx := context.Background()
	scoped := logger.WithComponent("orchestrator").WithTarget("example.com").WithScanID("scan-1").WithPhase("recon")
	scoped.Infow("test structured info", "key", "value", "number", 42)

	ctx, span := scoped.StartOperation(ctx, "test.operation", "mode", "light")
	scoped.FinishOperation(ctx, span, "test.operation", time.Now(), nil)

	ctx, span = scoped.StartOperation(ctx, "test.failing")
	scoped.FinishOperation(ctx, span, "test.failing", time.Now(), errors.New("boom"))

	scoped.LogFindings(ctx, "recon", map[string]int{"CRITICAL": 1, "LOW": 2})
	scoped.LogHTTPRequest(ctx, "POST", "https://scanner.example.com/functions/v1/scan", 502, 120*time.Millisecond)
	scoped.LogScanProgress(ctx, "scan-1", 42.5, "scanning", map[string]interface{}{"phase": "recon"})
	scoped.LogPanic(ctx, "observer exploded", "emit")
}
