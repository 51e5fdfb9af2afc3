package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/config"
	"github.com/CodeMonkeyCybersecurity/scanrelay/pkg/types"
)

func TestNewDisabledReturnsNoop(t *testing.T) {
	tel, err := New(context.Background(), config.TelemetryConfig{Enabled: false})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		tel.RecordScan(types.ScanModeLight, time.Second, types.ScanStatusCompleted)
		tel.RecordPhase("recon", time.Second, false)
		tel.RecordFinding(types.SeverityHigh)
	})

	_, span := tel.Tracer().Start(context.Background(), "noop")
	span.End()
	assert.NoError(t, tel.Close())
}

func TestNewRejectsUnknownExporter(t *testing.T) {
	_, err := New(context.Background(), config.TelemetryConfig{
		Enabled:      true,
		ServiceName:  "scanrelay",
		ExporterType: "zipkin",
		SampleRate:   1,
	})
	assert.Error(t, err)
}

func TestInstrumentsRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	tel, err := newInstruments(provider.Meter("test"))
	require.NoError(t, err)

	tel.RecordScan(types.ScanModeDeep, 3*time.Second, types.ScanStatusCompleted)
	tel.RecordPhase("recon", time.Second, false)
	tel.RecordPhase("injection", time.Second, true)
	tel.RecordFinding(types.SeverityCritical)
	tel.RecordFinding(types.SeverityLow)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	sums := map[string]int64{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
			for _, dp := range sum.DataPoints {
				sums[m.Name] += dp.Value
			}
		}
	}

	assert.Equal(t, int64(1), sums["scanrelay.scans.total"])
	assert.Equal(t, int64(2), sums["scanrelay.phases.total"])
	assert.Equal(t, int64(2), sums["scanrelay.findings.total"])
}
