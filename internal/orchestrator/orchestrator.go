// Package orchestrator runs the phases of a scan mode one after another against
// the scanning backend, reporting progress to an observer as it goes.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/catalog"
	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/invoker"
	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/logger"
	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/telemetry"
	"github.com/CodeMonkeyCybersecurity/scanrelay/pkg/severity"
	"github.com/CodeMonkeyCybersecurity/scanrelay/pkg/types"
)

const (
	DefaultTickInterval = 1200 * time.Millisecond

	scanErrorType = "Scan Error"
	finalTest     = "Complete"
	finalGroup    = "Done"
)

// PhaseInvoker performs the remote call for one phase.
type PhaseInvoker interface {
	Invoke(ctx context.Context, target, phaseID string, discovery *types.DiscoveryData) (*invoker.Outcome, error)
}

// ProgressFunc receives progress snapshots. Calls never overlap and must return promptly.
type ProgressFunc func(types.ScanProgress)

type Orchestrator struct {
	invoker      PhaseInvoker
	catalog      *catalog.Catalog
	tickInterval time.Duration
	logger       *logger.Logger
	telemetry    telemetry.Telemetry
	tracer       trace.Tracer
	now          func() time.Time
}

type Option func(*Orchestrator)

func WithCatalog(c *catalog.Catalog) Option {
	return func(o *Orchestrator) { o.catalog = c }
}

func WithTickInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.tickInterval = d }
}

func WithLogger(l *logger.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func WithTelemetry(t telemetry.Telemetry) Option {
	return func(o *Orchestrator) { o.telemetry = t }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func New(inv PhaseInvoker, opts ...Option) (*Orchestrator, error) {
	if inv == nil {
		return nil, errors.New("phase invoker is required")
	}

	o := &Orchestrator{
		invoker:      inv,
		catalog:      catalog.Default(),
		tickInterval: DefaultTickInterval,
		logger:       logger.Nop(),
		telemetry:    telemetry.Noop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.tickInterval <= 0 {
		return nil, fmt.Errorf("tick interval must be positive, got %s", o.tickInterval)
	}
	if err := o.catalog.Validate(); err != nil {
		return nil, fmt.Errorf("invalid phase catalog: %w", err)
	}

	o.logger = o.logger.WithComponent("orchestrator")
	o.tracer = o.telemetry.Tracer()

	return o, nil
}

func (o *Orchestrator) Catalog() *catalog.Catalog {
	return o.catalog
}

// scanRun holds the per-call state of one RunScan invocation.
type scanRun struct {
	o           *Orchestrator
	target      string
	mode        types.ScanMode
	totalTests  int
	totalGroups int
	start       time.Time
	observer    ProgressFunc
	logger      *logger.Logger
}

// RunScan executes every phase of mode against target and returns the combined
// result. A failed phase becomes a single "<id>_error" category and the scan
// continues. The returned error is non-nil only when ctx ends (ErrScanCancelled)
// or onProgress panics (*ObserverError).
func (o *Orchestrator) RunScan(ctx context.Context, target string, mode types.ScanMode, onProgress ProgressFunc) (*types.ScanResult, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, ErrEmptyTarget
	}

	phases, ok := o.catalog.Phases(mode)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}

	run := &scanRun{
		o:           o,
		target:      target,
		mode:        mode,
		totalTests:  o.catalog.TotalTests(mode),
		totalGroups: len(phases),
		start:       o.now(),
		observer:    onProgress,
		logger:      o.logger.WithTarget(target).WithFields("mode", string(mode)),
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.RunScan",
		trace.WithAttributes(
			attribute.String("scan.target", target),
			attribute.String("scan.mode", string(mode)),
			attribute.Int("scan.total_tests", run.totalTests),
		),
	)
	defer span.End()

	run.logger.Infow("Starting scan",
		"phases", len(phases),
		"total_tests", run.totalTests,
	)

	result, err := run.execute(ctx, phases)

	duration := o.now().Sub(run.start)
	status := types.ScanStatusCompleted
	switch {
	case errors.Is(err, ErrScanCancelled):
		status = types.ScanStatusCancelled
	case err != nil:
		status = types.ScanStatusError
	}
	o.telemetry.RecordScan(mode, duration, status)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		run.logger.Warnw("Scan aborted",
			"status", string(status),
			"error", err,
			"duration", duration.String(),
		)
		return nil, err
	}

	span.SetAttributes(attribute.Int("scan.findings", result.FindingCount()))
	span.SetStatus(codes.Ok, "")

	return result, nil
}

func (r *scanRun) execute(ctx context.Context, phases []catalog.Phase) (*types.ScanResult, error) {
	var (
		discovery  *types.DiscoveryData
		categories = []types.ScanCategory{}
		completed  int
		failures   phaseFailures
	)

	for i, phase := range phases {
		if err := ctx.Err(); err != nil {
			return nil, cancelled(err)
		}

		out, err := r.runPhase(ctx, i, phase, completed, discovery)
		if err != nil {
			return nil, err
		}

		discovery = out.discovery
		failures.Add(phase.ID, out.failure)
		categories = append(categories, out.categories...)
		completed += phase.TestCount
	}

	if err := r.emit(ctx, types.ScanProgress{
		CurrentTest:    finalTest,
		Progress:       100,
		TotalTests:     r.totalTests,
		CompletedTests: r.totalTests,
		CurrentGroup:   finalGroup,
		GroupIndex:     r.totalGroups,
		TotalGroups:    r.totalGroups,
		ElapsedSeconds: r.elapsed(),
	}); err != nil {
		return nil, err
	}

	result := &types.ScanResult{
		Target:     r.target,
		ScanMode:   r.mode,
		Timestamp:  r.o.now(),
		Categories: categories,
	}

	counts := severity.CountBySeverity(categories)
	for _, sev := range severity.Order {
		for n := 0; n < counts[sev]; n++ {
			r.o.telemetry.RecordFinding(sev)
		}
	}

	fields := []interface{}{
		"categories", len(categories),
		"findings", counts.Total(),
		"vulnerabilities", counts.Vulnerabilities(),
		"duration", r.o.now().Sub(r.start).String(),
	}
	if failures.Count() > 0 {
		r.logger.Warnw("Scan completed with failed phases",
			append(fields, "failed_phases", failures.PhaseIDs(), "failures", failures.Error())...,
		)
	} else {
		r.logger.Infow("Scan completed", fields...)
	}

	return result, nil
}

// phaseOutput is what one phase contributes to the scan.
type phaseOutput struct {
	categories []types.ScanCategory
	// discovery is the bundle later phases receive; unchanged unless this phase produced one.
	discovery *types.DiscoveryData
	failure   error
}

// runPhase performs one phase call while the progress ticker runs. A failed
// call is folded into the output; err is non-nil only when the scan must stop.
func (r *scanRun) runPhase(ctx context.Context, index int, phase catalog.Phase, completed int, discovery *types.DiscoveryData) (phaseOutput, error) {
	phaseStart := r.o.now()
	phaseLogger := r.logger.WithPhase(phase.ID).WithFields("phase_number", index+1)

	ctx, span := r.o.tracer.Start(ctx, "orchestrator.runPhase",
		trace.WithAttributes(
			attribute.String("phase.id", phase.ID),
			attribute.Int("phase.test_count", phase.TestCount),
			attribute.Bool("phase.requires_discovery", phase.RequiresDiscoveryData),
		),
	)
	defer span.End()

	subTests := r.o.catalog.SubTests(phase.ID)
	firstTest := phase.Label
	if len(subTests) > 0 {
		firstTest = subTests[0]
	}

	if err := r.emit(ctx, r.snapshot(firstTest, completed, phase, index)); err != nil {
		return phaseOutput{}, err
	}

	phaseLogger.Infow("Executing scan phase",
		"with_discovery_data", phase.RequiresDiscoveryData && discovery != nil,
	)

	var sent *types.DiscoveryData
	if phase.RequiresDiscoveryData {
		sent = discovery
	}

	callCtx, abort := context.WithCancel(ctx)
	stop := r.startTicker(ctx, abort, phase, index, completed, subTests)
	outcome, callErr := r.o.invoker.Invoke(callCtx, r.target, phase.ID, sent)
	tickErr := stop()
	abort()

	duration := r.o.now().Sub(phaseStart)

	if tickErr != nil {
		span.RecordError(tickErr)
		return phaseOutput{}, tickErr
	}
	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, "cancelled")
		phaseLogger.Infow("Scan phase cancelled", "phase_duration", duration.String())
		return phaseOutput{}, cancelled(err)
	}

	if callErr != nil {
		r.o.telemetry.RecordPhase(phase.ID, duration, true)
		span.RecordError(callErr)
		span.SetStatus(codes.Error, callErr.Error())
		phaseLogger.LogError(ctx, callErr, "Scan phase failed",
			"phase_duration", duration.String(),
		)
		return phaseOutput{
			categories: []types.ScanCategory{errorCategory(phase, callErr)},
			discovery:  discovery,
			failure:    callErr,
		}, nil
	}

	r.o.telemetry.RecordPhase(phase.ID, duration, false)

	if outcome == nil {
		outcome = &invoker.Outcome{}
	}
	if outcome.Malformed != nil {
		phaseLogger.Warnw("Phase response had no categories, treating as empty",
			"error", outcome.Malformed,
		)
	}
	if phase.ID == catalog.DiscoveryPhaseID && outcome.Discovery != nil {
		discovery = outcome.Discovery
		phaseLogger.Infow("Stored discovery data for later phases",
			"urls", len(discovery.URLs),
			"forms", len(discovery.Forms),
			"params", len(discovery.Params),
		)
	}

	counts := severity.CountBySeverity(outcome.Categories)
	phaseLogger.LogFindings(ctx, phase.ID, counts.ByName())
	phaseLogger.Infow("Scan phase completed",
		"phase_duration", duration.String(),
		"categories", len(outcome.Categories),
	)

	return phaseOutput{categories: outcome.Categories, discovery: discovery}, nil
}

func (r *scanRun) snapshot(test string, completed int, phase catalog.Phase, index int) types.ScanProgress {
	progress := 0.0
	if r.totalTests > 0 {
		progress = float64(completed) / float64(r.totalTests) * 100
	}
	return types.ScanProgress{
		CurrentTest:    test,
		Progress:       progress,
		TotalTests:     r.totalTests,
		CompletedTests: completed,
		CurrentGroup:   phase.Label,
		GroupIndex:     index + 1,
		TotalGroups:    r.totalGroups,
		ElapsedSeconds: r.elapsed(),
	}
}

func (r *scanRun) elapsed() int {
	return int(r.o.now().Sub(r.start) / time.Second)
}

// emit delivers p to the observer, converting a panic into an *ObserverError.
func (r *scanRun) emit(ctx context.Context, p types.ScanProgress) (err error) {
	if r.observer == nil {
		return nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.LogPanic(ctx, rec, "progress observer", "current_test", p.CurrentTest)
			err = &ObserverError{Recovered: rec}
		}
	}()
	r.observer(p)
	return nil
}

func errorCategory(phase catalog.Phase, err error) types.ScanCategory {
	return types.ScanCategory{
		Key:   phase.ID + "_error",
		Label: phase.Label + " (Error)",
		Findings: []types.Finding{{
			Type:     scanErrorType,
			Severity: types.SeverityInfo,
			Message:  err.Error(),
		}},
	}
}

func cancelled(cause error) error {
	return fmt.Errorf("%w: %w", ErrScanCancelled, cause)
}
