package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/catalog"
	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/invoker"
	"github.com/CodeMonkeyCybersecurity/scanrelay/pkg/types"
)

type invokeCall struct {
	target    string
	phaseID   string
	discovery *types.DiscoveryData
}

// fakeInvoker answers each phase from a table and records every call.
type fakeInvoker struct {
	mu       sync.Mutex
	calls    []invokeCall
	outcomes map[string]*invoker.Outcome
	errs     map[string]error
	delay    time.Duration
	// block makes Invoke wait for ctx to end on the named phase.
	block string
	// started is closed when the blocking phase begins.
	started chan struct{}
}

func newFakeInvoker() *fakeInvoker {
	return &fakeInvoker{
		outcomes: map[string]*invoker.Outcome{},
		errs:     map[string]error{},
		started:  make(chan struct{}),
	}
}

func (f *fakeInvoker) Invoke(ctx context.Context, target, phaseID string, discovery *types.DiscoveryData) (*invoker.Outcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, invokeCall{target: target, phaseID: phaseID, discovery: discovery})
	f.mu.Unlock()

	if phaseID == f.block {
		close(f.started)
		<-ctx.Done()
		return nil, ctx.Err()
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err := f.errs[phaseID]; err != nil {
		return nil, err
	}
	if out, ok := f.outcomes[phaseID]; ok {
		return out, nil
	}
	return &invoker.Outcome{Categories: []types.ScanCategory{category(phaseID, types.SeverityLow)}}, nil
}

func (f *fakeInvoker) Calls() []invokeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]invokeCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func category(key string, sev types.Severity) types.ScanCategory {
	return types.ScanCategory{
		Key:      key,
		Label:    key,
		Findings: []types.Finding{{Type: key + " finding", Severity: sev, Message: "found"}},
	}
}

// recorder collects snapshots. Calls never overlap, the mutex only guards
// against the race detector flagging reads from the test goroutine.
type recorder struct {
	mu        sync.Mutex
	snapshots []types.ScanProgress
}

func (r *recorder) observe(p types.ScanProgress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, p)
}

func (r *recorder) all() []types.ScanProgress {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.ScanProgress, len(r.snapshots))
	copy(out, r.snapshots)
	return out
}

func newTestOrchestrator(t *testing.T, inv PhaseInvoker, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := New(inv, append([]Option{WithTickInterval(2 * time.Millisecond)}, opts...)...)
	require.NoError(t, err)
	return o
}

func categoryKeys(result *types.ScanResult) []string {
	keys := make([]string, 0, len(result.Categories))
	for _, c := range result.Categories {
		keys = append(keys, c.Key)
	}
	return keys
}

func TestRunScan_LightMode(t *testing.T) {
	inv := newFakeInvoker()
	inv.outcomes["recon"] = &invoker.Outcome{Categories: []types.ScanCategory{
		category("headers", types.SeverityMedium),
		category("ssl", types.SeverityGood),
	}}
	o := newTestOrchestrator(t, inv)
	rec := &recorder{}

	result, err := o.RunScan(context.Background(), "example.com", types.ScanModeLight, rec.observe)
	require.NoError(t, err)

	calls := inv.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "recon", calls[0].phaseID)
	assert.Equal(t, "example.com", calls[0].target)

	assert.Equal(t, "example.com", result.Target)
	assert.Equal(t, types.ScanModeLight, result.ScanMode)
	assert.Equal(t, []string{"headers", "ssl"}, categoryKeys(result))

	snapshots := rec.all()
	require.NotEmpty(t, snapshots)
	for _, s := range snapshots {
		assert.Equal(t, 11, s.TotalTests)
	}

	last := snapshots[len(snapshots)-1]
	assert.Equal(t, 11, last.CompletedTests)
	assert.Equal(t, 100.0, last.Progress)
	assert.Equal(t, "Complete", last.CurrentTest)
	assert.Equal(t, "Done", last.CurrentGroup)
	assert.Equal(t, 1, last.GroupIndex)
	assert.Equal(t, 1, last.TotalGroups)

	first := snapshots[0]
	assert.Equal(t, "Web Server Fingerprint", first.CurrentTest)
	assert.Equal(t, "Reconnaissance", first.CurrentGroup)
	assert.Equal(t, 0, first.CompletedTests)
	assert.Equal(t, 0.0, first.Progress)
}

func TestRunScan_TotalTestsMatchesCatalog(t *testing.T) {
	for _, mode := range []types.ScanMode{types.ScanModeLight, types.ScanModeDeep, types.ScanModeNetwork} {
		t.Run(string(mode), func(t *testing.T) {
			o := newTestOrchestrator(t, newFakeInvoker())
			rec := &recorder{}

			_, err := o.RunScan(context.Background(), "example.com", mode, rec.observe)
			require.NoError(t, err)

			phases, ok := catalog.Default().Phases(mode)
			require.True(t, ok)
			want := 0
			for _, p := range phases {
				want += p.TestCount
			}

			for _, s := range rec.all() {
				assert.Equal(t, want, s.TotalTests)
			}
		})
	}
}

func TestRunScan_FailedPhaseIsIsolated(t *testing.T) {
	inv := newFakeInvoker()
	inv.errs["injection"] = &invoker.RemotePhaseError{Phase: "injection", StatusCode: 504, Message: "upstream timed out"}
	o := newTestOrchestrator(t, inv)

	result, err := o.RunScan(context.Background(), "example.com", types.ScanModeDeep, nil)
	require.NoError(t, err)

	assert.Len(t, inv.Calls(), 5)
	assert.Equal(t, []string{"recon", "discovery", "injection_error", "advanced", "files"}, categoryKeys(result))

	errCat := result.Categories[2]
	assert.Equal(t, "Injection Testing (Error)", errCat.Label)
	require.Len(t, errCat.Findings, 1)
	assert.Equal(t, "Scan Error", errCat.Findings[0].Type)
	assert.Equal(t, types.SeverityInfo, errCat.Findings[0].Severity)
	assert.Equal(t, "upstream timed out", errCat.Findings[0].Message)
}

func TestRunScan_EveryPhaseFails(t *testing.T) {
	inv := newFakeInvoker()
	for _, id := range []string{"recon", "discovery", "injection", "advanced", "files"} {
		inv.errs[id] = errors.New(id + " down")
	}
	o := newTestOrchestrator(t, inv)
	rec := &recorder{}

	result, err := o.RunScan(context.Background(), "example.com", types.ScanModeDeep, rec.observe)
	require.NoError(t, err)

	assert.Equal(t, []string{"recon_error", "discovery_error", "injection_error", "advanced_error", "files_error"}, categoryKeys(result))

	snapshots := rec.all()
	last := snapshots[len(snapshots)-1]
	assert.Equal(t, 54, last.CompletedTests)
	assert.Equal(t, 100.0, last.Progress)
}

func TestRunScan_DiscoveryPropagation(t *testing.T) {
	bundle := &types.DiscoveryData{
		URLs:  []string{"https://example.com/login", "https://example.com/search"},
		Forms: []types.DiscoveredForm{{Action: "/login", Method: "POST", Inputs: []string{"user"}}},
	}
	inv := newFakeInvoker()
	inv.outcomes["discovery"] = &invoker.Outcome{
		Categories: []types.ScanCategory{category("discovery", types.SeverityInfo)},
		Discovery:  bundle,
	}
	o := newTestOrchestrator(t, inv)

	_, err := o.RunScan(context.Background(), "example.com", types.ScanModeDeep, nil)
	require.NoError(t, err)

	calls := inv.Calls()
	require.Len(t, calls, 5)

	sent := map[string]*types.DiscoveryData{}
	for _, c := range calls {
		sent[c.phaseID] = c.discovery
	}

	assert.Nil(t, sent["recon"])
	assert.Nil(t, sent["discovery"])
	for _, id := range []string{"injection", "advanced", "files"} {
		assert.Same(t, bundle, sent[id], "phase %s", id)
	}
}

func TestRunScan_NoDiscoveryDataWhenPhaseProducedNone(t *testing.T) {
	inv := newFakeInvoker()
	inv.errs["discovery"] = errors.New("crawler unavailable")
	o := newTestOrchestrator(t, inv)

	_, err := o.RunScan(context.Background(), "example.com", types.ScanModeDeep, nil)
	require.NoError(t, err)

	for _, c := range inv.Calls() {
		assert.Nil(t, c.discovery, "phase %s", c.phaseID)
	}
}

func TestRunScan_OnlyDiscoveryPhaseProducesData(t *testing.T) {
	stray := &types.DiscoveryData{URLs: []string{"https://example.com/stray"}}
	inv := newFakeInvoker()
	inv.outcomes["recon"] = &invoker.Outcome{Discovery: stray}
	o := newTestOrchestrator(t, inv)

	_, err := o.RunScan(context.Background(), "example.com", types.ScanModeDeep, nil)
	require.NoError(t, err)

	for _, c := range inv.Calls() {
		assert.Nil(t, c.discovery, "phase %s", c.phaseID)
	}
}

func TestRunScan_ProgressIsMonotonic(t *testing.T) {
	inv := newFakeInvoker()
	inv.delay = 15 * time.Millisecond
	o := newTestOrchestrator(t, inv)
	rec := &recorder{}

	_, err := o.RunScan(context.Background(), "example.com", types.ScanModeDeep, rec.observe)
	require.NoError(t, err)

	snapshots := rec.all()
	require.NotEmpty(t, snapshots)

	reachedTotal := 0
	for i, s := range snapshots {
		if i > 0 {
			assert.GreaterOrEqual(t, s.CompletedTests, snapshots[i-1].CompletedTests, "snapshot %d", i)
			assert.GreaterOrEqual(t, s.Progress, snapshots[i-1].Progress, "snapshot %d", i)
		}
		if s.CompletedTests == s.TotalTests {
			reachedTotal++
		}
	}
	assert.Equal(t, 1, reachedTotal)
	assert.Equal(t, 54, snapshots[len(snapshots)-1].CompletedTests)
}

func TestRunScan_TickerWalksSubTests(t *testing.T) {
	inv := newFakeInvoker()
	inv.delay = 150 * time.Millisecond
	o := newTestOrchestrator(t, inv, WithTickInterval(time.Millisecond))
	rec := &recorder{}

	_, err := o.RunScan(context.Background(), "example.com", types.ScanModeNetwork, rec.observe)
	require.NoError(t, err)

	snapshots := rec.all()
	subTests := catalog.Default().SubTests("network")

	phaseSnapshots := snapshots[:len(snapshots)-1]
	require.Greater(t, len(phaseSnapshots), 2, "expected ticks while the call was outstanding")
	assert.LessOrEqual(t, len(phaseSnapshots), 1+len(subTests))

	assert.Equal(t, subTests[0], phaseSnapshots[0].CurrentTest)
	for j, s := range phaseSnapshots[1:] {
		assert.Equal(t, subTests[j], s.CurrentTest)
		assert.Equal(t, j, s.CompletedTests)
		assert.Equal(t, "Network Port Scan", s.CurrentGroup)
	}
}

func TestRunScan_TickerStopsAfterLastSubTest(t *testing.T) {
	inv := newFakeInvoker()
	inv.delay = 200 * time.Millisecond
	o := newTestOrchestrator(t, inv, WithTickInterval(time.Millisecond))
	rec := &recorder{}

	_, err := o.RunScan(context.Background(), "example.com", types.ScanModeLight, rec.observe)
	require.NoError(t, err)

	snapshots := rec.all()
	assert.Len(t, snapshots, 1+11+1)
	assert.Equal(t, 10, snapshots[len(snapshots)-2].CompletedTests)
}

func TestRunScan_MalformedOutcomeIsEmpty(t *testing.T) {
	inv := newFakeInvoker()
	inv.outcomes["recon"] = &invoker.Outcome{
		Categories: []types.ScanCategory{},
		Malformed:  &invoker.MalformedResponseError{Phase: "recon"},
	}
	o := newTestOrchestrator(t, inv)

	result, err := o.RunScan(context.Background(), "example.com", types.ScanModeLight, nil)
	require.NoError(t, err)
	assert.NotNil(t, result.Categories)
	assert.Empty(t, result.Categories)
}

func TestRunScan_NilOutcomeIsEmpty(t *testing.T) {
	inv := newFakeInvoker()
	inv.outcomes["recon"] = nil
	o := newTestOrchestrator(t, inv)

	result, err := o.RunScan(context.Background(), "example.com", types.ScanModeLight, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Categories)
}

func TestRunScan_Cancellation(t *testing.T) {
	inv := newFakeInvoker()
	inv.block = "injection"
	o := newTestOrchestrator(t, inv)
	rec := &recorder{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		<-inv.started
		cancel()
	}()

	result, err := o.RunScan(ctx, "example.com", types.ScanModeDeep, rec.observe)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, errors.Is(err, ErrScanCancelled))
	assert.True(t, errors.Is(err, context.Canceled))

	var phaseIDs []string
	for _, c := range inv.Calls() {
		phaseIDs = append(phaseIDs, c.phaseID)
	}
	assert.Equal(t, []string{"recon", "discovery", "injection"}, phaseIDs)

	for _, s := range rec.all() {
		assert.NotEqual(t, "Complete", s.CurrentTest)
		assert.Less(t, s.CompletedTests, s.TotalTests)
	}
}

func TestRunScan_AlreadyCancelled(t *testing.T) {
	inv := newFakeInvoker()
	o := newTestOrchestrator(t, inv)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.RunScan(ctx, "example.com", types.ScanModeLight, nil)
	assert.True(t, errors.Is(err, ErrScanCancelled))
	assert.Empty(t, inv.Calls())
}

func TestRunScan_DeadlineExceeded(t *testing.T) {
	inv := newFakeInvoker()
	inv.block = "recon"
	o := newTestOrchestrator(t, inv)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := o.RunScan(ctx, "example.com", types.ScanModeLight, nil)
	assert.True(t, errors.Is(err, ErrScanCancelled))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRunScan_ObserverPanic(t *testing.T) {
	inv := newFakeInvoker()
	o := newTestOrchestrator(t, inv)

	_, err := o.RunScan(context.Background(), "example.com", types.ScanModeLight, func(types.ScanProgress) {
		panic("observer broke")
	})

	var obsErr *ObserverError
	require.True(t, errors.As(err, &obsErr))
	assert.Equal(t, "observer broke", obsErr.Recovered)
	assert.Empty(t, inv.Calls(), "no phase should run after the first snapshot panicked")
}

func TestRunScan_ObserverPanicDuringTick(t *testing.T) {
	inv := newFakeInvoker()
	inv.block = "network"
	o := newTestOrchestrator(t, inv, WithTickInterval(time.Millisecond))

	var mu sync.Mutex
	seen := 0
	_, err := o.RunScan(context.Background(), "example.com", types.ScanModeNetwork, func(types.ScanProgress) {
		mu.Lock()
		defer mu.Unlock()
		seen++
		if seen == 2 {
			panic("tick observer broke")
		}
	})

	var obsErr *ObserverError
	require.True(t, errors.As(err, &obsErr))
	assert.False(t, errors.Is(err, ErrScanCancelled))
	assert.Len(t, inv.Calls(), 1)
}

func TestRunScan_InputValidation(t *testing.T) {
	o := newTestOrchestrator(t, newFakeInvoker())

	_, err := o.RunScan(context.Background(), "   ", types.ScanModeLight, nil)
	assert.True(t, errors.Is(err, ErrEmptyTarget))

	_, err = o.RunScan(context.Background(), "example.com", types.ScanMode("turbo"), nil)
	assert.True(t, errors.Is(err, ErrUnknownMode))
}

func TestRunScan_TrimsTarget(t *testing.T) {
	inv := newFakeInvoker()
	o := newTestOrchestrator(t, inv)

	result, err := o.RunScan(context.Background(), "  example.com\n", types.ScanModeLight, nil)
	require.NoError(t, err)

	assert.Equal(t, "example.com", result.Target)
	assert.Equal(t, "example.com", inv.Calls()[0].target)
}

func TestRunScan_UsesClock(t *testing.T) {
	fixed := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	o := newTestOrchestrator(t, newFakeInvoker(), WithClock(func() time.Time { return fixed }))
	rec := &recorder{}

	result, err := o.RunScan(context.Background(), "example.com", types.ScanModeLight, rec.observe)
	require.NoError(t, err)

	assert.Equal(t, fixed, result.Timestamp)
	for _, s := range rec.all() {
		assert.Equal(t, 0, s.ElapsedSeconds)
	}
}

func TestRunScan_CustomCatalog(t *testing.T) {
	cat := catalog.New(
		map[types.ScanMode][]catalog.Phase{
			types.ScanModeLight: {
				{ID: "alpha", Label: "Alpha", TestCount: 2},
				{ID: "beta", Label: "Beta", TestCount: 1},
			},
		},
		map[string][]string{
			"alpha": {"a1", "a2"},
			"beta":  {"b1"},
		},
	)
	inv := newFakeInvoker()
	o := newTestOrchestrator(t, inv, WithCatalog(cat))
	rec := &recorder{}

	result, err := o.RunScan(context.Background(), "example.com", types.ScanModeLight, rec.observe)
	require.NoError(t, err)

	assert.Equal(t, []string{"alpha", "beta"}, categoryKeys(result))
	snapshots := rec.all()
	assert.Equal(t, 3, snapshots[len(snapshots)-1].TotalTests)

	_, err = o.RunScan(context.Background(), "example.com", types.ScanModeDeep, nil)
	assert.True(t, errors.Is(err, ErrUnknownMode))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(newFakeInvoker(), WithTickInterval(0))
	assert.Error(t, err)

	bad := catalog.New(map[types.ScanMode][]catalog.Phase{
		types.ScanModeLight: {{ID: "alpha", Label: "Alpha", TestCount: 2}},
	}, map[string][]string{"alpha": {"only one"}})
	_, err = New(newFakeInvoker(), WithCatalog(bad))
	assert.Error(t, err)
}

func TestPhaseFailures(t *testing.T) {
	var pf phaseFailures
	assert.Equal(t, "", pf.Error())

	pf.Add("recon", nil)
	assert.Equal(t, 0, pf.Count())

	pf.Add("recon", errors.New("timeout"))
	assert.Equal(t, "recon: timeout", pf.Error())

	pf.Add("files", errors.New("503"))
	assert.Equal(t, 2, pf.Count())
	assert.Equal(t, []string{"recon", "files"}, pf.PhaseIDs())
	assert.Contains(t, pf.Error(), "2 phases failed")
}
