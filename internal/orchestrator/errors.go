package orchestrator

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrScanCancelled is returned when the caller's context ends before every phase ran.
	ErrScanCancelled = errors.New("scan cancelled")
	ErrEmptyTarget   = errors.New("target must not be empty")
	ErrUnknownMode   = errors.New("unknown scan mode")
)

// ObserverError wraps a panic raised by the progress callback. It is the only
// failure besides cancellation that aborts a scan.
type ObserverError struct {
	Recovered interface{}
}

func (e *ObserverError) Error() string {
	return fmt.Sprintf("progress observer panicked: %v", e.Recovered)
}

// PhaseFailure records a phase whose remote call did not succeed.
type PhaseFailure struct {
	PhaseID string
	Err     error
}

// phaseFailures collects failed phases for one scan. A scan owns its own
// collector so no locking is needed.
type phaseFailures struct {
	failures []PhaseFailure
}

func (pf *phaseFailures) Add(phaseID string, err error) {
	if err == nil {
		return
	}
	pf.failures = append(pf.failures, PhaseFailure{PhaseID: phaseID, Err: err})
}

func (pf *phaseFailures) Count() int {
	return len(pf.failures)
}

func (pf *phaseFailures) PhaseIDs() []string {
	ids := make([]string, 0, len(pf.failures))
	for _, f := range pf.failures {
		ids = append(ids, f.PhaseID)
	}
	return ids
}

func (pf *phaseFailures) Error() string {
	switch len(pf.failures) {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("%s: %v", pf.failures[0].PhaseID, pf.failures[0].Err)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d phases failed:\n", len(pf.failures)))
	for i, f := range pf.failures {
		sb.WriteString(fmt.Sprintf("  %d. %s: %v\n", i+1, f.PhaseID, f.Err))
	}
	return sb.String()
}
