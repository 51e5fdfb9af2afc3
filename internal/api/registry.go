package api

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/CodeMonkeyCybersecurity/scanrelay/pkg/types"
)

// maxFinishedJobs bounds how many finished scans stay queryable.
const maxFinishedJobs = 100

var (
	ErrScanNotFound   = errors.New("scan not found")
	ErrScanNotRunning = errors.New("scan is not running")
)

// Job is one dashboard scan. Fields are guarded by the registry lock.
type Job struct {
	ID         string
	Target     string
	Mode       types.ScanMode
	Status     types.ScanStatus
	Progress   types.ScanProgress
	Result     *types.ScanResult
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time

	seq         uint64
	cancel      context.CancelFunc
	subscribers map[chan Event]struct{}
}

// Event is what the progress stream sends.
type Event struct {
	Type     string              `json:"type"`
	ScanID   string              `json:"scan_id"`
	Status   types.ScanStatus    `json:"status"`
	Progress *types.ScanProgress `json:"progress,omitempty"`
	Result   *types.ScanResult   `json:"result,omitempty"`
	Error    string              `json:"error,omitempty"`
}

const (
	EventProgress = "progress"
	EventDone     = "done"
)

// JobView is the JSON shape of a Job.
type JobView struct {
	ID         string             `json:"scan_id"`
	Target     string             `json:"target"`
	Mode       types.ScanMode     `json:"scan_mode"`
	Status     types.ScanStatus   `json:"status"`
	Progress   types.ScanProgress `json:"progress"`
	Result     *types.ScanResult  `json:"result,omitempty"`
	Error      string             `json:"error,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
}

type Registry struct {
	mu   sync.Mutex
	seq  uint64
	jobs map[string]*Job
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*Job)}
}

func (r *Registry) Add(id, target string, mode types.ScanMode, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	r.jobs[id] = &Job{
		ID:          id,
		Target:      target,
		Mode:        mode,
		Status:      types.ScanStatusScanning,
		StartedAt:   time.Now(),
		seq:         r.seq,
		cancel:      cancel,
		subscribers: make(map[chan Event]struct{}),
	}
	r.pruneLocked()
}

// UpdateProgress stores p and fans it out without blocking; slow subscribers miss snapshots.
func (r *Registry) UpdateProgress(id string, p types.ScanProgress) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return
	}
	job.Progress = p

	ev := Event{Type: EventProgress, ScanID: id, Status: job.Status, Progress: &p}
	for ch := range job.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Finish records the terminal state and closes every subscriber channel.
func (r *Registry) Finish(id string, status types.ScanStatus, result *types.ScanResult, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return
	}
	job.Status = status
	job.Result = result
	job.FinishedAt = time.Now()
	if err != nil {
		job.Error = err.Error()
	}

	ev := Event{Type: EventDone, ScanID: id, Status: status, Result: result, Error: job.Error}
	for ch := range job.subscribers {
		select {
		case ch <- ev:
		default:
		}
		close(ch)
	}
	job.subscribers = nil
	job.cancel = nil
}

// Remove drops a job that never started.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
}

func (r *Registry) Get(id string) (JobView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return JobView{}, ErrScanNotFound
	}
	return viewOf(job), nil
}

func (r *Registry) List() []JobView {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]JobView, 0, len(r.jobs))
	for _, job := range r.jobs {
		v := viewOf(job)
		v.Result = nil
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return r.jobs[out[i].ID].seq > r.jobs[out[j].ID].seq })
	return out
}

func (r *Registry) Cancel(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return ErrScanNotFound
	}
	if job.cancel == nil {
		return ErrScanNotRunning
	}
	job.cancel()
	return nil
}

// CancelAll stops every running scan. Used on shutdown.
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, job := range r.jobs {
		if job.cancel != nil {
			job.cancel()
			n++
		}
	}
	return n
}

// Subscribe returns a channel of events for id. For a finished scan the channel
// carries the done event and is already closed. The returned func unsubscribes.
func (r *Registry) Subscribe(id string) (<-chan Event, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, nil, ErrScanNotFound
	}

	ch := make(chan Event, 16)
	if job.subscribers == nil {
		ch <- Event{Type: EventDone, ScanID: id, Status: job.Status, Result: job.Result, Error: job.Error}
		close(ch)
		return ch, func() {}, nil
	}

	p := job.Progress
	ch <- Event{Type: EventProgress, ScanID: id, Status: job.Status, Progress: &p}
	job.subscribers[ch] = struct{}{}

	unsubscribe := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := job.subscribers[ch]; ok {
			delete(job.subscribers, ch)
			close(ch)
		}
	}
	return ch, unsubscribe, nil
}

func (r *Registry) pruneLocked() {
	var finished []*Job
	for _, job := range r.jobs {
		if !job.FinishedAt.IsZero() {
			finished = append(finished, job)
		}
	}
	if len(finished) <= maxFinishedJobs {
		return
	}
	sort.Slice(finished, func(i, j int) bool {
		if !finished[i].FinishedAt.Equal(finished[j].FinishedAt) {
			return finished[i].FinishedAt.Before(finished[j].FinishedAt)
		}
		return finished[i].seq < finished[j].seq
	})
	for _, job := range finished[:len(finished)-maxFinishedJobs] {
		delete(r.jobs, job.ID)
	}
}

func viewOf(job *Job) JobView {
	v := JobView{
		ID:        job.ID,
		Target:    job.Target,
		Mode:      job.Mode,
		Status:    job.Status,
		Progress:  job.Progress,
		Result:    job.Result,
		Error:     job.Error,
		StartedAt: job.StartedAt,
	}
	if !job.FinishedAt.IsZero() {
		t := job.FinishedAt
		v.FinishedAt = &t
	}
	return v
}
