// Package shutdown runs registered cleanup steps once, newest first, when the
// process is asked to stop.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/logger"
)

// Func is one cleanup step. It should return once ctx is done.
type Func func(ctx context.Context) error

type step struct {
	name string
	fn   Func
}

// Handler manages graceful shutdown of the application
type Handler struct {
	mu      sync.Mutex
	steps   []step
	once    sync.Once
	done    chan struct{}
	err     error
	timeout time.Duration
	logger  *logger.Logger
}

// NewHandler creates a handler whose cleanup steps share timeout.
func NewHandler(log *logger.Logger, timeout time.Duration) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Handler{
		done:    make(chan struct{}),
		timeout: timeout,
		logger:  log.WithComponent("shutdown"),
	}
}

// Register adds a cleanup step. Steps run in reverse registration order.
func (h *Handler) Register(name string, fn Func) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.steps = append(h.steps, step{name: name, fn: fn})
}

// WaitForShutdown blocks until SIGINT, SIGTERM or ctx ends, then shuts down.
func (h *Handler) WaitForShutdown(ctx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		h.logger.Infow("Received signal, starting graceful shutdown", "signal", sig.String())
	case <-ctx.Done():
		h.logger.Infow("Context cancelled, starting graceful shutdown")
	}

	return h.Shutdown()
}

// Shutdown runs every step once. Later calls return the first call's error.
func (h *Handler) Shutdown() error {
	h.once.Do(func() {
		defer close(h.done)

		h.mu.Lock()
		steps := append([]step(nil), h.steps...)
		h.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()

		var errs []error
		for i := len(steps) - 1; i >= 0; i-- {
			s := steps[i]
			start := time.Now()
			if err := s.fn(ctx); err != nil {
				h.logger.Errorw("Error during shutdown", "step", s.name, "error", err)
				errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
				continue
			}
			h.logger.Debugw("Shutdown step finished", "step", s.name, "duration", time.Since(start).String())
		}
		h.err = errors.Join(errs...)
	})
	<-h.done
	return h.err
}

// Done returns a channel that's closed when shutdown is complete
func (h *Handler) Done() <-chan struct{} {
	return h.done
}
