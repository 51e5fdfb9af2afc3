package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/catalog"
)

// startTicker emits one snapshot per tick for subTests[k], k = 0..len-1, while
// a phase call is outstanding. The returned stop func halts the goroutine and
// blocks until it has exited, so no snapshot is delivered after stop returns.
// An observer panic inside the ticker calls abort and is reported by stop.
func (r *scanRun) startTicker(ctx context.Context, abort context.CancelFunc, phase catalog.Phase, index, completed int, subTests []string) (stop func() error) {
	done := make(chan struct{})
	exited := make(chan struct{})
	var tickErr error

	go func() {
		defer close(exited)

		ticker := time.NewTicker(r.o.tickInterval)
		defer ticker.Stop()

		for k := 0; k < len(subTests); {
			select {
			case <-done:
				return
			case <-ticker.C:
				select {
				case <-done:
					return
				default:
				}
				if err := r.emit(ctx, r.snapshot(subTests[k], completed+k, phase, index)); err != nil {
					tickErr = err
					abort()
					return
				}
				k++
			}
		}
	}()

	var once sync.Once
	return func() error {
		once.Do(func() { close(done) })
		<-exited
		return tickErr
	}
}
