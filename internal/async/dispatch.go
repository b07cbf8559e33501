// Package async runs best-effort side effects off the caller's path and keeps
// their failures observable.
package async

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/rcliao/rfp-agent-memory/internal/logging"
)

// Failure is a recorded side-effect error.
type Failure struct {
	Task     string    `json:"task"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failedAt"`
}

// Dispatcher executes fire-and-forget tasks with a bounded timeout each.
// Failures are logged and kept in a bounded ring for a supervisor to drain.
type Dispatcher struct {
	timeout time.Duration
	wg      sync.WaitGroup

	mu       sync.Mutex
	failures []Failure
	capacity int
	total    int
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTimeout bounds each task.
func WithTimeout(d time.Duration) Option {
	return func(x *Dispatcher) { x.timeout = d }
}

// WithCapacity bounds the number of retained failures.
func WithCapacity(n int) Option {
	return func(x *Dispatcher) { x.capacity = n }
}

// New creates a Dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		timeout:  5 * time.Second,
		capacity: 100,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs handler in a new goroutine on a background context that keeps
// the caller's logger. The caller never waits for it.
func (d *Dispatcher) Dispatch(ctx context.Context, task string, handler func(ctx context.Context) error) {
	bgCtx := logging.With(context.Background(), logging.From(ctx))

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		runCtx, cancel := context.WithTimeout(bgCtx, d.timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				d.record(runCtx, task, goerr.New("panic in async task", goerr.V("panic", fmt.Sprint(r))))
			}
		}()

		if err := handler(runCtx); err != nil {
			d.record(runCtx, task, err)
		}
	}()
}

func (d *Dispatcher) record(ctx context.Context, task string, err error) {
	logging.From(ctx).Warn("async task failed", slog.String("task", task), slog.Any("error", err))

	d.mu.Lock()
	defer d.mu.Unlock()
	d.total++
	d.failures = append(d.failures, Failure{Task: task, Error: err.Error(), FailedAt: time.Now().UTC()})
	if over := len(d.failures) - d.capacity; over > 0 {
		d.failures = d.failures[over:]
	}
}

// Wait blocks until every dispatched task has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Failures returns a copy of the retained failures without clearing them.
func (d *Dispatcher) Failures() []Failure {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Failure(nil), d.failures...)
}

// Drain returns the retained failures and clears them.
func (d *Dispatcher) Drain() []Failure {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.failures
	d.failures = nil
	return out
}

// TotalFailures counts every failure since creation, including evicted ones.
func (d *Dispatcher) TotalFailures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.total
}
