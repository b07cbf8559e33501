// Package diagnostics aggregates operational data from independent sources
// into a cached report that degrades per source instead of failing.
package diagnostics

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/rfp-agent-memory/internal/async"
	"github.com/rcliao/rfp-agent-memory/internal/logging"
	"github.com/rcliao/rfp-agent-memory/internal/memory"
	"github.com/rcliao/rfp-agent-memory/internal/model"
)

// Status is the outcome of one data source.
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// DegradedMessage is shown when any source failed.
const DegradedMessage = "results may be incomplete"

const (
	DefaultWindowHours   = 24
	DefaultSourceTimeout = 10 * time.Second
)

// Query selects the window and filters of a report.
type Query struct {
	WindowHours int    `json:"windowHours"`
	UserSub     string `json:"userSub,omitempty"`
	RFPID       string `json:"rfpId,omitempty"`
	ChannelID   string `json:"channelId,omitempty"`
}

func (q Query) key() Key {
	return Key{WindowHours: q.WindowHours, UserSub: q.UserSub, RFPID: q.RFPID, ChannelID: q.ChannelID}
}

// Since is the start of the window relative to now.
func (q Query) Since(now time.Time) time.Time {
	return now.Add(-time.Duration(q.WindowHours) * time.Hour)
}

// Source supplies one section of a report.
type Source interface {
	Name() string
	Collect(ctx context.Context, q Query) (any, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc struct {
	SourceName string
	Fn         func(ctx context.Context, q Query) (any, error)
}

func (s SourceFunc) Name() string { return s.SourceName }

func (s SourceFunc) Collect(ctx context.Context, q Query) (any, error) {
	return s.Fn(ctx, q)
}

// Report is the aggregate of every source.
type Report struct {
	GeneratedAt      time.Time         `json:"generatedAt"`
	Query            Query             `json:"query"`
	Data             map[string]any    `json:"data"`
	DataSourceStatus map[string]Status `json:"dataSourceStatus"`
	Errors           map[string]string `json:"errors,omitempty"`
}

// Degraded reports whether any source failed.
func (r *Report) Degraded() bool {
	for _, s := range r.DataSourceStatus {
		if s == StatusFailed {
			return true
		}
	}
	return false
}

// Message is the user facing note for a degraded report, or "".
func (r *Report) Message() string {
	if r.Degraded() {
		return DegradedMessage
	}
	return ""
}

// FailedSources lists failed source names in order.
func (r *Report) FailedSources() []string {
	var out []string
	for name, s := range r.DataSourceStatus {
		if s == StatusFailed {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Aggregator runs sources concurrently and caches reports.
type Aggregator struct {
	sources    []Source
	cache      *Cache
	timeout    time.Duration
	now        func() time.Time
	persist    *memory.Service
	dispatcher *async.Dispatcher
}

type Option func(*Aggregator)

func WithCache(c *Cache) Option {
	return func(a *Aggregator) { a.cache = c }
}

// WithSourceTimeout bounds each source individually.
func WithSourceTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithPersistence stores each fresh report as a DIAGNOSTICS memory in the
// GLOBAL scope, in the background.
func WithPersistence(svc *memory.Service) Option {
	return func(a *Aggregator) {
		a.persist = svc
		a.dispatcher = svc.Dispatcher()
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

func New(sources []Source, opts ...Option) *Aggregator {
	a := &Aggregator{
		sources: sources,
		cache:   NewCache(DefaultTTL, DefaultMaxEntries),
		timeout: DefaultSourceTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Collect returns the cached report for q if fresh, otherwise aggregates a
// new one. A failing source yields a nil section and a failed status.
func (a *Aggregator) Collect(ctx context.Context, q Query) (*Report, error) {
	if q.WindowHours <= 0 {
		q.WindowHours = DefaultWindowHours
	}
	report, hit, err := a.cache.GetOrCompute(ctx, q.key(), func(ctx context.Context) (*Report, error) {
		return a.aggregate(ctx, q)
	})
	if err != nil {
		return nil, err
	}
	if !hit {
		a.persistAsync(ctx, report)
	}
	return report, nil
}

func (a *Aggregator) aggregate(ctx context.Context, q Query) (*Report, error) {
	if len(a.sources) == 0 {
		return nil, goerr.New("no diagnostics sources configured")
	}
	report := &Report{
		GeneratedAt:      a.now().UTC(),
		Query:            q,
		Data:             make(map[string]any, len(a.sources)),
		DataSourceStatus: make(map[string]Status, len(a.sources)),
	}

	var mu sync.Mutex
	var eg errgroup.Group
	for _, src := range a.sources {
		eg.Go(func() error {
			sctx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()
			data, err := src.Collect(sctx, q)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logging.From(ctx).Warn("diagnostics source failed",
					slog.String("source", src.Name()), slog.Any("error", err))
				report.Data[src.Name()] = nil
				report.DataSourceStatus[src.Name()] = StatusFailed
				if report.Errors == nil {
					report.Errors = map[string]string{}
				}
				report.Errors[src.Name()] = err.Error()
				return nil
			}
			report.Data[src.Name()] = data
			report.DataSourceStatus[src.Name()] = StatusOK
			return nil
		})
	}
	_ = eg.Wait()
	return report, nil
}

func (a *Aggregator) persistAsync(ctx context.Context, r *Report) {
	if a.persist == nil {
		return
	}
	summary := "diagnostics report"
	if r.Degraded() {
		summary += " (" + DegradedMessage + ")"
	}
	a.dispatcher.Dispatch(ctx, "persist diagnostics", func(ctx context.Context) error {
		_, err := a.persist.StoreDiagnostics(ctx, model.GlobalScope.String(), summary, r)
		return err
	})
}
