package consolidation

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/rfp-agent-memory/internal/logging"
	"github.com/rcliao/rfp-agent-memory/internal/memory"
	"github.com/rcliao/rfp-agent-memory/internal/model"
	"github.com/rcliao/rfp-agent-memory/internal/store"
)

const (
	// DefaultBatchSize is the page size of consolidation scans.
	DefaultBatchSize = 100
	// DefaultMaxScan bounds the memories one Run or selection examines.
	DefaultMaxScan = 1000
)

// Compactor selects and compacts low-importance memories.
type Compactor struct {
	svc     *memory.Service
	weights Weights
	policy  Policy
	now     func() time.Time

	batchSize int
	maxScan   int
}

type Option func(*Compactor)

func WithWeights(w Weights) Option {
	return func(c *Compactor) { c.weights = w }
}

func WithPolicy(p Policy) Option {
	return func(c *Compactor) { c.policy = p }
}

func WithClock(now func() time.Time) Option {
	return func(c *Compactor) { c.now = now }
}

// WithBatch sets the scan page size and the total scan bound.
func WithBatch(size, maxScan int) Option {
	return func(c *Compactor) {
		if size > 0 {
			c.batchSize = size
		}
		if maxScan > 0 {
			c.maxScan = maxScan
		}
	}
}

func New(svc *memory.Service, opts ...Option) *Compactor {
	c := &Compactor{
		svc:       svc,
		weights:   DefaultWeights(),
		policy:    DefaultPolicy(),
		now:       time.Now,
		batchSize: DefaultBatchSize,
		maxScan:   DefaultMaxScan,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Importance scores m at the current time.
func (c *Compactor) Importance(m *model.Memory) float64 {
	return Importance(c.weights, m, c.now())
}

// ShouldCompress reports whether m is eligible under s.
func (c *Compactor) ShouldCompress(s Settings, m *model.Memory) bool {
	return ShouldCompress(c.weights, s, m, c.now())
}

// ShouldCompress is false for compressed memories, memories younger than
// the age threshold, frequently accessed memories and important ones.
func ShouldCompress(w Weights, s Settings, m *model.Memory, now time.Time) bool {
	if m.Compressed {
		return false
	}
	if now.Sub(m.CreatedAt) < time.Duration(s.AgeThresholdDays)*day {
		return false
	}
	if m.AccessCount > s.AccessCountThreshold {
		return false
	}
	if Importance(w, m, now) > s.ImportanceThreshold {
		return false
	}
	return true
}

// SelectQuery bounds a candidate selection.
type SelectQuery struct {
	ScopeID string
	// MemoryType restricts candidates when set.
	MemoryType     model.MemoryType
	DaysOld        int
	MinAccessCount int
	Limit          int
}

// Candidate is a memory with its importance at selection time.
type Candidate struct {
	Memory     *model.Memory `json:"memory"`
	Importance float64       `json:"importance"`
}

// selectionImportance is the fixed ceiling of SelectForConsolidation.
const selectionImportance = 0.3

// SelectForConsolidation returns memories older than DaysOld, accessed
// fewer than MinAccessCount times and scoring below 0.3, least important
// first.
func (c *Compactor) SelectForConsolidation(ctx context.Context, q SelectQuery) ([]Candidate, error) {
	if q.MemoryType != "" && !q.MemoryType.Valid() {
		return nil, goerr.Wrap(model.ErrValidation, "unknown memory type", goerr.V("type", q.MemoryType))
	}
	now := c.now()
	cutoff := now.Add(-time.Duration(q.DaysOld) * day)

	var out []Candidate
	err := c.scanOlderThan(ctx, q.ScopeID, q.MemoryType, cutoff, func(m *model.Memory) {
		if m.Compressed || m.AccessCount >= q.MinAccessCount {
			return
		}
		if imp := Importance(c.weights, m, now); imp < selectionImportance {
			out = append(out, Candidate{Memory: m, Importance: imp})
		}
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Importance < out[j].Importance })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Report summarizes one compaction run.
type Report struct {
	ScopeID    string   `json:"scopeId"`
	Strategy   Strategy `json:"strategy"`
	Disabled   bool     `json:"disabled,omitempty"`
	Scanned    int      `json:"scanned"`
	Compressed int      `json:"compressed"`
	Skipped    int      `json:"skipped"`
	Failed     int      `json:"failed"`
}

// Run compacts eligible memories of scopeID with the scope's resolved
// settings. Memory blocks are never compacted. A failed write is logged and
// counted; it does not stop the run.
func (c *Compactor) Run(ctx context.Context, scopeID string) (*Report, error) {
	sc, err := model.ParseScope(scopeID)
	if err != nil {
		return nil, err
	}
	settings := c.policy.Resolve(sc.String())
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	report := &Report{ScopeID: sc.String(), Strategy: settings.Strategy}
	if !settings.Enabled {
		report.Disabled = true
		return report, nil
	}

	now := c.now()
	cutoff := now.Add(-time.Duration(settings.AgeThresholdDays) * day)
	var eligible []model.Key
	err = c.scanOlderThan(ctx, sc.String(), "", cutoff, func(m *model.Memory) {
		report.Scanned++
		if m.MemoryType == model.MemoryBlock || !ShouldCompress(c.weights, settings, m, now) {
			report.Skipped++
			return
		}
		eligible = append(eligible, m.Key())
	})
	if err != nil {
		return nil, err
	}

	summarize := settings.Strategy == StrategySummarize
	for _, key := range eligible {
		if _, err := c.svc.Compress(ctx, key, summarize); err != nil {
			report.Failed++
			logging.From(ctx).Warn("failed to compress memory",
				slog.String("memoryId", key.MemoryID), slog.Any("error", err))
			continue
		}
		report.Compressed++
	}

	logging.From(ctx).Info("consolidation finished",
		slog.String("scope", report.ScopeID),
		slog.Int("scanned", report.Scanned),
		slog.Int("compressed", report.Compressed))
	return report, nil
}

// scanOlderThan visits memories created before cutoff, oldest first, in
// bounded pages up to maxScan items.
func (c *Compactor) scanOlderThan(ctx context.Context, scopeID string, t model.MemoryType, cutoff time.Time, fn func(*model.Memory)) error {
	sc, err := model.ParseScope(scopeID)
	if err != nil {
		return err
	}
	st := c.svc.Store()
	token := ""
	seen := 0
	for {
		var page *store.Page
		if t != "" {
			page, err = st.Query(ctx, store.QueryParams{
				PartitionKey:  sc.String(),
				SortKeyPrefix: store.TypePrefix(t),
				Limit:         c.batchSize,
				PageToken:     token,
				ScanForward:   true,
			})
		} else {
			page, err = st.QueryIndex(ctx, store.IndexQueryParams{
				Index:        store.IndexByCreation,
				PartitionKey: sc.String(),
				Limit:        c.batchSize,
				PageToken:    token,
				ScanForward:  true,
			})
		}
		if err != nil {
			return goerr.Wrap(err, "consolidation scan failed", goerr.V("scope", sc.String()))
		}
		for _, m := range page.Items {
			if !m.CreatedAt.Before(cutoff) {
				return nil
			}
			fn(m)
			if seen++; seen >= c.maxScan {
				return nil
			}
		}
		if page.NextToken == "" {
			return nil
		}
		token = page.NextToken
	}
}
