// Package retrieval ranks stored memories against a query by lexical
// similarity across one or more scopes.
package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/rfp-agent-memory/internal/logging"
	"github.com/rcliao/rfp-agent-memory/internal/model"
	"github.com/rcliao/rfp-agent-memory/internal/similarity"
	"github.com/rcliao/rfp-agent-memory/internal/store"
)

// Config holds the ranking knobs.
type Config struct {
	Weights similarity.Weights
	// Threshold is the default minimum score of a search.
	Threshold float64
	// UpdateThreshold is the minimum score of FindToUpdate.
	UpdateThreshold float64
	// Overfetch multiplies the limit when reading candidates.
	Overfetch int
	// ScopeTimeout bounds the candidate fetch of each scope.
	ScopeTimeout time.Duration
	// Parallelism caps concurrent scope fetches.
	Parallelism int
	// MaxScan bounds how many items one scope query reads while looking
	// for candidates of the requested class.
	MaxScan int
}

func DefaultConfig() Config {
	return Config{
		Weights:         similarity.DefaultWeights(),
		Threshold:       0.3,
		UpdateThreshold: 0.7,
		Overfetch:       3,
		ScopeTimeout:    5 * time.Second,
		Parallelism:     8,
		MaxScan:         500,
	}
}

const DefaultLimit = 10

// Request is one retrieval.
type Request struct {
	ScopeIDs []string
	// MemoryTypes restricts candidates when non-empty.
	MemoryTypes []model.MemoryType
	Query       string
	Limit       int
	// Threshold overrides Config.Threshold when set.
	Threshold *float64
	// Archival selects only compressed memories. Otherwise compressed
	// memories are excluded.
	Archival bool
}

// Result is a scored memory.
type Result struct {
	Memory *model.Memory `json:"memory"`
	Score  float64       `json:"score"`
}

// Engine retrieves and ranks memories.
type Engine struct {
	store store.Store
	cfg   Config
}

func New(st store.Store, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.Overfetch <= 0 {
		cfg.Overfetch = def.Overfetch
	}
	if cfg.ScopeTimeout <= 0 {
		cfg.ScopeTimeout = def.ScopeTimeout
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = def.Parallelism
	}
	if cfg.MaxScan <= 0 {
		cfg.MaxScan = def.MaxScan
	}
	if cfg.Weights == (similarity.Weights{}) {
		cfg.Weights = def.Weights
	}
	return &Engine{store: st, cfg: cfg}
}

func (e *Engine) Config() Config { return e.cfg }

// Retrieve scores candidates of every requested scope and returns the best
// Limit at or above the threshold, ordered by score then by createdAt, newest
// first. Scopes are fetched concurrently; a scope that fails is logged and
// skipped unless every scope fails.
func (e *Engine) Retrieve(ctx context.Context, req Request) ([]Result, error) {
	if len(req.ScopeIDs) == 0 {
		return nil, goerr.Wrap(model.ErrValidation, "at least one scope is required")
	}
	for _, t := range req.MemoryTypes {
		if !t.Valid() {
			return nil, goerr.Wrap(model.ErrValidation, "unknown memory type", goerr.V("type", t))
		}
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	threshold := e.cfg.Threshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	candidates, err := e.fetch(ctx, req.ScopeIDs, req.MemoryTypes, req.Archival, limit*e.cfg.Overfetch)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(candidates))
	for _, m := range candidates {
		score := similarity.Score(e.cfg.Weights, req.Query, m)
		if score < threshold {
			continue
		}
		results = append(results, Result{Memory: m, Score: score})
	}
	Sort(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Sort orders results by score, then createdAt descending, then memoryId so
// equal inputs always rank the same.
func Sort(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Memory.CreatedAt.Equal(b.Memory.CreatedAt) {
			return a.Memory.CreatedAt.After(b.Memory.CreatedAt)
		}
		return a.Memory.MemoryID < b.Memory.MemoryID
	})
}

// FindSimilar returns memories of one scope scoring at least threshold
// against content.
func (e *Engine) FindSimilar(ctx context.Context, scopeID, content string, memoryType model.MemoryType, threshold float64, limit int) ([]Result, error) {
	req := Request{ScopeIDs: []string{scopeID}, Query: content, Limit: limit, Threshold: &threshold}
	if memoryType != "" {
		req.MemoryTypes = []model.MemoryType{memoryType}
	}
	return e.Retrieve(ctx, req)
}

// FindToUpdate returns the single best match at or above UpdateThreshold, or
// nil when content should become a new memory.
func (e *Engine) FindToUpdate(ctx context.Context, scopeID, content string, memoryType model.MemoryType) (*Result, error) {
	results, err := e.FindSimilar(ctx, scopeID, content, memoryType, e.cfg.UpdateThreshold, 1)
	if err != nil || len(results) == 0 {
		return nil, err
	}
	return &results[0], nil
}

func (e *Engine) fetch(ctx context.Context, scopeIDs []string, types []model.MemoryType, archival bool, perQuery int) ([]*model.Memory, error) {
	var (
		mu       sync.Mutex
		seen     = map[string]bool{}
		out      []*model.Memory
		failures int
		lastErr  error
	)

	scopes := dedupeScopes(scopeIDs)
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(e.cfg.Parallelism)
	for _, scopeID := range scopes {
		eg.Go(func() error {
			items, err := e.fetchScope(ctx, scopeID, types, archival, perQuery)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				lastErr = err
				logging.From(ctx).Warn("scope fetch failed, skipping",
					slog.String("scope", scopeID), slog.Any("error", err))
				return nil
			}
			for _, m := range items {
				if seen[m.MemoryID] {
					continue
				}
				seen[m.MemoryID] = true
				out = append(out, m)
			}
			return nil
		})
	}
	_ = eg.Wait()

	if failures > 0 && failures == len(scopes) {
		return nil, goerr.Wrap(lastErr, "every scope fetch failed", goerr.V("scopes", scopeIDs))
	}
	return out, nil
}

func (e *Engine) fetchScope(ctx context.Context, scopeID string, types []model.MemoryType, archival bool, perQuery int) ([]*model.Memory, error) {
	scope, err := model.ParseScope(scopeID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ScopeTimeout)
	defer cancel()

	if len(types) == 0 {
		return e.collect(archival, perQuery, func(token string, limit int) (*store.Page, error) {
			return e.store.QueryIndex(ctx, store.IndexQueryParams{
				Index:        store.IndexByCreation,
				PartitionKey: scope.String(),
				Limit:        limit,
				PageToken:    token,
			})
		})
	}

	var items []*model.Memory
	for _, t := range types {
		found, err := e.collect(archival, perQuery, func(token string, limit int) (*store.Page, error) {
			return e.store.Query(ctx, store.QueryParams{
				PartitionKey:  scope.String(),
				SortKeyPrefix: store.TypePrefix(t),
				Limit:         limit,
				PageToken:     token,
			})
		})
		if err != nil {
			return nil, err
		}
		items = append(items, found...)
	}
	return items, nil
}

// collect pages newest first until want items with Compressed == archival
// are gathered or MaxScan items have been read.
func (e *Engine) collect(archival bool, want int, next func(token string, limit int) (*store.Page, error)) ([]*model.Memory, error) {
	pageSize := max(want, store.DefaultLimit)
	var (
		out     []*model.Memory
		token   string
		scanned int
	)
	for len(out) < want && scanned < e.cfg.MaxScan {
		page, err := next(token, min(pageSize, e.cfg.MaxScan-scanned))
		if err != nil {
			return nil, err
		}
		scanned += len(page.Items)
		for _, m := range page.Items {
			if m.Compressed != archival {
				continue
			}
			out = append(out, m)
			if len(out) == want {
				break
			}
		}
		if page.NextToken == "" || len(page.Items) == 0 {
			break
		}
		token = page.NextToken
	}
	return out, nil
}

func dedupeScopes(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
