package engine

import (
	"context"
	"log/slog"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/rfp-agent-memory/internal/assembler"
	"github.com/rcliao/rfp-agent-memory/internal/index"
	"github.com/rcliao/rfp-agent-memory/internal/logging"
	"github.com/rcliao/rfp-agent-memory/internal/model"
	"github.com/rcliao/rfp-agent-memory/internal/retrieval"
	"github.com/rcliao/rfp-agent-memory/internal/scope"
)

// Target names where to look. ScopeID wins; otherwise the user, rfp and
// tenant ids are expanded into related scopes.
type Target struct {
	ScopeID  string
	UserSub  string
	RFPID    string
	TenantID string
	Hints    scope.Hints
}

func (e *Engine) scopes(t Target) ([]string, error) {
	if t.ScopeID != "" {
		sc, err := model.ParseScope(t.ScopeID)
		if err != nil {
			return nil, err
		}
		return []string{sc.String()}, nil
	}
	if t.UserSub == "" && t.RFPID == "" && t.TenantID == "" {
		return nil, goerr.Wrap(model.ErrValidation, "scopeId, userSub, rfpId or tenantId is required")
	}
	return e.ExpandScopes(scope.Input{
		RFPID:    t.RFPID,
		UserSub:  t.UserSub,
		TenantID: t.TenantID,
		Hints:    t.Hints,
	})
}

// SearchRequest is a ranked lookup.
type SearchRequest struct {
	Target
	Query       string
	MemoryTypes []model.MemoryType
	Limit       int
	Threshold   *float64
	Archival    bool
}

// Search ranks memories of the target scopes against the query and records
// an access on every result.
func (e *Engine) Search(ctx context.Context, req SearchRequest) ([]retrieval.Result, error) {
	scopeIDs, err := e.scopes(req.Target)
	if err != nil {
		return nil, err
	}
	results, err := e.retriever.Retrieve(ctx, retrieval.Request{
		ScopeIDs:    scopeIDs,
		MemoryTypes: req.MemoryTypes,
		Query:       req.Query,
		Limit:       req.Limit,
		Threshold:   req.Threshold,
		Archival:    req.Archival,
	})
	if err != nil {
		return nil, err
	}
	e.touch(ctx, results)
	return results, nil
}

// ContextRequest asks for a flat, size-bounded context.
type ContextRequest struct {
	Target
	Query    string
	Limit    int
	MaxChars int
}

// ContextResult holds the included memories and their rendering.
type ContextResult struct {
	Memories []*model.Memory `json:"memories"`
	Text     string          `json:"text"`
}

const DefaultContextChars = 4000

// GetContext retrieves up to Limit memories and renders them in rank order
// until MaxChars is reached. Without a query every memory qualifies, newest
// first.
func (e *Engine) GetContext(ctx context.Context, req ContextRequest) (*ContextResult, error) {
	scopeIDs, err := e.scopes(req.Target)
	if err != nil {
		return nil, err
	}
	var threshold *float64
	if req.Query == "" {
		zero := 0.0
		threshold = &zero
	}
	results, err := e.retriever.Retrieve(ctx, retrieval.Request{
		ScopeIDs:  scopeIDs,
		Query:     req.Query,
		Limit:     req.Limit,
		Threshold: threshold,
	})
	if err != nil {
		return nil, err
	}

	maxChars := req.MaxChars
	if maxChars <= 0 {
		maxChars = DefaultContextChars
	}
	tracker := assembler.NewCharTracker(maxChars)
	out := &ContextResult{Memories: []*model.Memory{}}
	var lines []string
	for _, r := range results {
		line := assembler.RenderMemory(r.Memory)
		entry := line + "\n"
		if !tracker.CanAdd(entry) {
			break
		}
		tracker.RecordUsage(entry, "")
		lines = append(lines, line)
		out.Memories = append(out.Memories, r.Memory)
	}
	out.Text = strings.Join(lines, "\n")
	e.touch(ctx, results[:len(out.Memories)])
	return out, nil
}

// HierarchicalRequest is the input of BuildHierarchicalContext.
type HierarchicalRequest struct {
	Query     string
	UserSub   string
	RFPID     string
	ChannelID string
	ThreadTS  string
}

// BuildHierarchicalContext fills tiers of context under tracker. A nil
// tracker falls back to an unbounded top-15 retrieval.
func (e *Engine) BuildHierarchicalContext(ctx context.Context, tracker assembler.Tracker, req HierarchicalRequest) (*assembler.Result, error) {
	return e.assembler.Build(ctx, tracker, assembler.Request{
		Query:     req.Query,
		UserSub:   req.UserSub,
		RFPID:     req.RFPID,
		ChannelID: req.ChannelID,
		ThreadTS:  req.ThreadTS,
	})
}

// FullTextResult is an index hit resolved to its memory.
type FullTextResult struct {
	Memory  *model.Memory `json:"memory"`
	Snippet string        `json:"snippet"`
	Rank    float64       `json:"rank"`
}

// FullTextSearch queries the secondary index and loads each hit. Hits whose
// memory no longer exists are dropped.
func (e *Engine) FullTextSearch(ctx context.Context, t Target, query string, limit int) ([]FullTextResult, error) {
	if e.fulltext == nil {
		return nil, goerr.New("full-text index is not configured")
	}
	var scopeIDs []string
	if t.ScopeID != "" || t.UserSub != "" || t.RFPID != "" || t.TenantID != "" {
		ids, err := e.scopes(t)
		if err != nil {
			return nil, err
		}
		scopeIDs = ids
	}
	hits, err := e.fulltext.Search(ctx, index.Query{Text: query, ScopeIDs: scopeIDs, Limit: limit})
	if err != nil {
		return nil, err
	}
	out := make([]FullTextResult, 0, len(hits))
	for _, h := range hits {
		m, err := e.memories.Lookup(ctx, h.Key)
		if err != nil {
			return nil, err
		}
		if m == nil {
			logging.From(ctx).Debug("dropping stale index hit", slog.String("memoryId", h.Key.MemoryID))
			continue
		}
		out = append(out, FullTextResult{Memory: m, Snippet: h.Snippet, Rank: h.Rank})
	}
	return out, nil
}

func (e *Engine) touch(ctx context.Context, results []retrieval.Result) {
	if len(results) == 0 {
		return
	}
	keys := make([]model.Key, 0, len(results))
	for _, r := range results {
		keys = append(keys, r.Memory.Key())
	}
	e.memories.Touch(ctx, keys...)
}

// FindSimilar ranks memories of one scope against content.
func (e *Engine) FindSimilar(ctx context.Context, scopeID, content string, memoryType model.MemoryType, threshold float64, limit int) ([]retrieval.Result, error) {
	return e.retriever.FindSimilar(ctx, scopeID, content, memoryType, threshold, limit)
}

// FindToUpdate returns the best match at or above the update threshold, or
// nil when content should be stored as a new memory.
func (e *Engine) FindToUpdate(ctx context.Context, scopeID, content string, memoryType model.MemoryType) (*retrieval.Result, error) {
	return e.retriever.FindToUpdate(ctx, scopeID, content, memoryType)
}
