// Package assembler builds an agent context from prioritized tiers of
// memories and messages under a single text budget.
package assembler

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/rfp-agent-memory/internal/logging"
	"github.com/rcliao/rfp-agent-memory/internal/memory"
	"github.com/rcliao/rfp-agent-memory/internal/model"
	"github.com/rcliao/rfp-agent-memory/internal/retrieval"
	"github.com/rcliao/rfp-agent-memory/internal/store"
)

// Tier names one priority level of the assembled context.
type Tier string

const (
	TierMessages   Tier = "messages"
	TierBlocks     Tier = "blocks"
	TierEpisodic   Tier = "episodic"
	TierSemantic   Tier = "semantic"
	TierProcedural Tier = "procedural"
	TierArchival   Tier = "archival"
)

// Tiers lists every tier in priority order.
var Tiers = []Tier{TierMessages, TierBlocks, TierEpisodic, TierSemantic, TierProcedural, TierArchival}

type tierSpec struct {
	tier Tier
	// minRemaining must be exceeded for the tier to run.
	minRemaining int
	limit        int
}

var tierSpecs = []tierSpec{
	{TierMessages, 1000, 10},
	{TierBlocks, 500, 5},
	{TierEpisodic, 500, 5},
	{TierSemantic, 300, 10},
	{TierProcedural, 300, 5},
	{TierArchival, 200, 3},
}

const (
	// DegradedLimit is the result size without a tracker.
	DegradedLimit = 15
	// DefaultFetchTimeout bounds each tier's source call.
	DefaultFetchTimeout = 5 * time.Second
)

// Assembler reads each tier from its source.
type Assembler struct {
	memories  *memory.Service
	retriever *retrieval.Engine
	messages  store.MessageStore
	timeout   time.Duration
}

type Option func(*Assembler)

// WithMessages sets the conversation history source. Without one the
// messages tier stays empty.
func WithMessages(ms store.MessageStore) Option {
	return func(a *Assembler) { a.messages = ms }
}

func WithFetchTimeout(d time.Duration) Option {
	return func(a *Assembler) {
		if d > 0 {
			a.timeout = d
		}
	}
}

func New(memories *memory.Service, retriever *retrieval.Engine, opts ...Option) *Assembler {
	a := &Assembler{memories: memories, retriever: retriever, timeout: DefaultFetchTimeout}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Request identifies who and what the context is for.
type Request struct {
	Query   string
	UserSub string
	RFPID   string

	// ChannelID and ThreadTS only narrow the degraded fallback scope.
	ChannelID string
	ThreadTS  string
}

// Result is the assembled context.
type Result struct {
	Text     string       `json:"text"`
	Counts   map[Tier]int `json:"counts"`
	Included int          `json:"included"`
	// Degraded is set when no tracker was supplied.
	Degraded bool `json:"degraded,omitempty"`
}

// Build fills the context tier by tier. A tier runs only while the tracker's
// remaining budget exceeds its threshold, and stops at the first item that
// does not fit. A source failure leaves its tier empty. With a nil tracker
// Build returns an unbounded top-15 retrieval instead.
func (a *Assembler) Build(ctx context.Context, tracker Tracker, req Request) (*Result, error) {
	if req.UserSub == "" && req.RFPID == "" {
		return nil, goerr.Wrap(model.ErrValidation, "userSub or rfpId is required")
	}
	if tracker == nil {
		return a.degraded(ctx, req)
	}

	res := &Result{Counts: make(map[Tier]int, len(Tiers))}
	for _, t := range Tiers {
		res.Counts[t] = 0
	}
	var b strings.Builder

	for _, spec := range tierSpecs {
		if tracker.Remaining() <= spec.minRemaining {
			continue
		}
		lines, err := a.fetch(ctx, spec, req)
		if err != nil {
			logging.From(ctx).Warn("context tier unavailable",
				slog.String("tier", string(spec.tier)), slog.Any("error", err))
			continue
		}
		for _, line := range lines {
			entry := line + "\n"
			if !tracker.CanAdd(entry) {
				break
			}
			tracker.RecordUsage(entry, "")
			b.WriteString(entry)
			res.Counts[spec.tier]++
			res.Included++
		}
	}

	res.Text = strings.TrimSuffix(b.String(), "\n")
	return res, nil
}

func (a *Assembler) fetch(ctx context.Context, spec tierSpec, req Request) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	switch spec.tier {
	case TierMessages:
		if a.messages == nil || req.UserSub == "" {
			return nil, nil
		}
		msgs, err := a.messages.RecentMessages(ctx, req.UserSub, spec.limit)
		if err != nil {
			return nil, err
		}
		lines := make([]string, 0, len(msgs))
		for _, m := range msgs {
			lines = append(lines, RenderMessage(m))
		}
		return lines, nil

	case TierBlocks:
		var lines []string
		for _, scopeID := range req.primaryScopes() {
			blocks, err := a.memories.ListBlocks(ctx, scopeID, spec.limit-len(lines))
			if err != nil {
				return nil, err
			}
			for _, m := range blocks {
				lines = append(lines, RenderBlock(m))
			}
			if len(lines) >= spec.limit {
				break
			}
		}
		return lines, nil

	case TierEpisodic:
		return a.retrieve(ctx, retrieval.Request{
			ScopeIDs:    req.primaryScopes()[:1],
			MemoryTypes: []model.MemoryType{model.MemoryEpisodic},
			Query:       req.Query,
			Limit:       spec.limit,
			Threshold:   req.threshold(),
		})

	case TierSemantic, TierProcedural:
		if req.UserSub == "" {
			return nil, nil
		}
		t := model.MemorySemantic
		if spec.tier == TierProcedural {
			t = model.MemoryProcedural
		}
		zero := 0.0
		return a.retrieve(ctx, retrieval.Request{
			ScopeIDs:    []string{model.UserScope(req.UserSub).String()},
			MemoryTypes: []model.MemoryType{t},
			Query:       req.Query,
			Limit:       spec.limit,
			Threshold:   &zero,
		})

	case TierArchival:
		return a.retrieve(ctx, retrieval.Request{
			ScopeIDs:  req.primaryScopes(),
			Query:     req.Query,
			Limit:     spec.limit,
			Threshold: req.threshold(),
			Archival:  true,
		})
	}
	return nil, nil
}

func (a *Assembler) retrieve(ctx context.Context, r retrieval.Request) ([]string, error) {
	results, err := a.retriever.Retrieve(ctx, r)
	if err != nil {
		return nil, err
	}
	lines := make([]string, 0, len(results))
	for _, res := range results {
		lines = append(lines, RenderMemory(res.Memory))
	}
	return lines, nil
}

func (a *Assembler) degraded(ctx context.Context, req Request) (*Result, error) {
	res := &Result{Counts: make(map[Tier]int, len(Tiers)), Degraded: true}
	for _, t := range Tiers {
		res.Counts[t] = 0
	}
	results, err := a.retriever.Retrieve(ctx, retrieval.Request{
		ScopeIDs:  []string{req.fallbackScope()},
		Query:     req.Query,
		Limit:     DegradedLimit,
		Threshold: req.threshold(),
	})
	if err != nil {
		return nil, err
	}
	lines := make([]string, 0, len(results))
	for _, r := range results {
		lines = append(lines, RenderMemory(r.Memory))
	}
	res.Text = strings.Join(lines, "\n")
	res.Included = len(lines)
	return res, nil
}

// primaryScopes is the RFP scope, then the user scope, whichever are set.
func (r Request) primaryScopes() []string {
	var out []string
	if r.RFPID != "" {
		out = append(out, model.RFPScope(r.RFPID).String())
	}
	if r.UserSub != "" {
		out = append(out, model.UserScope(r.UserSub).String())
	}
	return out
}

// fallbackScope is the most specific scope the request names.
func (r Request) fallbackScope() string {
	switch {
	case r.ChannelID != "" && r.ThreadTS != "":
		return model.ThreadScope(r.ChannelID, r.ThreadTS).String()
	case r.ChannelID != "":
		return model.ChannelScope(r.ChannelID).String()
	}
	return r.primaryScopes()[0]
}

// threshold is zero for an empty query so recent memories still qualify.
// Otherwise the retriever's configured threshold applies.
func (r Request) threshold() *float64 {
	if strings.TrimSpace(r.Query) != "" {
		return nil
	}
	zero := 0.0
	return &zero
}
