// Package engine is the entry point the agent layer calls: typed writes,
// memory blocks, scoped search, context assembly, relationships,
// consolidation and diagnostics over one memory service.
package engine

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/rfp-agent-memory/internal/assembler"
	"github.com/rcliao/rfp-agent-memory/internal/consolidation"
	"github.com/rcliao/rfp-agent-memory/internal/diagnostics"
	"github.com/rcliao/rfp-agent-memory/internal/index"
	"github.com/rcliao/rfp-agent-memory/internal/memory"
	"github.com/rcliao/rfp-agent-memory/internal/model"
	"github.com/rcliao/rfp-agent-memory/internal/retrieval"
	"github.com/rcliao/rfp-agent-memory/internal/scope"
	"github.com/rcliao/rfp-agent-memory/internal/store"
	"github.com/rcliao/rfp-agent-memory/internal/trust"
)

// Config collects the tunables of every component.
type Config struct {
	Retrieval             retrieval.Config
	Importance            consolidation.Weights
	Consolidation         consolidation.Policy
	DiagnosticsTTL        time.Duration
	DiagnosticsMaxEntries int
	SourceTimeout         time.Duration
	FetchTimeout          time.Duration
}

func DefaultConfig() Config {
	return Config{
		Retrieval:             retrieval.DefaultConfig(),
		Importance:            consolidation.DefaultWeights(),
		Consolidation:         consolidation.DefaultPolicy(),
		DiagnosticsTTL:        diagnostics.DefaultTTL,
		DiagnosticsMaxEntries: diagnostics.DefaultMaxEntries,
		SourceTimeout:         diagnostics.DefaultSourceTimeout,
		FetchTimeout:          assembler.DefaultFetchTimeout,
	}
}

// FullText answers keyword queries from the secondary index.
type FullText interface {
	Search(ctx context.Context, q index.Query) ([]index.Hit, error)
}

// Engine wires the memory components together.
type Engine struct {
	memories    *memory.Service
	retriever   *retrieval.Engine
	assembler   *assembler.Assembler
	compactor   *consolidation.Compactor
	diagnostics *diagnostics.Aggregator
	trust       *trust.Scorer

	messages store.MessageStore
	fulltext FullText
	hints    scope.Hints
}

type Option func(*options)

type options struct {
	messages      store.MessageStore
	fulltext      FullText
	hints         scope.Hints
	signals       trust.Signals
	extraSources  []diagnostics.Source
	now           func() time.Time
	persistReport bool
}

// WithMessages enables conversation history.
func WithMessages(ms store.MessageStore) Option {
	return func(o *options) { o.messages = ms }
}

// WithFullText enables index-backed keyword search.
func WithFullText(ft FullText) Option {
	return func(o *options) { o.fulltext = ft }
}

// WithHints sets the default relationship hints used by scope expansion.
func WithHints(h scope.Hints) Option {
	return func(o *options) { o.hints = h }
}

// WithTrustSignals sets the per-user credibility lookup used by trust
// weighting. Without it only source and completeness count.
func WithTrustSignals(s trust.Signals) Option {
	return func(o *options) { o.signals = s }
}

// WithDiagnosticsSources registers sources beyond the built-in ones.
func WithDiagnosticsSources(sources ...diagnostics.Source) Option {
	return func(o *options) { o.extraSources = append(o.extraSources, sources...) }
}

// WithoutReportPersistence keeps diagnostics reports out of the store.
func WithoutReportPersistence() Option {
	return func(o *options) { o.persistReport = false }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func New(svc *memory.Service, cfg Config, opts ...Option) *Engine {
	o := &options{now: time.Now, persistReport: true}
	for _, opt := range opts {
		opt(o)
	}

	retriever := retrieval.New(svc.Store(), cfg.Retrieval)

	asmOpts := []assembler.Option{assembler.WithFetchTimeout(cfg.FetchTimeout)}
	if o.messages != nil {
		asmOpts = append(asmOpts, assembler.WithMessages(o.messages))
	}

	sources := append([]diagnostics.Source{
		diagnostics.MetricsSource(svc.Store(), o.now),
		diagnostics.ErrorsSource(svc.Store(), o.now),
		diagnostics.IndexingSource(svc.Dispatcher()),
	}, o.extraSources...)
	diagOpts := []diagnostics.Option{
		diagnostics.WithCache(diagnostics.NewCache(cfg.DiagnosticsTTL, cfg.DiagnosticsMaxEntries)),
		diagnostics.WithSourceTimeout(cfg.SourceTimeout),
		diagnostics.WithClock(o.now),
	}
	if o.persistReport {
		diagOpts = append(diagOpts, diagnostics.WithPersistence(svc))
	}

	return &Engine{
		memories:  svc,
		retriever: retriever,
		assembler: assembler.New(svc, retriever, asmOpts...),
		compactor: consolidation.New(svc,
			consolidation.WithWeights(cfg.Importance),
			consolidation.WithPolicy(cfg.Consolidation),
			consolidation.WithClock(o.now)),
		diagnostics: diagnostics.New(sources, diagOpts...),
		trust:       trust.NewScorer(o.signals),
		messages:    o.messages,
		fulltext:    o.fulltext,
		hints:       o.hints,
	}
}

// Memories returns the underlying memory service.
func (e *Engine) Memories() *memory.Service { return e.memories }

func (e *Engine) StoreEpisodic(ctx context.Context, in memory.EpisodicInput) (*model.Memory, error) {
	return e.memories.StoreEpisodic(ctx, in)
}

func (e *Engine) StoreSemantic(ctx context.Context, in memory.SemanticInput) (*model.Memory, error) {
	return e.memories.StoreSemantic(ctx, in)
}

func (e *Engine) StoreProcedural(ctx context.Context, in memory.ProceduralInput) (*model.Memory, error) {
	return e.memories.StoreProcedural(ctx, in)
}

func (e *Engine) CreateBlock(ctx context.Context, in memory.BlockInput) (*model.Memory, error) {
	return e.memories.CreateBlock(ctx, in)
}

func (e *Engine) GetBlock(ctx context.Context, scopeID, blockID string) (*model.Memory, error) {
	return e.memories.GetBlock(ctx, scopeID, blockID)
}

func (e *Engine) UpdateBlock(ctx context.Context, scopeID, blockID string, in memory.BlockUpdate) (*model.Memory, error) {
	return e.memories.UpdateBlock(ctx, scopeID, blockID, in)
}

func (e *Engine) ListBlocks(ctx context.Context, scopeID string, limit int) ([]*model.Memory, error) {
	return e.memories.ListBlocks(ctx, scopeID, limit)
}

func (e *Engine) Link(ctx context.Context, from, to model.Key, rel model.RelationshipType) (*model.Memory, error) {
	return e.memories.Link(ctx, from, to, rel)
}

func (e *Engine) GetRelated(ctx context.Context, key model.Key, q memory.RelatedQuery) ([]*model.Memory, error) {
	return e.memories.GetRelated(ctx, key, q)
}

func (e *Engine) Archive(ctx context.Context, key model.Key) (*model.Memory, error) {
	return e.memories.Archive(ctx, key)
}

// ExpandScopes runs scope expansion, filling missing hints from the
// engine's defaults.
func (e *Engine) ExpandScopes(in scope.Input) ([]string, error) {
	in.Hints = mergeHints(in.Hints, e.hints)
	return scope.Expand(in)
}

// Consolidate compacts one scope under its resolved policy.
func (e *Engine) Consolidate(ctx context.Context, scopeID string) (*consolidation.Report, error) {
	return e.compactor.Run(ctx, scopeID)
}

// ConsolidationCandidates lists the least important eligible memories.
func (e *Engine) ConsolidationCandidates(ctx context.Context, q consolidation.SelectQuery) ([]consolidation.Candidate, error) {
	return e.compactor.SelectForConsolidation(ctx, q)
}

// Importance scores one memory now.
func (e *Engine) Importance(m *model.Memory) float64 {
	return e.compactor.Importance(m)
}

// Diagnostics returns a cached or freshly aggregated report.
func (e *Engine) Diagnostics(ctx context.Context, q diagnostics.Query) (*diagnostics.Report, error) {
	return e.diagnostics.Collect(ctx, q)
}

// AddMessage appends to a user's conversation history.
func (e *Engine) AddMessage(ctx context.Context, msg model.Message) error {
	if e.messages == nil {
		return goerr.New("message history is not configured")
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = model.Now()
	}
	return e.messages.AppendMessage(ctx, msg)
}

// RecentMessages returns the latest messages of userSub, oldest first.
func (e *Engine) RecentMessages(ctx context.Context, userSub string, limit int) ([]model.Message, error) {
	if e.messages == nil {
		return nil, goerr.New("message history is not configured")
	}
	return e.messages.RecentMessages(ctx, userSub, limit)
}

func mergeHints(h, def scope.Hints) scope.Hints {
	pick := func(a, b map[string][]string) map[string][]string {
		if a != nil {
			return a
		}
		return b
	}
	pickOne := func(a, b map[string]string) map[string]string {
		if a != nil {
			return a
		}
		return b
	}
	return scope.Hints{
		RFPParticipants: pick(h.RFPParticipants, def.RFPParticipants),
		RFPChannels:     pick(h.RFPChannels, def.RFPChannels),
		RFPTenant:       pickOne(h.RFPTenant, def.RFPTenant),
		UserTenant:      pickOne(h.UserTenant, def.UserTenant),
		UserRFPs:        pick(h.UserRFPs, def.UserRFPs),
		UserChannels:    pick(h.UserChannels, def.UserChannels),
		ChannelMembers:  pick(h.ChannelMembers, def.ChannelMembers),
		ChannelRFPs:     pick(h.ChannelRFPs, def.ChannelRFPs),
	}
}
