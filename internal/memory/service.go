// Package memory implements typed CRUD over the scope-partitioned store:
// write-time derivation of keywords, tags and summaries, update history,
// versioned memory blocks, relationships and access tracking.
package memory

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/oklog/ulid/v2"

	"github.com/rcliao/rfp-agent-memory/internal/async"
	"github.com/rcliao/rfp-agent-memory/internal/index"
	"github.com/rcliao/rfp-agent-memory/internal/keywords"
	"github.com/rcliao/rfp-agent-memory/internal/logging"
	"github.com/rcliao/rfp-agent-memory/internal/model"
	"github.com/rcliao/rfp-agent-memory/internal/similarity"
	"github.com/rcliao/rfp-agent-memory/internal/store"
)

// DefaultRejectThreshold is the content similarity above which an update is
// rejected as carrying no significant change.
const DefaultRejectThreshold = 0.95

// Service is the memory store facade every write goes through.
type Service struct {
	store      store.Store
	indexer    index.Indexer
	dispatcher *async.Dispatcher

	rejectThreshold float64
	now             func() time.Time
	newID           func() string

	scopeLocks sync.Map // scopeId -> *sync.Mutex
}

type Option func(*Service)

// WithIndexer sets the secondary index fed after every write.
func WithIndexer(x index.Indexer) Option {
	return func(s *Service) { s.indexer = x }
}

// WithDispatcher sets the runner for best-effort side effects.
func WithDispatcher(d *async.Dispatcher) Option {
	return func(s *Service) { s.dispatcher = d }
}

// WithRejectThreshold sets the no-significant-change threshold. Zero or
// less disables the check.
func WithRejectThreshold(v float64) Option {
	return func(s *Service) { s.rejectThreshold = v }
}

// WithClock replaces the time source. Returned times are truncated to
// microseconds.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:           st,
		indexer:         index.Nop{},
		dispatcher:      async.New(),
		rejectThreshold: DefaultRejectThreshold,
		now:             time.Now,
		newID:           func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying partitioned store.
func (s *Service) Store() store.Store { return s.store }

// Dispatcher returns the side-effect runner, whose failure queue is the
// observable record of swallowed indexing and tracking errors.
func (s *Service) Dispatcher() *async.Dispatcher { return s.dispatcher }

func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// CreateInput is the payload of Create. Empty Keywords, Tags or Summary are
// derived from Content.
type CreateInput struct {
	MemoryType       model.MemoryType
	ScopeID          string
	Content          string
	Summary          string
	Tags             []string
	Keywords         []string
	Metadata         model.Metadata
	Provenance       model.Provenance
	RelatedMemoryIDs []string
}

// Create validates, derives search keys and persists a new memory.
func (s *Service) Create(ctx context.Context, in CreateInput) (*model.Memory, error) {
	if strings.TrimSpace(in.Content) == "" {
		return nil, goerr.Wrap(model.ErrValidation, "content is required")
	}
	scope, err := model.ParseScope(in.ScopeID)
	if err != nil {
		return nil, err
	}
	if !in.MemoryType.Valid() {
		return nil, goerr.Wrap(model.ErrValidation, "unknown memory type", goerr.V("type", in.MemoryType))
	}

	content := keywords.Clip(in.Content, model.MaxContentLength)
	m := &model.Memory{
		MemoryID:         s.newID(),
		MemoryType:       in.MemoryType,
		ScopeID:          scope.String(),
		Content:          content,
		Summary:          deriveSummary(in.Summary, content),
		Tags:             deriveTags(in.Tags, content, in.Metadata, in.Provenance),
		Keywords:         deriveKeywords(in.Keywords, content),
		Metadata:         in.Metadata.Clone(),
		Provenance:       in.Provenance,
		RelatedMemoryIDs: dedupe(in.RelatedMemoryIDs),
		CreatedAt:        s.timestamp(),
	}

	if err := s.store.PutIfAbsent(ctx, m); err != nil {
		return nil, err
	}
	logging.From(ctx).Debug("memory created",
		slog.String("memoryId", m.MemoryID),
		slog.String("type", string(m.MemoryType)),
		slog.String("scope", m.ScopeID))

	s.indexAsync(ctx, m)
	return m, nil
}

// Get returns the memory under key or an error wrapping model.ErrNotFound.
func (s *Service) Get(ctx context.Context, key model.Key) (*model.Memory, error) {
	return s.store.Get(ctx, key)
}

// Lookup is Get with a missing memory reported as (nil, nil).
func (s *Service) Lookup(ctx context.Context, key model.Key) (*model.Memory, error) {
	m, err := s.store.Get(ctx, key)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	return m, err
}

// UpdateInput carries optional changes. Nil fields are left untouched.
type UpdateInput struct {
	Content  *string
	Summary  *string
	Tags     []string
	Keywords []string
	// Metadata is merged shallowly; protected keys are ignored.
	Metadata map[string]any
}

// Update applies in to the memory under key. Content changes re-derive
// summary, keywords and tags unless they are supplied too. A content change
// nearly identical to the stored content fails with
// model.ErrNoSignificantChange, except for memory blocks, which are versioned
// like UpdateBlock.
func (s *Service) Update(ctx context.Context, key model.Key, in UpdateInput) (*model.Memory, error) {
	now := s.timestamp()
	updated, err := s.store.Update(ctx, key, func(m *model.Memory) error {
		if m.MemoryType == model.MemoryBlock {
			if err := snapshotBlock(m, now); err != nil {
				return err
			}
		}
		return s.applyUpdate(m, in, now)
	})
	if err != nil {
		return nil, err
	}
	s.indexAsync(ctx, updated)
	return updated, nil
}

func (s *Service) applyUpdate(m *model.Memory, in UpdateInput, now time.Time) error {
	var fields []string
	previousSummary := m.Summary

	if in.Content != nil {
		content := strings.TrimSpace(*in.Content)
		if content == "" {
			return goerr.Wrap(model.ErrValidation, "content must not be empty", goerr.V("memoryId", m.MemoryID))
		}
		content = keywords.Clip(*in.Content, model.MaxContentLength)
		if content != m.Content {
			if m.MemoryType != model.MemoryBlock && s.rejectThreshold > 0 {
				if sim := similarity.Text(m.Content, content); sim > s.rejectThreshold {
					return goerr.Wrap(model.ErrNoSignificantChange, "update is too similar to stored content",
						goerr.V("memoryId", m.MemoryID), goerr.V("similarity", sim))
				}
			}
			m.Content = content
			fields = append(fields, "content")
			if in.Summary == nil {
				m.Summary = deriveSummary("", content)
			}
			if in.Keywords == nil {
				m.Keywords = deriveKeywords(nil, content)
			}
			if in.Tags == nil {
				m.Tags = deriveTags(m.Tags, content, m.Metadata, m.Provenance)
			}
		}
	}
	if in.Summary != nil {
		m.Summary = deriveSummary(*in.Summary, m.Content)
		fields = append(fields, "summary")
	}
	if in.Tags != nil {
		m.Tags = keywords.NormalizeTags(in.Tags)
		fields = append(fields, "tags")
	}
	if in.Keywords != nil {
		m.Keywords = deriveKeywords(in.Keywords, m.Content)
		fields = append(fields, "keywords")
	}
	if len(in.Metadata) > 0 {
		merged, err := m.Metadata.Merge(in.Metadata)
		if err != nil {
			return goerr.Wrap(model.ErrValidation, "invalid metadata patch",
				goerr.V("memoryId", m.MemoryID), goerr.V("cause", err.Error()))
		}
		m.Metadata = merged
		fields = append(fields, "metadata")
	}

	if len(fields) > 0 {
		m.Metadata.UpdateHistory = append(m.Metadata.UpdateHistory, model.UpdateRecord{
			UpdatedAt:       now,
			PreviousSummary: previousSummary,
			Fields:          fields,
		})
	}
	return nil
}

// ListOptions selects one page of a scope listing.
type ListOptions struct {
	// MemoryType restricts the listing when set.
	MemoryType model.MemoryType
	Limit      int
	PageToken  string
}

// ListByScope returns memories of scopeID newest first.
func (s *Service) ListByScope(ctx context.Context, scopeID string, opts ListOptions) (*store.Page, error) {
	scope, err := model.ParseScope(scopeID)
	if err != nil {
		return nil, err
	}
	if opts.MemoryType != "" {
		if !opts.MemoryType.Valid() {
			return nil, goerr.Wrap(model.ErrValidation, "unknown memory type", goerr.V("type", opts.MemoryType))
		}
		return s.store.Query(ctx, store.QueryParams{
			PartitionKey:  scope.String(),
			SortKeyPrefix: store.TypePrefix(opts.MemoryType),
			Limit:         opts.Limit,
			PageToken:     opts.PageToken,
		})
	}
	return s.store.QueryIndex(ctx, store.IndexQueryParams{
		Index:        store.IndexByCreation,
		PartitionKey: scope.String(),
		Limit:        opts.Limit,
		PageToken:    opts.PageToken,
	})
}

func (s *Service) indexAsync(ctx context.Context, m *model.Memory) {
	if _, ok := s.indexer.(index.Nop); ok {
		return
	}
	snapshot := m.Clone()
	s.dispatcher.Dispatch(ctx, "index "+m.MemoryID, func(ctx context.Context) error {
		if err := s.indexer.Index(ctx, snapshot); err != nil {
			return goerr.Wrap(err, "failed to index memory", goerr.V("memoryId", snapshot.MemoryID))
		}
		return nil
	})
}

func (s *Service) lockScope(scopeID string) func() {
	v, _ := s.scopeLocks.LoadOrStore(scopeID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func deriveSummary(summary, content string) string {
	if strings.TrimSpace(summary) != "" {
		return keywords.Clip(strings.TrimSpace(summary), model.MaxSummaryLength)
	}
	return keywords.Summarize(content, model.MaxSummaryLength)
}

func deriveKeywords(given []string, content string) []string {
	if len(given) == 0 {
		return keywords.WriteKeywords(content)
	}
	out := make([]string, 0, len(given))
	for _, k := range given {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			out = append(out, k)
		}
	}
	return dedupe(out)
}

func deriveTags(given []string, content string, md model.Metadata, prov model.Provenance) []string {
	hints := map[string]any{}
	if len(given) > 0 {
		hints["tags"] = given
	}
	if c, ok := md.Extra["category"]; ok {
		hints["category"] = c
	}
	if prov.RFPID != "" {
		hints["rfpId"] = prov.RFPID
	}
	return keywords.ExtractTags(content, hints)
}

func dedupe(xs []string) []string {
	if len(xs) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(xs))
	out := make([]string, 0, len(xs))
	for _, x := range xs {
		if x == "" || seen[x] {
			continue
		}
		seen[x] = true
		out = append(out, x)
	}
	return out
}
