package memory

import (
	"context"
	"errors"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/rfp-agent-memory/internal/model"
)

const (
	DefaultRelatedDepth = 1
	MaxRelatedDepth     = 3
	defaultRelatedLimit = 20
)

// Link stores a directed edge from -> to on the source memory. Linking the
// same pair with the same type twice is a no-op.
func (s *Service) Link(ctx context.Context, from, to model.Key, rel model.RelationshipType) (*model.Memory, error) {
	if rel == "" {
		rel = model.RelRelated
	}
	if !rel.Valid() {
		return nil, goerr.Wrap(model.ErrValidation, "unknown relationship type", goerr.V("type", rel))
	}
	if from.MemoryID == to.MemoryID {
		return nil, goerr.Wrap(model.ErrValidation, "a memory cannot link to itself", goerr.V("memoryId", from.MemoryID))
	}
	if _, err := s.store.Get(ctx, to); err != nil {
		return nil, err
	}

	now := s.timestamp()
	return s.store.Update(ctx, from, func(m *model.Memory) error {
		for _, r := range m.Relationships {
			if r.Target.MemoryID == to.MemoryID && r.Type == rel {
				return nil
			}
		}
		m.Relationships = append(m.Relationships, model.Relationship{Target: to, Type: rel, CreatedAt: now})
		for _, id := range m.RelatedMemoryIDs {
			if id == to.MemoryID {
				return nil
			}
		}
		m.RelatedMemoryIDs = append(m.RelatedMemoryIDs, to.MemoryID)
		return nil
	})
}

// RelatedQuery selects a neighbourhood of a memory.
type RelatedQuery struct {
	// Type restricts traversal to one relationship type when set.
	Type  model.RelationshipType
	Depth int
	Limit int
}

// GetRelated walks stored edges breadth first from key. The start memory is
// not part of the result and every memory appears once. Edges to memories
// that no longer resolve are skipped.
func (s *Service) GetRelated(ctx context.Context, key model.Key, q RelatedQuery) ([]*model.Memory, error) {
	if q.Type != "" && !q.Type.Valid() {
		return nil, goerr.Wrap(model.ErrValidation, "unknown relationship type", goerr.V("type", q.Type))
	}
	depth := q.Depth
	if depth <= 0 {
		depth = DefaultRelatedDepth
	}
	if depth > MaxRelatedDepth {
		depth = MaxRelatedDepth
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultRelatedLimit
	}

	start, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	visited := map[string]bool{start.MemoryID: true}
	frontier := []*model.Memory{start}
	var out []*model.Memory

	for level := 0; level < depth && len(frontier) > 0; level++ {
		var next []*model.Memory
		for _, m := range frontier {
			for _, r := range m.Relationships {
				if q.Type != "" && r.Type != q.Type {
					continue
				}
				if visited[r.Target.MemoryID] {
					continue
				}
				visited[r.Target.MemoryID] = true

				target, err := s.store.Get(ctx, r.Target)
				if errors.Is(err, model.ErrNotFound) {
					continue
				}
				if err != nil {
					return nil, err
				}
				out = append(out, target)
				if len(out) == limit {
					return out, nil
				}
				next = append(next, target)
			}
		}
		frontier = next
	}
	return out, nil
}
