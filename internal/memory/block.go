package memory

import (
	"context"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/rfp-agent-memory/internal/model"
	"github.com/rcliao/rfp-agent-memory/internal/store"
)

// BlockInput creates a memory block.
type BlockInput struct {
	ScopeID    string
	BlockID    string
	Title      string
	Content    string
	Tags       []string
	Provenance model.Provenance
}

// CreateBlock stores a new block at version 1. BlockID must be unused in the
// scope.
func (s *Service) CreateBlock(ctx context.Context, in BlockInput) (*model.Memory, error) {
	blockID := strings.TrimSpace(in.BlockID)
	if blockID == "" {
		return nil, goerr.Wrap(model.ErrValidation, "blockId is required")
	}
	scope, err := model.ParseScope(in.ScopeID)
	if err != nil {
		return nil, err
	}

	unlock := s.lockScope(scope.String())
	defer unlock()

	existing, err := s.findBlock(ctx, scope.String(), blockID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, goerr.Wrap(model.ErrValidation, "duplicate blockId",
			goerr.V("blockId", blockID), goerr.V("scopeId", scope.String()))
	}

	return s.Create(ctx, CreateInput{
		MemoryType: model.MemoryBlock,
		ScopeID:    scope.String(),
		Content:    in.Content,
		Tags:       in.Tags,
		Metadata: model.Metadata{
			Block: &model.BlockFields{BlockID: blockID, Title: in.Title, Version: 1},
		},
		Provenance: in.Provenance,
	})
}

// GetBlock returns the block named blockID or an error wrapping
// model.ErrNotFound.
func (s *Service) GetBlock(ctx context.Context, scopeID, blockID string) (*model.Memory, error) {
	scope, err := model.ParseScope(scopeID)
	if err != nil {
		return nil, err
	}
	b, err := s.findBlock(ctx, scope.String(), blockID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, goerr.Wrap(model.ErrNotFound, "block not found",
			goerr.V("blockId", blockID), goerr.V("scopeId", scope.String()))
	}
	return b, nil
}

// BlockUpdate carries the new block state. Nil fields are kept.
type BlockUpdate struct {
	Title   *string
	Content *string
}

// UpdateBlock snapshots the current state into versionHistory and bumps the
// version by one. Block edits are never rejected as insignificant.
func (s *Service) UpdateBlock(ctx context.Context, scopeID, blockID string, in BlockUpdate) (*model.Memory, error) {
	if in.Content == nil && in.Title == nil {
		return nil, goerr.Wrap(model.ErrValidation, "nothing to update", goerr.V("blockId", blockID))
	}
	current, err := s.GetBlock(ctx, scopeID, blockID)
	if err != nil {
		return nil, err
	}

	now := s.timestamp()
	updated, err := s.store.Update(ctx, current.Key(), func(m *model.Memory) error {
		if err := snapshotBlock(m, now); err != nil {
			return err
		}
		if in.Title != nil {
			m.Metadata.Block.Title = *in.Title
		}
		upd := UpdateInput{Content: in.Content}
		if in.Title != nil && in.Content == nil {
			upd.Metadata = map[string]any{model.MetaTitle: *in.Title}
		}
		return s.applyUpdate(m, upd, now)
	})
	if err != nil {
		return nil, err
	}
	s.indexAsync(ctx, updated)
	return updated, nil
}

// ListBlocks returns the active blocks of a scope, most recently created
// first. Archived blocks are skipped.
func (s *Service) ListBlocks(ctx context.Context, scopeID string, limit int) ([]*model.Memory, error) {
	scope, err := model.ParseScope(scopeID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = store.DefaultLimit
	}
	var out []*model.Memory
	err = s.scan(ctx, scope.String(), model.MemoryBlock, func(m *model.Memory) bool {
		if !m.Compressed {
			out = append(out, m)
		}
		return len(out) < limit
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// snapshotBlock appends the current state to versionHistory and bumps the
// version by one.
func snapshotBlock(m *model.Memory, now time.Time) error {
	b := m.Metadata.Block
	if b == nil {
		return goerr.Wrap(model.ErrValidation, "memory is not a block", goerr.V("memoryId", m.MemoryID))
	}
	b.VersionHistory = append(b.VersionHistory, model.BlockVersion{
		Version:   b.Version,
		Title:     b.Title,
		Content:   m.Content,
		UpdatedAt: now,
	})
	b.Version++
	return nil
}

func (s *Service) findBlock(ctx context.Context, scopeID, blockID string) (*model.Memory, error) {
	var found *model.Memory
	err := s.scan(ctx, scopeID, model.MemoryBlock, func(m *model.Memory) bool {
		if m.Metadata.Block != nil && m.Metadata.Block.BlockID == blockID {
			found = m
			return false
		}
		return true
	})
	return found, err
}
