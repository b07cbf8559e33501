package memory

import (
	"context"

	"github.com/rcliao/rfp-agent-memory/internal/model"
)

// Touch records a read of each key in the background: accessCount is
// incremented and lastAccessedAt set. Failures land in the dispatcher's
// failure queue.
func (s *Service) Touch(ctx context.Context, keys ...model.Key) {
	for _, key := range keys {
		s.dispatcher.Dispatch(ctx, "touch "+key.MemoryID, func(ctx context.Context) error {
			_, err := s.MarkAccessed(ctx, key)
			return err
		})
	}
}

// MarkAccessed is the synchronous form of Touch for one key.
func (s *Service) MarkAccessed(ctx context.Context, key model.Key) (*model.Memory, error) {
	now := s.timestamp()
	return s.store.Update(ctx, key, func(m *model.Memory) error {
		m.AccessCount++
		m.LastAccessedAt = &now
		return nil
	})
}

// Archive flags a memory as compressed, removing it from normal retrieval.
// Memories are never hard-deleted.
func (s *Service) Archive(ctx context.Context, key model.Key) (*model.Memory, error) {
	now := s.timestamp()
	return s.store.Update(ctx, key, func(m *model.Memory) error {
		if m.Compressed {
			return nil
		}
		m.Compressed = true
		m.Metadata.UpdateHistory = append(m.Metadata.UpdateHistory, model.UpdateRecord{
			UpdatedAt:       now,
			PreviousSummary: m.Summary,
			Fields:          []string{"compressed"},
		})
		return nil
	})
}

// MetaOriginalLength records the content length of a summarized memory.
const MetaOriginalLength = "originalLength"

// Compress flags a memory as compressed. With summarize set the content is
// replaced by its summary and the original length kept in metadata.
func (s *Service) Compress(ctx context.Context, key model.Key, summarize bool) (*model.Memory, error) {
	if !summarize {
		return s.Archive(ctx, key)
	}
	now := s.timestamp()
	updated, err := s.store.Update(ctx, key, func(m *model.Memory) error {
		if m.Compressed {
			return nil
		}
		fields := []string{"compressed"}
		if m.Summary != "" && m.Summary != m.Content {
			if m.Metadata.Extra == nil {
				m.Metadata.Extra = map[string]any{}
			}
			m.Metadata.Extra[MetaOriginalLength] = len([]rune(m.Content))
			m.Content = m.Summary
			fields = append([]string{"content"}, fields...)
		}
		m.Compressed = true
		m.Metadata.UpdateHistory = append(m.Metadata.UpdateHistory, model.UpdateRecord{
			UpdatedAt:       now,
			PreviousSummary: m.Summary,
			Fields:          fields,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.indexAsync(ctx, updated)
	return updated, nil
}
