package store

import (
	"context"
	"errors"

	"github.com/rcliao/rfp-agent-memory/internal/model"
)

const exportPageSize = 200

// ExportAll returns every stored memory, optionally limited to one scope.
// Items are ordered oldest first within each memory type.
func ExportAll(ctx context.Context, s Store, scopeID string) ([]*model.Memory, error) {
	var out []*model.Memory

	if scopeID != "" {
		err := eachPage(ctx, func(token string) (*Page, error) {
			return s.QueryIndex(ctx, IndexQueryParams{
				Index: IndexByCreation, PartitionKey: scopeID,
				Limit: exportPageSize, PageToken: token, ScanForward: true,
			})
		}, func(m *model.Memory) { out = append(out, m) })
		return out, err
	}

	for _, t := range model.AllMemoryTypes {
		err := eachPage(ctx, func(token string) (*Page, error) {
			return s.QueryIndex(ctx, IndexQueryParams{
				Index: IndexByType, PartitionKey: TypeIndexKey(t),
				Limit: exportPageSize, PageToken: token, ScanForward: true,
			})
		}, func(m *model.Memory) { out = append(out, m) })
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Import stores memories from an export. Items whose key already exists are
// skipped and counted separately.
func Import(ctx context.Context, s Store, memories []*model.Memory) (imported, skipped int, err error) {
	for _, m := range memories {
		if err := s.PutIfAbsent(ctx, m); err != nil {
			if errors.Is(err, model.ErrAlreadyExists) {
				skipped++
				continue
			}
			return imported, skipped, err
		}
		imported++
	}
	return imported, skipped, nil
}

func eachPage(ctx context.Context, fetch func(token string) (*Page, error), fn func(*model.Memory)) error {
	token := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := fetch(token)
		if err != nil {
			return err
		}
		for _, m := range page.Items {
			fn(m)
		}
		if page.NextToken == "" {
			return nil
		}
		token = page.NextToken
	}
}
