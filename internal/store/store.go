// Package store provides the scope-partitioned memory store interface and its
// SQLite, in-process and Firestore implementations.
package store

import (
	"context"

	"github.com/rcliao/rfp-agent-memory/internal/model"
)

// DefaultLimit is used when a query does not set one.
const DefaultLimit = 20

// QueryParams selects items of one partition by sort key prefix.
type QueryParams struct {
	PartitionKey  string
	SortKeyPrefix string
	Limit         int
	PageToken     string
	ScanForward   bool
}

// Index names a secondary index.
type Index string

const (
	// IndexByType is partitioned by memory type across every scope and
	// sorted by creation time.
	IndexByType Index = "gsi1"
	// IndexByCreation is partitioned by scope and sorted by creation time
	// regardless of type.
	IndexByCreation Index = "gsi2"
)

// IndexQueryParams selects items from a secondary index.
type IndexQueryParams struct {
	Index        Index
	PartitionKey string
	// SortKeyFrom is an inclusive lower bound on the index sort key.
	SortKeyFrom string
	Limit       int
	PageToken   string
	ScanForward bool
}

// Page is one page of query results. NextToken is empty on the last page.
type Page struct {
	Items     []*model.Memory `json:"items"`
	NextToken string          `json:"nextToken,omitempty"`
}

// Store is the partitioned key-value store memories live in.
type Store interface {
	// PutIfAbsent stores m unless its key is taken (model.ErrAlreadyExists).
	PutIfAbsent(ctx context.Context, m *model.Memory) error

	// Get returns the memory stored under key or model.ErrNotFound.
	Get(ctx context.Context, key model.Key) (*model.Memory, error)

	// Update reads the memory under key, applies fn to a copy and writes it
	// back atomically. fn must not change the key tuple.
	Update(ctx context.Context, key model.Key, fn func(m *model.Memory) error) (*model.Memory, error)

	// Query reads one partition ordered by sort key.
	Query(ctx context.Context, p QueryParams) (*Page, error)

	// QueryIndex reads a secondary index ordered by its sort key.
	QueryIndex(ctx context.Context, p IndexQueryParams) (*Page, error)

	// Close releases the backend.
	Close() error
}

// MessageStore keeps per-user conversation history.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg model.Message) error

	// RecentMessages returns the latest limit messages of userSub in
	// chronological order.
	RecentMessages(ctx context.Context, userSub string, limit int) ([]model.Message, error)
}

func limitOrDefault(n int) int {
	if n <= 0 {
		return DefaultLimit
	}
	return n
}
