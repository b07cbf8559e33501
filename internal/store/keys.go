package store

import (
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/rcliao/rfp-agent-memory/internal/model"
)

// timeLayout is fixed width so lexical order equals chronological order.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// FormatTime renders t for use inside sort keys.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// SortKey is the primary sort key: TYPE#createdAt#memoryId.
func SortKey(k model.Key) string {
	return string(k.MemoryType) + "#" + FormatTime(k.CreatedAt) + "#" + k.MemoryID
}

// TypePrefix selects one memory type inside a partition.
func TypePrefix(t model.MemoryType) string {
	return string(t) + "#"
}

// TypeIndexKey is the IndexByType partition key of t.
func TypeIndexKey(t model.MemoryType) string {
	return "TYPE#" + string(t)
}

type indexKeys struct {
	gsi1pk, gsi1sk string
	gsi2pk, gsi2sk string
}

func keysOf(k model.Key) indexKeys {
	ts := FormatTime(k.CreatedAt)
	return indexKeys{
		gsi1pk: TypeIndexKey(k.MemoryType),
		gsi1sk: ts + "#" + k.ScopeID + "#" + k.MemoryID,
		gsi2pk: k.ScopeID,
		gsi2sk: ts + "#" + k.MemoryID,
	}
}

func validateItem(m *model.Memory) error {
	if m == nil {
		return goerr.Wrap(model.ErrValidation, "memory is nil")
	}
	if err := m.Key().Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(m.Content) == "" {
		return goerr.Wrap(model.ErrValidation, "content is required", goerr.V("memoryId", m.MemoryID))
	}
	return nil
}

func sameKey(a, b model.Key) bool {
	return a.MemoryID == b.MemoryID &&
		a.MemoryType == b.MemoryType &&
		a.ScopeID == b.ScopeID &&
		a.CreatedAt.Equal(b.CreatedAt)
}

func applyUpdate(current *model.Memory, fn func(m *model.Memory) error) (*model.Memory, error) {
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if !sameKey(current.Key(), next.Key()) {
		return nil, goerr.Wrap(model.ErrValidation, "update must not change the memory key",
			goerr.V("memoryId", current.MemoryID))
	}
	return next, nil
}
