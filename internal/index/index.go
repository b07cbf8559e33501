// Package index maintains the secondary full-text index over memory content.
// Writes to it are best-effort; the memory store stays the source of truth.
package index

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/rfp-agent-memory/internal/keywords"
	"github.com/rcliao/rfp-agent-memory/internal/model"
)

// Indexer receives every created or updated memory.
type Indexer interface {
	Index(ctx context.Context, m *model.Memory) error
}

// Hit is one full-text match, carrying the key needed to load the memory.
type Hit struct {
	Key     model.Key `json:"key"`
	Snippet string    `json:"snippet"`
	Rank    float64   `json:"rank"`
}

// Query selects full-text hits. ScopeIDs restricts hits when non-empty.
type Query struct {
	Text     string
	ScopeIDs []string
	Limit    int
}

// Nop discards every index write.
type Nop struct{}

func (Nop) Index(context.Context, *model.Memory) error { return nil }

// SQLite is an FTS5 index living next to the memories table.
type SQLite struct {
	db   *sql.DB
	opts ChunkOptions
}

var _ Indexer = (*SQLite)(nil)

// NewSQLite creates the FTS table on db if needed.
func NewSQLite(db *sql.DB, opts ChunkOptions) (*SQLite, error) {
	_, err := db.Exec(`CREATE VIRTUAL TABLE IF NOT EXISTS memory_chunks USING fts5(
		text,
		memory_id UNINDEXED,
		memory_type UNINDEXED,
		scope_id UNINDEXED,
		created_at UNINDEXED,
		seq UNINDEXED
	)`)
	if err != nil {
		return nil, goerr.Wrap(err, "create fts table")
	}
	return &SQLite{db: db, opts: opts}, nil
}

// Index replaces the chunks stored for m.
func (x *SQLite) Index(ctx context.Context, m *model.Memory) error {
	chunks := SplitContent(m.Content, x.opts)

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return goerr.Wrap(err, "begin index", goerr.V("memoryId", m.MemoryID))
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_chunks WHERE memory_id = ?`, m.MemoryID); err != nil {
		return goerr.Wrap(err, "clear chunks", goerr.V("memoryId", m.MemoryID))
	}
	if m.Summary != "" && m.Summary != m.Content {
		chunks = append(chunks, m.Summary)
	}
	created := m.CreatedAt.UTC().Format(time.RFC3339Nano)
	for i, c := range chunks {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO memory_chunks (text, memory_id, memory_type, scope_id, created_at, seq) VALUES (?, ?, ?, ?, ?, ?)`,
			c, m.MemoryID, string(m.MemoryType), m.ScopeID, created, i)
		if err != nil {
			return goerr.Wrap(err, "insert chunk", goerr.V("memoryId", m.MemoryID), goerr.V("seq", i))
		}
	}
	if err := tx.Commit(); err != nil {
		return goerr.Wrap(err, "commit index", goerr.V("memoryId", m.MemoryID))
	}
	return nil
}

// Search returns the best matching memories, one hit per memory.
func (x *SQLite) Search(ctx context.Context, q Query) ([]Hit, error) {
	match := matchExpr(q.Text)
	if match == "" {
		return nil, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	sqlText := `SELECT memory_id, memory_type, scope_id, created_at,
		snippet(memory_chunks, 0, '[', ']', '...', 12), bm25(memory_chunks)
		FROM memory_chunks WHERE memory_chunks MATCH ?`
	args := []any{match}
	if len(q.ScopeIDs) > 0 {
		sqlText += ` AND scope_id IN (?` + strings.Repeat(", ?", len(q.ScopeIDs)-1) + `)`
		for _, s := range q.ScopeIDs {
			args = append(args, s)
		}
	}
	// chunks of one memory can crowd the window, so read extra rows
	sqlText += ` ORDER BY bm25(memory_chunks) LIMIT ?`
	args = append(args, limit*4)

	rows, err := x.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "search chunks", goerr.V("query", q.Text))
	}
	defer rows.Close()

	var hits []Hit
	seen := map[string]bool{}
	for rows.Next() {
		var id, typ, scope, created, snippet string
		var rank float64
		if err := rows.Scan(&id, &typ, &scope, &created, &snippet, &rank); err != nil {
			return nil, goerr.Wrap(err, "scan chunk")
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ts, err := time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, goerr.Wrap(err, "parse chunk time", goerr.V("memoryId", id))
		}
		hits = append(hits, Hit{
			Key:     model.Key{MemoryID: id, MemoryType: model.MemoryType(typ), ScopeID: scope, CreatedAt: ts},
			Snippet: snippet,
			Rank:    -rank,
		})
		if len(hits) == limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "iterate chunks")
	}
	return hits, nil
}

// matchExpr turns free text into an FTS5 OR query of quoted terms, so user
// input never reaches the FTS query parser as syntax.
func matchExpr(text string) string {
	toks := keywords.ExtractKeywords(text, 0)
	if len(toks) == 0 {
		toks = keywords.Tokenize(text)
	}
	var terms []string
	seen := map[string]bool{}
	for _, tok := range toks {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		terms = append(terms, `"`+strings.ReplaceAll(tok, `"`, `""`)+`"`)
	}
	return strings.Join(terms, " OR ")
}
