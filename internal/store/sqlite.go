package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/rcliao/rfp-agent-memory/internal/model"
)

// SQLite implements Store and MessageStore on a single SQLite file.
type SQLite struct {
	db *sql.DB

	mu      sync.Mutex
	entropy *rand.Rand
}

var (
	_ Store        = (*SQLite)(nil)
	_ MessageStore = (*SQLite)(nil)
)

// NewSQLite opens or creates a SQLite database at dbPath.
func NewSQLite(dbPath string) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, goerr.Wrap(err, "create db dir", goerr.V("dir", dir))
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, goerr.Wrap(err, "open db", goerr.V("path", dbPath))
	}
	// one writer connection keeps conditional inserts and updates serialized
	db.SetMaxOpenConns(1)

	s := &SQLite{
		db:      db,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, goerr.Wrap(err, "migrate", goerr.V("path", dbPath))
	}

	return s, nil
}

// DB exposes the handle so the full-text index can share the file.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

func (s *SQLite) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		pk           TEXT NOT NULL,
		sk           TEXT NOT NULL,
		gsi1pk       TEXT NOT NULL,
		gsi1sk       TEXT NOT NULL,
		gsi2pk       TEXT NOT NULL,
		gsi2sk       TEXT NOT NULL,
		memory_id    TEXT NOT NULL,
		memory_type  TEXT NOT NULL,
		created_at   TEXT NOT NULL,
		compressed   INTEGER NOT NULL DEFAULT 0,
		access_count INTEGER NOT NULL DEFAULT 0,
		item         TEXT NOT NULL,
		PRIMARY KEY (pk, sk)
	);
	CREATE INDEX IF NOT EXISTS idx_memories_gsi1 ON memories(gsi1pk, gsi1sk);
	CREATE INDEX IF NOT EXISTS idx_memories_gsi2 ON memories(gsi2pk, gsi2sk);
	CREATE INDEX IF NOT EXISTS idx_memories_id ON memories(memory_id);

	CREATE TABLE IF NOT EXISTS messages (
		id         TEXT PRIMARY KEY,
		user_sub   TEXT NOT NULL,
		role       TEXT NOT NULL,
		content    TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_user ON messages(user_sub, created_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLite) PutIfAbsent(ctx context.Context, m *model.Memory) error {
	if err := validateItem(m); err != nil {
		return err
	}
	item, err := json.Marshal(m)
	if err != nil {
		return goerr.Wrap(err, "encode memory", goerr.V("memoryId", m.MemoryID))
	}

	k := m.Key()
	ik := keysOf(k)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (pk, sk, gsi1pk, gsi1sk, gsi2pk, gsi2sk, memory_id, memory_type, created_at, compressed, access_count, item)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(pk, sk) DO NOTHING`,
		k.ScopeID, SortKey(k), ik.gsi1pk, ik.gsi1sk, ik.gsi2pk, ik.gsi2sk,
		m.MemoryID, string(m.MemoryType), FormatTime(m.CreatedAt), m.Compressed, m.AccessCount, string(item))
	if err != nil {
		return goerr.Wrap(err, "insert memory", goerr.V("memoryId", m.MemoryID))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return goerr.Wrap(err, "insert memory", goerr.V("memoryId", m.MemoryID))
	}
	if n == 0 {
		return goerr.Wrap(model.ErrAlreadyExists, "memory key is taken",
			goerr.V("memoryId", m.MemoryID), goerr.V("scopeId", m.ScopeID))
	}
	return nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getItem(ctx context.Context, q querier, key model.Key) (*model.Memory, error) {
	var item string
	err := q.QueryRowContext(ctx,
		`SELECT item FROM memories WHERE pk = ? AND sk = ?`, key.ScopeID, SortKey(key)).Scan(&item)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, goerr.Wrap(model.ErrNotFound, "memory not found",
			goerr.V("memoryId", key.MemoryID), goerr.V("scopeId", key.ScopeID))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "select memory", goerr.V("memoryId", key.MemoryID))
	}
	return decodeItem(item)
}

func decodeItem(item string) (*model.Memory, error) {
	var m model.Memory
	if err := json.Unmarshal([]byte(item), &m); err != nil {
		return nil, goerr.Wrap(err, "decode memory")
	}
	return &m, nil
}

func (s *SQLite) Get(ctx context.Context, key model.Key) (*model.Memory, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return getItem(ctx, s.db, key)
}

func (s *SQLite) Update(ctx context.Context, key model.Key, fn func(m *model.Memory) error) (*model.Memory, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "begin update")
	}
	defer tx.Rollback()

	current, err := getItem(ctx, tx, key)
	if err != nil {
		return nil, err
	}
	next, err := applyUpdate(current, fn)
	if err != nil {
		return nil, err
	}
	item, err := json.Marshal(next)
	if err != nil {
		return nil, goerr.Wrap(err, "encode memory", goerr.V("memoryId", key.MemoryID))
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE memories SET item = ?, compressed = ?, access_count = ? WHERE pk = ? AND sk = ?`,
		string(item), next.Compressed, next.AccessCount, key.ScopeID, SortKey(key))
	if err != nil {
		return nil, goerr.Wrap(err, "update memory", goerr.V("memoryId", key.MemoryID))
	}
	if err := tx.Commit(); err != nil {
		return nil, goerr.Wrap(err, "commit update", goerr.V("memoryId", key.MemoryID))
	}
	return next, nil
}

func (s *SQLite) Query(ctx context.Context, p QueryParams) (*Page, error) {
	if p.PartitionKey == "" {
		return nil, goerr.Wrap(model.ErrValidation, "partition key is required")
	}
	return s.page(ctx, "pk", "sk", p.PartitionKey, p.SortKeyPrefix, "", p.PageToken, p.Limit, p.ScanForward)
}

func (s *SQLite) QueryIndex(ctx context.Context, p IndexQueryParams) (*Page, error) {
	if p.PartitionKey == "" {
		return nil, goerr.Wrap(model.ErrValidation, "partition key is required")
	}
	switch p.Index {
	case IndexByType:
		return s.page(ctx, "gsi1pk", "gsi1sk", p.PartitionKey, "", p.SortKeyFrom, p.PageToken, p.Limit, p.ScanForward)
	case IndexByCreation:
		return s.page(ctx, "gsi2pk", "gsi2sk", p.PartitionKey, "", p.SortKeyFrom, p.PageToken, p.Limit, p.ScanForward)
	}
	return nil, goerr.Wrap(model.ErrValidation, "unknown index", goerr.V("index", p.Index))
}

// page runs a keyset-paginated query. Column names are internal constants.
func (s *SQLite) page(ctx context.Context, pkCol, skCol, pk, prefix, from, token string, limit int, forward bool) (*Page, error) {
	limit = limitOrDefault(limit)

	where := []string{pkCol + " = ?"}
	args := []any{pk}
	if prefix != "" {
		where = append(where, "substr("+skCol+", 1, ?) = ?")
		args = append(args, len(prefix), prefix)
	}
	if from != "" {
		where = append(where, skCol+" >= ?")
		args = append(args, from)
	}
	order := "DESC"
	if token != "" {
		if forward {
			where = append(where, skCol+" > ?")
		} else {
			where = append(where, skCol+" < ?")
		}
		args = append(args, token)
	}
	if forward {
		order = "ASC"
	}

	query := `SELECT ` + skCol + `, item FROM memories WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY ` + skCol + ` ` + order + ` LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "query memories", goerr.V("partition", pk))
	}
	defer rows.Close()

	page := &Page{}
	var lastKey string
	for rows.Next() {
		var sk, item string
		if err := rows.Scan(&sk, &item); err != nil {
			return nil, goerr.Wrap(err, "scan memory")
		}
		if len(page.Items) == limit {
			page.NextToken = lastKey
			break
		}
		m, err := decodeItem(item)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, m)
		lastKey = sk
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "iterate memories")
	}
	return page, nil
}

func (s *SQLite) AppendMessage(ctx context.Context, msg model.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = model.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, user_sub, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		s.newID(), msg.UserSub, string(msg.Role), msg.Content, FormatTime(msg.Timestamp))
	if err != nil {
		return goerr.Wrap(err, "insert message", goerr.V("userSub", msg.UserSub))
	}
	return nil
}

func (s *SQLite) RecentMessages(ctx context.Context, userSub string, limit int) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM messages
		 WHERE user_sub = ? ORDER BY created_at DESC, id DESC LIMIT ?`, userSub, limitOrDefault(limit))
	if err != nil {
		return nil, goerr.Wrap(err, "query messages", goerr.V("userSub", userSub))
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var role, content, createdAt string
		if err := rows.Scan(&role, &content, &createdAt); err != nil {
			return nil, goerr.Wrap(err, "scan message")
		}
		ts, err := time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, goerr.Wrap(err, "parse message timestamp",
				goerr.V("userSub", userSub), goerr.V("createdAt", createdAt))
		}
		msgs = append(msgs, model.Message{UserSub: userSub, Role: model.Role(role), Content: content, Timestamp: ts})
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "iterate messages")
	}

	// newest first from the query; callers want chronological order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
