package store_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/oklog/ulid/v2"

	"github.com/rcliao/rfp-agent-memory/internal/model"
	"github.com/rcliao/rfp-agent-memory/internal/store"
)

func newItem(scope string, t model.MemoryType, content string, createdAt time.Time) *model.Memory {
	return &model.Memory{
		MemoryID:   ulid.Make().String(),
		MemoryType: t,
		ScopeID:    scope,
		Content:    content,
		CreatedAt:  createdAt.UTC().Truncate(time.Microsecond),
	}
}

func runStoreTest(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Helper()

	t.Run("put then get round trips the item", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		scope := fmt.Sprintf("USER#u-%d", time.Now().UnixNano())

		m := newItem(scope, model.MemorySemantic, "prefers email", model.Now())
		m.Tags = []string{"preference"}
		m.Metadata = model.Metadata{
			Semantic: &model.SemanticFields{Key: "contact", Value: "email"},
			Extra:    map[string]any{"origin": "slack"},
		}
		m.Provenance = model.Provenance{CognitoUserID: "c1", Source: "api"}
		gt.NoError(t, s.PutIfAbsent(ctx, m)).Required()

		got, err := s.Get(ctx, m.Key())
		gt.NoError(t, err).Required()
		gt.Value(t, got.Content).Equal("prefers email")
		gt.Value(t, got.Tags).Equal([]string{"preference"})
		gt.Value(t, got.Metadata.Semantic.Value).Equal("email")
		gt.Value(t, got.Metadata.Extra["origin"]).Equal(any("slack"))
		gt.Value(t, got.Provenance.CognitoUserID).Equal("c1")
		gt.Bool(t, got.CreatedAt.Equal(m.CreatedAt)).True()
	})

	t.Run("second put on the same key fails", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		scope := fmt.Sprintf("RFP#r-%d", time.Now().UnixNano())

		m := newItem(scope, model.MemoryEpisodic, "first", model.Now())
		gt.NoError(t, s.PutIfAbsent(ctx, m)).Required()

		dup := m.Clone()
		dup.Content = "second"
		gt.Error(t, s.PutIfAbsent(ctx, dup)).Is(model.ErrAlreadyExists)

		got, err := s.Get(ctx, m.Key())
		gt.NoError(t, err).Required()
		gt.Value(t, got.Content).Equal("first")
	})

	t.Run("concurrent puts on one key admit exactly one", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		m := newItem(fmt.Sprintf("USER#c-%d", time.Now().UnixNano()), model.MemoryEpisodic, "race", model.Now())

		var wg sync.WaitGroup
		var mu sync.Mutex
		ok := 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := s.PutIfAbsent(ctx, m.Clone()); err == nil {
					mu.Lock()
					ok++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		gt.Value(t, ok).Equal(1)
	})

	t.Run("get missing returns not found", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), model.Key{
			MemoryID: "missing", MemoryType: model.MemoryEpisodic, ScopeID: "USER#nobody", CreatedAt: model.Now(),
		})
		gt.Error(t, err).Is(model.ErrNotFound)
	})

	t.Run("put rejects empty content", func(t *testing.T) {
		s := newStore(t)
		m := newItem("USER#u1", model.MemoryEpisodic, "  ", model.Now())
		gt.Error(t, s.PutIfAbsent(context.Background(), m)).Is(model.ErrValidation)
	})

	t.Run("update applies fn and keeps the key", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		m := newItem(fmt.Sprintf("USER#up-%d", time.Now().UnixNano()), model.MemoryEpisodic, "before", model.Now())
		gt.NoError(t, s.PutIfAbsent(ctx, m)).Required()

		got, err := s.Update(ctx, m.Key(), func(x *model.Memory) error {
			x.Content = "after"
			x.AccessCount = 3
			return nil
		})
		gt.NoError(t, err).Required()
		gt.Value(t, got.Content).Equal("after")

		stored, err := s.Get(ctx, m.Key())
		gt.NoError(t, err).Required()
		gt.Value(t, stored.Content).Equal("after")
		gt.Value(t, stored.AccessCount).Equal(3)

		_, err = s.Update(ctx, m.Key(), func(x *model.Memory) error {
			x.CreatedAt = x.CreatedAt.Add(time.Hour)
			return nil
		})
		gt.Error(t, err).Is(model.ErrValidation)

		boom := errors.New("boom")
		_, err = s.Update(ctx, m.Key(), func(x *model.Memory) error { return boom })
		gt.Error(t, err).Is(boom)
	})

	t.Run("update missing returns not found", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Update(context.Background(), model.Key{
			MemoryID: "missing", MemoryType: model.MemoryEpisodic, ScopeID: "USER#nobody", CreatedAt: model.Now(),
		}, func(*model.Memory) error { return nil })
		gt.Error(t, err).Is(model.ErrNotFound)
	})

	t.Run("query pages newest first by type prefix", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		scope := fmt.Sprintf("USER#q-%d", time.Now().UnixNano())
		base := time.Now().Add(-time.Hour)

		for i := 0; i < 5; i++ {
			gt.NoError(t, s.PutIfAbsent(ctx, newItem(scope, model.MemoryEpisodic, fmt.Sprintf("e%d", i), base.Add(time.Duration(i)*time.Minute)))).Required()
		}
		gt.NoError(t, s.PutIfAbsent(ctx, newItem(scope, model.MemorySemantic, "s0", base))).Required()

		page, err := s.Query(ctx, store.QueryParams{PartitionKey: scope, SortKeyPrefix: store.TypePrefix(model.MemoryEpisodic), Limit: 2})
		gt.NoError(t, err).Required()
		gt.Array(t, page.Items).Length(2).Required()
		gt.Value(t, page.Items[0].Content).Equal("e4")
		gt.Value(t, page.Items[1].Content).Equal("e3")
		gt.String(t, page.NextToken).NotEqual("")

		var all []string
		token := ""
		for {
			page, err := s.Query(ctx, store.QueryParams{
				PartitionKey: scope, SortKeyPrefix: store.TypePrefix(model.MemoryEpisodic), Limit: 2, PageToken: token,
			})
			gt.NoError(t, err).Required()
			for _, m := range page.Items {
				all = append(all, m.Content)
			}
			if page.NextToken == "" {
				break
			}
			token = page.NextToken
		}
		gt.Value(t, all).Equal([]string{"e4", "e3", "e2", "e1", "e0"})

		fwd, err := s.Query(ctx, store.QueryParams{PartitionKey: scope, SortKeyPrefix: store.TypePrefix(model.MemoryEpisodic), Limit: 1, ScanForward: true})
		gt.NoError(t, err).Required()
		gt.Value(t, fwd.Items[0].Content).Equal("e0")
	})

	t.Run("index by creation spans types", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		scope := fmt.Sprintf("CHANNEL#c-%d", time.Now().UnixNano())
		base := time.Now().Add(-time.Hour)

		gt.NoError(t, s.PutIfAbsent(ctx, newItem(scope, model.MemorySemantic, "old", base))).Required()
		gt.NoError(t, s.PutIfAbsent(ctx, newItem(scope, model.MemoryEpisodic, "new", base.Add(time.Minute)))).Required()

		page, err := s.QueryIndex(ctx, store.IndexQueryParams{Index: store.IndexByCreation, PartitionKey: scope})
		gt.NoError(t, err).Required()
		gt.Array(t, page.Items).Length(2).Required()
		gt.Value(t, page.Items[0].Content).Equal("new")
		gt.Value(t, page.Items[1].Content).Equal("old")
	})

	t.Run("index by type spans scopes and honours lower bound", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		suffix := time.Now().UnixNano()
		base := time.Now().Add(-48 * time.Hour)

		gt.NoError(t, s.PutIfAbsent(ctx, newItem(fmt.Sprintf("USER#a-%d", suffix), model.MemoryTemporalEvent, "two days ago", base))).Required()
		gt.NoError(t, s.PutIfAbsent(ctx, newItem(fmt.Sprintf("USER#b-%d", suffix), model.MemoryTemporalEvent, "just now", time.Now()))).Required()

		page, err := s.QueryIndex(ctx, store.IndexQueryParams{
			Index:        store.IndexByType,
			PartitionKey: store.TypeIndexKey(model.MemoryTemporalEvent),
			SortKeyFrom:  store.FormatTime(time.Now().Add(-time.Hour)),
			Limit:        100,
		})
		gt.NoError(t, err).Required()
		var contents []string
		for _, m := range page.Items {
			contents = append(contents, m.Content)
		}
		gt.Array(t, contents).Has("just now")
		for _, c := range contents {
			gt.Value(t, c).NotEqual("two days ago")
		}
	})

	t.Run("export and import", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		scope := fmt.Sprintf("TENANT#t-%d", time.Now().UnixNano())
		gt.NoError(t, s.PutIfAbsent(ctx, newItem(scope, model.MemoryEpisodic, "one", model.Now()))).Required()
		gt.NoError(t, s.PutIfAbsent(ctx, newItem(scope, model.MemorySemantic, "two", model.Now()))).Required()

		items, err := store.ExportAll(ctx, s, scope)
		gt.NoError(t, err).Required()
		gt.Array(t, items).Length(2)

		imported, skipped, err := store.Import(ctx, s, items)
		gt.NoError(t, err).Required()
		gt.Value(t, imported).Equal(0)
		gt.Value(t, skipped).Equal(2)

		target := newStore(t)
		imported, skipped, err = store.Import(ctx, target, items)
		gt.NoError(t, err).Required()
		gt.Value(t, imported).Equal(2)
		gt.Value(t, skipped).Equal(0)
	})
}

func runMessageStoreTest(t *testing.T, newStore func(t *testing.T) store.MessageStore) {
	t.Helper()

	t.Run("recent messages are the latest n in chronological order", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		user := fmt.Sprintf("u-%d", time.Now().UnixNano())
		base := time.Now().Add(-time.Hour).UTC().Truncate(time.Microsecond)

		for i := 0; i < 4; i++ {
			gt.NoError(t, s.AppendMessage(ctx, model.Message{
				UserSub: user, Role: model.RoleUser, Content: fmt.Sprintf("m%d", i), Timestamp: base.Add(time.Duration(i) * time.Minute),
			})).Required()
		}

		msgs, err := s.RecentMessages(ctx, user, 2)
		gt.NoError(t, err).Required()
		gt.Array(t, msgs).Length(2).Required()
		gt.Value(t, msgs[0].Content).Equal("m2")
		gt.Value(t, msgs[1].Content).Equal("m3")
	})

	t.Run("invalid role is rejected", func(t *testing.T) {
		s := newStore(t)
		err := s.AppendMessage(context.Background(), model.Message{UserSub: "u", Role: "robot", Content: "hi"})
		gt.Error(t, err).Is(model.ErrValidation)
	})
}

func newSQLite(t *testing.T) *store.SQLite {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	gt.NoError(t, err).Required()
	t.Cleanup(func() { s.Close() })
	return s
}

func newFirestore(t *testing.T) *store.Firestore {
	t.Helper()

	projectID := os.Getenv("TEST_FIRESTORE_PROJECT_ID")
	if projectID == "" {
		t.Skip("TEST_FIRESTORE_PROJECT_ID not set")
	}
	databaseID := os.Getenv("TEST_FIRESTORE_DATABASE_ID")
	if databaseID == "" {
		t.Skip("TEST_FIRESTORE_DATABASE_ID not set")
	}

	s, err := store.NewFirestore(context.Background(), projectID, databaseID,
		store.WithCollectionPrefix(fmt.Sprintf("test-%d-", time.Now().UnixNano())))
	gt.NoError(t, err).Required()
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMemoryStore(t *testing.T) {
	runStoreTest(t, func(t *testing.T) store.Store { return store.NewMemory() })
	runMessageStoreTest(t, func(t *testing.T) store.MessageStore { return store.NewMemory() })
}

func TestSQLiteStore(t *testing.T) {
	runStoreTest(t, func(t *testing.T) store.Store { return newSQLite(t) })
	runMessageStoreTest(t, func(t *testing.T) store.MessageStore { return newSQLite(t) })
}

func TestFirestoreStore(t *testing.T) {
	runStoreTest(t, func(t *testing.T) store.Store { return newFirestore(t) })
	runMessageStoreTest(t, func(t *testing.T) store.MessageStore { return newFirestore(t) })
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	s, err := store.NewSQLite(path)
	gt.NoError(t, err).Required()
	m := newItem("USER#u1", model.MemoryEpisodic, "durable", model.Now())
	gt.NoError(t, s.PutIfAbsent(ctx, m)).Required()
	gt.NoError(t, s.Close()).Required()

	s, err = store.NewSQLite(path)
	gt.NoError(t, err).Required()
	defer s.Close()
	got, err := s.Get(ctx, m.Key())
	gt.NoError(t, err).Required()
	gt.Value(t, got.Content).Equal("durable")
}

func TestSQLiteRejectsMalformedMessageTimestamp(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)

	gt.NoError(t, s.AppendMessage(ctx, model.Message{UserSub: "u1", Role: model.RoleUser, Content: "hello"})).Required()
	_, err := s.DB().ExecContext(ctx,
		`INSERT INTO messages (id, user_sub, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		"broken", "u1", "user", "garbled", "not-a-time")
	gt.NoError(t, err).Required()

	_, err = s.RecentMessages(ctx, "u1", 10)
	gt.Error(t, err)

	msgs, err := s.RecentMessages(ctx, "u2", 10)
	gt.NoError(t, err)
	gt.Array(t, msgs).Length(0)
}
