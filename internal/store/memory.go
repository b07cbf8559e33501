package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/rfp-agent-memory/internal/model"
)

// Memory is an in-process Store used for tests and ephemeral runs.
type Memory struct {
	mu       sync.RWMutex
	items    map[string]map[string]*model.Memory // pk -> sk -> item
	messages map[string][]model.Message
}

var (
	_ Store        = (*Memory)(nil)
	_ MessageStore = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		items:    make(map[string]map[string]*model.Memory),
		messages: make(map[string][]model.Message),
	}
}

func (s *Memory) PutIfAbsent(_ context.Context, m *model.Memory) error {
	if err := validateItem(m); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	part, ok := s.items[m.ScopeID]
	if !ok {
		part = make(map[string]*model.Memory)
		s.items[m.ScopeID] = part
	}
	sk := SortKey(m.Key())
	if _, exists := part[sk]; exists {
		return goerr.Wrap(model.ErrAlreadyExists, "memory key is taken",
			goerr.V("memoryId", m.MemoryID), goerr.V("scopeId", m.ScopeID))
	}
	part[sk] = m.Clone()
	return nil
}

func (s *Memory) Get(_ context.Context, key model.Key) (*model.Memory, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.items[key.ScopeID][SortKey(key)]
	if !ok {
		return nil, goerr.Wrap(model.ErrNotFound, "memory not found",
			goerr.V("memoryId", key.MemoryID), goerr.V("scopeId", key.ScopeID))
	}
	return m.Clone(), nil
}

func (s *Memory) Update(_ context.Context, key model.Key, fn func(m *model.Memory) error) (*model.Memory, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sk := SortKey(key)
	current, ok := s.items[key.ScopeID][sk]
	if !ok {
		return nil, goerr.Wrap(model.ErrNotFound, "memory not found",
			goerr.V("memoryId", key.MemoryID), goerr.V("scopeId", key.ScopeID))
	}
	next, err := applyUpdate(current, fn)
	if err != nil {
		return nil, err
	}
	s.items[key.ScopeID][sk] = next
	return next.Clone(), nil
}

type keyed struct {
	key  string
	item *model.Memory
}

func (s *Memory) Query(_ context.Context, p QueryParams) (*Page, error) {
	if p.PartitionKey == "" {
		return nil, goerr.Wrap(model.ErrValidation, "partition key is required")
	}
	s.mu.RLock()
	var rows []keyed
	for sk, m := range s.items[p.PartitionKey] {
		if strings.HasPrefix(sk, p.SortKeyPrefix) {
			rows = append(rows, keyed{key: sk, item: m.Clone()})
		}
	}
	s.mu.RUnlock()

	return paginate(rows, p.PageToken, p.Limit, p.ScanForward), nil
}

func (s *Memory) QueryIndex(_ context.Context, p IndexQueryParams) (*Page, error) {
	if p.PartitionKey == "" {
		return nil, goerr.Wrap(model.ErrValidation, "partition key is required")
	}
	if p.Index != IndexByType && p.Index != IndexByCreation {
		return nil, goerr.Wrap(model.ErrValidation, "unknown index", goerr.V("index", p.Index))
	}

	s.mu.RLock()
	var rows []keyed
	for _, part := range s.items {
		for _, m := range part {
			ik := keysOf(m.Key())
			pk, sk := ik.gsi1pk, ik.gsi1sk
			if p.Index == IndexByCreation {
				pk, sk = ik.gsi2pk, ik.gsi2sk
			}
			if pk != p.PartitionKey || sk < p.SortKeyFrom {
				continue
			}
			rows = append(rows, keyed{key: sk, item: m.Clone()})
		}
	}
	s.mu.RUnlock()

	return paginate(rows, p.PageToken, p.Limit, p.ScanForward), nil
}

func paginate(rows []keyed, token string, limit int, forward bool) *Page {
	sort.Slice(rows, func(i, j int) bool {
		if forward {
			return rows[i].key < rows[j].key
		}
		return rows[i].key > rows[j].key
	})

	limit = limitOrDefault(limit)
	page := &Page{}
	var last string
	for _, r := range rows {
		if token != "" {
			if forward && r.key <= token {
				continue
			}
			if !forward && r.key >= token {
				continue
			}
		}
		if len(page.Items) == limit {
			page.NextToken = last
			break
		}
		page.Items = append(page.Items, r.item)
		last = r.key
	}
	return page
}

func (s *Memory) AppendMessage(_ context.Context, msg model.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = model.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.UserSub] = append(s.messages[msg.UserSub], msg)
	return nil
}

func (s *Memory) RecentMessages(_ context.Context, userSub string, limit int) ([]model.Message, error) {
	s.mu.RLock()
	msgs := append([]model.Message(nil), s.messages[userSub]...)
	s.mu.RUnlock()

	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
	if n := limitOrDefault(limit); len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return msgs, nil
}

func (s *Memory) Close() error {
	return nil
}
