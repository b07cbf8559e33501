package diagnostics

import (
	"context"
	"strings"
	"time"

	"github.com/rcliao/rfp-agent-memory/internal/async"
	"github.com/rcliao/rfp-agent-memory/internal/model"
	"github.com/rcliao/rfp-agent-memory/internal/store"
)

const (
	sourcePageSize = 200
	// maxSourceScan bounds the items a source reads per memory type.
	maxSourceScan = 5000
	recentErrors  = 20
)

// Metrics counts memories created in the window.
type Metrics struct {
	Total       int                      `json:"total"`
	ByType      map[model.MemoryType]int `json:"byType"`
	Compressed  int                      `json:"compressed"`
	AccessCount int                      `json:"accessCount"`
	// Truncated is set when a type hit the scan bound.
	Truncated bool `json:"truncated,omitempty"`
}

// MetricsSource counts memories per type through the by-type index.
func MetricsSource(st store.Store, now func() time.Time) Source {
	return SourceFunc{SourceName: "metrics", Fn: func(ctx context.Context, q Query) (any, error) {
		from := store.FormatTime(q.Since(now()))
		m := &Metrics{ByType: map[model.MemoryType]int{}}
		for _, t := range model.AllMemoryTypes {
			read, err := scanWindow(ctx, st, t, from, maxSourceScan, func(mem *model.Memory) bool {
				if !q.matches(mem) {
					return true
				}
				m.Total++
				m.ByType[t]++
				m.AccessCount += mem.AccessCount
				if mem.Compressed {
					m.Compressed++
				}
				return true
			})
			if err != nil {
				return nil, err
			}
			if read >= maxSourceScan {
				m.Truncated = true
			}
		}
		return m, nil
	}}
}

// ErrorEntry is one recent ERROR_LOG memory.
type ErrorEntry struct {
	MemoryID  string    `json:"memoryId"`
	ScopeID   string    `json:"scopeId"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// ErrorsSource lists the newest ERROR_LOG memories in the window.
func ErrorsSource(st store.Store, now func() time.Time) Source {
	return SourceFunc{SourceName: "errors", Fn: func(ctx context.Context, q Query) (any, error) {
		from := store.FormatTime(q.Since(now()))
		out := []ErrorEntry{}
		_, err := scanWindow(ctx, st, model.MemoryErrorLog, from, maxSourceScan, func(mem *model.Memory) bool {
			if q.matches(mem) {
				out = append(out, ErrorEntry{
					MemoryID: mem.MemoryID, ScopeID: mem.ScopeID, Message: mem.Summary, CreatedAt: mem.CreatedAt,
				})
			}
			return len(out) < recentErrors
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	}}
}

// IndexingStatus is the background side-effect failure record.
type IndexingStatus struct {
	TotalFailures  int             `json:"totalFailures"`
	RecentFailures []async.Failure `json:"recentFailures"`
}

// IndexingSource reports the dispatcher's failure queue without draining it.
func IndexingSource(d *async.Dispatcher) Source {
	return SourceFunc{SourceName: "indexing", Fn: func(context.Context, Query) (any, error) {
		failures := d.Failures()
		if failures == nil {
			failures = []async.Failure{}
		}
		return &IndexingStatus{TotalFailures: d.TotalFailures(), RecentFailures: failures}, nil
	}}
}

// scanWindow reads one type partition of the by-type index newest first,
// down to from, until fn returns false or limit items are read.
func scanWindow(ctx context.Context, st store.Store, t model.MemoryType, from string, limit int, fn func(*model.Memory) bool) (int, error) {
	token := ""
	read := 0
	for {
		page, err := st.QueryIndex(ctx, store.IndexQueryParams{
			Index:        store.IndexByType,
			PartitionKey: store.TypeIndexKey(t),
			SortKeyFrom:  from,
			Limit:        sourcePageSize,
			PageToken:    token,
		})
		if err != nil {
			return read, err
		}
		for _, m := range page.Items {
			read++
			if !fn(m) || read >= limit {
				return read, nil
			}
		}
		if page.NextToken == "" {
			return read, nil
		}
		token = page.NextToken
	}
}

// matches applies the user, rfp and channel filters. A memory passes when
// its scope or provenance names any requested entity.
func (q Query) matches(m *model.Memory) bool {
	if q.UserSub == "" && q.RFPID == "" && q.ChannelID == "" {
		return true
	}
	p := m.Provenance
	if q.UserSub != "" && (m.ScopeID == model.UserScope(q.UserSub).String() || p.CognitoUserID == q.UserSub) {
		return true
	}
	if q.RFPID != "" && (m.ScopeID == model.RFPScope(q.RFPID).String() || p.RFPID == q.RFPID) {
		return true
	}
	if q.ChannelID != "" {
		if m.ScopeID == model.ChannelScope(q.ChannelID).String() || p.SlackChannelID == q.ChannelID {
			return true
		}
		if strings.HasPrefix(m.ScopeID, model.ThreadScope(q.ChannelID, "").String()) {
			return true
		}
	}
	return false
}
