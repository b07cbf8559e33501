package trust

import (
	"context"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/rfp-agent-memory/internal/model"
	"github.com/rcliao/rfp-agent-memory/internal/store"
)

// ProvenanceQuery filters memories by provenance. Empty fields match
// anything.
type ProvenanceQuery struct {
	CognitoUserID  string
	SlackUserID    string
	SlackChannelID string
	SlackThreadTS  string
	RFPID          string
	Source         string
	Limit          int
}

func (q ProvenanceQuery) empty() bool {
	return q.CognitoUserID == "" && q.SlackUserID == "" && q.SlackChannelID == "" &&
		q.SlackThreadTS == "" && q.RFPID == "" && q.Source == ""
}

func (q ProvenanceQuery) matches(p model.Provenance) bool {
	return match(q.CognitoUserID, p.CognitoUserID) &&
		match(q.SlackUserID, p.SlackUserID) &&
		match(q.SlackChannelID, p.SlackChannelID) &&
		match(q.SlackThreadTS, p.SlackThreadTS) &&
		match(q.RFPID, p.RFPID) &&
		match(q.Source, p.Source)
}

func match(want, got string) bool {
	return want == "" || want == got
}

const (
	defaultProvenanceLimit = 50
	provenancePageSize     = 100
	// maxProvenanceScan bounds the items read per partition.
	maxProvenanceScan = 1000
)

// QueryByProvenance reads the USER and RFP partitions implied by q and
// filters them on the remaining fields. Without a user or rfp filter it
// walks the by-type index instead. Results are unique by memoryId.
func QueryByProvenance(ctx context.Context, st store.Store, q ProvenanceQuery) ([]*model.Memory, error) {
	if q.empty() {
		return nil, goerr.Wrap(model.ErrValidation, "at least one provenance filter is required")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultProvenanceLimit
	}

	c := &collector{q: q, limit: limit, seen: map[string]bool{}}

	var partitions []string
	if q.CognitoUserID != "" {
		partitions = append(partitions, model.UserScope(q.CognitoUserID).String())
	}
	if q.RFPID != "" {
		partitions = append(partitions, model.RFPScope(q.RFPID).String())
	}

	if len(partitions) > 0 {
		for _, pk := range partitions {
			err := scanAll(func(token string) (*store.Page, error) {
				return st.QueryIndex(ctx, store.IndexQueryParams{
					Index: store.IndexByCreation, PartitionKey: pk, Limit: provenancePageSize, PageToken: token,
				})
			}, c.add)
			if err != nil {
				return nil, goerr.Wrap(err, "provenance scan failed", goerr.V("partition", pk))
			}
			if c.full() {
				break
			}
		}
		return c.out, nil
	}

	for _, t := range model.AllMemoryTypes {
		err := scanAll(func(token string) (*store.Page, error) {
			return st.QueryIndex(ctx, store.IndexQueryParams{
				Index: store.IndexByType, PartitionKey: store.TypeIndexKey(t), Limit: provenancePageSize, PageToken: token,
			})
		}, c.add)
		if err != nil {
			return nil, goerr.Wrap(err, "provenance index scan failed", goerr.V("type", t))
		}
		if c.full() {
			break
		}
	}
	return c.out, nil
}

type collector struct {
	q     ProvenanceQuery
	limit int
	seen  map[string]bool
	out   []*model.Memory
}

func (c *collector) full() bool { return len(c.out) >= c.limit }

func (c *collector) add(m *model.Memory) bool {
	if c.full() {
		return false
	}
	if !c.seen[m.MemoryID] && c.q.matches(m.Provenance) {
		c.seen[m.MemoryID] = true
		c.out = append(c.out, m)
	}
	return !c.full()
}

func scanAll(next func(token string) (*store.Page, error), fn func(*model.Memory) bool) error {
	token := ""
	read := 0
	for {
		page, err := next(token)
		if err != nil {
			return err
		}
		for _, m := range page.Items {
			read++
			if !fn(m) || read >= maxProvenanceScan {
				return nil
			}
		}
		if page.NextToken == "" {
			return nil
		}
		token = page.NextToken
	}
}
