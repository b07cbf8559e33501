// Package scope derives the set of memory partitions relevant to a request.
// Expansion is pure: relationships come from caller-supplied hints and are
// never looked up in storage.
package scope

import (
	"github.com/rcliao/rfp-agent-memory/internal/model"
)

// Expansion caps per relationship.
const (
	MaxUserRFPs        = 10
	MaxUserChannels    = 10
	MaxChannelMembers  = 20
	MaxChannelRFPs     = 10
	MaxRFPParticipants = 20
	MaxRFPChannels     = 10
)

// Hints are the known relationships between entities, keyed by entity id.
type Hints struct {
	RFPParticipants map[string][]string `json:"rfpParticipants,omitempty" toml:"rfp_participants"`
	RFPChannels     map[string][]string `json:"rfpChannels,omitempty" toml:"rfp_channels"`
	RFPTenant       map[string]string   `json:"rfpTenant,omitempty" toml:"rfp_tenant"`
	UserTenant      map[string]string   `json:"userTenant,omitempty" toml:"user_tenant"`
	UserRFPs        map[string][]string `json:"userRfps,omitempty" toml:"user_rfps"`
	UserChannels    map[string][]string `json:"userChannels,omitempty" toml:"user_channels"`
	ChannelMembers  map[string][]string `json:"channelMembers,omitempty" toml:"channel_members"`
	ChannelRFPs     map[string][]string `json:"channelRfps,omitempty" toml:"channel_rfps"`
}

// Input describes the request context. When Primary is set the other ids
// only refine its expansion (thread timestamp, tenant fallback).
type Input struct {
	Primary   string
	RFPID     string
	ChannelID string
	ThreadTS  string
	UserSub   string
	TenantID  string
	Hints     Hints
}

// Expand returns the ordered, duplicate-free scope ids for in, primary (or
// each given entity) first and GLOBAL always last.
func Expand(in Input) ([]string, error) {
	b := &builder{in: in, seen: map[string]bool{}}

	if in.Primary != "" {
		primary, err := model.ParseScope(in.Primary)
		if err != nil {
			return nil, err
		}
		b.expand(primary)
	} else {
		if in.RFPID != "" {
			b.expand(model.RFPScope(in.RFPID))
		}
		if in.ChannelID != "" {
			b.expand(model.ChannelScope(in.ChannelID))
		}
		if in.UserSub != "" {
			b.expand(model.UserScope(in.UserSub))
		}
		if in.TenantID != "" {
			b.expand(model.TenantScope(in.TenantID))
		}
	}

	b.out = append(b.out, model.GlobalScope.String())
	return b.out, nil
}

type builder struct {
	in   Input
	seen map[string]bool
	out  []string
}

func (b *builder) add(s model.Scope) bool {
	if s.Kind == model.ScopeGlobal || s.ID == "" {
		return false
	}
	id := s.String()
	if b.seen[id] {
		return false
	}
	b.seen[id] = true
	b.out = append(b.out, id)
	return true
}

func (b *builder) expand(s model.Scope) {
	if !b.add(s) {
		return
	}
	h := b.in.Hints

	switch s.Kind {
	case model.ScopeRFP:
		for _, u := range capped(h.RFPParticipants[s.ID], MaxRFPParticipants) {
			b.add(model.UserScope(u))
		}
		for _, c := range capped(h.RFPChannels[s.ID], MaxRFPChannels) {
			b.add(model.ChannelScope(c))
		}
		b.add(model.TenantScope(firstNonEmpty(h.RFPTenant[s.ID], b.in.TenantID)))

	case model.ScopeUser:
		b.add(model.TenantScope(firstNonEmpty(h.UserTenant[s.ID], b.in.TenantID)))
		for _, r := range capped(h.UserRFPs[s.ID], MaxUserRFPs) {
			b.add(model.RFPScope(r))
		}
		for _, c := range capped(h.UserChannels[s.ID], MaxUserChannels) {
			b.add(model.ChannelScope(c))
		}

	case model.ScopeChannel:
		if b.in.ThreadTS != "" {
			b.add(model.ThreadScope(s.ID, b.in.ThreadTS))
		}
		for _, u := range capped(h.ChannelMembers[s.ID], MaxChannelMembers) {
			b.add(model.UserScope(u))
		}
		for _, r := range capped(h.ChannelRFPs[s.ID], MaxChannelRFPs) {
			b.add(model.RFPScope(r))
		}

	case model.ScopeThread:
		if channel, _, ok := s.ThreadParts(); ok {
			b.expand(model.ChannelScope(channel))
		}
	}
}

func capped(xs []string, n int) []string {
	if len(xs) > n {
		return xs[:n]
	}
	return xs
}

func firstNonEmpty(xs ...string) string {
	for _, x := range xs {
		if x != "" {
			return x
		}
	}
	return ""
}
