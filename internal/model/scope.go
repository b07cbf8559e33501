package model

import (
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// ScopeKind is the entity kind a memory partition belongs to.
type ScopeKind string

const (
	ScopeUser    ScopeKind = "USER"
	ScopeRFP     ScopeKind = "RFP"
	ScopeChannel ScopeKind = "CHANNEL"
	ScopeThread  ScopeKind = "THREAD"
	ScopeTenant  ScopeKind = "TENANT"
	ScopeGlobal  ScopeKind = "GLOBAL"
)

func (k ScopeKind) Valid() bool {
	switch k {
	case ScopeUser, ScopeRFP, ScopeChannel, ScopeThread, ScopeTenant, ScopeGlobal:
		return true
	}
	return false
}

// Scope is a parsed partition key. The KIND#id string form is only used at
// the storage and wire boundary.
type Scope struct {
	Kind ScopeKind
	ID   string
}

// GlobalScope is the catch-all partition.
var GlobalScope = Scope{Kind: ScopeGlobal}

func UserScope(sub string) Scope        { return Scope{Kind: ScopeUser, ID: sub} }
func RFPScope(rfpID string) Scope       { return Scope{Kind: ScopeRFP, ID: rfpID} }
func ChannelScope(channel string) Scope { return Scope{Kind: ScopeChannel, ID: channel} }
func TenantScope(tenantID string) Scope { return Scope{Kind: ScopeTenant, ID: tenantID} }

func ThreadScope(channel, ts string) Scope {
	return Scope{Kind: ScopeThread, ID: channel + "#" + ts}
}

// ParseScope parses "KIND#id". "GLOBAL" alone is accepted.
func ParseScope(s string) (Scope, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Scope{}, goerr.Wrap(ErrValidation, "scope is required")
	}
	kind, id, _ := strings.Cut(s, "#")
	sc := Scope{Kind: ScopeKind(strings.ToUpper(kind)), ID: id}
	if !sc.Kind.Valid() {
		return Scope{}, goerr.Wrap(ErrValidation, "unknown scope kind", goerr.V("scope", s))
	}
	if sc.Kind != ScopeGlobal && sc.ID == "" {
		return Scope{}, goerr.Wrap(ErrValidation, "scope id is required", goerr.V("scope", s))
	}
	if sc.Kind == ScopeThread {
		if ch, ts, ok := strings.Cut(sc.ID, "#"); !ok || ch == "" || ts == "" {
			return Scope{}, goerr.Wrap(ErrValidation, "thread scope must be THREAD#channel#ts", goerr.V("scope", s))
		}
	}
	return sc, nil
}

// String renders the storage form.
func (s Scope) String() string {
	if s.Kind == ScopeGlobal && s.ID == "" {
		return string(ScopeGlobal)
	}
	return string(s.Kind) + "#" + s.ID
}

// IsZero reports whether s is unset.
func (s Scope) IsZero() bool {
	return s.Kind == ""
}

// ThreadParts splits a thread scope into its channel and timestamp.
func (s Scope) ThreadParts() (channel, ts string, ok bool) {
	if s.Kind != ScopeThread {
		return "", "", false
	}
	return strings.Cut(s.ID, "#")
}
