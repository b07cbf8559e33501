// Package model defines the core memory data types.
package model

import (
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// MemoryType is the kind of a stored memory.
type MemoryType string

const (
	MemoryEpisodic             MemoryType = "EPISODIC"
	MemorySemantic             MemoryType = "SEMANTIC"
	MemoryProcedural           MemoryType = "PROCEDURAL"
	MemoryBlock                MemoryType = "MEMORY_BLOCK"
	MemoryDiagnostics          MemoryType = "DIAGNOSTICS"
	MemoryErrorLog             MemoryType = "ERROR_LOG"
	MemoryExternalContext      MemoryType = "EXTERNAL_CONTEXT"
	MemoryCollaborationContext MemoryType = "COLLABORATION_CONTEXT"
	MemoryTemporalEvent        MemoryType = "TEMPORAL_EVENT"
)

// AllMemoryTypes lists every known memory type in a stable order.
var AllMemoryTypes = []MemoryType{
	MemoryEpisodic,
	MemorySemantic,
	MemoryProcedural,
	MemoryBlock,
	MemoryDiagnostics,
	MemoryErrorLog,
	MemoryExternalContext,
	MemoryCollaborationContext,
	MemoryTemporalEvent,
}

// Valid reports whether t is one of the known memory types.
func (t MemoryType) Valid() bool {
	for _, v := range AllMemoryTypes {
		if v == t {
			return true
		}
	}
	return false
}

// ParseMemoryType accepts either the canonical upper-case name or its
// lower-case form ("episodic", "memory_block").
func ParseMemoryType(s string) (MemoryType, error) {
	t := MemoryType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", goerr.Wrap(ErrValidation, "unknown memory type", goerr.V("type", s))
	}
	return t, nil
}

// RelationshipType labels an edge between two memories.
type RelationshipType string

const (
	RelRefersTo         RelationshipType = "refers_to"
	RelDependsOn        RelationshipType = "depends_on"
	RelContradicts      RelationshipType = "contradicts"
	RelReinforces       RelationshipType = "reinforces"
	RelTemporalSequence RelationshipType = "temporal_sequence"
	RelCauses           RelationshipType = "causes"
	RelPartOf           RelationshipType = "part_of"
	RelRelated          RelationshipType = "related"
)

var validRelationships = map[RelationshipType]bool{
	RelRefersTo:         true,
	RelDependsOn:        true,
	RelContradicts:      true,
	RelReinforces:       true,
	RelTemporalSequence: true,
	RelCauses:           true,
	RelPartOf:           true,
	RelRelated:          true,
}

// Valid reports whether r is in the closed relationship set.
func (r RelationshipType) Valid() bool {
	return validRelationships[r]
}

// Provenance records where a memory came from.
type Provenance struct {
	CognitoUserID  string `json:"cognitoUserId,omitempty" firestore:"cognitoUserId,omitempty" masq:"secret"`
	SlackUserID    string `json:"slackUserId,omitempty" firestore:"slackUserId,omitempty" masq:"secret"`
	SlackChannelID string `json:"slackChannelId,omitempty" firestore:"slackChannelId,omitempty"`
	SlackThreadTS  string `json:"slackThreadTs,omitempty" firestore:"slackThreadTs,omitempty"`
	SlackTeamID    string `json:"slackTeamId,omitempty" firestore:"slackTeamId,omitempty"`
	RFPID          string `json:"rfpId,omitempty" firestore:"rfpId,omitempty"`
	Source         string `json:"source,omitempty" firestore:"source,omitempty"`
}

// IsZero reports whether no provenance field is set.
func (p Provenance) IsZero() bool {
	return p == Provenance{}
}

// Relationship is a directed edge stored on the source memory.
type Relationship struct {
	Target    Key              `json:"target"`
	Type      RelationshipType `json:"relationshipType"`
	CreatedAt time.Time        `json:"createdAt"`
}

// Key is the storage identity tuple of a memory.
type Key struct {
	MemoryID   string     `json:"memoryId"`
	MemoryType MemoryType `json:"memoryType"`
	ScopeID    string     `json:"scopeId"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Validate checks that every tuple component is present.
func (k Key) Validate() error {
	if k.MemoryID == "" || k.ScopeID == "" || k.CreatedAt.IsZero() || !k.MemoryType.Valid() {
		return goerr.Wrap(ErrValidation, "incomplete memory key",
			goerr.V("memoryId", k.MemoryID),
			goerr.V("memoryType", k.MemoryType),
			goerr.V("scopeId", k.ScopeID))
	}
	return nil
}

// Memory represents a stored memory entry.
type Memory struct {
	MemoryID         string         `json:"memoryId"`
	MemoryType       MemoryType     `json:"memoryType"`
	ScopeID          string         `json:"scopeId"`
	Content          string         `json:"content"`
	Summary          string         `json:"summary,omitempty"`
	Tags             []string       `json:"tags,omitempty"`
	Keywords         []string       `json:"keywords,omitempty"`
	Metadata         Metadata       `json:"metadata"`
	Provenance       Provenance     `json:"provenance"`
	RelatedMemoryIDs []string       `json:"relatedMemoryIds,omitempty"`
	Relationships    []Relationship `json:"relationships,omitempty"`
	AccessCount      int            `json:"accessCount"`
	LastAccessedAt   *time.Time     `json:"lastAccessedAt,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	Compressed       bool           `json:"compressed"`
}

// Key returns the storage identity of m.
func (m *Memory) Key() Key {
	return Key{
		MemoryID:   m.MemoryID,
		MemoryType: m.MemoryType,
		ScopeID:    m.ScopeID,
		CreatedAt:  m.CreatedAt,
	}
}

// Clone returns a deep copy of m.
func (m *Memory) Clone() *Memory {
	if m == nil {
		return nil
	}
	c := *m
	c.Tags = append([]string(nil), m.Tags...)
	c.Keywords = append([]string(nil), m.Keywords...)
	c.RelatedMemoryIDs = append([]string(nil), m.RelatedMemoryIDs...)
	c.Relationships = append([]Relationship(nil), m.Relationships...)
	c.Metadata = m.Metadata.Clone()
	if m.LastAccessedAt != nil {
		t := *m.LastAccessedAt
		c.LastAccessedAt = &t
	}
	return &c
}

// HasTag reports whether tag is attached to m.
func (m *Memory) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// Content and derived field limits applied at write time.
const (
	MaxContentLength = 20000
	MaxSummaryLength = 500
	MaxTags          = 25
)

// Now returns the current time truncated to the precision every storage
// backend preserves, so keys built from it round-trip exactly.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
