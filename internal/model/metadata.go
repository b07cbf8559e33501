package model

import (
	"encoding/json"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// Reserved metadata keys. Typed fields are flattened into the persisted
// metadata map under these names; everything else is pass-through.
const (
	MetaKey            = "key"
	MetaValue          = "value"
	MetaConfidence     = "confidence"
	MetaWorkflowName   = "workflowName"
	MetaSteps          = "steps"
	MetaSuccess        = "success"
	MetaBlockID        = "blockId"
	MetaTitle          = "title"
	MetaVersion        = "version"
	MetaVersionHistory = "versionHistory"
	MetaUpdateHistory  = "updateHistory"
	MetaImportance     = "importanceScore"
)

// ProtectedMetadataKeys are never overwritten by a shallow metadata merge.
var ProtectedMetadataKeys = map[string]bool{
	MetaVersion:        true,
	MetaVersionHistory: true,
	MetaUpdateHistory:  true,
	MetaBlockID:        true,
}

// SemanticFields is a learned fact or preference.
type SemanticFields struct {
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence,omitempty"`
}

// ProceduralFields describes a workflow execution.
type ProceduralFields struct {
	WorkflowName string   `json:"workflowName"`
	Steps        []string `json:"steps,omitempty"`
	Success      bool     `json:"success"`
}

// BlockVersion is a prior state of a memory block.
type BlockVersion struct {
	Version   int       `json:"version"`
	Title     string    `json:"title,omitempty"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BlockFields carries memory block identity and versioning.
type BlockFields struct {
	BlockID        string         `json:"blockId"`
	Title          string         `json:"title,omitempty"`
	Version        int            `json:"version"`
	VersionHistory []BlockVersion `json:"versionHistory,omitempty"`
}

// UpdateRecord is one entry in a memory's update log.
type UpdateRecord struct {
	UpdatedAt       time.Time `json:"updatedAt"`
	PreviousSummary string    `json:"previousSummary,omitempty"`
	Fields          []string  `json:"fields"`
}

// Metadata holds the typed fields the engine interprets plus an open map for
// everything it passes through untouched.
type Metadata struct {
	Semantic      *SemanticFields
	Procedural    *ProceduralFields
	Block         *BlockFields
	Importance    *float64
	UpdateHistory []UpdateRecord
	Extra         map[string]any
}

// Clone returns a deep copy of md.
func (md Metadata) Clone() Metadata {
	c := Metadata{UpdateHistory: append([]UpdateRecord(nil), md.UpdateHistory...)}
	if md.Semantic != nil {
		s := *md.Semantic
		c.Semantic = &s
	}
	if md.Procedural != nil {
		p := *md.Procedural
		p.Steps = append([]string(nil), md.Procedural.Steps...)
		c.Procedural = &p
	}
	if md.Block != nil {
		b := *md.Block
		b.VersionHistory = append([]BlockVersion(nil), md.Block.VersionHistory...)
		c.Block = &b
	}
	if md.Importance != nil {
		v := *md.Importance
		c.Importance = &v
	}
	if md.Extra != nil {
		c.Extra = make(map[string]any, len(md.Extra))
		for k, v := range md.Extra {
			c.Extra[k] = v
		}
	}
	return c
}

// MarshalJSON flattens typed fields and Extra into a single object.
func (md Metadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(md.Extra)+8)
	for k, v := range md.Extra {
		out[k] = v
	}
	if s := md.Semantic; s != nil {
		out[MetaKey] = s.Key
		out[MetaValue] = s.Value
		if s.Confidence != 0 {
			out[MetaConfidence] = s.Confidence
		}
	}
	if p := md.Procedural; p != nil {
		out[MetaWorkflowName] = p.WorkflowName
		out[MetaSuccess] = p.Success
		if len(p.Steps) > 0 {
			out[MetaSteps] = p.Steps
		}
	}
	if b := md.Block; b != nil {
		out[MetaBlockID] = b.BlockID
		out[MetaVersion] = b.Version
		if b.Title != "" {
			out[MetaTitle] = b.Title
		}
		if len(b.VersionHistory) > 0 {
			out[MetaVersionHistory] = b.VersionHistory
		}
	}
	if md.Importance != nil {
		out[MetaImportance] = *md.Importance
	}
	if len(md.UpdateHistory) > 0 {
		out[MetaUpdateHistory] = md.UpdateHistory
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits a flat object back into typed fields and Extra.
func (md *Metadata) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*md = Metadata{}

	take := func(key string, dst any) error {
		v, ok := raw[key]
		if !ok {
			return nil
		}
		delete(raw, key)
		return json.Unmarshal(v, dst)
	}

	if _, ok := raw[MetaBlockID]; ok {
		b := &BlockFields{}
		for key, dst := range map[string]any{
			MetaBlockID:        &b.BlockID,
			MetaTitle:          &b.Title,
			MetaVersion:        &b.Version,
			MetaVersionHistory: &b.VersionHistory,
		} {
			if err := take(key, dst); err != nil {
				return goerr.Wrap(err, "invalid block metadata", goerr.V("key", key))
			}
		}
		md.Block = b
	}

	_, hasKey := raw[MetaKey]
	_, hasValue := raw[MetaValue]
	if hasKey && hasValue {
		s := &SemanticFields{}
		for key, dst := range map[string]any{
			MetaKey:        &s.Key,
			MetaValue:      &s.Value,
			MetaConfidence: &s.Confidence,
		} {
			if err := take(key, dst); err != nil {
				return goerr.Wrap(err, "invalid semantic metadata", goerr.V("key", key))
			}
		}
		md.Semantic = s
	}

	if _, ok := raw[MetaWorkflowName]; ok {
		p := &ProceduralFields{}
		for key, dst := range map[string]any{
			MetaWorkflowName: &p.WorkflowName,
			MetaSteps:        &p.Steps,
			MetaSuccess:      &p.Success,
		} {
			if err := take(key, dst); err != nil {
				return goerr.Wrap(err, "invalid procedural metadata", goerr.V("key", key))
			}
		}
		md.Procedural = p
	}

	if _, ok := raw[MetaImportance]; ok {
		var v float64
		if err := take(MetaImportance, &v); err != nil {
			return goerr.Wrap(err, "invalid importance score")
		}
		md.Importance = &v
	}
	if err := take(MetaUpdateHistory, &md.UpdateHistory); err != nil {
		return goerr.Wrap(err, "invalid update history")
	}

	if len(raw) > 0 {
		md.Extra = make(map[string]any, len(raw))
		for k, v := range raw {
			var x any
			if err := json.Unmarshal(v, &x); err != nil {
				return goerr.Wrap(err, "invalid metadata value", goerr.V("key", k))
			}
			md.Extra[k] = x
		}
	}
	return nil
}

// Map returns the flattened metadata as a generic map.
func (md Metadata) Map() (map[string]any, error) {
	data, err := json.Marshal(md)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode metadata")
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, goerr.Wrap(err, "failed to decode metadata")
	}
	return out, nil
}

// MetadataFromMap rebuilds typed metadata from a flattened map.
func MetadataFromMap(m map[string]any) (Metadata, error) {
	var md Metadata
	if len(m) == 0 {
		return md, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return md, goerr.Wrap(err, "failed to encode metadata map")
	}
	if err := json.Unmarshal(data, &md); err != nil {
		return md, goerr.Wrap(err, "failed to decode metadata map")
	}
	return md, nil
}

// Merge applies patch shallowly. Protected keys in patch are ignored and the
// protected state of md (block identity, versions, update log) is preserved.
func (md Metadata) Merge(patch map[string]any) (Metadata, error) {
	if len(patch) == 0 {
		return md.Clone(), nil
	}
	current, err := md.Map()
	if err != nil {
		return md, err
	}
	for k, v := range patch {
		if ProtectedMetadataKeys[k] {
			continue
		}
		current[k] = v
	}
	merged, err := MetadataFromMap(current)
	if err != nil {
		return md, err
	}
	merged.UpdateHistory = append([]UpdateRecord(nil), md.UpdateHistory...)
	if md.Block != nil {
		title := md.Block.Title
		if merged.Block != nil {
			title = merged.Block.Title
		}
		b := *md.Block
		b.Title = title
		b.VersionHistory = append([]BlockVersion(nil), md.Block.VersionHistory...)
		merged.Block = &b
	}
	return merged, nil
}
