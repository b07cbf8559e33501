package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/rfp-agent-memory/internal/model"
	"github.com/rcliao/rfp-agent-memory/internal/store"
)

// EpisodicInput records something that happened.
type EpisodicInput struct {
	ScopeID          string
	Content          string
	Tags             []string
	Metadata         map[string]any
	Provenance       model.Provenance
	RelatedMemoryIDs []string
}

func (s *Service) StoreEpisodic(ctx context.Context, in EpisodicInput) (*model.Memory, error) {
	md, err := model.MetadataFromMap(in.Metadata)
	if err != nil {
		return nil, goerr.Wrap(model.ErrValidation, "invalid metadata", goerr.V("cause", err.Error()))
	}
	return s.Create(ctx, CreateInput{
		MemoryType:       model.MemoryEpisodic,
		ScopeID:          in.ScopeID,
		Content:          in.Content,
		Tags:             in.Tags,
		Metadata:         md,
		Provenance:       in.Provenance,
		RelatedMemoryIDs: in.RelatedMemoryIDs,
	})
}

// SemanticInput is a learned fact or preference addressed by Key.
type SemanticInput struct {
	ScopeID    string
	Key        string
	Value      string
	Confidence float64
	Tags       []string
	Provenance model.Provenance
}

// StoreSemantic upserts the fact named in.Key within the scope. When the new
// value is not a significant change the stored memory is returned as is.
func (s *Service) StoreSemantic(ctx context.Context, in SemanticInput) (*model.Memory, error) {
	key := strings.TrimSpace(in.Key)
	if key == "" {
		return nil, goerr.Wrap(model.ErrValidation, "semantic key is required")
	}
	if strings.TrimSpace(in.Value) == "" {
		return nil, goerr.Wrap(model.ErrValidation, "semantic value is required", goerr.V("key", key))
	}
	scope, err := model.ParseScope(in.ScopeID)
	if err != nil {
		return nil, err
	}
	content := key + ": " + in.Value

	unlock := s.lockScope(scope.String())
	defer unlock()

	existing, err := s.findSemantic(ctx, scope.String(), key)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return s.Create(ctx, CreateInput{
			MemoryType: model.MemorySemantic,
			ScopeID:    scope.String(),
			Content:    content,
			Tags:       append([]string{"preference"}, in.Tags...),
			Metadata: model.Metadata{
				Semantic: &model.SemanticFields{Key: key, Value: in.Value, Confidence: in.Confidence},
			},
			Provenance: in.Provenance,
		})
	}

	if existing.Content == content && len(in.Tags) == 0 &&
		(in.Confidence == 0 || existing.Metadata.Semantic.Confidence == in.Confidence) {
		return existing, nil
	}

	patch := map[string]any{model.MetaKey: key, model.MetaValue: in.Value}
	if in.Confidence != 0 {
		patch[model.MetaConfidence] = in.Confidence
	}
	upd := UpdateInput{Content: &content, Metadata: patch}
	if len(in.Tags) > 0 {
		upd.Tags = append(append([]string(nil), existing.Tags...), in.Tags...)
	}
	updated, err := s.Update(ctx, existing.Key(), upd)
	if errors.Is(err, model.ErrNoSignificantChange) {
		return existing, nil
	}
	return updated, err
}

func (s *Service) findSemantic(ctx context.Context, scopeID, key string) (*model.Memory, error) {
	var found *model.Memory
	err := s.scan(ctx, scopeID, model.MemorySemantic, func(m *model.Memory) bool {
		if m.Metadata.Semantic != nil && strings.EqualFold(m.Metadata.Semantic.Key, key) {
			found = m
			return false
		}
		return true
	})
	return found, err
}

// ProceduralInput describes one workflow execution.
type ProceduralInput struct {
	ScopeID      string
	WorkflowName string
	Steps        []string
	Success      bool
	Tags         []string
	Provenance   model.Provenance
}

func (s *Service) StoreProcedural(ctx context.Context, in ProceduralInput) (*model.Memory, error) {
	name := strings.TrimSpace(in.WorkflowName)
	if name == "" {
		return nil, goerr.Wrap(model.ErrValidation, "workflow name is required")
	}
	outcome := "succeeded"
	if !in.Success {
		outcome = "failed"
	}
	content := fmt.Sprintf("Workflow %s %s", name, outcome)
	if len(in.Steps) > 0 {
		content += ": " + strings.Join(in.Steps, " -> ")
	}
	return s.Create(ctx, CreateInput{
		MemoryType: model.MemoryProcedural,
		ScopeID:    in.ScopeID,
		Content:    content,
		Tags:       append([]string{"workflow"}, in.Tags...),
		Metadata: model.Metadata{
			Procedural: &model.ProceduralFields{
				WorkflowName: name,
				Steps:        append([]string(nil), in.Steps...),
				Success:      in.Success,
			},
		},
		Provenance: in.Provenance,
	})
}

// StoreDiagnostics persists a diagnostics payload as JSON content.
func (s *Service) StoreDiagnostics(ctx context.Context, scopeID, summary string, payload any) (*model.Memory, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode diagnostics payload")
	}
	return s.Create(ctx, CreateInput{
		MemoryType: model.MemoryDiagnostics,
		ScopeID:    scopeID,
		Content:    string(raw),
		Summary:    summary,
		Tags:       []string{"diagnostics"},
		Keywords:   []string{"diagnostics"},
	})
}

// StoreErrorLog records an error message with optional structured fields.
func (s *Service) StoreErrorLog(ctx context.Context, scopeID, message string, fields map[string]any) (*model.Memory, error) {
	return s.Create(ctx, CreateInput{
		MemoryType: model.MemoryErrorLog,
		ScopeID:    scopeID,
		Content:    message,
		Tags:       []string{"error"},
		Metadata:   model.Metadata{Extra: fields},
	})
}

// scan walks one memory type of a partition newest first until fn returns
// false.
func (s *Service) scan(ctx context.Context, scopeID string, t model.MemoryType, fn func(*model.Memory) bool) error {
	token := ""
	for {
		page, err := s.store.Query(ctx, store.QueryParams{
			PartitionKey:  scopeID,
			SortKeyPrefix: store.TypePrefix(t),
			Limit:         scanPageSize,
			PageToken:     token,
		})
		if err != nil {
			return err
		}
		for _, m := range page.Items {
			if !fn(m) {
				return nil
			}
		}
		if page.NextToken == "" {
			return nil
		}
		token = page.NextToken
	}
}

const scanPageSize = 100
