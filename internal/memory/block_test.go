package memory_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/rcliao/rfp-agent-memory/internal/async"
	"github.com/rcliao/rfp-agent-memory/internal/memory"
	"github.com/rcliao/rfp-agent-memory/internal/model"
)

func TestBlockVersioning(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	b, err := svc.CreateBlock(ctx, memory.BlockInput{
		ScopeID: "RFP#r1", BlockID: "persona", Title: "Persona", Content: "Formal and concise.",
	})
	gt.NoError(t, err).Required()
	gt.Value(t, b.Metadata.Block.Version).Equal(1)

	const n = 4
	for i := 1; i <= n; i++ {
		// near-identical edits still produce a new block version
		_, err := svc.UpdateBlock(ctx, "RFP#r1", "persona", memory.BlockUpdate{
			Content: ptr(fmt.Sprintf("Formal and concise, revision %d.", i%2)),
		})
		gt.NoError(t, err).Required()
	}

	got, err := svc.GetBlock(ctx, "RFP#r1", "persona")
	gt.NoError(t, err).Required()
	gt.Value(t, got.Metadata.Block.Version).Equal(1 + n)
	gt.Array(t, got.Metadata.Block.VersionHistory).Length(n).Required()
	gt.Value(t, got.Metadata.Block.VersionHistory[0].Version).Equal(1)
	gt.Value(t, got.Metadata.Block.VersionHistory[0].Content).Equal("Formal and concise.")
	gt.Value(t, got.Metadata.Block.BlockID).Equal("persona")
	gt.Bool(t, got.CreatedAt.Equal(b.CreatedAt)).True()
}

func TestBlockTitleOnlyUpdate(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.CreateBlock(ctx, memory.BlockInput{ScopeID: "USER#u1", BlockID: "notes", Title: "Notes", Content: "Draft notes."})
	gt.NoError(t, err).Required()

	got, err := svc.UpdateBlock(ctx, "USER#u1", "notes", memory.BlockUpdate{Title: ptr("Working notes")})
	gt.NoError(t, err).Required()
	gt.Value(t, got.Metadata.Block.Title).Equal("Working notes")
	gt.Value(t, got.Metadata.Block.Version).Equal(2)
	gt.Value(t, got.Content).Equal("Draft notes.")

	_, err = svc.UpdateBlock(ctx, "USER#u1", "notes", memory.BlockUpdate{})
	gt.Error(t, err).Is(model.ErrValidation)
}

func TestGenericUpdateVersionsBlock(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	b, err := svc.CreateBlock(ctx, memory.BlockInput{ScopeID: "USER#u1", BlockID: "persona", Title: "Persona", Content: "Formal and concise."})
	gt.NoError(t, err).Required()

	got, err := svc.Update(ctx, b.Key(), memory.UpdateInput{Content: ptr("Friendly and detailed.")})
	gt.NoError(t, err).Required()
	gt.Value(t, got.Content).Equal("Friendly and detailed.")
	gt.Value(t, got.Metadata.Block.Version).Equal(2)
	gt.Array(t, got.Metadata.Block.VersionHistory).Length(1).Required()
	gt.Value(t, got.Metadata.Block.VersionHistory[0].Content).Equal("Formal and concise.")

	got, err = svc.UpdateBlock(ctx, "USER#u1", "persona", memory.BlockUpdate{Content: ptr("Friendly, detailed and warm.")})
	gt.NoError(t, err).Required()
	gt.Value(t, got.Metadata.Block.Version).Equal(3)
	gt.Array(t, got.Metadata.Block.VersionHistory).Length(2)
}

func TestListBlocksSkipsArchived(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	old, err := svc.CreateBlock(ctx, memory.BlockInput{ScopeID: "USER#u1", BlockID: "old", Title: "Retired", Content: "Obsolete persona."})
	gt.NoError(t, err).Required()
	current, err := svc.CreateBlock(ctx, memory.BlockInput{ScopeID: "USER#u1", BlockID: "current", Title: "Persona", Content: "Formal and concise."})
	gt.NoError(t, err).Required()
	_, err = svc.Archive(ctx, old.Key())
	gt.NoError(t, err).Required()

	blocks, err := svc.ListBlocks(ctx, "USER#u1", 10)
	gt.NoError(t, err).Required()
	gt.Array(t, blocks).Length(1).Required()
	gt.Value(t, blocks[0].MemoryID).Equal(current.MemoryID)
}

func TestBlockIDUniquePerScope(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.CreateBlock(ctx, memory.BlockInput{ScopeID: "USER#u1", BlockID: "goals", Content: "Win the bid."})
	gt.NoError(t, err).Required()

	_, err = svc.CreateBlock(ctx, memory.BlockInput{ScopeID: "USER#u1", BlockID: "goals", Content: "Other."})
	gt.Error(t, err).Is(model.ErrValidation)

	_, err = svc.CreateBlock(ctx, memory.BlockInput{ScopeID: "USER#u2", BlockID: "goals", Content: "Other scope."})
	gt.NoError(t, err)

	_, err = svc.CreateBlock(ctx, memory.BlockInput{ScopeID: "USER#u1", BlockID: " ", Content: "x"})
	gt.Error(t, err).Is(model.ErrValidation)

	_, err = svc.GetBlock(ctx, "USER#u1", "missing")
	gt.Error(t, err).Is(model.ErrNotFound)

	blocks, err := svc.ListBlocks(ctx, "USER#u1", 10)
	gt.NoError(t, err).Required()
	gt.Array(t, blocks).Length(1)
}

func TestStoreSemanticUpserts(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	first, err := svc.StoreSemantic(ctx, memory.SemanticInput{ScopeID: "USER#u1", Key: "contact channel", Value: "email", Confidence: 0.8})
	gt.NoError(t, err).Required()
	gt.Value(t, first.Metadata.Semantic.Value).Equal("email")
	gt.Array(t, first.Tags).Has("preference")

	same, err := svc.StoreSemantic(ctx, memory.SemanticInput{ScopeID: "USER#u1", Key: "contact channel", Value: "email"})
	gt.NoError(t, err).Required()
	gt.Value(t, same.MemoryID).Equal(first.MemoryID)
	gt.Array(t, same.Metadata.UpdateHistory).Length(0)

	changed, err := svc.StoreSemantic(ctx, memory.SemanticInput{ScopeID: "USER#u1", Key: "Contact Channel", Value: "slack direct message"})
	gt.NoError(t, err).Required()
	gt.Value(t, changed.MemoryID).Equal(first.MemoryID)
	gt.Value(t, changed.Metadata.Semantic.Value).Equal("slack direct message")
	gt.Value(t, changed.Metadata.Semantic.Confidence).Equal(0.8)
	gt.Array(t, changed.Metadata.UpdateHistory).Length(1)

	_, err = svc.StoreSemantic(ctx, memory.SemanticInput{ScopeID: "USER#u1", Key: "", Value: "x"})
	gt.Error(t, err).Is(model.ErrValidation)
}

func TestStoreProcedural(t *testing.T) {
	svc := newTestService(t)
	m, err := svc.StoreProcedural(context.Background(), memory.ProceduralInput{
		ScopeID: "USER#u1", WorkflowName: "draft-section", Steps: []string{"outline", "draft", "review"}, Success: true,
	})
	gt.NoError(t, err).Required()
	gt.Value(t, m.Content).Equal("Workflow draft-section succeeded: outline -> draft -> review")
	gt.Value(t, m.Metadata.Procedural.WorkflowName).Equal("draft-section")
	gt.Array(t, m.Tags).Has("workflow")
}

func TestLinkAndGetRelated(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	mk := func(content string) *model.Memory {
		m, err := svc.Create(ctx, memory.CreateInput{MemoryType: model.MemoryEpisodic, ScopeID: "RFP#r1", Content: content})
		gt.NoError(t, err).Required()
		return m
	}
	a, b, c, d := mk("alpha event"), mk("bravo event"), mk("charlie event"), mk("delta event")

	_, err := svc.Link(ctx, a.Key(), b.Key(), model.RelCauses)
	gt.NoError(t, err).Required()
	_, err = svc.Link(ctx, b.Key(), c.Key(), model.RelRefersTo)
	gt.NoError(t, err).Required()
	linked, err := svc.Link(ctx, c.Key(), d.Key(), "")
	gt.NoError(t, err).Required()
	gt.Value(t, linked.RelatedMemoryIDs).Equal([]string{d.MemoryID})

	// linking twice keeps one edge
	again, err := svc.Link(ctx, a.Key(), b.Key(), model.RelCauses)
	gt.NoError(t, err).Required()
	gt.Array(t, again.Relationships).Length(1)

	_, err = svc.Link(ctx, a.Key(), b.Key(), "likes")
	gt.Error(t, err).Is(model.ErrValidation)

	one, err := svc.GetRelated(ctx, a.Key(), memory.RelatedQuery{})
	gt.NoError(t, err).Required()
	gt.Array(t, one).Length(1)

	two, err := svc.GetRelated(ctx, a.Key(), memory.RelatedQuery{Depth: 2})
	gt.NoError(t, err).Required()
	gt.Array(t, two).Length(2)

	capped, err := svc.GetRelated(ctx, a.Key(), memory.RelatedQuery{Depth: 10})
	gt.NoError(t, err).Required()
	gt.Array(t, capped).Length(3)

	filtered, err := svc.GetRelated(ctx, a.Key(), memory.RelatedQuery{Depth: 3, Type: model.RelCauses})
	gt.NoError(t, err).Required()
	gt.Array(t, filtered).Length(1)
	gt.Value(t, filtered[0].MemoryID).Equal(b.MemoryID)
}

func TestTouchAndArchive(t *testing.T) {
	ctx := context.Background()
	d := async.New(async.WithTimeout(time.Second))
	svc := newTestService(t, memory.WithDispatcher(d))

	m, err := svc.Create(ctx, memory.CreateInput{MemoryType: model.MemoryEpisodic, ScopeID: "USER#u1", Content: "touch me"})
	gt.NoError(t, err).Required()

	svc.Touch(ctx, m.Key(), m.Key())
	d.Wait()

	got, err := svc.Get(ctx, m.Key())
	gt.NoError(t, err).Required()
	gt.Value(t, got.AccessCount).Equal(2)
	gt.Value(t, got.LastAccessedAt).NotNil()

	archived, err := svc.Archive(ctx, m.Key())
	gt.NoError(t, err).Required()
	gt.Bool(t, archived.Compressed).True()
	gt.Array(t, d.Failures()).Length(0)
}
