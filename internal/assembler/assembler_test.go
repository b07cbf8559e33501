package assembler_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/m-mizutani/gt"

	"github.com/rcliao/rfp-agent-memory/internal/assembler"
	"github.com/rcliao/rfp-agent-memory/internal/memory"
	"github.com/rcliao/rfp-agent-memory/internal/model"
	"github.com/rcliao/rfp-agent-memory/internal/retrieval"
	"github.com/rcliao/rfp-agent-memory/internal/store"
)

type fixture struct {
	svc *memory.Service
	st  *store.Memory
	asm *assembler.Assembler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemory()
	clock := time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)
	svc := memory.New(st, memory.WithClock(func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}))
	asm := assembler.New(svc, retrieval.New(st, retrieval.DefaultConfig()), assembler.WithMessages(st))
	return &fixture{svc: svc, st: st, asm: asm}
}

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	for i, role := range []model.Role{model.RoleUser, model.RoleAssistant} {
		gt.NoError(t, f.st.AppendMessage(ctx, model.Message{
			UserSub: "u1", Role: role, Content: fmt.Sprintf("message %d", i),
			Timestamp: time.Date(2025, 4, 1, 9, i, 0, 0, time.UTC),
		})).Required()
	}
	_, err := f.svc.CreateBlock(ctx, memory.BlockInput{ScopeID: "RFP#r1", BlockID: "persona", Title: "Persona", Content: "Formal."})
	gt.NoError(t, err).Required()
	_, err = f.svc.StoreEpisodic(ctx, memory.EpisodicInput{ScopeID: "RFP#r1", Content: "Kickoff held with the evaluation team."})
	gt.NoError(t, err).Required()
	_, err = f.svc.StoreSemantic(ctx, memory.SemanticInput{ScopeID: "USER#u1", Key: "tone", Value: "formal"})
	gt.NoError(t, err).Required()
	_, err = f.svc.StoreProcedural(ctx, memory.ProceduralInput{ScopeID: "USER#u1", WorkflowName: "draft", Steps: []string{"outline", "write"}, Success: true})
	gt.NoError(t, err).Required()
	old, err := f.svc.StoreEpisodic(ctx, memory.EpisodicInput{ScopeID: "USER#u1", Content: "Last year's bid debrief."})
	gt.NoError(t, err).Required()
	_, err = f.svc.Archive(ctx, old.Key())
	gt.NoError(t, err).Required()
}

func TestBuildFillsEveryTierInOrder(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	tracker := assembler.NewCharTracker(100000)
	res, err := f.asm.Build(context.Background(), tracker, assembler.Request{UserSub: "u1", RFPID: "r1"})
	gt.NoError(t, err).Required()

	for _, tier := range assembler.Tiers {
		gt.Number(t, res.Counts[tier]).Greater(0)
	}
	gt.Value(t, res.Counts[assembler.TierMessages]).Equal(2)

	lines := strings.Split(res.Text, "\n")
	gt.Array(t, lines).Length(res.Included).Required()
	gt.Value(t, lines[0]).Equal("USER: message 0 (2025-04-01)")
	gt.Value(t, lines[2]).Equal("[BLOCK] Persona: Formal.")
	gt.S(t, lines[3]).Contains("[EPISODIC] Kickoff held")
	gt.S(t, lines[len(lines)-1]).Contains("debrief")
}

func TestBuildNeverExceedsBudget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		_, err := f.svc.StoreEpisodic(ctx, memory.EpisodicInput{
			ScopeID: "USER#u1",
			Content: fmt.Sprintf("Section %d review: %s", i, strings.Repeat("pricing detail ", 8)),
		})
		gt.NoError(t, err).Required()
	}

	for _, capacity := range []int{0, 120, 501, 700, 1500} {
		tracker := assembler.NewCharTracker(capacity)
		res, err := f.asm.Build(ctx, tracker, assembler.Request{UserSub: "u1"})
		gt.NoError(t, err).Required()
		gt.Number(t, tracker.Used()).LessOrEqual(capacity)
		gt.Number(t, utf8.RuneCountInString(res.Text)).LessOrEqual(capacity)
	}
}

func TestBuildLowBudgetOnlyArchival(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	res, err := f.asm.Build(ctx, assembler.NewCharTracker(250), assembler.Request{UserSub: "u1", RFPID: "r1"})
	gt.NoError(t, err).Required()
	gt.Value(t, res.Counts[assembler.TierArchival]).Equal(1)
	for _, tier := range assembler.Tiers[:5] {
		gt.Value(t, res.Counts[tier]).Equal(0)
	}

	empty, err := f.asm.Build(ctx, assembler.NewCharTracker(50), assembler.Request{UserSub: "u1", RFPID: "r1"})
	gt.NoError(t, err).Required()
	gt.Value(t, empty.Text).Equal("")
	gt.Value(t, empty.Included).Equal(0)
	gt.Map(t, empty.Counts).HasKey(assembler.TierArchival)
	for _, tier := range assembler.Tiers {
		gt.Value(t, empty.Counts[tier]).Equal(0)
	}
}

func TestBuildDegradedWithoutTracker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		_, err := f.svc.StoreEpisodic(ctx, memory.EpisodicInput{ScopeID: "USER#u1", Content: fmt.Sprintf("note %d", i)})
		gt.NoError(t, err).Required()
	}

	res, err := f.asm.Build(ctx, nil, assembler.Request{UserSub: "u1"})
	gt.NoError(t, err).Required()
	gt.Bool(t, res.Degraded).True()
	gt.Value(t, res.Included).Equal(assembler.DegradedLimit)

	_, err = f.asm.Build(ctx, nil, assembler.Request{})
	gt.Error(t, err).Is(model.ErrValidation)
}

func TestRender(t *testing.T) {
	created := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)
	m := &model.Memory{
		MemoryType: model.MemorySemantic,
		Summary:    strings.Repeat("x", 300),
		Tags:       []string{"a", "b", "c", "d"},
		CreatedAt:  created,
	}
	line := assembler.RenderMemory(m)
	gt.S(t, line).Contains("(2025-02-03) [a, b, c]")
	gt.S(t, line).NotContains(", d")

	block := &model.Memory{
		Content:  strings.Repeat("y", 500),
		Metadata: model.Metadata{Block: &model.BlockFields{BlockID: "goals", Version: 1}},
	}
	gt.Number(t, utf8.RuneCountInString(assembler.RenderBlock(block))).Equal(300)
	gt.S(t, assembler.RenderBlock(block)).Contains("[BLOCK] goals: ")

	msg := assembler.RenderMessage(model.Message{Role: model.RoleAssistant, Content: "Done.", Timestamp: created})
	gt.Value(t, msg).Equal("ASSISTANT: Done. (2025-02-03)")
}

func TestBuildArchivalTierBehindNewerMemories(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old, err := f.svc.StoreEpisodic(ctx, memory.EpisodicInput{ScopeID: "USER#u1", Content: "Last year's bid debrief."})
	gt.NoError(t, err).Required()
	_, err = f.svc.Archive(ctx, old.Key())
	gt.NoError(t, err).Required()
	for i := 0; i < 12; i++ {
		_, err := f.svc.StoreEpisodic(ctx, memory.EpisodicInput{ScopeID: "USER#u1", Content: fmt.Sprintf("Standup note number %d.", i)})
		gt.NoError(t, err).Required()
	}

	res, err := f.asm.Build(ctx, assembler.NewCharTracker(100000), assembler.Request{UserSub: "u1"})
	gt.NoError(t, err).Required()
	gt.Value(t, res.Counts[assembler.TierArchival]).Equal(1)
	gt.S(t, res.Text).Contains("debrief")
}

func TestBuildSkipsArchivedBlocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.svc.CreateBlock(ctx, memory.BlockInput{ScopeID: "USER#u1", BlockID: "old", Title: "Retired", Content: "Obsolete persona."})
	gt.NoError(t, err).Required()
	_, err = f.svc.Archive(ctx, b.Key())
	gt.NoError(t, err).Required()

	res, err := f.asm.Build(ctx, assembler.NewCharTracker(100000), assembler.Request{UserSub: "u1"})
	gt.NoError(t, err).Required()
	gt.Value(t, res.Counts[assembler.TierBlocks]).Equal(0)
	gt.S(t, res.Text).NotContains("[BLOCK] Retired")
	gt.Value(t, strings.Count(res.Text, "Obsolete persona.")).Equal(1)
}
