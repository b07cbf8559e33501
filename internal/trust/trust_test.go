package trust_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/rcliao/rfp-agent-memory/internal/memory"
	"github.com/rcliao/rfp-agent-memory/internal/model"
	"github.com/rcliao/rfp-agent-memory/internal/store"
	"github.com/rcliao/rfp-agent-memory/internal/trust"
)

func TestWeight(t *testing.T) {
	bare := &model.Memory{}
	gt.Value(t, trust.Weight(bare, nil, nil)).Equal(1.0)

	full := &model.Memory{Provenance: model.Provenance{CognitoUserID: "u1", Source: "api"}}
	w := trust.Weight(full, map[string]bool{"u1": true}, map[string]bool{"u1": true})
	// trusted source 0.1, verified 0.2, cited 0.1, complete 0.1
	gt.Number(t, w).Greater(1.49)
	gt.Number(t, w).LessOrEqual(trust.MaxWeight)

	partial := &model.Memory{Provenance: model.Provenance{Source: "web"}}
	pw := trust.Weight(partial, nil, nil)
	gt.Number(t, pw).Greater(1.04)
	gt.Number(t, pw).Less(1.06)

	slackOnly := &model.Memory{Provenance: model.Provenance{SlackUserID: "S1"}}
	gt.Value(t, trust.Weight(slackOnly, map[string]bool{"S1": true}, nil)).Equal(1.2)
}

type brokenSignals struct{}

func (brokenSignals) Verified(context.Context, string) (bool, error) {
	return false, errors.New("directory unavailable")
}

func (brokenSignals) FrequentlyCited(context.Context, string) (bool, error) {
	return false, nil
}

func TestScorerDegradesToNeutral(t *testing.T) {
	ctx := context.Background()
	m := &model.Memory{MemoryID: "m1", Provenance: model.Provenance{CognitoUserID: "u1", Source: "api"}}

	gt.Value(t, trust.NewScorer(brokenSignals{}).Weight(ctx, m)).Equal(trust.NeutralWeight)

	static := trust.StaticSignals{VerifiedUsers: map[string]bool{"u1": true}}
	gt.Number(t, trust.NewScorer(static).Weight(ctx, m)).Greater(1.39)
}

func TestQueryByProvenance(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	svc := memory.New(st)

	put := func(scope, content string, p model.Provenance) *model.Memory {
		m, err := svc.StoreEpisodic(ctx, memory.EpisodicInput{ScopeID: scope, Content: content, Provenance: p})
		gt.NoError(t, err).Required()
		return m
	}
	a := put("USER#u1", "asked about pricing", model.Provenance{CognitoUserID: "u1", SlackChannelID: "C1", Source: "slack_operator"})
	put("USER#u1", "asked about staffing", model.Provenance{CognitoUserID: "u1", SlackChannelID: "C2"})
	r := put("RFP#r1", "pricing decided", model.Provenance{RFPID: "r1", SlackChannelID: "C1", Source: "api"})
	put("CHANNEL#C9", "unrelated", model.Provenance{Source: "api"})

	byUser, err := trust.QueryByProvenance(ctx, st, trust.ProvenanceQuery{CognitoUserID: "u1", SlackChannelID: "C1"})
	gt.NoError(t, err).Required()
	gt.Array(t, byUser).Length(1).Required()
	gt.Value(t, byUser[0].MemoryID).Equal(a.MemoryID)

	both, err := trust.QueryByProvenance(ctx, st, trust.ProvenanceQuery{CognitoUserID: "u1", RFPID: "r1"})
	gt.NoError(t, err).Required()
	gt.Array(t, both).Length(0)

	byRFP, err := trust.QueryByProvenance(ctx, st, trust.ProvenanceQuery{RFPID: "r1"})
	gt.NoError(t, err).Required()
	gt.Array(t, byRFP).Length(1).Required()
	gt.Value(t, byRFP[0].MemoryID).Equal(r.MemoryID)

	bySource, err := trust.QueryByProvenance(ctx, st, trust.ProvenanceQuery{Source: "api"})
	gt.NoError(t, err).Required()
	gt.Array(t, bySource).Length(2)

	limited, err := trust.QueryByProvenance(ctx, st, trust.ProvenanceQuery{Source: "api", Limit: 1})
	gt.NoError(t, err).Required()
	gt.Array(t, limited).Length(1)

	_, err = trust.QueryByProvenance(ctx, st, trust.ProvenanceQuery{})
	gt.Error(t, err).Is(model.ErrValidation)
}
