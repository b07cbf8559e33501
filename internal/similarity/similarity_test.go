package similarity_test

import (
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/rcliao/rfp-agent-memory/internal/model"
	"github.com/rcliao/rfp-agent-memory/internal/similarity"
)

func TestTextBounds(t *testing.T) {
	texts := []string{
		"",
		"x",
		"a b",
		"budget timeline",
		"The budget for the Acme proposal is capped.",
		"Timeline slipped; budget review moved to Friday.",
		"of the and",
	}
	for _, a := range texts {
		for _, b := range texts {
			s := similarity.Text(a, b)
			gt.Number(t, s).GreaterOrEqual(0)
			gt.Number(t, s).LessOrEqual(1)
		}
		if a != "" {
			gt.Value(t, similarity.Text(a, a)).Equal(1.0)
		}
	}
}

func TestTextEdgeCases(t *testing.T) {
	gt.Value(t, similarity.Text("", "")).Equal(1.0)
	gt.Value(t, similarity.Text("x", "")).Equal(0.0)
	gt.Value(t, similarity.Text("", "x")).Equal(0.0)

	// no keywords on either side: whitespace token overlap
	gt.Value(t, similarity.Text("a b", "b c")).Equal(1.0 / 3.0)

	gt.Value(t, similarity.Text("budget review", "budget timeline")).Equal(1.0 / 3.0)
}

func TestScore(t *testing.T) {
	w := similarity.DefaultWeights()
	m := &model.Memory{
		Content:  "Budget and timeline review for the Acme bid",
		Keywords: []string{"budget", "timeline", "review", "acme", "bid"},
		Tags:     []string{"budget", "timeline"},
	}

	s := similarity.Score(w, "budget timeline", m)
	gt.Number(t, s).GreaterOrEqual(0.3)
	gt.Number(t, s).LessOrEqual(1)

	other := &model.Memory{Content: "Lunch order for Friday", Keywords: []string{"lunch", "order", "friday"}}
	gt.Number(t, similarity.Score(w, "budget timeline", other)).Less(0.3)
}

func TestJaccard(t *testing.T) {
	set := func(xs ...string) map[string]struct{} {
		out := map[string]struct{}{}
		for _, x := range xs {
			out[x] = struct{}{}
		}
		return out
	}
	gt.Value(t, similarity.Jaccard(set(), set())).Equal(0.0)
	gt.Value(t, similarity.Jaccard(set("a"), set("a"))).Equal(1.0)
	gt.Value(t, similarity.Jaccard(set("a", "b"), set("b", "c", "d"))).Equal(0.25)
}
