package engine

import (
	"context"

	"github.com/rcliao/rfp-agent-memory/internal/model"
	"github.com/rcliao/rfp-agent-memory/internal/retrieval"
	"github.com/rcliao/rfp-agent-memory/internal/trust"
)

// WeightedResult is a retrieval result with its provenance trust weight.
type WeightedResult struct {
	retrieval.Result
	Trust float64 `json:"trust"`
}

// TrustWeight weighs m by provenance. Signal lookup failures yield the
// neutral weight.
func (e *Engine) TrustWeight(ctx context.Context, m *model.Memory) float64 {
	return e.trust.Weight(ctx, m)
}

// Weigh attaches trust weights to results without reordering them.
func (e *Engine) Weigh(ctx context.Context, results []retrieval.Result) []WeightedResult {
	out := make([]WeightedResult, len(results))
	for i, r := range results {
		out[i] = WeightedResult{Result: r, Trust: e.trust.Weight(ctx, r.Memory)}
	}
	return out
}

// QueryByProvenance lists memories by their origin.
func (e *Engine) QueryByProvenance(ctx context.Context, q trust.ProvenanceQuery) ([]*model.Memory, error) {
	return trust.QueryByProvenance(ctx, e.memories.Store(), q)
}
