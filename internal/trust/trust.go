// Package trust weighs memories by the credibility of their provenance and
// finds memories by provenance fields.
package trust

import (
	"context"
	"log/slog"
	"math"

	"github.com/rcliao/rfp-agent-memory/internal/logging"
	"github.com/rcliao/rfp-agent-memory/internal/model"
)

const (
	MinWeight     = 0.5
	MaxWeight     = 1.5
	NeutralWeight = 1.0
)

// TrustedSources are provenance sources that earn a bonus.
var TrustedSources = map[string]bool{
	"slack_operator": true,
	"api":            true,
	"system":         true,
}

// Weight returns the trust multiplier of m in [0.5, 1.5]. verified and cited
// are keyed by provenance user id (cognito first, then slack).
func Weight(m *model.Memory, verified, cited map[string]bool) float64 {
	p := m.Provenance
	w := NeutralWeight
	if TrustedSources[p.Source] {
		w += 0.1
	}
	if user := userOf(p); user != "" {
		if verified[user] {
			w += 0.2
		}
		if cited[user] {
			w += 0.1
		}
	}
	w += 0.1 * completeness(p)
	return math.Max(MinWeight, math.Min(MaxWeight, w))
}

func userOf(p model.Provenance) string {
	if p.CognitoUserID != "" {
		return p.CognitoUserID
	}
	return p.SlackUserID
}

func completeness(p model.Provenance) float64 {
	n := 0
	if p.CognitoUserID != "" {
		n++
	}
	if p.Source != "" {
		n++
	}
	return float64(n) / 2
}

// Signals looks up per-user credibility.
type Signals interface {
	Verified(ctx context.Context, userID string) (bool, error)
	FrequentlyCited(ctx context.Context, userID string) (bool, error)
}

// Scorer resolves signals for a memory before weighting it.
type Scorer struct {
	signals Signals
}

func NewScorer(signals Signals) *Scorer {
	return &Scorer{signals: signals}
}

// Weight looks up the provenance user and weighs m. Any lookup failure
// yields the neutral weight.
func (s *Scorer) Weight(ctx context.Context, m *model.Memory) float64 {
	user := userOf(m.Provenance)
	if s.signals == nil || user == "" {
		return Weight(m, nil, nil)
	}
	verified, err := s.signals.Verified(ctx, user)
	if err != nil {
		s.degrade(ctx, m, err)
		return NeutralWeight
	}
	cited, err := s.signals.FrequentlyCited(ctx, user)
	if err != nil {
		s.degrade(ctx, m, err)
		return NeutralWeight
	}
	return Weight(m, map[string]bool{user: verified}, map[string]bool{user: cited})
}

func (s *Scorer) degrade(ctx context.Context, m *model.Memory, err error) {
	logging.From(ctx).Warn("trust signal lookup failed, using neutral weight",
		slog.String("memoryId", m.MemoryID), slog.Any("error", err))
}

// StaticSignals serves signals from fixed sets.
type StaticSignals struct {
	VerifiedUsers map[string]bool
	CitedUsers    map[string]bool
}

func (s StaticSignals) Verified(_ context.Context, userID string) (bool, error) {
	return s.VerifiedUsers[userID], nil
}

func (s StaticSignals) FrequentlyCited(_ context.Context, userID string) (bool, error) {
	return s.CitedUsers[userID], nil
}
