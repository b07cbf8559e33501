// Package consolidation scores memory importance and compacts aged, rarely
// used memories per scope policy.
package consolidation

import (
	"math"
	"time"

	"github.com/rcliao/rfp-agent-memory/internal/model"
)

// Weights are the maximum contribution of each importance term. They sum to
// 1 by default.
type Weights struct {
	Frequency       float64 `toml:"frequency"`
	AccessRecency   float64 `toml:"access_recency"`
	CreationRecency float64 `toml:"creation_recency"`
	Type            float64 `toml:"type"`
	Relationships   float64 `toml:"relationships"`
}

func DefaultWeights() Weights {
	return Weights{
		Frequency:       0.4,
		AccessRecency:   0.3,
		CreationRecency: 0.1,
		Type:            0.1,
		Relationships:   0.1,
	}
}

const (
	saturatingAccessCount   = 100
	accessDecayDays         = 30
	creationBoostDays       = 7
	saturatingRelationships = 10
	day                     = 24 * time.Hour
)

var typeImportance = map[model.MemoryType]float64{
	model.MemoryProcedural:           1.0,
	model.MemorySemantic:             0.9,
	model.MemoryTemporalEvent:        0.9,
	model.MemoryCollaborationContext: 0.8,
	model.MemoryEpisodic:             0.7,
	model.MemoryDiagnostics:          0.5,
	model.MemoryExternalContext:      0.4,
}

const defaultTypeImportance = 0.7

// Importance estimates the current value of m in [0, 1].
func Importance(w Weights, m *model.Memory, now time.Time) float64 {
	frequency := math.Min(float64(m.AccessCount)/saturatingAccessCount, 1) * w.Frequency

	access := w.AccessRecency / 2
	if m.LastAccessedAt != nil {
		days := now.Sub(*m.LastAccessedAt).Hours() / 24
		access = w.AccessRecency * math.Max(0, 1-days/accessDecayDays)
	}

	creation := w.CreationRecency / 2
	if age := now.Sub(m.CreatedAt); age < creationBoostDays*day {
		fresh := 1 - age.Hours()/24/creationBoostDays
		creation += w.CreationRecency / 2 * math.Min(fresh, 1)
	}

	typ, ok := typeImportance[m.MemoryType]
	if !ok {
		typ = defaultTypeImportance
	}

	related := math.Min(float64(len(m.RelatedMemoryIDs))/saturatingRelationships, 1) * w.Relationships

	return clamp(frequency + access + creation + typ*w.Type + related)
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
