package consolidation

import (
	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/rfp-agent-memory/internal/model"
)

// Strategy is how an eligible memory is compacted.
type Strategy string

const (
	StrategySummarize Strategy = "summarize"
	StrategyArchive   Strategy = "archive"
)

func (s Strategy) Valid() bool {
	return s == StrategySummarize || s == StrategyArchive
}

// Settings is the compaction policy of one scope.
type Settings struct {
	AgeThresholdDays     int      `toml:"age_threshold_days"`
	AccessCountThreshold int      `toml:"access_count_threshold"`
	ImportanceThreshold  float64  `toml:"importance_threshold"`
	Strategy             Strategy `toml:"strategy"`
	Enabled              bool     `toml:"enabled"`
}

func DefaultSettings() Settings {
	return Settings{
		AgeThresholdDays:     30,
		AccessCountThreshold: 5,
		ImportanceThreshold:  0.3,
		Strategy:             StrategySummarize,
		Enabled:              true,
	}
}

// Validate rejects unusable settings.
func (s Settings) Validate() error {
	if !s.Strategy.Valid() {
		return goerr.Wrap(model.ErrValidation, "unknown consolidation strategy", goerr.V("strategy", s.Strategy))
	}
	if s.AgeThresholdDays < 0 || s.AccessCountThreshold < 0 {
		return goerr.Wrap(model.ErrValidation, "thresholds must not be negative",
			goerr.V("ageThresholdDays", s.AgeThresholdDays),
			goerr.V("accessCountThreshold", s.AccessCountThreshold))
	}
	return nil
}

// Policy maps scopes to settings. Lookups try the exact scope id, then the
// scope kind, then Default.
type Policy struct {
	Default Settings
	ByKind  map[model.ScopeKind]Settings
	ByScope map[string]Settings
}

func DefaultPolicy() Policy {
	return Policy{Default: DefaultSettings()}
}

// Resolve returns the settings governing scopeID.
func (p Policy) Resolve(scopeID string) Settings {
	if s, ok := p.ByScope[scopeID]; ok {
		return s
	}
	if sc, err := model.ParseScope(scopeID); err == nil {
		if s, ok := p.ByKind[sc.Kind]; ok {
			return s
		}
	}
	return p.Default
}
