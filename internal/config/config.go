// Package config loads the agent-memory TOML configuration and turns it into
// the runtime settings of the engine and its backends.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"

	"github.com/rcliao/rfp-agent-memory/internal/consolidation"
	"github.com/rcliao/rfp-agent-memory/internal/engine"
	"github.com/rcliao/rfp-agent-memory/internal/index"
	"github.com/rcliao/rfp-agent-memory/internal/memory"
	"github.com/rcliao/rfp-agent-memory/internal/model"
	"github.com/rcliao/rfp-agent-memory/internal/retrieval"
	"github.com/rcliao/rfp-agent-memory/internal/scope"
	"github.com/rcliao/rfp-agent-memory/internal/similarity"
	"github.com/rcliao/rfp-agent-memory/internal/trust"
)

const (
	EnvDB     = "AGENT_MEMORY_DB"
	EnvConfig = "AGENT_MEMORY_CONFIG"
)

// Backend names a store implementation.
type Backend string

const (
	BackendSQLite    Backend = "sqlite"
	BackendMemory    Backend = "memory"
	BackendFirestore Backend = "firestore"
)

// Config is the whole configuration file.
type Config struct {
	Store         StoreConfig           `toml:"store"`
	Log           LogConfig             `toml:"log"`
	Retrieval     RetrievalConfig       `toml:"retrieval"`
	Importance    consolidation.Weights `toml:"importance"`
	Consolidation ConsolidationConfig   `toml:"consolidation"`
	Diagnostics   DiagnosticsConfig     `toml:"diagnostics"`
	Assembler     AssemblerConfig       `toml:"assembler"`
	Index         IndexConfig           `toml:"index"`
	Write         WriteConfig           `toml:"write"`
	Trust         TrustConfig           `toml:"trust"`
	Hints         scope.Hints           `toml:"hints"`
}

type StoreConfig struct {
	Backend   Backend         `toml:"backend"`
	Path      string          `toml:"path"`
	Firestore FirestoreConfig `toml:"firestore"`
}

type FirestoreConfig struct {
	ProjectID        string `toml:"project_id"`
	DatabaseID       string `toml:"database_id"`
	CollectionPrefix string `toml:"collection_prefix"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type RetrievalConfig struct {
	Weights         similarity.Weights `toml:"weights"`
	Threshold       float64            `toml:"threshold"`
	UpdateThreshold float64            `toml:"update_threshold"`
	Overfetch       int                `toml:"overfetch"`
	ScopeTimeout    string             `toml:"scope_timeout"`
	Parallelism     int                `toml:"parallelism"`
	MaxScan         int                `toml:"max_scan"`
}

// SettingsOverride changes selected fields of the default consolidation
// settings.
type SettingsOverride struct {
	AgeThresholdDays     *int     `toml:"age_threshold_days"`
	AccessCountThreshold *int     `toml:"access_count_threshold"`
	ImportanceThreshold  *float64 `toml:"importance_threshold"`
	Strategy             *string  `toml:"strategy"`
	Enabled              *bool    `toml:"enabled"`
}

func (o SettingsOverride) apply(base consolidation.Settings) consolidation.Settings {
	if o.AgeThresholdDays != nil {
		base.AgeThresholdDays = *o.AgeThresholdDays
	}
	if o.AccessCountThreshold != nil {
		base.AccessCountThreshold = *o.AccessCountThreshold
	}
	if o.ImportanceThreshold != nil {
		base.ImportanceThreshold = *o.ImportanceThreshold
	}
	if o.Strategy != nil {
		base.Strategy = consolidation.Strategy(*o.Strategy)
	}
	if o.Enabled != nil {
		base.Enabled = *o.Enabled
	}
	return base
}

type ConsolidationConfig struct {
	Default consolidation.Settings      `toml:"default"`
	ByKind  map[string]SettingsOverride `toml:"by_kind"`
	ByScope map[string]SettingsOverride `toml:"by_scope"`
}

type DiagnosticsConfig struct {
	TTL           string `toml:"ttl"`
	MaxEntries    int    `toml:"max_entries"`
	SourceTimeout string `toml:"source_timeout"`
}

type AssemblerConfig struct {
	FetchTimeout string `toml:"fetch_timeout"`
}

type IndexConfig struct {
	Enabled     bool `toml:"enabled"`
	ChunkTarget int  `toml:"chunk_target"`
	ChunkMax    int  `toml:"chunk_max"`
}

type WriteConfig struct {
	RejectThreshold float64 `toml:"reject_threshold"`
	AsyncTimeout    string  `toml:"async_timeout"`
}

// TrustConfig lists users whose memories earn a credibility bonus.
type TrustConfig struct {
	VerifiedUsers []string `toml:"verified_users"`
	CitedUsers    []string `toml:"cited_users"`
}

func (t TrustConfig) Signals() trust.StaticSignals {
	set := func(ids []string) map[string]bool {
		m := make(map[string]bool, len(ids))
		for _, id := range ids {
			m[id] = true
		}
		return m
	}
	return trust.StaticSignals{VerifiedUsers: set(t.VerifiedUsers), CitedUsers: set(t.CitedUsers)}
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	rc := retrieval.DefaultConfig()
	chunks := index.DefaultChunkOptions()
	return &Config{
		Store: StoreConfig{Backend: BackendSQLite},
		Log:   LogConfig{Level: "info", Format: "console"},
		Retrieval: RetrievalConfig{
			Weights:         rc.Weights,
			Threshold:       rc.Threshold,
			UpdateThreshold: rc.UpdateThreshold,
			Overfetch:       rc.Overfetch,
			ScopeTimeout:    rc.ScopeTimeout.String(),
			Parallelism:     rc.Parallelism,
			MaxScan:         rc.MaxScan,
		},
		Importance:    consolidation.DefaultWeights(),
		Consolidation: ConsolidationConfig{Default: consolidation.DefaultSettings()},
		Diagnostics: DiagnosticsConfig{
			TTL:           "5m",
			MaxEntries:    10,
			SourceTimeout: "10s",
		},
		Assembler: AssemblerConfig{FetchTimeout: "5s"},
		Index:     IndexConfig{Enabled: true, ChunkTarget: chunks.Target, ChunkMax: chunks.Max},
		Write:     WriteConfig{RejectThreshold: memory.DefaultRejectThreshold, AsyncTimeout: "5s"},
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendSQLite, BackendMemory:
	case BackendFirestore:
		if c.Store.Firestore.ProjectID == "" {
			return goerr.New("firestore project_id is required")
		}
	default:
		return goerr.New("unknown store backend", goerr.V("backend", c.Store.Backend))
	}

	if err := c.Retrieval.validate(); err != nil {
		return goerr.Wrap(err, "invalid retrieval config")
	}
	if err := c.Consolidation.validate(); err != nil {
		return goerr.Wrap(err, "invalid consolidation config")
	}

	durations := map[string]string{
		"retrieval.scope_timeout":    c.Retrieval.ScopeTimeout,
		"diagnostics.ttl":            c.Diagnostics.TTL,
		"diagnostics.source_timeout": c.Diagnostics.SourceTimeout,
		"assembler.fetch_timeout":    c.Assembler.FetchTimeout,
		"write.async_timeout":        c.Write.AsyncTimeout,
	}
	for field, v := range durations {
		if _, err := parseDuration(v); err != nil {
			return goerr.Wrap(err, "invalid duration", goerr.V("field", field), goerr.V("value", v))
		}
	}

	if c.Diagnostics.MaxEntries < 1 {
		return goerr.New("diagnostics max_entries must be positive", goerr.V("maxEntries", c.Diagnostics.MaxEntries))
	}
	if c.Index.Enabled && (c.Index.ChunkTarget < 1 || c.Index.ChunkMax < c.Index.ChunkTarget) {
		return goerr.New("chunk_max must be at least chunk_target",
			goerr.V("chunkTarget", c.Index.ChunkTarget), goerr.V("chunkMax", c.Index.ChunkMax))
	}
	if c.Write.RejectThreshold > 1 {
		return goerr.New("reject_threshold must not exceed 1", goerr.V("rejectThreshold", c.Write.RejectThreshold))
	}
	return nil
}

func (r RetrievalConfig) validate() error {
	for name, v := range map[string]float64{"threshold": r.Threshold, "update_threshold": r.UpdateThreshold} {
		if v < 0 || v > 1 {
			return goerr.New("threshold out of range", goerr.V("field", name), goerr.V("value", v))
		}
	}
	if r.Weights.Keyword < 0 || r.Weights.Text < 0 || r.Weights.Keyword+r.Weights.Text == 0 {
		return goerr.New("similarity weights must be non-negative and not both zero",
			goerr.V("keyword", r.Weights.Keyword), goerr.V("text", r.Weights.Text))
	}
	if r.Overfetch < 1 || r.Parallelism < 1 || r.MaxScan < 1 {
		return goerr.New("overfetch, parallelism and max_scan must be positive",
			goerr.V("overfetch", r.Overfetch), goerr.V("parallelism", r.Parallelism), goerr.V("maxScan", r.MaxScan))
	}
	return nil
}

func (c ConsolidationConfig) validate() error {
	if err := c.Default.Validate(); err != nil {
		return goerr.Wrap(err, "invalid default settings")
	}
	for kind, o := range c.ByKind {
		k := model.ScopeKind(strings.ToUpper(kind))
		if !k.Valid() || k == model.ScopeGlobal {
			return goerr.New("unknown scope kind", goerr.V("kind", kind))
		}
		if err := o.apply(c.Default).Validate(); err != nil {
			return goerr.Wrap(err, "invalid settings", goerr.V("kind", kind))
		}
	}
	for id, o := range c.ByScope {
		if _, err := model.ParseScope(id); err != nil {
			return goerr.Wrap(err, "invalid scope id", goerr.V("scopeId", id))
		}
		if err := o.apply(c.Default).Validate(); err != nil {
			return goerr.Wrap(err, "invalid settings", goerr.V("scopeId", id))
		}
	}
	return nil
}

// Policy resolves the overrides against the default settings.
func (c ConsolidationConfig) Policy() consolidation.Policy {
	p := consolidation.Policy{Default: c.Default}
	if len(c.ByKind) > 0 {
		p.ByKind = make(map[model.ScopeKind]consolidation.Settings, len(c.ByKind))
		for kind, o := range c.ByKind {
			p.ByKind[model.ScopeKind(strings.ToUpper(kind))] = o.apply(c.Default)
		}
	}
	if len(c.ByScope) > 0 {
		p.ByScope = make(map[string]consolidation.Settings, len(c.ByScope))
		for id, o := range c.ByScope {
			if sc, err := model.ParseScope(id); err == nil {
				id = sc.String()
			}
			p.ByScope[id] = o.apply(c.Default)
		}
	}
	return p
}

// Load reads path over the defaults. Keys absent from the file keep their
// default value.
func Load(path string) (*Config, error) {
	cfg := Default()

	// #nosec G304 - path is expected to be provided by CLI argument
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read config file", goerr.V("path", path))
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, goerr.Wrap(err, "failed to parse TOML config", goerr.V("path", path))
	}
	if err := cfg.Validate(); err != nil {
		return nil, goerr.Wrap(err, "config validation failed", goerr.V("path", path))
	}
	return cfg, nil
}

// Resolve loads the file named by path, or by $AGENT_MEMORY_CONFIG when path
// is empty. Without either the defaults are returned.
func Resolve(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

// DBPath picks the SQLite file: the flag, then $AGENT_MEMORY_DB, then the
// config file, then ~/.agent-memory/memory.db.
func (c *Config) DBPath(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv(EnvDB); env != "" {
		return env
	}
	if c.Store.Path != "" {
		return c.Store.Path
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".agent-memory", "memory.db")
}

// EngineConfig converts the file into engine settings. Call it on a
// validated config.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		Retrieval: retrieval.Config{
			Weights:         c.Retrieval.Weights,
			Threshold:       c.Retrieval.Threshold,
			UpdateThreshold: c.Retrieval.UpdateThreshold,
			Overfetch:       c.Retrieval.Overfetch,
			ScopeTimeout:    mustDuration(c.Retrieval.ScopeTimeout),
			Parallelism:     c.Retrieval.Parallelism,
			MaxScan:         c.Retrieval.MaxScan,
		},
		Importance:            c.Importance,
		Consolidation:         c.Consolidation.Policy(),
		DiagnosticsTTL:        mustDuration(c.Diagnostics.TTL),
		DiagnosticsMaxEntries: c.Diagnostics.MaxEntries,
		SourceTimeout:         mustDuration(c.Diagnostics.SourceTimeout),
		FetchTimeout:          mustDuration(c.Assembler.FetchTimeout),
	}
}

func (c *Config) ChunkOptions() index.ChunkOptions {
	return index.ChunkOptions{Target: c.Index.ChunkTarget, Max: c.Index.ChunkMax}
}

func (c *Config) AsyncTimeout() time.Duration {
	return mustDuration(c.Write.AsyncTimeout)
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to parse duration")
	}
	if d < 0 {
		return 0, goerr.New("duration must not be negative")
	}
	return d, nil
}

func mustDuration(s string) time.Duration {
	d, _ := parseDuration(s)
	return d
}
