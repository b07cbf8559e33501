// Package cli implements the agent-memory CLI commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"

	"github.com/rcliao/rfp-agent-memory/internal/async"
	"github.com/rcliao/rfp-agent-memory/internal/config"
	"github.com/rcliao/rfp-agent-memory/internal/engine"
	"github.com/rcliao/rfp-agent-memory/internal/index"
	"github.com/rcliao/rfp-agent-memory/internal/logging"
	"github.com/rcliao/rfp-agent-memory/internal/memory"
	"github.com/rcliao/rfp-agent-memory/internal/model"
	"github.com/rcliao/rfp-agent-memory/internal/store"
)

var (
	dbPath     string
	configPath string
	formatFlag string
	logLevel   string

	cfg *config.Config
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "agent-memory",
	Short: "Persistent memory for RFP agents",
	Long:  "Scoped agent memory with relevance retrieval, budgeted context assembly and consolidation. SQLite-backed by default.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Resolve(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			c.Log.Level = logLevel
		}
		logging.SetDefault(logging.New(c.Log.Level, c.Log.Format, os.Stderr))
		cfg = c
		return nil
	},
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $AGENT_MEMORY_DB or ~/.agent-memory/memory.db)")
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $AGENT_MEMORY_CONFIG)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

// runtime is an opened engine plus what must be released after the command.
type runtime struct {
	eng        *engine.Engine
	dispatcher *async.Dispatcher
	closer     func() error
}

// Close waits for pending side effects before releasing the store.
func (r *runtime) Close() {
	r.dispatcher.Wait()
	if err := r.closer(); err != nil {
		logging.Default().Warn("failed to close store", "error", err)
	}
}

func openEngine(ctx context.Context) (*runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	var (
		st     store.Store
		ms     store.MessageStore
		idx    index.Indexer = index.Nop{}
		ft     engine.FullText
		closer func() error
	)

	switch cfg.Store.Backend {
	case config.BackendMemory:
		m := store.NewMemory()
		st, ms, closer = m, m, m.Close

	case config.BackendFirestore:
		fs := cfg.Store.Firestore
		f, err := store.NewFirestore(ctx, fs.ProjectID, fs.DatabaseID, store.WithCollectionPrefix(fs.CollectionPrefix))
		if err != nil {
			return nil, err
		}
		st, ms, closer = f, f, f.Close

	default:
		path := cfg.DBPath(dbPath)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, goerr.Wrap(err, "failed to create database directory", goerr.V("path", path))
		}
		s, err := store.NewSQLite(path)
		if err != nil {
			return nil, err
		}
		st, ms, closer = s, s, s.Close
		if cfg.Index.Enabled {
			x, err := index.NewSQLite(s.DB(), cfg.ChunkOptions())
			if err != nil {
				_ = s.Close()
				return nil, err
			}
			idx, ft = x, x
		}
	}

	var dispatchOpts []async.Option
	if d := cfg.AsyncTimeout(); d > 0 {
		dispatchOpts = append(dispatchOpts, async.WithTimeout(d))
	}
	d := async.New(dispatchOpts...)

	svc := memory.New(st,
		memory.WithIndexer(idx),
		memory.WithDispatcher(d),
		memory.WithRejectThreshold(cfg.Write.RejectThreshold))

	opts := []engine.Option{
		engine.WithMessages(ms),
		engine.WithHints(cfg.Hints),
		engine.WithTrustSignals(cfg.Trust.Signals()),
	}
	if ft != nil {
		opts = append(opts, engine.WithFullText(ft))
	}

	return &runtime{
		eng:        engine.New(svc, cfg.EngineConfig(), opts...),
		dispatcher: d,
		closer:     closer,
	}, nil
}

// keyFlags registers the flags naming one stored memory.
func keyFlags(cmd *cobra.Command, prefix string) {
	cmd.Flags().String(prefix+"scope", "", "Scope id, e.g. RFP#r1")
	cmd.Flags().String(prefix+"type", "", "Memory type")
	cmd.Flags().String(prefix+"id", "", "Memory id")
	cmd.Flags().String(prefix+"created", "", "createdAt (RFC3339)")
}

func readKey(cmd *cobra.Command, prefix string) (model.Key, error) {
	scopeID, _ := cmd.Flags().GetString(prefix + "scope")
	typ, _ := cmd.Flags().GetString(prefix + "type")
	id, _ := cmd.Flags().GetString(prefix + "id")
	created, _ := cmd.Flags().GetString(prefix + "created")

	mt, err := model.ParseMemoryType(typ)
	if err != nil {
		return model.Key{}, err
	}
	at, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return model.Key{}, goerr.Wrap(model.ErrValidation, "invalid createdAt", goerr.V("created", created))
	}
	key := model.Key{MemoryID: id, MemoryType: mt, ScopeID: scopeID, CreatedAt: at.UTC()}
	return key, key.Validate()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
