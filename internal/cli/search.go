package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/rfp-agent-memory/internal/engine"
	"github.com/rcliao/rfp-agent-memory/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search memories by relevance",
		Long: `Rank memories of a scope, or of every scope related to a user or RFP, by
keyword and text similarity. --fts queries the full-text index instead.`,
		Args: cobra.MinimumNArgs(1),
		Run:  runSearch,
	}

	targetFlags(cmd)
	cmd.Flags().String("type", "", "Comma-separated memory types")
	cmd.Flags().IntP("limit", "l", 10, "Max results")
	cmd.Flags().Float64("threshold", -1, "Minimum score (default from config)")
	cmd.Flags().Bool("archival", false, "Include compressed memories")
	cmd.Flags().Bool("trust", false, "Attach provenance trust weights")
	cmd.Flags().Bool("fts", false, "Use the full-text index")

	RootCmd.AddCommand(cmd)
}

// targetFlags registers the flags selecting where to look.
func targetFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("scope", "s", "", "Scope id")
	cmd.Flags().String("user", "", "User sub to expand from")
	cmd.Flags().String("rfp", "", "RFP id to expand from")
	cmd.Flags().String("tenant", "", "Tenant id")
}

func readTarget(cmd *cobra.Command) engine.Target {
	scopeID, _ := cmd.Flags().GetString("scope")
	user, _ := cmd.Flags().GetString("user")
	rfp, _ := cmd.Flags().GetString("rfp")
	tenant, _ := cmd.Flags().GetString("tenant")
	return engine.Target{ScopeID: scopeID, UserSub: user, RFPID: rfp, TenantID: tenant}
}

func runSearch(cmd *cobra.Command, args []string) {
	types, _ := cmd.Flags().GetString("type")
	limit, _ := cmd.Flags().GetInt("limit")
	threshold, _ := cmd.Flags().GetFloat64("threshold")
	archival, _ := cmd.Flags().GetBool("archival")
	withTrust, _ := cmd.Flags().GetBool("trust")
	fts, _ := cmd.Flags().GetBool("fts")
	query := strings.Join(args, " ")

	req := engine.SearchRequest{Target: readTarget(cmd), Query: query, Limit: limit, Archival: archival}
	for _, t := range splitList(types) {
		mt, err := model.ParseMemoryType(t)
		if err != nil {
			exitErr("search", err)
		}
		req.MemoryTypes = append(req.MemoryTypes, mt)
	}
	if threshold >= 0 {
		req.Threshold = &threshold
	}

	rt, err := openEngine(cmd.Context())
	if err != nil {
		exitErr("open store", err)
	}
	defer rt.Close()

	if fts {
		hits, err := rt.eng.FullTextSearch(cmd.Context(), req.Target, query, limit)
		if err != nil {
			exitErr("search", err)
		}
		printJSON(hits)
		return
	}

	results, err := rt.eng.Search(cmd.Context(), req)
	if err != nil {
		exitErr("search", err)
	}
	if withTrust {
		printJSON(rt.eng.Weigh(cmd.Context(), results))
		return
	}
	printJSON(results)
}
