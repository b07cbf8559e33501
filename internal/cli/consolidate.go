package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/rfp-agent-memory/internal/consolidation"
	"github.com/rcliao/rfp-agent-memory/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Compress old, rarely used memories",
		Long: `Run consolidation over each given scope with the settings configured for it.
--candidates only lists the least important eligible memories.`,
		Run: runConsolidate,
	}

	cmd.Flags().StringSliceP("scope", "s", nil, "Scope ids (required)")
	cmd.Flags().Bool("candidates", false, "List candidates without compressing")
	cmd.Flags().String("type", "", "Candidate memory type")
	cmd.Flags().Int("days", 30, "Candidate minimum age in days")
	cmd.Flags().Int("min-access", 5, "Candidates have fewer accesses than this")
	cmd.Flags().IntP("limit", "l", 50, "Max candidates")

	_ = cmd.MarkFlagRequired("scope")

	RootCmd.AddCommand(cmd)
}

func runConsolidate(cmd *cobra.Command, args []string) {
	scopes, _ := cmd.Flags().GetStringSlice("scope")
	candidates, _ := cmd.Flags().GetBool("candidates")
	typ, _ := cmd.Flags().GetString("type")
	days, _ := cmd.Flags().GetInt("days")
	minAccess, _ := cmd.Flags().GetInt("min-access")
	limit, _ := cmd.Flags().GetInt("limit")

	rt, err := openEngine(cmd.Context())
	if err != nil {
		exitErr("open store", err)
	}
	defer rt.Close()

	if candidates {
		var mt model.MemoryType
		if typ != "" {
			if mt, err = model.ParseMemoryType(typ); err != nil {
				exitErr("consolidate", err)
			}
		}
		out := map[string][]consolidation.Candidate{}
		for _, scopeID := range scopes {
			found, err := rt.eng.ConsolidationCandidates(cmd.Context(), consolidation.SelectQuery{
				ScopeID:        scopeID,
				MemoryType:     mt,
				DaysOld:        days,
				MinAccessCount: minAccess,
				Limit:          limit,
			})
			if err != nil {
				exitErr("consolidate", err)
			}
			out[scopeID] = found
		}
		printJSON(out)
		return
	}

	reports := make([]*consolidation.Report, 0, len(scopes))
	for _, scopeID := range scopes {
		report, err := rt.eng.Consolidate(cmd.Context(), scopeID)
		if err != nil {
			exitErr("consolidate", err)
		}
		reports = append(reports, report)
	}
	printJSON(reports)
}
