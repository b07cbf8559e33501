package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/rfp-agent-memory/internal/assembler"
	"github.com/rcliao/rfp-agent-memory/internal/engine"
)

func init() {
	cmd := &cobra.Command{
		Use:   "context [query]",
		Short: "Assemble relevant memories for a task",
		Long: `Retrieve and render memories within a character budget.

--hierarchical fills tiers in priority order (recent messages, memory blocks,
episodic, semantic, procedural, archival) for a user or RFP. --budget is in
tokens there; --budget 0 runs the unbounded degraded mode.`,
		Run: runContext,
	}

	targetFlags(cmd)
	cmd.Flags().IntP("limit", "l", 10, "Max memories")
	cmd.Flags().Int("max-chars", engine.DefaultContextChars, "Max characters in output")
	cmd.Flags().Bool("hierarchical", false, "Build tiered context")
	cmd.Flags().IntP("budget", "b", 1000, "Token budget of tiered context")
	cmd.Flags().String("channel", "", "Slack channel of the conversation")
	cmd.Flags().String("thread", "", "Slack thread timestamp of the conversation")

	RootCmd.AddCommand(cmd)
}

func runContext(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	maxChars, _ := cmd.Flags().GetInt("max-chars")
	hierarchical, _ := cmd.Flags().GetBool("hierarchical")
	budget, _ := cmd.Flags().GetInt("budget")
	channel, _ := cmd.Flags().GetString("channel")
	thread, _ := cmd.Flags().GetString("thread")
	query := strings.Join(args, " ")
	target := readTarget(cmd)

	rt, err := openEngine(cmd.Context())
	if err != nil {
		exitErr("open store", err)
	}
	defer rt.Close()

	var (
		out  any
		text string
	)
	if hierarchical {
		var tracker assembler.Tracker
		if budget > 0 {
			tracker = assembler.NewTokenTracker(budget)
		}
		result, err := rt.eng.BuildHierarchicalContext(cmd.Context(), tracker, engine.HierarchicalRequest{
			Query:     query,
			UserSub:   target.UserSub,
			RFPID:     target.RFPID,
			ChannelID: channel,
			ThreadTS:  thread,
		})
		if err != nil {
			exitErr("context", err)
		}
		out, text = result, result.Text
	} else {
		result, err := rt.eng.GetContext(cmd.Context(), engine.ContextRequest{
			Target:   target,
			Query:    query,
			Limit:    limit,
			MaxChars: maxChars,
		})
		if err != nil {
			exitErr("context", err)
		}
		out, text = result, result.Text
	}

	if formatFlag == "text" {
		fmt.Println(text)
		return
	}
	printJSON(out)
}
