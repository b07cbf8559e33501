package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/rfp-agent-memory/internal/diagnostics"
)

func init() {
	cmd := &cobra.Command{
		Use:   "diagnostics",
		Short: "Show memory metrics, recent errors and indexing status",
		Long:  "Aggregate diagnostics over a time window. Sources that fail are reported as failed and the rest still returned.",
		Run:   runDiagnostics,
	}

	cmd.Flags().Int("hours", diagnostics.DefaultWindowHours, "Window in hours")
	cmd.Flags().String("user", "", "Only this user sub")
	cmd.Flags().String("rfp", "", "Only this RFP id")
	cmd.Flags().String("channel", "", "Only this Slack channel")

	RootCmd.AddCommand(cmd)
}

func runDiagnostics(cmd *cobra.Command, args []string) {
	hours, _ := cmd.Flags().GetInt("hours")
	user, _ := cmd.Flags().GetString("user")
	rfp, _ := cmd.Flags().GetString("rfp")
	channel, _ := cmd.Flags().GetString("channel")

	rt, err := openEngine(cmd.Context())
	if err != nil {
		exitErr("open store", err)
	}
	defer rt.Close()

	report, err := rt.eng.Diagnostics(cmd.Context(), diagnostics.Query{
		WindowHours: hours,
		UserSub:     user,
		RFPID:       rfp,
		ChannelID:   channel,
	})
	if err != nil {
		exitErr("diagnostics", err)
	}
	if report.Degraded() {
		fmt.Fprintf(os.Stderr, "warning: %s (failed: %v)\n", report.Message(), report.FailedSources())
	}
	printJSON(report)
}
