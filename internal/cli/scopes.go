package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/rcliao/rfp-agent-memory/internal/scope"
)

func init() {
	cmd := &cobra.Command{
		Use:   "scopes",
		Short: "Preview scope expansion",
		Long: `Print the scopes a lookup would read, most specific first. Relationship hints
come from the config file and can be extended with --hints (JSON).`,
		Run: runScopes,
	}

	cmd.Flags().String("primary", "", "Primary scope id, e.g. CHANNEL#C1")
	cmd.Flags().String("user", "", "User sub")
	cmd.Flags().String("rfp", "", "RFP id")
	cmd.Flags().String("channel", "", "Slack channel id")
	cmd.Flags().String("thread", "", "Slack thread timestamp")
	cmd.Flags().String("tenant", "", "Tenant id")
	cmd.Flags().String("hints", "", "Relationship hints as JSON")

	RootCmd.AddCommand(cmd)
}

func runScopes(cmd *cobra.Command, args []string) {
	primary, _ := cmd.Flags().GetString("primary")
	user, _ := cmd.Flags().GetString("user")
	rfp, _ := cmd.Flags().GetString("rfp")
	channel, _ := cmd.Flags().GetString("channel")
	thread, _ := cmd.Flags().GetString("thread")
	tenant, _ := cmd.Flags().GetString("tenant")
	hintsJSON, _ := cmd.Flags().GetString("hints")

	in := scope.Input{
		Primary:   primary,
		RFPID:     rfp,
		ChannelID: channel,
		ThreadTS:  thread,
		UserSub:   user,
		TenantID:  tenant,
	}
	if hintsJSON != "" {
		if err := json.Unmarshal([]byte(hintsJSON), &in.Hints); err != nil {
			exitErr("parse hints", err)
		}
	}

	rt, err := openEngine(cmd.Context())
	if err != nil {
		exitErr("open store", err)
	}
	defer rt.Close()

	scopes, err := rt.eng.ExpandScopes(in)
	if err != nil {
		exitErr("scopes", err)
	}
	printJSON(scopes)
}
