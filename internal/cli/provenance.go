package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/rfp-agent-memory/internal/trust"
)

func init() {
	cmd := &cobra.Command{
		Use:   "provenance",
		Short: "Find memories by origin",
		Long:  "List memories whose provenance matches every given field. At least one field is required.",
		Run:   runProvenance,
	}

	cmd.Flags().String("cognito-user", "", "Cognito user id")
	cmd.Flags().String("slack-user", "", "Slack user id")
	cmd.Flags().String("channel", "", "Slack channel id")
	cmd.Flags().String("thread", "", "Slack thread timestamp")
	cmd.Flags().String("rfp", "", "RFP id")
	cmd.Flags().String("source", "", "Source tag")
	cmd.Flags().IntP("limit", "l", 50, "Max results")
	cmd.Flags().Bool("trust", false, "Print trust weights instead of memories")

	RootCmd.AddCommand(cmd)
}

type weightedMemory struct {
	MemoryID string  `json:"memoryId"`
	ScopeID  string  `json:"scopeId"`
	Source   string  `json:"source,omitempty"`
	Trust    float64 `json:"trust"`
}

func runProvenance(cmd *cobra.Command, args []string) {
	var q trust.ProvenanceQuery
	q.CognitoUserID, _ = cmd.Flags().GetString("cognito-user")
	q.SlackUserID, _ = cmd.Flags().GetString("slack-user")
	q.SlackChannelID, _ = cmd.Flags().GetString("channel")
	q.SlackThreadTS, _ = cmd.Flags().GetString("thread")
	q.RFPID, _ = cmd.Flags().GetString("rfp")
	q.Source, _ = cmd.Flags().GetString("source")
	q.Limit, _ = cmd.Flags().GetInt("limit")
	withTrust, _ := cmd.Flags().GetBool("trust")

	rt, err := openEngine(cmd.Context())
	if err != nil {
		exitErr("open store", err)
	}
	defer rt.Close()

	mems, err := rt.eng.QueryByProvenance(cmd.Context(), q)
	if err != nil {
		exitErr("provenance", err)
	}
	if !withTrust {
		printJSON(mems)
		return
	}
	out := make([]weightedMemory, 0, len(mems))
	for _, m := range mems {
		out = append(out, weightedMemory{
			MemoryID: m.MemoryID,
			ScopeID:  m.ScopeID,
			Source:   m.Provenance.Source,
			Trust:    rt.eng.TrustWeight(cmd.Context(), m),
		})
	}
	printJSON(out)
}
