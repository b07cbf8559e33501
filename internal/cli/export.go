package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/rfp-agent-memory/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export memories as JSON",
		Long:  "Export every memory, or those of one scope with -s, as a JSON array.",
		Run:   runExport,
	}

	cmd.Flags().StringP("scope", "s", "", "Only this scope")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	scopeID, _ := cmd.Flags().GetString("scope")

	rt, err := openEngine(cmd.Context())
	if err != nil {
		exitErr("open store", err)
	}
	defer rt.Close()

	memories, err := store.ExportAll(cmd.Context(), rt.eng.Memories().Store(), scopeID)
	if err != nil {
		exitErr("export", err)
	}
	printJSON(memories)
}
