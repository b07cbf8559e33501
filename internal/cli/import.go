package cli

import (
	"encoding/json"
	"io"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"

	"github.com/rcliao/rfp-agent-memory/internal/model"
	"github.com/rcliao/rfp-agent-memory/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Restore exported memories",
		Long: `Restore a JSON array written by export, read from --file or stdin. With -s only
memories of that scope are restored. Keys that are already taken are skipped.`,
		Run: runImport,
	}

	cmd.Flags().StringP("scope", "s", "", "Only this scope")
	cmd.Flags().StringP("file", "i", "", "Read from this file instead of stdin")

	RootCmd.AddCommand(cmd)
}

type importResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Filtered int `json:"filtered"`
}

func runImport(cmd *cobra.Command, args []string) {
	scopeID, _ := cmd.Flags().GetString("scope")
	file, _ := cmd.Flags().GetString("file")

	var in io.Reader = os.Stdin
	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			exitErr("open input", err)
		}
		defer f.Close()
		in = f
	}

	var memories []*model.Memory
	if err := json.NewDecoder(in).Decode(&memories); err != nil {
		exitErr("parse export", err)
	}
	kept, err := inScope(memories, scopeID)
	if err != nil {
		exitErr("import", err)
	}

	rt, err := openEngine(cmd.Context())
	if err != nil {
		exitErr("open store", err)
	}
	defer rt.Close()

	imported, skipped, err := store.Import(cmd.Context(), rt.eng.Memories().Store(), kept)
	if err != nil {
		exitErr("import", err)
	}
	printJSON(importResult{Imported: imported, Skipped: skipped, Filtered: len(memories) - len(kept)})
}

// inScope keeps the memories stored under scopeID, or all of them when
// scopeID is empty.
func inScope(memories []*model.Memory, scopeID string) ([]*model.Memory, error) {
	if scopeID == "" {
		return memories, nil
	}
	scope, err := model.ParseScope(scopeID)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid --scope", goerr.V("scope", scopeID))
	}
	var out []*model.Memory
	for _, m := range memories {
		if m.ScopeID == scope.String() {
			out = append(out, m)
		}
	}
	return out, nil
}
