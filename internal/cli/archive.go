package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Mark a memory as compressed",
		Long:  "Archive a memory. It stays stored but is only returned by archival searches.",
		Run:   runArchive,
	}

	keyFlags(cmd, "")

	RootCmd.AddCommand(cmd)
}

func runArchive(cmd *cobra.Command, args []string) {
	key, err := readKey(cmd, "")
	if err != nil {
		exitErr("archive", err)
	}

	rt, err := openEngine(cmd.Context())
	if err != nil {
		exitErr("open store", err)
	}
	defer rt.Close()

	mem, err := rt.eng.Archive(cmd.Context(), key)
	if err != nil {
		exitErr("archive", err)
	}
	printJSON(mem)
}
