package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Retrieve a memory by its key",
		Run:   runGet,
	}

	keyFlags(cmd, "")
	cmd.Flags().Bool("touch", false, "Record an access")

	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) {
	touch, _ := cmd.Flags().GetBool("touch")
	key, err := readKey(cmd, "")
	if err != nil {
		exitErr("get", err)
	}

	rt, err := openEngine(cmd.Context())
	if err != nil {
		exitErr("open store", err)
	}
	defer rt.Close()

	svc := rt.eng.Memories()
	mem, err := svc.Get(cmd.Context(), key)
	if err != nil {
		exitErr("get", err)
	}
	if touch {
		if mem, err = svc.MarkAccessed(cmd.Context(), key); err != nil {
			exitErr("touch", err)
		}
	}

	printJSON(mem)
}
