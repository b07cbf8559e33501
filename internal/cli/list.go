package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/rfp-agent-memory/internal/assembler"
	"github.com/rcliao/rfp-agent-memory/internal/memory"
	"github.com/rcliao/rfp-agent-memory/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List memories of a scope",
		Long:  "List memories of one scope newest first. Pass --page to continue from a previous listing.",
		Run:   runList,
	}

	cmd.Flags().StringP("scope", "s", "", "Scope id (required)")
	cmd.Flags().String("type", "", "Filter by memory type")
	cmd.Flags().IntP("limit", "l", 50, "Max results")
	cmd.Flags().String("page", "", "Page token from a previous listing")

	_ = cmd.MarkFlagRequired("scope")

	RootCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) {
	scopeID, _ := cmd.Flags().GetString("scope")
	typ, _ := cmd.Flags().GetString("type")
	limit, _ := cmd.Flags().GetInt("limit")
	page, _ := cmd.Flags().GetString("page")

	opts := memory.ListOptions{Limit: limit, PageToken: page}
	if typ != "" {
		mt, err := model.ParseMemoryType(typ)
		if err != nil {
			exitErr("list", err)
		}
		opts.MemoryType = mt
	}

	rt, err := openEngine(cmd.Context())
	if err != nil {
		exitErr("open store", err)
	}
	defer rt.Close()

	result, err := rt.eng.Memories().ListByScope(cmd.Context(), scopeID, opts)
	if err != nil {
		exitErr("list", err)
	}

	if formatFlag == "text" {
		for _, m := range result.Items {
			fmt.Println(assembler.RenderMemory(m))
		}
		return
	}
	printJSON(result)
}
