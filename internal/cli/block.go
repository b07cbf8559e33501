package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/rfp-agent-memory/internal/assembler"
	"github.com/rcliao/rfp-agent-memory/internal/memory"
)

func init() {
	blockCmd := &cobra.Command{
		Use:   "block",
		Short: "Manage versioned memory blocks",
	}

	create := &cobra.Command{
		Use:   "create [content]",
		Short: "Create a block",
		Run:   runBlockCreate,
	}
	create.Flags().StringP("scope", "s", "", "Scope id (required)")
	create.Flags().String("id", "", "Block id, unique within the scope (required)")
	create.Flags().String("title", "", "Block title")
	create.Flags().StringP("tags", "t", "", "Comma-separated tags")
	_ = create.MarkFlagRequired("scope")
	_ = create.MarkFlagRequired("id")

	get := &cobra.Command{
		Use:   "get",
		Short: "Show a block with its version history",
		Run:   runBlockGet,
	}
	get.Flags().StringP("scope", "s", "", "Scope id (required)")
	get.Flags().String("id", "", "Block id (required)")
	_ = get.MarkFlagRequired("scope")
	_ = get.MarkFlagRequired("id")

	update := &cobra.Command{
		Use:   "update [content]",
		Short: "Replace the content or title of a block",
		Long:  "Replace the content and/or title of a block. The previous state is kept in its version history.",
		Run:   runBlockUpdate,
	}
	update.Flags().StringP("scope", "s", "", "Scope id (required)")
	update.Flags().String("id", "", "Block id (required)")
	update.Flags().String("title", "", "New title")
	_ = update.MarkFlagRequired("scope")
	_ = update.MarkFlagRequired("id")

	list := &cobra.Command{
		Use:   "list",
		Short: "List blocks of a scope",
		Run:   runBlockList,
	}
	list.Flags().StringP("scope", "s", "", "Scope id (required)")
	list.Flags().IntP("limit", "l", 20, "Max blocks")
	_ = list.MarkFlagRequired("scope")

	blockCmd.AddCommand(create, get, update, list)
	RootCmd.AddCommand(blockCmd)
}

func runBlockCreate(cmd *cobra.Command, args []string) {
	scopeID, _ := cmd.Flags().GetString("scope")
	id, _ := cmd.Flags().GetString("id")
	title, _ := cmd.Flags().GetString("title")
	tags, _ := cmd.Flags().GetString("tags")

	content := strings.TrimSpace(readContent(args))
	if content == "" {
		exitErr("block create", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	rt, err := openEngine(cmd.Context())
	if err != nil {
		exitErr("open store", err)
	}
	defer rt.Close()

	b, err := rt.eng.CreateBlock(cmd.Context(), memory.BlockInput{
		ScopeID: scopeID,
		BlockID: id,
		Title:   title,
		Content: content,
		Tags:    splitList(tags),
	})
	if err != nil {
		exitErr("block create", err)
	}
	printJSON(b)
}

func runBlockGet(cmd *cobra.Command, args []string) {
	scopeID, _ := cmd.Flags().GetString("scope")
	id, _ := cmd.Flags().GetString("id")

	rt, err := openEngine(cmd.Context())
	if err != nil {
		exitErr("open store", err)
	}
	defer rt.Close()

	b, err := rt.eng.GetBlock(cmd.Context(), scopeID, id)
	if err != nil {
		exitErr("block get", err)
	}
	printJSON(b)
}

func runBlockUpdate(cmd *cobra.Command, args []string) {
	scopeID, _ := cmd.Flags().GetString("scope")
	id, _ := cmd.Flags().GetString("id")

	var in memory.BlockUpdate
	if cmd.Flags().Changed("title") {
		title, _ := cmd.Flags().GetString("title")
		in.Title = &title
	}
	if content := strings.TrimSpace(readContent(args)); content != "" {
		in.Content = &content
	}

	rt, err := openEngine(cmd.Context())
	if err != nil {
		exitErr("open store", err)
	}
	defer rt.Close()

	b, err := rt.eng.UpdateBlock(cmd.Context(), scopeID, id, in)
	if err != nil {
		exitErr("block update", err)
	}
	printJSON(b)
}

func runBlockList(cmd *cobra.Command, args []string) {
	scopeID, _ := cmd.Flags().GetString("scope")
	limit, _ := cmd.Flags().GetInt("limit")

	rt, err := openEngine(cmd.Context())
	if err != nil {
		exitErr("open store", err)
	}
	defer rt.Close()

	blocks, err := rt.eng.ListBlocks(cmd.Context(), scopeID, limit)
	if err != nil {
		exitErr("block list", err)
	}
	if formatFlag == "text" {
		for _, b := range blocks {
			fmt.Println(assembler.RenderBlock(b))
		}
		return
	}
	printJSON(blocks)
}
