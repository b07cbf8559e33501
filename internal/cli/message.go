package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/rfp-agent-memory/internal/assembler"
	"github.com/rcliao/rfp-agent-memory/internal/model"
)

func init() {
	msgCmd := &cobra.Command{
		Use:   "message",
		Short: "Manage conversation history",
	}

	add := &cobra.Command{
		Use:   "add [content]",
		Short: "Append a message to a user's history",
		Run:   runMessageAdd,
	}
	add.Flags().String("user", "", "User sub (required)")
	add.Flags().String("role", "user", "Role: user, assistant, system")
	_ = add.MarkFlagRequired("user")

	list := &cobra.Command{
		Use:   "list",
		Short: "Show the latest messages, oldest first",
		Run:   runMessageList,
	}
	list.Flags().String("user", "", "User sub (required)")
	list.Flags().IntP("limit", "l", 10, "Max messages")
	_ = list.MarkFlagRequired("user")

	msgCmd.AddCommand(add, list)
	RootCmd.AddCommand(msgCmd)
}

func runMessageAdd(cmd *cobra.Command, args []string) {
	user, _ := cmd.Flags().GetString("user")
	role, _ := cmd.Flags().GetString("role")

	content := strings.TrimSpace(readContent(args))
	if content == "" {
		exitErr("message add", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	rt, err := openEngine(cmd.Context())
	if err != nil {
		exitErr("open store", err)
	}
	defer rt.Close()

	msg := model.Message{UserSub: user, Role: model.Role(strings.ToLower(role)), Content: content}
	if err := rt.eng.AddMessage(cmd.Context(), msg); err != nil {
		exitErr("message add", err)
	}
	fmt.Println(`{"ok":true}`)
}

func runMessageList(cmd *cobra.Command, args []string) {
	user, _ := cmd.Flags().GetString("user")
	limit, _ := cmd.Flags().GetInt("limit")

	rt, err := openEngine(cmd.Context())
	if err != nil {
		exitErr("open store", err)
	}
	defer rt.Close()

	msgs, err := rt.eng.RecentMessages(cmd.Context(), user, limit)
	if err != nil {
		exitErr("message list", err)
	}
	if formatFlag == "text" {
		for _, m := range msgs {
			fmt.Println(assembler.RenderMessage(m))
		}
		return
	}
	printJSON(msgs)
}
