package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/rfp-agent-memory/internal/memory"
	"github.com/rcliao/rfp-agent-memory/internal/model"
)

func init() {
	link := &cobra.Command{
		Use:   "link",
		Short: "Create a relationship between memories",
		Long:  "Store a directed edge from one memory to another. The edge lives on the source memory.",
		Run:   runLink,
	}
	keyFlags(link, "from-")
	keyFlags(link, "to-")
	link.Flags().StringP("rel", "r", "", "Relationship: refers_to, depends_on, contradicts, reinforces, temporal_sequence, causes, part_of, related")
	_ = link.MarkFlagRequired("rel")

	related := &cobra.Command{
		Use:   "related",
		Short: "Walk relationships from a memory",
		Run:   runRelated,
	}
	keyFlags(related, "")
	related.Flags().StringP("rel", "r", "", "Only follow this relationship type")
	related.Flags().Int("depth", 1, "Traversal depth (max 3)")
	related.Flags().IntP("limit", "l", 20, "Max results")

	RootCmd.AddCommand(link, related)
}

func runLink(cmd *cobra.Command, args []string) {
	rel, _ := cmd.Flags().GetString("rel")
	from, err := readKey(cmd, "from-")
	if err != nil {
		exitErr("link", err)
	}
	to, err := readKey(cmd, "to-")
	if err != nil {
		exitErr("link", err)
	}

	rt, err := openEngine(cmd.Context())
	if err != nil {
		exitErr("open store", err)
	}
	defer rt.Close()

	mem, err := rt.eng.Link(cmd.Context(), from, to, model.RelationshipType(rel))
	if err != nil {
		exitErr("link", err)
	}
	printJSON(mem)
}

func runRelated(cmd *cobra.Command, args []string) {
	rel, _ := cmd.Flags().GetString("rel")
	depth, _ := cmd.Flags().GetInt("depth")
	limit, _ := cmd.Flags().GetInt("limit")
	key, err := readKey(cmd, "")
	if err != nil {
		exitErr("related", err)
	}

	rt, err := openEngine(cmd.Context())
	if err != nil {
		exitErr("open store", err)
	}
	defer rt.Close()

	mems, err := rt.eng.GetRelated(cmd.Context(), key, memory.RelatedQuery{
		Type:  model.RelationshipType(rel),
		Depth: depth,
		Limit: limit,
	})
	if err != nil {
		exitErr("related", err)
	}
	printJSON(mems)
}
