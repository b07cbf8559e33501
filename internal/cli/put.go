package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/rfp-agent-memory/internal/memory"
	"github.com/rcliao/rfp-agent-memory/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "put [content]",
		Short: "Store a memory",
		Long: `Store an episodic, semantic or procedural memory. Content can be a positional
arg or piped via stdin. For semantic memories the content is the value of --key;
for procedural memories each line of content is one step.`,
		Run: runPut,
	}

	cmd.Flags().StringP("scope", "s", "", "Scope id, e.g. USER#u1 or RFP#r1 (required)")
	cmd.Flags().String("kind", "episodic", "Kind: episodic, semantic, procedural")
	cmd.Flags().StringP("tags", "t", "", "Comma-separated tags")
	cmd.Flags().StringP("key", "k", "", "Semantic key")
	cmd.Flags().Float64("confidence", 1, "Semantic confidence")
	cmd.Flags().String("workflow", "", "Procedural workflow name")
	cmd.Flags().Bool("failed", false, "Procedural outcome was a failure")
	cmd.Flags().String("meta", "", "JSON metadata")
	cmd.Flags().String("source", "", "Provenance source, e.g. api")
	cmd.Flags().String("user", "", "Provenance cognito user id")
	cmd.Flags().String("rfp", "", "Provenance RFP id")

	_ = cmd.MarkFlagRequired("scope")

	RootCmd.AddCommand(cmd)
}

func runPut(cmd *cobra.Command, args []string) {
	scopeID, _ := cmd.Flags().GetString("scope")
	kind, _ := cmd.Flags().GetString("kind")
	tagsStr, _ := cmd.Flags().GetString("tags")
	key, _ := cmd.Flags().GetString("key")
	confidence, _ := cmd.Flags().GetFloat64("confidence")
	workflow, _ := cmd.Flags().GetString("workflow")
	failed, _ := cmd.Flags().GetBool("failed")
	meta, _ := cmd.Flags().GetString("meta")
	source, _ := cmd.Flags().GetString("source")
	user, _ := cmd.Flags().GetString("user")
	rfp, _ := cmd.Flags().GetString("rfp")

	content := readContent(args)
	if strings.TrimSpace(content) == "" {
		exitErr("put", fmt.Errorf("content is required (positional arg or stdin)"))
	}
	content = strings.TrimSpace(content)
	tags := splitList(tagsStr)
	prov := model.Provenance{CognitoUserID: user, RFPID: rfp, Source: source}

	var metadata map[string]any
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &metadata); err != nil {
			exitErr("parse meta", err)
		}
	}

	rt, err := openEngine(cmd.Context())
	if err != nil {
		exitErr("open store", err)
	}
	defer rt.Close()

	var mem *model.Memory
	switch strings.ToLower(kind) {
	case "episodic":
		mem, err = rt.eng.StoreEpisodic(cmd.Context(), memory.EpisodicInput{
			ScopeID:    scopeID,
			Content:    content,
			Tags:       tags,
			Metadata:   metadata,
			Provenance: prov,
		})
	case "semantic":
		mem, err = rt.eng.StoreSemantic(cmd.Context(), memory.SemanticInput{
			ScopeID:    scopeID,
			Key:        key,
			Value:      content,
			Confidence: confidence,
			Tags:       tags,
			Provenance: prov,
		})
	case "procedural":
		mem, err = rt.eng.StoreProcedural(cmd.Context(), memory.ProceduralInput{
			ScopeID:      scopeID,
			WorkflowName: workflow,
			Steps:        splitLines(content),
			Success:      !failed,
			Tags:         tags,
			Provenance:   prov,
		})
	default:
		err = errors.New("kind must be episodic, semantic or procedural")
	}
	if err != nil {
		exitErr("put", err)
	}

	b, _ := json.Marshal(mem)
	fmt.Println(string(b))
}

// readContent joins args, falling back to piped stdin.
func readContent(args []string) string {
	if len(args) > 0 {
		return strings.Join(args, " ")
	}
	stat, _ := os.Stdin.Stat()
	if stat == nil || (stat.Mode()&os.ModeCharDevice) != 0 {
		return ""
	}
	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		exitErr("read stdin", err)
	}
	return string(b)
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
