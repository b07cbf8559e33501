package keywords_test

import (
	"strings"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/rcliao/rfp-agent-memory/internal/keywords"
)

func TestExtractKeywordsRanksByFrequency(t *testing.T) {
	got := keywords.ExtractKeywords("Budget review: the budget is tight and the timeline is tighter than the budget.", 3)
	gt.Value(t, got).Equal([]string{"budget", "review", "tight"})
}

func TestExtractKeywordsDropsNoise(t *testing.T) {
	got := keywords.ExtractKeywords("It is a go on 12 of 2025 for us", 10)
	gt.Value(t, got).Equal([]string{"2025"})

	gt.Array(t, keywords.ExtractKeywords("", 10)).Length(0)
}

func TestExtractKeywordsDeterministic(t *testing.T) {
	text := "Security questionnaire for Acme Corp covers encryption, access control and audit logging."
	first := keywords.ExtractKeywords(text, 0)
	for i := 0; i < 5; i++ {
		gt.Value(t, keywords.ExtractKeywords(text, 0)).Equal(first)
	}
}

func TestExtractEntities(t *testing.T) {
	text := "Kickoff with Acme Corp on 2025-03-14. Budget is $250,000 per NASA guidance; ping @dana or ops@acme.io."
	got := keywords.ExtractEntities(text)

	for _, want := range []string{"Acme Corp", "2025-03-14", "$250,000", "NASA", "@dana", "ops@acme.io"} {
		found := false
		for _, g := range got {
			if g == want {
				found = true
			}
		}
		gt.Bool(t, found).True()
	}

	// sentence-initial single words are not entities
	for _, g := range got {
		gt.Value(t, g).NotEqual("Kickoff")
		gt.Value(t, g).NotEqual("Budget")
	}
}

func TestWriteKeywordsIncludesEntityTokens(t *testing.T) {
	got := keywords.WriteKeywords("Meeting notes. We met Globex Industries about pricing.")
	gt.Array(t, got).Has("globex")
	gt.Array(t, got).Has("industries")
	gt.Array(t, got).Has("pricing")
}

func TestExtractTags(t *testing.T) {
	tags := keywords.ExtractTags("The budget and the deadline slipped after the audit.", map[string]any{
		"tags":     []any{"Urgent", "urgent"},
		"category": "finance",
		"rfpId":    "r1",
	})
	gt.Value(t, tags).Equal([]string{"urgent", "finance", "budget", "timeline", "compliance", "rfp"})
}

func TestExtractTagsCapped(t *testing.T) {
	var many []string
	for i := 0; i < 40; i++ {
		many = append(many, strings.Repeat("x", i+1))
	}
	gt.Array(t, keywords.ExtractTags("", map[string]any{"tags": many})).Length(25)
	gt.Array(t, keywords.NormalizeTags(many)).Length(25)
}

func TestClip(t *testing.T) {
	gt.Value(t, keywords.Clip("hello", 10)).Equal("hello")
	gt.Value(t, keywords.Clip("hello world", 8)).Equal("hello...")
	gt.Value(t, keywords.Clip("héllo wörld", 5)).Equal("hé...")
	gt.Value(t, keywords.Clip("abc", 0)).Equal("")
}

func TestSummarize(t *testing.T) {
	gt.Value(t, keywords.Summarize("short  text\nhere", 50)).Equal("short text here")

	long := "First sentence is here. Second sentence is a bit longer than the first one. Third."
	gt.Value(t, keywords.Summarize(long, 30)).Equal("First sentence is here.")

	noStop := strings.Repeat("word ", 40)
	got := keywords.Summarize(noStop, 20)
	gt.Number(t, len([]rune(got))).LessOrEqual(20)
	gt.S(t, got).Contains("...")
}
