package keywords

import (
	"fmt"
	"strings"

	"github.com/rcliao/rfp-agent-memory/internal/model"
)

// topic is a tag attached when any trigger word appears in the text.
type topic struct {
	tag      string
	triggers []string
}

// topics is ordered; tag output follows this order.
var topics = []topic{
	{"budget", []string{"budget", "budgets", "cost", "costs", "pricing", "price", "fee", "fees", "dollars", "spend"}},
	{"timeline", []string{"timeline", "deadline", "deadlines", "schedule", "milestone", "milestones", "due", "date"}},
	{"compliance", []string{"compliance", "compliant", "regulation", "regulatory", "certification", "audit", "soc2", "hipaa", "gdpr"}},
	{"security", []string{"security", "secure", "encryption", "vulnerability", "access", "authentication"}},
	{"requirements", []string{"requirement", "requirements", "scope", "deliverable", "deliverables", "specification"}},
	{"team", []string{"team", "staff", "staffing", "personnel", "resume", "resumes", "member", "members"}},
	{"references", []string{"reference", "references", "testimonial", "past", "case-study"}},
	{"contract", []string{"contract", "contracting", "agreement", "terms", "legal", "msa", "sow"}},
	{"proposal", []string{"proposal", "proposals", "rfp", "rfps", "bid", "submission"}},
	{"preference", []string{"prefer", "prefers", "preferred", "preference", "always", "never", "style", "tone"}},
	{"workflow", []string{"workflow", "process", "procedure", "steps", "step", "checklist"}},
	{"meeting", []string{"meeting", "call", "sync", "standup", "agenda"}},
	{"error", []string{"error", "errors", "failed", "failure", "exception", "timeout"}},
}

// ExtractTags returns at most model.MaxTags distinct tags: caller-supplied
// tags from metadata first (metadata["tags"] and metadata["category"]), then
// topic tags triggered by the text, then an "rfp" tag when metadata names one.
func ExtractTags(text string, metadata map[string]any) []string {
	var out []string
	seen := map[string]bool{}
	add := func(tag string) {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] || len(out) >= model.MaxTags {
			return
		}
		seen[tag] = true
		out = append(out, tag)
	}

	switch v := metadata["tags"].(type) {
	case []string:
		for _, t := range v {
			add(t)
		}
	case []any:
		for _, t := range v {
			add(fmt.Sprint(t))
		}
	case string:
		for _, t := range strings.Split(v, ",") {
			add(t)
		}
	}
	if c, ok := metadata["category"].(string); ok {
		add(c)
	}

	tokens := map[string]bool{}
	for _, tok := range Tokenize(text) {
		tokens[tok] = true
	}
	for _, tp := range topics {
		for _, trig := range tp.triggers {
			if tokens[trig] {
				add(tp.tag)
				break
			}
		}
	}

	if id, ok := metadata["rfpId"].(string); ok && id != "" {
		add("rfp")
	}
	return out
}

// NormalizeTags lower-cases, trims and de-duplicates caller tags, capped at
// model.MaxTags.
func NormalizeTags(tags []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
		if len(out) == model.MaxTags {
			break
		}
	}
	return out
}
