// Package similarity scores lexical overlap between a query and memories
// without precomputed vectors.
package similarity

import (
	"strings"

	"github.com/rcliao/rfp-agent-memory/internal/keywords"
	"github.com/rcliao/rfp-agent-memory/internal/model"
)

// scoringKeywords bounds the keyword set extracted from a single text.
const scoringKeywords = 200

// Weights combines keyword overlap and text overlap.
type Weights struct {
	Keyword float64 `toml:"keyword"`
	Text    float64 `toml:"text"`
}

func DefaultWeights() Weights {
	return Weights{Keyword: 0.6, Text: 0.4}
}

// Text is the Jaccard overlap of the keyword sets of a and b. It falls back
// to whitespace tokens when neither text has keywords. Identical texts score
// 1, including two empty strings.
func Text(a, b string) float64 {
	if a == b {
		return 1
	}
	ka, kb := keywordSet(a), keywordSet(b)
	if len(ka) == 0 && len(kb) == 0 {
		return Jaccard(wordSet(a), wordSet(b))
	}
	return Jaccard(ka, kb)
}

// Score rates m against query: Keyword weight on the overlap between the
// query keywords and the memory's keywords and tags, Text weight on Text.
func Score(w Weights, query string, m *model.Memory) float64 {
	terms := make(map[string]struct{}, len(m.Keywords)+len(m.Tags))
	for _, k := range m.Keywords {
		terms[strings.ToLower(k)] = struct{}{}
	}
	for _, t := range m.Tags {
		terms[strings.ToLower(t)] = struct{}{}
	}

	s := w.Keyword*Jaccard(keywordSet(query), terms) + w.Text*Text(query, m.Content)
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}

// Jaccard is |a∩b| / |a∪b|, and 0 when both sets are empty.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func keywordSet(text string) map[string]struct{} {
	return toSet(keywords.ExtractKeywords(text, scoringKeywords))
}

func wordSet(text string) map[string]struct{} {
	return toSet(strings.Fields(strings.ToLower(text)))
}

func toSet(words []string) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[w] = struct{}{}
	}
	return out
}
