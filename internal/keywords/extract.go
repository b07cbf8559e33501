// Package keywords derives search keys (keywords, entities, tags) and short
// summaries from free text. Every function is deterministic.
package keywords

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

const (
	DefaultMaxKeywords = 20
	minKeywordLength   = 3
	maxWriteKeywords   = 30
)

// Tokenize lower-cases text and splits it into word tokens. Hyphens and
// underscores inside a word are kept ("go-live", "rfp_id").
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_'
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "-_")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func isKeyword(tok string) bool {
	if len([]rune(tok)) < minKeywordLength || stopWords[tok] {
		return false
	}
	allDigits := true
	for _, r := range tok {
		if !unicode.IsDigit(r) {
			allDigits = false
			break
		}
	}
	// bare numbers are noise unless they look like a year or an id
	return !allDigits || len(tok) >= 4
}

// ExtractKeywords returns up to maxKeywords distinct keywords ordered by
// frequency, then by first occurrence.
func ExtractKeywords(text string, maxKeywords int) []string {
	if maxKeywords <= 0 {
		maxKeywords = DefaultMaxKeywords
	}

	type stat struct {
		word  string
		count int
		first int
	}
	stats := map[string]*stat{}
	var order []*stat
	for i, tok := range Tokenize(text) {
		if !isKeyword(tok) {
			continue
		}
		if s, ok := stats[tok]; ok {
			s.count++
			continue
		}
		s := &stat{word: tok, count: 1, first: i}
		stats[tok] = s
		order = append(order, s)
	}

	sort.SliceStable(order, func(i, j int) bool {
		if order[i].count != order[j].count {
			return order[i].count > order[j].count
		}
		return order[i].first < order[j].first
	})

	if len(order) > maxKeywords {
		order = order[:maxKeywords]
	}
	out := make([]string, len(order))
	for i, s := range order {
		out[i] = s.word
	}
	return out
}

var (
	moneyPattern   = regexp.MustCompile(`\$\d[\d,]*(?:\.\d+)?[kKmMbB]?`)
	emailPattern   = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	mentionPattern = regexp.MustCompile(`(?:^|\s)@([A-Za-z0-9._-]+)`)
	datePattern    = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	acronymPattern = regexp.MustCompile(`\b[A-Z][A-Z0-9]{1,9}\b`)
	properPattern  = regexp.MustCompile(`\b[A-Z][a-z0-9]+(?:\s+[A-Z][a-z0-9]+)*\b`)
)

// ExtractEntities returns named things found in text in order of appearance:
// money amounts, emails, @mentions, ISO dates, acronyms and capitalized
// phrases. A lone capitalized word that opens a sentence is skipped unless it
// appears capitalized elsewhere too.
func ExtractEntities(text string) []string {
	type hit struct {
		pos  int
		text string
	}
	var hits []hit
	add := func(pos int, s string) {
		s = strings.TrimSpace(s)
		if s != "" {
			hits = append(hits, hit{pos: pos, text: s})
		}
	}

	for _, loc := range moneyPattern.FindAllStringIndex(text, -1) {
		add(loc[0], text[loc[0]:loc[1]])
	}
	for _, loc := range emailPattern.FindAllStringIndex(text, -1) {
		add(loc[0], text[loc[0]:loc[1]])
	}
	for _, m := range mentionPattern.FindAllStringSubmatchIndex(text, -1) {
		add(m[2], "@"+text[m[2]:m[3]])
	}
	for _, loc := range datePattern.FindAllStringIndex(text, -1) {
		add(loc[0], text[loc[0]:loc[1]])
	}
	for _, loc := range acronymPattern.FindAllStringIndex(text, -1) {
		add(loc[0], text[loc[0]:loc[1]])
	}

	propers := properPattern.FindAllStringIndex(text, -1)
	capitalized := map[string]int{}
	for _, loc := range propers {
		capitalized[text[loc[0]:loc[1]]]++
	}
	for _, loc := range propers {
		phrase := text[loc[0]:loc[1]]
		if strings.Contains(phrase, " ") {
			add(loc[0], phrase)
			continue
		}
		if stopWords[strings.ToLower(phrase)] {
			continue
		}
		if sentenceStart(text, loc[0]) && capitalized[phrase] < 2 {
			continue
		}
		add(loc[0], phrase)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	seen := map[string]bool{}
	var out []string
	for _, h := range hits {
		if seen[h.text] {
			continue
		}
		seen[h.text] = true
		out = append(out, h.text)
	}
	return out
}

func sentenceStart(text string, pos int) bool {
	i := pos - 1
	for i >= 0 && (text[i] == ' ' || text[i] == '\t' || text[i] == '\n' || text[i] == '"') {
		i--
	}
	if i < 0 {
		return true
	}
	switch text[i] {
	case '.', '!', '?', '\n', ':':
		return true
	}
	return false
}

// WriteKeywords is the keyword set stored with a memory: ranked keywords
// followed by lower-cased entity tokens not already present.
func WriteKeywords(text string) []string {
	out := ExtractKeywords(text, DefaultMaxKeywords)
	seen := make(map[string]bool, len(out))
	for _, k := range out {
		seen[k] = true
	}
	for _, e := range ExtractEntities(text) {
		for _, tok := range Tokenize(e) {
			if len(out) >= maxWriteKeywords {
				return out
			}
			if seen[tok] || !isKeyword(tok) {
				continue
			}
			seen[tok] = true
			out = append(out, tok)
		}
	}
	return out
}
