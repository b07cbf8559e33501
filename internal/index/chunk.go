package index

import (
	"strings"
)

// Chunk size bounds in bytes.
const (
	DefaultChunkTarget = 400
	DefaultChunkMax    = 600
)

// ChunkOptions configures how memory content is split before indexing.
type ChunkOptions struct {
	Target int
	Max    int
}

func DefaultChunkOptions() ChunkOptions {
	return ChunkOptions{Target: DefaultChunkTarget, Max: DefaultChunkMax}
}

// SplitContent breaks content into indexable pieces. Content no longer than
// Max is one piece; longer content is cut at markdown headings and blank
// lines, small sections are packed together up to Target, and sections still
// over Max are split on line then word boundaries.
func SplitContent(content string, opts ChunkOptions) []string {
	if opts.Target <= 0 || opts.Max <= 0 {
		opts = DefaultChunkOptions()
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	if len(content) <= opts.Max {
		return []string{content}
	}

	var out []string
	var acc string
	emit := func() {
		if acc == "" {
			return
		}
		if len(acc) > opts.Max {
			out = append(out, splitLong(acc, opts.Target)...)
		} else {
			out = append(out, acc)
		}
		acc = ""
	}

	for _, sec := range sections(content) {
		switch {
		case acc == "":
			acc = sec
		case len(acc)+2+len(sec) <= opts.Target:
			acc += "\n\n" + sec
		default:
			emit()
			acc = sec
		}
	}
	emit()
	return out
}

// sections splits on heading lines and blank-line paragraph breaks.
func sections(text string) []string {
	var out []string
	var cur []string
	flush := func() {
		if s := strings.TrimSpace(strings.Join(cur, "\n")); s != "" {
			out = append(out, s)
		}
		cur = nil
	}
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			flush()
		case strings.HasPrefix(trimmed, "#"):
			flush()
			cur = append(cur, line)
		default:
			cur = append(cur, line)
		}
	}
	flush()
	return out
}

// splitLong packs lines, and words of over-long lines, into pieces near target.
func splitLong(text string, target int) []string {
	var out []string
	var b strings.Builder
	push := func() {
		if s := strings.TrimSpace(b.String()); s != "" {
			out = append(out, s)
		}
		b.Reset()
	}
	add := func(unit, sep string) {
		if b.Len() > 0 && b.Len()+len(sep)+len(unit) > target {
			push()
		}
		if b.Len() > 0 {
			b.WriteString(sep)
		}
		b.WriteString(unit)
	}

	for _, line := range strings.Split(text, "\n") {
		if len(line) <= target {
			add(line, "\n")
			continue
		}
		for _, w := range strings.Fields(line) {
			add(w, " ")
		}
	}
	push()
	return out
}
