package assembler

import (
	"fmt"
	"strings"
	"time"

	"github.com/rcliao/rfp-agent-memory/internal/keywords"
	"github.com/rcliao/rfp-agent-memory/internal/model"
)

const (
	memoryTextLimit  = 200
	blockTextLimit   = 300
	messageTextLimit = 200
	renderedTags     = 3
	dateLayout       = "2006-01-02"
)

// RenderMemory renders m as "[TYPE] summary (date) [tags]".
func RenderMemory(m *model.Memory) string {
	text := m.Summary
	if text == "" {
		text = m.Content
	}
	line := fmt.Sprintf("[%s] %s (%s)", m.MemoryType, keywords.Clip(oneLine(text), memoryTextLimit), m.CreatedAt.Format(dateLayout))
	if len(m.Tags) > 0 {
		tags := m.Tags
		if len(tags) > renderedTags {
			tags = tags[:renderedTags]
		}
		line += " [" + strings.Join(tags, ", ") + "]"
	}
	return line
}

// RenderBlock renders a memory block as "[BLOCK] title: content".
func RenderBlock(m *model.Memory) string {
	title := ""
	if b := m.Metadata.Block; b != nil {
		title = b.Title
		if title == "" {
			title = b.BlockID
		}
	}
	return keywords.Clip(fmt.Sprintf("[BLOCK] %s: %s", title, oneLine(m.Content)), blockTextLimit)
}

// RenderMessage renders a message as "ROLE: content (date)".
func RenderMessage(msg model.Message) string {
	return fmt.Sprintf("%s: %s (%s)",
		strings.ToUpper(string(msg.Role)),
		keywords.Clip(oneLine(msg.Content), messageTextLimit),
		msg.Timestamp.In(time.UTC).Format(dateLayout))
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
