package rag

import (
	"strings"

	"guidance/pkg/utils"
)

// BuildContext assembles retrieved passages into a prompt context block,
// stopping once the token budget is spent. Each passage carries its source
// metadata so the model can cite sections and pages.
func BuildContext(passages []Passage, tokenBudget int) string {
	var b strings.Builder
	used := 0

	for _, p := range passages {
		text := formatPassage(p)
		cost := utils.CountTokensSimple(text) + 4
		if used+cost > tokenBudget {
			break
		}
		if b.Len() > 0 {
			b.WriteString("\n\n---\n\n")
		}
		b.WriteString(text)
		used += cost
	}

	return b.String()
}

// formatPassage prefixes the passage content with its source metadata.
func formatPassage(p Passage) string {
	var meta []string
	if title := p.Metadata["title"]; title != "" {
		meta = append(meta, "Section: "+title)
	}
	if page := p.Metadata["page"]; page != "" {
		meta = append(meta, "Page: "+page)
	}
	if chapter := p.Metadata["chapter"]; chapter != "" {
		meta = append(meta, "Chapter: "+chapter)
	}

	if len(meta) == 0 {
		return p.Content
	}
	return "[" + strings.Join(meta, ", ") + "]\n\n" + p.Content
}
