package gateway

import (
	"strings"

	"github.com/robertof1lho/archestra-sub001/internal/model"
)

// resultPlaceholder is the marker a response template substitutes with
// the raw tool output.
const resultPlaceholder = "{{result}}"

// applyResponseTemplate reshapes successful tool output. Each text block
// is substituted into the template; a template without the placeholder
// replaces the output wholesale.
func applyResponseTemplate(template string, content []model.ContentBlock) []model.ContentBlock {
	if !strings.Contains(template, resultPlaceholder) {
		return []model.ContentBlock{{Type: "text", Text: template}}
	}

	out := make([]model.ContentBlock, 0, len(content))
	for _, block := range content {
		if block.Type != "text" {
			out = append(out, block)
			continue
		}
		out = append(out, model.ContentBlock{
			Type: "text",
			Text: strings.ReplaceAll(template, resultPlaceholder, block.Text),
		})
	}
	return out
}
