package export

import (
	"fmt"
	"html"
	"strings"

	"ideahive/api/internal/docstore"
)

// BlocksToHTML renders ordered blocks as an HTML fragment. Unknown block
// types degrade to paragraphs so an export never fails on new editor types.
func BlocksToHTML(blocks []docstore.Block) string {
	var b strings.Builder

	var listTag string
	closeList := func() {
		if listTag != "" {
			fmt.Fprintf(&b, "</%s>\n", listTag)
			listTag = ""
		}
	}
	openList := func(tag string) {
		if listTag != tag {
			closeList()
			fmt.Fprintf(&b, "<%s>\n", tag)
			listTag = tag
		}
	}

	for _, block := range blocks {
		text := html.EscapeString(BlockText(block))

		switch block.Type {
		case "heading_1", "heading":
			closeList()
			fmt.Fprintf(&b, "<h1>%s</h1>\n", text)
		case "heading_2":
			closeList()
			fmt.Fprintf(&b, "<h2>%s</h2>\n", text)
		case "heading_3":
			closeList()
			fmt.Fprintf(&b, "<h3>%s</h3>\n", text)
		case "bulleted_list_item":
			openList("ul")
			fmt.Fprintf(&b, "<li>%s</li>\n", text)
		case "numbered_list_item":
			openList("ol")
			fmt.Fprintf(&b, "<li>%s</li>\n", text)
		case "todo":
			closeList()
			mark := "&#9744;"
			if checked, _ := block.Properties["checked"].(bool); checked {
				mark = "&#9745;"
			}
			fmt.Fprintf(&b, "<p class=\"todo\">%s %s</p>\n", mark, text)
		case "quote":
			closeList()
			fmt.Fprintf(&b, "<blockquote>%s</blockquote>\n", text)
		case "code":
			closeList()
			fmt.Fprintf(&b, "<pre><code>%s</code></pre>\n", text)
		case "divider":
			closeList()
			b.WriteString("<hr>\n")
		case "image":
			closeList()
			if url, _ := block.Properties["url"].(string); url != "" {
				fmt.Fprintf(&b, "<img src=%q alt=%q>\n", url, text)
			}
		default:
			closeList()
			fmt.Fprintf(&b, "<p>%s</p>\n", text)
		}
	}
	closeList()

	return b.String()
}

// BlockText flattens a block's content to plain text. Editors store either a
// bare string or an object with a text field.
func BlockText(block docstore.Block) string {
	switch v := block.Content.(type) {
	case string:
		return v
	case map[string]any:
		if s, ok := v["text"].(string); ok {
			return s
		}
		return ""
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			switch span := item.(type) {
			case string:
				parts = append(parts, span)
			case map[string]any:
				if s, ok := span["text"].(string); ok {
					parts = append(parts, s)
				}
			}
		}
		return strings.Join(parts, "")
	default:
		return ""
	}
}
