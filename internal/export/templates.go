package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

// SafeHTML is a template function that marks a string as safe HTML
func SafeHTML(s interface{}) template.HTML {
	switch v := s.(type) {
	case string:
		return template.HTML(v)
	case template.HTML:
		return v
	default:
		return template.HTML("")
	}
}

var pageTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
		"safeHTML": SafeHTML,
	}

	pageTemplate = template.Must(template.New("page").Funcs(funcMap).Parse(pageTemplateHTML))
}

// TemplateData holds data for page template rendering
type TemplateData struct {
	Title         string
	Icon          string
	ContentHTML   template.HTML
	EditedBy      string
	UpdatedAt     time.Time
	WorkspaceName string
	Comments      []TemplateComment
}

// TemplateComment holds comment data for template
type TemplateComment struct {
	Author string
	Body   string
}

// RenderPageHTML renders the page template with provided data
func RenderPageHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const pageTemplateHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; color: #222; }
    h1.page-title { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    blockquote { border-left: 3px solid #999; margin-left: 0; padding-left: 1rem; color: #555; }
    pre { background: #f5f5f5; padding: 1rem; overflow-x: auto; }
    .todo { list-style: none; }
    .comment { background: #f5f5f5; padding: 1rem; margin: 1rem 0; border-left: 3px solid #333; }
    .comment .author { font-weight: bold; }
  </style>
</head>
<body>
  <h1 class="page-title">{{if .Icon}}{{.Icon}} {{end}}{{.Title}}</h1>
  <div class="meta">{{.WorkspaceName}}{{if .EditedBy}} | {{.EditedBy}}{{end}} | {{.UpdatedAt.Format "Jan 2, 2006"}}</div>
  <div>{{.ContentHTML | safeHTML}}</div>
  {{if .Comments}}
  <h2>Comments</h2>
  {{range .Comments}}<div class="comment"><span class="author">{{.Author}}</span>: {{.Body}}</div>{{end}}
  {{end}}
</body>
</html>`
