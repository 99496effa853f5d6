package trilium

import (
	"html"
	"regexp"
	"strings"
)

var (
	boldPattern   = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicPattern = regexp.MustCompile(`\*(.+?)\*`)
)

// RenderSummaryHTML converts a summarizer's lightly-formatted text
// (headers, bullets, bold/italic) into the HTML body Trilium's "text"
// note type expects.
func RenderSummaryHTML(summary, sourceTitle, watchURL string) string {
	var b strings.Builder
	b.WriteString(`<div class="summary">` + "\n")
	b.WriteString(markdownToHTML(summary))
	b.WriteString("\n</div>\n")
	b.WriteString(`<p style="margin-top:2em;padding-top:1em;border-top:1px solid #ccc;">`)
	b.WriteString(`<strong>Source:</strong> <a href="` + html.EscapeString(watchURL) + `" target="_blank">` + html.EscapeString(sourceTitle) + `</a></p>`)
	return b.String()
}

func markdownToHTML(text string) string {
	lines := strings.Split(text, "\n")
	var out []string
	inList := false

	closeList := func() {
		if inList {
			out = append(out, "</ul>")
			inList = false
		}
	}

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		switch {
		case line == "":
			closeList()
			out = append(out, "<br>")
		case strings.HasPrefix(line, "### "):
			closeList()
			out = append(out, "<h3>"+html.EscapeString(line[4:])+"</h3>")
		case strings.HasPrefix(line, "## "):
			closeList()
			out = append(out, "<h2>"+html.EscapeString(line[3:])+"</h2>")
		case strings.HasPrefix(line, "# "):
			closeList()
			out = append(out, "<h1>"+html.EscapeString(line[2:])+"</h1>")
		case strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* "):
			if !inList {
				out = append(out, "<ul>")
				inList = true
			}
			out = append(out, "<li>"+inlineFormat(strings.TrimSpace(line[2:]))+"</li>")
		default:
			closeList()
			out = append(out, "<p>"+inlineFormat(line)+"</p>")
		}
	}
	closeList()
	return strings.Join(out, "\n")
}

func inlineFormat(text string) string {
	escaped := html.EscapeString(text)
	escaped = boldPattern.ReplaceAllString(escaped, "<strong>$1</strong>")
	escaped = italicPattern.ReplaceAllString(escaped, "<em>$1</em>")
	return escaped
}
