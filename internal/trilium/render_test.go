package trilium

import (
	"strings"
	"testing"
)

func TestMarkdownToHTMLHeadersAndLists(t *testing.T) {
	got := markdownToHTML("## Overview\n- point one\n- point two\n\nA closing **bold** thought.")
	for _, want := range []string{"<h2>Overview</h2>", "<ul>", "<li>point one</li>", "<li>point two</li>", "</ul>", "<strong>bold</strong>"} {
		if !strings.Contains(got, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, got)
		}
	}
}

func TestRenderSummaryHTMLEscapesTitle(t *testing.T) {
	html := RenderSummaryHTML("plain summary", `<script>alert(1)</script>`, "https://youtube.com/watch?v=x")
	if strings.Contains(html, "<script>") {
		t.Fatalf("expected title to be escaped, got:\n%s", html)
	}
}
