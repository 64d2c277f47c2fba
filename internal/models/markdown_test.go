package models_test

import (
	"strings"
	"testing"

	"github.com/kash-ai/kash-web-ui/internal/models"
)

func TestRenderMarkdown(t *testing.T) {
	got := string(models.RenderMarkdown("**Error:** something went wrong"))
	if !strings.Contains(got, "<strong>Error:</strong>") {
		t.Errorf("RenderMarkdown() = %q, want bold markup", got)
	}

	got = string(models.RenderMarkdown("| a | b |\n|---|---|\n| 1 | 2 |"))
	if !strings.Contains(got, "<table>") {
		t.Errorf("RenderMarkdown() = %q, want a table", got)
	}

	got = string(models.RenderMarkdown("```go\nfunc main() {}\n```"))
	if !strings.Contains(got, "<pre") {
		t.Errorf("RenderMarkdown() = %q, want a highlighted code block", got)
	}
}
