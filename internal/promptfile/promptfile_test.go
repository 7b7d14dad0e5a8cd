package promptfile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/flowboard/internal/domain"
)

func TestParse(t *testing.T) {
	content := `---
id: code-review
name: Code Review
description: Review a diff
category: engineering
tags:
  - review
  - git
priority: 2
version: 1.0
outputExtraction:
  mode: regex
  outputName: verdict
  pattern: "VERDICT: (\\w+)"
createdAt: 2025-03-01T10:00:00.123456
updatedAt: 2025-03-02T11:30:00Z
---

Review {{diff}} against $STYLE_GUIDE.

End.
`

	p, err := Parse([]byte(content))
	require.NoError(t, err)

	assert.Equal(t, "code-review", p.ID)
	assert.Equal(t, "Code Review", p.Name)
	assert.Equal(t, "Review a diff", p.Description)
	assert.Equal(t, "engineering", p.Category)
	assert.Equal(t, []string{"review", "git"}, p.Tags)
	assert.Equal(t, "2", p.Priority)
	assert.Equal(t, "1.0", p.Version)
	assert.Equal(t, domain.OutputExtraction{OutputName: "verdict", Mode: domain.ModeRegex, Pattern: `VERDICT: (\w+)`}, p.OutputExtraction)
	assert.Equal(t, "Review {{diff}} against $STYLE_GUIDE.\n\nEnd.", p.Template)
	assert.Equal(t, 2025, p.CreatedAt.Year())
	assert.Equal(t, time.Date(2025, 3, 2, 11, 30, 0, 0, time.UTC), p.UpdatedAt)
}

func TestParse_DefaultExtraction(t *testing.T) {
	p, err := Parse([]byte("---\nname: Simple\n---\nHello {{name}}\n"))
	require.NoError(t, err)

	assert.Equal(t, domain.DefaultOutputExtraction(), p.OutputExtraction)
	assert.Equal(t, "Hello {{name}}", p.Template)
	assert.Empty(t, p.ID)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected error
	}{
		{"no header", "Just a template {{x}}", ErrNoFrontMatter},
		{"unclosed header", "---\nname: x\nbody", ErrNoFrontMatter},
		{"empty header", "---\n\n---\nbody", ErrInvalidFrontMatter},
		{"list header", "---\n- a\n- b\n---\nbody", ErrInvalidFrontMatter},
		{"broken yaml", "---\nname: [unclosed\n---\nbody", ErrInvalidFrontMatter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content))
			assert.ErrorIs(t, err, tt.expected)
		})
	}
}

func TestFormat_RoundTrip(t *testing.T) {
	created := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	p := &domain.PromptTemplate{
		ID:          "summarize",
		Name:        "Summarize",
		Description: "Short summary",
		Tags:        []string{"text"},
		Template:    "Summarize {{text}}.",
		CreatedAt:   created,
	}

	out, err := Format(p)
	require.NoError(t, err)

	s := string(out)
	assert.True(t, strings.HasPrefix(s, "---\nid: summarize\nname: Summarize\n"), s)
	assert.True(t, strings.HasSuffix(s, "---\n\nSummarize {{text}}.\n"), s)
	assert.Contains(t, s, "outputExtraction:")
	assert.NotContains(t, s, "category")
	assert.NotContains(t, s, "updatedAt")

	back, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, p.ID, back.ID)
	assert.Equal(t, p.Tags, back.Tags)
	assert.Equal(t, p.Template, back.Template)
	assert.Equal(t, domain.DefaultOutputExtraction(), back.OutputExtraction)
	assert.True(t, created.Equal(back.CreatedAt))
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in, expected string
	}{
		{"Code Review", "code-review"},
		{"  Fix: the  bug!! ", "fix-the-bug"},
		{"a -- b", "a-b"},
		{"snake_case_name", "snake_case_name"},
		{"Résumé parser", "résumé-parser"},
		{"!!!", "unnamed"},
		{"", "unnamed"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.expected, Sanitize(tt.in))
		})
	}
}

func TestWriteAndReadFile(t *testing.T) {
	dir := t.TempDir()

	p := &domain.PromptTemplate{Name: "Daily Report", Template: "Report for {{date}}"}
	path, err := WriteFile(filepath.Join(dir, "reports"), p)
	require.NoError(t, err)
	assert.Equal(t, "daily-report.md", filepath.Base(path))

	back, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "daily-report", back.ID)
	assert.Equal(t, "daily-report", back.SourceFilename)
	assert.Equal(t, "Daily Report", back.Name)

	// sourceFilename сохраняет исходное имя при переименовании
	back.Name = "Renamed"
	path2, err := WriteFile(filepath.Join(dir, "reports"), back)
	require.NoError(t, err)
	assert.Equal(t, path, path2)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.md"), []byte("no header"), 0o644))
	_, err = ReadFile(filepath.Join(dir, "bad.md"))
	assert.ErrorIs(t, err, ErrNoFrontMatter)

	assert.True(t, IsPromptFile("x.MD"))
	assert.False(t, IsPromptFile("x.json"))
}
