package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/shaiso/flowboard/internal/domain"
)

func TestExtractVariables(t *testing.T) {
	tests := []struct {
		name     string
		template string
		expected []string
	}{
		{"empty", "", []string{}},
		{"no tokens", "plain text", []string{}},
		{"single", "Hello {{name}}!", []string{"name"}},
		{"first occurrence order", "{{b}} {{a}} {{b}}", []string{"b", "a"}},
		{"underscore and digits", "{{user_1}} {{2fa}}", []string{"user_1", "2fa"}},
		{"adjacent", "{{a}}{{b}}", []string{"a", "b"}},
		// Нестрогий сканер: некорректные токены пропускаются
		{"spaces inside", "{{ name }}", []string{}},
		{"single brace", "{name}", []string{}},
		{"unclosed", "{{name}", []string{}},
		{"non identifier", "{{a-b}} {{a.b}}", []string{}},
		{"triple braces", "{{{x}}}", []string{"x"}},
		{"dollar ignored", "$NAME", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExtractVariables(tt.template))
		})
	}
}

func TestExtractAllVariables(t *testing.T) {
	got := ExtractAllVariables("$USER asks {{question}} about $TOPIC and {{question}} with $USER")

	expected := []domain.Variable{
		{Name: "USER", Syntax: domain.SyntaxDollar},
		{Name: "question", Syntax: domain.SyntaxMustache},
		{Name: "TOPIC", Syntax: domain.SyntaxDollar},
	}
	assert.Equal(t, expected, got)
}

func TestExtractAllVariables_NoCrossDedup(t *testing.T) {
	got := ExtractAllVariables("{{FOO}} $FOO {{foo}}")

	require.Len(t, got, 3)
	assert.Equal(t, "FOO", got[0].Key())
	assert.Equal(t, "$FOO", got[1].Key())
	assert.Equal(t, "foo", got[2].Key())
}

func TestExtractAllVariables_DollarNeedsUpperCase(t *testing.T) {
	// $lower и $1 не переменные
	assert.Empty(t, ExtractAllVariables("$lower $1 $ $_X"))
	assert.Equal(t, []string{"$A1_B"}, VariableKeys("cost: $A1_B."))
}

func TestExtractVariables_Properties(t *testing.T) {
	pieces := []string{"{{a}}", "{{b}}", "{{foo_1}}", "{{", "}}", "{", "}", "text", " ", "$NAME", "{{ x }}", "\n"}

	rapid.Check(t, func(t *rapid.T) {
		parts := rapid.SliceOf(rapid.SampledFrom(pieces)).Draw(t, "parts")
		template := strings.Join(parts, "")

		names := ExtractVariables(template)

		seen := make(map[string]bool)
		lastPos := -1
		for _, name := range names {
			if seen[name] {
				t.Fatalf("duplicate %q in %v", name, names)
			}
			seen[name] = true

			pos := strings.Index(template, "{{"+name+"}}")
			if pos <= lastPos {
				t.Fatalf("order broken for %q in %q: %v", name, template, names)
			}
			lastPos = pos
		}
	})
}

func TestExtractVariables_NoTokensProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		template := rapid.StringMatching(`[a-z0-9 {}_.-]*`).Filter(func(s string) bool {
			return !strings.Contains(s, "{{")
		}).Draw(t, "template")

		if got := ExtractVariables(template); len(got) != 0 {
			t.Fatalf("expected no variables in %q, got %v", template, got)
		}
	})
}
