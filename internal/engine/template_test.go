package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/shaiso/flowboard/internal/domain"
)

func static(name, value string) domain.VariableBinding {
	return domain.VariableBinding{Name: name, Source: domain.SourceStatic, StaticValue: value}
}

func upstream(name, nodeID, output, path string) domain.VariableBinding {
	return domain.VariableBinding{
		Name:         name,
		Source:       domain.SourceUpstream,
		SourceNodeID: nodeID,
		SourceOutput: output,
		SourcePath:   path,
	}
}

func TestResolve_Static(t *testing.T) {
	bindings := domain.Bindings{"name": static("name", "World")}

	got := Resolve("Hello {{name}}!", bindings, "", nil)
	assert.Equal(t, "Hello World!", got)
}

func TestResolve_UnboundIsEmpty(t *testing.T) {
	assert.Equal(t, "", Resolve("{{missing}}", domain.Bindings{}, "input", nil))
	assert.Equal(t, "a  b", Resolve("a {{x}} b", nil, "", nil))
}

func TestResolve_Input(t *testing.T) {
	bindings := domain.Bindings{
		"q":     {Name: "q", Source: domain.SourceInput},
		"again": {Name: "again", Source: domain.SourceInput},
	}

	got := Resolve("Q: {{q}} / {{again}}", bindings, "why?", nil)
	assert.Equal(t, "Q: why? / why?", got)
}

func TestResolve_StaticEmptyValue(t *testing.T) {
	bindings := domain.Bindings{"x": {Name: "x", Source: domain.SourceStatic}}
	assert.Equal(t, "[]", Resolve("[{{x}}]", bindings, "in", nil))
}

func TestResolve_Upstream(t *testing.T) {
	outputs := UpstreamMap{
		"fetch": {
			Raw: `{"result": {"items": ["a", "b"]}, "count": 42}`,
			Outputs: map[string]any{
				"summary": "first line\nsecond",
				"parsed":  map[string]any{"score": float64(7)},
			},
		},
		"plain": {Raw: "status: OK\ncode=200"},
	}

	tests := []struct {
		name     string
		binding  domain.VariableBinding
		expected string
	}{
		{"raw output", upstream("v", "plain", "", ""), "status: OK\ncode=200"},
		{"jsonpath on raw", upstream("v", "fetch", "", "$.count"), "42"},
		{"jsonpath array", upstream("v", "fetch", "", "$.result.items"), `["a","b"]`},
		{"jsonpath element", upstream("v", "fetch", "", "$.result.items[1]"), "b"},
		{"jsonpath no match", upstream("v", "fetch", "", "$.missing"), ""},
		{"regex with group", upstream("v", "plain", "", `code=(\d+)`), "200"},
		{"regex whole match", upstream("v", "plain", "", `OK`), "OK"},
		{"regex no match", upstream("v", "plain", "", `nope(\d)`), ""},
		{"named output", upstream("v", "fetch", "summary", ""), "first line\nsecond"},
		{"named output missing", upstream("v", "fetch", "absent", ""), ""},
		{"named parsed output with jsonpath", upstream("v", "fetch", "parsed", "$.score"), "7"},
		{"named parsed output serialized", upstream("v", "fetch", "parsed", ""), `{"score":7}`},
		{"node not executed", upstream("v", "later", "", ""), ""},
		{"no source node", upstream("v", "", "", ""), ""},
		{"jsonpath on non json", upstream("v", "plain", "", "$.x"), ""},
		{"invalid regex", upstream("v", "plain", "", `(`), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve("{{v}}", domain.Bindings{"v": tt.binding}, "", outputs)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestResolve_ExplicitSourceMode(t *testing.T) {
	outputs := UpstreamMap{"n": {Raw: "first\nsecond"}}
	b := upstream("v", "n", "", "ignored")
	b.SourceMode = domain.ModeFirstLine

	assert.Equal(t, "first", Resolve("{{v}}", domain.Bindings{"v": b}, "", outputs))
}

func TestResolve_DollarSyntax(t *testing.T) {
	bindings := domain.Bindings{
		"$USER": static("USER", "alice"),
		"user":  static("user", "bob"),
	}

	got := Resolve("$USER and {{user}} and $OTHER and {{other}}", bindings, "", nil)
	assert.Equal(t, "alice and bob and $OTHER and ", got)
}

func TestResolve_UnboundDollarKept(t *testing.T) {
	tests := []struct {
		name     string
		template string
		expected string
	}{
		{"shell variable", "echo $PATH", "echo $PATH"},
		{"currency", "Price: $USD 5 and {{x}}", "Price: $USD 5 and ok"},
		{"repeated", "$HOME/$HOME", "$HOME/$HOME"},
	}

	bindings := domain.Bindings{"x": static("x", "ok")}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Resolve(tt.template, bindings, "", nil))
		})
	}
}

func TestResolve_SinglePass(t *testing.T) {
	// Подставленное значение не сканируется повторно
	bindings := domain.Bindings{
		"a": static("a", "{{b}}"),
		"b": static("b", "B"),
	}

	assert.Equal(t, "{{b}} B", Resolve("{{a}} {{b}}", bindings, "", nil))
}

func TestResolve_UpstreamFunc(t *testing.T) {
	calls := 0
	fn := UpstreamFunc(func(nodeID string) (domain.NodeOutput, bool) {
		calls++
		return domain.NodeOutput{Raw: "from " + nodeID}, true
	})

	bindings := domain.Bindings{"x": upstream("x", "n1", "", "")}
	got := Resolve("{{x}} {{x}}", bindings, "", fn)

	assert.Equal(t, "from n1 from n1", got)
	assert.Equal(t, 1, calls, "value should be computed once per variable")
}

func TestResolve_Properties(t *testing.T) {
	names := []string{"a", "b", "c", "long_name"}

	rapid.Check(t, func(t *rapid.T) {
		parts := rapid.SliceOf(rapid.SampledFrom([]string{"{{a}}", "{{b}}", "{{c}}", "{{long_name}}", "text", " ", "\n"})).Draw(t, "parts")
		template := strings.Join(parts, "")

		bindings := domain.Bindings{}
		for _, n := range names {
			if rapid.Bool().Draw(t, "bound-"+n) {
				bindings[n] = static(n, rapid.StringMatching(`[a-z ]{0,8}`).Draw(t, "value-"+n))
			}
		}

		first := Resolve(template, bindings, "input", nil)
		second := Resolve(template, bindings, "input", nil)
		if first != second {
			t.Fatalf("resolution is not deterministic: %q vs %q", first, second)
		}

		if strings.Contains(first, "{{") {
			t.Fatalf("unresolved token left in %q", first)
		}
	})
}

func TestAnalyze(t *testing.T) {
	bindings := domain.Bindings{
		"a":   static("a", "1"),
		"old": static("old", "x"),
		"$B":  static("B", "2"),
	}

	r := Analyze("{{a}} {{c}} $B $D", bindings)

	require.Len(t, r.Variables, 4)
	assert.Equal(t, []string{"c", "$D"}, r.Unbound)
	assert.Equal(t, []string{"old"}, r.Orphaned)
	assert.True(t, r.HasWarnings())

	clean := Analyze("{{a}}", domain.Bindings{"a": static("a", "1")})
	assert.False(t, clean.HasWarnings())
	assert.Empty(t, clean.Unbound)
	assert.Empty(t, clean.Orphaned)
}

func TestPrune_TemplateChange(t *testing.T) {
	bindings := domain.Bindings{}

	// Новая переменная видна как непривязанная, пока её не привяжут
	r := Analyze("Hi {{x}}", bindings)
	assert.Equal(t, []string{"x"}, r.Unbound)

	bindings["x"] = static("x", "there")
	assert.Empty(t, Analyze("Hi {{x}}", bindings).Unbound)

	// Удаление токена делает привязку осиротевшей, Prune её отбрасывает
	r = Analyze("Hi", bindings)
	assert.Equal(t, []string{"x"}, r.Orphaned)

	pruned := Prune("Hi", bindings)
	assert.Empty(t, pruned)
	assert.Len(t, bindings, 1, "original set must not change")
}

func TestValidateBindings(t *testing.T) {
	bindings := domain.Bindings{
		"ok":       static("ok", "v"),
		"bad_src":  {Name: "bad_src", Source: "database"},
		"no_node":  upstream("no_node", "", "", ""),
		"bad_re":   upstream("bad_re", "n", "", "(unclosed"),
		"mismatch": static("other", "v"),
		"$DOLLAR":  static("DOLLAR", "v"),
	}

	errs := ValidateBindings("node1", bindings)
	require.Len(t, errs, 4)

	// Порядок по отсортированным ключам
	assert.ErrorIs(t, errs[0], ErrInvalidPattern)
	assert.ErrorIs(t, errs[1], ErrInvalidBindingSource)
	assert.ErrorIs(t, errs[2], ErrBindingKeyMismatch)
	assert.ErrorIs(t, errs[3], ErrMissingSourceNode)

	var vErr *ValidationError
	require.ErrorAs(t, errs[1], &vErr)
	assert.Equal(t, "node1", vErr.NodeID)
	assert.Equal(t, "bindings.bad_src", vErr.Field)
}

func TestValidateExtractions(t *testing.T) {
	rules := []domain.OutputExtraction{
		{OutputName: "full", Mode: domain.ModeFull},
		{OutputName: "", Mode: domain.ModeJSON},
		{OutputName: "full", Mode: domain.ModeFirstLine},
		{OutputName: "re", Mode: domain.ModeRegex},
		{OutputName: "jp", Mode: domain.ModeJSONPath, Pattern: "$.a"},
		{OutputName: "what", Mode: "xml"},
	}

	errs := ValidateExtractions("n", rules)
	require.Len(t, errs, 4)
	assert.ErrorIs(t, errs[0], ErrEmptyOutputName)
	assert.ErrorIs(t, errs[1], ErrDuplicateOutputName)
	assert.ErrorIs(t, errs[2], ErrMissingPattern)
	assert.ErrorIs(t, errs[3], ErrInvalidExtractionMode)
}
