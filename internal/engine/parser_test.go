package engine

import (
	"errors"
	"testing"

	"github.com/shaiso/flowboard/internal/domain"
)

func TestParseWorkflow_Valid(t *testing.T) {
	data := []byte(`{
		"name": "triage",
		"nodes": [
			{"id": "start", "type": "workflowStart", "position": {"x": 0, "y": 0}, "data": {"label": "Start"}},
			{"id": "p1", "type": "promptBlock", "position": {"x": 100, "y": 0}, "data": {
				"label": "Analyze",
				"template": "Fix {{test}} using {{hint}}",
				"bindings": {
					"test": {"name": "test", "source": "input"},
					"hint": {"name": "hint", "source": "upstream", "sourceNodeId": "start", "sourcePath": "$.hint"}
				},
				"outputExtractions": [{"outputName": "verdict", "mode": "regex", "pattern": "VERDICT: (\\w+)"}]
			}},
			{"id": "x", "type": "customWidget", "position": {"x": 5, "y": 5}, "data": {"anything": [1, 2]}}
		],
		"edges": [{"id": "e1", "source": "start", "target": "p1"}]
	}`)

	wf, err := ParseWorkflow(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if wf.Name != "triage" {
		t.Errorf("expected name triage, got %s", wf.Name)
	}

	p, ok := wf.Nodes[1].PromptData()
	if !ok {
		t.Fatalf("expected prompt data, got %T", wf.Nodes[1].Data)
	}
	if p.Bindings["hint"].SourceNodeID != "start" {
		t.Errorf("binding not decoded: %+v", p.Bindings["hint"])
	}
	if len(p.OutputExtractions) != 1 || p.OutputExtractions[0].Mode != domain.ModeRegex {
		t.Errorf("extractions not decoded: %+v", p.OutputExtractions)
	}

	// Неизвестный тип сохраняется как есть
	u, ok := wf.Nodes[2].Data.(*domain.UnknownData)
	if !ok {
		t.Fatalf("expected UnknownData, got %T", wf.Nodes[2].Data)
	}
	if string(u.Raw) != `{"anything": [1, 2]}` {
		t.Errorf("raw data changed: %s", u.Raw)
	}
}

func TestParseWorkflow_InvalidJSON(t *testing.T) {
	if _, err := ParseWorkflow([]byte(`{"nodes": [`)); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name     string
		wf       *domain.Workflow
		expected error
	}{
		{
			name:     "empty node id",
			wf:       &domain.Workflow{Nodes: []domain.Node{node("", domain.NodeTypeOutput)}},
			expected: ErrEmptyNodeID,
		},
		{
			name: "duplicate node id",
			wf: &domain.Workflow{Nodes: []domain.Node{
				node("a", domain.NodeTypeOutput),
				node("a", domain.NodeTypePromptBlock),
			}},
			expected: ErrDuplicateNodeID,
		},
		{
			name:     "empty type",
			wf:       &domain.Workflow{Nodes: []domain.Node{{ID: "a"}}},
			expected: ErrUnknownNodeType,
		},
		{
			name: "unknown edge source",
			wf: &domain.Workflow{
				Nodes: []domain.Node{node("a", domain.NodeTypeOutput)},
				Edges: []domain.Edge{edge("ghost", "a")},
			},
			expected: ErrUnknownEdgeNode,
		},
		{
			name: "unknown edge target",
			wf: &domain.Workflow{
				Nodes: []domain.Node{node("a", domain.NodeTypeOutput)},
				Edges: []domain.Edge{edge("a", "ghost")},
			},
			expected: ErrUnknownEdgeNode,
		},
		{
			name: "self loop",
			wf: &domain.Workflow{
				Nodes: []domain.Node{node("a", domain.NodeTypeOutput)},
				Edges: []domain.Edge{edge("a", "a")},
			},
			expected: ErrSelfLoop,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.wf)
			if !errors.Is(err, tt.expected) {
				t.Errorf("expected %v, got %v", tt.expected, err)
			}

			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Errorf("expected ValidationError, got %T", err)
			}
		})
	}
}

func TestValidate_AllowsEvaluatorLoop(t *testing.T) {
	wf := &domain.Workflow{
		Nodes: []domain.Node{
			node("p", domain.NodeTypePromptBlock),
			node("e", domain.NodeTypeEvaluator),
		},
		Edges: []domain.Edge{edge("p", "e"), edge("e", "p")},
	}

	if err := Validate(wf); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLint(t *testing.T) {
	wf := testWorkflow()
	wf.Nodes = append(wf.Nodes, domain.Node{ID: "w", Type: "widget", Data: domain.NewNodeData("widget")})

	a, _ := wf.FindNode("a")
	data := a.Data.(*domain.PromptBlockData)
	data.Template = "{{from_b}} {{from_c}} {{free}}"
	data.Bindings = domain.Bindings{
		"from_b": {Name: "from_b", Source: domain.SourceUpstream, SourceNodeID: "start"},
		"from_c": {Name: "from_c", Source: domain.SourceUpstream, SourceNodeID: "c"},
	}

	warnings := Lint(wf)

	var notPred, unbound, unknownType int
	for _, w := range warnings {
		switch {
		case errors.Is(w, ErrNotPredecessor):
			notPred++
		case errors.Is(w, ErrUnboundVariable):
			unbound++
		case errors.Is(w, ErrUnknownNodeType):
			unknownType++
		}
	}

	if notPred != 1 {
		t.Errorf("expected 1 not-predecessor warning, got %d: %v", notPred, warnings)
	}
	if unbound != 1 {
		t.Errorf("expected 1 unbound warning, got %d: %v", unbound, warnings)
	}
	if unknownType != 1 {
		t.Errorf("expected 1 unknown type warning, got %d: %v", unknownType, warnings)
	}
	if len(warnings) != 3 {
		t.Errorf("expected 3 warnings, got %v", warnings)
	}
}

func TestIsValidNodeType(t *testing.T) {
	for _, typ := range []string{"promptBlock", "httpRequest", "workflowStart", "evaluator"} {
		if !IsValidNodeType(typ) {
			t.Errorf("%s should be valid", typ)
		}
	}
	if IsValidNodeType("parallel") {
		t.Error("parallel should not be valid")
	}
}
