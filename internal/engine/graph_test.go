package engine

import (
	"errors"
	"testing"

	"github.com/shaiso/flowboard/internal/domain"
)

func node(id, typ string) domain.Node {
	return domain.Node{ID: id, Type: typ, Data: domain.NewNodeData(typ)}
}

func edge(source, target string) domain.Edge {
	return domain.Edge{ID: source + "-" + target, Source: source, Target: target}
}

// testWorkflow: start → a → c, start → b → c.
func testWorkflow() *domain.Workflow {
	return &domain.Workflow{
		Name: "test",
		Nodes: []domain.Node{
			node("a", domain.NodeTypePromptBlock),
			node("b", domain.NodeTypeHTTPRequest),
			node("c", domain.NodeTypeOutput),
			node("start", domain.NodeTypeWorkflowStart),
		},
		Edges: []domain.Edge{
			edge("start", "a"),
			edge("start", "b"),
			edge("a", "c"),
			edge("b", "c"),
		},
	}
}

func TestPredecessors(t *testing.T) {
	wf := testWorkflow()
	wf.Edges = append(wf.Edges, edge("a", "c")) // дубликат ребра

	tests := []struct {
		nodeID   string
		expected []string
	}{
		{"c", []string{"a", "b"}},
		{"a", []string{"start"}},
		{"start", []string{}},
		{"missing", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.nodeID, func(t *testing.T) {
			got := Predecessors(wf, tt.nodeID)
			if len(got) != len(tt.expected) {
				t.Fatalf("expected %v, got %v", tt.expected, got)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("expected %v, got %v", tt.expected, got)
				}
			}
		})
	}
}

func TestSuccessors(t *testing.T) {
	got := Successors(testWorkflow(), "start")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("expected [a b], got %v", got)
	}
}

func TestFindPredecessor(t *testing.T) {
	wf := testWorkflow()

	n, ok := FindPredecessor(wf, "c")
	if !ok {
		t.Fatal("expected predecessor for c")
	}
	if n.ID != "a" {
		t.Errorf("expected a, got %s", n.ID)
	}

	if _, ok := FindPredecessor(wf, "start"); ok {
		t.Error("start should have no predecessor")
	}
}

func TestAncestors(t *testing.T) {
	anc := Ancestors(testWorkflow(), "c")

	for _, id := range []string{"a", "b", "start"} {
		if !anc[id] {
			t.Errorf("%s should be an ancestor of c", id)
		}
	}
	if anc["c"] {
		t.Error("c should not be its own ancestor")
	}
}

func TestExecutionOrder(t *testing.T) {
	order, err := ExecutionOrder(testWorkflow())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"start", "a", "b", "c"}
	if len(order) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, order)
	}
	for i := range expected {
		if order[i] != expected[i] {
			t.Errorf("expected %v, got %v", expected, order)
			break
		}
	}
}

func TestExecutionOrder_IgnoresDanglingEdges(t *testing.T) {
	wf := testWorkflow()
	wf.Edges = append(wf.Edges, edge("ghost", "a"))

	order, err := ExecutionOrder(wf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 4 {
		t.Errorf("expected 4 nodes, got %v", order)
	}
}

func TestExecutionOrder_Cycle(t *testing.T) {
	// prompt → evaluator → prompt (доработка)
	wf := &domain.Workflow{
		Nodes: []domain.Node{
			node("start", domain.NodeTypeWorkflowStart),
			node("p", domain.NodeTypePromptBlock),
			node("e", domain.NodeTypeEvaluator),
		},
		Edges: []domain.Edge{
			edge("start", "p"),
			edge("p", "e"),
			edge("e", "p"),
		},
	}

	order, err := ExecutionOrder(wf)
	if !errors.Is(err, ErrCyclicGraph) {
		t.Fatalf("expected ErrCyclicGraph, got %v", err)
	}
	if len(order) != 1 || order[0] != "start" {
		t.Errorf("expected only start, got %v", order)
	}
}
