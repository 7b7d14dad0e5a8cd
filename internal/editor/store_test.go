package editor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/flowboard/internal/domain"
	"github.com/shaiso/flowboard/internal/engine"
	"github.com/shaiso/flowboard/internal/nodes"
)

func newTestStore(t *testing.T) (*Store, *Collector) {
	t.Helper()
	c := &Collector{}
	return NewStore(nil, WithNotifier(c)), c
}

func TestStore_AddNode(t *testing.T) {
	s, _ := newTestStore(t)

	n, err := s.AddNode(domain.NodeTypePromptBlock, domain.Position{X: 10, Y: 20})
	require.NoError(t, err)

	data, ok := n.PromptData()
	require.True(t, ok)
	assert.NotNil(t, data.Bindings)
	assert.Empty(t, data.Bindings)
	assert.Equal(t, 10.0, n.Position.X)

	_, err = s.AddNode("teleport", domain.Position{})
	assert.ErrorIs(t, err, nodes.ErrKindNotFound)

	assert.Len(t, s.Snapshot().Nodes, 1)
}

func TestStore_ConnectAndRemoveNode(t *testing.T) {
	s, _ := newTestStore(t)

	a, _ := s.AddNode(domain.NodeTypeWorkflowStart, domain.Position{})
	b, _ := s.AddNode(domain.NodeTypePromptBlock, domain.Position{})
	c, _ := s.AddNode(domain.NodeTypeOutput, domain.Position{})

	e1, err := s.Connect(a.ID, b.ID)
	require.NoError(t, err)
	_, err = s.Connect(b.ID, c.ID)
	require.NoError(t, err)

	again, err := s.Connect(a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, e1.ID, again.ID)

	_, err = s.Connect(a.ID, a.ID)
	assert.ErrorIs(t, err, engine.ErrSelfLoop)

	_, err = s.Connect(a.ID, "ghost")
	assert.ErrorIs(t, err, ErrNodeNotFound)

	pred, ok := s.Predecessor(c.ID)
	require.True(t, ok)
	assert.Equal(t, b.ID, pred.ID)

	require.NoError(t, s.RemoveNode(b.ID))
	wf := s.Snapshot()
	assert.Len(t, wf.Nodes, 2)
	assert.Empty(t, wf.Edges)

	_, ok = s.Predecessor(c.ID)
	assert.False(t, ok)

	assert.ErrorIs(t, s.RemoveNode(b.ID), ErrNodeNotFound)
	assert.ErrorIs(t, s.Disconnect(e1.ID), ErrEdgeNotFound)
}

func TestStore_SetTemplatePrunesOrphans(t *testing.T) {
	s, c := newTestStore(t)
	n, _ := s.AddNode(domain.NodeTypePromptBlock, domain.Position{})

	_, err := s.SetTemplate(n.ID, "Hi {{name}} from {{city}}")
	require.NoError(t, err)
	require.NoError(t, s.SetBinding(n.ID, "name", domain.VariableBinding{Source: domain.SourceStatic, StaticValue: "Ann"}))
	require.NoError(t, s.SetBinding(n.ID, "city", domain.VariableBinding{Source: domain.SourceInput}))
	c.Drain()

	report, err := s.SetTemplate(n.ID, "Hi {{name}} and $ROLE")
	require.NoError(t, err)

	assert.Equal(t, []string{"city"}, report.Orphaned)
	assert.Equal(t, []string{"$ROLE"}, report.Unbound)

	node, _ := s.Snapshot().FindNode(n.ID)
	data, _ := node.PromptData()
	assert.Equal(t, "Hi {{name}} and $ROLE", data.Template)
	assert.Contains(t, data.Bindings, "name")
	assert.NotContains(t, data.Bindings, "city")

	toasts := c.Drain()
	require.Len(t, toasts, 2)
	assert.Equal(t, ToastInfo, toasts[0].Type)
	assert.Equal(t, ToastWarning, toasts[1].Type)
}

func TestStore_SetTemplateWrongNode(t *testing.T) {
	s, _ := newTestStore(t)
	n, _ := s.AddNode(domain.NodeTypeCondition, domain.Position{})

	_, err := s.SetTemplate(n.ID, "x")
	assert.ErrorIs(t, err, ErrNoTemplate)

	_, err = s.SetTemplate("ghost", "x")
	assert.ErrorIs(t, err, ErrNodeNotFound)

	err = s.SetBinding(n.ID, "x", domain.VariableBinding{Source: domain.SourceInput})
	assert.ErrorIs(t, err, ErrNoBindings)
}

func TestStore_SetBindingDefaults(t *testing.T) {
	s, c := newTestStore(t)
	start, _ := s.AddNode(domain.NodeTypeWorkflowStart, domain.Position{})
	p, _ := s.AddNode(domain.NodeTypePromptBlock, domain.Position{})
	_, _ = s.Connect(start.ID, p.ID)

	require.NoError(t, s.SetBinding(p.ID, "$USER", domain.VariableBinding{Source: domain.SourceUpstream}))

	node, _ := s.Snapshot().FindNode(p.ID)
	b := node.Bindings()["$USER"]
	assert.Equal(t, "USER", b.Name)
	assert.Equal(t, start.ID, b.SourceNodeID)
	assert.Empty(t, c.Drain())

	// без предшественника источник остаётся пустым, приходит предупреждение
	lone, _ := s.AddNode(domain.NodeTypePromptBlock, domain.Position{})
	require.NoError(t, s.SetBinding(lone.ID, "x", domain.VariableBinding{Source: domain.SourceUpstream}))
	toasts := c.Drain()
	require.Len(t, toasts, 1)
	assert.Contains(t, toasts[0].Message, "no source node")

	require.NoError(t, s.RemoveBinding(p.ID, "$USER"))
	node, _ = s.Snapshot().FindNode(p.ID)
	assert.Empty(t, node.Bindings())
}

func TestStore_SetExtractions(t *testing.T) {
	s, c := newTestStore(t)
	h, _ := s.AddNode(domain.NodeTypeHTTPRequest, domain.Position{})

	rules := []domain.OutputExtraction{
		{OutputName: "id", Mode: domain.ModeJSONPath, Pattern: "$.id"},
		{OutputName: "bad", Mode: domain.ModeRegex},
	}
	require.NoError(t, s.SetExtractions(h.ID, rules))

	node, _ := s.Snapshot().FindNode(h.ID)
	assert.Equal(t, rules, node.Extractions())

	toasts := c.Drain()
	require.Len(t, toasts, 1)
	assert.Equal(t, ToastWarning, toasts[0].Type)

	out, _ := s.AddNode(domain.NodeTypeOutput, domain.Position{})
	assert.ErrorIs(t, s.SetExtractions(out.ID, rules), ErrNoExtractions)
}

func TestStore_Preview(t *testing.T) {
	s, _ := newTestStore(t)
	src, _ := s.AddNode(domain.NodeTypeHTTPRequest, domain.Position{})
	p, _ := s.AddNode(domain.NodeTypePromptBlock, domain.Position{})
	_, _ = s.Connect(src.ID, p.ID)

	_, err := s.SetTemplate(p.ID, "Ticket {{id}} for $USER: {{missing}}")
	require.NoError(t, err)
	require.NoError(t, s.SetBinding(p.ID, "id", domain.VariableBinding{
		Source:     domain.SourceUpstream,
		SourcePath: "$.ticket.id",
	}))
	require.NoError(t, s.SetBinding(p.ID, "$USER", domain.VariableBinding{Source: domain.SourceInput}))

	upstream := engine.UpstreamMap{
		src.ID: {Raw: `{"ticket":{"id":42}}`},
	}

	out, err := s.Preview(p.ID, "ann", upstream)
	require.NoError(t, err)
	assert.Equal(t, "Ticket 42 for ann: ", out)

	out, err = s.Preview(p.ID, "ann", nil)
	require.NoError(t, err)
	assert.Equal(t, "Ticket  for ann: ", out)
}

func TestStore_EvaluateCondition(t *testing.T) {
	s := NewStore(&domain.Workflow{
		Name: "gate",
		Nodes: []domain.Node{
			{ID: "p1", Type: domain.NodeTypePromptBlock, Data: domain.NewNodeData(domain.NodeTypePromptBlock)},
			{ID: "c", Type: domain.NodeTypeCondition, Data: &domain.ConditionData{Condition: "p1 == success"}},
		},
	})

	outputs := map[string]domain.NodeOutput{"p1": {Raw: "done"}}
	ok, err := s.EvaluateCondition("c", outputs, map[string]domain.NodeStatus{"p1": domain.StatusSuccess})
	require.NoError(t, err)
	assert.True(t, ok)

	node, _ := s.Snapshot().FindNode("c")
	assert.Equal(t, domain.ConditionTrue, node.Data.(*domain.ConditionData).Status)

	ok, err = s.EvaluateCondition("c", outputs, map[string]domain.NodeStatus{"p1": domain.StatusError})
	require.NoError(t, err)
	assert.False(t, ok)

	node, _ = s.Snapshot().FindNode("c")
	assert.Equal(t, domain.ConditionFalse, node.Data.(*domain.ConditionData).Status)

	_, err = s.EvaluateCondition("p1", nil, nil)
	assert.ErrorIs(t, err, ErrNotCondition)

	_, err = s.EvaluateCondition("ghost", nil, nil)
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestStore_SetStatus(t *testing.T) {
	newStore := func() *Store {
		return NewStore(&domain.Workflow{
			Name: "lifecycle",
			Nodes: []domain.Node{
				{ID: "p", Type: domain.NodeTypePromptBlock, Data: domain.NewNodeData(domain.NodeTypePromptBlock)},
				{ID: "h", Type: domain.NodeTypeHTTPRequest, Data: domain.NewNodeData(domain.NodeTypeHTTPRequest)},
				{ID: "c", Type: domain.NodeTypeCondition, Data: domain.NewNodeData(domain.NodeTypeCondition)},
				{ID: "e", Type: domain.NodeTypeEvaluator, Data: &domain.EvaluatorData{MaxIterations: 1}},
				{ID: "o", Type: domain.NodeTypeOutput, Data: domain.NewNodeData(domain.NodeTypeOutput)},
			},
		})
	}

	tests := []struct {
		name    string
		node    string
		steps   []string
		wantErr error
	}{
		{"prompt lifecycle", "p", []string{"waiting", "running", "success", "idle"}, nil},
		{"prompt skips running", "p", []string{"success"}, ErrInvalidTransition},
		{"prompt unknown status", "p", []string{"done"}, ErrInvalidTransition},
		{"http error then retry", "h", []string{"running", "error", "waiting"}, nil},
		{"condition lifecycle", "c", []string{"evaluating", "true", "evaluating", "false"}, nil},
		{"condition result without evaluating", "c", []string{"true"}, ErrInvalidTransition},
		{"evaluator iteration limit", "e", []string{"evaluating", "rejected", "evaluating"}, ErrInvalidTransition},
		{"output has no status", "o", []string{"running"}, ErrNoStatus},
		{"unknown node", "ghost", []string{"idle"}, ErrNodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore()
			var err error
			for _, step := range tt.steps {
				if err = s.SetStatus(tt.node, step); err != nil {
					break
				}
			}
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}

	s := newStore()
	require.NoError(t, s.SetStatus("h", "running"))
	node, _ := s.Snapshot().FindNode("h")
	assert.Equal(t, domain.StatusRunning, node.Data.(*domain.HTTPRequestData).Status)
}

func TestStore_SnapshotIsDeepCopy(t *testing.T) {
	s, _ := newTestStore(t)
	p, _ := s.AddNode(domain.NodeTypePromptBlock, domain.Position{})
	require.NoError(t, s.SetBinding(p.ID, "x", domain.VariableBinding{Source: domain.SourceStatic, StaticValue: "1"}))

	snap := s.Snapshot()
	snap.Nodes[0].Bindings()["x"] = domain.VariableBinding{Source: domain.SourceStatic, StaticValue: "changed"}

	node, _ := s.Snapshot().FindNode(p.ID)
	assert.Equal(t, "1", node.Bindings()["x"].StaticValue)
}

func TestStore_OnChange(t *testing.T) {
	var saved []*domain.Workflow
	s := NewStore(&domain.Workflow{Name: "triage"}, OnChange(func(wf *domain.Workflow) {
		saved = append(saved, wf)
	}))

	a, _ := s.AddNode(domain.NodeTypeWorkflowStart, domain.Position{})
	b, _ := s.AddNode(domain.NodeTypeOutput, domain.Position{})
	_, _ = s.Connect(a.ID, b.ID)

	require.Len(t, saved, 3)
	assert.Equal(t, "triage", saved[2].Name)
	assert.Len(t, saved[2].Edges, 1)
	assert.Len(t, saved[0].Nodes, 1)
}

func TestStore_Load(t *testing.T) {
	s, _ := newTestStore(t)
	wf := &domain.Workflow{
		Name:  "restored",
		Nodes: []domain.Node{{ID: "p", Type: domain.NodeTypePromptBlock, Data: domain.NewNodeData(domain.NodeTypePromptBlock)}},
	}
	s.Load(wf)

	wf.Name = "mutated"
	assert.Equal(t, "restored", s.Snapshot().Name)

	report, err := s.Analyze("p")
	require.NoError(t, err)
	assert.Empty(t, report.Variables)
}

func TestLogNotifierAndFunc(t *testing.T) {
	var got []Toast
	n := NotifierFunc(func(t Toast) { got = append(got, t) })
	n.Notify(Toast{Type: ToastSuccess, Title: "Saved"})
	assert.Len(t, got, 1)

	// не должен паниковать без логгера
	LogNotifier{}.Notify(Toast{Type: ToastError, Title: "Boom"})
}
