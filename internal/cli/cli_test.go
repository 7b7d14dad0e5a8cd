package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/flowboard/internal/convert"
	"github.com/shaiso/flowboard/internal/domain"
	"github.com/shaiso/flowboard/internal/localstore"
	"github.com/shaiso/flowboard/internal/mq"
)

// --- helpers ---

type captured struct {
	stdout bytes.Buffer
	stderr bytes.Buffer
}

func (c *captured) outputFn(jsonMode bool) func() *Output {
	return func() *Output { return NewOutputTo(jsonMode, &c.stdout, &c.stderr) }
}

func runCmd(t *testing.T, cmd *cobra.Command, args ...string) error {
	t.Helper()
	cmd.SetArgs(args)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	return cmd.ExecuteContext(context.Background())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func autosaveIn(dir string) AutosaveFn {
	return func() (*localstore.Store, error) {
		return localstore.Open(filepath.Join(dir, "autosave.db"))
	}
}

// --- Client ---

func TestClient_ErrorMapping(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/flows/{name}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error": map[string]string{"code": "NOT_FOUND", "message": "flow not found"},
		})
	})
	mux.HandleFunc("GET /api/failures/stats", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(srv.URL)

	_, err := client.GetFlow("missing")
	if err == nil || err.Error() != "NOT_FOUND: flow not found" {
		t.Errorf("GetFlow error = %v, want NOT_FOUND: flow not found", err)
	}

	_, err = client.FailureStats()
	if err == nil || err.Error() != "API error: HTTP 502" {
		t.Errorf("FailureStats error = %v, want API error: HTTP 502", err)
	}
}

func TestClient_ListFailuresQuery(t *testing.T) {
	var gotQuery string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/failures", func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		writeJSON(w, http.StatusOK, map[string]any{
			"data":  []domain.Failure{{ID: "fail-00000001", Status: domain.FailureFailed}},
			"total": 1,
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	failures, err := NewClient(srv.URL).ListFailures(ListFailuresOpts{Status: "failed", Limit: 5})
	if err != nil {
		t.Fatalf("ListFailures: %v", err)
	}
	if gotQuery != "limit=5&status=failed" {
		t.Errorf("query = %q", gotQuery)
	}
	if len(failures) != 1 || failures[0].ID != "fail-00000001" {
		t.Errorf("failures = %+v", failures)
	}
}

// --- flow commands ---

func TestFlowImportCmd(t *testing.T) {
	var saved domain.Workflow
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/flows", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&saved); err != nil {
			t.Errorf("decode body: %v", err)
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": SaveFlowResult{
			Status:   "saved",
			Name:     saved.Name,
			Folder:   saved.Folder,
			Warnings: []string{"variable $OWNER is not bound"},
		}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	file := filepath.Join(t.TempDir(), "triage.json")
	content := `{"name":"draft","nodes":[{"id":"start","type":"workflowStart","position":{"x":0,"y":0},"data":{}}],"edges":[]}`
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	var c captured
	cmd := NewFlowCmd(func() *Client { return NewClient(srv.URL) }, c.outputFn(false))
	if err := runCmd(t, cmd, "import", file, "--name", "triage", "--folder", "ops"); err != nil {
		t.Fatalf("import: %v", err)
	}

	if saved.Name != "triage" || saved.Folder != "ops" {
		t.Errorf("saved = %s/%s, want ops/triage", saved.Folder, saved.Name)
	}
	if len(saved.Nodes) != 1 || saved.Nodes[0].ID != "start" {
		t.Errorf("nodes = %+v", saved.Nodes)
	}
	if !strings.Contains(c.stderr.String(), "Warning: variable $OWNER is not bound") {
		t.Errorf("stderr = %q", c.stderr.String())
	}
	if !strings.Contains(c.stdout.String(), "triage") {
		t.Errorf("stdout = %q", c.stdout.String())
	}
}

func TestFlowListCmd_JSON(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/flows", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"data":  []domain.FlowSummary{{Name: "triage", NodeCount: 3}},
			"total": 1,
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var c captured
	cmd := NewFlowCmd(func() *Client { return NewClient(srv.URL) }, c.outputFn(true))
	if err := runCmd(t, cmd, "list"); err != nil {
		t.Fatalf("list: %v", err)
	}

	var flows []domain.FlowSummary
	if err := json.Unmarshal(c.stdout.Bytes(), &flows); err != nil {
		t.Fatalf("stdout is not JSON: %v\n%s", err, c.stdout.String())
	}
	if len(flows) != 1 || flows[0].Name != "triage" || flows[0].NodeCount != 3 {
		t.Errorf("flows = %+v", flows)
	}
}

func TestFlowFromYAMLCmd_WritesFile(t *testing.T) {
	var gotBody map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/workflows/from-yaml", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		res, err := convert.FromYAML([]byte(gotBody["yaml"].(string)), convert.Options{Name: "fixer"})
		if err != nil {
			t.Errorf("convert: %v", err)
		}
		res.Warnings = []string{"condition kept as is"}
		writeJSON(w, http.StatusOK, map[string]any{"data": res})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	src := filepath.Join(dir, "fixer.yaml")
	if err := os.WriteFile(src, []byte("steps:\n  - prompt: Fix\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(dir, "fixer.json")

	var c captured
	cmd := NewFlowCmd(func() *Client { return NewClient(srv.URL) }, c.outputFn(false))
	if err := runCmd(t, cmd, "from-yaml", src, "--name", "fixer", "-o", dst); err != nil {
		t.Fatalf("from-yaml: %v", err)
	}

	if gotBody["name"] != "fixer" {
		t.Errorf("request body = %v", gotBody)
	}
	if !strings.Contains(c.stderr.String(), "Warning: condition kept as is") {
		t.Errorf("stderr = %q", c.stderr.String())
	}

	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	var wf domain.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		t.Fatalf("written file is not a workflow: %v", err)
	}
	if wf.Name != "fixer" || len(wf.Nodes) != 3 || len(wf.Edges) != 2 {
		t.Errorf("workflow = %s with %d nodes, %d edges", wf.Name, len(wf.Nodes), len(wf.Edges))
	}
}

func TestFlowFromPlantUMLCmd_ConverterError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/workflows/from-plantuml", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]string{"code": "BAD_REQUEST", "message": "line 3: if without endif"},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	src := filepath.Join(t.TempDir(), "flow.puml")
	if err := os.WriteFile(src, []byte("@startuml\nstart\nif (x?) then\n@enduml\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var c captured
	cmd := NewFlowCmd(func() *Client { return NewClient(srv.URL) }, c.outputFn(false))
	err := runCmd(t, cmd, "from-plantuml", src, "--save")
	if err == nil || !strings.Contains(err.Error(), "line 3: if without endif") {
		t.Errorf("from-plantuml error = %v", err)
	}
}

func TestFlowValidateCmd_RejectsUnknownEdge(t *testing.T) {
	file := filepath.Join(t.TempDir(), "bad.json")
	content := `{"name":"bad","nodes":[{"id":"a","type":"output","position":{"x":0,"y":0},"data":{}}],"edges":[{"id":"e1","source":"a","target":"ghost"}]}`
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	var c captured
	cmd := NewFlowCmd(func() *Client { t.Fatal("validate must not call the API"); return nil }, c.outputFn(false))
	if err := runCmd(t, cmd, "validate", file); err == nil {
		t.Error("expected error for edge to unknown node")
	}
}

// --- parsers ---

func TestParseRules(t *testing.T) {
	rules, err := parseRules([]string{"summary:first_line", "url:regex:https?://\\S+", "count:jsonpath:$.items.length"})
	if err != nil {
		t.Fatalf("parseRules: %v", err)
	}
	if len(rules) != 3 {
		t.Fatalf("len = %d, want 3", len(rules))
	}
	if rules[0].Mode != domain.ModeFirstLine || rules[0].Pattern != "" {
		t.Errorf("rules[0] = %+v", rules[0])
	}
	if rules[1].Pattern != "https?://\\S+" {
		t.Errorf("rules[1].Pattern = %q, colon in pattern must survive", rules[1].Pattern)
	}

	for _, bad := range []string{"summary", ":full"} {
		if _, err := parseRules([]string{bad}); err == nil {
			t.Errorf("parseRules(%q) expected error", bad)
		}
	}
}

func TestParseBindings(t *testing.T) {
	b, err := parseBindings([]string{
		"test=input",
		"$OWNER=static:team-a",
		"diff=upstream:p1:patch:$.files[0]",
	})
	if err != nil {
		t.Fatalf("parseBindings: %v", err)
	}

	if b["test"].Source != domain.SourceInput || b["test"].Name != "test" {
		t.Errorf("test = %+v", b["test"])
	}
	if b["$OWNER"].StaticValue != "team-a" {
		t.Errorf("$OWNER = %+v", b["$OWNER"])
	}
	up := b["diff"]
	if up.SourceNodeID != "p1" || up.SourceOutput != "patch" || up.SourcePath != "$.files[0]" {
		t.Errorf("diff = %+v", up)
	}
	if up.PathMode() != domain.ModeJSONPath {
		t.Errorf("PathMode = %s, want jsonpath", up.PathMode())
	}

	for _, bad := range []string{"noequals", "x=upstream", "x=bogus"} {
		if _, err := parseBindings([]string{bad}); err == nil {
			t.Errorf("parseBindings(%q) expected error", bad)
		}
	}
}

func TestParseUpstream(t *testing.T) {
	file := filepath.Join(t.TempDir(), "p1.txt")
	if err := os.WriteFile(file, []byte("raw answer"), 0o644); err != nil {
		t.Fatal(err)
	}

	up, err := parseUpstream([]string{"p1=" + file})
	if err != nil {
		t.Fatalf("parseUpstream: %v", err)
	}
	if up["p1"].Raw != "raw answer" {
		t.Errorf("p1 = %+v", up["p1"])
	}

	if _, err := parseUpstream([]string{"p1"}); err == nil {
		t.Error("expected error without =")
	}
}

// --- edit ---

func TestEditSession_AddNodeAndAutosave(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "flow.json")
	autosave := autosaveIn(dir)

	var c captured
	cmd := NewEditCmd(autosave, c.outputFn(false))
	if err := runCmd(t, cmd, "add-node", domain.NodeTypePromptBlock, "--file", file, "--x", "10"); err != nil {
		t.Fatalf("add-node: %v", err)
	}

	wf, err := readWorkflowFile(file)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if len(wf.Nodes) != 1 || wf.Nodes[0].Type != domain.NodeTypePromptBlock {
		t.Fatalf("nodes = %+v", wf.Nodes)
	}
	if wf.Nodes[0].Position.X != 10 {
		t.Errorf("position = %+v", wf.Nodes[0].Position)
	}
	nodeID := wf.Nodes[0].ID

	cmd = NewEditCmd(autosave, c.outputFn(false))
	if err := runCmd(t, cmd, "template", nodeID, "Fix {{test}} for $OWNER", "--file", file); err != nil {
		t.Fatalf("template: %v", err)
	}

	store, err := autosave()
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	snap, _, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("autosave load: %v", err)
	}
	n, ok := snap.FindNode(nodeID)
	if !ok {
		t.Fatalf("node %s missing from autosave", nodeID)
	}
	data, ok := n.PromptData()
	if !ok || data.Template != "Fix {{test}} for $OWNER" {
		t.Errorf("autosaved template = %+v", data)
	}
}

func TestEditSession_UnknownNode(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "flow.json")

	var c captured
	cmd := NewEditCmd(nil, c.outputFn(false))
	if err := runCmd(t, cmd, "remove-node", "ghost", "--file", file); err == nil {
		t.Error("expected error for unknown node")
	}
	if _, err := os.Stat(file); !os.IsNotExist(err) {
		t.Error("failed command must not write the file")
	}
}

func TestEditSession_StatusAndCondition(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "gate.json")
	wf := &domain.Workflow{
		Name: "gate",
		Nodes: []domain.Node{
			{ID: "p1", Type: domain.NodeTypePromptBlock, Data: domain.NewNodeData(domain.NodeTypePromptBlock)},
			{ID: "c", Type: domain.NodeTypeCondition, Data: &domain.ConditionData{Condition: "p1 == success"}},
		},
		Edges: []domain.Edge{{ID: "e1", Source: "p1", Target: "c"}},
	}
	if err := writeWorkflowFile(file, wf); err != nil {
		t.Fatal(err)
	}
	raw := filepath.Join(dir, "p1.txt")
	if err := os.WriteFile(raw, []byte("fixed"), 0o644); err != nil {
		t.Fatal(err)
	}

	var c captured
	if err := runCmd(t, NewEditCmd(nil, c.outputFn(false)), "status", "p1", "waiting", "--file", file); err != nil {
		t.Fatalf("status waiting: %v", err)
	}
	if err := runCmd(t, NewEditCmd(nil, c.outputFn(false)), "status", "p1", "success", "--file", file); err == nil {
		t.Error("expected waiting → success to be rejected")
	}

	got, err := readWorkflowFile(file)
	if err != nil {
		t.Fatal(err)
	}
	n, _ := got.FindNode("p1")
	if st := n.Data.(*domain.PromptBlockData).Status; st != domain.StatusWaiting {
		t.Errorf("p1 status = %q, want waiting", st)
	}

	if err := runCmd(t, NewEditCmd(nil, c.outputFn(false)), "condition", "c", "--upstream", "p1="+raw, "--status", "p1=done", "--file", file); err == nil {
		t.Error("expected unknown status to be rejected")
	}

	c.stdout.Reset()
	if err := runCmd(t, NewEditCmd(nil, c.outputFn(false)), "condition", "c", "--upstream", "p1="+raw, "--status", "p1=success", "--file", file); err != nil {
		t.Fatalf("condition: %v", err)
	}
	if !strings.Contains(c.stdout.String(), "c: true") {
		t.Errorf("stdout = %q", c.stdout.String())
	}

	got, err = readWorkflowFile(file)
	if err != nil {
		t.Fatal(err)
	}
	n, _ = got.FindNode("c")
	if st := n.Data.(*domain.ConditionData).Status; st != domain.ConditionTrue {
		t.Errorf("condition status = %q, want true", st)
	}
}

// --- prompts ---

func TestPromptSyncer_Sync(t *testing.T) {
	var gotQuery, gotBody, gotType string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/prompts/import", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotQuery = r.URL.RawQuery
		gotBody = string(body)
		gotType = r.Header.Get("Content-Type")
		writeJSON(w, http.StatusCreated, map[string]any{"data": domain.PromptTemplate{ID: "fix-test", Name: "Fix test"}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "fix-test.md")
	content := "---\nname: Fix test\n---\n\nFix {{test}}.\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	var c captured
	syncer := &PromptSyncer{Client: NewClient(srv.URL), Out: c.outputFn(false)(), Folder: "qa"}

	p, err := syncer.Sync(path)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if p.ID != "fix-test" {
		t.Errorf("ID = %q", p.ID)
	}
	if gotQuery != "filename=fix-test&folder=qa" {
		t.Errorf("query = %q", gotQuery)
	}
	if gotType != "text/markdown" {
		t.Errorf("content type = %q", gotType)
	}
	if !strings.Contains(gotBody, "id: fix-test") || !strings.Contains(gotBody, "Fix {{test}}.") {
		t.Errorf("body = %q", gotBody)
	}
	if !strings.Contains(c.stderr.String(), "Prompt synced: fix-test") {
		t.Errorf("stderr = %q", c.stderr.String())
	}
}

func TestPromptSyncer_SyncDirSkipsOtherFiles(t *testing.T) {
	var calls int
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/prompts/import", func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeJSON(w, http.StatusCreated, map[string]any{"data": domain.PromptTemplate{ID: r.URL.Query().Get("filename")}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	files := map[string]string{
		"a.md":      "---\nname: A\n---\nA\n",
		"b.md":      "---\nname: B\n---\nB\n",
		"notes.txt": "not a prompt",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	var c captured
	syncer := &PromptSyncer{Client: NewClient(srv.URL), Out: c.outputFn(false)()}
	if err := syncer.SyncDir(dir); err != nil {
		t.Fatalf("SyncDir: %v", err)
	}
	if calls != 2 {
		t.Errorf("imports = %d, want 2", calls)
	}
}

func TestFolderDir(t *testing.T) {
	if got := folderDir("/out", ""); got != "/out" {
		t.Errorf("root folder = %q", got)
	}
	if got := folderDir("/out", "qa/smoke"); got != filepath.Join("/out", "qa", "smoke") {
		t.Errorf("nested folder = %q", got)
	}
}

// --- autosave ---

func TestDiffWorkflows(t *testing.T) {
	old := &domain.Workflow{
		Name:      "triage",
		Nodes:     []domain.Node{{ID: "start", Type: domain.NodeTypeWorkflowStart}},
		Edges:     []domain.Edge{},
		UpdatedAt: time.Now(),
	}
	same := *old
	same.UpdatedAt = old.UpdatedAt.Add(time.Hour)

	var buf bytes.Buffer
	changed, err := DiffWorkflows(&buf, old, &same)
	if err != nil {
		t.Fatal(err)
	}
	if changed || buf.Len() != 0 {
		t.Errorf("timestamps alone must not count as a change, got %q", buf.String())
	}

	next := *old
	next.Description = "handles flaky tests"
	changed, err = DiffWorkflows(&buf, old, &next)
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Fatal("expected a change")
	}
	if !strings.Contains(buf.String(), `+   "description": "handles flaky tests",`) {
		t.Errorf("diff = %q", buf.String())
	}
}

func TestAutosaveShowCmd_Empty(t *testing.T) {
	var c captured
	cmd := NewAutosaveCmd(autosaveIn(t.TempDir()), nil, c.outputFn(false))
	if err := runCmd(t, cmd, "show"); err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(c.stderr.String(), "No autosave") {
		t.Errorf("stderr = %q", c.stderr.String())
	}
}

// --- events ---

func TestEventPrinter(t *testing.T) {
	var c captured
	handler := EventPrinter(c.outputFn(false)())

	d := &mq.Delivery{
		Message: mq.Message{ID: "m1", Type: mq.RoutingKeyFlowSaved, Timestamp: time.Now()},
		Payload: json.RawMessage(`{"name":"triage"}`),
	}
	if err := handler(context.Background(), d); err != nil {
		t.Fatal(err)
	}

	line := c.stdout.String()
	if !strings.Contains(line, "flow.saved") || !strings.Contains(line, `{"name":"triage"}`) {
		t.Errorf("line = %q", line)
	}
}
