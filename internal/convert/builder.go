package convert

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shaiso/flowboard/internal/domain"
	"github.com/shaiso/flowboard/internal/engine"
)

// Параметры раскладки.
const (
	layoutX        = 50
	layoutY        = 200
	layoutXSpacing = 400
	layoutYSpacing = 150
)

// Result: workflow, собранный конвертером.
type Result struct {
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	Nodes          []domain.Node  `json:"nodes"`
	Edges          []domain.Edge  `json:"edges"`
	AgentMappings  []AgentMapping `json:"agentMappings"`
	InputVariables []string       `json:"inputVariables"`
	Warnings       []string       `json:"warnings,omitempty"`
}

// AgentMapping: узлы одной дорожки (swimlane) или одного агента.
type AgentMapping struct {
	LogicalName   string   `json:"logicalName"`
	SwimlaneColor string   `json:"swimlaneColor,omitempty"`
	NodeIDs       []string `json:"nodeIds"`
}

// Workflow возвращает граф для сохранения.
func (r *Result) Workflow() *domain.Workflow {
	return &domain.Workflow{
		Name:        r.Name,
		Description: r.Description,
		Nodes:       r.Nodes,
		Edges:       r.Edges,
	}
}

// Options: переопределения для результата.
type Options struct {
	// Name и Description заменяют значения из исходного текста, если заданы.
	Name        string
	Description string

	// SkipLayout оставляет все позиции нулевыми.
	SkipLayout bool
}

// Error: ошибка разбора исходного текста.
type Error struct {
	Message string

	// Line: строка PlantUML (с 1), 0 если неизвестна.
	Line int

	// Path: путь шага YAML ("steps[2].then[0]").
	Path string
}

func (e *Error) Error() string {
	switch {
	case e.Line > 0:
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	case e.Path != "":
		return fmt.Sprintf("%s at %s", e.Message, e.Path)
	default:
		return e.Message
	}
}

// builder накапливает узлы и рёбра.
type builder struct {
	nodes []domain.Node
	edges []domain.Edge
	types map[string]string

	nodeSeq int
	edgeSeq int

	// pending: концы веток, которые соединяются со следующим узлом.
	pending []string

	// handles: sourceHandle для следующего ребра из узла.
	handles map[string]string

	// outputs: имя выхода → узел, который его отдаёт.
	outputs map[string]string

	// inputs: входные переменные workflow.
	inputs map[string]bool

	lanes      []string
	laneNodes  map[string][]string
	laneColors map[string]string

	warnings []string
}

func newBuilder() *builder {
	return &builder{
		types:      make(map[string]string),
		handles:    make(map[string]string),
		outputs:    make(map[string]string),
		inputs:     make(map[string]bool),
		laneNodes:  make(map[string][]string),
		laneColors: make(map[string]string),
	}
}

func (b *builder) warn(format string, args ...any) {
	b.warnings = append(b.warnings, fmt.Sprintf(format, args...))
}

// addNode добавляет узел с ID вида "promptBlock-fix-tests-3".
func (b *builder) addNode(label, lane string, data domain.NodeData) string {
	b.nodeSeq++
	nodeType := data.NodeType()
	id := fmt.Sprintf("%s-%s-%d", nodeType, slug(label), b.nodeSeq)

	b.nodes = append(b.nodes, domain.Node{ID: id, Type: nodeType, Data: data})
	b.types[id] = nodeType

	if lane != "" {
		if _, ok := b.laneNodes[lane]; !ok {
			b.lanes = append(b.lanes, lane)
		}
		b.laneNodes[lane] = append(b.laneNodes[lane], id)
	}
	return id
}

// connect добавляет ребро. Пустой source или target пропускается.
func (b *builder) connect(source, target string) {
	if source == "" || target == "" {
		return
	}
	b.edgeSeq++
	e := domain.Edge{
		ID:     fmt.Sprintf("e%d", b.edgeSeq),
		Source: source,
		Target: target,
	}
	if h, ok := b.handles[source]; ok {
		e.SourceHandle = h
		delete(b.handles, source)
	}
	b.edges = append(b.edges, e)
}

// link соединяет новый узел с предыдущим и со всеми ожидающими концами веток.
func (b *builder) link(prev, id string) {
	b.connect(prev, id)
	for _, p := range b.pending {
		b.connect(p, id)
	}
	b.pending = nil
}

// branch строит ветку от from: первое ребро получает handle (пустой handle
// ничего не задаёт). Ожидающие концы снаружи соединяются с первым узлом
// ветки и после неё остаются ожидающими. Возвращает концы ветки, включая
// незакрытые внутренние ветки. Пустая ветка возвращает from, handle
// остаётся для ребра к следующему узлу.
func (b *builder) branch(from, handle string, run func(prev string) string) []string {
	outer := b.pending
	b.pending = append([]string(nil), outer...)
	defer func() { b.pending = outer }()

	saved, had := b.handles[from]
	if handle != "" {
		b.handles[from] = handle
	}

	end := run(from)
	if end == from {
		return []string{from}
	}

	if had {
		b.handles[from] = saved
	} else if b.handles[from] == handle {
		delete(b.handles, from)
	}
	return append([]string{end}, b.pending...)
}

// loopBack добавляет ребро возврата на доработку от evaluator к началу тела.
func (b *builder) loopBack(evaluator, bodyStart string) {
	b.edgeSeq++
	b.edges = append(b.edges, domain.Edge{
		ID:           fmt.Sprintf("e%d", b.edgeSeq),
		Source:       evaluator,
		Target:       bodyStart,
		SourceHandle: "rejected",
	})
}

// merge сводит концы веток: первый продолжает цепочку, остальные ждут
// следующего узла. Концы на узле output не продолжаются.
func (b *builder) merge(ends ...string) string {
	seen := make(map[string]bool, len(ends))
	live := make([]string, 0, len(ends))
	for _, id := range ends {
		if id == "" || seen[id] || b.types[id] == domain.NodeTypeOutput {
			continue
		}
		seen[id] = true
		live = append(live, id)
	}
	if len(live) == 0 {
		return ""
	}
	b.pending = append(b.pending, live[1:]...)
	return live[0]
}

// bindings создаёт привязки для переменных текстов.
//
// Переменная с именем выхода более раннего шага берёт этот выход,
// входная переменная workflow берёт вход, остальные берут сырой выход prev.
func (b *builder) bindings(prev string, texts ...string) domain.Bindings {
	out := domain.Bindings{}
	for _, text := range texts {
		for _, v := range engine.ExtractAllVariables(text) {
			key := v.Key()
			if _, ok := out[key]; ok {
				continue
			}

			bind := domain.VariableBinding{Name: v.Name}
			switch nodeID, ok := b.outputs[v.Name]; {
			case ok:
				bind.Source = domain.SourceUpstream
				bind.SourceNodeID = nodeID
				bind.SourceOutput = v.Name
			case b.inputs[v.Name], prev == "", b.types[prev] == domain.NodeTypeWorkflowStart:
				bind.Source = domain.SourceInput
			default:
				bind.Source = domain.SourceUpstream
				bind.SourceNodeID = prev
			}
			out[key] = bind
		}
	}
	return out
}

// conditionExprRe: "{{review}} == 'pass'", "$score >= 7", "verdict contains ok".
var conditionExprRe = regexp.MustCompile(`^\s*(?:\{\{\s*([\w.]+)\s*\}\}|\$?([\w.]+))\s*(==|!=|>=|<=|>|<|contains|matches)\s*(.+?)\s*$`)

// condition переводит выражение в условие блока condition ("node == value").
//
// Имя выхода заменяется ID узла, который его отдаёт. Поддерживается только ==,
// остальные операторы сохраняются как есть с предупреждением.
func (b *builder) condition(expr string) string {
	expr = strings.TrimSpace(expr)
	m := conditionExprRe.FindStringSubmatch(expr)
	if m == nil {
		return expr
	}

	variable := m[1]
	if variable == "" {
		variable = m[2]
	}
	name, _, _ := strings.Cut(variable, ".")
	if nodeID, ok := b.outputs[name]; ok {
		name = nodeID
	}

	if m[3] != "==" {
		b.warn("condition %q: operator %s is not supported, the branch always passes", expr, m[3])
		return expr
	}
	return fmt.Sprintf("%s == %s", name, strings.Trim(m[4], `"'`))
}

func (b *builder) addInputs(names []string) {
	for _, n := range names {
		b.inputs[n] = true
	}
}

// result собирает Result и раскладывает узлы.
func (b *builder) result(name, description string, inputs []string, opts Options) *Result {
	if opts.Name != "" {
		name = opts.Name
	}
	if opts.Description != "" {
		description = opts.Description
	}
	if inputs == nil {
		inputs = []string{}
	}

	mappings := make([]AgentMapping, 0, len(b.lanes))
	for _, lane := range b.lanes {
		mappings = append(mappings, AgentMapping{
			LogicalName:   lane,
			SwimlaneColor: b.laneColors[lane],
			NodeIDs:       b.laneNodes[lane],
		})
	}

	if !opts.SkipLayout {
		layout(b.nodes, b.edges)
	}

	return &Result{
		Name:           name,
		Description:    description,
		Nodes:          b.nodes,
		Edges:          b.edges,
		AgentMappings:  mappings,
		InputVariables: inputs,
		Warnings:       b.warnings,
	}
}

// layout раскладывает узлы по слоям BFS от workflowStart (или первого узла):
// слой задаёт X, узлы слоя центрируются по Y в порядке объявления.
func layout(nodes []domain.Node, edges []domain.Edge) {
	if len(nodes) == 0 {
		return
	}

	adjacency := make(map[string][]string, len(nodes))
	for _, e := range edges {
		adjacency[e.Source] = append(adjacency[e.Source], e.Target)
	}

	root := nodes[0].ID
	for _, n := range nodes {
		if n.Type == domain.NodeTypeWorkflowStart {
			root = n.ID
			break
		}
	}

	levels := map[string]int{root: 0}
	queue := []string{root}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range adjacency[id] {
			if _, ok := levels[next]; !ok {
				levels[next] = levels[id] + 1
				queue = append(queue, next)
			}
		}
	}

	byLevel := make(map[int][]int)
	for i, n := range nodes {
		lvl := levels[n.ID]
		byLevel[lvl] = append(byLevel[lvl], i)
	}

	for lvl, idx := range byLevel {
		top := float64(layoutY) - float64((len(idx)-1)*layoutYSpacing)/2
		for j, i := range idx {
			nodes[i].Position = domain.Position{
				X: float64(layoutX + lvl*layoutXSpacing),
				Y: top + float64(j*layoutYSpacing),
			}
		}
	}
}

var (
	slugStripRe = regexp.MustCompile(`[^\w\s-]`)
	slugSpaceRe = regexp.MustCompile(`[-\s_]+`)
)

// slug: часть ID узла из подписи, не длиннее 20 символов.
func slug(label string) string {
	s := strings.ToLower(strings.TrimSpace(slugStripRe.ReplaceAllString(label, "")))
	s = strings.Trim(slugSpaceRe.ReplaceAllString(s, "-"), "-")
	if len(s) > 20 {
		s = strings.TrimRight(s[:20], "-")
	}
	if s == "" {
		return "node"
	}
	return s
}
