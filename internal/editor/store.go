// Package editor хранит редактируемый граф workflow.
//
// Store передаётся явно (CLI, API превью, тесты): глобального состояния нет.
// Все операции синхронные, мьютекс защищает граф от одновременных вызовов.
package editor

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/flowboard/internal/domain"
	"github.com/shaiso/flowboard/internal/engine"
	"github.com/shaiso/flowboard/internal/nodes"
)

// Ошибки редактора.
var (
	// ErrNodeNotFound: узел не найден в графе.
	ErrNodeNotFound = errors.New("node not found")

	// ErrEdgeNotFound: ребро не найдено в графе.
	ErrEdgeNotFound = errors.New("edge not found")

	// ErrNoTemplate: у узла нет шаблона.
	ErrNoTemplate = errors.New("node has no template")

	// ErrNoBindings: узел не поддерживает привязки.
	ErrNoBindings = errors.New("node does not support bindings")

	// ErrNoExtractions: узел не поддерживает правила извлечения.
	ErrNoExtractions = errors.New("node does not support output extractions")

	// ErrNotCondition: узел не является блоком condition.
	ErrNotCondition = errors.New("node is not a condition")

	// ErrNoStatus: у узла нет статуса выполнения.
	ErrNoStatus = errors.New("node has no status")

	// ErrInvalidTransition: переход статуса недопустим.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Store: граф workflow, который редактируется в данный момент.
type Store struct {
	mu       sync.Mutex
	wf       *domain.Workflow
	registry *nodes.Registry
	notifier Notifier
	onChange func(*domain.Workflow)
}

// Option настраивает Store.
type Option func(*Store)

// WithNotifier задаёт получателя уведомлений.
func WithNotifier(n Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// WithRegistry задаёт каталог типов узлов.
func WithRegistry(r *nodes.Registry) Option {
	return func(s *Store) { s.registry = r }
}

// OnChange задаёт функцию, которая получает снимок графа после каждого изменения.
// Используется для автосохранения. Функция вызывается под мьютексом и не должна
// обращаться к Store.
func OnChange(fn func(*domain.Workflow)) Option {
	return func(s *Store) { s.onChange = fn }
}

// NewStore создаёт Store для workflow. nil означает пустой граф.
func NewStore(wf *domain.Workflow, opts ...Option) *Store {
	if wf == nil {
		wf = &domain.Workflow{Nodes: []domain.Node{}, Edges: []domain.Edge{}}
	}
	s := &Store{
		wf:       wf,
		registry: nodes.DefaultRegistry(),
		notifier: discard{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load заменяет граф целиком (загрузка или восстановление автосохранения).
func (s *Store) Load(wf *domain.Workflow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wf = cloneWorkflow(wf)
}

// Snapshot возвращает глубокую копию графа.
func (s *Store) Snapshot() *domain.Workflow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneWorkflow(s.wf)
}

// AddNode добавляет узел с данными по умолчанию (пустые привязки и извлечения).
func (s *Store) AddNode(nodeType string, pos domain.Position) (domain.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.registry.NewNode(nodeType, pos)
	if err != nil {
		return domain.Node{}, err
	}
	s.wf.Nodes = append(s.wf.Nodes, n)

	s.changed()
	return cloneNode(n), nil
}

// RemoveNode удаляет узел вместе с его рёбрами, привязками и извлечениями.
//
// Привязки других узлов, ссылающиеся на удалённый узел, остаются:
// Resolve для них даст "", а Lint покажет предупреждение.
func (s *Store) RemoveNode(nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(nodeID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	s.wf.Nodes = append(s.wf.Nodes[:idx], s.wf.Nodes[idx+1:]...)

	edges := s.wf.Edges[:0]
	for _, e := range s.wf.Edges {
		if e.Source != nodeID && e.Target != nodeID {
			edges = append(edges, e)
		}
	}
	s.wf.Edges = edges

	s.changed()
	return nil
}

// Connect добавляет ребро source → target. Повторное соединение возвращает существующее ребро.
func (s *Store) Connect(source, target string) (domain.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range []string{source, target} {
		if s.indexOf(id) < 0 {
			return domain.Edge{}, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
		}
	}
	if source == target {
		return domain.Edge{}, engine.ErrSelfLoop
	}

	for _, e := range s.wf.Edges {
		if e.Source == source && e.Target == target {
			return e, nil
		}
	}

	e := domain.Edge{ID: "e-" + uuid.NewString()[:8], Source: source, Target: target}
	s.wf.Edges = append(s.wf.Edges, e)

	s.changed()
	return e, nil
}

// Disconnect удаляет ребро по ID.
func (s *Store) Disconnect(edgeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.wf.Edges {
		if e.ID == edgeID {
			s.wf.Edges = append(s.wf.Edges[:i], s.wf.Edges[i+1:]...)
			s.changed()
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrEdgeNotFound, edgeID)
}

// SetTemplate меняет шаблон prompt-блока.
//
// Привязки переменных, которых больше нет в шаблоне, отбрасываются.
// Возвращает отчёт по новому шаблону; непривязанные переменные дают предупреждение.
func (s *Store) SetTemplate(nodeID, template string) (engine.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.promptData(nodeID)
	if err != nil {
		return engine.Report{}, err
	}

	orphaned := engine.Analyze(template, data.Bindings).Orphaned
	data.Template = template
	data.Bindings = engine.Prune(template, data.Bindings)

	report := engine.Analyze(template, data.Bindings)
	report.Orphaned = orphaned

	if len(orphaned) > 0 {
		s.notifier.Notify(Toast{
			Type:    ToastInfo,
			Title:   "Bindings removed",
			Message: fmt.Sprintf("%d binding(s) no longer used by the template", len(orphaned)),
		})
	}
	if len(report.Unbound) > 0 {
		s.notifier.Notify(Toast{
			Type:    ToastWarning,
			Title:   "Unbound variables",
			Message: fmt.Sprintf("%v will resolve to empty text", report.Unbound),
		})
	}

	s.changed()
	return report, nil
}

// SetBinding задаёт привязку для ключа переменной ("name" или "$NAME").
//
// Upstream привязка без узла-источника получает первого предшественника узла.
func (s *Store) SetBinding(nodeID, key string, b domain.VariableBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.node(nodeID)
	if err != nil {
		return err
	}
	bindings, err := ensureBindings(n)
	if err != nil {
		return err
	}

	if b.Name == "" {
		b.Name = trimDollar(key)
	}
	if b.Source == domain.SourceUpstream && b.SourceNodeID == "" {
		if pred, ok := engine.FindPredecessor(s.wf, nodeID); ok {
			b.SourceNodeID = pred.ID
		}
	}

	for _, verr := range engine.ValidateBindings(nodeID, domain.Bindings{key: b}) {
		s.notifier.Notify(Toast{Type: ToastWarning, Title: "Binding problem", Message: verr.Error()})
	}

	bindings[key] = b
	s.changed()
	return nil
}

// RemoveBinding удаляет привязку переменной.
func (s *Store) RemoveBinding(nodeID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.node(nodeID)
	if err != nil {
		return err
	}
	bindings := n.Bindings()
	if bindings == nil {
		return fmt.Errorf("%w: %s", ErrNoBindings, nodeID)
	}

	delete(bindings, key)
	s.changed()
	return nil
}

// SetExtractions заменяет правила извлечения узла.
// Некорректные правила сохраняются, о них сообщает уведомление.
func (s *Store) SetExtractions(nodeID string, rules []domain.OutputExtraction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.node(nodeID)
	if err != nil {
		return err
	}

	rules = append([]domain.OutputExtraction(nil), rules...)
	switch d := n.Data.(type) {
	case *domain.PromptBlockData:
		d.OutputExtractions = rules
	case *domain.HTTPRequestData:
		d.OutputExtractions = rules
	default:
		return fmt.Errorf("%w: %s", ErrNoExtractions, nodeID)
	}

	for _, verr := range engine.ValidateExtractions(nodeID, rules) {
		s.notifier.Notify(Toast{Type: ToastWarning, Title: "Extraction problem", Message: verr.Error()})
	}

	s.changed()
	return nil
}

// Predecessor возвращает первого предшественника узла.
func (s *Store) Predecessor(nodeID string) (*domain.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := engine.FindPredecessor(s.wf, nodeID)
	if !ok {
		return nil, false
	}
	cp := cloneNode(*n)
	return &cp, true
}

// Analyze возвращает отчёт о переменных prompt-блока.
func (s *Store) Analyze(nodeID string) (engine.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.promptData(nodeID)
	if err != nil {
		return engine.Report{}, err
	}
	return engine.Analyze(data.Template, data.Bindings), nil
}

// Preview возвращает шаблон prompt-блока после подстановки.
// upstream может быть nil: тогда upstream привязки дают "".
func (s *Store) Preview(nodeID, input string, upstream engine.Upstream) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.promptData(nodeID)
	if err != nil {
		return "", err
	}
	return engine.Resolve(data.Template, data.Bindings, input, upstream), nil
}

// EvaluateCondition вычисляет условие блока condition по выходам предшественников.
// Ключи outputs: ID узлов, на которые ссылается условие ("p1 == success").
func (s *Store) EvaluateCondition(nodeID string, outputs map[string]domain.NodeOutput, statuses map[string]domain.NodeStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.node(nodeID)
	if err != nil {
		return false, err
	}
	data, ok := n.Data.(*domain.ConditionData)
	if !ok {
		return false, fmt.Errorf("%w: %s is %s", ErrNotCondition, nodeID, n.Type)
	}

	if data.Status.CanTransition(domain.ConditionEvaluating) {
		data.Status = domain.ConditionEvaluating
	}
	result := nodes.EvaluateCondition(data.Condition, nodes.ConditionVars(outputs, statuses))

	next := domain.ConditionFalse
	if result {
		next = domain.ConditionTrue
	}
	if data.Status.CanTransition(next) {
		data.Status = next
	}
	s.changed()
	return result, nil
}

// SetStatus переводит узел в новый статус по его машине состояний.
// "idle" допустим из любого статуса (сброс).
func (s *Store) SetStatus(nodeID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.node(nodeID)
	if err != nil {
		return err
	}

	var from string
	switch data := n.Data.(type) {
	case *domain.PromptBlockData:
		from = string(data.Status)
		if !data.Status.CanTransition(domain.NodeStatus(status)) || !domain.NodeStatus(status).IsValid() {
			return transitionError(nodeID, from, status)
		}
		data.Status = domain.NodeStatus(status)

	case *domain.HTTPRequestData:
		from = string(data.Status)
		if !data.Status.CanTransition(domain.NodeStatus(status)) || !domain.NodeStatus(status).IsValid() {
			return transitionError(nodeID, from, status)
		}
		data.Status = domain.NodeStatus(status)

	case *domain.ConditionData:
		from = string(data.Status)
		if !data.Status.CanTransition(domain.ConditionStatus(status)) {
			return transitionError(nodeID, from, status)
		}
		data.Status = domain.ConditionStatus(status)

	case *domain.EvaluatorData:
		from = string(data.Status)
		if !data.Transition(domain.EvaluatorStatus(status)) {
			return transitionError(nodeID, from, status)
		}

	default:
		return fmt.Errorf("%w: %s is %s", ErrNoStatus, nodeID, n.Type)
	}

	s.changed()
	return nil
}

func transitionError(nodeID, from, to string) error {
	if from == "" {
		from = "idle"
	}
	return fmt.Errorf("%w: %s %s → %s", ErrInvalidTransition, nodeID, from, to)
}

// now подменяется в тестах.
var now = func() time.Time { return time.Now().UTC() }

// changed вызывается под мьютексом после каждого изменения.
func (s *Store) changed() {
	s.wf.UpdatedAt = now()
	if s.onChange != nil {
		s.onChange(cloneWorkflow(s.wf))
	}
}

func (s *Store) indexOf(nodeID string) int {
	for i := range s.wf.Nodes {
		if s.wf.Nodes[i].ID == nodeID {
			return i
		}
	}
	return -1
}

func (s *Store) node(nodeID string) (*domain.Node, error) {
	n, ok := s.wf.FindNode(nodeID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	return n, nil
}

func (s *Store) promptData(nodeID string) (*domain.PromptBlockData, error) {
	n, err := s.node(nodeID)
	if err != nil {
		return nil, err
	}
	data, ok := n.PromptData()
	if !ok {
		return nil, fmt.Errorf("%w: %s is %s", ErrNoTemplate, nodeID, n.Type)
	}
	if data.Bindings == nil {
		data.Bindings = domain.Bindings{}
	}
	return data, nil
}

func ensureBindings(n *domain.Node) (domain.Bindings, error) {
	switch d := n.Data.(type) {
	case *domain.PromptBlockData:
		if d.Bindings == nil {
			d.Bindings = domain.Bindings{}
		}
		return d.Bindings, nil
	case *domain.HTTPRequestData:
		if d.Bindings == nil {
			d.Bindings = domain.Bindings{}
		}
		return d.Bindings, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrNoBindings, n.ID)
	}
}

func trimDollar(key string) string {
	if len(key) > 1 && key[0] == '$' {
		return key[1:]
	}
	return key
}

// cloneWorkflow копирует граф через JSON: данные узлов содержат map и срезы.
func cloneWorkflow(wf *domain.Workflow) *domain.Workflow {
	if wf == nil {
		return nil
	}
	b, err := json.Marshal(wf)
	if err != nil {
		panic(fmt.Sprintf("clone workflow: %v", err))
	}
	var out domain.Workflow
	if err := json.Unmarshal(b, &out); err != nil {
		panic(fmt.Sprintf("clone workflow: %v", err))
	}
	return &out
}

func cloneNode(n domain.Node) domain.Node {
	wf := cloneWorkflow(&domain.Workflow{Nodes: []domain.Node{n}})
	return wf.Nodes[0]
}
