package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// Workflow: граф блоков, который собирается на канвасе и сохраняется целиком.
//
// Workflow идентифицируется по имени (оно же ключ в API), ID используется
// только как стабильный первичный ключ в БД.
type Workflow struct {
	// ID: первичный ключ в БД.
	ID uuid.UUID `json:"id,omitempty"`

	// Name: уникальное имя workflow ("triage", "code-review").
	Name string `json:"name"`

	// Description: описание назначения.
	Description string `json:"description,omitempty"`

	// TemplateID: шаблон, из которого workflow был создан.
	TemplateID string `json:"templateId,omitempty"`

	// Folder: папка в дереве workflows (пусто для корня).
	Folder string `json:"folder,omitempty"`

	// Nodes: узлы графа.
	Nodes []Node `json:"nodes"`

	// Edges: рёбра графа.
	Edges []Edge `json:"edges"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// FindNode возвращает узел по ID.
func (w *Workflow) FindNode(id string) (*Node, bool) {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i], true
		}
	}
	return nil, false
}

// Summary строит краткое описание для списка workflows.
func (w *Workflow) Summary() FlowSummary {
	return FlowSummary{
		Name:        w.Name,
		Description: w.Description,
		TemplateID:  w.TemplateID,
		Folder:      w.Folder,
		NodeCount:   len(w.Nodes),
		EdgeCount:   len(w.Edges),
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
	}
}

// FlowKey приводит имя workflow к ключу хранения:
// остаются буквы, цифры, "-", "_" и пробел, края обрезаются.
// Пустой результат означает недопустимое имя.
func FlowKey(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == ' ' {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// FlowSummary: элемент списка workflows.
type FlowSummary struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	TemplateID  string    `json:"templateId,omitempty"`
	Folder      string    `json:"folder,omitempty"`
	NodeCount   int       `json:"nodeCount"`
	EdgeCount   int       `json:"edgeCount"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Position: координаты узла на канвасе.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Edge: ребро между двумя узлами.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// Типы узлов.
const (
	NodeTypeWorkflowStart = "workflowStart"
	NodeTypePromptBlock   = "promptBlock"
	NodeTypeHTTPRequest   = "httpRequest"
	NodeTypeCondition     = "condition"
	NodeTypeRouter        = "router"
	NodeTypeAggregator    = "aggregator"
	NodeTypeEvaluator     = "evaluator"
	NodeTypeOutput        = "output"
)

// NodeData: данные узла конкретного типа.
//
// Реализации: PromptBlockData, HTTPRequestData, ConditionData, RouterData,
// AggregatorData, EvaluatorData, OutputData, WorkflowStartData, UnknownData.
type NodeData interface {
	NodeType() string
}

// Node: узел графа. Data выбирается по Type.
type Node struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Position Position `json:"position"`
	Data     NodeData `json:"-"`
}

// Bindings возвращает привязки узла (если тип их поддерживает).
func (n *Node) Bindings() Bindings {
	switch d := n.Data.(type) {
	case *PromptBlockData:
		return d.Bindings
	case *HTTPRequestData:
		return d.Bindings
	default:
		return nil
	}
}

// Label возвращает подпись узла. Для неизвестного типа пусто.
func (n *Node) Label() string {
	switch d := n.Data.(type) {
	case *WorkflowStartData:
		return d.Label
	case *PromptBlockData:
		return d.Label
	case *HTTPRequestData:
		return d.Label
	case *ConditionData:
		return d.Label
	case *RouterData:
		return d.Label
	case *AggregatorData:
		return d.Label
	case *EvaluatorData:
		return d.Label
	case *OutputData:
		return d.Label
	default:
		return ""
	}
}

// PromptData возвращает данные prompt-блока, если узел им является.
func (n *Node) PromptData() (*PromptBlockData, bool) {
	d, ok := n.Data.(*PromptBlockData)
	return d, ok
}

// Extractions возвращает правила извлечения выходов узла (если тип их поддерживает).
func (n *Node) Extractions() []OutputExtraction {
	switch d := n.Data.(type) {
	case *PromptBlockData:
		return d.OutputExtractions
	case *HTTPRequestData:
		return d.OutputExtractions
	default:
		return nil
	}
}

// nodeJSON: формат узла на проводе ({id, type, position, data}).
type nodeJSON struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Position Position        `json:"position"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// MarshalJSON реализует json.Marshaler.
func (n Node) MarshalJSON() ([]byte, error) {
	var data json.RawMessage
	switch d := n.Data.(type) {
	case nil:
		data = json.RawMessage("{}")
	case *UnknownData:
		data = d.Raw
		if len(data) == 0 {
			data = json.RawMessage("{}")
		}
	default:
		b, err := json.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("marshal node %s data: %w", n.ID, err)
		}
		data = b
	}
	return json.Marshal(nodeJSON{ID: n.ID, Type: n.Type, Position: n.Position, Data: data})
}

// UnmarshalJSON реализует json.Unmarshaler.
func (n *Node) UnmarshalJSON(b []byte) error {
	var raw nodeJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	data := NewNodeData(raw.Type)
	if u, ok := data.(*UnknownData); ok {
		u.Type = raw.Type
		u.Raw = raw.Data
	} else if len(raw.Data) > 0 {
		if err := json.Unmarshal(raw.Data, data); err != nil {
			return fmt.Errorf("unmarshal node %s data: %w", raw.ID, err)
		}
	}

	n.ID = raw.ID
	n.Type = raw.Type
	n.Position = raw.Position
	n.Data = data
	return nil
}

// NewNodeData создаёт пустые данные для типа узла.
// Для неизвестного типа возвращает *UnknownData.
func NewNodeData(nodeType string) NodeData {
	switch nodeType {
	case NodeTypeWorkflowStart:
		return &WorkflowStartData{}
	case NodeTypePromptBlock:
		return &PromptBlockData{Bindings: Bindings{}, Status: StatusIdle}
	case NodeTypeHTTPRequest:
		return &HTTPRequestData{Method: "GET", Bindings: Bindings{}, Status: StatusIdle}
	case NodeTypeCondition:
		return &ConditionData{Status: ConditionIdle}
	case NodeTypeRouter:
		return &RouterData{}
	case NodeTypeAggregator:
		return &AggregatorData{}
	case NodeTypeEvaluator:
		return &EvaluatorData{MaxIterations: 3, Status: EvaluatorIdle}
	case NodeTypeOutput:
		return &OutputData{}
	default:
		return &UnknownData{Type: nodeType}
	}
}

// WorkflowStartData: точка входа workflow.
type WorkflowStartData struct {
	Label string `json:"label,omitempty"`

	// InputVariables: имена входных переменных, которые ожидает workflow.
	InputVariables []string `json:"inputVariables,omitempty"`
}

func (*WorkflowStartData) NodeType() string { return NodeTypeWorkflowStart }

// PromptBlockData: блок выполнения промпта агентом.
//
// Template и Bindings образуют модель привязки переменных, OutputExtractions
// описывает, какие именованные значения блок отдаёт вниз по графу.
type PromptBlockData struct {
	Label             string             `json:"label,omitempty"`
	Description       string             `json:"description,omitempty"`
	AgentID           string             `json:"agentId,omitempty"`
	PromptTemplateID  string             `json:"promptTemplateId,omitempty"`
	Template          string             `json:"template"`
	Bindings          Bindings           `json:"bindings"`
	OutputExtractions []OutputExtraction `json:"outputExtractions,omitempty"`
	Status            NodeStatus         `json:"status,omitempty"`
}

func (*PromptBlockData) NodeType() string { return NodeTypePromptBlock }

// HTTPRequestData: блок HTTP запроса.
type HTTPRequestData struct {
	Label  string `json:"label,omitempty"`
	Method string `json:"method"`
	URL    string `json:"url"`

	// Headers: JSON объект строкой, как его вводит пользователь.
	// Невалидный JSON не ошибка: запрос уходит без заголовков.
	Headers string `json:"headers,omitempty"`

	Body       string `json:"body,omitempty"`
	TimeoutSec int    `json:"timeout,omitempty"`

	// Bindings: привязки для {{name}} в URL, заголовках и теле.
	Bindings          Bindings           `json:"bindings,omitempty"`
	OutputExtractions []OutputExtraction `json:"outputExtractions,omitempty"`
	Status            NodeStatus         `json:"status,omitempty"`
}

func (*HTTPRequestData) NodeType() string { return NodeTypeHTTPRequest }

// ConditionData: ветвление по условию.
type ConditionData struct {
	Label     string          `json:"label,omitempty"`
	Condition string          `json:"condition"`
	Status    ConditionStatus `json:"status,omitempty"`
}

func (*ConditionData) NodeType() string { return NodeTypeCondition }

// RouterData: маршрутизация по совпадению с правилами.
type RouterData struct {
	Label  string       `json:"label,omitempty"`
	Routes []RouterRule `json:"routes,omitempty"`
}

// RouterRule: одно правило маршрутизатора.
type RouterRule struct {
	Handle  string `json:"handle"`
	Pattern string `json:"pattern"`
}

func (*RouterData) NodeType() string { return NodeTypeRouter }

// AggregatorData: объединение выходов нескольких узлов.
type AggregatorData struct {
	Label     string `json:"label,omitempty"`
	Strategy  string `json:"strategy,omitempty"` // "concat", "json"
	Separator string `json:"separator,omitempty"`
}

func (*AggregatorData) NodeType() string { return NodeTypeAggregator }

// EvaluatorData: проверка результата с возвратом на доработку.
type EvaluatorData struct {
	Label         string          `json:"label,omitempty"`
	Criteria      string          `json:"criteria,omitempty"`
	MaxIterations int             `json:"maxIterations"`
	Iteration     int             `json:"iteration,omitempty"`
	Status        EvaluatorStatus `json:"status,omitempty"`
}

func (*EvaluatorData) NodeType() string { return NodeTypeEvaluator }

// OutputData: финальный вывод workflow.
type OutputData struct {
	Label  string `json:"label,omitempty"`
	Format string `json:"format,omitempty"`
}

func (*OutputData) NodeType() string { return NodeTypeOutput }

// UnknownData хранит данные узла неизвестного типа без изменений.
type UnknownData struct {
	Type string
	Raw  json.RawMessage
}

func (d *UnknownData) NodeType() string { return d.Type }
