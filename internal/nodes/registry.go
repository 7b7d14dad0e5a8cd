package nodes

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/shaiso/flowboard/internal/domain"
)

// Ошибки каталога узлов.
var (
	// ErrKindNotFound: тип узла не найден в реестре.
	ErrKindNotFound = errors.New("node kind not found")

	// ErrInvalidConfig: невалидная конфигурация узла.
	ErrInvalidConfig = errors.New("invalid node config")
)

// Kind: описание типа узла для палитры редактора.
type Kind struct {
	// Type: значение Node.Type.
	Type string `json:"type"`

	// Label: подпись по умолчанию для нового узла.
	Label string `json:"label"`

	// Category: группа в палитре ("agents", "logic", "io").
	Category string `json:"category"`

	// HasBindings: узел содержит шаблон с привязками.
	HasBindings bool `json:"hasBindings"`

	// HasExtractions: узел отдаёт именованные выходы.
	HasExtractions bool `json:"hasExtractions"`
}

// Registry: реестр типов узлов.
//
// Позволяет регистрировать типы и создавать узлы с данными по умолчанию.
// Потокобезопасен.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]Kind
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		kinds: make(map[string]Kind),
	}
}

// DefaultRegistry создаёт реестр со всеми стандартными типами узлов.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register(Kind{Type: domain.NodeTypeWorkflowStart, Label: "Start", Category: "io"})
	r.Register(Kind{Type: domain.NodeTypePromptBlock, Label: "Prompt", Category: "agents", HasBindings: true, HasExtractions: true})
	r.Register(Kind{Type: domain.NodeTypeHTTPRequest, Label: "HTTP Request", Category: "io", HasBindings: true, HasExtractions: true})
	r.Register(Kind{Type: domain.NodeTypeCondition, Label: "Condition", Category: "logic"})
	r.Register(Kind{Type: domain.NodeTypeRouter, Label: "Router", Category: "logic"})
	r.Register(Kind{Type: domain.NodeTypeAggregator, Label: "Aggregator", Category: "logic"})
	r.Register(Kind{Type: domain.NodeTypeEvaluator, Label: "Evaluator", Category: "agents"})
	r.Register(Kind{Type: domain.NodeTypeOutput, Label: "Output", Category: "io"})

	return r
}

// Register регистрирует тип узла в реестре.
// Если тип уже существует, он будет перезаписан.
func (r *Registry) Register(k Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[k.Type] = k
}

// Get возвращает описание типа.
// Возвращает ErrKindNotFound, если тип не найден.
func (r *Registry) Get(nodeType string) (Kind, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	k, exists := r.kinds[nodeType]
	if !exists {
		return Kind{}, fmt.Errorf("%w: %s", ErrKindNotFound, nodeType)
	}

	return k, nil
}

// Has проверяет, зарегистрирован ли тип.
func (r *Registry) Has(nodeType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.kinds[nodeType]
	return exists
}

// Kinds возвращает все типы, отсортированные по Type.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]Kind, 0, len(r.kinds))
	for _, k := range r.kinds {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i].Type < kinds[j].Type })
	return kinds
}

// NewNode создаёт узел зарегистрированного типа с данными по умолчанию.
//
// Привязки и правила извлечения создаются пустыми; подпись берётся из Kind.
func (r *Registry) NewNode(nodeType string, pos domain.Position) (domain.Node, error) {
	k, err := r.Get(nodeType)
	if err != nil {
		return domain.Node{}, err
	}

	data := domain.NewNodeData(nodeType)
	setLabel(data, k.Label)

	return domain.Node{
		ID:       nodeType + "-" + uuid.NewString()[:8],
		Type:     nodeType,
		Position: pos,
		Data:     data,
	}, nil
}

func setLabel(data domain.NodeData, label string) {
	switch d := data.(type) {
	case *domain.WorkflowStartData:
		d.Label = label
	case *domain.PromptBlockData:
		d.Label = label
	case *domain.HTTPRequestData:
		d.Label = label
	case *domain.ConditionData:
		d.Label = label
	case *domain.RouterData:
		d.Label = label
	case *domain.AggregatorData:
		d.Label = label
	case *domain.EvaluatorData:
		d.Label = label
	case *domain.OutputData:
		d.Label = label
	}
}
