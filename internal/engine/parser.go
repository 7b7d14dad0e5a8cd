package engine

import (
	"encoding/json"
	"fmt"

	"github.com/shaiso/flowboard/internal/domain"
)

// Известные типы узлов.
var validNodeTypes = map[string]bool{
	domain.NodeTypeWorkflowStart: true,
	domain.NodeTypePromptBlock:   true,
	domain.NodeTypeHTTPRequest:   true,
	domain.NodeTypeCondition:     true,
	domain.NodeTypeRouter:        true,
	domain.NodeTypeAggregator:    true,
	domain.NodeTypeEvaluator:     true,
	domain.NodeTypeOutput:        true,
}

// ParseWorkflow разбирает workflow из JSON и проверяет структуру графа.
func ParseWorkflow(data []byte) (*domain.Workflow, error) {
	var wf domain.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}

	if err := Validate(&wf); err != nil {
		return nil, err
	}

	return &wf, nil
}

// Validate проверяет структуру графа.
//
// Проверяет:
// - Непустые и уникальные ID узлов
// - Наличие типа у каждого узла
// - Рёбра между существующими узлами
// - Отсутствие петель
//
// Циклы через несколько узлов допустимы (цикл evaluator → prompt).
// Неизвестные типы узлов и проблемы привязок не ошибка: их возвращает Lint.
func Validate(wf *domain.Workflow) error {
	nodeIDs := make(map[string]bool, len(wf.Nodes))

	for i := range wf.Nodes {
		n := &wf.Nodes[i]

		if n.ID == "" {
			return NewValidationError("", "id", fmt.Sprintf("node %d has empty ID", i), ErrEmptyNodeID)
		}
		if nodeIDs[n.ID] {
			return NewValidationError(n.ID, "id",
				fmt.Sprintf("duplicate node ID: %s", n.ID), ErrDuplicateNodeID)
		}
		nodeIDs[n.ID] = true

		if n.Type == "" {
			return NewValidationError(n.ID, "type", "node has empty type", ErrUnknownNodeType)
		}
	}

	for _, e := range wf.Edges {
		if !nodeIDs[e.Source] {
			return NewValidationError(e.Source, "edges",
				fmt.Sprintf("edge %s: unknown source node: %s", e.ID, e.Source), ErrUnknownEdgeNode)
		}
		if !nodeIDs[e.Target] {
			return NewValidationError(e.Target, "edges",
				fmt.Sprintf("edge %s: unknown target node: %s", e.ID, e.Target), ErrUnknownEdgeNode)
		}
		if e.Source == e.Target {
			return NewValidationError(e.Source, "edges",
				fmt.Sprintf("edge %s connects node to itself", e.ID), ErrSelfLoop)
		}
	}

	return nil
}

// Lint возвращает предупреждения, которые не мешают сохранить workflow.
//
// - Неизвестные типы узлов
// - Некорректные привязки и правила извлечения
// - Upstream привязки на узлы, не являющиеся предками
// - Непривязанные переменные шаблона
func Lint(wf *domain.Workflow) []error {
	var warnings []error

	for i := range wf.Nodes {
		n := &wf.Nodes[i]

		if !validNodeTypes[n.Type] {
			warnings = append(warnings, NewValidationError(n.ID, "type",
				fmt.Sprintf("unknown node type: %s", n.Type), ErrUnknownNodeType))
			continue
		}

		warnings = append(warnings, ValidateExtractions(n.ID, n.Extractions())...)

		bindings := n.Bindings()
		if bindings == nil {
			continue
		}

		warnings = append(warnings, ValidateBindings(n.ID, bindings)...)

		ancestors := Ancestors(wf, n.ID)
		for _, key := range sortedKeys(bindings) {
			b := bindings[key]
			if b.Source != domain.SourceUpstream || b.SourceNodeID == "" {
				continue
			}
			if !ancestors[b.SourceNodeID] {
				warnings = append(warnings, NewValidationError(n.ID, "bindings."+key,
					fmt.Sprintf("source node %s is not upstream of %s", b.SourceNodeID, n.ID), ErrNotPredecessor))
			}
		}

		if data, ok := n.PromptData(); ok {
			report := Analyze(data.Template, data.Bindings)
			for _, key := range report.Unbound {
				warnings = append(warnings, NewValidationError(n.ID, "bindings."+key,
					fmt.Sprintf("variable %s is not bound", key), ErrUnboundVariable))
			}
		}
	}

	return warnings
}

// IsValidNodeType проверяет, является ли тип узла известным.
func IsValidNodeType(nodeType string) bool {
	return validNodeTypes[nodeType]
}
