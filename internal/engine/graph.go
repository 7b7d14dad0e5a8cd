package engine

import (
	"fmt"

	"github.com/shaiso/flowboard/internal/domain"
)

// Predecessors возвращает ID узлов, из которых есть ребро в nodeID.
// Порядок совпадает с порядком рёбер, дубликаты убираются.
func Predecessors(wf *domain.Workflow, nodeID string) []string {
	ids := make([]string, 0)
	seen := make(map[string]bool)

	for _, e := range wf.Edges {
		if e.Target != nodeID || seen[e.Source] {
			continue
		}
		seen[e.Source] = true
		ids = append(ids, e.Source)
	}

	return ids
}

// FindPredecessor возвращает первого непосредственного предшественника узла.
// Редактор предлагает его как источник по умолчанию для upstream привязок.
func FindPredecessor(wf *domain.Workflow, nodeID string) (*domain.Node, bool) {
	for _, e := range wf.Edges {
		if e.Target != nodeID {
			continue
		}
		if n, ok := wf.FindNode(e.Source); ok {
			return n, true
		}
	}
	return nil, false
}

// Successors возвращает ID узлов, в которые есть ребро из nodeID.
func Successors(wf *domain.Workflow, nodeID string) []string {
	ids := make([]string, 0)
	seen := make(map[string]bool)

	for _, e := range wf.Edges {
		if e.Source != nodeID || seen[e.Target] {
			continue
		}
		seen[e.Target] = true
		ids = append(ids, e.Target)
	}

	return ids
}

// Ancestors возвращает множество всех узлов, из которых достижим nodeID.
// Сам узел входит в результат, только если лежит на цикле.
func Ancestors(wf *domain.Workflow, nodeID string) map[string]bool {
	reverse := make(map[string][]string)
	for _, e := range wf.Edges {
		reverse[e.Target] = append(reverse[e.Target], e.Source)
	}

	result := make(map[string]bool)
	queue := append([]string(nil), reverse[nodeID]...)

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if result[id] {
			continue
		}
		result[id] = true
		queue = append(queue, reverse[id]...)
	}

	return result
}

// ExecutionOrder возвращает порядок обхода узлов (алгоритм Кана).
//
// Узлы workflowStart идут первыми, затем корни в порядке объявления.
// Рёбра на несуществующие узлы игнорируются. Если в графе есть цикл
// (например, возврат от evaluator на доработку), возвращается порядок
// для ацикличной части и ошибка ErrCyclicGraph.
func ExecutionOrder(wf *domain.Workflow) ([]string, error) {
	known := make(map[string]bool, len(wf.Nodes))
	for _, n := range wf.Nodes {
		known[n.ID] = true
	}

	adjacency := make(map[string][]string, len(wf.Nodes))
	inDegree := make(map[string]int, len(wf.Nodes))
	for _, e := range wf.Edges {
		if !known[e.Source] || !known[e.Target] {
			continue
		}
		adjacency[e.Source] = append(adjacency[e.Source], e.Target)
		inDegree[e.Target]++
	}

	// Очередь: сначала workflowStart, затем остальные узлы без входящих рёбер.
	queue := make([]string, 0)
	for _, n := range wf.Nodes {
		if n.Type == domain.NodeTypeWorkflowStart {
			queue = append(queue, n.ID)
		}
	}
	for _, n := range wf.Nodes {
		if n.Type != domain.NodeTypeWorkflowStart && inDegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}

	order := make([]string, 0, len(wf.Nodes))
	visited := make(map[string]bool, len(wf.Nodes))

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		order = append(order, id)

		for _, next := range adjacency[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != len(known) {
		return order, fmt.Errorf("%w: %d of %d nodes unreachable", ErrCyclicGraph, len(known)-len(order), len(known))
	}

	return order, nil
}
