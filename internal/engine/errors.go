package engine

import "errors"

// Ошибки валидации workflow.
var (
	// ErrEmptyNodeID: узел не имеет ID.
	ErrEmptyNodeID = errors.New("node has empty ID")

	// ErrDuplicateNodeID: несколько узлов с одинаковым ID.
	ErrDuplicateNodeID = errors.New("duplicate node ID")

	// ErrUnknownNodeType: неизвестный тип узла.
	ErrUnknownNodeType = errors.New("unknown node type")

	// ErrUnknownEdgeNode: ребро ссылается на несуществующий узел.
	ErrUnknownEdgeNode = errors.New("edge references unknown node")

	// ErrSelfLoop: ребро из узла в самого себя.
	ErrSelfLoop = errors.New("edge connects node to itself")

	// ErrCyclicGraph: в графе есть цикл.
	ErrCyclicGraph = errors.New("cyclic graph detected")
)

// Ошибки привязок и правил извлечения.
var (
	// ErrInvalidBindingSource: неизвестный источник привязки.
	ErrInvalidBindingSource = errors.New("invalid binding source")

	// ErrBindingKeyMismatch: имя привязки не совпадает с ключом.
	ErrBindingKeyMismatch = errors.New("binding name does not match key")

	// ErrMissingSourceNode: upstream привязка без узла-источника.
	ErrMissingSourceNode = errors.New("upstream binding has no source node")

	// ErrUnboundVariable: у переменной шаблона нет привязки.
	ErrUnboundVariable = errors.New("variable is not bound")

	// ErrNotPredecessor: узел-источник не является предшественником.
	ErrNotPredecessor = errors.New("source node is not a predecessor")

	// ErrInvalidExtractionMode: неизвестный режим извлечения.
	ErrInvalidExtractionMode = errors.New("invalid extraction mode")

	// ErrMissingPattern: режиму jsonpath/regex не задан pattern.
	ErrMissingPattern = errors.New("extraction pattern is required")

	// ErrInvalidPattern: pattern не компилируется.
	ErrInvalidPattern = errors.New("invalid extraction pattern")

	// ErrEmptyOutputName: правило извлечения без имени выхода.
	ErrEmptyOutputName = errors.New("extraction has empty output name")

	// ErrDuplicateOutputName: несколько правил с одинаковым именем выхода.
	ErrDuplicateOutputName = errors.New("duplicate output name")
)

// ValidationError: ошибка валидации с контекстом.
type ValidationError struct {
	NodeID  string // ID узла, где произошла ошибка
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(nodeID, field, message string, err error) *ValidationError {
	return &ValidationError{
		NodeID:  nodeID,
		Field:   field,
		Message: message,
		Err:     err,
	}
}
