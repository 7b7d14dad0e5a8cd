package domain

// BindingSource: откуда берётся значение переменной шаблона.
type BindingSource string

const (
	// SourceInput: входное значение всего workflow.
	SourceInput BindingSource = "input"

	// SourceUpstream: выход конкретного предшествующего узла.
	SourceUpstream BindingSource = "upstream"

	// SourceStatic: фиксированная строка, заданная при проектировании.
	SourceStatic BindingSource = "static"
)

// IsValid проверяет, что источник известен.
func (s BindingSource) IsValid() bool {
	switch s {
	case SourceInput, SourceUpstream, SourceStatic:
		return true
	default:
		return false
	}
}

// VariableSyntax: синтаксис плейсхолдера в шаблоне.
type VariableSyntax string

const (
	// SyntaxMustache: {{name}}.
	SyntaxMustache VariableSyntax = "mustache"

	// SyntaxDollar: $UPPER_NAME.
	SyntaxDollar VariableSyntax = "dollar"
)

// Variable: переменная, найденная в шаблоне.
type Variable struct {
	Name   string         `json:"name"`
	Syntax VariableSyntax `json:"syntax"`
}

// Key возвращает ключ привязки для переменной.
// Для $NAME ключ включает "$", поэтому {{foo}} и $FOO не пересекаются.
func (v Variable) Key() string {
	if v.Syntax == SyntaxDollar {
		return "$" + v.Name
	}
	return v.Name
}

// VariableBinding: правило получения значения переменной.
type VariableBinding struct {
	// Name: имя переменной (ключ в наборе привязок узла).
	Name string `json:"name"`

	// Source: источник значения.
	Source BindingSource `json:"source"`

	// SourceNodeID: узел-источник, только для upstream.
	SourceNodeID string `json:"sourceNodeId,omitempty"`

	// SourceOutput: именованный выход узла-источника.
	// Пусто означает сырой ответ узла.
	SourceOutput string `json:"sourceOutput,omitempty"`

	// SourcePath: JSON path или regex, применяемый к выходу источника.
	SourcePath string `json:"sourcePath,omitempty"`

	// SourceMode: режим применения SourcePath.
	// Пусто: "$..." трактуется как JSON path, остальное как regex.
	SourceMode ExtractionMode `json:"sourceMode,omitempty"`

	// StaticValue: подставляемый текст, только для static.
	StaticValue string `json:"staticValue,omitempty"`
}

// PathMode возвращает фактический режим для SourcePath.
func (b VariableBinding) PathMode() ExtractionMode {
	if b.SourceMode != "" {
		return b.SourceMode
	}
	if b.SourcePath == "" {
		return ModeFull
	}
	if b.SourcePath[0] == '$' {
		return ModeJSONPath
	}
	return ModeRegex
}

// Bindings: набор привязок узла, ключ совпадает с Variable.Key().
type Bindings map[string]VariableBinding

// Clone возвращает копию набора.
func (b Bindings) Clone() Bindings {
	out := make(Bindings, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// ExtractionMode: способ получения именованного выхода из ответа узла.
type ExtractionMode string

const (
	ModeFull      ExtractionMode = "full"
	ModeJSON      ExtractionMode = "json"
	ModeJSONPath  ExtractionMode = "jsonpath"
	ModeRegex     ExtractionMode = "regex"
	ModeFirstLine ExtractionMode = "first_line"
)

// IsValid проверяет, что режим известен.
func (m ExtractionMode) IsValid() bool {
	switch m {
	case ModeFull, ModeJSON, ModeJSONPath, ModeRegex, ModeFirstLine:
		return true
	default:
		return false
	}
}

// NeedsPattern возвращает true для режимов, которым нужен Pattern.
func (m ExtractionMode) NeedsPattern() bool {
	return m == ModeJSONPath || m == ModeRegex
}

// OutputExtraction: правило извлечения именованного выхода.
type OutputExtraction struct {
	OutputName string         `json:"outputName" yaml:"outputName"`
	Mode       ExtractionMode `json:"mode" yaml:"mode"`
	Pattern    string         `json:"pattern,omitempty" yaml:"pattern,omitempty"`
}

// DefaultOutputExtraction: правило по умолчанию для шаблонов промптов.
func DefaultOutputExtraction() OutputExtraction {
	return OutputExtraction{OutputName: "output", Mode: ModeFull}
}

// NodeOutput: результат выполненного узла, доступный узлам ниже по графу.
type NodeOutput struct {
	// Raw: сырой ответ узла.
	Raw string `json:"raw"`

	// Outputs: именованные выходы после применения OutputExtraction.
	Outputs map[string]any `json:"outputs,omitempty"`
}
