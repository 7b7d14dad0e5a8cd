package api

import (
	"time"

	"github.com/shaiso/flowboard/internal/domain"
	"github.com/shaiso/flowboard/internal/engine"
	"github.com/shaiso/flowboard/internal/nodes"
)

// Flow DTOs

// SaveFlowRequest: запрос на сохранение workflow.
type SaveFlowRequest struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	TemplateID  string        `json:"templateId,omitempty"`
	Folder      string        `json:"folder,omitempty"`
	Nodes       []domain.Node `json:"nodes"`
	Edges       []domain.Edge `json:"edges"`
}

// ToDomain конвертирует запрос в domain.Workflow.
func (r SaveFlowRequest) ToDomain() *domain.Workflow {
	wf := &domain.Workflow{
		Name:        r.Name,
		Description: r.Description,
		TemplateID:  r.TemplateID,
		Folder:      r.Folder,
		Nodes:       r.Nodes,
		Edges:       r.Edges,
	}
	if wf.Nodes == nil {
		wf.Nodes = []domain.Node{}
	}
	if wf.Edges == nil {
		wf.Edges = []domain.Edge{}
	}
	return wf
}

// SaveFlowResponse: ответ на сохранение workflow.
type SaveFlowResponse struct {
	Status    string    `json:"status"`
	Name      string    `json:"name"`
	Folder    string    `json:"folder,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Warnings: замечания Lint, сохранению не мешают.
	Warnings []string `json:"warnings,omitempty"`
}

// ValidateFlowResponse: результат проверки workflow без сохранения.
type ValidateFlowResponse struct {
	Valid    bool     `json:"valid"`
	Error    string   `json:"error,omitempty"`
	Warnings []string `json:"warnings"`

	// Order: порядок выполнения, пусто для графа с циклом.
	Order []string `json:"order,omitempty"`
}

// CreateFolderRequest: запрос на создание папки.
type CreateFolderRequest struct {
	Name   string `json:"name"`
	Parent string `json:"parent,omitempty"`
}

// RenameFolderRequest: запрос на переименование папки prompts.
type RenameFolderRequest struct {
	NewName string `json:"newName"`
}

// FolderResponse: результат операции над папкой.
type FolderResponse struct {
	Status string `json:"status"`
	Name   string `json:"name"`

	// Deleted: количество удалённых шаблонов при force.
	Deleted int `json:"deleted,omitempty"`
}

// MoveFlowRequest: запрос на перенос workflow в папку.
type MoveFlowRequest struct {
	Name   string `json:"name"`
	Folder string `json:"folder"`
}

// Prompt DTOs

// MovePromptRequest: запрос на перенос шаблона между папками.
type MovePromptRequest struct {
	ID           string `json:"id"`
	SourceFolder string `json:"sourceFolder"`
	TargetFolder string `json:"targetFolder"`
}

// StatusResponse: простой ответ о выполненной операции.
type StatusResponse struct {
	Status string `json:"status"`
	ID     string `json:"id,omitempty"`
}

// Failure DTOs

// CreateFailureRequest: запрос на регистрацию упавшего теста.
type CreateFailureRequest struct {
	domain.FailureInput

	// WorkflowID: workflow для обработки, по умолчанию активный.
	WorkflowID string `json:"workflow_id,omitempty"`

	// AutoExecute: сразу поставить в очередь (по умолчанию true).
	AutoExecute *bool `json:"auto_execute,omitempty"`
}

// CreateFailureResponse: ответ на регистрацию failure.
type CreateFailureResponse struct {
	FailureID  string `json:"failure_id"`
	Status     string `json:"status"`
	WorkflowID string `json:"workflow_id,omitempty"`
	Message    string `json:"message,omitempty"`
}

// FailureActionResponse: результат retry и escalate.
type FailureActionResponse struct {
	Status    string          `json:"status"`
	FailureID string          `json:"failure_id"`
	Failure   *domain.Failure `json:"failure,omitempty"`
}

// RetryFailureRequest: запрос на повтор failure.
type RetryFailureRequest struct {
	WorkflowID string `json:"workflow_id,omitempty"`
}

// SetWorkflowRequest: запрос на смену активного workflow.
type SetWorkflowRequest struct {
	WorkflowID string `json:"workflow_id"`
}

// ActiveWorkflowResponse: активный workflow для новых failures.
type ActiveWorkflowResponse struct {
	Status       string `json:"status,omitempty"`
	Active       bool   `json:"active"`
	WorkflowID   string `json:"workflow_id,omitempty"`
	WorkflowName string `json:"workflow_name,omitempty"`
}

// Tool DTOs

// PreviewRequest: запрос на подстановку шаблона.
//
// Шаблон задаётся либо напрямую (Template, Bindings), либо ссылкой на узел
// в переданном workflow (Workflow, NodeID).
type PreviewRequest struct {
	Template string          `json:"template,omitempty"`
	Bindings domain.Bindings `json:"bindings,omitempty"`

	Workflow *domain.Workflow `json:"workflow,omitempty"`
	NodeID   string           `json:"nodeId,omitempty"`

	Input    string                       `json:"input"`
	Upstream map[string]domain.NodeOutput `json:"upstream,omitempty"`
}

// PreviewResponse: результат подстановки.
type PreviewResponse struct {
	Resolved string        `json:"resolved"`
	Report   engine.Report `json:"report"`

	// Warnings: ошибки валидации привязок.
	Warnings []string `json:"warnings,omitempty"`
}

// ExtractRequest: запрос на применение правил извлечения.
type ExtractRequest struct {
	Raw   string                    `json:"raw"`
	Rules []domain.OutputExtraction `json:"rules"`
}

// ExtractResponse: именованные выходы и ошибки правил.
type ExtractResponse struct {
	Outputs map[string]any `json:"outputs"`
	Errors  []string       `json:"errors,omitempty"`
}

// ExecuteHTTPRequest: запрос к HTTP прокси.
//
// Request выполняется как есть. Node собирается через nodes.BuildHTTPRequest
// с подстановкой Input и Upstream.
type ExecuteHTTPRequest struct {
	Request *nodes.HTTPRequest `json:"request,omitempty"`

	Node     *domain.HTTPRequestData      `json:"node,omitempty"`
	Input    string                       `json:"input,omitempty"`
	Upstream map[string]domain.NodeOutput `json:"upstream,omitempty"`
}

// ExecuteHTTPResponse: ответ внешнего сервиса и выход узла.
type ExecuteHTTPResponse struct {
	*nodes.HTTPResult

	// Output: выход узла после правил извлечения, если запрос собран из Node.
	Output *domain.NodeOutput `json:"output,omitempty"`

	// Warning: некритичная проблема сборки (невалидные заголовки).
	Warning string `json:"warning,omitempty"`
}

func errorStrings(errs []error) []string {
	if len(errs) == 0 {
		return nil
	}
	out := make([]string, len(errs))
	for i, err := range errs {
		out[i] = err.Error()
	}
	return out
}

// ConvertYAMLRequest: YAML описание workflow для конвертации.
type ConvertYAMLRequest struct {
	YAML        string `json:"yaml"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// ConvertPlantUMLRequest: диаграмма активностей PlantUML для конвертации.
type ConvertPlantUMLRequest struct {
	PlantUML    string `json:"plantuml"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`

	// AutoLayout: раскладывать узлы (по умолчанию true).
	AutoLayout *bool `json:"auto_layout,omitempty"`
}

// PipelineState: ход обработки failure по узлам его workflow.
type PipelineState struct {
	FailureID      string               `json:"failure_id"`
	WorkflowID     string               `json:"workflow_id"`
	Status         domain.FailureStatus `json:"status"`
	ExecutionOrder []string             `json:"execution_order"`
	CurrentIndex   int                  `json:"current_index"`
	Tasks          []PipelineTask       `json:"tasks"`
}

// PipelineTask: узел workflow в пайплайне failure.
type PipelineTask struct {
	NodeID string            `json:"node_id"`
	Type   string            `json:"type"`
	Label  string            `json:"label,omitempty"`
	Status domain.NodeStatus `json:"status"`
	Output any               `json:"output,omitempty"`
}
