package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shaiso/flowboard/internal/convert"
	"github.com/shaiso/flowboard/internal/domain"
	"github.com/shaiso/flowboard/internal/engine"
)

// --- Response types (повторяют api/dto.go, CLI не импортирует internal/api) ---

// SaveFlowResult: ответ на сохранение workflow.
type SaveFlowResult struct {
	Status    string    `json:"status"`
	Name      string    `json:"name"`
	Folder    string    `json:"folder,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Warnings  []string  `json:"warnings,omitempty"`
}

// CreateFailureResult: ответ на регистрацию failure.
type CreateFailureResult struct {
	FailureID  string `json:"failure_id"`
	Status     string `json:"status"`
	WorkflowID string `json:"workflow_id,omitempty"`
	Message    string `json:"message,omitempty"`
}

// FailureActionResult: ответ на retry/escalate.
type FailureActionResult struct {
	Status    string          `json:"status"`
	FailureID string          `json:"failure_id"`
	Failure   *domain.Failure `json:"failure,omitempty"`
}

// ActiveWorkflowResult: активный workflow для новых failures.
type ActiveWorkflowResult struct {
	Status       string `json:"status,omitempty"`
	Active       bool   `json:"active"`
	WorkflowID   string `json:"workflow_id,omitempty"`
	WorkflowName string `json:"workflow_name,omitempty"`
}

// PreviewResult: результат подстановки шаблона.
type PreviewResult struct {
	Resolved string        `json:"resolved"`
	Report   engine.Report `json:"report"`
	Warnings []string      `json:"warnings,omitempty"`
}

// ExtractResult: результат правил извлечения.
type ExtractResult struct {
	Outputs map[string]any `json:"outputs"`
	Errors  []string       `json:"errors,omitempty"`
}

// --- Request types ---

// CreateFailureRequest: регистрация failure.
type CreateFailureRequest struct {
	domain.FailureInput
	WorkflowID  string `json:"workflow_id,omitempty"`
	AutoExecute *bool  `json:"auto_execute,omitempty"`
}

// PreviewRequest: подстановка шаблона на сервере.
type PreviewRequest struct {
	Template string                       `json:"template"`
	Bindings domain.Bindings              `json:"bindings"`
	Input    string                       `json:"input,omitempty"`
	Upstream map[string]domain.NodeOutput `json:"upstream,omitempty"`
}

// ListFailuresOpts: параметры фильтрации failures.
type ListFailuresOpts struct {
	Status string
	Limit  int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client: HTTP-клиент для flowboard API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Flows ---

// ListFlows возвращает все workflows.
func (c *Client) ListFlows() ([]domain.FlowSummary, error) {
	var flows []domain.FlowSummary
	err := c.list("/api/flows", nil, &flows)
	return flows, err
}

// GetFlow возвращает workflow по имени.
func (c *Client) GetFlow(name string) (*domain.Workflow, error) {
	var wf domain.Workflow
	err := c.get("/api/flows/"+url.PathEscape(name), &wf)
	return &wf, err
}

// SaveFlow сохраняет workflow (upsert по имени).
func (c *Client) SaveFlow(wf *domain.Workflow) (*SaveFlowResult, error) {
	var res SaveFlowResult
	err := c.post("/api/flows", wf, &res)
	return &res, err
}

// DeleteFlow удаляет workflow.
func (c *Client) DeleteFlow(name string) error {
	return c.delete("/api/flows/" + url.PathEscape(name))
}

// MoveFlow переносит workflow в папку ("" для корня).
func (c *Client) MoveFlow(name, folder string) error {
	body := map[string]string{"name": name, "folder": folder}
	return c.post("/api/flows/move", body, nil)
}

// ListFlowFolders возвращает папки workflows.
func (c *Client) ListFlowFolders() ([]domain.Folder, error) {
	var folders []domain.Folder
	err := c.list("/api/flows/folders", nil, &folders)
	return folders, err
}

// CreateFlowFolder создаёт папку workflows.
func (c *Client) CreateFlowFolder(name string) error {
	return c.post("/api/flows/folders", map[string]string{"name": name}, nil)
}

// ConvertPlantUML собирает workflow из диаграммы на сервере. Результат не сохраняется.
func (c *Client) ConvertPlantUML(source, name string) (*convert.Result, error) {
	body := map[string]any{"plantuml": source, "auto_layout": true}
	if name != "" {
		body["name"] = name
	}

	var res convert.Result
	if err := c.post("/api/workflows/from-plantuml", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ConvertYAML собирает workflow из YAML описания на сервере.
func (c *Client) ConvertYAML(source, name string) (*convert.Result, error) {
	body := map[string]any{"yaml": source}
	if name != "" {
		body["name"] = name
	}

	var res convert.Result
	if err := c.post("/api/workflows/from-yaml", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// --- Prompts ---

// ListPrompts возвращает все шаблоны.
func (c *Client) ListPrompts() ([]domain.PromptTemplate, error) {
	var prompts []domain.PromptTemplate
	err := c.list("/api/prompts", nil, &prompts)
	return prompts, err
}

// GetPrompt возвращает шаблон по ID.
func (c *Client) GetPrompt(id string) (*domain.PromptTemplate, error) {
	var p domain.PromptTemplate
	err := c.get("/api/prompts/"+url.PathEscape(id), &p)
	return &p, err
}

// ImportPrompt сохраняет markdown шаблон.
func (c *Client) ImportPrompt(content []byte, folder, filename string) (*domain.PromptTemplate, error) {
	params := url.Values{}
	if folder != "" {
		params.Set("folder", folder)
	}
	if filename != "" {
		params.Set("filename", filename)
	}
	path := "/api/prompts/import"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	resp, err := c.doRaw(http.MethodPost, path, "text/markdown", bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var p domain.PromptTemplate
	if err := c.decodeData(resp, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ExportPrompt возвращает шаблон в markdown.
func (c *Client) ExportPrompt(id string) ([]byte, error) {
	resp, err := c.do(http.MethodGet, "/api/prompts/"+url.PathEscape(id)+"/export", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

// DeletePrompt удаляет шаблон.
func (c *Client) DeletePrompt(id string) error {
	return c.delete("/api/prompts/" + url.PathEscape(id))
}

// ListPromptFolders возвращает папки шаблонов.
func (c *Client) ListPromptFolders() ([]domain.Folder, error) {
	var folders []domain.Folder
	err := c.list("/api/prompts/folders", nil, &folders)
	return folders, err
}

// --- Failures ---

// CreateFailure регистрирует упавший тест.
func (c *Client) CreateFailure(req CreateFailureRequest) (*CreateFailureResult, error) {
	var res CreateFailureResult
	err := c.post("/api/failures", req, &res)
	return &res, err
}

// ListFailures возвращает failures с фильтрацией.
func (c *Client) ListFailures(opts ListFailuresOpts) ([]domain.Failure, error) {
	params := url.Values{}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}

	var failures []domain.Failure
	err := c.list("/api/failures", params, &failures)
	return failures, err
}

// FailureStats возвращает агрегаты failures.
func (c *Client) FailureStats() (*domain.FailureStats, error) {
	var stats domain.FailureStats
	err := c.get("/api/failures/stats", &stats)
	return &stats, err
}

// GetFailure возвращает failure по ID.
func (c *Client) GetFailure(id string) (*domain.Failure, error) {
	var f domain.Failure
	err := c.get("/api/failures/"+url.PathEscape(id), &f)
	return &f, err
}

// RetryFailure возвращает failure в очередь. workflowID может быть пустым.
func (c *Client) RetryFailure(id, workflowID string) (*FailureActionResult, error) {
	var body any
	if workflowID != "" {
		body = map[string]string{"workflow_id": workflowID}
	}
	var res FailureActionResult
	err := c.post("/api/failures/"+url.PathEscape(id)+"/retry", body, &res)
	return &res, err
}

// EscalateFailure передаёт failure человеку.
func (c *Client) EscalateFailure(id string) (*FailureActionResult, error) {
	var res FailureActionResult
	err := c.post("/api/failures/"+url.PathEscape(id)+"/escalate", nil, &res)
	return &res, err
}

// SetActiveWorkflow назначает workflow для новых failures.
func (c *Client) SetActiveWorkflow(workflowID string) (*ActiveWorkflowResult, error) {
	var res ActiveWorkflowResult
	err := c.post("/api/failures/workflow", map[string]string{"workflow_id": workflowID}, &res)
	return &res, err
}

// ActiveWorkflow возвращает активный workflow.
func (c *Client) ActiveWorkflow() (*ActiveWorkflowResult, error) {
	var res ActiveWorkflowResult
	err := c.get("/api/failures/workflow/active", &res)
	return &res, err
}

// --- Tools ---

// Preview подставляет привязки в шаблон на сервере.
func (c *Client) Preview(req PreviewRequest) (*PreviewResult, error) {
	var res PreviewResult
	err := c.post("/api/preview", req, &res)
	return &res, err
}

// Extract применяет правила извлечения на сервере.
func (c *Client) Extract(raw string, rules []domain.OutputExtraction) (*ExtractResult, error) {
	body := map[string]any{"raw": raw, "rules": rules}
	var res ExtractResult
	err := c.post("/api/extract", body, &res)
	return &res, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) delete(path string) error {
	resp, err := c.do(http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkError(resp)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return c.decodeData(resp, result)
}

func (c *Client) decodeData(resp *http.Response, result any) error {
	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	if body == nil {
		return c.doRaw(method, path, "", nil)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.doRaw(method, path, "application/json", bytes.NewReader(data))
}

func (c *Client) doRaw(method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Error.Code == "" {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
