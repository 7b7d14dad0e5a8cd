package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shaiso/flowboard/internal/domain"
	"github.com/shaiso/flowboard/internal/engine"
	"github.com/shaiso/flowboard/internal/mq"
	"github.com/shaiso/flowboard/internal/repo"
	"github.com/shaiso/flowboard/internal/telemetry"
)

// maxFailureLimit: верхняя граница ?limit для списка failures.
const maxFailureLimit = 500

// now: текущее время, подменяется в тестах.
var now = func() time.Time { return time.Now().UTC() }

// CreateFailure регистрирует упавший тест.
//
// Без auto_execute=false failure сразу назначается workflow из запроса
// или активному workflow и уходит внешнему исполнителю событием failure.created.
// POST /api/failures
func (h *Handler) CreateFailure(w http.ResponseWriter, r *http.Request) {
	var req CreateFailureRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.TestFile) == "" {
		BadRequest(w, "test_file is required")
		return
	}
	if strings.TrimSpace(req.ErrorMessage) == "" {
		BadRequest(w, "error_message is required")
		return
	}

	autoExecute := req.AutoExecute == nil || *req.AutoExecute
	if !h.checkWorkflow(w, r, req.WorkflowID) {
		return
	}

	workflowID := ""
	if autoExecute {
		var err error
		workflowID, err = h.resolveWorkflow(r.Context(), req.WorkflowID)
		if err != nil {
			InternalError(w, h.logger, err)
			return
		}
	}

	f := domain.NewFailure(repo.NewFailureID(), req.FailureInput, now())
	f.WorkflowID = workflowID

	if err := h.failureRepo.Create(r.Context(), f); err != nil {
		HandleRepoError(w, h.logger, err, "")
		return
	}

	telemetry.WithFailureID(telemetry.FromContext(r.Context()), f.ID).Info("failure created",
		"test_file", f.TestFile,
		"workflow_id", workflowID,
	)
	h.publish(r.Context(), mq.RoutingKeyFailureCreated, mq.NewFailurePayload(f))

	resp := CreateFailureResponse{FailureID: f.ID, Status: "created"}
	switch {
	case workflowID != "":
		resp.Status = "queued"
		resp.WorkflowID = workflowID
	case autoExecute:
		resp.Message = "No active workflow set. Use POST /api/failures/workflow to set one."
	}

	Created(w, resp)
}

// ListFailures возвращает failures, новые первыми.
// GET /api/failures?status=&limit=
func (h *Handler) ListFailures(w http.ResponseWriter, r *http.Request) {
	var filter repo.FailureFilter

	if s := r.URL.Query().Get("status"); s != "" {
		status := domain.FailureStatus(s)
		if !status.IsValid() {
			BadRequest(w, fmt.Sprintf("unknown status %q", s))
			return
		}
		filter.Status = status
	}

	if s := r.URL.Query().Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit <= 0 {
			BadRequest(w, "limit must be a positive integer")
			return
		}
		filter.Limit = min(limit, maxFailureLimit)
	}

	failures, err := h.failureRepo.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	List(w, failures, len(failures))
}

// GetFailureStats возвращает агрегаты по статусам.
// GET /api/failures/stats
func (h *Handler) GetFailureStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.failureRepo.Stats(r.Context())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	Success(w, stats)
}

// GetFailure возвращает failure по ID.
// GET /api/failures/{id}
func (h *Handler) GetFailure(w http.ResponseWriter, r *http.Request) {
	f, err := h.failureRepo.GetByID(r.Context(), r.PathValue("id"))
	if HandleRepoError(w, h.logger, err, "failure not found") {
		return
	}

	Success(w, f)
}

// GetFailurePipeline возвращает узлы workflow failure в порядке выполнения
// со статусами: узел с результатом выполнен, текущий узел выполняется
// (или упал, если failure failed/escalated), остальные ждут.
// GET /api/failures/{id}/pipeline
func (h *Handler) GetFailurePipeline(w http.ResponseWriter, r *http.Request) {
	f, err := h.failureRepo.GetByID(r.Context(), r.PathValue("id"))
	if HandleRepoError(w, h.logger, err, "failure not found") {
		return
	}

	workflowID, err := h.resolveWorkflow(r.Context(), f.WorkflowID)
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}
	if workflowID == "" {
		NotFound(w, "no pipeline state found for this failure")
		return
	}

	wf, err := h.flowRepo.Get(r.Context(), workflowID)
	if HandleRepoError(w, h.logger, err, fmt.Sprintf("workflow '%s' not found", workflowID)) {
		return
	}

	order, err := engine.ExecutionOrder(wf)
	if errors.Is(err, engine.ErrCyclicGraph) {
		// Узлы на цикле доработки идут после ацикличной части
		seen := make(map[string]bool, len(order))
		for _, id := range order {
			seen[id] = true
		}
		for _, n := range wf.Nodes {
			if !seen[n.ID] {
				order = append(order, n.ID)
			}
		}
	}

	Success(w, pipelineState(f, wf, order))
}

func pipelineState(f *domain.Failure, wf *domain.Workflow, order []string) PipelineState {
	state := PipelineState{
		FailureID:      f.ID,
		WorkflowID:     wf.Name,
		Status:         f.Status,
		ExecutionOrder: order,
		CurrentIndex:   -1,
		Tasks:          make([]PipelineTask, 0, len(order)),
	}

	done := 0
	for i, id := range order {
		task := PipelineTask{NodeID: id, Status: domain.StatusWaiting}
		if n, ok := wf.FindNode(id); ok {
			task.Type = n.Type
			task.Label = n.Label()
		}

		output, hasResult := f.NodeResults[id]
		switch {
		case id == f.CurrentNodeID && f.CurrentNodeID != "":
			state.CurrentIndex = i
			task.Status = domain.StatusRunning
			if f.Status == domain.FailureFailed || f.Status == domain.FailureEscalated {
				task.Status = domain.StatusError
			}
			task.Output = output
		case hasResult:
			task.Status = domain.StatusSuccess
			task.Output = output
			done++
		}
		state.Tasks = append(state.Tasks, task)
	}

	if state.CurrentIndex < 0 {
		state.CurrentIndex = done
	}
	return state
}

// RetryFailure возвращает failed/escalated failure в очередь.
// Workflow берётся из запроса, затем из failure, затем активный.
// POST /api/failures/{id}/retry
func (h *Handler) RetryFailure(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req RetryFailureRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	current, err := h.failureRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "failure not found") {
		return
	}
	if !current.Status.CanRetry() {
		InvalidState(w, fmt.Sprintf("cannot retry failure with status '%s'", current.Status))
		return
	}

	if !h.checkWorkflow(w, r, req.WorkflowID) {
		return
	}
	workflowID := req.WorkflowID
	if workflowID == "" {
		workflowID = current.WorkflowID
	}
	workflowID, err = h.resolveWorkflow(r.Context(), workflowID)
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}
	if workflowID == "" {
		InvalidState(w, "no workflow set for failure")
		return
	}

	f, err := h.failureRepo.Retry(r.Context(), id, workflowID)
	if HandleRepoError(w, h.logger, err, "failure not found") {
		return
	}

	h.publish(r.Context(), mq.RoutingKeyFailureUpdated, mq.NewFailurePayload(f))
	Success(w, FailureActionResponse{Status: "requeued", FailureID: id, Failure: f})
}

// EscalateFailure передаёт failure на ручной разбор.
// POST /api/failures/{id}/escalate
func (h *Handler) EscalateFailure(w http.ResponseWriter, r *http.Request) {
	h.setFailureStatus(w, r, domain.FailureEscalated)
}

// UpdateFailureStatus сохраняет статус, присланный внешним исполнителем.
// PUT /api/failures/{id}/status
func (h *Handler) UpdateFailureStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status domain.FailureStatus `json:"status"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if !req.Status.IsValid() {
		BadRequest(w, fmt.Sprintf("unknown status %q", req.Status))
		return
	}
	h.setFailureStatus(w, r, req.Status)
}

func (h *Handler) setFailureStatus(w http.ResponseWriter, r *http.Request, status domain.FailureStatus) {
	id := r.PathValue("id")

	f, err := h.failureRepo.UpdateStatus(r.Context(), id, status)
	if HandleRepoError(w, h.logger, err, "failure not found") {
		return
	}

	telemetry.WithFailureID(telemetry.FromContext(r.Context()), id).Info("failure status changed",
		"status", status,
	)
	h.publish(r.Context(), mq.RoutingKeyFailureUpdated, mq.NewFailurePayload(f))
	Success(w, FailureActionResponse{Status: string(status), FailureID: id, Failure: f})
}

// SetActiveWorkflow назначает workflow для новых failures.
// POST /api/failures/workflow
func (h *Handler) SetActiveWorkflow(w http.ResponseWriter, r *http.Request) {
	var req SetWorkflowRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.WorkflowID == "" {
		BadRequest(w, "workflow_id is required")
		return
	}

	wf, err := h.flowRepo.Get(r.Context(), req.WorkflowID)
	if errors.Is(err, repo.ErrNotFound) {
		NotFound(w, fmt.Sprintf("workflow '%s' not found", req.WorkflowID))
		return
	}
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	if err := h.settingsRepo.Set(r.Context(), repo.KeyActiveWorkflow, wf.Name); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	h.publish(r.Context(), mq.RoutingKeyWorkflowActivated, mq.FlowPayload{Name: wf.Name, Folder: wf.Folder})
	Success(w, ActiveWorkflowResponse{
		Status:       "activated",
		Active:       true,
		WorkflowID:   wf.Name,
		WorkflowName: wf.Name,
	})
}

// GetActiveWorkflow возвращает активный workflow.
// GET /api/failures/workflow/active
func (h *Handler) GetActiveWorkflow(w http.ResponseWriter, r *http.Request) {
	id, err := h.activeWorkflow(r.Context())
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}
	if id == "" {
		Success(w, ActiveWorkflowResponse{Active: false})
		return
	}

	resp := ActiveWorkflowResponse{Active: true, WorkflowID: id}
	// Активный workflow мог быть удалён после назначения
	if wf, err := h.flowRepo.Get(r.Context(), id); err == nil {
		resp.WorkflowName = wf.Name
	}

	Success(w, resp)
}

// checkWorkflow отвечает 404, если явно указанный workflow не сохранён.
func (h *Handler) checkWorkflow(w http.ResponseWriter, r *http.Request, name string) bool {
	if name == "" {
		return true
	}
	ok, err := h.flowRepo.Exists(r.Context(), name)
	if err != nil {
		InternalError(w, h.logger, err)
		return false
	}
	if !ok {
		NotFound(w, fmt.Sprintf("workflow '%s' not found", name))
		return false
	}
	return true
}

// resolveWorkflow возвращает explicit или активный workflow ("" если нет ни того, ни другого).
func (h *Handler) resolveWorkflow(ctx context.Context, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	return h.activeWorkflow(ctx)
}

func (h *Handler) activeWorkflow(ctx context.Context) (string, error) {
	id, err := h.settingsRepo.Get(ctx, repo.KeyActiveWorkflow)
	if errors.Is(err, repo.ErrNotFound) {
		return "", nil
	}
	return id, err
}
