package api

import (
	"net/http"
	"strings"

	"github.com/shaiso/flowboard/internal/engine"
	"github.com/shaiso/flowboard/internal/mq"
	"github.com/shaiso/flowboard/internal/telemetry"
)

// ListFlows возвращает список сохранённых workflows.
// GET /api/flows
func (h *Handler) ListFlows(w http.ResponseWriter, r *http.Request) {
	flows, err := h.flowRepo.List(r.Context())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	List(w, flows, len(flows))
}

// SaveFlow создаёт или перезаписывает workflow.
// POST /api/flows
func (h *Handler) SaveFlow(w http.ResponseWriter, r *http.Request) {
	var req SaveFlowRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.saveFlow(w, r, req)
}

// UpdateFlow перезаписывает workflow по имени из пути.
// PUT /api/flows/{name}
func (h *Handler) UpdateFlow(w http.ResponseWriter, r *http.Request) {
	var req SaveFlowRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Name = r.PathValue("name")
	h.saveFlow(w, r, req)
}

func (h *Handler) saveFlow(w http.ResponseWriter, r *http.Request, req SaveFlowRequest) {
	if strings.TrimSpace(req.Name) == "" {
		BadRequest(w, "name is required")
		return
	}

	wf := req.ToDomain()
	if err := engine.Validate(wf); err != nil {
		BadRequest(w, err.Error())
		return
	}
	warnings := errorStrings(engine.Lint(wf))

	if err := h.flowRepo.Save(r.Context(), wf); err != nil {
		HandleRepoError(w, h.logger, err, "")
		return
	}

	telemetry.WithFlow(telemetry.FromContext(r.Context()), wf.Name).Info("flow saved",
		"nodes", len(wf.Nodes),
		"edges", len(wf.Edges),
		"warnings", len(warnings),
	)
	h.publish(r.Context(), mq.RoutingKeyFlowSaved, mq.FlowPayload{
		Name:      wf.Name,
		Folder:    wf.Folder,
		NodeCount: len(wf.Nodes),
		EdgeCount: len(wf.Edges),
	})

	Success(w, SaveFlowResponse{
		Status:    "saved",
		Name:      wf.Name,
		Folder:    wf.Folder,
		CreatedAt: wf.CreatedAt,
		UpdatedAt: wf.UpdatedAt,
		Warnings:  warnings,
	})
}

// GetFlow возвращает workflow целиком.
// GET /api/flows/{name}
func (h *Handler) GetFlow(w http.ResponseWriter, r *http.Request) {
	wf, err := h.flowRepo.Get(r.Context(), r.PathValue("name"))
	if HandleRepoError(w, h.logger, err, "flow not found") {
		return
	}

	Success(w, wf)
}

// DeleteFlow удаляет workflow.
// DELETE /api/flows/{name}
func (h *Handler) DeleteFlow(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.flowRepo.Delete(r.Context(), name); err != nil {
		HandleRepoError(w, h.logger, err, "flow not found")
		return
	}

	h.publish(r.Context(), mq.RoutingKeyFlowDeleted, mq.FlowPayload{Name: name})
	NoContent(w)
}

// ValidateFlow проверяет workflow без сохранения.
// POST /api/flows/validate
func (h *Handler) ValidateFlow(w http.ResponseWriter, r *http.Request) {
	var req SaveFlowRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	wf := req.ToDomain()

	resp := ValidateFlowResponse{Valid: true, Warnings: []string{}}
	if err := engine.Validate(wf); err != nil {
		resp.Valid = false
		resp.Error = err.Error()
		Success(w, resp)
		return
	}

	if lint := errorStrings(engine.Lint(wf)); lint != nil {
		resp.Warnings = lint
	}
	if order, err := engine.ExecutionOrder(wf); err == nil {
		resp.Order = order
	}

	Success(w, resp)
}

// MoveFlow переносит workflow в папку ("" для корня).
// POST /api/flows/move
func (h *Handler) MoveFlow(w http.ResponseWriter, r *http.Request) {
	var req MoveFlowRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		BadRequest(w, "name is required")
		return
	}

	if err := h.flowRepo.Move(r.Context(), req.Name, req.Folder); err != nil {
		HandleRepoError(w, h.logger, err, "flow or folder not found")
		return
	}

	Success(w, StatusResponse{Status: "moved", ID: req.Name})
}

// ListFlowFolders возвращает папки workflows с количеством элементов.
// GET /api/flows/folders
func (h *Handler) ListFlowFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := h.flowRepo.ListFolders(r.Context())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	List(w, folders, len(folders))
}

// CreateFlowFolder создаёт папку workflows.
// POST /api/flows/folders
func (h *Handler) CreateFlowFolder(w http.ResponseWriter, r *http.Request) {
	var req CreateFolderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	name, err := h.flowRepo.CreateFolder(r.Context(), req.Name)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	Created(w, FolderResponse{Status: "created", Name: name})
}

// DeleteFlowFolder удаляет папку, workflows из неё переходят в корень.
// DELETE /api/flows/folders/{name}
func (h *Handler) DeleteFlowFolder(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.flowRepo.DeleteFolder(r.Context(), name); err != nil {
		HandleRepoError(w, h.logger, err, "folder not found")
		return
	}

	Success(w, FolderResponse{Status: "deleted", Name: name})
}
