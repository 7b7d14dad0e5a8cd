package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		CORS(),
		Tracing(),
		Metrics(h.metrics),
		Logging(h.logger),
	)
	handle := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, chain(fn))
	}

	// Preflight для дашборда
	handle("OPTIONS /api/", func(w http.ResponseWriter, _ *http.Request) {})

	// Flows
	handle("GET /api/flows", h.ListFlows)
	handle("POST /api/flows", h.SaveFlow)
	handle("POST /api/flows/validate", h.ValidateFlow)
	handle("POST /api/flows/move", h.MoveFlow)
	handle("GET /api/flows/folders", h.ListFlowFolders)
	handle("POST /api/flows/folders", h.CreateFlowFolder)
	handle("DELETE /api/flows/folders/{name}", h.DeleteFlowFolder)
	handle("GET /api/flows/{name}", h.GetFlow)
	handle("PUT /api/flows/{name}", h.UpdateFlow)
	handle("DELETE /api/flows/{name}", h.DeleteFlow)

	// Конвертация в workflow
	handle("POST /api/workflows/from-yaml", h.ConvertYAML)
	handle("POST /api/workflows/from-plantuml", h.ConvertPlantUML)

	// Prompts
	handle("GET /api/prompts", h.ListPrompts)
	handle("POST /api/prompts", h.SavePrompt)
	handle("POST /api/prompts/import", h.ImportPrompt)
	handle("POST /api/prompts/move", h.MovePrompt)
	handle("GET /api/prompts/folders", h.ListPromptFolders)
	handle("POST /api/prompts/folders", h.CreatePromptFolder)
	handle("PUT /api/prompts/folders/{name...}", h.RenamePromptFolder)
	handle("DELETE /api/prompts/folders/{name...}", h.DeletePromptFolder)
	handle("GET /api/prompts/{id}", h.GetPrompt)
	handle("DELETE /api/prompts/{id}", h.DeletePrompt)
	handle("GET /api/prompts/{id}/export", h.ExportPrompt)

	// Failures
	handle("POST /api/failures", h.CreateFailure)
	handle("GET /api/failures", h.ListFailures)
	handle("GET /api/failures/stats", h.GetFailureStats)
	handle("POST /api/failures/workflow", h.SetActiveWorkflow)
	handle("GET /api/failures/workflow/active", h.GetActiveWorkflow)
	handle("GET /api/failures/{id}", h.GetFailure)
	handle("GET /api/failures/{id}/pipeline", h.GetFailurePipeline)
	handle("POST /api/failures/{id}/retry", h.RetryFailure)
	handle("POST /api/failures/{id}/escalate", h.EscalateFailure)
	handle("PUT /api/failures/{id}/status", h.UpdateFailureStatus)

	// Инструменты редактора
	handle("GET /api/nodes", h.ListNodeKinds)
	handle("POST /api/preview", h.Preview)
	handle("POST /api/extract", h.Extract)
	handle("POST /api/http/execute", h.ExecuteHTTP)
}
