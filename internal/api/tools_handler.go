package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/shaiso/flowboard/internal/editor"
	"github.com/shaiso/flowboard/internal/engine"
	"github.com/shaiso/flowboard/internal/nodes"
	"github.com/shaiso/flowboard/internal/telemetry"
)

// Preview подставляет привязки в шаблон.
//
// Ошибки привязок не мешают подстановке: некорректная привязка даёт "",
// а описание ошибки уходит в warnings.
// POST /api/preview
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	upstream := engine.UpstreamMap(req.Upstream)

	var resp PreviewResponse
	if req.Workflow != nil {
		if req.NodeID == "" {
			BadRequest(w, "nodeId is required with workflow")
			return
		}

		store := editor.NewStore(req.Workflow, editor.WithRegistry(h.registry))
		resolved, err := store.Preview(req.NodeID, req.Input, upstream)
		switch {
		case errors.Is(err, editor.ErrNodeNotFound):
			NotFound(w, err.Error())
			return
		case err != nil:
			BadRequest(w, err.Error())
			return
		}
		report, _ := store.Analyze(req.NodeID)

		resp.Resolved = resolved
		resp.Report = report
		if node, ok := store.Snapshot().FindNode(req.NodeID); ok {
			resp.Warnings = errorStrings(engine.ValidateBindings(node.ID, node.Bindings()))
		}
	} else {
		resp.Resolved = engine.Resolve(req.Template, req.Bindings, req.Input, upstream)
		resp.Report = engine.Analyze(req.Template, req.Bindings)
		resp.Warnings = errorStrings(engine.ValidateBindings("", req.Bindings))
	}

	if h.metrics != nil {
		hasWarnings := resp.Report.HasWarnings() || len(resp.Warnings) > 0
		h.metrics.Previews.WithLabelValues(strconv.FormatBool(hasWarnings)).Inc()
	}

	Success(w, resp)
}

// Extract применяет правила извлечения к сырому ответу.
// POST /api/extract
func (h *Handler) Extract(w http.ResponseWriter, r *http.Request) {
	var req ExtractRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	Success(w, ExtractResponse{
		Outputs: engine.Extract(req.Raw, req.Rules),
		Errors:  errorStrings(engine.ValidateExtractions("", req.Rules)),
	})
}

// ExecuteHTTP выполняет запрос HTTP узла от имени редактора.
//
// Ошибка внешнего сервиса не является ошибкой API: ответ 200 содержит
// status 408/503/400/500 и текст ошибки, как их показывает редактор.
// POST /api/http/execute
func (h *Handler) ExecuteHTTP(w http.ResponseWriter, r *http.Request) {
	var req ExecuteHTTPRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var (
		httpReq *nodes.HTTPRequest
		resp    ExecuteHTTPResponse
	)
	switch {
	case req.Node != nil:
		built, warning := nodes.BuildHTTPRequest(req.Node, req.Input, engine.UpstreamMap(req.Upstream))
		if warning != nil {
			resp.Warning = warning.Error()
		}
		httpReq = built
	case req.Request != nil:
		httpReq = req.Request
	default:
		BadRequest(w, "request or node is required")
		return
	}

	if strings.TrimSpace(httpReq.URL) == "" {
		BadRequest(w, "url is required")
		return
	}

	result, err := h.httpExecutor.Execute(r.Context(), httpReq)
	if err != nil {
		telemetry.FromContext(r.Context()).Warn("proxied request failed",
			"method", httpReq.Method,
			"url", httpReq.URL,
			"error", err,
		)
		result = nodes.ErrorResult(err)
	} else if req.Node != nil {
		out := result.NodeOutput(req.Node.OutputExtractions)
		resp.Output = &out
	}
	resp.HTTPResult = result

	if h.metrics != nil {
		h.metrics.ProxyRequests.WithLabelValues(strconv.Itoa(result.Status)).Inc()
	}

	Success(w, resp)
}

// ListNodeKinds возвращает палитру типов узлов.
// GET /api/nodes
func (h *Handler) ListNodeKinds(w http.ResponseWriter, r *http.Request) {
	kinds := h.registry.Kinds()
	List(w, kinds, len(kinds))
}
