package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/shaiso/flowboard/internal/convert"
)

// ConvertYAML собирает workflow из YAML описания. Результат не сохраняется.
// POST /api/workflows/from-yaml
func (h *Handler) ConvertYAML(w http.ResponseWriter, r *http.Request) {
	var req ConvertYAMLRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.YAML) == "" {
		BadRequest(w, "yaml is required")
		return
	}

	res, err := convert.FromYAML([]byte(req.YAML), convert.Options{
		Name:        req.Name,
		Description: req.Description,
	})
	h.writeConverted(w, res, err)
}

// ConvertPlantUML собирает workflow из диаграммы активностей.
// POST /api/workflows/from-plantuml
func (h *Handler) ConvertPlantUML(w http.ResponseWriter, r *http.Request) {
	var req ConvertPlantUMLRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.PlantUML) == "" {
		BadRequest(w, "plantuml is required")
		return
	}

	res, err := convert.FromPlantUML(req.PlantUML, convert.Options{
		Name:        req.Name,
		Description: req.Description,
		SkipLayout:  req.AutoLayout != nil && !*req.AutoLayout,
	})
	h.writeConverted(w, res, err)
}

func (h *Handler) writeConverted(w http.ResponseWriter, res *convert.Result, err error) {
	var cErr *convert.Error
	switch {
	case errors.As(err, &cErr):
		BadRequest(w, cErr.Error())
	case err != nil:
		InternalError(w, h.logger, err)
	default:
		Success(w, res)
	}
}
