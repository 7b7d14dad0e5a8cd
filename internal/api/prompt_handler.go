package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/shaiso/flowboard/internal/domain"
	"github.com/shaiso/flowboard/internal/mq"
	"github.com/shaiso/flowboard/internal/promptfile"
	"github.com/shaiso/flowboard/internal/repo"
	"github.com/shaiso/flowboard/internal/telemetry"
)

// ListPrompts возвращает все шаблоны.
// GET /api/prompts
func (h *Handler) ListPrompts(w http.ResponseWriter, r *http.Request) {
	prompts, err := h.promptRepo.List(r.Context())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	List(w, prompts, len(prompts))
}

// SavePrompt создаёт или перезаписывает шаблон.
// POST /api/prompts
func (h *Handler) SavePrompt(w http.ResponseWriter, r *http.Request) {
	var p domain.PromptTemplate
	if !decodeJSON(w, r, &p) {
		return
	}
	h.savePrompt(w, r, &p)
}

// ImportPrompt сохраняет шаблон из markdown с YAML front matter.
// POST /api/prompts/import?folder=
func (h *Handler) ImportPrompt(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		BadRequest(w, "cannot read request body")
		return
	}

	p, err := promptfile.Parse(body)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	if folder := r.URL.Query().Get("folder"); folder != "" && folder != repo.RootFolder {
		p.Folder = folder
	}
	if name := r.URL.Query().Get("filename"); name != "" {
		p.SourceFilename = name
	}

	h.savePrompt(w, r, p)
}

func (h *Handler) savePrompt(w http.ResponseWriter, r *http.Request, p *domain.PromptTemplate) {
	if err := h.promptRepo.Save(r.Context(), p); err != nil {
		HandleRepoError(w, h.logger, err, "")
		return
	}

	telemetry.FromContext(r.Context()).Info("prompt saved",
		"prompt_id", p.ID,
		"folder", p.Folder,
	)
	h.publish(r.Context(), mq.RoutingKeyPromptSaved, mq.PromptPayload{
		ID:     p.ID,
		Name:   p.Name,
		Folder: p.Folder,
	})

	Success(w, p)
}

// GetPrompt возвращает шаблон по ID или имени файла.
// GET /api/prompts/{id}
func (h *Handler) GetPrompt(w http.ResponseWriter, r *http.Request) {
	p, err := h.promptRepo.Get(r.Context(), r.PathValue("id"))
	if HandleRepoError(w, h.logger, err, "prompt not found") {
		return
	}

	Success(w, p)
}

// ExportPrompt отдаёт шаблон как markdown файл.
// GET /api/prompts/{id}/export
func (h *Handler) ExportPrompt(w http.ResponseWriter, r *http.Request) {
	p, err := h.promptRepo.Get(r.Context(), r.PathValue("id"))
	if HandleRepoError(w, h.logger, err, "prompt not found") {
		return
	}

	content, err := promptfile.Format(p)
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}

	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": promptfile.Filename(p),
	}))
	Text(w, "text/markdown; charset=utf-8", content)
}

// DeletePrompt удаляет шаблон. ?folder= ограничивает удаление папкой.
// DELETE /api/prompts/{id}
func (h *Handler) DeletePrompt(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var folder *string
	if q := r.URL.Query(); q.Has("folder") {
		f := q.Get("folder")
		if f == repo.RootFolder {
			f = ""
		}
		folder = &f
	}

	if err := h.promptRepo.Delete(r.Context(), id, folder); err != nil {
		HandleRepoError(w, h.logger, err, "prompt not found")
		return
	}

	h.publish(r.Context(), mq.RoutingKeyPromptDeleted, mq.PromptPayload{ID: id})
	Success(w, StatusResponse{Status: "deleted", ID: id})
}

// MovePrompt переносит шаблон между папками.
// POST /api/prompts/move
func (h *Handler) MovePrompt(w http.ResponseWriter, r *http.Request) {
	var req MovePromptRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ID == "" {
		BadRequest(w, "id is required")
		return
	}

	if err := h.promptRepo.Move(r.Context(), req.ID, rootless(req.SourceFolder), rootless(req.TargetFolder)); err != nil {
		HandleRepoError(w, h.logger, err, "prompt not found in source folder")
		return
	}

	Success(w, StatusResponse{Status: "moved", ID: req.ID})
}

// ListPromptFolders возвращает папки шаблонов.
// GET /api/prompts/folders
func (h *Handler) ListPromptFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := h.promptRepo.ListFolders(r.Context())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	List(w, folders, len(folders))
}

// CreatePromptFolder создаёт папку внутри parent.
// POST /api/prompts/folders
func (h *Handler) CreatePromptFolder(w http.ResponseWriter, r *http.Request) {
	var req CreateFolderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	name, err := h.promptRepo.CreateFolder(r.Context(), req.Name, req.Parent)
	if HandleRepoError(w, h.logger, err, "parent folder not found") {
		return
	}

	Created(w, FolderResponse{Status: "created", Name: name})
}

// RenamePromptFolder переименовывает папку вместе с содержимым.
// PUT /api/prompts/folders/{name...}
func (h *Handler) RenamePromptFolder(w http.ResponseWriter, r *http.Request) {
	var req RenameFolderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	name, err := h.promptRepo.RenameFolder(r.Context(), r.PathValue("name"), req.NewName)
	if HandleRepoError(w, h.logger, err, "folder not found") {
		return
	}

	Success(w, FolderResponse{Status: "renamed", Name: name})
}

// DeletePromptFolder удаляет папку. Непустая удаляется только с ?force=true.
// DELETE /api/prompts/folders/{name...}
func (h *Handler) DeletePromptFolder(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	force := false
	if v := r.URL.Query().Get("force"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			BadRequest(w, "invalid force value")
			return
		}
		force = parsed
	}

	deleted, err := h.promptRepo.DeleteFolder(r.Context(), name, force)
	if err != nil {
		if errors.Is(err, repo.ErrInvalidState) {
			Conflict(w, err.Error())
			return
		}
		HandleRepoError(w, h.logger, err, "folder not found")
		return
	}

	Success(w, FolderResponse{Status: "deleted", Name: name, Deleted: deleted})
}

// rootless переводит RootFolder в пустое имя корня.
func rootless(folder string) string {
	if folder == repo.RootFolder {
		return ""
	}
	return folder
}
