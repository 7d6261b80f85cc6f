// Package api serves the operator operations of the projects package as JSON
// over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"script-studio/artifacts"
	"script-studio/blob"
	"script-studio/pipeline"
	"script-studio/projects"
	"script-studio/queue"
	"script-studio/series"
	"script-studio/types"
	"script-studio/validate"
	"script-studio/worker"
)

const maxBodyBytes = 8 << 20

// Service is the set of operations the handler exposes
type Service interface {
	Create(ctx context.Context, in projects.CreateInput) (*types.Project, error)
	List(ctx context.Context) ([]*types.Project, error)
	Get(ctx context.Context, id string) (*types.Project, error)
	UpdateStatus(ctx context.Context, id string, status types.ProjectStatus) (*types.Project, error)
	Run(ctx context.Context, id string) (*pipeline.RunResult, error)
	Refine(ctx context.Context, id string) (*pipeline.RunResult, error)
	Artifacts(ctx context.Context, projectID string) ([]*types.Artifact, error)
	ArtifactContent(ctx context.Context, artifactID string) (*artifacts.Content, error)
	ImportScriptPack(ctx context.Context, projectID string, data []byte) (*projects.ImportResult, error)
	PromptStatus(ctx context.Context, projectID string) ([]projects.PromptStatus, error)
	PromptContent(ctx context.Context, projectID, step string) (*projects.PromptText, error)
	EnsurePrompt(ctx context.Context, projectID, step string) (*projects.EnsureResult, error)
	PreviewPrompt(ctx context.Context, projectID, step string) (*projects.Preview, error)
	ListSeries(ctx context.Context) ([]*types.Series, error)
	GetSeries(ctx context.Context, id string) (*series.Detail, error)
	CreateSeries(ctx context.Context, name string, bible map[string]any) (*types.Series, error)
	UpdateSeries(ctx context.Context, id string, upd types.SeriesUpdate) (*types.Series, error)
	JobStatus(ctx context.Context, id string) (*queue.Job, error)
}

type HandlerConfig struct {
	Logger *log.Logger
}

type handler struct {
	svc    Service
	logger *log.Logger
}

func NewHandler(svc Service, cfg HandlerConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	h := &handler{svc: svc, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("POST /projects", h.createProject)
	mux.HandleFunc("GET /projects", h.listProjects)
	mux.HandleFunc("GET /projects/{id}", h.getProject)
	mux.HandleFunc("PATCH /projects/{id}/status", h.updateStatus)
	mux.HandleFunc("POST /projects/{id}/run", h.run)
	mux.HandleFunc("POST /projects/{id}/refine", h.refine)
	mux.HandleFunc("GET /projects/{id}/artifacts", h.listArtifacts)
	mux.HandleFunc("POST /projects/{id}/script-pack", h.importScriptPack)

	mux.HandleFunc("GET /projects/{id}/prompts/status", h.promptStatus)
	mux.HandleFunc("GET /projects/{id}/prompts/content", h.promptContent)
	mux.HandleFunc("POST /projects/{id}/prompts/ensure", h.ensurePrompt)
	mux.HandleFunc("GET /projects/{id}/prompts/preview", h.previewPrompt)

	mux.HandleFunc("GET /artifacts/{id}/content", h.artifactContent)

	mux.HandleFunc("GET /series", h.listSeries)
	mux.HandleFunc("POST /series", h.createSeries)
	mux.HandleFunc("GET /series/{id}", h.getSeries)
	mux.HandleFunc("PATCH /series/{id}", h.updateSeries)

	mux.HandleFunc("GET /jobs/{id}", h.jobStatus)
	return mux
}

// ─────────────────────────────────────────────
// Projects
// ─────────────────────────────────────────────

func (h *handler) createProject(w http.ResponseWriter, r *http.Request) {
	var in projects.CreateInput
	if !h.decode(w, r, &in) {
		return
	}
	p, err := h.svc.Create(r.Context(), in)
	h.respond(w, http.StatusCreated, p, err)
}

func (h *handler) listProjects(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.List(r.Context())
	h.respond(w, http.StatusOK, list, err)
}

func (h *handler) getProject(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Get(r.Context(), r.PathValue("id"))
	h.respond(w, http.StatusOK, p, err)
}

func (h *handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status types.ProjectStatus `json:"status"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.svc.UpdateStatus(r.Context(), r.PathValue("id"), req.Status)
	h.respond(w, http.StatusOK, p, err)
}

func (h *handler) run(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Run(r.Context(), r.PathValue("id"))
	h.respond(w, http.StatusAccepted, res, err)
}

func (h *handler) refine(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Refine(r.Context(), r.PathValue("id"))
	h.respond(w, http.StatusAccepted, res, err)
}

func (h *handler) listArtifacts(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Artifacts(r.Context(), r.PathValue("id"))
	h.respond(w, http.StatusOK, list, err)
}

func (h *handler) artifactContent(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.ArtifactContent(r.Context(), r.PathValue("id"))
	h.respond(w, http.StatusOK, c, err)
}

// importScriptPack takes the pack as the raw request body.
func (h *handler) importScriptPack(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		httpError(w, "failed to read body", http.StatusBadRequest)
		return
	}
	res, err := h.svc.ImportScriptPack(r.Context(), r.PathValue("id"), data)
	h.respond(w, http.StatusOK, res, err)
}

// ─────────────────────────────────────────────
// Prompts
// ─────────────────────────────────────────────

func (h *handler) promptStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.PromptStatus(r.Context(), r.PathValue("id"))
	h.respond(w, http.StatusOK, map[string]any{"status": st}, err)
}

func (h *handler) promptContent(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.PromptContent(r.Context(), r.PathValue("id"), r.URL.Query().Get("step"))
	h.respond(w, http.StatusOK, res, err)
}

func (h *handler) ensurePrompt(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.EnsurePrompt(r.Context(), r.PathValue("id"), r.URL.Query().Get("step"))
	h.respond(w, http.StatusOK, res, err)
}

func (h *handler) previewPrompt(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.PreviewPrompt(r.Context(), r.PathValue("id"), r.URL.Query().Get("step"))
	h.respond(w, http.StatusOK, res, err)
}

// ─────────────────────────────────────────────
// Series and jobs
// ─────────────────────────────────────────────

func (h *handler) listSeries(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListSeries(r.Context())
	h.respond(w, http.StatusOK, list, err)
}

func (h *handler) createSeries(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string         `json:"name"`
		Bible map[string]any `json:"bible"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	s, err := h.svc.CreateSeries(r.Context(), req.Name, req.Bible)
	h.respond(w, http.StatusCreated, s, err)
}

func (h *handler) getSeries(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.GetSeries(r.Context(), r.PathValue("id"))
	h.respond(w, http.StatusOK, s, err)
}

func (h *handler) updateSeries(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     *string        `json:"name"`
		Bible    map[string]any `json:"bible"`
		Disabled *bool          `json:"disabled"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	s, err := h.svc.UpdateSeries(r.Context(), r.PathValue("id"), types.SeriesUpdate{
		Name:     req.Name,
		Bible:    req.Bible,
		Disabled: req.Disabled,
	})
	h.respond(w, http.StatusOK, s, err)
}

func (h *handler) jobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.JobStatus(r.Context(), r.PathValue("id"))
	h.respond(w, http.StatusOK, job, err)
}

// ─────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────

func (h *handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		httpError(w, "invalid payload", http.StatusBadRequest)
		return false
	}
	return true
}

func (h *handler) respond(w http.ResponseWriter, code int, v any, err error) {
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Printf("[api] ❌ %v", err)
		}
		httpError(w, err.Error(), status)
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		httpError(w, "failed to encode", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}

func statusFor(err error) int {
	var verr *validate.Error
	var missing *worker.MissingArtifactError
	switch {
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, projects.ErrInvalid), errors.Is(err, series.ErrInvalid),
		errors.Is(err, blob.ErrInvalidPath), errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, series.ErrDisabled), errors.As(err, &missing):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func httpError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
