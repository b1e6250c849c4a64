package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/soundtrace/backend/internal/modules/pipeline"
	"github.com/soundtrace/backend/internal/modules/projects"
	"github.com/soundtrace/backend/internal/shared/apperr"
	"github.com/soundtrace/backend/internal/shared/storage"
	"go.uber.org/zap"
)

// ProjectHandler handles project endpoints and their pipeline actions
type ProjectHandler struct {
	projects      *projects.Store
	pipeline      *pipeline.Module
	storage       *storage.Service
	maxUploadSize int64
	logger        *zap.Logger
}

// NewProjectHandler creates a new project handler
func NewProjectHandler(store *projects.Store, pl *pipeline.Module, st *storage.Service, maxUploadSize int64, logger *zap.Logger) *ProjectHandler {
	return &ProjectHandler{
		projects:      store,
		pipeline:      pl,
		storage:       st,
		maxUploadSize: maxUploadSize,
		logger:        logger,
	}
}

// Create accepts a multipart video upload and creates a project
func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		respondError(w, apperr.InvalidArgument("invalid multipart form"))
		return
	}

	file, header, err := r.FormFile("video")
	if err != nil {
		respondError(w, apperr.InvalidArgument("missing video file"))
		return
	}
	defer file.Close()

	info, err := h.storage.Store(r.Context(), storage.ZoneUpload, header.Filename, file)
	if err != nil {
		h.logger.Error("Failed to store upload", zap.Error(err))
		respondError(w, err)
		return
	}

	name := r.FormValue("name")
	if name == "" {
		name = header.Filename
	}

	project, err := h.projects.Create(r.Context(), name, info.Path)
	if err != nil {
		h.storage.Delete(r.Context(), info.Path)
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, project)
}

// List returns all projects
func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.projects.List(r.Context())
	if err != nil {
		h.logger.Error("Failed to list projects", zap.Error(err))
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

// Get returns one project
func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	project, err := h.projects.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, project)
}

// Delete removes a project and its segments
func (h *ProjectHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.projects.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSegments returns a project's detected segments
func (h *ProjectHandler) ListSegments(w http.ResponseWriter, r *http.Request) {
	segments, err := h.projects.ListSegments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, segments)
}

// UpdateSegmentStatus flips one segment between detected and removed
func (h *ProjectHandler) UpdateSegmentStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperr.InvalidArgument("invalid request body"))
		return
	}

	if err := h.projects.UpdateSegmentStatus(r.Context(), chi.URLParam(r, "segmentId"), req.Status); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Scan queues a fingerprint scan over the project's audio
func (h *ProjectHandler) Scan(w http.ResponseWriter, r *http.Request) {
	h.startJob(w, r, pipeline.TypeMatchScan)
}

// Separate queues an audio stem separation
func (h *ProjectHandler) Separate(w http.ResponseWriter, r *http.Request) {
	h.startJob(w, r, pipeline.TypeSeparationRun)
}

// Detect queues person detection over the project's video
func (h *ProjectHandler) Detect(w http.ResponseWriter, r *http.Request) {
	h.startJob(w, r, pipeline.TypeDetectionRun)
}

// Preview queues a preview render
func (h *ProjectHandler) Preview(w http.ResponseWriter, r *http.Request) {
	h.startJob(w, r, pipeline.TypePreviewRender)
}

// Export queues the final cut
func (h *ProjectHandler) Export(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")
	if _, err := h.projects.Get(r.Context(), projectID); err != nil {
		respondError(w, err)
		return
	}

	var req struct {
		OutputName  string `json:"outputName"`
		KeepMatched bool   `json:"keepMatched"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	job, err := h.pipeline.CreateExportJob(r.Context(), projectID, req.OutputName, req.KeepMatched)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, job)
}

func (h *ProjectHandler) startJob(w http.ResponseWriter, r *http.Request, taskType string) {
	projectID := chi.URLParam(r, "id")
	if _, err := h.projects.Get(r.Context(), projectID); err != nil {
		respondError(w, err)
		return
	}

	job, err := h.pipeline.CreateJob(r.Context(), taskType, projectID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, job)
}
