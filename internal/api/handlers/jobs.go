package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/soundtrace/backend/internal/modules/pipeline"
	"go.uber.org/zap"
)

// JobHandler handles pipeline job endpoints
type JobHandler struct {
	module *pipeline.Module
	logger *zap.Logger
}

// NewJobHandler creates a new job handler
func NewJobHandler(module *pipeline.Module, logger *zap.Logger) *JobHandler {
	return &JobHandler{
		module: module,
		logger: logger,
	}
}

// ListJobs returns recent jobs, optionally filtered by project and status
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("projectId")
	status := r.URL.Query().Get("status")

	jobs, err := h.module.ListJobs(r.Context(), projectID, status)
	if err != nil {
		h.logger.Error("Failed to list jobs", zap.Error(err))
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, jobs)
}

// GetJob returns a specific job
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.module.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// DeleteJob removes a finished job record
func (h *JobHandler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if err := h.module.DeleteJob(r.Context(), jobID); err != nil {
		respondError(w, err)
		return
	}

	h.logger.Info("Job deleted", zap.String("job_id", jobID))
	w.WriteHeader(http.StatusNoContent)
}

// CancelTask requests cancellation of a running task by its task id
func (h *JobHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")
	if err := h.module.CancelTask(r.Context(), taskID); err != nil {
		h.logger.Error("Failed to cancel task", zap.Error(err), zap.String("task_id", taskID))
		respondError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
