package handlers

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/soundtrace/backend/internal/modules/fingerprint"
	"github.com/soundtrace/backend/internal/modules/library"
	"github.com/soundtrace/backend/internal/shared/apperr"
	"github.com/soundtrace/backend/internal/shared/storage"
	"go.uber.org/zap"
)

// LibraryHandler handles the reference track library
type LibraryHandler struct {
	library   *library.Store
	extractor *fingerprint.Extractor
	storage   *storage.Service
	logger    *zap.Logger
}

// NewLibraryHandler creates a new library handler
func NewLibraryHandler(store *library.Store, extractor *fingerprint.Extractor, st *storage.Service, logger *zap.Logger) *LibraryHandler {
	return &LibraryHandler{
		library:   store,
		extractor: extractor,
		storage:   st,
		logger:    logger,
	}
}

// AddTrack accepts an audio upload, fingerprints it and stores the
// track. The uploaded file is only needed for fingerprinting and is
// removed afterwards.
func (h *LibraryHandler) AddTrack(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		respondError(w, apperr.InvalidArgument("invalid multipart form"))
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		respondError(w, apperr.InvalidArgument("missing audio file"))
		return
	}
	defer file.Close()

	info, err := h.storage.Store(r.Context(), storage.ZoneWorking, header.Filename, file)
	if err != nil {
		h.logger.Error("Failed to store upload", zap.Error(err))
		respondError(w, err)
		return
	}
	defer h.storage.Delete(r.Context(), info.Path)

	fp, duration, err := h.extractor.Extract(r.Context(), info.Path)
	if err != nil {
		h.logger.Error("Fingerprint extraction failed",
			zap.String("file", header.Filename), zap.Error(err))
		respondError(w, err)
		return
	}

	title := r.FormValue("title")
	if title == "" {
		title = strings.TrimSuffix(header.Filename, filepath.Ext(header.Filename))
	}

	track, err := h.library.AddTrack(r.Context(), title, fp, duration)
	if err != nil {
		respondError(w, err)
		return
	}

	h.logger.Info("Track added to library",
		zap.String("track_id", track.ID),
		zap.String("title", track.Title),
		zap.Float64("duration", track.Duration),
	)

	respondJSON(w, http.StatusCreated, track)
}

// ListTracks returns the library without fingerprints
func (h *LibraryHandler) ListTracks(w http.ResponseWriter, r *http.Request) {
	tracks, err := h.library.ListTracks(r.Context())
	if err != nil {
		h.logger.Error("Failed to list tracks", zap.Error(err))
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tracks)
}

// GetTrack returns one track
func (h *LibraryHandler) GetTrack(w http.ResponseWriter, r *http.Request) {
	track, err := h.library.GetTrack(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, track)
}

// DeleteTrack removes a track from the library
func (h *LibraryHandler) DeleteTrack(w http.ResponseWriter, r *http.Request) {
	if err := h.library.DeleteTrack(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
