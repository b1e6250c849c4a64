package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/hibiken/asynq"
	"github.com/soundtrace/backend/internal/modules/detection"
	"github.com/soundtrace/backend/internal/modules/library"
	"github.com/soundtrace/backend/internal/modules/matching"
	"github.com/soundtrace/backend/internal/modules/media"
	"github.com/soundtrace/backend/internal/modules/projects"
	"github.com/soundtrace/backend/internal/modules/separation"
	"github.com/soundtrace/backend/internal/shared/apperr"
	"github.com/soundtrace/backend/internal/shared/config"
	"github.com/soundtrace/backend/internal/shared/metrics"
	"github.com/soundtrace/backend/internal/shared/storage"
	"github.com/soundtrace/backend/internal/shared/tasks"
	"go.uber.org/zap"
)

// HandlerConfig contains dependencies for the pipeline handler
type HandlerConfig struct {
	Module         *Module
	Registry       *tasks.Registry
	Storage        *storage.Service
	Media          *media.Processor
	Matcher        *matching.Matcher
	Library        *library.Store
	Projects       *projects.Store
	Separator      *separation.Separator
	Detector       *detection.Detector
	SeparationGate *tasks.Gate
	DetectionGate  *tasks.Gate
	Matching       config.MatchingConfig
	UseGPU         bool
	Metrics        *metrics.Metrics
	Logger         *zap.Logger
}

// Handler executes pipeline tasks on the worker
type Handler struct {
	module         *Module
	registry       *tasks.Registry
	storage        *storage.Service
	media          *media.Processor
	matcher        *matching.Matcher
	library        *library.Store
	projects       *projects.Store
	separator      *separation.Separator
	detector       *detection.Detector
	separationGate *tasks.Gate
	detectionGate  *tasks.Gate
	matching       config.MatchingConfig
	useGPU         bool
	metrics        *metrics.Metrics
	logger         *zap.Logger
}

// NewHandler creates a new pipeline handler
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		module:         cfg.Module,
		registry:       cfg.Registry,
		storage:        cfg.Storage,
		media:          cfg.Media,
		matcher:        cfg.Matcher,
		library:        cfg.Library,
		projects:       cfg.Projects,
		separator:      cfg.Separator,
		detector:       cfg.Detector,
		separationGate: cfg.SeparationGate,
		detectionGate:  cfg.DetectionGate,
		matching:       cfg.Matching,
		useGPU:         cfg.UseGPU,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
	}
}

// HandleMatchScan runs a windowed fingerprint scan over a project's
// audio track and replaces its stored segments with the result.
func (h *Handler) HandleMatchScan(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	started := h.taskStarted()
	token := h.registry.Reset(payload.TaskID)
	defer h.registry.Release(payload.TaskID)

	h.logger.Info("Starting fingerprint scan",
		zap.String("job_id", payload.JobID),
		zap.String("project_id", payload.ProjectID),
	)

	project, err := h.projects.Get(ctx, payload.ProjectID)
	if err != nil {
		return h.finish(ctx, &payload, TypeMatchScan, started, err)
	}

	audioPath, duration, err := h.ensureAudio(ctx, &payload, project, token)
	if err != nil {
		return h.finish(ctx, &payload, TypeMatchScan, started, err)
	}

	entries, err := h.library.Lookup(ctx, nil)
	if err != nil {
		return h.finish(ctx, &payload, TypeMatchScan, started, err)
	}

	windows, err := matching.PlanWindows(duration, h.matching.WindowSize, h.matching.HopSize)
	if err != nil {
		return h.finish(ctx, &payload, TypeMatchScan, started, err)
	}

	matches, err := h.matcher.Scan(ctx, matching.ScanParams{
		TaskID:        payload.TaskID,
		AudioPath:     audioPath,
		WorkDir:       h.storage.ZoneDir(storage.ZoneWorking),
		Windows:       windows,
		WindowSize:    h.matching.WindowSize,
		MinConfidence: h.matching.MinConfidence,
		Library:       entries,
		Token:         token,
		Progress: func(taskID string, fraction float64, message string) {
			h.module.UpdateProgress(ctx, payload.JobID, taskID, fraction, message)
		},
	})
	if err != nil {
		return h.finish(ctx, &payload, TypeMatchScan, started, err)
	}

	segments := matching.Stitch(matches, matching.StitchParams{
		ProjectID:          payload.ProjectID,
		WindowSize:         h.matching.WindowSize,
		HopSize:            h.matching.HopSize,
		MinSegmentDuration: h.matching.MinSegmentDuration,
		MaxGapDuration:     h.matching.MaxGapDuration,
		TotalDuration:      duration,
	})

	if err := h.projects.ReplaceSegments(ctx, payload.ProjectID, segments); err != nil {
		return h.finish(ctx, &payload, TypeMatchScan, started, err)
	}

	if h.metrics != nil {
		h.metrics.RecordScan(time.Since(started), len(segments))
	}

	h.logger.Info("Fingerprint scan completed",
		zap.String("project_id", payload.ProjectID),
		zap.Int("windows", len(windows)),
		zap.Int("matches", len(matches)),
		zap.Int("segments", len(segments)),
	)

	return h.complete(ctx, &payload, TypeMatchScan, started, segments)
}

// HandleSeparationRun splits a project's audio into vocal and
// accompaniment stems. Separation is memory heavy, so runs are
// serialized through a gate.
func (h *Handler) HandleSeparationRun(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	started := h.taskStarted()
	token := h.registry.Reset(payload.TaskID)
	defer h.registry.Release(payload.TaskID)

	project, err := h.projects.Get(ctx, payload.ProjectID)
	if err != nil {
		return h.finish(ctx, &payload, TypeSeparationRun, started, err)
	}

	audioPath, _, err := h.ensureAudio(ctx, &payload, project, token)
	if err != nil {
		return h.finish(ctx, &payload, TypeSeparationRun, started, err)
	}

	permit, err := h.separationGate.Acquire(payload.TaskID, token, func() {
		h.module.UpdateProgress(ctx, payload.JobID, payload.TaskID, 0, "Waiting for a separation slot")
		if h.metrics != nil {
			h.metrics.RecordGateWait("separation")
		}
	})
	if err != nil {
		return h.finish(ctx, &payload, TypeSeparationRun, started, err)
	}
	defer permit.Release()

	outputDir := h.storage.GetPath(storage.ZoneSeparated, payload.ProjectID)
	result, err := h.separator.Separate(payload.TaskID, audioPath, outputDir, h.useGPU, token,
		func(fraction float64, message string) {
			h.module.UpdateProgress(ctx, payload.JobID, payload.TaskID, fraction, message)
		})
	if err != nil {
		return h.finish(ctx, &payload, TypeSeparationRun, started, err)
	}

	return h.complete(ctx, &payload, TypeSeparationRun, started, result)
}

// HandleDetectionRun finds time spans with people on screen
func (h *Handler) HandleDetectionRun(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	started := h.taskStarted()
	token := h.registry.Reset(payload.TaskID)
	defer h.registry.Release(payload.TaskID)

	project, err := h.projects.Get(ctx, payload.ProjectID)
	if err != nil {
		return h.finish(ctx, &payload, TypeDetectionRun, started, err)
	}

	permit, err := h.detectionGate.Acquire(payload.TaskID, token, func() {
		h.module.UpdateProgress(ctx, payload.JobID, payload.TaskID, 0, "Waiting for a detection slot")
		if h.metrics != nil {
			h.metrics.RecordGateWait("detection")
		}
	})
	if err != nil {
		return h.finish(ctx, &payload, TypeDetectionRun, started, err)
	}
	defer permit.Release()

	device := "cpu"
	if h.useGPU {
		device = "cuda"
	}

	result, err := h.detector.Detect(payload.TaskID, project.VideoPath,
		h.storage.ZoneDir(storage.ZoneWorking), device, token,
		func(fraction float64, message string) {
			h.module.UpdateProgress(ctx, payload.JobID, payload.TaskID, fraction, message)
		})
	if err != nil {
		return h.finish(ctx, &payload, TypeDetectionRun, started, err)
	}

	return h.complete(ctx, &payload, TypeDetectionRun, started, result)
}

// PreviewResult points at the rendered preview assets
type PreviewResult struct {
	PreviewPath   string `json:"previewPath"`
	ThumbnailPath string `json:"thumbnailPath"`
}

// HandlePreviewRender renders a 720p preview and a thumbnail
func (h *Handler) HandlePreviewRender(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	started := h.taskStarted()
	token := h.registry.Reset(payload.TaskID)
	defer h.registry.Release(payload.TaskID)

	project, err := h.projects.Get(ctx, payload.ProjectID)
	if err != nil {
		return h.finish(ctx, &payload, TypePreviewRender, started, err)
	}

	previewPath := h.storage.GetPath(storage.ZonePreview, payload.ProjectID+"_preview.mp4")
	err = h.media.GeneratePreview(payload.TaskID, project.VideoPath, previewPath, token,
		func(fraction float64) {
			h.module.UpdateProgress(ctx, payload.JobID, payload.TaskID, fraction, "Rendering preview")
		})
	if err != nil {
		return h.finish(ctx, &payload, TypePreviewRender, started, err)
	}

	thumbnailPath := h.storage.GetPath(storage.ZonePreview, payload.ProjectID+"_thumb.jpg")
	duration, err := h.media.GetDuration(ctx, project.VideoPath)
	if err == nil {
		if err := h.media.GenerateThumbnail(ctx, project.VideoPath, thumbnailPath, duration*0.1); err != nil {
			h.logger.Warn("Thumbnail generation failed",
				zap.String("project_id", payload.ProjectID), zap.Error(err))
			thumbnailPath = ""
		}
	} else {
		thumbnailPath = ""
	}

	return h.complete(ctx, &payload, TypePreviewRender, started, PreviewResult{
		PreviewPath:   previewPath,
		ThumbnailPath: thumbnailPath,
	})
}

// ExportResult points at the final cut output
type ExportResult struct {
	OutputPath string `json:"outputPath"`
}

// HandleExportCut renders the final video with matched segments
// removed (or kept, for a matched-only export)
func (h *Handler) HandleExportCut(ctx context.Context, task *asynq.Task) error {
	var payload ExportPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	started := h.taskStarted()
	token := h.registry.Reset(payload.TaskID)
	defer h.registry.Release(payload.TaskID)

	project, err := h.projects.Get(ctx, payload.ProjectID)
	if err != nil {
		return h.finish(ctx, &payload.TaskPayload, TypeExportCut, started, err)
	}

	segments, err := h.projects.ListSegments(ctx, payload.ProjectID)
	if err != nil {
		return h.finish(ctx, &payload.TaskPayload, TypeExportCut, started, err)
	}
	if len(segments) == 0 {
		err := apperr.NotFound("no segments for project %s, run a scan first", payload.ProjectID)
		return h.finish(ctx, &payload.TaskPayload, TypeExportCut, started, err)
	}

	outputName := payload.OutputName
	if outputName == "" {
		outputName = payload.ProjectID + "_cut" + filepath.Ext(project.VideoPath)
	}
	outputPath := h.storage.GetPath(storage.ZoneExport, outputName)

	err = h.media.Cut(media.CutOptions{
		TaskID:      payload.TaskID,
		InputPath:   project.VideoPath,
		OutputPath:  outputPath,
		Segments:    segments,
		KeepMatched: payload.KeepMatched,
		Token:       token,
		OnProgress: func(fraction float64) {
			h.module.UpdateProgress(ctx, payload.JobID, payload.TaskID, fraction, "Exporting")
		},
	})
	if err != nil {
		return h.finish(ctx, &payload.TaskPayload, TypeExportCut, started, err)
	}

	return h.complete(ctx, &payload.TaskPayload, TypeExportCut, started, ExportResult{OutputPath: outputPath})
}

// HandleCleanupWork sweeps old files out of a work area zone
func (h *Handler) HandleCleanupWork(ctx context.Context, task *asynq.Task) error {
	var payload CleanupPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	cutoff := time.Now().Add(-time.Duration(payload.MaxAge) * time.Second)
	removed, err := h.storage.CleanZone(ctx, storage.Zone(payload.Zone), cutoff)
	if err != nil {
		return err
	}

	h.logger.Info("Work area cleaned",
		zap.String("zone", payload.Zone),
		zap.Int("removed", removed),
	)

	if h.metrics != nil {
		count, bytes, err := h.storage.ZoneUsage(ctx, storage.Zone(payload.Zone))
		if err == nil {
			h.metrics.UpdateStorageMetrics(payload.Zone, count, bytes)
		}
	}
	return nil
}

// ensureAudio returns the project's extracted audio track, demuxing
// it first when the project has none yet.
func (h *Handler) ensureAudio(ctx context.Context, payload *TaskPayload, project *projects.Project, token *tasks.Token) (string, float64, error) {
	if project.AudioPath != "" && project.Duration > 0 {
		return project.AudioPath, project.Duration, nil
	}

	h.module.UpdateProgress(ctx, payload.JobID, payload.TaskID, 0, "Extracting audio")
	audioPath := h.storage.GetPath(storage.ZoneAudio, project.ID+".wav")

	if err := h.media.ExtractAudioTrack(payload.TaskID, project.VideoPath, audioPath, token, nil); err != nil {
		return "", 0, err
	}

	duration, err := h.media.GetDuration(ctx, audioPath)
	if err != nil {
		return "", 0, err
	}

	if err := h.projects.SetAudio(ctx, project.ID, audioPath, duration); err != nil {
		return "", 0, err
	}
	return audioPath, duration, nil
}

func (h *Handler) taskStarted() time.Time {
	if h.metrics != nil {
		h.metrics.RecordTaskStarted()
	}
	return time.Now()
}

func (h *Handler) complete(ctx context.Context, payload *TaskPayload, taskType string, started time.Time, result interface{}) error {
	if err := h.module.CompleteJob(ctx, payload.JobID, payload.TaskID, result); err != nil {
		h.logger.Error("Failed to record job completion",
			zap.String("job_id", payload.JobID), zap.Error(err))
	}
	if h.metrics != nil {
		h.metrics.RecordTaskFinished(taskType, StatusCompleted, time.Since(started))
	}
	return nil
}

// finish classifies a task failure. Cancellation is a clean outcome
// and never retried. Bad input and missing binaries will not get
// better on retry either; everything else is handed back to asynq.
func (h *Handler) finish(ctx context.Context, payload *TaskPayload, taskType string, started time.Time, err error) error {
	if apperr.IsCancelled(err) {
		h.logger.Info("Task cancelled",
			zap.String("job_id", payload.JobID),
			zap.String("task_id", payload.TaskID),
		)
		h.module.MarkCancelled(ctx, payload.JobID, payload.TaskID)
		if h.metrics != nil {
			h.metrics.RecordTaskFinished(taskType, StatusCancelled, time.Since(started))
		}
		return nil
	}

	h.logger.Error("Task failed",
		zap.String("job_id", payload.JobID),
		zap.String("task_id", payload.TaskID),
		zap.String("type", taskType),
		zap.Error(err),
	)
	h.module.FailJob(ctx, payload.JobID, payload.TaskID, err)
	if h.metrics != nil {
		h.metrics.RecordTaskFinished(taskType, StatusFailed, time.Since(started))
	}

	if errors.Is(err, apperr.ErrInvalidArgument) ||
		errors.Is(err, apperr.ErrNotFound) ||
		errors.Is(err, apperr.ErrDependencyMissing) {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}
