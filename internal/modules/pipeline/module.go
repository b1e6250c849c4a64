package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/soundtrace/backend/internal/api/websocket"
	"github.com/soundtrace/backend/internal/shared/apperr"
	"github.com/soundtrace/backend/internal/shared/database"
	"github.com/soundtrace/backend/internal/shared/metrics"
	"github.com/soundtrace/backend/internal/shared/tasks"
	"go.uber.org/zap"
)

// Job statuses
const (
	StatusPending    = "pending"
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// Job represents one pipeline run over a project
type Job struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	ProjectID   string          `json:"projectId"`
	TaskID      string          `json:"taskId"`
	Status      string          `json:"status"`
	Progress    Progress        `json:"progress"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       *JobError       `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// Progress represents job progress
type Progress struct {
	Fraction float64 `json:"fraction"`
	Stage    string  `json:"stage,omitempty"`
}

// JobError represents a job error
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Module manages pipeline jobs: one row per run, addressed for
// cancellation by a task id that is stable per (type, project).
type Module struct {
	db       *database.Postgres
	redis    *database.Redis
	queue    *QueueClient
	registry *tasks.Registry
	wsHub    *websocket.Hub
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewModule creates a new pipeline module
func NewModule(db *database.Postgres, redis *database.Redis, queue *QueueClient, registry *tasks.Registry, wsHub *websocket.Hub, m *metrics.Metrics, logger *zap.Logger) *Module {
	return &Module{
		db:       db,
		redis:    redis,
		queue:    queue,
		registry: registry,
		wsHub:    wsHub,
		metrics:  m,
		logger:   logger,
	}
}

// TaskID returns the cancellation key for a task type and project.
// Re-running a stage reuses the key, so a stale cancel request cannot
// outlive the registry reset done at task start.
func TaskID(taskType, projectID string) string {
	switch taskType {
	case TypeMatchScan:
		return "scan_" + projectID
	case TypeSeparationRun:
		return "sep_" + projectID
	case TypeDetectionRun:
		return "det_" + projectID
	case TypePreviewRender:
		return "preview_" + projectID
	case TypeExportCut:
		return "export_" + projectID
	}
	return taskType + "_" + projectID
}

// CreateJob inserts a queued job and enqueues its task
func (m *Module) CreateJob(ctx context.Context, taskType, projectID string) (*Job, error) {
	return m.createJob(ctx, taskType, projectID, nil)
}

// CreateExportJob queues an export cut with its output options
func (m *Module) CreateExportJob(ctx context.Context, projectID, outputName string, keepMatched bool) (*Job, error) {
	return m.createJob(ctx, TypeExportCut, projectID, func(base TaskPayload) interface{} {
		return ExportPayload{
			TaskPayload: base,
			OutputName:  outputName,
			KeepMatched: keepMatched,
		}
	})
}

func (m *Module) createJob(ctx context.Context, taskType, projectID string, wrap func(TaskPayload) interface{}) (*Job, error) {
	running, err := m.hasActiveJob(ctx, taskType, projectID)
	if err != nil {
		return nil, err
	}
	if running {
		return nil, apperr.InvalidArgument("%s already running for project %s", taskType, projectID)
	}

	job := &Job{
		ID:        uuid.New().String(),
		Type:      taskType,
		ProjectID: projectID,
		TaskID:    TaskID(taskType, projectID),
		Status:    StatusQueued,
		CreatedAt: time.Now(),
	}

	progressJSON, _ := json.Marshal(job.Progress)
	_, err = m.db.Pool.Exec(ctx, `
		INSERT INTO jobs (id, type, project_id, task_id, status, progress, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, job.ID, job.Type, job.ProjectID, job.TaskID, job.Status, progressJSON, job.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert job: %w", err)
	}

	var payload interface{} = TaskPayload{
		JobID:     job.ID,
		TaskID:    job.TaskID,
		ProjectID: projectID,
	}
	if wrap != nil {
		payload = wrap(payload.(TaskPayload))
	}

	if _, err := m.queue.Enqueue(taskType, payload); err != nil {
		m.db.Pool.Exec(ctx, "UPDATE jobs SET status = $1 WHERE id = $2", StatusFailed, job.ID)
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	if m.metrics != nil {
		m.metrics.RecordTaskCreated(taskType)
	}

	m.logger.Info("Job created and queued",
		zap.String("job_id", job.ID),
		zap.String("type", taskType),
		zap.String("project_id", projectID),
		zap.String("task_id", job.TaskID),
	)

	return job, nil
}

// GetJob retrieves a job by id
func (m *Module) GetJob(ctx context.Context, jobID string) (*Job, error) {
	row := m.db.Pool.QueryRow(ctx, `
		SELECT id, type, project_id, task_id, status, progress, result, error, created_at, started_at, completed_at
		FROM jobs WHERE id = $1
	`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("job %s", jobID)
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ListJobs returns recent jobs, optionally filtered by project and status
func (m *Module) ListJobs(ctx context.Context, projectID, status string) ([]*Job, error) {
	rows, err := m.db.Pool.Query(ctx, `
		SELECT id, type, project_id, task_id, status, progress, result, error, created_at, started_at, completed_at
		FROM jobs
		WHERE ($1 = '' OR project_id = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT 50
	`, projectID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			m.logger.Error("Failed to scan job row", zap.Error(err))
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// CancelTask requests cancellation of a running task: the flag is
// raised first so polling loops stop cooperatively, then any live
// external processes are killed so the worker is not stuck waiting
// on them. The request is also relayed over Redis because the task
// may be running in another process.
func (m *Module) CancelTask(ctx context.Context, taskID string) error {
	m.registry.RequestCancel(taskID)
	m.registry.KillAll(taskID)

	if m.redis != nil {
		if err := m.redis.Publish(ctx, cancelChannel, taskID); err != nil {
			m.logger.Warn("Failed to relay cancel request",
				zap.String("task_id", taskID), zap.Error(err))
		}
	}

	_, err := m.db.Pool.Exec(ctx, `
		UPDATE jobs SET status = $1, completed_at = NOW()
		WHERE task_id = $2 AND status IN ($3, $4, $5)
	`, StatusCancelled, taskID, StatusPending, StatusQueued, StatusProcessing)
	if err != nil {
		return err
	}

	if m.wsHub != nil {
		m.wsHub.BroadcastTaskCancelled(taskID)
	}

	m.logger.Info("Cancellation requested", zap.String("task_id", taskID))
	return nil
}

// DeleteJob removes a finished job record
func (m *Module) DeleteJob(ctx context.Context, jobID string) error {
	result, err := m.db.Pool.Exec(ctx, `
		DELETE FROM jobs WHERE id = $1 AND status NOT IN ($2, $3)
	`, jobID, StatusQueued, StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFound("job %s", jobID)
	}
	return nil
}

// UpdateProgress updates job progress and notifies subscribers
func (m *Module) UpdateProgress(ctx context.Context, jobID, taskID string, fraction float64, stage string) error {
	progress := Progress{Fraction: fraction, Stage: stage}
	progressJSON, _ := json.Marshal(progress)

	_, err := m.db.Pool.Exec(ctx, `
		UPDATE jobs SET progress = $1, status = $2, started_at = COALESCE(started_at, NOW()) WHERE id = $3
	`, progressJSON, StatusProcessing, jobID)
	if err != nil {
		return err
	}

	if m.wsHub != nil {
		m.wsHub.BroadcastTaskProgress(taskID, fraction, stage)
	}
	return nil
}

// CompleteJob marks a job completed and stores its result
func (m *Module) CompleteJob(ctx context.Context, jobID, taskID string, result interface{}) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	progressJSON, _ := json.Marshal(Progress{Fraction: 1.0})

	_, err = m.db.Pool.Exec(ctx, `
		UPDATE jobs SET status = $1, result = $2, progress = $3, completed_at = NOW() WHERE id = $4
	`, StatusCompleted, resultJSON, progressJSON, jobID)
	if err != nil {
		return err
	}

	if m.wsHub != nil {
		m.wsHub.BroadcastTaskCompleted(taskID, result)
	}

	m.logger.Info("Job completed", zap.String("job_id", jobID), zap.String("task_id", taskID))
	return nil
}

// FailJob marks a job failed
func (m *Module) FailJob(ctx context.Context, jobID, taskID string, cause error) error {
	jobError := JobError{
		Code:    errorCode(cause),
		Message: cause.Error(),
	}
	errorJSON, _ := json.Marshal(jobError)

	_, err := m.db.Pool.Exec(ctx, `
		UPDATE jobs SET status = $1, error = $2, completed_at = NOW() WHERE id = $3
	`, StatusFailed, errorJSON, jobID)
	if err != nil {
		return err
	}

	if m.wsHub != nil {
		m.wsHub.BroadcastTaskFailed(taskID, cause.Error())
	}
	return nil
}

// MarkCancelled records that a running job observed its cancellation
func (m *Module) MarkCancelled(ctx context.Context, jobID, taskID string) error {
	_, err := m.db.Pool.Exec(ctx, `
		UPDATE jobs SET status = $1, completed_at = NOW() WHERE id = $2
	`, StatusCancelled, jobID)
	if err != nil {
		return err
	}

	if m.wsHub != nil {
		m.wsHub.BroadcastTaskCancelled(taskID)
	}
	return nil
}

func (m *Module) hasActiveJob(ctx context.Context, taskType, projectID string) (bool, error) {
	var count int
	err := m.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM jobs
		WHERE type = $1 AND project_id = $2 AND status IN ($3, $4, $5)
	`, taskType, projectID, StatusPending, StatusQueued, StatusProcessing).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func errorCode(err error) string {
	switch {
	case apperr.IsCancelled(err):
		return "CANCELLED"
	default:
		return "PROCESSING_ERROR"
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var progressJSON, resultJSON, errorJSON []byte
	var startedAt, completedAt *time.Time

	err := row.Scan(
		&job.ID, &job.Type, &job.ProjectID, &job.TaskID, &job.Status,
		&progressJSON, &resultJSON, &errorJSON,
		&job.CreatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	job.StartedAt = startedAt
	job.CompletedAt = completedAt

	json.Unmarshal(progressJSON, &job.Progress)
	if resultJSON != nil {
		job.Result = resultJSON
	}
	if errorJSON != nil {
		json.Unmarshal(errorJSON, &job.Error)
	}

	return &job, nil
}
