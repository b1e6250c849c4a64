package pipeline

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Task types
const (
	TypeMatchScan     = "match:scan"
	TypeSeparationRun = "separation:run"
	TypeDetectionRun  = "detection:run"
	TypePreviewRender = "preview:render"
	TypeExportCut     = "export:cut"
	TypeCleanupWork   = "workarea:cleanup"
)

// QueueClient handles pipeline queue operations
type QueueClient struct {
	client *asynq.Client
	logger *zap.Logger
}

// NewQueueClient creates a new queue client
func NewQueueClient(redisAddr string, logger *zap.Logger) *QueueClient {
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})
	return &QueueClient{
		client: client,
		logger: logger,
	}
}

// Close closes the queue client
func (q *QueueClient) Close() error {
	return q.client.Close()
}

// TaskPayload is the common payload for project-scoped pipeline tasks
type TaskPayload struct {
	JobID     string `json:"jobId"`
	TaskID    string `json:"taskId"`
	ProjectID string `json:"projectId"`
}

// ExportPayload carries the extra parameters of an export cut
type ExportPayload struct {
	TaskPayload
	OutputName  string `json:"outputName"`
	KeepMatched bool   `json:"keepMatched"`
}

// CleanupPayload names a work area zone to sweep. MaxAge is in
// seconds so scheduled payloads stay valid across runs.
type CleanupPayload struct {
	Zone   string `json:"zone"`
	MaxAge int64  `json:"maxAge"`
}

// Enqueue queues a pipeline task. Export cuts go to the critical
// queue so a user waiting on a download is not stuck behind scans;
// preview renders are low priority.
func (q *QueueClient) Enqueue(taskType string, payload interface{}) (*asynq.TaskInfo, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	task := asynq.NewTask(taskType, data)

	opts := []asynq.Option{
		asynq.MaxRetry(3),
		asynq.Timeout(2 * time.Hour),
	}

	switch taskType {
	case TypeExportCut:
		opts = append(opts, asynq.Queue("critical"))
	case TypePreviewRender, TypeCleanupWork:
		opts = append(opts, asynq.Queue("low"))
	default:
		opts = append(opts, asynq.Queue("default"))
	}

	info, err := q.client.Enqueue(task, opts...)
	if err != nil {
		q.logger.Error("Failed to enqueue task", zap.String("type", taskType), zap.Error(err))
		return nil, err
	}

	q.logger.Info("Task enqueued",
		zap.String("queue_id", info.ID),
		zap.String("type", taskType),
	)

	return info, nil
}

// ScheduleCleanup registers periodic work area sweeps
func (q *QueueClient) ScheduleCleanup(redisAddr string) error {
	scheduler := asynq.NewScheduler(
		asynq.RedisClientOpt{Addr: redisAddr},
		nil,
	)

	// Scratch space (window slices, segment parts) goes stale fast
	workingPayload, _ := json.Marshal(CleanupPayload{
		Zone:   "working",
		MaxAge: int64(4 * time.Hour / time.Second),
	})
	scheduler.Register("@every 30m", asynq.NewTask(TypeCleanupWork, workingPayload))

	// Preview renders are regenerated on demand
	previewPayload, _ := json.Marshal(CleanupPayload{
		Zone:   "preview",
		MaxAge: int64(7 * 24 * time.Hour / time.Second),
	})
	scheduler.Register("@daily", asynq.NewTask(TypeCleanupWork, previewPayload))

	return scheduler.Start()
}
