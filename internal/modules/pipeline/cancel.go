package pipeline

import (
	"context"

	"github.com/soundtrace/backend/internal/shared/database"
	"github.com/soundtrace/backend/internal/shared/tasks"
	"go.uber.org/zap"
)

// cancelChannel carries task ids from the API process to workers.
// The registry is per-process, so a cancel accepted by the API server
// has to be relayed to whichever worker holds the running task.
const cancelChannel = "pipeline:cancel"

// CancelListener applies relayed cancel requests to the local
// registry on a worker.
type CancelListener struct {
	redis    *database.Redis
	registry *tasks.Registry
	logger   *zap.Logger
}

// NewCancelListener creates a cancel listener
func NewCancelListener(redis *database.Redis, registry *tasks.Registry, logger *zap.Logger) *CancelListener {
	return &CancelListener{
		redis:    redis,
		registry: registry,
		logger:   logger,
	}
}

// Run blocks consuming cancel requests until ctx is done
func (l *CancelListener) Run(ctx context.Context) {
	sub := l.redis.Subscribe(ctx, cancelChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			taskID := msg.Payload
			l.logger.Info("Cancel request received", zap.String("task_id", taskID))
			l.registry.RequestCancel(taskID)
			l.registry.KillAll(taskID)
		}
	}
}
