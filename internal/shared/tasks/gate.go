package tasks

import (
	"sync"
	"time"

	"github.com/soundtrace/backend/internal/shared/apperr"
	"go.uber.org/zap"
)

const gatePollInterval = 200 * time.Millisecond

// Gate serializes access to an exclusive resource (one GPU-bound
// pipeline at a time) within a single pipeline family. Each family
// gets its own gate, so separation never waits on detection.
type Gate struct {
	family string
	slots  chan struct{}
	logger *zap.Logger
}

// Permit is a held gate slot. Release returns it; calling Release more
// than once is safe.
type Permit struct {
	gate *Gate
	once sync.Once
}

// Release frees the gate slot.
func (p *Permit) Release() {
	p.once.Do(func() {
		<-p.gate.slots
	})
}

// NewGate creates a capacity-1 gate for the named pipeline family.
func NewGate(family string, logger *zap.Logger) *Gate {
	return &Gate{
		family: family,
		slots:  make(chan struct{}, 1),
		logger: logger,
	}
}

// TryAcquire attempts to take the slot without blocking.
func (g *Gate) TryAcquire() (*Permit, bool) {
	select {
	case g.slots <- struct{}{}:
		return &Permit{gate: g}, true
	default:
		return nil, false
	}
}

// Acquire takes the slot, queueing behind the current holder if busy.
// When queueing starts, onQueued is invoked exactly once. While
// waiting, the task's cancellation token is polled; a cancelled task
// returns without ever holding the slot.
func (g *Gate) Acquire(taskID string, token *Token, onQueued func()) (*Permit, error) {
	if permit, ok := g.TryAcquire(); ok {
		return permit, nil
	}

	g.logger.Info("Resource busy, queueing task",
		zap.String("family", g.family),
		zap.String("task_id", taskID),
	)
	if onQueued != nil {
		onQueued()
	}

	for {
		select {
		case g.slots <- struct{}{}:
			permit := &Permit{gate: g}
			if token.IsCancelled() {
				permit.Release()
				return nil, apperr.Cancelled(taskID)
			}
			return permit, nil
		case <-time.After(gatePollInterval):
			if token.IsCancelled() {
				g.logger.Info("Task cancelled while queued",
					zap.String("family", g.family),
					zap.String("task_id", taskID),
				)
				return nil, apperr.Cancelled(taskID)
			}
		}
	}
}
