package tasks

import (
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Token is a shared per-task cancellation flag. Components cooperating
// on one logical task poll it at suspension points.
type Token struct {
	flag *atomic.Bool
}

// IsCancelled reports whether cancellation has been requested.
func (t *Token) IsCancelled() bool {
	if t == nil || t.flag == nil {
		return false
	}
	return t.flag.Load()
}

// Registry tracks cancellation flags and spawned child processes,
// keyed by task id. Concurrent tasks with different ids never
// interfere. One long-lived instance is wired in production; tests
// create their own.
type Registry struct {
	mu     sync.Mutex
	flags  map[string]*atomic.Bool
	procs  map[string][]*os.Process
	logger *zap.Logger
}

// NewRegistry creates an empty task registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		flags:  make(map[string]*atomic.Bool),
		procs:  make(map[string][]*os.Process),
		logger: logger,
	}
}

// locked runs fn under the registry mutex. A panic inside fn is
// recovered and logged so the registry stays usable for every other
// task; callers get the best-available state instead of a crash.
func (r *Registry) locked(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Task registry access panicked, recovering state",
				zap.Any("panic", rec),
			)
		}
	}()
	fn()
}

// Reset creates (or overwrites) the cancellation flag for taskID as
// false and returns a token sharing it. A new run under the same id
// always starts with a fresh flag, even after a prior cancel.
func (r *Registry) Reset(taskID string) *Token {
	flag := &atomic.Bool{}
	r.locked(func() {
		r.flags[taskID] = flag
	})
	return &Token{flag: flag}
}

// Token returns the current token for taskID, or an inert token that
// never reads cancelled when the task is unknown.
func (r *Registry) Token(taskID string) *Token {
	var flag *atomic.Bool
	r.locked(func() {
		flag = r.flags[taskID]
	})
	return &Token{flag: flag}
}

// RequestCancel sets the cancellation flag for taskID. It does not by
// itself stop anything; callers also invoke KillAll to terminate
// registered external processes.
func (r *Registry) RequestCancel(taskID string) {
	r.locked(func() {
		if flag, ok := r.flags[taskID]; ok {
			flag.Store(true)
		} else {
			// Cancel may arrive before the task resets its flag.
			flag := &atomic.Bool{}
			flag.Store(true)
			r.flags[taskID] = flag
		}
	})
	r.logger.Info("Cancellation requested", zap.String("task_id", taskID))
}

// RegisterProcess records a spawned child process under taskID so a
// cancellation request can kill it immediately.
func (r *Registry) RegisterProcess(taskID string, proc *os.Process) {
	r.locked(func() {
		r.procs[taskID] = append(r.procs[taskID], proc)
	})
}

// KillAll issues an OS-level kill to every process registered under
// taskID. It does not wait for exits; the owning component reaps them.
func (r *Registry) KillAll(taskID string) {
	var procs []*os.Process
	r.locked(func() {
		procs = append(procs, r.procs[taskID]...)
	})
	for _, proc := range procs {
		if err := proc.Kill(); err != nil {
			r.logger.Debug("Kill failed (process may have exited)",
				zap.String("task_id", taskID),
				zap.Int("pid", proc.Pid),
				zap.Error(err),
			)
		}
	}
	if len(procs) > 0 {
		r.logger.Info("Killed child processes",
			zap.String("task_id", taskID),
			zap.Int("count", len(procs)),
		)
	}
}

// Release removes the flag and all process handles for taskID. Owners
// call it with defer at task start so no stale state survives the run,
// on any exit path.
func (r *Registry) Release(taskID string) {
	r.locked(func() {
		delete(r.flags, taskID)
		delete(r.procs, taskID)
	})
}
