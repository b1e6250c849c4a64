package tasks

import (
	"bufio"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/soundtrace/backend/internal/shared/apperr"
	"go.uber.org/zap"
)

const runnerPollInterval = 100 * time.Millisecond

// RunSpec describes one external process invocation tied to a task.
type RunSpec struct {
	TaskID  string
	Tool    string // short name used in error messages
	Program string
	Args    []string
	Env     []string // appended to the parent environment
	Token   *Token
	// OnLine receives each stderr line as it arrives (progress parsing
	// happens there). May be nil.
	OnLine func(line string)
}

// Runner spawns external processes, registers them for immediate
// kill-on-cancel, and polls their stderr for progress while the
// cancellation token is watched.
type Runner struct {
	registry *Registry
	logger   *zap.Logger
}

// NewRunner creates a process runner backed by the given registry.
func NewRunner(registry *Registry, logger *zap.Logger) *Runner {
	return &Runner{registry: registry, logger: logger}
}

// Run executes the process to completion. Stderr is streamed to
// spec.OnLine. On cancellation the process is killed and reaped, and
// the cancelled outcome is returned. On a non-zero exit the collected
// stderr (truncated) is folded into the error.
func (r *Runner) Run(spec RunSpec) error {
	cmd := exec.Command(spec.Program, spec.Args...)
	if len(spec.Env) > 0 {
		cmd.Env = append(cmd.Environ(), spec.Env...)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return apperr.ExternalTool(spec.Tool, "", err)
	}

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return apperr.DependencyMissing(spec.Tool, err)
		}
		return apperr.ExternalTool(spec.Tool, "", err)
	}

	r.registry.RegisterProcess(spec.TaskID, cmd.Process)
	r.logger.Debug("External process started",
		zap.String("task_id", spec.TaskID),
		zap.String("tool", spec.Tool),
		zap.Int("pid", cmd.Process.Pid),
	)

	// Stderr is drained on a dedicated goroutine; the main loop below
	// multiplexes lines, process exit, and cancellation polling.
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var errOutput strings.Builder
	collect := func(line string) {
		if line == "" {
			return
		}
		if errOutput.Len() > 0 {
			errOutput.WriteByte('\n')
		}
		errOutput.WriteString(line)
		if spec.OnLine != nil {
			spec.OnLine(line)
		}
	}

	ticker := time.NewTicker(runnerPollInterval)
	defer ticker.Stop()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			collect(line)

		case waitErr := <-done:
			// Drain whatever stderr remains. The channel is nil once the
			// reader goroutine already closed it.
			if lines != nil {
				for line := range lines {
					collect(line)
				}
			}
			if spec.Token.IsCancelled() {
				return apperr.Cancelled(spec.TaskID)
			}
			if waitErr != nil {
				return apperr.ExternalTool(spec.Tool, errOutput.String(), waitErr)
			}
			return nil

		case <-ticker.C:
			if spec.Token.IsCancelled() {
				r.logger.Info("Killing external process on cancel",
					zap.String("task_id", spec.TaskID),
					zap.String("tool", spec.Tool),
				)
				_ = cmd.Process.Kill()
				<-done
				if lines != nil {
					for range lines {
					}
				}
				return apperr.Cancelled(spec.TaskID)
			}
		}
	}
}

// ParsePercent extracts a progress fraction from a tool output line
// like "42%|██████| 42/100". The integer immediately preceding the
// first '%' is taken; returns false when the line carries none.
func ParsePercent(line string) (float64, bool) {
	pos := strings.IndexByte(line, '%')
	if pos <= 0 {
		return 0, false
	}
	start := pos
	for start > 0 && line[start-1] >= '0' && line[start-1] <= '9' {
		start--
	}
	if start == pos {
		return 0, false
	}
	var percent int
	for _, c := range line[start:pos] {
		percent = percent*10 + int(c-'0')
	}
	return float64(percent) / 100.0, true
}
