package tasks

import (
	"errors"
	"testing"
	"time"

	"github.com/soundtrace/backend/internal/shared/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// runWithDeadline fails the test instead of hanging it when Run never
// returns.
func runWithDeadline(t *testing.T, r *Runner, spec RunSpec) error {
	t.Helper()
	result := make(chan error, 1)
	go func() {
		result <- r.Run(spec)
	}()
	select {
	case err := <-result:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return before the deadline")
		return nil
	}
}

func TestRunCleanExit(t *testing.T) {
	registry := NewRegistry(zap.NewNop())
	runner := NewRunner(registry, zap.NewNop())
	token := registry.Reset("run_clean")
	defer registry.Release("run_clean")

	var lines []string
	err := runWithDeadline(t, runner, RunSpec{
		TaskID:  "run_clean",
		Tool:    "shell",
		Program: "sh",
		Args:    []string{"-c", "echo line1 >&2; echo line2 >&2; exit 0"},
		Token:   token,
		OnLine:  func(line string) { lines = append(lines, line) },
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"line1", "line2"}, lines)
}

// A process that writes stderr and exits immediately closes the stderr
// stream before its exit is observed; Run must still return.
func TestRunReturnsWhenStderrClosesBeforeExit(t *testing.T) {
	registry := NewRegistry(zap.NewNop())
	runner := NewRunner(registry, zap.NewNop())

	for i := 0; i < 5; i++ {
		token := registry.Reset("run_fast")
		err := runWithDeadline(t, runner, RunSpec{
			TaskID:  "run_fast",
			Tool:    "shell",
			Program: "sh",
			Args:    []string{"-c", "echo done >&2; exit 0"},
			Token:   token,
		})
		registry.Release("run_fast")
		require.NoError(t, err)
	}
}

func TestRunNonZeroExitCarriesStderr(t *testing.T) {
	registry := NewRegistry(zap.NewNop())
	runner := NewRunner(registry, zap.NewNop())
	token := registry.Reset("run_fail")
	defer registry.Release("run_fail")

	err := runWithDeadline(t, runner, RunSpec{
		TaskID:  "run_fail",
		Tool:    "shell",
		Program: "sh",
		Args:    []string{"-c", "echo boom >&2; exit 3"},
		Token:   token,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrExternalTool))
	assert.Contains(t, err.Error(), "boom")
}

func TestRunMissingProgram(t *testing.T) {
	registry := NewRegistry(zap.NewNop())
	runner := NewRunner(registry, zap.NewNop())
	token := registry.Reset("run_missing")
	defer registry.Release("run_missing")

	err := runWithDeadline(t, runner, RunSpec{
		TaskID:  "run_missing",
		Tool:    "separator",
		Program: "definitely-not-installed-tool",
		Token:   token,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrDependencyMissing))
}

func TestRunCancelKillsProcess(t *testing.T) {
	registry := NewRegistry(zap.NewNop())
	runner := NewRunner(registry, zap.NewNop())
	token := registry.Reset("run_cancel")
	defer registry.Release("run_cancel")

	go func() {
		time.Sleep(300 * time.Millisecond)
		registry.RequestCancel("run_cancel")
	}()

	started := time.Now()
	err := runWithDeadline(t, runner, RunSpec{
		TaskID:  "run_cancel",
		Tool:    "shell",
		Program: "sleep",
		Args:    []string{"30"},
		Token:   token,
	})
	require.Error(t, err)
	assert.True(t, apperr.IsCancelled(err))
	assert.Less(t, time.Since(started), 5*time.Second)
}

func TestParsePercent(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		fraction float64
		ok       bool
	}{
		{
			name:     "tqdm style progress bar",
			line:     "42%|████▌     | 42/100 [00:10<00:14, 4.00it/s]",
			fraction: 0.42,
			ok:       true,
		},
		{
			name:     "completed",
			line:     "100%|██████████| 100/100",
			fraction: 1.0,
			ok:       true,
		},
		{
			name:     "percent embedded mid line",
			line:     "processing frame batch 7% done",
			fraction: 0.07,
			ok:       true,
		},
		{
			name: "no percent sign",
			line: "loading model weights",
			ok:   false,
		},
		{
			name: "percent without digits",
			line: "progress: %",
			ok:   false,
		},
		{
			name: "empty line",
			line: "",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fraction, ok := ParsePercent(tt.line)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.fraction, fraction, 1e-9)
			}
		})
	}
}
