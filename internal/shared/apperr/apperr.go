package apperr

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Wrap them with fmt.Errorf("...: %w", Kind) so
// callers can classify failures with errors.Is.
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrCancelled         = errors.New("cancelled")
	ErrDependencyMissing = errors.New("dependency missing")
	ErrExternalTool      = errors.New("external tool failed")
	ErrConfig            = errors.New("invalid configuration")
)

// InvalidArgument wraps ErrInvalidArgument with a formatted message.
func InvalidArgument(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidArgument)...)
}

// NotFound wraps ErrNotFound with a formatted message.
func NotFound(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

// Cancelled wraps ErrCancelled with the task id that was cancelled.
func Cancelled(taskID string) error {
	return fmt.Errorf("task %s: %w", taskID, ErrCancelled)
}

// DependencyMissing reports an absent external binary.
func DependencyMissing(tool string, err error) error {
	return fmt.Errorf("%s not found (%v): %w", tool, err, ErrDependencyMissing)
}

// ExternalTool reports a failure from an external binary, with its
// output truncated so error messages stay readable.
func ExternalTool(tool, output string, err error) error {
	const maxOutput = 500
	if len(output) > maxOutput {
		output = output[:maxOutput]
	}
	if output != "" {
		return fmt.Errorf("%s failed: %v: %s: %w", tool, err, output, ErrExternalTool)
	}
	return fmt.Errorf("%s failed: %v: %w", tool, err, ErrExternalTool)
}

// IsCancelled reports whether err is a cancellation outcome. Callers
// use this to report cancellation as a distinct, non-alarming result.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
