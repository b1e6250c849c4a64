package matching

import (
	"github.com/soundtrace/backend/internal/shared/apperr"
)

// Window is one fixed-duration slice of the scan, the unit of
// independent classification.
type Window struct {
	Index     int
	StartTime float64
}

// PlanWindows computes the ordered sliding-window list for a scan.
// Windows start at index*hopSize and are generated while the full
// window still fits inside totalDuration.
func PlanWindows(totalDuration, windowSize, hopSize float64) ([]Window, error) {
	if windowSize <= 0 {
		return nil, apperr.InvalidArgument("window size must be positive, got %v", windowSize)
	}
	if hopSize <= 0 {
		return nil, apperr.InvalidArgument("hop size must be positive, got %v", hopSize)
	}
	if totalDuration < windowSize {
		return nil, apperr.InvalidArgument("audio duration %.2fs is shorter than the window size %.2fs", totalDuration, windowSize)
	}

	var windows []Window
	for i := 0; ; i++ {
		start := float64(i) * hopSize
		if start+windowSize > totalDuration {
			break
		}
		windows = append(windows, Window{Index: i, StartTime: start})
	}
	return windows, nil
}
