package matching

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/soundtrace/backend/internal/modules/fingerprint"
	"github.com/soundtrace/backend/internal/shared/apperr"
	"github.com/soundtrace/backend/internal/shared/tasks"
	"go.uber.org/zap"
)

// How often coarse progress is reported (every Nth completed window).
const progressEvery = 10

// LibraryEntry is a read-only view of one reference track. The slice
// handed to the matcher is shared by all workers and never mutated
// during a scan.
type LibraryEntry struct {
	TrackID     string
	Title       string
	Fingerprint []byte
}

// AudioSlicer extracts one window of audio from the source file.
type AudioSlicer interface {
	ExtractSlice(ctx context.Context, sourcePath, outPath string, startTime, duration float64) error
}

// Extractor produces a raw fingerprint from an audio file.
type Extractor interface {
	Extract(ctx context.Context, audioPath string) ([]byte, float64, error)
}

// ProgressFunc receives coarse scan progress. Delivery is best-effort
// and must never block the scan.
type ProgressFunc func(taskID string, fraction float64, message string)

// Matcher runs the parallel window scan: slice, fingerprint, classify
// against the library, keep the best hit above the threshold.
type Matcher struct {
	slicer    AudioSlicer
	extractor Extractor
	logger    *zap.Logger
}

// NewMatcher creates a window matcher.
func NewMatcher(slicer AudioSlicer, extractor Extractor, logger *zap.Logger) *Matcher {
	return &Matcher{
		slicer:    slicer,
		extractor: extractor,
		logger:    logger,
	}
}

// ScanParams describes one scan request.
type ScanParams struct {
	TaskID        string
	AudioPath     string
	WorkDir       string // holds per-window temp slices
	Windows       []Window
	WindowSize    float64
	MinConfidence float64
	Library       []LibraryEntry
	Token         *tasks.Token
	Progress      ProgressFunc
}

// Scan evaluates every window on a bounded worker pool and returns the
// per-window matches in completion order (callers sort before
// stitching). Individual window failures are skipped; a set
// cancellation token fails the whole scan with the cancelled outcome
// even when every worker already finished.
func (m *Matcher) Scan(ctx context.Context, p ScanParams) ([]WindowMatch, error) {
	if len(p.Library) == 0 {
		return nil, apperr.NotFound("fingerprint library is empty")
	}

	workers := runtime.NumCPU() - 2
	if workers < 1 {
		workers = 1
	}
	if workers > len(p.Windows) {
		workers = len(p.Windows)
	}

	m.logger.Info("Starting window scan",
		zap.String("task_id", p.TaskID),
		zap.Int("windows", len(p.Windows)),
		zap.Int("workers", workers),
		zap.Int("library_entries", len(p.Library)),
	)

	jobs := make(chan Window)
	var (
		mu          sync.Mutex
		results     []WindowMatch
		completed   int
		maxReported float64
	)
	total := len(p.Windows)

	finishWindow := func(match *WindowMatch) {
		mu.Lock()
		defer mu.Unlock()
		if match != nil {
			results = append(results, *match)
		}
		completed++
		if p.Progress != nil && (completed%progressEvery == 0 || completed == total) {
			fraction := float64(completed) / float64(total)
			// Workers finish out of order; never report backwards.
			if fraction > maxReported {
				maxReported = fraction
				p.Progress(p.TaskID, fraction, fmt.Sprintf("Scanned %d/%d windows", completed, total))
			}
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range jobs {
				finishWindow(m.matchWindow(ctx, p, w))
			}
		}()
	}

	for _, w := range p.Windows {
		jobs <- w
	}
	close(jobs)
	wg.Wait()

	// A cancel that lands after the last worker's poll must still fail
	// the scan rather than be swallowed by a complete result set.
	if p.Token.IsCancelled() {
		return nil, apperr.Cancelled(p.TaskID)
	}

	m.logger.Info("Window scan finished",
		zap.String("task_id", p.TaskID),
		zap.Int("matches", len(results)),
	)
	return results, nil
}

// matchWindow classifies a single window. Failures are logged and
// swallowed; a partial scan beats aborting the batch for one bad slice.
func (m *Matcher) matchWindow(ctx context.Context, p ScanParams, w Window) *WindowMatch {
	if p.Token.IsCancelled() {
		return nil
	}

	slicePath := filepath.Join(p.WorkDir, fmt.Sprintf("%s_win_%d.wav", p.TaskID, w.Index))
	defer os.Remove(slicePath)

	if err := m.slicer.ExtractSlice(ctx, p.AudioPath, slicePath, w.StartTime, p.WindowSize); err != nil {
		m.logger.Warn("Window slice extraction failed, skipping",
			zap.String("task_id", p.TaskID),
			zap.Int("window", w.Index),
			zap.Error(err),
		)
		return nil
	}

	fp, _, err := m.extractor.Extract(ctx, slicePath)
	if err != nil {
		m.logger.Warn("Window fingerprint failed, skipping",
			zap.String("task_id", p.TaskID),
			zap.Int("window", w.Index),
			zap.Error(err),
		)
		return nil
	}

	var best *WindowMatch
	for i := range p.Library {
		entry := &p.Library[i]
		confidence := fingerprint.Similarity(fp, entry.Fingerprint)
		if best == nil || confidence > best.Confidence {
			best = &WindowMatch{
				WindowIndex: w.Index,
				TrackID:     entry.TrackID,
				Title:       entry.Title,
				Confidence:  confidence,
			}
		}
	}

	if best == nil || best.Confidence < p.MinConfidence {
		return nil
	}
	return best
}
