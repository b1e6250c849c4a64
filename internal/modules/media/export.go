package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/soundtrace/backend/internal/modules/matching"
	"github.com/soundtrace/backend/internal/shared/apperr"
	"github.com/soundtrace/backend/internal/shared/tasks"
	"go.uber.org/zap"
)

// TimeRange is a half-open [Start, End) span of the source video.
type TimeRange struct {
	Start float64
	End   float64
}

// CutOptions controls a segment export.
type CutOptions struct {
	TaskID     string
	InputPath  string
	OutputPath string
	Segments   []matching.Segment
	// KeepMatched exports the matched segments themselves; otherwise
	// the matched ranges are cut out and the remainder is exported.
	KeepMatched bool
	Token       *tasks.Token
	OnProgress  func(fraction float64)
}

// Cut re-encodes the wanted time ranges of the input and joins them
// into one output. Each range is exported to a keyframe-aligned .ts
// piece first, then the pieces are concatenated stream-copy. Partial
// outputs are removed on cancellation and failure.
func (p *Processor) Cut(opts CutOptions) error {
	if opts.Token.IsCancelled() {
		return apperr.Cancelled(opts.TaskID)
	}

	totalDuration, err := p.GetDuration(context.Background(), opts.InputPath)
	if err != nil {
		return err
	}

	var keep []TimeRange
	if opts.KeepMatched {
		keep = MergeOverlapping(validRanges(opts.Segments, totalDuration))
	} else {
		keep = InverseRanges(opts.Segments, totalDuration)
	}

	p.logger.Info("Cutting video segments",
		zap.String("task_id", opts.TaskID),
		zap.Int("segments", len(opts.Segments)),
		zap.Int("keep_ranges", len(keep)),
		zap.Bool("keep_matched", opts.KeepMatched),
	)

	if len(keep) == 0 {
		return apperr.InvalidArgument("no time ranges left to export")
	}

	tempDir, err := os.MkdirTemp("", "cut_segments_")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	if err := os.MkdirAll(filepath.Dir(opts.OutputPath), 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	// Piece exports dominate the runtime; the stream-copy concat at
	// the end is fast, so it gets the last 5% of the progress range.
	segmentFiles := make([]string, 0, len(keep))
	for i, r := range keep {
		if opts.Token.IsCancelled() {
			return apperr.Cancelled(opts.TaskID)
		}

		piece := filepath.Join(tempDir, fmt.Sprintf("segment_%04d.ts", i))
		if err := p.EncodeSegment(opts.TaskID, opts.InputPath, piece, r.Start, r.End, opts.Token); err != nil {
			return err
		}
		segmentFiles = append(segmentFiles, piece)

		if opts.OnProgress != nil {
			opts.OnProgress(float64(i+1) / float64(len(keep)) * 0.95)
		}
	}

	if opts.Token.IsCancelled() {
		return apperr.Cancelled(opts.TaskID)
	}

	if err := p.concatCopy(opts.TaskID, segmentFiles, opts.OutputPath, opts.Token); err != nil {
		return err
	}

	if opts.OnProgress != nil {
		opts.OnProgress(1.0)
	}
	return nil
}

// validRanges keeps non-removed segments, clamps them to the video
// duration, drops empty spans, and sorts by start time.
func validRanges(segments []matching.Segment, totalDuration float64) []TimeRange {
	var ranges []TimeRange
	for _, s := range segments {
		if s.Status == matching.SegmentRemoved {
			continue
		}
		start := s.StartTime
		if start < 0 {
			start = 0
		}
		end := s.EndTime
		if end > totalDuration {
			end = totalDuration
		}
		if start < end {
			ranges = append(ranges, TimeRange{Start: start, End: end})
		}
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start < ranges[j].Start })
	return ranges
}

// MergeOverlapping folds sorted ranges that touch or overlap into
// maximal spans.
func MergeOverlapping(ranges []TimeRange) []TimeRange {
	if len(ranges) == 0 {
		return nil
	}
	merged := []TimeRange{ranges[0]}
	for _, r := range ranges[1:] {
		last := &merged[len(merged)-1]
		if r.Start <= last.End {
			if r.End > last.End {
				last.End = r.End
			}
		} else {
			merged = append(merged, r)
		}
	}
	return merged
}

// InverseRanges returns the parts of [0, totalDuration] not covered by
// the given (non-removed) segments.
func InverseRanges(segments []matching.Segment, totalDuration float64) []TimeRange {
	merged := MergeOverlapping(validRanges(segments, totalDuration))

	var inverse []TimeRange
	current := 0.0
	for _, r := range merged {
		if current < r.Start {
			inverse = append(inverse, TimeRange{Start: current, End: r.Start})
		}
		current = r.End
	}
	if current < totalDuration {
		inverse = append(inverse, TimeRange{Start: current, End: totalDuration})
	}
	return inverse
}
