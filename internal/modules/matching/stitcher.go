package matching

import (
	"sort"

	"github.com/google/uuid"
)

// Segment statuses
const (
	SegmentDetected = "detected"
	SegmentRemoved  = "removed"
)

// WindowMatch is the best library hit for one window. Windows whose
// best candidate fell below the confidence threshold produce none.
type WindowMatch struct {
	WindowIndex int
	TrackID     string
	Title       string
	Confidence  float64
}

// Segment is a reconstructed continuous time range attributed to one
// reference track.
type Segment struct {
	ID         string  `json:"id"`
	ProjectID  string  `json:"projectId"`
	TrackID    string  `json:"trackId,omitempty"`
	Title      string  `json:"title,omitempty"`
	StartTime  float64 `json:"startTime"`
	EndTime    float64 `json:"endTime"`
	Confidence float64 `json:"confidence"`
	Status     string  `json:"status"`
}

// StitchParams controls how window matches fold into segments.
type StitchParams struct {
	ProjectID          string
	WindowSize         float64
	HopSize            float64
	MinSegmentDuration float64
	MaxGapDuration     float64
	TotalDuration      float64
}

// openSegment accumulates one in-progress segment during the fold.
type openSegment struct {
	trackID    string
	title      string
	start      float64
	confidence float64
	lastIndex  int
}

// Stitch folds per-window matches into maximal continuous segments.
// The parallel scan returns matches out of order, so they are sorted
// by window index first; the fold is only correct on sorted input.
// Consecutive matches of the same track merge while the gap between
// window coverage stays within MaxGapDuration (overlapping windows
// have a negative gap and always merge). A track change always closes
// the open segment. Segments shorter than MinSegmentDuration are
// dropped. Output is time-ascending.
func Stitch(matches []WindowMatch, p StitchParams) []Segment {
	sorted := make([]WindowMatch, len(matches))
	copy(sorted, matches)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].WindowIndex < sorted[j].WindowIndex
	})

	var segments []Segment
	var open *openSegment

	closeOpen := func() {
		if open == nil {
			return
		}
		end := float64(open.lastIndex)*p.HopSize + p.WindowSize
		if end > p.TotalDuration {
			end = p.TotalDuration
		}
		if end-open.start >= p.MinSegmentDuration {
			segments = append(segments, Segment{
				ID:         uuid.New().String(),
				ProjectID:  p.ProjectID,
				TrackID:    open.trackID,
				Title:      open.title,
				StartTime:  open.start,
				EndTime:    end,
				Confidence: open.confidence,
				Status:     SegmentDetected,
			})
		}
		open = nil
	}

	for _, m := range sorted {
		t := float64(m.WindowIndex) * p.HopSize

		switch {
		case open == nil:
			open = &openSegment{
				trackID:    m.TrackID,
				title:      m.Title,
				start:      t,
				confidence: m.Confidence,
				lastIndex:  m.WindowIndex,
			}

		case m.TrackID == open.trackID:
			gap := t - (float64(open.lastIndex)*p.HopSize + p.WindowSize)
			if gap <= p.MaxGapDuration {
				open.lastIndex = m.WindowIndex
				if m.Confidence > open.confidence {
					open.confidence = m.Confidence
				}
			} else {
				closeOpen()
				open = &openSegment{
					trackID:    m.TrackID,
					title:      m.Title,
					start:      t,
					confidence: m.Confidence,
					lastIndex:  m.WindowIndex,
				}
			}

		default:
			closeOpen()
			open = &openSegment{
				trackID:    m.TrackID,
				title:      m.Title,
				start:      t,
				confidence: m.Confidence,
				lastIndex:  m.WindowIndex,
			}
		}
	}
	closeOpen()

	return segments
}
