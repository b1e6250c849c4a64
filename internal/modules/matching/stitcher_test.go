package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stitchParams() StitchParams {
	return StitchParams{
		ProjectID:          "proj-1",
		WindowSize:         15,
		HopSize:            5,
		MinSegmentDuration: 5,
		MaxGapDuration:     10,
		TotalDuration:      120,
	}
}

func TestStitch(t *testing.T) {
	t.Run("empty input yields no segments", func(t *testing.T) {
		assert.Empty(t, Stitch(nil, stitchParams()))
	})

	t.Run("consecutive windows merge into one segment", func(t *testing.T) {
		matches := []WindowMatch{
			{WindowIndex: 0, TrackID: "X", Title: "Track X", Confidence: 0.7},
			{WindowIndex: 1, TrackID: "X", Title: "Track X", Confidence: 0.9},
			{WindowIndex: 2, TrackID: "X", Title: "Track X", Confidence: 0.8},
		}
		segments := Stitch(matches, stitchParams())
		require.Len(t, segments, 1)
		assert.Equal(t, "X", segments[0].TrackID)
		assert.Equal(t, 0.0, segments[0].StartTime)
		assert.Equal(t, 25.0, segments[0].EndTime)
		assert.Equal(t, 0.9, segments[0].Confidence)
		assert.Equal(t, SegmentDetected, segments[0].Status)
		assert.Equal(t, "proj-1", segments[0].ProjectID)
		assert.NotEmpty(t, segments[0].ID)
	})

	t.Run("large gap splits the track into two segments", func(t *testing.T) {
		// Windows 0-2 cover 0-25s; the next match 40s later must not merge.
		matches := []WindowMatch{
			{WindowIndex: 0, TrackID: "X", Confidence: 0.7},
			{WindowIndex: 1, TrackID: "X", Confidence: 0.7},
			{WindowIndex: 2, TrackID: "X", Confidence: 0.7},
			{WindowIndex: 13, TrackID: "X", Confidence: 0.7},
			{WindowIndex: 14, TrackID: "X", Confidence: 0.7},
		}
		segments := Stitch(matches, stitchParams())
		require.Len(t, segments, 2)
		assert.Equal(t, 0.0, segments[0].StartTime)
		assert.Equal(t, 25.0, segments[0].EndTime)
		assert.Equal(t, 65.0, segments[1].StartTime)
	})

	t.Run("gap within tolerance merges", func(t *testing.T) {
		// Window 0 covers 0-15; window 5 starts at 25, gap = 10 = max.
		matches := []WindowMatch{
			{WindowIndex: 0, TrackID: "X", Confidence: 0.7},
			{WindowIndex: 5, TrackID: "X", Confidence: 0.7},
		}
		segments := Stitch(matches, stitchParams())
		require.Len(t, segments, 1)
		assert.Equal(t, 0.0, segments[0].StartTime)
		assert.Equal(t, 40.0, segments[0].EndTime)
	})

	t.Run("track change always closes even with overlap", func(t *testing.T) {
		matches := []WindowMatch{
			{WindowIndex: 0, TrackID: "X", Confidence: 0.7},
			{WindowIndex: 1, TrackID: "X", Confidence: 0.7},
			{WindowIndex: 2, TrackID: "Y", Confidence: 0.8},
			{WindowIndex: 3, TrackID: "Y", Confidence: 0.8},
		}
		segments := Stitch(matches, stitchParams())
		require.Len(t, segments, 2)
		assert.Equal(t, "X", segments[0].TrackID)
		assert.Equal(t, "Y", segments[1].TrackID)
		assert.Equal(t, 10.0, segments[1].StartTime)
	})

	t.Run("segment shorter than minimum is dropped", func(t *testing.T) {
		p := stitchParams()
		p.MinSegmentDuration = 20
		matches := []WindowMatch{
			{WindowIndex: 4, TrackID: "X", Confidence: 0.7},
		}
		assert.Empty(t, Stitch(matches, p))
	})

	t.Run("input is sorted before folding", func(t *testing.T) {
		matches := []WindowMatch{
			{WindowIndex: 2, TrackID: "X", Confidence: 0.8},
			{WindowIndex: 0, TrackID: "X", Confidence: 0.7},
			{WindowIndex: 1, TrackID: "X", Confidence: 0.9},
		}
		segments := Stitch(matches, stitchParams())
		require.Len(t, segments, 1)
		assert.Equal(t, 0.0, segments[0].StartTime)
		assert.Equal(t, 25.0, segments[0].EndTime)
		assert.Equal(t, 0.9, segments[0].Confidence)
	})

	t.Run("end time clamps to total duration", func(t *testing.T) {
		p := stitchParams()
		p.TotalDuration = 22
		matches := []WindowMatch{
			{WindowIndex: 0, TrackID: "X", Confidence: 0.7},
			{WindowIndex: 1, TrackID: "X", Confidence: 0.7},
		}
		segments := Stitch(matches, p)
		require.Len(t, segments, 1)
		assert.Equal(t, 22.0, segments[0].EndTime)
	})

	t.Run("output is time ascending", func(t *testing.T) {
		matches := []WindowMatch{
			{WindowIndex: 20, TrackID: "Y", Confidence: 0.7},
			{WindowIndex: 0, TrackID: "X", Confidence: 0.7},
			{WindowIndex: 21, TrackID: "Y", Confidence: 0.7},
			{WindowIndex: 1, TrackID: "X", Confidence: 0.7},
		}
		segments := Stitch(matches, stitchParams())
		require.Len(t, segments, 2)
		assert.Less(t, segments[0].StartTime, segments[1].StartTime)
	})
}
