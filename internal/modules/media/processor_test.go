package media

import (
	"testing"

	"github.com/soundtrace/backend/internal/modules/matching"
	"github.com/soundtrace/backend/internal/shared/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestProcessor() *Processor {
	logger := zap.NewNop()
	registry := tasks.NewRegistry(logger)
	return NewProcessor(ProcessorConfig{}, tasks.NewRunner(registry, logger), logger)
}

func TestNewProcessor(t *testing.T) {
	t.Run("defaults tool paths", func(t *testing.T) {
		p := newTestProcessor()
		assert.Equal(t, "ffmpeg", p.ffmpegPath)
		assert.Equal(t, "ffprobe", p.ffprobePath)
	})

	t.Run("uses configured tool paths", func(t *testing.T) {
		logger := zap.NewNop()
		registry := tasks.NewRegistry(logger)
		p := NewProcessor(ProcessorConfig{
			FFmpegPath:  "/opt/ffmpeg/bin/ffmpeg",
			FFprobePath: "/opt/ffmpeg/bin/ffprobe",
		}, tasks.NewRunner(registry, logger), logger)
		assert.Equal(t, "/opt/ffmpeg/bin/ffmpeg", p.ffmpegPath)
		assert.Equal(t, "/opt/ffmpeg/bin/ffprobe", p.ffprobePath)
	})
}

func TestBuildPreviewArgs(t *testing.T) {
	p := newTestProcessor()
	args := p.buildPreviewArgs("in.mkv", "out.mp4")

	assert.Contains(t, args, "scale=-2:720")
	assert.Contains(t, args, "ultrafast")
	assert.Contains(t, args, "+faststart")
	assert.Equal(t, "out.mp4", args[len(args)-1])
}

func TestProgressLineParser(t *testing.T) {
	t.Run("maps out_time to fraction", func(t *testing.T) {
		var got float64
		parse := progressLineParser(100, func(f float64) { got = f })
		parse("out_time_ms=25000000")
		assert.InDelta(t, 0.25, got, 1e-9)
	})

	t.Run("caps fraction at 1", func(t *testing.T) {
		var got float64
		parse := progressLineParser(10, func(f float64) { got = f })
		parse("out_time_ms=99000000")
		assert.Equal(t, 1.0, got)
	})

	t.Run("ignores unrelated lines", func(t *testing.T) {
		called := false
		parse := progressLineParser(100, func(float64) { called = true })
		parse("frame=123")
		assert.False(t, called)
	})

	t.Run("nil when no callback", func(t *testing.T) {
		assert.Nil(t, progressLineParser(100, nil))
	})
}

func TestMergeOverlapping(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		assert.Nil(t, MergeOverlapping(nil))
	})

	t.Run("merges overlapping ranges", func(t *testing.T) {
		merged := MergeOverlapping([]TimeRange{
			{Start: 0, End: 10},
			{Start: 5, End: 20},
			{Start: 30, End: 40},
		})
		require.Len(t, merged, 2)
		assert.Equal(t, TimeRange{Start: 0, End: 20}, merged[0])
		assert.Equal(t, TimeRange{Start: 30, End: 40}, merged[1])
	})

	t.Run("contained range does not shrink the span", func(t *testing.T) {
		merged := MergeOverlapping([]TimeRange{
			{Start: 0, End: 30},
			{Start: 5, End: 10},
		})
		require.Len(t, merged, 1)
		assert.Equal(t, TimeRange{Start: 0, End: 30}, merged[0])
	})
}

func TestInverseRanges(t *testing.T) {
	segments := []matching.Segment{
		{StartTime: 10, EndTime: 20, Status: matching.SegmentDetected},
		{StartTime: 40, EndTime: 50, Status: matching.SegmentDetected},
	}

	t.Run("returns the uncovered spans", func(t *testing.T) {
		inverse := InverseRanges(segments, 60)
		require.Len(t, inverse, 3)
		assert.Equal(t, TimeRange{Start: 0, End: 10}, inverse[0])
		assert.Equal(t, TimeRange{Start: 20, End: 40}, inverse[1])
		assert.Equal(t, TimeRange{Start: 50, End: 60}, inverse[2])
	})

	t.Run("removed segments are ignored", func(t *testing.T) {
		withRemoved := append([]matching.Segment{
			{StartTime: 0, EndTime: 60, Status: matching.SegmentRemoved},
		}, segments...)
		inverse := InverseRanges(withRemoved, 60)
		assert.Len(t, inverse, 3)
	})

	t.Run("segment covering everything leaves nothing", func(t *testing.T) {
		full := []matching.Segment{{StartTime: 0, EndTime: 60, Status: matching.SegmentDetected}}
		assert.Empty(t, InverseRanges(full, 60))
	})

	t.Run("clamps segments past the end", func(t *testing.T) {
		long := []matching.Segment{{StartTime: 50, EndTime: 120, Status: matching.SegmentDetected}}
		inverse := InverseRanges(long, 60)
		require.Len(t, inverse, 1)
		assert.Equal(t, TimeRange{Start: 0, End: 50}, inverse[0])
	})
}

func TestFormatSeconds(t *testing.T) {
	assert.Equal(t, "12.5", formatSeconds(12.5))
	assert.Equal(t, "0", formatSeconds(0))
	assert.Equal(t, "100", formatSeconds(100))
}

func TestIsMP4(t *testing.T) {
	assert.True(t, isMP4("out.mp4"))
	assert.True(t, isMP4("OUT.MOV"))
	assert.True(t, isMP4("clip.m4v"))
	assert.False(t, isMP4("piece.ts"))
	assert.False(t, isMP4("video.mkv"))
}
