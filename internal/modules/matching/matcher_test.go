package matching

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/soundtrace/backend/internal/shared/apperr"
	"github.com/soundtrace/backend/internal/modules/fingerprint"
	"github.com/soundtrace/backend/internal/shared/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fileSlicer writes the window start time into the slice file so the
// fake extractor can tell windows apart.
type fileSlicer struct{}

func (fileSlicer) ExtractSlice(_ context.Context, _, outPath string, startTime, _ float64) error {
	return os.WriteFile(outPath, []byte(fmt.Sprintf("%.3f", startTime)), 0o644)
}

// mappedExtractor returns a configured fingerprint per window start
// time and a default for every other window.
type mappedExtractor struct {
	byStart     map[float64][]byte
	defaultFP   []byte
	failOnStart float64
	hasFailure  bool
}

func (m *mappedExtractor) Extract(_ context.Context, path string) ([]byte, float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	start, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return nil, 0, err
	}
	if m.hasFailure && start == m.failOnStart {
		return nil, 0, apperr.ExternalTool("fpcalc", "synthetic failure", nil)
	}
	if fp, ok := m.byStart[start]; ok {
		return fp, 15, nil
	}
	return m.defaultFP, 15, nil
}

func repeat(v int32, n int) []int32 {
	out := make([]int32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// Library of three tracks with fingerprints pairwise ~0.5 similar, so
// a silent (all-zero) window clears none of them at threshold 0.6.
func testLibrary() []LibraryEntry {
	return []LibraryEntry{
		{TrackID: "song-a", Title: "Song A", Fingerprint: fingerprint.EncodeRaw(repeat(0x0F0F0F0F, 10))},
		{TrackID: "song-b", Title: "Song B", Fingerprint: fingerprint.EncodeRaw(repeat(0x33333333, 10))},
		{TrackID: "song-c", Title: "Song C", Fingerprint: fingerprint.EncodeRaw(repeat(0x55555555, 10))},
	}
}

// songAAt90 differs from Song A in one of ten integers: 288 of 320
// bits match, similarity 0.9.
func songAAt90() []byte {
	values := repeat(0x0F0F0F0F, 10)
	values[9] = ^values[9]
	return fingerprint.EncodeRaw(values)
}

func TestMatcherScan(t *testing.T) {
	logger := zap.NewNop()
	registry := tasks.NewRegistry(logger)

	newParams := func(t *testing.T, windows []Window, token *tasks.Token) ScanParams {
		return ScanParams{
			TaskID:        "scan-test",
			AudioPath:     "input.wav",
			WorkDir:       t.TempDir(),
			Windows:       windows,
			WindowSize:    15,
			MinConfidence: 0.6,
			Library:       testLibrary(),
			Token:         token,
		}
	}

	t.Run("end to end sixty second scan", func(t *testing.T) {
		// Windows at 10s and 15s (covering 10-25 and 15-30) match
		// Song A at 0.9; everything else is silence.
		windows, err := PlanWindows(60, 15, 5)
		require.NoError(t, err)

		extractor := &mappedExtractor{
			byStart: map[float64][]byte{
				10: songAAt90(),
				15: songAAt90(),
			},
			defaultFP: fingerprint.EncodeRaw(repeat(0, 10)),
		}

		token := registry.Reset("scan-test")
		defer registry.Release("scan-test")

		m := NewMatcher(fileSlicer{}, extractor, logger)
		matches, err := m.Scan(context.Background(), newParams(t, windows, token))
		require.NoError(t, err)
		require.Len(t, matches, 2)

		segments := Stitch(matches, StitchParams{
			ProjectID:          "proj-1",
			WindowSize:         15,
			HopSize:            5,
			MinSegmentDuration: 5,
			MaxGapDuration:     10,
			TotalDuration:      60,
		})
		require.Len(t, segments, 1)
		assert.Equal(t, "song-a", segments[0].TrackID)
		assert.Equal(t, 10.0, segments[0].StartTime)
		assert.Equal(t, 30.0, segments[0].EndTime)
		assert.InDelta(t, 0.9, segments[0].Confidence, 1e-9)
	})

	t.Run("extraction failure skips the window only", func(t *testing.T) {
		windows, err := PlanWindows(60, 15, 5)
		require.NoError(t, err)

		extractor := &mappedExtractor{
			byStart: map[float64][]byte{
				10: songAAt90(),
				15: songAAt90(),
			},
			defaultFP:   fingerprint.EncodeRaw(repeat(0, 10)),
			failOnStart: 10,
			hasFailure:  true,
		}

		token := registry.Reset("scan-test")
		defer registry.Release("scan-test")

		m := NewMatcher(fileSlicer{}, extractor, logger)
		matches, err := m.Scan(context.Background(), newParams(t, windows, token))
		require.NoError(t, err)
		assert.Len(t, matches, 1)
	})

	t.Run("cancelled token fails the scan", func(t *testing.T) {
		windows, err := PlanWindows(60, 15, 5)
		require.NoError(t, err)

		extractor := &mappedExtractor{defaultFP: fingerprint.EncodeRaw(repeat(0, 10))}
		token := registry.Reset("scan-test")
		registry.RequestCancel("scan-test")
		defer registry.Release("scan-test")

		m := NewMatcher(fileSlicer{}, extractor, logger)
		_, err = m.Scan(context.Background(), newParams(t, windows, token))
		assert.ErrorIs(t, err, apperr.ErrCancelled)
	})

	t.Run("empty library is rejected", func(t *testing.T) {
		token := registry.Reset("scan-test")
		defer registry.Release("scan-test")

		m := NewMatcher(fileSlicer{}, &mappedExtractor{}, logger)
		p := newParams(t, []Window{{Index: 0}}, token)
		p.Library = nil
		_, err := m.Scan(context.Background(), p)
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("temporary slices are removed", func(t *testing.T) {
		windows, err := PlanWindows(60, 15, 5)
		require.NoError(t, err)

		extractor := &mappedExtractor{defaultFP: fingerprint.EncodeRaw(repeat(0, 10))}
		token := registry.Reset("scan-test")
		defer registry.Release("scan-test")

		p := newParams(t, windows, token)
		m := NewMatcher(fileSlicer{}, extractor, logger)
		_, err = m.Scan(context.Background(), p)
		require.NoError(t, err)

		entries, err := os.ReadDir(p.WorkDir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("progress is monotonically non-decreasing", func(t *testing.T) {
		windows := make([]Window, 40)
		for i := range windows {
			windows[i] = Window{Index: i, StartTime: float64(i) * 5}
		}

		extractor := &mappedExtractor{defaultFP: fingerprint.EncodeRaw(repeat(0, 10))}
		token := registry.Reset("scan-test")
		defer registry.Release("scan-test")

		var mu sync.Mutex
		var fractions []float64
		p := ScanParams{
			TaskID:        "scan-test",
			AudioPath:     "input.wav",
			WorkDir:       t.TempDir(),
			Windows:       windows,
			WindowSize:    15,
			MinConfidence: 0.6,
			Library:       testLibrary(),
			Token:         token,
			Progress: func(_ string, fraction float64, _ string) {
				mu.Lock()
				fractions = append(fractions, fraction)
				mu.Unlock()
			},
		}

		m := NewMatcher(fileSlicer{}, extractor, logger)
		_, err := m.Scan(context.Background(), p)
		require.NoError(t, err)

		require.NotEmpty(t, fractions)
		for i := 1; i < len(fractions); i++ {
			assert.GreaterOrEqual(t, fractions[i], fractions[i-1])
		}
		assert.Equal(t, 1.0, fractions[len(fractions)-1])
	})
}
