package matching

import (
	"testing"

	"github.com/soundtrace/backend/internal/shared/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanWindows(t *testing.T) {
	t.Run("covers the duration with hopped windows", func(t *testing.T) {
		windows, err := PlanWindows(100, 15, 5)
		require.NoError(t, err)
		require.NotEmpty(t, windows)

		assert.Equal(t, 0, windows[0].Index)
		assert.Equal(t, 0.0, windows[0].StartTime)

		last := windows[len(windows)-1]
		assert.LessOrEqual(t, last.StartTime, 85.0)
		for _, w := range windows {
			assert.LessOrEqual(t, w.StartTime+15, 100.0)
			assert.Equal(t, float64(w.Index)*5, w.StartTime)
		}
		assert.Len(t, windows, 18)
	})

	t.Run("exact fit produces a single window", func(t *testing.T) {
		windows, err := PlanWindows(15, 15, 5)
		require.NoError(t, err)
		require.Len(t, windows, 1)
		assert.Equal(t, 0.0, windows[0].StartTime)
	})

	t.Run("rejects zero hop size", func(t *testing.T) {
		_, err := PlanWindows(100, 15, 0)
		assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	})

	t.Run("rejects zero window size", func(t *testing.T) {
		_, err := PlanWindows(100, 0, 5)
		assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	})

	t.Run("rejects negative hop size", func(t *testing.T) {
		_, err := PlanWindows(100, 15, -1)
		assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	})

	t.Run("rejects duration shorter than window", func(t *testing.T) {
		_, err := PlanWindows(10, 15, 5)
		assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	})
}
