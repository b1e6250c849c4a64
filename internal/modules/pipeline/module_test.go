package pipeline

import (
	"testing"

	"github.com/soundtrace/backend/internal/shared/apperr"
	"github.com/stretchr/testify/assert"
)

func TestTaskID(t *testing.T) {
	tests := []struct {
		taskType string
		want     string
	}{
		{TypeMatchScan, "scan_p1"},
		{TypeSeparationRun, "sep_p1"},
		{TypeDetectionRun, "det_p1"},
		{TypePreviewRender, "preview_p1"},
		{TypeExportCut, "export_p1"},
	}
	for _, tt := range tests {
		t.Run(tt.taskType, func(t *testing.T) {
			assert.Equal(t, tt.want, TaskID(tt.taskType, "p1"))
		})
	}
}

func TestTaskIDStablePerProject(t *testing.T) {
	// Cancellation is addressed by task id, so re-running a stage for
	// the same project must produce the same id.
	first := TaskID(TypeMatchScan, "abc")
	second := TaskID(TypeMatchScan, "abc")
	assert.Equal(t, first, second)
	assert.NotEqual(t, first, TaskID(TypeMatchScan, "def"))
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "CANCELLED", errorCode(apperr.Cancelled("scan_p1")))
	assert.Equal(t, "PROCESSING_ERROR", errorCode(assert.AnError))
}
