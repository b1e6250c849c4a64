package fingerprint

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"os/exec"

	"github.com/soundtrace/backend/internal/shared/apperr"
	"go.uber.org/zap"
)

// Extractor produces raw fingerprints from audio files using the
// Chromaprint fpcalc binary.
type Extractor struct {
	fpcalcPath string
	logger     *zap.Logger
}

// NewExtractor creates a fingerprint extractor. An empty path falls
// back to "fpcalc" on PATH.
func NewExtractor(fpcalcPath string, logger *zap.Logger) *Extractor {
	if fpcalcPath == "" {
		fpcalcPath = "fpcalc"
	}
	return &Extractor{
		fpcalcPath: fpcalcPath,
		logger:     logger,
	}
}

// fpcalc -json output shape.
type fpcalcResult struct {
	Duration    float64 `json:"duration"`
	Fingerprint []int32 `json:"fingerprint"`
}

// Extract runs fpcalc on the given audio file and returns the raw
// fingerprint bytes plus the audio duration in seconds.
func (e *Extractor) Extract(ctx context.Context, audioPath string) ([]byte, float64, error) {
	cmd := exec.CommandContext(ctx, e.fpcalcPath, "-raw", "-json", audioPath)

	output, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, 0, apperr.DependencyMissing("fpcalc", err)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, 0, apperr.ExternalTool("fpcalc", string(exitErr.Stderr), err)
		}
		return nil, 0, apperr.ExternalTool("fpcalc", "", err)
	}

	var result fpcalcResult
	if err := json.Unmarshal(output, &result); err != nil {
		e.logger.Warn("Unparseable fpcalc output", zap.String("path", audioPath), zap.Error(err))
		return nil, 0, apperr.ExternalTool("fpcalc", "unparseable output", err)
	}

	return EncodeRaw(result.Fingerprint), result.Duration, nil
}

// EncodeRaw serializes a raw fingerprint as little-endian bytes, the
// storage and comparison format used throughout the system.
func EncodeRaw(values []int32) []byte {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(v))
	}
	return buf
}
