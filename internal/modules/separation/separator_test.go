package separation

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/soundtrace/backend/internal/shared/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixedProber struct {
	duration float64
}

func (p *fixedProber) GetDuration(ctx context.Context, path string) (float64, error) {
	return p.duration, nil
}

func newTestSeparator(t *testing.T, cfg Config) *Separator {
	t.Helper()
	logger := zap.NewNop()
	runner := tasks.NewRunner(tasks.NewRegistry(logger), logger)
	return NewSeparator(cfg, runner, &fixedProber{duration: 187.5}, logger)
}

func touch(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	return path
}

func TestLocateStemsKnownPattern(t *testing.T) {
	dir := t.TempDir()
	sep := newTestSeparator(t, Config{
		ModelFilename: "UVR-MDX-NET-Inst_HQ_3.onnx",
		OutputFormat:  "wav",
	})

	vocals := touch(t, dir, "song_(Vocals)_UVR-MDX-NET-Inst_HQ_3.wav")
	accomp := touch(t, dir, "song_(Instrumental)_UVR-MDX-NET-Inst_HQ_3.wav")

	result, err := sep.locateStems("/music/song.wav", dir)
	require.NoError(t, err)
	assert.Equal(t, vocals, result.VocalsPath)
	assert.Equal(t, accomp, result.AccompanimentPath)
	assert.Equal(t, 187.5, result.Duration)
}

func TestLocateStemsWithoutModelSuffix(t *testing.T) {
	dir := t.TempDir()
	sep := newTestSeparator(t, Config{
		ModelFilename: "model.onnx",
		OutputFormat:  "wav",
	})

	vocals := touch(t, dir, "track_(Vocals).wav")
	touch(t, dir, "track_(Instrumental).wav")

	result, err := sep.locateStems("/in/track.wav", dir)
	require.NoError(t, err)
	assert.Equal(t, vocals, result.VocalsPath)
}

func TestLocateStemsFuzzyFallback(t *testing.T) {
	dir := t.TempDir()
	sep := newTestSeparator(t, Config{
		ModelFilename: "model.onnx",
		OutputFormat:  "wav",
	})

	// Names no candidate pattern predicts, but containing the stem
	// and a recognizable keyword.
	vocals := touch(t, dir, "mix_vocals_only.wav")
	accomp := touch(t, dir, "mix_instrumental_only.wav")

	result, err := sep.locateStems("/in/mix.wav", dir)
	require.NoError(t, err)
	assert.Equal(t, vocals, result.VocalsPath)
	assert.Equal(t, accomp, result.AccompanimentPath)
}

func TestLocateStemsIgnoresOtherTracksOutputs(t *testing.T) {
	dir := t.TempDir()
	sep := newTestSeparator(t, Config{
		ModelFilename: "model.onnx",
		OutputFormat:  "wav",
	})

	// Output of a different source file must not be picked up.
	touch(t, dir, "other_(Vocals).wav")

	_, err := sep.locateStems("/in/mine.wav", dir)
	assert.Error(t, err)
}

func TestLocateStemsMissingVocals(t *testing.T) {
	dir := t.TempDir()
	sep := newTestSeparator(t, Config{
		ModelFilename: "model.onnx",
		OutputFormat:  "wav",
	})

	_, err := sep.locateStems("/in/empty.wav", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no vocals output")
}

func TestFuzzyFindMatchesCaseInsensitive(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "song_VOICE_part.wav")

	got := fuzzyFind(dir, []string{"song_VOICE_part.wav"}, "song", "vocal", "voice")
	assert.Equal(t, filepath.Join(dir, "song_VOICE_part.wav"), got)
}
