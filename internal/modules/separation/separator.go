package separation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/soundtrace/backend/internal/shared/apperr"
	"github.com/soundtrace/backend/internal/shared/tasks"
	"go.uber.org/zap"
)

// Config holds vocal separation settings.
type Config struct {
	SeparatorPath string // audio-separator binary
	ModelFilename string
	ModelDir      string
	OutputFormat  string // wav, flac, mp3
}

// Result points at the two stems produced by a separation run.
type Result struct {
	VocalsPath        string  `json:"vocalsPath"`
	AccompanimentPath string  `json:"accompanimentPath"`
	Duration          float64 `json:"duration"`
}

// DurationProber reports the duration of an audio file.
type DurationProber interface {
	GetDuration(ctx context.Context, path string) (float64, error)
}

// Separator drives the external audio-separator tool to split an
// audio track into vocals and accompaniment.
type Separator struct {
	cfg    Config
	runner *tasks.Runner
	prober DurationProber
	logger *zap.Logger
}

// NewSeparator creates a vocal separator.
func NewSeparator(cfg Config, runner *tasks.Runner, prober DurationProber, logger *zap.Logger) *Separator {
	if cfg.SeparatorPath == "" {
		cfg.SeparatorPath = "audio-separator"
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "wav"
	}
	return &Separator{
		cfg:    cfg,
		runner: runner,
		prober: prober,
		logger: logger,
	}
}

// Separate runs the separation tool on audioPath, writing both stems
// into outputDir. The tool reports progress as tqdm-style percentage
// lines on stderr. A forced-CPU run disables GPU via the environment.
func (s *Separator) Separate(taskID, audioPath, outputDir string, useGPU bool, token *tasks.Token, onProgress func(fraction float64, message string)) (*Result, error) {
	if _, err := os.Stat(audioPath); err != nil {
		return nil, apperr.NotFound("audio file %s", audioPath)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	args := []string{
		audioPath,
		"--model_filename", s.cfg.ModelFilename,
		"--output_dir", outputDir,
		"--output_format", s.cfg.OutputFormat,
	}
	if s.cfg.ModelDir != "" {
		args = append(args, "--model_file_dir", s.cfg.ModelDir)
	}

	var env []string
	if !useGPU {
		// An empty value does not disable CUDA; it has to be "-1".
		env = append(env, "CUDA_VISIBLE_DEVICES=-1")
	}

	s.logger.Info("Starting vocal separation",
		zap.String("task_id", taskID),
		zap.String("audio", audioPath),
		zap.String("model", s.cfg.ModelFilename),
		zap.Bool("use_gpu", useGPU),
	)

	if onProgress != nil {
		onProgress(0.0, "Preparing vocal separation")
	}

	err := s.runner.Run(tasks.RunSpec{
		TaskID:  taskID,
		Tool:    "audio-separator",
		Program: s.cfg.SeparatorPath,
		Args:    args,
		Env:     env,
		Token:   token,
		OnLine: func(line string) {
			if fraction, ok := tasks.ParsePercent(line); ok && onProgress != nil {
				onProgress(fraction, line)
			}
		},
	})
	if err != nil {
		return nil, err
	}

	if onProgress != nil {
		onProgress(1.0, "Separation complete")
	}

	return s.locateStems(audioPath, outputDir)
}

// locateStems finds the vocals and accompaniment files the tool wrote.
// Output names vary by model, so known patterns are tried first and a
// fuzzy directory scan is the fallback.
func (s *Separator) locateStems(audioPath, outputDir string) (*Result, error) {
	stem := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	ext := s.cfg.OutputFormat
	modelName := strings.NewReplacer(".onnx", "", ".ckpt", "", ".yaml", "").Replace(s.cfg.ModelFilename)

	vocalsCandidates := []string{
		fmt.Sprintf("%s_(Vocals)_%s.%s", stem, modelName, ext),
		fmt.Sprintf("%s_(Vocals).%s", stem, ext),
		fmt.Sprintf("%s_Vocals.%s", stem, ext),
	}
	accompanimentCandidates := []string{
		fmt.Sprintf("%s_(Instrumental)_%s.%s", stem, modelName, ext),
		fmt.Sprintf("%s_(Instrumental).%s", stem, ext),
		fmt.Sprintf("%s_Instrumental.%s", stem, ext),
	}

	entries, _ := os.ReadDir(outputDir)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}

	vocalsPath := findFirst(outputDir, vocalsCandidates)
	if vocalsPath == "" {
		vocalsPath = fuzzyFind(outputDir, names, stem, "vocal", "voice")
	}
	if vocalsPath == "" {
		return nil, apperr.ExternalTool("audio-separator",
			fmt.Sprintf("no vocals output found, directory contains %v", names), nil)
	}

	accompanimentPath := findFirst(outputDir, accompanimentCandidates)
	if accompanimentPath == "" {
		accompanimentPath = fuzzyFind(outputDir, names, stem, "instrument", "no_vocal", "no vocal")
	}

	duration, err := s.prober.GetDuration(context.Background(), vocalsPath)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Vocal separation finished",
		zap.String("vocals", vocalsPath),
		zap.String("accompaniment", accompanimentPath),
		zap.Float64("duration", duration),
	)

	return &Result{
		VocalsPath:        vocalsPath,
		AccompanimentPath: accompanimentPath,
		Duration:          duration,
	}, nil
}

func findFirst(dir string, names []string) string {
	for _, name := range names {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func fuzzyFind(dir string, names []string, stem string, keywords ...string) string {
	for _, name := range names {
		if !strings.Contains(name, stem) {
			continue
		}
		lower := strings.ToLower(name)
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				return filepath.Join(dir, name)
			}
		}
	}
	return ""
}
