package detection

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/soundtrace/backend/internal/shared/apperr"
	"github.com/soundtrace/backend/internal/shared/tasks"
	"go.uber.org/zap"
)

// Config holds person detection settings.
type Config struct {
	DetectorPath        string // person-detector binary
	ModelPath           string
	ConfidenceThreshold float64
	FrameInterval       int
	MinSegmentDuration  float64
	MaxGapDuration      float64
}

// PersonSegment is one continuous span where a person was detected.
// Confidence is the maximum across the frames folded into the span.
type PersonSegment struct {
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	Confidence float64 `json:"confidence"`
}

// Result mirrors the JSON file the detector writes.
type Result struct {
	Segments        []PersonSegment `json:"segments"`
	TotalFrames     uint64          `json:"total_frames"`
	ProcessedFrames uint64          `json:"processed_frames"`
	DetectionFrames uint64          `json:"detection_frames"`
}

// Detector drives the external person-detector tool, which samples
// video frames through a YOLO model and merges detections into time
// segments.
type Detector struct {
	cfg    Config
	runner *tasks.Runner
	logger *zap.Logger
}

// NewDetector creates a person detector.
func NewDetector(cfg Config, runner *tasks.Runner, logger *zap.Logger) *Detector {
	if cfg.DetectorPath == "" {
		cfg.DetectorPath = "person-detector"
	}
	return &Detector{
		cfg:    cfg,
		runner: runner,
		logger: logger,
	}
}

// Detect runs detection over videoPath, writing the result JSON into
// outputDir under a task-unique name so concurrent runs never clash.
// device is "cpu", "gpu" or "auto".
func (d *Detector) Detect(taskID, videoPath, outputDir, device string, token *tasks.Token, onProgress func(fraction float64, message string)) (*Result, error) {
	if _, err := os.Stat(videoPath); err != nil {
		return nil, apperr.NotFound("video file %s", videoPath)
	}
	if d.cfg.ModelPath != "" {
		if _, err := os.Stat(d.cfg.ModelPath); err != nil {
			return nil, apperr.DependencyMissing("detection model", err)
		}
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	outputJSON := filepath.Join(outputDir, fmt.Sprintf("%s_detection.json", taskID))

	args := []string{
		"--video_path", videoPath,
		"--model_path", d.cfg.ModelPath,
		"--output_json", outputJSON,
		"--confidence", strconv.FormatFloat(d.cfg.ConfidenceThreshold, 'f', -1, 64),
		"--frame_interval", strconv.Itoa(d.cfg.FrameInterval),
		"--device", device,
		"--max_gap_duration", strconv.FormatFloat(d.cfg.MaxGapDuration, 'f', -1, 64),
		"--min_segment_duration", strconv.FormatFloat(d.cfg.MinSegmentDuration, 'f', -1, 64),
	}

	var env []string
	if device == "cpu" {
		env = append(env, "CUDA_VISIBLE_DEVICES=-1")
	}

	d.logger.Info("Starting person detection",
		zap.String("task_id", taskID),
		zap.String("video", videoPath),
		zap.String("device", device),
		zap.Float64("confidence", d.cfg.ConfidenceThreshold),
		zap.Int("frame_interval", d.cfg.FrameInterval),
	)

	if onProgress != nil {
		onProgress(0.0, "Preparing person detection")
	}

	err := d.runner.Run(tasks.RunSpec{
		TaskID:  taskID,
		Tool:    "person-detector",
		Program: d.cfg.DetectorPath,
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
		os.Remove(outputJSON)
		return nil, err
	}

	if onProgress != nil {
		onProgress(1.0, "Detection complete")
	}

	data, err := os.ReadFile(outputJSON)
	if err != nil {
		return nil, apperr.ExternalTool("person-detector", "result file missing", err)
	}
	defer os.Remove(outputJSON)

	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, apperr.ExternalTool("person-detector", "unparseable result file", err)
	}

	d.logger.Info("Person detection finished",
		zap.String("task_id", taskID),
		zap.Int("segments", len(result.Segments)),
		zap.Uint64("total_frames", result.TotalFrames),
		zap.Uint64("processed_frames", result.ProcessedFrames),
	)
	return &result, nil
}
