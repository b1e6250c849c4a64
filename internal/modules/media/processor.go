package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/soundtrace/backend/internal/shared/apperr"
	"github.com/soundtrace/backend/internal/shared/tasks"
	"go.uber.org/zap"
)

// Processor handles FFmpeg operations
type Processor struct {
	ffmpegPath  string
	ffprobePath string
	runner      *tasks.Runner
	logger      *zap.Logger
}

// ProcessorConfig configures processor behavior
type ProcessorConfig struct {
	FFmpegPath  string
	FFprobePath string
}

// NewProcessor creates a new media processor. Empty tool paths fall
// back to the binaries on PATH.
func NewProcessor(cfg ProcessorConfig, runner *tasks.Runner, logger *zap.Logger) *Processor {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	return &Processor{
		ffmpegPath:  cfg.FFmpegPath,
		ffprobePath: cfg.FFprobePath,
		runner:      runner,
		logger:      logger,
	}
}

var outTimeRegex = regexp.MustCompile(`out_time_ms=(\d+)`)

// GetDuration returns the duration of a media file in seconds.
func (p *Processor) GetDuration(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "quiet",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}

	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return 0, apperr.DependencyMissing("ffprobe", err)
		}
		return 0, apperr.ExternalTool("ffprobe", "", err)
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, apperr.ExternalTool("ffprobe", "unparseable duration output", err)
	}
	return duration, nil
}

// ExtractAudioTrack demuxes the full audio track of a video into a
// 44.1 kHz stereo PCM wav. Progress is derived from ffmpeg's
// out_time_ms reports against the known total duration.
func (p *Processor) ExtractAudioTrack(taskID, videoPath, outputPath string, token *tasks.Token, onProgress func(fraction float64)) error {
	ctx := context.Background()
	totalDuration, err := p.GetDuration(ctx, videoPath)
	if err != nil {
		return err
	}

	args := []string{
		"-progress", "pipe:2",
		"-v", "warning",
		"-i", videoPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "44100",
		"-ac", "2",
		"-y",
		outputPath,
	}

	p.logger.Info("Extracting audio track",
		zap.String("task_id", taskID),
		zap.String("input", videoPath),
		zap.String("output", outputPath),
	)

	err = p.runner.Run(tasks.RunSpec{
		TaskID:  taskID,
		Tool:    "ffmpeg",
		Program: p.ffmpegPath,
		Args:    args,
		Token:   token,
		OnLine:  progressLineParser(totalDuration, onProgress),
	})
	if err != nil {
		os.Remove(outputPath)
		return err
	}
	return nil
}

// ExtractSlice extracts one audio window as 44.1 kHz stereo PCM.
// Slices are short, so the command runs to completion without
// progress reporting or process registration.
func (p *Processor) ExtractSlice(ctx context.Context, sourcePath, outPath string, startTime, duration float64) error {
	args := []string{
		"-i", sourcePath,
		"-ss", formatSeconds(startTime),
		"-t", formatSeconds(duration),
		"-acodec", "pcm_s16le",
		"-ar", "44100",
		"-ac", "2",
		"-y",
		outPath,
	}

	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return apperr.DependencyMissing("ffmpeg", err)
		}
		return apperr.ExternalTool("ffmpeg", string(output), err)
	}
	return nil
}

// GenerateThumbnail grabs a single frame at the given timestamp.
func (p *Processor) GenerateThumbnail(ctx context.Context, videoPath, outputPath string, timestamp float64) error {
	args := []string{
		"-ss", formatSeconds(timestamp),
		"-i", videoPath,
		"-vframes", "1",
		"-q:v", "2",
		"-y",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return apperr.ExternalTool("ffmpeg", string(output), err)
	}
	return nil
}

// GeneratePreview transcodes a video into a browser-playable 720p
// H.264/AAC mp4. Preview quality favors encode speed over fidelity.
// The partial output is removed on cancellation or failure.
func (p *Processor) GeneratePreview(taskID, inputPath, outputPath string, token *tasks.Token, onProgress func(fraction float64)) error {
	ctx := context.Background()
	totalDuration, err := p.GetDuration(ctx, inputPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("failed to create preview dir: %w", err)
	}

	args := p.buildPreviewArgs(inputPath, outputPath)

	p.logger.Info("Generating preview",
		zap.String("task_id", taskID),
		zap.String("input", inputPath),
		zap.Strings("args", args),
	)

	err = p.runner.Run(tasks.RunSpec{
		TaskID:  taskID,
		Tool:    "ffmpeg",
		Program: p.ffmpegPath,
		Args:    args,
		Token:   token,
		OnLine:  progressLineParser(totalDuration, onProgress),
	})
	if err != nil {
		os.Remove(outputPath)
		return err
	}
	return nil
}

func (p *Processor) buildPreviewArgs(inputPath, outputPath string) []string {
	args := []string{
		"-progress", "pipe:2",
		"-v", "warning",
		"-i", inputPath,
		// 720p is enough for preview playback and much faster to encode.
		"-vf", "scale=-2:720",
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-crf", "28",
		"-threads", "0",
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		"-y",
		outputPath,
	}
	return args
}

// EncodeSegment re-encodes one time range with the first frame forced
// to a keyframe, so the resulting pieces concatenate cleanly.
func (p *Processor) EncodeSegment(taskID, inputPath, outputPath string, start, end float64, token *tasks.Token) error {
	args := []string{
		"-v", "warning",
		"-ss", formatSeconds(start),
		"-i", inputPath,
		"-t", formatSeconds(end - start),
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "18",
		"-threads", "0",
		"-force_key_frames", "expr:eq(n,0)",
		"-c:a", "aac",
		"-b:a", "192k",
		"-avoid_negative_ts", "make_zero",
	}
	if isMP4(outputPath) {
		args = append(args, "-movflags", "+faststart")
	}
	args = append(args, "-y", outputPath)

	err := p.runner.Run(tasks.RunSpec{
		TaskID:  taskID,
		Tool:    "ffmpeg",
		Program: p.ffmpegPath,
		Args:    args,
		Token:   token,
	})
	if err != nil {
		os.Remove(outputPath)
		return err
	}
	return nil
}

// concatCopy merges pre-encoded segment files via the concat demuxer
// without re-encoding.
func (p *Processor) concatCopy(taskID string, segmentFiles []string, outputPath string, token *tasks.Token) error {
	listPath := filepath.Join(filepath.Dir(segmentFiles[0]), "concat_list.txt")
	var list strings.Builder
	for _, f := range segmentFiles {
		escaped := strings.ReplaceAll(strings.ReplaceAll(f, `\`, "/"), "'", `'\''`)
		fmt.Fprintf(&list, "file '%s'\n", escaped)
	}
	if err := os.WriteFile(listPath, []byte(list.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write concat list: %w", err)
	}

	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-y",
		outputPath,
	}

	err := p.runner.Run(tasks.RunSpec{
		TaskID:  taskID,
		Tool:    "ffmpeg",
		Program: p.ffmpegPath,
		Args:    args,
		Token:   token,
	})
	if err != nil {
		os.Remove(outputPath)
		return err
	}
	return nil
}

// progressLineParser converts ffmpeg -progress output lines into a
// completion fraction against the total duration.
func progressLineParser(totalDuration float64, onProgress func(float64)) func(string) {
	if onProgress == nil || totalDuration <= 0 {
		return nil
	}
	return func(line string) {
		matches := outTimeRegex.FindStringSubmatch(line)
		if len(matches) != 2 {
			return
		}
		us, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return
		}
		fraction := (float64(us) / 1e6) / totalDuration
		if fraction > 1 {
			fraction = 1
		}
		onProgress(fraction)
	}
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func isMP4(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".mp4") ||
		strings.HasSuffix(lower, ".m4v") ||
		strings.HasSuffix(lower, ".mov")
}

// MediaInfo contains metadata about a media file
type MediaInfo struct {
	Format     string  `json:"format"`
	Duration   float64 `json:"duration"`
	BitRate    int     `json:"bitRate"`
	VideoCodec string  `json:"videoCodec,omitempty"`
	AudioCodec string  `json:"audioCodec,omitempty"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	FrameRate  float64 `json:"frameRate,omitempty"`
}

// ffprobeOutput represents the JSON output from ffprobe
type ffprobeOutput struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width,omitempty"`
		Height       int    `json:"height,omitempty"`
		RFrameRate   string `json:"r_frame_rate,omitempty"`
		AvgFrameRate string `json:"avg_frame_rate,omitempty"`
	} `json:"streams"`
}

// Probe extracts metadata from a media file
func (p *Processor) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		p.logger.Error("ffprobe failed", zap.Error(err), zap.String("path", path))
		if errors.Is(err, exec.ErrNotFound) {
			return nil, apperr.DependencyMissing("ffprobe", err)
		}
		return nil, apperr.ExternalTool("ffprobe", "", err)
	}

	var probeData ffprobeOutput
	if err := json.Unmarshal(output, &probeData); err != nil {
		return nil, apperr.ExternalTool("ffprobe", "unparseable probe output", err)
	}

	info := &MediaInfo{
		Format: probeData.Format.FormatName,
	}
	if probeData.Format.Duration != "" {
		if d, err := strconv.ParseFloat(probeData.Format.Duration, 64); err == nil {
			info.Duration = d
		}
	}
	if probeData.Format.BitRate != "" {
		if br, err := strconv.Atoi(probeData.Format.BitRate); err == nil {
			info.BitRate = br
		}
	}

	for _, stream := range probeData.Streams {
		switch stream.CodecType {
		case "video":
			info.VideoCodec = stream.CodecName
			info.Width = stream.Width
			info.Height = stream.Height

			// Frame rate comes as "30000/1001" or "30/1".
			frameRateStr := stream.AvgFrameRate
			if frameRateStr == "" || frameRateStr == "0/0" {
				frameRateStr = stream.RFrameRate
			}
			if frameRateStr != "" && frameRateStr != "0/0" {
				parts := strings.Split(frameRateStr, "/")
				if len(parts) == 2 {
					num, _ := strconv.ParseFloat(parts[0], 64)
					den, _ := strconv.ParseFloat(parts[1], 64)
					if den > 0 {
						info.FrameRate = num / den
					}
				}
			}
		case "audio":
			info.AudioCodec = stream.CodecName
		}
	}

	return info, nil
}
