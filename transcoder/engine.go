package transcoder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"media-pipeline/constant"
	"media-pipeline/dto"
	"media-pipeline/pkg/runner"
)

// Engine wraps the ffmpeg runtime behind a process-wide lazy lifecycle:
// initialized at most once, never torn down, and a failed initialization is
// cached so later calls fail fast instead of re-attempting a known-broken
// load. The scratch directory is the engine's private filesystem; every call
// clears its own files on success and on failure.
type Engine struct {
	ffmpegPath  string
	ffprobePath string
	runner      runner.Runner

	once        sync.Once
	initErr     error
	scratchRoot string
}

func NewEngine(ffmpegPath, ffprobePath string, r runner.Runner) *Engine {
	return &Engine{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		runner:      r,
	}
}

func (e *Engine) init() error {
	e.once.Do(func() {
		root, err := os.MkdirTemp("", "transcoder-*")
		if err != nil {
			e.initErr = fmt.Errorf("create transcoder scratch dir: %w", err)
			return
		}
		e.scratchRoot = root
	})
	return e.initErr
}

// Compress re-encodes the asset with the given profile and returns a new
// asset in the canonical output format. Fractional progress (0-100) is
// reported through onProgress. Failures are returned to the caller; the
// caller decides whether they are fatal.
func (e *Engine) Compress(ctx context.Context, asset dto.MediaAsset, profile QualityProfile, onProgress func(percent int)) (dto.MediaAsset, error) {
	if err := e.init(); err != nil {
		return dto.MediaAsset{}, err
	}

	workDir, err := os.MkdirTemp(e.scratchRoot, "compress-*")
	if err != nil {
		return dto.MediaAsset{}, err
	}
	defer os.RemoveAll(workDir)

	inputPath := filepath.Join(workDir, "input"+extensionFor(asset.MimeType))
	outputPath := filepath.Join(workDir, "output.mp4")
	progressPath := filepath.Join(workDir, "progress.txt")

	if err := os.WriteFile(inputPath, asset.Data, 0644); err != nil {
		return dto.MediaAsset{}, err
	}

	duration, err := e.probeDuration(ctx, inputPath)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("could not probe input duration, progress will be coarse")
		duration = 0
	}

	stopProgress := make(chan struct{})
	if onProgress != nil {
		go watchProgress(progressPath, duration, onProgress, stopProgress)
	}

	args := []string{
		"-y",
		"-i", inputPath,
		"-c:v", "libx264",
		"-crf", strconv.Itoa(profile.CRF),
		"-preset", profile.Preset,
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		"-progress", progressPath,
		outputPath,
	}
	_, runErr := e.runner.Run(ctx, e.ffmpegPath, args...)
	close(stopProgress)
	if runErr != nil {
		return dto.MediaAsset{}, runErr
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		return dto.MediaAsset{}, fmt.Errorf("read compressed output: %w", err)
	}
	if onProgress != nil {
		onProgress(100)
	}

	return dto.NewMediaAsset(data, "video/mp4", asset.Origin), nil
}

// ExtractFrame decodes exactly one frame at the given offset, scaled to the
// fixed target width, and returns it as a still image. The default offset
// skips the first second to avoid blank leading frames.
func (e *Engine) ExtractFrame(ctx context.Context, asset dto.MediaAsset, seekSeconds float64) (dto.MediaAsset, error) {
	if err := e.init(); err != nil {
		return dto.MediaAsset{}, err
	}

	workDir, err := os.MkdirTemp(e.scratchRoot, "frame-*")
	if err != nil {
		return dto.MediaAsset{}, err
	}
	defer os.RemoveAll(workDir)

	if seekSeconds <= 0 {
		seekSeconds = 1.0
	}

	inputPath := filepath.Join(workDir, "input"+extensionFor(asset.MimeType))
	outputPath := filepath.Join(workDir, "frame.jpg")

	if err := os.WriteFile(inputPath, asset.Data, 0644); err != nil {
		return dto.MediaAsset{}, err
	}

	args := []string{
		"-y",
		"-ss", fmt.Sprintf("%.2f", seekSeconds),
		"-i", inputPath,
		"-vframes", "1",
		"-vf", fmt.Sprintf("scale=%d:-2", constant.FrameTargetWidth),
		"-q:v", "2",
		outputPath,
	}
	if _, err := e.runner.Run(ctx, e.ffmpegPath, args...); err != nil {
		return dto.MediaAsset{}, err
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		return dto.MediaAsset{}, fmt.Errorf("read extracted frame: %w", err)
	}

	return dto.NewMediaAsset(data, "image/jpeg", asset.Origin), nil
}

func (e *Engine) probeDuration(ctx context.Context, inputPath string) (float64, error) {
	output, err := e.runner.Run(ctx, e.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		inputPath,
	)
	if err != nil {
		return 0, err
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse probed duration: %w", err)
	}
	return duration, nil
}

// watchProgress polls the key=value progress file ffmpeg appends to and maps
// out_time against the probed duration.
func watchProgress(path string, durationSeconds float64, onProgress func(int), stop <-chan struct{}) {
	if durationSeconds <= 0 {
		return
	}

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	last := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			outSeconds, ok := readOutTime(path)
			if !ok {
				continue
			}
			percent := int(outSeconds / durationSeconds * 100)
			if percent > 100 {
				percent = 100
			}
			if percent > last {
				last = percent
				onProgress(percent)
			}
		}
	}
}

func readOutTime(path string) (float64, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	var outUs int64 = -1
	for _, line := range strings.Split(string(data), "\n") {
		if value, ok := strings.CutPrefix(line, "out_time_us="); ok {
			if parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
				outUs = parsed
			}
		}
	}
	if outUs < 0 {
		return 0, false
	}
	return float64(outUs) / 1e6, true
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "video/webm":
		return ".webm"
	case "video/quicktime":
		return ".mov"
	default:
		return ".mp4"
	}
}
