package capture

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"media-pipeline/constant"
)

// FFmpegDeviceOpener acquires v4l2-style capture devices through ffmpeg.
// Facing modes map to configured device paths (front and back camera).
type FFmpegDeviceOpener struct {
	FFmpegPath string
	Devices    map[constant.FacingMode]string
}

func (o *FFmpegDeviceOpener) Open(_ context.Context, c Constraints) (Stream, error) {
	device, ok := o.Devices[c.Facing]
	if !ok {
		return nil, fmt.Errorf("no capture device configured for facing mode %q", c.Facing)
	}
	if _, err := os.Stat(device); err != nil {
		return nil, fmt.Errorf("capture device %s: %w", device, err)
	}
	return &ffmpegStream{
		ffmpeg:      o.FFmpegPath,
		device:      device,
		constraints: c,
	}, nil
}

type ffmpegStream struct {
	ffmpeg      string
	device      string
	constraints Constraints
	recording   *ffmpegRecorder
}

func (s *ffmpegStream) Stop() {
	if s.recording != nil {
		s.recording.Discard()
		s.recording = nil
	}
}

// NewFFmpegRecorder is the RecorderFactory for ffmpeg-acquired streams.
func NewFFmpegRecorder(s Stream) Recorder {
	fs, ok := s.(*ffmpegStream)
	if !ok {
		return &ffmpegRecorder{}
	}
	rec := &ffmpegRecorder{stream: fs}
	fs.recording = rec
	return rec
}

type ffmpegRecorder struct {
	stream  *ffmpegStream
	cmd     *exec.Cmd
	outPath string
	tempDir string
}

func (r *ffmpegRecorder) Start(ctx context.Context, bitrateBps int) error {
	if r.stream == nil {
		return ErrNoActiveStream
	}

	tempDir, err := os.MkdirTemp("", "capture-*")
	if err != nil {
		return err
	}
	r.tempDir = tempDir
	r.outPath = filepath.Join(tempDir, "recording.webm")

	// The -t guard is one second past the domain ceiling so the controller's
	// forced stop always wins.
	args := []string{
		"-y",
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", r.stream.constraints.Width, r.stream.constraints.Height),
		"-i", r.stream.device,
		"-c:v", "libvpx",
		"-b:v", strconv.Itoa(bitrateBps),
		"-t", strconv.Itoa(constant.MaxRecordingSeconds + 1),
		r.outPath,
	}

	cmd := exec.CommandContext(ctx, r.stream.ffmpeg, args...)
	if err := cmd.Start(); err != nil {
		os.RemoveAll(tempDir)
		r.tempDir = ""
		return fmt.Errorf("start device recorder: %w", err)
	}
	r.cmd = cmd
	return nil
}

func (r *ffmpegRecorder) Stop() ([]byte, error) {
	defer r.cleanup()

	if r.cmd == nil {
		return nil, ErrNoActiveStream
	}
	// Interrupt lets ffmpeg flush and close the container.
	if err := r.cmd.Process.Signal(os.Interrupt); err != nil {
		r.cmd.Process.Kill()
	}
	r.cmd.Wait()
	r.cmd = nil

	data, err := os.ReadFile(r.outPath)
	if err != nil {
		return nil, fmt.Errorf("read recorded output: %w", err)
	}
	return data, nil
}

func (r *ffmpegRecorder) Discard() {
	if r.cmd != nil && r.cmd.Process != nil {
		r.cmd.Process.Kill()
		r.cmd.Wait()
		r.cmd = nil
	}
	r.cleanup()
}

func (r *ffmpegRecorder) cleanup() {
	if r.tempDir != "" {
		os.RemoveAll(r.tempDir)
		r.tempDir = ""
	}
	if r.stream != nil && r.stream.recording == r {
		r.stream.recording = nil
	}
}
