// Package media extracts thumbnails from finished recordings.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"time"

	"github.com/reelsync/reelsync-agent/internal/logging"
)

const (
	maxStderrBytes    = 8 * 1024
	maxThumbnailBytes = 1 << 20
	thumbnailWidth    = 320
)

type Thumbnailer interface {
	// Thumbnail returns a JPEG frame of the video, or nil when none can be made.
	Thumbnail(ctx context.Context, videoPath string) ([]byte, error)
}

type FFmpegThumbnailer struct {
	bin    string
	offset time.Duration
	logger *slog.Logger
}

// NewFFmpegThumbnailer resolves the ffmpeg binary. An empty name searches PATH.
func NewFFmpegThumbnailer(bin string, logger *slog.Logger) (*FFmpegThumbnailer, error) {
	if bin == "" {
		bin = "ffmpeg"
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	return &FFmpegThumbnailer{bin: path, offset: 500 * time.Millisecond, logger: logger}, nil
}

func (f *FFmpegThumbnailer) args(videoPath string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-ss", strconv.FormatFloat(f.offset.Seconds(), 'f', 3, 64),
		"-i", videoPath,
		"-frames:v", "1",
		"-vf", "scale=" + strconv.Itoa(thumbnailWidth) + ":-2",
		"-f", "image2pipe", "-vcodec", "mjpeg",
		"pipe:1",
	}
}

func (f *FFmpegThumbnailer) Thumbnail(ctx context.Context, videoPath string) ([]byte, error) {
	start := time.Now()
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.bin, f.args(videoPath)...)
	cmd.Stdout = &capWriter{w: &stdout, limit: maxThumbnailBytes}
	cmd.Stderr = &tailWriter{w: &stderr, limit: maxStderrBytes}

	if err := cmd.Run(); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		f.logger.Warn("thumbnail extraction failed",
			"path", logging.SanitizePath(videoPath),
			"exit_code", exitCode,
			"stderr_tail", stderr.String(),
		)
		return nil, fmt.Errorf("ffmpeg exited %d: %w", exitCode, err)
	}
	if stdout.Len() == 0 {
		return nil, nil
	}
	f.logger.Debug("thumbnail extracted",
		"path", logging.SanitizePath(videoPath),
		"bytes", stdout.Len(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return stdout.Bytes(), nil
}

// StubThumbnailer produces no thumbnails. It is used when ffmpeg is missing.
type StubThumbnailer struct {
	logger *slog.Logger
}

func NewStubThumbnailer(logger *slog.Logger) *StubThumbnailer {
	return &StubThumbnailer{logger: logger}
}

func (s *StubThumbnailer) Thumbnail(ctx context.Context, videoPath string) ([]byte, error) {
	s.logger.Debug("thumbnail stub: no extractor configured", "path", logging.SanitizePath(videoPath))
	return nil, nil
}

// tailWriter keeps only the last limit bytes written.
type tailWriter struct {
	w     *bytes.Buffer
	limit int
}

func (t *tailWriter) Write(p []byte) (int, error) {
	n := len(p)
	t.w.Write(p)
	if t.w.Len() > t.limit {
		b := t.w.Bytes()
		tail := append([]byte(nil), b[len(b)-t.limit:]...)
		t.w.Reset()
		t.w.Write(tail)
	}
	return n, nil
}

// capWriter fails once more than limit bytes arrive.
type capWriter struct {
	w     *bytes.Buffer
	limit int
}

func (c *capWriter) Write(p []byte) (int, error) {
	if c.w.Len()+len(p) > c.limit {
		return 0, fmt.Errorf("thumbnail exceeds %d bytes", c.limit)
	}
	return c.w.Write(p)
}
