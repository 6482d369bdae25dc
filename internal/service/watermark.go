package service

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jmylchreest/pawtalk-api/internal/constants"
)

// WatermarkOptions describes the text overlay.
type WatermarkOptions struct {
	Text     string
	FontSize int
	Opacity  float64
	Position string // top-left, top-right, bottom-left, bottom-right, center
}

// Watermarker overlays text on a video. It is best effort: callers fall back to
// the original file when it is unavailable or fails.
type Watermarker interface {
	Available(ctx context.Context) bool
	// Apply writes a watermarked copy next to input and returns its path.
	Apply(ctx context.Context, input string, opts WatermarkOptions) (string, error)
}

// FFmpegWatermarker applies watermarks with the ffmpeg drawtext filter.
type FFmpegWatermarker struct {
	path   string
	logger *slog.Logger

	once      sync.Once
	available bool
}

// NewFFmpegWatermarker creates a watermarker using the ffmpeg binary at path.
func NewFFmpegWatermarker(path string, logger *slog.Logger) *FFmpegWatermarker {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpegWatermarker{
		path:   path,
		logger: logger.With("component", "watermark"),
	}
}

// Available probes for the binary once and caches the answer.
func (w *FFmpegWatermarker) Available(ctx context.Context) bool {
	w.once.Do(func() {
		if _, err := exec.LookPath(w.path); err != nil {
			w.logger.Warn("ffmpeg not found, videos will not be watermarked", "path", w.path)
			return
		}
		if err := exec.CommandContext(ctx, w.path, "-hide_banner", "-version").Run(); err != nil {
			w.logger.Warn("ffmpeg probe failed, videos will not be watermarked", "error", err)
			return
		}
		w.available = true
	})
	return w.available
}

// Apply runs ffmpeg with a drawtext overlay, copying the audio stream untouched.
func (w *FFmpegWatermarker) Apply(ctx context.Context, input string, opts WatermarkOptions) (string, error) {
	if opts.Text == "" {
		return "", fmt.Errorf("%w: watermark text is empty", ErrInvalidInput)
	}

	ext := filepath.Ext(input)
	output := strings.TrimSuffix(input, ext) + "_wm" + ext

	cmd := exec.CommandContext(ctx, w.path,
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", input,
		"-vf", DrawTextFilter(opts),
		"-codec:a", "copy",
		output,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		_ = os.Remove(output)
		return "", fmt.Errorf("ffmpeg failed: %w, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}
	return output, nil
}

// DrawTextFilter builds the ffmpeg drawtext expression for opts.
func DrawTextFilter(opts WatermarkOptions) string {
	if opts.FontSize <= 0 {
		opts.FontSize = constants.WatermarkFontSize
	}
	if opts.Opacity <= 0 || opts.Opacity > 1 {
		opts.Opacity = constants.WatermarkOpacity
	}

	const margin = "20"
	var x, y string
	switch opts.Position {
	case "top-left":
		x, y = margin, margin
	case "top-right":
		x, y = "w-tw-"+margin, margin
	case "bottom-left":
		x, y = margin, "h-th-"+margin
	case "center":
		x, y = "(w-tw)/2", "(h-th)/2"
	default:
		x, y = "w-tw-"+margin, "h-th-"+margin
	}

	return fmt.Sprintf("drawtext=text='%s':fontsize=%d:fontcolor=white@%.2f:shadowcolor=black@%.2f:shadowx=2:shadowy=2:x=%s:y=%s",
		escapeDrawText(opts.Text), opts.FontSize, opts.Opacity, opts.Opacity/2, x, y)
}

var drawTextEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `'\''`,
	`:`, `\:`,
	`%`, `\%`,
)

func escapeDrawText(s string) string {
	return drawTextEscaper.Replace(s)
}
