package compositor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ifuryst/reelwave/internal/config"
	"github.com/ifuryst/reelwave/internal/service/pipeline"
)

// FFmpeg renders narration and optional burned-in captions over footage
type FFmpeg struct {
	cfg    *config.CompositorConfig
	logger *zap.Logger
}

func NewFFmpeg(cfg *config.CompositorConfig, logger *zap.Logger) *FFmpeg {
	return &FFmpeg{cfg: cfg, logger: logger.With(zap.String("component", "compositor"))}
}

var _ pipeline.Compositor = (*FFmpeg)(nil)

// Composite loops the footage under the narration and cuts at the shorter
// stream, so the output runs as long as the audio.
func (f *FFmpeg) Composite(ctx context.Context, job pipeline.CompositeJob) error {
	if err := os.MkdirAll(filepath.Dir(job.OutputPath), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, config.Duration(f.cfg.Timeout))
	defer cancel()

	args := f.compositeArgs(job)
	if err := f.run(ctx, f.cfg.FFmpegPath, args); err != nil {
		os.Remove(job.OutputPath)
		return fmt.Errorf("ffmpeg composite: %w", err)
	}

	f.logger.Debug("Composite rendered",
		zap.String("output", job.OutputPath),
		zap.Bool("captions", job.CaptionPath != ""))
	return nil
}

func (f *FFmpeg) compositeArgs(job pipeline.CompositeJob) []string {
	args := []string{"-y",
		"-stream_loop", "-1", "-i", job.FootagePath,
		"-i", job.AudioPath,
	}
	if job.CaptionPath != "" {
		args = append(args, "-vf", f.subtitleFilter(job.CaptionPath))
	}
	return append(args,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "20",
		"-c:a", "aac",
		"-b:a", "192k",
		"-shortest",
		"-movflags", "+faststart",
		job.OutputPath,
	)
}

func (f *FFmpeg) subtitleFilter(srtPath string) string {
	return fmt.Sprintf(
		"subtitles=%s:force_style='FontName=%s,FontSize=%d,Bold=1,PrimaryColour=&H00FFFFFF,OutlineColour=&H00000000,Outline=2,Alignment=2,MarginV=%d'",
		escapeSubtitlePath(srtPath),
		f.cfg.Font,
		f.cfg.FontSize,
		f.cfg.MarginV,
	)
}

// ProbeDurationMs reads the container duration with ffprobe
func (f *FFmpeg) ProbeDurationMs(ctx context.Context, mediaPath string) (int64, error) {
	out, err := exec.CommandContext(ctx, f.cfg.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		mediaPath,
	).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", mediaPath, err)
	}
	return parseDurationMs(string(out))
}

func parseDurationMs(raw string) (int64, error) {
	seconds, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", strings.TrimSpace(raw), err)
	}
	if seconds <= 0 {
		return 0, fmt.Errorf("non-positive duration %v", seconds)
	}
	return int64(seconds*1000 + 0.5), nil
}

func (f *FFmpeg) run(ctx context.Context, bin string, args []string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s", err, tail(stderr.String(), 800))
	}
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func escapeSubtitlePath(path string) string {
	// the subtitles filter treats backslashes and colons as syntax
	path = strings.ReplaceAll(path, "\\", "/")
	path = strings.ReplaceAll(path, ":", "\\:")
	path = strings.ReplaceAll(path, "'", "\\'")
	return path
}
