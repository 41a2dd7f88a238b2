package video

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/gtmray/contents-bot/config"
)

// Encoder turns timed still frames plus an audio track into a video file.
type Encoder interface {
	Encode(ctx context.Context, frames []string, durations []float64, audioFile, outFile string) error
}

// FFmpegEncoder encodes with the ffmpeg binary on PATH.
type FFmpegEncoder struct {
	cfg    config.VideoConfig
	logger zerolog.Logger
}

// NewFFmpegEncoder creates an encoder using the codec settings of cfg.
func NewFFmpegEncoder(cfg config.VideoConfig, logger zerolog.Logger) *FFmpegEncoder {
	return &FFmpegEncoder{cfg: cfg, logger: logger.With().Str("component", "ffmpeg").Logger()}
}

// Encode feeds the frames to ffmpeg through a concat list that carries one
// duration per frame.
func (e *FFmpegEncoder) Encode(ctx context.Context, frames []string, durations []float64, audioFile, outFile string) error {
	if len(frames) == 0 || len(frames) != len(durations) {
		return fmt.Errorf("encode: %d frames for %d durations", len(frames), len(durations))
	}
	if err := os.MkdirAll(filepath.Dir(outFile), 0755); err != nil {
		return fmt.Errorf("create video dir: %w", err)
	}

	listFile := strings.TrimSuffix(outFile, filepath.Ext(outFile)) + "_frames.txt"
	if err := os.WriteFile(listFile, []byte(concatList(frames, durations)), 0644); err != nil {
		return err
	}
	defer os.Remove(listFile)

	cmd := exec.CommandContext(ctx, "ffmpeg", "-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
		"-i", audioFile,
		"-c:v", e.cfg.VideoCodec,
		"-vf", fmt.Sprintf("scale=%d:%d,setsar=1", e.cfg.Width, e.cfg.Height),
		"-r", fmt.Sprintf("%d", e.cfg.FPS),
		"-pix_fmt", "yuv420p",
		"-c:a", e.cfg.AudioCodec,
		"-b:a", e.cfg.AudioBitrate,
		"-shortest",
		"-movflags", "+faststart",
		outFile,
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	e.logger.Info().Int("frames", len(frames)).Str("out", outFile).Msg("running ffmpeg")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg encode: %w", err)
	}
	return nil
}

// concatList builds the concat demuxer script. The last frame is listed a
// second time because ffmpeg ignores the final duration directive otherwise.
func concatList(frames []string, durations []float64) string {
	var sb strings.Builder
	for i, f := range frames {
		fmt.Fprintf(&sb, "file '%s'\nduration %.6f\n", escapeQuote(absPath(f)), durations[i])
	}
	fmt.Fprintf(&sb, "file '%s'\n", escapeQuote(absPath(frames[len(frames)-1])))
	return sb.String()
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func escapeQuote(s string) string {
	return strings.ReplaceAll(s, "'", `'\''`)
}

// probeDuration asks ffprobe for the duration of any media file, in seconds.
func probeDuration(ctx context.Context, path string) (float64, error) {
	out, err := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	).Output()
	if err != nil {
		return 0, err
	}
	var dur float64
	_, err = fmt.Sscanf(strings.TrimSpace(string(out)), "%f", &dur)
	return dur, err
}
