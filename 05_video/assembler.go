package video

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	audio "github.com/gtmray/contents-bot/04_audio"
	"github.com/gtmray/contents-bot/config"
)

// ErrNoImages means the image folder held nothing usable.
var ErrNoImages = errors.New("no images found in the specified folder")

// Result describes the assembled video.
type Result struct {
	Path          string
	Frames        []string
	FrameSeconds  []float64
	AudioDuration float64
}

// Assembler builds the final video from a folder of images and one audio file
type Assembler struct {
	cfg     config.VideoConfig
	encoder Encoder
	logger  zerolog.Logger
}

// New creates a new Assembler
func New(cfg config.VideoConfig, encoder Encoder, logger zerolog.Logger) *Assembler {
	return &Assembler{
		cfg:     cfg,
		encoder: encoder,
		logger:  logger.With().Str("stage", "video").Logger(),
	}
}

// Run resizes the images, spreads them evenly over the audio and encodes.
func (a *Assembler) Run(ctx context.Context, imagesDir, audioFile, outFile string) (*Result, error) {
	a.logger.Info().
		Str("images", imagesDir).
		Str("audio", audioFile).
		Str("out", outFile).
		Int("width", a.cfg.Width).
		Int("height", a.cfg.Height).
		Msg("starting video creation")

	frames, err := Resize(imagesDir, a.cfg.Width, a.cfg.Height, a.logger)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("%s: %w", imagesDir, ErrNoImages)
	}

	total, err := audioSeconds(ctx, audioFile)
	if err != nil {
		return nil, fmt.Errorf("load audio: %w", err)
	}
	durations := Pace(total, len(frames))
	a.logger.Info().
		Float64("audio_sec", total).
		Float64("per_image_sec", durations[0]).
		Int("images", len(frames)).
		Msg("pacing images against audio")

	if err := a.encoder.Encode(ctx, frames, durations, audioFile, outFile); err != nil {
		return nil, err
	}
	a.logger.Info().Str("path", outFile).Msg("video file created")
	return &Result{Path: outFile, Frames: frames, FrameSeconds: durations, AudioDuration: total}, nil
}

// audioSeconds reads WAV headers directly and falls back to ffprobe for
// anything else.
func audioSeconds(ctx context.Context, path string) (float64, error) {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		d, err := audio.Duration(path)
		if err != nil {
			return 0, err
		}
		return d.Seconds(), nil
	}
	return probeDuration(ctx, path)
}
