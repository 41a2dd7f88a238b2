package images

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/h2non/bimg"
	"github.com/rs/zerolog"
)

// Stage runs the image backend over every prompt, one after the other, and
// writes the results as PNG files.
type Stage struct {
	backend Backend
	logger  zerolog.Logger
}

// NewStage creates the image stage
func NewStage(backend Backend, logger zerolog.Logger) *Stage {
	return &Stage{
		backend: backend,
		logger:  logger.With().Str("stage", "images").Logger(),
	}
}

// FileName is the name image k of prompt i is saved under. Sorting these
// names gives prompt order.
func FileName(promptIdx, k int) string {
	return fmt.Sprintf("img_%03d_%02d.png", promptIdx, k)
}

// Run generates the images for prompts into outDir and returns the written
// paths in prompt order. The first prompt that fails after retries stops the
// stage.
func (s *Stage) Run(ctx context.Context, prompts []string, outDir string) ([]string, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}

	var paths []string
	for i, prompt := range prompts {
		s.logger.Info().Int("prompt", i+1).Int("total", len(prompts)).Msg("generating images for prompt")

		images, err := s.backend.Generate(ctx, prompt, i)
		if err != nil {
			return paths, err
		}
		for k, img := range images {
			data, err := toPNG(img.Data)
			if err != nil {
				return paths, fmt.Errorf("prompt %d image %s: %w", i, img.Filename, err)
			}
			path := filepath.Join(outDir, FileName(i, k))
			if err := os.WriteFile(path, data, 0644); err != nil {
				return paths, fmt.Errorf("write %s: %w", path, err)
			}
			s.logger.Info().Str("path", path).Str("node", img.NodeID).Msg("image saved")
			paths = append(paths, path)
		}
	}
	return paths, nil
}

// toPNG checks the bytes decode as an image and re-encodes non-PNG input.
func toPNG(data []byte) ([]byte, error) {
	switch bimg.DetermineImageType(data) {
	case bimg.PNG:
		return data, nil
	case bimg.UNKNOWN:
		return nil, fmt.Errorf("not a recognized image (%d bytes)", len(data))
	}
	out, err := bimg.NewImage(data).Convert(bimg.PNG)
	if err != nil {
		return nil, fmt.Errorf("convert to png: %w", err)
	}
	return out, nil
}
