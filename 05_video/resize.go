package video

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/h2non/bimg"
	"github.com/rs/zerolog"
)

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".webp": true}

// Resize writes every image of folder, in name order, to folder/resized at
// exactly width x height. Images that fail to decode are logged and skipped.
func Resize(folder string, width, height int, logger zerolog.Logger) ([]string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("read image folder: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	outDir := filepath.Join(folder, "resized")
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("create resized dir: %w", err)
	}
	logger.Info().Str("dir", outDir).Int("candidates", len(names)).Msg("resizing images")

	var resized []string
	for _, name := range names {
		src := filepath.Join(folder, name)
		buf, err := bimg.Read(src)
		if err != nil {
			logger.Error().Err(err).Str("image", name).Msg("failed to read image")
			continue
		}
		out, err := bimg.NewImage(buf).Process(bimg.Options{
			Width:   width,
			Height:  height,
			Force:   true,
			Enlarge: true,
		})
		if err != nil {
			logger.Error().Err(err).Str("image", name).Msg("failed to resize image")
			continue
		}
		dst := filepath.Join(outDir, name)
		if err := bimg.Write(dst, out); err != nil {
			logger.Error().Err(err).Str("image", name).Msg("failed to write resized image")
			continue
		}
		logger.Debug().Str("image", name).Str("path", dst).Msg("image resized")
		resized = append(resized, dst)
	}

	if len(resized) == 0 {
		logger.Warn().Str("dir", folder).Msg("no images were resized")
	}
	return resized, nil
}
