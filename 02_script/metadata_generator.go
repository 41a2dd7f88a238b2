package script

import (
	"context"
	"fmt"
	"strings"

	"github.com/gtmray/contents-bot/types"
)

// TitleDescription generates the upload title and description for a script.
func (w *Writer) TitleDescription(ctx context.Context, script types.Script) (types.TitleDescription, error) {
	w.logger.Info().Msg("generating title and description")

	out, err := w.backend.Generate(ctx, titleSystemPrompt, render(titleUserTemplate, "script", string(script)))
	if err != nil {
		return types.TitleDescription{}, fmt.Errorf("generate title and description: %w", err)
	}

	var meta types.TitleDescription
	if err := decodeJSON(out, &meta); err != nil {
		return types.TitleDescription{}, fmt.Errorf("parse title and description: %w", err)
	}
	meta.Title = strings.TrimSpace(meta.Title)
	meta.Description = strings.TrimSpace(meta.Description)

	// Enforce title length
	if w.titleMaxChars > 3 {
		if r := []rune(meta.Title); len(r) > w.titleMaxChars {
			meta.Title = string(r[:w.titleMaxChars-3]) + "..."
		}
	}

	w.logger.Info().Str("title", meta.Title).Msg("title and description ready")
	return meta, nil
}
