package script

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/gtmray/contents-bot/config"
	"github.com/gtmray/contents-bot/types"
)

// Writer turns an article into narration, image prompts and upload metadata,
// one text-generation round-trip each. Nothing here is retried.
type Writer struct {
	backend       TextGenerator
	titleMaxChars int
	logger        zerolog.Logger
}

// New creates a new script Writer
func New(backend TextGenerator, cfg config.TextGenConfig, logger zerolog.Logger) *Writer {
	return &Writer{
		backend:       backend,
		titleMaxChars: cfg.TitleMaxChars,
		logger:        logger.With().Str("stage", "script").Logger(),
	}
}

// Script generates the narration text for an article.
func (w *Writer) Script(ctx context.Context, article string) (types.Script, error) {
	w.logger.Info().Msg("generating script")
	w.logger.Debug().Str("article", truncate(article, 200)).Msg("script input")

	out, err := w.backend.Generate(ctx, scriptSystemPrompt, render(scriptUserTemplate, "article", article))
	if err != nil {
		return "", fmt.Errorf("generate script: %w", err)
	}
	script := types.Script(strings.TrimSpace(out))
	w.logger.Info().Int("words", len(strings.Fields(string(script)))).Msg("script ready")
	return script, nil
}

type promptsJSON struct {
	ImagePrompts []string `json:"image_prompts"`
}

// ImagePrompts asks for the list of image generation prompts for a script.
func (w *Writer) ImagePrompts(ctx context.Context, script types.Script) ([]string, error) {
	w.logger.Info().Msg("generating image prompts")

	out, err := w.backend.Generate(ctx, promptsSystemPrompt, render(promptsUserTemplate, "script", string(script)))
	if err != nil {
		return nil, fmt.Errorf("generate image prompts: %w", err)
	}

	var raw promptsJSON
	if err := decodeJSON(out, &raw); err != nil {
		return nil, fmt.Errorf("parse image prompts: %w", err)
	}
	w.logger.Info().Int("count", len(raw.ImagePrompts)).Msg("image prompts ready")
	return raw.ImagePrompts, nil
}

// render fills the single {name} placeholder of a user template.
func render(template, name, value string) string {
	return strings.ReplaceAll(template, "{"+name+"}", value)
}

// decodeJSON parses a model reply that may be wrapped in a ```json fence.
func decodeJSON(content string, v any) error {
	cleaned := cleanJSON(content)
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return fmt.Errorf("%w\nraw content: %s", err, truncate(cleaned, 200))
	}
	return nil
}

// cleanJSON strips markdown fences if the model wraps its response in ```json ... ```
func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
