package audio

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/gtmray/contents-bot/config"
	"github.com/gtmray/contents-bot/types"
)

// Result describes the written narration file.
type Result struct {
	Path     string
	Chunks   int
	Samples  int
	Duration time.Duration
}

// Generator handles TTS audio generation
type Generator struct {
	synth      Synthesizer
	tok        Tokenizer
	maxTokens  int
	sampleRate int
	logger     zerolog.Logger
}

// New creates a new Generator with the rune tokenizer.
// The WAV is written at the synthesizer's own rate when it reports one.
func New(synth Synthesizer, cfg config.AudioConfig, logger zerolog.Logger) *Generator {
	g := &Generator{
		synth:      synth,
		tok:        RuneTokenizer{},
		maxTokens:  cfg.MaxTokens,
		sampleRate: cfg.SampleRate,
		logger:     logger.With().Str("stage", "audio").Logger(),
	}
	if r, ok := synth.(sampleRater); ok && r.SampleRate() != g.sampleRate {
		g.logger.Warn().
			Int("configured", cfg.SampleRate).
			Int("synthesizer", r.SampleRate()).
			Msg("audio.sample_rate does not match the synthesizer, using the synthesizer's rate")
		g.sampleRate = r.SampleRate()
	}
	return g
}

// SampleRate is the rate the narration WAV is written at.
func (g *Generator) SampleRate() int {
	return g.sampleRate
}

// WithTokenizer swaps the token counter used for chunking.
func (g *Generator) WithTokenizer(tok Tokenizer) *Generator {
	g.tok = tok
	return g
}

// Run synthesizes the script line by line, chunk by chunk, and writes one
// normalized WAV to outFile. Nothing is written unless every chunk succeeds.
func (g *Generator) Run(ctx context.Context, script types.Script, outFile string) (*Result, error) {
	g.logger.Info().Msg("generating narration audio")

	var (
		all    []float32
		chunks int
	)
	for _, line := range strings.Split(string(script), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for _, chunk := range Chunk(line, g.tok, g.maxTokens) {
			chunks++
			g.logger.Info().Int("chunk", chunks).Str("text", preview(chunk, 50)).Msg("processing chunk")

			samples, err := g.synth.Synthesize(ctx, chunk)
			if err != nil {
				return nil, fmt.Errorf("synthesize chunk %d: %w", chunks, err)
			}
			all = append(all, samples...)
		}
	}
	if chunks == 0 {
		return nil, fmt.Errorf("script has no text to synthesize")
	}

	if err := WriteWAV(outFile, Normalize(all), g.sampleRate); err != nil {
		return nil, err
	}

	res := &Result{
		Path:     outFile,
		Chunks:   chunks,
		Samples:  len(all),
		Duration: time.Duration(float64(len(all)) / float64(g.sampleRate) * float64(time.Second)),
	}
	g.logger.Info().Str("path", outFile).Int("chunks", chunks).Dur("duration", res.Duration).Msg("audio saved")
	return res, nil
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
