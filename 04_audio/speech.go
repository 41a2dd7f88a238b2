package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
)

// PCMSampleRate is the rate of the raw PCM the speech endpoint returns.
const PCMSampleRate = 24000

// Synthesizer turns one chunk of text into mono samples at the configured
// sample rate.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]float32, error)
}

// A Synthesizer whose output rate is fixed reports it; that rate wins over
// audio.sample_rate.
type sampleRater interface {
	SampleRate() int
}

// SpeechClient calls an OpenAI-compatible /audio/speech endpoint (a
// Kokoro-FastAPI server in production) and asks for raw 16-bit PCM.
type SpeechClient struct {
	client *openai.Client
	model  string
	voice  string
	logger zerolog.Logger
}

// NewSpeechClient creates a client for baseURL, e.g. http://localhost:8880/v1.
func NewSpeechClient(baseURL, apiKey, model, voice string, logger zerolog.Logger) *SpeechClient {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &SpeechClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		voice:  voice,
		logger: logger.With().Str("component", "speech").Str("voice", voice).Logger(),
	}
}

// SampleRate is always PCMSampleRate: the pcm response format has no
// rate parameter.
func (c *SpeechClient) SampleRate() int {
	return PCMSampleRate
}

func (c *SpeechClient) Synthesize(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(c.model),
		Input:          text,
		Voice:          openai.SpeechVoice(c.voice),
		ResponseFormat: openai.SpeechResponseFormatPcm,
	})
	if err != nil {
		return nil, fmt.Errorf("create speech: %w", err)
	}
	defer resp.Close()

	raw, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read speech: %w", err)
	}
	samples, err := decodePCM16(raw)
	if err != nil {
		return nil, err
	}
	c.logger.Debug().Int("samples", len(samples)).Msg("speech received")
	return samples, nil
}

// decodePCM16 reads little-endian signed 16-bit samples into [-1, 1).
func decodePCM16(raw []byte) ([]float32, error) {
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("pcm stream has odd length %d", len(raw))
	}
	samples := make([]float32, len(raw)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(raw[2*i:]))
		samples[i] = float32(v) / 32768
	}
	return samples, nil
}
