package images

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/h2non/bimg"
	"github.com/rs/zerolog"

	"github.com/gtmray/contents-bot/config"
	"github.com/gtmray/contents-bot/retry"
	"github.com/gtmray/contents-bot/types"
)

// DefaultPollinationsURL is the public Pollinations image endpoint.
const DefaultPollinationsURL = "https://image.pollinations.ai"

// PollinationsGenerator generates AI images via Pollinations.ai (free, no key needed)
type PollinationsGenerator struct {
	baseURL    string
	httpClient *http.Client
	cfg        config.ImagesConfig
	policy     retry.Policy
	logger     zerolog.Logger
}

// NewPollinationsGenerator creates a new generator. An empty baseURL means
// DefaultPollinationsURL and a nil httpClient one with a 60s timeout.
func NewPollinationsGenerator(baseURL string, cfg config.ImagesConfig, httpClient *http.Client, logger zerolog.Logger) *PollinationsGenerator {
	if baseURL == "" {
		baseURL = DefaultPollinationsURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &PollinationsGenerator{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		cfg:        cfg,
		policy:     retry.FromConfig("pollinations", cfg.Sequence),
		logger:     logger.With().Str("stage", "images").Str("backend", "pollinations").Logger(),
	}
}

// BaseURL is the endpoint requests go to.
func (p *PollinationsGenerator) BaseURL() string {
	return p.baseURL
}

// Generate returns one image for the prompt.
func (p *PollinationsGenerator) Generate(ctx context.Context, prompt string, index int) ([]types.GeneratedImage, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("prompt %d is empty", index)
	}

	q := url.Values{}
	q.Set("width", fmt.Sprint(p.cfg.Width))
	q.Set("height", fmt.Sprint(p.cfg.Height))
	q.Set("nologo", "true")
	q.Set("model", "flux")
	q.Set("seed", fmt.Sprint(p.seed(index)))
	imageURL := p.baseURL + "/prompt/" + url.PathEscape(prompt) + "?" + q.Encode()

	p.logger.Info().Int("prompt", index).Str("text", truncate(prompt, 60)).Msg("generating image")
	var kind bimg.ImageType
	data, err := retry.Do(ctx, p.policy, p.logger, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
		if err != nil {
			return nil, err
		}
		body, err := readBody(p.httpClient, req)
		if err != nil {
			return nil, err
		}
		// an error page can come back with 200
		if kind = bimg.DetermineImageType(body); kind == bimg.UNKNOWN {
			return nil, fmt.Errorf("pollinations returned %d bytes that are not an image", len(body))
		}
		return body, nil
	})
	if err != nil {
		return nil, fmt.Errorf("pollinations prompt %d: %w", index, err)
	}
	return []types.GeneratedImage{{
		NodeID:   "pollinations",
		Filename: fmt.Sprintf("pollinations_%03d.%s", index, bimg.ImageTypeName(kind)),
		Data:     data,
	}}, nil
}

// seed is deterministic per prompt so a rerun produces the same picture.
func (p *PollinationsGenerator) seed(index int) int64 {
	if p.cfg.Seed != 0 {
		return p.cfg.Seed + int64(index)
	}
	return int64(index)*42 + 7
}
