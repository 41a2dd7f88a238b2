package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// The three keys the bot has always read.
	LoggingConfigFile string  `yaml:"logging_config_file"`
	Temperature       float64 `yaml:"temperature"`
	WorkflowPath      string  `yaml:"workflow_path"`

	SourceURL string `yaml:"source_url"`

	Pipeline PipelineConfig `yaml:"pipeline"`
	Fetch    FetchConfig    `yaml:"fetch"`
	TextGen  TextGenConfig  `yaml:"text_gen"`
	Images   ImagesConfig   `yaml:"images"`
	Audio    AudioConfig    `yaml:"audio"`
	Video    VideoConfig    `yaml:"video"`
	Upload   UploadConfig   `yaml:"upload"`
	Paths    PathsConfig    `yaml:"paths"`
}

type PipelineConfig struct {
	// OnFetchError is "abort" or "continue". "continue" hands the error
	// marker to the script stage in place of the article text.
	OnFetchError  string `yaml:"on_fetch_error"`
	SkipPublished bool   `yaml:"skip_published"`
	Publish       bool   `yaml:"publish"`
}

type FetchConfig struct {
	ContentSelector string        `yaml:"content_selector"`
	ImageContainer  string        `yaml:"image_container"`
	UserAgent       string        `yaml:"user_agent"`
	Timeout         time.Duration `yaml:"timeout"`
}

type TextGenConfig struct {
	Provider      string `yaml:"provider"` // openai | gemini
	Model         string `yaml:"model"`
	MaxTokens     int    `yaml:"max_tokens"`
	TitleMaxChars int    `yaml:"title_max_chars"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Delay       time.Duration `yaml:"delay"`
}

type WorkflowNodes struct {
	PromptText     string `yaml:"prompt_text"`
	FilenamePrefix string `yaml:"filename_prefix"`
	BatchSize      string `yaml:"batch_size"`
	Seed           string `yaml:"seed"`
}

type ImagesConfig struct {
	Backend         string        `yaml:"backend"` // comfyui | pollinations
	NumImages       int           `yaml:"num_images"`
	Seed            int64         `yaml:"seed"` // 0 picks a random seed per run
	FilenamePrefix  string        `yaml:"filename_prefix"`
	Nodes           WorkflowNodes `yaml:"nodes"`
	ResumeOnRetry   bool          `yaml:"resume_on_retry"`
	PersistAllNodes bool          `yaml:"persist_all_nodes"`
	Submit          RetryConfig   `yaml:"submit_retry"`
	Fetch           RetryConfig   `yaml:"fetch_retry"`
	Poll            RetryConfig   `yaml:"poll_retry"`
	Sequence        RetryConfig   `yaml:"sequence_retry"`
	Width           int           `yaml:"width"`
	Height          int           `yaml:"height"`
}

type AudioConfig struct {
	Voice      string `yaml:"voice"`
	MaxTokens  int    `yaml:"max_tokens"`
	SampleRate int    `yaml:"sample_rate"`
}

type VideoConfig struct {
	Width        int    `yaml:"width"`
	Height       int    `yaml:"height"`
	FPS          int    `yaml:"fps"`
	VideoCodec   string `yaml:"video_codec"`
	AudioCodec   string `yaml:"audio_codec"`
	AudioBitrate string `yaml:"audio_bitrate"`
}

type UploadConfig struct {
	PrivacyStatus string `yaml:"privacy_status"`
	CategoryID    string `yaml:"category_id"`
}

type PathsConfig struct {
	Output       string `yaml:"output"`
	Logs         string `yaml:"logs"`
	SourceImages string `yaml:"source_images"`
	Ledger       string `yaml:"ledger"`
}

// Load reads config.yaml, fills defaults and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		LoggingConfigFile: "config/logging.yaml",
		Temperature:       0.7,
		WorkflowPath:      "config/flux_dev.json",
		Pipeline: PipelineConfig{
			OnFetchError: "abort",
			Publish:      true,
		},
		Fetch: FetchConfig{
			ContentSelector: "div.article__content",
			ImageContainer:  "div.image__container",
			UserAgent:       "Mozilla/5.0 (compatible; ContentsBot/1.0)",
			Timeout:         30 * time.Second,
		},
		TextGen: TextGenConfig{
			Provider:      "openai",
			Model:         "gpt-4o-mini",
			MaxTokens:     4096,
			TitleMaxChars: 100,
		},
		Images: ImagesConfig{
			Backend:        "comfyui",
			NumImages:      2,
			FilenamePrefix: "test_temp/t2",
			Nodes: WorkflowNodes{
				PromptText:     "6",
				FilenamePrefix: "38",
				BatchSize:      "27",
				Seed:           "31",
			},
			ResumeOnRetry:   true,
			PersistAllNodes: true,
			Submit:          RetryConfig{MaxAttempts: 3, Delay: 2 * time.Second},
			Fetch:           RetryConfig{MaxAttempts: 3, Delay: 2 * time.Second},
			Poll:            RetryConfig{MaxAttempts: 10, Delay: 30 * time.Second},
			Sequence:        RetryConfig{MaxAttempts: 5, Delay: 3 * time.Second},
			Width:           1080,
			Height:          1080,
		},
		Audio: AudioConfig{
			Voice:      "af_sarah",
			MaxTokens:  500,
			SampleRate: 24000,
		},
		Video: VideoConfig{
			Width:        1080,
			Height:       1080,
			FPS:          24,
			VideoCodec:   "libx264",
			AudioCodec:   "libmp3lame",
			AudioBitrate: "192k",
		},
		Upload: UploadConfig{
			PrivacyStatus: "private",
			CategoryID:    "25",
		},
		Paths: PathsConfig{
			Output:       "output",
			Logs:         "logs",
			SourceImages: "images",
			Ledger:       "output/ledger.db",
		},
	}
}

// Validate checks the values that would otherwise fail deep inside a stage.
func (c *Config) Validate() error {
	switch c.Pipeline.OnFetchError {
	case "abort", "continue":
	default:
		return fmt.Errorf("pipeline.on_fetch_error must be abort or continue, got %q", c.Pipeline.OnFetchError)
	}
	switch c.TextGen.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("text_gen.provider must be openai or gemini, got %q", c.TextGen.Provider)
	}
	switch c.Images.Backend {
	case "comfyui", "pollinations":
	default:
		return fmt.Errorf("images.backend must be comfyui or pollinations, got %q", c.Images.Backend)
	}
	for name, r := range map[string]RetryConfig{
		"submit_retry":   c.Images.Submit,
		"fetch_retry":    c.Images.Fetch,
		"poll_retry":     c.Images.Poll,
		"sequence_retry": c.Images.Sequence,
	} {
		if r.MaxAttempts < 1 {
			return fmt.Errorf("images.%s.max_attempts must be >= 1", name)
		}
		if r.Delay < 0 {
			return fmt.Errorf("images.%s.delay must not be negative", name)
		}
	}
	if c.Audio.MaxTokens < 1 {
		return fmt.Errorf("audio.max_tokens must be >= 1")
	}
	if c.Audio.SampleRate < 1 {
		return fmt.Errorf("audio.sample_rate must be >= 1")
	}
	if c.Video.Width < 1 || c.Video.Height < 1 {
		return fmt.Errorf("video resolution must be positive, got %dx%d", c.Video.Width, c.Video.Height)
	}
	if c.Video.FPS < 1 {
		return fmt.Errorf("video.fps must be >= 1")
	}
	return nil
}
