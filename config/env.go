package config

import (
	"fmt"
	"net/url"
	"os"
)

// Env holds the settings that come from the environment (or .env) rather
// than config.yaml: backend hosts, credentials and OAuth artifact paths.
type Env struct {
	ImageServer       string
	PollinationsURL   string
	TTSBaseURL        string
	TTSAPIKey         string
	TTSModel          string
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	GeminiAPIKey      string
	ClientSecretsFile string
	TokenFile         string
}

// FromEnv reads Env from the process environment.
func FromEnv() Env {
	return Env{
		ImageServer:       os.Getenv("IMG_GEN_SERVER"),
		PollinationsURL:   os.Getenv("POLLINATIONS_BASE_URL"),
		TTSBaseURL:        os.Getenv("TTS_BASE_URL"),
		TTSAPIKey:         os.Getenv("TTS_API_KEY"),
		TTSModel:          getenvDefault("TTS_MODEL", "kokoro"),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:     os.Getenv("OPENAI_BASE_URL"),
		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		ClientSecretsFile: os.Getenv("CLIENT_SECRETS_FILE"),
		TokenFile:         os.Getenv("TOKEN_FILE"),
	}
}

// Require checks the variables the configured backends cannot run without.
func (e Env) Require(cfg *Config) error {
	if cfg.Images.Backend == "comfyui" && e.ImageServer == "" {
		return fmt.Errorf("IMG_GEN_SERVER must be set")
	}
	if cfg.Images.Backend == "pollinations" && e.PollinationsURL != "" {
		u, err := url.Parse(e.PollinationsURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("POLLINATIONS_BASE_URL must be an http(s) URL, got %q", e.PollinationsURL)
		}
	}
	if e.TTSBaseURL == "" {
		return fmt.Errorf("TTS_BASE_URL must be set")
	}
	switch cfg.TextGen.Provider {
	case "openai":
		if e.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY must be set")
		}
	case "gemini":
		if e.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY must be set")
		}
	}
	if cfg.Pipeline.Publish {
		if e.ClientSecretsFile == "" {
			return fmt.Errorf("CLIENT_SECRETS_FILE must be set")
		}
		if e.TokenFile == "" {
			return fmt.Errorf("TOKEN_FILE must be set")
		}
	}
	return nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
