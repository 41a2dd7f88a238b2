package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	fetch "github.com/gtmray/contents-bot/01_fetch"
	script "github.com/gtmray/contents-bot/02_script"
	images "github.com/gtmray/contents-bot/03_images"
	audio "github.com/gtmray/contents-bot/04_audio"
	video "github.com/gtmray/contents-bot/05_video"
	upload "github.com/gtmray/contents-bot/06_upload"
	"github.com/gtmray/contents-bot/config"
	"github.com/gtmray/contents-bot/ledger"
	"github.com/gtmray/contents-bot/logging"
	"github.com/gtmray/contents-bot/pipeline"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "contents-bot: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env (local dev only)
	_ = godotenv.Load()

	configFile := os.Getenv("CONFIG_FILE")
	if configFile == "" {
		configFile = "config/config.yaml"
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logCfg, err := logging.LoadConfig(cfg.LoggingConfigFile)
	if err != nil {
		return err
	}
	logger, closeLog, err := logging.New(logCfg)
	if err != nil {
		return err
	}
	defer closeLog()

	env := config.FromEnv()
	if err := env.Require(cfg); err != nil {
		return err
	}

	sourceURL := cfg.SourceURL
	if len(os.Args) > 1 {
		sourceURL = os.Args[1]
	}
	if sourceURL == "" {
		return errors.New("no article URL: pass one as the first argument or set source_url")
	}

	for _, dir := range []string{cfg.Paths.Output, cfg.Paths.Logs, cfg.Paths.SourceImages} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	runID := uuid.NewString()[:8]
	runDir := filepath.Join(cfg.Paths.Output, runID)
	logger.Info().Str("run_id", runID).Str("dir", runDir).Str("url", sourceURL).Msg("pipeline starting")

	ctx := context.Background()
	deps, cleanup, err := buildDeps(ctx, cfg, env, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	state, err := pipeline.New(deps, cfg, logger).Run(ctx, sourceURL, runDir)
	if err != nil {
		logger.Error().Err(err).Str("run_id", runID).Msg("pipeline failed")
		return err
	}
	if state.Publish != nil {
		logger.Info().Str("url", state.Publish.URL).Msg("published")
	}
	return nil
}

// buildDeps constructs every stage from config. The returned cleanup closes
// the model client, the image memo and the ledger.
func buildDeps(ctx context.Context, cfg *config.Config, env config.Env, logger zerolog.Logger) (pipeline.Deps, func(), error) {
	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn().Err(err).Msg("cleanup failed")
			}
		}
	}
	fail := func(err error) (pipeline.Deps, func(), error) {
		cleanup()
		return pipeline.Deps{}, func() {}, err
	}

	var textGen script.TextGenerator
	switch cfg.TextGen.Provider {
	case "gemini":
		g, err := script.NewGeminiBackend(ctx, env.GeminiAPIKey, cfg.TextGen.Model, cfg.Temperature, cfg.TextGen.MaxTokens)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, g.Close)
		textGen = g
	default:
		textGen = script.NewOpenAIBackend(env.OpenAIAPIKey, env.OpenAIBaseURL, cfg.TextGen.Model, cfg.Temperature, cfg.TextGen.MaxTokens)
	}

	imageBackend, closeImages, err := newImageBackend(ctx, cfg, env, logger)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, closeImages)

	db, err := ledger.Open(cfg.Paths.Ledger)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, db.Close)

	synth := audio.NewSpeechClient(env.TTSBaseURL, env.TTSAPIKey, env.TTSModel, cfg.Audio.Voice, logger)
	deps := pipeline.Deps{
		Fetcher: fetch.New(cfg.Fetch, cfg.Paths.SourceImages, nil, logger),
		Writer:  script.New(textGen, cfg.TextGen, logger),
		Audio:   audio.New(synth, cfg.Audio, logger),
		Images:  images.NewStage(imageBackend, logger),
		Video:   video.New(cfg.Video, video.NewFFmpegEncoder(cfg.Video, logger), logger),
		Ledger:  db,
	}
	if cfg.Pipeline.Publish {
		auth := upload.NewAuthenticator(env.ClientSecretsFile, env.TokenFile, logger)
		deps.Publisher = upload.New(auth, cfg.Upload, logger)
	}
	return deps, cleanup, nil
}

// newImageBackend picks the image backend named by images.backend. ComfyUI
// is reached at IMG_GEN_SERVER; Pollinations at POLLINATIONS_BASE_URL.
func newImageBackend(ctx context.Context, cfg *config.Config, env config.Env, logger zerolog.Logger) (images.Backend, func() error, error) {
	if cfg.Images.Backend == "pollinations" {
		return images.NewPollinationsGenerator(env.PollinationsURL, cfg.Images, nil, logger), func() error { return nil }, nil
	}
	client := images.NewComfyClient(env.ImageServer, cfg.Images, nil, logger)
	g, err := images.NewComfyGenerator(ctx, client, cfg.WorkflowPath, cfg.Images, logger)
	if err != nil {
		return nil, nil, err
	}
	return g, g.Close, nil
}
