package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	audio "github.com/gtmray/contents-bot/04_audio"
	video "github.com/gtmray/contents-bot/05_video"
	upload "github.com/gtmray/contents-bot/06_upload"
	"github.com/gtmray/contents-bot/config"
	"github.com/gtmray/contents-bot/ledger"
	"github.com/gtmray/contents-bot/types"
)

var (
	// ErrArticleUnavailable stops a run whose article could not be fetched
	// when on_fetch_error is abort.
	ErrArticleUnavailable = errors.New("article unavailable")
	// ErrAlreadyPublished is returned when skip_published is on and the URL
	// already has a published run in the ledger.
	ErrAlreadyPublished = errors.New("article already published")
)

// Side-file and artifact names inside a run directory.
const (
	ArticleFile   = "article.json"
	ScriptFile    = "script.txt"
	PromptsFile   = "prompts.json"
	TitleDescFile = "title_desc.json"
	StateFile     = "pipeline_state.json"
	AudioFile     = "output_audio.wav"
	ImagesDir     = "output_imgs"
	VideoFile     = "output_video.mp4"
)

type Fetcher interface {
	Fetch(ctx context.Context, url string) types.FetchResult
}

type Writer interface {
	Script(ctx context.Context, article string) (types.Script, error)
	ImagePrompts(ctx context.Context, script types.Script) ([]string, error)
	TitleDescription(ctx context.Context, script types.Script) (types.TitleDescription, error)
}

type AudioGenerator interface {
	Run(ctx context.Context, script types.Script, outFile string) (*audio.Result, error)
}

type ImageStage interface {
	Run(ctx context.Context, prompts []string, outDir string) ([]string, error)
}

type VideoAssembler interface {
	Run(ctx context.Context, imagesDir, audioFile, outFile string) (*video.Result, error)
}

type Publisher interface {
	Upload(ctx context.Context, videoFile string, meta types.TitleDescription) (*types.PublishResult, error)
}

type Ledger interface {
	Record(ctx context.Context, state *types.PipelineState) error
	LastPublished(ctx context.Context, url string) (ledger.Run, bool, error)
}

// Deps are the stage implementations a Runner drives. Publisher and Ledger
// may be nil.
type Deps struct {
	Fetcher   Fetcher
	Writer    Writer
	Audio     AudioGenerator
	Images    ImageStage
	Video     VideoAssembler
	Publisher Publisher
	Ledger    Ledger
}

// Runner executes the stages strictly in order and owns every failure
// policy: stages report, the runner decides.
type Runner struct {
	deps   Deps
	cfg    *config.Config
	logger zerolog.Logger
}

func New(deps Deps, cfg *config.Config, logger zerolog.Logger) *Runner {
	return &Runner{deps: deps, cfg: cfg, logger: logger}
}

// Run produces one video for url inside runDir. The returned state is
// always non-nil and is also saved as pipeline_state.json.
func (r *Runner) Run(ctx context.Context, url, runDir string) (state *types.PipelineState, err error) {
	state = &types.PipelineState{
		RunID:     filepath.Base(runDir),
		SourceURL: url,
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	}
	log := r.logger.With().Str("run_id", state.RunID).Logger()

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return state, fmt.Errorf("create run dir: %w", err)
	}

	// Save state on exit
	defer func() {
		if err != nil {
			state.Error = err.Error()
		}
		state.CompletedAt = time.Now().UTC().Format(time.RFC3339)
		r.saveJSON(filepath.Join(runDir, StateFile), state)
		if r.deps.Ledger != nil {
			if lerr := r.deps.Ledger.Record(context.WithoutCancel(ctx), state); lerr != nil {
				log.Warn().Err(lerr).Msg("could not record run in ledger")
			}
		}
	}()

	if r.cfg.Pipeline.SkipPublished && r.deps.Ledger != nil {
		prev, ok, err := r.deps.Ledger.LastPublished(ctx, url)
		if err != nil {
			return state, err
		}
		if ok {
			return state, fmt.Errorf("%s (run %s, video %s): %w", url, prev.ID, prev.YouTubeID, ErrAlreadyPublished)
		}
	}

	// ─────────────────────────────────────────────
	// STAGE 1: Fetch article
	// ─────────────────────────────────────────────
	log.Info().Msg("━━━ STAGE 1: Fetch article ━━━")
	fetched := r.deps.Fetcher.Fetch(ctx, url)
	state.Fetch = &fetched
	r.saveJSON(filepath.Join(runDir, ArticleFile), fetched)
	if !fetched.OK() {
		if r.cfg.Pipeline.OnFetchError != "continue" {
			return state, fmt.Errorf("stage 1 fetch: %s: %w", fetched.Error, ErrArticleUnavailable)
		}
		log.Warn().Str("error", fetched.Error).Msg("fetch failed, continuing with the error marker as article text")
	}

	// ─────────────────────────────────────────────
	// STAGE 2: Script, prompts, title
	// ─────────────────────────────────────────────
	log.Info().Msg("━━━ STAGE 2: Script ━━━")
	script, err := r.deps.Writer.Script(ctx, fetched.Text())
	if err != nil {
		return state, fmt.Errorf("stage 2 script: %w", err)
	}
	scriptPath := filepath.Join(runDir, ScriptFile)
	if err := os.WriteFile(scriptPath, []byte(script), 0644); err != nil {
		return state, fmt.Errorf("save script: %w", err)
	}
	state.ScriptFile = scriptPath

	prompts, err := r.deps.Writer.ImagePrompts(ctx, script)
	if err != nil {
		return state, fmt.Errorf("stage 2 image prompts: %w", err)
	}
	state.ImagePrompts = prompts
	r.saveJSON(filepath.Join(runDir, PromptsFile), prompts)

	meta, err := r.deps.Writer.TitleDescription(ctx, script)
	if err != nil {
		return state, fmt.Errorf("stage 2 title and description: %w", err)
	}
	state.Metadata = &meta
	r.saveJSON(filepath.Join(runDir, TitleDescFile), meta)

	// ─────────────────────────────────────────────
	// STAGE 3: Audio
	// ─────────────────────────────────────────────
	log.Info().Msg("━━━ STAGE 3: Audio ━━━")
	audioRes, err := r.deps.Audio.Run(ctx, script, filepath.Join(runDir, AudioFile))
	if err != nil {
		return state, fmt.Errorf("stage 3 audio: %w", err)
	}
	state.AudioFile = audioRes.Path
	state.AudioDuration = audioRes.Duration.Seconds()

	// ─────────────────────────────────────────────
	// STAGE 4: Images
	// ─────────────────────────────────────────────
	log.Info().Int("prompts", len(prompts)).Msg("━━━ STAGE 4: Images ━━━")
	imagesDir := filepath.Join(runDir, ImagesDir)
	images, err := r.deps.Images.Run(ctx, prompts, imagesDir)
	state.ImageFiles = images
	if err != nil {
		return state, fmt.Errorf("stage 4 images: %w", err)
	}

	// ─────────────────────────────────────────────
	// STAGE 5: Video
	// ─────────────────────────────────────────────
	log.Info().Msg("━━━ STAGE 5: Video ━━━")
	videoRes, err := r.deps.Video.Run(ctx, imagesDir, audioRes.Path, filepath.Join(runDir, VideoFile))
	if err != nil {
		return state, fmt.Errorf("stage 5 video: %w", err)
	}
	state.VideoFile = videoRes.Path
	if sum, err := ledger.HashFile(videoRes.Path); err != nil {
		log.Warn().Err(err).Msg("could not hash video")
	} else {
		state.VideoBlake3 = sum
	}

	// ─────────────────────────────────────────────
	// STAGE 6: Publish
	// ─────────────────────────────────────────────
	if !r.cfg.Pipeline.Publish || r.deps.Publisher == nil {
		log.Info().Msg("publishing disabled, skipping upload")
		log.Info().Str("video", state.VideoFile).Msg("pipeline complete")
		return state, nil
	}
	log.Info().Msg("━━━ STAGE 6: Publish ━━━")
	published, err := r.deps.Publisher.Upload(ctx, videoRes.Path, meta)
	if err != nil {
		// An upload failure does not fail the run; the video stays on disk.
		log.Error().Err(err).Str("video", videoRes.Path).Msg("upload failed")
		state.PublishError = err.Error()
		return state, nil
	}
	state.Publish = published
	if logFile, err := upload.LogUpload(r.cfg.Paths.Logs, videoRes.Path, published, meta); err != nil {
		log.Warn().Err(err).Msg("could not save upload log")
	} else {
		log.Info().Str("file", logFile).Msg("upload log saved")
	}

	log.Info().Str("url", published.URL).Msg("pipeline complete")
	return state, nil
}

func (r *Runner) saveJSON(path string, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		r.logger.Warn().Err(err).Str("path", path).Msg("could not marshal JSON")
		return
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		r.logger.Warn().Err(err).Str("path", path).Msg("could not save file")
	}
}
