package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	fetch "github.com/gtmray/contents-bot/01_fetch"
	script "github.com/gtmray/contents-bot/02_script"
	images "github.com/gtmray/contents-bot/03_images"
	audio "github.com/gtmray/contents-bot/04_audio"
	video "github.com/gtmray/contents-bot/05_video"
	"github.com/gtmray/contents-bot/config"
	"github.com/gtmray/contents-bot/ledger"
	"github.com/gtmray/contents-bot/types"
)

var sentences = []string{
	"A powerful storm reached the coast on Monday night.",
	"Winds gusted above one hundred kilometres per hour.",
	"Thousands of homes lost power within minutes.",
	"Emergency crews worked through the night.",
	"Several roads were closed because of flooding.",
	"Schools in three districts cancelled classes.",
	"The harbour suffered damage to its northern pier.",
	"No serious injuries were reported.",
	"Officials urged residents to stay indoors.",
	"Forecasters expect calmer weather by Thursday.",
	"Insurance companies are already assessing claims.",
	"Like, comment and subscribe for more stories!",
}

// fakeText answers the three script round-trips without a model.
type fakeText struct {
	users []string
}

func (f *fakeText) Generate(_ context.Context, _, user string) (string, error) {
	f.users = append(f.users, user)
	switch {
	case strings.Contains(user, `"image_prompts"`):
		return "```json\n{\"image_prompts\": []}\n```", nil
	case strings.Contains(user, `"title"`):
		return `{"title": "Storm Hits Coast", "description": "What happened overnight."}`, nil
	default:
		return strings.Join(sentences, " "), nil
	}
}

type fakeSynth struct{ perRune int }

func (f fakeSynth) Synthesize(_ context.Context, text string) ([]float32, error) {
	out := make([]float32, len([]rune(text))*f.perRune)
	for i := range out {
		out[i] = float32(math.Sin(float64(i) / 7))
	}
	return out, nil
}

type noImages struct{}

func (noImages) Generate(context.Context, string, int) ([]types.GeneratedImage, error) {
	return nil, errors.New("no prompts expected")
}

type recordingEncoder struct {
	frames    []string
	durations []float64
}

func (e *recordingEncoder) Encode(_ context.Context, frames []string, durations []float64, _, outFile string) error {
	e.frames, e.durations = frames, durations
	return os.WriteFile(outFile, []byte("mp4"), 0644)
}

type fakePublisher struct {
	err  error
	meta types.TitleDescription
}

func (p *fakePublisher) Upload(_ context.Context, videoFile string, meta types.TitleDescription) (*types.PublishResult, error) {
	p.meta = meta
	if p.err != nil {
		return nil, p.err
	}
	return &types.PublishResult{VideoID: "vid1", URL: "https://www.youtube.com/watch?v=vid1"}, nil
}

func articleServer(t *testing.T) *httptest.Server {
	t.Helper()
	body := "<h1>Storm Hits Coast</h1>"
	for _, s := range sentences[:11] {
		body += `<div class="article__content">` + s + `</div>`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Audio.MaxTokens = 120
	cfg.Video.Width, cfg.Video.Height = 32, 32
	cfg.Paths.Logs = filepath.Join(t.TempDir(), "logs")
	return cfg
}

func seedImage(t *testing.T, runDir string) {
	t.Helper()
	dir := filepath.Join(runDir, ImagesDir)
	os.MkdirAll(dir, 0755)
	f, err := os.Create(filepath.Join(dir, "seed.png"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	png.Encode(f, image.NewRGBA(image.Rect(0, 0, 8, 8)))
}

func TestRunEndToEnd(t *testing.T) {
	srv := articleServer(t)
	cfg := testConfig(t)
	log := zerolog.Nop()
	runDir := filepath.Join(t.TempDir(), "run1")
	seedImage(t, runDir)

	text := &fakeText{}
	enc := &recordingEncoder{}
	pub := &fakePublisher{}
	db, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	deps := Deps{
		Fetcher:   fetch.New(cfg.Fetch, t.TempDir(), nil, log),
		Writer:    script.New(text, cfg.TextGen, log),
		Audio:     audio.New(fakeSynth{perRune: 240}, cfg.Audio, log),
		Images:    images.NewStage(noImages{}, log),
		Video:     video.New(cfg.Video, enc, log),
		Publisher: pub,
		Ledger:    db,
	}
	state, err := New(deps, cfg, log).Run(context.Background(), srv.URL, runDir)
	if err != nil {
		t.Fatalf("run failed: %v (state error %q)", err, state.Error)
	}

	if !strings.Contains(text.users[0], sentences[0]) || !strings.Contains(text.users[0], sentences[10]) {
		t.Errorf("script prompt does not carry the article: %q", text.users[0])
	}

	// audio: one WAV whose length is the sum of every chunk's samples
	chunks := audio.Chunk(strings.Join(sentences, " "), audio.RuneTokenizer{}, cfg.Audio.MaxTokens)
	if len(chunks) < 2 {
		t.Fatalf("expected the script to need several chunks, got %d", len(chunks))
	}
	samples := 0
	for _, c := range chunks {
		samples += len([]rune(c)) * 240
	}
	wantSec := float64(samples) / float64(cfg.Audio.SampleRate)
	d, err := audio.Duration(state.AudioFile)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(d.Seconds()-wantSec) > 1e-3 {
		t.Errorf("wav duration = %v, want %.4fs", d, wantSec)
	}

	// video: the seeded frame fills the whole audio
	if len(enc.frames) != 1 {
		t.Fatalf("frames = %v", enc.frames)
	}
	if math.Abs(enc.durations[0]-d.Seconds()) > 1e-9 {
		t.Errorf("video length %v != audio length %v", enc.durations[0], d.Seconds())
	}

	if state.Publish == nil || state.Publish.VideoID != "vid1" || pub.meta.Title != "Storm Hits Coast" {
		t.Errorf("publish = %+v, meta = %+v", state.Publish, pub.meta)
	}
	if state.VideoBlake3 == "" {
		t.Error("video hash not recorded")
	}

	for _, name := range []string{ArticleFile, ScriptFile, PromptsFile, TitleDescFile, StateFile, AudioFile, VideoFile} {
		if _, err := os.Stat(filepath.Join(runDir, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
	var saved types.TitleDescription
	data, _ := os.ReadFile(filepath.Join(runDir, TitleDescFile))
	if err := json.Unmarshal(data, &saved); err != nil || saved.Title != "Storm Hits Coast" {
		t.Errorf("title_desc.json = %s", data)
	}

	run, ok, err := db.LastSuccess(context.Background(), srv.URL)
	if err != nil || !ok || run.YouTubeID != "vid1" {
		t.Errorf("ledger run = %+v ok=%v err=%v", run, ok, err)
	}

	// A later run whose upload fails still succeeds, without a video id.
	failing := deps
	failing.Publisher = &fakePublisher{err: errors.New("quota exceeded")}
	run2Dir := filepath.Join(t.TempDir(), "run2")
	seedImage(t, run2Dir)
	if _, err := New(failing, cfg, log).Run(context.Background(), srv.URL, run2Dir); err != nil {
		t.Fatalf("second run: %v", err)
	}

	// The URL stays published, so skip_published refuses a third run.
	cfg.Pipeline.SkipPublished = true
	_, err = New(deps, cfg, log).Run(context.Background(), srv.URL, filepath.Join(t.TempDir(), "run3"))
	if !errors.Is(err, ErrAlreadyPublished) {
		t.Errorf("third run err = %v, want ErrAlreadyPublished", err)
	}
}

// articleRecorder stops the run at the script stage and remembers its input.
type articleRecorder struct {
	article string
	called  bool
}

var errStop = errors.New("stop here")

func (w *articleRecorder) Script(_ context.Context, article string) (types.Script, error) {
	w.called, w.article = true, article
	return "", errStop
}

func (w *articleRecorder) ImagePrompts(context.Context, types.Script) ([]string, error) {
	return nil, nil
}

func (w *articleRecorder) TitleDescription(context.Context, types.Script) (types.TitleDescription, error) {
	return types.TitleDescription{}, nil
}

func failingServer(t *testing.T) string {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestRunFetchFailureAborts(t *testing.T) {
	cfg := testConfig(t)
	w := &articleRecorder{}
	runDir := filepath.Join(t.TempDir(), "run")

	deps := Deps{Fetcher: fetch.New(cfg.Fetch, t.TempDir(), nil, zerolog.Nop()), Writer: w}
	state, err := New(deps, cfg, zerolog.Nop()).Run(context.Background(), failingServer(t), runDir)
	if !errors.Is(err, ErrArticleUnavailable) {
		t.Fatalf("err = %v, want ErrArticleUnavailable", err)
	}
	if w.called {
		t.Error("script stage ran after an aborted fetch")
	}
	if state.Fetch == nil || state.Fetch.OK() || state.Error == "" {
		t.Errorf("state = %+v", state)
	}

	data, err := os.ReadFile(filepath.Join(runDir, StateFile))
	if err != nil {
		t.Fatal(err)
	}
	var saved types.PipelineState
	json.Unmarshal(data, &saved)
	if !strings.Contains(saved.Error, "article unavailable") {
		t.Errorf("saved error = %q", saved.Error)
	}
}

func TestRunFetchFailureContinuesWithMarker(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pipeline.OnFetchError = "continue"
	w := &articleRecorder{}

	deps := Deps{Fetcher: fetch.New(cfg.Fetch, t.TempDir(), nil, zerolog.Nop()), Writer: w}
	_, err := New(deps, cfg, zerolog.Nop()).Run(context.Background(), failingServer(t), filepath.Join(t.TempDir(), "run"))
	if !errors.Is(err, errStop) {
		t.Fatalf("err = %v", err)
	}
	var marker map[string]string
	if err := json.Unmarshal([]byte(w.article), &marker); err != nil {
		t.Fatalf("script input is not the error marker: %q", w.article)
	}
	if !strings.Contains(marker["error"], "500") {
		t.Errorf("marker = %v", marker)
	}
}

type fixedFetcher struct{}

func (fixedFetcher) Fetch(_ context.Context, url string) types.FetchResult {
	return types.FetchResult{Article: &types.Article{URL: url, Title: "T", Content: "Body."}}
}

func TestRunPublishFailureIsSwallowed(t *testing.T) {
	cfg := testConfig(t)
	log := zerolog.Nop()
	runDir := filepath.Join(t.TempDir(), "run")
	seedImage(t, runDir)

	pub := &fakePublisher{err: fmt.Errorf("quota exceeded")}
	deps := Deps{
		Fetcher:   fixedFetcher{},
		Writer:    script.New(&fakeText{}, cfg.TextGen, log),
		Audio:     audio.New(fakeSynth{perRune: 10}, cfg.Audio, log),
		Images:    images.NewStage(noImages{}, log),
		Video:     video.New(cfg.Video, &recordingEncoder{}, log),
		Publisher: pub,
	}
	state, err := New(deps, cfg, log).Run(context.Background(), "https://example.com/a", runDir)
	if err != nil {
		t.Fatalf("publish failure must not fail the run: %v", err)
	}
	if state.Publish != nil || !strings.Contains(state.PublishError, "quota") {
		t.Errorf("state = %+v", state)
	}
	if state.Error != "" {
		t.Errorf("state error = %q", state.Error)
	}
}
