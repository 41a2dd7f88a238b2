package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/gtmray/contents-bot/config"
	"github.com/gtmray/contents-bot/types"
)

// Fetcher scrapes one news article page
type Fetcher struct {
	cfg        config.FetchConfig
	imageDir   string
	httpClient *http.Client
	logger     zerolog.Logger
}

// New creates a new Fetcher. imageDir is where the main image is saved.
func New(cfg config.FetchConfig, imageDir string, httpClient *http.Client, logger zerolog.Logger) *Fetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Fetcher{
		cfg:        cfg,
		imageDir:   imageDir,
		httpClient: httpClient,
		logger:     logger.With().Str("stage", "fetch").Logger(),
	}
}

// Fetch extracts title, content and main image from the page at pageURL.
// Failures come back as an error-marked result, never as a Go error.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) types.FetchResult {
	article, err := f.extract(ctx, pageURL)
	if err != nil {
		f.logger.Error().Err(err).Str("url", pageURL).Msg("article extraction failed")
		return types.FetchResult{Error: err.Error()}
	}
	return types.FetchResult{Article: article}
}

func (f *Fetcher) extract(ctx context.Context, pageURL string) (*types.Article, error) {
	f.logger.Info().Str("url", pageURL).Msg("fetching article")

	body, err := f.get(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	h1 := doc.Find("h1").First()
	if h1.Length() == 0 {
		return nil, fmt.Errorf("no h1 title found")
	}
	article := &types.Article{
		URL:   pageURL,
		Title: strings.TrimSpace(h1.Text()),
	}
	f.logger.Info().Str("title", article.Title).Msg("title extracted")

	var blocks []string
	doc.Find(f.cfg.ContentSelector).Each(func(_ int, s *goquery.Selection) {
		blocks = append(blocks, strings.TrimSpace(s.Text()))
	})
	article.Content = strings.Join(blocks, "\n")
	f.logger.Info().Int("blocks", len(blocks)).Int("chars", len(article.Content)).Msg("content extracted")

	container := doc.Find(f.cfg.ImageContainer).First()
	if container.Length() == 0 {
		f.logger.Info().Msg("no main image found")
		return article, nil
	}
	src, ok := container.Find("img").First().Attr("src")
	if !ok || src == "" {
		return article, nil
	}
	imageURL, err := resolve(pageURL, src)
	if err != nil {
		return nil, err
	}
	article.MainImageURL = imageURL
	f.logger.Info().Str("image_url", imageURL).Msg("main image url extracted")

	localPath, err := f.downloadImage(ctx, imageURL)
	if err != nil {
		return nil, fmt.Errorf("download main image: %w", err)
	}
	article.MainImagePath = localPath
	return article, nil
}

func (f *Fetcher) get(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", rawURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("get %s: HTTP %d", rawURL, resp.StatusCode)
	}
	return resp.Body, nil
}

// downloadImage saves the image under imageDir, named after the last path
// segment of its URL with the query string dropped.
func (f *Fetcher) downloadImage(ctx context.Context, imageURL string) (string, error) {
	name := ImageName(imageURL)
	if name == "" {
		return "", fmt.Errorf("cannot derive file name from %q", imageURL)
	}

	body, err := f.get(ctx, imageURL)
	if err != nil {
		return "", err
	}
	defer body.Close()

	if err := os.MkdirAll(f.imageDir, 0755); err != nil {
		return "", fmt.Errorf("create image dir: %w", err)
	}
	localPath := filepath.Join(f.imageDir, name)
	out, err := os.Create(localPath)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, body); err != nil {
		out.Close()
		os.Remove(localPath)
		return "", fmt.Errorf("write %s: %w", localPath, err)
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	f.logger.Info().Str("path", localPath).Msg("main image saved")
	return localPath, nil
}

// ImageName returns the file name the main image is stored under.
func ImageName(imageURL string) string {
	if u, err := url.Parse(imageURL); err == nil {
		name := path.Base(u.Path)
		if name == "." || name == "/" {
			return ""
		}
		return name
	}
	name := path.Base(strings.SplitN(imageURL, "?", 2)[0])
	if name == "." || name == "/" {
		return ""
	}
	return name
}

func resolve(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse image url %q: %w", ref, err)
	}
	return b.ResolveReference(r).String(), nil
}
