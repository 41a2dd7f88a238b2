package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/gtmray/contents-bot/config"
	"github.com/gtmray/contents-bot/types"
)

var (
	// ErrVideoMissing is returned when the file to upload does not exist.
	ErrVideoMissing = errors.New("video file does not exist")
	// ErrVideoNotFound is returned by Details for an unknown video id.
	ErrVideoNotFound = errors.New("video not found")
)

// VideoDetails is the snippet and statistics of an uploaded video.
type VideoDetails struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	PublishedAt  string `json:"published_at"`
	ViewCount    uint64 `json:"view_count"`
	LikeCount    uint64 `json:"like_count"`
	CommentCount uint64 `json:"comment_count"`
}

// ClientSource hands out authorized HTTP clients. *Authenticator is the
// production implementation.
type ClientSource interface {
	Client(ctx context.Context) (*http.Client, error)
}

// Uploader handles YouTube video upload via Data API v3
type Uploader struct {
	auth   ClientSource
	cfg    config.UploadConfig
	opts   []option.ClientOption
	logger zerolog.Logger
}

// New creates a new Uploader. opts are appended to the service options,
// e.g. option.WithEndpoint for a test server.
func New(auth ClientSource, cfg config.UploadConfig, logger zerolog.Logger, opts ...option.ClientOption) *Uploader {
	return &Uploader{
		auth:   auth,
		cfg:    cfg,
		opts:   opts,
		logger: logger.With().Str("stage", "upload").Logger(),
	}
}

// Upload sends videoFile with the given title and description.
func (u *Uploader) Upload(ctx context.Context, videoFile string, meta types.TitleDescription) (*types.PublishResult, error) {
	fi, err := os.Stat(videoFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", videoFile, ErrVideoMissing)
		}
		return nil, err
	}

	svc, err := u.service(ctx)
	if err != nil {
		return nil, err
	}

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       meta.Title,
			Description: meta.Description,
			CategoryId:  u.cfg.CategoryID,
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus: u.cfg.PrivacyStatus,
		},
	}

	f, err := os.Open(videoFile)
	if err != nil {
		return nil, fmt.Errorf("open video file: %w", err)
	}
	defer f.Close()

	u.logger.Info().
		Str("title", meta.Title).
		Str("privacy", u.cfg.PrivacyStatus).
		Float64("size_mb", float64(fi.Size())/1024/1024).
		Msg("uploading video")

	uploaded, err := svc.Videos.Insert([]string{"snippet", "status"}, video).Media(f).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("youtube upload: %w", err)
	}

	res := &types.PublishResult{
		VideoID: uploaded.Id,
		URL:     fmt.Sprintf("https://www.youtube.com/watch?v=%s", uploaded.Id),
	}
	u.logger.Info().Str("video_id", res.VideoID).Str("url", res.URL).Msg("video uploaded successfully")
	return res, nil
}

// Details fetches the snippet and statistics of videoID.
func (u *Uploader) Details(ctx context.Context, videoID string) (*VideoDetails, error) {
	svc, err := u.service(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := svc.Videos.List([]string{"snippet", "statistics"}).Id(videoID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("youtube list %s: %w", videoID, err)
	}
	if len(resp.Items) == 0 {
		return nil, fmt.Errorf("%s: %w", videoID, ErrVideoNotFound)
	}

	v := resp.Items[0]
	d := &VideoDetails{ID: v.Id}
	if v.Snippet != nil {
		d.Title = v.Snippet.Title
		d.Description = v.Snippet.Description
		d.PublishedAt = v.Snippet.PublishedAt
	}
	if v.Statistics != nil {
		d.ViewCount = v.Statistics.ViewCount
		d.LikeCount = v.Statistics.LikeCount
		d.CommentCount = v.Statistics.CommentCount
	}
	return d, nil
}

func (u *Uploader) service(ctx context.Context) (*youtube.Service, error) {
	u.logger.Info().Msg("authenticating with YouTube API")
	client, err := u.auth.Client(ctx)
	if err != nil {
		return nil, fmt.Errorf("youtube auth: %w", err)
	}
	svc, err := youtube.NewService(ctx, append([]option.ClientOption{option.WithHTTPClient(client)}, u.opts...)...)
	if err != nil {
		return nil, fmt.Errorf("youtube service: %w", err)
	}
	return svc, nil
}

// LogUpload saves the upload result to the logs directory
func LogUpload(logsDir, videoFile string, res *types.PublishResult, meta types.TitleDescription) (string, error) {
	entry := map[string]any{
		"video_id":    res.VideoID,
		"video_url":   res.URL,
		"title":       meta.Title,
		"uploaded_at": time.Now().UTC().Format(time.RFC3339),
		"video_file":  videoFile,
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return "", err
	}
	logFile := filepath.Join(logsDir, fmt.Sprintf("upload_%s.json", time.Now().Format("20060102_150405")))
	data, _ := json.MarshalIndent(entry, "", "  ")
	if err := os.WriteFile(logFile, data, 0644); err != nil {
		return "", err
	}
	return logFile, nil
}
