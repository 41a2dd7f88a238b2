package types

import (
	"encoding/json"
)

// Article is what the fetcher extracts from one news page
type Article struct {
	URL           string `json:"url"`
	Title         string `json:"title"`
	Content       string `json:"content"`
	MainImageURL  string `json:"main_image_url,omitempty"`
	MainImagePath string `json:"main_image_path,omitempty"`
}

// FetchResult is either an article or an error marker, never both.
type FetchResult struct {
	Article *Article `json:"article,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// OK reports whether the fetch produced an article.
func (r FetchResult) OK() bool {
	return r.Error == "" && r.Article != nil
}

// Text is what the script stage receives: the article body on success, the
// serialized error marker otherwise.
func (r FetchResult) Text() string {
	if r.OK() {
		return r.Article.Content
	}
	data, _ := json.Marshal(map[string]string{"error": r.Error})
	return string(data)
}

// Script is the narration text
type Script string

// TitleDescription holds the upload title and description
type TitleDescription struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// GeneratedImage is one image returned by the image backend
type GeneratedImage struct {
	NodeID    string `json:"node_id"`
	Filename  string `json:"filename"`
	Data      []byte `json:"-"`
	LocalPath string `json:"local_path,omitempty"`
}

// PublishResult is what the hosting platform returned for an upload
type PublishResult struct {
	VideoID string `json:"video_id"`
	URL     string `json:"url"`
}

// PipelineState tracks the full state of one pipeline run
type PipelineState struct {
	RunID         string            `json:"run_id"`
	SourceURL     string            `json:"source_url"`
	StartedAt     string            `json:"started_at"`
	CompletedAt   string            `json:"completed_at"`
	Fetch         *FetchResult      `json:"fetch,omitempty"`
	ScriptFile    string            `json:"script_file,omitempty"`
	ImagePrompts  []string          `json:"image_prompts,omitempty"`
	Metadata      *TitleDescription `json:"metadata,omitempty"`
	ImageFiles    []string          `json:"image_files,omitempty"`
	AudioFile     string            `json:"audio_file,omitempty"`
	AudioDuration float64           `json:"audio_duration_sec,omitempty"`
	VideoFile     string            `json:"video_file,omitempty"`
	VideoBlake3   string            `json:"video_blake3,omitempty"`
	Publish       *PublishResult    `json:"publish,omitempty"`
	PublishError  string            `json:"publish_error,omitempty"`
	Error         string            `json:"error,omitempty"`
}
