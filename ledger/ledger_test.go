package ledger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gtmray/contents-bot/types"
)

func openTemp(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "db", "ledger.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecordAndLastSuccess(t *testing.T) {
	ctx := context.Background()
	l := openTemp(t)
	const url = "https://news.example.com/storm"

	if _, ok, err := l.LastSuccess(ctx, url); err != nil || ok {
		t.Fatalf("empty ledger: ok=%v err=%v", ok, err)
	}

	failed := &types.PipelineState{RunID: "r1", SourceURL: url, StartedAt: "2026-01-01T00:00:00Z", CompletedAt: "2026-01-01T00:01:00Z", Error: "boom"}
	if err := l.Record(ctx, failed); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := l.LastSuccess(ctx, url); ok {
		t.Fatal("failed run counted as success")
	}

	ok1 := &types.PipelineState{RunID: "r2", SourceURL: url, StartedAt: "2026-01-02T00:00:00Z", CompletedAt: "2026-01-02T00:05:00Z", VideoFile: "v.mp4", VideoBlake3: "aa"}
	ok2 := &types.PipelineState{RunID: "r3", SourceURL: url, StartedAt: "2026-01-03T00:00:00Z", CompletedAt: "2026-01-03T00:05:00Z", Publish: &types.PublishResult{VideoID: "yt1"}}
	for _, s := range []*types.PipelineState{ok1, ok2} {
		if err := l.Record(ctx, s); err != nil {
			t.Fatal(err)
		}
	}
	run, ok, err := l.LastSuccess(ctx, url)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if run.ID != "r3" || run.YouTubeID != "yt1" || run.Status != StatusSuccess {
		t.Errorf("run = %+v", run)
	}
}

func TestRecordUpdatesSameRun(t *testing.T) {
	ctx := context.Background()
	l := openTemp(t)
	s := &types.PipelineState{RunID: "r1", SourceURL: "u", StartedAt: "t0", Error: "partial"}
	l.Record(ctx, s)
	s.Error = ""
	s.CompletedAt = "t1"
	if err := l.Record(ctx, s); err != nil {
		t.Fatal(err)
	}
	run, ok, err := l.LastSuccess(ctx, "u")
	if err != nil || !ok || run.CompletedAt != "t1" {
		t.Fatalf("run = %+v ok=%v err=%v", run, ok, err)
	}
}

func TestLastPublishedSurvivesLaterUnpublishedRuns(t *testing.T) {
	ctx := context.Background()
	l := openTemp(t)
	const url = "https://news.example.com/storm"

	if _, ok, err := l.LastPublished(ctx, url); err != nil || ok {
		t.Fatalf("empty ledger: ok=%v err=%v", ok, err)
	}
	runs := []*types.PipelineState{
		{RunID: "r1", SourceURL: url, StartedAt: "2026-01-01T00:00:00Z", CompletedAt: "2026-01-01T00:05:00Z", Publish: &types.PublishResult{VideoID: "vid1"}},
		// upload failed but the run itself succeeded
		{RunID: "r2", SourceURL: url, StartedAt: "2026-01-02T00:00:00Z", CompletedAt: "2026-01-02T00:05:00Z", PublishError: "quota exceeded"},
		{RunID: "r3", SourceURL: url, StartedAt: "2026-01-03T00:00:00Z", CompletedAt: "2026-01-03T00:05:00Z", Error: "boom"},
	}
	for _, s := range runs {
		if err := l.Record(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	if run, _, _ := l.LastSuccess(ctx, url); run.ID != "r2" {
		t.Fatalf("last success = %+v", run)
	}
	run, ok, err := l.LastPublished(ctx, url)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if run.ID != "r1" || run.YouTubeID != "vid1" {
		t.Errorf("last published = %+v", run)
	}
	if _, ok, _ := l.LastPublished(ctx, "https://news.example.com/other"); ok {
		t.Error("other url reported as published")
	}
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	os.WriteFile(path, nil, 0644)
	got, err := HashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// BLAKE3 of the empty input.
	const want = "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262"
	if got != want {
		t.Errorf("HashFile = %s, want %s", got, want)
	}
	if _, err := HashFile(path + ".missing"); err == nil {
		t.Error("expected error for missing file")
	}
}
