// Package ledger keeps a SQLite record of every pipeline run so an article
// that was already published can be recognized on the next run.
package ledger

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"lukechampine.com/blake3"

	"github.com/gtmray/contents-bot/types"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Run is one row of the runs table.
type Run struct {
	ID          string
	URL         string
	Status      string
	Error       string
	VideoPath   string
	VideoBlake3 string
	YouTubeID   string
	StartedAt   string
	CompletedAt string
}

type Ledger struct {
	db *sql.DB
}

// Open opens (creating if needed) the ledger database at path.
func Open(path string) (*Ledger, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	// one connection keeps :memory: databases alive and writes serialized
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
	PRAGMA busy_timeout = 10000;
	PRAGMA journal_mode = WAL;
	PRAGMA synchronous  = NORMAL;

	create table if not exists runs (
		id text primary key not null,
		url text not null,
		status text not null,
		error text not null default '',
		video_path text not null default '',
		video_blake3 text not null default '',
		youtube_id text not null default '',
		started_at text not null,
		completed_at text not null default ''
	);

	create index if not exists runs_url on runs (url, status);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init ledger schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

// Record inserts or updates the row for the run described by state.
func (l *Ledger) Record(ctx context.Context, state *types.PipelineState) error {
	status := StatusSuccess
	if state.Error != "" {
		status = StatusFailed
	}
	var youtubeID string
	if state.Publish != nil {
		youtubeID = state.Publish.VideoID
	}

	_, err := l.db.ExecContext(ctx, `
		insert into runs (id, url, status, error, video_path, video_blake3, youtube_id, started_at, completed_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		on conflict (id) do update set
			status = excluded.status,
			error = excluded.error,
			video_path = excluded.video_path,
			video_blake3 = excluded.video_blake3,
			youtube_id = excluded.youtube_id,
			completed_at = excluded.completed_at
	`,
		state.RunID,
		state.SourceURL,
		status,
		state.Error,
		state.VideoFile,
		state.VideoBlake3,
		youtubeID,
		state.StartedAt,
		state.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", state.RunID, err)
	}
	return nil
}

// LastSuccess returns the most recent successful run for url. ok is false
// when there is none.
func (l *Ledger) LastSuccess(ctx context.Context, url string) (Run, bool, error) {
	return l.last(ctx, `url = $1 and status = $2`, url, StatusSuccess)
}

// LastPublished returns the most recent run for url that uploaded a video,
// whatever runs came after it.
func (l *Ledger) LastPublished(ctx context.Context, url string) (Run, bool, error) {
	return l.last(ctx, `url = $1 and youtube_id != ''`, url)
}

func (l *Ledger) last(ctx context.Context, where string, args ...any) (run Run, ok bool, err error) {
	err = l.db.
		QueryRowContext(
			ctx,
			`select id, url, status, error, video_path, video_blake3, youtube_id, started_at, completed_at
			from runs where `+where+`
			order by completed_at desc limit 1`,
			args...,
		).
		Scan(&run.ID, &run.URL, &run.Status, &run.Error, &run.VideoPath, &run.VideoBlake3, &run.YouTubeID, &run.StartedAt, &run.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, fmt.Errorf("query last run for %v: %w", args[0], err)
	}
	return run, true, nil
}

// HashFile returns the hex blake3-256 digest of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("calculating blake3 hash from file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
