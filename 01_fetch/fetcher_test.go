package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/gtmray/contents-bot/config"
)

const articlePage = `<html><body>
<h1>  Storm Hits Coast </h1>
<h1>Second heading</h1>
<div class="image__container"><img src="/media/storm.jpg?w=800&q=70"></div>
<div class="article__content"><p>Winds reached 120 km/h.</p></div>
<div class="sidebar">Ads</div>
<div class="article__content"> Thousands lost power. </div>
</body></html>`

func newFetcher(t *testing.T) (*Fetcher, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "images")
	return New(config.Default().Fetch, dir, nil, zerolog.Nop()), dir
}

func TestFetchExtractsArticle(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/news/storm", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(articlePage))
	})
	mux.HandleFunc("/media/storm.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("jpeg-bytes"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f, dir := newFetcher(t)
	res := f.Fetch(context.Background(), srv.URL+"/news/storm")
	if !res.OK() {
		t.Fatalf("fetch failed: %s", res.Error)
	}
	a := res.Article
	if a.Title != "Storm Hits Coast" {
		t.Errorf("title = %q", a.Title)
	}
	if a.Content != "Winds reached 120 km/h.\nThousands lost power." {
		t.Errorf("content = %q", a.Content)
	}
	if a.MainImageURL != srv.URL+"/media/storm.jpg?w=800&q=70" {
		t.Errorf("image url = %q", a.MainImageURL)
	}
	want := filepath.Join(dir, "storm.jpg")
	if a.MainImagePath != want {
		t.Errorf("image path = %q, want %q", a.MainImagePath, want)
	}
	data, err := os.ReadFile(want)
	if err != nil || string(data) != "jpeg-bytes" {
		t.Errorf("saved image = %q, %v", data, err)
	}
}

func TestFetchWithoutImageContainer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<h1>Title</h1><div class="article__content">Body.</div>`))
	}))
	defer srv.Close()

	f, dir := newFetcher(t)
	res := f.Fetch(context.Background(), srv.URL)
	if !res.OK() {
		t.Fatalf("fetch failed: %s", res.Error)
	}
	if res.Article.MainImageURL != "" || res.Article.MainImagePath != "" {
		t.Errorf("unexpected image: %+v", res.Article)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("image dir should not be created")
	}
}

func TestFetchServerErrorReturnsMarker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	f, _ := newFetcher(t)
	res := f.Fetch(context.Background(), srv.URL)
	if res.OK() {
		t.Fatal("expected failure")
	}
	if res.Article != nil {
		t.Errorf("article must be nil on failure, got %+v", res.Article)
	}
	if !strings.Contains(res.Error, "500") {
		t.Errorf("error = %q", res.Error)
	}
	if !strings.Contains(res.Text(), `"error"`) {
		t.Errorf("marker text = %q", res.Text())
	}
}

func TestFetchImageFailureFailsWholeFetch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<h1>T</h1><div class="image__container"><img src="/missing.png"></div>`))
	})
	mux.HandleFunc("/missing.png", http.NotFound)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f, _ := newFetcher(t)
	res := f.Fetch(context.Background(), srv.URL+"/")
	if res.OK() || !strings.Contains(res.Error, "404") {
		t.Fatalf("res = %+v", res)
	}
}

func TestFetchMissingTitle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<p>no heading</p>`))
	}))
	defer srv.Close()

	f, _ := newFetcher(t)
	if res := f.Fetch(context.Background(), srv.URL); res.OK() {
		t.Fatal("expected failure without h1")
	}
}

func TestImageName(t *testing.T) {
	tests := map[string]string{
		"https://cdn.example.com/a/b/photo.jpg?c=0&w=1":  "photo.jpg",
		"https://cdn.example.com/photo.webp":             "photo.webp",
		"https://cdn.example.com/":                       "",
		"https://cdn.example.com/dir/img.png#fragment":   "img.png",
	}
	for in, want := range tests {
		if got := ImageName(in); got != want {
			t.Errorf("ImageName(%q) = %q, want %q", in, got, want)
		}
	}
}
