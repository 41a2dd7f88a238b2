package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/youtube/v3"
)

// Authenticator produces an OAuth2 HTTP client for the YouTube upload scope.
// A cached token is reused and refreshed when possible; otherwise the user
// goes through the browser consent flow once and the token is saved.
type Authenticator struct {
	secretsFile string
	tokenFile   string
	logger      zerolog.Logger
}

// NewAuthenticator creates an authenticator from the client secrets JSON
// downloaded from the Google Cloud console and a token cache path.
func NewAuthenticator(secretsFile, tokenFile string, logger zerolog.Logger) *Authenticator {
	return &Authenticator{
		secretsFile: secretsFile,
		tokenFile:   tokenFile,
		logger:      logger.With().Str("component", "youtube_auth").Logger(),
	}
}

// Client returns an authorized HTTP client.
func (a *Authenticator) Client(ctx context.Context) (*http.Client, error) {
	secrets, err := os.ReadFile(a.secretsFile)
	if err != nil {
		return nil, fmt.Errorf("read client secrets: %w", err)
	}
	conf, err := google.ConfigFromJSON(secrets, youtube.YoutubeUploadScope)
	if err != nil {
		return nil, fmt.Errorf("parse client secrets: %w", err)
	}

	tok, err := loadToken(a.tokenFile)
	switch {
	case err == nil && tok.Valid():
		a.logger.Info().Str("file", a.tokenFile).Msg("loaded cached credentials")
	case err == nil && tok.RefreshToken != "":
		a.logger.Info().Msg("refreshing expired credentials")
		tok, err = conf.TokenSource(ctx, tok).Token()
		if err != nil {
			return nil, fmt.Errorf("refresh token: %w", err)
		}
		if err := a.save(tok); err != nil {
			return nil, err
		}
	default:
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			a.logger.Warn().Err(err).Msg("ignoring unreadable token cache")
		}
		a.logger.Info().Msg("initiating OAuth flow for new credentials")
		tok, err = a.consent(ctx, conf)
		if err != nil {
			return nil, err
		}
		if err := a.save(tok); err != nil {
			return nil, err
		}
	}

	src := &savingSource{
		base: conf.TokenSource(ctx, tok),
		last: tok.AccessToken,
		save: a.save,
	}
	return oauth2.NewClient(ctx, src), nil
}

// consent runs the installed-app flow against a loopback redirect on a
// random port and exchanges the returned code.
func (a *Authenticator) consent(ctx context.Context, conf *oauth2.Config) (*oauth2.Token, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen for oauth redirect: %w", err)
	}
	defer ln.Close()

	conf.RedirectURL = fmt.Sprintf("http://%s/", ln.Addr().String())
	state := uuid.NewString()
	codes := make(chan string, 1)
	errs := make(chan error, 1)

	srv := &http.Server{Handler: callbackHandler(state, codes, errs)}
	go srv.Serve(ln)
	defer srv.Close()

	authURL := conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	a.logger.Info().Str("url", authURL).Msg("open this URL in a browser to authorize uploads")
	fmt.Fprintf(os.Stderr, "\nAuthorize YouTube uploads by visiting:\n\n  %s\n\n", authURL)

	select {
	case code := <-codes:
		tok, err := conf.Exchange(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("exchange auth code: %w", err)
		}
		return tok, nil
	case err := <-errs:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func callbackHandler(state string, codes chan<- string, errs chan<- error) http.Handler {
	var once sync.Once
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		if e := q.Get("error"); e != "" {
			http.Error(w, "authorization failed: "+e, http.StatusForbidden)
			once.Do(func() { errs <- fmt.Errorf("authorization denied: %s", e) })
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, "The authentication flow has completed. You may close this window.")
		once.Do(func() { codes <- code })
	})
}

func (a *Authenticator) save(tok *oauth2.Token) error {
	if err := saveToken(a.tokenFile, tok); err != nil {
		return err
	}
	a.logger.Info().Str("file", a.tokenFile).Msg("saved credentials")
	return nil
}

func loadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	return &tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return nil
}

// savingSource writes every newly refreshed token back to the cache.
type savingSource struct {
	mu   sync.Mutex
	base oauth2.TokenSource
	last string
	save func(*oauth2.Token) error
}

func (s *savingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := s.save(tok); err != nil {
			return nil, err
		}
	}
	return tok, nil
}
