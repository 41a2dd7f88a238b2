package images

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/gtmray/contents-bot/config"
	"github.com/gtmray/contents-bot/retry"
)

// ErrJobPending is returned by History while the server has no entry for the
// prompt yet. The poll policy keeps asking until it shows up.
var ErrJobPending = errors.New("comfyui job not finished")

// ImageRef points at one output file on the ComfyUI server.
type ImageRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// NodeOutput is the image list of one output node.
type NodeOutput struct {
	NodeID string     `json:"node_id"`
	Images []ImageRef `json:"images"`
}

// History is the finished entry of a prompt. Outputs keep the order the
// server listed them in.
type History struct {
	PromptID string       `json:"prompt_id"`
	Outputs  []NodeOutput `json:"outputs"`
}

// ComfyClient talks to one ComfyUI server. It is created once per process
// and carries the client_id every request is tagged with.
type ComfyClient struct {
	host       string
	clientID   string
	httpClient *http.Client
	dialer     *websocket.Dialer
	submit     retry.Policy
	fetch      retry.Policy
	poll       retry.Policy
	logger     zerolog.Logger
}

// NewComfyClient creates a client for host (host:port, a scheme is tolerated).
func NewComfyClient(host string, cfg config.ImagesConfig, httpClient *http.Client, logger zerolog.Logger) *ComfyClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	host = strings.TrimPrefix(strings.TrimPrefix(host, "http://"), "https://")
	return &ComfyClient{
		host:       strings.TrimSuffix(host, "/"),
		clientID:   uuid.New().String(),
		httpClient: httpClient,
		dialer:     websocket.DefaultDialer,
		submit:     retry.FromConfig("submit_prompt", cfg.Submit),
		fetch:      retry.FromConfig("fetch_image", cfg.Fetch),
		poll:       retry.FromConfig("poll_history", cfg.Poll),
		logger:     logger.With().Str("component", "comfyui").Logger(),
	}
}

// ClientID is the id sent with every submitted prompt.
func (c *ComfyClient) ClientID() string {
	return c.clientID
}

// Connect opens the websocket the server streams progress on. The caller
// closes it once the job's images are fetched.
func (c *ComfyClient) Connect(ctx context.Context) (*websocket.Conn, error) {
	wsURL := fmt.Sprintf("ws://%s/ws?clientId=%s", c.host, url.QueryEscape(c.clientID))
	conn, resp, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("connect websocket: HTTP %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("connect websocket: %w", err)
	}
	return conn, nil
}

// Submit queues a workflow and returns its prompt_id.
func (c *ComfyClient) Submit(ctx context.Context, workflow map[string]any) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"prompt":    workflow,
		"client_id": c.clientID,
	})
	if err != nil {
		return "", fmt.Errorf("encode prompt: %w", err)
	}

	return retry.Do(ctx, c.submit, c.logger, func(ctx context.Context) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/prompt"), bytes.NewReader(payload))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")

		body, err := c.do(req)
		if err != nil {
			return "", err
		}
		var resp struct {
			PromptID string `json:"prompt_id"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", fmt.Errorf("decode prompt response: %w", err)
		}
		if resp.PromptID == "" {
			return "", fmt.Errorf("prompt response has no prompt_id: %s", body)
		}
		c.logger.Info().Str("prompt_id", resp.PromptID).Msg("prompt queued")
		return resp.PromptID, nil
	})
}

// History polls /history/{id} until the job's entry exists.
func (c *ComfyClient) History(ctx context.Context, promptID string) (*History, error) {
	return retry.Do(ctx, c.poll, c.logger, func(ctx context.Context) (*History, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/history/"+url.PathEscape(promptID)), nil)
		if err != nil {
			return nil, err
		}
		body, err := c.do(req)
		if err != nil {
			return nil, err
		}

		var entries map[string]json.RawMessage
		if err := json.Unmarshal(body, &entries); err != nil {
			return nil, fmt.Errorf("decode history: %w", err)
		}
		raw, ok := entries[promptID]
		if !ok {
			return nil, fmt.Errorf("prompt %s: %w", promptID, ErrJobPending)
		}
		var entry struct {
			Outputs json.RawMessage `json:"outputs"`
		}
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, fmt.Errorf("decode history entry: %w", err)
		}
		outputs, err := decodeOutputs(entry.Outputs)
		if err != nil {
			return nil, err
		}
		return &History{PromptID: promptID, Outputs: outputs}, nil
	})
}

// Image downloads one output file.
func (c *ComfyClient) Image(ctx context.Context, ref ImageRef) ([]byte, error) {
	q := url.Values{}
	q.Set("filename", ref.Filename)
	q.Set("subfolder", ref.Subfolder)
	q.Set("type", ref.Type)
	viewURL := c.endpoint("/view") + "?" + q.Encode()

	return retry.Do(ctx, c.fetch, c.logger, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, viewURL, nil)
		if err != nil {
			return nil, err
		}
		return c.do(req)
	})
}

func (c *ComfyClient) endpoint(path string) string {
	return "http://" + c.host + path
}

func (c *ComfyClient) do(req *http.Request) ([]byte, error) {
	return readBody(c.httpClient, req)
}

// readBody sends req and returns the body of a 2xx response. Any other
// status is an error carrying the start of the body.
func readBody(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", req.URL.Path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s %s: HTTP %d: %s", req.Method, req.URL.Path, resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

// decodeOutputs walks the outputs object token by token so node order
// survives; a map would lose it.
func decodeOutputs(raw json.RawMessage) ([]NodeOutput, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decode outputs: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("decode outputs: expected object, got %v", tok)
	}

	var outputs []NodeOutput
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode outputs: %w", err)
		}
		nodeID, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("decode outputs: unexpected key %v", tok)
		}
		var node struct {
			Images []ImageRef `json:"images"`
		}
		if err := dec.Decode(&node); err != nil {
			return nil, fmt.Errorf("decode outputs of node %s: %w", nodeID, err)
		}
		outputs = append(outputs, NodeOutput{NodeID: nodeID, Images: node.Images})
	}
	return outputs, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
