package images

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/rs/zerolog"

	"github.com/gtmray/contents-bot/config"
	"github.com/gtmray/contents-bot/retry"
	"github.com/gtmray/contents-bot/types"
)

// Backend produces the images for one prompt. index is the prompt's position
// in the run.
type Backend interface {
	Generate(ctx context.Context, prompt string, index int) ([]types.GeneratedImage, error)
}

// ComfyGenerator runs the workflow template on ComfyUI once per prompt.
type ComfyGenerator struct {
	client   *ComfyClient
	template []byte
	cfg      config.ImagesConfig
	seed     int64
	sequence retry.Policy
	memo     *bigcache.BigCache
	logger   zerolog.Logger
}

// NewComfyGenerator loads the workflow template at workflowPath and checks
// that every configured node exists in it.
func NewComfyGenerator(ctx context.Context, client *ComfyClient, workflowPath string, cfg config.ImagesConfig, logger zerolog.Logger) (*ComfyGenerator, error) {
	data, err := os.ReadFile(workflowPath)
	if err != nil {
		return nil, fmt.Errorf("read workflow: %w", err)
	}
	var nodes map[string]any
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("parse workflow %s: %w", workflowPath, err)
	}
	for _, id := range []string{cfg.Nodes.PromptText, cfg.Nodes.FilenamePrefix, cfg.Nodes.BatchSize, cfg.Nodes.Seed} {
		if _, ok := nodes[id].(map[string]any); !ok {
			return nil, fmt.Errorf("workflow %s has no node %q", workflowPath, id)
		}
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63n(100001)
	}

	g := &ComfyGenerator{
		client:   client,
		template: data,
		cfg:      cfg,
		seed:     seed,
		sequence: retry.FromConfig("generate_images", cfg.Sequence),
		logger:   logger.With().Str("stage", "images").Str("backend", "comfyui").Logger(),
	}
	if cfg.ResumeOnRetry {
		g.memo, err = bigcache.New(ctx, bigcache.DefaultConfig(time.Hour))
		if err != nil {
			return nil, fmt.Errorf("create resume cache: %w", err)
		}
	}
	g.logger.Info().Int64("seed", seed).Str("workflow", workflowPath).Msg("comfyui generator ready")
	return g, nil
}

// Close releases the resume cache.
func (g *ComfyGenerator) Close() error {
	if g.memo == nil {
		return nil
	}
	return g.memo.Close()
}

// Generate submits the prompt, waits for the job and downloads its images.
// The whole sequence is retried under the sequence policy.
func (g *ComfyGenerator) Generate(ctx context.Context, prompt string, index int) ([]types.GeneratedImage, error) {
	workflow, err := g.workflow(prompt)
	if err != nil {
		return nil, err
	}

	m := &memo{cache: g.memo, prefix: fmt.Sprintf("%03d/", index)}
	defer m.clear()

	images, err := retry.Do(ctx, g.sequence, g.logger, func(ctx context.Context) ([]types.GeneratedImage, error) {
		return g.attempt(ctx, workflow, m)
	})
	if err != nil {
		return nil, fmt.Errorf("generate images for prompt %d: %w", index, err)
	}
	g.logger.Info().Int("prompt", index).Int("images", len(images)).Msg("images received")
	return images, nil
}

func (g *ComfyGenerator) attempt(ctx context.Context, workflow map[string]any, m *memo) ([]types.GeneratedImage, error) {
	conn, err := g.client.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	promptID, ok := m.get("prompt_id")
	if ok {
		g.logger.Info().Str("prompt_id", string(promptID)).Msg("resuming queued prompt")
	} else {
		id, err := g.client.Submit(ctx, workflow)
		if err != nil {
			return nil, err
		}
		promptID = []byte(id)
		m.set("prompt_id", promptID)
	}

	history, err := g.history(ctx, string(promptID), m)
	if err != nil {
		return nil, err
	}

	var images []types.GeneratedImage
	for _, node := range history.Outputs {
		for _, ref := range node.Images {
			key := "image/" + node.NodeID + "/" + ref.Subfolder + "/" + ref.Filename
			data, ok := m.get(key)
			if !ok {
				data, err = g.client.Image(ctx, ref)
				if err != nil {
					return nil, err
				}
				m.set(key, data)
			}
			g.logger.Debug().Str("node", node.NodeID).Str("filename", ref.Filename).Int("bytes", len(data)).Msg("image fetched")
			images = append(images, types.GeneratedImage{NodeID: node.NodeID, Filename: ref.Filename, Data: data})
		}
	}

	if !g.cfg.PersistAllNodes {
		images = lastNode(images, history.Outputs)
	}
	return images, nil
}

func (g *ComfyGenerator) history(ctx context.Context, promptID string, m *memo) (*History, error) {
	if data, ok := m.get("history"); ok {
		var h History
		if err := json.Unmarshal(data, &h); err == nil {
			return &h, nil
		}
	}
	h, err := g.client.History(ctx, promptID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(h); err == nil {
		m.set("history", data)
	}
	return h, nil
}

// workflow returns a fresh copy of the template with this prompt's inputs set.
func (g *ComfyGenerator) workflow(prompt string) (map[string]any, error) {
	var wf map[string]any
	if err := json.Unmarshal(g.template, &wf); err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}
	n := g.cfg.Nodes
	for _, in := range []struct {
		node, key string
		value     any
	}{
		{n.PromptText, "text", prompt},
		{n.FilenamePrefix, "filename_prefix", g.cfg.FilenamePrefix},
		{n.BatchSize, "batch_size", g.cfg.NumImages},
		{n.Seed, "seed", g.seed},
	} {
		if err := setInput(wf, in.node, in.key, in.value); err != nil {
			return nil, err
		}
	}
	return wf, nil
}

func setInput(wf map[string]any, nodeID, key string, value any) error {
	node, ok := wf[nodeID].(map[string]any)
	if !ok {
		return fmt.Errorf("workflow has no node %q", nodeID)
	}
	inputs, ok := node["inputs"].(map[string]any)
	if !ok {
		inputs = map[string]any{}
		node["inputs"] = inputs
	}
	inputs[key] = value
	return nil
}

// lastNode keeps only the images of the last output node, the way the
// first version of the bot saved them.
func lastNode(images []types.GeneratedImage, outputs []NodeOutput) []types.GeneratedImage {
	if len(outputs) == 0 {
		return nil
	}
	last := outputs[len(outputs)-1].NodeID
	var kept []types.GeneratedImage
	for _, img := range images {
		if img.NodeID == last {
			kept = append(kept, img)
		}
	}
	return kept
}

// memo remembers finished sub-steps of one prompt across sequence retries.
// A nil cache disables it.
type memo struct {
	cache  *bigcache.BigCache
	prefix string
	keys   []string
}

func (m *memo) get(key string) ([]byte, bool) {
	if m.cache == nil {
		return nil, false
	}
	data, err := m.cache.Get(m.prefix + key)
	if err != nil {
		return nil, false
	}
	return data, true
}

func (m *memo) set(key string, data []byte) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Set(m.prefix+key, data); err == nil {
		m.keys = append(m.keys, m.prefix+key)
	}
}

func (m *memo) clear() {
	if m.cache == nil {
		return
	}
	for _, k := range m.keys {
		m.cache.Delete(k)
	}
	m.keys = nil
}
