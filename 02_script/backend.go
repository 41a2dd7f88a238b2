package script

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/api/option"
)

// TextGenerator is one chat round-trip against a text-generation model.
type TextGenerator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// OpenAIBackend talks to any OpenAI-compatible chat completions endpoint
// (OpenAI itself, Groq, a local server).
type OpenAIBackend struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

// NewOpenAIBackend creates a backend; an empty baseURL means api.openai.com.
func NewOpenAIBackend(apiKey, baseURL, model string, temperature float64, maxTokens int) *OpenAIBackend {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIBackend{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		temperature: float32(temperature),
		maxTokens:   maxTokens,
	}
}

func (b *OpenAIBackend) Generate(ctx context.Context, system, user string) (string, error) {
	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: b.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: b.temperature,
		MaxTokens:   b.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// GeminiBackend uses the Gemini API through generative-ai-go.
type GeminiBackend struct {
	client      *genai.Client
	model       string
	temperature float32
	maxTokens   int32
}

func NewGeminiBackend(ctx context.Context, apiKey, model string, temperature float64, maxTokens int) (*GeminiBackend, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiBackend{
		client:      client,
		model:       model,
		temperature: float32(temperature),
		maxTokens:   int32(maxTokens),
	}, nil
}

func (b *GeminiBackend) Generate(ctx context.Context, system, user string) (string, error) {
	model := b.client.GenerativeModel(b.model)
	model.SetTemperature(b.temperature)
	model.SetMaxOutputTokens(b.maxTokens)
	model.SystemInstruction = genai.NewUserContent(genai.Text(system))

	resp, err := model.GenerateContent(ctx, genai.Text(user))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return geminiText(resp)
}

// geminiText joins the text parts of the first candidate.
func geminiText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini returned no candidates")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("gemini returned no text parts")
	}
	return sb.String(), nil
}

// Close releases the client connection.
func (b *GeminiBackend) Close() error {
	return b.client.Close()
}
