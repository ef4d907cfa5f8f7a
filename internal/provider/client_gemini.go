package provider

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"
)

// GeminiClient implements Client using Google's GenAI SDK.
type GeminiClient struct {
	client    *genai.Client
	model     string
	maxTokens int
	timeout   time.Duration
}

// GeminiConfig holds configuration for the Gemini client.
type GeminiConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// DefaultGeminiConfig returns sensible defaults.
func DefaultGeminiConfig(apiKey string) GeminiConfig {
	return GeminiConfig{
		APIKey:    apiKey,
		Model:     "gemini-2.0-flash-001",
		MaxTokens: 2048,
		Timeout:   30 * time.Second,
	}
}

// NewGeminiClient creates a new Gemini client.
func NewGeminiClient(config GeminiConfig) (*GeminiClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	if config.Model == "" {
		config.Model = "gemini-2.0-flash-001"
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 2048
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: config.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GeminiClient{
		client:    client,
		model:     config.Model,
		maxTokens: config.MaxTokens,
		timeout:   config.Timeout,
	}, nil
}

// Provider returns the vendor name.
func (c *GeminiClient) Provider() string { return "gemini" }

// Model returns the configured model name.
func (c *GeminiClient) Model() string { return c.model }

// Complete sends a prompt with a system instruction and returns the completion.
func (c *GeminiClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (*Completion, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(c.maxTokens),
	}
	if systemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemPrompt}},
		}
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(userPrompt), cfg)
	if err != nil {
		return nil, fmt.Errorf("generate content failed: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("no content in response")
	}

	completion := &Completion{Text: text}
	if resp.UsageMetadata != nil {
		completion.TokensIn = int(resp.UsageMetadata.PromptTokenCount)
		completion.TokensOut = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return completion, nil
}
