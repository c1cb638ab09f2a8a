// Package gemini adapts the Google Generative AI SDK to the embedding and
// completion collaborators.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/lorekeep/lorekeep/pkg/resilience"
)

type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

type embedder interface {
	EmbedContent(ctx context.Context, parts ...genai.Part) (*genai.EmbedContentResponse, error)
}

// Options configures a Client.
type Options struct {
	APIKey     string
	ChatModel  string
	EmbedModel string
	// Limiter is optional.
	Limiter *resilience.Limiter
}

// DefaultOptions returns the model names used when none are configured.
func DefaultOptions() Options {
	return Options{ChatModel: "gemini-1.5-flash", EmbedModel: "text-embedding-004"}
}

// Client wraps one genai.Client.
type Client struct {
	sdk      *genai.Client
	model    func(temperature float64) generator
	embedder embedder
	limiter  *resilience.Limiter
}

var errNoCandidates = errors.New("gemini: no text in response")

// New dials the Gemini API with an API key.
func New(ctx context.Context, opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	def := DefaultOptions()
	if opts.ChatModel == "" {
		opts.ChatModel = def.ChatModel
	}
	if opts.EmbedModel == "" {
		opts.EmbedModel = def.EmbedModel
	}
	sdk, err := genai.NewClient(ctx, option.WithAPIKey(opts.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	c := &Client{
		sdk:      sdk,
		embedder: sdk.EmbeddingModel(opts.EmbedModel),
		limiter:  opts.Limiter,
	}
	c.model = func(temperature float64) generator {
		m := sdk.GenerativeModel(opts.ChatModel)
		m.SetTemperature(float32(temperature))
		return m
	}
	return c, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	if c.sdk == nil {
		return nil
	}
	return c.sdk.Close()
}

// EmbedOne returns the embedding of text.
func (c *Client) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.embedder.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini: embed: %w", err)
	}
	if resp == nil || resp.Embedding == nil {
		return nil, errors.New("gemini: embed: empty response")
	}
	return resp.Embedding.Values, nil
}

// Complete generates a response to prompt at the given temperature.
func (c *Client) Complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	resp, err := c.model(temperature).GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini: generate: %w", err)
	}
	text := responseText(resp)
	if text == "" {
		return "", errNoCandidates
	}
	return text, nil
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return strings.TrimSpace(b.String())
}
