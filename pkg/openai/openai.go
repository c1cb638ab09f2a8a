// Package openai is a client for OpenAI-compatible embeddings and chat
// completion endpoints (OpenAI, Azure, DashScope compatible mode, vLLM).
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/lorekeep/lorekeep/pkg/fn"
	"github.com/lorekeep/lorekeep/pkg/httpx"
	"github.com/lorekeep/lorekeep/pkg/resilience"
)

const (
	DefaultBaseURL    = "https://api.openai.com/v1"
	DefaultEmbedModel = "text-embedding-3-small"
	DefaultChatModel  = "gpt-4o-mini"
	DefaultTimeout    = 120 * time.Second
)

// Config configures a Client.
type Config struct {
	APIKey     string
	BaseURL    string
	EmbedModel string
	ChatModel  string
	// Dimensions asks the embedding endpoint for vectors of this size.
	// Zero leaves it to the model.
	Dimensions int
	Timeout    time.Duration
	Retry      fn.RetryOpts
	Breaker    *resilience.Breaker
	Limiter    *resilience.Limiter
}

// Client calls one OpenAI-compatible endpoint.
type Client struct {
	cfg    Config
	http   *http.Client
	header http.Header
}

// New validates cfg and fills in defaults.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = DefaultEmbedModel
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultChatModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = fn.DefaultRetry
	}
	cfg.Retry.Retryable = httpx.Retryable
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		header: http.Header{"Authorization": {"Bearer " + cfg.APIKey}},
	}, nil
}

func call[Resp any](ctx context.Context, c *Client, path string, in any) (Resp, error) {
	return fn.Retry(ctx, c.cfg.Retry, func(ctx context.Context) fn.Result[Resp] {
		if err := c.cfg.Limiter.Wait(ctx); err != nil {
			return fn.Err[Resp](err)
		}
		do := func(ctx context.Context) (Resp, error) {
			var out Resp
			err := httpx.PostJSON(ctx, c.http, c.cfg.BaseURL+path, c.header, in, &out)
			return out, err
		}
		if c.cfg.Breaker == nil {
			return fn.FromPair(do(ctx))
		}
		return fn.FromPair(resilience.Do(ctx, c.cfg.Breaker, do))
	}).Unwrap()
}

type embeddingRequest struct {
	Model          string   `json:"model"`
	Input          []string `json:"input"`
	Dimensions     int      `json:"dimensions,omitempty"`
	EncodingFormat string   `json:"encoding_format"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// EmbedOne returns the embedding of text.
func (c *Client) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in one request, returning vectors in input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := call[embeddingResponse](ctx, c, "/embeddings", embeddingRequest{
		Model:          c.cfg.EmbedModel,
		Input:          texts,
		Dimensions:     c.cfg.Dimensions,
		EncodingFormat: "float",
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: asked for %d, got %d", len(texts), len(resp.Data))
	}
	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// Complete sends prompt as a single user message.
func (c *Client) Complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	resp, err := call[chatResponse](ctx, c, "/chat/completions", chatRequest{
		Model:       c.cfg.ChatModel,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", errors.New("openai chat: empty completion")
	}
	return resp.Choices[0].Message.Content, nil
}
