// Package ollama is an Ollama HTTP client for embeddings and completions.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lorekeep/lorekeep/pkg/fn"
	"github.com/lorekeep/lorekeep/pkg/httpx"
	"github.com/lorekeep/lorekeep/pkg/resilience"
)

// Options configures a Client.
type Options struct {
	BaseURL    string
	EmbedModel string
	ChatModel  string
	Timeout    time.Duration
	Retry      fn.RetryOpts
	// Breaker and Limiter are optional.
	Breaker *resilience.Breaker
	Limiter *resilience.Limiter
}

// DefaultOptions targets a local Ollama.
func DefaultOptions() Options {
	return Options{
		BaseURL:    "http://localhost:11434",
		EmbedModel: "bge-m3",
		ChatModel:  "qwen2.5",
		Timeout:    2 * time.Minute,
		Retry:      fn.DefaultRetry,
	}
}

// Client talks to one Ollama server.
type Client struct {
	opts Options
	http *http.Client
}

// New creates a Client. Empty fields fall back to DefaultOptions.
func New(opts Options) *Client {
	def := DefaultOptions()
	if opts.BaseURL == "" {
		opts.BaseURL = def.BaseURL
	}
	if opts.EmbedModel == "" {
		opts.EmbedModel = def.EmbedModel
	}
	if opts.ChatModel == "" {
		opts.ChatModel = def.ChatModel
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = def.Retry
	}
	opts.Retry.Retryable = httpx.Retryable
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Client{opts: opts, http: &http.Client{Timeout: opts.Timeout}}
}

// post sends one request through the limiter, breaker and retry loop.
func post[Resp any](ctx context.Context, c *Client, path string, in any) (Resp, error) {
	return fn.Retry(ctx, c.opts.Retry, func(ctx context.Context) fn.Result[Resp] {
		if err := c.opts.Limiter.Wait(ctx); err != nil {
			return fn.Err[Resp](err)
		}
		call := func(ctx context.Context) (Resp, error) {
			var out Resp
			err := httpx.PostJSON(ctx, c.http, c.opts.BaseURL+path, nil, in, &out)
			return out, err
		}
		if c.opts.Breaker == nil {
			return fn.FromPair(call(ctx))
		}
		return fn.FromPair(resilience.Do(ctx, c.opts.Breaker, call))
	}).Unwrap()
}

func wrap(op string, err error) error {
	return fmt.Errorf("ollama %s: %w", op, err)
}
