package ollama

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type generateReq struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
}

type generateResp struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

var errEmptyCompletion = errors.New("empty completion")

func errCount(want, got int) error {
	return fmt.Errorf("asked for %d embeddings, got %d", want, got)
}

// Complete sends prompt to /api/generate and returns the full response.
func (c *Client) Complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	resp, err := post[generateResp](ctx, c, "/api/generate", generateReq{
		Model:   c.opts.ChatModel,
		Prompt:  prompt,
		Options: generateOptions{Temperature: temperature},
	})
	if err != nil {
		return "", wrap("generate", err)
	}
	if strings.TrimSpace(resp.Response) == "" {
		return "", wrap("generate", errEmptyCompletion)
	}
	return resp.Response, nil
}
