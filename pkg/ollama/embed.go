package ollama

import "context"

type embedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResp struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// EmbedOne returns the embedding of text.
func (c *Client) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in one /api/embed call. The result has one
// vector per input, in input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := post[embedResp](ctx, c, "/api/embed", embedReq{Model: c.opts.EmbedModel, Input: texts})
	if err != nil {
		return nil, wrap("embed", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, wrap("embed", errCount(len(texts), len(resp.Embeddings)))
	}
	return resp.Embeddings, nil
}
