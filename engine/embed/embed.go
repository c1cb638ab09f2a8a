// Package embed turns text into fixed-dimension vectors through an
// embedding collaborator, validating every vector it hands out.
package embed

import (
	"context"
	"errors"
	"fmt"
	"math"

	"golang.org/x/time/rate"

	"github.com/lorekeep/lorekeep/engine/domain"
	"github.com/lorekeep/lorekeep/pkg/fn"
)

// Client embeds one text.
type Client interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// BatchClient embeds many texts in one call, one vector per input in order.
type BatchClient interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ChunkError names the input position whose embedding failed.
type ChunkError struct {
	Index int
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d: %v", e.Index, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// Defaults for an Adapter built without WithWorkers or WithBatchSize.
const (
	DefaultWorkers   = 4
	DefaultBatchSize = 16
)

// Adapter validates and fans out calls to a Client.
type Adapter struct {
	client    Client
	batch     BatchClient
	dim       int
	workers   int
	batchSize int
	limiter   *rate.Limiter
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithWorkers bounds concurrent EmbedOne calls in EmbedAll.
func WithWorkers(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.workers = n
		}
	}
}

// WithBatchSize sets how many texts go into one EmbedBatch call.
func WithBatchSize(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.batchSize = n
		}
	}
}

// WithRateLimit allows at most r collaborator calls per second with the
// given burst.
func WithRateLimit(r float64, burst int) Option {
	return func(a *Adapter) {
		if r > 0 {
			a.limiter = rate.NewLimiter(rate.Limit(r), max(burst, 1))
		}
	}
}

// WithoutBatching forces per-text calls even if the client can batch.
func WithoutBatching() Option {
	return func(a *Adapter) { a.batch = nil }
}

// New wraps client, which must produce vectors of dimension dim. If client
// also implements BatchClient, EmbedAll uses it.
func New(client Client, dim int, opts ...Option) (*Adapter, error) {
	if client == nil {
		return nil, errors.New("embed: nil client")
	}
	if dim <= 0 {
		return nil, fmt.Errorf("embed: dimension %d must be positive", dim)
	}
	a := &Adapter{client: client, dim: dim, workers: DefaultWorkers, batchSize: DefaultBatchSize}
	if bc, ok := client.(BatchClient); ok {
		a.batch = bc
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Dimension returns the configured vector size.
func (a *Adapter) Dimension() int { return a.dim }

// Embed returns a validated vector for text. Every failure wraps
// domain.ErrEmbeddingUnavailable.
func (a *Adapter) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := a.wait(ctx); err != nil {
		return nil, unavailable(err)
	}
	v, err := a.client.EmbedOne(ctx, text)
	if err != nil {
		return nil, unavailable(err)
	}
	if err := a.check(v); err != nil {
		return nil, unavailable(err)
	}
	return v, nil
}

// EmbedAll embeds texts, returning vectors in input order. The first
// failure cancels outstanding work and is returned as a *ChunkError.
func (a *Adapter) EmbedAll(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if a.batch != nil {
		return a.embedBatches(ctx, texts)
	}
	out, err := fn.ParTry(ctx, texts, a.workers, a.Embed)
	if err != nil {
		var ie *fn.IndexedError
		if errors.As(err, &ie) {
			return nil, &ChunkError{Index: ie.Index, Err: ie.Err}
		}
		return nil, unavailable(err)
	}
	return out, nil
}

func (a *Adapter) embedBatches(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, batch := range fn.Batches(texts, a.batchSize) {
		offset := len(out)
		if err := a.wait(ctx); err != nil {
			return nil, &ChunkError{Index: offset, Err: unavailable(err)}
		}
		vecs, err := a.batch.EmbedBatch(ctx, batch)
		if err != nil {
			return nil, &ChunkError{Index: offset, Err: unavailable(err)}
		}
		if len(vecs) != len(batch) {
			return nil, &ChunkError{Index: offset, Err: unavailable(fmt.Errorf("batch returned %d vectors for %d texts", len(vecs), len(batch)))}
		}
		for i, v := range vecs {
			if err := a.check(v); err != nil {
				return nil, &ChunkError{Index: offset + i, Err: unavailable(err)}
			}
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (a *Adapter) wait(ctx context.Context) error {
	if a.limiter == nil {
		return ctx.Err()
	}
	return a.limiter.Wait(ctx)
}

func (a *Adapter) check(v []float32) error {
	if len(v) != a.dim {
		return fmt.Errorf("malformed vector: dimension %d, want %d", len(v), a.dim)
	}
	for i, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return fmt.Errorf("malformed vector: non-finite value at %d", i)
		}
	}
	return nil
}

func unavailable(err error) error {
	if errors.Is(err, domain.ErrEmbeddingUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrEmbeddingUnavailable, err)
}
