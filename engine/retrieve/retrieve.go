// Package retrieve turns a question into the k most similar stored chunks.
package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/lorekeep/lorekeep/engine/domain"
	"github.com/lorekeep/lorekeep/pkg/fn"
	"github.com/lorekeep/lorekeep/pkg/metrics"
)

// Embedder embeds one question.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher runs a nearest-neighbour search over stored records.
type Searcher interface {
	Search(ctx context.Context, vector []float32, k int, filter domain.Filter) ([]domain.RetrievedChunk, error)
}

// Retriever is safe for concurrent use.
type Retriever struct {
	embedder Embedder
	searcher Searcher
	filter   domain.Filter
	metrics  *metrics.Registry
	log      *slog.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithFilter restricts every search, e.g. to one document.
func WithFilter(f domain.Filter) Option { return func(r *Retriever) { r.filter = f } }

// WithLogger sets the logger; slog.Default is used otherwise.
func WithLogger(l *slog.Logger) Option { return func(r *Retriever) { r.log = l } }

// WithMetrics records retrieval latency and failures in reg.
func WithMetrics(reg *metrics.Registry) Option { return func(r *Retriever) { r.metrics = reg } }

// New returns a Retriever.
func New(e Embedder, s Searcher, opts ...Option) *Retriever {
	r := &Retriever{embedder: e, searcher: s}
	for _, o := range opts {
		o(r)
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	return r
}

// Retrieve returns at most k chunks ordered by descending score.
//
// A blank question or k < 1 fails with domain.ErrInvalidQuery. Embedder
// and store failures return an empty slice and an error wrapping
// domain.ErrRetrievalUnavailable; callers may treat that as no results.
func (r *Retriever) Retrieve(ctx context.Context, question string, k int) ([]domain.RetrievedChunk, error) {
	if err := domain.ValidateQuery(domain.Query{Question: question, K: k}); err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return []domain.RetrievedChunk{}, fmt.Errorf("retrieve: %w: %w", domain.ErrRetrievalUnavailable, err)
	}

	start := time.Now()
	var hits []domain.RetrievedChunk
	err := fn.Span(ctx, "retrieve", func(ctx context.Context) error {
		vec, err := r.embedder.Embed(ctx, question)
		if err != nil {
			return fmt.Errorf("embed question: %w", err)
		}
		hits, err = r.searcher.Search(ctx, vec, k, r.filter)
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}
		return nil
	}, attribute.Int("k", k))
	r.observe(start, err)
	if err != nil {
		r.log.Warn("retrieve: failed", "k", k, "error", err)
		return []domain.RetrievedChunk{}, fmt.Errorf("retrieve: %w: %w", domain.ErrRetrievalUnavailable, err)
	}

	domain.SortRetrieved(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	r.log.Debug("retrieve: done", "k", k, "hits", len(hits), "duration", time.Since(start))
	return hits, nil
}

func (r *Retriever) observe(start time.Time, err error) {
	if r.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.metrics.Counter(metrics.WithLabels("lorekeep_retrieve_total", "status", status), "Retrievals by outcome").Inc()
	r.metrics.Histogram("lorekeep_retrieve_seconds", "Retrieval latency", nil).Since(start)
}
