package main

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/nats-io/nats.go"

	"github.com/lorekeep/lorekeep/engine/catalog"
	"github.com/lorekeep/lorekeep/engine/chunk"
	"github.com/lorekeep/lorekeep/engine/domain"
	"github.com/lorekeep/lorekeep/engine/embed"
	"github.com/lorekeep/lorekeep/engine/ingest"
	"github.com/lorekeep/lorekeep/engine/rag"
	"github.com/lorekeep/lorekeep/engine/retrieve"
	"github.com/lorekeep/lorekeep/engine/semantic"
	"github.com/lorekeep/lorekeep/pkg/config"
	"github.com/lorekeep/lorekeep/pkg/gemini"
	"github.com/lorekeep/lorekeep/pkg/ollama"
	"github.com/lorekeep/lorekeep/pkg/openai"
	"github.com/lorekeep/lorekeep/pkg/resilience"
)

func (a *app) collectionSpec() domain.CollectionSpec {
	return domain.CollectionSpec{
		Name:      a.cfg.Store.Collection,
		Dimension: a.cfg.Store.Dimension,
		Metric:    domain.Metric(a.cfg.Store.Metric),
	}
}

func (a *app) openStore(ctx context.Context) (semantic.Store, error) {
	spec := a.collectionSpec()
	switch a.cfg.Store.Backend {
	case "memory":
		a.log.Warn("memory store does not persist between runs")
		return semantic.NewMemory(spec), nil
	case "pgvector":
		s, err := semantic.NewPG(ctx, a.cfg.Store.DSN, spec)
		if err != nil {
			return nil, err
		}
		a.onClose(s.Close)
		return s, nil
	default:
		s, err := semantic.New(a.cfg.Store.Address, spec)
		if err != nil {
			return nil, err
		}
		a.onClose(func() { _ = s.Close() })
		return s, nil
	}
}

// limiterFor limits chat calls. Embedding calls are limited by the embed
// adapter instead.
func limiterFor(m config.ModelConfig, embedding bool) *resilience.Limiter {
	if embedding || m.RatePerSec <= 0 {
		return nil
	}
	return resilience.NewLimiter(resilience.LimiterOpts{Rate: m.RatePerSec, Burst: m.Burst})
}

// model is what every provider client offers; gemini embeds one text at a time.
type model interface {
	embed.Client
	rag.Completer
}

func (a *app) newModel(ctx context.Context, m config.ModelConfig, embedding bool) (model, error) {
	breaker := resilience.NewBreaker(resilience.DefaultBreakerOpts)
	switch m.Provider {
	case "openai":
		cfg := openai.Config{
			APIKey:  m.APIKey,
			BaseURL: m.BaseURL,
			Timeout: m.Timeout(),
			Breaker: breaker,
			Limiter: limiterFor(m, embedding),
		}
		if embedding {
			cfg.EmbedModel = m.Model
			cfg.Dimensions = a.cfg.Store.Dimension
		} else {
			cfg.ChatModel = m.Model
		}
		return openai.New(cfg)
	case "gemini":
		opts := gemini.Options{APIKey: m.APIKey, Limiter: limiterFor(m, embedding)}
		if embedding {
			opts.EmbedModel = m.Model
		} else {
			opts.ChatModel = m.Model
		}
		c, err := gemini.New(ctx, opts)
		if err != nil {
			return nil, err
		}
		a.onClose(func() { _ = c.Close() })
		return c, nil
	default:
		opts := ollama.Options{
			BaseURL: m.BaseURL,
			Timeout: m.Timeout(),
			Breaker: breaker,
			Limiter: limiterFor(m, embedding),
		}
		if embedding {
			opts.EmbedModel = m.Model
		} else {
			opts.ChatModel = m.Model
		}
		return ollama.New(opts), nil
	}
}

func (a *app) embedder(ctx context.Context) (*embed.Adapter, error) {
	client, err := a.newModel(ctx, a.cfg.Embedder, true)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	opts := []embed.Option{
		embed.WithWorkers(a.cfg.Ingest.Workers),
		embed.WithBatchSize(a.cfg.Ingest.BatchSize),
	}
	if m := a.cfg.Embedder; m.RatePerSec > 0 {
		opts = append(opts, embed.WithRateLimit(m.RatePerSec, m.Burst))
	}
	return embed.New(client, a.cfg.Store.Dimension, opts...)
}

func (a *app) completer(ctx context.Context) (rag.Completer, error) {
	c, err := a.newModel(ctx, a.cfg.Chat, false)
	if err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}
	return c, nil
}

// catalog returns nil when no Neo4j URL is configured.
func (a *app) catalog(ctx context.Context) (*catalog.Catalog, error) {
	n := a.cfg.Neo4j
	if n.URL == "" {
		return nil, nil
	}
	driver, err := neo4j.NewDriverWithContext(n.URL, neo4j.BasicAuth(n.User, n.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	a.onClose(func() { _ = driver.Close(context.WithoutCancel(ctx)) })
	return catalog.New(driver, n.Database, a.log), nil
}

// coordinator wires an ingestion coordinator. emb and progress may be nil.
func (a *app) coordinator(store semantic.Store, emb *embed.Adapter, cat *catalog.Catalog, progress ingest.Progress) (*ingest.Coordinator, error) {
	mode, err := ingest.ParseWriteMode(a.cfg.Ingest.WriteMode)
	if err != nil {
		return nil, err
	}
	deps := ingest.Deps{
		Store:    store,
		Progress: progress,
		Metrics:  a.reg,
		Logger:   a.log,
	}
	if emb != nil {
		splitter, err := chunk.New(a.cfg.Chunk.Size, a.cfg.Chunk.Overlap)
		if err != nil {
			return nil, err
		}
		deps.Splitter = splitter
		deps.Embedder = emb
	}
	if cat != nil {
		deps.Ledger = cat
	}
	return ingest.New(deps, ingest.Options{Mode: mode, ContinueOnError: a.cfg.Ingest.ContinueOnError})
}

// ragService builds the question-answering pipeline over an existing collection.
func (a *app) ragService(ctx context.Context) (*rag.Service, *retrieve.Retriever, error) {
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	status, err := store.LoadCollection(ctx)
	if err != nil {
		a.log.Warn("collection not loaded", "collection", a.cfg.Store.Collection, "error", err)
	} else {
		a.log.Debug("collection ready", "collection", a.cfg.Store.Collection, "status", status.String())
	}
	emb, err := a.embedder(ctx)
	if err != nil {
		return nil, nil, err
	}
	llm, err := a.completer(ctx)
	if err != nil {
		return nil, nil, err
	}
	r := retrieve.New(emb, store, retrieve.WithLogger(a.log), retrieve.WithMetrics(a.reg))

	opts := rag.DefaultOptions()
	opts.K = a.cfg.Retrieve.K
	opts.Temperature = a.cfg.Chat.Temperature
	return rag.New(r, llm, opts, a.reg, a.log), r, nil
}

func (a *app) connectNATS() (*nats.Conn, error) {
	nc, err := nats.Connect(a.cfg.NATS.URL, nats.Name("lorekeep"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	a.onClose(nc.Close)
	return nc, nil
}
