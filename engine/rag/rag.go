// Package rag answers questions by retrieving stored passages and
// conditioning a language model on them.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lorekeep/lorekeep/engine/domain"
	"github.com/lorekeep/lorekeep/engine/prompt"
	"github.com/lorekeep/lorekeep/pkg/metrics"
)

// Retriever returns ranked chunks for a question.
type Retriever interface {
	Retrieve(ctx context.Context, question string, k int) ([]domain.RetrievedChunk, error)
}

// Options configures the RAG pipeline behaviour.
type Options struct {
	K           int
	Temperature float64
	// Subject names the indexed material in the prompt.
	Subject string
	// NoInfoAnswer is returned when nothing relevant was retrieved.
	NoInfoAnswer string
	// ErrorAnswer is what Fallback shows when generation fails.
	ErrorAnswer string
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		K:            3,
		Temperature:  DefaultTemperature,
		NoInfoAnswer: "Sorry, I could not find anything relevant in the indexed documents.",
		ErrorAnswer:  "Sorry, something went wrong while answering your question.",
	}
}

// Answer is the structured result of Ask.
type Answer struct {
	Question string                  `json:"question"`
	Text     string                  `json:"text"`
	Sources  []domain.RetrievedChunk `json:"sources"`
	// Fallback is set when Text is a canned answer rather than model output.
	Fallback bool `json:"fallback"`
}

// Service is the RAG orchestration service.
type Service struct {
	retriever Retriever
	gen       *Generator
	opts      Options
	metrics   *metrics.Registry
	logger    *slog.Logger
}

// New creates a Service. reg may be nil.
func New(r Retriever, llm Completer, opts Options, reg *metrics.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultOptions()
	if opts.K < 1 {
		opts.K = def.K
	}
	if opts.NoInfoAnswer == "" {
		opts.NoInfoAnswer = def.NoInfoAnswer
	}
	if opts.ErrorAnswer == "" {
		opts.ErrorAnswer = def.ErrorAnswer
	}
	return &Service{
		retriever: r,
		gen:       NewGenerator(llm, opts.Temperature, opts.Subject, logger),
		opts:      opts,
		metrics:   reg,
		logger:    logger,
	}
}

// Ask answers question with the configured K.
func (s *Service) Ask(ctx context.Context, question string) (*Answer, error) {
	return s.AskK(ctx, question, s.opts.K)
}

// AskK answers question from at most k passages. Retrieval failures degrade
// to the no-information answer unless ctx is done; generation failures are
// returned as is.
func (s *Service) AskK(ctx context.Context, question string, k int) (*Answer, error) {
	start := time.Now()
	s.logger.Info("rag query start", "question_len", len(question), "k", k)

	chunks, err := s.retriever.Retrieve(ctx, question, k)
	if err != nil {
		if !errors.Is(err, domain.ErrRetrievalUnavailable) || isContextErr(err) {
			return nil, fmt.Errorf("rag: %w", err)
		}
		s.logger.Warn("rag: retrieval unavailable, continuing without passages", "error", err)
		chunks = nil
	}
	// A cancelled caller gets its error back, never a canned answer.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("rag: %w", err)
	}

	block := prompt.Assemble(chunks)
	if block == "" {
		s.outcome("no_info", start)
		s.logger.Info("rag: no passages found", "k", k)
		return &Answer{Question: question, Text: s.opts.NoInfoAnswer, Sources: []domain.RetrievedChunk{}, Fallback: true}, nil
	}

	text, err := s.gen.Generate(ctx, question, block)
	if err != nil {
		s.outcome("error", start)
		return nil, err
	}
	s.outcome("ok", start)
	s.logger.Info("rag query done", "sources", len(chunks), "duration", time.Since(start))
	return &Answer{Question: question, Text: text, Sources: chunks}, nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Fallback is the answer to show a user when Ask failed.
func (s *Service) Fallback(question string) *Answer {
	return &Answer{Question: question, Text: s.opts.ErrorAnswer, Sources: []domain.RetrievedChunk{}, Fallback: true}
}

// Generator exposes the underlying answer generator.
func (s *Service) Generator() *Generator { return s.gen }

func (s *Service) outcome(status string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.Counter(metrics.WithLabels("lorekeep_ask_total", "outcome", status), "Questions by outcome").Inc()
	s.metrics.Histogram("lorekeep_ask_seconds", "End-to-end answer latency", nil).Since(start)
}
