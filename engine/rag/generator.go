package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lorekeep/lorekeep/engine/domain"
)

// Completer is a text-generation model.
type Completer interface {
	Complete(ctx context.Context, prompt string, temperature float64) (string, error)
}

// DefaultTemperature is the sampling temperature for answers.
const DefaultTemperature = 0.7

// Generator turns a question and a context block into an answer with one
// model call.
type Generator struct {
	llm         Completer
	temperature float64
	subject     string
	log         *slog.Logger
}

// NewGenerator returns a Generator. subject names the material answers are
// grounded in, e.g. a book title; empty means "the provided documents".
func NewGenerator(llm Completer, temperature float64, subject string, logger *slog.Logger) *Generator {
	if subject == "" {
		subject = "the provided documents"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{llm: llm, temperature: temperature, subject: subject, log: logger}
}

// Prompt renders the instruction sent to the model. context and question
// appear verbatim.
func (g *Generator) Prompt(question, context string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a knowledgeable assistant for %s. Answer using only the passages below, accurately and in detail.\n\n", g.subject)
	fmt.Fprintf(&b, "Passages from %s:\n%s\n\n", g.subject, context)
	fmt.Fprintf(&b, "Question: %s\n\n", question)
	b.WriteString("Requirements:\n")
	b.WriteString("1. If the passages contain relevant information, give a detailed and accurate answer grounded in them.\n")
	b.WriteString("2. You may combine several passages into one complete answer.\n")
	b.WriteString("3. If the passages do not contain the answer, say so plainly.\n")
	b.WriteString("4. Stay consistent with the events and characters of the source.\n")
	b.WriteString("5. Quote the passages where it supports the answer.\n\n")
	b.WriteString("Answer:")
	return b.String()
}

// Generate returns the model's raw output. Failures wrap
// domain.ErrGenerationUnavailable.
func (g *Generator) Generate(ctx context.Context, question, context string) (string, error) {
	start := time.Now()
	out, err := g.llm.Complete(ctx, g.Prompt(question, context), g.temperature)
	if err != nil {
		return "", fmt.Errorf("rag: %w: %w", domain.ErrGenerationUnavailable, err)
	}
	g.log.Debug("rag: generated", "chars", len(out), "duration", time.Since(start))
	return out, nil
}
