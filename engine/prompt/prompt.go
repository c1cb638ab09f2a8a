// Package prompt renders retrieved chunks into the context block handed to
// the answer generator, and parses such blocks back.
package prompt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lorekeep/lorekeep/engine/domain"
)

// Delimiter separates passages in a context block. Chunk text containing
// it does not survive Parse.
const Delimiter = "\n\n━━━━━\n\n"

const (
	sourcePrefix  = "Source: "
	contentPrefix = "Content: "
)

// Passage is one parsed entry of a context block.
type Passage struct {
	Rank         int
	DocumentName string
	Unit         int
	Chunk        int
	Text         string
}

// Assemble renders chunks in the order given, ranked from 1. No chunks
// gives "".
func Assemble(chunks []domain.RetrievedChunk) string {
	if len(chunks) == 0 {
		return ""
	}
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = fmt.Sprintf("[Passage %d]\n%s%s, unit %d, chunk %d\n%s%s",
			i+1, sourcePrefix, c.DocumentName, c.Unit, c.Chunk, contentPrefix, c.Text)
	}
	return strings.Join(parts, Delimiter)
}

// Parse reverses Assemble.
func Parse(block string) ([]Passage, error) {
	if block == "" {
		return nil, nil
	}
	parts := strings.Split(block, Delimiter)
	out := make([]Passage, 0, len(parts))
	for i, part := range parts {
		p, err := parsePassage(part)
		if err != nil {
			return nil, fmt.Errorf("prompt: passage %d: %w", i+1, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func parsePassage(s string) (Passage, error) {
	var p Passage
	header, rest, ok := strings.Cut(s, "\n")
	if !ok {
		return p, fmt.Errorf("missing source line")
	}
	if _, err := fmt.Sscanf(header, "[Passage %d]", &p.Rank); err != nil {
		return p, fmt.Errorf("bad header %q: %w", header, err)
	}
	source, content, ok := strings.Cut(rest, "\n")
	if !ok || !strings.HasPrefix(source, sourcePrefix) || !strings.HasPrefix(content, contentPrefix) {
		return p, fmt.Errorf("malformed body")
	}
	p.Text = strings.TrimPrefix(content, contentPrefix)

	// The document name may itself contain ", unit ", so read from the right.
	source = strings.TrimPrefix(source, sourcePrefix)
	i := strings.LastIndex(source, ", unit ")
	if i < 0 {
		return p, fmt.Errorf("bad source line %q", source)
	}
	p.DocumentName = source[:i]
	unit, chunk, ok := strings.Cut(source[i+len(", unit "):], ", chunk ")
	if !ok {
		return p, fmt.Errorf("bad source line %q", source)
	}
	var err error
	if p.Unit, err = strconv.Atoi(unit); err != nil {
		return p, fmt.Errorf("bad unit %q", unit)
	}
	if p.Chunk, err = strconv.Atoi(chunk); err != nil {
		return p, fmt.Errorf("bad chunk %q", chunk)
	}
	return p, nil
}
