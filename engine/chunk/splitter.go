// Package chunk splits unit text into bounded, overlapping chunks.
//
// Sizes are counted in characters (runes). Each chunk after the first starts
// exactly overlap characters before the end of the previous one, and a chunk
// prefers to end on a paragraph, line, sentence, clause, or word boundary
// before falling back to a hard cut at the maximum size.
package chunk

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lorekeep/lorekeep/engine/domain"
)

const (
	// DefaultSize is the default maximum chunk length in characters.
	DefaultSize = 500
	// DefaultOverlap is the default number of characters shared by adjacent chunks.
	DefaultOverlap = 50
)

// ErrInvalidConfig is returned for a size/overlap pair that cannot make progress.
var ErrInvalidConfig = errors.New("chunk: invalid configuration")

// boundaryTiers lists break points from most to least preferred. A chunk ends
// right after the separator.
var boundaryTiers = [][]string{
	{"\n\n"},
	{"\n"},
	{"。", "！", "？", "…", ". ", "! ", "? "},
	{"；", "，", "、", "; ", ", ", ": "},
	{" ", "\t"},
}

// Splitter is a character splitter configured with a size and an overlap.
// It holds no mutable state and is safe for concurrent use.
type Splitter struct {
	size    int
	overlap int
	tiers   [][][]rune
}

// New returns a Splitter. It fails unless size > 0 and 0 <= overlap < size.
func New(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size %d must be positive", ErrInvalidConfig, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrInvalidConfig, overlap, size)
	}
	tiers := make([][][]rune, len(boundaryTiers))
	for i, tier := range boundaryTiers {
		for _, sep := range tier {
			tiers[i] = append(tiers[i], []rune(sep))
		}
	}
	return &Splitter{size: size, overlap: overlap, tiers: tiers}, nil
}

// Size returns the maximum chunk length.
func (s *Splitter) Size() int { return s.size }

// Overlap returns the number of characters adjacent chunks share.
func (s *Splitter) Overlap() int { return s.overlap }

// Split cuts text into ordered chunks. Blank text yields no chunks.
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	runes := []rune(text)
	n := len(runes)

	var out []string
	start := 0
	for {
		end := start + s.size
		if end >= n {
			out = append(out, string(runes[start:]))
			return out
		}
		end = s.boundary(runes, start, end)
		out = append(out, string(runes[start:end]))
		start = end - s.overlap
	}
}

// SplitUnit splits one unit into domain chunks owned by docID.
func (s *Splitter) SplitUnit(docID string, u domain.Unit) []domain.Chunk {
	texts := s.Split(u.Text)
	chunks := make([]domain.Chunk, len(texts))
	for i, t := range texts {
		chunks[i] = domain.Chunk{DocumentID: docID, Unit: u.Index, Index: i, Text: t}
	}
	return chunks
}

// boundary picks the end of the window [start, limit). The result is never
// past limit, and stays beyond start+overlap so the next window advances.
func (s *Splitter) boundary(runes []rune, start, limit int) int {
	minEnd := start + s.overlap + 1
	if half := start + (s.size+1)/2; half > minEnd {
		minEnd = half
	}
	if minEnd > limit {
		return limit
	}
	for _, tier := range s.tiers {
		for p := limit; p >= minEnd; p-- {
			if endsWithAny(runes[:p], tier) {
				return p
			}
		}
	}
	return limit
}

func endsWithAny(runes []rune, seps [][]rune) bool {
	for _, sep := range seps {
		if hasRuneSuffix(runes, sep) {
			return true
		}
	}
	return false
}

func hasRuneSuffix(runes, suffix []rune) bool {
	if len(suffix) > len(runes) {
		return false
	}
	off := len(runes) - len(suffix)
	for i, r := range suffix {
		if runes[off+i] != r {
			return false
		}
	}
	return true
}

// Join reassembles chunks produced with the given overlap, dropping the
// shared prefix of every chunk after the first.
func Join(chunks []string, overlap int) string {
	var b strings.Builder
	for i, c := range chunks {
		if i == 0 || overlap == 0 {
			b.WriteString(c)
			continue
		}
		r := []rune(c)
		if overlap < len(r) {
			b.WriteString(string(r[overlap:]))
		}
	}
	return b.String()
}
