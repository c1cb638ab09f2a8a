// Package loader reads source files into documents: plain text and
// markdown books split on chapter headings, and JSON or YAML diary exports.
package loader

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lorekeep/lorekeep/engine/domain"
)

// ErrUnsupported is returned for file types the loader does not read.
var ErrUnsupported = errors.New("loader: unsupported file type")

// Options controls Load.
type Options struct {
	// ID defaults to a slug of Name.
	ID string
	// Name defaults to the file name without extension.
	Name string
	// SplitByUnit splits books on chapter headings. Off, the whole file is
	// one unit. Diaries always produce one unit per entry.
	SplitByUnit bool
}

var (
	chapterRe  = regexp.MustCompile(`(?m)^[ \t\x{3000}]*(?:第[0-9０-９零〇一二三四五六七八九十百千两]+[章回节卷]|(?i:chapter[ \t]+(?:[0-9]+|[ivxlcdm]+)\b))[^\n]*$`)
	mdHeadRe   = regexp.MustCompile(`(?m)^#{1,2}[ \t]+\S[^\n]*$`)
	nonIDRunes = regexp.MustCompile(`[\s/\\]+`)
)

// Load reads path into a document.
func Load(path string, opts Options) (domain.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Document{}, fmt.Errorf("loader: %w", err)
	}
	base := filepath.Base(path)
	ext := strings.ToLower(filepath.Ext(base))
	if opts.Name == "" {
		opts.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if opts.ID == "" {
		opts.ID = Slug(opts.Name)
	}
	doc := domain.Document{ID: opts.ID, Name: opts.Name}

	switch ext {
	case ".txt", ".md", ".markdown":
		text := string(data)
		if !opts.SplitByUnit {
			doc.Units = []domain.Unit{{Index: 1, Text: text}}
			break
		}
		re := chapterRe
		if ext != ".txt" && !chapterRe.MatchString(text) {
			re = mdHeadRe
		}
		doc.Units = SplitChapters(text, re)
	case ".json":
		var entries []Entry
		if err := json.Unmarshal(data, &entries); err != nil {
			return doc, fmt.Errorf("loader: %s: %w", base, err)
		}
		doc.Units = diaryUnits(entries)
	case ".yaml", ".yml":
		var entries []Entry
		if err := yaml.Unmarshal(data, &entries); err != nil {
			return doc, fmt.Errorf("loader: %s: %w", base, err)
		}
		doc.Units = diaryUnits(entries)
	default:
		return doc, fmt.Errorf("%w: %s", ErrUnsupported, ext)
	}

	if err := domain.ValidateDocument(doc); err != nil {
		return doc, fmt.Errorf("loader: %s: %w", base, err)
	}
	return doc, nil
}

// SplitChapters cuts text before every heading matched by re. Non-blank
// text ahead of the first heading becomes its own unit. Without headings
// the whole text is one unit.
func SplitChapters(text string, re *regexp.Regexp) []domain.Unit {
	locs := re.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return []domain.Unit{{Index: 1, Text: strings.TrimSpace(text)}}
	}
	var units []domain.Unit
	add := func(s string) {
		units = append(units, domain.Unit{Index: len(units) + 1, Text: strings.TrimSpace(s)})
	}
	if pre := text[:locs[0][0]]; strings.TrimSpace(pre) != "" {
		add(pre)
	}
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		add(text[loc[0]:end])
	}
	return units
}

// Entry is one diary record.
type Entry struct {
	ID      string   `json:"id" yaml:"id"`
	Content string   `json:"content" yaml:"content"`
	Date    string   `json:"date,omitempty" yaml:"date,omitempty"`
	Mood    string   `json:"mood,omitempty" yaml:"mood,omitempty"`
	Tags    []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Text renders the entry with its metadata so retrieval can match on it.
func (e Entry) Text() string {
	var meta []string
	if e.Date != "" {
		meta = append(meta, "Date: "+e.Date)
	}
	if e.Mood != "" {
		meta = append(meta, "Mood: "+e.Mood)
	}
	if len(e.Tags) > 0 {
		meta = append(meta, "Tags: "+strings.Join(e.Tags, ", "))
	}
	if len(meta) == 0 {
		return e.Content
	}
	return strings.Join(meta, "; ") + "\n" + e.Content
}

func diaryUnits(entries []Entry) []domain.Unit {
	units := make([]domain.Unit, len(entries))
	for i, e := range entries {
		units[i] = domain.Unit{Index: i + 1, Text: e.Text()}
	}
	return units
}

// Slug turns a display name into a document ID.
func Slug(name string) string {
	s := strings.Trim(nonIDRunes.ReplaceAllString(strings.TrimSpace(name), "-"), "-")
	return strings.ToLower(s)
}
