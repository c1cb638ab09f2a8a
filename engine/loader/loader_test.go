package loader

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lorekeep/lorekeep/engine/domain"
)

func write(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadChineseChapters(t *testing.T) {
	text := "金庸 著\n\n第一章 青衫磊落险峰行\n青光闪动。\n\n第二章 玉壁月华明\n段誉。\n第十回 剑气碧烟横\n结尾。\n"
	doc, err := Load(write(t, "天龙八部.txt", text), Options{SplitByUnit: true})
	if err != nil {
		t.Fatal(err)
	}
	if doc.Name != "天龙八部" || doc.ID != "天龙八部" {
		t.Errorf("name = %q id = %q", doc.Name, doc.ID)
	}
	if len(doc.Units) != 4 {
		t.Fatalf("units = %d: %+v", len(doc.Units), doc.Units)
	}
	if doc.Units[0].Text != "金庸 著" {
		t.Errorf("preface = %q", doc.Units[0].Text)
	}
	if !strings.HasPrefix(doc.Units[1].Text, "第一章 青衫磊落险峰行") || !strings.HasSuffix(doc.Units[1].Text, "青光闪动。") {
		t.Errorf("unit 2 = %q", doc.Units[1].Text)
	}
	if !strings.HasPrefix(doc.Units[3].Text, "第十回") {
		t.Errorf("unit 4 = %q", doc.Units[3].Text)
	}
	for i, u := range doc.Units {
		if u.Index != i+1 {
			t.Errorf("unit %d has index %d", i, u.Index)
		}
	}
}

func TestLoadEnglishChapters(t *testing.T) {
	text := "Chapter 1\nIt was a dark night.\nCHAPTER II\nMorning came.\n"
	doc, err := Load(write(t, "The Night.md", text), Options{SplitByUnit: true})
	if err != nil {
		t.Fatal(err)
	}
	if doc.ID != "the-night" || doc.Name != "The Night" {
		t.Errorf("id = %q name = %q", doc.ID, doc.Name)
	}
	if len(doc.Units) != 2 || doc.Units[1].Text != "CHAPTER II\nMorning came." {
		t.Errorf("units = %+v", doc.Units)
	}
}

func TestLoadMarkdownHeadings(t *testing.T) {
	text := "# Intro\nhello\n## Part two\nworld\n### not a split\nstill two\n"
	doc, err := Load(write(t, "notes.md", text), Options{SplitByUnit: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Units) != 2 || !strings.Contains(doc.Units[1].Text, "still two") {
		t.Errorf("units = %+v", doc.Units)
	}
}

func TestLoadWithoutSplitting(t *testing.T) {
	doc, err := Load(write(t, "a.txt", "第一章\nx\n第二章\ny"), Options{ID: "custom", Name: "Custom"})
	if err != nil {
		t.Fatal(err)
	}
	if doc.ID != "custom" || doc.Name != "Custom" || len(doc.Units) != 1 {
		t.Errorf("doc = %+v", doc)
	}
}

func TestLoadNoHeadings(t *testing.T) {
	doc, err := Load(write(t, "plain.txt", "  just text  "), Options{SplitByUnit: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Units) != 1 || doc.Units[0].Text != "just text" {
		t.Errorf("units = %+v", doc.Units)
	}
}

func TestLoadDiaryJSON(t *testing.T) {
	data := `[
	  {"id": "diary_001", "content": "Walked in the park.", "date": "2026-01-10", "mood": "happy", "tags": ["life", "walk"]},
	  {"id": "diary_002", "content": "Rainy day."}
	]`
	doc, err := Load(write(t, "ai_diary.json", data), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Units) != 2 {
		t.Fatalf("units = %+v", doc.Units)
	}
	want := "Date: 2026-01-10; Mood: happy; Tags: life, walk\nWalked in the park."
	if doc.Units[0].Text != want {
		t.Errorf("unit 1 = %q", doc.Units[0].Text)
	}
	if doc.Units[1].Text != "Rainy day." {
		t.Errorf("unit 2 = %q", doc.Units[1].Text)
	}
}

func TestLoadDiaryYAML(t *testing.T) {
	data := "- id: d1\n  content: Snow.\n  mood: calm\n"
	doc, err := Load(write(t, "diary.yaml", data), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Units) != 1 || doc.Units[0].Text != "Mood: calm\nSnow." {
		t.Errorf("units = %+v", doc.Units)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(write(t, "book.epub", "x"), Options{}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("epub err = %v", err)
	}
	if _, err := Load(write(t, "bad.json", "{"), Options{}); err == nil {
		t.Error("expected JSON error")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.txt"), Options{}); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing err = %v", err)
	}
	if _, err := Load(write(t, "x.txt", "y"), Options{ID: "has space"}); !errors.Is(err, domain.ErrInvalidDocument) {
		t.Errorf("bad id err = %v", err)
	}
}

func TestSlug(t *testing.T) {
	for in, want := range map[string]string{
		"The Night":      "the-night",
		"  a / b \\ c  ": "a-b-c",
		"西游记":            "西游记",
	} {
		if got := Slug(in); got != want {
			t.Errorf("Slug(%q) = %q, want %q", in, got, want)
		}
	}
}
