package retrieve

import (
	"context"
	"errors"
	"testing"

	"github.com/lorekeep/lorekeep/engine/domain"
	"github.com/lorekeep/lorekeep/engine/semantic"
	"github.com/lorekeep/lorekeep/pkg/metrics"
)

type fixedEmbedder struct {
	vec []float32
	err error
}

func (f fixedEmbedder) Embed(context.Context, string) ([]float32, error) { return f.vec, f.err }

type stubSearcher struct {
	hits   []domain.RetrievedChunk
	err    error
	called bool
	k      int
}

func (s *stubSearcher) Search(_ context.Context, _ []float32, k int, _ domain.Filter) ([]domain.RetrievedChunk, error) {
	s.called = true
	s.k = k
	return s.hits, s.err
}

func seededStore(t *testing.T) *semantic.MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := semantic.NewMemory(domain.CollectionSpec{Name: "ebooks", Dimension: 2})
	if _, err := store.EnsureCollection(ctx); err != nil {
		t.Fatal(err)
	}
	doc := domain.Document{ID: "book", Name: "Book"}
	records := []domain.Record{
		domain.NewRecord(doc, domain.Chunk{DocumentID: "book", Unit: 1, Index: 0, Text: "near"}, []float32{1, 0}),
		domain.NewRecord(doc, domain.Chunk{DocumentID: "book", Unit: 1, Index: 1, Text: "middle"}, []float32{1, 1}),
		domain.NewRecord(doc, domain.Chunk{DocumentID: "book", Unit: 2, Index: 0, Text: "far"}, []float32{0, 1}),
	}
	if _, err := store.Insert(ctx, records); err != nil {
		t.Fatal(err)
	}
	return store
}

func TestRetrieveFewerThanK(t *testing.T) {
	r := New(fixedEmbedder{vec: []float32{1, 0}}, seededStore(t))
	got, err := r.Retrieve(context.Background(), "who is near?", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d chunks, want 3", len(got))
	}
	if got[0].Text != "near" || got[2].Text != "far" {
		t.Errorf("order = %q, %q, %q", got[0].Text, got[1].Text, got[2].Text)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Errorf("scores not descending at %d", i)
		}
	}
}

func TestRetrieveTruncatesAndSorts(t *testing.T) {
	s := &stubSearcher{hits: []domain.RetrievedChunk{
		{ID: "b", Unit: 2, Score: 0.5},
		{ID: "a", Unit: 1, Score: 0.9},
		{ID: "c", Unit: 1, Chunk: 1, Score: 0.5},
	}}
	got, err := New(fixedEmbedder{vec: []float32{1}}, s).Retrieve(context.Background(), "q", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Errorf("got %+v", got)
	}
	if s.k != 2 {
		t.Errorf("searched with k=%d", s.k)
	}
}

func TestRetrieveInvalidQuery(t *testing.T) {
	s := &stubSearcher{}
	r := New(fixedEmbedder{}, s)
	for _, tc := range []struct {
		q string
		k int
	}{{"", 3}, {"   ", 3}, {"q", 0}} {
		if _, err := r.Retrieve(context.Background(), tc.q, tc.k); !errors.Is(err, domain.ErrInvalidQuery) {
			t.Errorf("Retrieve(%q, %d) err = %v", tc.q, tc.k, err)
		}
	}
	if s.called {
		t.Error("searcher called for an invalid query")
	}
}

func TestRetrieveUnavailable(t *testing.T) {
	reg := metrics.New()
	cases := map[string]*Retriever{
		"embedder": New(fixedEmbedder{err: domain.ErrEmbeddingUnavailable}, &stubSearcher{}, WithMetrics(reg)),
		"store":    New(fixedEmbedder{vec: []float32{1}}, &stubSearcher{err: errors.New("connection refused")}, WithMetrics(reg)),
	}
	for name, r := range cases {
		got, err := r.Retrieve(context.Background(), "q", 3)
		if !errors.Is(err, domain.ErrRetrievalUnavailable) {
			t.Errorf("%s: err = %v", name, err)
		}
		if got == nil || len(got) != 0 {
			t.Errorf("%s: got %v, want empty slice", name, got)
		}
	}
	if n := reg.Counter(metrics.WithLabels("lorekeep_retrieve_total", "status", "error"), "").Value(); n != 2 {
		t.Errorf("error counter = %d", n)
	}
}

func TestRetrieveCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &stubSearcher{}
	_, err := New(fixedEmbedder{vec: []float32{1}}, s).Retrieve(ctx, "q", 3)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if s.called {
		t.Error("searcher called after cancellation")
	}
}

func TestRetrieveWithFilter(t *testing.T) {
	store := seededStore(t)
	r := New(fixedEmbedder{vec: []float32{1, 0}}, store, WithFilter(domain.Filter{Must: []domain.Condition{{Key: domain.FieldUnit, Value: 2}}}))
	got, err := r.Retrieve(context.Background(), "q", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Text != "far" {
		t.Errorf("got %+v", got)
	}
}
