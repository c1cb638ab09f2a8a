package rag

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/lorekeep/lorekeep/engine/domain"
	"github.com/lorekeep/lorekeep/engine/retrieve"
	"github.com/lorekeep/lorekeep/pkg/metrics"
	"github.com/lorekeep/lorekeep/pkg/natsutil"
)

// --- mocks ---

type mockCompleter struct {
	reply      string
	err        error
	calls      int
	lastPrompt string
	lastTemp   float64
}

func (m *mockCompleter) Complete(_ context.Context, prompt string, temperature float64) (string, error) {
	m.calls++
	m.lastPrompt = prompt
	m.lastTemp = temperature
	return m.reply, m.err
}

type mockRetriever struct {
	chunks []domain.RetrievedChunk
	err    error
	lastK  int
}

func (m *mockRetriever) Retrieve(_ context.Context, _ string, k int) ([]domain.RetrievedChunk, error) {
	m.lastK = k
	return m.chunks, m.err
}

type brokenEmbedder struct{}

func (brokenEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, domain.ErrEmbeddingUnavailable
}

type unusedSearcher struct{}

func (unusedSearcher) Search(context.Context, []float32, int, domain.Filter) ([]domain.RetrievedChunk, error) {
	panic("search must not run")
}

func passages() []domain.RetrievedChunk {
	return []domain.RetrievedChunk{
		{ID: "tl_12_0", DocumentName: "Demi-Gods", Unit: 12, Chunk: 0, Text: "Kumarajiva practised the Flame Blade.", Score: 0.91},
		{ID: "tl_40_2", DocumentName: "Demi-Gods", Unit: 40, Chunk: 2, Text: "He also knew the Little Formless skill.", Score: 0.84},
	}
}

// --- tests ---

func TestAskSuccess(t *testing.T) {
	llm := &mockCompleter{reply: "Flame Blade and Little Formless."}
	r := &mockRetriever{chunks: passages()}
	reg := metrics.New()
	svc := New(r, llm, DefaultOptions(), reg, nil)

	ans, err := svc.Ask(context.Background(), "Which skills did Kumarajiva know?")
	if err != nil {
		t.Fatal(err)
	}
	if ans.Fallback || ans.Text != "Flame Blade and Little Formless." || len(ans.Sources) != 2 {
		t.Errorf("answer = %+v", ans)
	}
	if r.lastK != 3 {
		t.Errorf("k = %d, want default 3", r.lastK)
	}
	if llm.calls != 1 || llm.lastTemp != DefaultTemperature {
		t.Errorf("calls = %d temp = %v", llm.calls, llm.lastTemp)
	}
	for _, want := range []string{
		"Question: Which skills did Kumarajiva know?",
		"[Passage 1]\nSource: Demi-Gods, unit 12, chunk 0\nContent: Kumarajiva practised the Flame Blade.",
		"[Passage 2]",
		"say so plainly",
	} {
		if !strings.Contains(llm.lastPrompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if n := reg.Counter(metrics.WithLabels("lorekeep_ask_total", "outcome", "ok"), "").Value(); n != 1 {
		t.Errorf("ok counter = %d", n)
	}
}

func TestAskRetrievalFailureFallsBack(t *testing.T) {
	llm := &mockCompleter{reply: "unused"}
	retr := retrieve.New(brokenEmbedder{}, unusedSearcher{})
	svc := New(retr, llm, DefaultOptions(), nil, nil)

	ans, err := svc.Ask(context.Background(), "anything?")
	if err != nil {
		t.Fatal(err)
	}
	if !ans.Fallback || ans.Text != DefaultOptions().NoInfoAnswer {
		t.Errorf("answer = %+v", ans)
	}
	if len(ans.Sources) != 0 {
		t.Errorf("sources = %v", ans.Sources)
	}
	if llm.calls != 0 {
		t.Error("generator called with empty context")
	}
}

type deadlineEmbedder struct{}

func (deadlineEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, context.DeadlineExceeded
}

func TestAskCancelledReturnsError(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name string
		ctx  context.Context
		retr Retriever
		want error
	}{
		{"cancelled before retrieval", cancelled, retrieve.New(brokenEmbedder{}, unusedSearcher{}), context.Canceled},
		{"cancelled with passages", cancelled, &mockRetriever{chunks: passages()}, context.Canceled},
		{"embedder deadline", context.Background(), retrieve.New(deadlineEmbedder{}, unusedSearcher{}), context.DeadlineExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &mockCompleter{reply: "unused"}
			reg := metrics.New()
			ans, err := New(tt.retr, llm, DefaultOptions(), reg, nil).Ask(tt.ctx, "Which skills did Kumarajiva know?")
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if ans != nil {
				t.Errorf("answer = %+v", ans)
			}
			if llm.calls != 0 {
				t.Error("generator called after cancellation")
			}
			if n := reg.Counter(metrics.WithLabels("lorekeep_ask_total", "outcome", "no_info"), "").Value(); n != 0 {
				t.Errorf("no_info counter = %d", n)
			}
		})
	}
}

func TestAskNoPassages(t *testing.T) {
	llm := &mockCompleter{}
	svc := New(&mockRetriever{}, llm, Options{NoInfoAnswer: "nothing here"}, nil, nil)
	ans, err := svc.Ask(context.Background(), "q")
	if err != nil {
		t.Fatal(err)
	}
	if ans.Text != "nothing here" || !ans.Fallback || llm.calls != 0 {
		t.Errorf("answer = %+v calls = %d", ans, llm.calls)
	}
}

func TestAskGenerationFailureSurfaces(t *testing.T) {
	llm := &mockCompleter{err: errors.New("502 bad gateway")}
	svc := New(&mockRetriever{chunks: passages()}, llm, DefaultOptions(), nil, nil)

	ans, err := svc.Ask(context.Background(), "q")
	if !errors.Is(err, domain.ErrGenerationUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if ans != nil {
		t.Errorf("answer = %+v", ans)
	}
	fb := svc.Fallback("q")
	if !fb.Fallback || fb.Text != DefaultOptions().ErrorAnswer {
		t.Errorf("fallback = %+v", fb)
	}
}

func TestAskInvalidQuestion(t *testing.T) {
	llm := &mockCompleter{}
	retr := retrieve.New(brokenEmbedder{}, unusedSearcher{})
	_, err := New(retr, llm, DefaultOptions(), nil, nil).Ask(context.Background(), "  ")
	if !errors.Is(err, domain.ErrInvalidQuery) {
		t.Fatalf("err = %v", err)
	}
}

func TestGeneratorVerbatim(t *testing.T) {
	llm := &mockCompleter{reply: "  raw output\n"}
	g := NewGenerator(llm, 0.2, "Journey to the West", nil)
	out, err := g.Generate(context.Background(), "Who is Wukong?", "CTX-BLOCK")
	if err != nil {
		t.Fatal(err)
	}
	if out != "  raw output\n" {
		t.Errorf("output modified: %q", out)
	}
	if !strings.Contains(llm.lastPrompt, "Journey to the West") ||
		!strings.Contains(llm.lastPrompt, "CTX-BLOCK") ||
		!strings.Contains(llm.lastPrompt, "Who is Wukong?") {
		t.Errorf("prompt = %q", llm.lastPrompt)
	}
	if llm.lastTemp != 0.2 {
		t.Errorf("temp = %v", llm.lastTemp)
	}
}

func TestServeOverNATS(t *testing.T) {
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	defer srv.Shutdown()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	defer nc.Close()

	r := &mockRetriever{chunks: passages()}
	svc := New(r, &mockCompleter{reply: "remote answer"}, DefaultOptions(), nil, nil)
	sub, err := Serve(nc, svc, "")
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	ans, err := AskRemote(ctx, nc, AskRequest{Question: "q", K: 5})
	if err != nil {
		t.Fatal(err)
	}
	if ans.Text != "remote answer" || len(ans.Sources) != 2 || r.lastK != 5 {
		t.Errorf("answer = %+v k = %d", ans, r.lastK)
	}

	svcFail := New(r, &mockCompleter{err: errors.New("down")}, DefaultOptions(), nil, nil)
	sub2, err := natsutil.Reply(nc, "lorekeep.ask.failing", "", func(ctx context.Context, req AskRequest) (*Answer, error) {
		return svcFail.Ask(ctx, req.Question)
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub2.Unsubscribe()
	_, err = natsutil.Request[AskRequest, *Answer](ctx, nc, "lorekeep.ask.failing", AskRequest{Question: "q"})
	var re *natsutil.RemoteError
	if !errors.As(err, &re) || !strings.Contains(re.Message, "generation unavailable") {
		t.Errorf("err = %v", err)
	}
}
