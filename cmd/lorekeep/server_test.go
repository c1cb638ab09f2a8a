package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lorekeep/lorekeep/engine/domain"
	"github.com/lorekeep/lorekeep/engine/rag"
	"github.com/lorekeep/lorekeep/pkg/metrics"
)

type fakeAsker struct {
	gotK int
	err  error
}

func (f *fakeAsker) AskK(_ context.Context, question string, k int) (*rag.Answer, error) {
	f.gotK = k
	if f.err != nil {
		return nil, f.err
	}
	return &rag.Answer{
		Question: question,
		Text:     "Harry lives with the Dursleys.",
		Sources:  []domain.RetrievedChunk{{ID: "hp_1_0", DocumentName: "Harry Potter", Unit: 1, Score: 0.9}},
	}, nil
}

func newTestServer(t *testing.T, svc asker) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := newHandler(svc, handlerOpts{K: 3, MaxBodyBytes: 1 << 10, Origin: "*"}, metrics.New(), logger)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func postAsk(t *testing.T, srv *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/ask", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAskHandler(t *testing.T) {
	svc := &fakeAsker{}
	srv := newTestServer(t, svc)

	resp := postAsk(t, srv, `{"question":"Where does Harry live?"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if svc.gotK != 3 {
		t.Errorf("k = %d, want default 3", svc.gotK)
	}
	var ans rag.Answer
	if err := json.NewDecoder(resp.Body).Decode(&ans); err != nil {
		t.Fatal(err)
	}
	if ans.Text != "Harry lives with the Dursleys." || len(ans.Sources) != 1 || ans.Sources[0].ID != "hp_1_0" {
		t.Errorf("answer = %+v", ans)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing request id header")
	}

	postAsk(t, srv, `{"question":"Who is Hermione?","k":7}`)
	if svc.gotK != 7 {
		t.Errorf("k = %d, want 7", svc.gotK)
	}
}

func TestAskHandlerErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"bad json", `{"question":`, nil, http.StatusBadRequest},
		{"invalid query", `{"question":" "}`, fmt.Errorf("rag: %w", domain.ErrInvalidQuery), http.StatusBadRequest},
		{"generation", `{"question":"q"}`, fmt.Errorf("rag: %w", domain.ErrGenerationUnavailable), http.StatusBadGateway},
		{"other", `{"question":"q"}`, fmt.Errorf("boom"), http.StatusInternalServerError},
		{"too large", `{"question":"` + strings.Repeat("x", 2048) + `"}`, nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &fakeAsker{err: tt.err})
			resp := postAsk(t, srv, tt.body)
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			var body map[string]string
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body["error"] == "" {
				t.Error("missing error message")
			}
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, &fakeAsker{})
	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), "# TYPE") {
		t.Errorf("metrics status = %d body = %q", resp.StatusCode, data)
	}
}
