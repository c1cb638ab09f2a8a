package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type echo struct {
	Text string `json:"text"`
}

func TestPostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" || r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var in echo
		_ = json.NewDecoder(r.Body).Decode(&in)
		_ = json.NewEncoder(w).Encode(echo{Text: in.Text + "!"})
	}))
	defer srv.Close()

	var out echo
	err := PostJSON(context.Background(), srv.Client(), srv.URL, http.Header{"Authorization": {"Bearer k"}}, echo{Text: "hi"}, &out)
	if err != nil || out.Text != "hi!" {
		t.Fatalf("out=%+v err=%v", out, err)
	}
}

func TestPostJSONStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := PostJSON(context.Background(), srv.Client(), srv.URL, nil, echo{}, &echo{})
	var se *StatusError
	if !errors.As(err, &se) || se.Code != 503 || se.Body != "overloaded" {
		t.Fatalf("got %v", err)
	}
	if !Retryable(err) {
		t.Fatal("503 should be retryable")
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{context.DeadlineExceeded, true},
		{&StatusError{Code: 429}, true},
		{&StatusError{Code: 400}, false},
		{errors.New("decode response: bad"), false},
	}
	for _, c := range cases {
		if got := Retryable(c.err); got != c.want {
			t.Errorf("Retryable(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}
