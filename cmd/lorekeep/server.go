package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/lorekeep/lorekeep/engine/domain"
	"github.com/lorekeep/lorekeep/engine/rag"
	"github.com/lorekeep/lorekeep/pkg/metrics"
	"github.com/lorekeep/lorekeep/pkg/mid"
)

type asker interface {
	AskK(ctx context.Context, question string, k int) (*rag.Answer, error)
}

// AskRequest is the JSON body for POST /api/ask.
type AskRequest struct {
	Question string `json:"question"`
	K        int    `json:"k,omitempty"`
}

type handlerOpts struct {
	K            int
	MaxBodyBytes int64
	Origin       string
}

func newHandler(svc asker, opts handlerOpts, reg *metrics.Registry, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("POST /api/ask", handleAsk(svc, opts.K, logger))
	mux.Handle("GET /metrics", reg.Handler())

	chain := []mid.Middleware{
		mid.Recover(logger),
		mid.RequestID(),
		mid.Logger(logger),
		mid.Metrics(reg),
		mid.CORS(opts.Origin),
	}
	if opts.MaxBodyBytes > 0 {
		chain = append(chain, mid.MaxBody(opts.MaxBodyBytes))
	}
	return mid.Chain(mux, append(chain, mid.OTel("lorekeep"))...)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleAsk(svc asker, defaultK int, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		k := req.K
		if k <= 0 {
			k = defaultK
		}

		ans, err := svc.AskK(r.Context(), req.Question, k)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, ans)
		case errors.Is(err, domain.ErrInvalidQuery):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrGenerationUnavailable):
			logger.Error("answer generation failed", "request_id", mid.RequestIDFrom(r.Context()), "err", err)
			writeError(w, http.StatusBadGateway, "answer generation is unavailable")
		default:
			logger.Error("ask failed", "request_id", mid.RequestIDFrom(r.Context()), "err", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the question-answering HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer a.close()
			if addr != "" {
				a.cfg.HTTP.Addr = addr
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			svc, _, err := a.ragService(ctx)
			if err != nil {
				return err
			}
			h := newHandler(svc, handlerOpts{
				K:            a.cfg.Retrieve.K,
				MaxBodyBytes: a.cfg.HTTP.MaxBodyBytes,
				Origin:       a.cfg.HTTP.AllowedOrigins,
			}, a.reg, a.log)
			return serveHTTP(ctx, a.log, a.cfg.HTTP.Addr, h)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

// serveHTTP runs an http.Server on addr until ctx is done, then shuts it
// down gracefully.
func serveHTTP(ctx context.Context, logger *slog.Logger, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown signal received", "addr", addr)
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
