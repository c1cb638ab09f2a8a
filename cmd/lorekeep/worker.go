package main

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/lorekeep/lorekeep/engine/ingest"
	"github.com/lorekeep/lorekeep/engine/rag"
)

// askQueue load-balances questions across workers.
const askQueue = "lorekeep-ask"

func newWorkerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume ingestion jobs and answer questions over NATS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer a.close()
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			nc, err := a.connectNATS()
			if err != nil {
				return err
			}
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			emb, err := a.embedder(ctx)
			if err != nil {
				return err
			}
			cat, err := a.catalog(ctx)
			if err != nil {
				return err
			}
			var progress ingest.Progress
			if a.cfg.NATS.Progress {
				progress = ingest.NewNATSProgress(nc, "")
			}
			coord, err := a.coordinator(store, emb, cat, progress)
			if err != nil {
				return err
			}

			copts := ingest.ConsumerOptions{Queue: a.cfg.NATS.Queue, Logger: a.log}
			if cat != nil {
				copts.Deduplicate = cat.Ingested
			}
			if _, err := ingest.StartConsumer(nc, coord, copts); err != nil {
				return err
			}

			svc, _, err := a.ragService(ctx)
			if err != nil {
				return err
			}
			if _, err := rag.Serve(nc, svc, askQueue); err != nil {
				return err
			}
			a.log.Info("worker started", "nats", a.cfg.NATS.URL, "queue", a.cfg.NATS.Queue)

			mux := http.NewServeMux()
			mux.Handle("GET /metrics", a.reg.Handler())
			mux.HandleFunc("GET /api/health", handleHealth)
			serveErr := serveHTTP(ctx, a.log, a.cfg.Metrics.Addr, mux)

			if err := nc.Drain(); err != nil {
				a.log.Warn("nats drain failed", "error", err)
			}
			return serveErr
		},
	}
}
