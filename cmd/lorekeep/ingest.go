package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lorekeep/lorekeep/engine/ingest"
	"github.com/lorekeep/lorekeep/engine/loader"
)

type ingestFlags struct {
	docID           string
	name            string
	splitUnits      bool
	mode            string
	continueOnError bool
	remote          bool
	force           bool
	wait            time.Duration
}

func newIngestCmd(a *app) *cobra.Command {
	var f ingestFlags
	cmd := &cobra.Command{
		Use:   "ingest <path>",
		Short: "Chunk, embed and store a book or diary",
		Long: `Load a .txt, .md, .json or .yaml file, split it into units, and write
its chunks to the vector store. With --remote the job is handed to a worker
over NATS instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close()
			if f.mode != "" {
				a.cfg.Ingest.WriteMode = f.mode
			}
			if cmd.Flags().Changed("continue-on-error") {
				a.cfg.Ingest.ContinueOnError = f.continueOnError
			}
			doc, err := loader.Load(args[0], loader.Options{ID: f.docID, Name: f.name, SplitByUnit: f.splitUnits})
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			if f.remote {
				return a.submit(ctx, cmd, ingest.Job{Document: doc, Force: f.force}, f.wait)
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
			coord, err := a.coordinator(store, emb, cat, consoleProgress{w: cmd.OutOrStdout()})
			if err != nil {
				return err
			}
			a.log.Info("ingesting", "doc_id", doc.ID, "units", len(doc.Units))
			rep, err := coord.Run(ctx, doc)
			if rep != nil {
				renderReport(cmd.OutOrStdout(), rep)
			}
			return err
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.docID, "doc-id", "", "document ID (default: slug of the name)")
	fl.StringVar(&f.name, "name", "", "document name (default: file name)")
	fl.BoolVar(&f.splitUnits, "split-units", true, "split books on chapter headings")
	fl.StringVar(&f.mode, "mode", "", "write mode: insert or upsert")
	fl.BoolVar(&f.continueOnError, "continue-on-error", false, "keep going after a unit fails")
	fl.BoolVar(&f.remote, "remote", false, "submit to a worker over NATS")
	fl.BoolVar(&f.force, "force", false, "with --remote, ingest even if the catalog has the document")
	fl.DurationVar(&f.wait, "wait", 0, "with --remote, wait this long for the result")
	return cmd
}

// submit hands a job to a worker. With a zero wait it returns once the
// job is published.
func (a *app) submit(ctx context.Context, cmd *cobra.Command, job ingest.Job, wait time.Duration) error {
	nc, err := a.connectNATS()
	if err != nil {
		return err
	}
	if wait <= 0 {
		if err := ingest.Submit(ctx, nc, job); err != nil {
			return err
		}
		if err := nc.Flush(); err != nil {
			return fmt.Errorf("nats flush: %w", err)
		}
		cmd.Printf("submitted %s (%d units)\n", job.Document.ID, len(job.Document.Units))
		return nil
	}

	sub, err := ingest.WatchProgress(nc, "", func(ev ingest.Event) {
		if ev.DocumentID == job.Document.ID {
			renderEvent(cmd.OutOrStdout(), ev)
		}
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	res, err := ingest.SubmitAndWait(ctx, nc, job)
	if err != nil {
		return err
	}
	renderResult(cmd.OutOrStdout(), res)
	if res.Error != "" {
		return fmt.Errorf("ingest %s: %s", res.DocumentID, res.Error)
	}
	return nil
}
