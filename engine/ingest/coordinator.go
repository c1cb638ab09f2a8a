// Package ingest drives documents through chunking, embedding and storage,
// one unit at a time, and exposes the same pipeline as a NATS consumer.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/lorekeep/lorekeep/engine/domain"
	"github.com/lorekeep/lorekeep/pkg/fn"
	"github.com/lorekeep/lorekeep/pkg/metrics"
)

// Splitter cuts one unit into chunks.
type Splitter interface {
	SplitUnit(docID string, u domain.Unit) []domain.Chunk
}

// Embedder embeds a batch of texts, preserving order.
type Embedder interface {
	EmbedAll(ctx context.Context, texts []string) ([][]float32, error)
}

// Store is the subset of the vector store the coordinator writes through.
type Store interface {
	EnsureCollection(ctx context.Context) (domain.CollectionStatus, error)
	Insert(ctx context.Context, records []domain.Record) (int, error)
	Upsert(ctx context.Context, records []domain.Record) (int, error)
	Delete(ctx context.Context, filter domain.Filter) (int, error)
}

// Ledger records which units of a document have been stored. Complete is
// called once, after every unit of a run succeeded.
type Ledger interface {
	RecordUnit(ctx context.Context, doc domain.Document, unit, chunks, written int) error
	Complete(ctx context.Context, doc domain.Document, records int) error
	Forget(ctx context.Context, docID string) error
}

// Progress receives one event per finished unit.
type Progress interface {
	Publish(ctx context.Context, ev Event) error
}

// WriteMode selects how records reach the store.
type WriteMode int

const (
	WriteInsert WriteMode = iota
	WriteUpsert
)

// ParseWriteMode accepts "insert" or "upsert".
func ParseWriteMode(s string) (WriteMode, error) {
	switch s {
	case "", "insert":
		return WriteInsert, nil
	case "upsert":
		return WriteUpsert, nil
	}
	return 0, fmt.Errorf("ingest: unknown write mode %q", s)
}

// Deps holds the collaborators of a Coordinator. Ledger, Progress and
// Metrics are optional.
type Deps struct {
	Splitter Splitter
	Embedder Embedder
	Store    Store
	Ledger   Ledger
	Progress Progress
	Metrics  *metrics.Registry
	Logger   *slog.Logger
}

// Options tunes a run.
type Options struct {
	Mode WriteMode
	// ContinueOnError keeps going after a failed unit; the run still ends
	// Failed and returns every unit error joined.
	ContinueOnError bool
}

// Coordinator runs ingestion. It holds no per-run state and may be shared.
type Coordinator struct {
	deps Deps
	opts Options
	log  *slog.Logger
}

// New returns a Coordinator. Only Store is required; a Coordinator without
// Splitter and Embedder can Purge but not Run.
func New(deps Deps, opts Options) (*Coordinator, error) {
	if deps.Store == nil {
		return nil, errors.New("ingest: store is required")
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{deps: deps, opts: opts, log: log}, nil
}

// Run ingests doc. The report is always returned, also on failure, and
// reflects the units committed before it.
func (c *Coordinator) Run(ctx context.Context, doc domain.Document) (*Report, error) {
	rep := &Report{DocumentID: doc.ID, State: StateIdle}
	start := time.Now()
	if c.deps.Splitter == nil || c.deps.Embedder == nil {
		rep.fail(StateIdle)
		return rep, errors.New("ingest: splitter and embedder are required to run")
	}

	if err := domain.ValidateDocument(doc); err != nil {
		rep.fail(StateIdle)
		return rep, fmt.Errorf("ingest: %w", err)
	}

	rep.State = StatePreparingStore
	status, err := c.deps.Store.EnsureCollection(ctx)
	if err != nil {
		rep.fail(StatePreparingStore)
		return rep, fmt.Errorf("ingest: prepare store: %w", err)
	}
	rep.Collection = status
	c.log.Info("ingest: store ready", "doc_id", doc.ID, "collection", status.String(), "units", len(doc.Units))

	var (
		errs     []error
		failedAt State
	)
	for _, u := range doc.Units {
		if err := ctx.Err(); err != nil {
			if len(errs) == 0 {
				failedAt = rep.State
			}
			errs = append(errs, err)
			break
		}

		unitStart := time.Now()
		out, stage, err := c.runUnit(ctx, doc, u, rep)
		out.Duration = time.Since(unitStart)
		rep.Units = append(rep.Units, out)
		rep.Total = fn.Reduce(rep.Units, 0, func(acc int, o UnitOutcome) int { return acc + o.Written })
		c.afterUnit(ctx, doc, out, rep)

		if err != nil {
			c.count("lorekeep_ingest_units_total", "status", "failed")
			c.log.Error("ingest: unit failed", "doc_id", doc.ID, "unit", u.Index, "stage", stage.String(), "error", err)
			if len(errs) == 0 {
				failedAt = stage
			}
			errs = append(errs, err)
			if !c.opts.ContinueOnError {
				break
			}
			continue
		}
		if out.Skipped {
			c.count("lorekeep_ingest_units_total", "status", "skipped")
		} else {
			c.count("lorekeep_ingest_units_total", "status", "ok")
		}
	}

	if len(errs) > 0 {
		rep.fail(failedAt)
		c.log.Error("ingest: run failed", "doc_id", doc.ID, "total", rep.Total, "duration", time.Since(start))
		return rep, fmt.Errorf("ingest: %s: %w", doc.ID, errors.Join(errs...))
	}
	rep.State = StateCompleted
	if c.deps.Ledger != nil {
		if err := c.deps.Ledger.Complete(context.WithoutCancel(ctx), doc, rep.Total); err != nil {
			c.log.Warn("ingest: ledger complete failed", "doc_id", doc.ID, "error", err)
		}
	}
	c.log.Info("ingest: completed", "doc_id", doc.ID, "total", rep.Total, "duration", time.Since(start))
	return rep, nil
}

// runUnit takes one unit through Chunking, Embedding and Writing. It
// returns the outcome and, on failure, the stage that failed.
func (c *Coordinator) runUnit(ctx context.Context, doc domain.Document, u domain.Unit, rep *Report) (UnitOutcome, State, error) {
	out := UnitOutcome{Unit: u.Index}

	rep.State = StateChunking
	chunks := c.deps.Splitter.SplitUnit(doc.ID, u)
	out.Chunks = len(chunks)
	if len(chunks) == 0 {
		out.Skipped = true
		c.log.Info("ingest: unit empty, skipped", "doc_id", doc.ID, "unit", u.Index)
		return out, StateChunking, nil
	}

	rep.State = StateEmbedding
	texts := fn.Map(chunks, func(ch domain.Chunk) string { return ch.Text })
	var vecs [][]float32
	start := time.Now()
	err := fn.Span(ctx, "ingest.embed", func(ctx context.Context) error {
		var err error
		vecs, err = c.deps.Embedder.EmbedAll(ctx, texts)
		return err
	}, attribute.String("doc_id", doc.ID), attribute.Int("unit", u.Index), attribute.Int("chunks", len(chunks)))
	c.observe("embed", start)
	if err != nil {
		out.Err = &domain.UnitError{Unit: u.Index, Stage: "embed", Err: err}
		return out, StateEmbedding, out.Err
	}

	rep.State = StateWriting
	records := make([]domain.Record, len(chunks))
	for i, ch := range chunks {
		records[i] = domain.NewRecord(doc, ch, vecs[i])
	}
	writeStart := time.Now()
	// A started batch always completes, even if the run was cancelled.
	n, err := c.write(context.WithoutCancel(ctx), records)
	c.observe("write", writeStart)
	if err != nil {
		out.Err = &domain.UnitError{Unit: u.Index, Stage: "write", Err: err}
		return out, StateWriting, out.Err
	}
	out.Written = n
	if n != len(records) {
		out.Warning = fmt.Sprintf("store reported %d of %d records written", n, len(records))
		c.count("lorekeep_ingest_count_mismatch_total")
		c.log.Warn("ingest: write count mismatch", "doc_id", doc.ID, "unit", u.Index, "chunks", len(records), "written", n)
	}
	c.add("lorekeep_ingest_records_written_total", int64(n))
	c.log.Info("ingest: unit stored", "doc_id", doc.ID, "unit", u.Index, "chunks", len(chunks), "written", n)
	return out, StateWriting, nil
}

func (c *Coordinator) write(ctx context.Context, records []domain.Record) (int, error) {
	if c.opts.Mode == WriteUpsert {
		return c.deps.Store.Upsert(ctx, records)
	}
	return c.deps.Store.Insert(ctx, records)
}

// afterUnit notifies the ledger and progress hooks; their failures are
// logged only.
func (c *Coordinator) afterUnit(ctx context.Context, doc domain.Document, out UnitOutcome, rep *Report) {
	if c.deps.Ledger != nil && out.Err == nil {
		if err := c.deps.Ledger.RecordUnit(ctx, doc, out.Unit, out.Chunks, out.Written); err != nil {
			c.log.Warn("ingest: ledger update failed", "doc_id", doc.ID, "unit", out.Unit, "error", err)
		}
	}
	if c.deps.Progress != nil {
		if err := c.deps.Progress.Publish(ctx, newEvent(doc, out, rep.Total)); err != nil {
			c.log.Warn("ingest: progress publish failed", "doc_id", doc.ID, "unit", out.Unit, "error", err)
		}
	}
}

// Purge deletes every stored record of docID and returns how many were
// removed.
func (c *Coordinator) Purge(ctx context.Context, docID string) (int, error) {
	n, err := c.deps.Store.Delete(ctx, domain.ByDocument(docID))
	if err != nil {
		return 0, fmt.Errorf("ingest: purge %s: %w", docID, err)
	}
	if c.deps.Ledger != nil {
		if err := c.deps.Ledger.Forget(ctx, docID); err != nil {
			c.log.Warn("ingest: ledger forget failed", "doc_id", docID, "error", err)
		}
	}
	c.log.Info("ingest: purged", "doc_id", docID, "deleted", n)
	return n, nil
}

func (c *Coordinator) count(name string, labels ...string) {
	c.add(name, 1, labels...)
}

func (c *Coordinator) add(name string, n int64, labels ...string) {
	if c.deps.Metrics == nil {
		return
	}
	c.deps.Metrics.Counter(metrics.WithLabels(name, labels...), "").Add(n)
}

func (c *Coordinator) observe(stage string, start time.Time) {
	if c.deps.Metrics == nil {
		return
	}
	c.deps.Metrics.Histogram(metrics.WithLabels("lorekeep_ingest_stage_seconds", "stage", stage),
		"Time spent per ingestion stage", nil).Since(start)
}
