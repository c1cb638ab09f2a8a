package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/lorekeep/lorekeep/engine/domain"
	"github.com/lorekeep/lorekeep/pkg/natsutil"
)

const (
	// JobSubject receives ingestion jobs.
	JobSubject = "lorekeep.ingest"
	// DLQSubject receives jobs that exhausted their retries.
	DLQSubject = "lorekeep.ingest.dlq"
	// ProgressSubject receives one Event per finished unit.
	ProgressSubject = "lorekeep.ingest.progress"
	// QueueGroup spreads jobs across workers.
	QueueGroup = "lorekeep-ingest"
	// MaxRetries is the number of redeliveries before a job goes to the DLQ.
	MaxRetries = 3
	// RetryHeader carries the redelivery count.
	RetryHeader = "X-Retry-Count"
)

// Job asks a worker to ingest one document.
type Job struct {
	Document domain.Document `json:"document"`
	// Force re-ingests a document the deduplicator reports as done.
	Force bool `json:"force,omitempty"`
}

// JobResult is sent to the job's reply inbox, if any.
type JobResult struct {
	DocumentID string   `json:"doc_id"`
	State      string   `json:"state"`
	Total      int      `json:"total"`
	Warnings   []string `json:"warnings,omitempty"`
	Error      string   `json:"error,omitempty"`
}

type dlqMessage struct {
	Job     Job    `json:"job"`
	Error   string `json:"error"`
	Retries int    `json:"retries"`
}

// ConsumerOptions configures StartConsumer. Zero values fall back to the
// package constants.
type ConsumerOptions struct {
	Subject    string
	Queue      string
	DLQSubject string
	MaxRetries int
	// Deduplicate reports whether a document was already ingested
	// completely. It is consulted on first delivery only.
	Deduplicate func(ctx context.Context, docID string) (bool, error)
	Logger      *slog.Logger
}

// StartConsumer subscribes to ingestion jobs and runs each through coord.
// Failed jobs are republished with an incremented RetryHeader and moved to
// the DLQ once MaxRetries is reached.
func StartConsumer(nc *nats.Conn, coord *Coordinator, opts ConsumerOptions) (*nats.Subscription, error) {
	if opts.Subject == "" {
		opts.Subject = JobSubject
	}
	if opts.Queue == "" {
		opts.Queue = QueueGroup
	}
	if opts.DLQSubject == "" {
		opts.DLQSubject = DLQSubject
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = MaxRetries
	}
	log := opts.Logger
	if log == nil {
		log = coord.log
	}

	return natsutil.QueueSubscribe(nc, opts.Subject, opts.Queue, func(ctx context.Context, job Job, msg *nats.Msg) {
		doc := job.Document
		start := time.Now()

		// Retried deliveries skip the check: a failed run may already have
		// recorded some of its units.
		if opts.Deduplicate != nil && !job.Force && retryCount(msg) == 0 {
			done, err := opts.Deduplicate(ctx, doc.ID)
			if err != nil {
				log.Warn("ingest: dedup check failed", "doc_id", doc.ID, "error", err)
			} else if done {
				log.Info("ingest: skipping already ingested document", "doc_id", doc.ID)
				respond(ctx, nc, msg, JobResult{DocumentID: doc.ID, State: "skipped"})
				return
			}
		}

		rep, err := coord.Run(ctx, doc)
		if err != nil {
			retries := retryCount(msg) + 1
			log.Error("ingest: job failed", "doc_id", doc.ID, "retry", retries, "error", err)
			if retries >= opts.MaxRetries {
				dlq := dlqMessage{Job: job, Error: err.Error(), Retries: retries}
				if pubErr := natsutil.Publish(ctx, nc, opts.DLQSubject, dlq); pubErr != nil {
					log.Error("ingest: DLQ publish failed", "doc_id", doc.ID, "error", pubErr)
				} else {
					log.Warn("ingest: sent to DLQ", "doc_id", doc.ID, "retries", retries)
				}
				respond(ctx, nc, msg, resultOf(rep, err))
				return
			}
			retry, encErr := natsutil.Encode(ctx, opts.Subject, job)
			if encErr != nil {
				log.Error("ingest: retry encode failed", "doc_id", doc.ID, "error", encErr)
				return
			}
			retry.Header.Set(RetryHeader, strconv.Itoa(retries))
			retry.Reply = msg.Reply
			if pubErr := nc.PublishMsg(retry); pubErr != nil {
				log.Error("ingest: retry publish failed", "doc_id", doc.ID, "error", pubErr)
			}
			return
		}

		log.Info("ingest: job done", "doc_id", doc.ID, "total", rep.Total, "duration", time.Since(start))
		respond(ctx, nc, msg, resultOf(rep, nil))
	})
}

func retryCount(msg *nats.Msg) int {
	if msg.Header == nil {
		return 0
	}
	n, err := strconv.Atoi(msg.Header.Get(RetryHeader))
	if err != nil {
		return 0
	}
	return n
}

func resultOf(rep *Report, err error) JobResult {
	res := JobResult{DocumentID: rep.DocumentID, State: rep.State.String(), Total: rep.Total, Warnings: rep.Warnings()}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

func respond(ctx context.Context, nc *nats.Conn, msg *nats.Msg, res JobResult) {
	if msg.Reply == "" {
		return
	}
	if err := natsutil.Publish(ctx, nc, msg.Reply, res); err != nil {
		slog.Warn("ingest: reply failed", "doc_id", res.DocumentID, "error", err)
	}
}

// Submit publishes a job for a worker to pick up.
func Submit(ctx context.Context, nc *nats.Conn, job Job) error {
	return natsutil.Publish(ctx, nc, JobSubject, job)
}

// SubmitAndWait publishes a job and waits for the worker's result. Retried
// jobs keep the reply subject, so the result is the final outcome.
func SubmitAndWait(ctx context.Context, nc *nats.Conn, job Job) (JobResult, error) {
	msg, err := natsutil.Encode(ctx, JobSubject, job)
	if err != nil {
		return JobResult{}, err
	}
	resp, err := nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return JobResult{}, fmt.Errorf("ingest: submit %s: %w", job.Document.ID, err)
	}
	_, res, err := natsutil.Decode[JobResult](resp)
	return res, err
}

// NATSProgress publishes progress events to a subject.
type NATSProgress struct {
	nc      *nats.Conn
	subject string
}

// NewNATSProgress returns a Progress publishing to subject, or to
// ProgressSubject when subject is empty.
func NewNATSProgress(nc *nats.Conn, subject string) *NATSProgress {
	if subject == "" {
		subject = ProgressSubject
	}
	return &NATSProgress{nc: nc, subject: subject}
}

func (p *NATSProgress) Publish(ctx context.Context, ev Event) error {
	return natsutil.Publish(ctx, p.nc, p.subject, ev)
}

// WatchProgress calls f for every progress event on subject.
func WatchProgress(nc *nats.Conn, subject string, f func(Event)) (*nats.Subscription, error) {
	if subject == "" {
		subject = ProgressSubject
	}
	return natsutil.Subscribe(nc, subject, func(_ context.Context, ev Event) { f(ev) })
}
