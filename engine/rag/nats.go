package rag

import (
	"context"

	"github.com/nats-io/nats.go"

	"github.com/lorekeep/lorekeep/pkg/natsutil"
)

// AskSubject receives AskRequests; replies carry an Answer.
const AskSubject = "lorekeep.ask"

// AskRequest is the NATS request body. K <= 0 uses the service default.
type AskRequest struct {
	Question string `json:"question"`
	K        int    `json:"k,omitempty"`
}

// Serve answers AskRequests on AskSubject within queue.
func Serve(nc *nats.Conn, svc *Service, queue string) (*nats.Subscription, error) {
	return natsutil.Reply(nc, AskSubject, queue, func(ctx context.Context, req AskRequest) (*Answer, error) {
		k := req.K
		if k <= 0 {
			k = svc.opts.K
		}
		return svc.AskK(ctx, req.Question, k)
	})
}

// AskRemote sends a question to a worker running Serve.
func AskRemote(ctx context.Context, nc *nats.Conn, req AskRequest) (*Answer, error) {
	return natsutil.Request[AskRequest, *Answer](ctx, nc, AskSubject, req)
}
