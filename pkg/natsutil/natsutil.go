// Package natsutil provides typed NATS publish/subscribe/request helpers
// with OpenTelemetry trace propagation.
package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// natsHeaderCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type natsHeaderCarrier nats.Msg

func (c *natsHeaderCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *natsHeaderCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Encode marshals v as JSON into a message for subject, injecting the trace
// context from ctx into the headers.
func Encode[T any](ctx context.Context, subject string, v T) (*nats.Msg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("natsutil: encode %s: %w", subject, err)
	}
	msg := &nats.Msg{Subject: subject, Data: data, Header: nats.Header{}}
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	return msg, nil
}

// Decode unmarshals a message body and returns a context carrying the
// sender's trace.
func Decode[T any](msg *nats.Msg) (context.Context, T, error) {
	var v T
	if err := json.Unmarshal(msg.Data, &v); err != nil {
		return nil, v, fmt.Errorf("natsutil: decode %s: %w", msg.Subject, err)
	}
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*natsHeaderCarrier)(msg))
	return ctx, v, nil
}

// Publish serializes v as JSON and publishes to the given subject.
// Trace context from ctx is injected into NATS message headers.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	msg, err := Encode(ctx, subject, v)
	if err != nil {
		return err
	}
	return nc.PublishMsg(msg)
}

// Subscribe registers a handler that deserializes JSON messages of type T.
// Malformed messages are logged and dropped.
func Subscribe[T any](nc *nats.Conn, subject string, handler func(context.Context, T)) (*nats.Subscription, error) {
	return QueueSubscribe(nc, subject, "", func(ctx context.Context, v T, _ *nats.Msg) {
		handler(ctx, v)
	})
}

// QueueSubscribe is Subscribe within a queue group, so each message reaches
// one member. An empty queue subscribes every member. The raw message is
// passed through for header access.
func QueueSubscribe[T any](nc *nats.Conn, subject, queue string, handler func(context.Context, T, *nats.Msg)) (*nats.Subscription, error) {
	cb := func(msg *nats.Msg) {
		ctx, v, err := Decode[T](msg)
		if err != nil {
			slog.Warn("natsutil: dropping malformed message", "subject", msg.Subject, "err", err)
			return
		}
		handler(ctx, v, msg)
	}
	if queue == "" {
		return nc.Subscribe(subject, cb)
	}
	return nc.QueueSubscribe(subject, queue, cb)
}

// reply is the envelope for Request/Reply. A non-empty Error means the
// handler failed.
type reply[T any] struct {
	Data  T      `json:"data"`
	Error string `json:"error,omitempty"`
}

// RemoteError is a handler failure reported by the replying side.
type RemoteError struct {
	Subject string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("natsutil: %s: remote error: %s", e.Subject, e.Message)
}

// Request sends a JSON-encoded request and decodes the response. Without a
// deadline on ctx, nats.DefaultTimeout applies.
func Request[Req, Resp any](ctx context.Context, nc *nats.Conn, subject string, req Req) (Resp, error) {
	var zero Resp
	msg, err := Encode(ctx, subject, req)
	if err != nil {
		return zero, err
	}
	timeout := nats.DefaultTimeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	resp, err := nc.RequestMsg(msg, timeout)
	if err != nil {
		return zero, fmt.Errorf("natsutil: request %s: %w", subject, err)
	}
	var r reply[Resp]
	if err := json.Unmarshal(resp.Data, &r); err != nil {
		return zero, fmt.Errorf("natsutil: decode reply %s: %w", subject, err)
	}
	if r.Error != "" {
		return zero, &RemoteError{Subject: subject, Message: r.Error}
	}
	return r.Data, nil
}

// Reply serves requests on subject within queue, answering each with the
// handler's result.
func Reply[Req, Resp any](nc *nats.Conn, subject, queue string, handler func(context.Context, Req) (Resp, error)) (*nats.Subscription, error) {
	return QueueSubscribe(nc, subject, queue, func(ctx context.Context, req Req, msg *nats.Msg) {
		var r reply[Resp]
		v, err := handler(ctx, req)
		if err != nil {
			r.Error = err.Error()
		} else {
			r.Data = v
		}
		data, err := json.Marshal(r)
		if err != nil {
			data, _ = json.Marshal(reply[Resp]{Error: err.Error()})
		}
		if err := msg.Respond(data); err != nil && !errors.Is(err, nats.ErrMsgNoReply) {
			slog.Warn("natsutil: respond failed", "subject", subject, "err", err)
		}
	})
}
