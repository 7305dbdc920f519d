// Package natsutil provides typed NATS publish/consume helpers with
// OpenTelemetry trace propagation, redelivery and a dead-letter subject.
package natsutil

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// Headers set on messages.
const (
	HeaderAttempt = "Wellness-Attempt"
	HeaderError   = "Wellness-Error"
)

// headerCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Publish serializes v as JSON and publishes it as a first attempt.
// Trace context from ctx is injected into the message headers.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("natsutil: encode %s: %w", subject, err)
	}
	msg := &nats.Msg{Subject: subject, Data: data, Header: nats.Header{}}
	msg.Header.Set(HeaderAttempt, "1")
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	if err := nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("natsutil: publish %s: %w", subject, err)
	}
	return nil
}

// Attempt reports which delivery attempt msg is, starting at 1.
func Attempt(msg *nats.Msg) int {
	if msg.Header == nil {
		return 1
	}
	n, err := strconv.Atoi(msg.Header.Get(HeaderAttempt))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// Policy controls what happens when a handler fails.
type Policy struct {
	// MaxAttempts bounds deliveries per message; 0 or 1 means no retry.
	MaxAttempts int
	// DeadLetter receives messages that failed every attempt or could not be
	// decoded. Empty drops them.
	DeadLetter string
	Logger     *slog.Logger
}

// Consume joins queue on subject and hands decoded messages to handler.
// A failing message is republished with its attempt header incremented until
// MaxAttempts, then copied to the dead-letter subject with the last error.
func Consume[T any](nc *nats.Conn, subject, queue string, p Policy, handler func(context.Context, T) error) (*nats.Subscription, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return nc.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*headerCarrier)(msg))
		attempt := Attempt(msg)

		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			logger.Warn("malformed message", "subject", subject, "err", err)
			deadLetter(nc, msg, p.DeadLetter, err, logger)
			return
		}
		err := handler(ctx, v)
		if err == nil {
			return
		}
		if attempt < p.MaxAttempts {
			logger.Warn("handler failed, redelivering", "subject", subject, "attempt", attempt, "err", err)
			if perr := nc.PublishMsg(clone(msg, subject, HeaderAttempt, strconv.Itoa(attempt+1))); perr != nil {
				logger.Error("redeliver failed", "subject", subject, "err", perr)
			}
			return
		}
		logger.Error("handler failed, giving up", "subject", subject, "attempt", attempt, "err", err)
		deadLetter(nc, msg, p.DeadLetter, err, logger)
	})
}

func deadLetter(nc *nats.Conn, msg *nats.Msg, subject string, cause error, logger *slog.Logger) {
	if subject == "" {
		return
	}
	if err := nc.PublishMsg(clone(msg, subject, HeaderError, cause.Error())); err != nil {
		logger.Error("dead-letter publish failed", "subject", subject, "err", err)
	}
}

func clone(msg *nats.Msg, subject, key, val string) *nats.Msg {
	out := &nats.Msg{Subject: subject, Data: msg.Data, Header: nats.Header{}}
	for k, vs := range msg.Header {
		out.Header[k] = append([]string(nil), vs...)
	}
	out.Header.Set(key, val)
	return out
}
