package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Subjects scribe consumes. The proxy-side interceptor publishes one started
// event, any number of exchanges, and one ended event per capture session.
const (
	SubjectSessionStarted = "swarm.intercept.session.started"
	SubjectExchange       = "swarm.intercept.exchange"
	SubjectSessionEnded   = "swarm.intercept.session.ended"
)

// Subjects scribe publishes.
const (
	SubjectSessionSummary = "swarm.scribe.session.summary"
	SubjectRegistered     = "swarm.agent.scribe.registered"
)

// SessionEvent announces a session boundary.
type SessionEvent struct {
	SessionID string `json:"session_id"`
}

// ExchangeEvent carries one intercepted request. Buffer is the untouched
// payload; encoding/json moves it as base64.
type ExchangeEvent struct {
	SessionID string `json:"session_id"`
	Endpoint  string `json:"endpoint"`
	Buffer    []byte `json:"buffer"`
}

type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

func (c *Client) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.conn.Close()
}
