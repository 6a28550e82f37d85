package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSPublisher publishes JSON-encoded events to NATS subjects.
type NATSPublisher struct {
	conn *nats.Conn
}

var _ Publisher = (*NATSPublisher)(nil)

// NewNATSPublisher connects with unlimited reconnects. Extra options are
// appended to the defaults.
func NewNATSPublisher(url string, opts ...nats.Option) (*NATSPublisher, error) {
	logger := slog.Default().With("component", "events")
	defaults := []nats.Option{
		nats.Name("roseglass"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSPublisher{conn: nc}, nil
}

func (p *NATSPublisher) Publish(_ context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	if err := p.conn.Publish(topic, data); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	return nil
}

// Flush blocks until the server has acknowledged buffered publishes.
func (p *NATSPublisher) Flush() error {
	return p.conn.Flush()
}

func (p *NATSPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
	return nil
}

// Message is a received event.
type Message struct {
	Topic string
	Data  json.RawMessage
}

// Subscribe streams events on topic (wildcards allowed) until ctx is done.
// It is used by the CLI's event tail.
func Subscribe(ctx context.Context, url, topic string, handle func(Message)) error {
	nc, err := nats.Connect(url, nats.Name("roseglass-tail"))
	if err != nil {
		return fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	defer nc.Close()

	ch := make(chan *nats.Msg, 64)
	sub, err := nc.ChanSubscribe(topic, ch)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	defer sub.Unsubscribe() //nolint:errcheck
	if err := nc.Flush(); err != nil {
		return fmt.Errorf("flushing subscription: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-ch:
			handle(Message{Topic: msg.Subject, Data: msg.Data})
		}
	}
}

// Emit publishes and logs failures instead of returning them. A nil
// publisher is a no-op.
func Emit(ctx context.Context, p Publisher, topic string, event any) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, topic, event); err != nil {
		slog.Default().With("component", "events").Warn("publish failed", "topic", topic, "error", err)
	}
}
