package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/wolfman30/emma-intake/pkg/logging"
)

// Publisher emits canonical intake events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, aggregate, correlationID string, evt CanonicalEvent) (Envelope, error)
}

// QueuePublisher sends envelopes as JSON bodies to a Queue (SQS or memory).
type QueuePublisher struct {
	queue Queue
}

func NewQueuePublisher(queue Queue) *QueuePublisher {
	if queue == nil {
		panic("events: queue cannot be nil")
	}
	return &QueuePublisher{queue: queue}
}

func (p *QueuePublisher) Publish(ctx context.Context, aggregate, correlationID string, evt CanonicalEvent) (Envelope, error) {
	env, err := NewEnvelope(aggregate, correlationID, evt)
	if err != nil {
		return Envelope{}, err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal envelope: %w", err)
	}
	if err := p.queue.Send(ctx, string(body)); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// natsConn is the slice of *nats.Conn the publisher uses.
type natsConn interface {
	Publish(subject string, data []byte) error
	Close()
}

// NATSPublisher publishes envelopes on subjects derived from the event type.
type NATSPublisher struct {
	conn   natsConn
	logger *logging.Logger
}

// NewNATSPublisher connects to url, retrying in the background until the
// server is reachable.
func NewNATSPublisher(url, token string, logger *logging.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = logging.Default()
	}
	opts := []nats.Option{
		nats.Name("emma-intake"),
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
		return nil, fmt.Errorf("events: nats connect: %w", err)
	}
	return &NATSPublisher{conn: nc, logger: logger}, nil
}

func newNATSPublisherWithConn(conn natsConn, logger *logging.Logger) *NATSPublisher {
	if conn == nil {
		panic("events: nats conn required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &NATSPublisher{conn: conn, logger: logger}
}

func (p *NATSPublisher) Publish(ctx context.Context, aggregate, correlationID string, evt CanonicalEvent) (Envelope, error) {
	if err := ctx.Err(); err != nil {
		return Envelope{}, err
	}
	env, err := NewEnvelope(aggregate, correlationID, evt)
	if err != nil {
		return Envelope{}, err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal envelope: %w", err)
	}
	subject := Subject(env.EventType)
	if err := p.conn.Publish(subject, data); err != nil {
		return Envelope{}, fmt.Errorf("events: nats publish %s: %w", subject, err)
	}
	p.logger.Debug("event published", "subject", subject, "event_id", env.EventID.String())
	return env, nil
}

func (p *NATSPublisher) Close() {
	p.conn.Close()
}

// MemoryPublisher records envelopes in memory. Used by tests and local runs
// without a broker.
type MemoryPublisher struct {
	mu        sync.Mutex
	envelopes []Envelope
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(ctx context.Context, aggregate, correlationID string, evt CanonicalEvent) (Envelope, error) {
	env, err := NewEnvelope(aggregate, correlationID, evt)
	if err != nil {
		return Envelope{}, err
	}
	p.mu.Lock()
	p.envelopes = append(p.envelopes, env)
	p.mu.Unlock()
	return env, nil
}

// Envelopes returns a copy of everything published so far.
func (p *MemoryPublisher) Envelopes() []Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Envelope(nil), p.envelopes...)
}

// MultiPublisher fans an event out to several publishers. The first error
// wins but every publisher is attempted.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, aggregate, correlationID string, evt CanonicalEvent) (Envelope, error) {
	var (
		first    Envelope
		firstErr error
	)
	for i, p := range m {
		env, err := p.Publish(ctx, aggregate, correlationID, evt)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if i == 0 {
			first = env
		}
	}
	return first, firstErr
}
