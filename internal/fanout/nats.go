package fanout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSRelay fans out envelopes over a NATS subject.
type NATSRelay struct {
	nc      *nats.Conn
	subject string
	logger  *zap.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewNATSRelay connects to url. name identifies this instance to the server.
func NewNATSRelay(url, name, subject string, logger *zap.Logger) (*NATSRelay, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats: connect: %w", err)
	}
	return &NATSRelay{nc: nc, subject: subject, logger: logger}, nil
}

// Publish sends env to every subscribed instance.
func (r *NATSRelay) Publish(_ context.Context, env Envelope) error {
	data, err := encode(env)
	if err != nil {
		return err
	}
	if err := r.nc.Publish(r.subject, data); err != nil {
		return fmt.Errorf("nats: publish: %w", err)
	}
	return nil
}

// Subscribe delivers every envelope on the subject to handler.
func (r *NATSRelay) Subscribe(_ context.Context, handler Handler) error {
	sub, err := r.nc.Subscribe(r.subject, func(msg *nats.Msg) {
		env, err := decode(msg.Data)
		if err != nil {
			r.logger.Warn("dropping malformed envelope", zap.Error(err))
			return
		}
		handler(env)
	})
	if err != nil {
		return fmt.Errorf("nats: subscribe: %w", err)
	}
	r.mu.Lock()
	r.sub = sub
	r.mu.Unlock()
	return nil
}

// Close unsubscribes and drains the connection.
func (r *NATSRelay) Close() error {
	r.mu.Lock()
	sub := r.sub
	r.sub = nil
	r.mu.Unlock()
	if sub != nil {
		_ = sub.Unsubscribe()
	}
	return r.nc.Drain()
}
