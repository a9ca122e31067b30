// Package amqp publishes change events as JSON messages to a topic exchange
// on an AMQP 0-9-1 broker such as RabbitMQ. Routing keys have the form
// "{prefix}.{kind}.{address}" so consumers can bind per kind or per address.
package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gabapcia/addresswatch/internal/addrstate"
	"github.com/gabapcia/addresswatch/internal/pkg/logger"

	"github.com/streadway/amqp"
)

// DefaultExchange is the exchange events are published to.
const DefaultExchange = "addresswatch.events"

// publisher is the part of *amqp.Channel the sink uses.
type publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type sink struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       publisher
	open     func() (publisher, error)
	exchange string
	prefix   string
}

type config struct {
	exchange string
	prefix   string
}

// Option customizes the sink.
type Option func(*config)

// WithExchange sets the exchange name.
func WithExchange(name string) Option {
	return func(c *config) {
		c.exchange = name
	}
}

// WithRoutingPrefix sets the first routing key segment. Defaults to "addresswatch".
func WithRoutingPrefix(prefix string) Option {
	return func(c *config) {
		c.prefix = prefix
	}
}

// Dial connects to uri, declares a durable topic exchange and returns the sink.
func Dial(uri string, opts ...Option) (*sink, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}

	cfg := config{exchange: DefaultExchange, prefix: "addresswatch"}
	for _, opt := range opts {
		opt(&cfg)
	}

	open := func() (publisher, error) {
		ch, err := conn.Channel()
		if err != nil {
			return nil, err
		}
		if err := ch.ExchangeDeclare(cfg.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
			return nil, errors.Join(err, ch.Close())
		}
		return ch, nil
	}

	s, err := newSink(open, cfg)
	if err != nil {
		return nil, errors.Join(err, conn.Close())
	}
	s.conn = conn
	return s, nil
}

func newSink(open func() (publisher, error), cfg config) (*sink, error) {
	ch, err := open()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	return &sink{
		ch:       ch,
		open:     open,
		exchange: cfg.exchange,
		prefix:   cfg.prefix,
	}, nil
}

func (s *sink) Name() string { return "amqp" }

// RoutingKey returns the routing key of event.
func (s *sink) RoutingKey(event addrstate.ChangeEvent) string {
	return s.prefix + "." + string(event.Kind) + "." + event.Address
}

// Publish sends event as a persistent JSON message. A closed channel is
// reopened once before giving up.
func (s *sink) Publish(ctx context.Context, event addrstate.ChangeEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.DetectedAt,
		Headers:      amqp.Table{"x-user-id": event.UserID},
		Body:         body,
	}
	key := s.RoutingKey(event)

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.ch.Publish(s.exchange, key, false, false, msg)
	if !errors.Is(err, amqp.ErrClosed) {
		return err
	}

	logger.Warn(ctx, "amqp channel closed, reopening", "amqp.exchange", s.exchange)
	ch, err := s.open()
	if err != nil {
		return fmt.Errorf("reopen channel: %w", err)
	}
	s.ch = ch

	return s.ch.Publish(s.exchange, key, false, false, msg)
}

// Close closes the channel and the connection.
func (s *sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.ch.Close()
	if s.conn != nil {
		err = errors.Join(err, s.conn.Close())
	}
	return err
}
