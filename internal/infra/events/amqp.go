// Package events publishes committed domain events to RabbitMQ or to the log.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"crm-licensing/internal/domain/model"
	"crm-licensing/internal/domain/ports/adapter"
)

var _ adapter.EventPublisher = (*AMQPPublisher)(nil)

// channel is the subset of *amqp.Channel the publisher drives.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// dialer opens a connection and channel; the returned closer releases both.
type dialer func(url string) (channel, func() error, error)

func dialAMQP(url string) (channel, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open broker channel: %w", err)
	}
	return ch, conn.Close, nil
}

// AMQPPublisher sends each event to a durable topic exchange, routed by event
// type, so consumers bind on patterns such as "subscription.#".
type AMQPPublisher struct {
	url      string
	exchange string
	dial     dialer
	log      *zerolog.Logger

	mu        sync.Mutex
	ch        channel
	closeConn func() error
}

func NewAMQPPublisher(url, exchange string, logger *zerolog.Logger) (*AMQPPublisher, error) {
	return newAMQPPublisher(url, exchange, dialAMQP, logger)
}

func newAMQPPublisher(url, exchange string, dial dialer, logger *zerolog.Logger) (*AMQPPublisher, error) {
	l := logger.With().Str("component", "amqp_publisher").Str("exchange", exchange).Logger()
	p := &AMQPPublisher{url: url, exchange: exchange, dial: dial, log: &l}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

// connect must be called with mu held or before the publisher is shared.
func (p *AMQPPublisher) connect() error {
	ch, closeConn, err := p.dial(p.url)
	if err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(
		p.exchange, // name
		"topic",    // type
		true,       // durable
		false,      // auto-deleted
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	); err != nil {
		_ = ch.Close()
		_ = closeConn()
		return fmt.Errorf("declare exchange %s: %w", p.exchange, err)
	}
	p.ch, p.closeConn = ch, closeConn
	return nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, ev model.DomainEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", ev.ID, err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Type:         ev.Type,
		Timestamp:    ev.OccurredAt,
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.ch == nil {
		if err := p.connect(); err != nil {
			return err
		}
	}
	err = p.ch.Publish(p.exchange, ev.Type, false, false, msg)
	if err == nil {
		return nil
	}

	// one reconnect attempt; the broker drops channels on restarts
	p.log.Warn().Err(err).Str("event_id", ev.ID).Msg("publish failed, reconnecting")
	p.release()
	if err := p.connect(); err != nil {
		return err
	}
	return p.ch.Publish(p.exchange, ev.Type, false, false, msg)
}

func (p *AMQPPublisher) release() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.closeConn != nil {
		_ = p.closeConn()
		p.closeConn = nil
	}
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.release()
	return nil
}
