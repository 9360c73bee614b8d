package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"confhub.org/internal/ids"
	"confhub.org/internal/obs"
)

// AMQPConfig names the broker endpoint and routing.
type AMQPConfig struct {
	URL      string
	Exchange string
	Queue    string
}

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPPublisher enqueues messages on a durable queue for the notifier worker.
type AMQPPublisher struct {
	mu       sync.Mutex
	ch       publisher
	closers  []func() error
	exchange string
	queue    string
	now      func() time.Time
}

// DialPublisher connects to the broker and declares the notification queue.
func DialPublisher(cfg AMQPConfig) (*AMQPPublisher, error) {
	conn, ch, err := dial(cfg)
	if err != nil {
		return nil, err
	}
	p := newPublisher(ch, cfg.Exchange, cfg.Queue)
	p.closers = []func() error{ch.Close, conn.Close}
	obs.Logger().Info().Str("queue", cfg.Queue).Str("exchange", cfg.Exchange).Msg("amqp publisher ready")
	return p, nil
}

func newPublisher(ch publisher, exchange, queue string) *AMQPPublisher {
	return &AMQPPublisher{ch: ch, exchange: exchange, queue: queue, now: time.Now}
}

// Dispatch publishes msg as a persistent JSON message.
func (p *AMQPPublisher) Dispatch(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	if msg.ID == "" {
		msg.ID = ids.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = p.now().UTC()
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notify: encode message: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, p.exchange, p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Type:         string(msg.Kind),
		Timestamp:    msg.CreatedAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("notify: publish: %w", err)
	}
	return nil
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() error {
	var errs []error
	for _, c := range p.closers {
		if err := c(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func dial(cfg AMQPConfig) (*amqp.Connection, *amqp.Channel, error) {
	if cfg.Queue == "" {
		return nil, nil, errors.New("notify: amqp queue is required")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("notify: dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("notify: open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("notify: declare queue: %w", err)
	}
	if cfg.Exchange != "" {
		if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, nil, fmt.Errorf("notify: declare exchange: %w", err)
		}
		if err := ch.QueueBind(cfg.Queue, cfg.Queue, cfg.Exchange, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, nil, fmt.Errorf("notify: bind queue: %w", err)
		}
	}
	return conn, ch, nil
}
