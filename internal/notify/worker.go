package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"confhub.org/internal/obs"
)

// Worker drains the notification queue and hands each message to a sender.
type Worker struct {
	sender  Dispatcher
	closers []func() error
	consume func() (<-chan amqp.Delivery, error)
}

// DialWorker connects to the broker with manual acknowledgements and a prefetch of prefetch.
func DialWorker(cfg AMQPConfig, sender Dispatcher, prefetch int) (*Worker, error) {
	conn, ch, err := dial(cfg)
	if err != nil {
		return nil, err
	}
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("notify: set qos: %w", err)
		}
	}
	w := NewWorker(sender, func() (<-chan amqp.Delivery, error) {
		return ch.Consume(cfg.Queue, "confhub-notifier", false, false, false, false, nil)
	})
	w.closers = []func() error{ch.Close, conn.Close}
	return w, nil
}

// NewWorker builds a worker over an arbitrary delivery source.
func NewWorker(sender Dispatcher, consume func() (<-chan amqp.Delivery, error)) *Worker {
	return &Worker{sender: sender, consume: consume}
}

// Run processes deliveries until ctx is cancelled or the delivery channel closes.
func (w *Worker) Run(ctx context.Context) error {
	deliveries, err := w.consume()
	if err != nil {
		return fmt.Errorf("notify: consume: %w", err)
	}
	obs.Logger().Info().Msg("notifier consuming")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("notify: delivery channel closed")
			}
			w.handle(ctx, d)
		}
	}
}

// handle acks on success, requeues a first failure once, and drops undecodable messages.
func (w *Worker) handle(ctx context.Context, d amqp.Delivery) {
	var msg Message
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		obs.Logger().Error().Err(err).Str("message_id", d.MessageId).Msg("drop undecodable notification")
		_ = d.Nack(false, false)
		return
	}
	err := w.sender.Dispatch(ctx, msg)
	obs.ObserveNotification(string(msg.Kind), err)
	if err != nil {
		requeue := !d.Redelivered
		obs.Logger().Warn().Err(err).
			Str("notification_id", msg.ID).
			Str("kind", string(msg.Kind)).
			Bool("requeue", requeue).
			Msg("notification delivery failed")
		_ = d.Nack(false, requeue)
		return
	}
	_ = d.Ack(false)
}

// Close releases the channel and connection.
func (w *Worker) Close() error {
	var errs []error
	for _, c := range w.closers {
		if err := c(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
