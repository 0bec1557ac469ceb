package rabbitmq

import (
	"context"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/bjaus/consume"
)

// Listener receives converted messages. *consume.Dispatcher implements it.
type Listener interface {
	OnDeliver(ctx context.Context, msg consume.Message) error
}

// AckMode controls whether the Consumer acknowledges deliveries itself.
type AckMode int

const (
	// AckAfterDeliver acks a delivery when OnDeliver returns nil and nacks it
	// when OnDeliver returns an error. Failures recorded on the exchange do
	// not make OnDeliver fail, so those deliveries are acked.
	AckAfterDeliver AckMode = iota

	// AckNone leaves acknowledgment to someone else: the broker (auto-ack
	// consumption) or a Synchronization from NewSynchronization.
	AckNone
)

// Consumer feeds deliveries to a Listener one at a time.
type Consumer struct {
	listener Listener
	logger   *slog.Logger
	ackMode  AckMode
	requeue  bool
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithLogger sets the structured logger. The default discards.
func WithLogger(l *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = l
	}
}

// WithAckMode sets the acknowledgment mode. The default is AckAfterDeliver.
func WithAckMode(m AckMode) ConsumerOption {
	return func(c *Consumer) {
		c.ackMode = m
	}
}

// WithRequeue sets whether deliveries nacked after a failed OnDeliver are
// requeued. The default is true.
func WithRequeue(requeue bool) ConsumerOption {
	return func(c *Consumer) {
		c.requeue = requeue
	}
}

// NewConsumer creates a Consumer that delivers to l.
func NewConsumer(l Listener, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		listener: l,
		ackMode:  AckAfterDeliver,
		requeue:  true,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Consume reads deliveries until the channel is closed or ctx is done.
// Each delivery is converted with ToMessage and passed to the listener
// before the next one is read.
//
// It returns nil when deliveries is closed and ctx.Err() when ctx is done.
func (c *Consumer) Consume(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			c.logger.DebugContext(ctx, "context canceled, stopping consumer")
			return ctx.Err()

		case d, ok := <-deliveries:
			if !ok {
				c.logger.DebugContext(ctx, "delivery channel closed")
				return nil
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	err := c.listener.OnDeliver(ctx, ToMessage(d))
	if err != nil {
		c.logger.ErrorContext(ctx, "delivery failed",
			"delivery_tag", d.DeliveryTag,
			"routing_key", d.RoutingKey,
			"error", err,
		)
	}

	if c.ackMode != AckAfterDeliver {
		return
	}

	if err != nil {
		if nerr := d.Nack(false, c.requeue); nerr != nil {
			c.logger.ErrorContext(ctx, "failed to nack delivery", "delivery_tag", d.DeliveryTag, "error", nerr)
		}
		return
	}
	if aerr := d.Ack(false); aerr != nil {
		c.logger.ErrorContext(ctx, "failed to ack delivery", "delivery_tag", d.DeliveryTag, "error", aerr)
	}
}
