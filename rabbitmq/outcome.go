package rabbitmq

import (
	"context"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/bjaus/consume"
)

// AckOnOutcome returns dispatcher options that acknowledge each delivery
// once its exchange has been processed, for non-transacted dispatch with a
// Consumer in AckNone mode.
//
// A successful or skipped exchange is acked. An exchange that failed, by a
// returned error or a recorded one, is nacked with requeue. A message that
// could not be built is nacked without requeue so it goes to the dead
// letter exchange instead of looping.
//
// Unlike AckAfterDeliver, this waits for pooled processing to finish and
// sees failures that the dispatcher absorbed into the exchange.
func AckOnOutcome(ack amqp.Acknowledger, requeue bool, logger *slog.Logger) []consume.Option {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	o := outcome{ack: ack, requeue: requeue, logger: logger}

	return []consume.Option{
		consume.WithOnSuccess(func(ctx context.Context, ex *consume.Exchange, _ time.Duration) {
			o.settle(ctx, ex.In(), true, false)
		}),
		consume.WithOnFailure(func(ctx context.Context, ex *consume.Exchange, _ error, _ time.Duration) {
			o.settle(ctx, ex.In(), false, o.requeue)
		}),
		consume.WithOnSkip(func(ctx context.Context, ex *consume.Exchange) {
			o.settle(ctx, ex.In(), true, false)
		}),
		consume.WithOnBuildError(func(ctx context.Context, msg consume.Message, _ error) {
			o.settle(ctx, msg, false, false)
		}),
	}
}

type outcome struct {
	ack     amqp.Acknowledger
	requeue bool
	logger  *slog.Logger
}

func (o outcome) settle(ctx context.Context, msg consume.Message, ok, requeue bool) {
	tag, found := DeliveryTag(msg)
	if !found {
		o.logger.ErrorContext(ctx, "cannot acknowledge message without delivery tag", "message_id", msg.ID)
		return
	}

	var err error
	if ok {
		err = o.ack.Ack(tag, false)
	} else {
		err = o.ack.Nack(tag, false, requeue)
	}
	if err != nil {
		o.logger.ErrorContext(ctx, "failed to settle delivery", "delivery_tag", tag, "ack", ok, "error", err)
	}
}
