package rabbitmq

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/bjaus/consume"
)

// ErrNoDeliveryTag is returned when an exchange was not built from a
// delivery converted by ToMessage.
var ErrNoDeliveryTag = errors.New("exchange has no delivery tag")

// NewSynchronization returns a consume.Synchronization that treats
// acknowledgment as the transaction.
//
// On commit, every delivery up to the exchange's delivery tag is acked. On
// rollback, every unacknowledged delivery up to the tag is nacked and
// requeued. With BatchCommitStrategy this acks a whole batch at once, and a
// failure sends the uncommitted part of the batch back to the queue.
//
// ack is normally the *amqp.Channel the deliveries came from. A nil strategy
// means consume.DefaultCommitStrategy.
func NewSynchronization(ack amqp.Acknowledger, strategy consume.CommitStrategy) consume.Synchronization {
	if strategy == nil {
		strategy = consume.DefaultCommitStrategy()
	}
	return &synchronization{ack: ack, strategy: strategy}
}

type synchronization struct {
	ack      amqp.Acknowledger
	strategy consume.CommitStrategy
}

func (s *synchronization) OnComplete(_ context.Context, ex *consume.Exchange) error {
	tag, ok := DeliveryTag(ex.In())
	if !ok {
		return fmt.Errorf("commit exchange %s: %w", ex.ID(), ErrNoDeliveryTag)
	}
	if !s.strategy.Commit(ex) {
		return nil
	}
	if err := s.ack.Ack(tag, true); err != nil {
		return fmt.Errorf("ack delivery %d: %w", tag, err)
	}
	return nil
}

func (s *synchronization) OnFailure(_ context.Context, ex *consume.Exchange) error {
	tag, ok := DeliveryTag(ex.In())
	if !ok {
		return fmt.Errorf("rollback exchange %s: %w", ex.ID(), ErrNoDeliveryTag)
	}
	if !s.strategy.Rollback(ex) {
		return nil
	}
	if err := s.ack.Nack(tag, true, true); err != nil {
		return fmt.Errorf("nack delivery %d: %w", tag, err)
	}
	return nil
}
