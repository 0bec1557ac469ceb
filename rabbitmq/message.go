// Package rabbitmq connects amqp091-go deliveries to a consume.Dispatcher.
//
// The package does not manage connections or channels. Callers dial, open a
// channel, declare and consume a queue, then hand the delivery channel to a
// Consumer:
//
//	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
//	if err != nil {
//	    return err
//	}
//	c := rabbitmq.NewConsumer(dispatcher, rabbitmq.WithLogger(logger))
//	return c.Consume(ctx, deliveries)
//
// For transacted dispatch, NewSynchronization acknowledges deliveries when
// the unit of work commits and requeues them when it rolls back. Otherwise
// AckOnOutcome acknowledges each delivery after it has been processed.
package rabbitmq

import (
	"slices"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/bjaus/consume"
)

// Header keys set by ToMessage alongside the delivery's own headers.
const (
	HeaderDeliveryTag = "amqp.delivery_tag"
	HeaderExchange    = "amqp.exchange"
	HeaderRoutingKey  = "amqp.routing_key"
	HeaderConsumerTag = "amqp.consumer_tag"
	HeaderType        = "amqp.type"
	HeaderAppID       = "amqp.app_id"
)

// ToMessage converts a delivery into a consume.Message. The body and headers
// are copied. Nested tables become map[string]any and field arrays become
// []any, so header values never point into the delivery.
func ToMessage(d amqp.Delivery) consume.Message {
	headers := make(map[string]any, len(d.Headers)+6)
	for k, v := range d.Headers {
		headers[k] = fromField(v)
	}
	headers[HeaderDeliveryTag] = d.DeliveryTag
	headers[HeaderExchange] = d.Exchange
	headers[HeaderRoutingKey] = d.RoutingKey
	headers[HeaderConsumerTag] = d.ConsumerTag
	if d.Type != "" {
		headers[HeaderType] = d.Type
	}
	if d.AppId != "" {
		headers[HeaderAppID] = d.AppId
	}

	return consume.Message{
		ID:            d.MessageId,
		CorrelationID: d.CorrelationId,
		ReplyTo:       d.ReplyTo,
		Destination:   d.RoutingKey,
		ContentType:   d.ContentType,
		Timestamp:     d.Timestamp,
		Redelivered:   d.Redelivered,
		Headers:       headers,
		Body:          slices.Clone(d.Body),
	}
}

func fromField(v any) any {
	switch v := v.(type) {
	case amqp.Table:
		m := make(map[string]any, len(v))
		for k, e := range v {
			m[k] = fromField(e)
		}
		return m
	case map[string]any:
		return fromField(amqp.Table(v))
	case []any:
		a := make([]any, len(v))
		for i, e := range v {
			a[i] = fromField(e)
		}
		return a
	case []byte:
		return slices.Clone(v)
	default:
		return v
	}
}

// DeliveryTag returns the delivery tag recorded by ToMessage.
func DeliveryTag(msg consume.Message) (uint64, bool) {
	v, ok := msg.Header(HeaderDeliveryTag)
	if !ok {
		return 0, false
	}
	tag, ok := v.(uint64)
	return tag, ok
}
