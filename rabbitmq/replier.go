package rabbitmq

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/bjaus/consume"
)

// HeaderError carries the failure text on failure replies.
const HeaderError = "error"

// Publisher publishes messages. *amqp.Channel implements it.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Replier sends request-reply responses through the default exchange to the
// request's ReplyTo queue. Use it with consume.InOut.
type Replier struct {
	pub Publisher
}

// NewReplier creates a Replier publishing with pub.
func NewReplier(pub Publisher) *Replier {
	return &Replier{pub: pub}
}

// Reply publishes the exchange's out message. An exchange without an out
// message gets an empty reply so the requester is not left waiting.
func (r *Replier) Reply(ctx context.Context, ex *consume.Exchange) error {
	out, _ := ex.Out()
	p := r.publishing(ex)
	p.ContentType = out.ContentType
	p.Body = out.Body
	for k, v := range out.Headers {
		p.Headers[k] = v
	}
	return r.pub.PublishWithContext(ctx, "", ex.In().ReplyTo, false, false, p)
}

// Fail publishes an empty reply with the failure in HeaderError.
func (r *Replier) Fail(ctx context.Context, ex *consume.Exchange, err error) error {
	p := r.publishing(ex)
	p.Headers[HeaderError] = err.Error()
	return r.pub.PublishWithContext(ctx, "", ex.In().ReplyTo, false, false, p)
}

func (r *Replier) publishing(ex *consume.Exchange) amqp.Publishing {
	in := ex.In()
	correlationID := in.CorrelationID
	if correlationID == "" {
		correlationID = in.ID
	}
	return amqp.Publishing{
		Headers:       amqp.Table{},
		CorrelationId: correlationID,
		Timestamp:     time.Now(),
	}
}

var _ consume.Replier = (*Replier)(nil)
