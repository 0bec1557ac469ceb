package consume

import (
	"slices"
	"time"
)

// Message is a message as delivered by the broker client.
//
// Broker adapters convert their native delivery type into a Message before
// calling Dispatcher.OnDeliver. See the rabbitmq package for an example.
type Message struct {
	// ID is the broker-assigned message identifier, if any.
	ID string

	// CorrelationID links a reply to its request.
	CorrelationID string

	// ReplyTo is the destination replies should be sent to.
	// Request-reply consumers (InOut) use it; it is empty for one-way messages.
	ReplyTo string

	// Destination is the queue or topic the message was delivered from.
	Destination string

	// ContentType describes the body encoding, e.g. "application/json".
	ContentType string

	// Timestamp is the time the message was produced.
	Timestamp time.Time

	// Redelivered is true when the broker has delivered this message before.
	Redelivered bool

	// Headers are the application and broker properties of the message.
	Headers map[string]any

	// Body is the raw payload.
	Body []byte
}

// Header returns the header value for key.
func (m Message) Header(key string) (any, bool) {
	v, ok := m.Headers[key]
	return v, ok
}

// Clone returns a copy of m that shares no memory with it. Nested header
// maps and slices are copied too.
func (m Message) Clone() Message {
	c := m
	c.Headers = cloneHeaders(m.Headers)
	c.Body = slices.Clone(m.Body)
	return c
}

func cloneHeaders(h map[string]any) map[string]any {
	if h == nil {
		return nil
	}
	c := make(map[string]any, len(h))
	for k, v := range h {
		c[k] = cloneValue(v)
	}
	return c
}

// cloneValue copies the header value shapes that carry shared memory.
// Anything else is a plain value and is returned as is.
func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return cloneHeaders(v)
	case []any:
		c := make([]any, len(v))
		for i, e := range v {
			c[i] = cloneValue(e)
		}
		return c
	case []byte:
		return slices.Clone(v)
	default:
		return v
	}
}

// Endpoint identifies the consumer endpoint that owns a dispatcher.
// Endpoint URI parsing happens elsewhere; the dispatcher only carries it.
type Endpoint struct {
	// Name identifies the endpoint in logs and hooks.
	Name string

	// Destination is the queue or topic consumed by the endpoint.
	Destination string
}

func (e Endpoint) String() string {
	if e.Destination == "" {
		return e.Name
	}
	return e.Name + ":" + e.Destination
}
