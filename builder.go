package consume

import (
	"github.com/tidwall/gjson"
)

// Builder converts a delivered message into an Exchange.
//
// Implementations must not keep references into msg after Build returns;
// NewExchange copies the message for that reason. A Build error is fatal to
// the delivery: OnDeliver returns it wrapped in a *BuildError.
type Builder interface {
	Build(msg Message, endpoint Endpoint) (*Exchange, error)
}

// BuilderFunc is a function adapter for Builder.
type BuilderFunc func(msg Message, endpoint Endpoint) (*Exchange, error)

// Build implements the Builder interface.
func (f BuilderFunc) Build(msg Message, endpoint Endpoint) (*Exchange, error) {
	return f(msg, endpoint)
}

// DefaultBuilder returns a Builder that copies the message into a new
// Exchange. It never fails.
func DefaultBuilder() Builder {
	return BuilderFunc(func(msg Message, endpoint Endpoint) (*Exchange, error) {
		return NewExchange(endpoint, msg), nil
	})
}

// JSONBuilder returns a Builder that requires the message body to be valid
// JSON. Each path in promote is looked up in the body with gjson syntax and,
// when present, copied into the exchange headers under the same name. An
// existing header is never replaced.
//
// Example:
//
//	// {"type": "order/created", "tenant": {"id": "t1"}}
//	consume.JSONBuilder("type", "tenant.id")
//	// headers: type=order/created, tenant.id=t1
func JSONBuilder(promote ...string) Builder {
	return jsonBuilder{promote: promote}
}

type jsonBuilder struct {
	promote []string
}

func (b jsonBuilder) Build(msg Message, endpoint Endpoint) (*Exchange, error) {
	if !gjson.ValidBytes(msg.Body) {
		return nil, ErrInvalidJSON
	}
	if len(b.promote) == 0 {
		return NewExchange(endpoint, msg), nil
	}

	headers := make(map[string]any, len(msg.Headers)+len(b.promote))
	for k, v := range msg.Headers {
		headers[k] = v
	}
	for i, r := range gjson.GetManyBytes(msg.Body, b.promote...) {
		if !r.Exists() {
			continue
		}
		if _, ok := headers[b.promote[i]]; ok {
			continue
		}
		headers[b.promote[i]] = r.Value()
	}

	// NewExchange clones the headers again; msg is a copy so this does not
	// touch the caller's map.
	msg.Headers = headers
	return NewExchange(endpoint, msg), nil
}
