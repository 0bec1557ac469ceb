package consume

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Exchange is the unit of work created for one delivered message.
//
// The inbound message is copied when the exchange is created and does not
// change afterwards. The failure slot is set at most once: SetFailure never
// overwrites an existing failure.
//
// An exchange belongs to a single dispatch. When it is processed on a pool,
// ownership moves to that one task.
type Exchange struct {
	id       string
	endpoint Endpoint
	in       Message
	created  time.Time

	mu          sync.Mutex
	out         *Message
	failure     error
	completions []Synchronization
	done        bool
}

// NewExchange creates an exchange for msg owned by endpoint. The message is
// deep-copied.
func NewExchange(endpoint Endpoint, msg Message) *Exchange {
	return &Exchange{
		id:       uuid.NewString(),
		endpoint: endpoint,
		in:       msg.Clone(),
		created:  time.Now(),
	}
}

// ID returns the unique exchange identifier.
func (e *Exchange) ID() string { return e.id }

// Endpoint returns the endpoint that received the message.
func (e *Exchange) Endpoint() Endpoint { return e.endpoint }

// Created returns the time the exchange was built.
func (e *Exchange) Created() time.Time { return e.created }

// In returns a copy of the inbound message.
func (e *Exchange) In() Message { return e.in.Clone() }

// Out returns the outbound message set by the processor, if any.
func (e *Exchange) Out() (Message, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.out == nil {
		return Message{}, false
	}
	return e.out.Clone(), true
}

// SetOut sets the outbound message, replacing any previous one.
func (e *Exchange) SetOut(msg Message) {
	c := msg.Clone()
	e.mu.Lock()
	e.out = &c
	e.mu.Unlock()
}

// Failure returns the recorded failure, or nil.
func (e *Exchange) Failure() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failure
}

// Failed reports whether a failure has been recorded.
func (e *Exchange) Failed() bool {
	return e.Failure() != nil
}

// SetFailure records err in the failure slot. It returns false, leaving the
// slot untouched, when err is nil or a failure is already recorded.
func (e *Exchange) SetFailure(err error) bool {
	if err == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failure != nil {
		return false
	}
	e.failure = err
	return true
}

// AddOnCompletion registers s to run when the exchange is done.
// Callbacks run in registration order.
func (e *Exchange) AddOnCompletion(s Synchronization) {
	e.mu.Lock()
	e.completions = append(e.completions, s)
	e.mu.Unlock()
}

// Completions returns the registered completion callbacks.
func (e *Exchange) Completions() []Synchronization {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.completions)
}

// Done completes the unit of work. Each registered Synchronization has
// OnFailure called if a failure is recorded, OnComplete otherwise. Only the
// first call runs the callbacks; later calls return nil.
//
// Done is called by whatever owns the transaction (a consumer kind such as
// InOnly, or an external transaction manager), never by the Dispatcher.
func (e *Exchange) Done(ctx context.Context) error {
	e.mu.Lock()
	if e.done {
		e.mu.Unlock()
		return nil
	}
	e.done = true
	failed := e.failure != nil
	completions := slices.Clone(e.completions)
	e.mu.Unlock()

	var errs []error
	for _, s := range completions {
		var err error
		if failed {
			err = s.OnFailure(ctx, e)
		} else {
			err = s.OnComplete(ctx, e)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
