package consume

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
)

// Processor is the processing step run for every exchange.
//
// A Processor may record a failure on the exchange with SetFailure, return
// an error, or both. The Dispatcher handles each case: see OnDeliver.
//
// Example:
//
//	p := consume.ProcessorFunc(func(ctx context.Context, ex *consume.Exchange) error {
//	    var order Order
//	    if err := json.Unmarshal(ex.In().Body, &order); err != nil {
//	        return err
//	    }
//	    return store.Save(ctx, order)
//	})
type Processor interface {
	Process(ctx context.Context, ex *Exchange) error
}

// ProcessorFunc is a function adapter for Processor.
type ProcessorFunc func(ctx context.Context, ex *Exchange) error

// Process implements the Processor interface.
func (f ProcessorFunc) Process(ctx context.Context, ex *Exchange) error {
	return f(ctx, ex)
}

// safeProcess runs p and reports a panic as a *PanicError.
func safeProcess(ctx context.Context, p Processor, ex *Exchange) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return p.Process(ctx, ex)
}

// InOnly wraps p as a one-way consumer, used for queues and topics.
//
// It runs p, records a returned error on the exchange, and then completes
// the unit of work with Exchange.Done so completion callbacks (commit or
// rollback) run. A panic in p is recorded as a *PanicError and the unit of
// work still completes. If the failure slot was already occupied, the
// returned error is passed on instead of being dropped.
func InOnly(p Processor) Processor {
	return inOnly{next: p}
}

type inOnly struct {
	next Processor
}

func (c inOnly) Process(ctx context.Context, ex *Exchange) error {
	err := safeProcess(ctx, c.next, ex)
	if ex.SetFailure(err) {
		err = nil
	}
	return errors.Join(err, ex.Done(ctx))
}

// Replier sends the result of a request-reply exchange back to the
// requester's ReplyTo destination.
type Replier interface {
	// Reply sends the exchange's out message.
	Reply(ctx context.Context, ex *Exchange) error

	// Fail sends a failure response carrying err.
	Fail(ctx context.Context, ex *Exchange, err error) error
}

// InOut wraps p as a request-reply consumer.
//
// After p runs, the out message is sent with r.Reply, or the failure with
// r.Fail. Messages without a ReplyTo are handled as InOnly. The unit of
// work is then completed with Exchange.Done. A panic in p is recorded and
// answered with r.Fail like a returned error.
func InOut(p Processor, r Replier) Processor {
	return inOut{next: p, replier: r}
}

type inOut struct {
	next    Processor
	replier Replier
}

func (c inOut) Process(ctx context.Context, ex *Exchange) error {
	err := safeProcess(ctx, c.next, ex)
	if ex.SetFailure(err) {
		err = nil
	}

	if ex.in.ReplyTo != "" {
		var rerr error
		if failure := ex.Failure(); failure != nil {
			rerr = c.replier.Fail(ctx, ex, failure)
		} else {
			rerr = c.replier.Reply(ctx, ex)
		}
		if rerr != nil {
			rerr = fmt.Errorf("reply to %s: %w", ex.in.ReplyTo, rerr)
			// A reply that never left is a failed exchange.
			if ex.SetFailure(rerr) {
				rerr = nil
			}
		}
		err = errors.Join(err, rerr)
	}

	return errors.Join(err, ex.Done(ctx))
}
