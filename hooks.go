package consume

import (
	"context"
	"time"
)

// Mode is the execution path chosen for an exchange.
type Mode int

const (
	// ModeInline processes on the delivery goroutine.
	ModeInline Mode = iota
	// ModePooled processes on a pool worker.
	ModePooled
)

func (m Mode) String() string {
	switch m {
	case ModeInline:
		return "inline"
	case ModePooled:
		return "pooled"
	default:
		return "unknown"
	}
}

// OnDeliverFunc is called after an exchange is built from a delivered
// message. Use this to enrich the context with logging fields or trace spans.
// The returned context is used for the rest of the dispatch.
type OnDeliverFunc func(ctx context.Context, ex *Exchange) context.Context

// OnRouteFunc is called just before the processor runs, on the goroutine
// that runs it.
type OnRouteFunc func(ctx context.Context, ex *Exchange, mode Mode)

// OnSuccessFunc is called after the processor completes without a failure.
type OnSuccessFunc func(ctx context.Context, ex *Exchange, duration time.Duration)

// OnFailureFunc is called after the processor returns an error or leaves a
// failure on the exchange.
type OnFailureFunc func(ctx context.Context, ex *Exchange, err error, duration time.Duration)

// OnBuildErrorFunc is called when a message cannot be built into an exchange.
// The error is still returned from OnDeliver.
type OnBuildErrorFunc func(ctx context.Context, msg Message, err error)

// OnSkipFunc is called when the selector rejects an exchange.
type OnSkipFunc func(ctx context.Context, ex *Exchange)

// hooks holds all configured hook functions.
type hooks struct {
	onDeliver    []OnDeliverFunc
	onRoute      []OnRouteFunc
	onSuccess    []OnSuccessFunc
	onFailure    []OnFailureFunc
	onBuildError []OnBuildErrorFunc
	onSkip       []OnSkipFunc
}

// WithOnDeliver adds a hook called after an exchange is built.
// Multiple hooks are called in order, with context chaining through each.
//
// Example:
//
//	consume.WithOnDeliver(func(ctx context.Context, ex *consume.Exchange) context.Context {
//	    return logx.WithCtx(ctx, slog.String("exchange_id", ex.ID()))
//	})
func WithOnDeliver(fn OnDeliverFunc) Option {
	return func(d *Dispatcher) {
		d.hooks.onDeliver = append(d.hooks.onDeliver, fn)
	}
}

// WithOnRoute adds a hook called just before the processor runs.
// Multiple hooks are called in order.
func WithOnRoute(fn OnRouteFunc) Option {
	return func(d *Dispatcher) {
		d.hooks.onRoute = append(d.hooks.onRoute, fn)
	}
}

// WithOnSuccess adds a hook called after successful processing.
// Multiple hooks are called in order.
//
// Example:
//
//	consume.WithOnSuccess(func(ctx context.Context, ex *consume.Exchange, d time.Duration) {
//	    metrics.Timing("consume.success", d, "endpoint:"+ex.Endpoint().Name)
//	})
func WithOnSuccess(fn OnSuccessFunc) Option {
	return func(d *Dispatcher) {
		d.hooks.onSuccess = append(d.hooks.onSuccess, fn)
	}
}

// WithOnFailure adds a hook called after failed processing.
// Multiple hooks are called in order.
//
// Example:
//
//	consume.WithOnFailure(func(ctx context.Context, ex *consume.Exchange, err error, d time.Duration) {
//	    metrics.Incr("consume.failure", "endpoint:"+ex.Endpoint().Name)
//	})
func WithOnFailure(fn OnFailureFunc) Option {
	return func(d *Dispatcher) {
		d.hooks.onFailure = append(d.hooks.onFailure, fn)
	}
}

// WithOnBuildError adds a hook called when a message cannot be built into
// an exchange. Multiple hooks are called in order.
func WithOnBuildError(fn OnBuildErrorFunc) Option {
	return func(d *Dispatcher) {
		d.hooks.onBuildError = append(d.hooks.onBuildError, fn)
	}
}

// WithOnSkip adds a hook called when the selector rejects an exchange.
// Multiple hooks are called in order.
func WithOnSkip(fn OnSkipFunc) Option {
	return func(d *Dispatcher) {
		d.hooks.onSkip = append(d.hooks.onSkip, fn)
	}
}

// OnSuccessHook is an optional interface that processors can implement to
// add processor-specific behavior on success. Called after global OnSuccess
// hooks.
type OnSuccessHook interface {
	OnSuccess(ctx context.Context, ex *Exchange, duration time.Duration)
}

// OnFailureHook is an optional interface that processors can implement to
// add processor-specific behavior on failure. Called after global OnFailure
// hooks.
type OnFailureHook interface {
	OnFailure(ctx context.Context, ex *Exchange, err error, duration time.Duration)
}
