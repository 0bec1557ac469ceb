package consume

import (
	"context"
	"log/slog"
	"time"
)

// Dispatcher receives delivered messages, builds an exchange for each, and
// runs the Processor either on the delivery goroutine or on a Pool.
//
// Usage:
//  1. Create a dispatcher with New
//  2. Call OnDeliver from the broker client's delivery loop
//
// The broker client must not call OnDeliver concurrently for one consumer.
// Separate dispatchers may run in parallel, and a Dispatcher's settings never
// change after New, so they can share a Pool and Synchronization.
type Dispatcher struct {
	endpoint  Endpoint
	processor Processor
	builder   Builder
	pool      Pool
	sync      Synchronization
	selector  Selector
	logger    *slog.Logger
	cfg       Config
	hooks     hooks
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// New creates a Dispatcher for endpoint that runs p for every message.
//
// By default the dispatcher is synchronous and not transacted, builds
// exchanges with DefaultBuilder and discards logs. It returns ErrNilProcessor
// for a nil p, and ErrNoPool when asynchronous processing is configured
// without WithPool.
//
// Example:
//
//	pool := consume.NewWorkerPool(8, logger)
//	d, err := consume.New(endpoint, consume.InOnly(proc),
//	    consume.WithSynchronous(false),
//	    consume.WithPool(pool),
//	    consume.WithLogger(logger),
//	)
func New(endpoint Endpoint, p Processor, opts ...Option) (*Dispatcher, error) {
	if p == nil {
		return nil, ErrNilProcessor
	}

	d := &Dispatcher{
		endpoint:  endpoint,
		processor: p,
		builder:   DefaultBuilder(),
		cfg:       DefaultConfig(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.New(slog.DiscardHandler)
	}
	d.logger = d.logger.With("endpoint", endpoint.String())

	if !d.inline() && d.pool == nil {
		return nil, ErrNoPool
	}
	return d, nil
}

// WithConfig replaces the dispatcher settings with cfg.
// Options applied after it override individual fields.
func WithConfig(cfg Config) Option {
	return func(d *Dispatcher) {
		d.cfg = cfg
	}
}

// WithTransacted enables transacted dispatch: the Synchronization is
// attached to every exchange and processing is always inline.
func WithTransacted(transacted bool) Option {
	return func(d *Dispatcher) {
		d.cfg.Transacted = transacted
	}
}

// WithSynchronous selects inline (true, the default) or pooled (false)
// processing for non-transacted dispatch.
func WithSynchronous(synchronous bool) Option {
	return func(d *Dispatcher) {
		d.cfg.Synchronous = synchronous
	}
}

// WithTopic marks the endpoint as a topic consumer.
func WithTopic(topic bool) Option {
	return func(d *Dispatcher) {
		d.cfg.Topic = topic
	}
}

// WithCommitStrategy sets the strategy carried for the transaction layer.
func WithCommitStrategy(s CommitStrategy) Option {
	return func(d *Dispatcher) {
		d.cfg.CommitStrategy = s
	}
}

// WithSynchronization sets the completion callback attached to every
// exchange when transacted.
func WithSynchronization(s Synchronization) Option {
	return func(d *Dispatcher) {
		d.sync = s
	}
}

// WithPool sets the pool used for asynchronous processing.
func WithPool(p Pool) Option {
	return func(d *Dispatcher) {
		d.pool = p
	}
}

// WithBuilder sets the Builder used to create exchanges.
func WithBuilder(b Builder) Option {
	return func(d *Dispatcher) {
		d.builder = b
	}
}

// WithSelector skips exchanges that do not match s.
func WithSelector(s Selector) Option {
	return func(d *Dispatcher) {
		d.selector = s
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// Endpoint returns the endpoint the dispatcher consumes for.
func (d *Dispatcher) Endpoint() Endpoint { return d.endpoint }

// Config returns the dispatcher settings.
func (d *Dispatcher) Config() Config { return d.cfg }

// Transacted reports whether dispatch is transacted.
func (d *Dispatcher) Transacted() bool { return d.cfg.Transacted }

// Synchronous reports whether processing runs on the delivery goroutine.
// A transacted dispatcher is always synchronous.
func (d *Dispatcher) Synchronous() bool { return d.inline() }

// Topic reports whether the endpoint is a topic consumer.
func (d *Dispatcher) Topic() bool { return d.cfg.Topic }

// CommitStrategy returns the configured commit strategy, or nil.
func (d *Dispatcher) CommitStrategy() CommitStrategy { return d.cfg.CommitStrategy }

// OnDeliver handles one delivered message.
//
// The dispatch flow:
//  1. Build an exchange with the Builder
//  2. Skip the exchange if a Selector is set and does not match
//  3. When transacted, attach the Synchronization
//  4. Run the Processor inline, or submit it to the Pool
//
// A processing failure is recorded on the exchange and OnDeliver returns
// nil. OnDeliver returns a *DispatchError only when the failure cannot be
// recorded: the message could not be built, or the exchange already carried
// a failure. Failures in pooled processing never reach the caller; they are
// recorded on the exchange and logged.
func (d *Dispatcher) OnDeliver(ctx context.Context, msg Message) error {
	ex, err := d.build(msg)
	if err != nil {
		d.callOnBuildError(ctx, msg, err)
		d.logger.ErrorContext(ctx, "build exchange failed", "message_id", msg.ID, "error", err)
		return &DispatchError{Err: err}
	}

	ctx = d.callOnDeliver(ctx, ex)

	log := d.logger.With("exchange_id", ex.ID())
	log.DebugContext(ctx, "processing exchange")

	if d.selector != nil && !d.selector.Match(ex) {
		log.DebugContext(ctx, "exchange skipped by selector")
		d.callOnSkip(ctx, ex)
		return nil
	}

	if d.cfg.Transacted && d.sync != nil {
		ex.AddOnCompletion(d.sync)
	}

	if err := d.route(ctx, ex, log); err != nil {
		if ex.SetFailure(err) {
			return nil
		}
		log.ErrorContext(ctx, "exchange already failed, propagating error",
			"error", err, "failure", ex.Failure())
		return &DispatchError{ExchangeID: ex.ID(), Err: err}
	}
	return nil
}

func (d *Dispatcher) build(msg Message) (*Exchange, error) {
	ex, err := d.builder.Build(msg, d.endpoint)
	if err == nil && ex == nil {
		err = ErrNilExchange
	}
	if err != nil {
		return nil, &BuildError{Endpoint: d.endpoint.String(), MessageID: msg.ID, Err: err}
	}
	return ex, nil
}

func (d *Dispatcher) inline() bool {
	return d.cfg.Transacted || d.cfg.Synchronous
}

// route runs the processor inline and returns its failure, or submits it to
// the pool and returns once submitted.
func (d *Dispatcher) route(ctx context.Context, ex *Exchange, log *slog.Logger) error {
	if d.inline() {
		log.DebugContext(ctx, "handling synchronous message", "body_size", len(ex.in.Body))
		return d.invoke(ctx, ex, ModeInline)
	}

	log.DebugContext(ctx, "handling asynchronous message", "body_size", len(ex.in.Body))

	// In-flight work outlives the delivery, so it must not see the
	// delivery's cancellation.
	taskCtx := context.WithoutCancel(ctx)
	return d.pool.Submit(func() {
		err := d.invoke(taskCtx, ex, ModePooled)
		if err == nil {
			return
		}
		if !ex.SetFailure(err) {
			log.ErrorContext(taskCtx, "asynchronous processing failed on already failed exchange",
				"error", err, "failure", ex.Failure())
			return
		}
		log.ErrorContext(taskCtx, "asynchronous processing failed", "error", err)
	})
}

// invoke runs the processor with hooks, converting a panic into an error.
func (d *Dispatcher) invoke(ctx context.Context, ex *Exchange, mode Mode) error {
	d.callOnRoute(ctx, ex, mode)

	start := time.Now()
	err := safeProcess(ctx, d.processor, ex)
	duration := time.Since(start)

	if err != nil {
		err = &ProcessingError{ExchangeID: ex.ID(), Err: err}
		d.callOnFailure(ctx, ex, err, duration)
		return err
	}
	if failure := ex.Failure(); failure != nil {
		d.callOnFailure(ctx, ex, failure, duration)
		return nil
	}
	d.callOnSuccess(ctx, ex, duration)
	return nil
}

// callOnDeliver calls OnDeliver hooks.
func (d *Dispatcher) callOnDeliver(ctx context.Context, ex *Exchange) context.Context {
	for _, fn := range d.hooks.onDeliver {
		ctx = fn(ctx, ex)
	}
	return ctx
}

// callOnRoute calls OnRoute hooks.
func (d *Dispatcher) callOnRoute(ctx context.Context, ex *Exchange, mode Mode) {
	for _, fn := range d.hooks.onRoute {
		fn(ctx, ex, mode)
	}
}

// callOnSuccess calls global and processor OnSuccess hooks.
func (d *Dispatcher) callOnSuccess(ctx context.Context, ex *Exchange, duration time.Duration) {
	for _, fn := range d.hooks.onSuccess {
		fn(ctx, ex, duration)
	}
	if h, ok := d.processor.(OnSuccessHook); ok {
		h.OnSuccess(ctx, ex, duration)
	}
}

// callOnFailure calls global and processor OnFailure hooks.
func (d *Dispatcher) callOnFailure(ctx context.Context, ex *Exchange, err error, duration time.Duration) {
	for _, fn := range d.hooks.onFailure {
		fn(ctx, ex, err, duration)
	}
	if h, ok := d.processor.(OnFailureHook); ok {
		h.OnFailure(ctx, ex, err, duration)
	}
}

func (d *Dispatcher) callOnBuildError(ctx context.Context, msg Message, err error) {
	for _, fn := range d.hooks.onBuildError {
		fn(ctx, msg, err)
	}
}

func (d *Dispatcher) callOnSkip(ctx context.Context, ex *Exchange) {
	for _, fn := range d.hooks.onSkip {
		fn(ctx, ex)
	}
}
