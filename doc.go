// Package consume dispatches messages delivered by a broker client to a
// processing step.
//
// Each delivered message becomes an Exchange: a unit of work carrying a copy
// of the message, an optional reply, a single failure slot and the completion
// callbacks that drive commit or rollback. The Dispatcher runs the Processor
// for the exchange either on the delivery goroutine or on a worker pool, and
// decides which failures are recorded on the exchange and which are returned
// to the broker client.
//
// # Quick Start
//
// Write a processor:
//
//	proc := consume.ProcessorFunc(func(ctx context.Context, ex *consume.Exchange) error {
//	    var order Order
//	    if err := json.Unmarshal(ex.In().Body, &order); err != nil {
//	        return err
//	    }
//	    return orders.Save(ctx, order)
//	})
//
// Create a dispatcher for an endpoint and call it from the delivery loop:
//
//	d, err := consume.New(consume.Endpoint{Name: "orders", Destination: "orders.created"},
//	    consume.InOnly(proc),
//	)
//	if err != nil {
//	    return err
//	}
//
//	for msg := range deliveries {
//	    if err := d.OnDeliver(ctx, msg); err != nil {
//	        // the broker client decides about redelivery
//	    }
//	}
//
// The rabbitmq subpackage provides this loop for amqp091-go deliveries.
//
// # Execution Modes
//
// The execution path is chosen once per exchange:
//
//   - Transacted or Synchronous (the default): the processor runs on the
//     goroutine that called OnDeliver. OnDeliver returns after processing.
//   - Otherwise: the exchange is submitted to the Pool and OnDeliver returns
//     at once. Exchanges processed on a pool may complete out of delivery order.
//
// Pooled processing gets a context detached from the delivery's cancellation.
// Stopping a consumer stops new deliveries; it does not interrupt work in
// flight.
//
//	pool := consume.NewWorkerPool(8, logger)
//	defer pool.Close()
//
//	d, err := consume.New(endpoint, proc,
//	    consume.WithSynchronous(false),
//	    consume.WithPool(pool),
//	)
//
// # Failures
//
// OnDeliver prefers recording a failure on the exchange over returning it:
//
//   - A processor error is stored in the exchange's failure slot when the
//     slot is empty, and OnDeliver returns nil.
//   - If the processor already stored a failure and also returned an error,
//     the returned error is not merged or dropped: OnDeliver returns it in a
//     *DispatchError.
//   - If the message cannot be built into an exchange, OnDeliver returns a
//     *DispatchError wrapping a *BuildError. No exchange exists.
//   - Pooled failures are recorded on the exchange and logged. They never
//     reach the caller of OnDeliver, which has already returned.
//
// Panics in a processor are recovered and reported as *PanicError.
//
// # Transactions
//
// A transacted dispatcher attaches its Synchronization to every exchange
// before processing starts and always processes inline. The dispatcher never
// runs completion callbacks itself; whoever owns the unit of work calls
// Exchange.Done, which runs OnComplete or OnFailure on each callback:
//
//	d, err := consume.New(endpoint, consume.InOnly(proc),
//	    consume.WithTransacted(true),
//	    consume.WithSynchronization(consume.SessionSynchronization(session, consume.BatchCommitStrategy(10))),
//	)
//
// InOnly and InOut call Done after processing. A CommitStrategy decides when
// commit and rollback actually happen.
//
// # Builders and Selectors
//
// A Builder turns a delivered message into an exchange. DefaultBuilder copies
// the message; JSONBuilder also requires a JSON body and can promote body
// fields into headers. A Selector skips exchanges before processing:
//
//	consume.WithSelector(consume.And(
//	    consume.HeaderEquals("type", "order/created"),
//	    consume.BodyHasFields("order.id"),
//	))
//
// # Hooks
//
// Hooks provide observability without coupling to specific logging or
// metrics systems:
//
//   - WithOnDeliver: Called after the exchange is built, enriches context
//   - WithOnRoute: Called just before the processor runs
//   - WithOnSuccess: Called after successful processing
//   - WithOnFailure: Called after failed processing
//   - WithOnBuildError: Called when a message cannot be built
//   - WithOnSkip: Called when the selector rejects an exchange
//
// Processors can implement OnSuccessHook and OnFailureHook; these run after
// the global hooks.
//
// # Configuration
//
// Settings are fixed at New. They can come from options or from a TOML file
// via LoadConfig and WithConfig.
package consume
