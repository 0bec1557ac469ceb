package consume

import (
	"errors"
	"fmt"
)

var (
	// ErrNilProcessor is returned by New when no Processor is given.
	ErrNilProcessor = errors.New("nil processor")

	// ErrNoPool is returned by New when asynchronous processing is configured
	// without a Pool.
	ErrNoPool = errors.New("asynchronous dispatch requires a pool")

	// ErrPoolClosed is returned by Pool.Submit after the pool was closed.
	ErrPoolClosed = errors.New("pool closed")

	// ErrNilExchange is returned when a Builder returns neither an exchange
	// nor an error.
	ErrNilExchange = errors.New("builder returned nil exchange")

	// ErrInvalidJSON is returned when a message body is not valid JSON.
	ErrInvalidJSON = errors.New("invalid JSON")

	// ErrInvalidConfig is returned by LoadConfig for values that cannot be
	// applied.
	ErrInvalidConfig = errors.New("invalid config")
)

// BuildError reports that a delivered message could not be turned into an
// Exchange. No exchange exists when this error occurs, so it is always
// returned from OnDeliver.
type BuildError struct {
	Endpoint  string
	MessageID string
	Err       error
}

func (e *BuildError) Error() string {
	if e.MessageID == "" {
		return fmt.Sprintf("build exchange for %s: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("build exchange for %s from message %s: %v", e.Endpoint, e.MessageID, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// ProcessingError reports that the processing step failed for an exchange.
type ProcessingError struct {
	ExchangeID string
	Err        error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("process exchange %s: %v", e.ExchangeID, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// DispatchError is the only error kind returned by Dispatcher.OnDeliver.
// It carries failures that could not be recorded on an exchange: build
// failures, and processing failures raised while the exchange's failure
// slot was already occupied.
type DispatchError struct {
	// ExchangeID is empty when the failure happened before an exchange existed.
	ExchangeID string
	Err        error
}

func (e *DispatchError) Error() string {
	if e.ExchangeID == "" {
		return fmt.Sprintf("dispatch: %v", e.Err)
	}
	return fmt.Sprintf("dispatch exchange %s: %v", e.ExchangeID, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// PanicError wraps a value recovered from a panicking processor or pool task.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic recovered: %v", e.Value)
}
