package consume

import (
	"context"
	"fmt"
	"sync"
)

// Synchronization is a completion callback attached to an exchange. It is
// run by Exchange.Done after processing: OnFailure when the exchange carries
// a failure, OnComplete otherwise.
//
// A transacted Dispatcher attaches its Synchronization to every exchange
// before processing starts.
type Synchronization interface {
	OnComplete(ctx context.Context, ex *Exchange) error
	OnFailure(ctx context.Context, ex *Exchange) error
}

// OnCompletion builds a Synchronization from two functions. Either may be
// nil.
func OnCompletion(onComplete, onFailure func(ctx context.Context, ex *Exchange) error) Synchronization {
	return completionFuncs{onComplete: onComplete, onFailure: onFailure}
}

type completionFuncs struct {
	onComplete func(ctx context.Context, ex *Exchange) error
	onFailure  func(ctx context.Context, ex *Exchange) error
}

func (c completionFuncs) OnComplete(ctx context.Context, ex *Exchange) error {
	if c.onComplete == nil {
		return nil
	}
	return c.onComplete(ctx, ex)
}

func (c completionFuncs) OnFailure(ctx context.Context, ex *Exchange) error {
	if c.onFailure == nil {
		return nil
	}
	return c.onFailure(ctx, ex)
}

// CommitStrategy decides when a transaction is committed or rolled back.
// The Dispatcher does not consult it; it is carried for the transaction
// layer (see SessionSynchronization and rabbitmq.NewSynchronization).
type CommitStrategy interface {
	// Commit reports whether the transaction should commit after ex completed.
	Commit(ex *Exchange) bool

	// Rollback reports whether the transaction should roll back after ex failed.
	Rollback(ex *Exchange) bool
}

// DefaultCommitStrategy commits after every successful exchange and rolls
// back after every failed one.
func DefaultCommitStrategy() CommitStrategy {
	return defaultCommitStrategy{}
}

type defaultCommitStrategy struct{}

func (defaultCommitStrategy) Commit(*Exchange) bool   { return true }
func (defaultCommitStrategy) Rollback(*Exchange) bool { return true }

// BatchCommitStrategy commits once every size successful exchanges. A
// rollback always happens and starts a new batch. Sizes below 1 are
// treated as 1.
//
// The returned strategy is safe for concurrent use.
func BatchCommitStrategy(size int) CommitStrategy {
	if size < 1 {
		size = 1
	}
	return &batchCommitStrategy{size: size}
}

type batchCommitStrategy struct {
	size int

	mu    sync.Mutex
	count int
}

func (s *batchCommitStrategy) Commit(*Exchange) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	if s.count < s.size {
		return false
	}
	s.count = 0
	return true
}

func (s *batchCommitStrategy) Rollback(*Exchange) bool {
	s.mu.Lock()
	s.count = 0
	s.mu.Unlock()
	return true
}

// Session is a transacted broker session.
type Session interface {
	Commit() error
	Rollback() error
}

// SessionSynchronization returns a Synchronization that commits or rolls
// back s as directed by strategy. A nil strategy means DefaultCommitStrategy.
func SessionSynchronization(s Session, strategy CommitStrategy) Synchronization {
	if strategy == nil {
		strategy = DefaultCommitStrategy()
	}
	return sessionSynchronization{session: s, strategy: strategy}
}

type sessionSynchronization struct {
	session  Session
	strategy CommitStrategy
}

func (s sessionSynchronization) OnComplete(_ context.Context, ex *Exchange) error {
	if !s.strategy.Commit(ex) {
		return nil
	}
	if err := s.session.Commit(); err != nil {
		return fmt.Errorf("commit exchange %s: %w", ex.ID(), err)
	}
	return nil
}

func (s sessionSynchronization) OnFailure(_ context.Context, ex *Exchange) error {
	if !s.strategy.Rollback(ex) {
		return nil
	}
	if err := s.session.Rollback(); err != nil {
		return fmt.Errorf("rollback exchange %s: %w", ex.ID(), err)
	}
	return nil
}
