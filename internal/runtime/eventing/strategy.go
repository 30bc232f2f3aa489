package eventing

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/drblury/relay/internal/runtime/config"
	errspkg "github.com/drblury/relay/internal/runtime/errors"
	"github.com/drblury/relay/internal/runtime/services"
)

// Strategy fans one notification out to invokers. When Broadcast returns,
// every invoker has completed, failed, or been skipped by an early exit.
type Strategy interface {
	Broadcast(ctx context.Context, invokers []Invoker, sp services.Provider, notification any, transportName string) error
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(ctx context.Context, invokers []Invoker, sp services.Provider, notification any, transportName string) error

func (f StrategyFunc) Broadcast(ctx context.Context, invokers []Invoker, sp services.Provider, notification any, transportName string) error {
	return f(ctx, invokers, sp, notification, transportName)
}

// SequentialMode decides when the sequential strategy surfaces failures.
type SequentialMode int

const (
	// ThrowOnFirst stops at the first failure that is not a cancellation.
	ThrowOnFirst SequentialMode = iota
	// CollectAll runs every handler and reports all failures at the end.
	CollectAll
)

func (m SequentialMode) String() string {
	if m == CollectAll {
		return config.ModeCollectAll
	}
	return config.ModeThrowOnFirst
}

// SequentialStrategy invokes handlers one after another in registration
// order. Cancellations never stop the iteration.
type SequentialStrategy struct {
	Mode SequentialMode
}

func (s SequentialStrategy) Broadcast(ctx context.Context, invokers []Invoker, sp services.Provider, notification any, transportName string) error {
	var failures, cancellations []error

	for _, inv := range invokers {
		err := inv.Invoke(ctx, sp, notification, transportName)
		switch {
		case err == nil:
		case errspkg.IsCancellation(err):
			cancellations = append(cancellations, err)
		case s.Mode == ThrowOnFirst:
			if len(cancellations) == 0 {
				return err
			}
			return errspkg.NewAggregate(append([]error{err}, cancellations...)...)
		default:
			failures = append(failures, err)
		}
	}

	if len(failures) == 0 {
		if len(cancellations) == 0 {
			return nil
		}
		return cancellations[0]
	}
	all := append(failures, cancellations...)
	if len(all) == 1 {
		return all[0]
	}
	return errspkg.NewAggregate(all...)
}

// ParallelOption customises a ParallelStrategy.
type ParallelOption func(*ParallelStrategy)

// WithMaxDegreeOfParallelism bounds how many handlers run at once. n must be
// positive; other values make Broadcast fail.
func WithMaxDegreeOfParallelism(n int) ParallelOption {
	return func(s *ParallelStrategy) {
		s.maxDegree = n
		s.bounded = true
	}
}

// ParallelStrategy starts every handler at once, optionally bounded by a
// number of admission slots.
type ParallelStrategy struct {
	maxDegree int
	bounded   bool
}

// NewParallelStrategy returns an unbounded parallel strategy unless
// WithMaxDegreeOfParallelism is given.
func NewParallelStrategy(opts ...ParallelOption) *ParallelStrategy {
	s := &ParallelStrategy{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxDegreeOfParallelism returns the configured bound and whether one is set.
func (s *ParallelStrategy) MaxDegreeOfParallelism() (int, bool) {
	return s.maxDegree, s.bounded
}

func (s *ParallelStrategy) Broadcast(ctx context.Context, invokers []Invoker, sp services.Provider, notification any, transportName string) error {
	if s.bounded && s.maxDegree <= 0 {
		return fmt.Errorf("%w: got %d", errspkg.ErrInvalidDegreeOfParallelism, s.maxDegree)
	}

	var slots *semaphore.Weighted
	if s.bounded {
		slots = semaphore.NewWeighted(int64(s.maxDegree))
	}

	errs := make([]error, len(invokers))
	var wg sync.WaitGroup
	for i, inv := range invokers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Panics cannot cross goroutines, so recovery middlewares on the
			// publishing goroutine never see them.
			defer func() {
				if r := recover(); r != nil {
					errs[i] = &errspkg.PanicError{Value: r, Stack: debug.Stack()}
				}
			}()
			if slots != nil {
				if err := slots.Acquire(ctx, 1); err != nil {
					errs[i] = err
					return
				}
				defer slots.Release(1)
			}
			errs[i] = inv.Invoke(ctx, sp, notification, transportName)
		}()
	}
	wg.Wait()

	var collected []error
	allCancelled := true
	for _, err := range errs {
		if err == nil {
			continue
		}
		collected = append(collected, err)
		if !errspkg.IsCancellation(err) {
			allCancelled = false
		}
	}

	switch {
	case len(collected) == 0:
		return nil
	case allCancelled:
		return collected[0]
	default:
		return errspkg.NewAggregate(collected...)
	}
}

// StrategyFromConfig builds the strategy selected by conf.
func StrategyFromConfig(conf *config.Config) (Strategy, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}

	switch conf.BroadcastStrategy {
	case "", config.StrategySequential:
		switch conf.SequentialMode {
		case "", config.ModeThrowOnFirst:
			return SequentialStrategy{Mode: ThrowOnFirst}, nil
		case config.ModeCollectAll:
			return SequentialStrategy{Mode: CollectAll}, nil
		default:
			return nil, fmt.Errorf("unsupported sequential mode %q", conf.SequentialMode)
		}
	case config.StrategyParallel:
		if conf.MaxDegreeOfParallelism == 0 {
			return NewParallelStrategy(), nil
		}
		return NewParallelStrategy(WithMaxDegreeOfParallelism(conf.MaxDegreeOfParallelism)), nil
	default:
		return nil, fmt.Errorf("unsupported broadcast strategy %q", conf.BroadcastStrategy)
	}
}

// DefaultStrategy is used when neither the publisher nor its services supply
// one.
func DefaultStrategy() Strategy { return SequentialStrategy{Mode: ThrowOnFirst} }
