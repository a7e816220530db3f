// Package effect runs lighting effects against a Hue gateway. Each executor
// runs once on its own goroutine and stops when its context is cancelled.
package effect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huefx/internal/hue"
	"github.com/dokzlo13/huefx/internal/scheduler"
)

var (
	// ErrAlreadyStarted is returned by Start on an executor that already ran.
	ErrAlreadyStarted = errors.New("executor already started")
	// ErrInvalidConfig is returned for configs that fail validation.
	ErrInvalidConfig = errors.New("invalid effect config")
)

// Kind identifies an effect type.
type Kind string

const (
	KindWarmup Kind = "warmup"
	KindXmas   Kind = "xmas"
)

// Kinds lists every supported effect.
func Kinds() []Kind {
	return []Kind{KindWarmup, KindXmas}
}

// State is the lifecycle state of an executor.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether the executor has stopped.
func (s State) Terminal() bool {
	return s >= StateCompleted
}

// Executor runs one effect. Start returns as soon as the effect goroutine is
// launched; cancelling ctx stops it.
type Executor interface {
	Kind() Kind
	Start(ctx context.Context) error
	State() State
	Done() <-chan struct{}
	Err() error
}

// Gateway is the subset of the Hue client used by effects.
type Gateway interface {
	GetGroup(ctx context.Context, groupID string) ([]string, error)
	GetLight(ctx context.Context, lightID string) (*hue.Light, error)
	SendCommand(ctx context.Context, cmd hue.Command, lightIDs ...string) error
}

// Resolver turns a schedule into its next fire instant.
type Resolver interface {
	Resolve(spec scheduler.Spec, now time.Time, preOffset bool) (time.Time, error)
}

// Clock abstracts time for executors.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
}

// Timer is a one-shot timer.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

// RealClock is the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) NewTimer(d time.Duration) Timer { return realTimer{t: time.NewTimer(d)} }

type realTimer struct {
	t *time.Timer
}

func (r realTimer) C() <-chan time.Time { return r.t.C }
func (r realTimer) Stop() bool          { return r.t.Stop() }

// sleep waits for d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, clock Clock, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}

	t := clock.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}

// predecessorTimeout bounds how long an executor waits for the one it
// replaces to finish restoring the lights.
const predecessorTimeout = xmasRestoreTimeout + 5*time.Second

type predecessorKey struct{}

// AfterPredecessor returns a context that makes the executor started with it
// leave the lights alone until done is closed.
func AfterPredecessor(ctx context.Context, done <-chan struct{}) context.Context {
	if done == nil {
		return ctx
	}
	return context.WithValue(ctx, predecessorKey{}, done)
}

// awaitPredecessor blocks until the replaced executor has stopped, ctx is done
// or predecessorTimeout passes. Only ctx ending is an error.
func awaitPredecessor(ctx context.Context, clock Clock, logger zerolog.Logger) error {
	done, _ := ctx.Value(predecessorKey{}).(<-chan struct{})
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	default:
	}

	logger.Info().Msg("Waiting for the previous effect to release its lights")
	t := clock.NewTimer(predecessorTimeout)
	defer t.Stop()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		logger.Warn().Dur("timeout", predecessorTimeout).Msg("Previous effect still stopping, starting anyway")
		return nil
	}
}

func timerC(t Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C()
}

func stopTimer(t Timer) {
	if t != nil {
		t.Stop()
	}
}

// runner carries the lifecycle bookkeeping shared by all executors.
type runner struct {
	kind    Kind
	state   atomic.Int32
	started atomic.Bool
	done    chan struct{}

	mu  sync.Mutex
	err error
}

func (r *runner) setup(kind Kind) {
	r.kind = kind
	r.done = make(chan struct{})
}

// Kind returns the effect kind.
func (r *runner) Kind() Kind { return r.kind }

// State returns the current lifecycle state.
func (r *runner) State() State { return State(r.state.Load()) }

// Done is closed once the executor has stopped.
func (r *runner) Done() <-chan struct{} { return r.done }

// Err returns the failure cause once the executor is Failed.
func (r *runner) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

type body func(ctx context.Context, logger zerolog.Logger) error

func (r *runner) launch(ctx context.Context, run body) error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	logger := loggerFrom(ctx, r.kind)
	r.state.Store(int32(StateRunning))

	go func() {
		defer close(r.done)
		err := r.protect(ctx, logger, run)
		r.finish(ctx, logger, err)
	}()
	return nil
}

func (r *runner) protect(ctx context.Context, logger zerolog.Logger, run body) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return run(ctx, logger)
}

func (r *runner) finish(ctx context.Context, logger zerolog.Logger, err error) {
	switch {
	case err == nil:
		r.state.Store(int32(StateCompleted))
		logger.Info().Msg("Effect completed")
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		r.state.Store(int32(StateCancelled))
		logger.Info().Msg("Effect cancelled")
	default:
		r.mu.Lock()
		r.err = err
		r.mu.Unlock()
		r.state.Store(int32(StateFailed))
		logger.Error().Err(err).Msg("Effect failed")
	}
}

// loggerFrom returns the logger attached to ctx, or the global one tagged with kind.
func loggerFrom(ctx context.Context, kind Kind) zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return *l
	}
	return log.With().Str("effect", string(kind)).Logger()
}
