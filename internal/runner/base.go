// SPDX-License-Identifier: MPL-2.0

package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrNotCreated is returned by BeginStart when the component was started before.
var ErrNotCreated = errors.New("component already started")

type (
	// Option configures a Base.
	Option func(*Base)

	// Base carries the state machine, the background context and the
	// goroutine accounting of a component.
	Base struct {
		state atomic.Int32

		mu      sync.Mutex
		lastErr error

		ctx       context.Context
		cancel    context.CancelFunc
		wg        sync.WaitGroup
		startedCh chan struct{}
		errCh     chan error
		// errClosed is guarded by mu.
		errClosed bool
	}
)

// WithErrorBuffer sets the capacity of the Err channel. The default is 1.
func WithErrorBuffer(size int) Option {
	return func(b *Base) { b.errCh = make(chan error, size) }
}

// NewBase creates a Base in StateCreated.
func NewBase(opts ...Option) *Base {
	b := &Base{
		startedCh: make(chan struct{}),
		errCh:     make(chan error, 1),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.state.Store(int32(StateCreated))
	return b
}

// State returns the current state.
func (b *Base) State() State { return State(b.state.Load()) }

// IsRunning reports whether the component is in StateRunning.
func (b *Base) IsRunning() bool { return b.State() == StateRunning }

// Err delivers fatal errors raised after Start returned. It is closed on stop.
func (b *Base) Err() <-chan error { return b.errCh }

// LastError returns the error that moved the component to StateFailed.
func (b *Base) LastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

// BeginStart moves Created to Starting and creates the background context.
// An already-cancelled ctx fails the component before anything is set up.
func (b *Base) BeginStart(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		b.Fail(fmt.Errorf("context cancelled before start: %w", err))
		return b.LastError()
	}
	if !b.state.CompareAndSwap(int32(StateCreated), int32(StateStarting)) {
		return fmt.Errorf("%w (state %s)", ErrNotCreated, b.State())
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())
	return nil
}

// MarkRunning moves Starting to Running and releases WaitForReady callers.
func (b *Base) MarkRunning() {
	if b.state.CompareAndSwap(int32(StateStarting), int32(StateRunning)) {
		close(b.startedCh)
	}
}

// Fail records err, moves to Failed and cancels the background context.
func (b *Base) Fail(err error) {
	b.mu.Lock()
	b.lastErr = err
	b.mu.Unlock()

	b.state.Store(int32(StateFailed))
	if b.cancel != nil {
		b.cancel()
	}
	b.SendError(err)
}

// BeginStop moves Starting or Running to Stopping and cancels the background
// context. It reports false when there is nothing to stop; a component that
// was never started is marked Stopped.
func (b *Base) BeginStop() bool {
	for {
		current := b.State()
		switch current {
		case StateCreated:
			if b.state.CompareAndSwap(int32(StateCreated), int32(StateStopped)) {
				return false
			}
		case StateStarting, StateRunning:
			if b.state.CompareAndSwap(int32(current), int32(StateStopping)) {
				if b.cancel != nil {
					b.cancel()
				}
				return true
			}
		default:
			return false
		}
	}
}

// MarkStopped completes a stop and closes the Err channel.
func (b *Base) MarkStopped() {
	b.state.Store(int32(StateStopped))

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.errClosed {
		b.errClosed = true
		close(b.errCh)
	}
}

// Go runs fn in a tracked goroutine with the background context.
func (b *Base) Go(fn func(ctx context.Context)) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn(b.ctx)
	}()
}

// Wait blocks until every goroutine started with Go has returned.
func (b *Base) Wait() { b.wg.Wait() }

// Context returns the background context, or nil before BeginStart.
func (b *Base) Context() context.Context { return b.ctx }

// Ready is closed once the component is running.
func (b *Base) Ready() <-chan struct{} { return b.startedCh }

// WaitForReady blocks until the component runs or ctx ends.
func (b *Base) WaitForReady(ctx context.Context) error {
	select {
	case <-b.startedCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for component: %w", ctx.Err())
	}
}

// SendError delivers err on the Err channel, dropping it when the channel is
// full or already closed.
func (b *Base) SendError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.errClosed {
		return
	}
	select {
	case b.errCh <- err:
	default:
	}
}
