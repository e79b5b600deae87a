// SPDX-License-Identifier: MPL-2.0

package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"

	"github.com/invowk/guildhost/internal/clock"
	"github.com/invowk/guildhost/internal/runner"
)

const (
	// DefaultHeartbeatInterval is how often the watchdog checks liveness.
	DefaultHeartbeatInterval = 30 * time.Second
	// DefaultHeartbeatTimeout is the ack age after which the connection is
	// considered dead.
	DefaultHeartbeatTimeout = 120 * time.Second
	// DefaultReconnectAttempts bounds the retries of one reconnect run.
	DefaultReconnectAttempts = 5
	// DefaultReconnectDelay is the pause between reconnect attempts.
	DefaultReconnectDelay = 5 * time.Second
)

type (
	// WatchdogOption configures a Watchdog.
	WatchdogOption func(*Watchdog)

	// Watchdog triggers a reconnect when heartbeat acks stop arriving. It runs
	// on its own ticker, so guild processing never waits on it, and at most one
	// reconnect is in flight: triggering again cancels the running one.
	Watchdog struct {
		*runner.Base

		target   Reconnector
		clock    clock.Clock
		interval time.Duration
		timeout  time.Duration
		attempts uint64
		delay    time.Duration
		logger   *log.Logger
		metrics  *Metrics

		// lastAck is the time of the last ack in Unix nanoseconds.
		lastAck atomic.Int64

		mu       sync.Mutex
		stopped  bool
		inflight *reconnectRun
	}

	reconnectRun struct {
		cancel context.CancelFunc
		done   chan struct{}
	}
)

// WithClock sets the time source.
func WithClock(c clock.Clock) WatchdogOption {
	return func(w *Watchdog) { w.clock = c }
}

// WithHeartbeat sets the check interval and the ack timeout.
func WithHeartbeat(interval, timeout time.Duration) WatchdogOption {
	return func(w *Watchdog) {
		if interval > 0 {
			w.interval = interval
		}
		if timeout > 0 {
			w.timeout = timeout
		}
	}
}

// WithReconnectPolicy sets the retries and the pause between them.
func WithReconnectPolicy(attempts uint64, delay time.Duration) WatchdogOption {
	return func(w *Watchdog) {
		w.attempts = attempts
		if delay >= 0 {
			w.delay = delay
		}
	}
}

// WithWatchdogLogger sets the logger.
func WithWatchdogLogger(l *log.Logger) WatchdogOption {
	return func(w *Watchdog) { w.logger = l }
}

// WithWatchdogMetrics sets the metrics sink.
func WithWatchdogMetrics(m *Metrics) WatchdogOption {
	return func(w *Watchdog) { w.metrics = m }
}

// NewWatchdog creates a stopped Watchdog that reconnects target.
func NewWatchdog(target Reconnector, opts ...WatchdogOption) *Watchdog {
	w := &Watchdog{
		Base:     runner.NewBase(),
		target:   target,
		clock:    clock.Real{},
		interval: DefaultHeartbeatInterval,
		timeout:  DefaultHeartbeatTimeout,
		attempts: DefaultReconnectAttempts,
		delay:    DefaultReconnectDelay,
		logger:   log.Default().WithPrefix("watchdog"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.metrics == nil {
		w.metrics = NewMetrics(nil)
	}
	return w
}

// Start counts the start as an ack and begins ticking.
func (w *Watchdog) Start(ctx context.Context) error {
	if err := w.BeginStart(ctx); err != nil {
		return err
	}
	w.Ack()
	w.Go(w.loop)
	w.MarkRunning()
	w.logger.Debug("watchdog started", "interval", w.interval, "timeout", w.timeout)
	return nil
}

// Stop ends the ticker, cancels any reconnect in flight and waits for both.
func (w *Watchdog) Stop() {
	if !w.BeginStop() {
		w.Wait()
		return
	}
	w.mu.Lock()
	w.stopped = true
	if w.inflight != nil {
		w.inflight.cancel()
	}
	w.mu.Unlock()

	w.Wait()
	w.MarkStopped()
	w.logger.Debug("watchdog stopped")
}

// Ack records a heartbeat acknowledgement.
func (w *Watchdog) Ack() {
	w.lastAck.Store(w.clock.Now().UnixNano())
}

// LastAck returns the time of the last acknowledgement.
func (w *Watchdog) LastAck() time.Time {
	return time.Unix(0, w.lastAck.Load())
}

// Healthy reports whether the last ack is within the timeout.
func (w *Watchdog) Healthy() bool {
	return w.clock.Now().Sub(w.LastAck()) <= w.timeout
}

// Reconnecting reports whether a reconnect is in flight.
func (w *Watchdog) Reconnecting() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inflight != nil
}

func (w *Watchdog) loop(ctx context.Context) {
	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			w.check()
		}
	}
}

func (w *Watchdog) check() {
	age := w.clock.Now().Sub(w.LastAck())
	if age <= w.timeout {
		return
	}
	w.metrics.MissedHeartbeats.Inc()
	w.logger.Warn("heartbeat ack overdue, reconnecting", "age", age, "timeout", w.timeout)
	w.TriggerReconnect()
}

// TriggerReconnect starts a reconnect run in the background, cancelling one
// already in flight. It does nothing once the watchdog is stopping.
func (w *Watchdog) TriggerReconnect() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped || !w.IsRunning() {
		return
	}
	if w.inflight != nil {
		w.inflight.cancel()
	}

	ctx, cancel := context.WithCancel(w.Context())
	run := &reconnectRun{cancel: cancel, done: make(chan struct{})}
	w.inflight = run
	w.Go(func(context.Context) {
		defer close(run.done)
		defer cancel()
		w.reconnect(ctx, run)
	})
}

func (w *Watchdog) reconnect(ctx context.Context, run *reconnectRun) {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(w.delay), w.attempts),
		ctx,
	)
	err := backoff.RetryNotifyWithTimer(func() error {
		return w.target.Reconnect(ctx)
	}, policy, func(err error, next time.Duration) {
		w.logger.Warn("reconnect attempt failed", "err", err, "retry_in", next)
	}, w.clock.NewTimer())

	w.mu.Lock()
	if w.inflight == run {
		w.inflight = nil
	}
	w.mu.Unlock()

	switch {
	case ctx.Err() != nil:
		w.metrics.Reconnects.WithLabelValues("cancelled").Inc()
		w.logger.Debug("reconnect cancelled")
	case err != nil:
		w.metrics.Reconnects.WithLabelValues("failed").Inc()
		w.logger.Error("reconnect gave up", "attempts", w.attempts+1, "err", err)
	default:
		w.Ack()
		w.metrics.Reconnects.WithLabelValues("ok").Inc()
		w.logger.Info("reconnected")
	}
}
