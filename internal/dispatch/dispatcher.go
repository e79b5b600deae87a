// SPDX-License-Identifier: MPL-2.0

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Workiva/go-datastructures/queue"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/panjf2000/ants/v2"

	"github.com/invowk/guildhost/internal/guild"
	"github.com/invowk/guildhost/pkg/botmod"
)

// ErrClosed is returned for work submitted after Close.
var ErrClosed = errors.New("dispatcher closed")

type (
	// Guilds hands out guild state, creating it on first contact.
	// *lifecycle.Manager implements it.
	Guilds interface {
		InstantiateForGuild(ctx context.Context, guildID botmod.GuildID) (*guild.State, error)
	}

	// Dispatcher serializes work per guild on a shared worker pool.
	Dispatcher struct {
		guilds Guilds
		sender botmod.Sender
		logger *log.Logger

		workers        int
		queueCapacity  int64
		handlerTimeout time.Duration
		helpCommand    botmod.CommandID
		metrics        *Metrics

		pool   *ants.Pool
		queues cmap.ConcurrentMap[string, *guildQueue]

		// closeMu guards closed against concurrent drain submission.
		closeMu sync.RWMutex
		closed  bool
		drains  sync.WaitGroup

		ctx    context.Context
		cancel context.CancelFunc
	}

	guildQueue struct {
		id      botmod.GuildID
		items   *queue.Queue
		running atomic.Bool
	}

	task struct {
		id   uuid.UUID
		kind string
		ctx  context.Context
		run  func(ctx context.Context) error
		done chan error
	}

	nopSender struct{}
)

func (nopSender) Send(context.Context, botmod.ChannelID, string) (botmod.MessageID, error) {
	return "", nil
}

// New creates a Dispatcher over guilds.
func New(guilds Guilds, opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		guilds:         guilds,
		sender:         nopSender{},
		logger:         log.Default().WithPrefix("dispatch"),
		workers:        DefaultWorkers,
		queueCapacity:  DefaultQueueCapacity,
		handlerTimeout: DefaultHandlerTimeout,
		queues:         cmap.New[*guildQueue](),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics == nil {
		d.metrics = NewMetrics(nil)
	}

	pool, err := ants.NewPool(d.workers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p any) {
			d.logger.Error("worker panicked", "panic", p)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	d.pool = pool
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Dispatch queues an inbound message for its guild. Messages written by bots
// are dropped. It returns once the message is queued.
func (d *Dispatcher) Dispatch(msg botmod.Message) error {
	if msg.AuthorIsBot {
		return nil
	}
	return d.enqueue(d.ctx, msg.GuildID, "message", func(ctx context.Context) error {
		d.handleMessage(ctx, msg)
		return nil
	}, nil)
}

// DispatchReaction queues an inbound reaction for its guild.
func (d *Dispatcher) DispatchReaction(r botmod.Reaction) error {
	return d.enqueue(d.ctx, r.GuildID, "reaction", func(ctx context.Context) error {
		d.handleReaction(ctx, r)
		return nil
	}, nil)
}

// HandleGuildAvailable instantiates a guild ahead of its first message.
func (d *Dispatcher) HandleGuildAvailable(guildID botmod.GuildID) error {
	return d.enqueue(d.ctx, guildID, "guild_available", func(ctx context.Context) error {
		_, err := d.guilds.InstantiateForGuild(ctx, guildID)
		return err
	}, nil)
}

// Do runs fn on the guild's queue and waits for it. It returns fn's error,
// or ctx's error when ctx ends before fn ran.
func (d *Dispatcher) Do(ctx context.Context, guildID botmod.GuildID, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	if err := d.enqueue(ctx, guildID, "admin", fn, done); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, guildID botmod.GuildID, kind string, fn func(context.Context) error, done chan error) error {
	if err := guildID.Validate(); err != nil {
		return err
	}

	q, schedule, err := d.put(ctx, guildID, kind, fn, done)
	if err != nil || !schedule {
		return err
	}

	// The pool never blocks: when every worker is busy the drain gets its own
	// goroutine, so a full pool cannot stall other guilds or the caller.
	switch err := d.pool.Submit(func() { d.drain(q) }); {
	case err == nil:
	case errors.Is(err, ants.ErrPoolOverload):
		d.metrics.Overflow.Inc()
		go d.drain(q)
	default:
		d.drains.Done()
		q.running.Store(false)
		return fmt.Errorf("schedule guild %s: %w", guildID, err)
	}
	return nil
}

// put queues a task and reports whether the caller must schedule a drain.
// The drain is counted before closeMu is released, so Close waits for it.
func (d *Dispatcher) put(ctx context.Context, guildID botmod.GuildID, kind string, fn func(context.Context) error, done chan error) (*guildQueue, bool, error) {
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	if d.closed {
		return nil, false, ErrClosed
	}

	q := d.queue(guildID)
	t := &task{id: uuid.New(), kind: kind, ctx: ctx, run: fn, done: done}
	if err := q.items.Put(t); err != nil {
		return nil, false, fmt.Errorf("queue %s event for guild %s: %w", kind, guildID, err)
	}
	d.metrics.Events.WithLabelValues(kind).Inc()

	if !q.running.CompareAndSwap(false, true) {
		return q, false, nil
	}
	d.drains.Add(1)
	return q, true, nil
}

func (d *Dispatcher) queue(guildID botmod.GuildID) *guildQueue {
	if q, ok := d.queues.Get(string(guildID)); ok {
		return q
	}
	fresh := &guildQueue{id: guildID, items: queue.New(d.queueCapacity)}
	d.queues.SetIfAbsent(string(guildID), fresh)
	q, _ := d.queues.Get(string(guildID))
	return q
}

// drain runs a guild's queued tasks until the queue is empty. Only one drain
// per guild runs at a time.
func (d *Dispatcher) drain(q *guildQueue) {
	defer d.drains.Done()
	for {
		if q.items.Empty() {
			q.running.Store(false)
			// A producer may have queued between the check and the store
			// without scheduling a drain.
			if q.items.Empty() || !q.running.CompareAndSwap(false, true) {
				return
			}
		}
		items, err := q.items.Get(1)
		if err != nil {
			q.running.Store(false)
			return
		}
		for _, item := range items {
			d.run(q.id, item.(*task))
		}
	}
}

func (d *Dispatcher) run(guildID botmod.GuildID, t *task) {
	logger := d.logger.With("guild", guildID, "event", t.id, "kind", t.kind)

	var err error
	if ctxErr := t.ctx.Err(); ctxErr != nil {
		err = ctxErr
	} else {
		err = safeCall(t.ctx, t.run)
	}
	if err != nil {
		d.metrics.Failures.WithLabelValues("task").Inc()
		logger.Error("event failed", "err", err)
	}
	if t.done != nil {
		t.done <- err
	}
}

// safeCall runs fn, turning a panic into an error.
func safeCall(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return fn(ctx)
}

// Close stops accepting work, waits for queued work to finish or for ctx to
// end, and releases the worker pool.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeMu.Lock()
	if d.closed {
		d.closeMu.Unlock()
		return nil
	}
	d.closed = true
	d.closeMu.Unlock()

	finished := make(chan struct{})
	go func() {
		d.drains.Wait()
		close(finished)
	}()

	var err error
	select {
	case <-finished:
	case <-ctx.Done():
		err = fmt.Errorf("waiting for guild queues: %w", ctx.Err())
	}
	d.cancel()
	for _, q := range d.queues.Items() {
		q.items.Dispose()
	}
	d.pool.Release()
	return err
}

// Idle reports whether no drain is running or scheduled for guildID.
func (d *Dispatcher) Idle(guildID botmod.GuildID) bool {
	q, ok := d.queues.Get(string(guildID))
	return !ok || !q.running.Load()
}

// Pending returns the number of events waiting for guildID.
func (d *Dispatcher) Pending(guildID botmod.GuildID) int64 {
	q, ok := d.queues.Get(string(guildID))
	if !ok {
		return 0
	}
	return q.items.Len()
}
