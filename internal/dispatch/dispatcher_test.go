// SPDX-License-Identifier: MPL-2.0

package dispatch_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invowk/guildhost/internal/catalog"
	"github.com/invowk/guildhost/internal/dispatch"
	"github.com/invowk/guildhost/internal/lifecycle"
	"github.com/invowk/guildhost/internal/store"
	"github.com/invowk/guildhost/pkg/botmod"
)

type (
	sent struct {
		channel botmod.ChannelID
		content string
	}

	recordingSender struct {
		mu   sync.Mutex
		sent []sent
	}

	funcModule struct {
		startup func(ctx context.Context, host botmod.Host) error
	}
)

func (s *recordingSender) Send(_ context.Context, channel botmod.ChannelID, content string) (botmod.MessageID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sent{channel: channel, content: content})
	return botmod.MessageID(fmt.Sprintf("m%d", len(s.sent))), nil
}

func (s *recordingSender) contents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	for i, m := range s.sent {
		out[i] = m.content
	}
	return out
}

func (m *funcModule) Startup(ctx context.Context, host botmod.Host) error { return m.startup(ctx, host) }
func (m *funcModule) Teardown(context.Context)                            {}

func module(id botmod.ModuleID, startup func(ctx context.Context, host botmod.Host) error) botmod.Descriptor {
	return botmod.Descriptor{
		ID: id,
		Factory: func(botmod.Resolver) (botmod.Module, error) {
			return &funcModule{startup: startup}, nil
		},
	}
}

func command(ctx context.Context, host botmod.Host, id, term string, fn botmod.HandlerFunc) error {
	_, err := host.RegisterCommand(ctx, botmod.Command{ID: botmod.CommandID(id), Term: term, Handler: fn})
	return err
}

type harness struct {
	sender     *recordingSender
	manager    *lifecycle.Manager
	dispatcher *dispatch.Dispatcher
	metrics    *dispatch.Metrics
}

// newHarness runs a protected "base" module with a help command plus the given
// modules, all enabled in every guild.
func newHarness(t *testing.T, descs ...botmod.Descriptor) *harness {
	t.Helper()
	return newHarnessWith(t, nil, descs...)
}

// newHarnessWith is newHarness with extra dispatcher options.
func newHarnessWith(t *testing.T, opts []dispatch.Option, descs ...botmod.Descriptor) *harness {
	t.Helper()

	base := module("base", func(ctx context.Context, host botmod.Host) error {
		return command(ctx, host, "base.help", "help", func(ctx context.Context, inv *botmod.Invocation) error {
			return inv.Reply(ctx, "help text")
		})
	})
	cat, err := catalog.New(append([]botmod.Descriptor{base}, descs...)...)
	require.NoError(t, err)

	repo := &enableAll{Repository: store.NewMemory(), catalog: cat}
	sender := &recordingSender{}
	quiet := log.New(io.Discard)

	manager, err := lifecycle.New(cat, repo, nil,
		lifecycle.WithProtectedModule("base"),
		lifecycle.WithSender(sender),
		lifecycle.WithLogger(quiet),
	)
	require.NoError(t, err)

	metrics := dispatch.NewMetrics(prometheus.NewRegistry())
	d, err := dispatch.New(manager, append([]dispatch.Option{
		dispatch.WithSender(sender),
		dispatch.WithLogger(quiet),
		dispatch.WithHelpCommand("base.help"),
		dispatch.WithMetrics(metrics),
		dispatch.WithHandlerTimeout(5 * time.Second),
	}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close(context.Background()) })

	return &harness{sender: sender, manager: manager, dispatcher: d, metrics: metrics}
}

// enableAll reports every catalog module as enabled in every guild.
type enableAll struct {
	store.Repository
	catalog *catalog.Catalog
}

func (r *enableAll) ListModuleEnabled(ctx context.Context, g botmod.GuildID) (map[botmod.ModuleID]bool, error) {
	out, err := r.Repository.ListModuleEnabled(ctx, g)
	if err != nil {
		return nil, err
	}
	for _, id := range r.catalog.IDs() {
		if _, set := out[id]; !set {
			out[id] = true
		}
	}
	return out, nil
}

// settle waits until every event queued for guildID so far has been handled.
func (h *harness) settle(t *testing.T, guildID botmod.GuildID) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.dispatcher.Do(ctx, guildID, func(context.Context) error { return nil }))
}

func message(guildID botmod.GuildID, author botmod.UserID, content string) botmod.Message {
	return botmod.Message{ID: "in", GuildID: guildID, ChannelID: "c1", AuthorID: author, Content: content}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, c.Write(m))
	return m.GetCounter().GetValue()
}

func TestDispatch_RunsCommandWithArgs(t *testing.T) {
	t.Parallel()

	echo := module("echo", func(ctx context.Context, host botmod.Host) error {
		return command(ctx, host, "echo.echo", "echo", func(ctx context.Context, inv *botmod.Invocation) error {
			return inv.Reply(ctx, inv.Invoked()+": "+strings.Join(inv.Args, " "))
		})
	})
	h := newHarness(t, echo)

	require.NoError(t, h.dispatcher.Dispatch(message("g1", "u1", "!ECHO hello   there")))
	h.settle(t, "g1")

	assert.Equal(t, []string{"!echo: hello there"}, h.sender.contents())
	assert.InDelta(t, 1, counterValue(t, h.metrics.Commands.WithLabelValues("ok")), 0)
}

func TestDispatch_UnknownCommandReply(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.dispatcher.Dispatch(message("g1", "u1", "!nope")))
	h.settle(t, "g1")
	require.Equal(t, []string{"I didn't know what you meant by that, <@u1>. Use `!help` to see what I can do!"}, h.sender.contents())

	// The reply follows a renamed help command and the guild's prefix.
	_, err := h.manager.RenameCommand(ctx, "g1", "help", "commands")
	require.NoError(t, err)
	_, err = h.manager.SetPrefix(ctx, "g1", "?")
	require.NoError(t, err)
	require.NoError(t, h.dispatcher.Dispatch(message("g1", "u1", "?nope")))
	h.settle(t, "g1")
	assert.Equal(t, "I didn't know what you meant by that, <@u1>. Use `?commands` to see what I can do!", h.sender.contents()[1])

	_, err = h.manager.SetUnknownCommandReply(ctx, "g1", false)
	require.NoError(t, err)
	require.NoError(t, h.dispatcher.Dispatch(message("g1", "u1", "?nope")))
	require.NoError(t, h.dispatcher.Dispatch(message("g1", "u1", "plain chatter")))
	h.settle(t, "g1")
	assert.Len(t, h.sender.contents(), 2)
	assert.InDelta(t, 3, counterValue(t, h.metrics.Unknown), 0)
}

func TestDispatch_DisabledCommandBehavesAsUnknown(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, _, err := h.manager.SetCommandEnabled(context.Background(), "g1", "help", false)
	require.NoError(t, err)

	require.NoError(t, h.dispatcher.Dispatch(message("g1", "u1", "!help")))
	h.settle(t, "g1")

	contents := h.sender.contents()
	require.Len(t, contents, 1)
	assert.Contains(t, contents[0], "I didn't know what you meant by that")
}

func TestDispatch_IgnoresBots(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	msg := message("g1", "bot", "!help")
	msg.AuthorIsBot = true

	require.NoError(t, h.dispatcher.Dispatch(msg))
	h.settle(t, "g1")
	assert.Empty(t, h.sender.contents())
}

func TestDispatch_HandlerFailuresAreContained(t *testing.T) {
	t.Parallel()

	flaky := module("flaky", func(ctx context.Context, host botmod.Host) error {
		if err := command(ctx, host, "flaky.boom", "boom", func(context.Context, *botmod.Invocation) error {
			panic("kaboom")
		}); err != nil {
			return err
		}
		return command(ctx, host, "flaky.fail", "fail", func(context.Context, *botmod.Invocation) error {
			return errors.New("no luck")
		})
	})
	h := newHarness(t, flaky)

	require.NoError(t, h.dispatcher.Dispatch(message("g1", "u1", "!boom")))
	require.NoError(t, h.dispatcher.Dispatch(message("g1", "u1", "!fail")))
	require.NoError(t, h.dispatcher.Dispatch(message("g1", "u1", "!help")))
	h.settle(t, "g1")

	contents := h.sender.contents()
	require.Len(t, contents, 3)
	assert.Contains(t, contents[0], "Something went wrong with `!boom`")
	assert.Contains(t, contents[0], "kaboom")
	assert.Contains(t, contents[1], "no luck")
	assert.Equal(t, "help text", contents[2])

	assert.InDelta(t, 1, counterValue(t, h.metrics.Commands.WithLabelValues("panic")), 0)
	assert.InDelta(t, 1, counterValue(t, h.metrics.Commands.WithLabelValues("error")), 0)
	assert.InDelta(t, 2, counterValue(t, h.metrics.Failures.WithLabelValues("command")), 0)
}

func TestDispatch_MessageListenersSeeEveryMessageInOrder(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		seen []string
	)
	listener := module("listener", func(_ context.Context, host botmod.Host) error {
		host.AddMessageListener(func(context.Context, botmod.Message) error {
			return errors.New("first listener always fails")
		})
		host.AddMessageListener(func(_ context.Context, msg botmod.Message) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, msg.Content)
			return nil
		})
		return nil
	})
	h := newHarness(t, listener)

	want := make([]string, 50)
	for i := range want {
		want[i] = fmt.Sprintf("message %d", i)
		require.NoError(t, h.dispatcher.Dispatch(message("g1", "u1", want[i])))
	}
	require.NoError(t, h.dispatcher.Dispatch(message("g1", "u1", "!help")))
	want = append(want, "!help")
	h.settle(t, "g1")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, seen)
	assert.InDelta(t, 51, counterValue(t, h.metrics.Failures.WithLabelValues("message_listener")), 0)
}

func TestDispatch_GuildsDoNotBlockEachOther(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	entered := make(chan struct{})
	blocker := module("blocker", func(ctx context.Context, host botmod.Host) error {
		if err := command(ctx, host, "blocker.block", "block", func(context.Context, *botmod.Invocation) error {
			close(entered)
			<-release
			return nil
		}); err != nil {
			return err
		}
		return command(ctx, host, "blocker.ping", "ping", func(ctx context.Context, inv *botmod.Invocation) error {
			return inv.Reply(ctx, "pong from "+inv.Message.GuildID.String())
		})
	})
	h := newHarness(t, blocker)

	require.NoError(t, h.dispatcher.Dispatch(message("slow", "u1", "!block")))
	<-entered
	require.NoError(t, h.dispatcher.Dispatch(message("slow", "u1", "!ping")))
	require.NoError(t, h.dispatcher.Dispatch(message("fast", "u1", "!ping")))
	h.settle(t, "fast")

	assert.Equal(t, []string{"pong from fast"}, h.sender.contents())
	assert.Positive(t, h.dispatcher.Pending("slow"))

	close(release)
	h.settle(t, "slow")
	assert.Equal(t, []string{"pong from fast", "pong from slow"}, h.sender.contents())
}

func TestDispatch_FullPoolDoesNotBlockOtherGuilds(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	entered := make(chan struct{})
	blocker := module("blocker", func(ctx context.Context, host botmod.Host) error {
		if err := command(ctx, host, "blocker.block", "block", func(context.Context, *botmod.Invocation) error {
			close(entered)
			<-release
			return nil
		}); err != nil {
			return err
		}
		return command(ctx, host, "blocker.ping", "ping", func(ctx context.Context, inv *botmod.Invocation) error {
			return inv.Reply(ctx, "pong from "+inv.Message.GuildID.String())
		})
	})
	h := newHarnessWith(t, []dispatch.Option{dispatch.WithWorkers(1)}, blocker)
	defer close(release)

	require.NoError(t, h.dispatcher.Dispatch(message("slow", "u1", "!block")))
	<-entered
	assert.False(t, h.dispatcher.Idle("slow"))

	dispatched := make(chan error, 1)
	go func() { dispatched <- h.dispatcher.Dispatch(message("fast", "u1", "!ping")) }()
	select {
	case err := <-dispatched:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Dispatch blocked while another guild held the only worker")
	}

	h.settle(t, "fast")
	assert.Equal(t, []string{"pong from fast"}, h.sender.contents())
	assert.Positive(t, counterValue(t, h.metrics.Overflow))
	assert.Eventually(t, func() bool { return h.dispatcher.Idle("fast") }, 2*time.Second, 10*time.Millisecond)
}

func TestDispatch_ConcurrentGuildsShareTerms(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		guilds = map[botmod.GuildID]int{}
	)
	foo := module("foo", func(ctx context.Context, host botmod.Host) error {
		term, err := host.RegisterCommand(ctx, botmod.Command{
			ID:   "foo.foo",
			Term: "foo",
			Handler: func(_ context.Context, inv *botmod.Invocation) error {
				mu.Lock()
				defer mu.Unlock()
				guilds[inv.Message.GuildID]++
				return nil
			},
		})
		if err != nil {
			return err
		}
		if term != "foo" {
			return fmt.Errorf("got term %q", term)
		}
		return nil
	})
	h := newHarness(t, foo)

	var wg sync.WaitGroup
	for _, g := range []botmod.GuildID{"g1", "g2"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.dispatcher.HandleGuildAvailable(g))
			for range 20 {
				assert.NoError(t, h.dispatcher.Dispatch(message(g, "u1", "!foo")))
			}
		}()
	}
	wg.Wait()
	h.settle(t, "g1")
	h.settle(t, "g2")

	for _, g := range []botmod.GuildID{"g1", "g2"} {
		state, ok := h.manager.State(g)
		require.True(t, ok)
		reg, ok := state.Registry().Lookup("foo")
		require.True(t, ok, "guild %s", g)
		assert.Equal(t, "foo", reg.Term)
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[botmod.GuildID]int{"g1": 20, "g2": 20}, guilds)
}

func TestDispatchReaction(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		emojis []string
	)
	poll := module("poll", func(ctx context.Context, host botmod.Host) error {
		return command(ctx, host, "poll.poll", "poll", func(ctx context.Context, inv *botmod.Invocation) error {
			return host.AddReactionListener("poll.poll", "target", func(_ context.Context, r botmod.Reaction) error {
				mu.Lock()
				defer mu.Unlock()
				emojis = append(emojis, r.Emoji)
				return nil
			})
		})
	})
	h := newHarness(t, poll)

	require.NoError(t, h.dispatcher.Dispatch(message("g1", "u1", "!poll")))
	require.NoError(t, h.dispatcher.DispatchReaction(botmod.Reaction{GuildID: "g1", MessageID: "target", UserID: "u2", Emoji: "+1"}))
	require.NoError(t, h.dispatcher.DispatchReaction(botmod.Reaction{GuildID: "g1", MessageID: "target", UserID: "b", UserIsBot: true, Emoji: "bot"}))
	require.NoError(t, h.dispatcher.DispatchReaction(botmod.Reaction{GuildID: "g1", MessageID: "other", UserID: "u2", Emoji: "-1"}))
	h.settle(t, "g1")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"+1"}, emojis)
}

func TestDo(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	errBoom := errors.New("boom")
	assert.ErrorIs(t, h.dispatcher.Do(ctx, "g1", func(context.Context) error { return errBoom }), errBoom)
	assert.ErrorIs(t, h.dispatcher.Do(ctx, "g1", func(context.Context) error { panic("oops") }), dispatch.ErrHandlerPanic)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, h.dispatcher.Do(canceled, "g1", func(context.Context) error { return nil }), context.Canceled)

	assert.Error(t, h.dispatcher.Do(ctx, "", func(context.Context) error { return nil }))

	require.NoError(t, h.dispatcher.Close(ctx))
	assert.ErrorIs(t, h.dispatcher.Dispatch(message("g1", "u1", "!help")), dispatch.ErrClosed)
	assert.ErrorIs(t, h.dispatcher.Do(ctx, "g1", func(context.Context) error { return nil }), dispatch.ErrClosed)
}
