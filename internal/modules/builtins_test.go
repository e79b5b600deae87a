// SPDX-License-Identifier: MPL-2.0

package modules_test

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invowk/guildhost/internal/catalog"
	"github.com/invowk/guildhost/internal/lifecycle"
	"github.com/invowk/guildhost/internal/modules"
	"github.com/invowk/guildhost/internal/modules/admin"
	"github.com/invowk/guildhost/internal/modules/leaderboard"
	"github.com/invowk/guildhost/internal/modules/stats"
	"github.com/invowk/guildhost/internal/services"
	"github.com/invowk/guildhost/internal/store"
	"github.com/invowk/guildhost/pkg/botmod"
)

const guildID botmod.GuildID = "g1"

type (
	sent struct {
		channel botmod.ChannelID
		content string
	}

	recorder struct {
		mu   sync.Mutex
		sent []sent
	}

	harness struct {
		t       *testing.T
		manager *lifecycle.Manager
		out     *recorder
	}
)

func (r *recorder) Send(_ context.Context, ch botmod.ChannelID, content string) (botmod.MessageID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{channel: ch, content: content})
	return botmod.MessageID(fmt.Sprintf("out-%d", len(r.sent))), nil
}

func (r *recorder) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return ""
	}
	return r.sent[len(r.sent)-1].content
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cat, err := modules.RegisterBuiltins(catalog.NewBuilder()).Build()
	require.NoError(t, err)

	c := services.New()
	out := &recorder{}
	mgr, err := lifecycle.New(cat, store.NewMemory(), c,
		lifecycle.WithProtectedModule(modules.Protected),
		lifecycle.WithSender(out),
		lifecycle.WithLogger(log.New(io.Discard)),
	)
	require.NoError(t, err)
	services.Provide(c, admin.ManagerKey, admin.Manager(mgr))
	services.Provide(c, admin.InfoKey, admin.Info{Name: "guildhost", Version: "1.2.3", Author: "ops"})

	_, err = mgr.InstantiateForGuild(context.Background(), guildID)
	require.NoError(t, err)
	return &harness{t: t, manager: mgr, out: out}
}

func msgFrom(user botmod.UserID, admin bool) botmod.Message {
	return botmod.Message{GuildID: guildID, ChannelID: "c1", AuthorID: user, AuthorIsAdmin: admin}
}

// invoke runs the command currently bound to term and returns the last reply.
func (h *harness) invoke(msg botmod.Message, term string, args ...string) string {
	h.t.Helper()
	ctx := context.Background()
	reg, err := h.manager.FindCommand(ctx, guildID, term)
	require.NoError(h.t, err)
	inv := botmod.NewInvocation(msg, reg.Term, "!", args, h.out)
	require.NoError(h.t, reg.Command.Handler(ctx, inv))
	return h.out.last()
}

func (h *harness) say(user botmod.UserID, n int) {
	h.t.Helper()
	state, ok := h.manager.State(guildID)
	require.True(h.t, ok)
	for range n {
		for _, l := range state.MessageListeners() {
			require.NoError(h.t, l(context.Background(), msgFrom(user, false)))
		}
	}
}

func TestAdmin_Permissions(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	// Nobody is listed yet, so anyone may add the first admin.
	assert.Contains(t, h.invoke(msgFrom("u1", false), "admin", "user", "add", "<@u1>"), "<@u1> is now a bot admin.")
	assert.Equal(t, "You don't have permission to do that.", h.invoke(msgFrom("u2", false), "admin", "user", "list"))
	assert.Contains(t, h.invoke(msgFrom("u2", true), "admin", "user", "list"), "<@u1>")
	assert.Contains(t, h.invoke(msgFrom("u1", false), "admin", "user", "add", "u1"), "already a bot admin")
}

func TestAdmin_Modules(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	op := msgFrom("op", true)

	assert.Contains(t, h.invoke(op, "admin", "module", "enable", string(leaderboard.ID)), "needs these modules enabled first: guildhost.stats")
	assert.Equal(t, "Enabled module `guildhost.stats`.", h.invoke(op, "admin", "module", "enable", string(stats.ID)))
	assert.Equal(t, "That module is already enabled.", h.invoke(op, "admin", "module", "enable", string(stats.ID)))
	assert.Equal(t, "Enabled module `guildhost.leaderboard`.", h.invoke(op, "admin", "module", "enable", string(leaderboard.ID)))
	assert.Contains(t, h.invoke(op, "admin", "module", "disable", string(stats.ID)), "still required by: guildhost.leaderboard")
	assert.Equal(t, "That module can't be disabled.", h.invoke(op, "admin", "module", "disable", string(admin.ID)))
	assert.Equal(t, "There is no such module. Try `module list`.", h.invoke(op, "admin", "module", "enable", "nope"))

	list := h.invoke(op, "admin", "module", "list")
	assert.Contains(t, list, "`guildhost.admin` Admin (on) [required]")
	assert.Contains(t, list, "`guildhost.leaderboard` Leaderboard (on)")
}

func TestAdmin_CommandsAndConfig(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	op := msgFrom("op", true)

	assert.Equal(t, "Renamed `about` to `info`.", h.invoke(op, "admin", "command", "rename", "about", "info"))
	assert.Contains(t, h.invoke(op, "admin", "command", "rename", "info", "help"), `term "help" is already used by command guildhost.admin.help`)
	assert.Equal(t, "Command `info` disabled.", h.invoke(op, "admin", "command", "disable", "info"))
	assert.Equal(t, "Command `info` is already disabled.", h.invoke(op, "admin", "command", "disable", "info"))
	assert.Contains(t, h.invoke(op, "admin", "command", "list"), "`info` guildhost.admin.about (disabled)")

	assert.Equal(t, "The command prefix is `!`.", h.invoke(op, "admin", "config", "commandprefix"))
	assert.Equal(t, "The command prefix is now `?`.", h.invoke(op, "admin", "config", "commandprefix", "?"))
	assert.Equal(t, "The command prefix is already `?`.", h.invoke(op, "admin", "config", "commandprefix", "?"))
	assert.Equal(t, "Unknown-command replies are now off.", h.invoke(op, "admin", "config", "unknowntoggle", "off"))
	assert.Equal(t, "Unknown-command replies are already off.", h.invoke(op, "admin", "config", "unknowntoggle", "off"))

	assert.Contains(t, h.invoke(op, "admin"), "Usage:")
	assert.Contains(t, h.invoke(op, "admin", "bogus"), "Usage:")
}

func TestHelpAndAbout(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	op := msgFrom("op", true)

	help := h.invoke(op, "help")
	assert.Contains(t, help, "`!admin` - Manage bot admins")
	assert.Contains(t, help, "`!about`")

	assert.Contains(t, h.invoke(op, "help", "help"), "Usage: `!help [command]`")
	assert.Equal(t, "I don't know a command called `nope`.", h.invoke(op, "help", "nope"))

	h.invoke(op, "admin", "command", "disable", "about")
	assert.NotContains(t, h.invoke(op, "help"), "`!about`")

	about := h.invoke(op, "help", "admin")
	assert.Contains(t, about, "Usage: `!admin user|module|command|config ...`")

	h.invoke(op, "admin", "command", "enable", "about")
	assert.Equal(t, "**guildhost** v1.2.3 by ops\nLoaded modules: `Admin`", h.invoke(op, "about"))
}

func TestStatsAndLeaderboard(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	op := msgFrom("op", true)
	h.invoke(op, "admin", "module", "enable", string(stats.ID))
	h.invoke(op, "admin", "module", "enable", string(leaderboard.ID))

	h.say("u1", 3)
	h.say("u2", 1)
	h.say("u3", 3)

	assert.Equal(t, "<@u1> has sent 3 messages.", h.invoke(msgFrom("u1", false), "stats"))
	mention := msgFrom("u1", false)
	mention.Mentions = []botmod.UserID{"u2"}
	assert.Equal(t, "<@u2> has sent 1 message.", h.invoke(mention, "stats"))

	board := h.invoke(msgFrom("u1", false), "leaderboard")
	assert.Equal(t, "**Leaderboard**\n1. <@u1>: 3\n2. <@u3>: 3\n3. <@u2>: 1", board)

	// The board message listens for the refresh reaction.
	h.out.mu.Lock()
	boardID := botmod.MessageID(fmt.Sprintf("out-%d", len(h.out.sent)))
	h.out.mu.Unlock()
	state, _ := h.manager.State(guildID)
	listeners := state.Registry().ReactionListeners(boardID)
	require.Len(t, listeners, 1)
	require.NoError(t, listeners[0](context.Background(), botmod.Reaction{
		GuildID: guildID, ChannelID: "c1", MessageID: boardID, Emoji: "👍",
	}))
	h.out.mu.Lock()
	count := len(h.out.sent)
	h.out.mu.Unlock()

	h.say("u2", 5)
	require.NoError(t, listeners[0](context.Background(), botmod.Reaction{
		GuildID: guildID, ChannelID: "c1", MessageID: boardID, Emoji: leaderboard.RefreshEmoji,
	}))
	assert.Equal(t, "**Leaderboard**\n1. <@u2>: 6\n2. <@u1>: 3\n3. <@u3>: 3", h.out.last())
	assert.Len(t, h.out.sent, count+1)

	// Each refresh moves the listener to the new board instead of piling up.
	assert.Empty(t, state.Registry().ReactionListeners(boardID))
	for range 3 {
		h.out.mu.Lock()
		current := botmod.MessageID(fmt.Sprintf("out-%d", len(h.out.sent)))
		h.out.mu.Unlock()
		listeners := state.Registry().ReactionListeners(current)
		require.Len(t, listeners, 1)
		require.NoError(t, listeners[0](context.Background(), botmod.Reaction{
			GuildID: guildID, ChannelID: "c1", MessageID: current, Emoji: leaderboard.RefreshEmoji,
		}))
		assert.Empty(t, state.Registry().ReactionListeners(current))
	}
	h.out.mu.Lock()
	boardID = botmod.MessageID(fmt.Sprintf("out-%d", len(h.out.sent)))
	h.out.mu.Unlock()
	assert.Len(t, state.Registry().ReactionListeners(boardID), 1)

	assert.Contains(t, h.invoke(op, "admin", "module", "disable", string(leaderboard.ID)), "Disabled")
	assert.Empty(t, state.Registry().ReactionListeners(boardID))
}
