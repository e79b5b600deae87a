// SPDX-License-Identifier: MPL-2.0

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/invowk/guildhost/internal/guild"
	"github.com/invowk/guildhost/pkg/botmod"
)

// handleMessage resolves a command from the first token, runs it, then runs
// every message listener of the guild.
func (d *Dispatcher) handleMessage(ctx context.Context, msg botmod.Message) {
	state, err := d.guilds.InstantiateForGuild(ctx, msg.GuildID)
	if err != nil {
		d.logger.Error("guild unavailable, message dropped", "guild", msg.GuildID, "err", err)
		return
	}

	fields := strings.Fields(msg.Content)
	if len(fields) > 0 {
		first := strings.ToLower(fields[0])
		prefix := strings.ToLower(state.Prefix())
		if term, ok := strings.CutPrefix(first, prefix); ok && term != "" {
			reg, found := state.Registry().LookupWithPrefixStripped(fields[0], state.Prefix())
			d.handleCommand(ctx, state, msg, reg, found, fields[1:])
		}
	}

	for _, listener := range state.MessageListeners() {
		err := d.call(ctx, func(ctx context.Context) error { return listener(ctx, msg) })
		if err != nil {
			d.metrics.Failures.WithLabelValues("message_listener").Inc()
			d.logger.Error("message listener failed", "guild", msg.GuildID, "channel", msg.ChannelID, "err", err)
		}
	}
}

func (d *Dispatcher) handleCommand(ctx context.Context, state *guild.State, msg botmod.Message, reg guild.Registration, found bool, args []string) {
	if !found {
		d.metrics.Unknown.Inc()
		if state.UnknownCommandReply() {
			d.reply(ctx, msg.ChannelID, unknownCommandReply(state, msg.AuthorID, d.helpTerm(state)))
		}
		return
	}

	inv := botmod.NewInvocation(msg, reg.Term, state.Prefix(), args, d.sender)
	err := d.call(ctx, func(ctx context.Context) error { return reg.Command.Handler(ctx, inv) })
	switch {
	case err == nil:
		d.metrics.Commands.WithLabelValues("ok").Inc()
		return
	case errors.Is(err, ErrHandlerPanic):
		d.metrics.Commands.WithLabelValues("panic").Inc()
	default:
		d.metrics.Commands.WithLabelValues("error").Inc()
	}
	d.metrics.Failures.WithLabelValues("command").Inc()
	d.logger.Error("command failed",
		"guild", msg.GuildID,
		"module", reg.ModuleID,
		"command", reg.Command.ID,
		"term", reg.Term,
		"err", err,
	)
	d.reply(ctx, msg.ChannelID, errorReply(inv.Invoked(), err))
}

func (d *Dispatcher) handleReaction(ctx context.Context, r botmod.Reaction) {
	if r.UserIsBot {
		return
	}
	state, err := d.guilds.InstantiateForGuild(ctx, r.GuildID)
	if err != nil {
		d.logger.Error("guild unavailable, reaction dropped", "guild", r.GuildID, "err", err)
		return
	}
	for _, listener := range state.Registry().ReactionListeners(r.MessageID) {
		err := d.call(ctx, func(ctx context.Context) error { return listener(ctx, r) })
		if err != nil {
			d.metrics.Failures.WithLabelValues("reaction_listener").Inc()
			d.logger.Error("reaction listener failed", "guild", r.GuildID, "message", r.MessageID, "err", err)
			d.reply(ctx, r.ChannelID, errorReply("reaction "+r.Emoji, err))
		}
	}
}

// call runs fn under the handler timeout and recovers panics.
func (d *Dispatcher) call(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, d.handlerTimeout)
	defer cancel()
	return safeCall(ctx, fn)
}

// reply sends best-effort; a failure is only logged.
func (d *Dispatcher) reply(ctx context.Context, channel botmod.ChannelID, content string) {
	if _, err := d.sender.Send(ctx, channel, botmod.Truncate(content)); err != nil {
		d.logger.Warn("reply failed", "channel", channel, "err", err)
	}
}

func (d *Dispatcher) helpTerm(state *guild.State) string {
	if d.helpCommand != "" {
		if reg, ok := state.Registry().Get(d.helpCommand); ok {
			return reg.Term
		}
	}
	return DefaultHelpTerm
}

func unknownCommandReply(state *guild.State, author botmod.UserID, helpTerm string) string {
	return fmt.Sprintf("I didn't know what you meant by that, %s. Use `%s%s` to see what I can do!",
		author.Mention(), state.Prefix(), helpTerm)
}

func errorReply(what string, err error) string {
	return fmt.Sprintf("Something went wrong with `%s`:\n```\n%v\n```", what, err)
}
