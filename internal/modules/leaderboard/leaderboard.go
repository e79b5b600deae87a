// SPDX-License-Identifier: MPL-2.0

// Package leaderboard ranks members by the message counts of the stats module.
package leaderboard

import (
	"context"
	"errors"
	"fmt"

	"github.com/valyala/bytebufferpool"

	"github.com/invowk/guildhost/internal/modules/stats"
	"github.com/invowk/guildhost/pkg/botmod"
)

// ID is the module id of the leaderboard module.
const ID botmod.ModuleID = "guildhost.leaderboard"

// LeaderboardCommand is the command id of the leaderboard command.
const LeaderboardCommand botmod.CommandID = "guildhost.leaderboard.leaderboard"

const (
	// Size is how many members the leaderboard shows.
	Size = 10
	// RefreshEmoji re-posts the leaderboard when added to a leaderboard message.
	RefreshEmoji = "🔄"
)

// ErrStatsUnavailable is returned by Startup when the stats instance cannot be
// reached.
var ErrStatsUnavailable = errors.New("stats module is not available")

// Module is one guild's leaderboard instance.
type Module struct {
	stats *stats.Module
	host  botmod.Host
}

// Descriptor describes the leaderboard module.
func Descriptor() botmod.Descriptor {
	return botmod.Descriptor{
		ID:           ID,
		Name:         "Leaderboard",
		Description:  "Ranks members by messages sent.",
		Author:       "guildhost",
		Version:      "1.0.0",
		Dependencies: []botmod.ModuleID{stats.ID},
		Factory: func(botmod.Resolver) (botmod.Module, error) {
			return &Module{}, nil
		},
	}
}

func (m *Module) Startup(ctx context.Context, host botmod.Host) error {
	dep, ok := host.Dependency(stats.ID)
	if !ok {
		return ErrStatsUnavailable
	}
	s, ok := dep.(*stats.Module)
	if !ok {
		return fmt.Errorf("%w: unexpected instance %T", ErrStatsUnavailable, dep)
	}
	m.stats = s
	m.host = host

	_, err := host.RegisterCommand(ctx, botmod.Command{
		ID:          LeaderboardCommand,
		Term:        "leaderboard",
		Description: "Show the most active members. React with " + RefreshEmoji + " to refresh.",
		Handler:     m.handleLeaderboard,
	})
	return err
}

func (m *Module) Teardown(context.Context) {}

func (m *Module) handleLeaderboard(ctx context.Context, inv *botmod.Invocation) error {
	return m.post(ctx, inv.Message.ChannelID)
}

// post sends the board and listens for refresh reactions on it. A refresh
// posts a new board, which takes over the listener from the old one.
func (m *Module) post(ctx context.Context, channel botmod.ChannelID) error {
	id, err := m.host.Sender().Send(ctx, channel, m.render())
	if err != nil {
		return err
	}
	if id == "" {
		return nil
	}
	return m.host.AddReactionListener(LeaderboardCommand, id, func(ctx context.Context, r botmod.Reaction) error {
		if r.Removed || r.Emoji != RefreshEmoji {
			return nil
		}
		if err := m.post(ctx, r.ChannelID); err != nil {
			return err
		}
		m.host.RemoveReactionListeners(LeaderboardCommand, r.MessageID)
		return nil
	})
}

func (m *Module) render() string {
	top := m.stats.Top(Size)
	if len(top) == 0 {
		return "Nobody has said anything yet."
	}
	b := bytebufferpool.Get()
	defer bytebufferpool.Put(b)
	b.WriteString("**Leaderboard**")
	for i, e := range top {
		fmt.Fprintf(b, "\n%d. %s: %d", i+1, e.User.Mention(), e.Count)
	}
	return b.String()
}
