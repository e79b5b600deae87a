// SPDX-License-Identifier: MPL-2.0

// Package stats counts messages per user and answers the stats command.
package stats

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/invowk/guildhost/pkg/botmod"
)

// ID is the module id of the stats module.
const ID botmod.ModuleID = "guildhost.stats"

// StatsCommand is the command id of the stats command.
const StatsCommand botmod.CommandID = "guildhost.stats.stats"

type (
	// Entry is one user's message count.
	Entry struct {
		User  botmod.UserID
		Count int
	}

	// Module is one guild's stats instance. Counts live as long as the
	// instance.
	Module struct {
		mu     sync.Mutex
		counts map[botmod.UserID]int
	}
)

// Descriptor describes the stats module.
func Descriptor() botmod.Descriptor {
	return botmod.Descriptor{
		ID:          ID,
		Name:        "Stats",
		Description: "Counts messages per member.",
		Author:      "guildhost",
		Version:     "1.0.0",
		Factory: func(botmod.Resolver) (botmod.Module, error) {
			return New(), nil
		},
	}
}

// New creates an empty instance.
func New() *Module {
	return &Module{counts: make(map[botmod.UserID]int)}
}

func (m *Module) Startup(ctx context.Context, host botmod.Host) error {
	host.AddMessageListener(m.observe)
	_, err := host.RegisterCommand(ctx, botmod.Command{
		ID:          StatsCommand,
		Term:        "stats",
		Description: "Show how many messages you, or someone else, sent.",
		Usage:       "[user]",
		Handler:     m.handleStats,
	})
	return err
}

func (m *Module) Teardown(context.Context) {}

func (m *Module) observe(_ context.Context, msg botmod.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[msg.AuthorID]++
	return nil
}

// Count returns the number of messages seen from user.
func (m *Module) Count(user botmod.UserID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[user]
}

// Top returns the n users with the most messages, highest first. Ties are
// ordered by user id.
func (m *Module) Top(n int) []Entry {
	m.mu.Lock()
	entries := make([]Entry, 0, len(m.counts))
	for u, c := range m.counts {
		entries = append(entries, Entry{User: u, Count: c})
	}
	m.mu.Unlock()

	slices.SortFunc(entries, func(a, b Entry) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.User, b.User)
	})
	if n >= 0 && len(entries) > n {
		entries = entries[:n]
	}
	return entries
}

func (m *Module) handleStats(ctx context.Context, inv *botmod.Invocation) error {
	user := inv.Message.AuthorID
	if len(inv.Message.Mentions) > 0 {
		user = inv.Message.Mentions[0]
	}
	n := m.Count(user)
	noun := "messages"
	if n == 1 {
		noun = "message"
	}
	return inv.Reply(ctx, fmt.Sprintf("%s has sent %d %s.", user.Mention(), n, noun))
}
