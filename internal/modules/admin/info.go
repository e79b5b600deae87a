// SPDX-License-Identifier: MPL-2.0

package admin

import (
	"context"
	"errors"
	"fmt"

	"github.com/valyala/bytebufferpool"

	"github.com/invowk/guildhost/internal/guild"
	"github.com/invowk/guildhost/pkg/botmod"
)

func (m *Module) handleHelp(ctx context.Context, inv *botmod.Invocation) error {
	g := inv.Message.GuildID
	if len(inv.Args) > 0 {
		r, err := m.manager.FindCommand(ctx, g, inv.Args[0])
		if errors.Is(err, guild.ErrUnknownCommand) || (err == nil && !r.Enabled) {
			return inv.Reply(ctx, fmt.Sprintf("I don't know a command called `%s`.", inv.Args[0]))
		}
		if err != nil {
			return err
		}
		usage := inv.Prefix + r.Term
		if r.Command.Usage != "" {
			usage += " " + r.Command.Usage
		}
		return inv.Reply(ctx, fmt.Sprintf("Usage: `%s`\n%s", usage, r.Command.Description))
	}

	regs, err := m.manager.Commands(ctx, g)
	if err != nil {
		return err
	}
	b := bytebufferpool.Get()
	defer bytebufferpool.Put(b)
	b.WriteString("Commands:")
	for _, r := range regs {
		if !r.Enabled {
			continue
		}
		fmt.Fprintf(b, "\n`%s%s`", inv.Prefix, r.Term)
		if r.Command.Description != "" {
			b.WriteString(" - ")
			b.WriteString(r.Command.Description)
		}
	}
	return inv.Reply(ctx, b.String())
}

func (m *Module) handleAbout(ctx context.Context, inv *botmod.Invocation) error {
	statuses, err := m.manager.ListModules(ctx, inv.Message.GuildID)
	if err != nil {
		return err
	}
	b := bytebufferpool.Get()
	defer bytebufferpool.Put(b)

	fmt.Fprintf(b, "**%s**", m.info.Name)
	if m.info.Version != "" {
		fmt.Fprintf(b, " v%s", m.info.Version)
	}
	if m.info.Author != "" {
		fmt.Fprintf(b, " by %s", m.info.Author)
	}
	if m.info.Description != "" {
		b.WriteString("\n")
		b.WriteString(m.info.Description)
	}
	b.WriteString("\nLoaded modules:")
	for _, st := range statuses {
		if st.Live {
			fmt.Fprintf(b, " `%s`", st.Descriptor.DisplayName())
		}
	}
	return inv.Reply(ctx, b.String())
}
