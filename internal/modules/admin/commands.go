// SPDX-License-Identifier: MPL-2.0

package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/valyala/bytebufferpool"

	"github.com/invowk/guildhost/internal/guild"
	"github.com/invowk/guildhost/internal/lifecycle"
	"github.com/invowk/guildhost/pkg/botmod"
)

const noPermission = "You don't have permission to do that."

// adminUsage is the reply to a bare or malformed admin command. %[1]s is the
// invoked command.
const adminUsage = "Usage:\n" +
	"`%[1]s user add|remove <user>` `%[1]s user list`\n" +
	"`%[1]s module enable|disable <module>` `%[1]s module list`\n" +
	"`%[1]s command rename <term> <new term>` `%[1]s command enable|disable <term>` `%[1]s command list`\n" +
	"`%[1]s config commandprefix [prefix]` `%[1]s config unknowntoggle [on|off]`"

func (m *Module) handleAdmin(ctx context.Context, inv *botmod.Invocation) error {
	ok, err := m.manager.IsAdmin(ctx, inv.Message)
	if err != nil {
		return err
	}
	if !ok {
		return inv.Reply(ctx, noPermission)
	}

	args := inv.Args
	if len(args) == 0 {
		return inv.Reply(ctx, fmt.Sprintf(adminUsage, inv.Invoked()))
	}
	g := inv.Message.GuildID
	var reply string
	switch strings.ToLower(args[0]) {
	case "user":
		reply, err = m.user(ctx, g, args[1:])
	case "module":
		reply, err = m.module(ctx, g, args[1:])
	case "command":
		reply, err = m.command(ctx, g, args[1:])
	case "config":
		reply, err = m.config(ctx, g, args[1:])
	}
	if err != nil {
		if msg, ok := userFacing(err); ok {
			return inv.Reply(ctx, msg)
		}
		return err
	}
	if reply == "" {
		reply = fmt.Sprintf(adminUsage, inv.Invoked())
	}
	return inv.Reply(ctx, reply)
}

func (m *Module) user(ctx context.Context, g botmod.GuildID, args []string) (string, error) {
	switch {
	case len(args) == 1 && args[0] == "list":
		users, err := m.manager.AdminUsers(ctx, g)
		if err != nil {
			return "", err
		}
		if len(users) == 0 {
			return "There are no bot admins yet; anyone can add the first one.", nil
		}
		b := bytebufferpool.Get()
		defer bytebufferpool.Put(b)
		b.WriteString("Bot admins:")
		for _, u := range users {
			b.WriteString(" ")
			b.WriteString(u.Mention())
		}
		return b.String(), nil

	case len(args) == 2 && args[0] == "add":
		user := parseUser(args[1])
		added, err := m.manager.AddAdminUser(ctx, g, user)
		if err != nil {
			return "", err
		}
		if !added {
			return fmt.Sprintf("%s is already a bot admin.", user.Mention()), nil
		}
		return fmt.Sprintf("%s is now a bot admin.", user.Mention()), nil

	case len(args) == 2 && args[0] == "remove":
		user := parseUser(args[1])
		removed, err := m.manager.RemoveAdminUser(ctx, g, user)
		if err != nil {
			return "", err
		}
		if !removed {
			return fmt.Sprintf("%s is not a bot admin.", user.Mention()), nil
		}
		return fmt.Sprintf("%s is no longer a bot admin.", user.Mention()), nil
	}
	return "", nil
}

func (m *Module) module(ctx context.Context, g botmod.GuildID, args []string) (string, error) {
	switch {
	case len(args) == 1 && args[0] == "list":
		statuses, err := m.manager.ListModules(ctx, g)
		if err != nil {
			return "", err
		}
		b := bytebufferpool.Get()
		defer bytebufferpool.Put(b)
		b.WriteString("Modules:")
		for _, st := range statuses {
			mark := "off"
			if st.Live {
				mark = "on"
			}
			fmt.Fprintf(b, "\n`%s` %s (%s)", st.Descriptor.ID, st.Descriptor.DisplayName(), mark)
			if st.Protected {
				b.WriteString(" [required]")
			}
		}
		return b.String(), nil

	case len(args) == 2 && args[0] == "enable":
		id := botmod.ModuleID(args[1])
		if err := m.manager.EnableModule(ctx, g, id); err != nil {
			return "", err
		}
		return fmt.Sprintf("Enabled module `%s`.", id), nil

	case len(args) == 2 && args[0] == "disable":
		id := botmod.ModuleID(args[1])
		if err := m.manager.DisableModule(ctx, g, id); err != nil {
			return "", err
		}
		return fmt.Sprintf("Disabled module `%s`.", id), nil
	}
	return "", nil
}

func (m *Module) command(ctx context.Context, g botmod.GuildID, args []string) (string, error) {
	switch {
	case len(args) == 1 && args[0] == "list":
		regs, err := m.manager.Commands(ctx, g)
		if err != nil {
			return "", err
		}
		b := bytebufferpool.Get()
		defer bytebufferpool.Put(b)
		b.WriteString("Commands:")
		for _, r := range regs {
			fmt.Fprintf(b, "\n`%s` %s", r.Term, r.Command.ID)
			if !r.Enabled {
				b.WriteString(" (disabled)")
			}
		}
		return b.String(), nil

	case len(args) == 3 && args[0] == "rename":
		r, err := m.manager.RenameCommand(ctx, g, args[1], args[2])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Renamed `%s` to `%s`.", args[1], r.Term), nil

	case len(args) == 2 && (args[0] == "enable" || args[0] == "disable"):
		enable := args[0] == "enable"
		r, changed, err := m.manager.SetCommandEnabled(ctx, g, args[1], enable)
		if err != nil {
			return "", err
		}
		if !changed {
			return fmt.Sprintf("Command `%s` is already %sd.", r.Term, args[0]), nil
		}
		return fmt.Sprintf("Command `%s` %sd.", r.Term, args[0]), nil
	}
	return "", nil
}

func (m *Module) config(ctx context.Context, g botmod.GuildID, args []string) (string, error) {
	if len(args) == 0 {
		return "", nil
	}
	switch strings.ToLower(args[0]) {
	case "commandprefix":
		switch len(args) {
		case 1:
			return fmt.Sprintf("The command prefix is `%s`.", m.host.Prefix()), nil
		case 2:
			changed, err := m.manager.SetPrefix(ctx, g, args[1])
			if err != nil {
				return "", err
			}
			if !changed {
				return fmt.Sprintf("The command prefix is already `%s`.", args[1]), nil
			}
			return fmt.Sprintf("The command prefix is now `%s`.", args[1]), nil
		}

	case "unknowntoggle":
		if len(args) != 2 {
			return "", nil
		}
		var on bool
		switch strings.ToLower(args[1]) {
		case "on":
			on = true
		case "off":
		default:
			return "", nil
		}
		changed, err := m.manager.SetUnknownCommandReply(ctx, g, on)
		if err != nil {
			return "", err
		}
		if !changed {
			return fmt.Sprintf("Unknown-command replies are already %s.", args[1]), nil
		}
		return fmt.Sprintf("Unknown-command replies are now %s.", args[1]), nil
	}
	return "", nil
}

// userFacing turns errors the operator can act on into a reply. Anything else
// is left to the dispatcher's generic error reply.
func userFacing(err error) (string, bool) {
	var depErr *lifecycle.DependencyError
	switch {
	case errors.As(err, &depErr):
		return depErr.Error() + ".", true
	case errors.Is(err, lifecycle.ErrAlreadyEnabled):
		return "That module is already enabled.", true
	case errors.Is(err, lifecycle.ErrAlreadyDisabled):
		return "That module is already disabled.", true
	case errors.Is(err, lifecycle.ErrProtectedModule):
		return "That module can't be disabled.", true
	case errors.Is(err, lifecycle.ErrUnknownModule):
		return "There is no such module. Try `module list`.", true
	case errors.Is(err, guild.ErrUnknownCommand):
		return "There is no such command. Try `command list`.", true
	case errors.Is(err, guild.ErrTermConflict), errors.Is(err, lifecycle.ErrInvalidPrefix),
		errors.Is(err, botmod.ErrInvalidTerm), errors.Is(err, lifecycle.ErrStartupFailure):
		return err.Error(), true
	}
	return "", false
}

// parseUser accepts a raw id or a mention such as <@123> or <@!123>.
func parseUser(s string) botmod.UserID {
	s = strings.TrimPrefix(s, "<@")
	s = strings.TrimPrefix(s, "!")
	s = strings.TrimSuffix(s, ">")
	return botmod.UserID(s)
}
